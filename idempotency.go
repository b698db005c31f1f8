package ledgerline

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ledgerline/ledgerline-go/internal/singleflight"
)

// Idempotency key constraints enforced before a key goes over the wire.
const (
	minKeyLength = 10
	maxKeyLength = 128
)

// deterministicBucket is the coarse time bucket folded into deterministic
// keys: logically-identical requests within the same bucket collide onto the
// same key, so the remote deduplication layer sees them as one submission.
const deterministicBucket = time.Hour

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// GenerateKey returns a unique, unpredictable idempotency key: a base-36
// timestamp and 16 bytes of cryptographic randomness joined by a hyphen,
// optionally prefixed.
func GenerateKey(prefix ...string) string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)

	key := strconv.FormatInt(time.Now().UnixMilli(), 36) + "-" + hex.EncodeToString(buf)
	if len(prefix) > 0 && prefix[0] != "" {
		key = prefix[0] + "-" + key
	}
	return key
}

// GenerateDeterministicKey derives a stable key from request parameters:
// names are sorted, values JSON-serialized, the whole hashed with SHA-256 and
// truncated, then combined with the current time bucket. Two calls with the
// same logical parameters in the same bucket produce the same key.
func GenerateDeterministicKey(params map[string]any, prefix ...string) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		value, _ := json.Marshal(params[name])
		b.WriteString(name)
		b.WriteByte('=')
		b.Write(value)
	}

	sum := sha256.Sum256([]byte(b.String()))
	digest := hex.EncodeToString(sum[:])[:16]
	bucket := strconv.FormatInt(time.Now().Unix()/int64(deterministicBucket.Seconds()), 36)

	key := digest + "-" + bucket
	if len(prefix) > 0 && prefix[0] != "" {
		key = prefix[0] + "-" + key
	}
	return key
}

// ValidateKey reports whether a key is safe to send: 10–128 characters from
// [A-Za-z0-9_-].
func ValidateKey(key string) bool {
	if len(key) < minKeyLength || len(key) > maxKeyLength {
		return false
	}
	return keyPattern.MatchString(key)
}

// TransferIdempotencyKey derives the default key for a transfer creation
// from its identifying parameters, so retries of the same logical transfer
// deduplicate at the remote API without the caller supplying a key.
func TransferIdempotencyKey(accountID, amount, currency, sourceType, sourceID, destType, destID string) string {
	return GenerateDeterministicKey(map[string]any{
		"account_id":       accountID,
		"amount":           amount,
		"currency":         currency,
		"source_type":      sourceType,
		"source_id":        sourceID,
		"destination_type": destType,
		"destination_id":   destID,
	}, "tr")
}

// AddressIdempotencyKey derives the default key for registering an external
// address.
func AddressIdempotencyKey(accountID, address, network, kind string) string {
	return GenerateDeterministicKey(map[string]any{
		"account_id": accountID,
		"address":    address,
		"network":    network,
		"kind":       kind,
	}, "addr")
}

// DefaultIdempotencyTTL is how long a cached success result is honored.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyManager caches the results of successful mutating calls keyed
// by idempotency key, and coalesces concurrent in-flight calls with the same
// key onto one execution. Failed attempts are never cached, so a retry with
// the same key re-attempts the real call.
type IdempotencyManager struct {
	store   ResultStore
	ttl     time.Duration
	flight  *singleflight.Group
	metrics *MetricsCollector
	logger  Logger
}

// IdempotencyOption configures an IdempotencyManager.
type IdempotencyOption func(*IdempotencyManager)

// WithIdempotencyTTL overrides the 24h default result lifetime.
func WithIdempotencyTTL(ttl time.Duration) IdempotencyOption {
	return func(m *IdempotencyManager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithIdempotencyStore replaces the in-memory result store, e.g. with the
// Redis or bbolt backend.
func WithIdempotencyStore(store ResultStore) IdempotencyOption {
	return func(m *IdempotencyManager) {
		if store != nil {
			m.store = store
		}
	}
}

// WithIdempotencyMetrics attaches a metrics collector.
func WithIdempotencyMetrics(metrics *MetricsCollector) IdempotencyOption {
	return func(m *IdempotencyManager) {
		m.metrics = metrics
	}
}

// WithIdempotencyLogger attaches a logger.
func WithIdempotencyLogger(logger Logger) IdempotencyOption {
	return func(m *IdempotencyManager) {
		m.logger = logger
	}
}

// NewIdempotencyManager creates a manager backed by the sharded in-memory
// store unless an option supplies another backend.
func NewIdempotencyManager(opts ...IdempotencyOption) *IdempotencyManager {
	m := &IdempotencyManager{
		ttl:    DefaultIdempotencyTTL,
		flight: singleflight.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.store == nil {
		m.store = NewInMemoryResultStore(sweepInterval(m.ttl))
	}
	return m
}

// sweepInterval is how often expired entries are purged: a quarter of the
// TTL, capped at one hour.
func sweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval > time.Hour {
		interval = time.Hour
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return interval
}

// CheckKey returns the stored result for key, or ok=false when the key has
// never completed successfully or its entry expired.
func (m *IdempotencyManager) CheckKey(ctx context.Context, key string) ([]byte, bool, error) {
	result, ok, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	m.metrics.RecordIdempotency(ok)
	return result, ok, nil
}

// MarkKeyUsed stores a successful result under key. Callers must not record
// failures; the manager's Do and the wrap helper never do.
func (m *IdempotencyManager) MarkKeyUsed(ctx context.Context, key string, result []byte) error {
	if err := m.store.Set(ctx, key, result, m.ttl); err != nil {
		return err
	}
	if sized, ok := m.store.(interface{ Len() int }); ok {
		m.metrics.RecordIdempotencyStoreSize(sized.Len())
	}
	return nil
}

// Do runs fn under the idempotency contract: the key is validated, a cached
// result short-circuits the call, concurrent callers with the same key share
// one execution, and only a successful result is cached.
func (m *IdempotencyManager) Do(ctx context.Context, key string, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	if !ValidateKey(key) {
		return nil, NewValidationError("invalid idempotency key", map[string]any{"key": key})
	}

	if cached, ok, err := m.CheckKey(ctx, key); err == nil && ok {
		if m.logger != nil {
			m.logger.Debug("idempotency cache hit", "key", key)
		}
		return cached, nil
	}

	result, err := m.flight.Do(key, func() (interface{}, error) {
		out, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		if storeErr := m.MarkKeyUsed(ctx, key, out); storeErr != nil && m.logger != nil {
			m.logger.Warn("storing idempotency result failed", "key", key, "error", storeErr.Error())
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// Close releases the underlying store's resources.
func (m *IdempotencyManager) Close() error {
	return m.store.Close()
}

// WrapIdempotent decorates fn so that calls deriving the same key reuse the
// first successful result. The derived key is validated before execution and
// a failed call leaves nothing cached.
func WrapIdempotent[A any, T any](m *IdempotencyManager, keyFn func(A) string, fn func(context.Context, A) (T, error)) func(context.Context, A) (T, error) {
	return func(ctx context.Context, arg A) (T, error) {
		var zero T
		key := keyFn(arg)

		raw, err := m.Do(ctx, key, func(ctx context.Context) ([]byte, error) {
			result, err := fn(ctx, arg)
			if err != nil {
				return nil, err
			}
			encoded, err := json.Marshal(result)
			if err != nil {
				return nil, fmt.Errorf("encoding idempotent result: %w", err)
			}
			return encoded, nil
		})
		if err != nil {
			return zero, err
		}

		var out T
		if err := json.Unmarshal(raw, &out); err != nil {
			return zero, fmt.Errorf("decoding idempotent result: %w", err)
		}
		return out, nil
	}
}
