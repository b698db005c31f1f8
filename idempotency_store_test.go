package ledgerline

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestInMemoryStoreRoundTrip(t *testing.T) {
	s := NewInMemoryResultStore(time.Minute)
	defer s.Close()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing-key-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "present-key", []byte("value"), time.Minute))

	result, ok, err := s.Get(ctx, "present-key")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("value"), result)

	require.NoError(t, s.Delete(ctx, "present-key"))
	_, ok, err = s.Get(ctx, "present-key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInMemoryStoreLazyExpiry(t *testing.T) {
	s := NewInMemoryResultStore(time.Hour)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "short-lived", []byte("value"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, ok, err := s.Get(ctx, "short-lived")
	require.NoError(t, err)
	assert.False(t, ok, "expired entry must not be returned")
	assert.Equal(t, 0, s.Len(), "expired entry must be dropped on read")
}

func TestInMemoryStoreSweep(t *testing.T) {
	s := NewInMemoryResultStore(20 * time.Millisecond)
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Set(ctx, fmt.Sprintf("key-%d", i), []byte("v"), 10*time.Millisecond))
	}
	require.NoError(t, s.Set(ctx, "long-lived-key", []byte("v"), time.Hour))

	time.Sleep(80 * time.Millisecond)

	assert.Equal(t, 1, s.Len(), "sweep must keep only unexpired entries")
}

func TestInMemoryStoreConcurrentAccess(t *testing.T) {
	s := NewInMemoryResultStore(time.Minute)
	defer s.Close()
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < 50; i++ {
		i := i
		g.Go(func() error {
			key := fmt.Sprintf("key-%d", i)
			if err := s.Set(ctx, key, []byte("v"), time.Minute); err != nil {
				return err
			}
			_, _, err := s.Get(ctx, key)
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 50, s.Len())
}

func TestInMemoryStoreCloseIdempotent(t *testing.T) {
	s := NewInMemoryResultStore(time.Minute)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestBoltStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idempotency.db")
	s, err := NewBoltResultStore(path, 0)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing-key-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "present-key", []byte(`{"id":"tr_1"}`), time.Minute))

	result, ok, err := s.Get(ctx, "present-key")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"id":"tr_1"}`, string(result))

	require.NoError(t, s.Delete(ctx, "present-key"))
	_, ok, err = s.Get(ctx, "present-key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBoltStoreExpiry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idempotency.db")
	s, err := NewBoltResultStore(path, 0)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "short-lived", []byte("v"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, ok, err := s.Get(ctx, "short-lived")
	require.NoError(t, err)
	assert.False(t, ok, "expired entry must not be returned")
}

func TestBoltStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idempotency.db")
	ctx := context.Background()

	s, err := NewBoltResultStore(path, 0)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "durable-key", []byte("kept"), time.Hour))
	require.NoError(t, s.Close())

	reopened, err := NewBoltResultStore(path, 0)
	require.NoError(t, err)
	defer reopened.Close()

	result, ok, err := reopened.Get(ctx, "durable-key")
	require.NoError(t, err)
	assert.True(t, ok, "results must survive a process restart")
	assert.Equal(t, []byte("kept"), result)
}

func TestBoltStoreSweep(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idempotency.db")
	s, err := NewBoltResultStore(path, 0)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "expired-key", []byte("v"), 10*time.Millisecond))
	require.NoError(t, s.Set(ctx, "live-key", []byte("v"), time.Hour))
	time.Sleep(30 * time.Millisecond)

	s.sweep()

	_, ok, err := s.Get(ctx, "expired-key")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.Get(ctx, "live-key")
	require.NoError(t, err)
	assert.True(t, ok)
}
