package ledgerline

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// TransferEndpoint identifies one side of a transfer: a funding source or
// destination of a given type ("account", "financial_institution",
// "address") and its identifier.
type TransferEndpoint struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Transfer is a movement of value between two endpoints.
type Transfer struct {
	ID          string           `json:"id"`
	AccountID   string           `json:"account_id"`
	Amount      string           `json:"amount"`
	Currency    string           `json:"currency"`
	Status      string           `json:"status"`
	Source      TransferEndpoint `json:"source"`
	Destination TransferEndpoint `json:"destination"`
	Note        string           `json:"note,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// TransferList is one page of transfers.
type TransferList struct {
	Transfers []Transfer `json:"transfers"`
	Page      Page       `json:"page"`
}

// CreateTransferRequest describes a transfer to create. When IdempotencyKey
// is empty a deterministic key is derived from the identifying fields, so
// retrying the same logical transfer deduplicates at the remote API.
type CreateTransferRequest struct {
	Amount      string           `json:"amount"`
	Currency    string           `json:"currency"`
	Source      TransferEndpoint `json:"source"`
	Destination TransferEndpoint `json:"destination"`
	Note        string           `json:"note,omitempty"`

	IdempotencyKey string `json:"-"`
}

func (r *CreateTransferRequest) validate(accountID string) error {
	if err := validateID("account id", accountID); err != nil {
		return err
	}
	if err := validateAmount(r.Amount); err != nil {
		return err
	}
	if err := requireField("currency", r.Currency); err != nil {
		return err
	}
	if err := requireField("source type", r.Source.Type); err != nil {
		return err
	}
	if err := requireField("source id", r.Source.ID); err != nil {
		return err
	}
	if err := requireField("destination type", r.Destination.Type); err != nil {
		return err
	}
	if err := requireField("destination id", r.Destination.ID); err != nil {
		return err
	}
	return nil
}

// TransfersService creates and reads transfers.
type TransfersService struct {
	client *Client
}

// Create submits a transfer. All preconditions are checked locally before
// any I/O. When the client carries an idempotency manager, the derived key
// also deduplicates locally: a recently completed identical transfer is
// returned from the result cache without a network call, and concurrent
// identical calls share one request. Failed attempts are never cached.
func (s *TransfersService) Create(ctx context.Context, accountID string, req *CreateTransferRequest) (*Transfer, error) {
	if req == nil {
		return nil, NewValidationError("transfer request is required", nil)
	}
	if err := req.validate(accountID); err != nil {
		return nil, err
	}

	key := req.IdempotencyKey
	if key == "" {
		key = TransferIdempotencyKey(accountID, req.Amount, req.Currency, req.Source.Type, req.Source.ID, req.Destination.Type, req.Destination.ID)
	}
	if !ValidateKey(key) {
		return nil, NewValidationError("invalid idempotency key", map[string]any{"key": key})
	}

	path := "/v1/accounts/" + accountID + "/transfers"

	call := func(ctx context.Context) (*Transfer, error) {
		var transfer Transfer
		if err := s.client.doJSON(ctx, http.MethodPost, path, req, &transfer, key); err != nil {
			return nil, err
		}
		return &transfer, nil
	}

	if mgr := s.client.idempotency; mgr != nil {
		raw, err := mgr.Do(ctx, key, func(ctx context.Context) ([]byte, error) {
			transfer, err := call(ctx)
			if err != nil {
				return nil, err
			}
			return json.Marshal(transfer)
		})
		if err != nil {
			return nil, err
		}
		var transfer Transfer
		if err := json.Unmarshal(raw, &transfer); err != nil {
			return nil, NewNetworkError("decoding cached transfer failed", err)
		}
		return &transfer, nil
	}

	return call(ctx)
}

// Get fetches one transfer.
func (s *TransfersService) Get(ctx context.Context, accountID, transferID string) (*Transfer, error) {
	if err := validateID("account id", accountID); err != nil {
		return nil, err
	}
	if err := validateID("transfer id", transferID); err != nil {
		return nil, err
	}
	var transfer Transfer
	if err := s.client.doJSON(ctx, http.MethodGet, "/v1/accounts/"+accountID+"/transfers/"+transferID, nil, &transfer, ""); err != nil {
		return nil, err
	}
	return &transfer, nil
}

// List pages through an account's transfers.
func (s *TransfersService) List(ctx context.Context, accountID string, opts *ListOptions) (*TransferList, error) {
	if err := validateID("account id", accountID); err != nil {
		return nil, err
	}
	var list TransferList
	if err := s.client.doJSON(ctx, http.MethodGet, "/v1/accounts/"+accountID+"/transfers"+listQuery(opts), nil, &list, ""); err != nil {
		return nil, err
	}
	return &list, nil
}

// Retry re-submits a failed transfer as a deliberately new attempt: it is
// tagged with a fresh random idempotency key, so the remote deduplication
// layer does NOT collapse it with the original failed submission.
func (s *TransfersService) Retry(ctx context.Context, accountID, transferID string) (*Transfer, error) {
	if err := validateID("account id", accountID); err != nil {
		return nil, err
	}
	if err := validateID("transfer id", transferID); err != nil {
		return nil, err
	}

	key := GenerateKey("tr-retry")
	var transfer Transfer
	if err := s.client.doJSON(ctx, http.MethodPost, "/v1/accounts/"+accountID+"/transfers/"+transferID+"/retry", nil, &transfer, key); err != nil {
		return nil, err
	}
	return &transfer, nil
}
