package ledgerline

import (
	"context"
	"net/http"
	"time"
)

// maxLabelLength bounds the human-readable address label.
const maxLabelLength = 64

// Address is a registered on-chain address usable as a transfer endpoint.
type Address struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Address   string    `json:"address"`
	Network   string    `json:"network"`
	Kind      string    `json:"kind"`
	Label     string    `json:"label,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// AddressList is one page of addresses.
type AddressList struct {
	Addresses []Address `json:"addresses"`
	Page      Page      `json:"page"`
}

// CreateAddressRequest registers an address. When IdempotencyKey is empty a
// deterministic key is derived from the identifying fields.
type CreateAddressRequest struct {
	Address string `json:"address"`
	Network string `json:"network"`
	Kind    string `json:"kind"`
	Label   string `json:"label,omitempty"`

	IdempotencyKey string `json:"-"`
}

func (r *CreateAddressRequest) validate(accountID string) error {
	if err := validateID("account id", accountID); err != nil {
		return err
	}
	if err := requireField("address", r.Address); err != nil {
		return err
	}
	if err := requireField("network", r.Network); err != nil {
		return err
	}
	if err := requireField("kind", r.Kind); err != nil {
		return err
	}
	if len(r.Label) > maxLabelLength {
		return NewValidationError("label is too long", map[string]any{"max": maxLabelLength})
	}
	return nil
}

// AddressesService registers and reads addresses.
type AddressesService struct {
	client *Client
}

// Create registers an address under the account.
func (s *AddressesService) Create(ctx context.Context, accountID string, req *CreateAddressRequest) (*Address, error) {
	if req == nil {
		return nil, NewValidationError("address request is required", nil)
	}
	if err := req.validate(accountID); err != nil {
		return nil, err
	}

	key := req.IdempotencyKey
	if key == "" {
		key = AddressIdempotencyKey(accountID, req.Address, req.Network, req.Kind)
	}
	if !ValidateKey(key) {
		return nil, NewValidationError("invalid idempotency key", map[string]any{"key": key})
	}

	var address Address
	if err := s.client.doJSON(ctx, http.MethodPost, "/v1/accounts/"+accountID+"/addresses", req, &address, key); err != nil {
		return nil, err
	}
	return &address, nil
}

// Get fetches one address.
func (s *AddressesService) Get(ctx context.Context, accountID, addressID string) (*Address, error) {
	if err := validateID("account id", accountID); err != nil {
		return nil, err
	}
	if err := validateID("address id", addressID); err != nil {
		return nil, err
	}
	var address Address
	if err := s.client.doJSON(ctx, http.MethodGet, "/v1/accounts/"+accountID+"/addresses/"+addressID, nil, &address, ""); err != nil {
		return nil, err
	}
	return &address, nil
}

// List pages through an account's addresses.
func (s *AddressesService) List(ctx context.Context, accountID string, opts *ListOptions) (*AddressList, error) {
	if err := validateID("account id", accountID); err != nil {
		return nil, err
	}
	var list AddressList
	if err := s.client.doJSON(ctx, http.MethodGet, "/v1/accounts/"+accountID+"/addresses"+listQuery(opts), nil, &list, ""); err != nil {
		return nil, err
	}
	return &list, nil
}

// Delete removes a registered address.
func (s *AddressesService) Delete(ctx context.Context, accountID, addressID string) error {
	if err := validateID("account id", accountID); err != nil {
		return err
	}
	if err := validateID("address id", addressID); err != nil {
		return err
	}
	return s.client.doJSON(ctx, http.MethodDelete, "/v1/accounts/"+accountID+"/addresses/"+addressID, nil, nil, "")
}
