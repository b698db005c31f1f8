package ledgerline

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

var amountPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// Account is a custodial account on the platform.
type Account struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Balance is an account's holdings in one currency.
type Balance struct {
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
}

// AccountList is one page of accounts.
type AccountList struct {
	Accounts []Account `json:"accounts"`
	Page     Page      `json:"page"`
}

// AccountsService reads account resources.
type AccountsService struct {
	client *Client
}

// Get fetches one account.
func (s *AccountsService) Get(ctx context.Context, accountID string) (*Account, error) {
	if err := validateID("account id", accountID); err != nil {
		return nil, err
	}
	var account Account
	if err := s.client.doJSON(ctx, http.MethodGet, "/v1/accounts/"+accountID, nil, &account, ""); err != nil {
		return nil, err
	}
	return &account, nil
}

// List pages through all accounts visible to the credentials.
func (s *AccountsService) List(ctx context.Context, opts *ListOptions) (*AccountList, error) {
	var list AccountList
	if err := s.client.doJSON(ctx, http.MethodGet, "/v1/accounts"+listQuery(opts), nil, &list, ""); err != nil {
		return nil, err
	}
	return &list, nil
}

// Balances fetches the account's holdings across currencies.
func (s *AccountsService) Balances(ctx context.Context, accountID string) ([]Balance, error) {
	if err := validateID("account id", accountID); err != nil {
		return nil, err
	}
	var out struct {
		Balances []Balance `json:"balances"`
	}
	if err := s.client.doJSON(ctx, http.MethodGet, "/v1/accounts/"+accountID+"/balances", nil, &out, ""); err != nil {
		return nil, err
	}
	return out.Balances, nil
}

// validateID enforces the minimal shape of a resource identifier before any
// network call.
func validateID(field, id string) error {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return NewValidationError(field+" is required", nil)
	}
	if len(trimmed) < 4 {
		return NewValidationError(field+" is too short", map[string]any{field: id})
	}
	return nil
}

// validateAmount checks that an amount string is a plain positive decimal.
func validateAmount(amount string) error {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return NewValidationError("amount is required", nil)
	}
	if !amountPattern.MatchString(trimmed) {
		return NewValidationError("amount is malformed", map[string]any{"amount": amount})
	}
	if strings.Trim(trimmed, "0.") == "" {
		return NewValidationError("amount must be positive", map[string]any{"amount": amount})
	}
	return nil
}

// requireField rejects empty required request fields.
func requireField(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return NewValidationError(fmt.Sprintf("%s is required", field), nil)
	}
	return nil
}
