package ledgerline

import (
	"context"
	"net/http"
	"time"
)

// Automation is a standing rule that moves value when its trigger fires,
// e.g. sweeping a balance above a threshold to a destination.
type Automation struct {
	ID        string         `json:"id"`
	AccountID string         `json:"account_id"`
	Name      string         `json:"name"`
	Kind      string         `json:"kind"`
	Status    string         `json:"status"`
	Config    map[string]any `json:"config,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// AutomationList is one page of automations.
type AutomationList struct {
	Automations []Automation `json:"automations"`
	Page        Page         `json:"page"`
}

// CreateAutomationRequest describes a rule to create.
type CreateAutomationRequest struct {
	Name   string         `json:"name"`
	Kind   string         `json:"kind"`
	Config map[string]any `json:"config,omitempty"`

	IdempotencyKey string `json:"-"`
}

func (r *CreateAutomationRequest) validate(accountID string) error {
	if err := validateID("account id", accountID); err != nil {
		return err
	}
	if err := requireField("name", r.Name); err != nil {
		return err
	}
	return requireField("kind", r.Kind)
}

// AutomationsService manages automation rules.
type AutomationsService struct {
	client *Client
}

// Create registers an automation rule.
func (s *AutomationsService) Create(ctx context.Context, accountID string, req *CreateAutomationRequest) (*Automation, error) {
	if req == nil {
		return nil, NewValidationError("automation request is required", nil)
	}
	if err := req.validate(accountID); err != nil {
		return nil, err
	}

	key := req.IdempotencyKey
	if key == "" {
		key = GenerateKey("auto")
	}
	if !ValidateKey(key) {
		return nil, NewValidationError("invalid idempotency key", map[string]any{"key": key})
	}

	var automation Automation
	if err := s.client.doJSON(ctx, http.MethodPost, "/v1/accounts/"+accountID+"/automations", req, &automation, key); err != nil {
		return nil, err
	}
	return &automation, nil
}

// Get fetches one automation.
func (s *AutomationsService) Get(ctx context.Context, accountID, automationID string) (*Automation, error) {
	if err := validateID("account id", accountID); err != nil {
		return nil, err
	}
	if err := validateID("automation id", automationID); err != nil {
		return nil, err
	}
	var automation Automation
	if err := s.client.doJSON(ctx, http.MethodGet, "/v1/accounts/"+accountID+"/automations/"+automationID, nil, &automation, ""); err != nil {
		return nil, err
	}
	return &automation, nil
}

// List pages through an account's automations.
func (s *AutomationsService) List(ctx context.Context, accountID string, opts *ListOptions) (*AutomationList, error) {
	if err := validateID("account id", accountID); err != nil {
		return nil, err
	}
	var list AutomationList
	if err := s.client.doJSON(ctx, http.MethodGet, "/v1/accounts/"+accountID+"/automations"+listQuery(opts), nil, &list, ""); err != nil {
		return nil, err
	}
	return &list, nil
}

// Pause suspends an automation until resumed.
func (s *AutomationsService) Pause(ctx context.Context, accountID, automationID string) (*Automation, error) {
	return s.transition(ctx, accountID, automationID, "pause")
}

// Resume reactivates a paused automation.
func (s *AutomationsService) Resume(ctx context.Context, accountID, automationID string) (*Automation, error) {
	return s.transition(ctx, accountID, automationID, "resume")
}

func (s *AutomationsService) transition(ctx context.Context, accountID, automationID, action string) (*Automation, error) {
	if err := validateID("account id", accountID); err != nil {
		return nil, err
	}
	if err := validateID("automation id", automationID); err != nil {
		return nil, err
	}
	var automation Automation
	path := "/v1/accounts/" + accountID + "/automations/" + automationID + "/" + action
	if err := s.client.doJSON(ctx, http.MethodPost, path, nil, &automation, ""); err != nil {
		return nil, err
	}
	return &automation, nil
}

// Delete removes an automation rule.
func (s *AutomationsService) Delete(ctx context.Context, accountID, automationID string) error {
	if err := validateID("account id", accountID); err != nil {
		return err
	}
	if err := validateID("automation id", automationID); err != nil {
		return err
	}
	return s.client.doJSON(ctx, http.MethodDelete, "/v1/accounts/"+accountID+"/automations/"+automationID, nil, nil, "")
}
