package accountlink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bankfeed/internal/domain/connector"
)

// Service contains the business logic for account link operations
type Service struct {
	repo       Repository
	connectors ConnectorReader
	accounts   BankAccountLookup
}

// NewService creates a new account link service
func NewService(repo Repository, connectors ConnectorReader, accounts BankAccountLookup) *Service {
	return &Service{repo: repo, connectors: connectors, accounts: accounts}
}

// UpsertLink creates or updates the link for an external account. The target
// bank account must share the connector's legal entity and currency.
func (s *Service) UpsertLink(ctx context.Context, params UpsertParams) (*Link, error) {
	params.Normalize()
	if err := params.Validate(); err != nil {
		return nil, err
	}

	conn, err := s.connectors.GetByID(ctx, params.TenantID, params.ConnectorID)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.GetBankAccount(ctx, params.TenantID, params.BankAccountID)
	if errors.Is(err, ErrBankAccountNotFound) {
		return nil, &connector.ValidationError{Field: "bank_account_id", Message: ErrBankAccountNotFound.Error()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up bank account: %w", err)
	}

	if account.LegalEntityID != conn.LegalEntityID {
		return nil, &linkError{field: "bank_account_id", err: ErrLegalEntityMismatch}
	}
	if !strings.EqualFold(account.CurrencyCode, params.CurrencyCode) {
		return nil, &linkError{
			field: "currency_code",
			err:   fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, params.CurrencyCode, strings.ToUpper(account.CurrencyCode)),
		}
	}

	link := &Link{
		TenantID:            params.TenantID,
		ConnectorID:         conn.ID,
		ExternalAccountID:   params.ExternalAccountID,
		ExternalAccountName: params.ExternalAccountName,
		CurrencyCode:        params.CurrencyCode,
		BankAccountID:       account.ID,
		Status:              params.Status,
		CreatedByUserID:     params.UserID,
		UpdatedByUserID:     params.UserID,
	}

	saved, err := s.repo.Upsert(ctx, link)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert account link: %w", err)
	}
	return saved, nil
}

// ListLinks retrieves all links of a tenant's connector
func (s *Service) ListLinks(ctx context.Context, tenantID int64, connectorID string) ([]*Link, error) {
	conn, err := s.connectors.GetByID(ctx, tenantID, connectorID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByConnector(ctx, conn.ID, false)
}

// ActiveLinksByExternalID returns a connector's ACTIVE links keyed by the
// normalized external account ID.
func (s *Service) ActiveLinksByExternalID(ctx context.Context, connectorID string) (map[string]*Link, error) {
	links, err := s.repo.ListByConnector(ctx, connectorID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list account links: %w", err)
	}

	byID := make(map[string]*Link, len(links))
	for _, l := range links {
		if l.Status != StatusActive {
			continue
		}
		byID[NormalizeExternalID(l.ExternalAccountID)] = l
	}
	return byID, nil
}

// linkError is a validation failure that also carries a specific sentinel.
type linkError struct {
	field string
	err   error
}

func (e *linkError) Error() string {
	return e.field + ": " + e.err.Error()
}

func (e *linkError) Unwrap() []error {
	return []error{e.err, connector.ErrValidation}
}
