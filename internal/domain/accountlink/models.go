package accountlink

import (
	"errors"
	"strings"
	"time"

	"bankfeed/internal/domain/connector"
)

// Status of a link. Only ACTIVE links receive statement lines.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

const maxExternalIDLength = 128

// Domain errors
var (
	ErrCurrencyMismatch    = errors.New("external account currency does not match bank account currency")
	ErrLegalEntityMismatch = errors.New("bank account belongs to a different legal entity than the connector")
	ErrBankAccountNotFound = errors.New("bank account not found")
)

// Link maps a provider's external account identifier to an internal bank
// account for one connector.
type Link struct {
	ID                  string    `json:"id"`
	TenantID            int64     `json:"tenant_id"`
	ConnectorID         string    `json:"connector_id"`
	ExternalAccountID   string    `json:"external_account_id"`
	ExternalAccountName string    `json:"external_account_name"`
	CurrencyCode        string    `json:"currency_code"`
	BankAccountID       int64     `json:"bank_account_id"`
	Status              Status    `json:"status"`
	CreatedByUserID     *int64    `json:"created_by_user_id"`
	UpdatedByUserID     *int64    `json:"updated_by_user_id"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// BankAccount is the slice of the ledger's bank account a link needs.
type BankAccount struct {
	ID            int64
	TenantID      int64
	LegalEntityID int64
	CurrencyCode  string
}

// UpsertParams contains parameters for creating or updating a link
type UpsertParams struct {
	TenantID            int64
	ConnectorID         string
	ExternalAccountID   string
	ExternalAccountName string
	CurrencyCode        string
	BankAccountID       int64
	Status              Status
	UserID              *int64
}

// Normalize applies defaults and canonical casing.
func (p *UpsertParams) Normalize() {
	p.ExternalAccountID = NormalizeExternalID(p.ExternalAccountID)
	p.ExternalAccountName = strings.TrimSpace(p.ExternalAccountName)
	p.CurrencyCode = strings.ToUpper(strings.TrimSpace(p.CurrencyCode))
	if p.Status == "" {
		p.Status = StatusActive
	}
}

// Validate validates the upsert parameters
func (p UpsertParams) Validate() error {
	if p.TenantID <= 0 {
		return connector.Invalid("tenant_id", "valid tenant ID is required")
	}
	if p.ConnectorID == "" {
		return connector.Invalid("connector_id", "connector ID is required")
	}
	if p.ExternalAccountID == "" {
		return connector.Invalid("external_account_id", "external account ID is required")
	}
	if len(p.ExternalAccountID) > maxExternalIDLength {
		return connector.Invalid("external_account_id", "must be at most %d characters", maxExternalIDLength)
	}
	if !isCurrencyCode(p.CurrencyCode) {
		return connector.Invalid("currency_code", "a 3-letter ISO 4217 code is required")
	}
	if p.BankAccountID <= 0 {
		return connector.Invalid("bank_account_id", "valid bank account ID is required")
	}
	if p.Status != StatusActive && p.Status != StatusInactive {
		return connector.Invalid("status", "unsupported link status %q", p.Status)
	}
	return nil
}

// NormalizeExternalID is the key used to match provider accounts to links.
func NormalizeExternalID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

func isCurrencyCode(c string) bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
