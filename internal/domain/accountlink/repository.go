package accountlink

import (
	"context"

	"bankfeed/internal/domain/connector"
)

// Repository defines the interface for account link data access
type Repository interface {
	// Upsert creates the link or updates the one with the same connector and external ID
	Upsert(ctx context.Context, link *Link) (*Link, error)

	// ListByConnector retrieves a connector's links, optionally only ACTIVE ones
	ListByConnector(ctx context.Context, connectorID string, activeOnly bool) ([]*Link, error)
}

// BankAccountLookup reads bank accounts owned by the ledger.
type BankAccountLookup interface {
	// GetBankAccount returns ErrBankAccountNotFound when the tenant has no such account
	GetBankAccount(ctx context.Context, tenantID, bankAccountID int64) (*BankAccount, error)
}

// ConnectorReader loads the connector a link belongs to.
type ConnectorReader interface {
	GetByID(ctx context.Context, tenantID int64, id string) (*connector.Connector, error)
}
