package connector

import "context"

// Repository defines the interface for connector data access
type Repository interface {
	// Create inserts a new connector and returns the stored row
	Create(ctx context.Context, c *Connector) (*Connector, error)

	// GetByID retrieves a tenant's connector by ID
	GetByID(ctx context.Context, tenantID int64, id string) (*Connector, error)

	// ExistsByCode checks whether a tenant already uses a connector code
	ExistsByCode(ctx context.Context, tenantID int64, code string) (bool, error)

	// List returns a page of connectors and the total number matching the filter
	List(ctx context.Context, filter ListFilter) ([]*Connector, int, error)

	// Update writes the configurable fields of a connector
	Update(ctx context.Context, c *Connector) (*Connector, error)

	// SaveSyncState writes only the fields FinalizeSync touches. loaded is the
	// status the run started from; the stored status is resolved with
	// ResolveSyncStatus and written back into c.Status.
	SaveSyncState(ctx context.Context, c *Connector, loaded Status) error

	// ListDue returns scheduled ACTIVE/ERROR connectors due at filter.Now, oldest first
	ListDue(ctx context.Context, filter DueFilter) ([]*Connector, error)
}

// LegalEntityLookup answers whether a legal entity exists within a tenant.
type LegalEntityLookup interface {
	LegalEntityExists(ctx context.Context, tenantID, legalEntityID int64) (bool, error)
}

// ProviderCatalog reports whether an adapter is registered for a provider code.
type ProviderCatalog interface {
	Has(code string) bool
}

// Envelope is an encrypted credential blob plus the key id that sealed it.
type Envelope struct {
	Ciphertext string
	KID        string
}

// CredentialVault seals and opens connector credentials. Plaintext never
// leaves the caller that asked for it.
type CredentialVault interface {
	Encrypt(plain map[string]string) (Envelope, error)
	Decrypt(env Envelope) (map[string]string, error)
	Serialize(env Envelope) (string, error)
	// Parse returns nil when text is not a readable envelope.
	Parse(text string) *Envelope
}
