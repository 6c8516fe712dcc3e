package syncrun

import "context"

// Repository defines the interface for sync run data access
type Repository interface {
	// Create inserts a RUNNING run. Returns ErrDuplicateRequestID when the
	// connector already has a run with the same request id.
	Create(ctx context.Context, run *Run) (*Run, error)

	// GetByID retrieves a tenant's run by ID
	GetByID(ctx context.Context, tenantID int64, id string) (*Run, error)

	// GetByRequestID retrieves the run a connector recorded for a request id
	GetByRequestID(ctx context.Context, connectorID, requestID string) (*Run, error)

	// Finalize writes the terminal status, counters and payload of a RUNNING run
	Finalize(ctx context.Context, run *Run) error

	// List returns a connector's runs, newest first
	List(ctx context.Context, filter ListFilter) ([]*Run, error)

	// CreateImport inserts a per-account import audit row
	CreateImport(ctx context.Context, imp *Import) (*Import, error)

	// ListImports retrieves the import rows of a run
	ListImports(ctx context.Context, runID string) ([]*Import, error)
}
