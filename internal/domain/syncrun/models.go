package syncrun

import (
	"errors"
	"time"
)

// Status of a sync run. RUNNING is left exactly once.
type Status string

const (
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusPartial Status = "PARTIAL"
	StatusFailed  Status = "FAILED"
)

// Type of work a run performed.
type Type string

const TypeStatementPull Type = "STATEMENT_PULL"

// Domain errors
var (
	ErrNotFound           = errors.New("sync run not found")
	ErrDuplicateRequestID = errors.New("sync run with this request id already exists for connector")
	ErrAlreadyFinalized   = errors.New("sync run already finalized")
)

// Run is one execution record of a statement pull.
type Run struct {
	ID                   string     `json:"id"`
	TenantID             int64      `json:"tenant_id"`
	LegalEntityID        int64      `json:"legal_entity_id"`
	ConnectorID          string     `json:"connector_id"`
	RunType              Type       `json:"run_type"`
	Status               Status     `json:"status"`
	RequestID            *string    `json:"request_id"`
	WindowFrom           *time.Time `json:"window_from"`
	WindowTo             *time.Time `json:"window_to"`
	CursorBefore         *string    `json:"cursor_before"`
	CursorAfter          *string    `json:"cursor_after"`
	FetchedCount         int        `json:"fetched_count"`
	ImportedCount        int        `json:"imported_count"`
	DuplicateCount       int        `json:"duplicate_count"`
	SkippedUnmappedCount int        `json:"skipped_unmapped_count"`
	ErrorCount           int        `json:"error_count"`
	Payload              Payload    `json:"payload"`
	ErrorMessage         *string    `json:"error_message"`
	StartedAt            time.Time  `json:"started_at"`
	FinishedAt           *time.Time `json:"finished_at"`
	TriggeredByUserID    *int64     `json:"triggered_by_user_id"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// IsFinal reports whether the run has left RUNNING.
func (r *Run) IsFinal() bool {
	return r.Status != StatusRunning
}

// Payload is the bounded diagnostic document stored with a run.
type Payload struct {
	ProviderCode       string       `json:"provider_code,omitempty"`
	ForceFull          bool         `json:"force_full"`
	AccountsReturned   int          `json:"accounts_returned"`
	Diagnostics        []Diagnostic `json:"diagnostics"`
	DroppedDiagnostics int          `json:"dropped_diagnostics,omitempty"`
}

// Import is the audit row for one linked account's import attempt in a run.
type Import struct {
	ID                string    `json:"id"`
	SyncRunID         string    `json:"sync_run_id"`
	AccountLinkID     string    `json:"account_link_id"`
	BankAccountID     int64     `json:"bank_account_id"`
	ExternalAccountID string    `json:"external_account_id"`
	ImportID          string    `json:"import_id"`
	ImportRef         string    `json:"import_ref"`
	ImportedCount     int       `json:"imported_count"`
	DuplicateCount    int       `json:"duplicate_count"`
	CreatedAt         time.Time `json:"created_at"`
}

// ListFilter narrows the runs of one connector.
type ListFilter struct {
	TenantID    int64
	ConnectorID string
	Status      *Status
	Limit       int
	Offset      int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Normalize clamps paging values.
func (f *ListFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// IsValidStatus checks if the provided status is known.
func IsValidStatus(s Status) bool {
	switch s {
	case StatusRunning, StatusSuccess, StatusPartial, StatusFailed:
		return true
	}
	return false
}
