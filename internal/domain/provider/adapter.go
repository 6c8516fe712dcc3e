package provider

import (
	"context"
	"time"

	"bankfeed/internal/domain/statement"
)

// Adapter is the capability every provider integration exposes. Adapters
// are stateless; configuration and decrypted credentials arrive per call.
type Adapter interface {
	// Code is the provider code connectors reference.
	Code() string

	// TestConnection probes the provider. Authentication and transport
	// failures are returned as *Error, never as OK=false.
	TestConnection(ctx context.Context, cfg map[string]any, creds map[string]string) (*TestResult, error)

	// PullStatements fetches one page of statement data.
	PullStatements(ctx context.Context, req PullRequest) (*PullResult, error)
}

// TestResult describes a successful health probe.
type TestResult struct {
	OK             bool      `json:"ok"`
	ProviderCode   string    `json:"provider_code"`
	ConnectorType  string    `json:"connector_type"`
	RemoteBankName string    `json:"remote_bank_name"`
	CheckedAt      time.Time `json:"checked_at"`
}

// PullRequest asks for statement data. A nil Cursor with no dates means the
// provider's default window.
type PullRequest struct {
	Config      map[string]any
	Credentials map[string]string
	Cursor      *string
	FromDate    *time.Time
	ToDate      *time.Time
}

// PullResult is one page of accounts. A nil NextCursor means no more pages.
type PullResult struct {
	Accounts   []AccountStatement
	NextCursor *string
}

// AccountStatement holds the lines a provider returned for one account.
// Err marks an account whose data could not be read; its Lines are empty
// and the rest of the page is still usable.
type AccountStatement struct {
	ExternalAccountID string
	AccountName       string
	CurrencyCode      string
	Lines             []statement.Line
	Err               error
}

// LineCount sums the lines across all returned accounts.
func (r *PullResult) LineCount() int {
	n := 0
	for _, a := range r.Accounts {
		n += len(a.Lines)
	}
	return n
}
