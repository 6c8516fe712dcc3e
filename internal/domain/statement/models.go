package statement

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// SourceAPI marks imports that came from a provider pull.
const SourceAPI = "API"

// DateLayout is the calendar date format used on the wire.
const DateLayout = "2006-01-02"

// ErrDuplicateImport is returned when a batch with the same source reference
// was already imported for the bank account.
var ErrDuplicateImport = errors.New("statement batch already imported")

// Line is one statement entry. Amount is signed: positive is an inflow.
type Line struct {
	ExternalTxnID    string              `json:"external_txn_id"`
	BookingDate      time.Time           `json:"booking_date"`
	ValueDate        *time.Time          `json:"value_date"`
	Amount           decimal.Decimal     `json:"amount"`
	CurrencyCode     string              `json:"currency_code"`
	Description      string              `json:"description"`
	Reference        string              `json:"reference"`
	CounterpartyName string              `json:"counterparty_name"`
	BalanceAfter     decimal.NullDecimal `json:"balance_after"`
}

// ImportRequest is a batch of lines bound for one bank account.
type ImportRequest struct {
	TenantID       int64
	BankAccountID  int64
	UserID         *int64
	ImportSource   string
	SourceRef      string
	SourceFilename string
	SourceMeta     map[string]any
	Lines          []Line
}

// ImportResult reports what the ledger did with a batch.
type ImportResult struct {
	ImportID       string
	ImportRef      string
	ImportedCount  int
	DuplicateCount int
}

// Importer writes statement lines into the ledger, deduplicating by
// external transaction id and refusing repeated source references.
type Importer interface {
	Import(ctx context.Context, req ImportRequest) (*ImportResult, error)
}

// ParseDate parses a calendar date into a UTC midnight instant.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// Date truncates t to its UTC calendar date.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
