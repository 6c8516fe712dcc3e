package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"bankfeed/internal/domain/statement"
)

const statementImportSourceConstraint = "bank_statement_imports_source_ref_key"

// StatementImporter is the ledger-side importer: one batch row per source
// reference and one line per (bank account, external transaction id).
type StatementImporter struct {
	db  *DB
	now func() time.Time
}

func NewStatementImporter(db *DB) *StatementImporter {
	return &StatementImporter{db: db, now: time.Now}
}

func (s *StatementImporter) Import(ctx context.Context, req statement.ImportRequest) (*statement.ImportResult, error) {
	if req.ImportSource == "" {
		req.ImportSource = statement.SourceAPI
	}
	meta, err := marshalJSON(metaOrEmpty(req.SourceMeta))
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	importRef := newImportRef(req.ImportSource, s.now())

	var importID string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO bank_statement_imports (
			tenant_id, bank_account_id, import_ref, import_source, source_ref,
			source_filename, source_meta, imported_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		req.TenantID, req.BankAccountID, importRef, req.ImportSource, req.SourceRef,
		req.SourceFilename, meta, toNullInt64(req.UserID),
	).Scan(&importID)
	if isUniqueViolation(err, statementImportSourceConstraint) {
		return nil, statement.ErrDuplicateImport
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create statement import: %w", err)
	}

	result := &statement.ImportResult{ImportID: importID, ImportRef: importRef}
	for _, line := range req.Lines {
		inserted, err := insertLine(ctx, tx, req, importID, line)
		if err != nil {
			return nil, err
		}
		if inserted {
			result.ImportedCount++
		} else {
			result.DuplicateCount++
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE bank_statement_imports SET imported_count = $2, duplicate_count = $3 WHERE id = $1`,
		importID, result.ImportedCount, result.DuplicateCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update statement import counts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit statement import: %w", err)
	}
	return result, nil
}

func insertLine(ctx context.Context, tx *Tx, req statement.ImportRequest, importID string, line statement.Line) (bool, error) {
	currency := line.CurrencyCode
	if currency == "" {
		return false, fmt.Errorf("statement line %s has no currency", line.ExternalTxnID)
	}

	var valueDate any
	if line.ValueDate != nil {
		valueDate = statement.Date(*line.ValueDate)
	}
	var balance any
	if line.BalanceAfter.Valid {
		balance = line.BalanceAfter.Decimal.String()
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO bank_statement_lines (
			tenant_id, bank_account_id, import_id, external_txn_id, booking_date, value_date,
			amount, currency_code, description, reference, counterparty_name, balance_after
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (bank_account_id, external_txn_id) DO NOTHING`,
		req.TenantID, req.BankAccountID, importID, line.ExternalTxnID, statement.Date(line.BookingDate), valueDate,
		line.Amount.String(), strings.ToUpper(currency), line.Description, line.Reference, line.CounterpartyName, balance,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert statement line %s: %w", line.ExternalTxnID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// newImportRef is a human-readable batch reference such as API-20260506-1a2b3c4d.
func newImportRef(source string, at time.Time) string {
	return fmt.Sprintf("%s-%s-%s", source, at.UTC().Format("20060102"), uuid.NewString()[:8])
}

func metaOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
