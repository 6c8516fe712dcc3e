package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"bankfeed/internal/domain/syncrun"
)

const syncRunRequestConstraint = "bank_sync_runs_request_key"

const syncRunColumns = `
	id, tenant_id, legal_entity_id, connector_id, run_type, status, request_id,
	window_from, window_to, cursor_before, cursor_after, fetched_count, imported_count,
	duplicate_count, skipped_unmapped_count, error_count, payload, error_message,
	started_at, finished_at, triggered_by_user_id, created_at, updated_at`

const syncRunImportColumns = `
	id, sync_run_id, account_link_id, bank_account_id, external_account_id,
	import_id, import_ref, imported_count, duplicate_count, created_at`

type SyncRunRepository struct {
	db *DB
}

func NewSyncRunRepository(db *DB) *SyncRunRepository {
	return &SyncRunRepository{db: db}
}

// Create relies on the partial unique index over (connector_id, request_id)
// to settle concurrent requests with the same id.
func (r *SyncRunRepository) Create(ctx context.Context, run *syncrun.Run) (*syncrun.Run, error) {
	payload, err := marshalJSON(run.Payload)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO bank_sync_runs (
			tenant_id, legal_entity_id, connector_id, run_type, status, request_id,
			window_from, window_to, cursor_before, payload, started_at, triggered_by_user_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + syncRunColumns

	created, err := scanSyncRun(r.db.QueryRowContext(
		ctx, query,
		run.TenantID, run.LegalEntityID, run.ConnectorID, run.RunType, run.Status,
		toNullString(run.RequestID), toNullTime(run.WindowFrom), toNullTime(run.WindowTo),
		toNullString(run.CursorBefore), payload, run.StartedAt.UTC(), toNullInt64(run.TriggeredByUserID),
	))
	if isUniqueViolation(err, syncRunRequestConstraint) {
		return nil, syncrun.ErrDuplicateRequestID
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create sync run: %w", err)
	}
	return created, nil
}

func (r *SyncRunRepository) GetByID(ctx context.Context, tenantID int64, id string) (*syncrun.Run, error) {
	if !isUUID(id) {
		return nil, syncrun.ErrNotFound
	}
	query := `SELECT ` + syncRunColumns + ` FROM bank_sync_runs WHERE tenant_id = $1 AND id = $2`
	return r.getOne(ctx, query, tenantID, id)
}

func (r *SyncRunRepository) GetByRequestID(ctx context.Context, connectorID, requestID string) (*syncrun.Run, error) {
	if !isUUID(connectorID) {
		return nil, syncrun.ErrNotFound
	}
	query := `SELECT ` + syncRunColumns + ` FROM bank_sync_runs WHERE connector_id = $1 AND request_id = $2`
	return r.getOne(ctx, query, connectorID, requestID)
}

func (r *SyncRunRepository) getOne(ctx context.Context, query string, args ...any) (*syncrun.Run, error) {
	run, err := scanSyncRun(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, syncrun.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync run: %w", err)
	}
	return run, nil
}

// Finalize only touches runs still RUNNING, so a terminal run is never rewritten.
func (r *SyncRunRepository) Finalize(ctx context.Context, run *syncrun.Run) error {
	payload, err := marshalJSON(run.Payload)
	if err != nil {
		return err
	}

	query := `
		UPDATE bank_sync_runs
		SET status = $2,
		    cursor_after = $3,
		    fetched_count = $4,
		    imported_count = $5,
		    duplicate_count = $6,
		    skipped_unmapped_count = $7,
		    error_count = $8,
		    payload = $9,
		    error_message = $10,
		    finished_at = $11,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status = 'RUNNING'
	`

	result, err := r.db.ExecContext(ctx, query,
		run.ID, run.Status, toNullString(run.CursorAfter), run.FetchedCount, run.ImportedCount,
		run.DuplicateCount, run.SkippedUnmappedCount, run.ErrorCount, payload,
		toNullString(run.ErrorMessage), toNullTime(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to finalize sync run: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var status string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM bank_sync_runs WHERE id = $1`, run.ID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return syncrun.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check sync run status: %w", err)
	}
	return syncrun.ErrAlreadyFinalized
}

func (r *SyncRunRepository) List(ctx context.Context, filter syncrun.ListFilter) ([]*syncrun.Run, error) {
	if !isUUID(filter.ConnectorID) {
		return []*syncrun.Run{}, nil
	}

	args := []any{filter.TenantID, filter.ConnectorID}
	query := `SELECT ` + syncRunColumns + ` FROM bank_sync_runs WHERE tenant_id = $1 AND connector_id = $2`
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	args = append(args, filter.Limit, filter.Offset)
	query += ` ORDER BY started_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	runs := []*syncrun.Run{}
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync runs: %w", err)
	}
	return runs, nil
}

func (r *SyncRunRepository) CreateImport(ctx context.Context, imp *syncrun.Import) (*syncrun.Import, error) {
	query := `
		INSERT INTO bank_sync_run_imports (
			sync_run_id, account_link_id, bank_account_id, external_account_id,
			import_id, import_ref, imported_count, duplicate_count
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + syncRunImportColumns

	stored, err := scanSyncRunImport(r.db.QueryRowContext(
		ctx, query,
		imp.SyncRunID, imp.AccountLinkID, imp.BankAccountID, imp.ExternalAccountID,
		imp.ImportID, imp.ImportRef, imp.ImportedCount, imp.DuplicateCount,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create sync run import: %w", err)
	}
	return stored, nil
}

func (r *SyncRunRepository) ListImports(ctx context.Context, runID string) ([]*syncrun.Import, error) {
	imports := []*syncrun.Import{}
	if !isUUID(runID) {
		return imports, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+syncRunImportColumns+` FROM bank_sync_run_imports WHERE sync_run_id = $1 ORDER BY created_at ASC, id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync run imports: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		imp, err := scanSyncRunImport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run import: %w", err)
		}
		imports = append(imports, imp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync run imports: %w", err)
	}
	return imports, nil
}

func scanSyncRun(row rowScanner) (*syncrun.Run, error) {
	var (
		run          syncrun.Run
		requestID    sql.NullString
		windowFrom   sql.NullTime
		windowTo     sql.NullTime
		cursorBefore sql.NullString
		cursorAfter  sql.NullString
		payload      []byte
		errorMessage sql.NullString
		finishedAt   sql.NullTime
		triggeredBy  sql.NullInt64
	)
	err := row.Scan(
		&run.ID, &run.TenantID, &run.LegalEntityID, &run.ConnectorID, &run.RunType, &run.Status, &requestID,
		&windowFrom, &windowTo, &cursorBefore, &cursorAfter, &run.FetchedCount, &run.ImportedCount,
		&run.DuplicateCount, &run.SkippedUnmappedCount, &run.ErrorCount, &payload, &errorMessage,
		&run.StartedAt, &finishedAt, &triggeredBy, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(payload, &run.Payload); err != nil {
		return nil, err
	}
	if run.Payload.Diagnostics == nil {
		run.Payload.Diagnostics = []syncrun.Diagnostic{}
	}
	run.RequestID = stringPtr(requestID)
	run.WindowFrom = timePtr(windowFrom)
	run.WindowTo = timePtr(windowTo)
	run.CursorBefore = stringPtr(cursorBefore)
	run.CursorAfter = stringPtr(cursorAfter)
	run.ErrorMessage = stringPtr(errorMessage)
	run.FinishedAt = timePtr(finishedAt)
	run.TriggeredByUserID = int64Ptr(triggeredBy)
	return &run, nil
}

func scanSyncRunImport(row rowScanner) (*syncrun.Import, error) {
	var imp syncrun.Import
	err := row.Scan(
		&imp.ID, &imp.SyncRunID, &imp.AccountLinkID, &imp.BankAccountID, &imp.ExternalAccountID,
		&imp.ImportID, &imp.ImportRef, &imp.ImportedCount, &imp.DuplicateCount, &imp.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &imp, nil
}
