package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"bankfeed/internal/domain/connector"
)

const connectorCodeConstraint = "bank_connectors_tenant_code_key"

const connectorColumns = `
	id, tenant_id, legal_entity_id, connector_code, connector_name, provider_code,
	connector_type, status, adapter_version, config, credentials_encrypted,
	credentials_key_version, sync_mode, sync_frequency_minutes, next_sync_at,
	last_cursor, last_sync_at, last_success_at, last_error_at, last_error_message,
	created_by_user_id, updated_by_user_id, created_at, updated_at`

// Connector statuses the scheduler may pick up.
var dueStatuses = []string{string(connector.StatusActive), string(connector.StatusError)}

type ConnectorRepository struct {
	db *DB
}

func NewConnectorRepository(db *DB) *ConnectorRepository {
	return &ConnectorRepository{db: db}
}

func (r *ConnectorRepository) Create(ctx context.Context, c *connector.Connector) (*connector.Connector, error) {
	config, err := marshalJSON(configOrEmpty(c.Config))
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO bank_connectors (
			tenant_id, legal_entity_id, connector_code, connector_name, provider_code,
			connector_type, status, adapter_version, config, credentials_encrypted,
			credentials_key_version, sync_mode, sync_frequency_minutes, next_sync_at,
			created_by_user_id, updated_by_user_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING ` + connectorColumns

	created, err := scanConnector(r.db.QueryRowContext(
		ctx, query,
		c.TenantID, c.LegalEntityID, c.Code, c.Name, c.ProviderCode,
		c.Type, c.Status, c.AdapterVersion, config, c.Credentials,
		c.CredentialsKeyVersion, c.SyncMode, toNullInt32(c.SyncFrequencyMinutes), toNullTime(c.NextSyncAt),
		toNullInt64(c.CreatedByUserID), toNullInt64(c.UpdatedByUserID),
	))
	if isUniqueViolation(err, connectorCodeConstraint) {
		return nil, connector.ErrDuplicateCode
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create connector: %w", err)
	}
	return created, nil
}

func (r *ConnectorRepository) GetByID(ctx context.Context, tenantID int64, id string) (*connector.Connector, error) {
	if !isUUID(id) {
		return nil, connector.ErrNotFound
	}

	query := `SELECT ` + connectorColumns + ` FROM bank_connectors WHERE tenant_id = $1 AND id = $2`

	c, err := scanConnector(r.db.QueryRowContext(ctx, query, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, connector.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connector: %w", err)
	}
	return c, nil
}

func (r *ConnectorRepository) ExistsByCode(ctx context.Context, tenantID int64, code string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM bank_connectors WHERE tenant_id = $1 AND connector_code = $2)`,
		tenantID, code,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check connector code: %w", err)
	}
	return exists, nil
}

func (r *ConnectorRepository) List(ctx context.Context, filter connector.ListFilter) ([]*connector.Connector, int, error) {
	where := []string{"tenant_id = $1"}
	args := []any{filter.TenantID}

	if filter.LegalEntityID != nil {
		args = append(args, *filter.LegalEntityID)
		where = append(where, "legal_entity_id = $"+strconv.Itoa(len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	if filter.ProviderCode != "" {
		args = append(args, filter.ProviderCode)
		where = append(where, "provider_code = $"+strconv.Itoa(len(args)))
	}
	if filter.Query != "" {
		args = append(args, "%"+escapeLike(filter.Query)+"%")
		n := strconv.Itoa(len(args))
		where = append(where, "(connector_code ILIKE $"+n+" OR connector_name ILIKE $"+n+" OR provider_code ILIKE $"+n+")")
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bank_connectors WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count connectors: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	query := `SELECT ` + connectorColumns + ` FROM bank_connectors WHERE ` + clause +
		` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	items, err := r.queryConnectors(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *ConnectorRepository) Update(ctx context.Context, c *connector.Connector) (*connector.Connector, error) {
	config, err := marshalJSON(configOrEmpty(c.Config))
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE bank_connectors
		SET connector_code = $3,
		    connector_name = $4,
		    provider_code = $5,
		    connector_type = $6,
		    status = $7,
		    adapter_version = $8,
		    config = $9,
		    credentials_encrypted = $10,
		    credentials_key_version = $11,
		    sync_mode = $12,
		    sync_frequency_minutes = $13,
		    next_sync_at = $14,
		    updated_by_user_id = $15,
		    updated_at = CURRENT_TIMESTAMP
		WHERE tenant_id = $1 AND id = $2
		RETURNING ` + connectorColumns

	updated, err := scanConnector(r.db.QueryRowContext(
		ctx, query,
		c.TenantID, c.ID, c.Code, c.Name, c.ProviderCode, c.Type, c.Status,
		c.AdapterVersion, config, c.Credentials, c.CredentialsKeyVersion,
		c.SyncMode, toNullInt32(c.SyncFrequencyMinutes), toNullTime(c.NextSyncAt),
		toNullInt64(c.UpdatedByUserID),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, connector.ErrNotFound
	}
	if isUniqueViolation(err, connectorCodeConstraint) {
		return nil, connector.ErrDuplicateCode
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update connector: %w", err)
	}
	return updated, nil
}

// SaveSyncState writes the health and scheduling fields a finished run owns.
// Configuration edits made while the run was in flight are preserved, and a
// PAUSED or DISABLED status set during the run is kept (see
// connector.ResolveSyncStatus). The stored status is written back into c.
func (r *ConnectorRepository) SaveSyncState(ctx context.Context, c *connector.Connector, loaded connector.Status) error {
	query := `
		UPDATE bank_connectors
		SET status = CASE
		        WHEN status <> $10 AND status IN ('DISABLED', 'PAUSED') THEN status
		        ELSE $3
		    END,
		    next_sync_at = $4,
		    last_cursor = $5,
		    last_sync_at = $6,
		    last_success_at = $7,
		    last_error_at = $8,
		    last_error_message = $9,
		    updated_at = CURRENT_TIMESTAMP
		WHERE tenant_id = $1 AND id = $2
		RETURNING status
	`

	var stored connector.Status
	err := r.db.QueryRowContext(ctx, query,
		c.TenantID, c.ID, c.Status, toNullTime(c.NextSyncAt), toNullString(c.LastCursor),
		toNullTime(c.LastSyncAt), toNullTime(c.LastSuccessAt), toNullTime(c.LastErrorAt),
		toNullString(c.LastErrorMessage), loaded,
	).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return connector.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to save connector sync state: %w", err)
	}
	c.Status = stored
	return nil
}

func (r *ConnectorRepository) ListDue(ctx context.Context, filter connector.DueFilter) ([]*connector.Connector, error) {
	args := []any{string(connector.SyncModeScheduled), pq.Array(dueStatuses), filter.Now.UTC()}
	query := `SELECT ` + connectorColumns + `
		FROM bank_connectors
		WHERE sync_mode = $1
		  AND status = ANY($2)
		  AND next_sync_at IS NOT NULL
		  AND next_sync_at <= $3`
	if filter.TenantID != nil {
		args = append(args, *filter.TenantID)
		query += ` AND tenant_id = $` + strconv.Itoa(len(args))
	}
	args = append(args, filter.Limit)
	query += ` ORDER BY next_sync_at ASC, id ASC LIMIT $` + strconv.Itoa(len(args))

	return r.queryConnectors(ctx, query, args...)
}

func (r *ConnectorRepository) queryConnectors(ctx context.Context, query string, args ...any) ([]*connector.Connector, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list connectors: %w", err)
	}
	defer rows.Close()

	connectors := []*connector.Connector{}
	for rows.Next() {
		c, err := scanConnector(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connector: %w", err)
		}
		connectors = append(connectors, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connectors: %w", err)
	}
	return connectors, nil
}

func scanConnector(row rowScanner) (*connector.Connector, error) {
	var (
		c            connector.Connector
		config       []byte
		freq         sql.NullInt32
		nextSync     sql.NullTime
		cursor       sql.NullString
		lastSync     sql.NullTime
		lastSuccess  sql.NullTime
		lastError    sql.NullTime
		lastErrorMsg sql.NullString
		createdBy    sql.NullInt64
		updatedBy    sql.NullInt64
	)
	err := row.Scan(
		&c.ID, &c.TenantID, &c.LegalEntityID, &c.Code, &c.Name, &c.ProviderCode,
		&c.Type, &c.Status, &c.AdapterVersion, &config, &c.Credentials,
		&c.CredentialsKeyVersion, &c.SyncMode, &freq, &nextSync,
		&cursor, &lastSync, &lastSuccess, &lastError, &lastErrorMsg,
		&createdBy, &updatedBy, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Config = map[string]any{}
	if err := unmarshalJSON(config, &c.Config); err != nil {
		return nil, err
	}
	c.SyncFrequencyMinutes = intPtr(freq)
	c.NextSyncAt = timePtr(nextSync)
	c.LastCursor = stringPtr(cursor)
	c.LastSyncAt = timePtr(lastSync)
	c.LastSuccessAt = timePtr(lastSuccess)
	c.LastErrorAt = timePtr(lastError)
	c.LastErrorMessage = stringPtr(lastErrorMsg)
	c.CreatedByUserID = int64Ptr(createdBy)
	c.UpdatedByUserID = int64Ptr(updatedBy)
	return &c, nil
}

func configOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// isUUID avoids sending ids Postgres would reject with a cast error.
func isUUID(s string) bool {
	return uuid.Validate(s) == nil
}
