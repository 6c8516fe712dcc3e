package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"bankfeed/internal/domain/accountlink"
)

const accountLinkColumns = `
	id, tenant_id, connector_id, external_account_id, external_account_name,
	currency_code, bank_account_id, status, created_by_user_id, updated_by_user_id,
	created_at, updated_at`

type AccountLinkRepository struct {
	db *DB
}

func NewAccountLinkRepository(db *DB) *AccountLinkRepository {
	return &AccountLinkRepository{db: db}
}

// Upsert keys links by (connector_id, external_account_id). The original
// creator is kept on update.
func (r *AccountLinkRepository) Upsert(ctx context.Context, link *accountlink.Link) (*accountlink.Link, error) {
	query := `
		INSERT INTO bank_connector_account_links (
			tenant_id, connector_id, external_account_id, external_account_name,
			currency_code, bank_account_id, status, created_by_user_id, updated_by_user_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (connector_id, external_account_id) DO UPDATE
		SET external_account_name = EXCLUDED.external_account_name,
		    currency_code = EXCLUDED.currency_code,
		    bank_account_id = EXCLUDED.bank_account_id,
		    status = EXCLUDED.status,
		    updated_by_user_id = EXCLUDED.updated_by_user_id,
		    updated_at = CURRENT_TIMESTAMP
		RETURNING ` + accountLinkColumns

	stored, err := scanAccountLink(r.db.QueryRowContext(
		ctx, query,
		link.TenantID, link.ConnectorID, link.ExternalAccountID, link.ExternalAccountName,
		link.CurrencyCode, link.BankAccountID, link.Status, toNullInt64(link.UpdatedByUserID),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert account link: %w", err)
	}
	return stored, nil
}

func (r *AccountLinkRepository) ListByConnector(ctx context.Context, connectorID string, activeOnly bool) ([]*accountlink.Link, error) {
	if !isUUID(connectorID) {
		return []*accountlink.Link{}, nil
	}

	query := `SELECT ` + accountLinkColumns + `
		FROM bank_connector_account_links
		WHERE connector_id = $1 AND ($2 = false OR status = $3)
		ORDER BY external_account_id ASC`

	rows, err := r.db.QueryContext(ctx, query, connectorID, activeOnly, accountlink.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list account links: %w", err)
	}
	defer rows.Close()

	links := []*accountlink.Link{}
	for rows.Next() {
		l, err := scanAccountLink(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account link: %w", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating account links: %w", err)
	}
	return links, nil
}

func scanAccountLink(row rowScanner) (*accountlink.Link, error) {
	var (
		l         accountlink.Link
		createdBy sql.NullInt64
		updatedBy sql.NullInt64
	)
	err := row.Scan(
		&l.ID, &l.TenantID, &l.ConnectorID, &l.ExternalAccountID, &l.ExternalAccountName,
		&l.CurrencyCode, &l.BankAccountID, &l.Status, &createdBy, &updatedBy,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.CreatedByUserID = int64Ptr(createdBy)
	l.UpdatedByUserID = int64Ptr(updatedBy)
	return &l, nil
}
