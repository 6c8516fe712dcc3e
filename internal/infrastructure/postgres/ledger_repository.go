package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bankfeed/internal/domain/accountlink"
)

// LedgerRepository reads the legal entities and bank accounts the connector
// registry validates against.
type LedgerRepository struct {
	db *DB
}

func NewLedgerRepository(db *DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) LegalEntityExists(ctx context.Context, tenantID, legalEntityID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM legal_entities WHERE tenant_id = $1 AND id = $2)`,
		tenantID, legalEntityID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check legal entity: %w", err)
	}
	return exists, nil
}

func (r *LedgerRepository) GetBankAccount(ctx context.Context, tenantID, bankAccountID int64) (*accountlink.BankAccount, error) {
	var a accountlink.BankAccount
	err := r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, legal_entity_id, currency_code FROM bank_accounts WHERE tenant_id = $1 AND id = $2`,
		tenantID, bankAccountID,
	).Scan(&a.ID, &a.TenantID, &a.LegalEntityID, &a.CurrencyCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, accountlink.ErrBankAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bank account: %w", err)
	}
	return &a, nil
}
