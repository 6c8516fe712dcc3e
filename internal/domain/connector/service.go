package connector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Service contains the business logic for connector lifecycle operations
type Service struct {
	repo      Repository
	entities  LegalEntityLookup
	providers ProviderCatalog
	vault     CredentialVault
	now       func() time.Time
}

// NewService creates a new connector service
func NewService(repo Repository, entities LegalEntityLookup, providers ProviderCatalog, vault CredentialVault) *Service {
	return &Service{
		repo:      repo,
		entities:  entities,
		providers: providers,
		vault:     vault,
		now:       time.Now,
	}
}

// CreateConnector validates and stores a new connector, sealing any
// credentials before they reach the repository.
func (s *Service) CreateConnector(ctx context.Context, params CreateParams) (*Connector, error) {
	params.Normalize()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if !s.providers.Has(params.ProviderCode) {
		return nil, Invalid("provider_code", "no adapter registered for %q", params.ProviderCode)
	}

	if err := s.checkLegalEntity(ctx, params.TenantID, params.LegalEntityID); err != nil {
		return nil, err
	}

	exists, err := s.repo.ExistsByCode(ctx, params.TenantID, params.Code)
	if err != nil {
		return nil, fmt.Errorf("failed to check connector code: %w", err)
	}
	if exists {
		return nil, ErrDuplicateCode
	}

	c := &Connector{
		TenantID:             params.TenantID,
		LegalEntityID:        params.LegalEntityID,
		Code:                 params.Code,
		Name:                 params.Name,
		ProviderCode:         params.ProviderCode,
		Type:                 params.Type,
		Status:               params.Status,
		AdapterVersion:       params.AdapterVersion,
		Config:               params.Config,
		SyncMode:             params.SyncMode,
		SyncFrequencyMinutes: params.SyncFrequencyMinutes,
		NextSyncAt:           params.NextSyncAt,
		CreatedByUserID:      params.UserID,
		UpdatedByUserID:      params.UserID,
	}
	if c.SyncMode != SyncModeScheduled {
		c.SyncFrequencyMinutes = nil
	}
	s.ensureNextSync(c)

	if err := s.sealCredentials(c, params.Credentials); err != nil {
		return nil, err
	}

	created, err := s.repo.Create(ctx, c)
	if err != nil {
		if errors.Is(err, ErrDuplicateCode) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create connector: %w", err)
	}
	return created, nil
}

// GetConnector retrieves a tenant's connector by ID
func (s *Service) GetConnector(ctx context.Context, tenantID int64, id string) (*Connector, error) {
	if tenantID <= 0 || strings.TrimSpace(id) == "" {
		return nil, ErrNotFound
	}
	return s.repo.GetByID(ctx, tenantID, id)
}

// ListConnectors returns a page of a tenant's connectors and the total count
func (s *Service) ListConnectors(ctx context.Context, filter ListFilter) ([]*Connector, int, error) {
	if filter.TenantID <= 0 {
		return nil, 0, Invalid("tenant_id", "valid tenant ID is required")
	}
	if filter.Status != nil && !IsValidStatus(*filter.Status) {
		return nil, 0, Invalid("status", "unsupported status %q", *filter.Status)
	}
	filter.Normalize()
	return s.repo.List(ctx, filter)
}

// UpdateConnector applies a partial update. Only fields present in params
// are touched.
func (s *Service) UpdateConnector(ctx context.Context, tenantID int64, id string, params UpdateParams) (*Connector, error) {
	c, err := s.GetConnector(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if params.Code != nil {
		code := strings.ToUpper(strings.TrimSpace(*params.Code))
		if code == "" || len(code) > maxCodeLength {
			return nil, Invalid("connector_code", "must be 1 to %d characters", maxCodeLength)
		}
		if code != c.Code {
			exists, err := s.repo.ExistsByCode(ctx, tenantID, code)
			if err != nil {
				return nil, fmt.Errorf("failed to check connector code: %w", err)
			}
			if exists {
				return nil, ErrDuplicateCode
			}
			c.Code = code
		}
	}
	if params.Name != nil {
		name := strings.TrimSpace(*params.Name)
		if name == "" {
			return nil, Invalid("connector_name", "connector name is required")
		}
		c.Name = name
	}
	if params.ProviderCode != nil {
		code := strings.ToUpper(strings.TrimSpace(*params.ProviderCode))
		if !s.providers.Has(code) {
			return nil, Invalid("provider_code", "no adapter registered for %q", code)
		}
		c.ProviderCode = code
	}
	if params.Type != nil {
		if !IsValidType(*params.Type) {
			return nil, Invalid("connector_type", "unsupported connector type %q", *params.Type)
		}
		c.Type = *params.Type
	}
	if params.Status != nil {
		if !IsValidStatus(*params.Status) {
			return nil, Invalid("status", "unsupported status %q", *params.Status)
		}
		if !c.CanTransitionTo(*params.Status) {
			return nil, Invalid("status", "cannot move connector from %s to %s", c.Status, *params.Status)
		}
		c.Status = *params.Status
	}
	if params.AdapterVersion != nil {
		c.AdapterVersion = strings.TrimSpace(*params.AdapterVersion)
		if c.AdapterVersion == "" {
			c.AdapterVersion = DefaultAdapterVersion
		}
	}
	if params.Config != nil {
		c.Config = params.Config
	}
	if params.SyncMode != nil {
		c.SyncMode = *params.SyncMode
	}
	if params.SyncFrequencyMinutes != nil {
		c.SyncFrequencyMinutes = params.SyncFrequencyMinutes
	}
	if params.NextSyncAt != nil {
		next := params.NextSyncAt.UTC()
		c.NextSyncAt = &next
	}
	if err := validateSchedule(c.SyncMode, c.SyncFrequencyMinutes); err != nil {
		return nil, err
	}
	if c.SyncMode != SyncModeScheduled {
		c.SyncFrequencyMinutes = nil
	}
	s.ensureNextSync(c)

	if params.ReplaceCredentials {
		c.Credentials = ""
		c.CredentialsKeyVersion = ""
		if err := s.sealCredentials(c, params.Credentials); err != nil {
			return nil, err
		}
	}

	c.UpdatedByUserID = params.UserID

	updated, err := s.repo.Update(ctx, c)
	if err != nil {
		if errors.Is(err, ErrDuplicateCode) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update connector: %w", err)
	}
	return updated, nil
}

// OpenCredentials decrypts a connector's stored envelope. Connectors
// without credentials yield an empty map.
func OpenCredentials(vault CredentialVault, c *Connector) (map[string]string, error) {
	if !c.HasCredentials() {
		return map[string]string{}, nil
	}
	env := vault.Parse(c.Credentials)
	if env == nil {
		return nil, errors.New("stored credentials are not a readable envelope")
	}
	plain, err := vault.Decrypt(*env)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials: %w", err)
	}
	return plain, nil
}

func (s *Service) sealCredentials(c *Connector, creds map[string]string) error {
	if len(creds) == 0 {
		return nil
	}
	env, err := s.vault.Encrypt(creds)
	if err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}
	text, err := s.vault.Serialize(env)
	if err != nil {
		return fmt.Errorf("failed to serialize credentials: %w", err)
	}
	c.Credentials = text
	c.CredentialsKeyVersion = env.KID
	return nil
}

// ensureNextSync makes a freshly scheduled connector due immediately so the
// sweep picks it up.
func (s *Service) ensureNextSync(c *Connector) {
	if c.SyncMode == SyncModeScheduled && c.NextSyncAt == nil {
		now := s.now().UTC()
		c.NextSyncAt = &now
	}
}

func (s *Service) checkLegalEntity(ctx context.Context, tenantID, legalEntityID int64) error {
	ok, err := s.entities.LegalEntityExists(ctx, tenantID, legalEntityID)
	if err != nil {
		return fmt.Errorf("failed to look up legal entity: %w", err)
	}
	if !ok {
		return Invalid("legal_entity_id", "legal entity %d not found for tenant", legalEntityID)
	}
	return nil
}
