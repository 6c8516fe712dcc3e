package connector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockRepository is a mock implementation of Repository interface
type MockRepository struct {
	CreateFunc        func(ctx context.Context, c *Connector) (*Connector, error)
	GetByIDFunc       func(ctx context.Context, tenantID int64, id string) (*Connector, error)
	ExistsByCodeFunc  func(ctx context.Context, tenantID int64, code string) (bool, error)
	ListFunc          func(ctx context.Context, filter ListFilter) ([]*Connector, int, error)
	UpdateFunc        func(ctx context.Context, c *Connector) (*Connector, error)
	SaveSyncStateFunc func(ctx context.Context, c *Connector, loaded Status) error
	ListDueFunc       func(ctx context.Context, filter DueFilter) ([]*Connector, error)
}

func (m *MockRepository) Create(ctx context.Context, c *Connector) (*Connector, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, c)
	}
	return c, nil
}

func (m *MockRepository) GetByID(ctx context.Context, tenantID int64, id string) (*Connector, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, tenantID, id)
	}
	return nil, ErrNotFound
}

func (m *MockRepository) ExistsByCode(ctx context.Context, tenantID int64, code string) (bool, error) {
	if m.ExistsByCodeFunc != nil {
		return m.ExistsByCodeFunc(ctx, tenantID, code)
	}
	return false, nil
}

func (m *MockRepository) List(ctx context.Context, filter ListFilter) ([]*Connector, int, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, filter)
	}
	return nil, 0, nil
}

func (m *MockRepository) Update(ctx context.Context, c *Connector) (*Connector, error) {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, c)
	}
	return c, nil
}

func (m *MockRepository) SaveSyncState(ctx context.Context, c *Connector, loaded Status) error {
	if m.SaveSyncStateFunc != nil {
		return m.SaveSyncStateFunc(ctx, c, loaded)
	}
	return nil
}

func (m *MockRepository) ListDue(ctx context.Context, filter DueFilter) ([]*Connector, error) {
	if m.ListDueFunc != nil {
		return m.ListDueFunc(ctx, filter)
	}
	return nil, nil
}

type stubEntities map[int64]bool

func (s stubEntities) LegalEntityExists(_ context.Context, _ int64, id int64) (bool, error) {
	return s[id], nil
}

type stubCatalog []string

func (s stubCatalog) Has(code string) bool {
	for _, c := range s {
		if c == code {
			return true
		}
	}
	return false
}

// plainVault records what it was asked to seal and produces a readable fake envelope.
type plainVault struct {
	sealed []map[string]string
}

func (v *plainVault) Encrypt(plain map[string]string) (Envelope, error) {
	v.sealed = append(v.sealed, plain)
	return Envelope{Ciphertext: "sealed", KID: "k1"}, nil
}

func (v *plainVault) Decrypt(env Envelope) (map[string]string, error) {
	if len(v.sealed) == 0 {
		return nil, errors.New("nothing sealed")
	}
	return v.sealed[len(v.sealed)-1], nil
}

func (v *plainVault) Serialize(env Envelope) (string, error) {
	return env.KID + ":" + env.Ciphertext, nil
}

func (v *plainVault) Parse(text string) *Envelope {
	if text != "k1:sealed" {
		return nil
	}
	return &Envelope{Ciphertext: "sealed", KID: "k1"}
}

func newTestService(repo *MockRepository, vault *plainVault) *Service {
	svc := NewService(repo, stubEntities{2: true}, stubCatalog{"REST_JSON", "OPEN_FINANCE"}, vault)
	svc.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC) }
	return svc
}

func TestCreateConnector(t *testing.T) {
	ctx := context.Background()
	userID := int64(9)

	base := func() CreateParams {
		return CreateParams{
			TenantID:      1,
			LegalEntityID: 2,
			Code:          "main-bank",
			Name:          "Main bank",
			ProviderCode:  "rest_json",
			Type:          TypeAPI,
			Credentials:   map[string]string{"token": "secret"},
			UserID:        &userID,
		}
	}

	tests := []struct {
		name    string
		params  func() CreateParams
		mock    func() *MockRepository
		wantErr error
		check   func(t *testing.T, c *Connector, vault *plainVault)
	}{
		{
			name:   "Success seals credentials and defaults",
			params: base,
			mock:   func() *MockRepository { return &MockRepository{} },
			check: func(t *testing.T, c *Connector, vault *plainVault) {
				assert.Equal(t, "MAIN-BANK", c.Code)
				assert.Equal(t, StatusDraft, c.Status)
				assert.Equal(t, SyncModeManual, c.SyncMode)
				assert.Equal(t, "k1:sealed", c.Credentials)
				assert.Equal(t, "k1", c.CredentialsKeyVersion)
				assert.True(t, c.HasCredentials())
				assert.Equal(t, &userID, c.UpdatedByUserID)
				require.Len(t, vault.sealed, 1)
				assert.Equal(t, "secret", vault.sealed[0]["token"])
			},
		},
		{
			name: "Empty credentials are not sealed",
			params: func() CreateParams {
				p := base()
				p.Credentials = nil
				return p
			},
			mock: func() *MockRepository { return &MockRepository{} },
			check: func(t *testing.T, c *Connector, vault *plainVault) {
				assert.False(t, c.HasCredentials())
				assert.Empty(t, vault.sealed)
			},
		},
		{
			name: "Scheduled connector is due immediately",
			params: func() CreateParams {
				p := base()
				p.SyncMode = SyncModeScheduled
				p.SyncFrequencyMinutes = intPtr(60)
				return p
			},
			mock: func() *MockRepository { return &MockRepository{} },
			check: func(t *testing.T, c *Connector, _ *plainVault) {
				require.NotNil(t, c.NextSyncAt)
				assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC), *c.NextSyncAt)
			},
		},
		{
			name: "Unknown legal entity",
			params: func() CreateParams {
				p := base()
				p.LegalEntityID = 3
				return p
			},
			mock:    func() *MockRepository { return &MockRepository{} },
			wantErr: ErrValidation,
		},
		{
			name: "Unknown provider",
			params: func() CreateParams {
				p := base()
				p.ProviderCode = "CARRIER_PIGEON"
				return p
			},
			mock:    func() *MockRepository { return &MockRepository{} },
			wantErr: ErrValidation,
		},
		{
			name:   "Duplicate code",
			params: base,
			mock: func() *MockRepository {
				return &MockRepository{
					ExistsByCodeFunc: func(ctx context.Context, tenantID int64, code string) (bool, error) {
						return code == "MAIN-BANK", nil
					},
				}
			},
			wantErr: ErrDuplicateCode,
		},
		{
			name:   "Duplicate code lost at insert",
			params: base,
			mock: func() *MockRepository {
				return &MockRepository{
					CreateFunc: func(ctx context.Context, c *Connector) (*Connector, error) {
						return nil, ErrDuplicateCode
					},
				}
			},
			wantErr: ErrDuplicateCode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vault := &plainVault{}
			svc := newTestService(tt.mock(), vault)

			c, err := svc.CreateConnector(ctx, tt.params())
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, c)
				return
			}
			require.NoError(t, err)
			tt.check(t, c, vault)
		})
	}
}

func TestUpdateConnector(t *testing.T) {
	ctx := context.Background()
	userID := int64(4)

	existing := func() *Connector {
		return &Connector{
			ID:                    "c-1",
			TenantID:              1,
			LegalEntityID:         2,
			Code:                  "MAIN-BANK",
			Name:                  "Main bank",
			ProviderCode:          "REST_JSON",
			Type:                  TypeAPI,
			Status:                StatusActive,
			SyncMode:              SyncModeManual,
			Config:                map[string]any{"base_url": "https://old"},
			Credentials:           "k1:sealed",
			CredentialsKeyVersion: "k1",
		}
	}
	repoWith := func(c *Connector) *MockRepository {
		return &MockRepository{
			GetByIDFunc: func(ctx context.Context, tenantID int64, id string) (*Connector, error) {
				if tenantID == c.TenantID && id == c.ID {
					return c, nil
				}
				return nil, ErrNotFound
			},
		}
	}

	t.Run("only present fields change", func(t *testing.T) {
		svc := newTestService(repoWith(existing()), &plainVault{})
		name := "Renamed"

		c, err := svc.UpdateConnector(ctx, 1, "c-1", UpdateParams{Name: &name, UserID: &userID})
		require.NoError(t, err)
		assert.Equal(t, "Renamed", c.Name)
		assert.Equal(t, "https://old", c.Config["base_url"])
		assert.Equal(t, "k1:sealed", c.Credentials)
		assert.Equal(t, &userID, c.UpdatedByUserID)
	})

	t.Run("credentials are replaced wholesale", func(t *testing.T) {
		vault := &plainVault{}
		svc := newTestService(repoWith(existing()), vault)

		_, err := svc.UpdateConnector(ctx, 1, "c-1", UpdateParams{
			Credentials:        map[string]string{"api_key": "new"},
			ReplaceCredentials: true,
		})
		require.NoError(t, err)
		require.Len(t, vault.sealed, 1)
		assert.Equal(t, map[string]string{"api_key": "new"}, vault.sealed[0])
	})

	t.Run("empty credentials clear the envelope", func(t *testing.T) {
		svc := newTestService(repoWith(existing()), &plainVault{})

		c, err := svc.UpdateConnector(ctx, 1, "c-1", UpdateParams{ReplaceCredentials: true})
		require.NoError(t, err)
		assert.False(t, c.HasCredentials())
		assert.Empty(t, c.CredentialsKeyVersion)
	})

	t.Run("disabled is a dead end", func(t *testing.T) {
		c := existing()
		c.Status = StatusDisabled
		svc := newTestService(repoWith(c), &plainVault{})

		_, err := svc.UpdateConnector(ctx, 1, "c-1", UpdateParams{Status: statusPtr(StatusActive)})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("draft cannot be activated by hand", func(t *testing.T) {
		c := existing()
		c.Status = StatusDraft
		svc := newTestService(repoWith(c), &plainVault{})

		_, err := svc.UpdateConnector(ctx, 1, "c-1", UpdateParams{Status: statusPtr(StatusActive)})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("switching to scheduled requires frequency", func(t *testing.T) {
		svc := newTestService(repoWith(existing()), &plainVault{})
		mode := SyncModeScheduled

		_, err := svc.UpdateConnector(ctx, 1, "c-1", UpdateParams{SyncMode: &mode})
		assert.ErrorIs(t, err, ErrValidation)

		c, err := svc.UpdateConnector(ctx, 1, "c-1", UpdateParams{SyncMode: &mode, SyncFrequencyMinutes: intPtr(30)})
		require.NoError(t, err)
		require.NotNil(t, c.NextSyncAt)
	})

	t.Run("unknown connector", func(t *testing.T) {
		svc := newTestService(repoWith(existing()), &plainVault{})

		_, err := svc.UpdateConnector(ctx, 2, "c-1", UpdateParams{})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestOpenCredentials(t *testing.T) {
	vault := &plainVault{sealed: []map[string]string{{"token": "t"}}}

	plain, err := OpenCredentials(vault, &Connector{})
	require.NoError(t, err)
	assert.Empty(t, plain)

	plain, err = OpenCredentials(vault, &Connector{Credentials: "k1:sealed"})
	require.NoError(t, err)
	assert.Equal(t, "t", plain["token"])

	_, err = OpenCredentials(vault, &Connector{Credentials: "garbage"})
	assert.Error(t, err)
}
