package connector

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a connector.
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusActive   Status = "ACTIVE"
	StatusPaused   Status = "PAUSED"
	StatusError    Status = "ERROR"
	StatusDisabled Status = "DISABLED"
)

// Type is the integration channel a connector uses.
type Type string

const (
	TypeOpenBanking Type = "OPEN_BANKING"
	TypeHostToHost  Type = "HOST_TO_HOST"
	TypeSFTP        Type = "SFTP"
	TypeAPI         Type = "API"
)

// SyncMode decides whether the scheduler picks the connector up.
type SyncMode string

const (
	SyncModeManual    SyncMode = "MANUAL"
	SyncModeScheduled SyncMode = "SCHEDULED"
)

const (
	DefaultAdapterVersion = "v1"
	MaxFrequencyMinutes   = 7 * 24 * 60
	maxCodeLength         = 64
	maxErrorMessageLength = 1000
)

var (
	statuses = map[Status]struct{}{
		StatusDraft: {}, StatusActive: {}, StatusPaused: {}, StatusError: {}, StatusDisabled: {},
	}
	types = map[Type]struct{}{
		TypeOpenBanking: {}, TypeHostToHost: {}, TypeSFTP: {}, TypeAPI: {},
	}

	// Statuses an operator may move a connector into, keyed by the current one.
	// DRAFT->ACTIVE and ERROR->ACTIVE only happen through a successful run.
	manualTransitions = map[Status][]Status{
		StatusDraft:    {StatusDraft, StatusDisabled},
		StatusActive:   {StatusActive, StatusPaused, StatusDisabled},
		StatusPaused:   {StatusPaused, StatusActive, StatusDisabled},
		StatusError:    {StatusError, StatusPaused, StatusDisabled},
		StatusDisabled: {StatusDisabled},
	}
)

// Domain errors
var (
	ErrNotFound      = errors.New("connector not found")
	ErrDuplicateCode = errors.New("connector code already exists for tenant")
	ErrDisabled      = errors.New("connector is disabled")
	ErrValidation    = errors.New("validation failed")
)

// ValidationError describes a rejected input field. It matches ErrValidation
// under errors.Is so callers can classify without knowing the field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError for field.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Connector is a configured integration to one external bank or provider
// for one legal entity.
type Connector struct {
	ID                    string         `json:"id"`
	TenantID              int64          `json:"tenant_id"`
	LegalEntityID         int64          `json:"legal_entity_id"`
	Code                  string         `json:"connector_code"`
	Name                  string         `json:"connector_name"`
	ProviderCode          string         `json:"provider_code"`
	Type                  Type           `json:"connector_type"`
	Status                Status         `json:"status"`
	AdapterVersion        string         `json:"adapter_version"`
	Config                map[string]any `json:"config"`
	Credentials           string         `json:"-"` // serialized envelope, opaque outside the vault
	CredentialsKeyVersion string         `json:"credentials_key_version,omitempty"`
	SyncMode              SyncMode       `json:"sync_mode"`
	SyncFrequencyMinutes  *int           `json:"sync_frequency_minutes"`
	NextSyncAt            *time.Time     `json:"next_sync_at"`
	LastCursor            *string        `json:"last_cursor"`
	LastSyncAt            *time.Time     `json:"last_sync_at"`
	LastSuccessAt         *time.Time     `json:"last_success_at"`
	LastErrorAt           *time.Time     `json:"last_error_at"`
	LastErrorMessage      *string        `json:"last_error_message"`
	CreatedByUserID       *int64         `json:"created_by_user_id"`
	UpdatedByUserID       *int64         `json:"updated_by_user_id"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

// HasCredentials reports whether an encrypted credential envelope is stored.
func (c *Connector) HasCredentials() bool {
	return c.Credentials != ""
}

// CanTransitionTo reports whether an explicit update may move the connector
// from its current status to next.
func (c *Connector) CanTransitionTo(next Status) bool {
	for _, s := range manualTransitions[c.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// SyncOutcome is what a finished run reports back to its connector.
type SyncOutcome struct {
	Failed       bool
	CursorAfter  *string
	ErrorMessage string
	At           time.Time
}

// FinalizeSync applies the result of a sync run to the connector's health
// and scheduling fields. It is the only place those fields change after a run.
func (c *Connector) FinalizeSync(o SyncOutcome) {
	at := o.At.UTC()
	c.LastSyncAt = &at

	if o.Failed {
		c.LastErrorAt = &at
		msg := truncate(o.ErrorMessage, maxErrorMessageLength)
		c.LastErrorMessage = &msg
		if c.Status != StatusDisabled {
			c.Status = StatusError
		}
		// A failed run leaves the stored cursor where it was.
	} else {
		c.LastSuccessAt = &at
		c.LastCursor = o.CursorAfter
		if c.Status == StatusDraft || c.Status == StatusError {
			c.Status = StatusActive
		}
	}

	if c.SyncMode == SyncModeScheduled && c.SyncFrequencyMinutes != nil && *c.SyncFrequencyMinutes > 0 {
		next := at.Add(time.Duration(*c.SyncFrequencyMinutes) * time.Minute)
		c.NextSyncAt = &next
	}
}

// ResolveSyncStatus picks the status a finishing run may store. An operator
// who paused or disabled the connector while the run was in flight keeps
// that status; otherwise the run's proposed status wins.
func ResolveSyncStatus(stored, loaded, proposed Status) Status {
	if stored != loaded && (stored == StatusDisabled || stored == StatusPaused) {
		return stored
	}
	return proposed
}

// CreateParams contains parameters for creating a connector
type CreateParams struct {
	TenantID             int64
	LegalEntityID        int64
	Code                 string
	Name                 string
	ProviderCode         string
	Type                 Type
	Status               Status
	AdapterVersion       string
	Config               map[string]any
	Credentials          map[string]string
	SyncMode             SyncMode
	SyncFrequencyMinutes *int
	NextSyncAt           *time.Time
	UserID               *int64
}

// Normalize applies defaults and canonical casing.
func (p *CreateParams) Normalize() {
	p.Code = strings.ToUpper(strings.TrimSpace(p.Code))
	p.Name = strings.TrimSpace(p.Name)
	p.ProviderCode = strings.ToUpper(strings.TrimSpace(p.ProviderCode))
	if p.Status == "" {
		p.Status = StatusDraft
	}
	if p.SyncMode == "" {
		p.SyncMode = SyncModeManual
	}
	if p.AdapterVersion == "" {
		p.AdapterVersion = DefaultAdapterVersion
	}
	if p.Config == nil {
		p.Config = map[string]any{}
	}
}

// Validate validates the create parameters
func (p CreateParams) Validate() error {
	if p.TenantID <= 0 {
		return Invalid("tenant_id", "valid tenant ID is required")
	}
	if p.LegalEntityID <= 0 {
		return Invalid("legal_entity_id", "valid legal entity ID is required")
	}
	if p.Code == "" {
		return Invalid("connector_code", "connector code is required")
	}
	if len(p.Code) > maxCodeLength {
		return Invalid("connector_code", "must be at most %d characters", maxCodeLength)
	}
	if p.Name == "" {
		return Invalid("connector_name", "connector name is required")
	}
	if p.ProviderCode == "" {
		return Invalid("provider_code", "provider code is required")
	}
	if !IsValidType(p.Type) {
		return Invalid("connector_type", "unsupported connector type %q", p.Type)
	}
	if !IsValidStatus(p.Status) {
		return Invalid("status", "unsupported status %q", p.Status)
	}
	if p.Status != StatusDraft && p.Status != StatusDisabled {
		return Invalid("status", "new connectors start as DRAFT")
	}
	return validateSchedule(p.SyncMode, p.SyncFrequencyMinutes)
}

// UpdateParams contains parameters for a partial update. Nil fields are
// left untouched. Credentials, when present, replace the stored envelope
// wholesale; an empty map clears it.
type UpdateParams struct {
	Code                 *string
	Name                 *string
	ProviderCode         *string
	Type                 *Type
	Status               *Status
	AdapterVersion       *string
	Config               map[string]any
	Credentials          map[string]string
	ReplaceCredentials   bool
	SyncMode             *SyncMode
	SyncFrequencyMinutes *int
	NextSyncAt           *time.Time
	UserID               *int64
}

// ListFilter narrows a tenant's connectors.
type ListFilter struct {
	TenantID      int64
	LegalEntityID *int64
	Status        *Status
	ProviderCode  string
	Query         string
	Limit         int
	Offset        int
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
	f.ProviderCode = strings.ToUpper(strings.TrimSpace(f.ProviderCode))
	f.Query = strings.TrimSpace(f.Query)
}

// DueFilter selects scheduled connectors whose next run time has passed.
type DueFilter struct {
	TenantID *int64
	Now      time.Time
	Limit    int
}

// IsValidStatus checks if the provided status is known.
func IsValidStatus(s Status) bool {
	_, ok := statuses[s]
	return ok
}

// IsValidType checks if the provided connector type is known.
func IsValidType(t Type) bool {
	_, ok := types[t]
	return ok
}

func validateSchedule(mode SyncMode, freq *int) error {
	switch mode {
	case SyncModeManual:
		return nil
	case SyncModeScheduled:
		if freq == nil {
			return Invalid("sync_frequency_minutes", "required when sync_mode is SCHEDULED")
		}
		if *freq <= 0 || *freq > MaxFrequencyMinutes {
			return Invalid("sync_frequency_minutes", "must be between 1 and %d", MaxFrequencyMinutes)
		}
		return nil
	default:
		return Invalid("sync_mode", "unsupported sync mode %q", mode)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
