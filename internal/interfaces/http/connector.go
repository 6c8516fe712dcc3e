package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"bankfeed/internal/domain/accountlink"
	"bankfeed/internal/domain/connector"
)

// ConnectorService is the connector registry as the handlers use it.
type ConnectorService interface {
	CreateConnector(ctx context.Context, params connector.CreateParams) (*connector.Connector, error)
	GetConnector(ctx context.Context, tenantID int64, id string) (*connector.Connector, error)
	ListConnectors(ctx context.Context, filter connector.ListFilter) ([]*connector.Connector, int, error)
	UpdateConnector(ctx context.Context, tenantID int64, id string, params connector.UpdateParams) (*connector.Connector, error)
}

// LinkService is the account link registry as the handlers use it.
type LinkService interface {
	UpsertLink(ctx context.Context, params accountlink.UpsertParams) (*accountlink.Link, error)
	ListLinks(ctx context.Context, tenantID int64, connectorID string) ([]*accountlink.Link, error)
}

// ConnectorHandler serves connector and account link management.
type ConnectorHandler struct {
	connectors ConnectorService
	links      LinkService
	logger     *zap.Logger
}

func NewConnectorHandler(connectors ConnectorService, links LinkService, logger *zap.Logger) *ConnectorHandler {
	return &ConnectorHandler{
		connectors: connectors,
		links:      links,
		logger:     logger.With(zap.String("component", "http.connectors")),
	}
}

// ConnectorResponse is the public read model. Credentials are reduced to a flag.
type ConnectorResponse struct {
	*connector.Connector
	HasCredentials bool `json:"has_credentials"`
}

func toConnectorResponse(c *connector.Connector) ConnectorResponse {
	return ConnectorResponse{Connector: c, HasCredentials: c.HasCredentials()}
}

type CreateConnectorRequest struct {
	LegalEntityID        int64              `json:"legal_entity_id"`
	ConnectorCode        string             `json:"connector_code"`
	ConnectorName        string             `json:"connector_name"`
	ProviderCode         string             `json:"provider_code"`
	ConnectorType        connector.Type     `json:"connector_type"`
	Status               connector.Status   `json:"status"`
	AdapterVersion       string             `json:"adapter_version"`
	Config               map[string]any     `json:"config"`
	Credentials          map[string]string  `json:"credentials"`
	SyncMode             connector.SyncMode `json:"sync_mode"`
	SyncFrequencyMinutes *int               `json:"sync_frequency_minutes"`
	NextSyncAt           *time.Time         `json:"next_sync_at"`
}

// UpdateConnectorRequest is a partial update. A present "credentials" key
// replaces the stored secret; null or {} clears it.
type UpdateConnectorRequest struct {
	ConnectorCode        *string             `json:"connector_code"`
	ConnectorName        *string             `json:"connector_name"`
	ProviderCode         *string             `json:"provider_code"`
	ConnectorType        *connector.Type     `json:"connector_type"`
	Status               *connector.Status   `json:"status"`
	AdapterVersion       *string             `json:"adapter_version"`
	Config               map[string]any      `json:"config"`
	Credentials          json.RawMessage     `json:"credentials"`
	SyncMode             *connector.SyncMode `json:"sync_mode"`
	SyncFrequencyMinutes *int                `json:"sync_frequency_minutes"`
	NextSyncAt           *time.Time          `json:"next_sync_at"`
}

type UpsertLinkRequest struct {
	ExternalAccountID   string             `json:"external_account_id"`
	ExternalAccountName string             `json:"external_account_name"`
	CurrencyCode        string             `json:"currency_code"`
	BankAccountID       int64              `json:"bank_account_id"`
	Status              accountlink.Status `json:"status"`
}

type connectorListResponse struct {
	Items  []ConnectorResponse `json:"items"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// HandleCreate handles POST /api/connectors.
func (h *ConnectorHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req CreateConnectorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	userID := p.UserID
	c, err := h.connectors.CreateConnector(r.Context(), connector.CreateParams{
		TenantID:             p.TenantID,
		LegalEntityID:        req.LegalEntityID,
		Code:                 req.ConnectorCode,
		Name:                 req.ConnectorName,
		ProviderCode:         req.ProviderCode,
		Type:                 req.ConnectorType,
		Status:               req.Status,
		AdapterVersion:       req.AdapterVersion,
		Config:               req.Config,
		Credentials:          req.Credentials,
		SyncMode:             req.SyncMode,
		SyncFrequencyMinutes: req.SyncFrequencyMinutes,
		NextSyncAt:           req.NextSyncAt,
		UserID:               &userID,
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	h.logger.Info("Connector created",
		zap.Int64("tenant_id", c.TenantID),
		zap.String("connector_id", c.ID),
		zap.String("provider", c.ProviderCode),
	)
	writeJSON(w, http.StatusCreated, toConnectorResponse(c))
}

// HandleList handles GET /api/connectors.
func (h *ConnectorHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := connector.ListFilter{
		TenantID:     p.TenantID,
		ProviderCode: q.Get("provider_code"),
		Query:        q.Get("q"),
	}
	var err error
	if filter.LegalEntityID, err = queryInt64(r, "legal_entity_id"); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if s := strings.TrimSpace(q.Get("status")); s != "" {
		status := connector.Status(strings.ToUpper(s))
		filter.Status = &status
	}

	items, total, err := h.connectors.ListConnectors(r.Context(), filter)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	filter.Normalize()
	resp := connectorListResponse{
		Items:  make([]ConnectorResponse, 0, len(items)),
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}
	for _, c := range items {
		resp.Items = append(resp.Items, toConnectorResponse(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleGet handles GET /api/connectors/{id}.
func (h *ConnectorHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	c, err := h.connectors.GetConnector(r.Context(), p.TenantID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toConnectorResponse(c))
}

// HandleUpdate handles PATCH /api/connectors/{id}.
func (h *ConnectorHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req UpdateConnectorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	userID := p.UserID
	params := connector.UpdateParams{
		Code:                 req.ConnectorCode,
		Name:                 req.ConnectorName,
		ProviderCode:         req.ProviderCode,
		Type:                 req.ConnectorType,
		Status:               req.Status,
		AdapterVersion:       req.AdapterVersion,
		Config:               req.Config,
		SyncMode:             req.SyncMode,
		SyncFrequencyMinutes: req.SyncFrequencyMinutes,
		NextSyncAt:           req.NextSyncAt,
		UserID:               &userID,
	}
	if req.Credentials != nil {
		params.ReplaceCredentials = true
		if err := json.Unmarshal(req.Credentials, &params.Credentials); err != nil {
			writeDomainError(w, h.logger, connector.Invalid("credentials", "must be an object of strings"))
			return
		}
	}

	c, err := h.connectors.UpdateConnector(r.Context(), p.TenantID, r.PathValue("id"), params)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toConnectorResponse(c))
}

// HandleUpsertLink handles PUT /api/connectors/{id}/account-links.
func (h *ConnectorHandler) HandleUpsertLink(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req UpsertLinkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	userID := p.UserID
	link, err := h.links.UpsertLink(r.Context(), accountlink.UpsertParams{
		TenantID:            p.TenantID,
		ConnectorID:         r.PathValue("id"),
		ExternalAccountID:   req.ExternalAccountID,
		ExternalAccountName: req.ExternalAccountName,
		CurrencyCode:        req.CurrencyCode,
		BankAccountID:       req.BankAccountID,
		Status:              req.Status,
		UserID:              &userID,
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

// HandleListLinks handles GET /api/connectors/{id}/account-links.
func (h *ConnectorHandler) HandleListLinks(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	links, err := h.links.ListLinks(r.Context(), p.TenantID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if links == nil {
		links = []*accountlink.Link{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": links})
}
