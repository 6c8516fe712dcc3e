package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"bankfeed/internal/domain/banksync"
	"bankfeed/internal/domain/connector"
	"bankfeed/internal/domain/provider"
	"bankfeed/internal/domain/statement"
	"bankfeed/internal/domain/syncrun"
)

// SyncService is the sync orchestrator as the handlers use it.
type SyncService interface {
	RunStatementSync(ctx context.Context, tenantID int64, connectorID string, opts banksync.SyncOptions) (*banksync.SyncResult, error)
	TestConnection(ctx context.Context, tenantID int64, connectorID string) (*provider.TestResult, error)
	ListSyncRuns(ctx context.Context, filter syncrun.ListFilter) ([]*syncrun.Run, error)
	GetSyncRun(ctx context.Context, tenantID int64, runID string) (*syncrun.Run, []*syncrun.Import, error)
}

// DueSyncer runs a due-connector sweep.
type DueSyncer interface {
	SyncDueConnectors(ctx context.Context, opts banksync.DueOptions) (*banksync.DueReport, error)
}

// SyncHandler serves statement sync, run history, and connection tests.
type SyncHandler struct {
	syncs  SyncService
	due    DueSyncer
	logger *zap.Logger
}

func NewSyncHandler(syncs SyncService, due DueSyncer, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{
		syncs:  syncs,
		due:    due,
		logger: logger.With(zap.String("component", "http.sync")),
	}
}

type SyncRequest struct {
	FromDate  string `json:"from_date"`
	ToDate    string `json:"to_date"`
	RequestID string `json:"request_id"`
	ForceFull bool   `json:"force_full"`
}

type SyncResponse struct {
	Connector  ConnectorResponse `json:"connector"`
	SyncRun    *syncrun.Run      `json:"sync_run"`
	Imports    []*syncrun.Import `json:"imports"`
	Idempotent bool              `json:"idempotent"`
}

type DueRequest struct {
	Limit int `json:"limit"`
}

// HandleSync handles POST /api/connectors/{id}/sync. A new run answers 201,
// a replayed request id answers 200 with the original run.
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req SyncRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	userID := p.UserID
	opts := banksync.SyncOptions{
		RequestID: req.RequestID,
		ForceFull: req.ForceFull,
		UserID:    &userID,
	}
	var err error
	if opts.FromDate, err = parseDateField("from_date", req.FromDate); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if opts.ToDate, err = parseDateField("to_date", req.ToDate); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	res, err := h.syncs.RunStatementSync(r.Context(), p.TenantID, r.PathValue("id"), opts)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	status := http.StatusCreated
	if res.Idempotent {
		status = http.StatusOK
	}
	imports := res.Imports
	if imports == nil {
		imports = []*syncrun.Import{}
	}
	writeJSON(w, status, SyncResponse{
		Connector:  toConnectorResponse(res.Connector),
		SyncRun:    res.Run,
		Imports:    imports,
		Idempotent: res.Idempotent,
	})
}

// HandleTestConnection handles POST /api/connectors/{id}/test.
func (h *SyncHandler) HandleTestConnection(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	res, err := h.syncs.TestConnection(r.Context(), p.TenantID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleListRuns handles GET /api/connectors/{id}/sync-runs.
func (h *SyncHandler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	filter := syncrun.ListFilter{TenantID: p.TenantID, ConnectorID: r.PathValue("id")}
	var err error
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if s := strings.TrimSpace(r.URL.Query().Get("status")); s != "" {
		status := syncrun.Status(strings.ToUpper(s))
		filter.Status = &status
	}

	runs, err := h.syncs.ListSyncRuns(r.Context(), filter)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if runs == nil {
		runs = []*syncrun.Run{}
	}

	filter.Normalize()
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  runs,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// HandleGetRun handles GET /api/sync-runs/{id}.
func (h *SyncHandler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	run, imports, err := h.syncs.GetSyncRun(r.Context(), p.TenantID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if imports == nil {
		imports = []*syncrun.Import{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sync_run": run, "imports": imports})
}

// HandleSyncDue handles POST /api/sync/due for the caller's tenant.
func (h *SyncHandler) HandleSyncDue(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req DueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if req.Limit < 0 {
		writeDomainError(w, h.logger, connector.Invalid("limit", "must not be negative"))
		return
	}

	tenantID := p.TenantID
	report, err := h.due.SyncDueConnectors(r.Context(), banksync.DueOptions{TenantID: &tenantID, Limit: req.Limit})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func parseDateField(field, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	d, err := statement.ParseDate(value)
	if err != nil {
		return nil, connector.Invalid(field, "must be a YYYY-MM-DD date")
	}
	return &d, nil
}
