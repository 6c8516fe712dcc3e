package http

import (
	"net/http"

	"bankfeed/internal/shared/middleware"
)

// RegisterRoutes mounts the API on mux. protect wraps every /api route,
// normally with authentication.
func RegisterRoutes(mux *http.ServeMux, connectors *ConnectorHandler, syncs *SyncHandler, protect func(http.Handler) http.Handler) {
	mux.HandleFunc("GET /health", HandleHealth)

	route := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, protect(middleware.Tracing(h)))
	}

	route("POST /api/connectors", connectors.HandleCreate)
	route("GET /api/connectors", connectors.HandleList)
	route("GET /api/connectors/{id}", connectors.HandleGet)
	route("PATCH /api/connectors/{id}", connectors.HandleUpdate)
	route("PUT /api/connectors/{id}/account-links", connectors.HandleUpsertLink)
	route("GET /api/connectors/{id}/account-links", connectors.HandleListLinks)

	route("POST /api/connectors/{id}/test", syncs.HandleTestConnection)
	route("POST /api/connectors/{id}/sync", syncs.HandleSync)
	route("GET /api/connectors/{id}/sync-runs", syncs.HandleListRuns)
	route("GET /api/sync-runs/{id}", syncs.HandleGetRun)
	route("POST /api/sync/due", syncs.HandleSyncDue)
}
