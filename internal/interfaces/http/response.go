package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"bankfeed/internal/domain/accountlink"
	"bankfeed/internal/domain/connector"
	"bankfeed/internal/domain/provider"
	"bankfeed/internal/domain/syncrun"
	"bankfeed/internal/shared/auth"
)

type errorResponse struct {
	Error          string `json:"error"`
	Field          string `json:"field,omitempty"`
	Provider       string `json:"provider,omitempty"`
	ProviderStatus int    `json:"provider_status,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps service errors onto HTTP statuses. Unclassified
// errors are logged and hidden behind a 500.
func writeDomainError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		verr *connector.ValidationError
		perr *provider.Error
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Field: verr.Field})
	case errors.Is(err, connector.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, connector.ErrNotFound), errors.Is(err, syncrun.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, connector.ErrDuplicateCode), errors.Is(err, connector.ErrDisabled):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, provider.ErrUnknownProvider):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, accountlink.ErrBankAccountNotFound):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Field: "bank_account_id"})
	case errors.As(err, &perr):
		writeJSON(w, http.StatusBadGateway, errorResponse{
			Error:          perr.Error(),
			Provider:       perr.Provider,
			ProviderStatus: perr.StatusCode,
		})
	default:
		logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeJSON reads an optional JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return connector.Invalid("", "request body too large")
		}
		return connector.Invalid("", "invalid JSON body: %v", err)
	}
	return nil
}

func principal(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	return p, true
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, connector.Invalid(key, "must be an integer")
	}
	return n, nil
}

func queryInt64(r *http.Request, key string) (*int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, connector.Invalid(key, "must be an integer")
	}
	return &n, nil
}

// HandleHealth is the liveness probe.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
