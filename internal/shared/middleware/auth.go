package middleware

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"bankfeed/internal/shared/auth"
)

// Auth requires an "Authorization: Bearer <jwt>" header and stores the
// caller's principal in the request context.
func Auth(jwt *auth.JWT, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "authentication required")
				return
			}
			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				unauthorized(w, "invalid authorization header format")
				return
			}

			principal, err := jwt.Validate(strings.TrimSpace(token))
			if err != nil {
				logger.Debug("rejected bearer token", zap.String("path", r.URL.Path), zap.Error(err))
				unauthorized(w, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="bankfeed"`)
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
