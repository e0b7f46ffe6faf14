package httpapi

import (
	"context"
	"errors"
	"net/http"

	"auth_expiry_notifier/internal/domain/apikey"
	"auth_expiry_notifier/internal/domain/errs"
)

type contextKeyAPIUser struct{}

// APIUserFrom returns the name of the authenticated API user, if any.
func APIUserFrom(ctx context.Context) string {
	name, _ := ctx.Value(contextKeyAPIUser{}).(string)
	return name
}

// requireAPIKey accepts requests whose key hash is in the key store.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(s.cfg.APIKeyHeader)
		if key == "" {
			w.Header().Set("WWW-Authenticate", "API-Key")
			writeError(w, http.StatusUnauthorized, "unauthorized", "API key required")
			return
		}

		user, err := s.keys.GetByKeyHash(r.Context(), apikey.HashKey(key))
		if err != nil {
			w.Header().Set("WWW-Authenticate", "API-Key")
			if errors.Is(err, errs.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid API key")
				return
			}
			s.logger.WithError(err).Error("API key validation failed")
			writeError(w, http.StatusServiceUnavailable, "unavailable", "Authentication unavailable")
			return
		}

		ctx := context.WithValue(r.Context(), contextKeyAPIUser{}, user.Name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
