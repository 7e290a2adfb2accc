package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/micro-nova/simcontacts/internal/models"
)

const (
	apiKeyHeader     = "api-key"
	apiKeyQueryParam = "api-key"
)

// Middleware enforces API-key authentication. In open mode all requests
// pass through. Otherwise the api-key header or query parameter must match
// a configured key, and failures get a 401 JSON error.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || s.IsOpenMode() {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(apiKeyHeader)
		if key == "" {
			key = r.URL.Query().Get(apiKeyQueryParam)
		}
		if name, ok := s.VerifyKey(key); ok {
			slog.Debug("auth: request authorized", "key", name, "path", r.URL.Path)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(models.ErrUnauthorized.Status)
		_ = json.NewEncoder(w).Encode(models.ErrUnauthorized)
	})
}
