package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// AuthConfig maps API keys onto user IDs. The session machinery lives
// outside the core; keys are the contract the entry points see.
type AuthConfig struct {
	// APIKeys maps key -> user ID.
	APIKeys map[string]string
}

// Auth validates the Authorization header and stores the resolved User in
// the request context. Supported forms:
//
//	Authorization: Bearer <key>
//	Authorization: ApiKey <key>
//
// Unauthenticated requests receive 401 with a JSON body.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get(AuthorizationHeader)
			if header == "" {
				writeUnauthorized(w, "missing Authorization header")
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 {
				writeUnauthorized(w, "invalid Authorization header format")
				return
			}
			scheme, key := parts[0], parts[1]
			if !strings.EqualFold(scheme, "Bearer") && !strings.EqualFold(scheme, "ApiKey") {
				writeUnauthorized(w, "unsupported authorization scheme")
				return
			}

			userID, ok := cfg.APIKeys[key]
			if !ok {
				writeUnauthorized(w, "invalid credentials")
				return
			}

			user := &User{ID: userID, APIKey: key}
			ctx := context.WithValue(r.Context(), UserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"kind":    "authentication",
			"message": message,
		},
	})
}
