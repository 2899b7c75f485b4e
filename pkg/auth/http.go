package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// HeaderAuthorization carries the bearer token.
const HeaderAuthorization = "Authorization"

// QueryToken is the query parameter checked when no Authorization header
// is present. Browsers cannot set headers on WebSocket upgrades.
const QueryToken = "token"

const bearerPrefix = "Bearer "

// ExtractBearerToken returns the token from an Authorization header value,
// matching the "Bearer " prefix case-insensitively.
func ExtractBearerToken(header string) string {
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return header[len(bearerPrefix):]
}

// HTTPMiddleware validates the request's session token and stores the
// identity in the request context. Requests without a valid token get 401.
func HTTPMiddleware(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractBearerToken(r.Header.Get(HeaderAuthorization))
			if token == "" {
				token = r.URL.Query().Get(QueryToken)
			}
			if token == "" {
				http.Error(w, "missing session token", http.StatusUnauthorized)
				return
			}

			ctx := r.Context()
			identity, err := validator.Validate(ctx, token)
			if err != nil {
				logger.DebugContext(ctx, "auth: rejected session token", "error", err)
				http.Error(w, "session token validation failed", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(ctx, identity)))
		})
	}
}
