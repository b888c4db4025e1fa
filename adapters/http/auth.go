package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/artpar/usagebill/adapters/metrics"
	"github.com/artpar/usagebill/app"
	"github.com/artpar/usagebill/domain/key"
	"github.com/artpar/usagebill/pkg/jsonapi"
)

// Authenticator resolves a raw API key to its stored record.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (key.Key, error)
}

type keyContextKey struct{}

// KeyFromContext returns the API key attached by RequireAPIKey.
func KeyFromContext(ctx context.Context) (key.Key, bool) {
	k, ok := ctx.Value(keyContextKey{}).(key.Key)
	return k, ok
}

// WithKey attaches an authenticated key to ctx.
func WithKey(ctx context.Context, k key.Key) context.Context {
	return context.WithValue(ctx, keyContextKey{}, k)
}

// RequireAPIKey authenticates every request and rejects it with 401 when the
// key is missing or invalid. m may be nil.
func RequireAPIKey(auth Authenticator, m *metrics.Collector, logger zerolog.Logger) func(http.Handler) http.Handler {
	fail := func(w http.ResponseWriter, reason, detail string) {
		if m != nil {
			m.AuthFailures.WithLabelValues(reason).Inc()
		}
		jsonapi.WriteError(w, jsonapi.ErrUnauthorized(reason, detail))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractAPIKey(r)
			if raw == "" {
				fail(w, "missing_api_key", "Provide an API key in X-API-Key or Authorization: Bearer")
				return
			}

			k, err := auth.Authenticate(r.Context(), raw)
			if err != nil {
				var authErr *app.AuthError
				if errors.As(err, &authErr) {
					fail(w, authErr.Reason, "The provided API key is invalid")
					return
				}
				logger.Error().Err(err).Msg("api key lookup failed")
				jsonapi.WriteError(w, jsonapi.ErrServiceUnavailable("key store unavailable"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithKey(r.Context(), k)))
		})
	}
}

// extractAPIKey extracts the API key from the request.
// Supports: Authorization header (Bearer token), X-API-Key header, api_key query param.
func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer ")
		}
	}

	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}

	if key := r.URL.Query().Get("api_key"); key != "" {
		return key
	}

	return ""
}
