// Package middleware provides HTTP middleware components for the BeatGate gateway.
package middleware

import (
	"context"
	"net/http"

	"github.com/bgruszka/beatgate/internal/generator"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// ContextKeyRequestID is the key used to store the request ID in the request context.
const ContextKeyRequestID contextKey = "beatgate-request-id"

// RequestID ensures every request carries a request ID header, generating one
// when the client did not send it, and stores the ID in the request context.
func RequestID(header string, gen generator.Generator) func(http.Handler) http.Handler {
	header = http.CanonicalHeaderKey(header)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(header)
			if id == "" {
				id = gen.Generate()
				r.Header.Set(header, id)
			}

			next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
		})
	}
}

// WithRequestID returns a copy of ctx carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, id)
}

// RequestIDFromContext retrieves the request ID from ctx.
// Returns an empty string if none is set.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyRequestID).(string)
	return id
}
