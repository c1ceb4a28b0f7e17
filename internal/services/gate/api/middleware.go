package api

import (
	"context"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/stonevault/gate/internal/platform/errors"
)

// tracerName identifies the gate's spans in the trace backend.
const tracerName = "github.com/stonevault/gate"

// Identity is what a protected route learns about the caller from a
// validated ticket.
type Identity struct {
	ProductUserID string
	DisplayName   string
	Channel       string
}

type identityContextKey struct{}

// IdentityFromContext returns the ticket identity attached by requireTicket.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(Identity)
	return identity, ok
}

// withSpan wraps a handler in a server span named after the route.
func withSpan(name string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := otel.Tracer(tracerName).Start(r.Context(), name,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", name),
			),
		)
		defer span.End()
		handler(w, r.WithContext(ctx))
	}
}

// bearerToken extracts the credential from an Authorization header.
func bearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return ""
	}
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

// requireTicket validates the bearer ticket and attaches the caller's
// identity to the request context. Failures are uniform: the response never
// reveals which verification step rejected the ticket.
func (s *Server) requireTicket(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.tickets.Validate(r.Context(), bearerToken(r))
		if err != nil {
			if apperrors.CodeOf(err) == apperrors.CodeGateNotConfigured {
				writeNotConfigured(w)
				return
			}
			writeUnauthorized(w)
			return
		}
		identity := Identity{
			ProductUserID: claims.ProductUserID,
			DisplayName:   claims.DisplayName,
			Channel:       claims.Channel,
		}
		ctx := context.WithValue(r.Context(), identityContextKey{}, identity)
		handler(w, r.WithContext(ctx))
	}
}
