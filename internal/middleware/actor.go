package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// ActorHeader names the display name of the user performing a request. There
// is no authentication; the header is trusted as given.
const ActorHeader = "X-Actor"

// DefaultActor is recorded when a request carries no actor header.
const DefaultActor = "Current User"

const maxActorLength = 128

type actorContextKey struct{}

// ActorFromContext returns the actor attached by HTTPActor.
func ActorFromContext(ctx context.Context) (string, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(string)
	return actor, ok
}

// NewContextWithActor attaches actor to ctx.
func NewContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// HTTPActor resolves the acting user for each request from the X-Actor
// header, falling back to fallback (or DefaultActor when fallback is blank).
// The request-scoped logger gains an "actor" attribute.
func HTTPActor(fallback string) func(http.Handler) http.Handler {
	fallback = strings.TrimSpace(fallback)
	if fallback == "" {
		fallback = DefaultActor
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := strings.TrimSpace(r.Header.Get(ActorHeader))
			if actor == "" || len(actor) > maxActorLength {
				actor = fallback
			}
			ctx := NewContextWithActor(r.Context(), actor)
			ctx = context.WithValue(ctx, loggerKey, LoggerFromContext(ctx).With(slog.String("actor", actor)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
