package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
)

// Identity headers set by the upstream auth gateway.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

type actorKey struct{}

// Actor reads the caller's identity headers and stores a domain.Actor in the
// request context. A missing or malformed X-User-ID leaves the request
// anonymous; handlers that need a caller reject it. Only the admin role is
// honoured from the header; the system role is never accepted from outside.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(strings.TrimSpace(r.Header.Get(HeaderUserID)))
		if err != nil || id == uuid.Nil {
			next.ServeHTTP(w, r)
			return
		}
		actor := domain.UserActor(id)
		if strings.EqualFold(strings.TrimSpace(r.Header.Get(HeaderUserRole)), string(domain.RoleAdmin)) {
			actor.Role = domain.RoleAdmin
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// WithActor returns a copy of ctx carrying actor.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor stored by Actor, if any.
func ActorFrom(ctx context.Context) (domain.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(domain.Actor)
	return a, ok
}
