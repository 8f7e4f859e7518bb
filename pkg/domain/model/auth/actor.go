package auth

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/types"
)

// Actor is the authenticated principal performing an operation
type Actor struct {
	ID   types.UserID
	Role types.Role
}

// Validate checks that the actor is usable for authorization
func (a Actor) Validate() error {
	if err := a.ID.Validate(); err != nil {
		return goerr.Wrap(err, "invalid actor ID")
	}
	if !a.Role.IsValid() {
		return goerr.New("invalid actor role", goerr.V("role", a.Role))
	}
	return nil
}

type ctxActorKey struct{}

// ContextWithActor stores the actor in ctx
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, ctxActorKey{}, actor)
}

// ActorFromContext returns the actor stored in ctx
func ActorFromContext(ctx context.Context) (Actor, error) {
	actor, ok := ctx.Value(ctxActorKey{}).(Actor)
	if !ok {
		return Actor{}, goerr.New("actor not found in context")
	}
	return actor, nil
}

// Token is a signed bearer token issued to an authenticated user
type Token struct {
	Value     string       `json:"token"`
	UserID    types.UserID `json:"user_id"`
	Role      types.Role   `json:"role"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// Actor returns the principal the token was issued to
func (t *Token) Actor() Actor {
	return Actor{ID: t.UserID, Role: t.Role}
}
