package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/fleetyard/shipcm/pkg/constants"
)

type Role string

const (
	RoleAdministrator Role = "administrator"
	RoleRequester     Role = "requester"
)

// Actor is the authenticated user performing a workflow operation. Identity is
// always passed explicitly into service calls; nothing reads it from ambient
// state.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

func (a Actor) Admin() bool {
	return a.Role == RoleAdministrator
}

func (a Actor) Resolved() bool {
	return a.ID != uuid.Nil
}

// IdentityProvider resolves the acting user. Identity is authoritative: when
// it cannot be resolved the whole operation fails.
type IdentityProvider interface {
	CurrentActor(ctx context.Context) (Actor, error)
}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, constants.ActorKey, actor)
}

// ContextIdentityProvider reads the actor placed in the context by the
// identity middleware.
type ContextIdentityProvider struct{}

func (ContextIdentityProvider) CurrentActor(ctx context.Context) (Actor, error) {
	actor, ok := ctx.Value(constants.ActorKey).(Actor)
	if !ok || !actor.Resolved() {
		return Actor{}, permissionDeniedError("-", "resolve identity", "no authenticated user in context")
	}
	return actor, nil
}
