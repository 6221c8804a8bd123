package domain

import "github.com/google/uuid"

// Role distinguishes regular users from operators and internal callers.
type Role string

const (
	RoleUser   Role = "user"
	RoleAdmin  Role = "admin"
	RoleSystem Role = "system"
)

// Actor identifies who is driving an operation. Identity is asserted by the
// upstream auth gateway; this service trusts it.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// SystemActor is the actor used for provider-driven transitions such as
// webhook cancellations.
var SystemActor = Actor{Role: RoleSystem}

// UserActor returns a regular user actor.
func UserActor(id uuid.UUID) Actor {
	return Actor{ID: id, Role: RoleUser}
}

// IsSystem reports whether the actor is the internal system actor.
func (a Actor) IsSystem() bool { return a.Role == RoleSystem }

// IsAdmin reports whether the actor is an operator.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// String renders the actor for history notes and logs.
func (a Actor) String() string {
	if a.IsSystem() {
		return "system"
	}
	return string(a.Role) + ":" + a.ID.String()
}
