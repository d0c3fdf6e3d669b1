package membership

import "context"

// RoleSet holds the externally configured Discord role ids. "Primary" is
// full access, "Pending" is the provisional role for lapsed subscriptions.
type RoleSet struct {
	Primary string
	Pending string
}

// RoleChange is the derived target mutation for one member. Empty fields
// mean no grant/revoke.
type RoleChange struct {
	Grant  string
	Revoke string
}

// IsNoop reports whether the change mutates nothing.
func (rc RoleChange) IsNoop() bool {
	return rc.Grant == "" && rc.Revoke == ""
}

// DeriveRoleChange maps a classification to the target role mutation.
// Unknown derives a no-op: an unrecognized status alone never touches
// roles.
func DeriveRoleChange(class Classification, roles RoleSet) RoleChange {
	switch class {
	case ClassActive:
		return RoleChange{Grant: roles.Primary, Revoke: roles.Pending}
	case ClassInactive:
		return RoleChange{Grant: roles.Pending, Revoke: roles.Primary}
	default:
		return RoleChange{}
	}
}

// AccessClient is the access-control boundary consumed by the service.
// Implemented by discord.Client.
type AccessClient interface {
	ExchangeCode(ctx context.Context, code string) (string, error)
	ResolveIdentity(ctx context.Context, accessToken string) (string, error)
	// AddGuildMember must treat "already a member" as success.
	AddGuildMember(ctx context.Context, userID, accessToken string) error
	GrantRole(ctx context.Context, userID, roleID string) error
	RevokeRole(ctx context.Context, userID, roleID string) error
}
