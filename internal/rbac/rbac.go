// Package rbac holds the two-role permission matrix: admins define and manage
// forms, any authenticated user joins and edits via a share code.
package rbac

type Role string
type Action string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

const (
	ActionCreateForm Action = "create_form"
	ActionListForms  Action = "list_forms"
	ActionViewForm   Action = "view_form"
	ActionJoinForm   Action = "join_form"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleUser:
		return action == ActionJoinForm
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleUser, RoleAdmin:
		return Role(role)
	default:
		return RoleUser
	}
}

// Valid reports whether role is one of the registrable roles.
func Valid(role string) bool {
	return Role(role) == RoleUser || Role(role) == RoleAdmin
}
