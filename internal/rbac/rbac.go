package rbac

type Role string
type Action string

const (
	RoleViewer  Role = "viewer"
	RolePartner Role = "partner"
	RoleAdmin   Role = "admin"
)

const (
	ActionRead   Action = "read"
	ActionVote   Action = "vote"
	ActionDecide Action = "decide"
	ActionAssign Action = "assign"
)

// Can reports whether role may perform action. Viewers only read; partners
// vote, advance, decide and track follow-up email; admins may do anything.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RolePartner:
		return action == ActionRead || action == ActionVote || action == ActionDecide || action == ActionAssign
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps a claim to a role. Tokens without a role are partners, since
// the identity provider only issues tokens to fund members; unknown roles are
// viewers.
func Normalize(role string) Role {
	switch Role(role) {
	case "":
		return RolePartner
	case RoleViewer, RolePartner, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
