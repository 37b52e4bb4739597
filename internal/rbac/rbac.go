package rbac

type Role string
type Action string

// Roles carried in the identity provider's access token.
const (
	RoleAnon          Role = "anon"
	RoleAuthenticated Role = "authenticated"
	RoleService       Role = "service_role"
)

const (
	ActionRead     Action = "read"
	ActionGenerate Action = "generate"
	ActionDelete   Action = "delete"
	ActionExport   Action = "export"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleService:
		return true
	case RoleAuthenticated:
		return action == ActionRead || action == ActionGenerate || action == ActionDelete || action == ActionExport
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleAnon, RoleAuthenticated, RoleService:
		return Role(role)
	case "":
		// Tokens verified remotely may omit the claim; the provider only
		// returns users for signed-in sessions.
		return RoleAuthenticated
	default:
		return RoleAnon
	}
}
