package auth

// Permission represents a named capability.
type Permission string

// Permission constants.
const (
	PermSiloRead       Permission = "silo:read"
	PermSiloManage     Permission = "silo:manage"
	PermGatewayOperate Permission = "gateway:operate"
	PermRelayAdmin     Permission = "relay:admin"
	PermUserManage     Permission = "user:manage"
)

// rolePermissions is the single source of truth for authorisation.
var rolePermissions = map[Role][]Permission{
	RoleOperator: {
		PermSiloRead,
		PermGatewayOperate,
	},
	RoleAdmin: {
		PermSiloRead,
		PermSiloManage,
		PermGatewayOperate,
		PermRelayAdmin,
		PermUserManage,
	},
}

// HasPermission returns true if role grants perm.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns a copy of the permissions granted to role, or
// nil for an unknown role.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}
