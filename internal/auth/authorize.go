package auth

// Authorize is the global role check: p is permitted when its role is listed
// in required, whatever organization it belongs to. Admins always win.
// Organization-scoped operations use IsOrgAdminOrSelf instead.
func Authorize(p Principal, required ...Role) bool {
	if p.Role == RoleAdmin {
		return true
	}
	for _, r := range required {
		if r == p.Role {
			return true
		}
	}
	return false
}

// IsOrgAdminOrSelf reports whether p administers orgID: a global admin, or
// an editor of that same organization. Viewers never qualify.
func IsOrgAdminOrSelf(p Principal, orgID string) bool {
	if p.Role == RoleAdmin {
		return true
	}
	return p.Role == RoleEditor && orgID != "" && p.OrgID == orgID
}

// CanAssignRole reports whether p may create a user holding role.
func CanAssignRole(p Principal, role Role) bool {
	if role == RoleAdmin {
		return p.IsAdmin()
	}
	return role.Valid()
}
