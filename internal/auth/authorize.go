package auth

// Principal is the authenticated actor performing an operation. Credential
// issuance and verification live with the external auth collaborator; the
// ledger core only sees the resolved identity and role.
type Principal struct {
	ID   string
	Role Role
}

// Allowed reports whether the principal's role grants the permission.
func (p Principal) Allowed(perm string) bool {
	for _, granted := range rolePermissions[p.Role] {
		if granted == perm {
			return true
		}
	}
	return false
}

// Authorize is the single access-control gate. It fails closed: an unknown
// role holds no permissions.
func Authorize(p Principal, perm string) error {
	if !p.Allowed(perm) {
		return ErrPermissionDenied
	}
	return nil
}
