package domain

// Principal is the authenticated caller supplied by the authentication
// collaborator. Roles are role names as issued; the permission matrix decides
// what they mean.
type Principal struct {
	UserID UserID
	Email  string
	Roles  []string
}

// HasRole reports whether the principal carries the named role.
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}
