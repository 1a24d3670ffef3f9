package authz

import (
	"fmt"
	"sort"
)

// Matrix maps roles to permission sets. It is immutable once built.
type Matrix struct {
	roles map[string]map[Permission]struct{}
}

// NewMatrix validates table and builds a Matrix. Unknown roles or permission
// tokens fail the build.
func NewMatrix(table map[string][]string) (*Matrix, error) {
	m := &Matrix{roles: make(map[string]map[Permission]struct{}, len(table))}
	for role, tokens := range table {
		if !IsKnownRole(role) {
			return nil, fmt.Errorf("permission matrix: unknown role %q", role)
		}
		set := make(map[Permission]struct{}, len(tokens))
		for _, token := range tokens {
			p, err := ParsePermission(token)
			if err != nil {
				return nil, fmt.Errorf("permission matrix: role %s: %w", role, err)
			}
			set[p] = struct{}{}
		}
		m.roles[role] = set
	}
	return m, nil
}

// Allows reports whether any of roles holds the wildcard or the exact token.
func (m *Matrix) Allows(roles []string, p Permission) bool {
	for _, role := range roles {
		set, ok := m.roles[role]
		if !ok {
			continue
		}
		if _, ok := set[Wildcard]; ok {
			return true
		}
		if _, ok := set[p]; ok {
			return true
		}
	}
	return false
}

// Permissions returns the sorted tokens of role.
func (m *Matrix) Permissions(role string) []Permission {
	set := m.roles[role]
	out := make([]Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DefaultTable is the built-in policy.
func DefaultTable() map[string][]string {
	return map[string][]string{
		RoleSuperAdmin: {"*"},
		RoleAdmin: {
			"view-patients", "create-patients", "edit-patients",
			"view-visits", "view-encounters", "view-invoices",
			"export-data", "view-audit-logs", "manage-users", "manage-security-config",
		},
		RoleDoctor: {
			"view-patients", "create-patients", "edit-patients",
			"view-visits", "manage-visits", "view-encounters", "manage-encounters",
			"view-observations", "record-observations",
			"view-medications", "prescribe-medications",
			"view-service-requests", "manage-service-requests", "upload-documents",
		},
		RoleNurse: {
			"view-patients", "edit-patients",
			"view-visits", "manage-visits", "view-encounters",
			"view-observations", "record-observations", "view-medications",
			"view-service-requests", "upload-documents",
		},
		RoleReceptionist: {
			"view-patients", "create-patients", "edit-patients",
			"view-visits", "manage-visits", "view-invoices",
		},
		RolePharmacist: {
			"view-patients", "view-medications", "dispense-medications", "view-service-requests",
		},
		RoleBilling: {
			"view-patients", "view-visits", "view-invoices", "manage-invoices", "export-data",
		},
		RoleAuditor: {
			"view-patients", "view-visits", "view-encounters", "view-observations",
			"view-medications", "view-invoices", "view-audit-logs", "export-data",
		},
	}
}

// DefaultMatrix builds the built-in policy.
func DefaultMatrix() *Matrix {
	m, err := NewMatrix(DefaultTable())
	if err != nil {
		panic(err)
	}
	return m
}
