// Package authz authorizes callers against a role to permission matrix.
package authz

import "fmt"

// Permission is a token from the closed set below.
type Permission string

// Wildcard grants every permission.
const Wildcard Permission = "*"

const (
	ViewPatients          Permission = "view-patients"
	CreatePatients        Permission = "create-patients"
	EditPatients          Permission = "edit-patients"
	DeletePatients        Permission = "delete-patients"
	ViewVisits            Permission = "view-visits"
	ManageVisits          Permission = "manage-visits"
	ViewEncounters        Permission = "view-encounters"
	ManageEncounters      Permission = "manage-encounters"
	ViewObservations      Permission = "view-observations"
	RecordObservations    Permission = "record-observations"
	ViewMedications       Permission = "view-medications"
	PrescribeMedications  Permission = "prescribe-medications"
	DispenseMedications   Permission = "dispense-medications"
	ViewServiceRequests   Permission = "view-service-requests"
	ManageServiceRequests Permission = "manage-service-requests"
	ViewInvoices          Permission = "view-invoices"
	ManageInvoices        Permission = "manage-invoices"
	ExportData            Permission = "export-data"
	UploadDocuments       Permission = "upload-documents"
	ViewAuditLogs         Permission = "view-audit-logs"
	ManageUsers           Permission = "manage-users"
	ManageSecurityConfig  Permission = "manage-security-config"
)

var knownPermissions = map[Permission]struct{}{
	Wildcard:              {},
	ViewPatients:          {},
	CreatePatients:        {},
	EditPatients:          {},
	DeletePatients:        {},
	ViewVisits:            {},
	ManageVisits:          {},
	ViewEncounters:        {},
	ManageEncounters:      {},
	ViewObservations:      {},
	RecordObservations:    {},
	ViewMedications:       {},
	PrescribeMedications:  {},
	DispenseMedications:   {},
	ViewServiceRequests:   {},
	ManageServiceRequests: {},
	ViewInvoices:          {},
	ManageInvoices:        {},
	ExportData:            {},
	UploadDocuments:       {},
	ViewAuditLogs:         {},
	ManageUsers:           {},
	ManageSecurityConfig:  {},
}

// ParsePermission validates a token against the known set.
func ParsePermission(s string) (Permission, error) {
	p := Permission(s)
	if _, ok := knownPermissions[p]; !ok {
		return "", fmt.Errorf("unknown permission %q", s)
	}
	return p, nil
}

func (p Permission) String() string { return string(p) }

// Roles.
const (
	RoleSuperAdmin   = "super-admin"
	RoleAdmin        = "admin"
	RoleDoctor       = "doctor"
	RoleNurse        = "nurse"
	RoleReceptionist = "receptionist"
	RolePharmacist   = "pharmacist"
	RoleBilling      = "billing"
	RoleAuditor      = "auditor"
)

var knownRoles = map[string]struct{}{
	RoleSuperAdmin:   {},
	RoleAdmin:        {},
	RoleDoctor:       {},
	RoleNurse:        {},
	RoleReceptionist: {},
	RolePharmacist:   {},
	RoleBilling:      {},
	RoleAuditor:      {},
}

// IsKnownRole reports whether role is part of the role set.
func IsKnownRole(role string) bool {
	_, ok := knownRoles[role]
	return ok
}
