package model

import "strings"

// Role is a staff role carried in the JWT payload.
type Role string

// Staff roles.
const (
	RoleAdmin          Role = "ADMIN"
	RoleOfficer        Role = "OFFICER"
	RoleSectionHead    Role = "SECTION_HEAD"
	RoleDepartmentHead Role = "DEPARTMENT_HEAD"
)

// Roles lists every recognised role.
var Roles = []Role{RoleAdmin, RoleOfficer, RoleSectionHead, RoleDepartmentHead}

// Valid reports whether r is a recognised role.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// Permission names used by the access policy. Each is "<resource>:<verb>".
const (
	PermOfficesWrite       = "offices:write"
	PermSectionsWrite      = "sections:write"
	PermSubjectsWrite      = "subjects:write"
	PermTemplatesWrite     = "templates:write"
	PermNotificationsWrite = "notifications:write"
	PermTasksWrite         = "tasks:write"
	PermUsersAdmin         = "users:admin"
	PermWorkflowsWrite     = "workflows:write"
	PermRequestsCreate     = "requests:create"
	PermRequestsAct        = "requests:act"
	PermRequestsAssign     = "requests:assign"
	PermRequestsDelete     = "requests:delete"
	PermDocumentsWrite     = "documents:write"
)

// PermissionSet is a set of permissions granted to a role. Keys may include
// wildcards ("requests:*" or "*").
type PermissionSet map[string]bool

// Has returns true if the set contains the exact permission or a wildcard
// that matches it.
func (ps PermissionSet) Has(perm string) bool {
	if ps[perm] {
		return true
	}
	for pattern := range ps {
		if matchWildcard(pattern, perm) {
			return true
		}
	}
	return false
}

// HasAny returns true if the set matches at least one of the given permissions.
func (ps PermissionSet) HasAny(perms ...string) bool {
	for _, p := range perms {
		if ps.Has(p) {
			return true
		}
	}
	return false
}

// matchWildcard returns true if pattern (which may end in "*") matches perm.
//
//	"*"          matches anything
//	"requests:*" matches "requests:act"
//	"requests"   does NOT match "requests:act"
func matchWildcard(pattern, perm string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.HasSuffix(pattern, ":*") {
		return false
	}
	prefix := pattern[:len(pattern)-1]
	return strings.HasPrefix(perm, prefix)
}
