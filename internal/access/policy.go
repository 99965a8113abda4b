// Package access maps staff roles to the permissions guarding write routes.
package access

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/govflow/govflow/model"
)

type policyFile struct {
	Roles map[string][]string `yaml:"roles"`
}

// staffPermissions are granted to every staff role.
var staffPermissions = []string{
	model.PermTasksWrite,
	model.PermDocumentsWrite,
	model.PermRequestsCreate,
	model.PermRequestsAct,
}

// DefaultRoles is the built-in role policy used when no policy file is
// configured.
func DefaultRoles() map[model.Role][]string {
	heads := append([]string{model.PermRequestsAssign}, staffPermissions...)
	return map[model.Role][]string{
		model.RoleAdmin:          {"*"},
		model.RoleOfficer:        append([]string(nil), staffPermissions...),
		model.RoleSectionHead:    heads,
		model.RoleDepartmentHead: append([]string(nil), heads...),
	}
}

// Policy resolves permissions for a role. It is safe for concurrent use and
// can be reloaded from disk with Sync.
type Policy struct {
	path  string
	mu    sync.RWMutex
	roles map[model.Role]model.PermissionSet
}

// NewDefaultPolicy returns a policy built from DefaultRoles.
func NewDefaultPolicy() *Policy {
	p := &Policy{}
	p.set(DefaultRoles())
	return p
}

// NewPolicy loads a policy from path. An empty path yields the default policy.
func NewPolicy(path string) (*Policy, error) {
	if path == "" {
		return NewDefaultPolicy(), nil
	}
	p := &Policy{path: path}
	if err := p.Sync(); err != nil {
		return nil, err
	}
	return p, nil
}

// Permissions returns the permission set for role. Unknown roles get an empty
// set.
func (p *Policy) Permissions(role model.Role) model.PermissionSet {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.roles[role]
}

// Allowed reports whether role holds perm.
func (p *Policy) Allowed(role model.Role, perm string) bool {
	return p.Permissions(role).Has(perm)
}

// Authorize returns an AUTHORIZATION_FAILURE unless the request context's
// role holds perm.
func (p *Policy) Authorize(rctx *model.RequestContext, perm string) error {
	if rctx == nil || !p.Allowed(rctx.Role, perm) {
		return model.NewForbiddenError("Forbidden: insufficient role")
	}
	return nil
}

// Sync reloads the policy file from disk. It is a no-op for the default
// policy.
func (p *Policy) Sync() error {
	if p.path == "" {
		return nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("access: reading policy file %s: %w", p.path, err)
	}

	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("access: parsing policy file %s: %w", p.path, err)
	}

	roles := make(map[model.Role][]string, len(f.Roles))
	for name, perms := range f.Roles {
		role := model.Role(name)
		if !role.Valid() {
			return fmt.Errorf("access: policy file %s: unknown role %q", p.path, name)
		}
		roles[role] = perms
	}
	p.set(roles)
	return nil
}

func (p *Policy) set(roles map[model.Role][]string) {
	resolved := make(map[model.Role]model.PermissionSet, len(roles))
	for role, perms := range roles {
		ps := make(model.PermissionSet, len(perms))
		for _, perm := range perms {
			ps[perm] = true
		}
		resolved[role] = ps
	}

	p.mu.Lock()
	p.roles = resolved
	p.mu.Unlock()
}
