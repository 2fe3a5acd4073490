package auth

import "fmt"

// Resource/action pairs forming the global permission catalog. The catalog is
// tenant-independent and seeded once at bootstrap.
const (
	ActionRead   = "read"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionManage = "manage"
)

var catalogResources = []struct {
	resource string
	actions  []string
}{
	{"products", []string{ActionRead, ActionCreate, ActionUpdate, ActionDelete, ActionManage}},
	{"inventory", []string{ActionRead, ActionCreate, ActionUpdate, ActionDelete, ActionManage}},
	{"warehouses", []string{ActionRead, ActionCreate, ActionUpdate, ActionDelete, ActionManage}},
	{"suppliers", []string{ActionRead, ActionCreate, ActionUpdate, ActionDelete, ActionManage}},
	{"orders", []string{ActionRead, ActionCreate, ActionUpdate, ActionDelete, ActionManage}},
	{"reports", []string{ActionRead, ActionCreate, ActionUpdate, ActionDelete, ActionManage}},
	{"users", []string{ActionRead, ActionCreate, ActionUpdate, ActionDelete, ActionManage}},
	{"roles", []string{ActionRead, ActionCreate, ActionUpdate, ActionDelete, ActionManage}},
	{"settings", []string{ActionRead, ActionUpdate, ActionManage}},
}

// Slugs used by this core's own route table.
const (
	PermUsersRead   = "users.read"
	PermUsersCreate = "users.create"
	PermUsersUpdate = "users.update"
	PermUsersDelete = "users.delete"
	PermUsersManage = "users.manage"
	PermRolesRead   = "roles.read"
	PermRolesCreate = "roles.create"
	PermRolesUpdate = "roles.update"
	PermRolesDelete = "roles.delete"
	PermRolesManage = "roles.manage"
)

// BuiltinPermissions returns the full catalog in seed order.
func BuiltinPermissions() []Permission {
	var perms []Permission
	for _, r := range catalogResources {
		for _, action := range r.actions {
			perms = append(perms, Permission{
				Slug:     fmt.Sprintf("%s.%s", r.resource, action),
				Resource: r.resource,
				Action:   action,
				System:   true,
			})
		}
	}
	return perms
}

// SystemRole is a role template provisioned for every new company.
type SystemRole struct {
	Name        string
	Slug        string
	Description string
	Permissions []string
}

const SuperAdminRoleSlug = "super-admin"

// SystemRoles returns the baseline roles every company gets at creation.
// The super-admin role holds the entire catalog so a tenant can always
// self-recover access; it is immutable like every system role.
func SystemRoles() []SystemRole {
	all := make([]string, 0)
	readOnly := make([]string, 0)
	manager := make([]string, 0)
	for _, p := range BuiltinPermissions() {
		all = append(all, p.Slug)
		if p.Action == ActionRead {
			readOnly = append(readOnly, p.Slug)
		}
		switch p.Resource {
		case "users", "roles", "settings":
		default:
			manager = append(manager, p.Slug)
		}
	}
	return []SystemRole{
		{Name: "Super Admin", Slug: SuperAdminRoleSlug, Description: "Full access to every resource", Permissions: all},
		{Name: "Manager", Slug: "manager", Description: "Manage inventory operations", Permissions: manager},
		{Name: "Viewer", Slug: "viewer", Description: "Read-only access", Permissions: readOnly},
	}
}
