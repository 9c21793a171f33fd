package models

// Capability is a coarse action a user may perform on a table or globally.
type Capability string

const (
	CapabilityRead   Capability = "READ"
	CapabilityWrite  Capability = "WRITE"
	CapabilityDelete Capability = "DELETE"
	CapabilityUpdate Capability = "UPDATE"

	// CapabilityAdmin, held globally, bypasses every table/field/row check.
	CapabilityAdmin Capability = "ADMIN"
)

// FieldPermissionKind decides what a user sees for a single field.
type FieldPermissionKind string

const (
	FieldAllow FieldPermissionKind = "ALLOW"
	FieldMask  FieldPermissionKind = "MASK"
	FieldDeny  FieldPermissionKind = "DENY"
	FieldHash  FieldPermissionKind = "HASH"
)

// FieldPermission is a per-field rule inside a TablePermission.
type FieldPermission struct {
	Field       string              `json:"field" yaml:"field"`
	Kind        FieldPermissionKind `json:"kind" yaml:"kind"`
	MaskingRule string              `json:"masking_rule,omitempty" yaml:"masking_rule,omitempty"`
}

// TablePermission grants capabilities on one table. If Fields is non-empty the
// table is deny-by-default: any field without a rule is denied.
type TablePermission struct {
	Catalog      string            `json:"catalog" yaml:"catalog"`
	Schema       string            `json:"schema" yaml:"schema"`
	Table        string            `json:"table" yaml:"table"`
	Capabilities []Capability      `json:"capabilities" yaml:"capabilities"`
	RowFilter    string            `json:"row_filter,omitempty" yaml:"row_filter,omitempty"`
	Fields       []FieldPermission `json:"fields,omitempty" yaml:"fields,omitempty"`
	MaxRows      int               `json:"max_rows,omitempty" yaml:"max_rows,omitempty"`
}

// Matches reports whether this permission is scoped to the given table.
func (p *TablePermission) Matches(ref TableRef) bool {
	return p.Catalog == ref.Catalog && p.Schema == ref.Schema && p.Table == ref.Name
}

// HasCapability reports whether the table permission includes the capability.
func (p *TablePermission) HasCapability(c Capability) bool {
	for _, have := range p.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// UserPermissions is the full authorization record for one user.
// At most one TablePermission per (catalog, schema, table); the permission
// store rejects duplicates at write time.
type UserPermissions struct {
	UserID                string            `json:"user_id" yaml:"user_id"`
	GlobalCapabilities    []Capability      `json:"global_capabilities,omitempty" yaml:"global_capabilities,omitempty"`
	TablePermissions      []TablePermission `json:"table_permissions,omitempty" yaml:"table_permissions,omitempty"`
	ResourceGroups        []string          `json:"resource_groups,omitempty" yaml:"resource_groups,omitempty"`
	MaxQueryTimeoutSecond int               `json:"max_query_timeout_seconds,omitempty" yaml:"max_query_timeout_seconds,omitempty"`
	MaxResultRows         int               `json:"max_result_rows,omitempty" yaml:"max_result_rows,omitempty"`
}

// IsAdmin reports whether the user holds the global ADMIN capability.
func (u *UserPermissions) IsAdmin() bool {
	for _, c := range u.GlobalCapabilities {
		if c == CapabilityAdmin {
			return true
		}
	}
	return false
}

// TablePermissionFor returns the first permission scoped to ref, or nil.
func (u *UserPermissions) TablePermissionFor(ref TableRef) *TablePermission {
	for i := range u.TablePermissions {
		if u.TablePermissions[i].Matches(ref) {
			return &u.TablePermissions[i]
		}
	}
	return nil
}
