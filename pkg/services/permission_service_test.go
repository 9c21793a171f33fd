package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dataplane-io/dataplane-engine/pkg/apperrors"
	"github.com/dataplane-io/dataplane-engine/pkg/models"
)

var (
	usersRef    = models.TableRef{Catalog: "iceberg", Schema: "ecommerce", Name: "users"}
	ordersTable = models.TableRef{Catalog: "iceberg", Schema: "ecommerce", Name: "orders"}
)

func newTestPermissionService(t *testing.T) (PermissionService, *PermissionStore) {
	t.Helper()
	store := NewPermissionStore()

	require.NoError(t, store.Put(&models.UserPermissions{
		UserID:             "admin",
		GlobalCapabilities: []models.Capability{models.CapabilityAdmin},
	}))
	require.NoError(t, store.Put(&models.UserPermissions{
		UserID:                "user1",
		GlobalCapabilities:    []models.Capability{models.CapabilityRead},
		ResourceGroups:        []string{"default"},
		MaxQueryTimeoutSecond: 600,
		MaxResultRows:         50000,
		TablePermissions: []models.TablePermission{
			{
				Catalog: "iceberg", Schema: "ecommerce", Table: "users",
				Capabilities: []models.Capability{models.CapabilityRead},
				Fields: []models.FieldPermission{
					{Field: "id", Kind: models.FieldAllow},
					{Field: "username", Kind: models.FieldAllow},
					{Field: "email", Kind: models.FieldMask, MaskingRule: MaskRuleEmail},
					{Field: "phone", Kind: models.FieldMask, MaskingRule: MaskRulePhone},
				},
			},
			{
				Catalog: "iceberg", Schema: "ecommerce", Table: "orders",
				Capabilities: []models.Capability{models.CapabilityRead},
				RowFilter:    "user_id = 'user1'",
				MaxRows:      5000,
			},
		},
	}))
	require.NoError(t, store.Put(&models.UserPermissions{
		UserID:             "analyst1",
		GlobalCapabilities: []models.Capability{models.CapabilityRead},
		TablePermissions: []models.TablePermission{
			{
				Catalog: "iceberg", Schema: "ecommerce", Table: "users",
				Capabilities: []models.Capability{models.CapabilityRead},
				Fields: []models.FieldPermission{
					{Field: "id", Kind: models.FieldAllow},
					{Field: "username", Kind: models.FieldHash},
					{Field: "email", Kind: models.FieldDeny},
					{Field: "phone", Kind: models.FieldDeny},
				},
			},
		},
	}))

	return NewPermissionService(store, zaptest.NewLogger(t)), store
}

func TestPermissionStore_RejectsDuplicateTableScope(t *testing.T) {
	store := NewPermissionStore()
	err := store.Put(&models.UserPermissions{
		UserID: "dup",
		TablePermissions: []models.TablePermission{
			{Catalog: "iceberg", Schema: "ecommerce", Table: "users"},
			{Catalog: "iceberg", Schema: "ecommerce", Table: "users"},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate table permission")
}

func TestPermissionService_DefaultDeny(t *testing.T) {
	svc, _ := newTestPermissionService(t)

	// Unknown user.
	assert.False(t, svc.HasTablePermission("ghost", usersRef, models.CapabilityRead))
	// Known user, no matching table permission.
	other := models.TableRef{Catalog: "iceberg", Schema: "analytics", Name: "sales_summary"}
	assert.False(t, svc.HasTablePermission("user1", other, models.CapabilityRead))
	// Capability not granted.
	assert.False(t, svc.HasTablePermission("user1", usersRef, models.CapabilityWrite))
}

func TestPermissionService_AdminBypassesAllChecks(t *testing.T) {
	svc, _ := newTestPermissionService(t)

	anyTable := models.TableRef{Catalog: "x", Schema: "y", Name: "z"}
	assert.True(t, svc.HasTablePermission("admin", anyTable, models.CapabilityDelete))
	assert.True(t, svc.HasFieldPermission("admin", anyTable, "secret"))
	assert.Empty(t, svc.RowLevelFilter("admin", ordersTable))

	_, masked := svc.MaskingRuleFor("admin", usersRef, "email")
	assert.False(t, masked)
}

func TestPermissionService_FieldRulesImplyDefaultDeny(t *testing.T) {
	svc, _ := newTestPermissionService(t)

	// Field rules exist on users for user1, so unmentioned fields are denied.
	assert.True(t, svc.HasFieldPermission("user1", usersRef, "id"))
	assert.False(t, svc.HasFieldPermission("user1", usersRef, "created_date"))

	// No field rules on orders: default-allow.
	assert.True(t, svc.HasFieldPermission("user1", ordersTable, "anything"))
}

func TestPermissionService_AllowedFields(t *testing.T) {
	svc, _ := newTestPermissionService(t)

	allowed := svc.AllowedFields("user1", usersRef, []string{"id", "username", "email", "created_date"})
	assert.Equal(t, []string{"id", "username", "email"}, allowed)

	// DENY drops the field from the selection entirely.
	allowed = svc.AllowedFields("analyst1", usersRef, []string{"id", "username", "email"})
	assert.Equal(t, []string{"id", "username"}, allowed)

	// Empty intersection is legal.
	allowed = svc.AllowedFields("analyst1", usersRef, []string{"email", "phone"})
	assert.Empty(t, allowed)
}

func TestPermissionService_MaskingRules(t *testing.T) {
	svc, _ := newTestPermissionService(t)

	rule, masked := svc.MaskingRuleFor("user1", usersRef, "email")
	assert.True(t, masked)
	assert.Equal(t, MaskRuleEmail, rule)

	rule, masked = svc.MaskingRuleFor("analyst1", usersRef, "username")
	assert.True(t, masked)
	assert.Equal(t, MaskRuleHash, rule)

	_, masked = svc.MaskingRuleFor("user1", usersRef, "id")
	assert.False(t, masked)
}

func TestPermissionService_RowLevelFilter(t *testing.T) {
	svc, _ := newTestPermissionService(t)

	assert.Equal(t, "user_id = 'user1'", svc.RowLevelFilter("user1", ordersTable))
	assert.Empty(t, svc.RowLevelFilter("user1", usersRef))
}

func TestPermissionService_CanAccessDatabase(t *testing.T) {
	svc, _ := newTestPermissionService(t)

	assert.True(t, svc.CanAccessDatabase("user1", "iceberg", "ecommerce"))
	assert.False(t, svc.CanAccessDatabase("user1", "iceberg", "analytics"))
	assert.True(t, svc.CanAccessDatabase("admin", "iceberg", "anything"))
}

func TestPermissionService_UserLimits(t *testing.T) {
	svc, _ := newTestPermissionService(t)

	assert.Equal(t, 10*time.Minute, svc.MaxQueryTimeout("user1"))
	assert.Equal(t, 50000, svc.MaxResultRows("user1"))
	assert.Equal(t, []string{"default"}, svc.ResourceGroups("user1"))

	// Defaults for users without configured limits.
	assert.Equal(t, DefaultMaxQueryTimeout, svc.MaxQueryTimeout("analyst1"))
	assert.Equal(t, DefaultMaxResultRows, svc.MaxResultRows("analyst1"))
	assert.Equal(t, []string{DefaultResourceGroup}, svc.ResourceGroups("analyst1"))

	// Unknown users also fall back to defaults.
	assert.Equal(t, DefaultMaxQueryTimeout, svc.MaxQueryTimeout("ghost"))
}

func TestPermissionService_MaxTableRows(t *testing.T) {
	svc, _ := newTestPermissionService(t)

	assert.Equal(t, 5000, svc.MaxTableRows("user1", ordersTable))
	// Tables without a configured cap report zero.
	assert.Equal(t, 0, svc.MaxTableRows("user1", usersRef))
	// Admins and unknown users are uncapped.
	assert.Equal(t, 0, svc.MaxTableRows("admin", ordersTable))
	assert.Equal(t, 0, svc.MaxTableRows("ghost", ordersTable))
}

func TestPermissionService_AuthorizeWrapsForbidden(t *testing.T) {
	svc, _ := newTestPermissionService(t)

	err := svc.Authorize("ghost", usersRef, models.CapabilityRead)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	assert.NoError(t, svc.Authorize("user1", usersRef, models.CapabilityRead))
}
