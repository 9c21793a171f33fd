package services

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dataplane-io/dataplane-engine/pkg/apperrors"
	"github.com/dataplane-io/dataplane-engine/pkg/models"
)

// Per-user defaults applied when the permission record leaves them unset.
const (
	DefaultMaxQueryTimeout = 5 * time.Minute
	DefaultMaxResultRows   = 10000
	DefaultResourceGroup   = "default"
)

// PermissionStore holds per-user authorization records. Reads are lock-free
// apart from an RWMutex read lock; writes happen at startup and through
// administrative updates.
type PermissionStore struct {
	mu    sync.RWMutex
	users map[string]*models.UserPermissions
}

// NewPermissionStore creates an empty store.
func NewPermissionStore() *PermissionStore {
	return &PermissionStore{users: make(map[string]*models.UserPermissions)}
}

// Put stores a user's permission record. A record holding two table
// permissions for the same (catalog, schema, table) is rejected: the
// first-match-wins lookup would silently shadow the second rule.
func (s *PermissionStore) Put(perms *models.UserPermissions) error {
	seen := make(map[models.TableRef]struct{}, len(perms.TablePermissions))
	for _, tp := range perms.TablePermissions {
		ref := models.TableRef{Catalog: tp.Catalog, Schema: tp.Schema, Name: tp.Table}
		if _, dup := seen[ref]; dup {
			return fmt.Errorf("user %s has duplicate table permission for %s", perms.UserID, ref.String())
		}
		seen[ref] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[perms.UserID] = perms
	return nil
}

// Get returns the user's permission record, or nil if unknown.
func (s *PermissionStore) Get(userID string) *models.UserPermissions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[userID]
}

// PermissionService answers table/field/row authorization questions.
// Pure lookup and decision logic: no I/O, deterministic for equal inputs.
type PermissionService interface {
	HasTablePermission(userID string, table models.TableRef, capability models.Capability) bool
	HasFieldPermission(userID string, table models.TableRef, field string) bool
	AllowedFields(userID string, table models.TableRef, requested []string) []string
	MaskingRuleFor(userID string, table models.TableRef, field string) (rule string, masked bool)
	RowLevelFilter(userID string, table models.TableRef) string
	CanAccessDatabase(userID, catalog, schema string) bool

	MaxQueryTimeout(userID string) time.Duration
	MaxResultRows(userID string) int
	// MaxTableRows returns the matched table permission's row cap, or 0
	// when the table carries no cap (admins are never capped).
	MaxTableRows(userID string, table models.TableRef) int
	ResourceGroups(userID string) []string

	// Authorize wraps HasTablePermission into the error taxonomy.
	Authorize(userID string, table models.TableRef, capability models.Capability) error
}

type permissionService struct {
	store  *PermissionStore
	logger *zap.Logger
}

// NewPermissionService creates a permission service over the given store.
func NewPermissionService(store *PermissionStore, logger *zap.Logger) PermissionService {
	return &permissionService{
		store:  store,
		logger: logger.Named("permission-service"),
	}
}

var _ PermissionService = (*permissionService)(nil)

func (s *permissionService) HasTablePermission(userID string, table models.TableRef, capability models.Capability) bool {
	user := s.store.Get(userID)
	if user == nil {
		return false
	}
	if user.IsAdmin() {
		return true
	}
	tp := user.TablePermissionFor(table)
	if tp == nil {
		// No matching table permission means deny-all.
		return false
	}
	return tp.HasCapability(capability)
}

func (s *permissionService) Authorize(userID string, table models.TableRef, capability models.Capability) error {
	if !s.HasTablePermission(userID, table, capability) {
		s.logger.Warn("table access denied",
			zap.String("user_id", userID),
			zap.String("table", table.String()),
			zap.String("capability", string(capability)))
		return fmt.Errorf("%w: user %s lacks %s on %s", apperrors.ErrForbidden, userID, capability, table.String())
	}
	return nil
}

// fieldDecision resolves a field against the table permission's field rules.
// With no field rules configured the table is default-allow; once any rule
// exists, unmentioned fields are denied.
func fieldDecision(tp *models.TablePermission, field string) (kind models.FieldPermissionKind, rule string, allowed bool) {
	if len(tp.Fields) == 0 {
		return models.FieldAllow, "", true
	}
	for _, fp := range tp.Fields {
		if fp.Field != field {
			continue
		}
		if fp.Kind == models.FieldDeny {
			return models.FieldDeny, "", false
		}
		return fp.Kind, fp.MaskingRule, true
	}
	return models.FieldDeny, "", false
}

func (s *permissionService) HasFieldPermission(userID string, table models.TableRef, field string) bool {
	user := s.store.Get(userID)
	if user == nil {
		return false
	}
	if user.IsAdmin() {
		return true
	}
	tp := user.TablePermissionFor(table)
	if tp == nil {
		return false
	}
	_, _, allowed := fieldDecision(tp, field)
	return allowed
}

func (s *permissionService) AllowedFields(userID string, table models.TableRef, requested []string) []string {
	user := s.store.Get(userID)
	if user == nil {
		return nil
	}
	if user.IsAdmin() {
		return requested
	}
	tp := user.TablePermissionFor(table)
	if tp == nil {
		return nil
	}

	allowed := make([]string, 0, len(requested))
	for _, f := range requested {
		if _, _, ok := fieldDecision(tp, f); ok {
			allowed = append(allowed, f)
		}
	}
	return allowed
}

func (s *permissionService) MaskingRuleFor(userID string, table models.TableRef, field string) (string, bool) {
	user := s.store.Get(userID)
	if user == nil {
		return "", false
	}
	if user.IsAdmin() {
		return "", false
	}
	tp := user.TablePermissionFor(table)
	if tp == nil {
		return "", false
	}
	kind, rule, allowed := fieldDecision(tp, field)
	if !allowed {
		return "", false
	}
	switch kind {
	case models.FieldMask:
		if rule == "" {
			rule = MaskRulePartial
		}
		return rule, true
	case models.FieldHash:
		return MaskRuleHash, true
	default:
		return "", false
	}
}

func (s *permissionService) RowLevelFilter(userID string, table models.TableRef) string {
	user := s.store.Get(userID)
	if user == nil {
		return ""
	}
	if user.IsAdmin() {
		return ""
	}
	tp := user.TablePermissionFor(table)
	if tp == nil {
		return ""
	}
	return tp.RowFilter
}

func (s *permissionService) CanAccessDatabase(userID, catalog, schema string) bool {
	user := s.store.Get(userID)
	if user == nil {
		return false
	}
	if user.IsAdmin() {
		return true
	}
	for _, tp := range user.TablePermissions {
		if tp.Catalog == catalog && tp.Schema == schema {
			return true
		}
	}
	return false
}

func (s *permissionService) MaxQueryTimeout(userID string) time.Duration {
	user := s.store.Get(userID)
	if user == nil || user.MaxQueryTimeoutSecond <= 0 {
		return DefaultMaxQueryTimeout
	}
	return time.Duration(user.MaxQueryTimeoutSecond) * time.Second
}

func (s *permissionService) MaxResultRows(userID string) int {
	user := s.store.Get(userID)
	if user == nil || user.MaxResultRows <= 0 {
		return DefaultMaxResultRows
	}
	return user.MaxResultRows
}

func (s *permissionService) MaxTableRows(userID string, table models.TableRef) int {
	user := s.store.Get(userID)
	if user == nil || user.IsAdmin() {
		return 0
	}
	tp := user.TablePermissionFor(table)
	if tp == nil {
		return 0
	}
	return tp.MaxRows
}

func (s *permissionService) ResourceGroups(userID string) []string {
	user := s.store.Get(userID)
	if user == nil || len(user.ResourceGroups) == 0 {
		return []string{DefaultResourceGroup}
	}
	return user.ResourceGroups
}
