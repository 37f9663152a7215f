package adapter

import (
	"regexp"
	"sync"
)

var identifierRegex = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Filter strips every character that is not safe in an identifier.
func Filter(value string) string {
	return identifierRegex.ReplaceAllString(value, "")
}

// Scope is the namespace, database, shared-tables and tenant setting of an
// adapter. Safe for concurrent use.
type Scope struct {
	mu           sync.RWMutex
	namespace    string
	database     string
	sharedTables bool
	tenant       int64
	hasTenant    bool
}

// NewScope creates a scope.
func NewScope(namespace, database string, sharedTables bool) *Scope {
	return &Scope{
		namespace:    Filter(namespace),
		database:     Filter(database),
		sharedTables: sharedTables,
	}
}

// Namespace returns the table name prefix.
func (s *Scope) Namespace() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.namespace
}

// SetNamespace sets the table name prefix.
func (s *Scope) SetNamespace(ns string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.namespace = Filter(ns)
}

// Database returns the database (schema) name.
func (s *Scope) Database() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.database
}

// SetDatabase sets the database (schema) name.
func (s *Scope) SetDatabase(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.database = Filter(name)
}

// SharedTables reports whether tables are shared across tenants.
func (s *Scope) SharedTables() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sharedTables
}

// SetSharedTables toggles shared-tables mode.
func (s *Scope) SetSharedTables(shared bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sharedTables = shared
}

// Tenant returns the active tenant.
func (s *Scope) Tenant() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tenant, s.hasTenant
}

// SetTenant sets the active tenant.
func (s *Scope) SetTenant(tenant int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenant = tenant
	s.hasTenant = true
}

// ClearTenant unsets the active tenant.
func (s *Scope) ClearTenant() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenant = 0
	s.hasTenant = false
}

// TenantFilter returns the tenant to filter by, if shared tables are on
// and a tenant is set.
func (s *Scope) TenantFilter() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.sharedTables || !s.hasTenant {
		return 0, false
	}
	return s.tenant, true
}
