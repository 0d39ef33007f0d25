package permissions

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/pms/pkg/observability"
)

// TemplateStore serves role templates: the stored row when an administrator
// replaced it, otherwise the catalog default, otherwise deny-all.
//
// Without a cache TTL every lookup reads the stored row. With one, lookups are
// cached in-process and only this process's replaces invalidate them, so other
// replicas may serve a replaced template until the TTL expires.
type TemplateStore struct {
	store   *Store
	catalog *Catalog
	metrics *observability.Metrics
	hits    atomic.Int64
	misses  atomic.Int64

	mu    sync.Mutex
	gen   uint64 // bumped by Invalidate; guarded by mu
	cache *lru.LRU[Role, *RoleTemplate]
}

// NewTemplateStore creates a template store. A non-positive ttl disables caching.
func NewTemplateStore(store *Store, cacheSize int, ttl time.Duration) *TemplateStore {
	ts := &TemplateStore{
		store:   store,
		catalog: store.Catalog(),
	}
	if ttl > 0 {
		if cacheSize < 1 {
			cacheSize = 64
		}
		ts.cache = lru.NewLRU[Role, *RoleTemplate](cacheSize, nil, ttl)
	}
	return ts
}

// SetMetrics attaches Prometheus metrics for cache lookups
func (ts *TemplateStore) SetMetrics(m *observability.Metrics) {
	ts.metrics = m
}

// GetTemplate returns the full module x action grid for a role. Unknown or
// empty roles yield deny-all; only store failures are errors.
func (ts *TemplateStore) GetTemplate(ctx context.Context, role Role) (*RoleTemplate, error) {
	if role == "" {
		return &RoleTemplate{Role: role, Permissions: ts.catalog.DenyAll()}, nil
	}

	if ts.cache != nil {
		if cached, ok := ts.cache.Get(role); ok {
			ts.hits.Add(1)
			ts.metrics.ObserveTemplateCache(true)
			return cloneTemplate(cached), nil
		}
		ts.misses.Add(1)
		ts.metrics.ObserveTemplateCache(false)
	}

	gen := ts.generation()
	stored, err := ts.store.GetStoredTemplate(ctx, role)
	if err != nil {
		return nil, err
	}

	tmpl := ts.layer(role, stored)
	ts.remember(role, tmpl, gen)
	return tmpl, nil
}

func (ts *TemplateStore) generation() uint64 {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.gen
}

// remember caches tmpl unless an Invalidate ran after the row was read at gen
func (ts *TemplateStore) remember(role Role, tmpl *RoleTemplate, gen uint64) {
	if ts.cache == nil {
		return
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.gen == gen {
		ts.cache.Add(role, cloneTemplate(tmpl))
	}
}

// layer picks the stored row, then the catalog default, then deny-all
func (ts *TemplateStore) layer(role Role, stored *RoleTemplate) *RoleTemplate {
	switch {
	case stored != nil:
		stored.Permissions = ts.catalog.Expand(stored.Permissions)
		return stored
	case ts.catalog.HasRole(role):
		return &RoleTemplate{
			Role:        role,
			Permissions: ts.catalog.Expand(ts.catalog.DefaultTemplate(role)),
			BuiltIn:     true,
		}
	default:
		return &RoleTemplate{Role: role, Permissions: ts.catalog.DenyAll()}
	}
}

// ListTemplates returns the effective template of every catalog role in
// catalog order, reading stored rows in one query
func (ts *TemplateStore) ListTemplates(ctx context.Context) ([]*RoleTemplate, error) {
	stored, err := ts.store.ListStoredTemplates(ctx)
	if err != nil {
		return nil, err
	}
	byRole := make(map[Role]*RoleTemplate, len(stored))
	for _, t := range stored {
		byRole[t.Role] = t
	}

	roles := ts.catalog.Roles()
	templates := make([]*RoleTemplate, 0, len(roles))
	for _, role := range roles {
		templates = append(templates, ts.layer(role, byRole[role]))
	}
	return templates, nil
}

// ReplaceTemplate normalizes and stores a new template for a catalog role
func (ts *TemplateStore) ReplaceTemplate(ctx context.Context, role Role, raw any, updatedBy string) (*RoleTemplate, error) {
	tmpl, err := ts.store.UpsertTemplate(ctx, role, raw, updatedBy)
	if err != nil {
		return nil, err
	}
	ts.Invalidate(role)

	out := cloneTemplate(tmpl)
	out.Permissions = ts.catalog.Expand(tmpl.Permissions)
	return out, nil
}

// Invalidate drops a cached template and discards lookups already in flight
func (ts *TemplateStore) Invalidate(role Role) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.gen++
	if ts.cache != nil {
		ts.cache.Remove(role)
	}
}

// CacheStats returns cache hit and miss counters
func (ts *TemplateStore) CacheStats() (hits, misses int64) {
	return ts.hits.Load(), ts.misses.Load()
}

func cloneTemplate(t *RoleTemplate) *RoleTemplate {
	cp := *t
	cp.Permissions = t.Permissions.Clone()
	return &cp
}
