package adapter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kagehq/brail/internal/domain"
)

// Kinds of catalog entries.
const (
	KindBuiltin   = "builtin"
	KindCommunity = "community"
)

// CatalogEntry describes one available adapter.
type CatalogEntry struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
}

// Catalog is a snapshot of the available adapters.
type Catalog struct {
	Entries   []CatalogEntry `json:"entries"`
	FetchedAt time.Time      `json:"fetchedAt"`
}

// Fresh reports whether the snapshot is younger than ttl at now.
func (c Catalog) Fresh(now time.Time, ttl time.Duration) bool {
	return !c.FetchedAt.IsZero() && now.Sub(c.FetchedAt) < ttl
}

// Source supplies adapters from outside the built-in set.
type Source interface {
	Lookup(name string) (Adapter, bool)
	Entries() []CatalogEntry
}

// Describer lets an adapter contribute a catalog description.
type Describer interface {
	Description() string
}

// Registry maps adapter names to implementations. Built-in adapters always
// win over community ones of the same name.
type Registry struct {
	mu        sync.RWMutex
	builtin   map[string]Adapter
	community Source
}

// NewRegistry returns a registry holding the given built-in adapters.
func NewRegistry(builtins ...Adapter) *Registry {
	r := &Registry{builtin: map[string]Adapter{}}
	for _, a := range builtins {
		r.MustRegister(a)
	}
	return r
}

// Register installs a built-in adapter.
func (r *Registry) Register(a Adapter) error {
	if a == nil || a.Name() == "" {
		return fmt.Errorf("adapter: name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.builtin[a.Name()]; exists {
		return fmt.Errorf("adapter: %s already registered", a.Name())
	}
	r.builtin[a.Name()] = a
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(a Adapter) {
	if err := r.Register(a); err != nil {
		panic(err)
	}
}

// SetCommunity installs the secondary adapter source.
func (r *Registry) SetCommunity(src Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.community = src
}

// Get resolves an adapter by name.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	a, ok := r.builtin[name]
	community := r.community
	r.mu.RUnlock()
	if ok {
		return a, nil
	}
	if community != nil {
		if a, ok := community.Lookup(name); ok {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: unknown adapter %q", domain.ErrInvalidConfig, name)
}

// Snapshot builds a catalog of every reachable adapter.
func (r *Registry) Snapshot(_ context.Context, now time.Time) (Catalog, error) {
	r.mu.RLock()
	entries := make([]CatalogEntry, 0, len(r.builtin))
	builtinNames := make(map[string]struct{}, len(r.builtin))
	for name, a := range r.builtin {
		builtinNames[name] = struct{}{}
		entry := CatalogEntry{Name: name, Kind: KindBuiltin}
		if d, ok := a.(Describer); ok {
			entry.Description = d.Description()
		}
		entries = append(entries, entry)
	}
	community := r.community
	r.mu.RUnlock()

	if community != nil {
		for _, entry := range community.Entries() {
			if _, shadowed := builtinNames[entry.Name]; shadowed {
				continue
			}
			entry.Kind = KindCommunity
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return Catalog{Entries: entries, FetchedAt: now}, nil
}

// CatalogCache memoises a catalog loader for a TTL.
type CatalogCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	load    func(ctx context.Context, now time.Time) (Catalog, error)
	current Catalog
}

// NewCatalogCache wraps load with a TTL.
func NewCatalogCache(ttl time.Duration, load func(ctx context.Context, now time.Time) (Catalog, error)) *CatalogCache {
	return &CatalogCache{ttl: ttl, now: time.Now, load: load}
}

// Get returns the cached catalog, reloading it once stale. A failed reload
// keeps serving the previous snapshot if there is one.
func (c *CatalogCache) Get(ctx context.Context) (Catalog, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if c.current.Fresh(now, c.ttl) {
		return c.current, nil
	}
	catalog, err := c.load(ctx, now)
	if err != nil {
		if !c.current.FetchedAt.IsZero() {
			return c.current, nil
		}
		return Catalog{}, err
	}
	c.current = catalog
	return catalog, nil
}

// Invalidate forces the next Get to reload.
func (c *CatalogCache) Invalidate() {
	c.mu.Lock()
	c.current = Catalog{}
	c.mu.Unlock()
}
