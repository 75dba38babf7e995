package lsm

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/singleflight"

	"boulder/internal/metadata"
	"boulder/internal/schema"
)

// entry is one registered tree plus its reference count (spec.md §4.1
// "refcnt").
type entry struct {
	tree   *Tree
	refcnt atomic.Int32
}

// Registry is the process-wide set of open tree handles keyed by name
// (spec.md §4.1 "Tree handle registry"). Get/Release/CloseAll correspond to
// get/release/close_all.
type Registry struct {
	schema     *schema.Service
	schemaLock schema.Lock
	catalog    *metadata.Catalog
	walDir     string
	log        hclog.Logger

	mu    sync.Mutex
	trees map[string]*entry
	order []string

	opening singleflight.Group
}

// NewRegistry constructs a registry backed by schemaSvc and catalog, with
// per-primary-chunk write-ahead logs kept under walDir.
func NewRegistry(schemaSvc *schema.Service, catalog *metadata.Catalog, walDir string, log hclog.Logger) *Registry {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Registry{
		schema:  schemaSvc,
		catalog: catalog,
		walDir:  walDir,
		log:     log,
		trees:   make(map[string]*entry),
	}
}

func (r *Registry) deps() treeDeps {
	return treeDeps{schema: r.schema, schemaLock: &r.schemaLock, catalog: r.catalog, walDir: r.walDir, log: r.log}
}

// OpenAll opens every tree recorded in the catalog, via metadata.Catalog's
// ForEach: process-start recovery of whatever trees were open when the
// process last exited, rather than leaving that discovery to whichever
// name a caller happens to Get first. Best-effort per tree — a tree that
// fails to open (e.g. a corrupt metadata record) is logged and skipped
// rather than aborting recovery of the rest; a failure to scan the catalog
// itself is returned.
//
// The catalog scan collects every URI before opening any of them: Get's
// own catalog reads (and, for a tree with no primary yet, its persistLocked
// write) must not run nested inside ForEach's read transaction.
func (r *Registry) OpenAll() error {
	var uris []string
	if err := r.catalog.ForEach(func(uri, _ string) error {
		uris = append(uris, uri)
		return nil
	}); err != nil {
		return err
	}

	for _, uri := range uris {
		if _, err := r.Get(uri, false); err != nil {
			r.log.Warn("open all: open tree", "uri", uri, "error", err)
		}
	}
	return nil
}

// Get returns a referenced handle for name, opening it if necessary.
// Concurrent first-opens of the same unopened name collapse into a single
// actual open() call (spec.md §4.1). exclusive requests fail with ErrBusy
// if the tree already has outstanding references.
func (r *Registry) Get(name string, exclusive bool) (*Tree, error) {
	r.mu.Lock()
	if e, found := r.trees[name]; found {
		if exclusive && e.refcnt.Load() > 0 {
			r.mu.Unlock()
			return nil, fmt.Errorf("lsm: get %s: %w", name, ErrBusy)
		}
		e.refcnt.Add(1)
		r.mu.Unlock()
		return e.tree, nil
	}
	r.mu.Unlock()

	v, err, _ := r.opening.Do(name, func() (any, error) {
		t, err := openTree(name, r.deps())
		if err != nil {
			return nil, err
		}

		e := &entry{tree: t}
		e.refcnt.Store(1)

		r.mu.Lock()
		r.trees[name] = e
		r.order = append(r.order, name)
		r.mu.Unlock()
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Tree), nil
}

// Create registers and opens a brand-new tree (spec.md §4.2 "create").
func (r *Registry) Create(name, config string, exclusive bool) (*Tree, error) {
	r.mu.Lock()
	_, found := r.trees[name]
	r.mu.Unlock()
	if found && exclusive {
		return nil, fmt.Errorf("lsm: create %s: %w", name, ErrExists)
	}

	t, err := createTree(name, config, exclusive, r.deps())
	if err != nil {
		return nil, err
	}

	e := &entry{tree: t}
	e.refcnt.Store(1)

	r.mu.Lock()
	r.trees[name] = e
	r.order = append(r.order, name)
	r.mu.Unlock()
	return t, nil
}

// Release decrements name's reference count. It is a no-op if t is not
// currently registered (already dropped or closed).
func (r *Registry) Release(t *Tree) {
	r.mu.Lock()
	e, found := r.trees[t.URI()]
	r.mu.Unlock()
	if !found {
		return
	}
	e.refcnt.Add(-1)
}

// Drop exclusively acquires name, drops every chunk and its metadata
// record, and removes it from the registry.
func (r *Registry) Drop(name string) error {
	t, err := r.Get(name, true)
	if err != nil {
		return err
	}
	if err := t.Drop(); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.trees, name)
	r.removeOrderLocked(name)
	r.mu.Unlock()
	return nil
}

// Rename exclusively acquires oldName, moves every chunk and its metadata
// record to newName, and re-keys the registry entry.
func (r *Registry) Rename(oldName, newName string) error {
	t, err := r.Get(oldName, true)
	if err != nil {
		return err
	}
	if err := t.Rename(newName); err != nil {
		return err
	}

	r.mu.Lock()
	e := r.trees[oldName]
	delete(r.trees, oldName)
	r.removeOrderLocked(oldName)
	r.trees[newName] = e
	r.order = append(r.order, newName)
	r.mu.Unlock()
	return nil
}

// CloseAll stops and closes every registered tree, in the order each was
// first opened. It is idempotent (spec.md §8 property 9: a concurrent or
// repeated CloseAll observes each tree closed exactly once) and
// accumulates every tree's close failure — unlike Drop/Rename's
// stop-at-first-error, CloseAll's trees are independent, so one tree's
// failure must not prevent the others from closing.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	names := append([]string(nil), r.order...)
	r.mu.Unlock()

	var result *multierror.Error
	for _, name := range names {
		r.mu.Lock()
		e, found := r.trees[name]
		if found {
			delete(r.trees, name)
		}
		r.mu.Unlock()
		if !found {
			continue
		}

		if err := e.tree.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("lsm: close %s: %w", name, err))
		}
	}

	r.mu.Lock()
	r.order = nil
	r.mu.Unlock()

	return result.ErrorOrNil()
}

func (r *Registry) removeOrderLocked(name string) {
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
