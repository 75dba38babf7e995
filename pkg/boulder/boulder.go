package boulder

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"boulder/internal/metadata"
	"boulder/internal/schema"
	"boulder/pkg/lsm"
)

const (
	DataDirectoryName = "data"
	WalDirectoryName  = "wal"
	CatalogFileName   = "catalog.db"
	LockFileName      = "db.lock"

	defaultTreeURI = "lsm:default"
)

var ErrNotFound = fmt.Errorf("boulder: not found")

// DB is a single named LSM tree exposed behind the simple key/value Reader/
// Writer surface, the way callers outside pkg/lsm are expected to use it
// (pkg/lsm.Tree's own API is named after spec.md's operations, not a plain
// KV store's).
type DB struct {
	mu       sync.Mutex
	openedAt time.Time

	lockFile *os.File
	catalog  *metadata.Catalog
	registry *lsm.Registry
	tree     *lsm.Tree
}

var _ Reader = (*DB)(nil)
var _ Writer = (*DB)(nil)
var _ io.Closer = (*DB)(nil)

// Open opens (creating if necessary) the DB whose files reside under
// directory: a data/ subdirectory for chunk and Bloom files, a wal/
// subdirectory for write-ahead logs, and a catalog.db metadata store.
// A db.lock file, flock'd for the process's lifetime, guards against two
// processes opening the same directory concurrently.
func Open(directory string, opts ...Option) (db *DB, err error) {
	o := &options{treeURI: defaultTreeURI}
	for _, opt := range opts {
		opt.apply(o)
	}

	if err = os.MkdirAll(filepath.Join(directory, DataDirectoryName), 0755); err != nil {
		return nil, fmt.Errorf("boulder: create data directory: %w", err)
	}
	if err = os.MkdirAll(filepath.Join(directory, WalDirectoryName), 0755); err != nil {
		return nil, fmt.Errorf("boulder: create wal directory: %w", err)
	}

	lockFile, err := os.OpenFile(filepath.Join(directory, LockFileName), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("boulder: open lock file: %w", err)
	}
	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = lockFile.Close()
		return nil, fmt.Errorf("boulder: lock directory %s: %w", directory, err)
	}
	defer func() {
		if db == nil {
			_ = lockFile.Close()
		}
	}()

	schemaSvc, err := schema.New(filepath.Join(directory, DataDirectoryName))
	if err != nil {
		return nil, fmt.Errorf("boulder: open schema service: %w", err)
	}

	catalog, err := metadata.Open(filepath.Join(directory, CatalogFileName))
	if err != nil {
		return nil, fmt.Errorf("boulder: open catalog: %w", err)
	}
	defer func() {
		if db == nil {
			_ = catalog.Close()
		}
	}()

	registry := lsm.NewRegistry(schemaSvc, catalog, filepath.Join(directory, WalDirectoryName), o.log)

	// Recover every tree the catalog already knows about (e.g. extra trees a
	// prior process created via the registry directly) before touching the
	// one this DB handle exposes, so a reopen never silently drops one.
	if err := registry.OpenAll(); err != nil {
		return nil, fmt.Errorf("boulder: open all: %w", err)
	}

	tree, err := registry.Get(o.treeURI, false)
	if err != nil {
		if !errors.Is(err, lsm.ErrNotFound) {
			return nil, err
		}
		tree, err = registry.Create(o.treeURI, o.treeConfig, false)
		if err != nil {
			return nil, fmt.Errorf("boulder: create tree %s: %w", o.treeURI, err)
		}
	}

	return &DB{
		openedAt: time.Now(),
		lockFile: lockFile,
		catalog:  catalog,
		registry: registry,
		tree:     tree,
	}, nil
}

// Get looks up key in the tree. The returned Closer must be called once the
// caller is done with value.
func (b *DB) Get(key []byte) (value []byte, closer io.Closer, err error) {
	cur, err := b.tree.NewCursor()
	if err != nil {
		return nil, nil, err
	}

	kv, err := cur.Search(key)
	if err != nil {
		_ = cur.Close()
		return nil, nil, err
	}
	if kv == nil {
		_ = cur.Close()
		return nil, nil, ErrNotFound
	}
	return kv.V, Close(func() { _ = cur.Close() }), nil
}

// Set writes key=value.
func (b *DB) Set(key, value []byte) error {
	return b.tree.Insert(key, value)
}

// Delete removes key, if present.
func (b *DB) Delete(key []byte) error {
	return b.tree.Delete(key)
}

// DeleteRange removes every key in [start, end). It walks a forward cursor
// to collect the live keys in range first, then deletes each: the merge
// iterator backing the cursor isn't safe to mutate the tree underneath
// while it's being walked.
func (b *DB) DeleteRange(start, end []byte) error {
	cur, err := b.tree.NewCursor()
	if err != nil {
		return err
	}
	defer cur.Close()

	var keys [][]byte
	for kv, err := cur.First(); ; kv, err = cur.Next() {
		if err != nil {
			return err
		}
		if kv == nil {
			break
		}
		if bytes.Compare(kv.K.UserKey, start) < 0 {
			continue
		}
		if bytes.Compare(kv.K.UserKey, end) >= 0 {
			break
		}
		keys = append(keys, append([]byte(nil), kv.K.UserKey...))
	}

	for _, key := range keys {
		if err := b.tree.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the tree, closes the metadata catalog, and releases the
// directory lock. Idempotent.
func (b *DB) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	if b.registry != nil {
		if b.tree != nil {
			b.registry.Release(b.tree)
		}
		if err := b.registry.CloseAll(); err != nil {
			errs = append(errs, err)
		}
	}
	if b.catalog != nil {
		if err := b.catalog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("boulder: close catalog: %w", err))
		}
		b.catalog = nil
	}
	if b.lockFile != nil {
		if err := b.lockFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("boulder: close lock file: %w", err))
		}
		b.lockFile = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("boulder: close: %w", errors.Join(errs...))
	}
	return nil
}
