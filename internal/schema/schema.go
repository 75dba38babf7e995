// Package schema implements the schema service spec.md §1 treats as an
// external collaborator: "create", "drop", "rename", "checkpoint", "verify"
// operations over the single-file B-tree store that backs each chunk and
// each Bloom filter, referenced only by URI. Here "URI" is a `file:`-prefixed
// relative path (spec.md §4.3); the service resolves it against a base
// directory and manages the on-disk file lifecycle with pkg/storage.
package schema

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"boulder/pkg/storage"
)

// ErrNotFound is returned for operations on an unknown URI (spec.md §6).
var ErrNotFound = errors.New("schema: not found")

// Lock stands in for the connection-wide schema lock spec.md §5 describes:
// tree mutations that touch on-disk layout (create/drop/rename) acquire
// it, serializing the schema and metadata services across every tree of
// the registry that holds it. Checkpoints run without it.
type Lock struct {
	mu sync.Mutex
}

func (l *Lock) Lock()   { l.mu.Lock() }
func (l *Lock) Unlock() { l.mu.Unlock() }

// Service is the schema service implementation: it turns a chunk or Bloom
// URI into a path under baseDir and performs the five operations spec.md
// names.
type Service struct {
	baseDir string
}

// New constructs a schema service rooted at baseDir, creating it if
// necessary.
func New(baseDir string) (*Service, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("schema: mkdir %s: %w", baseDir, err)
	}
	return &Service{baseDir: baseDir}, nil
}

// Path resolves a `file:`-prefixed URI to an absolute path under baseDir.
func (s *Service) Path(uri string) (string, error) {
	const prefix = "file:"
	if !strings.HasPrefix(uri, prefix) {
		return "", fmt.Errorf("schema: %w: uri %q missing %q prefix", ErrNotFound, uri, prefix)
	}
	return filepath.Join(s.baseDir, strings.TrimPrefix(uri, prefix)), nil
}

// Create creates the backing file for uri, failing if it already exists.
func (s *Service) Create(uri string) error {
	path, err := s.Path(uri)
	if err != nil {
		return err
	}
	w, err := storage.NewWriter(path, os.O_CREATE|os.O_EXCL|os.O_RDWR)
	if err != nil {
		return fmt.Errorf("schema: create %s: %w", uri, err)
	}
	return w.Close()
}

// Drop removes the backing file for uri. Removing an already-absent file is
// not an error, matching drop's partial-failure semantics (spec.md §7):
// already-dropped chunks must stay dropped across a retried drop.
func (s *Service) Drop(uri string) error {
	path, err := s.Path(uri)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("schema: drop %s: %w", uri, err)
	}
	return nil
}

// Rename moves the backing file for oldURI to newURI.
func (s *Service) Rename(oldURI, newURI string) error {
	oldPath, err := s.Path(oldURI)
	if err != nil {
		return err
	}
	newPath, err := s.Path(newURI)
	if err != nil {
		return err
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("schema: rename %s -> %s: %w", oldURI, newURI, err)
	}
	return nil
}

// Checkpoint makes the current contents of uri's backing file durable. It
// is the only mechanism by which a chunk's data becomes crash-durable
// (spec.md §4.5); the WAL only shortens what must be replayed beforehand.
func (s *Service) Checkpoint(uri string) error {
	path, err := s.Path(uri)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("schema: checkpoint %s: %w", uri, err)
	}
	defer f.Close()
	return f.Sync()
}

// Verify checks that uri's backing file exists and is readable. It is the
// schema primitive the original source names but spec.md's described
// components never call on their own; Tree.Verify (pkg/lsm) is the caller
// that exercises it (see SPEC_FULL.md, "Supplemented features").
func (s *Service) Verify(uri string) error {
	path, err := s.Path(uri)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("schema: verify %s: %w", uri, ErrNotFound)
		}
		return fmt.Errorf("schema: verify %s: %w", uri, err)
	}
	return f.Close()
}
