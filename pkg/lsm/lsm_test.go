package lsm

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"boulder/internal/lsmconfig"
	"boulder/internal/metadata"
	"boulder/internal/schema"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()

	schemaSvc, err := schema.New(filepath.Join(dir, "chunks"))
	require.NoError(t, err)

	catalog, err := metadata.Open(filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = catalog.Close() })

	return NewRegistry(schemaSvc, catalog, filepath.Join(dir, "wal"), nil)
}

func TestCreateOpenInsertSearch(t *testing.T) {
	r := newTestRegistry(t)

	tree, err := r.Create("lsm:orders", "lsm_chunk_size=4096", true)
	require.NoError(t, err)

	require.NoError(t, tree.Insert([]byte("a"), []byte("1")))
	require.NoError(t, tree.Insert([]byte("b"), []byte("2")))
	require.NoError(t, tree.Delete([]byte("a")))

	cur, err := tree.NewCursor()
	require.NoError(t, err)
	defer cur.Close()

	kv, err := cur.Search([]byte("a"))
	require.NoError(t, err)
	require.Nil(t, kv, "a was deleted, should not be found")

	kv, err = cur.Search([]byte("b"))
	require.NoError(t, err)
	require.NotNil(t, kv)
	require.Equal(t, []byte("2"), kv.V)

	require.NoError(t, r.CloseAll())
}

func TestForwardIterationSkipsTombstonesAndShadows(t *testing.T) {
	r := newTestRegistry(t)

	tree, err := r.Create("lsm:kv", "", true)
	require.NoError(t, err)

	require.NoError(t, tree.Insert([]byte("k1"), []byte("v1")))
	require.NoError(t, tree.Insert([]byte("k2"), []byte("v2")))
	require.NoError(t, tree.Insert([]byte("k2"), []byte("v2-updated")))
	require.NoError(t, tree.Insert([]byte("k3"), []byte("v3")))
	require.NoError(t, tree.Delete([]byte("k3")))

	cur, err := tree.NewCursor()
	require.NoError(t, err)
	defer cur.Close()

	var got [][2]string
	for kv, err := cur.First(); ; kv, err = cur.Next() {
		require.NoError(t, err)
		if kv == nil {
			break
		}
		got = append(got, [2]string{string(kv.K.UserKey), string(kv.V)})
	}

	require.Equal(t, [][2]string{
		{"k1", "v1"},
		{"k2", "v2-updated"},
	}, got)

	require.NoError(t, r.CloseAll())
}

func TestSwitchSealsPrimaryAndSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	schemaSvc, err := schema.New(filepath.Join(dir, "chunks"))
	require.NoError(t, err)
	catalog, err := metadata.Open(filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)
	walDir := filepath.Join(dir, "wal")

	r1 := NewRegistry(schemaSvc, catalog, walDir, nil)
	tree, err := r1.Create("lsm:durable", "", true)
	require.NoError(t, err)

	require.NoError(t, tree.Insert([]byte("x"), []byte("1")))
	require.NoError(t, tree.Switch())
	require.NoError(t, tree.Insert([]byte("y"), []byte("2")))
	require.NoError(t, r1.CloseAll())
	require.NoError(t, catalog.Close())

	catalog2, err := metadata.Open(filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)
	defer catalog2.Close()

	r2 := NewRegistry(schemaSvc, catalog2, walDir, nil)
	reopened, err := r2.Get("lsm:durable", true)
	require.NoError(t, err)

	cur, err := reopened.NewCursor()
	require.NoError(t, err)
	defer cur.Close()

	for _, key := range []string{"x", "y"} {
		kv, err := cur.Search([]byte(key))
		require.NoError(t, err)
		require.NotNil(t, kv, "key %q should survive switch+reopen", key)
	}

	require.NoError(t, r2.CloseAll())
}

func TestMergeCollapsesChunksAndDropsTombstonesAtRoot(t *testing.T) {
	r := newTestRegistry(t)
	tree, err := r.Create("lsm:merged", "lsm_merge_max=2", true)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		key := []byte(fmt.Sprintf("k%d", i))
		require.NoError(t, tree.Insert(key, []byte("v")))
		if i == 1 {
			require.NoError(t, tree.Delete(key)) // k1 is deleted before ever switching out
		}
		require.NoError(t, tree.Switch())
	}

	require.NoError(t, tree.runMergeOnce())

	tree.mu.RLock()
	old := append([]*Chunk(nil), tree.roster.Old()...)
	active := append([]*Chunk(nil), tree.roster.Active()...)
	tree.mu.RUnlock()

	require.NotEmpty(t, old, "merge should have retired its inputs")
	require.NotEmpty(t, active)

	cur, err := tree.NewCursor()
	require.NoError(t, err)
	defer cur.Close()

	kv, err := cur.Search([]byte("k1"))
	require.NoError(t, err)
	require.Nil(t, kv, "a tombstone merged at generation 0 must drop, not resurrect")

	kv, err = cur.Search([]byte("k0"))
	require.NoError(t, err)
	require.NotNil(t, kv)

	require.NoError(t, r.CloseAll())
}

func TestDropRemovesChunksAndMetadata(t *testing.T) {
	r := newTestRegistry(t)
	tree, err := r.Create("lsm:todrop", "", true)
	require.NoError(t, err)
	require.NoError(t, tree.Insert([]byte("a"), []byte("1")))
	require.NoError(t, tree.Switch())

	r.Release(tree) // Drop takes an exclusive reference; Create's must go first
	require.NoError(t, r.Drop("lsm:todrop"))

	_, err = r.Get("lsm:todrop", false)
	require.Error(t, err)
}

func TestRegistryExclusiveGetConflict(t *testing.T) {
	r := newTestRegistry(t)
	tree, err := r.Create("lsm:x", "", true)
	require.NoError(t, err)

	_, err = r.Get("lsm:x", true)
	require.ErrorIs(t, err, ErrBusy, "Create's own reference keeps the tree busy")

	r.Release(tree)
	again, err := r.Get("lsm:x", true)
	require.NoError(t, err, "releasing the sole reference must let an exclusive Get succeed")
	require.Same(t, tree, again)

	require.NoError(t, r.CloseAll())
}

func TestRenameMovesChunksAndMetadata(t *testing.T) {
	r := newTestRegistry(t)
	tree, err := r.Create("lsm:before", "", true)
	require.NoError(t, err)

	require.NoError(t, tree.Insert([]byte("a"), []byte("1")))
	require.NoError(t, tree.Switch())
	require.NoError(t, tree.Insert([]byte("b"), []byte("2")))

	r.Release(tree) // Rename takes an exclusive reference; Create's must go first
	require.NoError(t, r.Rename("lsm:before", "lsm:after"))

	_, err = r.Get("lsm:before", false)
	require.Error(t, err, "the old name must no longer resolve")

	renamed, err := r.Get("lsm:after", false)
	require.NoError(t, err)
	require.Equal(t, "lsm:after", renamed.URI())

	cur, err := renamed.NewCursor()
	require.NoError(t, err)
	defer cur.Close()

	for _, key := range []string{"a", "b"} {
		kv, err := cur.Search([]byte(key))
		require.NoError(t, err)
		require.NotNil(t, kv, "key %q should survive rename", key)
	}

	for _, c := range renamed.roster.Active() {
		require.Contains(t, c.URI, "after", "chunk URI must reflect the new tree name")
	}

	require.NoError(t, r.CloseAll())
}

// TestBloomFilterSurvivesReopen covers spec.md §8.6: a chunk's Bloom filter
// must short-circuit Cursor.Search and must still do so after a process
// restart, once loadBloomFilters repopulates it from the sidecar file.
func TestBloomFilterSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	schemaSvc, err := schema.New(filepath.Join(dir, "chunks"))
	require.NoError(t, err)
	catalog, err := metadata.Open(filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)
	walDir := filepath.Join(dir, "wal")

	r1 := NewRegistry(schemaSvc, catalog, walDir, nil)
	tree, err := r1.Create("lsm:bloomed", "lsm_bloom=1,lsm_bloom_newest=1", true)
	require.NoError(t, err)

	require.NoError(t, tree.Insert([]byte("present"), []byte("v")))
	require.NoError(t, tree.Switch()) // seals the primary, building its Bloom filter

	tree.mu.RLock()
	sealed := tree.roster.Active()[0]
	tree.mu.RUnlock()
	require.True(t, sealed.HasBloom())
	require.NotNil(t, sealed.Bloom(), "sealPrimaryLocked must build the filter in-process")
	require.True(t, sealed.Bloom().MayContain([]byte("present")))

	require.NoError(t, r1.CloseAll())
	require.NoError(t, catalog.Close())

	catalog2, err := metadata.Open(filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)
	defer catalog2.Close()

	r2 := NewRegistry(schemaSvc, catalog2, walDir, nil)
	reopened, err := r2.Get("lsm:bloomed", true)
	require.NoError(t, err)

	reopened.mu.RLock()
	var found *Chunk
	for _, c := range reopened.roster.Active() {
		if c.URI == sealed.URI {
			found = c
		}
	}
	reopened.mu.RUnlock()
	require.NotNil(t, found, "the sealed chunk must still be in the roster after reopen")
	require.True(t, found.HasBloom())
	require.NotNil(t, found.Bloom(), "loadBloomFilters must repopulate the filter from its sidecar file")
	require.True(t, found.Bloom().MayContain([]byte("present")))

	cur, err := reopened.NewCursor()
	require.NoError(t, err)
	defer cur.Close()
	kv, err := cur.Search([]byte("present"))
	require.NoError(t, err)
	require.NotNil(t, kv)

	require.NoError(t, r2.CloseAll())
}

// TestBloomSubOptionWithoutBloomRejected covers spec.md §8 S2: enabling a
// Bloom sub-option without the parent lsm_bloom flag must fail
// configuration validation rather than silently doing nothing.
func TestBloomSubOptionWithoutBloomRejected(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Create("lsm:badbloom", "lsm_bloom_newest=1", true)
	require.Error(t, err)
	require.ErrorIs(t, err, lsmconfig.ErrInvalid)

	_, err = r.Create("lsm:badbloom2", "lsm_bloom_oldest=1", true)
	require.Error(t, err)
	require.ErrorIs(t, err, lsmconfig.ErrInvalid)
}

// TestOrphanChunkFileToleratedAtOpen covers spec.md §8 S6: a chunk file on
// disk with no corresponding metadata record must not prevent a tree from
// opening, since this port's recovery is driven entirely by the catalog,
// never by a filesystem scan.
func TestOrphanChunkFileToleratedAtOpen(t *testing.T) {
	dir := t.TempDir()
	schemaSvc, err := schema.New(filepath.Join(dir, "chunks"))
	require.NoError(t, err)
	catalog, err := metadata.Open(filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = catalog.Close() })

	r := NewRegistry(schemaSvc, catalog, filepath.Join(dir, "wal"), nil)
	tree, err := r.Create("lsm:orphan", "", true)
	require.NoError(t, err)
	require.NoError(t, tree.Insert([]byte("a"), []byte("1")))
	require.NoError(t, r.CloseAll())

	// An orphan chunk file the metadata roster never referenced.
	require.NoError(t, schemaSvc.Create(ChunkURI("lsm:orphan", 999)))

	reopened, err := r.Get("lsm:orphan", true)
	require.NoError(t, err, "an orphan on-disk file must not fail open")

	cur, err := reopened.NewCursor()
	require.NoError(t, err)
	defer cur.Close()
	kv, err := cur.Search([]byte("a"))
	require.NoError(t, err)
	require.NotNil(t, kv)

	require.NoError(t, r.CloseAll())
}

func TestTruncateClearsAllData(t *testing.T) {
	r := newTestRegistry(t)
	tree, err := r.Create("lsm:trunc", "", true)
	require.NoError(t, err)

	require.NoError(t, tree.Insert([]byte("a"), []byte("1")))
	require.NoError(t, tree.Switch())
	require.NoError(t, tree.Insert([]byte("b"), []byte("2")))

	require.NoError(t, tree.Truncate())

	cur, err := tree.NewCursor()
	require.NoError(t, err)
	defer cur.Close()

	kv, err := cur.Search([]byte("a"))
	require.NoError(t, err)
	require.Nil(t, kv)
	kv, err = cur.Search([]byte("b"))
	require.NoError(t, err)
	require.Nil(t, kv)

	require.NoError(t, r.CloseAll())
}
