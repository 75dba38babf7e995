package lsm

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"

	"boulder/internal/base"
	"boulder/internal/bloom"
	"boulder/internal/flags"
	"boulder/internal/lsmconfig"
	"boulder/internal/metadata"
	"boulder/internal/schema"
	"boulder/pkg/iterator"
	"boulder/pkg/memtable"
	"boulder/pkg/sstable"
	"boulder/pkg/wal"
)

const (
	mergeWorkerInterval      = 2 * time.Second
	checkpointWorkerInterval = 1 * time.Second
)

// treeDeps bundles the collaborators a tree needs at create/open time: the
// schema service and metadata catalog spec.md §1 treats as external, plus
// a directory for WAL files and a logger. Supplied by Registry.
type treeDeps struct {
	schema     *schema.Service
	schemaLock *schema.Lock
	catalog    *metadata.Catalog
	walDir     string
	log        hclog.Logger
}

// Tree is an LSM tree handle (spec.md §4.2): it owns the roster,
// configuration, locks, worker handles, statistics, and the dsk_gen
// monotonic epoch that invalidates cursors.
//
// Concurrency is collapsed to one reader-writer lock per tree plus the
// schema's process-wide lock, per spec.md §9's design note; every roster
// mutation and every primary write takes mu for its duration rather than
// the source's separate spinlock/rwlock pair, since nothing in this port
// needs finer granularity than that.
type Tree struct {
	schema     *schema.Service
	schemaLock *schema.Lock
	catalog    *metadata.Catalog
	walDir     string
	log        hclog.Logger

	mu     sync.RWMutex
	uri    string
	cfg    lsmconfig.Config
	roster Roster
	last   uint64
	wflags flags.TreeFlags

	// liveCursors maps every bound Cursor to the dsk_gen it was bound
	// against, so the merge worker's reclaim pass (§4.4 step 5) can find
	// the minimum dsk_gen any live cursor might still observe.
	liveCursors map[*Cursor]uint64

	dskGen atomic.Uint64
	seqNum base.AtomicSeqNum
	refcnt atomic.Int32
	stats  Stats

	// fatalErr is set once, per spec.md §7: "invariant violations ... mark
	// the tree unusable and all subsequent operations fail."  It also
	// carries ordinary unrecoverable errors from Rename's partial-failure
	// path ("on failure the handle is discarded").
	fatalErr atomic.Pointer[error]

	memtables map[uint64]*memtable.MemTable
	wals      map[uint64]*wal.WAL

	stopCh   chan struct{}
	workerWG sync.WaitGroup
}

// URI returns the tree's name, e.g. "lsm:orders".
func (t *Tree) URI() string { return t.uri }

// DskGen returns the tree's current monotonic epoch.
func (t *Tree) DskGen() uint64 { return t.dskGen.Load() }

// StatsSnapshot returns a point-in-time snapshot of the tree's worker statistics.
func (t *Tree) StatsSnapshot() Snapshot { return t.stats.Snapshot() }

func (t *Tree) checkErr() error {
	if p := t.fatalErr.Load(); p != nil {
		return *p
	}
	return nil
}

// poison marks the tree permanently unusable with err; only the first call
// sticks (spec.md §7).
func (t *Tree) poison(err error) error {
	t.fatalErr.CompareAndSwap(nil, &err)
	return err
}

// withSchemaLock serializes the on-disk layout mutations (create, drop,
// rename) spec.md §5 says the schema/metadata services hold one process-
// wide lock across: "schema and metadata mutations ... are serialized by a
// lock shared across every tree in the process", distinct from a single
// tree's own mu.
func (t *Tree) withSchemaLock(fn func() error) error {
	t.schemaLock.Lock()
	defer t.schemaLock.Unlock()
	return fn()
}

func (t *Tree) invariantViolation(format string, args ...any) error {
	err := fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
	return t.poison(err)
}

// validateRoster checks the §3 invariant "at most one entry in active has
// ON_DISK clear; if present it is active[n-1]".
func validateRoster(r *Roster) error {
	for i, c := range r.active {
		if !c.OnDisk() && i != len(r.active)-1 {
			return fmt.Errorf("%w: chunk %d missing ON_DISK outside the primary slot", ErrInvariant, c.ID)
		}
	}
	return nil
}

// createTree implements spec.md §4.2 create: parse and validate the
// configuration, reject an existing exclusive name, write the metadata
// record, then open it to install runtime state. "create leaves the
// partially-initialized handle discarded; no half-registered entries"
// (§7) — on any failure after the metadata write, we delete it back out.
func createTree(uri, config string, exclusive bool, deps treeDeps) (*Tree, error) {
	cfg, err := lsmconfig.Parse(config)
	if err != nil {
		return nil, err
	}

	if exclusive {
		if _, err := deps.catalog.Get(uri); err == nil {
			return nil, fmt.Errorf("lsm: create %s: %w", uri, ErrExists)
		} else if !errors.Is(err, metadata.ErrNotFound) {
			return nil, err
		}
	}

	record, err := encodeMetadata(cfg, 0, &Roster{})
	if err != nil {
		return nil, err
	}
	if err := deps.catalog.Put(uri, record); err != nil {
		return nil, err
	}

	t, err := openTree(uri, deps)
	if err != nil {
		_ = deps.catalog.Delete(uri)
		return nil, err
	}
	return t, nil
}

// openTree implements spec.md §4.2 open: read and parse the metadata,
// apply the cache-size sanity check, switch in a first primary if the
// tree has no chunks yet, set dsk_gen=1, and start the background
// workers.
func openTree(uri string, deps treeDeps) (*Tree, error) {
	record, err := deps.catalog.Get(uri)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return nil, fmt.Errorf("lsm: open %s: %w", uri, ErrNotFound)
		}
		return nil, err
	}

	cfg, last, roster, err := decodeMetadata(record)
	if err != nil {
		return nil, err
	}
	if err := cfg.SanityCheckCacheSize(); err != nil {
		return nil, err
	}
	if err := validateRoster(roster); err != nil {
		return nil, err
	}

	log := deps.log
	if log == nil {
		log = hclog.NewNullLogger()
	}

	t := &Tree{
		schema:      deps.schema,
		schemaLock:  deps.schemaLock,
		catalog:     deps.catalog,
		walDir:      deps.walDir,
		log:         log.Named(uri),
		uri:         uri,
		cfg:         cfg,
		roster:      *roster,
		last:        last,
		liveCursors: make(map[*Cursor]uint64),
		memtables:   make(map[uint64]*memtable.MemTable),
		wals:        make(map[uint64]*wal.WAL),
		stopCh:      make(chan struct{}),
	}
	t.seqNum.Store(base.SeqNumStart)
	t.loadBloomFilters()

	// Reconstruct in-memory state for the primary, if one already exists
	// (replaying its WAL); §3 guarantees there is at most one.
	for _, c := range t.roster.active {
		if c.OnDisk() {
			continue
		}
		if err := t.installPrimaryState(c); err != nil {
			return nil, err
		}
	}

	if t.roster.Primary() == nil {
		if err := t.switchLocked(); err != nil {
			return nil, err
		}
	}

	if t.cfg.BloomOldest {
		if err := t.buildOldestBloom(); err != nil {
			t.log.Warn("build oldest bloom", "error", err)
		}
	}

	t.dskGen.Store(1)
	t.wflags.Set(flags.TreeOpen)

	if err := t.persistLocked(); err != nil {
		return nil, err
	}

	t.startWorkers()
	return t, nil
}

// installPrimaryState creates a fresh memtable for chunk c and replays its
// WAL on top, then keeps the WAL open for further appends. Grounded on
// spec.md §5 "a process restart before the next checkpoint" and realized
// by pkg/wal.Replay.
func (t *Tree) installPrimaryState(c *Chunk) error {
	mt := memtable.New(uint(t.cfg.ChunkSize))
	path := walPath(t.walDir, t.uri, c.ID)

	if err := wal.Replay(path, func(kv base.InternalKV) error {
		err := mt.Set(kv)
		if errors.Is(err, memtable.ErrRecordExists) {
			return nil // a no-op replay of an already-applied record
		}
		return err
	}); err != nil {
		return fmt.Errorf("lsm: replay chunk %d: %w", c.ID, err)
	}

	w, err := wal.New(path)
	if err != nil {
		return fmt.Errorf("lsm: open wal for chunk %d: %w", c.ID, err)
	}

	t.memtables[c.ID] = mt
	t.wals[c.ID] = w
	return nil
}

// persistLocked rewrites the tree's metadata record. Callers must hold mu.
func (t *Tree) persistLocked() error {
	record, err := encodeMetadata(t.cfg, t.last, &t.roster)
	if err != nil {
		return err
	}
	return t.catalog.Put(t.uri, record)
}

func (t *Tree) bumpDskGenLocked() uint64 {
	return t.dskGen.Add(1)
}

// Switch seals the current primary (flushing it to an on-disk chunk file)
// and installs a fresh one (spec.md §4.2 "switch").
func (t *Tree) Switch() error {
	if err := t.checkErr(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.switchLocked(); err != nil {
		return err
	}
	return t.persistLocked()
}

func (t *Tree) switchLocked() error {
	if old := t.roster.Primary(); old != nil {
		if err := t.sealPrimaryLocked(old); err != nil {
			return err
		}
	}

	id := t.last + 1
	uri := ChunkURI(t.uri, id)
	bloomURI := ""
	if t.cfg.Bloom {
		bloomURI = BloomURI(t.uri, id)
	}
	if err := t.withSchemaLock(func() error { return t.schema.Create(uri) }); err != nil {
		return fmt.Errorf("lsm: switch: create %s: %w", uri, err)
	}

	c := newChunk(id, uri, bloomURI, 0)
	if err := t.installPrimaryState(c); err != nil {
		return err
	}

	t.last = id
	t.roster.appendActive(c)
	t.bumpDskGenLocked()
	t.stats.Switches.Add(1)
	return nil
}

// sealPrimaryLocked flushes old's memtable to its on-disk chunk file,
// optionally builds its Bloom filter (lsm_bloom_newest), and retires its
// WAL.
func (t *Tree) sealPrimaryLocked(old *Chunk) error {
	mt := t.memtables[old.ID]
	if mt == nil {
		return t.invariantViolation("primary chunk %d has no memtable", old.ID)
	}
	mt.Seal()

	if t.cfg.BloomNewest {
		if err := t.buildChunkBloom(old, mt.Iter(nil, nil)); err != nil {
			return fmt.Errorf("lsm: switch: bloom %s: %w", old.URI, err)
		}
	}

	path, err := t.schema.Path(old.URI)
	if err != nil {
		return err
	}
	count, err := mt.Flush(path)
	if err != nil {
		return fmt.Errorf("lsm: switch: flush %s: %w", old.URI, err)
	}
	old.setCount(count)
	old.Flags.Set(flags.ChunkOnDisk)

	if w, ok := t.wals[old.ID]; ok {
		if err := w.Close(); err != nil {
			t.log.Warn("close wal", "chunk", old.ID, "error", err)
		}
		if err := w.Remove(); err != nil {
			t.log.Warn("remove wal", "chunk", old.ID, "error", err)
		}
		delete(t.wals, old.ID)
	}
	delete(t.memtables, old.ID)
	return nil
}

// loadBloomFilters repopulates every chunk's Bloom filter from its sidecar
// file. chunkFromRecord only restores the ChunkHasBloom flag from the
// metadata record, not the filter's bit vector, so without this the Bloom
// short-circuit in Cursor.Search (§4.6, §8.6) silently degrades to a full
// scan for every chunk across a process restart. Best-effort: a missing or
// corrupt sidecar is logged and left unset rather than failing Open, the
// same tolerance buildOldestBloom already gives a failed build.
func (t *Tree) loadBloomFilters() {
	for _, c := range t.roster.active {
		t.loadChunkBloom(c)
	}
	for _, c := range t.roster.old {
		t.loadChunkBloom(c)
	}
}

func (t *Tree) loadChunkBloom(c *Chunk) {
	if !c.HasBloom() || c.BloomURI == "" {
		return
	}
	path, err := t.schema.Path(c.BloomURI)
	if err != nil {
		t.log.Warn("load bloom", "uri", c.BloomURI, "error", err)
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.log.Warn("load bloom", "uri", c.BloomURI, "error", err)
		return
	}
	filter, err := bloom.Unmarshal(data)
	if err != nil {
		t.log.Warn("unmarshal bloom", "uri", c.BloomURI, "error", err)
		return
	}
	c.setBloom(filter)
}

// buildOldestBloom builds a Bloom filter for the tail chunk of the stack
// (lsm_bloom_oldest), used once at Open.
func (t *Tree) buildOldestBloom() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.roster.active) == 0 {
		return nil
	}
	oldest := t.roster.active[0]
	if !oldest.OnDisk() || oldest.HasBloom() {
		return nil
	}
	oldest.BloomURI = BloomURI(t.uri, oldest.ID)

	path, err := t.schema.Path(oldest.URI)
	if err != nil {
		return err
	}
	r, err := sstable.Open(path)
	if err != nil {
		return err
	}
	return t.buildChunkBloom(oldest, r.Iter())
}

// buildChunkBloom builds and persists c's Bloom filter from it, an
// iterator that can be repositioned to its start by calling First() again
// (true of every iterator this package constructs: skiplist's, sstable's,
// and the k-way merge iterator).
func (t *Tree) buildChunkBloom(c *Chunk, it iterator.Iterator) error {
	if c.BloomURI == "" {
		return nil
	}

	var n uint64
	for kv := it.First(); kv != nil; kv = it.Next() {
		n++
	}

	builder, err := bloom.NewBuilder(n, t.cfg.BloomBitCount, t.cfg.BloomHashCount)
	if err != nil {
		return err
	}
	for kv := it.First(); kv != nil; kv = it.Next() {
		builder.Add(kv.K.UserKey)
	}
	filter := builder.Finish()

	data, err := filter.Marshal()
	if err != nil {
		return err
	}
	if err := t.withSchemaLock(func() error { return t.schema.Create(c.BloomURI) }); err != nil && !errors.Is(err, os.ErrExist) {
		return err
	}
	path, err := t.schema.Path(c.BloomURI)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("lsm: write bloom %s: %w", c.BloomURI, err)
	}

	c.setBloom(filter)
	return nil
}

// Insert writes key=value to the primary chunk, switching to a fresh
// primary and retrying once if the current one is full.
func (t *Tree) Insert(key, value []byte) error {
	return t.write(key, value, base.InternalKeyKindSet)
}

// Delete writes a tombstone for key to the primary chunk.
func (t *Tree) Delete(key []byte) error {
	return t.write(key, nil, base.InternalKeyKindDelete)
}

func (t *Tree) write(key, value []byte, kind base.InternalKeyKind) error {
	if err := t.checkErr(); err != nil {
		return err
	}

	for attempt := 0; attempt < 2; attempt++ {
		t.mu.Lock()
		primary := t.roster.Primary()
		if primary == nil {
			t.mu.Unlock()
			return t.invariantViolation("no primary chunk")
		}

		seq := t.seqNum.Add(1)
		kv := base.InternalKV{K: base.MakeInternalKey(key, seq, kind), V: value}

		if w := t.wals[primary.ID]; w != nil {
			if err := w.Append(kv); err != nil {
				t.mu.Unlock()
				return fmt.Errorf("lsm: wal append: %w", err)
			}
		}

		err := t.memtables[primary.ID].Set(kv)
		if err == nil {
			primary.addCount(1)
			t.mu.Unlock()
			return nil
		}
		if errors.Is(err, memtable.ErrMemtableFlushed) {
			if err := t.switchLocked(); err != nil {
				t.mu.Unlock()
				return err
			}
			if err := t.persistLocked(); err != nil {
				t.mu.Unlock()
				return err
			}
			t.mu.Unlock()
			continue
		}
		t.mu.Unlock()
		return err
	}
	return fmt.Errorf("lsm: write: exhausted switch retries")
}

// NewCursor binds a new cursor to the tree's current chunk stack (spec.md
// §4.6).
func (t *Tree) NewCursor() (*Cursor, error) {
	if err := t.checkErr(); err != nil {
		return nil, err
	}
	c := &Cursor{tree: t}
	if err := c.rebind(); err != nil {
		return nil, err
	}
	return c, nil
}

// WorkerApply runs fn against every chunk in the roster (spec.md §4.2
// names this "worker_apply(fn, flags)" but original_source never uses it
// directly; see SPEC_FULL.md "Supplemented features"). skipOnDisk limits
// fn to the primary chunk only. Used by Verify.
func (t *Tree) WorkerApply(fn func(c *Chunk) error, skipOnDisk bool) error {
	if err := t.checkErr(); err != nil {
		return err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	apply := func(c *Chunk) error {
		if skipOnDisk && c.OnDisk() {
			return nil
		}
		return fn(c)
	}
	for _, c := range t.roster.active {
		if err := apply(c); err != nil {
			return err
		}
	}
	for _, c := range t.roster.old {
		if err := apply(c); err != nil {
			return err
		}
	}
	return nil
}

// Verify checks that every on-disk chunk and Bloom file in the roster is
// present and readable, by calling the schema service's Verify on each
// (spec.md §1 names "verify" as a schema-service primitive; this is the
// caller that exercises it — see SPEC_FULL.md "Supplemented features").
func (t *Tree) Verify() error {
	return t.WorkerApply(func(c *Chunk) error {
		if !c.OnDisk() {
			return nil
		}
		if err := t.schema.Verify(c.URI); err != nil {
			return err
		}
		if c.HasBloom() {
			return t.schema.Verify(c.BloomURI)
		}
		return nil
	}, false)
}

// Drop removes every chunk (and Bloom) in the roster and the tree's
// metadata record. Partial-failure semantics per spec.md §7: stops at the
// first schema error, leaving already-dropped chunks dropped and the
// metadata record untouched until every chunk is processed.
func (t *Tree) Drop() error {
	if err := t.checkErr(); err != nil {
		return err
	}
	t.stopWorkers()

	t.mu.Lock()
	defer t.mu.Unlock()

	dropChunk := func(c *Chunk) error {
		if err := t.withSchemaLock(func() error { return t.schema.Drop(c.URI) }); err != nil {
			return fmt.Errorf("lsm: drop %s: %w", c.URI, err)
		}
		if c.BloomURI != "" {
			if err := t.withSchemaLock(func() error { return t.schema.Drop(c.BloomURI) }); err != nil {
				return fmt.Errorf("lsm: drop %s: %w", c.BloomURI, err)
			}
		}
		if w, ok := t.wals[c.ID]; ok {
			_ = w.Remove()
			delete(t.wals, c.ID)
		}
		return nil
	}

	for _, c := range t.roster.active {
		if err := dropChunk(c); err != nil {
			return err
		}
	}
	for _, c := range t.roster.old {
		if err := dropChunk(c); err != nil {
			return err
		}
	}

	if err := t.catalog.Delete(t.uri); err != nil {
		return fmt.Errorf("lsm: drop %s: delete metadata: %w", t.uri, err)
	}
	t.roster = Roster{}
	return nil
}

// Rename moves every chunk (and Bloom) URI to match newURI's prefix and
// updates the metadata record under the new name. On failure the handle is
// discarded (spec.md §4.2); recovery is via a fresh Open under whichever
// name's metadata record survived.
func (t *Tree) Rename(newURI string) error {
	if err := t.checkErr(); err != nil {
		return err
	}
	t.stopWorkers()
	defer t.startWorkers()

	t.mu.Lock()
	defer t.mu.Unlock()

	renameChunk := func(c *Chunk) error {
		newChunkURI := ChunkURI(newURI, c.ID)
		if err := t.withSchemaLock(func() error { return t.schema.Rename(c.URI, newChunkURI) }); err != nil {
			return fmt.Errorf("lsm: rename %s -> %s: %w", c.URI, newChunkURI, err)
		}
		c.URI = newChunkURI

		if c.BloomURI != "" {
			newBloomURI := BloomURI(newURI, c.ID)
			if err := t.withSchemaLock(func() error { return t.schema.Rename(c.BloomURI, newBloomURI) }); err != nil {
				return fmt.Errorf("lsm: rename %s -> %s: %w", c.BloomURI, newBloomURI, err)
			}
			c.BloomURI = newBloomURI
		}
		return nil
	}

	for _, c := range t.roster.active {
		if err := renameChunk(c); err != nil {
			return t.poison(err)
		}
	}
	for _, c := range t.roster.old {
		if err := renameChunk(c); err != nil {
			return t.poison(err)
		}
	}

	oldURI := t.uri
	if err := t.catalog.Delete(oldURI); err != nil {
		return t.poison(err)
	}
	t.uri = newURI
	t.log = t.log.Named(newURI)
	if err := t.persistLocked(); err != nil {
		return t.poison(err)
	}
	t.bumpDskGenLocked()
	return nil
}

// Truncate moves every active chunk to old under one synthetic merge
// generation covering the whole former roster, then installs a fresh
// primary (spec.md §4.2 "truncate"). The synthetic chunk's generation
// placement resolves spec.md §9's first Open Question — see
// SPEC_FULL.md "Supplemented features" #2.
func (t *Tree) Truncate() error {
	if err := t.checkErr(); err != nil {
		return err
	}
	t.stopWorkers()
	defer t.startWorkers()

	t.mu.Lock()
	defer t.mu.Unlock()

	if primary := t.roster.Primary(); primary != nil {
		if mt, ok := t.memtables[primary.ID]; ok {
			mt.Seal()
		}
	}

	generation := uint64(0)
	for _, c := range t.roster.active {
		if c.Generation+1 > generation {
			generation = c.Generation + 1
		}
	}

	dskGen := t.bumpDskGenLocked()
	moved := t.roster.moveAllToOld(dskGen)
	for _, c := range moved {
		c.Generation = generation
	}

	if err := t.switchLocked(); err != nil {
		return err
	}
	return t.persistLocked()
}

func (t *Tree) stopWorkers() {
	t.mu.Lock()
	if !t.wflags.Has(flags.TreeWorking) {
		t.mu.Unlock()
		return
	}
	t.wflags.Clear(flags.TreeWorking)
	stop := t.stopCh
	t.mu.Unlock()

	close(stop)
	t.workerWG.Wait()

	t.mu.Lock()
	t.stopCh = make(chan struct{})
	t.mu.Unlock()
}

func (t *Tree) startWorkers() {
	t.mu.Lock()
	if t.wflags.Has(flags.TreeWorking) {
		t.mu.Unlock()
		return
	}
	t.wflags.Set(flags.TreeWorking)
	stop := t.stopCh
	t.mu.Unlock()

	t.workerWG.Add(2)
	go t.runMergeWorker(stop)
	go t.runCheckpointWorker(stop)
}

// Close stops the tree's workers and releases its in-memory primary
// resources. Idempotent: a second Close on an already-closed tree is a
// no-op (spec.md §8 property 9).
func (t *Tree) Close() error {
	t.stopWorkers()

	t.mu.Lock()
	defer t.mu.Unlock()

	for id, w := range t.wals {
		if err := w.Close(); err != nil {
			t.log.Warn("close wal", "chunk", id, "error", err)
		}
		delete(t.wals, id)
	}
	return nil
}

func (t *Tree) runMergeWorker(stop chan struct{}) {
	defer t.workerWG.Done()
	session := newWorkerSession()
	t.log.Debug("merge worker started", "session", session.String())
	defer t.log.Debug("merge worker stopped", "session", session.String())

	ticker := time.NewTicker(mergeWorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if err := t.runMergeOnce(); err != nil {
			t.stats.MergeErrors.Add(1)
			t.log.Warn("merge failed", "error", err)
		}
	}
}

func (t *Tree) runCheckpointWorker(stop chan struct{}) {
	defer t.workerWG.Done()
	session := newWorkerSession()
	t.log.Debug("checkpoint worker started", "session", session.String())
	defer t.log.Debug("checkpoint worker stopped", "session", session.String())

	ticker := time.NewTicker(checkpointWorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if err := t.runCheckpointOnce(); err != nil {
			t.stats.CheckpointErrors.Add(1)
			t.log.Warn("checkpoint failed", "error", err)
		}
	}
}

// runCheckpointOnce makes every on-disk chunk durable via the schema
// service's Checkpoint (spec.md §4.5: "the only mechanism by which a
// chunk's data becomes crash-durable"), then syncs the primary's WAL — the
// thing that actually shortens replay at the next Open, since the primary
// itself has no backing file to checkpoint until its next Switch.
func (t *Tree) runCheckpointOnce() error {
	t.mu.RLock()
	primary := t.roster.Primary()
	var w *wal.WAL
	if primary != nil {
		w = t.wals[primary.ID]
	}
	onDisk := make([]string, 0, len(t.roster.active))
	for _, c := range t.roster.active {
		if c.OnDisk() {
			onDisk = append(onDisk, c.URI)
		}
	}
	t.mu.RUnlock()

	for _, uri := range onDisk {
		if err := t.schema.Checkpoint(uri); err != nil {
			return fmt.Errorf("lsm: checkpoint %s: %w", uri, err)
		}
	}

	if w == nil {
		return nil
	}
	return w.Flush()
}

func (t *Tree) openChunkIterator(c *Chunk) (iterator.Iterator, error) {
	if !c.OnDisk() {
		t.mu.RLock()
		mt := t.memtables[c.ID]
		t.mu.RUnlock()
		if mt == nil {
			return nil, t.invariantViolation("primary chunk %d has no memtable", c.ID)
		}
		return mt.Iter(nil, nil), nil
	}

	path, err := t.schema.Path(c.URI)
	if err != nil {
		return nil, err
	}
	r, err := sstable.Open(path)
	if err != nil {
		return nil, err
	}
	return r.Iter(), nil
}
