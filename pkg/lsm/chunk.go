// Package lsm is the LSM tree core: the chunk roster, the tree handle that
// owns it, the handle registry, the switch/merge/checkpoint workers, and
// the cursor-side view that walks the chunk stack with Bloom-filter
// acceleration. Grounded section by section on
// original_source/src/lsm/lsm_tree.c and src/include/lsm.h.
package lsm

import (
	"sync/atomic"

	"boulder/internal/bloom"
	"boulder/internal/flags"
)

// Chunk is one level of a tree's chunk stack: identity of a single-file
// store (and optional Bloom sidecar), plus the counters needed to decide
// when it can be reclaimed (spec.md §3 "Chunk").
type Chunk struct {
	// ID is this chunk's place in creation order; strictly increasing per
	// tree, never reused even across merges and truncates (spec.md §4.3).
	ID uint64

	// URI and BloomURI never change after creation.
	URI      string
	BloomURI string

	// Generation is the merge depth: 0 for a chunk born from Switch,
	// 1+max(input generations) for a merge output.
	Generation uint64

	// Flags is mutated only while the owning tree's lock is held.
	Flags flags.ChunkFlags

	// retiredAtDskGen records the tree's dsk_gen at the moment this chunk
	// was pushed onto old[]; used by the reclaim pass (§4.4 step 5) to
	// decide whether every cursor that might observe it has since rebound.
	retiredAtDskGen uint64

	count   atomic.Uint64
	ncursor atomic.Int32
	bloom   atomic.Pointer[bloom.Filter]
}

func newChunk(id uint64, uri, bloomURI string, generation uint64) *Chunk {
	return &Chunk{ID: id, URI: uri, BloomURI: bloomURI, Generation: generation}
}

// OnDisk reports whether the chunk's backing store is sealed: absent only
// for the one primary chunk still accepting writes.
func (c *Chunk) OnDisk() bool { return c.Flags.Has(flags.ChunkOnDisk) }

// HasBloom reports whether a Bloom filter sidecar has been built.
func (c *Chunk) HasBloom() bool { return c.Flags.Has(flags.ChunkHasBloom) }

// Count returns the chunk's approximate record count (monotonic within a
// chunk's life; not authoritative).
func (c *Chunk) Count() uint64     { return c.count.Load() }
func (c *Chunk) addCount(n uint64) { c.count.Add(n) }
func (c *Chunk) setCount(n uint64) { c.count.Store(n) }

// AcquireCursor/ReleaseCursor track live cursors that have this chunk among
// their bound chunks (spec.md §3 "ncursor"); a chunk cannot be reclaimed while
// the count is nonzero.
func (c *Chunk) AcquireCursor()     { c.ncursor.Add(1) }
func (c *Chunk) ReleaseCursor()     { c.ncursor.Add(-1) }
func (c *Chunk) CursorCount() int32 { return c.ncursor.Load() }

// Bloom returns the chunk's Bloom filter, or nil if it has none.
func (c *Chunk) Bloom() *bloom.Filter { return c.bloom.Load() }

func (c *Chunk) setBloom(f *bloom.Filter) {
	c.bloom.Store(f)
	c.Flags.Set(flags.ChunkHasBloom)
}

// chunkRecord is the metadata-codec shape of a chunk: everything the
// catalog must remember to reconstruct a Chunk at Open, per spec.md §6
// "Metadata record".
type chunkRecord struct {
	ID         uint64
	URI        string
	BloomURI   string
	Generation uint64
	Flags      flags.ChunkFlags
	Count      uint64
}

func (c *Chunk) record() chunkRecord {
	return chunkRecord{
		ID:         c.ID,
		URI:        c.URI,
		BloomURI:   c.BloomURI,
		Generation: c.Generation,
		Flags:      c.Flags,
		Count:      c.count.Load(),
	}
}

func chunkFromRecord(r chunkRecord) *Chunk {
	c := &Chunk{ID: r.ID, URI: r.URI, BloomURI: r.BloomURI, Generation: r.Generation, Flags: r.Flags}
	c.count.Store(r.Count)
	return c
}
