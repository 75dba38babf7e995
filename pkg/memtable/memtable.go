// Package memtable implements the primary chunk's in-memory content: a
// concurrent skiplist over an arena, flushed to an immutable sstable file
// once full or once the owning tree switches to a new primary.
package memtable

import (
	"bytes"
	"errors"
	"sync/atomic"

	"github.com/ncw/directio"

	"boulder/internal/arena"
	"boulder/internal/base"
	"boulder/internal/skiplist"
	"boulder/pkg/sstable"
)

// MemTable stores key-value pairs in sorted order atop a concurrent
// skiplist, backing one tree's primary chunk.
type MemTable struct {
	// seqNum is the sequence number at the time the memtable was created.
	// Guaranteed to be <= the sequence number of any record written here.
	seqNum base.SeqNum

	skiplist *skiplist.Skiplist

	// references is a reference count: New starts it at 1, AddRef and
	// Release adjust it, and Reset refuses to recycle the arena while it is
	// above zero.
	references atomic.Int32

	// flushing indicates the memtable is sealed and no longer accepts
	// writes (either because the arena is full or because the owning tree
	// switched to a new primary).
	flushing atomic.Bool
}

// New constructs a memtable backed by a fresh arena of at least size bytes,
// rounded up to the directio block size.
func New(size uint) *MemTable {
	if size < directio.BlockSize {
		size = directio.BlockSize
	} else if rem := size % directio.BlockSize; rem != 0 {
		size += directio.BlockSize - rem
	}

	m := &MemTable{
		skiplist: skiplist.NewSkiplist(arena.New(size), bytes.Compare),
	}
	m.references.Store(1)
	return m
}

// NewFromArena constructs a memtable reusing a, typically a retired
// memtable's arena after Reset.
func NewFromArena(a *arena.Arena) *MemTable {
	return &MemTable{
		skiplist: skiplist.NewSkiplist(a, bytes.Compare),
	}
}

// Set inserts kv. Returns ErrMemtableFlushed once the arena is full or the
// memtable has been sealed by Seal; the caller should retry against a new
// primary. Returns ErrRecordExists for an exact duplicate internal key (the
// caller should bump the sequence number and retry).
func (m *MemTable) Set(kv base.InternalKV) error {
	if m.flushing.Load() {
		return ErrMemtableFlushed
	}

	err := m.skiplist.Add(kv.K, kv.V)
	if err != nil {
		if errors.Is(err, skiplist.ErrArenaFull) {
			m.flushing.Store(true)
			return ErrMemtableFlushed
		}
		if errors.Is(err, skiplist.ErrRecordExists) {
			return ErrRecordExists
		}
		return err
	}
	return nil
}

// Seal marks the memtable as no longer accepting writes, without requiring
// the arena to be full. Switch calls this on the retiring primary.
func (m *MemTable) Seal() {
	m.flushing.Store(true)
}

// Flush builds an immutable sstable file at path from the memtable's
// current contents, in ascending key order including tombstones — the
// caller (Tree.Switch, when it seals the retiring primary) is responsible for only
// calling Flush once the memtable is sealed.
func (m *MemTable) Flush(path string) (count uint64, err error) {
	it := m.skiplist.Iter(nil, nil)
	defer it.Close()
	return sstable.Build(path, it)
}

// Size returns the byte size of the memtable including arena padding.
func (m *MemTable) Size() uint {
	return m.skiplist.Size()
}

// AddRef increments the memtable's reference count.
func (m *MemTable) AddRef() {
	m.references.Add(1)
}

// Release decrements the reference count once a reader is done with the
// memtable (e.g. after a cursor snapshot is discarded).
func (m *MemTable) Release() {
	m.references.Add(-1)
}

// Reset clears the skiplist and reuses its arena, for retired-memtable
// pooling during primary rotation. Fails with ErrMemtableActive if any
// reference remains outstanding.
func (m *MemTable) Reset() error {
	if m.references.Load() > 0 {
		return ErrMemtableActive
	}

	m.flushing.Store(false)
	a := m.skiplist.Arena()
	a.Reset()
	m.skiplist.Reset(a)
	m.references.Store(1)

	return nil
}

// IsActive reports whether the memtable still has outstanding references.
func (m *MemTable) IsActive() bool {
	return m.references.Load() != 0
}

// Iter returns an iterator over the memtable's current contents, used by
// the cursor-side view to read the primary chunk directly (no flush
// required to observe an uncommitted write).
func (m *MemTable) Iter(lower, upper []byte) *skiplist.Iterator {
	return m.skiplist.Iter(lower, upper)
}
