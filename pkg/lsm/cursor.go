package lsm

import (
	"bytes"
	"sync"

	"boulder/internal/base"
	"boulder/internal/flags"
	"boulder/internal/pack"
	"boulder/pkg/iterator"
)

// subCursor pairs one bound chunk with an open iterator over its content.
type subCursor struct {
	chunk *Chunk
	iter  iterator.Iterator
}

// Cursor is a reader bound to one tree's chunk stack, walking it newest to
// oldest with Bloom-accelerated search (spec.md §4.6). A cursor snapshots
// dsk_gen and every sub-cursor at bind time and transparently rebinds
// whenever the tree's dsk_gen has since advanced.
type Cursor struct {
	tree   *Tree
	cflags flags.CursorFlags

	mu      sync.Mutex
	dskGen  uint64
	subs    []subCursor // oldest to newest
	primary *Chunk
	merge   *kwayMergeIterator
}

// rebind releases any previously bound sub-cursors and opens a fresh set
// over the tree's current roster, recording the dsk_gen it was bound
// against.
func (c *Cursor) rebind() error {
	t := c.tree
	c.releaseLocked()

	t.mu.Lock()
	gen := t.dskGen.Load()
	active := append([]*Chunk(nil), t.roster.active...)
	t.liveCursors[c] = gen
	t.mu.Unlock()

	subs := make([]subCursor, 0, len(active))
	var primary *Chunk

	for _, ch := range active {
		it, err := t.openChunkIterator(ch)
		if err != nil {
			for _, s := range subs {
				s.chunk.ReleaseCursor()
				s.iter.Close()
			}
			t.mu.Lock()
			delete(t.liveCursors, c)
			t.mu.Unlock()
			return err
		}
		ch.AcquireCursor()
		if !ch.OnDisk() {
			primary = ch
		}
		subs = append(subs, subCursor{chunk: ch, iter: it})
	}

	c.dskGen = gen
	c.subs = subs
	c.primary = primary
	c.merge = nil
	c.cflags.Clear(flags.CursorIterateNext)
	c.cflags.Clear(flags.CursorIteratePrev)
	return nil
}

func (c *Cursor) releaseLocked() {
	for _, s := range c.subs {
		s.chunk.ReleaseCursor()
		s.iter.Close()
	}
	c.subs = nil
	c.primary = nil
	c.merge = nil

	if c.tree != nil {
		c.tree.mu.Lock()
		delete(c.tree.liveCursors, c)
		c.tree.mu.Unlock()
	}
}

// refresh rebinds the cursor if the tree's dsk_gen has advanced since it
// was last bound (spec.md §4.6: "every operation first checks dsk_gen").
// Rebinding restarts any in-progress forward/backward walk from the start,
// rather than re-seeking to the last returned key: pkg/iterator's
// interface has no seek primitive, a deliberate narrowing this port keeps
// (see DESIGN.md).
func (c *Cursor) refresh() error {
	if err := c.tree.checkErr(); err != nil {
		return err
	}
	if c.tree.dskGen.Load() != c.dskGen {
		return c.rebind()
	}
	return nil
}

func (c *Cursor) iterators() []iterator.Iterator {
	subs := make([]iterator.Iterator, len(c.subs))
	for i, s := range c.subs {
		subs[i] = s.iter
	}
	return subs
}

func (c *Cursor) syncMultiple() {
	if c.merge.Multiple() {
		c.cflags.Set(flags.CursorMultiple)
	} else {
		c.cflags.Clear(flags.CursorMultiple)
	}
}

// seekUserKey scans it from its start for the first record with the given
// user key, returning nil if it's absent. it is positioned ascending by
// user key with, for duplicates, the newest version first — the order
// every iterator this package constructs guarantees — so the first match
// found is the current value for that key in this sub-cursor.
func seekUserKey(it iterator.Iterator, key []byte) *base.InternalKV {
	for kv := it.First(); kv != nil; kv = it.Next() {
		c := bytes.Compare(kv.K.UserKey, key)
		if c == 0 {
			return kv
		}
		if c > 0 {
			return nil
		}
	}
	return nil
}

// Search looks up key, checking chunks newest to oldest and skipping any
// whose Bloom filter reports definite absence (spec.md §4.6, §8 property
// 6). Returns (nil, nil) for an absent key or one shadowed by a tombstone.
func (c *Cursor) Search(key []byte) (*base.InternalKV, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.refresh(); err != nil {
		return nil, err
	}

	for i := len(c.subs) - 1; i >= 0; i-- {
		s := c.subs[i]
		if f := s.chunk.Bloom(); f != nil && !f.MayContain(key) {
			continue
		}
		kv := seekUserKey(s.iter, key)
		if kv == nil {
			continue
		}
		if kv.Kind() == base.InternalKeyKindDelete {
			return nil, nil
		}
		return kv, nil
	}
	return nil, nil
}

// First positions the cursor at the smallest live key across the whole
// chunk stack.
func (c *Cursor) First() (*base.InternalKV, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.refresh(); err != nil {
		return nil, err
	}

	c.cflags.Clear(flags.CursorIteratePrev)
	c.cflags.Set(flags.CursorIterateNext)
	c.merge = newKWayMergeIterator(c.iterators(), !c.cflags.Has(flags.CursorMinorMerge))
	kv := c.merge.First()
	c.syncMultiple()
	return kv, nil
}

// Next advances the cursor forward, restarting from First if it was not
// already iterating forward (a direction change or a post-rebind reset).
func (c *Cursor) Next() (*base.InternalKV, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.refresh(); err != nil {
		return nil, err
	}

	if c.merge == nil || !c.cflags.Has(flags.CursorIterateNext) {
		c.cflags.Clear(flags.CursorIteratePrev)
		c.cflags.Set(flags.CursorIterateNext)
		c.merge = newKWayMergeIterator(c.iterators(), !c.cflags.Has(flags.CursorMinorMerge))
		kv := c.merge.First()
		c.syncMultiple()
		return kv, nil
	}

	kv := c.merge.Next()
	c.syncMultiple()
	return kv, nil
}

// Last positions the cursor at the largest live key across the whole chunk
// stack.
func (c *Cursor) Last() (*base.InternalKV, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.refresh(); err != nil {
		return nil, err
	}

	c.cflags.Clear(flags.CursorIterateNext)
	c.cflags.Set(flags.CursorIteratePrev)
	c.merge = newKWayMergeIterator(c.iterators(), !c.cflags.Has(flags.CursorMinorMerge))
	kv := c.merge.Last()
	c.syncMultiple()
	return kv, nil
}

// Prev retreats the cursor backward, restarting from Last if it was not
// already iterating backward.
func (c *Cursor) Prev() (*base.InternalKV, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.refresh(); err != nil {
		return nil, err
	}

	if c.merge == nil || !c.cflags.Has(flags.CursorIteratePrev) {
		c.cflags.Clear(flags.CursorIterateNext)
		c.cflags.Set(flags.CursorIteratePrev)
		c.merge = newKWayMergeIterator(c.iterators(), !c.cflags.Has(flags.CursorMinorMerge))
		kv := c.merge.Last()
		c.syncMultiple()
		return kv, nil
	}

	kv := c.merge.Prev()
	c.syncMultiple()
	return kv, nil
}

// Insert writes key=value through the cursor's tree and marks the cursor
// updated (spec.md §4.6 CursorUpdated).
func (c *Cursor) Insert(key, value []byte) error {
	if err := c.tree.Insert(key, value); err != nil {
		return err
	}
	c.mu.Lock()
	c.cflags.Set(flags.CursorUpdated)
	c.mu.Unlock()
	return nil
}

// Delete writes a tombstone for key through the cursor's tree and marks
// the cursor updated.
func (c *Cursor) Delete(key []byte) error {
	if err := c.tree.Delete(key); err != nil {
		return err
	}
	c.mu.Lock()
	c.cflags.Set(flags.CursorUpdated)
	c.mu.Unlock()
	return nil
}

// InsertColumns is Insert for a tree configured with a multi-column
// value_format (spec.md §4.7): it packs vals per the tree's value_format
// before writing, the typed counterpart to passing an already-flat byte
// value to Insert.
func (c *Cursor) InsertColumns(key []byte, vals ...pack.Value) error {
	value, err := c.tree.EncodeValue(vals)
	if err != nil {
		return err
	}
	return c.Insert(key, value)
}

// ValueColumns unpacks kv.V (as returned by Search/First/Next/Last/Prev)
// into typed columns per the tree's value_format.
func (c *Cursor) ValueColumns(kv *base.InternalKV) ([]pack.Value, error) {
	return c.tree.DecodeValue(kv.V)
}

// Close releases the cursor's bound sub-cursors and its dsk_gen
// registration. Idempotent.
func (c *Cursor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked()
	return nil
}
