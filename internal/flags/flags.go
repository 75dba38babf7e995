// Package flags gives the raw WT_LSM_CHUNK_*/WT_LSM_TREE_*/WT_CLSM_* bitmask
// #defines (original_source/src/include/lsm.h) a named-set representation,
// per spec.md §9's "raw flag words → named variant/set" design note.
package flags

// ChunkFlags describes a single chunk descriptor's state.
type ChunkFlags uint32

const (
	// ChunkOnDisk marks a chunk whose backing store is sealed and durable;
	// absent only for the one primary chunk still accepting writes.
	ChunkOnDisk ChunkFlags = 1 << iota
	// ChunkHasBloom marks a chunk with a built Bloom filter sidecar.
	ChunkHasBloom
)

func (f ChunkFlags) Has(bit ChunkFlags) bool { return f&bit != 0 }
func (f *ChunkFlags) Set(bit ChunkFlags)      { *f |= bit }
func (f *ChunkFlags) Clear(bit ChunkFlags)    { *f &^= bit }

// TreeFlags describes a tree handle's lifecycle state.
type TreeFlags uint32

const (
	// TreeWorking is set while the tree's background workers should keep
	// running; clearing it requests their cooperative shutdown.
	TreeWorking TreeFlags = 1 << iota
	// TreeOpen marks a handle that has completed open() and is installed
	// in the registry.
	TreeOpen
)

func (f TreeFlags) Has(bit TreeFlags) bool { return f&bit != 0 }
func (f *TreeFlags) Set(bit TreeFlags)      { *f |= bit }
func (f *TreeFlags) Clear(bit TreeFlags)    { *f &^= bit }

// CursorFlags describes a bound cursor's traversal state (spec.md §4.6).
type CursorFlags uint32

const (
	// CursorIterateNext marks a cursor currently iterating forward.
	CursorIterateNext CursorFlags = 1 << iota
	// CursorIteratePrev marks a cursor currently iterating backward.
	CursorIteratePrev
	// CursorMerge marks an internal merge cursor: it does not update and
	// is driven only by the merge worker.
	CursorMerge
	// CursorMinorMerge marks a merge cursor whose oldest input chunk is
	// not at the root level, so tombstones must be preserved rather than
	// dropped in the merge output.
	CursorMinorMerge
	// CursorMultiple marks a cursor position where more than one
	// sub-cursor has a value for the current key; the newest wins.
	CursorMultiple
	// CursorUpdated marks a cursor that has performed updates.
	CursorUpdated
)

func (f CursorFlags) Has(bit CursorFlags) bool { return f&bit != 0 }
func (f *CursorFlags) Set(bit CursorFlags)      { *f |= bit }
func (f *CursorFlags) Clear(bit CursorFlags)    { *f &^= bit }
