package skiplist

import (
	"boulder/internal/arch"
	"boulder/internal/arena"
	"boulder/internal/base"
)

// MaxNodeSize returns the worst-case number of arena bytes a node storing a
// key of keySize bytes and a value of valSize bytes can occupy, including
// alignment padding. Callers size memtables against this so a node is never
// rejected by the arena after the caller has already committed to writing it.
func MaxNodeSize(keySize, valSize uint) uint {
	const maxPadding = nodeAlignment - 1
	return maxNodeSize + keySize + valSize + maxPadding
}

type links struct {
	nextOffset arch.AtomicUint
	prevOffset arch.AtomicUint
}

func (l *links) init(prevOffset, nextOffset uint) {
	l.nextOffset.Store(arch.UintToArchSize(nextOffset))
	l.prevOffset.Store(arch.UintToArchSize(prevOffset))
}

// node is a skiplist entry. Most nodes do not use the full tower height,
// since the probability of each successive level decreases exponentially;
// a node's footprint in the arena is truncated to the height it was
// allocated with, so levels above that height must never be dereferenced
// for this node. All tower accesses use atomic/CAS operations; no locking
// is needed.
type node struct {
	keyOffset  uint
	keySize    uint
	valueSize  uint
	keyTrailer base.InternalKeyTrailer

	tower [maxHeight]links
}

func newNode(a *arena.Arena, height uint, key base.InternalKey, value []byte) (*node, error) {
	if height < 1 || height > maxHeight {
		panic("skiplist: height cannot be less than one or greater than the max height")
	}

	keySize := uint(len(key.UserKey))
	valueSize := uint(len(value))

	nd, err := newRawNode(a, height, keySize, valueSize)
	if err != nil {
		return nil, err
	}

	nd.keyTrailer = key.Trailer
	copy(nd.getKey(a), key.UserKey)
	copy(nd.getValueBytes(a), value)

	return nd, nil
}

func newRawNode(a *arena.Arena, height, keySize, valueSize uint) (*node, error) {
	// Tower levels above height are never dereferenced for this node, so
	// they're excluded from the allocation.
	unusedSize := (maxHeight - height) * linksSize
	nodeSize := maxNodeSize - unusedSize

	nodeOffset, err := a.Allocate(nodeSize+keySize+valueSize, nodeAlignment)
	if err != nil {
		return nil, err
	}

	nd := (*node)(a.GetPointer(nodeOffset))
	nd.keyOffset = nodeOffset + nodeSize
	nd.keySize = keySize
	nd.valueSize = valueSize

	return nd, nil
}

func (n *node) getKey(a *arena.Arena) []byte {
	return a.GetBytes(n.keyOffset, n.keySize)
}

func (n *node) getValueBytes(a *arena.Arena) []byte {
	return a.GetBytes(n.keyOffset+n.keySize, n.valueSize)
}

func (n *node) internalKey(a *arena.Arena) base.InternalKey {
	return base.InternalKey{UserKey: n.getKey(a), Trailer: n.keyTrailer}
}

func (n *node) nextOffset(h int) uint {
	return uint(n.tower[h].nextOffset.Load())
}

func (n *node) prevOffset(h int) uint {
	return uint(n.tower[h].prevOffset.Load())
}

func (n *node) casNextOffset(h int, old, val uint) bool {
	return n.tower[h].nextOffset.CompareAndSwap(arch.UintToArchSize(old), arch.UintToArchSize(val))
}

func (n *node) casPrevOffset(h int, old, val uint) bool {
	return n.tower[h].prevOffset.CompareAndSwap(arch.UintToArchSize(old), arch.UintToArchSize(val))
}
