package skiplist

import (
	"errors"
	"math"
	"unsafe"

	"boulder/internal/arch"
	"boulder/internal/arena"
	"boulder/internal/base"
	"boulder/internal/compare"
	"boulder/internal/fastrand"
)

const (
	maxNodeSize   = uint(unsafe.Sizeof(node{}))
	linksSize     = uint(unsafe.Sizeof(links{}))
	maxHeight     = uint(20)
	pValue        = 1 / math.E
	nodeAlignment = uint(unsafe.Sizeof(arch.UintToArchSize(0)))
)

var probabilities [maxHeight]uint32

func init() {
	// Precompute the skiplist probabilities so that only a single random
	// number needs to be generated and so that the optimal pvalue can be
	// used (inverse of Euler's number).
	p := float64(1.0)
	for i := uint(0); i < maxHeight; i++ {
		probabilities[i] = uint32(float64(math.MaxUint32) * p)
		p *= pValue
	}
}

var (
	ErrArenaFull    = arena.ErrArenaFull
	ErrRecordExists = errors.New("record with this key already exists")
)

// Skiplist is a fast, concurrent skiplist implementation that supports
// forward and backward iteration. Keys and values are immutable once added
// and deletion is not supported; higher-level code adds new entries that
// shadow existing ones and performs deletion via tombstones. It is up to
// the caller to process shadow entries and tombstones appropriately during
// retrieval.
type Skiplist struct {
	arena  *arena.Arena
	head   *node
	tail   *node
	height arch.AtomicUint // Current height. 1 <= height <= maxHeight. CAS.
	cmp    compare.Compare
}

type splice struct {
	prev *node
	next *node
}

func (s *splice) init(prev, next *node) {
	s.prev = prev
	s.next = next
}

// Inserter caches the result of a search for a key so that repeated calls to
// Add with ascending keys don't re-walk the whole tower.
type Inserter struct {
	spl    [maxHeight]splice
	height uint
}

// Add adds a key using this inserter's cached splice.
func (ins *Inserter) Add(list *Skiplist, key base.InternalKey, value []byte) error {
	return list.addInternal(key, value, ins)
}

// NewSkiplist constructs and initializes a new, empty skiplist. All nodes,
// keys, and values in the skiplist are allocated from the given arena.
func NewSkiplist(a *arena.Arena, cmp compare.Compare) *Skiplist {
	skl := &Skiplist{
		cmp: cmp,
	}
	skl.Reset(a)
	return skl
}

// Reset the skiplist to empty and re-initialize it atop a (possibly reused)
// arena.
func (s *Skiplist) Reset(a *arena.Arena) {
	if a == nil {
		*s = Skiplist{}
		return
	}

	head, err := newRawNode(a, maxHeight, 0, 0)
	if err != nil {
		panic("skiplist: arena is not large enough to hold the head node")
	}
	head.keyOffset = 0

	tail, err := newRawNode(a, maxHeight, 0, 0)
	if err != nil {
		panic("skiplist: arena is not large enough to hold the tail node")
	}
	tail.keyOffset = 0

	headOffset := a.GetPointerOffset(unsafe.Pointer(head))
	tailOffset := a.GetPointerOffset(unsafe.Pointer(tail))
	for i := uint(0); i < maxHeight; i++ {
		head.tower[i].nextOffset.Store(arch.UintToArchSize(tailOffset))
		tail.tower[i].prevOffset.Store(arch.UintToArchSize(headOffset))
	}

	cmp := s.cmp
	*s = Skiplist{
		arena: a,
		head:  head,
		tail:  tail,
		cmp:   cmp,
	}
	s.height.Store(1)
}

// Arena returns the arena backing this skiplist.
func (s *Skiplist) Arena() *arena.Arena {
	return s.arena
}

// Height returns the height of the tallest tower among the nodes ever
// allocated as part of this skiplist.
func (s *Skiplist) Height() uint {
	return uint(s.height.Load())
}

// Size returns the number of bytes that have been allocated from the arena.
func (s *Skiplist) Size() uint {
	return s.arena.Len()
}

// Iter returns a new Iterator. Specifying nil for lower or upper disables
// the check for that boundary; otherwise both bounds are checked on every
// positioning call. An iterator may be copied by value.
func (s *Skiplist) Iter(lower, upper []byte) *Iterator {
	return &Iterator{
		list:  s,
		nd:    s.head,
		lower: lower,
		upper: upper,
	}
}

// Add adds a new key if it does not yet exist. If the key already exists,
// Add returns ErrRecordExists. If there isn't enough room in the arena, Add
// returns ErrArenaFull.
func (s *Skiplist) Add(key base.InternalKey, value []byte) error {
	var ins Inserter
	return s.addInternal(key, value, &ins)
}

func (s *Skiplist) addInternal(key base.InternalKey, value []byte, ins *Inserter) error {
	if s.findSplice(key, ins) {
		// Found a matching node.
		return ErrRecordExists
	}

	nd, height, err := s.newNode(key, value)
	if err != nil {
		return err
	}

	ndOffset := s.arena.GetPointerOffset(unsafe.Pointer(nd))

	// We always insert from the base level up. Once a node is added at the
	// base level, it cannot be added at a higher level, since that would
	// have already been found by the search above.
	var found bool
	var invalidateSplice bool
	for i := 0; i < int(height); i++ {
		prev := ins.spl[i].prev
		next := ins.spl[i].next

		if prev == nil {
			// New node increased the height of the skiplist; assume the new
			// level has not yet been populated.
			if next != nil {
				panic("skiplist: next is expected to be nil, since prev is nil")
			}

			prev = s.head
			next = s.tail
		}

		// 1. Initialize prevOffset and nextOffset to point to prev and next.
		// 2. CAS prevNextOffset to repoint from next to nd.
		// 3. CAS nextPrevOffset to repoint from prev to nd.
		for {
			prevOffset := s.arena.GetPointerOffset(unsafe.Pointer(prev))
			nextOffset := s.arena.GetPointerOffset(unsafe.Pointer(next))
			nd.tower[i].init(prevOffset, nextOffset)

			// Check whether next has an updated link to prev. If not, that
			// can mean one of two things:
			//  1. The thread that added next hasn't yet had a chance to add
			//     the prev link (but will shortly).
			//  2. Another thread has added a new node between prev and next.
			nextPrevOffset := next.prevOffset(i)
			if nextPrevOffset != prevOffset {
				// Determine whether #1 or #2 is true by checking whether
				// prev is still pointing to next. As long as the atomic
				// operations have at least acquire/release semantics, this
				// works, since it's equivalent to the "publication safety"
				// pattern.
				prevNextOffset := prev.nextOffset(i)
				if prevNextOffset == nextOffset {
					// Case #1: help the other thread along by updating
					// next's prev link.
					next.casPrevOffset(i, nextPrevOffset, prevOffset)
				}
			}

			if prev.casNextOffset(i, nextOffset, ndOffset) {
				// Inserted nd between prev and next; update next's prev
				// link and move to the next level.
				next.casPrevOffset(i, prevOffset, ndOffset)
				break
			}

			// CAS failed; recompute prev and next. It's unlikely to help to
			// try a different level, since it's unlikely many nodes were
			// inserted between prev and next.
			prev, next, found = s.findSpliceForLevel(key, i, prev)
			if found {
				if i != 0 {
					panic("skiplist: another thread inserted a node at a non-base level")
				}

				return ErrRecordExists
			}
			invalidateSplice = true
		}
	}

	if invalidateSplice {
		ins.height = 0
	} else {
		// The splice was valid; nd was inserted between spl[i].prev and
		// spl[i].next. Optimistically update spl[i].prev for a subsequent
		// call to Add.
		for i := uint(0); i < height; i++ {
			ins.spl[i].prev = nd
		}
	}

	return nil
}

func (s *Skiplist) newNode(key base.InternalKey, value []byte) (nd *node, height uint, err error) {
	height = s.randomHeight()
	nd, err = newNode(s.arena, height, key, value)
	if err != nil {
		return
	}

	listHeight := s.Height()
	for height > listHeight {
		if s.height.CompareAndSwap(arch.UintToArchSize(listHeight), arch.UintToArchSize(height)) {
			break
		}

		listHeight = s.Height()
	}

	return
}

func (s *Skiplist) randomHeight() uint {
	rnd := fastrand.Uint32()

	h := uint(1)
	for h < maxHeight && rnd <= probabilities[h] {
		h++
	}

	return h
}

func (s *Skiplist) findSplice(key base.InternalKey, ins *Inserter) (found bool) {
	listHeight := s.Height()
	var level int

	prev := s.head
	if ins.height < listHeight {
		// The cached height is less than the list height, meaning there
		// were inserts that increased the height. Recompute from scratch.
		ins.height = listHeight
		level = int(ins.height)
	} else {
		// The cached height equals the list height.
		for ; level < int(listHeight); level++ {
			spl := &ins.spl[level]
			if s.getNext(spl.prev, level) != spl.next {
				// One or more nodes were inserted between the cached
				// splice at this level.
				continue
			}
			if spl.prev != s.head && !s.keyIsAfterNode(spl.prev, key) {
				level = int(listHeight)
				break
			}
			if spl.next != s.tail && s.keyIsAfterNode(spl.next, key) {
				level = int(listHeight)
				break
			}
			// The splice brackets the key.
			prev = spl.prev
			break
		}
	}

	for level = level - 1; level >= 0; level-- {
		var next *node
		prev, next, found = s.findSpliceForLevel(key, level, prev)
		if next == nil {
			next = s.tail
		}
		ins.spl[level].init(prev, next)
	}

	return
}

func (s *Skiplist) findSpliceForLevel(key base.InternalKey, level int, start *node) (prev, next *node, found bool) {
	prev = start

	for {
		// Assume prev.key < key.
		next = s.getNext(prev, level)
		if next == s.tail {
			break
		}

		nextKey := next.getKey(s.arena)
		cmp := s.cmp(key.UserKey, nextKey)
		if cmp < 0 {
			// prev.key < key < next.key: done for this level.
			break
		}
		if cmp == 0 {
			// User-key equality.
			if key.Trailer == next.keyTrailer {
				found = true
				break
			}
			if key.Trailer > next.keyTrailer {
				break
			}
		}

		prev = next
	}

	return
}

func (s *Skiplist) keyIsAfterNode(nd *node, key base.InternalKey) bool {
	ndKey := nd.getKey(s.arena)
	cmp := s.cmp(ndKey, key.UserKey)
	if cmp < 0 {
		return true
	}
	if cmp > 0 {
		return false
	}
	if key.Trailer == nd.keyTrailer {
		return false
	}
	return key.Trailer < nd.keyTrailer
}

func (s *Skiplist) getNext(nd *node, h int) *node {
	offset := nd.tower[h].nextOffset.Load()
	return (*node)(s.arena.GetPointer(uint(offset)))
}

func (s *Skiplist) getPrev(nd *node, h int) *node {
	offset := nd.tower[h].prevOffset.Load()
	return (*node)(s.arena.GetPointer(uint(offset)))
}
