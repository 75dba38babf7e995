package skiplist

import (
	"boulder/internal/base"
)

// Iterator iterates the entries of a Skiplist in internal-key order. The
// current state can be cloned by value-copying the struct. All methods are
// safe to call concurrently with Add, though a concurrent Add is not
// guaranteed to be visible to an iterator already positioned past it.
type Iterator struct {
	list  *Skiplist
	nd    *node
	kv    base.InternalKV
	lower []byte
	upper []byte
}

var _ = (*Iterator)(nil)

// Close releases the iterator. The skiplist arena outlives the iterator, so
// there is nothing to release but the iterator's own state.
func (it *Iterator) Close() error {
	*it = Iterator{}
	return nil
}

// First seeks to the first entry and returns it, or nil if the skiplist is
// empty or the first entry falls before the lower bound.
func (it *Iterator) First() *base.InternalKV {
	it.nd = it.list.getNext(it.list.head, 0)
	return it.decode()
}

// Last seeks to the last entry and returns it, or nil if the skiplist is
// empty or the last entry falls after the upper bound.
func (it *Iterator) Last() *base.InternalKV {
	it.nd = it.list.getPrev(it.list.tail, 0)
	return it.decode()
}

// Next advances to the next entry and returns it, or nil if iteration is
// exhausted.
func (it *Iterator) Next() *base.InternalKV {
	it.nd = it.list.getNext(it.nd, 0)
	return it.decode()
}

// Prev moves to the previous entry and returns it, or nil if iteration is
// exhausted.
func (it *Iterator) Prev() *base.InternalKV {
	it.nd = it.list.getPrev(it.nd, 0)
	return it.decode()
}

func (it *Iterator) decode() *base.InternalKV {
	if it.nd == it.list.head || it.nd == it.list.tail || it.nd == nil {
		return nil
	}

	key := it.nd.getKey(it.list.arena)
	if it.lower != nil && it.list.cmp(key, it.lower) < 0 {
		return nil
	}
	if it.upper != nil && it.list.cmp(key, it.upper) >= 0 {
		return nil
	}

	it.kv.K = it.nd.internalKey(it.list.arena)
	it.kv.V = it.nd.getValueBytes(it.list.arena)
	return &it.kv
}
