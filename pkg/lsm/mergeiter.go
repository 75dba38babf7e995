package lsm

import (
	"bytes"

	"boulder/internal/base"
	"boulder/pkg/iterator"
)

// kwayMergeIterator merges subs — each already sorted ascending by user
// key, ordered oldest to newest — into a single stream where a user key
// present in more than one sub resolves to the newest (highest-index)
// sub's copy (spec.md §4.4 step 3, §8 property 7). It backs both the merge
// worker's build stream and Cursor's forward/backward walk over live chunk
// sub-cursors.
type kwayMergeIterator struct {
	subs           []iterator.Iterator
	heads          []*base.InternalKV
	dropTombstones bool
	multiple       bool
	kv             base.InternalKV
}

func newKWayMergeIterator(subs []iterator.Iterator, dropTombstones bool) *kwayMergeIterator {
	return &kwayMergeIterator{
		subs:           subs,
		heads:          make([]*base.InternalKV, len(subs)),
		dropTombstones: dropTombstones,
	}
}

func (m *kwayMergeIterator) First() *base.InternalKV {
	for i, s := range m.subs {
		m.heads[i] = s.First()
	}
	return m.advance()
}

func (m *kwayMergeIterator) Next() *base.InternalKV {
	return m.advance()
}

func (m *kwayMergeIterator) Last() *base.InternalKV {
	for i, s := range m.subs {
		m.heads[i] = s.Last()
	}
	return m.retreat()
}

func (m *kwayMergeIterator) Prev() *base.InternalKV {
	return m.retreat()
}

// Multiple reports whether the most recently returned key had a value in
// more than one sub-iterator (spec.md §4.6 CursorMultiple).
func (m *kwayMergeIterator) Multiple() bool { return m.multiple }

func (m *kwayMergeIterator) advance() *base.InternalKV {
	for {
		best := -1
		for i, h := range m.heads {
			if h == nil {
				continue
			}
			if best == -1 {
				best = i
				continue
			}
			c := bytes.Compare(h.K.UserKey, m.heads[best].K.UserKey)
			if c < 0 || (c == 0 && i > best) {
				best = i
			}
		}
		if best == -1 {
			return nil
		}

		winner := *m.heads[best]
		key := winner.K.UserKey
		m.multiple = false
		for i, h := range m.heads {
			if h == nil || !bytes.Equal(h.K.UserKey, key) {
				continue
			}
			if i != best {
				m.multiple = true
			}
			// A single sub can itself hold more than one version of key
			// (e.g. two writes to the primary before its next Switch);
			// skip every one of them, not just the first, or the older
			// duplicate resurfaces on the following call.
			for m.heads[i] != nil && bytes.Equal(m.heads[i].K.UserKey, key) {
				m.heads[i] = m.subs[i].Next()
			}
		}

		if !m.dropTombstones || winner.Kind() != base.InternalKeyKindDelete {
			m.kv = winner
			return &m.kv
		}
	}
}

func (m *kwayMergeIterator) retreat() *base.InternalKV {
	for {
		best := -1
		for i, h := range m.heads {
			if h == nil {
				continue
			}
			if best == -1 {
				best = i
				continue
			}
			c := bytes.Compare(h.K.UserKey, m.heads[best].K.UserKey)
			if c > 0 || (c == 0 && i > best) {
				best = i
			}
		}
		if best == -1 {
			return nil
		}

		winner := *m.heads[best]
		key := winner.K.UserKey
		m.multiple = false
		for i, h := range m.heads {
			if h == nil || !bytes.Equal(h.K.UserKey, key) {
				continue
			}
			if i != best {
				m.multiple = true
			}
			// Walking backward, a sub's versions of key arrive oldest
			// first; the winning sub's last one seen is its newest.
			for m.heads[i] != nil && bytes.Equal(m.heads[i].K.UserKey, key) {
				if i == best {
					winner = *m.heads[i]
				}
				m.heads[i] = m.subs[i].Prev()
			}
		}

		if !m.dropTombstones || winner.Kind() != base.InternalKeyKindDelete {
			m.kv = winner
			return &m.kv
		}
	}
}

func (m *kwayMergeIterator) Close() error {
	var err error
	for _, s := range m.subs {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
