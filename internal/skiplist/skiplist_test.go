package skiplist

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boulder/internal/arena"
	base2 "boulder/internal/base"
)

// TestNodeArenaEnd tests allocating a node at the boundary of an arena. In Go
// 1.14 when the race detector is running, Go will also perform some pointer
// alignment checks. It will detect alignment issues, for example #667 where a
// node's memory would straddle the arena boundary, with unused regions of the
// node struct dipping into unallocated memory. The test always runs; those
// alignment checks only happen when it is run with -race.
func TestNodeArenaEnd(t *testing.T) {
	ikey := base2.InternalKey{UserKey: []byte("a")}
	val := []byte("b")

	// Rather than hardcode an arena size at just the right size, try
	// allocating using successively larger arena sizes until we allocate
	// successfully. The prior attempt will have exercised the right code
	// path.
	for i := uint(1); i < 256; i++ {
		a := arena.New(i)
		_, err := newNode(a, 1, ikey, val)
		if err == nil {
			// We reached an arena size big enough to allocate a node.
			// If there's an issue at the boundary, the race detector would
			// have found it by now.
			t.Log(i)
			break
		}
		require.Equal(t, arena.ErrArenaFull, err)
	}
}

func TestSkiplistAddAndIterate(t *testing.T) {
	skl := NewSkiplist(arena.New(64*1024), bytes.Compare)

	keys := []string{"banana", "apple", "cherry", "date"}
	for i, k := range keys {
		err := skl.Add(base2.MakeInternalKey([]byte(k), base2.SeqNum(i+1), base2.InternalKeyKindSet), []byte(k+"-value"))
		require.NoError(t, err)
	}

	// Re-adding the same user key at a different sequence number is a
	// distinct internal key and must succeed.
	err := skl.Add(base2.MakeInternalKey([]byte("apple"), base2.SeqNum(99), base2.InternalKeyKindDelete), nil)
	require.NoError(t, err)

	// Re-adding the exact same internal key must fail.
	err = skl.Add(base2.MakeInternalKey([]byte("apple"), base2.SeqNum(2), base2.InternalKeyKindSet), nil)
	require.ErrorIs(t, err, ErrRecordExists)

	it := skl.Iter(nil, nil)
	defer it.Close()

	var got []string
	for kv := it.First(); kv != nil; kv = it.Next() {
		got = append(got, string(kv.K.UserKey))
	}
	assert.Equal(t, []string{"apple", "apple", "banana", "cherry", "date"}, got)

	last := it.Last()
	require.NotNil(t, last)
	assert.Equal(t, "date", string(last.K.UserKey))
}
