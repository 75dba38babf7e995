// Package bloom wraps github.com/holiman/bloomfilter/v2 into the narrow
// per-chunk absence oracle the cursor-side view and the merge worker need:
// build once from a chunk's keys, then ask "definitely absent" for a point
// lookup (spec.md §4.6, §8.6).
package bloom

import (
	"hash/fnv"

	"github.com/holiman/bloomfilter/v2"
)

// Filter is a built, read-only Bloom filter for one chunk.
type Filter struct {
	f *bloomfilter.Filter
}

// Builder accumulates keys for a chunk under construction.
type Builder struct {
	f *bloomfilter.Filter
}

// NewBuilder creates a builder sized for n expected keys using bitsPerKey
// bits and hashCount hash functions per spec.md's `lsm_bloom_bit_count` /
// `lsm_bloom_hash_count` configuration options.
func NewBuilder(n uint64, bitsPerKey, hashCount uint64) (*Builder, error) {
	if n == 0 {
		n = 1
	}
	f, err := bloomfilter.New(n*bitsPerKey, hashCount)
	if err != nil {
		return nil, err
	}
	return &Builder{f: f}, nil
}

// Add adds a user key to the filter under construction.
func (b *Builder) Add(key []byte) {
	h := fnv.New64a()
	h.Write(key)
	b.f.Add(h)
}

// Finish produces the built, read-only Filter.
func (b *Builder) Finish() *Filter {
	return &Filter{f: b.f}
}

// MayContain reports whether key might be present. A false return is a
// sound proof of absence (spec.md §8.6); a true return requires checking
// the chunk itself.
func (f *Filter) MayContain(key []byte) bool {
	h := fnv.New64a()
	h.Write(key)
	return f.f.Contains(h)
}

// Marshal encodes the filter's bit vector for the Bloom backing store.
func (f *Filter) Marshal() ([]byte, error) {
	return f.f.MarshalBinary()
}

// Unmarshal loads a filter previously produced by Marshal.
func Unmarshal(data []byte) (*Filter, error) {
	f := &bloomfilter.Filter{}
	if err := f.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &Filter{f: f}, nil
}
