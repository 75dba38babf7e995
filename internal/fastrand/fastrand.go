// Package fastrand provides a concurrency-safe source of pseudo-random
// uint32s for the skiplist's level selection. math/rand/v2's top-level
// functions draw from a per-goroutine runtime-managed source, so no package
// in the retrieval pack hand-rolls a faster one; that's the justified
// stdlib use recorded in DESIGN.md.
package fastrand

import "math/rand/v2"

// Uint32 returns a pseudo-random uint32. Safe for concurrent use.
func Uint32() uint32 {
	return rand.Uint32()
}
