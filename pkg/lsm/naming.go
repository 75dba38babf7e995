package lsm

import (
	"fmt"
	"path/filepath"
	"strings"
)

// treeBaseName strips the "lsm:" prefix every tree URI carries (spec.md §6
// "Naming"), leaving the stem chunk/Bloom URIs are built from.
func treeBaseName(treeURI string) string {
	return strings.TrimPrefix(treeURI, "lsm:")
}

// ChunkURI returns the file: URI of chunk id in the given tree's chunk
// stack: file:<filename>-<id:06d>.lsm, per spec.md §4.3.
func ChunkURI(treeURI string, id uint64) string {
	return fmt.Sprintf("file:%s-%06d.lsm", treeBaseName(treeURI), id)
}

// BloomURI returns the file: URI of chunk id's Bloom filter sidecar:
// file:<filename>-<id:06d>.bf, per spec.md §4.3.
func BloomURI(treeURI string, id uint64) string {
	return fmt.Sprintf("file:%s-%06d.bf", treeBaseName(treeURI), id)
}

// walPath returns the on-disk path of chunk id's write-ahead log, used only
// while that chunk is the primary.
func walPath(walDir, treeURI string, id uint64) string {
	return filepath.Join(walDir, fmt.Sprintf("%s-%06d.wal", treeBaseName(treeURI), id))
}
