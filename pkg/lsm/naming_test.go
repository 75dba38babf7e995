package lsm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkURI(t *testing.T) {
	tests := []struct {
		name    string
		treeURI string
		id      uint64
		want    string
	}{
		{"simple name", "lsm:orders", 1, "file:orders-000001.lsm"},
		{"large id is zero-padded to six digits", "lsm:orders", 42, "file:orders-000042.lsm"},
		{"id wider than six digits is not truncated", "lsm:orders", 1234567, "file:orders-1234567.lsm"},
		{"name without the lsm: prefix is passed through unchanged", "orders", 1, "file:orders-000001.lsm"},
		{"nested name", "lsm:db/orders", 1, "file:db/orders-000001.lsm"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ChunkURI(tt.treeURI, tt.id))
		})
	}
}

func TestBloomURI(t *testing.T) {
	tests := []struct {
		name    string
		treeURI string
		id      uint64
		want    string
	}{
		{"simple name", "lsm:orders", 1, "file:orders-000001.bf"},
		{"large id is zero-padded to six digits", "lsm:orders", 42, "file:orders-000042.bf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, BloomURI(tt.treeURI, tt.id))
		})
	}
}

func TestWalPath(t *testing.T) {
	tests := []struct {
		name    string
		walDir  string
		treeURI string
		id      uint64
		want    string
	}{
		{"simple name", "/var/wal", "lsm:orders", 1, "/var/wal/orders-000001.wal"},
		{"large id is zero-padded to six digits", "/var/wal", "lsm:orders", 7, "/var/wal/orders-000007.wal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, walPath(tt.walDir, tt.treeURI, tt.id))
		})
	}
}

func TestTreeBaseName(t *testing.T) {
	require.Equal(t, "orders", treeBaseName("lsm:orders"))
	require.Equal(t, "orders", treeBaseName("orders"))
	require.Equal(t, "", treeBaseName("lsm:"))
}
