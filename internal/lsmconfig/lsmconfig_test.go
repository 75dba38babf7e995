package lsmconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse("")
	require.NoError(t, err)
	require.Equal(t, defaultFormat, cfg.KeyFormat)
	require.Equal(t, defaultFormat, cfg.ValueFormat)
	require.Equal(t, uint64(defaultChunkSize), cfg.ChunkSize)
	require.Equal(t, uint64(defaultMergeMax), cfg.MergeMax)
	require.Equal(t, uint64(defaultBloomBitCount), cfg.BloomBitCount)
	require.Equal(t, uint64(defaultBloomHashCount), cfg.BloomHashCount)
	require.Equal(t, uint64(defaultLeafPageMax), cfg.LeafPageMax)
	require.False(t, cfg.Bloom)
}

func TestParseValid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Config
	}{
		{
			name: "key and value format override",
			raw:  "key_format=u,value_format=5S",
			want: Config{KeyFormat: "u", ValueFormat: "5S", ChunkSize: defaultChunkSize, MergeMax: defaultMergeMax,
				BloomBitCount: defaultBloomBitCount, BloomHashCount: defaultBloomHashCount, LeafPageMax: defaultLeafPageMax},
		},
		{
			name: "chunk size and merge max",
			raw:  "lsm_chunk_size=2048,lsm_merge_max=4",
			want: Config{KeyFormat: defaultFormat, ValueFormat: defaultFormat, ChunkSize: 2048, MergeMax: 4,
				BloomBitCount: defaultBloomBitCount, BloomHashCount: defaultBloomHashCount, LeafPageMax: defaultLeafPageMax},
		},
		{
			name: "bloom with both sub-options, numeric booleans",
			raw:  "lsm_bloom=1,lsm_bloom_newest=1,lsm_bloom_oldest=0",
			want: Config{KeyFormat: defaultFormat, ValueFormat: defaultFormat, ChunkSize: defaultChunkSize, MergeMax: defaultMergeMax,
				Bloom: true, BloomNewest: true, BloomOldest: false,
				BloomBitCount: defaultBloomBitCount, BloomHashCount: defaultBloomHashCount, LeafPageMax: defaultLeafPageMax},
		},
		{
			name: "bloom with go-style booleans",
			raw:  "lsm_bloom=true,lsm_bloom_oldest=true",
			want: Config{KeyFormat: defaultFormat, ValueFormat: defaultFormat, ChunkSize: defaultChunkSize, MergeMax: defaultMergeMax,
				Bloom: true, BloomOldest: true,
				BloomBitCount: defaultBloomBitCount, BloomHashCount: defaultBloomHashCount, LeafPageMax: defaultLeafPageMax},
		},
		{
			name: "whitespace around options and values is trimmed",
			raw:  " lsm_chunk_size = 4096 , lsm_merge_max = 8 ",
			want: Config{KeyFormat: defaultFormat, ValueFormat: defaultFormat, ChunkSize: 4096, MergeMax: 8,
				BloomBitCount: defaultBloomBitCount, BloomHashCount: defaultBloomHashCount, LeafPageMax: defaultLeafPageMax},
		},
		{
			name: "cache size large enough for the sanity check",
			raw:  "cache_size=100000000",
			want: Config{KeyFormat: defaultFormat, ValueFormat: defaultFormat, ChunkSize: defaultChunkSize, MergeMax: defaultMergeMax,
				BloomBitCount: defaultBloomBitCount, BloomHashCount: defaultBloomHashCount, LeafPageMax: defaultLeafPageMax,
				CacheSize: 100000000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"column store key format rejected", "key_format=r"},
		{"bloom newest without bloom", "lsm_bloom_newest=1"},
		{"bloom oldest without bloom", "lsm_bloom_oldest=1"},
		{"malformed option with no equals sign", "lsm_chunk_size"},
		{"unrecognized option", "not_a_real_option=1"},
		{"non-numeric chunk size", "lsm_chunk_size=abc"},
		{"non-boolean lsm_bloom", "lsm_bloom=maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw)
			require.Error(t, err)
		})
	}
}

func TestSanityCheckCacheSizeTooSmall(t *testing.T) {
	cfg, err := Parse("lsm_chunk_size=1000000,lsm_merge_max=15,leaf_page_max=32768,cache_size=1")
	require.NoError(t, err, "Parse itself does not apply the cache-size check")

	err = cfg.SanityCheckCacheSize()
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestSanityCheckCacheSizeZeroMeansUnset(t *testing.T) {
	cfg, err := Parse("")
	require.NoError(t, err)
	require.NoError(t, cfg.SanityCheckCacheSize(), "cache_size=0 means unconfigured, not undersized")
}
