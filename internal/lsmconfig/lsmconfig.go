// Package lsmconfig parses the flat, comma-separated WiredTiger config
// string ("key_format=u,lsm_chunk_size=1048576,...") a tree is created
// with, per spec.md §6. No library in the retrieval pack parses this
// micro-grammar — TOML/YAML libraries elsewhere in the pack target
// whole-file node configuration, a different problem — so this is parsed
// by hand with strings/strconv, the justified stdlib use recorded in
// DESIGN.md.
package lsmconfig

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalid marks a configuration that violates one of spec.md §6's
// constraints (column-store key format, Bloom inconsistency, undersized
// cache).
var ErrInvalid = errors.New("invalid configuration")

// Config is a parsed and validated tree configuration.
type Config struct {
	KeyFormat   string
	ValueFormat string

	ChunkSize uint64
	MergeMax  uint64

	Bloom           bool
	BloomNewest     bool
	BloomOldest     bool
	BloomBitCount   uint64
	BloomHashCount  uint64
	BloomExtraConfig string

	CacheSize    uint64
	LeafPageMax  uint64
}

const (
	// defaultFormat is WiredTiger's own default key_format/value_format: a
	// single raw byte-string column, so a tree created without either
	// option behaves exactly like one whose values are opaque blobs.
	defaultFormat = "u"

	defaultChunkSize      = 1 << 20 // 1MiB
	defaultMergeMax       = 15
	defaultBloomBitCount  = 16
	defaultBloomHashCount = 8
	defaultLeafPageMax    = 32 << 10
)

// Parse parses raw into a Config, applying defaults for anything absent
// and validating the row-store-only and Bloom-consistency rules of
// spec.md §6.
func Parse(raw string) (Config, error) {
	cfg := Config{
		KeyFormat:      defaultFormat,
		ValueFormat:    defaultFormat,
		ChunkSize:      defaultChunkSize,
		MergeMax:       defaultMergeMax,
		BloomBitCount:  defaultBloomBitCount,
		BloomHashCount: defaultBloomHashCount,
		LeafPageMax:    defaultLeafPageMax,
	}

	fields, err := parseFields(raw)
	if err != nil {
		return Config{}, err
	}

	for k, v := range fields {
		switch k {
		case "key_format":
			cfg.KeyFormat = v
		case "value_format":
			cfg.ValueFormat = v
		case "lsm_chunk_size":
			cfg.ChunkSize, err = strconv.ParseUint(v, 10, 64)
		case "lsm_merge_max":
			cfg.MergeMax, err = strconv.ParseUint(v, 10, 64)
		case "lsm_bloom":
			cfg.Bloom, err = parseBool(v)
		case "lsm_bloom_newest":
			cfg.BloomNewest, err = parseBool(v)
		case "lsm_bloom_oldest":
			cfg.BloomOldest, err = parseBool(v)
		case "lsm_bloom_bit_count":
			cfg.BloomBitCount, err = strconv.ParseUint(v, 10, 64)
		case "lsm_bloom_hash_count":
			cfg.BloomHashCount, err = strconv.ParseUint(v, 10, 64)
		case "lsm_bloom_config":
			cfg.BloomExtraConfig = v
		case "cache_size":
			cfg.CacheSize, err = strconv.ParseUint(v, 10, 64)
		case "leaf_page_max":
			cfg.LeafPageMax, err = strconv.ParseUint(v, 10, 64)
		default:
			return Config{}, fmt.Errorf("lsmconfig: unrecognized option %q", k)
		}
		if err != nil {
			return Config{}, fmt.Errorf("lsmconfig: option %q: %w", k, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the constraints spec.md §6 states explicitly: LSM trees
// are row-store only, and the Bloom sub-options require lsm_bloom itself.
func (c Config) Validate() error {
	if c.KeyFormat == "r" {
		return fmt.Errorf("lsmconfig: %w: key_format=r is column-store, LSM is row-store only", ErrInvalid)
	}
	if !c.Bloom && (c.BloomNewest || c.BloomOldest) {
		return fmt.Errorf("lsmconfig: %w: lsm_bloom_newest/lsm_bloom_oldest set without lsm_bloom", ErrInvalid)
	}
	return nil
}

// SanityCheckCacheSize applies the §4.2 "open" sanity check: the configured
// cache size must be at least 3*chunk_size + merge_max*leaf_page_max.
func (c Config) SanityCheckCacheSize() error {
	required := 3*c.ChunkSize + c.MergeMax*c.LeafPageMax
	if c.CacheSize != 0 && c.CacheSize < required {
		return fmt.Errorf("lsmconfig: %w: cache_size %d below required %d", ErrInvalid, c.CacheSize, required)
	}
	return nil
}

func parseFields(raw string) (map[string]string, error) {
	fields := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return fields, nil
	}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("lsmconfig: malformed option %q", part)
		}
		fields[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return fields, nil
}

func parseBool(v string) (bool, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err == nil {
		return n != 0, nil
	}
	return strconv.ParseBool(v)
}
