package lsm

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"boulder/internal/lsmconfig"
)

// metadataRecord is the single opaque record a tree stores in the metadata
// service (spec.md §6 "Metadata record"): "contains configuration plus the
// active and old chunk lists with their URIs, generations, flags, and
// approximate counts." Re-read at Open, rewritten atomically after every
// roster mutation.
type metadataRecord struct {
	Config lsmconfig.Config
	Last   uint64
	Active []chunkRecord
	Old    []chunkRecord
}

// encodeMetadata packs cfg, the last-allocated chunk ID, and the roster
// into the tree's metadata record. msgpack (internal/pack's underlying
// library) keeps this record in the same opaque-but-deterministic binary
// shape spec.md §6 describes, rather than inventing a second encoding.
func encodeMetadata(cfg lsmconfig.Config, last uint64, roster *Roster) (string, error) {
	rec := metadataRecord{Config: cfg, Last: last}
	for _, c := range roster.active {
		rec.Active = append(rec.Active, c.record())
	}
	for _, c := range roster.old {
		rec.Old = append(rec.Old, c.record())
	}
	b, err := msgpack.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("lsm: encode metadata: %w", err)
	}
	return string(b), nil
}

// decodeMetadata is encodeMetadata's inverse, used by Tree.Open.
func decodeMetadata(s string) (lsmconfig.Config, uint64, *Roster, error) {
	var rec metadataRecord
	if err := msgpack.Unmarshal([]byte(s), &rec); err != nil {
		return lsmconfig.Config{}, 0, nil, fmt.Errorf("lsm: decode metadata: %w", err)
	}

	roster := &Roster{}
	for _, cr := range rec.Active {
		roster.active = append(roster.active, chunkFromRecord(cr))
	}
	for _, cr := range rec.Old {
		roster.old = append(roster.old, chunkFromRecord(cr))
	}
	return rec.Config, rec.Last, roster, nil
}
