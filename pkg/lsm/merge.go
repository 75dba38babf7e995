package lsm

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"boulder/internal/flags"
	"boulder/pkg/iterator"
	"boulder/pkg/sstable"
)

// withinSchedule implements the size-tiered merge schedule of spec.md
// §4.4 step 1: a chunk at generation g belongs to a candidate run while its
// count stays within chunk_size * merge_max^g, so runs of roughly equal-
// sized neighbors accumulate before a merge is triggered.
func (t *Tree) withinSchedule(count, generation uint64) bool {
	limit := t.cfg.ChunkSize
	for i := uint64(0); i < generation; i++ {
		limit *= t.cfg.MergeMax
	}
	return count <= limit
}

// pickRun scans active (excluding the primary) for the longest contiguous
// run matching the schedule, capped at merge_max chunks (spec.md §4.4 step
// 1). active is ordered oldest to newest with generation non-increasing in
// that direction, so a run tolerates generation decreasing by at most 1
// from one chunk to the next newer one, and never spans a boundary where
// generation differs by more than one. Callers must hold t.mu.
func (t *Tree) pickRun() (start, n int, ok bool) {
	active := t.roster.active
	limit := len(active)
	if t.roster.Primary() != nil {
		limit-- // never merge the chunk still accepting writes
	}

	bestStart, bestN := -1, 0
	i := 0
	for i < limit {
		if !t.withinSchedule(active[i].Count(), active[i].Generation) {
			i++
			continue
		}

		j := i + 1
		for j < limit {
			dg := int64(active[j].Generation) - int64(active[j-1].Generation)
			if dg > 0 || dg < -1 {
				break
			}
			if !t.withinSchedule(active[j].Count(), active[j].Generation) {
				break
			}
			j++
		}

		runLen := j - i
		if runLen > int(t.cfg.MergeMax) {
			runLen = int(t.cfg.MergeMax)
		}
		if runLen >= 2 && runLen > bestN {
			bestStart, bestN = i, runLen
		}
		i = j
	}

	if bestN < 2 {
		return 0, 0, false
	}
	return bestStart, bestN, true
}

// findRun locates inputs as a contiguous run within the current active
// list, used to detect whether the roster changed shape while a merge was
// staging its output (spec.md §4.4 step 4).
func (t *Tree) findRun(inputs []*Chunk) (int, bool) {
	active := t.roster.active
	for i := 0; i+len(inputs) <= len(active); i++ {
		match := true
		for k, c := range inputs {
			if active[i+k] != c {
				match = false
				break
			}
		}
		if match {
			return i, true
		}
	}
	return 0, false
}

// runMergeOnce performs one reclaim/pick/stage/build/install cycle
// (spec.md §4.4). The reclaim step at its start frees old chunks retired
// by earlier installs; the inputs this call retires stay on old[] until a
// later cycle. It is a no-op, not an error, when nothing qualifies.
func (t *Tree) runMergeOnce() error {
	t.mu.Lock()
	reclaimable := t.roster.reclaim(t.minLiveDskGenLocked())
	t.mu.Unlock()
	t.dropChunks(reclaimable) // off the tree lock: spec.md §4.4 step 5 "asynchronously"

	t.mu.Lock()
	start, n, ok := t.pickRun()
	if !ok {
		t.mu.Unlock()
		return nil
	}
	inputs := make([]*Chunk, n)
	copy(inputs, t.roster.active[start:start+n])
	t.mu.Unlock() // build outside the lock: this is the expensive step

	minorMerge := inputs[0].Generation > 0

	output, err := t.buildMergeOutput(inputs, minorMerge)
	if err != nil {
		return err
	}

	t.mu.Lock()
	curStart, curOK := t.findRun(inputs)
	if !curOK {
		t.mu.Unlock()
		t.dropChunks([]*Chunk{output}) // the roster moved under us; discard the now-orphaned output
		return fmt.Errorf("lsm: merge: roster changed since staging, retrying next tick")
	}

	dskGen := t.bumpDskGenLocked()
	t.roster.replaceRun(curStart, len(inputs), output, dskGen)
	t.stats.MergeInstalls.Add(1)

	if err := t.persistLocked(); err != nil {
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()
	return nil
}

func (t *Tree) minLiveDskGenLocked() uint64 {
	min := t.dskGen.Load()
	for _, gen := range t.liveCursors {
		if gen < min {
			min = gen
		}
	}
	return min
}

func (t *Tree) dropChunks(cs []*Chunk) {
	for _, c := range cs {
		if err := t.withSchemaLock(func() error { return t.schema.Drop(c.URI) }); err != nil {
			t.log.Warn("reclaim: drop chunk", "uri", c.URI, "error", err)
			continue
		}
		if c.BloomURI != "" {
			if err := t.withSchemaLock(func() error { return t.schema.Drop(c.BloomURI) }); err != nil {
				t.log.Warn("reclaim: drop bloom", "uri", c.BloomURI, "error", err)
			}
		}
		t.stats.ChunksReclaimed.Add(1)
	}
}

// buildMergeOutput reads every input chunk and writes their merged,
// tombstone-resolved content to a new chunk file and (if configured)
// Bloom filter, building both concurrently (spec.md §4.4 step 3 "Build").
func (t *Tree) buildMergeOutput(inputs []*Chunk, minorMerge bool) (*Chunk, error) {
	maxGen := uint64(0)
	for _, c := range inputs {
		if c.Generation > maxGen {
			maxGen = c.Generation
		}
	}
	generation := maxGen + 1
	dropTombstones := !minorMerge

	t.mu.Lock()
	id := t.last + 1
	t.last = id
	uri := ChunkURI(t.uri, id)
	bloomURI := ""
	if t.cfg.Bloom {
		bloomURI = BloomURI(t.uri, id)
	}
	t.mu.Unlock()

	if err := t.withSchemaLock(func() error { return t.schema.Create(uri) }); err != nil {
		return nil, fmt.Errorf("lsm: merge: create %s: %w", uri, err)
	}

	readers := make([]*sstable.Reader, len(inputs))
	for i, c := range inputs {
		path, err := t.schema.Path(c.URI)
		if err != nil {
			return nil, err
		}
		r, err := sstable.Open(path)
		if err != nil {
			return nil, fmt.Errorf("lsm: merge: open %s: %w", c.URI, err)
		}
		readers[i] = r
	}

	output := newChunk(id, uri, bloomURI, generation)
	output.Flags.Set(flags.ChunkOnDisk)

	var g errgroup.Group
	g.Go(func() error {
		path, err := t.schema.Path(uri)
		if err != nil {
			return err
		}
		buildIter := newKWayMergeIterator(readersToIterators(readers), dropTombstones)
		defer buildIter.Close()
		count, err := sstable.Build(path, buildIter)
		if err != nil {
			return err
		}
		output.setCount(count)
		return nil
	})
	if bloomURI != "" {
		g.Go(func() error {
			bloomIter := newKWayMergeIterator(readersToIterators(readers), dropTombstones)
			defer bloomIter.Close()
			return t.buildChunkBloom(output, bloomIter)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return output, nil
}

func readersToIterators(readers []*sstable.Reader) []iterator.Iterator {
	subs := make([]iterator.Iterator, len(readers))
	for i, r := range readers {
		subs[i] = r.Iter()
	}
	return subs
}
