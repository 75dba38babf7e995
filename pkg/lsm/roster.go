package lsm

// Roster is a tree's chunk stack: active, ordered oldest to newest, with at
// most one entry (the last) not yet on disk; and old, chunks superseded by
// a merge and awaiting reclamation once no cursor observes them (spec.md
// §3 "Chunk roster"). Every method here must be called with the owning
// tree's lock held.
type Roster struct {
	active []*Chunk
	old    []*Chunk
}

// Active returns the active chunk list, oldest first. The slice is owned
// by the roster; callers must not retain it past the lock section.
func (r *Roster) Active() []*Chunk { return r.active }

// Old returns the chunks pending reclamation.
func (r *Roster) Old() []*Chunk { return r.old }

// Primary returns the writable chunk — active's last entry, if it has not
// yet been sealed on-disk — or nil if the roster has no active chunks.
func (r *Roster) Primary() *Chunk {
	if len(r.active) == 0 {
		return nil
	}
	last := r.active[len(r.active)-1]
	if last.OnDisk() {
		return nil
	}
	return last
}

func (r *Roster) appendActive(c *Chunk) {
	r.active = append(r.active, c)
}

// replaceRun atomically replaces active[start:start+n] with output,
// retiring the replaced chunks onto old (spec.md §4.4 step 4 "Install").
func (r *Roster) replaceRun(start, n int, output *Chunk, dskGen uint64) {
	retired := make([]*Chunk, n)
	copy(retired, r.active[start:start+n])
	for _, c := range retired {
		c.retiredAtDskGen = dskGen
	}
	r.old = append(r.old, retired...)

	rest := make([]*Chunk, 0, len(r.active)-n+1)
	rest = append(rest, r.active[:start]...)
	rest = append(rest, output)
	rest = append(rest, r.active[start+n:]...)
	r.active = rest
}

// moveAllToOld retires every active chunk, for truncate (spec.md §4.2).
// Callers are responsible for installing a fresh primary afterward via
// Switch.
func (r *Roster) moveAllToOld(dskGen uint64) []*Chunk {
	moved := r.active
	for _, c := range moved {
		c.retiredAtDskGen = dskGen
	}
	r.old = append(r.old, moved...)
	r.active = nil
	return moved
}

// reclaim removes and returns every old chunk with no live cursor whose
// retirement dsk_gen is at or below minLiveDskGen — the oldest dsk_gen any still-bound
// cursor might be using (spec.md §4.4 step 5).
func (r *Roster) reclaim(minLiveDskGen uint64) []*Chunk {
	kept := r.old[:0:0]
	var reclaimed []*Chunk
	for _, c := range r.old {
		if c.CursorCount() == 0 && c.retiredAtDskGen <= minLiveDskGen {
			reclaimed = append(reclaimed, c)
		} else {
			kept = append(kept, c)
		}
	}
	r.old = kept
	return reclaimed
}

// uris returns every URI (chunk + Bloom) currently referenced by the
// roster, for the roster/metadata-agreement testable property (spec.md §8
// property 5).
func (r *Roster) uris() []string {
	var out []string
	add := func(c *Chunk) {
		out = append(out, c.URI)
		if c.BloomURI != "" {
			out = append(out, c.BloomURI)
		}
	}
	for _, c := range r.active {
		add(c)
	}
	for _, c := range r.old {
		add(c)
	}
	return out
}
