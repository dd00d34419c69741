package ledger

import (
	"sort"

	"griefwatch.dev/internal/detect/host"
)

// LocationRegistry maps cells to their records without owning the cells. Entries
// disappear when the host reports the cell destroyed or the session ends.
type LocationRegistry struct {
	world   host.World
	byPos   map[host.Pos]*LocationRecord
	logSize int
}

func NewLocationRegistry(world host.World, interactionCap int) *LocationRegistry {
	return &LocationRegistry{world: world, byPos: map[host.Pos]*LocationRecord{}, logSize: interactionCap}
}

// Get returns the resolved record for pos, or nil when none exists.
func (r *LocationRegistry) Get(pos host.Pos) *LocationRecord {
	return r.byPos[pos].Resolve()
}

// Raw returns the record stored for pos without following links.
func (r *LocationRegistry) Raw(pos host.Pos) *LocationRecord {
	return r.byPos[pos]
}

// GetOrCreate returns the resolved record for pos, creating it on miss. When
// linkNeighbors is set, the other cells of the structure are linked to the new record.
func (r *LocationRegistry) GetOrCreate(pos host.Pos, linkNeighbors bool) *LocationRecord {
	if rec, ok := r.byPos[pos]; ok {
		return rec.Resolve()
	}
	rec := newLocationRecord(pos, r.logSize)
	r.byPos[pos] = rec
	if linkNeighbors {
		r.linkCells(pos, rec)
	}
	return rec
}

// Link attaches every other cell of the structure at pos to its primary record.
func (r *LocationRegistry) Link(pos host.Pos) *LocationRecord {
	primary := r.GetOrCreate(pos, true)
	r.linkCells(pos, primary)
	return primary
}

// Unlink detaches all cells of the structure at pos and resets the primary.
func (r *LocationRegistry) Unlink(pos host.Pos) {
	primary := r.Get(pos)
	if primary == nil {
		return
	}
	primary.Reset()
	// Scan everything: the host may already report a different footprint for pos.
	for _, rec := range r.byPos {
		if rec.link == primary {
			rec.Unlink()
		}
	}
}

func (r *LocationRegistry) linkCells(pos host.Pos, primary *LocationRecord) {
	if r.world == nil {
		return
	}
	for _, c := range r.world.Cells(pos) {
		if c == primary.Pos {
			continue
		}
		rec, ok := r.byPos[c]
		if !ok {
			rec = newLocationRecord(c, r.logSize)
			r.byPos[c] = rec
		}
		rec.LinkTo(primary)
	}
}

// OnDestroyed drops the record for a cell whose identity no longer exists in the host.
// Secondaries pointing at it are detached.
func (r *LocationRegistry) OnDestroyed(pos host.Pos) {
	rec, ok := r.byPos[pos]
	if !ok {
		return
	}
	delete(r.byPos, pos)
	for _, other := range r.byPos {
		if other.link == rec {
			other.Unlink()
		}
	}
}

func (r *LocationRegistry) Clear() {
	r.byPos = map[host.Pos]*LocationRecord{}
}

func (r *LocationRegistry) Len() int { return len(r.byPos) }

// Primaries returns every unlinked record, ordered by position.
func (r *LocationRegistry) Primaries() []*LocationRecord {
	out := make([]*LocationRecord, 0, len(r.byPos))
	for _, rec := range r.byPos {
		if rec.link == nil {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i].Pos, out[j].Pos) })
	return out
}

type ActorRegistry struct {
	byID  map[host.ActorID]*ActorRecord
	specs map[string]LimitSpec
}

func NewActorRegistry(specs map[string]LimitSpec) *ActorRegistry {
	return &ActorRegistry{byID: map[host.ActorID]*ActorRecord{}, specs: specs}
}

func (r *ActorRegistry) Get(id host.ActorID) *ActorRecord {
	return r.byID[id]
}

func (r *ActorRegistry) GetOrCreate(id host.ActorID) *ActorRecord {
	if rec, ok := r.byID[id]; ok {
		return rec
	}
	rec := newActorRecord(id, r.specs)
	r.byID[id] = rec
	return rec
}

// OnDestroyed drops the record of an actor that left the session.
func (r *ActorRegistry) OnDestroyed(id host.ActorID) {
	delete(r.byID, id)
}

func (r *ActorRegistry) Clear() {
	r.byID = map[host.ActorID]*ActorRecord{}
}

func (r *ActorRegistry) Len() int { return len(r.byID) }

// IDs returns the tracked actor ids in ascending order.
func (r *ActorRegistry) IDs() []host.ActorID {
	out := make([]host.ActorID, 0, len(r.byID))
	for id := range r.byID {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
