package ledger

import (
	"time"

	"griefwatch.dev/internal/detect/host"
)

const DefaultInteractionCap = 8

type Interaction struct {
	Actor host.ActorID
	At    time.Time
}

// LocationRecord is the provenance state of one grid cell. Cells of a multi-cell
// structure link to the primary record and never hold state of their own.
type LocationRecord struct {
	Pos host.Pos

	ConstructedBy   host.ActorID
	DeconstructedBy host.ActorID
	LastRotatedBy   host.ActorID

	Current  string
	Previous string

	ConstructionSeen   bool
	DeconstructionSeen bool

	link *LocationRecord

	interactions []Interaction
	cap          int
}

func newLocationRecord(pos host.Pos, interactionCap int) *LocationRecord {
	if interactionCap <= 0 {
		interactionCap = DefaultInteractionCap
	}
	return &LocationRecord{Pos: pos, cap: interactionCap}
}

// Resolve returns the record that holds state for this cell.
func (r *LocationRecord) Resolve() *LocationRecord {
	if r == nil {
		return nil
	}
	if r.link != nil {
		return r.link
	}
	return r
}

func (r *LocationRecord) Linked() bool { return r.link != nil }

// Primary returns the position of the record holding state for this cell.
func (r *LocationRecord) Primary() host.Pos { return r.Resolve().Pos }

// LinkTo makes r a secondary of primary. Already linked records and self links are left alone.
func (r *LocationRecord) LinkTo(primary *LocationRecord) {
	if r.link != nil || primary == nil || primary == r {
		return
	}
	primary = primary.Resolve()
	if primary == r {
		return
	}
	r.reset()
	r.link = primary
}

// Unlink detaches a secondary and leaves it fresh.
func (r *LocationRecord) Unlink() {
	r.link = nil
	r.reset()
}

// Reset returns the record to an unseen state. Linked secondaries reset their primary.
func (r *LocationRecord) Reset() {
	r.Resolve().reset()
}

func (r *LocationRecord) reset() {
	r.ConstructedBy = host.NoActor
	r.DeconstructedBy = host.NoActor
	r.LastRotatedBy = host.NoActor
	r.Current = ""
	r.Previous = ""
	r.ConstructionSeen = false
	r.DeconstructionSeen = false
	r.interactions = r.interactions[:0]
}

// LogInteraction pushes (actor, at) to the front of the bounded interaction log.
func (r *LocationRecord) LogInteraction(actor host.ActorID, at time.Time) {
	p := r.Resolve()
	entry := Interaction{Actor: actor, At: at}
	if len(p.interactions) < p.cap {
		p.interactions = append(p.interactions, Interaction{})
	}
	copy(p.interactions[1:], p.interactions)
	p.interactions[0] = entry
}

// Interactions returns a copy of the log, most recent first.
func (r *LocationRecord) Interactions() []Interaction {
	p := r.Resolve()
	out := make([]Interaction, len(p.interactions))
	copy(out, p.interactions)
	return out
}

func (r *LocationRecord) LastInteraction() (Interaction, bool) {
	p := r.Resolve()
	if len(p.interactions) == 0 {
		return Interaction{}, false
	}
	return p.interactions[0], true
}
