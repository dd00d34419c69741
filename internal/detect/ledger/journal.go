package ledger

import (
	"errors"
	"sort"
	"time"

	"griefwatch.dev/internal/detect/host"
)

// Journal entry kinds.
const (
	KindBuild       = "build"
	KindDeconstruct = "deconstruct"
	KindConfigure   = "configure"
	KindRotate      = "rotate"
	KindDeposit     = "deposit"
	KindMessage     = "message"
)

// Entry is one durable provenance record. The in-memory interaction log only keeps the
// last few actors per cell; entries are what the undo planner reads back.
type Entry struct {
	Time    time.Time `json:"ts"`
	Session string    `json:"session"`
	Kind    string    `json:"kind"`
	Actor   int       `json:"actor"`
	X       int       `json:"x"`
	Y       int       `json:"y"`
	Block   string    `json:"block,omitempty"`

	// Previous is the block a build replaced or the block a deconstruct removed.
	Previous string `json:"previous,omitempty"`
	// Config values for configure entries; Rotation direction for rotate entries.
	OldValue *int32 `json:"old_value,omitempty"`
	NewValue *int32 `json:"new_value,omitempty"`
	Rotation int    `json:"rotation,omitempty"`
	Item     string `json:"item,omitempty"`
	Amount   int    `json:"amount,omitempty"`
	Text     string `json:"text,omitempty"`
}

func (e Entry) Pos() host.Pos { return host.Pos{X: e.X, Y: e.Y} }

// Recorder persists journal entries. Implementations must not block the caller.
type Recorder interface {
	WriteInteraction(Entry) error
}

// Recorders fans one entry out to several recorders.
type Recorders []Recorder

func (rs Recorders) WriteInteraction(e Entry) error {
	var errs []error
	for _, r := range rs {
		if err := r.WriteInteraction(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Snapshot is the ledger state at a session boundary.
type Snapshot struct {
	Session   string             `json:"session"`
	Time      time.Time          `json:"time"`
	Locations []LocationSnapshot `json:"locations"`
	Actors    []ActorSnapshot    `json:"actors"`
}

type LocationSnapshot struct {
	X                  int               `json:"x"`
	Y                  int               `json:"y"`
	Linked             []host.Pos        `json:"linked,omitempty"`
	ConstructedBy      int               `json:"constructed_by,omitempty"`
	DeconstructedBy    int               `json:"deconstructed_by,omitempty"`
	LastRotatedBy      int               `json:"last_rotated_by,omitempty"`
	Current            string            `json:"current,omitempty"`
	Previous           string            `json:"previous,omitempty"`
	ConstructionSeen   bool              `json:"construction_seen,omitempty"`
	DeconstructionSeen bool              `json:"deconstruction_seen,omitempty"`
	Interactions       []InteractionJSON `json:"interactions,omitempty"`
}

type InteractionJSON struct {
	Actor int       `json:"actor"`
	At    time.Time `json:"at"`
}

type ActorSnapshot struct {
	ID     int            `json:"id"`
	Events map[string]int `json:"events"`
}

// Capture copies the registries into a Snapshot. Secondaries are folded into their primary.
func Capture(session string, at time.Time, locs *LocationRegistry, actors *ActorRegistry) Snapshot {
	s := Snapshot{Session: session, Time: at.UTC()}
	if locs != nil {
		linked := map[*LocationRecord][]host.Pos{}
		for pos, rec := range locs.byPos {
			if rec.link != nil {
				linked[rec.link] = append(linked[rec.link], pos)
			}
		}
		for _, rec := range locs.Primaries() {
			ls := LocationSnapshot{
				X:                  rec.Pos.X,
				Y:                  rec.Pos.Y,
				Linked:             sortPos(linked[rec]),
				ConstructedBy:      int(rec.ConstructedBy),
				DeconstructedBy:    int(rec.DeconstructedBy),
				LastRotatedBy:      int(rec.LastRotatedBy),
				Current:            rec.Current,
				Previous:           rec.Previous,
				ConstructionSeen:   rec.ConstructionSeen,
				DeconstructionSeen: rec.DeconstructionSeen,
			}
			for _, in := range rec.interactions {
				ls.Interactions = append(ls.Interactions, InteractionJSON{Actor: int(in.Actor), At: in.At.UTC()})
			}
			s.Locations = append(s.Locations, ls)
		}
	}
	if actors != nil {
		for _, id := range actors.IDs() {
			rec := actors.byID[id]
			as := ActorSnapshot{ID: int(id), Events: map[string]int{}}
			for _, action := range rec.Actions() {
				as.Events[action] = rec.limiters[action].Events()
			}
			s.Actors = append(s.Actors, as)
		}
	}
	return s
}

func sortPos(ps []host.Pos) []host.Pos {
	sort.Slice(ps, func(i, j int) bool { return less(ps[i], ps[j]) })
	return ps
}

func less(a, b host.Pos) bool {
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.X < b.X
}
