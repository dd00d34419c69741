package ledger

import (
	"testing"
	"time"

	"griefwatch.dev/internal/detect/host"
)

// squareWorld reports a 2x2 structure anchored at origin and single cells elsewhere.
type squareWorld struct{ origin host.Pos }

func (w squareWorld) footprint() []host.Pos {
	o := w.origin
	return []host.Pos{o, {X: o.X + 1, Y: o.Y}, {X: o.X, Y: o.Y + 1}, {X: o.X + 1, Y: o.Y + 1}}
}

func (w squareWorld) Content(host.Pos) (string, bool) { return "vault", true }
func (w squareWorld) Cells(p host.Pos) []host.Pos {
	for _, c := range w.footprint() {
		if c == p {
			return w.footprint()
		}
	}
	return []host.Pos{p}
}
func (w squareWorld) Neighbors(host.Pos) []host.Pos                      { return nil }
func (w squareWorld) Liquid(host.Pos) (string, bool)                     { return "", false }
func (w squareWorld) Interactable(host.Pos, host.TeamID) bool            { return true }
func (w squareWorld) CoreDistance(host.TeamID, host.Pos) (float64, bool) { return 0, false }

func TestLocationRegistry_LinkRedirectsToPrimary(t *testing.T) {
	w := squareWorld{origin: host.Pos{X: 4, Y: 4}}
	reg := NewLocationRegistry(w, 0)

	primary := reg.GetOrCreate(w.origin, true)
	primary.ConstructedBy = 7
	if reg.Len() != 4 {
		t.Fatalf("len=%d want=4", reg.Len())
	}
	sec := reg.Get(host.Pos{X: 5, Y: 5})
	if sec != primary || sec.ConstructedBy != 7 {
		t.Fatalf("secondary did not resolve to primary: %+v", sec)
	}
	reg.GetOrCreate(host.Pos{X: 5, Y: 4}, false).LogInteraction(9, time.Unix(10, 0))
	if last, ok := primary.LastInteraction(); !ok || last.Actor != 9 {
		t.Fatalf("interaction not redirected: %+v ok=%v", last, ok)
	}
}

func TestLocationRegistry_LinkIdempotent(t *testing.T) {
	w := squareWorld{origin: host.Pos{X: 0, Y: 0}}
	reg := NewLocationRegistry(w, 0)
	primary := reg.Link(w.origin)
	raw := reg.Raw(host.Pos{X: 1, Y: 1})
	other := newLocationRecord(host.Pos{X: 9, Y: 9}, 0)
	raw.LinkTo(other)
	if raw.Resolve() != primary {
		t.Fatalf("relink changed primary")
	}
	reg.Link(w.origin)
	if reg.Len() != 4 || raw.Resolve() != primary {
		t.Fatalf("second link not a no-op")
	}
}

func TestLocationRegistry_UnlinkLeavesFreshSecondaries(t *testing.T) {
	w := squareWorld{origin: host.Pos{X: 2, Y: 2}}
	reg := NewLocationRegistry(w, 0)
	primary := reg.Link(w.origin)
	primary.ConstructedBy = 3
	primary.ConstructionSeen = true
	primary.Current = "vault"
	primary.LogInteraction(3, time.Unix(1, 0))

	reg.Unlink(w.origin)

	sec := reg.Get(host.Pos{X: 3, Y: 3})
	if sec == nil || sec.Linked() || sec == primary {
		t.Fatalf("secondary still linked: %+v", sec)
	}
	if sec.ConstructedBy != host.NoActor || sec.ConstructionSeen || len(sec.Interactions()) != 0 {
		t.Fatalf("secondary not fresh: %+v", sec)
	}
	if primary.ConstructionSeen || primary.ConstructedBy != host.NoActor || primary.Current != "" {
		t.Fatalf("primary not reset: %+v", primary)
	}

	again := reg.Link(w.origin)
	if again != primary || again.ConstructedBy != host.NoActor || len(again.Interactions()) != 0 {
		t.Fatalf("relink resurrected provenance: %+v", again)
	}
}

func TestLocationRegistry_OnDestroyed(t *testing.T) {
	w := squareWorld{origin: host.Pos{X: 0, Y: 0}}
	reg := NewLocationRegistry(w, 0)
	reg.Link(w.origin)
	reg.OnDestroyed(w.origin)
	if reg.Get(w.origin) != nil {
		t.Fatalf("destroyed record still present")
	}
	if sec := reg.Get(host.Pos{X: 1, Y: 0}); sec == nil || sec.Linked() {
		t.Fatalf("secondary should be detached: %+v", sec)
	}
	reg.Clear()
	if reg.Len() != 0 {
		t.Fatalf("clear left %d records", reg.Len())
	}
}

func TestLocationRecord_InteractionCap(t *testing.T) {
	rec := newLocationRecord(host.Pos{}, 3)
	for i := 1; i <= 5; i++ {
		rec.LogInteraction(host.ActorID(i), time.Unix(int64(i), 0))
	}
	got := rec.Interactions()
	if len(got) != 3 || got[0].Actor != 5 || got[2].Actor != 3 {
		t.Fatalf("interactions=%+v", got)
	}
}

func TestActorRegistry_Lifecycle(t *testing.T) {
	reg := NewActorRegistry(map[string]LimitSpec{ActionConfigure: {WindowMs: 1000, Threshold: 2}})
	a := reg.GetOrCreate(5)
	l := a.Limiter(ActionConfigure)
	if l.WindowMs != 1000 || l.Threshold != 2 {
		t.Fatalf("limiter spec not applied: %+v", l)
	}
	if a.Limiter(ActionConfigure) != l {
		t.Fatalf("limiter not reused")
	}
	if a.Limiter("unknown").Hit(1) {
		t.Fatalf("unknown action should never breach")
	}
	reg.OnDestroyed(5)
	if reg.Get(5) != nil {
		t.Fatalf("actor not removed")
	}
	reg.GetOrCreate(6)
	reg.Clear()
	if reg.Len() != 0 {
		t.Fatalf("clear left %d actors", reg.Len())
	}
}
