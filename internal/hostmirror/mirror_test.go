package hostmirror

import (
	"math"
	"sort"
	"testing"

	"griefwatch.dev/internal/catalogs"
	"griefwatch.dev/internal/detect/host"
	"griefwatch.dev/internal/detect/ledger"
)

var (
	_ host.World   = (*Mirror)(nil)
	_ host.Actors  = (*Mirror)(nil)
	_ host.Session = (*Mirror)(nil)
)

func TestMirror_CentredFootprint(t *testing.T) {
	m := New(nil)
	m.Load(50, 50)
	m.Place(host.Pos{X: 10, Y: 10}, "vault", 1)

	cells := m.Cells(host.Pos{X: 9, Y: 11})
	if len(cells) != 9 || cells[0] != (host.Pos{X: 9, Y: 9}) || cells[8] != (host.Pos{X: 11, Y: 11}) {
		t.Fatalf("cells=%v", cells)
	}
	if b, ok := m.Content(host.Pos{X: 11, Y: 9}); !ok || b != "vault" {
		t.Fatalf("content=%q ok=%v", b, ok)
	}
	if b, _ := m.Content(host.Pos{X: 12, Y: 10}); b != catalogs.Air {
		t.Fatalf("outside footprint=%q", b)
	}
	if _, ok := m.Content(host.Pos{X: 50, Y: 0}); ok {
		t.Fatalf("out of bounds reported content")
	}

	// Even sizes extend up and right of the origin.
	m.Place(host.Pos{X: 20, Y: 20}, "container", 1)
	if cells := m.Cells(host.Pos{X: 21, Y: 21}); len(cells) != 4 || cells[0] != (host.Pos{X: 20, Y: 20}) {
		t.Fatalf("container cells=%v", cells)
	}
}

func TestMirror_NeighborsRing(t *testing.T) {
	m := New(nil)
	m.Load(50, 50)
	m.Place(host.Pos{X: 10, Y: 10}, "thorium-reactor", 1)

	ring := m.Neighbors(host.Pos{X: 10, Y: 10})
	if len(ring) != 12 {
		t.Fatalf("ring=%d %v", len(ring), ring)
	}
	for _, p := range ring {
		dx, dy := p.X-10, p.Y-10
		if max(abs(dx), abs(dy)) != 2 || (abs(dx) == 2 && abs(dy) == 2) {
			t.Fatalf("unexpected neighbour %v", p)
		}
	}

	// Clipped at the map edge.
	m.Place(host.Pos{X: 0, Y: 0}, "sorter", 1)
	if ring := m.Neighbors(host.Pos{X: 0, Y: 0}); len(ring) != 2 {
		t.Fatalf("corner ring=%v", ring)
	}
}

func TestMirror_PlaceOverlapsAndRemove(t *testing.T) {
	m := New(nil)
	m.Load(50, 50)
	var freed []host.Pos
	m.OnRemoved = func(cells []host.Pos) { freed = append(freed, cells...) }

	m.Place(host.Pos{X: 10, Y: 10}, "conveyor", 1)
	m.Place(host.Pos{X: 11, Y: 11}, "vault", 1)
	if b, _ := m.Content(host.Pos{X: 10, Y: 10}); b != "vault" {
		t.Fatalf("overlap not replaced: %q", b)
	}
	if len(freed) != 0 {
		t.Fatalf("replacement reported removal: %v", freed)
	}

	m.Remove(host.Pos{X: 12, Y: 12})
	if len(freed) != 9 {
		t.Fatalf("freed=%v", freed)
	}
	if b, _ := m.Content(host.Pos{X: 11, Y: 11}); b != catalogs.Air {
		t.Fatalf("still occupied: %q", b)
	}
	m.Remove(host.Pos{X: 11, Y: 11})
	if len(freed) != 9 {
		t.Fatalf("empty remove reported cells")
	}
}

func TestMirror_LoadReportsEveryOccupiedCell(t *testing.T) {
	m := New(nil)
	m.Load(50, 50)
	m.Place(host.Pos{X: 5, Y: 5}, "vault", 1)
	m.Place(host.Pos{X: 20, Y: 20}, "sorter", 1)
	m.SetLiquid(host.Pos{X: 1, Y: 1}, "water")
	m.SetCores(1, []host.Pos{{X: 0, Y: 0}})

	var freed []host.Pos
	m.OnRemoved = func(cells []host.Pos) { freed = append(freed, cells...) }
	m.Load(10, 10)

	if len(freed) != 10 {
		t.Fatalf("freed=%d", len(freed))
	}
	if w, h := m.Size(); w != 10 || h != 10 {
		t.Fatalf("size=%dx%d", w, h)
	}
	if _, ok := m.Liquid(host.Pos{X: 1, Y: 1}); ok {
		t.Fatalf("liquid survived reload")
	}
	if _, ok := m.CoreDistance(1, host.Pos{}); ok {
		t.Fatalf("cores survived reload")
	}
}

func TestMirror_CoreDistanceAndInteractable(t *testing.T) {
	m := New(nil)
	m.Load(100, 100)
	m.SetCores(1, []host.Pos{{X: 0, Y: 0}, {X: 50, Y: 50}})
	d, ok := m.CoreDistance(1, host.Pos{X: 53, Y: 54})
	if !ok || math.Abs(d-5) > 1e-9 {
		t.Fatalf("distance=%v ok=%v", d, ok)
	}
	if _, ok := m.CoreDistance(2, host.Pos{}); ok {
		t.Fatalf("team without cores has a distance")
	}

	m.Place(host.Pos{X: 10, Y: 10}, "thorium-reactor", 2)
	m.Place(host.Pos{X: 20, Y: 20}, "vault", Derelict)
	if m.Interactable(host.Pos{X: 11, Y: 11}, 1) || !m.Interactable(host.Pos{X: 11, Y: 11}, 2) {
		t.Fatalf("team check")
	}
	if !m.Interactable(host.Pos{X: 20, Y: 20}, 1) {
		t.Fatalf("derelict not interactable")
	}
	if m.Interactable(host.Pos{X: 40, Y: 40}, 1) {
		t.Fatalf("empty cell interactable")
	}
}

func TestMirror_ActorsAndSession(t *testing.T) {
	m := New(nil)
	m.UpsertActor(host.Actor{ID: 7, Name: "griefer", Team: 1})
	m.UpsertActor(host.Actor{ID: host.NoActor, Name: "ghost"})
	m.UpsertActor(host.Actor{ID: 7, Name: "griefer2", Team: 1})
	if a, ok := m.Actor(7); !ok || a.Name != "griefer2" || m.ActorCount() != 1 {
		t.Fatalf("actor=%+v ok=%v count=%d", a, ok, m.ActorCount())
	}
	m.RemoveActor(7)
	if _, ok := m.Actor(7); ok {
		t.Fatalf("actor survived removal")
	}

	m.SetSession(host.RoleAuthority, 1, 3)
	if m.Role() != host.RoleAuthority || m.LocalTeam() != 1 || m.LocalActor() != 3 {
		t.Fatalf("session role=%v team=%v actor=%v", m.Role(), m.LocalTeam(), m.LocalActor())
	}
}

// The location registry links every cell of a mirrored structure to one primary.
func TestMirror_DrivesLocationLinking(t *testing.T) {
	m := New(nil)
	m.Load(50, 50)
	m.Place(host.Pos{X: 10, Y: 10}, "vault", 1)

	reg := ledger.NewLocationRegistry(m, 8)
	primary := reg.Link(host.Pos{X: 10, Y: 10})
	var got []host.Pos
	for _, c := range m.Cells(host.Pos{X: 10, Y: 10}) {
		if reg.Get(c) != primary {
			got = append(got, c)
		}
	}
	sort.Slice(got, func(i, j int) bool { return got[i].X < got[j].X })
	if len(got) != 0 {
		t.Fatalf("cells not resolved to primary: %v", got)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
