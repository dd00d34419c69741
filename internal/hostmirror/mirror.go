// Package hostmirror keeps a copy of the host's grid, actors and session, fed by the
// bridge's STATE messages, and answers the engine's host queries from it.
//
// A Mirror is owned by the engine goroutine: every mutation arrives as an engine job,
// so there is no locking.
package hostmirror

import (
	"math"

	"griefwatch.dev/internal/catalogs"
	"griefwatch.dev/internal/detect/host"
)

// Derelict is the team of abandoned buildings; anyone may interact with them.
const Derelict host.TeamID = 0

type building struct {
	origin host.Pos
	block  string
	team   host.TeamID
	size   int
}

type Mirror struct {
	cats *catalogs.Catalogs

	width, height int
	cells         map[host.Pos]*building
	liquids       map[host.Pos]string
	cores         map[host.TeamID][]host.Pos
	actors        map[host.ActorID]host.Actor

	role       host.Role
	localTeam  host.TeamID
	localActor host.ActorID

	// OnRemoved receives the cells freed by Remove and Load.
	OnRemoved func(cells []host.Pos)
}

func New(cats *catalogs.Catalogs) *Mirror {
	if cats == nil {
		cats = catalogs.Defaults()
	}
	return &Mirror{
		cats:    cats,
		cells:   map[host.Pos]*building{},
		liquids: map[host.Pos]string{},
		cores:   map[host.TeamID][]host.Pos{},
		actors:  map[host.ActorID]host.Actor{},
	}
}

// Load replaces the map. Every occupied cell of the old map is reported as removed.
func (m *Mirror) Load(width, height int) {
	if len(m.cells) > 0 && m.OnRemoved != nil {
		freed := make([]host.Pos, 0, len(m.cells))
		for p := range m.cells {
			freed = append(freed, p)
		}
		m.OnRemoved(freed)
	}
	m.width, m.height = width, height
	m.cells = map[host.Pos]*building{}
	m.liquids = map[host.Pos]string{}
	m.cores = map[host.TeamID][]host.Pos{}
}

func (m *Mirror) Size() (int, int) { return m.width, m.height }

func (m *Mirror) inBounds(p host.Pos) bool {
	if m.width <= 0 || m.height <= 0 {
		return true
	}
	return p.X >= 0 && p.Y >= 0 && p.X < m.width && p.Y < m.height
}

// footprint lists the cells a block of the given size covers when centred on origin.
func footprint(origin host.Pos, size int) []host.Pos {
	if size <= 1 {
		return []host.Pos{origin}
	}
	off := -(size - 1) / 2
	out := make([]host.Pos, 0, size*size)
	for dy := 0; dy < size; dy++ {
		for dx := 0; dx < size; dx++ {
			out = append(out, host.Pos{X: origin.X + off + dx, Y: origin.Y + off + dy})
		}
	}
	return out
}

func (m *Mirror) blockSize(block string) int {
	if d, ok := m.cats.Block(block); ok && d.Size > 1 {
		return d.Size
	}
	return 1
}

// Place puts a block on the grid, silently clearing whatever it overlaps.
func (m *Mirror) Place(origin host.Pos, block string, team host.TeamID) {
	if block == "" || block == catalogs.Air {
		m.clear(origin)
		return
	}
	b := &building{origin: origin, block: block, team: team, size: m.blockSize(block)}
	cells := footprint(origin, b.size)
	for _, c := range cells {
		m.clear(c)
	}
	for _, c := range cells {
		if m.inBounds(c) {
			m.cells[c] = b
		}
	}
}

func (m *Mirror) clear(p host.Pos) []host.Pos {
	b := m.cells[p]
	if b == nil {
		return nil
	}
	var freed []host.Pos
	for _, c := range footprint(b.origin, b.size) {
		if m.cells[c] == b {
			delete(m.cells, c)
			freed = append(freed, c)
		}
	}
	return freed
}

// Remove deletes the building occupying p and reports its cells.
func (m *Mirror) Remove(p host.Pos) {
	freed := m.clear(p)
	if len(freed) > 0 && m.OnRemoved != nil {
		m.OnRemoved(freed)
	}
}

func (m *Mirror) SetLiquid(p host.Pos, liquid string) {
	if liquid == "" {
		delete(m.liquids, p)
		return
	}
	m.liquids[p] = liquid
}

func (m *Mirror) SetCores(team host.TeamID, cores []host.Pos) {
	if len(cores) == 0 {
		delete(m.cores, team)
		return
	}
	m.cores[team] = append([]host.Pos(nil), cores...)
}

func (m *Mirror) UpsertActor(a host.Actor) {
	if a.ID == host.NoActor {
		return
	}
	m.actors[a.ID] = a
}

func (m *Mirror) RemoveActor(id host.ActorID) { delete(m.actors, id) }

func (m *Mirror) SetSession(role host.Role, team host.TeamID, actor host.ActorID) {
	m.role, m.localTeam, m.localActor = role, team, actor
}

// host.World

func (m *Mirror) Content(p host.Pos) (string, bool) {
	if !m.inBounds(p) {
		return "", false
	}
	if b := m.cells[p]; b != nil {
		return b.block, true
	}
	return catalogs.Air, true
}

func (m *Mirror) Cells(p host.Pos) []host.Pos {
	if b := m.cells[p]; b != nil {
		return footprint(b.origin, b.size)
	}
	return []host.Pos{p}
}

func (m *Mirror) Neighbors(p host.Pos) []host.Pos {
	origin, size := p, 1
	if b := m.cells[p]; b != nil {
		origin, size = b.origin, b.size
	}
	off := -(size - 1) / 2
	minX, minY := origin.X+off, origin.Y+off
	maxX, maxY := minX+size-1, minY+size-1

	out := make([]host.Pos, 0, 4*size)
	add := func(q host.Pos) {
		if m.inBounds(q) {
			out = append(out, q)
		}
	}
	for x := minX; x <= maxX; x++ {
		add(host.Pos{X: x, Y: minY - 1})
		add(host.Pos{X: x, Y: maxY + 1})
	}
	for y := minY; y <= maxY; y++ {
		add(host.Pos{X: minX - 1, Y: y})
		add(host.Pos{X: maxX + 1, Y: y})
	}
	return out
}

func (m *Mirror) Liquid(p host.Pos) (string, bool) {
	l, ok := m.liquids[p]
	return l, ok
}

func (m *Mirror) Interactable(p host.Pos, team host.TeamID) bool {
	b := m.cells[p]
	if b == nil {
		return false
	}
	return b.team == team || b.team == Derelict
}

func (m *Mirror) CoreDistance(team host.TeamID, p host.Pos) (float64, bool) {
	cores := m.cores[team]
	if len(cores) == 0 {
		return 0, false
	}
	best := math.Inf(1)
	for _, c := range cores {
		d := math.Hypot(float64(c.X-p.X), float64(c.Y-p.Y))
		if d < best {
			best = d
		}
	}
	return best, true
}

// host.Actors

func (m *Mirror) Actor(id host.ActorID) (host.Actor, bool) {
	a, ok := m.actors[id]
	return a, ok
}

func (m *Mirror) ActorCount() int { return len(m.actors) }

// host.Session

func (m *Mirror) Role() host.Role          { return m.role }
func (m *Mirror) LocalTeam() host.TeamID   { return m.localTeam }
func (m *Mirror) LocalActor() host.ActorID { return m.localActor }
