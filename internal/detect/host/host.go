// Package host declares the collaborators the detection engine consumes.
// The engine never owns any of the entities behind these interfaces; it only
// resolves identities through them.
package host

import "fmt"

// Pos addresses one cell of the monitored grid.
type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Pos) String() string { return fmt.Sprintf("(%d, %d)", p.X, p.Y) }

// Pack folds a position into the single int the host uses for config values
// that point at another cell (mass driver links).
func (p Pos) Pack() int32 { return int32(p.X)<<16 | int32(uint16(p.Y)) }

func Unpack(v int32) Pos { return Pos{X: int(v >> 16), Y: int(int16(v & 0xffff))} }

// ActorID is the host's numeric player id. Zero means "no actor".
type ActorID int

const NoActor ActorID = 0

type TeamID int

type Actor struct {
	ID    ActorID
	Name  string
	Admin bool
	Team  TeamID
}

type Role int

const (
	RoleStandalone Role = iota
	RoleParticipant
	RoleAuthority
)

func (r Role) String() string {
	switch r {
	case RoleParticipant:
		return "participant"
	case RoleAuthority:
		return "authority"
	default:
		return "standalone"
	}
}

func ParseRole(s string) (Role, error) {
	switch s {
	case "", "standalone":
		return RoleStandalone, nil
	case "participant", "client":
		return RoleParticipant, nil
	case "authority", "server":
		return RoleAuthority, nil
	}
	return RoleStandalone, fmt.Errorf("unknown role %q", s)
}

// World answers read-only questions about the grid.
type World interface {
	// Content returns the block occupying pos ("" / false when empty or out of bounds).
	Content(pos Pos) (string, bool)
	// Cells lists every cell of the structure occupying pos, including pos.
	Cells(pos Pos) []Pos
	// Neighbors lists the cells bordering the structure occupying pos.
	Neighbors(pos Pos) []Pos
	Liquid(pos Pos) (string, bool)
	Interactable(pos Pos, team TeamID) bool
	CoreDistance(team TeamID, pos Pos) (float64, bool)
}

type Actors interface {
	Actor(id ActorID) (Actor, bool)
}

type Session interface {
	Role() Role
	LocalTeam() TeamID
	LocalActor() ActorID
}

type Moderation interface {
	Ban(id ActorID) error
}

// Delivery is the set of outbound channels; the dispatcher picks exactly one per message.
type Delivery interface {
	Broadcast(msg string)
	Display(msg string)
	Log(msg string)
}

// Flags are the persisted operator options.
type Flags struct {
	Broadcast   bool `yaml:"broadcast" json:"broadcast"`
	Verbose     bool `yaml:"verbose" json:"verbose"`
	Debug       bool `yaml:"debug" json:"debug"`
	TileInfoHUD bool `yaml:"tileinfohud" json:"tileinfohud"`
	Autoban     bool `yaml:"autoban" json:"autoban"`
}

type Settings interface {
	Flags() Flags
	Set(name string, value bool) error
}
