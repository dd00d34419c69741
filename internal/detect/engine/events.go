package engine

import "griefwatch.dev/internal/detect/host"

// Event is one observed world mutation. The concrete types below are the only
// implementations; Handle switches on them.
type Event interface {
	Kind() string
}

// Deposit: an actor moved items into the structure at Pos.
type Deposit struct {
	Actor  host.ActorID
	Pos    host.Pos
	Item   string
	Amount int
}

// ContentChanged: the host replaced the block at Pos outside the construct/deconstruct flow.
type ContentChanged struct {
	Pos   host.Pos
	Block string
}

type ConstructProgress struct {
	Builder  host.ActorID
	Pos      host.Pos
	Block    string
	Progress float64
	// Previous is the block being replaced ("" or air for empty ground).
	Previous string
}

type ConstructFinished struct {
	Builder host.ActorID
	Pos     host.Pos
	Block   string
}

type DeconstructProgress struct {
	Actor    host.ActorID
	Pos      host.Pos
	Block    string
	Progress float64
}

// DeconstructFinished is delivered before the host removes the block.
type DeconstructFinished struct {
	Actor host.ActorID
	Pos   host.Pos
	Block string
}

// PreConfigure is delivered before Value is applied. OldValue is the current config
// of the block, when it has one.
type PreConfigure struct {
	Actor    host.ActorID
	Pos      host.Pos
	Value    int32
	OldValue int32
	HasOld   bool
}

type Rotate struct {
	Actor     host.ActorID
	Pos       host.Pos
	Clockwise bool
}

type PowerSplit struct {
	Actor   host.ActorID
	Pos     host.Pos
	OldSize int
	NewA    int
	NewB    int
}

type ThermalUpdate struct {
	Pos  host.Pos
	Heat float64
}

// WorldLoadBegin marks a session boundary. Session names the session that starts;
// empty means the engine generates one.
type WorldLoadBegin struct {
	Session string
}

type ActorDisconnect struct {
	Actor host.ActorID
}

// MessageText: an actor edited the text of a message block.
type MessageText struct {
	Actor host.ActorID
	Pos   host.Pos
	Text  string
}

// ActorSnapshot: the host sent a full state update for an actor.
type ActorSnapshot struct {
	Actor host.ActorID
}

// LocationDestroyed: the cell no longer exists in the host (map unload, block removed).
type LocationDestroyed struct {
	Pos host.Pos
}

func (Deposit) Kind() string             { return "deposit" }
func (ContentChanged) Kind() string      { return "content_changed" }
func (ConstructProgress) Kind() string   { return "construct_progress" }
func (ConstructFinished) Kind() string   { return "construct_finished" }
func (DeconstructProgress) Kind() string { return "deconstruct_progress" }
func (DeconstructFinished) Kind() string { return "deconstruct_finished" }
func (PreConfigure) Kind() string        { return "pre_configure" }
func (Rotate) Kind() string              { return "rotate" }
func (PowerSplit) Kind() string          { return "power_split" }
func (ThermalUpdate) Kind() string       { return "thermal_update" }
func (WorldLoadBegin) Kind() string      { return "world_load_begin" }
func (ActorDisconnect) Kind() string     { return "actor_disconnect" }
func (MessageText) Kind() string         { return "message_text" }
func (ActorSnapshot) Kind() string       { return "actor_snapshot" }
func (LocationDestroyed) Kind() string   { return "location_destroyed" }
