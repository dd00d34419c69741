package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"griefwatch.dev/internal/detect/engine"
	"griefwatch.dev/internal/detect/host"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBase = "https://griefwatch.dev/schemas/"

var schemaFiles = map[string]string{
	TypeHello:     "hello.schema.json",
	TypeState:     "state.schema.json",
	TypeEvent:     "event.schema.json",
	TypeSetOption: "set_option.schema.json",
	TypeAutoban:   "autoban.schema.json",
	TypeInspect:   "inspect.schema.json",
}

// Validator checks inbound host messages against the embedded schemas.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	for _, name := range schemaFiles {
		b, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(schemaBase+name, bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	v := &Validator{schemas: map[string]*jsonschema.Schema{}}
	for typ, name := range schemaFiles {
		s, err := c.Compile(schemaBase + name)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", name, err)
		}
		v.schemas[typ] = s
	}
	return v, nil
}

// Decode validates raw and returns the typed message (HelloMsg, StateMsg, EventMsg,
// SetOptionMsg, AutobanMsg or InspectMsg). Failures are *Error values.
func (v *Validator) Decode(raw []byte) (string, any, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return "", nil, &Error{Code: ErrProtoBadRequest, Message: err.Error()}
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return "", nil, &Error{Code: ErrProtoBadRequest, Message: "message is not an object"}
	}
	typ, _ := obj["type"].(string)
	s := v.schemas[typ]
	if s == nil {
		return typ, nil, &Error{Code: ErrUnknownType, Message: fmt.Sprintf("unknown message type %q", typ)}
	}
	if err := s.Validate(doc); err != nil {
		return typ, nil, &Error{Code: ErrSchema, Message: err.Error()}
	}

	var (
		msg any
		err error
	)
	switch typ {
	case TypeHello:
		var m HelloMsg
		err = json.Unmarshal(raw, &m)
		msg = m
	case TypeState:
		var m StateMsg
		err = json.Unmarshal(raw, &m)
		msg = m
	case TypeEvent:
		var m EventMsg
		err = json.Unmarshal(raw, &m)
		msg = m
	case TypeSetOption:
		var m SetOptionMsg
		err = json.Unmarshal(raw, &m)
		msg = m
	case TypeAutoban:
		var m AutobanMsg
		err = json.Unmarshal(raw, &m)
		msg = m
	case TypeInspect:
		var m InspectMsg
		err = json.Unmarshal(raw, &m)
		msg = m
	}
	if err != nil {
		return typ, nil, &Error{Code: ErrProtoBadRequest, Message: err.Error()}
	}
	return typ, msg, nil
}

func (m EventMsg) pos() host.Pos { return host.Pos{X: m.X, Y: m.Y} }

// Event converts a validated EVENT message into the engine's event type.
func (m EventMsg) Event() (engine.Event, error) {
	actor := host.ActorID(m.Actor)
	switch m.Kind {
	case "deposit":
		return engine.Deposit{Actor: actor, Pos: m.pos(), Item: m.Item, Amount: m.Amount}, nil
	case "content_changed":
		return engine.ContentChanged{Pos: m.pos(), Block: m.Block}, nil
	case "construct_progress":
		return engine.ConstructProgress{Builder: actor, Pos: m.pos(), Block: m.Block, Progress: m.Progress, Previous: m.Previous}, nil
	case "construct_finished":
		return engine.ConstructFinished{Builder: actor, Pos: m.pos(), Block: m.Block}, nil
	case "deconstruct_progress":
		return engine.DeconstructProgress{Actor: actor, Pos: m.pos(), Block: m.Block, Progress: m.Progress}, nil
	case "deconstruct_finished":
		return engine.DeconstructFinished{Actor: actor, Pos: m.pos(), Block: m.Block}, nil
	case "pre_configure":
		ev := engine.PreConfigure{Actor: actor, Pos: m.pos(), Value: m.Value}
		if m.OldValue != nil {
			ev.OldValue, ev.HasOld = *m.OldValue, true
		}
		return ev, nil
	case "rotate":
		return engine.Rotate{Actor: actor, Pos: m.pos(), Clockwise: m.Clockwise}, nil
	case "power_split":
		return engine.PowerSplit{Actor: actor, Pos: m.pos(), OldSize: m.OldSize, NewA: m.NewA, NewB: m.NewB}, nil
	case "thermal_update":
		return engine.ThermalUpdate{Pos: m.pos(), Heat: m.Heat}, nil
	case "world_load_begin":
		return engine.WorldLoadBegin{Session: m.Session}, nil
	case "actor_disconnect":
		return engine.ActorDisconnect{Actor: actor}, nil
	case "message_text":
		return engine.MessageText{Actor: actor, Pos: m.pos(), Text: m.Text}, nil
	case "actor_snapshot":
		return engine.ActorSnapshot{Actor: actor}, nil
	case "location_destroyed":
		return engine.LocationDestroyed{Pos: m.pos()}, nil
	}
	return nil, &Error{Code: ErrSchema, Message: fmt.Sprintf("unknown event kind %q", m.Kind)}
}
