package protocol

import (
	"errors"
	"testing"

	"griefwatch.dev/internal/detect/engine"
	"griefwatch.dev/internal/detect/host"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func decodeOK(t *testing.T, v *Validator, raw string) (string, any) {
	t.Helper()
	typ, msg, err := v.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return typ, msg
}

func decodeCode(t *testing.T, v *Validator, raw string) string {
	t.Helper()
	_, _, err := v.Decode([]byte(raw))
	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("decode %s: err=%v, want *Error", raw, err)
	}
	return pe.Code
}

func TestValidator_AcceptsSamples(t *testing.T) {
	v := newValidator(t)

	typ, msg := decodeOK(t, v, `{"type":"HELLO","protocol_version":"1.0","role":"server","local_team":1,"local_actor":3}`)
	if h, ok := msg.(HelloMsg); typ != TypeHello || !ok || h.Role != "server" || h.LocalActor != 3 {
		t.Fatalf("hello=%+v", msg)
	}

	_, msg = decodeOK(t, v, `{"type":"STATE","seq":4,"ops":[
	  {"op":"map_load","width":100,"height":80},
	  {"op":"place","x":10,"y":10,"block":"vault","team":1},
	  {"op":"cores","team":1,"cores":[[5,5],[50,50]]},
	  {"op":"actor","actor":{"id":7,"name":"griefer","team":1}}
	]}`)
	st := msg.(StateMsg)
	if len(st.Ops) != 4 || st.Ops[2].Cores[1] != [2]int{50, 50} || st.Ops[3].Actor.Name != "griefer" {
		t.Fatalf("state=%+v", st)
	}

	_, msg = decodeOK(t, v, `{"type":"SET_OPTION","name":"verbose","value":true}`)
	if so := msg.(SetOptionMsg); so.Name != "verbose" || !so.Value {
		t.Fatalf("set_option=%+v", so)
	}
	_, msg = decodeOK(t, v, `{"type":"AUTOBAN","req_id":"r1","invoker":1,"target":7,"reason":"grief"}`)
	if ab := msg.(AutobanMsg); ab.Target != 7 || ab.ReqID != "r1" {
		t.Fatalf("autoban=%+v", ab)
	}
	_, msg = decodeOK(t, v, `{"type":"INSPECT","x":-3,"y":4,"hud":true}`)
	if in := msg.(InspectMsg); in.X != -3 || !in.HUD {
		t.Fatalf("inspect=%+v", in)
	}
}

func TestValidator_Rejects(t *testing.T) {
	v := newValidator(t)

	if c := decodeCode(t, v, `not json`); c != ErrProtoBadRequest {
		t.Fatalf("garbage code=%s", c)
	}
	if c := decodeCode(t, v, `[1,2]`); c != ErrProtoBadRequest {
		t.Fatalf("array code=%s", c)
	}
	if c := decodeCode(t, v, `{"type":"OBS"}`); c != ErrUnknownType {
		t.Fatalf("unknown type code=%s", c)
	}
	for _, raw := range []string{
		`{"type":"HELLO","protocol_version":"1.0","role":"king"}`,
		`{"type":"STATE","ops":[{"op":"place","x":1,"y":1}]}`,
		`{"type":"STATE","ops":[{"op":"map_load"}]}`,
		`{"type":"EVENT","kind":"rotate","actor":7}`,
		`{"type":"EVENT","kind":"deposit","actor":7,"x":1,"y":1,"item":"coal"}`,
		`{"type":"EVENT","kind":"teleport","x":1,"y":1}`,
		`{"type":"EVENT","kind":"actor_disconnect"}`,
		`{"type":"EVENT","kind":"construct_progress","actor":7,"x":1,"y":1,"block":"vault","progress":1.5}`,
		`{"type":"SET_OPTION","name":"verbose","value":"yes"}`,
		`{"type":"AUTOBAN","invoker":1,"target":0}`,
		`{"type":"INSPECT","x":1,"y":1,"extra":true}`,
	} {
		if c := decodeCode(t, v, raw); c != ErrSchema {
			t.Fatalf("%s: code=%s want %s", raw, c, ErrSchema)
		}
	}
}

func TestEventMsg_ConvertsToEngineEvents(t *testing.T) {
	v := newValidator(t)

	cases := []struct {
		raw  string
		want engine.Event
	}{
		{`{"type":"EVENT","kind":"deposit","actor":7,"x":1,"y":2,"item":"coal","amount":10}`,
			engine.Deposit{Actor: 7, Pos: host.Pos{X: 1, Y: 2}, Item: "coal", Amount: 10}},
		{`{"type":"EVENT","kind":"construct_progress","actor":7,"x":1,"y":2,"block":"thorium-reactor","progress":0.5,"previous":"conveyor"}`,
			engine.ConstructProgress{Builder: 7, Pos: host.Pos{X: 1, Y: 2}, Block: "thorium-reactor", Progress: 0.5, Previous: "conveyor"}},
		{`{"type":"EVENT","kind":"pre_configure","actor":7,"x":1,"y":2,"value":3}`,
			engine.PreConfigure{Actor: 7, Pos: host.Pos{X: 1, Y: 2}, Value: 3}},
		{`{"type":"EVENT","kind":"pre_configure","actor":7,"x":1,"y":2,"value":3,"old_value":-1}`,
			engine.PreConfigure{Actor: 7, Pos: host.Pos{X: 1, Y: 2}, Value: 3, OldValue: -1, HasOld: true}},
		{`{"type":"EVENT","kind":"rotate","actor":7,"x":1,"y":2,"clockwise":true}`,
			engine.Rotate{Actor: 7, Pos: host.Pos{X: 1, Y: 2}, Clockwise: true}},
		{`{"type":"EVENT","kind":"power_split","x":1,"y":2,"old_size":500,"new_a":390,"new_b":90}`,
			engine.PowerSplit{Pos: host.Pos{X: 1, Y: 2}, OldSize: 500, NewA: 390, NewB: 90}},
		{`{"type":"EVENT","kind":"thermal_update","x":1,"y":2,"heat":0.25}`,
			engine.ThermalUpdate{Pos: host.Pos{X: 1, Y: 2}, Heat: 0.25}},
		{`{"type":"EVENT","kind":"world_load_begin","session":"s2"}`,
			engine.WorldLoadBegin{Session: "s2"}},
		{`{"type":"EVENT","kind":"actor_disconnect","actor":7}`,
			engine.ActorDisconnect{Actor: 7}},
		{`{"type":"EVENT","kind":"message_text","actor":7,"x":1,"y":2,"text":"hi"}`,
			engine.MessageText{Actor: 7, Pos: host.Pos{X: 1, Y: 2}, Text: "hi"}},
		{`{"type":"EVENT","kind":"location_destroyed","x":1,"y":2}`,
			engine.LocationDestroyed{Pos: host.Pos{X: 1, Y: 2}}},
	}
	for _, c := range cases {
		_, msg := decodeOK(t, v, c.raw)
		got, err := msg.(EventMsg).Event()
		if err != nil {
			t.Fatalf("%s: %v", c.raw, err)
		}
		if got != c.want {
			t.Fatalf("%s:\n got=%#v\nwant=%#v", c.raw, got, c.want)
		}
	}
}
