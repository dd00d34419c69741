package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"griefwatch.dev/internal/config"
	"griefwatch.dev/internal/detect/engine"
	"griefwatch.dev/internal/detect/host"
	"griefwatch.dev/internal/hostmirror"
	"griefwatch.dev/internal/metrics"
	"griefwatch.dev/internal/protocol"
)

type bridge struct {
	srv    *httptest.Server
	url    string
	out    *Outbound
	cancel context.CancelFunc

	mu   sync.Mutex
	bans []host.ActorID
}

func newBridge(t *testing.T, cfg Config) *bridge {
	t.Helper()
	settings, err := config.OpenSettings(filepath.Join(t.TempDir(), "settings.yaml"))
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	v, err := protocol.NewValidator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	mirror := hostmirror.New(nil)
	out := NewOutbound(nil)
	eng := engine.New(engine.Deps{
		World: mirror, Actors: mirror, Session: mirror,
		Moderation: out, Delivery: out, Settings: settings,
	}, engine.Config{})
	mirror.OnRemoved = func(cells []host.Pos) {
		for _, c := range cells {
			eng.Handle(engine.LocationDestroyed{Pos: c})
		}
	}

	inbox := make(chan engine.Job, 64)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = eng.Run(ctx, inbox) }()

	b := &bridge{out: out, cancel: cancel}
	s := NewServer(Deps{
		Inbox:     inbox,
		Mirror:    mirror,
		Settings:  settings,
		Validator: v,
		Outbound:  out,
		Metrics:   metrics.New(),
		OnBan: func(_ *engine.Engine, _, target host.ActorID, _ string) {
			b.mu.Lock()
			b.bans = append(b.bans, target)
			b.mu.Unlock()
		},
	}, cfg)
	b.srv = httptest.NewServer(s.Handler())
	b.url = "ws" + strings.TrimPrefix(b.srv.URL, "http")
	t.Cleanup(func() {
		b.srv.Close()
		cancel()
	})
	return b
}

func (b *bridge) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(b.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil skips messages of other types.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if m["type"] == typ {
			return m
		}
	}
}

func hello(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	send(t, conn, `{"type":"HELLO","protocol_version":"1.0","role":"participant","local_team":1,"local_actor":1}`)
	return readUntil(t, conn, protocol.TypeWelcome)
}

func TestServer_HandshakeStateAndEvents(t *testing.T) {
	b := newBridge(t, Config{})
	conn := b.dial(t)

	w := hello(t, conn)
	if w["session"] == "" || w["protocol_version"] != protocol.Version {
		t.Fatalf("welcome=%v", w)
	}
	if s, _ := w["settings"].(map[string]any); s["autoban"] != false {
		t.Fatalf("settings=%v", w["settings"])
	}

	send(t, conn, `{"type":"STATE","ops":[
	  {"op":"map_load","width":100,"height":100},
	  {"op":"cores","team":1,"cores":[[50,50]]},
	  {"op":"actor","actor":{"id":1,"name":"admin","admin":true,"team":1}},
	  {"op":"actor","actor":{"id":7,"name":"griefer","team":1}}
	]}`)
	send(t, conn, `{"type":"EVENT","kind":"construct_progress","actor":7,"x":55,"y":55,"block":"thorium-reactor","progress":0.1}`)

	d := readUntil(t, conn, protocol.TypeDisplay)
	if msg, _ := d["message"].(string); !strings.Contains(msg, "griefer") || !strings.Contains(msg, "reactor") {
		t.Fatalf("display=%v", d)
	}

	send(t, conn, `{"type":"INSPECT","req_id":"i1","x":55,"y":55}`)
	res := readUntil(t, conn, protocol.TypeInspectResult)
	if res["found"] != true || res["req_id"] != "i1" {
		t.Fatalf("inspect=%v", res)
	}
	lines, _ := res["lines"].([]any)
	joined := ""
	for _, l := range lines {
		joined += l.(string) + "\n"
	}
	if !strings.Contains(joined, "griefer") {
		t.Fatalf("inspection lines=%q", joined)
	}
}

func TestServer_AutobanNeedsSetting(t *testing.T) {
	b := newBridge(t, Config{})
	conn := b.dial(t)
	hello(t, conn)
	send(t, conn, `{"type":"STATE","ops":[
	  {"op":"actor","actor":{"id":1,"name":"admin","admin":true,"team":1}},
	  {"op":"actor","actor":{"id":7,"name":"griefer","team":1}}
	]}`)

	send(t, conn, `{"type":"AUTOBAN","req_id":"a1","invoker":1,"target":7}`)
	ack := readUntil(t, conn, protocol.TypeAck)
	if ack["accepted"] != false || ack["code"] != protocol.ErrDenied || ack["req_id"] != "a1" {
		t.Fatalf("ack=%v", ack)
	}

	send(t, conn, `{"type":"SET_OPTION","req_id":"s1","name":"autoban","value":true}`)
	if ack := readUntil(t, conn, protocol.TypeAck); ack["accepted"] != true || ack["ack_for"] != protocol.TypeSetOption {
		t.Fatalf("set ack=%v", ack)
	}
	send(t, conn, `{"type":"SET_OPTION","req_id":"s2","name":"nonsense","value":true}`)
	if ack := readUntil(t, conn, protocol.TypeAck); ack["code"] != protocol.ErrUnknownSetting {
		t.Fatalf("unknown setting ack=%v", ack)
	}

	send(t, conn, `{"type":"AUTOBAN","req_id":"a2","invoker":1,"target":7,"reason":"grief"}`)
	ban := readUntil(t, conn, protocol.TypeBan)
	if ban["actor"] != float64(7) {
		t.Fatalf("ban=%v", ban)
	}
	if ack := readUntil(t, conn, protocol.TypeAck); ack["accepted"] != true || ack["req_id"] != "a2" {
		t.Fatalf("autoban ack=%v", ack)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.bans) != 1 || b.bans[0] != 7 {
		t.Fatalf("bans=%v", b.bans)
	}
}

func TestServer_RejectsInvalidRequests(t *testing.T) {
	b := newBridge(t, Config{})
	conn := b.dial(t)
	hello(t, conn)

	send(t, conn, `{"type":"SET_OPTION","req_id":"x","name":"verbose"}`)
	ack := readUntil(t, conn, protocol.TypeAck)
	if ack["code"] != protocol.ErrSchema || ack["req_id"] != "x" {
		t.Fatalf("ack=%v", ack)
	}
	send(t, conn, `{"type":"HELLO","protocol_version":"1.0","role":"server"}`)
	if ack := readUntil(t, conn, protocol.TypeAck); ack["code"] != protocol.ErrProtoBadRequest {
		t.Fatalf("second hello ack=%v", ack)
	}
}

func TestServer_RateLimitsRequests(t *testing.T) {
	b := newBridge(t, Config{MsgRate: 0.001, MsgBurst: 1})
	conn := b.dial(t)
	hello(t, conn)

	send(t, conn, `{"type":"INSPECT","req_id":"1","x":1,"y":1}`)
	if res := readUntil(t, conn, protocol.TypeInspectResult); res["found"] != false {
		t.Fatalf("inspect=%v", res)
	}
	send(t, conn, `{"type":"INSPECT","req_id":"2","x":1,"y":1}`)
	if ack := readUntil(t, conn, protocol.TypeAck); ack["code"] != protocol.ErrRateLimit || ack["req_id"] != "2" {
		t.Fatalf("ack=%v", ack)
	}
}

func TestServer_SingleHost(t *testing.T) {
	b := newBridge(t, Config{})
	first := b.dial(t)
	hello(t, first)

	second := b.dial(t)
	send(t, second, `{"type":"HELLO","protocol_version":"1.0","role":"participant"}`)
	_ = second.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := second.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("second host err=%v", err)
	}
	if !b.out.Attached() {
		t.Fatalf("first host detached")
	}
}

func TestServer_HandshakeChecks(t *testing.T) {
	b := newBridge(t, Config{Token: "secret"})
	for _, raw := range []string{
		`{"type":"INSPECT","x":1,"y":1}`,
		`{"type":"HELLO","protocol_version":"0.1","role":"server","token":"secret"}`,
		`{"type":"HELLO","protocol_version":"1.0","role":"server","token":"nope"}`,
	} {
		conn := b.dial(t)
		send(t, conn, raw)
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
			t.Fatalf("%s: err=%v", raw, err)
		}
	}
	conn := b.dial(t)
	send(t, conn, `{"type":"HELLO","protocol_version":"1.0","role":"server","token":"secret"}`)
	readUntil(t, conn, protocol.TypeWelcome)
}

func TestOutbound_NoHost(t *testing.T) {
	o := NewOutbound(nil)
	o.Display("x")
	if err := o.Ban(7); err != ErrNoHost {
		t.Fatalf("ban err=%v", err)
	}
	if o.Dropped() != 2 {
		t.Fatalf("dropped=%d", o.Dropped())
	}
}
