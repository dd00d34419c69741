package alert

import (
	"strings"
	"testing"
	"time"

	"griefwatch.dev/internal/detect/host"
)

type recDelivery struct {
	broadcast, display, logged []string
}

func (d *recDelivery) Broadcast(msg string) { d.broadcast = append(d.broadcast, msg) }
func (d *recDelivery) Display(msg string)   { d.display = append(d.display, msg) }
func (d *recDelivery) Log(msg string)       { d.logged = append(d.logged, msg) }

type fixedSession struct{ role host.Role }

func (s fixedSession) Role() host.Role          { return s.role }
func (s fixedSession) LocalTeam() host.TeamID   { return 1 }
func (s fixedSession) LocalActor() host.ActorID { return 1 }

type flagSettings struct{ f host.Flags }

func (s *flagSettings) Flags() host.Flags      { return s.f }
func (s *flagSettings) Set(string, bool) error { return nil }

type memSink struct{ recs []Record }

func (m *memSink) WriteAlert(r Record) error { m.recs = append(m.recs, r); return nil }

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestDispatcher(role host.Role, broadcast bool) (*Dispatcher, *recDelivery, *clock, *memSink) {
	del := &recDelivery{}
	clk := &clock{t: time.Unix(1000, 0)}
	sink := &memSink{}
	d := NewDispatcher(del, fixedSession{role: role}, &flagSettings{f: host.Flags{Broadcast: broadcast}}, DispatcherConfig{
		Now:   clk.now,
		Sinks: []Sink{sink},
	})
	return d, del, clk, sink
}

func TestDispatcher_ChannelSelection(t *testing.T) {
	d, del, _, _ := newTestDispatcher(host.RoleAuthority, true)
	d.Send("a", false)
	if len(del.broadcast) != 1 || len(del.display)+len(del.logged) != 0 {
		t.Fatalf("broadcast flag should win: %+v", del)
	}

	d, del, _, _ = newTestDispatcher(host.RoleParticipant, false)
	d.Send("b", false)
	if len(del.display) != 1 || len(del.broadcast)+len(del.logged) != 0 {
		t.Fatalf("participant should display locally: %+v", del)
	}

	d, del, _, _ = newTestDispatcher(host.RoleAuthority, false)
	d.Send("c", false)
	if len(del.logged) != 1 || del.logged[0] != "[griefwarnings] c" {
		t.Fatalf("authority should log: %+v", del)
	}
}

func TestDispatcher_ThrottleCooldown(t *testing.T) {
	d, del, clk, _ := newTestDispatcher(host.RoleParticipant, false)
	if !d.Send("one", true) {
		t.Fatalf("first throttled send dropped")
	}
	clk.t = clk.t.Add(500 * time.Millisecond)
	if d.Send("two", true) {
		t.Fatalf("second throttled send inside cool-down delivered")
	}
	if !d.Send("three", false) {
		t.Fatalf("unthrottled send dropped")
	}
	clk.t = clk.t.Add(1001 * time.Millisecond)
	if !d.Send("four", true) {
		t.Fatalf("throttled send after cool-down dropped")
	}
	if strings.Join(del.display, ",") != "one,three,four" {
		t.Fatalf("display=%v", del.display)
	}
}

func TestDispatcher_RejectsOversized(t *testing.T) {
	d, del, _, sink := newTestDispatcher(host.RoleAuthority, true)
	long := strings.Repeat("x", DefaultMaxMessageLength+1)
	if d.Dispatch(Alert{Rule: "test", Severity: Warning, Message: long}) {
		t.Fatalf("oversized message delivered")
	}
	if len(del.broadcast) != 0 || len(del.logged) != 0 {
		t.Fatalf("oversized message reached a channel: %+v", del)
	}
	if len(del.display) != 1 || strings.Contains(del.display[0], long) || !strings.Contains(del.display[0], "151") {
		t.Fatalf("expected a single rejection notice, got %v", del.display)
	}
	if len(sink.recs) != 0 {
		t.Fatalf("rejected alert recorded")
	}
}

func TestDispatcher_DispatchRecords(t *testing.T) {
	d, _, _, sink := newTestDispatcher(host.RoleParticipant, false)
	d.Reset("s1")
	pos := host.Pos{X: 3, Y: 4}
	if !d.Dispatch(Alert{Rule: "r", Severity: Notice, Message: "m", Actor: 5, Pos: &pos}) {
		t.Fatalf("dispatch failed")
	}
	if len(sink.recs) != 1 {
		t.Fatalf("records=%d", len(sink.recs))
	}
	r := sink.recs[0]
	if r.ID == "" || r.Session != "s1" || r.Severity != "notice" || r.Channel != ChannelDisplay || !r.HasPos || r.X != 3 || r.Actor != 5 {
		t.Fatalf("record=%+v", r)
	}
}

func TestFormatHelpers(t *testing.T) {
	if got := Player(host.Actor{ID: 4, Name: "bob"}, true); got != "bob[white] ([stat]#4[])" {
		t.Fatalf("Player=%q", got)
	}
	if got := Player(host.Actor{}, false); got != "[lightgray]unknown[]" {
		t.Fatalf("unknown Player=%q", got)
	}
	if got := Tile(nil); got != "(none)" {
		t.Fatalf("Tile(nil)=%q", got)
	}
	if got := Tile(&host.Pos{X: 1, Y: -2}); got != "(1, -2)" {
		t.Fatalf("Tile=%q", got)
	}
}
