package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"griefwatch.dev/internal/catalogs"
	"griefwatch.dev/internal/config"
	"griefwatch.dev/internal/detect/alert"
	"griefwatch.dev/internal/detect/ledger"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqAlert}

	_ = s.WriteAlert(alert.Record{ID: "a"})
	_ = s.WriteInteraction(ledger.Entry{Kind: ledger.KindBuild})
	s.RecordBan(BanRow{Actor: 7})
	s.RecordSession(SessionRow{ID: "s"})

	st := s.Stats()
	if st.DropAlert != 1 || st.DropInteraction != 1 || st.DropBan != 1 || st.DropSession != 1 {
		t.Fatalf("drops=%+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_WriteAndQuery(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer idx.Close()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_ = idx.WriteAlert(alert.Record{ID: "a1", Time: base, Session: "s1", Rule: "reactor_near_core", Severity: "warn", Channel: "broadcast", Actor: 7, X: 3, Y: 4, HasPos: true, Message: "m1"})
	_ = idx.WriteAlert(alert.Record{ID: "a2", Time: base.Add(time.Second), Session: "s1", Rule: "rate_limit", Severity: "warn", Channel: "log", Actor: 8, Message: "m2"})
	_ = idx.WriteInteraction(ledger.Entry{Time: base, Session: "s1", Kind: ledger.KindBuild, Actor: 7, X: 3, Y: 4, Block: "vault"})
	_ = idx.WriteInteraction(ledger.Entry{Time: base.Add(2 * time.Second), Session: "s1", Kind: ledger.KindRotate, Actor: 7, X: 3, Y: 4, Rotation: -1})
	_ = idx.WriteInteraction(ledger.Entry{Time: base.Add(3 * time.Second), Session: "s1", Kind: ledger.KindRotate, Actor: 9, X: 5, Y: 5, Rotation: 1})
	idx.RecordBan(BanRow{Time: base, Session: "s1", Actor: 7, Name: "griefer", Invoker: 1, Reason: "autoban"})
	idx.RecordSession(SessionRow{ID: "s1", StartedAt: base, Role: "authority"})
	idx.RecordSession(SessionRow{ID: "s1", StartedAt: base, EndedAt: base.Add(time.Hour), Locations: 12, Actors: 3, Snapshot: "/tmp/s1.json.zst"})

	ctx := context.Background()
	if err := idx.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	r := idx.Reader()

	alerts, err := r.RecentAlerts(ctx, AlertQuery{})
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if len(alerts) != 2 || alerts[0].ID != "a2" || alerts[1].ID != "a1" {
		t.Fatalf("alerts=%+v", alerts)
	}
	if alerts[0].HasPos || !alerts[1].HasPos || alerts[1].X != 3 || alerts[1].Y != 4 {
		t.Fatalf("positions: %+v", alerts)
	}
	only, err := r.RecentAlerts(ctx, AlertQuery{Actor: 7, Rule: "reactor_near_core"})
	if err != nil || len(only) != 1 || only[0].Message != "m1" {
		t.Fatalf("filtered=%+v err=%v", only, err)
	}

	hist, err := r.ActorInteractions(ctx, 7, base, 0)
	if err != nil {
		t.Fatalf("ActorInteractions: %v", err)
	}
	if len(hist) != 2 || hist[0].Kind != ledger.KindRotate || hist[1].Block != "vault" {
		t.Fatalf("history=%+v", hist)
	}
	later, err := r.ActorInteractions(ctx, 7, base.Add(time.Second), 0)
	if err != nil || len(later) != 1 {
		t.Fatalf("since filter=%+v err=%v", later, err)
	}

	at, err := r.LocationInteractions(ctx, 5, 5, 10)
	if err != nil || len(at) != 1 || at[0].Actor != 9 || at[0].Rotation != 1 {
		t.Fatalf("location=%+v err=%v", at, err)
	}

	bans, err := r.Bans(ctx, 0)
	if err != nil || len(bans) != 1 || bans[0].Name != "griefer" || bans[0].Reason != "autoban" {
		t.Fatalf("bans=%+v err=%v", bans, err)
	}

	sessions, err := r.Sessions(ctx, 0)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("sessions=%+v err=%v", sessions, err)
	}
	se := sessions[0]
	if se.Role != "authority" || se.Locations != 12 || se.Actors != 3 || se.Snapshot != "/tmp/s1.json.zst" || !se.EndedAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("session=%+v", se)
	}
}

func TestSQLiteIndex_UpsertCatalogs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := idx.UpsertCatalogs("", catalogs.Defaults(), config.DefaultTuning()); err != nil {
		t.Fatalf("UpsertCatalogs: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM catalogs`).Scan(&n); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if n != 4 {
		t.Fatalf("catalog rows=%d want=4", n)
	}
	var digest string
	if err := db.QueryRow(`SELECT digest FROM catalogs WHERE name='tuning'`).Scan(&digest); err != nil || len(digest) != 64 {
		t.Fatalf("tuning digest=%q err=%v", digest, err)
	}
}

func TestOpenReader_MissingFile(t *testing.T) {
	if _, err := OpenReader(filepath.Join(t.TempDir(), "nope.db")); err == nil {
		t.Fatalf("expected error for missing index")
	}
}
