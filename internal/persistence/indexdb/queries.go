package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"griefwatch.dev/internal/detect/alert"
	"griefwatch.dev/internal/detect/ledger"
)

// Reader runs the read-side queries. It can share the writer's connection or open the
// database file on its own (admin tooling).
type Reader struct {
	db    *sql.DB
	owned bool
}

func (s *SQLiteIndex) Reader() *Reader { return &Reader{db: s.db} }

// OpenReader opens an existing index file. It never creates one.
func OpenReader(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Reader{db: db, owned: true}, nil
}

func (r *Reader) Close() error {
	if r == nil || !r.owned {
		return nil
	}
	return r.db.Close()
}

type AlertQuery struct {
	Limit    int
	Actor    int // 0 = any
	Rule     string
	Severity string
	Since    time.Time
}

// RecentAlerts returns matching alerts, newest first.
func (r *Reader) RecentAlerts(ctx context.Context, q AlertQuery) ([]alert.Record, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	var (
		where []string
		args  []any
	)
	if q.Actor != 0 {
		where = append(where, "actor=?")
		args = append(args, q.Actor)
	}
	if q.Rule != "" {
		where = append(where, "rule=?")
		args = append(args, q.Rule)
	}
	if q.Severity != "" {
		where = append(where, "severity=?")
		args = append(args, q.Severity)
	}
	if !q.Since.IsZero() {
		where = append(where, "ts>=?")
		args = append(args, q.Since.UnixMilli())
	}
	sqlq := `SELECT id,ts,session,rule,severity,channel,actor,x,y,message FROM alerts`
	if len(where) > 0 {
		sqlq += " WHERE " + strings.Join(where, " AND ")
	}
	sqlq += " ORDER BY ts DESC, id LIMIT ?"
	args = append(args, q.Limit)

	rows, err := r.db.QueryContext(ctx, sqlq, args...)
	if err != nil {
		return nil, fmt.Errorf("alerts: %w", err)
	}
	defer rows.Close()
	var out []alert.Record
	for rows.Next() {
		var (
			rec  alert.Record
			ts   int64
			x, y sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &ts, &rec.Session, &rec.Rule, &rec.Severity, &rec.Channel, &rec.Actor, &x, &y, &rec.Message); err != nil {
			return nil, fmt.Errorf("alerts: %w", err)
		}
		rec.Time = time.UnixMilli(ts).UTC()
		if x.Valid && y.Valid {
			rec.X, rec.Y, rec.HasPos = int(x.Int64), int(y.Int64), true
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ActorInteractions returns the journal entries of one actor since a time, newest first.
func (r *Reader) ActorInteractions(ctx context.Context, actor int, since time.Time, limit int) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.interactions(ctx,
		`SELECT raw_json FROM interactions WHERE actor=? AND ts>=? ORDER BY ts DESC, seq DESC LIMIT ?`,
		actor, since.UnixMilli(), limit)
}

// LocationInteractions returns who touched a cell, newest first.
func (r *Reader) LocationInteractions(ctx context.Context, x, y, limit int) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.interactions(ctx,
		`SELECT raw_json FROM interactions WHERE x=? AND y=? ORDER BY ts DESC, seq DESC LIMIT ?`,
		x, y, limit)
}

func (r *Reader) interactions(ctx context.Context, q string, args ...any) ([]ledger.Entry, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("interactions: %w", err)
	}
	defer rows.Close()
	var out []ledger.Entry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("interactions: %w", err)
		}
		var e ledger.Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("interactions: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Reader) Bans(ctx context.Context, limit int) ([]BanRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT ts,session,actor,name,invoker,COALESCE(reason,'') FROM bans ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("bans: %w", err)
	}
	defer rows.Close()
	var out []BanRow
	for rows.Next() {
		var (
			b  BanRow
			ts int64
		)
		if err := rows.Scan(&ts, &b.Session, &b.Actor, &b.Name, &b.Invoker, &b.Reason); err != nil {
			return nil, fmt.Errorf("bans: %w", err)
		}
		b.Time = time.UnixMilli(ts).UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Reader) Sessions(ctx context.Context, limit int) ([]SessionRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id,started_at,ended_at,COALESCE(role,''),locations,actors,COALESCE(snapshot_path,'') FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sessions: %w", err)
	}
	defer rows.Close()
	var out []SessionRow
	for rows.Next() {
		var (
			se      SessionRow
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&se.ID, &started, &ended, &se.Role, &se.Locations, &se.Actors, &se.Snapshot); err != nil {
			return nil, fmt.Errorf("sessions: %w", err)
		}
		se.StartedAt = time.UnixMilli(started).UTC()
		if ended.Valid {
			se.EndedAt = time.UnixMilli(ended.Int64).UTC()
		}
		out = append(out, se)
	}
	return out, rows.Err()
}
