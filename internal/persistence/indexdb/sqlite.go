package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"griefwatch.dev/internal/catalogs"
	"griefwatch.dev/internal/config"
	"griefwatch.dev/internal/detect/alert"
	"griefwatch.dev/internal/detect/ledger"
)

// SQLiteIndex is the queryable read model of the alert and interaction ledgers. Writes
// are queued to a single writer goroutine and dropped (and counted) when the queue is
// full; the JSONL ledgers remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropAlert       atomic.Uint64
	dropInteraction atomic.Uint64
	dropBan         atomic.Uint64
	dropSession     atomic.Uint64
}

type reqKind int

const (
	reqAlert reqKind = iota + 1
	reqInteraction
	reqBan
	reqSession
	reqSync
)

type req struct {
	kind reqKind

	alert       alert.Record
	interaction ledger.Entry
	ban         BanRow
	session     SessionRow
	done        chan struct{}
}

type BanRow struct {
	Time    time.Time `json:"time"`
	Session string    `json:"session"`
	Actor   int       `json:"actor"`
	Name    string    `json:"name"`
	Invoker int       `json:"invoker"`
	Reason  string    `json:"reason,omitempty"`
}

type SessionRow struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Role      string    `json:"role,omitempty"`
	Locations int       `json:"locations"`
	Actors    int       `json:"actors"`
	Snapshot  string    `json:"snapshot,omitempty"`
}

type Stats struct {
	QueueDepth      int
	QueueCapacity   int
	DropAlert       uint64
	DropInteraction uint64
	DropBan         uint64
	DropSession     uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Bursts of configure/rotate spam must never stall the engine goroutine.
		ch: make(chan req, 262144),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			ts INTEGER NOT NULL,
			session TEXT NOT NULL,
			rule TEXT NOT NULL,
			severity TEXT NOT NULL,
			channel TEXT NOT NULL,
			actor INTEGER NOT NULL,
			x INTEGER,
			y INTEGER,
			message TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts);`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_actor_ts ON alerts(actor, ts);`,
		`CREATE TABLE IF NOT EXISTS interactions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			session TEXT NOT NULL,
			kind TEXT NOT NULL,
			actor INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			block TEXT,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_actor_ts ON interactions(actor, ts);`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_pos_ts ON interactions(x, y, ts);`,
		`CREATE TABLE IF NOT EXISTS bans (
			ts INTEGER NOT NULL,
			session TEXT NOT NULL,
			actor INTEGER NOT NULL,
			name TEXT NOT NULL,
			invoker INTEGER NOT NULL,
			reason TEXT,
			PRIMARY KEY (ts, actor)
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			ended_at INTEGER,
			role TEXT,
			locations INTEGER NOT NULL DEFAULT 0,
			actors INTEGER NOT NULL DEFAULT 0,
			snapshot_path TEXT
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		drops.Add(1)
	}
}

// WriteAlert implements alert.Sink.
func (s *SQLiteIndex) WriteAlert(r alert.Record) error {
	s.enqueue(req{kind: reqAlert, alert: r}, &s.dropAlert)
	return nil
}

// WriteInteraction implements ledger.Recorder.
func (s *SQLiteIndex) WriteInteraction(e ledger.Entry) error {
	s.enqueue(req{kind: reqInteraction, interaction: e}, &s.dropInteraction)
	return nil
}

func (s *SQLiteIndex) RecordBan(b BanRow) {
	s.enqueue(req{kind: reqBan, ban: b}, &s.dropBan)
}

// RecordSession upserts a session row. Rows with a zero EndedAt mark a running session.
func (s *SQLiteIndex) RecordSession(r SessionRow) {
	s.enqueue(req{kind: reqSession, session: r}, &s.dropSession)
}

// Sync blocks until every write queued before it is committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqSync, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:      len(s.ch),
		QueueCapacity:   cap(s.ch),
		DropAlert:       s.dropAlert.Load(),
		DropInteraction: s.dropInteraction.Load(),
		DropBan:         s.dropBan.Load(),
		DropSession:     s.dropSession.Load(),
	}
}

// UpsertCatalogs stores the content definitions and the applied tuning so alerts can be
// interpreted later against the exact thresholds that produced them.
func (s *SQLiteIndex) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune config.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	// Prefer the operator's files verbatim; fall back to the built-in definitions.
	add := func(name, file, digest string, defs any) {
		if configDir != "" {
			if b, err := os.ReadFile(filepath.Join(configDir, file)); err == nil && len(b) > 0 {
				rows = append(rows, kv{name: name, digest: digest, json: b})
				return
			}
		}
		if b, err := json.Marshal(defs); err == nil {
			rows = append(rows, kv{name: name, digest: digest, json: b})
		}
	}
	add("blocks", "blocks.json", cats.Blocks.Digest, cats.BlockDefs())
	add("items", "items.json", cats.Items.Digest, cats.ItemDefs())
	add("liquids", "liquids.json", cats.Liquids.Digest, cats.LiquidDefs())
	{
		// Tuning: store the values actually applied (canonical JSON).
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.name == "" || r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertAlert, _ := s.db.Prepare(`INSERT OR REPLACE INTO alerts(id,ts,session,rule,severity,channel,actor,x,y,message) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertInteraction, _ := s.db.Prepare(`INSERT INTO interactions(ts,session,kind,actor,x,y,block,raw_json) VALUES(?,?,?,?,?,?,?,?)`)
	insertBan, _ := s.db.Prepare(`INSERT OR REPLACE INTO bans(ts,session,actor,name,invoker,reason) VALUES(?,?,?,?,?,?)`)
	upsertSession, _ := s.db.Prepare(`INSERT INTO sessions(id,started_at,ended_at,role,locations,actors,snapshot_path) VALUES(?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			ended_at=COALESCE(excluded.ended_at, sessions.ended_at),
			role=COALESCE(NULLIF(excluded.role,''), sessions.role),
			locations=MAX(excluded.locations, sessions.locations),
			actors=MAX(excluded.actors, sessions.actors),
			snapshot_path=COALESCE(NULLIF(excluded.snapshot_path,''), sessions.snapshot_path)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertAlert, insertInteraction, insertBan, upsertSession} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	// Commit idle transactions so readers sharing the connection are not starved.
	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		var r req
		select {
		case <-ticker.C:
			flushIfNeeded()
			continue
		case rr, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			r = rr
		}
		if r.kind == reqSync {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqAlert:
			a := r.alert
			var x, y sql.NullInt64
			if a.HasPos {
				x = sql.NullInt64{Int64: int64(a.X), Valid: true}
				y = sql.NullInt64{Int64: int64(a.Y), Valid: true}
			}
			exec(insertAlert, a.ID, a.Time.UnixMilli(), a.Session, a.Rule, a.Severity, a.Channel, a.Actor, x, y, a.Message)

		case reqInteraction:
			e := r.interaction
			raw, _ := json.Marshal(e)
			exec(insertInteraction, e.Time.UnixMilli(), e.Session, e.Kind, e.Actor, e.X, e.Y, e.Block, string(raw))

		case reqBan:
			b := r.ban
			exec(insertBan, b.Time.UnixMilli(), b.Session, b.Actor, b.Name, b.Invoker, b.Reason)

		case reqSession:
			se := r.session
			var ended sql.NullInt64
			if !se.EndedAt.IsZero() {
				ended = sql.NullInt64{Int64: se.EndedAt.UnixMilli(), Valid: true}
			}
			exec(upsertSession, se.ID, se.StartedAt.UnixMilli(), ended, se.Role, se.Locations, se.Actors, se.Snapshot)
		}
		flushIfNeeded()
	}
}
