package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"griefwatch.dev/internal/adminauth"
	"griefwatch.dev/internal/catalogs"
	"griefwatch.dev/internal/config"
	"griefwatch.dev/internal/detect/alert"
	"griefwatch.dev/internal/detect/engine"
	"griefwatch.dev/internal/detect/host"
	"griefwatch.dev/internal/detect/ledger"
	"griefwatch.dev/internal/hostmirror"
	"griefwatch.dev/internal/metrics"
	"griefwatch.dev/internal/persistence/indexdb"
	persistlog "griefwatch.dev/internal/persistence/log"
	"griefwatch.dev/internal/persistence/snapshot"
	"griefwatch.dev/internal/protocol"
	"griefwatch.dev/internal/transport/ws"
)

func main() {
	var (
		addr         = flag.String("addr", ":8080", "http listen address")
		configDir    = flag.String("configs", "./configs", "config directory (blocks/items/liquids catalogs)")
		dataDir      = flag.String("data", "./data", "runtime data directory")
		tuningPath   = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		settingsPath = flag.String("settings", "", "path to settings.yaml (default: <data>/settings.yaml)")
		hostToken    = flag.String("host_token", "", "token the host must present in HELLO (or set GW_HOST_TOKEN)")
		disableDB    = flag.Bool("disable_db", false, "disable indexing (alerts/interactions/bans/sessions)")
		noSnapshots  = flag.Bool("disable_snapshots", false, "do not write ledger snapshots at session boundaries")
		inboxSize    = flag.Int("inbox", 4096, "engine inbox capacity")
		adminSecret  = flag.String("admin_secret", "", "HMAC secret for /admin endpoints (or set GW_ADMIN_SECRET; empty: loopback only)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[griefwatchd] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}
	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := config.LoadTuning(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = config.DefaultTuning()
	}
	sp := strings.TrimSpace(*settingsPath)
	if sp == "" {
		sp = filepath.Join(*dataDir, "settings.yaml")
	}
	settings, err := config.OpenSettings(sp)
	if err != nil {
		logger.Fatalf("open settings: %v", err)
	}
	token := strings.TrimSpace(*hostToken)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("GW_HOST_TOKEN"))
	}

	m := metrics.New()

	idx, err := openRuntimeIndexes(*dataDir, *configDir, *disableDB, cats, tune, m, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	defer idx.Close()

	alertLog := persistlog.NewAlertLogger(*dataDir)
	interactionLog := persistlog.NewInteractionLogger(*dataDir)
	defer alertLog.Close()
	defer interactionLog.Close()

	mirror := hostmirror.New(cats)
	out := ws.NewOutbound(logger)
	m.Queue("outbound", func() float64 { return float64(out.Pending()) }, func() float64 { return float64(out.Dropped()) })

	// Session bookkeeping is touched only on the engine goroutine.
	sessionStart := time.Now().UTC()
	sessions := make(chan sessionEnd, 4)

	ecfg := tune.EngineConfig()
	ecfg.OnEvent = m.Event
	ecfg.OnAlert = m.Alert
	ecfg.OnSessionReset = func(snap ledger.Snapshot) {
		m.SessionReset()
		row := indexdb.SessionRow{
			ID:        snap.Session,
			StartedAt: sessionStart,
			EndedAt:   snap.Time,
			Role:      mirror.Role().String(),
			Locations: len(snap.Locations),
			Actors:    len(snap.Actors),
		}
		sessionStart = snap.Time
		select {
		case sessions <- sessionEnd{snap: snap, row: row}:
		default:
			logger.Printf("session writer busy; dropping snapshot for session %s", snap.Session)
		}
	}

	eng := engine.New(engine.Deps{
		World:      mirror,
		Actors:     mirror,
		Session:    mirror,
		Moderation: out,
		Delivery:   out,
		Settings:   settings,
		Catalogs:   cats,
		Logger:     logger,
		Sinks:      append([]alert.Sink{alertLog}, idx.sinks()...),
		Recorder:   append(ledger.Recorders{interactionLog}, idx.recorders()...),
	}, ecfg)
	mirror.OnRemoved = func(cells []host.Pos) {
		for _, c := range cells {
			eng.Handle(engine.LocationDestroyed{Pos: c})
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	// Session writer.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for s := range sessions {
			writeSession(*dataDir, !*noSnapshots, s, idx, logger)
		}
	}()

	inbox := make(chan engine.Job, *inboxSize)
	m.Queue("inbox", func() float64 { return float64(len(inbox)) }, func() float64 { return 0 })
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := eng.Run(ctx, inbox); err != nil && err != context.Canceled {
			logger.Printf("engine stopped: %v", err)
		}
		// Run has returned; the registries are safe to read here.
		final := ledger.Capture(eng.Session(), time.Now(), eng.Locations(), eng.Actors())
		sessions <- sessionEnd{snap: final, row: indexdb.SessionRow{
			ID:        final.Session,
			StartedAt: sessionStart,
			EndedAt:   final.Time,
			Role:      mirror.Role().String(),
			Locations: len(final.Locations),
			Actors:    len(final.Actors),
		}}
		close(sessions)
	}()

	go func() {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				select {
				case inbox <- func(e *engine.Engine) { m.SetRegistrySizes(e.Locations().Len(), e.Actors().Len()) }:
				default:
				}
			}
		}
	}()

	validator, err := protocol.NewValidator()
	if err != nil {
		logger.Fatalf("schemas: %v", err)
	}
	wsCfg := ws.DefaultConfig()
	wsCfg.Token = token
	hostSrv := ws.NewServer(ws.Deps{
		Inbox:     inbox,
		Mirror:    mirror,
		Settings:  settings,
		Catalogs:  cats,
		Validator: validator,
		Outbound:  out,
		Metrics:   m,
		Logger:    logger,
		OnBan: func(e *engine.Engine, invoker, target host.ActorID, reason string) {
			name := ""
			if a, ok := mirror.Actor(target); ok {
				name = a.Name
			}
			idx.RecordBan(indexdb.BanRow{
				Time:    time.Now().UTC(),
				Session: e.Session(),
				Actor:   int(target),
				Name:    name,
				Invoker: int(invoker),
				Reason:  reason,
			})
			logger.Printf("autoban actor=%d name=%q invoker=%d", target, name, invoker)
		},
	}, wsCfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/v1/host", hostSrv.Handler())

	enableAdminHTTP := envBool("GW_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("GW_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		secret := strings.TrimSpace(*adminSecret)
		if secret == "" {
			secret = strings.TrimSpace(os.Getenv("GW_ADMIN_SECRET"))
		}
		admin := adminauth.NewVerifier(secret)
		mux.HandleFunc("/admin/v1/state", admin.Wrap(func(rw http.ResponseWriter, r *http.Request) {
			runAdminJob(rw, r, inbox, func(e *engine.Engine) any {
				w, h := mirror.Size()
				return adminState{
					Session:      e.Session(),
					HostAttached: out.Attached(),
					Role:         mirror.Role().String(),
					Width:        w,
					Height:       h,
					Locations:    e.Locations().Len(),
					Actors:       e.Actors().Len(),
					Online:       mirror.ActorCount(),
					Settings:     settings.Values(),
				}
			})
		}))
		mux.HandleFunc("/admin/v1/settings", admin.Wrap(func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			var req struct {
				Name  string `json:"name"`
				Value bool   `json:"value"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(rw, "bad json", http.StatusBadRequest)
				return
			}
			runAdminJob(rw, r, inbox, func(e *engine.Engine) any {
				if err := settings.Set(req.Name, req.Value); err != nil {
					return map[string]any{"ok": false, "error": err.Error()}
				}
				logger.Printf("setting %s=%v (admin)", req.Name, req.Value)
				return map[string]any{"ok": true, "settings": settings.Values()}
			})
		}))
		if secret == "" {
			logger.Printf("admin endpoints restricted to loopback (GW_ADMIN_SECRET unset)")
		}
	} else {
		logger.Printf("admin endpoints disabled (GW_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s session=%s", *addr, eng.Session())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("ListenAndServe: %v", err)
		cancel()
	}
	<-engineDone
	<-writerDone
	logger.Printf("stopped")
}

type sessionEnd struct {
	snap ledger.Snapshot
	row  indexdb.SessionRow
}

type adminState struct {
	Session      string          `json:"session"`
	HostAttached bool            `json:"host_attached"`
	Role         string          `json:"role"`
	Width        int             `json:"width"`
	Height       int             `json:"height"`
	Locations    int             `json:"locations"`
	Actors       int             `json:"actors"`
	Online       int             `json:"online"`
	Settings     map[string]bool `json:"settings"`
}

func writeSession(dataDir string, snapshots bool, s sessionEnd, idx indexes, logger *log.Logger) {
	if snapshots && (len(s.snap.Locations) > 0 || len(s.snap.Actors) > 0) {
		path := snapshot.Path(dataDir, s.snap.Session, s.snap.Time)
		if err := snapshot.WriteLedger(path, s.snap); err != nil {
			logger.Printf("snapshot write: %v", err)
		} else {
			s.row.Snapshot = path
		}
	}
	idx.RecordSession(s.row)
	logger.Printf("session %s ended locations=%d actors=%d", s.row.ID, s.row.Locations, s.row.Actors)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

// runAdminJob evaluates fn on the engine goroutine and writes its result as JSON.
func runAdminJob(rw http.ResponseWriter, r *http.Request, inbox chan<- engine.Job, fn func(e *engine.Engine) any) {
	resp := make(chan any, 1)
	select {
	case inbox <- func(e *engine.Engine) { resp <- fn(e) }:
	case <-r.Context().Done():
		return
	}
	select {
	case v := <-resp:
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(v)
	case <-time.After(5 * time.Second):
		http.Error(rw, "engine busy", http.StatusServiceUnavailable)
	}
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
