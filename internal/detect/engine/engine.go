// Package engine wires the registries, rules and dispatcher into the single-threaded
// detection loop. Nothing in this package is safe for concurrent use; all calls must
// come from the goroutine running Run (or from tests driving Handle directly).
package engine

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"griefwatch.dev/internal/catalogs"
	"griefwatch.dev/internal/detect/alert"
	"griefwatch.dev/internal/detect/host"
	"griefwatch.dev/internal/detect/ledger"
	"griefwatch.dev/internal/detect/rules"
)

// DefaultBatch bounds how many queued jobs Run applies before flushing.
const DefaultBatch = 256

// Deps are the collaborators the engine resolves identities through. Only World,
// Actors, Session, Delivery and Settings are required.
type Deps struct {
	World      host.World
	Actors     host.Actors
	Session    host.Session
	Moderation host.Moderation
	Delivery   host.Delivery
	Settings   host.Settings
	Catalogs   *catalogs.Catalogs

	Logger   *log.Logger
	Sinks    []alert.Sink
	Recorder ledger.Recorder
}

type Config struct {
	Thresholds       rules.Thresholds
	Limits           map[string]ledger.LimitSpec
	MaxMessageLength int
	Cooldown         time.Duration
	InteractionCap   int
	Batch            int

	// Now is the engine clock. It must be monotonic within a run.
	Now func() time.Time

	// OnSessionReset receives the ledger state right before a session boundary clears it.
	OnSessionReset func(ledger.Snapshot)
	// OnEvent and OnAlert observe the engine (metrics).
	OnEvent func(kind string)
	OnAlert func(a alert.Alert, channel string, outcome alert.Outcome)
}

// DefaultLimits are the per-actor rate limits used when Config.Limits is empty.
func DefaultLimits() map[string]ledger.LimitSpec {
	return map[string]ledger.LimitSpec{
		ledger.ActionConfigure: {WindowMs: 1000, Threshold: 20},
		ledger.ActionRotate:    {WindowMs: 1000, Threshold: 20},
	}
}

// Job is a unit of work executed on the engine goroutine.
type Job func(e *Engine)

// Apply wraps an event as a Job.
func Apply(ev Event) Job {
	return func(e *Engine) { e.apply(ev) }
}

type Engine struct {
	deps Deps
	cfg  Config
	cats *catalogs.Catalogs

	locations  *ledger.LocationRegistry
	actors     *ledger.ActorRegistry
	dispatcher *alert.Dispatcher

	session  string
	deferred []func()
}

func New(deps Deps, cfg Config) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Thresholds == (rules.Thresholds{}) {
		cfg.Thresholds = rules.DefaultThresholds()
	}
	if len(cfg.Limits) == 0 {
		cfg.Limits = DefaultLimits()
	}
	if cfg.Batch <= 0 {
		cfg.Batch = DefaultBatch
	}
	cats := deps.Catalogs
	if cats == nil {
		cats = catalogs.Defaults()
	}
	e := &Engine{
		deps:      deps,
		cfg:       cfg,
		cats:      cats,
		locations: ledger.NewLocationRegistry(deps.World, cfg.InteractionCap),
		actors:    ledger.NewActorRegistry(cfg.Limits),
		session:   uuid.NewString(),
	}
	e.dispatcher = alert.NewDispatcher(deps.Delivery, deps.Session, deps.Settings, alert.DispatcherConfig{
		MaxMessageLength: cfg.MaxMessageLength,
		Cooldown:         cfg.Cooldown,
		Now:              cfg.Now,
		Logger:           deps.Logger,
		Sinks:            deps.Sinks,
		OnOutcome:        cfg.OnAlert,
	})
	e.dispatcher.Reset(e.session)
	return e
}

func (e *Engine) Session() string                      { return e.session }
func (e *Engine) Locations() *ledger.LocationRegistry { return e.locations }
func (e *Engine) Actors() *ledger.ActorRegistry       { return e.actors }
func (e *Engine) Dispatcher() *alert.Dispatcher       { return e.dispatcher }

// Handle applies one event and flushes the deferred notifications it produced.
func (e *Engine) Handle(ev Event) {
	e.apply(ev)
	e.Flush()
}

// Run consumes inbox until ctx is done or inbox is closed. Every receive drains up to
// Config.Batch queued jobs before flushing deferred notifications.
func (e *Engine) Run(ctx context.Context, inbox <-chan Job) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job, ok := <-inbox:
			if !ok {
				return nil
			}
			job(e)
		drain:
			for n := 1; n < e.cfg.Batch; n++ {
				select {
				case job, ok := <-inbox:
					if !ok {
						e.Flush()
						return nil
					}
					job(e)
				default:
					break drain
				}
			}
			e.Flush()
		}
	}
}

// Flush runs the notifications deferred by rate limiters, in the order they were queued.
func (e *Engine) Flush() {
	for len(e.deferred) > 0 {
		q := e.deferred
		e.deferred = nil
		for _, fn := range q {
			fn()
		}
	}
}

func (e *Engine) apply(ev Event) {
	if e.cfg.OnEvent != nil {
		e.cfg.OnEvent(ev.Kind())
	}
	switch ev := ev.(type) {
	case Deposit:
		e.onDeposit(ev)
	case ContentChanged:
		e.onContentChanged(ev)
	case ConstructProgress:
		e.onConstructProgress(ev)
	case ConstructFinished:
		e.onConstructFinished(ev)
	case DeconstructProgress:
		e.onDeconstructProgress(ev)
	case DeconstructFinished:
		e.onDeconstructFinished(ev)
	case PreConfigure:
		e.onPreConfigure(ev)
	case Rotate:
		e.onRotate(ev)
	case PowerSplit:
		e.onPowerSplit(ev)
	case ThermalUpdate:
		e.onThermal(ev)
	case WorldLoadBegin:
		e.onWorldLoad(ev)
	case ActorDisconnect:
		e.onDisconnect(ev)
	case MessageText:
		e.onMessageText(ev)
	case ActorSnapshot:
		e.onActorSnapshot(ev)
	case LocationDestroyed:
		e.locations.OnDestroyed(ev.Pos)
	default:
		e.logf("unknown event %T", ev)
	}
}

func (e *Engine) flags() host.Flags {
	if e.deps.Settings == nil {
		return host.Flags{}
	}
	return e.deps.Settings.Flags()
}

func (e *Engine) who(id host.ActorID) rules.Who {
	if id == host.NoActor || e.deps.Actors == nil {
		return rules.Who{}
	}
	a, ok := e.deps.Actors.Actor(id)
	return rules.Who{Actor: a, Known: ok}
}

func (e *Engine) content(pos host.Pos) (catalogs.BlockDef, bool) {
	if e.deps.World == nil {
		return catalogs.BlockDef{}, false
	}
	id, ok := e.deps.World.Content(pos)
	if !ok || id == "" || id == catalogs.Air {
		return catalogs.BlockDef{}, false
	}
	return e.block(id), true
}

// block resolves a block id, synthesizing a classless definition for unknown ids.
func (e *Engine) block(id string) catalogs.BlockDef {
	if d, ok := e.cats.Block(id); ok {
		return d
	}
	return catalogs.BlockDef{ID: id, Name: id}
}

func (e *Engine) nowMs() int64 { return e.cfg.Now().UnixMilli() }

func (e *Engine) dispatch(alerts ...alert.Alert) {
	for _, a := range alerts {
		e.dispatcher.Dispatch(a)
	}
}

func (e *Engine) dispatchIf(a alert.Alert, ok bool) {
	if ok {
		e.dispatcher.Dispatch(a)
	}
}

func (e *Engine) record(ent ledger.Entry) {
	if e.deps.Recorder == nil {
		return
	}
	ent.Time = e.cfg.Now().UTC()
	ent.Session = e.session
	if err := e.deps.Recorder.WriteInteraction(ent); err != nil {
		e.logf("interaction journal: %v", err)
	}
}

func (e *Engine) logf(format string, args ...any) {
	if e.deps.Logger != nil {
		e.deps.Logger.Printf(format, args...)
	}
}

func entry(kind string, actor host.ActorID, pos host.Pos) ledger.Entry {
	return ledger.Entry{Kind: kind, Actor: int(actor), X: pos.X, Y: pos.Y}
}
