package alert

import (
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"griefwatch.dev/internal/detect/host"
)

const (
	DefaultMaxMessageLength = 150
	DefaultCooldown         = time.Second
)

// Delivery channels.
const (
	ChannelBroadcast = "broadcast"
	ChannelDisplay   = "display"
	ChannelLog       = "log"
)

type Outcome string

const (
	Delivered Outcome = "delivered"
	Throttled Outcome = "throttled"
	Rejected  Outcome = "rejected"
)

type DispatcherConfig struct {
	MaxMessageLength int
	Cooldown         time.Duration
	Now              func() time.Time
	Logger           *log.Logger
	Sinks            []Sink
	// OnOutcome observes every dispatch (metrics).
	OnOutcome func(a Alert, channel string, outcome Outcome)
}

// Dispatcher routes messages to exactly one delivery channel and enforces the global
// cool-down between throttled sends.
type Dispatcher struct {
	delivery host.Delivery
	session  host.Session
	settings host.Settings

	cfg       DispatcherConfig
	next      time.Time
	sessionID string
}

func NewDispatcher(delivery host.Delivery, session host.Session, settings host.Settings, cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = DefaultMaxMessageLength
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Dispatcher{delivery: delivery, session: session, settings: settings, cfg: cfg}
}

// Send delivers msg and reports whether it went out.
func (d *Dispatcher) Send(msg string, throttled bool) bool {
	_, outcome := d.send(msg, throttled)
	return outcome == Delivered
}

// Dispatch sends an alert and records it in the sinks when delivered.
func (d *Dispatcher) Dispatch(a Alert) bool {
	channel, outcome := d.send(a.Message, a.Throttled)
	if d.cfg.OnOutcome != nil {
		d.cfg.OnOutcome(a, channel, outcome)
	}
	if outcome != Delivered {
		return false
	}
	if len(d.cfg.Sinks) == 0 {
		return true
	}
	rec := Record{
		ID:       uuid.NewString(),
		Time:     d.cfg.Now().UTC(),
		Session:  d.sessionID,
		Rule:     a.Rule,
		Severity: a.Severity.String(),
		Channel:  channel,
		Message:  a.Message,
		Actor:    int(a.Actor),
	}
	if a.Pos != nil {
		rec.X, rec.Y, rec.HasPos = a.Pos.X, a.Pos.Y, true
	}
	for _, s := range d.cfg.Sinks {
		if err := s.WriteAlert(rec); err != nil && d.cfg.Logger != nil {
			d.cfg.Logger.Printf("alert sink: %v", err)
		}
	}
	return true
}

// Reset clears the cool-down and tags following records with a new session id.
func (d *Dispatcher) Reset(sessionID string) {
	d.next = time.Time{}
	d.sessionID = sessionID
}

func (d *Dispatcher) send(msg string, throttled bool) (string, Outcome) {
	if n := utf8.RuneCountInString(msg); n > d.cfg.MaxMessageLength {
		// Oversized messages stay local; only the rejection is shown.
		if d.delivery != nil {
			d.delivery.Display(fmt.Sprintf("[scarlet]WARNING: a grief warning exceeded maximum allowed chat length and was not sent. Message length was [accent]%d[]", n))
		}
		return ChannelDisplay, Rejected
	}
	now := d.cfg.Now()
	if throttled && !now.After(d.next) {
		return "", Throttled
	}
	d.next = now.Add(d.cfg.Cooldown)

	channel := d.channel()
	if d.delivery == nil {
		return channel, Delivered
	}
	switch channel {
	case ChannelBroadcast:
		d.delivery.Broadcast(msg)
	case ChannelDisplay:
		d.delivery.Display(msg)
	case ChannelLog:
		d.delivery.Log("[griefwarnings] " + msg)
	}
	return channel, Delivered
}

func (d *Dispatcher) channel() string {
	if d.settings != nil && d.settings.Flags().Broadcast {
		return ChannelBroadcast
	}
	role := host.RoleStandalone
	if d.session != nil {
		role = d.session.Role()
	}
	switch role {
	case host.RoleAuthority:
		return ChannelLog
	default:
		return ChannelDisplay
	}
}
