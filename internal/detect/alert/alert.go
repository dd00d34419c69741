package alert

import (
	"time"

	"griefwatch.dev/internal/detect/host"
)

type Severity int

const (
	Debug Severity = iota
	Verbose
	Notice
	Warning
	Autoban
)

func (s Severity) String() string {
	switch s {
	case Debug:
		return "debug"
	case Verbose:
		return "verbose"
	case Notice:
		return "notice"
	case Warning:
		return "warning"
	case Autoban:
		return "autoban"
	}
	return "unknown"
}

// Alert is one candidate message produced by a rule. Throttled alerts are subject to
// the dispatcher cool-down; unthrottled ones always go out.
type Alert struct {
	Rule      string
	Severity  Severity
	Message   string
	Throttled bool

	Actor host.ActorID
	Pos   *host.Pos
}

// Record is what the dispatcher hands to sinks after delivering an alert.
type Record struct {
	ID       string    `json:"id"`
	Time     time.Time `json:"time"`
	Session  string    `json:"session,omitempty"`
	Rule     string    `json:"rule"`
	Severity string    `json:"severity"`
	Channel  string    `json:"channel"`
	Message  string    `json:"message"`
	Actor    int       `json:"actor,omitempty"`
	X        int       `json:"x"`
	Y        int       `json:"y"`
	HasPos   bool      `json:"has_pos"`
}

type Sink interface {
	WriteAlert(Record) error
}
