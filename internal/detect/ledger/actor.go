package ledger

import (
	"sort"

	"griefwatch.dev/internal/detect/host"
	"griefwatch.dev/internal/detect/ratelimit"
)

// Rate-limited action classes.
const (
	ActionConfigure = "configure"
	ActionRotate    = "rotate"
)

type LimitSpec struct {
	WindowMs  int64
	Threshold int
}

// ActorRecord holds the per-player limiters. It is transient: dropped on disconnect
// and on every session boundary.
type ActorRecord struct {
	ID       host.ActorID
	limiters map[string]*ratelimit.Limiter
	specs    map[string]LimitSpec
}

func newActorRecord(id host.ActorID, specs map[string]LimitSpec) *ActorRecord {
	return &ActorRecord{ID: id, limiters: map[string]*ratelimit.Limiter{}, specs: specs}
}

// Limiter returns the limiter for an action class, creating it from the registry specs.
// Unknown classes get a limiter that never breaches.
func (a *ActorRecord) Limiter(action string) *ratelimit.Limiter {
	if l, ok := a.limiters[action]; ok {
		return l
	}
	spec := a.specs[action]
	l := ratelimit.New(spec.WindowMs, spec.Threshold)
	a.limiters[action] = l
	return l
}

func (a *ActorRecord) Actions() []string {
	out := make([]string, 0, len(a.limiters))
	for k := range a.limiters {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
