package ratelimit

// Limiter counts events inside a sliding window of WindowMs and reports a breach once
// Threshold events are present. Timestamps are milliseconds from a monotonic clock.
type Limiter struct {
	WindowMs  int64
	Threshold int

	events []int64

	notified           bool
	lastNotifiedWindow int64
}

func New(windowMs int64, threshold int) *Limiter {
	return &Limiter{WindowMs: windowMs, Threshold: threshold}
}

// Record appends one event and prunes everything that fell out of the window.
func (l *Limiter) Record(nowMs int64) {
	l.events = append(l.events, nowMs)
	l.prune(nowMs)
}

// Hit records an event and reports whether the limiter is now breached.
func (l *Limiter) Hit(nowMs int64) bool {
	l.Record(nowMs)
	return l.Breached()
}

func (l *Limiter) Breached() bool {
	if l.Threshold <= 0 {
		return false
	}
	return len(l.events) >= l.Threshold
}

func (l *Limiter) Events() int { return len(l.events) }

// WindowID buckets a timestamp into a fixed window; zero-length windows collapse to the timestamp.
func (l *Limiter) WindowID(nowMs int64) int64 {
	if l.WindowMs <= 0 {
		return nowMs
	}
	return nowMs / l.WindowMs
}

// NotifyOnce calls fn at most once per distinct window id and reports whether it did.
func (l *Limiter) NotifyOnce(windowID int64, fn func(*Limiter)) bool {
	if l.notified && l.lastNotifiedWindow == windowID {
		return false
	}
	l.notified = true
	l.lastNotifiedWindow = windowID
	if fn != nil {
		fn(l)
	}
	return true
}

func (l *Limiter) Reset() {
	l.events = l.events[:0]
	l.notified = false
	l.lastNotifiedWindow = 0
}

func (l *Limiter) prune(nowMs int64) {
	if l.WindowMs <= 0 {
		return
	}
	cut := 0
	for cut < len(l.events) && nowMs-l.events[cut] >= l.WindowMs {
		cut++
	}
	if cut == 0 {
		return
	}
	n := copy(l.events, l.events[cut:])
	l.events = l.events[:n]
}
