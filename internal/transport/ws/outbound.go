package ws

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"griefwatch.dev/internal/detect/host"
	"griefwatch.dev/internal/protocol"
)

var (
	ErrNoHost    = errors.New("no host attached")
	ErrQueueFull = errors.New("host outbound queue full")
)

// Outbound is the engine's Delivery and Moderation. It forwards to whichever host
// connection is attached; with none attached, chat and display messages are dropped
// and bans fail.
type Outbound struct {
	log *log.Logger

	mu  sync.Mutex
	out chan []byte

	dropped atomic.Uint64
}

func NewOutbound(logger *log.Logger) *Outbound {
	return &Outbound{log: logger}
}

func (o *Outbound) attach(out chan []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.out != nil {
		return false
	}
	o.out = out
	return true
}

func (o *Outbound) detach(out chan []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.out == out {
		o.out = nil
	}
}

func (o *Outbound) Attached() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.out != nil
}

func (o *Outbound) send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.out == nil {
		o.dropped.Add(1)
		return ErrNoHost
	}
	select {
	case o.out <- b:
		return nil
	default:
		o.dropped.Add(1)
		return ErrQueueFull
	}
}

func (o *Outbound) Broadcast(msg string) {
	_ = o.send(protocol.TextMsg{Type: protocol.TypeChat, Message: msg})
}

func (o *Outbound) Display(msg string) {
	_ = o.send(protocol.TextMsg{Type: protocol.TypeDisplay, Message: msg})
}

func (o *Outbound) Log(msg string) {
	if o.log != nil {
		o.log.Print(msg)
	}
}

func (o *Outbound) Ban(id host.ActorID) error {
	return o.send(protocol.BanMsg{Type: protocol.TypeBan, Actor: int(id)})
}

// Pending is the number of messages queued for the attached host.
func (o *Outbound) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.out)
}

// Dropped counts messages that found no host or a full queue.
func (o *Outbound) Dropped() uint64 { return o.dropped.Load() }
