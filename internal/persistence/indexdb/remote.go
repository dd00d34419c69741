package indexdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"griefwatch.dev/internal/detect/alert"
	"griefwatch.dev/internal/detect/ledger"
)

// RemoteConfig points the remote index at an HTTP ingest endpoint that accepts
// {"events":[...]} batches (a shared moderation dashboard for several servers).
type RemoteConfig struct {
	Endpoint      string
	Token         string
	Server        string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	MaxPending    int
	Logger        *log.Logger
}

// RemoteIndex forwards ledger records to RemoteConfig.Endpoint in batches. A failed
// batch is kept and retried on the next flush, up to MaxPending records.
type RemoteIndex struct {
	cfg        RemoteConfig
	httpClient *http.Client

	ch   chan remoteEvent
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	sent      atomic.Uint64
	flushFail atomic.Uint64
	dropped   atomic.Uint64
}

type remoteEvent struct {
	Kind    string `json:"kind"`
	Server  string `json:"server"`
	Payload any    `json:"payload"`
}

type RemoteStats struct {
	QueueDepth    int
	QueueCapacity int
	SentTotal     uint64
	FlushFailures uint64
	DroppedTotal  uint64
}

func OpenRemote(cfg RemoteConfig) (*RemoteIndex, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Server = strings.TrimSpace(cfg.Server)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty remote index endpoint")
	}
	if cfg.Server == "" {
		return nil, fmt.Errorf("empty server id")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 8192
	}

	d := &RemoteIndex{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		ch:         make(chan remoteEvent, 32768),
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()
	return d, nil
}

func (d *RemoteIndex) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
	})
	return nil
}

// WriteAlert implements alert.Sink.
func (d *RemoteIndex) WriteAlert(r alert.Record) error {
	d.enqueue("alert", r)
	return nil
}

// WriteInteraction implements ledger.Recorder.
func (d *RemoteIndex) WriteInteraction(e ledger.Entry) error {
	d.enqueue("interaction", e)
	return nil
}

func (d *RemoteIndex) RecordBan(b BanRow)         { d.enqueue("ban", b) }
func (d *RemoteIndex) RecordSession(r SessionRow) { d.enqueue("session", r) }

func (d *RemoteIndex) Stats() RemoteStats {
	if d == nil {
		return RemoteStats{}
	}
	return RemoteStats{
		QueueDepth:    len(d.ch),
		QueueCapacity: cap(d.ch),
		SentTotal:     d.sent.Load(),
		FlushFailures: d.flushFail.Load(),
		DroppedTotal:  d.dropped.Load(),
	}
}

func (d *RemoteIndex) enqueue(kind string, payload any) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.ch <- remoteEvent{Kind: kind, Server: d.cfg.Server, Payload: payload}:
	default:
		d.dropped.Add(1)
		d.printf("remote index queue full; drop kind=%s", kind)
	}
}

func (d *RemoteIndex) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]remoteEvent, 0, d.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := d.sendBatch(batch); err != nil {
			d.flushFail.Add(1)
			d.printf("remote index flush failed batch=%d err=%v", len(batch), err)
			if over := len(batch) - d.cfg.MaxPending; over > 0 {
				d.dropped.Add(uint64(over))
				batch = append(batch[:0], batch[over:]...)
			}
			return
		}
		d.sent.Add(uint64(len(batch)))
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= d.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *RemoteIndex) sendBatch(events []remoteEvent) error {
	body := struct {
		Events []remoteEvent `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if d.cfg.Token != "" {
			req.Header.Set("x-gw-index-token", d.cfg.Token)
		}

		resp, err := d.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		lastErr = err
		time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}

func (d *RemoteIndex) printf(format string, args ...any) {
	if d != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
	}
}
