package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"griefwatch.dev/internal/detect/alert"
	"griefwatch.dev/internal/detect/ledger"
)

const fileSuffix = ".jsonl.zst"

// JSONLZstdWriter appends JSON lines to one zstd file per UTC hour:
// <baseDir>/<prefix>-YYYY-MM-DD-HH.jsonl.zst.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	// Reopening an hour after a restart appends a second zstd frame; readers decode both.
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s%s", w.prefix, hour, fileSuffix))
}

// AlertLogger writes delivered alerts (compressed). It implements alert.Sink.
type AlertLogger struct{ w *JSONLZstdWriter }

func NewAlertLogger(dataDir string) *AlertLogger {
	return &AlertLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "alerts"), "alerts")}
}

func (l *AlertLogger) WriteAlert(r alert.Record) error { return l.w.Write(r) }
func (l *AlertLogger) Close() error                    { return l.w.Close() }

// InteractionLogger writes the provenance journal (compressed). It implements ledger.Recorder.
type InteractionLogger struct{ w *JSONLZstdWriter }

func NewInteractionLogger(dataDir string) *InteractionLogger {
	return &InteractionLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "interactions"), "interactions")}
}

func (l *InteractionLogger) WriteInteraction(e ledger.Entry) error { return l.w.Write(e) }
func (l *InteractionLogger) Close() error                          { return l.w.Close() }

// Files lists the rotated files of one ledger in chronological order.
func Files(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix+"-") && strings.HasSuffix(name, fileSuffix) {
			names = append(names, filepath.Join(dir, name))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Scan decodes every line of every file of a ledger, oldest first, and hands the raw
// JSON to fn. Returning an error from fn stops the scan.
func Scan(dir, prefix string, fn func(file string, line []byte) error) error {
	files, err := Files(dir, prefix)
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := scanFile(path, fn); err != nil {
			return err
		}
	}
	return nil
}

func scanFile(path string, fn func(file string, line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		if err := fn(path, sc.Bytes()); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return sc.Err()
}

// ReadInteractions loads the journal entries under dataDir that match keep (nil keeps all).
func ReadInteractions(dataDir string, keep func(ledger.Entry) bool) ([]ledger.Entry, error) {
	var out []ledger.Entry
	err := Scan(filepath.Join(dataDir, "interactions"), "interactions", func(_ string, line []byte) error {
		var e ledger.Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		if keep == nil || keep(e) {
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// ReadAlerts loads the alert records under dataDir that match keep (nil keeps all).
func ReadAlerts(dataDir string, keep func(alert.Record) bool) ([]alert.Record, error) {
	var out []alert.Record
	err := Scan(filepath.Join(dataDir, "alerts"), "alerts", func(_ string, line []byte) error {
		var r alert.Record
		if err := json.Unmarshal(line, &r); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		if keep == nil || keep(r) {
			out = append(out, r)
		}
		return nil
	})
	return out, err
}
