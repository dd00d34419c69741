package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"griefwatch.dev/internal/detect/ledger"
)

const (
	Version = 1
	suffix  = ".snap.zst"
)

// Header is written as the first (JSON) line so listings don't have to decode the body.
type Header struct {
	Version   int       `json:"version"`
	Session   string    `json:"session"`
	Time      time.Time `json:"time"`
	Locations int       `json:"locations"`
	Actors    int       `json:"actors"`
}

// Path names the snapshot of a session ending at `at` under dataDir/snapshots.
func Path(dataDir, session string, at time.Time) string {
	name := fmt.Sprintf("%s-%s%s", at.UTC().Format("20060102-150405"), session, suffix)
	return filepath.Join(dataDir, "snapshots", name)
}

// WriteLedger stores a ledger snapshot: a JSON header line, then the gob-encoded body,
// all inside one zstd frame. The file is written to a temp name and renamed into place.
func WriteLedger(path string, snap ledger.Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := writeFile(tmp, snap); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeFile(path string, snap ledger.Snapshot) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(Header{
		Version:   Version,
		Session:   snap.Session,
		Time:      snap.Time,
		Locations: len(snap.Locations),
		Actors:    len(snap.Actors),
	})
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func ReadLedger(path string) (ledger.Snapshot, error) {
	var snap ledger.Snapshot
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	if _, err := readHeader(br); err != nil {
		return snap, err
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return Header{}, err
	}
	defer dec.Close()
	return readHeader(bufio.NewReader(dec))
}

func readHeader(br *bufio.Reader) (Header, error) {
	var h Header
	line, err := br.ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	if h.Version != Version {
		return h, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}
	return h, nil
}

// List returns the snapshot files under dataDir/snapshots, oldest first.
func List(dataDir string) ([]string, error) {
	dir := filepath.Join(dataDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Find returns the snapshot of a session (the newest, should a session id repeat).
func Find(dataDir, session string) (string, error) {
	files, err := List(dataDir)
	if err != nil {
		return "", err
	}
	for i := len(files) - 1; i >= 0; i-- {
		if strings.HasSuffix(filepath.Base(files[i]), "-"+session+suffix) {
			return files[i], nil
		}
	}
	return "", fmt.Errorf("no snapshot for session %q", session)
}
