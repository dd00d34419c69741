package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"griefwatch.dev/internal/catalogs"
	"griefwatch.dev/internal/config"
	"griefwatch.dev/internal/detect/alert"
	"griefwatch.dev/internal/detect/ledger"
	"griefwatch.dev/internal/metrics"
	"griefwatch.dev/internal/persistence/indexdb"
)

type runtimeIndex interface {
	alert.Sink
	ledger.Recorder
	RecordBan(b indexdb.BanRow)
	RecordSession(r indexdb.SessionRow)
	Close() error
}

// indexes fans records out to every enabled backend.
type indexes []runtimeIndex

func (ix indexes) sinks() []alert.Sink {
	out := make([]alert.Sink, 0, len(ix))
	for _, i := range ix {
		out = append(out, i)
	}
	return out
}

func (ix indexes) recorders() ledger.Recorders {
	out := make(ledger.Recorders, 0, len(ix))
	for _, i := range ix {
		out = append(out, i)
	}
	return out
}

func (ix indexes) RecordBan(b indexdb.BanRow) {
	for _, i := range ix {
		i.RecordBan(b)
	}
}

func (ix indexes) RecordSession(r indexdb.SessionRow) {
	for _, i := range ix {
		i.RecordSession(r)
	}
}

func (ix indexes) Close() error {
	var errs []error
	for _, i := range ix {
		if err := i.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openRuntimeIndexes opens the local SQLite index (unless disabled) and, when
// GW_INDEX_REMOTE_URL is set, the remote forwarder.
func openRuntimeIndexes(dataDir, configDir string, disableDB bool, cats *catalogs.Catalogs, tune config.Tuning, m *metrics.Metrics, logger *log.Logger) (indexes, error) {
	if disableDB {
		return nil, nil
	}
	var ix indexes

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("GW_INDEX_BACKEND")))
	switch backend {
	case "", "sqlite":
		dbPath := filepath.Join(dataDir, "index", "griefwatch.sqlite")
		idx, err := indexdb.OpenSQLite(dbPath)
		if err != nil {
			return nil, err
		}
		if err := idx.UpsertCatalogs(configDir, cats, tune); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
		m.Queue("sqlite",
			func() float64 { return float64(idx.Stats().QueueDepth) },
			func() float64 {
				s := idx.Stats()
				return float64(s.DropAlert + s.DropInteraction + s.DropBan + s.DropSession)
			})
		ix = append(ix, idx)
	case "none", "off", "disabled":
	default:
		return nil, fmt.Errorf("unsupported GW_INDEX_BACKEND: %s", backend)
	}

	if endpoint := strings.TrimSpace(os.Getenv("GW_INDEX_REMOTE_URL")); endpoint != "" {
		server := strings.TrimSpace(os.Getenv("GW_SERVER_ID"))
		if server == "" {
			server, _ = os.Hostname()
		}
		remote, err := indexdb.OpenRemote(indexdb.RemoteConfig{
			Endpoint:      endpoint,
			Token:         strings.TrimSpace(os.Getenv("GW_INDEX_REMOTE_TOKEN")),
			Server:        server,
			BatchSize:     envInt("GW_INDEX_REMOTE_BATCH_SIZE", 128),
			FlushInterval: time.Duration(envInt("GW_INDEX_REMOTE_FLUSH_MS", 500)) * time.Millisecond,
			Logger:        logger,
		})
		if err != nil {
			_ = ix.Close()
			return nil, err
		}
		m.Queue("remote",
			func() float64 { return float64(remote.Stats().QueueDepth) },
			func() float64 { return float64(remote.Stats().DroppedTotal) })
		ix = append(ix, remote)
	}
	return ix, nil
}
