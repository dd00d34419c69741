package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"griefwatch.dev/internal/detect/host"
)

// SettingNames lists the flags Set accepts, in display order.
var SettingNames = []string{"broadcast", "verbose", "debug", "tileinfohud", "autoban"}

// SettingsFile is a yaml-backed host.Settings. Every successful Set rewrites the file.
// Flags may be read from any goroutine.
type SettingsFile struct {
	path string

	mu    sync.RWMutex
	flags host.Flags
}

// OpenSettings loads path, creating it with all flags off when it does not exist.
func OpenSettings(path string) (*SettingsFile, error) {
	s := &SettingsFile{path: path}
	if strings.TrimSpace(path) == "" {
		return s, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, s.save(s.flags)
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(raw, &s.flags); err != nil {
		return nil, fmt.Errorf("settings.yaml: %w", err)
	}
	return s, nil
}

func (s *SettingsFile) Flags() host.Flags {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags
}

func (s *SettingsFile) Set(name string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.flags
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "broadcast":
		next.Broadcast = value
	case "verbose":
		next.Verbose = value
	case "debug":
		next.Debug = value
	case "tileinfohud":
		next.TileInfoHUD = value
	case "autoban":
		next.Autoban = value
	default:
		return fmt.Errorf("unknown setting %q (known: %s)", name, strings.Join(SettingNames, ", "))
	}
	if next == s.flags {
		return nil
	}
	if err := s.save(next); err != nil {
		return err
	}
	s.flags = next
	return nil
}

// Values returns the flags keyed by setting name.
func (s *SettingsFile) Values() map[string]bool {
	f := s.Flags()
	return map[string]bool{
		"broadcast":   f.Broadcast,
		"verbose":     f.Verbose,
		"debug":       f.Debug,
		"tileinfohud": f.TileInfoHUD,
		"autoban":     f.Autoban,
	}
}

func (s *SettingsFile) Path() string { return s.path }

func (s *SettingsFile) save(f host.Flags) error {
	if s.path == "" {
		return nil
	}
	raw, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// ParseBool accepts the spellings operators type on the command line.
func ParseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes", "enable", "enabled":
		return true, nil
	case "0", "false", "off", "no", "disable", "disabled":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", v)
}
