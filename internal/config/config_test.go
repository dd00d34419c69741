package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"griefwatch.dev/internal/detect/host"
	"griefwatch.dev/internal/detect/ledger"
)

func TestLoadTuning_DefaultsWithoutPath(t *testing.T) {
	tu, err := LoadTuning("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tu.MaxMessageLength != 150 || tu.CooldownMs != 1000 || tu.InteractionCap != 8 {
		t.Fatalf("defaults=%+v", tu)
	}
	th := tu.Thresholds
	if th.ReactorCoreRadius != 30 || th.GeneratorCoreRadius != 10 || th.Explosiveness != 0.5 ||
		th.PowerSplit != 100 || th.Overheat != 0.15 || th.ReactorFuel != "thorium" {
		t.Fatalf("thresholds=%+v", th)
	}
}

func TestLoadTuning_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	body := "cooldown_ms: 2500\nrate_limits:\n  rotate_max: 5\nthresholds:\n  reactor_fuel: \" uranium \"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tu, err := LoadTuning(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tu.CooldownMs != 2500 || tu.RateLimits.RotateMax != 5 || tu.RateLimits.ConfigureMax != 20 {
		t.Fatalf("tuning=%+v", tu)
	}
	if tu.Thresholds.ReactorFuel != "uranium" || tu.Thresholds.ReactorCoreRadius != 30 {
		t.Fatalf("thresholds=%+v", tu.Thresholds)
	}

	cfg := tu.EngineConfig()
	if cfg.Cooldown != 2500*time.Millisecond {
		t.Fatalf("cooldown=%v", cfg.Cooldown)
	}
	if got := cfg.Limits[ledger.ActionRotate]; got.Threshold != 5 || got.WindowMs != 1000 {
		t.Fatalf("rotate limit=%+v", got)
	}
	if cfg.Thresholds.ReactorFuel != "uranium" {
		t.Fatalf("engine thresholds=%+v", cfg.Thresholds)
	}
}

func TestLoadTuning_RejectsBadOverheat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("thresholds:\n  overheat: 3\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadTuning(path); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestSettingsFile_PersistsChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "settings.yaml")
	s, err := OpenSettings(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.Flags() != (host.Flags{}) {
		t.Fatalf("fresh settings not all off: %+v", s.Flags())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("defaults not written: %v", err)
	}
	if err := s.Set("Verbose", true); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set("autoban", true); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set("nonsense", true); err == nil {
		t.Fatalf("unknown setting accepted")
	}

	again, err := OpenSettings(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	f := again.Flags()
	if !f.Verbose || !f.Autoban || f.Debug || f.Broadcast || f.TileInfoHUD {
		t.Fatalf("reloaded flags=%+v", f)
	}
	if v := again.Values(); !v["verbose"] || v["debug"] {
		t.Fatalf("values=%v", v)
	}
}

func TestParseBool(t *testing.T) {
	for _, in := range []string{"on", "TRUE", "1", "enable"} {
		if v, err := ParseBool(in); err != nil || !v {
			t.Fatalf("%q -> %v %v", in, v, err)
		}
	}
	if v, err := ParseBool("off"); err != nil || v {
		t.Fatalf("off -> %v %v", v, err)
	}
	if _, err := ParseBool("maybe"); err == nil {
		t.Fatalf("maybe accepted")
	}
}
