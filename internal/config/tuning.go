// Package config loads the detector tuning and the persisted operator settings.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"griefwatch.dev/internal/detect/alert"
	"griefwatch.dev/internal/detect/engine"
	"griefwatch.dev/internal/detect/ledger"
	"griefwatch.dev/internal/detect/rules"
)

type Tuning struct {
	MaxMessageLength int `yaml:"max_message_length"`
	CooldownMs       int `yaml:"cooldown_ms"`
	InteractionCap   int `yaml:"interaction_cap"`
	Batch            int `yaml:"batch"`

	RateLimits RateLimits `yaml:"rate_limits"`
	Thresholds Thresholds `yaml:"thresholds"`
}

type RateLimits struct {
	ConfigureWindowMs int64 `yaml:"configure_window_ms"`
	ConfigureMax      int   `yaml:"configure_max"`
	RotateWindowMs    int64 `yaml:"rotate_window_ms"`
	RotateMax         int   `yaml:"rotate_max"`
}

type Thresholds struct {
	ReactorCoreRadius   float64 `yaml:"reactor_core_radius"`
	GeneratorCoreRadius float64 `yaml:"generator_core_radius"`
	Explosiveness       float64 `yaml:"explosiveness"`
	PowerSplit          int     `yaml:"power_split"`
	Overheat            float64 `yaml:"overheat"`
	ReactorFuel         string  `yaml:"reactor_fuel"`
}

// LoadTuning reads tuning.yaml. Keys missing from the file keep their defaults; an
// empty path yields the defaults.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func DefaultTuning() Tuning {
	th := rules.DefaultThresholds()
	limits := engine.DefaultLimits()
	return Tuning{
		MaxMessageLength: alert.DefaultMaxMessageLength,
		CooldownMs:       int(alert.DefaultCooldown / time.Millisecond),
		InteractionCap:   ledger.DefaultInteractionCap,
		Batch:            engine.DefaultBatch,
		RateLimits: RateLimits{
			ConfigureWindowMs: limits[ledger.ActionConfigure].WindowMs,
			ConfigureMax:      limits[ledger.ActionConfigure].Threshold,
			RotateWindowMs:    limits[ledger.ActionRotate].WindowMs,
			RotateMax:         limits[ledger.ActionRotate].Threshold,
		},
		Thresholds: Thresholds{
			ReactorCoreRadius:   th.ReactorCoreRadius,
			GeneratorCoreRadius: th.GeneratorCoreRadius,
			Explosiveness:       th.Explosiveness,
			PowerSplit:          th.PowerSplit,
			Overheat:            th.Overheat,
			ReactorFuel:         th.ReactorFuel,
		},
	}
}

// Normalize fills zero values (keys explicitly set to 0 in the file) with defaults.
func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	d := DefaultTuning()
	if t.MaxMessageLength <= 0 {
		t.MaxMessageLength = d.MaxMessageLength
	}
	if t.CooldownMs <= 0 {
		t.CooldownMs = d.CooldownMs
	}
	if t.InteractionCap <= 0 {
		t.InteractionCap = d.InteractionCap
	}
	if t.Batch <= 0 {
		t.Batch = d.Batch
	}
	if t.RateLimits.ConfigureWindowMs <= 0 {
		t.RateLimits.ConfigureWindowMs = d.RateLimits.ConfigureWindowMs
	}
	if t.RateLimits.RotateWindowMs <= 0 {
		t.RateLimits.RotateWindowMs = d.RateLimits.RotateWindowMs
	}
	t.Thresholds.ReactorFuel = strings.TrimSpace(t.Thresholds.ReactorFuel)
	if t.Thresholds.ReactorFuel == "" {
		t.Thresholds.ReactorFuel = d.Thresholds.ReactorFuel
	}
}

func (t Tuning) Validate() error {
	if t.RateLimits.ConfigureMax < 0 || t.RateLimits.RotateMax < 0 {
		return fmt.Errorf("rate_limits: max must be >= 0 (0 disables)")
	}
	if t.Thresholds.ReactorCoreRadius < 0 || t.Thresholds.GeneratorCoreRadius < 0 {
		return fmt.Errorf("thresholds: core radius must be >= 0")
	}
	if t.Thresholds.PowerSplit < 0 {
		return fmt.Errorf("thresholds: power_split must be >= 0")
	}
	if t.Thresholds.Overheat < 0 || t.Thresholds.Overheat > 1 {
		return fmt.Errorf("thresholds: overheat must be in [0,1], got %v", t.Thresholds.Overheat)
	}
	return nil
}

// EngineConfig maps the tuning onto engine.Config. Hooks and the clock are left for the caller.
func (t Tuning) EngineConfig() engine.Config {
	return engine.Config{
		Thresholds: rules.Thresholds{
			ReactorCoreRadius:   t.Thresholds.ReactorCoreRadius,
			GeneratorCoreRadius: t.Thresholds.GeneratorCoreRadius,
			Explosiveness:       t.Thresholds.Explosiveness,
			PowerSplit:          t.Thresholds.PowerSplit,
			Overheat:            t.Thresholds.Overheat,
			ReactorFuel:         t.Thresholds.ReactorFuel,
		},
		Limits: map[string]ledger.LimitSpec{
			ledger.ActionConfigure: {WindowMs: t.RateLimits.ConfigureWindowMs, Threshold: t.RateLimits.ConfigureMax},
			ledger.ActionRotate:    {WindowMs: t.RateLimits.RotateWindowMs, Threshold: t.RateLimits.RotateMax},
		},
		MaxMessageLength: t.MaxMessageLength,
		Cooldown:         time.Duration(t.CooldownMs) * time.Millisecond,
		InteractionCap:   t.InteractionCap,
		Batch:            t.Batch,
	}
}
