// Package rules holds the compiled-in grief signatures. Every function here is pure:
// it maps one event payload plus resolved lookups to zero or more candidate alerts.
package rules

import (
	"fmt"
	"math"
	"strconv"

	"griefwatch.dev/internal/catalogs"
	"griefwatch.dev/internal/detect/alert"
	"griefwatch.dev/internal/detect/host"
	"griefwatch.dev/internal/detect/ledger"
	"griefwatch.dev/internal/detect/ratelimit"
)

// Rule names, in declaration order.
const (
	RuleReactorProximity   = "reactor_proximity"
	RuleGeneratorProximity = "generator_proximity"
	RuleReactorNoCoolant   = "reactor_no_coolant"
	RuleVolatileDeposit    = "volatile_deposit"
	RuleExplosiveDeposit   = "explosive_deposit"
	RulePowerSplit         = "power_split"
	RuleOverheat           = "overheat"
	RuleConfigureRate      = "configure_rate"
	RuleRotateRate         = "rotate_rate"

	RuleVerboseDeposit   = "verbose_deposit"
	RuleVerboseConfigure = "verbose_configure"
	RuleVerboseRotate    = "verbose_rotate"
	RuleDebugBuild       = "debug_build"
	RuleDebugDeconstruct = "debug_deconstruct"
	RuleDebugSnapshot    = "debug_snapshot"
	RuleDebugDisconnect  = "debug_disconnect"
	RuleAutoban          = "autoban"
)

type Thresholds struct {
	ReactorCoreRadius   float64
	GeneratorCoreRadius float64
	Explosiveness       float64
	PowerSplit          int
	Overheat            float64
	ReactorFuel         string
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		ReactorCoreRadius:   30,
		GeneratorCoreRadius: 10,
		Explosiveness:       0.5,
		PowerSplit:          100,
		Overheat:            0.15,
		ReactorFuel:         "thorium",
	}
}

// Who is a resolved (or unresolved) actor reference.
type Who struct {
	Actor host.Actor
	Known bool
}

func (w Who) String() string { return alert.Player(w.Actor, w.Known) }

func (w Who) id() host.ActorID {
	if !w.Known {
		return host.NoActor
	}
	return w.Actor.ID
}

// round matches the host's round-half-up.
func round(v float64) int { return int(math.Floor(v + 0.5)) }

func posPtr(p host.Pos) *host.Pos { return &p }

type Construction struct {
	Builder  Who
	Pos      host.Pos
	Block    catalogs.BlockDef
	Progress float64

	CoreDistance float64
	HasCore      bool
}

// EvaluateConstruction runs the construction rules in declaration order. first is true
// only for the first progress event observed for this construction; coolantNearby
// reports whether any neighbor cell carries a coolant liquid.
func EvaluateConstruction(t Thresholds, c Construction, first, coolantNearby bool) []alert.Alert {
	var out []alert.Alert
	warned := false
	if a, ok := ReactorProximity(t, c); ok {
		out = append(out, a)
		warned = true
	}
	if a, ok := GeneratorProximity(t, c); ok {
		out = append(out, a)
		warned = true
	}
	// The first-time notice stays quiet when a proximity warning already fired for this event.
	if first && !warned {
		if a, ok := ReactorWithoutCoolant(c, coolantNearby); ok {
			out = append(out, a)
		}
	}
	return out
}

func ReactorProximity(t Thresholds, c Construction) (alert.Alert, bool) {
	if !c.Builder.Known || !c.HasCore || c.Block.Class != catalogs.ClassReactor {
		return alert.Alert{}, false
	}
	if !(c.CoreDistance < t.ReactorCoreRadius) {
		return alert.Alert{}, false
	}
	return proximityAlert(RuleReactorProximity, "reactor", c), true
}

func GeneratorProximity(t Thresholds, c Construction) (alert.Alert, bool) {
	if !c.Builder.Known || !c.HasCore || c.Block.Class != catalogs.ClassGenerator {
		return alert.Alert{}, false
	}
	if !(c.CoreDistance < t.GeneratorCoreRadius) {
		return alert.Alert{}, false
	}
	return proximityAlert(RuleGeneratorProximity, "generator", c), true
}

func proximityAlert(rule, what string, c Construction) alert.Alert {
	return alert.Alert{
		Rule:     rule,
		Severity: alert.Warning,
		Message: fmt.Sprintf("%s%s is building a %s [stat]%d[] blocks from core. [stat]%d%%",
			alert.PrefixWarning, c.Builder, what, round(c.CoreDistance), round(c.Progress*100)),
		Throttled: true,
		Actor:     c.Builder.id(),
		Pos:       posPtr(c.Pos),
	}
}

func ReactorWithoutCoolant(c Construction, coolantNearby bool) (alert.Alert, bool) {
	if c.Block.Class != catalogs.ClassReactor || coolantNearby {
		return alert.Alert{}, false
	}
	return alert.Alert{
		Rule:     RuleReactorNoCoolant,
		Severity: alert.Notice,
		Message:  fmt.Sprintf("%s%s is building a reactor at %s", alert.PrefixNotice, c.Builder, c.Pos),
		Actor:    c.Builder.id(),
		Pos:      posPtr(c.Pos),
	}, true
}

// CoolantNearby reports whether any of the given liquids is a coolant.
func CoolantNearby(cats *catalogs.Catalogs, liquids []string) bool {
	for _, id := range liquids {
		if d, ok := cats.Liquid(id); ok && d.Coolant {
			return true
		}
	}
	return false
}

type Deposit struct {
	Actor  Who
	Pos    host.Pos
	Block  catalogs.BlockDef
	Item   catalogs.ItemDef
	Amount int
}

func EvaluateDeposit(t Thresholds, flags host.Flags, d Deposit) []alert.Alert {
	var out []alert.Alert
	if flags.Verbose {
		out = append(out, alert.Alert{
			Rule:     RuleVerboseDeposit,
			Severity: alert.Verbose,
			Message: fmt.Sprintf("%s%s transfers %d %s to %s %s",
				alert.PrefixVerbose, d.Actor, d.Amount, d.Item.Name, d.Block.Name, d.Pos),
			Actor: d.Actor.id(),
			Pos:   posPtr(d.Pos),
		})
	}
	if a, ok := VolatileDeposit(t, d); ok {
		out = append(out, a)
	}
	if a, ok := ExplosiveDeposit(t, d); ok {
		out = append(out, a)
	}
	return out
}

func VolatileDeposit(t Thresholds, d Deposit) (alert.Alert, bool) {
	if d.Item.ID != t.ReactorFuel || d.Block.Class != catalogs.ClassReactor {
		return alert.Alert{}, false
	}
	return alert.Alert{
		Rule:     RuleVolatileDeposit,
		Severity: alert.Warning,
		Message: fmt.Sprintf("%s%s transfers [accent]%d[] %s to a reactor. %s",
			alert.PrefixWarning, d.Actor, d.Amount, d.Item.Name, d.Pos),
		Throttled: true,
		Actor:     d.Actor.id(),
		Pos:       posPtr(d.Pos),
	}, true
}

// explosiveTargets names the message variant for each hazard class.
var explosiveTargets = map[string]string{
	catalogs.ClassGenerator: "a generator",
	catalogs.ClassStorage:   "a Container",
	catalogs.ClassVault:     "a Vault",
}

func ExplosiveDeposit(t Thresholds, d Deposit) (alert.Alert, bool) {
	if !(d.Item.Explosiveness > t.Explosiveness) {
		return alert.Alert{}, false
	}
	target, ok := explosiveTargets[d.Block.Class]
	if !ok {
		return alert.Alert{}, false
	}
	return alert.Alert{
		Rule:     RuleExplosiveDeposit,
		Severity: alert.Warning,
		Message: fmt.Sprintf("%s%s transfers [accent]%d[] %s to %s. %s",
			alert.PrefixWarning, d.Actor, d.Amount, d.Item.Name, target, d.Pos),
		Throttled: true,
		Actor:     d.Actor.id(),
		Pos:       posPtr(d.Pos),
	}, true
}

type Split struct {
	Actor   Who
	Pos     host.Pos
	OldSize int
	NewA    int
	NewB    int
}

func PowerSplit(t Thresholds, s Split) (alert.Alert, bool) {
	if min(s.OldSize-s.NewA, s.OldSize-s.NewB) <= t.PowerSplit {
		return alert.Alert{}, false
	}
	return alert.Alert{
		Rule:     RulePowerSplit,
		Severity: alert.Notice,
		Message: fmt.Sprintf("%sPower split by %s %d -> %d/%d %s",
			alert.PrefixNotice, s.Actor, s.OldSize, s.NewA, s.NewB, s.Pos),
		Throttled: true,
		Actor:     s.Actor.id(),
		Pos:       posPtr(s.Pos),
	}, true
}

func Overheat(t Thresholds, pos host.Pos, blockName string, heat float64, interactable bool) (alert.Alert, bool) {
	if !interactable || !(heat > t.Overheat) {
		return alert.Alert{}, false
	}
	return alert.Alert{
		Rule:     RuleOverheat,
		Severity: alert.Warning,
		Message: fmt.Sprintf("%s%s at %s is overheating! Heat: [accent]%s",
			alert.PrefixWarning, blockName, pos, strconv.FormatFloat(heat, 'g', 4, 64)),
		Throttled: true,
		Pos:       posPtr(pos),
	}, true
}

// RateBreach formats the deferred notification of a limiter breach.
func RateBreach(action string, l *ratelimit.Limiter, who Who) alert.Alert {
	rule, label := RuleConfigureRate, "Configure"
	if action == ledger.ActionRotate {
		rule, label = RuleRotateRate, "Rotate"
	}
	return alert.Alert{
		Rule:      rule,
		Severity:  alert.Warning,
		Message:   fmt.Sprintf("%s%s ratelimit %s", alert.PrefixWarning, label, alert.Ratelimit(l, who.String())),
		Throttled: true,
		Actor:     who.id(),
	}
}
