package rules

import (
	"fmt"

	"griefwatch.dev/internal/catalogs"
	"griefwatch.dev/internal/detect/alert"
	"griefwatch.dev/internal/detect/host"
)

// Configure describes a pre-configure event with its config values already resolved.
type Configure struct {
	Actor Who
	Pos   host.Pos
	Block catalogs.BlockDef

	// Sorter: item before and after.
	OldItem    catalogs.ItemDef
	NewItem    catalogs.ItemDef
	HasOldItem bool
	HasNewItem bool

	// Mass driver: link target before and after.
	OldLink, NewLink *host.Pos
}

func VerboseConfigure(flags host.Flags, c Configure) (alert.Alert, bool) {
	if !flags.Verbose {
		return alert.Alert{}, false
	}
	var msg string
	switch c.Block.Class {
	case catalogs.ClassSorter:
		msg = fmt.Sprintf("%s%s configures sorter %s -> %s %s", alert.PrefixVerbose, c.Actor,
			alert.Item(c.OldItem, c.HasOldItem), alert.Item(c.NewItem, c.HasNewItem), c.Pos)
	case catalogs.ClassMassDriver:
		msg = fmt.Sprintf("%s%s configures mass driver at %s from %s to %s", alert.PrefixVerbose, c.Actor,
			c.Pos, alert.Tile(c.OldLink), alert.Tile(c.NewLink))
	default:
		return alert.Alert{}, false
	}
	return alert.Alert{
		Rule:      RuleVerboseConfigure,
		Severity:  alert.Verbose,
		Message:   msg,
		Throttled: true,
		Actor:     c.Actor.id(),
		Pos:       posPtr(c.Pos),
	}, true
}

func VerboseRotate(flags host.Flags, who Who, pos host.Pos, blockName string) (alert.Alert, bool) {
	if !flags.Verbose {
		return alert.Alert{}, false
	}
	return alert.Alert{
		Rule:      RuleVerboseRotate,
		Severity:  alert.Verbose,
		Message:   fmt.Sprintf("%s%s rotates %s at %s", alert.PrefixVerbose, who, blockName, pos),
		Throttled: true,
		Actor:     who.id(),
		Pos:       posPtr(pos),
	}, true
}

func DebugBuild(flags host.Flags, who Who, pos host.Pos, blockName string) (alert.Alert, bool) {
	if !flags.Debug || !who.Known {
		return alert.Alert{}, false
	}
	return alert.Alert{
		Rule:     RuleDebugBuild,
		Severity: alert.Debug,
		Message:  fmt.Sprintf("%s%s builds [accent]%s[] at %s", alert.PrefixDebug, who, blockName, pos),
		Actor:    who.id(),
		Pos:      posPtr(pos),
	}, true
}

func DebugDeconstruct(flags host.Flags, who Who, pos host.Pos, blockName string) (alert.Alert, bool) {
	if !flags.Debug || !who.Known {
		return alert.Alert{}, false
	}
	return alert.Alert{
		Rule:     RuleDebugDeconstruct,
		Severity: alert.Debug,
		Message:  fmt.Sprintf("%s%s deconstructs [accent]%s[] at %s", alert.PrefixDebug, who, blockName, pos),
		Actor:    who.id(),
		Pos:      posPtr(pos),
	}, true
}

func DebugSnapshot(flags host.Flags, who Who) (alert.Alert, bool) {
	if !flags.Debug || !who.Known {
		return alert.Alert{}, false
	}
	return alert.Alert{
		Rule:     RuleDebugSnapshot,
		Severity: alert.Debug,
		Message:  fmt.Sprintf("%sPlayer snapshot: %s", alert.PrefixDebug, who),
		Actor:    who.id(),
	}, true
}

func DebugDisconnect(flags host.Flags, who Who) (alert.Alert, bool) {
	if !flags.Debug || !who.Known {
		return alert.Alert{}, false
	}
	return alert.Alert{
		Rule:     RuleDebugDisconnect,
		Severity: alert.Debug,
		Message:  fmt.Sprintf("%sPlayer disconnect: %s", alert.PrefixDebug, who),
		Actor:    who.id(),
	}, true
}

func AutobanNotice(target Who, reason string) alert.Alert {
	msg := fmt.Sprintf("%sBanning player %s", alert.PrefixAutoban, target)
	if reason != "" {
		msg += " (" + reason + ")"
	}
	return alert.Alert{
		Rule:     RuleAutoban,
		Severity: alert.Autoban,
		Message:  msg,
		Actor:    target.id(),
	}
}
