package alert

import (
	"fmt"
	"strings"

	"griefwatch.dev/internal/catalogs"
	"griefwatch.dev/internal/detect/host"
	"griefwatch.dev/internal/detect/ratelimit"
)

// Markup prefixes understood by the host chat renderer.
const (
	PrefixWarning = "[scarlet]WARNING[] "
	PrefixNotice  = "[lightgray]Notice[] "
	PrefixVerbose = "[green]Verbose[] "
	PrefixDebug   = "[cyan]Debug[] "
	PrefixAutoban = "[yellow]Autoban[] "
)

func Player(a host.Actor, ok bool) string {
	if !ok {
		return "[lightgray]unknown[]"
	}
	return fmt.Sprintf("%s[white] ([stat]#%d[])", a.Name, a.ID)
}

func Tile(p *host.Pos) string {
	if p == nil {
		return "(none)"
	}
	return p.String()
}

func Item(def catalogs.ItemDef, ok bool) string {
	if !ok {
		return "(none)"
	}
	color := strings.TrimPrefix(def.Color, "#")
	if color == "" {
		return def.Name
	}
	return "[#" + color + "]" + def.Name + "[]"
}

// Ratelimit renders a limiter state; the actor part is omitted when who is empty.
func Ratelimit(l *ratelimit.Limiter, who string) string {
	state := "not exceeded"
	if l.Breached() {
		state = "exceeded"
	}
	if who == "" {
		return fmt.Sprintf("%s (%d events in %d ms)", state, l.Events(), l.WindowMs)
	}
	return fmt.Sprintf("%s for player %s (%d events in %d ms)", state, who, l.Events(), l.WindowMs)
}
