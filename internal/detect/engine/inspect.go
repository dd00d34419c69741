package engine

import (
	"fmt"
	"strings"
	"time"

	"griefwatch.dev/internal/detect/alert"
	"griefwatch.dev/internal/detect/host"
	"griefwatch.dev/internal/detect/rules"
)

// Inspection is the provenance of the structure covering one cell.
type Inspection struct {
	Pos      host.Pos // primary cell
	Block    string
	Previous string

	ConstructedBy   rules.Who
	DeconstructedBy rules.Who
	LastRotatedBy   rules.Who

	Interactions []InspectedInteraction
}

type InspectedInteraction struct {
	Who rules.Who
	At  time.Time
}

// Inspect reports what the ledger knows about pos. It returns false when the cell
// was never touched in this session.
func (e *Engine) Inspect(pos host.Pos) (Inspection, bool) {
	rec := e.locations.Get(pos)
	if rec == nil {
		return Inspection{}, false
	}
	in := Inspection{
		Pos:             rec.Pos,
		Block:           rec.Current,
		Previous:        rec.Previous,
		ConstructedBy:   e.who(rec.ConstructedBy),
		DeconstructedBy: e.who(rec.DeconstructedBy),
		LastRotatedBy:   e.who(rec.LastRotatedBy),
	}
	for _, it := range rec.Interactions() {
		in.Interactions = append(in.Interactions, InspectedInteraction{Who: e.who(it.Actor), At: it.At})
	}
	return in, true
}

// HUD renders the inspection for the tile-info overlay. Disabled unless the
// tileinfohud setting is on.
func (e *Engine) HUD(pos host.Pos) (string, bool) {
	if !e.flags().TileInfoHUD {
		return "", false
	}
	in, ok := e.Inspect(pos)
	if !ok {
		return "", false
	}
	return strings.Join(in.Lines(e), "\n"), true
}

// Lines formats the inspection one fact per line. Block ids are resolved through e's catalogs.
func (in Inspection) Lines(e *Engine) []string {
	name := func(id string) string {
		if id == "" {
			return "(none)"
		}
		return e.block(id).Name
	}
	lines := []string{
		"Tile " + alert.Tile(&in.Pos),
		fmt.Sprintf("Block: [accent]%s[] (previously %s)", name(in.Block), name(in.Previous)),
	}
	if in.ConstructedBy.Known {
		lines = append(lines, "Constructed by: "+in.ConstructedBy.String())
	}
	if in.DeconstructedBy.Known {
		lines = append(lines, "Deconstructed by: "+in.DeconstructedBy.String())
	}
	if in.LastRotatedBy.Known {
		lines = append(lines, "Last rotated by: "+in.LastRotatedBy.String())
	}
	if len(in.Interactions) > 0 {
		parts := make([]string, 0, len(in.Interactions))
		for _, it := range in.Interactions {
			parts = append(parts, it.Who.String())
		}
		lines = append(lines, "Interactions: "+strings.Join(parts, ", "))
	}
	return lines
}
