package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"griefwatch.dev/internal/detect/ledger"
	persistlog "griefwatch.dev/internal/persistence/log"
)

// undoStep reverses one journal entry.
type undoStep struct {
	Time   time.Time `json:"ts"`
	X      int       `json:"x"`
	Y      int       `json:"y"`
	Action string    `json:"action"`
	Block  string    `json:"block,omitempty"`
	Value  *int32    `json:"value,omitempty"`
	Note   string    `json:"note,omitempty"`
}

type undoPlan struct {
	Actor   int        `json:"actor"`
	Since   time.Time  `json:"since"`
	Entries int        `json:"entries"`
	Steps   []undoStep `json:"steps"`
	Skipped int        `json:"skipped"`
}

func undoCmd(args []string) {
	fs := flag.NewFlagSet("undo", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	actor := fs.Int("actor", 0, "actor id (required)")
	since := fs.Duration("since", time.Hour, "undo interactions newer than this")
	session := fs.String("session", "", "only entries from this session")
	asJSON := fs.Bool("json", false, "print the plan as JSON")
	_ = fs.Parse(args)

	if *actor == 0 {
		fmt.Fprintln(os.Stderr, "missing -actor")
		os.Exit(2)
	}
	cutoff := sinceTime(*since)
	ents, err := persistlog.ReadInteractions(*dataDir, func(e ledger.Entry) bool {
		return e.Actor == *actor && !e.Time.Before(cutoff) &&
			(*session == "" || e.Session == *session)
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "read interactions:", err)
		os.Exit(1)
	}
	if len(ents) == 0 {
		fmt.Println("no matching interactions; nothing to undo")
		return
	}

	plan := planUndo(*actor, cutoff, ents)
	if *asJSON {
		printJSON(plan)
		return
	}
	for _, s := range plan.Steps {
		line := fmt.Sprintf("%-14s (%d, %d) %s", humanize.Time(s.Time), s.X, s.Y, s.Action)
		if s.Block != "" {
			line += " " + s.Block
		}
		if s.Value != nil {
			line += fmt.Sprintf(" = %d", *s.Value)
		}
		if s.Note != "" {
			line += "  # " + s.Note
		}
		fmt.Println(line)
	}
	fmt.Printf("undo plan: actor=%d entries=%d steps=%d skipped=%d\n", plan.Actor, plan.Entries, len(plan.Steps), plan.Skipped)
}

// planUndo orders the entries newest first and maps each to its reversing step.
// Deposits and message edits are not reversible and are counted as skipped.
func planUndo(actor int, since time.Time, ents []ledger.Entry) undoPlan {
	type seqEntry struct {
		seq int
		e   ledger.Entry
	}
	recs := make([]seqEntry, len(ents))
	for i, e := range ents {
		recs[i] = seqEntry{seq: i, e: e}
	}
	// Reverse chronological; for equal timestamps use reverse read order.
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].e.Time.Equal(recs[j].e.Time) {
			return recs[i].e.Time.After(recs[j].e.Time)
		}
		return recs[i].seq > recs[j].seq
	})

	plan := undoPlan{Actor: actor, Since: since, Entries: len(ents)}
	for _, r := range recs {
		e := r.e
		step := undoStep{Time: e.Time, X: e.X, Y: e.Y}
		switch e.Kind {
		case ledger.KindBuild:
			step.Action = "deconstruct"
			step.Block = e.Block
			if e.Previous != "" {
				step.Note = "then rebuild " + e.Previous
			}
		case ledger.KindDeconstruct:
			if e.Block == "" {
				plan.Skipped++
				continue
			}
			step.Action = "rebuild"
			step.Block = e.Block
		case ledger.KindConfigure:
			step.Action = "configure"
			step.Block = e.Block
			if e.OldValue == nil {
				step.Note = "previous value unknown"
			} else {
				v := *e.OldValue
				step.Value = &v
			}
		case ledger.KindRotate:
			step.Block = e.Block
			if e.Rotation > 0 {
				step.Action = "rotate counter-clockwise"
			} else {
				step.Action = "rotate clockwise"
			}
		default:
			plan.Skipped++
			continue
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan
}
