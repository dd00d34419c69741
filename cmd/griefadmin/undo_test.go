package main

import (
	"testing"
	"time"

	"griefwatch.dev/internal/detect/ledger"
)

func TestPlanUndo_ReverseChronological(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old := int32(2)
	nv := int32(5)
	ents := []ledger.Entry{
		{Time: base, Kind: ledger.KindBuild, Actor: 7, X: 1, Y: 1, Block: "thorium-reactor", Previous: "conveyor"},
		{Time: base.Add(time.Second), Kind: ledger.KindConfigure, Actor: 7, X: 2, Y: 2, Block: "sorter", OldValue: &old, NewValue: &nv},
		{Time: base.Add(time.Second), Kind: ledger.KindRotate, Actor: 7, X: 3, Y: 3, Block: "conveyor", Rotation: 1},
		{Time: base.Add(2 * time.Second), Kind: ledger.KindDeposit, Actor: 7, X: 1, Y: 1, Item: "thorium", Amount: 10},
		{Time: base.Add(3 * time.Second), Kind: ledger.KindDeconstruct, Actor: 7, X: 4, Y: 4, Block: "vault"},
	}

	plan := planUndo(7, base, ents)
	if plan.Entries != 5 || plan.Skipped != 1 || len(plan.Steps) != 4 {
		t.Fatalf("plan=%+v", plan)
	}
	want := []struct {
		x      int
		action string
	}{
		{4, "rebuild"},
		{3, "rotate counter-clockwise"},
		{2, "configure"},
		{1, "deconstruct"},
	}
	for i, w := range want {
		if plan.Steps[i].X != w.x || plan.Steps[i].Action != w.action {
			t.Fatalf("step %d = %+v, want x=%d %s", i, plan.Steps[i], w.x, w.action)
		}
	}
	if v := plan.Steps[2].Value; v == nil || *v != 2 {
		t.Fatalf("configure restores %v, want 2", v)
	}
	if plan.Steps[3].Note != "then rebuild conveyor" {
		t.Fatalf("build note=%q", plan.Steps[3].Note)
	}
}

func TestPlanUndo_UnknownConfigValue(t *testing.T) {
	nv := int32(1)
	plan := planUndo(7, time.Time{}, []ledger.Entry{
		{Time: time.Now(), Kind: ledger.KindConfigure, Actor: 7, Block: "sorter", NewValue: &nv},
		{Time: time.Now(), Kind: ledger.KindMessage, Actor: 7, Text: "hi"},
	})
	if len(plan.Steps) != 1 || plan.Steps[0].Value != nil || plan.Steps[0].Note == "" || plan.Skipped != 1 {
		t.Fatalf("plan=%+v", plan)
	}
}

func TestStripMarkupAndParseXY(t *testing.T) {
	if got := stripMarkup("[scarlet]griefer[] is building a reactor [stat]7[] blocks"); got != "griefer is building a reactor 7 blocks" {
		t.Fatalf("stripMarkup=%q", got)
	}
	x, y, err := parseXY(" 10, -3 ")
	if err != nil || x != 10 || y != -3 {
		t.Fatalf("parseXY=%d,%d,%v", x, y, err)
	}
	if _, _, err := parseXY("10"); err == nil {
		t.Fatalf("expected error")
	}
}
