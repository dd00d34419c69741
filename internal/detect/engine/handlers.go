package engine

import (
	"github.com/google/uuid"

	"griefwatch.dev/internal/catalogs"
	"griefwatch.dev/internal/detect/host"
	"griefwatch.dev/internal/detect/ledger"
	"griefwatch.dev/internal/detect/ratelimit"
	"griefwatch.dev/internal/detect/rules"
)

func (e *Engine) onDeposit(ev Deposit) {
	who := e.who(ev.Actor)
	if !who.Known {
		return
	}
	blk, ok := e.content(ev.Pos)
	if !ok {
		return
	}
	item, ok := e.cats.Item(ev.Item)
	if !ok {
		item = catalogs.ItemDef{ID: ev.Item, Name: ev.Item}
	}
	e.dispatch(rules.EvaluateDeposit(e.cfg.Thresholds, e.flags(), rules.Deposit{
		Actor:  who,
		Pos:    ev.Pos,
		Block:  blk,
		Item:   item,
		Amount: ev.Amount,
	})...)

	ent := entry(ledger.KindDeposit, ev.Actor, ev.Pos)
	ent.Block, ent.Item, ent.Amount = blk.ID, item.ID, ev.Amount
	e.record(ent)
}

func (e *Engine) onContentChanged(ev ContentChanged) {
	rec := e.locations.Get(ev.Pos)
	if rec == nil {
		return
	}
	next := ev.Block
	if next == catalogs.Air {
		next = ""
	}
	if rec.Current == next {
		return
	}
	if rec.Current != "" {
		rec.Previous = rec.Current
	}
	rec.Current = next
}

func (e *Engine) onConstructProgress(ev ConstructProgress) {
	who := e.who(ev.Builder)
	if !who.Known {
		return
	}
	rec := e.locations.GetOrCreate(ev.Pos, true)
	rec.ConstructedBy = who.Actor.ID

	c := rules.Construction{Builder: who, Pos: ev.Pos, Block: e.block(ev.Block), Progress: ev.Progress}
	if e.deps.World != nil {
		c.CoreDistance, c.HasCore = e.deps.World.CoreDistance(who.Actor.Team, ev.Pos)
	}

	first := !rec.ConstructionSeen
	coolant := false
	if first {
		if ev.Previous != "" && ev.Previous != catalogs.Air {
			rec.Previous = ev.Previous
		}
		e.locations.Link(ev.Pos)
		rec.ConstructionSeen = true
		rec.Current = ev.Block
		coolant = e.coolantNearby(ev.Pos)
	}
	e.dispatch(rules.EvaluateConstruction(e.cfg.Thresholds, c, first, coolant)...)
}

func (e *Engine) coolantNearby(pos host.Pos) bool {
	if e.deps.World == nil {
		return false
	}
	var liquids []string
	for _, n := range e.deps.World.Neighbors(pos) {
		if id, ok := e.deps.World.Liquid(n); ok {
			liquids = append(liquids, id)
		}
	}
	return rules.CoolantNearby(e.cats, liquids)
}

func (e *Engine) onConstructFinished(ev ConstructFinished) {
	rec := e.locations.Link(ev.Pos)
	rec.ConstructedBy = ev.Builder
	rec.Current = ev.Block

	blk := e.block(ev.Block)
	e.dispatchIf(rules.DebugBuild(e.flags(), e.who(ev.Builder), ev.Pos, blk.Name))

	ent := entry(ledger.KindBuild, ev.Builder, ev.Pos)
	ent.Block, ent.Previous = ev.Block, rec.Previous
	e.record(ent)
}

func (e *Engine) onDeconstructProgress(ev DeconstructProgress) {
	rec := e.locations.GetOrCreate(ev.Pos, true)
	if ev.Actor != host.NoActor {
		rec.DeconstructedBy = ev.Actor
	}
	rec.DeconstructionSeen = true
}

func (e *Engine) onDeconstructFinished(ev DeconstructFinished) {
	rec := e.locations.GetOrCreate(ev.Pos, true)
	by := rec.DeconstructedBy
	if ev.Actor != host.NoActor {
		by = ev.Actor
	}
	removed := ev.Block
	if removed == "" {
		removed = rec.Current
	}

	// The structure is gone: the primary starts over and its cells stand alone again.
	e.locations.Unlink(ev.Pos)
	rec.DeconstructedBy = by
	rec.Previous = removed

	blk := e.block(removed)
	e.dispatchIf(rules.DebugDeconstruct(e.flags(), e.who(by), ev.Pos, blk.Name))

	ent := entry(ledger.KindDeconstruct, by, ev.Pos)
	ent.Block = removed
	e.record(ent)
}

func (e *Engine) onPreConfigure(ev PreConfigure) {
	rec := e.locations.GetOrCreate(ev.Pos, true)
	who := e.who(ev.Actor)
	if who.Known {
		rec.LogInteraction(who.Actor.ID, e.cfg.Now())
		e.hit(ledger.ActionConfigure, who)
	}

	blk, ok := e.content(ev.Pos)
	if !ok {
		return
	}
	c := rules.Configure{Actor: who, Pos: ev.Pos, Block: blk}
	switch blk.Class {
	case catalogs.ClassSorter:
		c.NewItem, c.HasNewItem = e.cats.ItemByIndex(int(ev.Value))
		if ev.HasOld {
			c.OldItem, c.HasOldItem = e.cats.ItemByIndex(int(ev.OldValue))
		}
	case catalogs.ClassMassDriver:
		c.NewLink = linkTarget(ev.Value, true)
		c.OldLink = linkTarget(ev.OldValue, ev.HasOld)
	}
	e.dispatchIf(rules.VerboseConfigure(e.flags(), c))

	if who.Known {
		ent := entry(ledger.KindConfigure, who.Actor.ID, ev.Pos)
		ent.Block = blk.ID
		newValue := ev.Value
		ent.NewValue = &newValue
		if ev.HasOld {
			oldValue := ev.OldValue
			ent.OldValue = &oldValue
		}
		e.record(ent)
	}
}

// linkTarget decodes a packed position config; negative values mean "no link".
func linkTarget(v int32, ok bool) *host.Pos {
	if !ok || v < 0 {
		return nil
	}
	p := host.Unpack(v)
	return &p
}

func (e *Engine) onRotate(ev Rotate) {
	rec := e.locations.GetOrCreate(ev.Pos, true)
	who := e.who(ev.Actor)
	if who.Known {
		rec.LastRotatedBy = who.Actor.ID
		rec.LogInteraction(who.Actor.ID, e.cfg.Now())
	}

	name := e.block(rec.Current).Name
	if blk, ok := e.content(ev.Pos); ok {
		name = blk.Name
	}
	e.dispatchIf(rules.VerboseRotate(e.flags(), who, ev.Pos, name))

	if !who.Known {
		return
	}
	e.hit(ledger.ActionRotate, who)

	ent := entry(ledger.KindRotate, who.Actor.ID, ev.Pos)
	ent.Block = rec.Current
	ent.Rotation = -1
	if ev.Clockwise {
		ent.Rotation = 1
	}
	e.record(ent)
}

// hit counts one rate-limited action and, on breach, defers the notification to the
// next flush. The notification fires at most once per limiter window.
func (e *Engine) hit(action string, who rules.Who) {
	l := e.actors.GetOrCreate(who.Actor.ID).Limiter(action)
	now := e.nowMs()
	if !l.Hit(now) {
		return
	}
	window := l.WindowID(now)
	e.deferred = append(e.deferred, func() {
		l.NotifyOnce(window, func(l *ratelimit.Limiter) {
			e.dispatcher.Dispatch(rules.RateBreach(action, l, who))
		})
	})
}

func (e *Engine) onPowerSplit(ev PowerSplit) {
	e.dispatchIf(rules.PowerSplit(e.cfg.Thresholds, rules.Split{
		Actor:   e.who(ev.Actor),
		Pos:     ev.Pos,
		OldSize: ev.OldSize,
		NewA:    ev.NewA,
		NewB:    ev.NewB,
	}))
}

func (e *Engine) onThermal(ev ThermalUpdate) {
	blk, ok := e.content(ev.Pos)
	if !ok || blk.Class != catalogs.ClassReactor {
		return
	}
	var team host.TeamID
	if e.deps.Session != nil {
		team = e.deps.Session.LocalTeam()
	}
	interactable := e.deps.World.Interactable(ev.Pos, team)
	e.dispatchIf(rules.Overheat(e.cfg.Thresholds, ev.Pos, blk.Name, ev.Heat, interactable))
}

func (e *Engine) onWorldLoad(ev WorldLoadBegin) {
	e.Reset(ev.Session)
}

// Reset ends the current session: the ledger is handed to OnSessionReset, both
// registries and the deferred queue are cleared and the dispatcher cool-down restarts.
func (e *Engine) Reset(session string) {
	if e.cfg.OnSessionReset != nil {
		e.cfg.OnSessionReset(ledger.Capture(e.session, e.cfg.Now(), e.locations, e.actors))
	}
	e.locations.Clear()
	e.actors.Clear()
	e.deferred = nil
	if session == "" {
		session = uuid.NewString()
	}
	e.session = session
	e.dispatcher.Reset(session)
}

func (e *Engine) onDisconnect(ev ActorDisconnect) {
	e.dispatchIf(rules.DebugDisconnect(e.flags(), e.who(ev.Actor)))
	e.actors.OnDestroyed(ev.Actor)
}

func (e *Engine) onMessageText(ev MessageText) {
	who := e.who(ev.Actor)
	if !who.Known {
		return
	}
	rec := e.locations.GetOrCreate(ev.Pos, true)
	rec.LogInteraction(who.Actor.ID, e.cfg.Now())

	ent := entry(ledger.KindMessage, who.Actor.ID, ev.Pos)
	ent.Block, ent.Text = rec.Current, ev.Text
	e.record(ent)
}

func (e *Engine) onActorSnapshot(ev ActorSnapshot) {
	who := e.who(ev.Actor)
	if !who.Known {
		return
	}
	e.actors.GetOrCreate(ev.Actor)
	e.dispatchIf(rules.DebugSnapshot(e.flags(), who))
}

// Autoban bans target on behalf of invoker. It is a no-op unless the autoban setting is
// on, invoker is a known admin and target resolves to a known actor.
func (e *Engine) Autoban(invoker, target host.ActorID, reason string) bool {
	if !e.flags().Autoban || e.deps.Moderation == nil {
		return false
	}
	inv := e.who(invoker)
	if !inv.Known || !inv.Actor.Admin {
		return false
	}
	tgt := e.who(target)
	if !tgt.Known {
		return false
	}
	if err := e.deps.Moderation.Ban(target); err != nil {
		e.logf("autoban %d: %v", target, err)
		return false
	}
	e.dispatcher.Dispatch(rules.AutobanNotice(tgt, reason))
	return true
}
