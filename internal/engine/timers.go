package engine

import (
	"math"

	"go.uber.org/zap"

	"github.com/thecity/server/internal/net"
	"github.com/thecity/server/internal/protocol"
	"github.com/thecity/server/internal/world"
)

// trainWarning is how many game seconds before arrival the train_arriving
// frame goes out.
const trainWarning = 30.0

// runTimers advances the world-level clocks: trains, shop restock, forage
// regrowth, petition aging, shifts, loitering, and imprisonment release.
func (e *Engine) runTimers(gameDt, now float64) {
	e.runTrain(now)
	e.runRestock(now)
	e.regrowForage(now)
	e.agePetitions(now)
	for _, r := range e.world.Ordered() {
		if r.Status != world.StatusAlive {
			continue
		}
		e.accrueShift(r, gameDt, now)
		e.watchLoitering(r, now)
		e.checkRelease(r, now)
	}
}

// runTrain announces the next arrival shortly before it is due, then drains
// the queue onto the platform.
func (e *Engine) runTrain(now float64) {
	interval := e.cfg.Sim.TrainInterval
	due := e.lastTrain + interval

	if !e.trainAnnounced && due-now <= trainWarning && e.world.TrainQueueLen() > 0 {
		e.trainAnnounced = true
		e.broadcast(&protocol.TrainArrivingMsg{
			Type:       protocol.STrainArriving,
			InSeconds:  math.Max(0, due-now),
			Passengers: e.world.TrainQueueLen(),
		})
	}
	if now < due {
		return
	}
	e.lastTrain = now
	e.trainAnnounced = false

	riders := e.world.DrainTrain()
	for _, id := range riders {
		r := e.world.Resident(id)
		if r == nil || r.Status != world.StatusQueued {
			continue
		}
		x, y := e.platformSlot()
		e.world.Spawn(r, x, y)
		r.Dirty = true

		if sess := e.byResident[r.ID]; sess != nil && !sess.IsClosed() {
			sess.SetState(protocol.StateResident)
			sess.Send(net.KindCritical, &protocol.SpawnMsg{Type: protocol.SSpawn, X: x, Y: y})
		}
		e.deps.Persist.AppendEvent(r.ID, "arrival", map[string]any{"passport": r.Passport})
		e.deps.Persist.SaveResident(r)
		e.log.Info("resident arrived",
			zap.String("passport", r.Passport),
			zap.Float64("x", x), zap.Float64("y", y),
		)
	}
}

// platformSlot returns a free spot on or near the station platform, probing
// outward so simultaneous riders do not stack.
func (e *Engine) platformSlot() (float64, float64) {
	m := e.world.Map
	half := e.cfg.Sim.ResidentHitbox
	step := float64(m.TileSize)
	for ring := 0; ring < 4; ring++ {
		for dy := -ring; dy <= ring; dy++ {
			for dx := -ring; dx <= ring; dx++ {
				x := m.SpawnX + float64(dx)*step
				y := m.SpawnY + float64(dy)*step
				if m.IsPositionBlocked(x, y, half) {
					continue
				}
				if e.world.Overlaps(x, y, half, 0) {
					continue
				}
				return x, y
			}
		}
	}
	return m.SpawnX, m.SpawnY
}

// runRestock tops the shop back up to its baseline stock.
func (e *Engine) runRestock(now float64) {
	if now-e.lastRestock < e.cfg.Economy.RestockInterval {
		return
	}
	e.lastRestock = now

	changed := false
	for _, itemType := range world.ShopItems {
		base := e.baseStock[itemType]
		if e.world.Stock[itemType] < base {
			e.world.Stock[itemType] = base
			changed = true
		}
	}
	if changed {
		e.deps.Persist.SaveStock(e.world.Stock)
		e.deps.Persist.AppendEvent(0, "restock", map[string]any{})
	}
}

// regrowForage restores node uses at one per Regrow game seconds since the
// last consumption.
func (e *Engine) regrowForage(now float64) {
	for _, n := range e.world.ForageNodes() {
		if n.UsesRemaining >= n.MaxUses || n.Regrow <= 0 {
			continue
		}
		grown := int((now - n.LastUse) / n.Regrow)
		if grown <= 0 {
			continue
		}
		if n.UsesRemaining+grown > n.MaxUses {
			grown = n.MaxUses - n.UsesRemaining
		}
		n.UsesRemaining += grown
		n.LastUse += float64(grown) * n.Regrow
	}
}

// agePetitions closes petitions past their maximum age.
func (e *Engine) agePetitions(now float64) {
	maxAge := e.cfg.Economy.PetitionMaxAge * 3600
	for _, p := range e.world.Petitions {
		if p.Status != world.PetitionOpen || now-p.OpenedAt < maxAge {
			continue
		}
		p.Status = world.PetitionClosed
		e.deps.Persist.SavePetition(p)
		e.deps.Persist.AppendEvent(p.Author, "petition_closed", map[string]any{
			"petition_id": p.ID,
			"for":         p.VotesFor,
			"against":     p.VotesAgainst,
		})
	}
}

// accrueShift advances shift time while the resident is at the workplace and
// awake. A completed shift credits the wage and resets the clock.
func (e *Engine) accrueShift(r *world.Resident, gameDt, now float64) {
	if r.Job == nil || r.Sleeping {
		if r.Job != nil {
			r.Job.OnShift = false
		}
		return
	}
	job := e.world.Jobs[r.Job.JobID]
	if job == nil {
		return
	}

	// Outdoor jobs accrue anywhere outside; building jobs only inside.
	atWork := false
	if job.BuildingID == "" {
		atWork = r.BuildingID == ""
	} else {
		atWork = r.BuildingID == job.BuildingID
	}
	r.Job.OnShift = atWork
	if !atWork {
		return
	}

	r.Job.ShiftElapsed += gameDt
	r.Dirty = true
	shiftLen := job.ShiftHours * 3600
	if r.Job.ShiftElapsed < shiftLen {
		return
	}
	r.Job.ShiftElapsed = 0
	r.Wallet += job.Wage
	r.Notify("shift_complete", "Shift complete. Wage paid: "+job.Title, now)
	e.sendEvent(r, "shift_complete", map[string]any{
		"job_id": job.ID,
		"wage":   job.Wage,
	}, now)
	e.deps.Persist.AppendEvent(r.ID, "shift_complete", map[string]any{
		"job_id": job.ID,
		"wage":   job.Wage,
	})
	e.deps.Persist.SaveResident(r)
}

// watchLoitering marks residents wanted after staying within the loiter
// radius for longer than the threshold. Buildings and cells do not count.
func (e *Engine) watchLoitering(r *world.Resident, now float64) {
	if r.BuildingID != "" || r.Imprisoned(now) {
		r.AnchorX, r.AnchorY = r.X, r.Y
		r.AnchorTime = now
		return
	}
	dx, dy := r.X-r.AnchorX, r.Y-r.AnchorY
	radius := e.cfg.Law.LoiterRadius
	if dx*dx+dy*dy > radius*radius {
		r.AnchorX, r.AnchorY = r.X, r.Y
		r.AnchorTime = now
		return
	}
	if now-r.AnchorTime < e.cfg.Law.LoiterThreshold*3600 {
		return
	}
	r.AnchorTime = now
	if r.HasViolation("loitering") {
		return
	}
	r.AddViolation("loitering")
	r.Dirty = true
	r.Notify("law_violation", "You have been reported for loitering.", now)
	e.deps.Persist.AppendEvent(r.ID, "law_violation", map[string]any{"kind": "loitering"})
	e.deps.Persist.SaveResident(r)
}

// checkRelease frees residents whose sentence has run out.
func (e *Engine) checkRelease(r *world.Resident, now float64) {
	if r.ImprisonedUntil == 0 || now < r.ImprisonedUntil {
		return
	}
	r.ImprisonedUntil = 0
	r.ClearViolations()
	r.AnchorX, r.AnchorY = r.X, r.Y
	r.AnchorTime = now
	r.Dirty = true
	r.Notify("released", "Your sentence is served. You are free to go.", now)
	e.deps.Persist.AppendEvent(r.ID, "released", map[string]any{"passport": r.Passport})
	e.deps.Persist.SaveResident(r)
}
