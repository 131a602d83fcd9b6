package engine

import (
	"encoding/json"

	"github.com/thecity/server/internal/net"
	"github.com/thecity/server/internal/protocol"
	"github.com/thecity/server/internal/world"
)

// Social dynamics not covered by the tunable decay table. Social drains
// slowly in isolation and refills in company; a live conversation also
// trickles energy back.
const (
	socialDecayRate     = 100.0 / (24 * 3600) // per game second, alone
	socialNearRecovery  = 20.0 / 3600
	socialConvRecovery  = 60.0 / 3600
	convEnergyRecovery  = 1.0 / 3600
	bagWearPerUse       = 3600.0 // game seconds of bag sleep per consumed use
)

// simulationPhase runs one simulation step of gameDt game-seconds: need
// decay, sleep recovery, health drain and recovery, collapse, accidents,
// death, then the world timers and the event detector.
func (e *Engine) simulationPhase(gameDt float64) {
	now := e.world.Clock.Now()
	for _, r := range e.world.Ordered() {
		if r.Status != world.StatusAlive {
			continue
		}
		e.stepNeeds(r, gameDt, now)
		e.detectEvents(r, now)
	}
	e.runTimers(gameDt, now)
}

func (e *Engine) stepNeeds(r *world.Resident, gameDt, now float64) {
	nc := e.cfg.Needs

	company := len(e.world.Near(r.X, r.Y, nc.SocialRadius, r.ID)) > 0
	conversing := r.InConversation(now)

	decayFactor := 1.0
	if company {
		decayFactor *= 1 - nc.ProximityDiscount
	}
	if conversing {
		decayFactor *= 1 - nc.ConversationDiscount
	}

	r.Needs.Hunger -= nc.HungerDecay * decayFactor * gameDt
	r.Needs.Thirst -= nc.ThirstDecay * decayFactor * gameDt
	r.Needs.Bladder += nc.BladderFill * gameDt
	r.Needs.Energy -= nc.EnergyDecay * gameDt

	switch {
	case conversing:
		r.Needs.Social += socialConvRecovery * gameDt
		r.Needs.Energy += convEnergyRecovery * gameDt
	case company:
		r.Needs.Social += socialNearRecovery * gameDt
	default:
		r.Needs.Social -= socialDecayRate * gameDt
	}

	if r.Sleeping {
		e.stepSleep(r, gameDt)
	}

	// Health drains additively while starving or dehydrated, recovers only
	// when the body is broadly comfortable.
	if r.Needs.Hunger <= 0 {
		r.Needs.Health -= nc.HealthDrainHunger * gameDt
	}
	if r.Needs.Thirst <= 0 {
		r.Needs.Health -= nc.HealthDrainThirst * gameDt
	}
	if r.Needs.Hunger > 30 && r.Needs.Thirst > 30 && r.Needs.Energy > 30 &&
		r.Needs.Social > 30 && r.Needs.Bladder < 70 {
		r.Needs.Health += nc.HealthRecovery * gameDt
	}

	health := r.Needs.Health
	r.Needs.Clamp()
	r.Dirty = true

	if r.Needs.Bladder >= 100 {
		e.bladderAccident(r, now)
	}
	if r.Needs.Energy <= 0 && !r.Sleeping {
		e.collapse(r, now)
	}
	if health <= 0 {
		e.kill(r, now)
	}
}

// stepSleep recovers energy, faster when a usable sleeping bag is in the
// inventory. Bag wear accrues per game second asleep and consumes a use per
// full hour.
func (e *Engine) stepSleep(r *world.Resident, gameDt float64) {
	nc := e.cfg.Needs
	bag := r.Inv.Find("sleeping_bag")
	if bag != nil && bag.RemainingUses > 0 {
		r.Needs.Energy += nc.SleepBagRecovery * gameDt
		e.bagWear[r.ID] += gameDt
		if e.bagWear[r.ID] >= bagWearPerUse {
			e.bagWear[r.ID] -= bagWearPerUse
			r.Inv.ConsumeUse(bag)
		}
	} else {
		r.Needs.Energy += nc.SleepRecovery * gameDt
	}
	if r.Needs.Energy >= 100 {
		r.Sleeping = false
		r.Notify("wake", "You wake up fully rested.", e.world.Clock.Now())
	}
}

func (e *Engine) bladderAccident(r *world.Resident, now float64) {
	r.Needs.Bladder = 0
	r.Notify("bladder_accident", "You could not hold it any longer.", now)
	e.deps.Persist.AppendEvent(r.ID, "bladder_accident", map[string]any{"passport": r.Passport})
	r.Dirty = true
}

// collapse forces sleep at zero energy, wherever the resident stands.
func (e *Engine) collapse(r *world.Resident, now float64) {
	r.Sleeping = true
	r.Speed = world.SpeedStop
	r.MoveDirX, r.MoveDirY = 0, 0
	r.Waypoints = nil
	r.VelX, r.VelY = 0, 0
	r.Notify("collapse", "Exhaustion takes you. You collapse where you stand.", now)
	e.deps.Persist.AppendEvent(r.ID, "collapse", map[string]any{"passport": r.Passport})
	e.sendEvent(r, "collapse", map[string]any{}, now)
	r.Dirty = true
}

// kill performs the terminal transition: the resident leaves the active
// sets, a body object takes their place, and the session receives the death
// frame. The identity row persists for history and the mortuary trail.
func (e *Engine) kill(r *world.Resident, now float64) {
	cause := "dehydration"
	if r.Needs.Hunger <= 0 {
		cause = "starvation"
	}

	r.Needs.Health = 0
	r.DiedAt = now
	r.DeathCause = cause

	// A carried suspect drops free when the carrier dies.
	if r.CarryingSuspect != 0 {
		if suspect := e.world.Resident(r.CarryingSuspect); suspect != nil {
			suspect.Notify("released", "Your captor collapsed. You are free.", now)
		}
		r.CarryingSuspect = 0
	}
	if r.CarryingBody != 0 {
		if body := e.world.Body(r.CarryingBody); body != nil {
			body.CarriedBy = 0
		}
		r.CarryingBody = 0
	}

	e.world.Retire(r, world.StatusDeceased)
	e.world.AddBody(&world.Body{
		ID:     r.ID,
		Name:   r.PreferredName,
		X:      r.X,
		Y:      r.Y,
		DiedAt: now,
	})

	if sess := e.byResident[r.ID]; sess != nil {
		sess.Send(net.KindCritical, &protocol.DeathMsg{
			Type:      protocol.SDeath,
			Cause:     cause,
			Text:      e.scripts.DeathText(cause),
			WorldTime: now,
		})
	}

	e.deps.Persist.AppendEvent(r.ID, "death", map[string]any{
		"passport": r.Passport,
		"cause":    cause,
	})
	e.deps.Persist.SaveResident(r)
	r.Dirty = false
	delete(e.bagWear, r.ID)
}

// sendEvent queues an event frame on the resident's session, if connected.
func (e *Engine) sendEvent(r *world.Resident, kind string, data map[string]any, now float64) {
	sess := e.byResident[r.ID]
	if sess == nil || sess.IsClosed() {
		return
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	sess.Send(net.KindCritical, &protocol.EventMsg{
		Type:      protocol.SEvent,
		Kind:      kind,
		WorldTime: now,
		Data:      payload,
	})
}
