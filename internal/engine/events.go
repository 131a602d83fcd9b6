package engine

import (
	"encoding/json"

	"github.com/thecity/server/internal/net"
	"github.com/thecity/server/internal/protocol"
	"github.com/thecity/server/internal/world"
)

// Event detector thresholds. A need is critical below 10 and recovered only
// once it climbs back above 30, so the pair of events fires exactly once per
// excursion.
const (
	criticalBelow  = 10.0
	recoveredAbove = 30.0

	painMild   = 40.0
	painSevere = 20.0
	painAgony  = 5.0
	painGap    = 30.0 // game seconds between pain messages per source
)

// detectEvents compares the resident's needs against the detector state and
// emits need_critical, need_recovered, and pain frames. Observes only; never
// mutates needs.
func (e *Engine) detectEvents(r *world.Resident, now float64) {
	if r.CriticalNow == nil {
		r.CriticalNow = make(map[string]bool, 6)
	}
	if r.LastPain == nil {
		r.LastPain = make(map[string]float64, 4)
	}

	e.checkNeed(r, "hunger", r.Needs.Hunger, now)
	e.checkNeed(r, "thirst", r.Needs.Thirst, now)
	e.checkNeed(r, "energy", r.Needs.Energy, now)
	e.checkNeed(r, "health", r.Needs.Health, now)
	e.checkNeed(r, "social", r.Needs.Social, now)

	e.checkPain(r, "hunger", r.Needs.Hunger, now)
	e.checkPain(r, "thirst", r.Needs.Thirst, now)
	e.checkPain(r, "social", r.Needs.Social, now)
	e.checkPain(r, "health", r.Needs.Health, now)
}

func (e *Engine) checkNeed(r *world.Resident, need string, value, now float64) {
	switch {
	case value < criticalBelow && !r.CriticalNow[need]:
		r.CriticalNow[need] = true
		e.sendDetectorEvent(r, "need_critical", need, value, now)
	case value > recoveredAbove && r.CriticalNow[need]:
		r.CriticalNow[need] = false
		e.sendDetectorEvent(r, "need_recovered", need, value, now)
	}
}

func (e *Engine) checkPain(r *world.Resident, source string, value, now float64) {
	var intensity string
	switch {
	case value < painAgony:
		intensity = "agony"
	case value < painSevere:
		intensity = "severe"
	case value < painMild:
		intensity = "mild"
	default:
		return
	}
	if now-r.LastPain[source] < painGap {
		return
	}
	r.LastPain[source] = now

	sess := e.byResident[r.ID]
	if sess == nil || sess.IsClosed() {
		return
	}
	sess.Send(net.KindCritical, &protocol.PainMsg{
		Type:      protocol.SPain,
		Source:    source,
		Intensity: intensity,
		Text:      e.scripts.PainText(source, intensity, value),
		WorldTime: now,
	})
}

func (e *Engine) sendDetectorEvent(r *world.Resident, kind, need string, value, now float64) {
	sess := e.byResident[r.ID]
	if sess == nil || sess.IsClosed() {
		return
	}
	payload, err := json.Marshal(map[string]any{"need": need, "value": value})
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
