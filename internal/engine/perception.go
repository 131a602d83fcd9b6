package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/thecity/server/internal/net"
	"github.com/thecity/server/internal/protocol"
	"github.com/thecity/server/internal/tilemap"
	"github.com/thecity/server/internal/world"
)

// Interaction ranges mirrored from the dispatcher's preconditions, so the
// advertised verbs match what a command would actually accept.
const (
	doorInteractTiles  = 1.5
	forageInteractFull = 48.0
)

// perceptionPhase assembles and queues one bounded world view per connected
// resident, mirrored to any spectators following them. Runs at most once per
// wall-clock iteration.
func (e *Engine) perceptionPhase() {
	e.tick++
	now := e.world.Clock.Now()
	window := e.world.TakeSpeech()

	// Spectators grouped by followed resident.
	followers := make(map[int64][]*net.Session)
	for _, sess := range e.sessions {
		if sess.Spectator && !sess.IsClosed() {
			followers[sess.FollowID] = append(followers[sess.FollowID], sess)
		}
	}

	for _, r := range e.world.Ordered() {
		if r.Status != world.StatusAlive {
			continue
		}
		player := e.byResident[r.ID]
		watchers := followers[r.ID]
		if (player == nil || player.IsClosed()) && len(watchers) == 0 {
			continue
		}

		msg := e.buildPerception(r, window, now)
		if player != nil && !player.IsClosed() {
			player.Send(net.KindPerception, msg)
		}
		for _, w := range watchers {
			w.Send(net.KindPerception, msg)
		}
	}
}

func (e *Engine) buildPerception(r *world.Resident, window []world.SpeechAct, now float64) *protocol.PerceptionMsg {
	msg := &protocol.PerceptionMsg{
		Type:      protocol.SPerception,
		Tick:      e.tick,
		WorldTime: now,
		Self:      e.buildSelf(r, now),
		Visible:   e.buildVisible(r),
		Audible:   e.buildAudible(r, window),
	}
	msg.Interactions = e.buildInteractions(r)
	if len(r.Notifications) > 0 {
		if raw, err := json.Marshal(r.Notifications); err == nil {
			msg.Notifications = raw
		}
		r.Notifications = r.Notifications[:0]
	}
	msg.MapDelta = e.buildForageDelta(r)
	return msg
}

func (e *Engine) buildSelf(r *world.Resident, now float64) protocol.SelfBlock {
	self := protocol.SelfBlock{
		ResidentID:    r.ID,
		Passport:      r.Passport,
		Name:          r.PreferredName,
		X:             r.X,
		Y:             r.Y,
		Facing:        r.Facing,
		BuildingID:    r.BuildingID,
		Sleeping:      r.Sleeping,
		Needs:         mustMarshal(&r.Needs),
		Wallet:        r.Wallet,
		Inventory:     mustMarshal(r.Inv.Items),
		Violations:    r.Violations,
		Wanted:        r.Wanted,
		FeedbackToken: r.FeedbackToken,
	}
	if r.Job != nil {
		title := ""
		if j := e.world.Jobs[r.Job.JobID]; j != nil {
			title = j.Title
		}
		self.Job = mustMarshal(map[string]any{
			"job_id":        r.Job.JobID,
			"title":         title,
			"on_shift":      r.Job.OnShift,
			"shift_elapsed": r.Job.ShiftElapsed,
		})
	}
	if r.ImprisonedUntil > now {
		self.ImprisonedFor = r.ImprisonedUntil - now
	}
	return self
}

// buildVisible collects residents, bodies, and forageables within ambient
// range or the field-of-view cone, plus buildings within ambient range.
// Walls never block sight in the top-down world.
func (e *Engine) buildVisible(r *world.Resident) []protocol.VisibleEntity {
	p := e.cfg.Perception
	var out []protocol.VisibleEntity

	for _, o := range e.world.Ordered() {
		if o.ID == r.ID || o.Status != world.StatusAlive {
			continue
		}
		if !e.inView(r, o.X, o.Y, p.AmbientRange, p.FOVRange) {
			continue
		}
		out = append(out, protocol.VisibleEntity{
			Kind:     "resident",
			ID:       o.Passport,
			Name:     o.PreferredName,
			X:        o.X,
			Y:        o.Y,
			Facing:   o.Facing,
			Sleeping: o.Sleeping,
		})
	}

	for _, b := range e.world.Bodies() {
		if !e.inView(r, b.X, b.Y, p.AmbientRange, p.FOVRange) {
			continue
		}
		out = append(out, protocol.VisibleEntity{
			Kind:   "body",
			ID:     strconv.FormatInt(b.ID, 10),
			Name:   b.Name,
			X:      b.X,
			Y:      b.Y,
			IsDead: true,
		})
	}

	// Buildings are landmarks: ambient range only, facing irrelevant.
	ts := float64(e.world.Map.TileSize)
	for _, b := range e.world.Map.Buildings {
		cx := (float64(b.Bounds.MinX+b.Bounds.MaxX)/2 + 0.5) * ts
		cy := (float64(b.Bounds.MinY+b.Bounds.MaxY)/2 + 0.5) * ts
		if math.Hypot(cx-r.X, cy-r.Y) > p.AmbientRange {
			continue
		}
		out = append(out, protocol.VisibleEntity{
			Kind:    "building",
			ID:      b.ID,
			X:       cx,
			Y:       cy,
			Subtype: string(b.Type),
		})
	}

	// Depleted nodes stay scenery, not forageables.
	for _, n := range e.world.ForageNodes() {
		if n.UsesRemaining <= 0 {
			continue
		}
		if !e.inView(r, n.X, n.Y, p.AmbientRange, p.FOVRange) {
			continue
		}
		out = append(out, protocol.VisibleEntity{
			Kind:    "forageable",
			ID:      strconv.FormatInt(n.ID, 10),
			X:       n.X,
			Y:       n.Y,
			Subtype: n.Kind,
			Uses:    n.UsesRemaining,
		})
	}
	return out
}

// inView is the shared visibility predicate: inside ambient range, or ahead
// within the view cone.
func (e *Engine) inView(r *world.Resident, x, y, ambient, fovRange float64) bool {
	dx, dy := x-r.X, y-r.Y
	dist := math.Hypot(dx, dy)
	if dist <= ambient {
		return true
	}
	if dist > fovRange {
		return false
	}
	bearing := math.Atan2(dy, dx) * 180 / math.Pi
	diff := math.Mod(bearing-r.Facing+540, 360) - 180
	return math.Abs(diff) <= e.cfg.Perception.FOVAngle/2
}

// buildAudible resolves the speech window for one listener. The speaker
// always hears their own act; the addressee of directed speech hears it
// whenever they sit inside the raw volume envelope; everyone else is subject
// to the wall attenuation factor.
func (e *Engine) buildAudible(r *world.Resident, window []world.SpeechAct) []protocol.AudibleSpeech {
	var out []protocol.AudibleSpeech
	for _, act := range window {
		directed := act.To == r.ID
		if act.Speaker != r.ID && !e.canHear(r, act, directed) {
			continue
		}
		speaker := e.world.Resident(act.Speaker)
		passport := ""
		if speaker != nil {
			passport = speaker.Passport
		}
		out = append(out, protocol.AudibleSpeech{
			Speaker:  passport,
			Name:     act.SpeakerName,
			Text:     act.Text,
			Volume:   string(act.Volume),
			Directed: directed,
			X:        act.X,
			Y:        act.Y,
		})
	}
	return out
}

func (e *Engine) canHear(r *world.Resident, act world.SpeechAct, directed bool) bool {
	p := e.cfg.Perception
	var reach float64
	switch act.Volume {
	case world.VolumeWhisper:
		reach = p.WhisperRange
	case world.VolumeShout:
		reach = p.ShoutRange
	default:
		reach = p.NormalRange
	}
	dist := math.Hypot(act.X-r.X, act.Y-r.Y)
	if directed {
		return dist <= reach
	}
	if e.world.Map.WallBetween(act.X, act.Y, r.X, r.Y) {
		reach *= p.WallSoundFactor
	}
	return dist <= reach
}

// buildInteractions lists the verbs currently legal for the resident, in a
// stable order.
func (e *Engine) buildInteractions(r *world.Resident) []string {
	m := e.world.Map
	var out []string

	if r.BuildingID == "" {
		if b, _ := m.NearestDoor(r.X, r.Y, float64(m.TileSize)*doorInteractTiles); b != nil {
			out = append(out, "enter_building:"+b.ID)
		}
	} else {
		out = append(out, "exit_building")
		if b := m.Building(r.BuildingID); b != nil {
			switch b.Type {
			case tilemap.BuildingShop:
				out = append(out, "buy")
			case tilemap.BuildingBank:
				out = append(out, "collect_ubi")
			case tilemap.BuildingToilet:
				out = append(out, "use_toilet")
			case tilemap.BuildingPolice:
				if r.CarryingSuspect != 0 {
					out = append(out, "book_suspect")
				}
			case tilemap.BuildingMortuary:
				if r.CarryingBody != 0 {
					out = append(out, "process_body")
				}
			}
		}
	}

	for _, n := range e.world.ForageNodes() {
		if n.UsesRemaining <= 0 {
			continue
		}
		if math.Hypot(n.X-r.X, n.Y-r.Y) <= forageInteractFull {
			out = append(out, fmt.Sprintf("forage:%d", n.ID))
		}
	}
	if r.Inv.FindKind(world.KindFood) != nil {
		out = append(out, "eat")
	}
	if r.Inv.FindKind(world.KindDrink) != nil {
		out = append(out, "drink")
	}
	return out
}

// buildForageDelta reports nodes whose uses changed since this resident's
// previous perception. The first perception seeds the baseline silently; the
// visible set already carries absolute values.
func (e *Engine) buildForageDelta(r *world.Resident) []protocol.ForageDelta {
	seen := e.forageSeen[r.ID]
	first := seen == nil
	if first {
		seen = make(map[int64]int)
		e.forageSeen[r.ID] = seen
	}
	var out []protocol.ForageDelta
	for _, n := range e.world.ForageNodes() {
		if !first && seen[n.ID] != n.UsesRemaining {
			out = append(out, protocol.ForageDelta{NodeID: n.ID, Uses: n.UsesRemaining})
		}
		seen[n.ID] = n.UsesRemaining
	}
	return out
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
