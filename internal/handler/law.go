package handler

import (
	"strings"

	"github.com/thecity/server/internal/net"
	"github.com/thecity/server/internal/protocol"
	"github.com/thecity/server/internal/tilemap"
	"github.com/thecity/server/internal/world"
)

const bodyPickupRange = 64.0

// isPolice reports whether the resident holds the police job.
func isPolice(d *Deps, r *world.Resident) bool {
	if r.Job == nil {
		return false
	}
	j := d.World.Jobs[r.Job.JobID]
	if j == nil || j.BuildingID == "" {
		return false
	}
	b := d.World.Map.Building(j.BuildingID)
	return b != nil && b.Type == tilemap.BuildingPolice
}

// sentenceFor returns the booking sentence in game-seconds for the suspect's
// first active violation, defaulting to one game-hour. Law names are display
// strings ("Loitering") while violation kinds are machine keys, so the match
// is case-insensitive.
func sentenceFor(d *Deps, suspect *world.Resident) float64 {
	for _, kind := range suspect.Violations {
		for _, law := range d.World.Laws {
			if strings.EqualFold(law.Name, kind) {
				return law.SentenceHours * 3600
			}
		}
	}
	return 3600
}

// HandleArrest lets a police officer take a wanted resident into custody.
// The suspect is carried until booked; the position phase keeps them at the
// officer's side.
func HandleArrest(sess *net.Session, req *protocol.Request, d *Deps) {
	var msg protocol.ArrestMsg
	if !decode(sess, req, &msg) {
		return
	}
	r := actor(sess, req, d, actorGate{})
	if r == nil {
		return
	}
	if !isPolice(d, r) {
		fail(sess, req.RequestID, protocol.ReasonValidationFailed)
		return
	}
	if r.CarryingSuspect != 0 {
		fail(sess, req.RequestID, protocol.ReasonValidationFailed)
		return
	}
	suspect := d.World.ByPassport(msg.Target)
	if suspect == nil || suspect.Status != world.StatusAlive {
		fail(sess, req.RequestID, protocol.ReasonUnknownResident)
		return
	}
	if !suspect.Wanted {
		fail(sess, req.RequestID, protocol.ReasonValidationFailed)
		return
	}
	now := d.World.Clock.Now()
	if suspect.Imprisoned(now) {
		// Already serving a sentence; re-arresting would pay a second bounty.
		fail(sess, req.RequestID, protocol.ReasonValidationFailed)
		return
	}
	if !withinRange(r.X, r.Y, suspect.X, suspect.Y, d.Config.Law.ArrestRange) {
		fail(sess, req.RequestID, protocol.ReasonRangeExceeded)
		return
	}

	r.CarryingSuspect = suspect.ID
	suspect.MoveDirX, suspect.MoveDirY = 0, 0
	suspect.Waypoints = nil
	suspect.Speed = world.SpeedStop
	suspect.Notify("arrest", "You have been arrested by "+r.PreferredName+".", now)
	r.Dirty = true
	suspect.Dirty = true

	d.Persist.SaveResident(r)
	d.Persist.SaveResident(suspect)
	event(d, r, "arrest", map[string]any{"target": suspect.Passport})
	ok(sess, req.RequestID, map[string]any{"target": suspect.Passport})
}

// HandleBookSuspect books the carried suspect at the police station:
// imprisonment until world_time + sentence, bounty to the officer.
func HandleBookSuspect(sess *net.Session, req *protocol.Request, d *Deps) {
	r := actor(sess, req, d, actorGate{})
	if r == nil {
		return
	}
	if !insideZone(sess, req, d, r, "police", "book_suspect") {
		return
	}
	if r.CarryingSuspect == 0 {
		fail(sess, req.RequestID, protocol.ReasonValidationFailed)
		return
	}
	suspect := d.World.Resident(r.CarryingSuspect)
	if suspect == nil || suspect.Status != world.StatusAlive {
		fail(sess, req.RequestID, protocol.ReasonUnknownResident)
		return
	}
	r.CarryingSuspect = 0

	now := d.World.Clock.Now()
	sentence := sentenceFor(d, suspect)
	suspect.ImprisonedUntil = now + sentence
	// The sentence consumes the violations; only a fresh offence re-flags.
	suspect.ClearViolations()

	// Confine the suspect inside the station.
	d.World.MoveResident(suspect, r.X, r.Y)
	suspect.BuildingID = r.BuildingID
	suspect.Notify("booked", "You have been booked. Sentence served on site.", now)

	r.Wallet += d.Config.Economy.ArrestBounty
	r.Dirty = true
	suspect.Dirty = true

	d.Persist.SaveResident(r)
	d.Persist.SaveResident(suspect)
	event(d, r, "book_suspect", map[string]any{
		"target":   suspect.Passport,
		"sentence": sentence,
		"bounty":   d.Config.Economy.ArrestBounty,
	})
	ok(sess, req.RequestID, map[string]any{
		"wallet":   r.Wallet,
		"sentence": sentence,
	})
}

// HandleCollectBody picks up a nearby body for transport to the mortuary.
func HandleCollectBody(sess *net.Session, req *protocol.Request, d *Deps) {
	var msg protocol.CollectBodyMsg
	if !decode(sess, req, &msg) {
		return
	}
	r := actor(sess, req, d, actorGate{})
	if r == nil {
		return
	}
	if r.CarryingBody != 0 {
		fail(sess, req.RequestID, protocol.ReasonValidationFailed)
		return
	}
	body := d.World.Body(msg.BodyID)
	if body == nil {
		fail(sess, req.RequestID, protocol.ReasonNotFound)
		return
	}
	if body.CarriedBy != 0 {
		fail(sess, req.RequestID, protocol.ReasonValidationFailed)
		return
	}
	if !withinRange(r.X, r.Y, body.X, body.Y, bodyPickupRange) {
		fail(sess, req.RequestID, protocol.ReasonRangeExceeded)
		return
	}

	body.CarriedBy = r.ID
	r.CarryingBody = body.ID
	r.Dirty = true
	d.Persist.SaveResident(r)
	event(d, r, "collect_body", map[string]any{"body_id": body.ID, "name": body.Name})
	ok(sess, req.RequestID, nil)
}

// HandleProcessBody hands the carried body over at the mortuary for bounty.
func HandleProcessBody(sess *net.Session, req *protocol.Request, d *Deps) {
	r := actor(sess, req, d, actorGate{})
	if r == nil {
		return
	}
	if !insideZone(sess, req, d, r, "mortuary", "process_body") {
		return
	}
	if r.CarryingBody == 0 {
		fail(sess, req.RequestID, protocol.ReasonValidationFailed)
		return
	}
	body := d.World.Body(r.CarryingBody)
	if body == nil {
		fail(sess, req.RequestID, protocol.ReasonNotFound)
		return
	}
	r.CarryingBody = 0

	d.World.RemoveBody(body.ID)
	r.Wallet += d.Config.Economy.BodyBounty
	r.Dirty = true

	d.Persist.SaveResident(r)
	event(d, r, "process_body", map[string]any{
		"body_id": body.ID,
		"name":    body.Name,
		"bounty":  d.Config.Economy.BodyBounty,
	})
	ok(sess, req.RequestID, map[string]any{"wallet": r.Wallet})
}
