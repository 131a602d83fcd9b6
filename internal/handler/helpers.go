package handler

import (
	"encoding/json"
	"math"

	"github.com/thecity/server/internal/net"
	"github.com/thecity/server/internal/protocol"
	"github.com/thecity/server/internal/tilemap"
	"github.com/thecity/server/internal/world"
	"go.uber.org/zap"
)

// ok sends a successful action_result with optional data.
func ok(sess *net.Session, requestID string, data any) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err == nil {
			raw = b
		}
	}
	sess.Send(net.KindCritical, protocol.ResultOK(requestID, raw))
}

// fail sends a failed action_result with a reason kind.
func fail(sess *net.Session, requestID, reason string) {
	sess.Send(net.KindCritical, protocol.ResultErr(requestID, reason))
}

// decode unmarshals the full frame into the handler's payload struct. A
// malformed payload is a validation failure, already replied to.
func decode[T any](sess *net.Session, req *protocol.Request, out *T) bool {
	if err := json.Unmarshal(req.Raw, out); err != nil {
		fail(sess, req.RequestID, protocol.ReasonValidationFailed)
		return false
	}
	return true
}

// actorGate is the precondition bundle shared by most commands.
type actorGate struct {
	allowAsleep     bool
	allowImprisoned bool
}

// actor resolves the session's resident and enforces the common gates.
// On failure the action_result has already been sent and nil is returned.
func actor(sess *net.Session, req *protocol.Request, d *Deps, gate actorGate) *world.Resident {
	r := d.World.Resident(sess.ResidentID)
	if r == nil {
		fail(sess, req.RequestID, protocol.ReasonUnknownResident)
		return nil
	}
	if r.Status != world.StatusAlive {
		fail(sess, req.RequestID, protocol.ReasonAlreadyDead)
		return nil
	}
	if r.Sleeping && !gate.allowAsleep {
		fail(sess, req.RequestID, protocol.ReasonAsleep)
		return nil
	}
	if !gate.allowImprisoned && r.Imprisoned(d.World.Clock.Now()) {
		fail(sess, req.RequestID, protocol.ReasonImprisoned)
		return nil
	}
	return r
}

// debitEnergy charges a fixed action cost, failing the command when the
// resident cannot cover it.
func debitEnergy(sess *net.Session, req *protocol.Request, r *world.Resident, cost float64) bool {
	if r.Needs.Energy < cost {
		fail(sess, req.RequestID, protocol.ReasonInsufficientEnergy)
		return false
	}
	r.Needs.Energy -= cost
	r.Needs.Clamp()
	r.Dirty = true
	return true
}

// mustJSON marshals data for an action_result payload; marshal failures
// collapse to null rather than dropping the reply.
func mustJSON(data any) json.RawMessage {
	b, err := json.Marshal(data)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

// insideBuilding checks the resident is inside a building of the given type.
func insideBuilding(sess *net.Session, req *protocol.Request, d *Deps, r *world.Resident, buildingType tilemap.BuildingType) bool {
	if r.BuildingID == "" {
		fail(sess, req.RequestID, protocol.ReasonNotInBuilding)
		return false
	}
	b := d.World.Map.Building(r.BuildingID)
	if b == nil || b.Type != buildingType {
		fail(sess, req.RequestID, protocol.ReasonWrongBuilding)
		return false
	}
	return true
}

// insideZone checks the resident stands in the building's interaction zone
// for the verb. Buildings whose map entry defines no zone for the verb allow
// it anywhere inside.
func insideZone(sess *net.Session, req *protocol.Request, d *Deps, r *world.Resident, buildingType tilemap.BuildingType, verb string) bool {
	if !insideBuilding(sess, req, d, r, buildingType) {
		return false
	}
	b := d.World.Map.Building(r.BuildingID)
	tx, ty := d.World.Map.TileAt(r.X, r.Y)
	if !b.ZoneContains(verb, tx, ty) {
		fail(sess, req.RequestID, protocol.ReasonRangeExceeded)
		return false
	}
	return true
}

// withinRange checks straight-line distance.
func withinRange(x1, y1, x2, y2, limit float64) bool {
	dx, dy := x2-x1, y2-y1
	return math.Sqrt(dx*dx+dy*dy) <= limit
}

// event records a loop-side audit row for a state-changing action.
func event(d *Deps, r *world.Resident, kind string, payload any) {
	d.Persist.AppendEvent(r.ID, kind, payload)
	d.Log.Debug("event",
		zap.String("kind", kind),
		zap.String("passport", r.Passport),
	)
}
