package handler

import (
	"errors"
	"math"

	"github.com/thecity/server/internal/net"
	"github.com/thecity/server/internal/protocol"
	"github.com/thecity/server/internal/tilemap"
	"github.com/thecity/server/internal/world"
)

func parseSpeed(s string) (world.SpeedIntent, bool) {
	switch s {
	case "", "walk":
		return world.SpeedWalk, true
	case "run":
		return world.SpeedRun, true
	default:
		return world.SpeedStop, false
	}
}

// HandleMove sets a direction-and-speed intent, consumed by the position
// phase. It replaces any active waypoint path.
func HandleMove(sess *net.Session, req *protocol.Request, d *Deps) {
	var msg protocol.MoveMsg
	if !decode(sess, req, &msg) {
		return
	}
	r := actor(sess, req, d, actorGate{})
	if r == nil {
		return
	}

	norm := math.Hypot(msg.DX, msg.DY)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		fail(sess, req.RequestID, protocol.ReasonValidationFailed)
		return
	}
	speed, okSpeed := parseSpeed(msg.Speed)
	if !okSpeed {
		fail(sess, req.RequestID, protocol.ReasonValidationFailed)
		return
	}

	r.MoveDirX = msg.DX / norm
	r.MoveDirY = msg.DY / norm
	r.Speed = speed
	r.Waypoints = nil
	r.Facing = math.Mod(math.Atan2(msg.DY, msg.DX)*180/math.Pi+360, 360)
	ok(sess, req.RequestID, nil)
}

// HandleMoveTo plans a waypoint path to a target pixel.
func HandleMoveTo(sess *net.Session, req *protocol.Request, d *Deps) {
	var msg protocol.MoveToMsg
	if !decode(sess, req, &msg) {
		return
	}
	r := actor(sess, req, d, actorGate{})
	if r == nil {
		return
	}

	m := d.World.Map
	if msg.X < 0 || msg.Y < 0 || msg.X >= float64(m.Width*m.TileSize) || msg.Y >= float64(m.Height*m.TileSize) {
		fail(sess, req.RequestID, protocol.ReasonValidationFailed)
		return
	}
	speed, okSpeed := parseSpeed(msg.Speed)
	if !okSpeed {
		fail(sess, req.RequestID, protocol.ReasonValidationFailed)
		return
	}

	path, err := m.FindPath(r.X, r.Y, msg.X, msg.Y, d.Config.Sim.PathBudget)
	if err != nil {
		if errors.Is(err, tilemap.ErrNoPath) {
			fail(sess, req.RequestID, protocol.ReasonNoPath)
			return
		}
		fail(sess, req.RequestID, protocol.ReasonValidationFailed)
		return
	}

	r.Waypoints = path
	r.Speed = speed
	r.MoveDirX, r.MoveDirY = 0, 0
	ok(sess, req.RequestID, map[string]any{"waypoints": len(path)})
}

// HandleStop clears all movement intent.
func HandleStop(sess *net.Session, req *protocol.Request, d *Deps) {
	r := actor(sess, req, d, actorGate{allowImprisoned: true})
	if r == nil {
		return
	}
	r.MoveDirX, r.MoveDirY = 0, 0
	r.Waypoints = nil
	r.Speed = world.SpeedStop
	r.VelX, r.VelY = 0, 0
	ok(sess, req.RequestID, nil)
}

// HandleFace turns the resident without moving.
func HandleFace(sess *net.Session, req *protocol.Request, d *Deps) {
	var msg protocol.FaceMsg
	if !decode(sess, req, &msg) {
		return
	}
	r := actor(sess, req, d, actorGate{allowImprisoned: true})
	if r == nil {
		return
	}
	if math.IsNaN(msg.Degrees) || math.IsInf(msg.Degrees, 0) {
		fail(sess, req.RequestID, protocol.ReasonValidationFailed)
		return
	}
	r.Facing = math.Mod(math.Mod(msg.Degrees, 360)+360, 360)
	ok(sess, req.RequestID, nil)
}
