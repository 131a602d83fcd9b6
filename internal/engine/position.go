package engine

import (
	"math"

	"github.com/thecity/server/internal/world"
)

// Energy cost of locomotion, charged per tile of distance covered.
const walkCostPerTile = 0.5

// waypointEpsilon is the arrival radius for intermediate waypoints, px.
const waypointEpsilon = 4.0

// positionPhase advances every moving resident by one position step (real
// seconds). Movement resolves against the tile map with the three-step
// slide, then against other residents' hitboxes.
func (e *Engine) positionPhase(dt float64) {
	for _, r := range e.world.Ordered() {
		if r.Status != world.StatusAlive {
			continue
		}
		if r.Sleeping || r.Imprisoned(e.world.Clock.Now()) {
			r.VelX, r.VelY = 0, 0
			continue
		}
		e.stepResident(r, dt)
	}
}

func (e *Engine) stepResident(r *world.Resident, dt float64) {
	dirX, dirY, moving := e.currentDirection(r)
	if !moving {
		r.VelX, r.VelY = 0, 0
		return
	}

	speed := e.cfg.Sim.WalkSpeed
	if r.Speed == world.SpeedRun {
		speed = e.cfg.Sim.RunSpeed
	}
	r.VelX = dirX * speed
	r.VelY = dirY * speed

	targetX := r.X + r.VelX*dt
	targetY := r.Y + r.VelY*dt

	half := e.cfg.Sim.ResidentHitbox
	newX, newY, blocked := e.world.Map.ResolveMovement(r.X, r.Y, targetX, targetY, half)
	if e.world.Overlaps(newX, newY, half, r.ID, r.CarryingSuspect) {
		newX, newY = r.X, r.Y
		blocked = true
	}

	dist := math.Hypot(newX-r.X, newY-r.Y)
	if dist > 0 {
		r.Facing = math.Mod(math.Atan2(newY-r.Y, newX-r.X)*180/math.Pi+360, 360)
		e.world.MoveResident(r, newX, newY)
		e.dragAlong(r, newX, newY)

		cost := dist / float64(e.cfg.Sim.TileSize) * walkCostPerTile
		r.Needs.Energy -= cost
		r.Needs.Clamp()
		r.Dirty = true
	}

	if blocked && len(r.Waypoints) == 0 {
		// Direction intent into a wall: keep pushing, the client reads the
		// zero velocity. Nothing to clear.
		r.VelX, r.VelY = 0, 0
	}
	e.consumeWaypoint(r)
}

// currentDirection merges the two movement intents: an active waypoint path
// wins over a raw direction.
func (e *Engine) currentDirection(r *world.Resident) (float64, float64, bool) {
	if len(r.Waypoints) > 0 {
		wp := r.Waypoints[0]
		dx, dy := wp.X-r.X, wp.Y-r.Y
		n := math.Hypot(dx, dy)
		if n == 0 {
			return 0, 0, false
		}
		return dx / n, dy / n, true
	}
	if r.MoveDirX != 0 || r.MoveDirY != 0 {
		if r.Speed == world.SpeedStop {
			return 0, 0, false
		}
		return r.MoveDirX, r.MoveDirY, true
	}
	return 0, 0, false
}

// consumeWaypoint pops the head waypoint once reached, stopping at the end
// of the path.
func (e *Engine) consumeWaypoint(r *world.Resident) {
	for len(r.Waypoints) > 0 {
		wp := r.Waypoints[0]
		if math.Hypot(wp.X-r.X, wp.Y-r.Y) > waypointEpsilon {
			return
		}
		r.Waypoints = r.Waypoints[1:]
	}
	if r.MoveDirX == 0 && r.MoveDirY == 0 && len(r.Waypoints) == 0 {
		r.Speed = world.SpeedStop
		r.VelX, r.VelY = 0, 0
	}
}

// dragAlong moves a carried suspect or body with the carrier.
func (e *Engine) dragAlong(r *world.Resident, x, y float64) {
	if r.CarryingSuspect != 0 {
		if suspect := e.world.Resident(r.CarryingSuspect); suspect != nil && suspect.Status == world.StatusAlive {
			e.world.MoveResident(suspect, x, y)
			suspect.Dirty = true
		}
	}
	if r.CarryingBody != 0 {
		if body := e.world.Body(r.CarryingBody); body != nil {
			body.X, body.Y = x, y
		}
	}
}
