package handler

import (
	"math"

	"github.com/thecity/server/internal/net"
	"github.com/thecity/server/internal/protocol"
	"github.com/thecity/server/internal/tilemap"
	"github.com/thecity/server/internal/world"
)

// doorStep converts a door facing (degrees, outward) to a one-tile offset.
func doorStep(facing float64) (int, int) {
	rad := facing * math.Pi / 180
	return int(math.Round(math.Cos(rad))), int(math.Round(math.Sin(rad)))
}

// nearestDoorOf returns the door of b closest to (x, y), within limit pixels.
func nearestDoorOf(m *tilemap.Map, b *tilemap.Building, x, y, limit float64) *tilemap.Door {
	var best *tilemap.Door
	bestD := limit * limit
	for i := range b.Doors {
		door := &b.Doors[i]
		dx, dy := m.TileCenter(door.TX, door.TY)
		dd := (dx-x)*(dx-x) + (dy-y)*(dy-y)
		if dd <= bestD {
			bestD = dd
			best = door
		}
	}
	return best
}

// HandleEnterBuilding moves the resident through a nearby door.
func HandleEnterBuilding(sess *net.Session, req *protocol.Request, d *Deps) {
	var msg protocol.EnterBuildingMsg
	if !decode(sess, req, &msg) {
		return
	}
	r := actor(sess, req, d, actorGate{})
	if r == nil {
		return
	}
	if r.BuildingID != "" {
		fail(sess, req.RequestID, protocol.ReasonValidationFailed)
		return
	}

	m := d.World.Map
	b := m.Building(msg.BuildingID)
	if b == nil {
		fail(sess, req.RequestID, protocol.ReasonNotFound)
		return
	}

	// Must stand within 1.5 tiles of one of the building's doors.
	door := nearestDoorOf(m, b, r.X, r.Y, float64(m.TileSize)*1.5)
	if door == nil {
		fail(sess, req.RequestID, protocol.ReasonRangeExceeded)
		return
	}

	// Step one tile inward from the door; fall back to the door tile when
	// the inward tile is not interior.
	dx, dy := doorStep(door.Facing)
	tx, ty := door.TX-dx, door.TY-dy
	if !b.ContainsTile(tx, ty) {
		tx, ty = door.TX, door.TY
	}
	x, y := m.TileCenter(tx, ty)

	d.World.MoveResident(r, x, y)
	r.BuildingID = b.ID
	r.MoveDirX, r.MoveDirY = 0, 0
	r.Waypoints = nil
	r.Speed = world.SpeedStop
	r.Dirty = true
	ok(sess, req.RequestID, map[string]any{"building_id": b.ID})
}

// HandleExitBuilding steps the resident back outside through the nearest
// door of the building they are in.
func HandleExitBuilding(sess *net.Session, req *protocol.Request, d *Deps) {
	r := actor(sess, req, d, actorGate{})
	if r == nil {
		return
	}
	if r.BuildingID == "" {
		fail(sess, req.RequestID, protocol.ReasonNotInBuilding)
		return
	}

	m := d.World.Map
	b := m.Building(r.BuildingID)
	if b == nil {
		// Map changed under a persisted resident; place them at spawn.
		d.World.MoveResident(r, m.SpawnX, m.SpawnY)
		r.BuildingID = ""
		r.Dirty = true
		ok(sess, req.RequestID, nil)
		return
	}

	door := nearestDoorOf(m, b, r.X, r.Y, math.Inf(1))
	if door == nil {
		fail(sess, req.RequestID, protocol.ReasonValidationFailed)
		return
	}
	dx, dy := doorStep(door.Facing)
	tx, ty := door.TX+dx, door.TY+dy
	if m.IsTileBlocked(tx, ty) {
		tx, ty = door.TX, door.TY
	}
	x, y := m.TileCenter(tx, ty)

	d.World.MoveResident(r, x, y)
	r.BuildingID = ""
	r.Facing = door.Facing
	r.MoveDirX, r.MoveDirY = 0, 0
	r.Waypoints = nil
	r.Speed = world.SpeedStop
	r.Dirty = true
	ok(sess, req.RequestID, nil)
}
