package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thecity/server/internal/protocol"
)

func TestEnterExitBuildingRoundTrip(t *testing.T) {
	env := newEnv(t)
	m := env.world.Map

	// Shop door is tile (2,3) facing 90 (outward is +y); stand one tile out.
	x, y := m.TileCenter(2, 4)
	r, sess := env.addResident(t, 1, x, y)

	HandleEnterBuilding(sess, cmd(t, protocol.CEnterBuilding, "r1", map[string]any{"building_id": "shop"}), env.deps)
	res := requireOK(t, sess)
	assert.Contains(t, string(res.Data), "shop")

	assert.Equal(t, "shop", r.BuildingID)
	ix, iy := m.TileCenter(2, 2) // one tile inward from the door
	assert.InDelta(t, ix, r.X, 1e-9)
	assert.InDelta(t, iy, r.Y, 1e-9)

	// Entering again while inside is invalid.
	HandleEnterBuilding(sess, cmd(t, protocol.CEnterBuilding, "r2", map[string]any{"building_id": "shop"}), env.deps)
	requireErr(t, sess, protocol.ReasonValidationFailed)

	HandleExitBuilding(sess, cmd(t, protocol.CExitBuilding, "r3", nil), env.deps)
	requireOK(t, sess)

	assert.Empty(t, r.BuildingID)
	ox, oy := m.TileCenter(2, 4) // one tile outward from the door
	assert.InDelta(t, ox, r.X, 1e-9)
	assert.InDelta(t, oy, r.Y, 1e-9)
	assert.InDelta(t, 90, r.Facing, 1e-9)
}

func TestEnterBuildingRequiresNearbyDoor(t *testing.T) {
	env := newEnv(t)
	r, sess := env.addResident(t, 1, 400, 250) // spawn, far from every door

	HandleEnterBuilding(sess, cmd(t, protocol.CEnterBuilding, "r1", map[string]any{"building_id": "shop"}), env.deps)
	requireErr(t, sess, protocol.ReasonRangeExceeded)
	assert.Empty(t, r.BuildingID)

	HandleEnterBuilding(sess, cmd(t, protocol.CEnterBuilding, "r2", map[string]any{"building_id": "cathedral"}), env.deps)
	requireErr(t, sess, protocol.ReasonNotFound)
}

func TestExitBuildingOutsideFails(t *testing.T) {
	env := newEnv(t)
	_, sess := env.addResident(t, 1, 400, 250)

	HandleExitBuilding(sess, cmd(t, protocol.CExitBuilding, "r1", nil), env.deps)
	requireErr(t, sess, protocol.ReasonNotInBuilding)
}

func TestEnterBuildingClearsMovement(t *testing.T) {
	env := newEnv(t)
	m := env.world.Map
	x, y := m.TileCenter(6, 4) // outside the bank door
	r, sess := env.addResident(t, 1, x, y)

	HandleMoveTo(sess, cmd(t, protocol.CMoveTo, "r1", map[string]any{"x": 600.0, "y": 300.0}), env.deps)
	requireOK(t, sess)
	require.NotEmpty(t, r.Waypoints)

	HandleEnterBuilding(sess, cmd(t, protocol.CEnterBuilding, "r2", map[string]any{"building_id": "bank"}), env.deps)
	requireOK(t, sess)
	assert.Nil(t, r.Waypoints)
	assert.Equal(t, "bank", r.BuildingID)
}
