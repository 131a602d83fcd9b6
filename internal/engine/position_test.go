package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thecity/server/internal/tilemap"
	"github.com/thecity/server/internal/world"
)

func TestDirectionalWalk(t *testing.T) {
	env := newEnv(t)
	r, _ := env.addResident(t, 1, 400, 250)
	r.MoveDirX = 1
	r.Speed = world.SpeedWalk

	env.eng.positionPhase(1.0)

	assert.InDelta(t, 400+env.cfg.Sim.WalkSpeed, r.X, 0.001)
	assert.Equal(t, 250.0, r.Y)
	assert.Equal(t, 0.0, r.Facing)
	assert.InDelta(t, 100-env.cfg.Sim.WalkSpeed/float64(env.cfg.Sim.TileSize)*0.5, r.Needs.Energy, 0.001)
	assert.True(t, r.Dirty)
}

func TestRunIsFasterThanWalk(t *testing.T) {
	env := newEnv(t)
	r, _ := env.addResident(t, 1, 400, 250)
	r.MoveDirY = 1
	r.Speed = world.SpeedRun

	env.eng.positionPhase(1.0)

	assert.InDelta(t, 250+env.cfg.Sim.RunSpeed, r.Y, 0.001)
	assert.InDelta(t, 90.0, r.Facing, 0.001)
}

func TestStopSpeedIgnoresDirectionIntent(t *testing.T) {
	env := newEnv(t)
	r, _ := env.addResident(t, 1, 400, 250)
	r.MoveDirX = 1
	r.Speed = world.SpeedStop

	env.eng.positionPhase(1.0)

	assert.Equal(t, 400.0, r.X)
	assert.Zero(t, r.VelX)
}

func TestSleepingAndImprisonedDoNotMove(t *testing.T) {
	env := newEnv(t)
	sleeper, _ := env.addResident(t, 1, 400, 250)
	sleeper.MoveDirX = 1
	sleeper.Speed = world.SpeedRun
	sleeper.Sleeping = true

	inmate, _ := env.addResident(t, 2, 500, 250)
	inmate.MoveDirX = 1
	inmate.Speed = world.SpeedRun
	inmate.ImprisonedUntil = testWorldTime + 3600

	env.eng.positionPhase(1.0)

	assert.Equal(t, 400.0, sleeper.X)
	assert.Equal(t, 500.0, inmate.X)
}

func TestWaypointFollowAndConsume(t *testing.T) {
	env := newEnv(t)
	r, _ := env.addResident(t, 1, 400, 250)
	r.Waypoints = []tilemap.Waypoint{{X: 432, Y: 250}}
	r.Speed = world.SpeedWalk

	step := 1.0 / float64(env.cfg.Sim.PositionRate)
	for i := 0; i < 40 && len(r.Waypoints) > 0; i++ {
		env.eng.positionPhase(step)
	}

	assert.Empty(t, r.Waypoints)
	assert.InDelta(t, 432, r.X, waypointEpsilon+0.001)
	assert.Equal(t, world.SpeedStop, r.Speed, "path end stops the resident")
	assert.Zero(t, r.VelX)
}

func TestWallsBlockMovement(t *testing.T) {
	env := newEnv(t)
	// Lay a wall across row 5 and walk into it from below.
	for tx := 0; tx < 8; tx++ {
		env.world.Map.Obstacles[5][tx] = 1
	}
	r, _ := env.addResident(t, 1, 48, 250)
	r.MoveDirY = -1
	r.Speed = world.SpeedRun

	step := 1.0 / float64(env.cfg.Sim.PositionRate)
	for i := 0; i < 90; i++ {
		env.eng.positionPhase(step)
	}

	wallFace := 6 * float64(env.cfg.Sim.TileSize) // south face of row 5
	assert.GreaterOrEqual(t, r.Y, wallFace+env.cfg.Sim.ResidentHitbox-0.5)
	assert.Less(t, r.Y, 250.0, "walked until the wall")
	assert.Zero(t, r.VelY, "pushing into the wall reads as standing still")
}

func TestResidentsDoNotOverlap(t *testing.T) {
	env := newEnv(t)
	mover, _ := env.addResident(t, 1, 400, 250)
	env.addResident(t, 2, 432, 250) // exactly one hitbox diameter away
	mover.MoveDirX = 1
	mover.Speed = world.SpeedWalk

	step := 1.0 / float64(env.cfg.Sim.PositionRate)
	for i := 0; i < 30; i++ {
		env.eng.positionPhase(step)
	}

	assert.Equal(t, 400.0, mover.X, "hitboxes stay apart")
}

func TestCarrierDragsSuspectAndBody(t *testing.T) {
	env := newEnv(t)
	officer, _ := env.addResident(t, 1, 400, 250)
	suspect, _ := env.addResident(t, 2, 400, 250)
	suspect.ImprisonedUntil = 0
	officer.CarryingSuspect = suspect.ID
	env.world.AddBody(&world.Body{ID: 9, Name: "res9", X: 400, Y: 250, CarriedBy: officer.ID})
	officer.CarryingBody = 9
	officer.MoveDirX = 1
	officer.Speed = world.SpeedWalk

	env.eng.positionPhase(1.0)

	require.Greater(t, officer.X, 400.0, "the overlap check excludes the carried suspect")
	assert.Equal(t, officer.X, suspect.X)
	assert.Equal(t, officer.Y, suspect.Y)
	body := env.world.Body(9)
	assert.Equal(t, officer.X, body.X)
	assert.Equal(t, officer.Y, body.Y)
}
