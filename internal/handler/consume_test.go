package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thecity/server/internal/protocol"
	"github.com/thecity/server/internal/world"
)

func TestEatRestoresHunger(t *testing.T) {
	env := newEnv(t)
	r, sess := env.addResident(t, 1, 400, 250)
	r.Needs.Hunger = 50
	r.Inv.Add("bread", 2)

	HandleEat(sess, cmd(t, protocol.CEat, "r1", nil), env.deps)
	requireOK(t, sess)

	assert.InDelta(t, 80, r.Needs.Hunger, 1e-9)
	assert.InDelta(t, 100-energyCostEat, r.Needs.Energy, 1e-9)
	assert.Equal(t, 1, r.Inv.Count("bread"))
	assert.Contains(t, env.fake.residents, int64(1))
	assert.Contains(t, env.fake.inventories, int64(1))
}

func TestEatClampsAtFull(t *testing.T) {
	env := newEnv(t)
	r, sess := env.addResident(t, 1, 400, 250)
	r.Needs.Hunger = 95
	r.Inv.Add("meal", 1)

	HandleEat(sess, cmd(t, protocol.CEat, "r1", nil), env.deps)
	requireOK(t, sess)
	assert.InDelta(t, 100, r.Needs.Hunger, 1e-9)
}

func TestDrinkWithoutDrinkFails(t *testing.T) {
	env := newEnv(t)
	r, sess := env.addResident(t, 1, 400, 250)
	r.Inv.Add("bread", 1) // food, not drink

	HandleDrink(sess, cmd(t, protocol.CDrink, "r1", nil), env.deps)
	requireErr(t, sess, protocol.ReasonNotFound)
	assert.Equal(t, 1, r.Inv.Count("bread"))
}

func TestConsumeByIDRejectsGear(t *testing.T) {
	env := newEnv(t)
	r, sess := env.addResident(t, 1, 400, 250)
	bag := r.Inv.Add("sleeping_bag", 1)
	require.NotNil(t, bag)

	HandleConsume(sess, cmd(t, protocol.CConsume, "r1", map[string]any{"item_id": bag.ID}), env.deps)
	requireErr(t, sess, protocol.ReasonValidationFailed)

	coffee := r.Inv.Add("coffee", 1)
	r.Needs.Energy = 50
	HandleConsume(sess, cmd(t, protocol.CConsume, "r2", map[string]any{"item_id": coffee.ID}), env.deps)
	requireOK(t, sess)
	// +10 from the coffee, minus the drink action cost.
	assert.InDelta(t, 50+10-energyCostDrink, r.Needs.Energy, 1e-9)
}

func TestSleepRefusedWhenRested(t *testing.T) {
	env := newEnv(t)
	r, sess := env.addResident(t, 1, 400, 250)

	HandleSleep(sess, cmd(t, protocol.CSleep, "r1", nil), env.deps)
	requireErr(t, sess, protocol.ReasonValidationFailed)
	assert.False(t, r.Sleeping)
}

func TestSleepStopsMovement(t *testing.T) {
	env := newEnv(t)
	r, sess := env.addResident(t, 1, 400, 250)
	r.Needs.Energy = 40
	r.MoveDirX = 1
	r.Speed = world.SpeedRun

	HandleSleep(sess, cmd(t, protocol.CSleep, "r1", nil), env.deps)
	requireOK(t, sess)

	assert.True(t, r.Sleeping)
	assert.Zero(t, r.MoveDirX)
	assert.Equal(t, world.SpeedStop, r.Speed)

	// Waking twice is a no-op, not an error.
	HandleWake(sess, cmd(t, protocol.CWake, "r2", nil), env.deps)
	requireOK(t, sess)
	HandleWake(sess, cmd(t, protocol.CWake, "r3", nil), env.deps)
	requireOK(t, sess)
	assert.False(t, r.Sleeping)
}

func TestUseToiletEmptiesBladder(t *testing.T) {
	env := newEnv(t)
	r, sess := env.addResident(t, 1, 400, 250)
	r.Needs.Bladder = 80

	// Must be inside the toilet building.
	HandleUseToilet(sess, cmd(t, protocol.CUseToilet, "r1", nil), env.deps)
	requireErr(t, sess, protocol.ReasonNotInBuilding)

	env.placeInside(t, r, "shop")
	HandleUseToilet(sess, cmd(t, protocol.CUseToilet, "r2", nil), env.deps)
	requireErr(t, sess, protocol.ReasonWrongBuilding)

	r.BuildingID = ""
	env.placeInside(t, r, "toilet")
	HandleUseToilet(sess, cmd(t, protocol.CUseToilet, "r3", nil), env.deps)
	requireOK(t, sess)
	assert.Zero(t, r.Needs.Bladder)
	assert.InDelta(t, 100-energyCostToilet, r.Needs.Energy, 1e-9)
}
