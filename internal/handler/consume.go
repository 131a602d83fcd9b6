package handler

import (
	"github.com/thecity/server/internal/net"
	"github.com/thecity/server/internal/protocol"
	"github.com/thecity/server/internal/world"
)

// applyConsumable applies an item's need deltas and removes one unit.
func applyConsumable(d *Deps, r *world.Resident, it *world.Item) world.Needs {
	def := world.Catalog[it.Type]
	r.Needs.Hunger += def.Restores.Hunger
	r.Needs.Thirst += def.Restores.Thirst
	r.Needs.Energy += def.Restores.Energy
	r.Needs.Social += def.Restores.Social
	r.Needs.Clamp()
	r.Inv.Remove(it.Type, 1)
	r.Dirty = true
	d.Persist.SaveResident(r)
	d.Persist.SaveInventory(r)
	return r.Needs
}

func consumeByKind(sess *net.Session, req *protocol.Request, d *Deps, kind world.ItemKind, itemID string, cost float64) {
	r := actor(sess, req, d, actorGate{allowImprisoned: true})
	if r == nil {
		return
	}

	var it *world.Item
	if itemID != "" {
		it = r.Inv.FindID(itemID)
		if it != nil && world.Catalog[it.Type].Kind != kind {
			it = nil
		}
	} else {
		it = r.Inv.FindKind(kind)
	}
	if it == nil {
		fail(sess, req.RequestID, protocol.ReasonNotFound)
		return
	}
	if !debitEnergy(sess, req, r, cost) {
		return
	}

	needs := applyConsumable(d, r, it)
	ok(sess, req.RequestID, map[string]any{"needs": needs})
}

// HandleEat consumes a food item, the first in inventory unless an item id
// is named.
func HandleEat(sess *net.Session, req *protocol.Request, d *Deps) {
	var msg protocol.ConsumeMsg
	if !decode(sess, req, &msg) {
		return
	}
	consumeByKind(sess, req, d, world.KindFood, msg.ItemID, energyCostEat)
}

// HandleDrink consumes a drink item.
func HandleDrink(sess *net.Session, req *protocol.Request, d *Deps) {
	var msg protocol.ConsumeMsg
	if !decode(sess, req, &msg) {
		return
	}
	consumeByKind(sess, req, d, world.KindDrink, msg.ItemID, energyCostDrink)
}

// HandleConsume consumes any edible or drinkable stack by id.
func HandleConsume(sess *net.Session, req *protocol.Request, d *Deps) {
	var msg protocol.ConsumeMsg
	if !decode(sess, req, &msg) {
		return
	}
	r := actor(sess, req, d, actorGate{allowImprisoned: true})
	if r == nil {
		return
	}

	it := r.Inv.FindID(msg.ItemID)
	if it == nil {
		fail(sess, req.RequestID, protocol.ReasonNotFound)
		return
	}
	def := world.Catalog[it.Type]
	if def.Kind == world.KindGear {
		fail(sess, req.RequestID, protocol.ReasonValidationFailed)
		return
	}
	cost := energyCostEat
	if def.Kind == world.KindDrink {
		cost = energyCostDrink
	}
	if !debitEnergy(sess, req, r, cost) {
		return
	}
	needs := applyConsumable(d, r, it)
	ok(sess, req.RequestID, map[string]any{"needs": needs})
}

// HandleSleep enters sleep. Refused above 90 energy; recovery runs in the
// simulation phase, faster with a usable sleeping bag.
func HandleSleep(sess *net.Session, req *protocol.Request, d *Deps) {
	r := actor(sess, req, d, actorGate{allowImprisoned: true})
	if r == nil {
		return
	}
	if r.Needs.Energy > 90 {
		fail(sess, req.RequestID, protocol.ReasonValidationFailed)
		return
	}
	r.Sleeping = true
	r.MoveDirX, r.MoveDirY = 0, 0
	r.Waypoints = nil
	r.Speed = world.SpeedStop
	r.VelX, r.VelY = 0, 0
	ok(sess, req.RequestID, nil)
}

// HandleWake clears the sleeping flag. Waking while awake is a no-op.
func HandleWake(sess *net.Session, req *protocol.Request, d *Deps) {
	r := actor(sess, req, d, actorGate{allowAsleep: true, allowImprisoned: true})
	if r == nil {
		return
	}
	r.Sleeping = false
	ok(sess, req.RequestID, nil)
}

// HandleUseToilet empties the bladder. Requires a toilet building.
func HandleUseToilet(sess *net.Session, req *protocol.Request, d *Deps) {
	r := actor(sess, req, d, actorGate{})
	if r == nil {
		return
	}
	if !insideZone(sess, req, d, r, "toilet", "use_toilet") {
		return
	}
	if !debitEnergy(sess, req, r, energyCostToilet) {
		return
	}
	r.Needs.Bladder = 0
	r.Dirty = true
	d.Persist.SaveResident(r)
	ok(sess, req.RequestID, map[string]any{"needs": r.Needs})
}
