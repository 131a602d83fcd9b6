package handler

import (
	"github.com/thecity/server/internal/net"
	"github.com/thecity/server/internal/protocol"
	"github.com/thecity/server/internal/world"
)

const (
	maxBuyQuantity = 10
	giveRange      = 64.0 // px, also the trade range
	forageRange    = 48.0
)

// HandleBuy purchases from the city shop. Stock, wallet, and inventory move
// together or not at all; the checks run before any mutation so a failure
// leaves no partial state.
func HandleBuy(sess *net.Session, req *protocol.Request, d *Deps) {
	var msg protocol.BuyMsg
	if !decode(sess, req, &msg) {
		return
	}
	r := actor(sess, req, d, actorGate{})
	if r == nil {
		return
	}
	if !insideZone(sess, req, d, r, "shop", "buy") {
		return
	}

	def, known := world.Catalog[msg.ItemType]
	if !known || msg.Quantity < 1 || msg.Quantity > maxBuyQuantity {
		fail(sess, req.RequestID, protocol.ReasonValidationFailed)
		return
	}
	if d.World.Stock[msg.ItemType] < msg.Quantity {
		fail(sess, req.RequestID, protocol.ReasonOutOfStock)
		return
	}
	total := def.Price * int64(msg.Quantity)
	if r.Wallet < total {
		fail(sess, req.RequestID, protocol.ReasonInsufficientWallet)
		return
	}

	d.World.Stock[msg.ItemType] -= msg.Quantity
	r.Wallet -= total
	r.Inv.Add(msg.ItemType, msg.Quantity)
	r.Dirty = true

	d.Persist.SaveResident(r)
	d.Persist.SaveInventory(r)
	d.Persist.SaveStock(d.World.Stock)
	event(d, r, "buy", map[string]any{
		"item_type": msg.ItemType,
		"quantity":  msg.Quantity,
		"total":     total,
	})
	ok(sess, req.RequestID, map[string]any{"wallet": r.Wallet})
}

// HandleCollectUBI credits the basic income, once per cooldown, at the bank.
func HandleCollectUBI(sess *net.Session, req *protocol.Request, d *Deps) {
	r := actor(sess, req, d, actorGate{})
	if r == nil {
		return
	}
	if d.Config.Economy.UBIAmount == 0 {
		fail(sess, req.RequestID, protocol.ReasonUBIDisabled)
		return
	}
	if !insideZone(sess, req, d, r, "bank", "collect_ubi") {
		return
	}

	now := d.World.Clock.Now()
	elapsed := now - r.LastUBICollection
	if r.LastUBICollection != 0 && elapsed < d.Config.Economy.UBICooldown {
		remaining := d.Config.Economy.UBICooldown - elapsed
		sess.Send(net.KindCritical, &protocol.ActionResult{
			Type:      protocol.SActionResult,
			RequestID: req.RequestID,
			Status:    "error",
			Reason:    protocol.ReasonCooldown,
			Data:      mustJSON(map[string]any{"remaining": remaining}),
		})
		return
	}

	r.Wallet += d.Config.Economy.UBIAmount
	r.LastUBICollection = now
	r.Dirty = true
	d.Persist.SaveResident(r)
	event(d, r, "collect_ubi", map[string]any{"amount": d.Config.Economy.UBIAmount})
	ok(sess, req.RequestID, map[string]any{"wallet": r.Wallet})
}

// HandleGive transfers items and/or currency to a nearby resident.
func HandleGive(sess *net.Session, req *protocol.Request, d *Deps) {
	var msg protocol.GiveMsg
	if !decode(sess, req, &msg) {
		return
	}
	r := actor(sess, req, d, actorGate{})
	if r == nil {
		return
	}
	target := d.World.ByPassport(msg.To)
	if target == nil || target.Status != world.StatusAlive || target.ID == r.ID {
		fail(sess, req.RequestID, protocol.ReasonUnknownResident)
		return
	}
	if !withinRange(r.X, r.Y, target.X, target.Y, giveRange) {
		fail(sess, req.RequestID, protocol.ReasonRangeExceeded)
		return
	}
	if msg.Amount < 0 || msg.Quantity < 0 || (msg.Amount == 0 && msg.ItemType == "") {
		fail(sess, req.RequestID, protocol.ReasonValidationFailed)
		return
	}
	if msg.Amount > r.Wallet {
		fail(sess, req.RequestID, protocol.ReasonInsufficientWallet)
		return
	}
	if msg.ItemType != "" {
		qty := msg.Quantity
		if qty == 0 {
			qty = 1
		}
		if r.Inv.Count(msg.ItemType) < qty {
			fail(sess, req.RequestID, protocol.ReasonNotFound)
			return
		}
		r.Inv.Remove(msg.ItemType, qty)
		target.Inv.Add(msg.ItemType, qty)
	}
	r.Wallet -= msg.Amount
	target.Wallet += msg.Amount
	r.Dirty = true
	target.Dirty = true

	now := d.World.Clock.Now()
	target.Notify("give", r.PreferredName+" gave you something.", now)
	d.Persist.SaveResident(r)
	d.Persist.SaveResident(target)
	d.Persist.SaveInventory(r)
	d.Persist.SaveInventory(target)
	event(d, r, "give", map[string]any{
		"to":        msg.To,
		"item_type": msg.ItemType,
		"quantity":  msg.Quantity,
		"amount":    msg.Amount,
	})
	ok(sess, req.RequestID, nil)
}

// HandleTrade executes an immediate item-for-currency exchange with a nearby
// resident. Terms are agreed out of band (speech); the exchange itself is
// atomic.
func HandleTrade(sess *net.Session, req *protocol.Request, d *Deps) {
	var msg protocol.TradeMsg
	if !decode(sess, req, &msg) {
		return
	}
	r := actor(sess, req, d, actorGate{})
	if r == nil {
		return
	}
	target := d.World.ByPassport(msg.To)
	if target == nil || target.Status != world.StatusAlive || target.ID == r.ID {
		fail(sess, req.RequestID, protocol.ReasonUnknownResident)
		return
	}
	if !withinRange(r.X, r.Y, target.X, target.Y, giveRange) {
		fail(sess, req.RequestID, protocol.ReasonRangeExceeded)
		return
	}
	if msg.Quantity < 1 || msg.Price < 0 {
		fail(sess, req.RequestID, protocol.ReasonValidationFailed)
		return
	}
	if r.Inv.Count(msg.ItemType) < msg.Quantity {
		fail(sess, req.RequestID, protocol.ReasonNotFound)
		return
	}
	if target.Wallet < msg.Price {
		fail(sess, req.RequestID, protocol.ReasonInsufficientWallet)
		return
	}

	r.Inv.Remove(msg.ItemType, msg.Quantity)
	target.Inv.Add(msg.ItemType, msg.Quantity)
	target.Wallet -= msg.Price
	r.Wallet += msg.Price
	r.Dirty = true
	target.Dirty = true

	now := d.World.Clock.Now()
	target.Notify("trade", r.PreferredName+" traded with you.", now)
	d.Persist.SaveResident(r)
	d.Persist.SaveResident(target)
	d.Persist.SaveInventory(r)
	d.Persist.SaveInventory(target)
	event(d, r, "trade", map[string]any{
		"to":        msg.To,
		"item_type": msg.ItemType,
		"quantity":  msg.Quantity,
		"price":     msg.Price,
	})
	ok(sess, req.RequestID, map[string]any{"wallet": r.Wallet})
}

// forageYield maps node kinds to the item they produce.
var forageYield = map[string]string{
	"berry_bush":   "berries",
	"fresh_spring": "spring_water",
}

// HandleForage takes one use from a nearby forageable node.
func HandleForage(sess *net.Session, req *protocol.Request, d *Deps) {
	var msg protocol.ForageMsg
	if !decode(sess, req, &msg) {
		return
	}
	r := actor(sess, req, d, actorGate{})
	if r == nil {
		return
	}
	node := d.World.ForageNode(msg.NodeID)
	if node == nil {
		fail(sess, req.RequestID, protocol.ReasonNotFound)
		return
	}
	if !withinRange(r.X, r.Y, node.X, node.Y, forageRange) {
		fail(sess, req.RequestID, protocol.ReasonRangeExceeded)
		return
	}
	if node.UsesRemaining <= 0 {
		fail(sess, req.RequestID, protocol.ReasonOutOfStock)
		return
	}
	if !debitEnergy(sess, req, r, energyCostForage) {
		return
	}

	node.UsesRemaining--
	node.LastUse = d.World.Clock.Now()
	itemType := forageYield[node.Kind]
	if itemType == "" {
		itemType = "berries"
	}
	r.Inv.Add(itemType, 1)
	r.Dirty = true

	d.Persist.SaveResident(r)
	d.Persist.SaveInventory(r)
	event(d, r, "forage", map[string]any{
		"node_id":   node.ID,
		"kind":      node.Kind,
		"item_type": itemType,
	})
	ok(sess, req.RequestID, map[string]any{
		"item_type": itemType,
		"uses_left": node.UsesRemaining,
	})
}
