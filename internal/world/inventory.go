package world

import "github.com/google/uuid"

// ItemKind groups item types by what consuming them does.
type ItemKind string

const (
	KindFood  ItemKind = "food"
	KindDrink ItemKind = "drink"
	KindGear  ItemKind = "gear"
)

// ItemDef is the static catalog entry for one item type.
type ItemDef struct {
	Type     string
	Name     string
	Kind     ItemKind
	Price    int64 // shop price per unit
	Uses     int   // remaining_uses for a fresh instance (gear); 1 for consumables
	Restores Needs // need deltas applied per consumption (positive = relief)
}

// Catalog is the fixed item table. Lookup by item type string.
var Catalog = map[string]ItemDef{
	"bread": {
		Type: "bread", Name: "Bread", Kind: KindFood, Price: 5, Uses: 1,
		Restores: Needs{Hunger: 30},
	},
	"apple": {
		Type: "apple", Name: "Apple", Kind: KindFood, Price: 3, Uses: 1,
		Restores: Needs{Hunger: 15, Thirst: 5},
	},
	"berries": {
		Type: "berries", Name: "Wild Berries", Kind: KindFood, Price: 2, Uses: 1,
		Restores: Needs{Hunger: 10, Thirst: 3},
	},
	"meal": {
		Type: "meal", Name: "Hot Meal", Kind: KindFood, Price: 12, Uses: 1,
		Restores: Needs{Hunger: 60, Social: 5},
	},
	"water_bottle": {
		Type: "water_bottle", Name: "Bottled Water", Kind: KindDrink, Price: 2, Uses: 1,
		Restores: Needs{Thirst: 40},
	},
	"spring_water": {
		Type: "spring_water", Name: "Spring Water", Kind: KindDrink, Price: 0, Uses: 1,
		Restores: Needs{Thirst: 35},
	},
	"coffee": {
		Type: "coffee", Name: "Coffee", Kind: KindDrink, Price: 4, Uses: 1,
		Restores: Needs{Thirst: 10, Energy: 10},
	},
	"sleeping_bag": {
		Type: "sleeping_bag", Name: "Sleeping Bag", Kind: KindGear, Price: 25, Uses: 20,
	},
}

// ShopItems lists the types stocked by the city shop, in menu order.
var ShopItems = []string{"bread", "apple", "meal", "water_bottle", "coffee", "sleeping_bag"}

// Item is one inventory stack. Quantity is always >= 1; a stack at zero is
// removed, never kept.
type Item struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	Quantity      int    `json:"quantity"`
	RemainingUses int    `json:"remaining_uses"`
}

// Inventory is an ordered list of stacks. Accessed only from the tick worker.
type Inventory struct {
	Items []*Item
}

func NewInventory() *Inventory {
	return &Inventory{Items: make([]*Item, 0, 8)}
}

// Find returns the first stack of the given type, or nil.
func (inv *Inventory) Find(itemType string) *Item {
	for _, it := range inv.Items {
		if it.Type == itemType {
			return it
		}
	}
	return nil
}

// FindID returns the stack with the given instance id, or nil.
func (inv *Inventory) FindID(id string) *Item {
	for _, it := range inv.Items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

// FindKind returns the first stack whose catalog kind matches, or nil.
func (inv *Inventory) FindKind(kind ItemKind) *Item {
	for _, it := range inv.Items {
		if def, ok := Catalog[it.Type]; ok && def.Kind == kind {
			return it
		}
	}
	return nil
}

// Add merges qty units into an existing stack of the type, or appends a new
// stack. Gear never merges: each instance tracks its own remaining uses.
func (inv *Inventory) Add(itemType string, qty int) *Item {
	def, ok := Catalog[itemType]
	if !ok || qty < 1 {
		return nil
	}
	if def.Kind != KindGear {
		if st := inv.Find(itemType); st != nil {
			st.Quantity += qty
			return st
		}
	}
	st := &Item{
		ID:            uuid.NewString(),
		Type:          itemType,
		Quantity:      qty,
		RemainingUses: def.Uses,
	}
	inv.Items = append(inv.Items, st)
	return st
}

// Remove takes qty units from the first stack of the type. Returns false when
// the inventory does not hold enough. Empty stacks are dropped to preserve
// the quantity >= 1 invariant.
func (inv *Inventory) Remove(itemType string, qty int) bool {
	st := inv.Find(itemType)
	if st == nil || st.Quantity < qty {
		return false
	}
	st.Quantity -= qty
	if st.Quantity == 0 {
		inv.drop(st)
	}
	return true
}

// ConsumeUse spends one use of a gear stack, dropping it when worn out.
// Returns false when the stack has no uses left.
func (inv *Inventory) ConsumeUse(st *Item) bool {
	if st.RemainingUses <= 0 {
		return false
	}
	st.RemainingUses--
	if st.RemainingUses == 0 {
		st.Quantity--
		if st.Quantity == 0 {
			inv.drop(st)
		} else {
			st.RemainingUses = Catalog[st.Type].Uses
		}
	}
	return true
}

func (inv *Inventory) drop(st *Item) {
	for i, it := range inv.Items {
		if it == st {
			inv.Items = append(inv.Items[:i], inv.Items[i+1:]...)
			return
		}
	}
}

// Count returns total units of the type across stacks.
func (inv *Inventory) Count(itemType string) int {
	n := 0
	for _, it := range inv.Items {
		if it.Type == itemType {
			n += it.Quantity
		}
	}
	return n
}
