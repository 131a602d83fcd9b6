package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddMergesConsumableStacks(t *testing.T) {
	inv := NewInventory()
	first := inv.Add("bread", 2)
	require.NotNil(t, first)
	second := inv.Add("bread", 3)

	assert.Same(t, first, second, "consumables merge into one stack")
	assert.Len(t, inv.Items, 1)
	assert.Equal(t, 5, inv.Count("bread"))
	assert.NotEmpty(t, first.ID)
}

func TestAddKeepsGearInstancesSeparate(t *testing.T) {
	inv := NewInventory()
	a := inv.Add("sleeping_bag", 1)
	b := inv.Add("sleeping_bag", 1)

	require.Len(t, inv.Items, 2)
	assert.NotSame(t, a, b)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, Catalog["sleeping_bag"].Uses, a.RemainingUses)
}

func TestAddRejectsUnknownTypeAndBadQuantity(t *testing.T) {
	inv := NewInventory()
	assert.Nil(t, inv.Add("plutonium", 1))
	assert.Nil(t, inv.Add("bread", 0))
	assert.Empty(t, inv.Items)
}

func TestRemoveDropsEmptyStacks(t *testing.T) {
	inv := NewInventory()
	inv.Add("apple", 3)

	assert.False(t, inv.Remove("apple", 4), "cannot remove more than held")
	assert.True(t, inv.Remove("apple", 2))
	assert.Equal(t, 1, inv.Count("apple"))

	assert.True(t, inv.Remove("apple", 1))
	assert.Empty(t, inv.Items, "stack at zero is dropped")
	assert.False(t, inv.Remove("apple", 1))
}

func TestConsumeUseWearsOutGear(t *testing.T) {
	inv := NewInventory()
	bag := inv.Add("sleeping_bag", 1)
	bag.RemainingUses = 2

	assert.True(t, inv.ConsumeUse(bag))
	assert.Equal(t, 1, bag.RemainingUses)

	assert.True(t, inv.ConsumeUse(bag))
	assert.Empty(t, inv.Items, "worn-out single bag leaves the inventory")
	assert.False(t, inv.ConsumeUse(bag))
}

func TestConsumeUseUnwrapsNextFromStack(t *testing.T) {
	inv := NewInventory()
	bag := inv.Add("sleeping_bag", 1)
	bag.Quantity = 2
	bag.RemainingUses = 1

	assert.True(t, inv.ConsumeUse(bag))
	assert.Equal(t, 1, bag.Quantity)
	assert.Equal(t, Catalog["sleeping_bag"].Uses, bag.RemainingUses,
		"a fresh instance replaces the worn one")
	assert.Len(t, inv.Items, 1)
}

func TestFindHelpers(t *testing.T) {
	inv := NewInventory()
	inv.Add("coffee", 1)
	bread := inv.Add("bread", 1)
	bag := inv.Add("sleeping_bag", 1)

	assert.Same(t, bread, inv.Find("bread"))
	assert.Nil(t, inv.Find("meal"))
	assert.Same(t, bag, inv.FindID(bag.ID))
	assert.Nil(t, inv.FindID("nope"))
	assert.Same(t, bread, inv.FindKind(KindFood))
	assert.Same(t, bag, inv.FindKind(KindGear))
	assert.Equal(t, "coffee", inv.FindKind(KindDrink).Type)
}

func TestShopItemsAreAllCataloged(t *testing.T) {
	for _, typ := range ShopItems {
		def, ok := Catalog[typ]
		require.True(t, ok, typ)
		assert.Greater(t, def.Price, int64(0), typ)
	}
}
