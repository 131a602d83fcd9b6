// Package tilemap holds the static city grid: ground and obstacle layers,
// building placements, and the spatial queries the engine runs against them.
// The map is immutable for the lifetime of a run; all mutable world entities
// live in internal/world.
package tilemap

import "math"

// BuildingType enumerates the civic roles a building can have.
type BuildingType string

const (
	BuildingStation  BuildingType = "station"
	BuildingShop     BuildingType = "shop"
	BuildingBank     BuildingType = "bank"
	BuildingHall     BuildingType = "hall"
	BuildingToilet   BuildingType = "toilet"
	BuildingMortuary BuildingType = "mortuary"
	BuildingPolice   BuildingType = "police"
	BuildingInfo     BuildingType = "info"
)

// Door is a building entrance occupying one tile, with the heading a resident
// faces when stepping out of it (degrees).
type Door struct {
	TX, TY int
	Facing float64
}

// TileXY addresses one tile.
type TileXY struct {
	TX, TY int
}

// Rect is a tile-space bounding box, inclusive.
type Rect struct {
	MinX, MinY, MaxX, MaxY int
}

func (r Rect) Contains(tx, ty int) bool {
	return tx >= r.MinX && tx <= r.MaxX && ty >= r.MinY && ty <= r.MaxY
}

// Building is a static placement on the map. Interaction zones map an action
// verb ("buy", "use_toilet", "collect_ubi", ...) to the tiles it is legal on.
type Building struct {
	ID       string
	Type     BuildingType
	Bounds   Rect
	Doors    []Door
	Interior []TileXY
	Zones    map[string][]TileXY

	interiorSet map[TileXY]struct{}
}

// ContainsTile reports whether the tile is part of the building interior.
func (b *Building) ContainsTile(tx, ty int) bool {
	_, ok := b.interiorSet[TileXY{tx, ty}]
	return ok
}

// ZoneContains reports whether the verb's interaction zone covers the tile.
// A building with no zone entry for the verb allows it anywhere inside.
func (b *Building) ZoneContains(verb string, tx, ty int) bool {
	tiles, ok := b.Zones[verb]
	if !ok {
		return b.ContainsTile(tx, ty)
	}
	for _, t := range tiles {
		if t.TX == tx && t.TY == ty {
			return true
		}
	}
	return false
}

// Map is the immutable city grid.
type Map struct {
	Width    int // tiles
	Height   int
	TileSize int // pixels per tile edge

	Ground    [][]int // ground tile type per [ty][tx]
	Obstacles [][]int // 0 = passable, anything else blocks

	Buildings []*Building
	SpawnX    float64 // station platform, pixels
	SpawnY    float64

	byID       map[string]*Building
	byInterior map[TileXY]*Building
}

// index builds the lookup tables after construction or load.
func (m *Map) index() {
	m.byID = make(map[string]*Building, len(m.Buildings))
	m.byInterior = make(map[TileXY]*Building)
	for _, b := range m.Buildings {
		m.byID[b.ID] = b
		b.interiorSet = make(map[TileXY]struct{}, len(b.Interior))
		for _, t := range b.Interior {
			b.interiorSet[t] = struct{}{}
			m.byInterior[t] = b
		}
	}
}

// Building returns the building with the given id, or nil.
func (m *Map) Building(id string) *Building {
	return m.byID[id]
}

// BuildingAtTile returns the building whose interior covers the tile, or nil.
func (m *Map) BuildingAtTile(tx, ty int) *Building {
	return m.byInterior[TileXY{tx, ty}]
}

// BuildingAt returns the building whose interior covers the pixel position.
func (m *Map) BuildingAt(x, y float64) *Building {
	tx, ty := m.TileAt(x, y)
	return m.BuildingAtTile(tx, ty)
}

// TileAt converts a pixel position to tile coordinates.
func (m *Map) TileAt(x, y float64) (int, int) {
	return int(math.Floor(x / float64(m.TileSize))), int(math.Floor(y / float64(m.TileSize)))
}

// TileCenter returns the pixel center of a tile.
func (m *Map) TileCenter(tx, ty int) (float64, float64) {
	ts := float64(m.TileSize)
	return float64(tx)*ts + ts/2, float64(ty)*ts + ts/2
}

// IsTileBlocked reports whether a tile is impassable. Out-of-bounds tiles
// block.
func (m *Map) IsTileBlocked(tx, ty int) bool {
	if tx < 0 || ty < 0 || tx >= m.Width || ty >= m.Height {
		return true
	}
	return m.Obstacles[ty][tx] != 0
}

// IsPositionBlocked reports whether a hitbox square of the given half-width
// centered on (x, y) overlaps any blocked tile or leaves the map.
func (m *Map) IsPositionBlocked(x, y, half float64) bool {
	ts := float64(m.TileSize)
	minTX := int(math.Floor((x - half) / ts))
	maxTX := int(math.Floor((x + half - 1) / ts))
	minTY := int(math.Floor((y - half) / ts))
	maxTY := int(math.Floor((y + half - 1) / ts))
	for ty := minTY; ty <= maxTY; ty++ {
		for tx := minTX; tx <= maxTX; tx++ {
			if m.IsTileBlocked(tx, ty) {
				return true
			}
		}
	}
	return false
}

// NearestDoor returns the building and door nearest to (x, y) within maxDist
// pixels, or nil when none qualifies.
func (m *Map) NearestDoor(x, y, maxDist float64) (*Building, *Door) {
	var bestB *Building
	var bestD *Door
	best := maxDist
	for _, b := range m.Buildings {
		for i := range b.Doors {
			d := &b.Doors[i]
			cx, cy := m.TileCenter(d.TX, d.TY)
			dist := math.Hypot(cx-x, cy-y)
			if dist <= best {
				best = dist
				bestB = b
				bestD = d
			}
		}
	}
	return bestB, bestD
}

// WallBetween reports whether the straight line between two pixel positions
// crosses a blocked tile. Used for sound attenuation, not visibility.
func (m *Map) WallBetween(x1, y1, x2, y2 float64) bool {
	tx1, ty1 := m.TileAt(x1, y1)
	tx2, ty2 := m.TileAt(x2, y2)
	// Bresenham over the tile grid.
	dx := abs(tx2 - tx1)
	dy := -abs(ty2 - ty1)
	sx, sy := 1, 1
	if tx1 > tx2 {
		sx = -1
	}
	if ty1 > ty2 {
		sy = -1
	}
	err := dx + dy
	tx, ty := tx1, ty1
	for {
		if m.IsTileBlocked(tx, ty) {
			return true
		}
		if tx == tx2 && ty == ty2 {
			return false
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			tx += sx
		}
		if e2 <= dx {
			err += dx
			ty += sy
		}
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
