package tilemap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emptyFile(w, h int) *File {
	f := &File{Width: w, Height: h, TileSize: 32}
	f.Ground = make([][]int, h)
	f.Obstacles = make([][]int, h)
	for ty := 0; ty < h; ty++ {
		f.Ground[ty] = make([]int, w)
		f.Obstacles[ty] = make([]int, w)
	}
	return f
}

func mustMap(t *testing.T, f *File) *Map {
	t.Helper()
	m, err := FromFile(f)
	require.NoError(t, err)
	return m
}

func TestTileMath(t *testing.T) {
	m := mustMap(t, emptyFile(10, 10))

	tx, ty := m.TileAt(95, 32)
	assert.Equal(t, 2, tx)
	assert.Equal(t, 1, ty)

	cx, cy := m.TileCenter(2, 1)
	assert.Equal(t, 80.0, cx)
	assert.Equal(t, 48.0, cy)
}

func TestTileBlockingAndBounds(t *testing.T) {
	f := emptyFile(10, 10)
	f.Obstacles[4][4] = 1
	m := mustMap(t, f)

	assert.True(t, m.IsTileBlocked(4, 4))
	assert.False(t, m.IsTileBlocked(4, 5))
	assert.True(t, m.IsTileBlocked(-1, 0))
	assert.True(t, m.IsTileBlocked(10, 0))
}

func TestPositionBlockedCoversHitbox(t *testing.T) {
	f := emptyFile(10, 10)
	f.Obstacles[4][4] = 1 // pixels 128..159 on both axes
	m := mustMap(t, f)

	// Center of the neighbouring tile: hitbox reaches 96..127, clear.
	assert.False(t, m.IsPositionBlocked(112, 144, 16))
	// One pixel further the box touches 128 and overlaps the wall tile.
	assert.True(t, m.IsPositionBlocked(113, 144, 16))
	assert.True(t, m.IsPositionBlocked(144, 144, 16))
}

func TestResolveMovementSlidesAlongWalls(t *testing.T) {
	f := emptyFile(10, 10)
	for ty := 0; ty < 10; ty++ {
		f.Obstacles[ty][5] = 1 // vertical wall at tx 5
	}
	m := mustMap(t, f)

	// Diagonal into the wall: x is blocked, y survives.
	x, y, blocked := m.ResolveMovement(112, 112, 150, 140, 16)
	assert.True(t, blocked)
	assert.Equal(t, 112.0, x)
	assert.Equal(t, 140.0, y)

	// Free move resolves untouched.
	x, y, blocked = m.ResolveMovement(112, 112, 120, 120, 16)
	assert.False(t, blocked)
	assert.Equal(t, 120.0, x)
	assert.Equal(t, 120.0, y)
}

func TestFindPathAroundWall(t *testing.T) {
	f := emptyFile(12, 12)
	for ty := 0; ty < 11; ty++ {
		f.Obstacles[ty][6] = 1 // wall with a gap at ty 11
	}
	m := mustMap(t, f)

	wps, err := m.FindPath(48, 48, 304, 48, 0)
	require.NoError(t, err)
	require.NotEmpty(t, wps)

	// The goal pixel is delivered verbatim as the final waypoint.
	last := wps[len(wps)-1]
	assert.Equal(t, 304.0, last.X)
	assert.Equal(t, 48.0, last.Y)

	// The route must detour through the gap row to get past the wall.
	through := false
	for _, wp := range wps {
		if wp.Y > 320 {
			through = true
		}
	}
	assert.True(t, through, "path should route through the wall gap")

	// No waypoint sits on a blocked tile.
	for _, wp := range wps {
		tx, ty := m.TileAt(wp.X, wp.Y)
		assert.False(t, m.IsTileBlocked(tx, ty))
	}
}

func TestFindPathBudget(t *testing.T) {
	f := emptyFile(12, 12)
	for ty := 0; ty < 11; ty++ {
		f.Obstacles[ty][6] = 1
	}
	m := mustMap(t, f)

	_, err := m.FindPath(48, 48, 304, 48, 3)
	assert.ErrorIs(t, err, ErrNoPath)
}

func TestFindPathUnreachable(t *testing.T) {
	f := emptyFile(12, 12)
	for ty := 0; ty < 12; ty++ {
		f.Obstacles[ty][6] = 1 // full-height wall
	}
	m := mustMap(t, f)

	_, err := m.FindPath(48, 48, 304, 48, 0)
	assert.ErrorIs(t, err, ErrNoPath)
}

func TestFindPathToBlockedGoalDegrades(t *testing.T) {
	f := emptyFile(12, 12)
	f.Obstacles[5][5] = 1
	m := mustMap(t, f)

	wps, err := m.FindPath(48, 48, 176, 176, 0) // goal inside the blocked tile
	require.NoError(t, err)
	require.NotEmpty(t, wps)

	// Final waypoint is the center of a passable tile next to the goal.
	last := wps[len(wps)-1]
	tx, ty := m.TileAt(last.X, last.Y)
	assert.False(t, m.IsTileBlocked(tx, ty))
	assert.LessOrEqual(t, abs(tx-5)+abs(ty-5), 1)
}

func TestWallBetween(t *testing.T) {
	f := emptyFile(10, 10)
	f.Obstacles[2][5] = 1
	m := mustMap(t, f)

	assert.True(t, m.WallBetween(48, 80, 272, 80))  // line crosses tile (5,2)
	assert.False(t, m.WallBetween(48, 176, 272, 176)) // clear row
}

func TestNearestDoor(t *testing.T) {
	f := emptyFile(10, 10)
	f.Buildings = []fileBuilding{{
		ID: "shop", Type: "shop",
		Bounds: fileRect{MinX: 1, MinY: 1, MaxX: 3, MaxY: 3},
		Doors:  []fileDoor{{TX: 2, TY: 3, Facing: 90}},
	}}
	m := mustMap(t, f)

	b, d := m.NearestDoor(80, 140, 48)
	require.NotNil(t, b)
	assert.Equal(t, "shop", b.ID)
	assert.Equal(t, 2, d.TX)

	b, d = m.NearestDoor(300, 300, 48)
	assert.Nil(t, b)
	assert.Nil(t, d)
}

func TestBuildingLookupByInterior(t *testing.T) {
	f := emptyFile(10, 10)
	f.Buildings = []fileBuilding{{
		ID: "bank", Type: "bank",
		Bounds: fileRect{MinX: 4, MinY: 4, MaxX: 6, MaxY: 6},
		Doors:  []fileDoor{{TX: 5, TY: 6, Facing: 90}},
	}}
	m := mustMap(t, f)

	assert.Equal(t, "bank", m.BuildingAt(160, 160).ID)
	assert.Nil(t, m.BuildingAt(32, 32))
	assert.Equal(t, m.Building("bank"), m.BuildingAtTile(5, 5))
}

func TestFromFileRejectsBadDocuments(t *testing.T) {
	f := emptyFile(10, 10)
	f.Buildings = []fileBuilding{{
		ID: "x", Type: "casino",
		Bounds: fileRect{MinX: 1, MinY: 1, MaxX: 2, MaxY: 2},
		Doors:  []fileDoor{{TX: 1, TY: 2}},
	}}
	_, err := FromFile(f)
	assert.ErrorContains(t, err, "unknown type")

	f = emptyFile(10, 10)
	f.Buildings = []fileBuilding{{
		ID: "x", Type: "shop",
		Bounds: fileRect{MinX: 1, MinY: 1, MaxX: 2, MaxY: 2},
	}}
	_, err = FromFile(f)
	assert.ErrorContains(t, err, "no doors")

	f = emptyFile(10, 10)
	f.Height = 9
	_, err = FromFile(f)
	assert.ErrorContains(t, err, "rows")
}
