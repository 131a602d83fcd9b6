package tilemap

import (
	"container/heap"
	"errors"
)

// ErrNoPath is returned when the goal is unreachable or the expansion budget
// is exhausted before reaching it.
var ErrNoPath = errors.New("no path")

// Waypoint is one step of a resolved path, in pixels.
type Waypoint struct {
	X, Y float64
}

type pathNode struct {
	tx, ty  int
	g       int // cost from start
	f       int // g + heuristic
	heapIdx int
}

type nodeHeap []*pathNode

func (h nodeHeap) Len() int            { return len(h) }
func (h nodeHeap) Less(i, j int) bool  { return h[i].f < h[j].f }
func (h nodeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].heapIdx = i; h[j].heapIdx = j }
func (h *nodeHeap) Push(x any)         { n := x.(*pathNode); n.heapIdx = len(*h); *h = append(*h, n) }
func (h *nodeHeap) Pop() any {
	old := *h
	n := old[len(old)-1]
	*h = old[:len(old)-1]
	return n
}

var pathDirs = [4][2]int{{0, -1}, {1, 0}, {0, 1}, {-1, 0}}

// FindPath runs 4-directional A* with a Manhattan heuristic from one pixel
// position to another. An unreachable exact goal tile degrades to any
// adjacent passable tile. Intermediate waypoints are tile centers; the final
// waypoint is the literal target pixel. budget bounds the number of expanded
// tiles; exhaustion fails with ErrNoPath.
func (m *Map) FindPath(fromX, fromY, toX, toY float64, budget int) ([]Waypoint, error) {
	startTX, startTY := m.TileAt(fromX, fromY)
	goalTX, goalTY := m.TileAt(toX, toY)

	goals := map[TileXY]struct{}{}
	exactGoal := true
	if m.IsTileBlocked(goalTX, goalTY) {
		// Degrade to any adjacent passable tile.
		exactGoal = false
		for _, d := range pathDirs {
			atx, aty := goalTX+d[0], goalTY+d[1]
			if !m.IsTileBlocked(atx, aty) {
				goals[TileXY{atx, aty}] = struct{}{}
			}
		}
		if len(goals) == 0 {
			return nil, ErrNoPath
		}
	} else {
		goals[TileXY{goalTX, goalTY}] = struct{}{}
	}

	if _, done := goals[TileXY{startTX, startTY}]; done {
		if exactGoal {
			return []Waypoint{{toX, toY}}, nil
		}
		cx, cy := m.TileCenter(startTX, startTY)
		return []Waypoint{{cx, cy}}, nil
	}

	open := &nodeHeap{}
	heap.Init(open)
	nodes := map[TileXY]*pathNode{}
	cameFrom := map[TileXY]TileXY{}
	closed := map[TileXY]struct{}{}

	start := &pathNode{tx: startTX, ty: startTY, g: 0, f: manhattan(startTX, startTY, goalTX, goalTY)}
	nodes[TileXY{startTX, startTY}] = start
	heap.Push(open, start)

	expanded := 0
	for open.Len() > 0 {
		cur := heap.Pop(open).(*pathNode)
		key := TileXY{cur.tx, cur.ty}
		if _, ok := closed[key]; ok {
			continue
		}
		closed[key] = struct{}{}

		if _, done := goals[key]; done {
			return m.buildPath(cameFrom, key, startTX, startTY, toX, toY, exactGoal), nil
		}

		expanded++
		if budget > 0 && expanded > budget {
			return nil, ErrNoPath
		}

		for _, d := range pathDirs {
			ntx, nty := cur.tx+d[0], cur.ty+d[1]
			nkey := TileXY{ntx, nty}
			if m.IsTileBlocked(ntx, nty) {
				continue
			}
			if _, ok := closed[nkey]; ok {
				continue
			}
			g := cur.g + 1
			if existing, ok := nodes[nkey]; ok {
				if g >= existing.g {
					continue
				}
				existing.g = g
				existing.f = g + manhattan(ntx, nty, goalTX, goalTY)
				heap.Fix(open, existing.heapIdx)
				cameFrom[nkey] = key
				continue
			}
			n := &pathNode{tx: ntx, ty: nty, g: g, f: g + manhattan(ntx, nty, goalTX, goalTY)}
			nodes[nkey] = n
			cameFrom[nkey] = key
			heap.Push(open, n)
		}
	}
	return nil, ErrNoPath
}

func (m *Map) buildPath(cameFrom map[TileXY]TileXY, end TileXY, startTX, startTY int, toX, toY float64, exactGoal bool) []Waypoint {
	var tiles []TileXY
	for cur := end; !(cur.TX == startTX && cur.TY == startTY); cur = cameFrom[cur] {
		tiles = append(tiles, cur)
	}
	// Reverse into waypoints.
	wps := make([]Waypoint, 0, len(tiles)+1)
	for i := len(tiles) - 1; i >= 0; i-- {
		cx, cy := m.TileCenter(tiles[i].TX, tiles[i].TY)
		wps = append(wps, Waypoint{cx, cy})
	}
	if exactGoal {
		// Replace the last tile-center waypoint with the literal target pixel.
		if len(wps) > 0 {
			wps[len(wps)-1] = Waypoint{toX, toY}
		} else {
			wps = append(wps, Waypoint{toX, toY})
		}
	}
	return wps
}

func manhattan(x1, y1, x2, y2 int) int {
	return abs(x1-x2) + abs(y1-y2)
}
