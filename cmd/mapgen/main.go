// mapgen produces a city map document: noise-shaded ground, walled civic
// buildings with door gaps, and forageable node placements. The output is the
// YAML format internal/tilemap loads.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	opensimplex "github.com/ojrac/opensimplex-go"
	"gopkg.in/yaml.v3"

	"github.com/thecity/server/internal/tilemap"
)

const tileSize = 32

// Ground tile codes rendered by clients.
const (
	groundGrass = 0
	groundDirt  = 1
	groundStone = 2
)

type mapDoc struct {
	Width     int           `yaml:"width"`
	Height    int           `yaml:"height"`
	TileSize  int           `yaml:"tile_size"`
	Spawn     xy            `yaml:"spawn"`
	Ground    [][]int       `yaml:"ground"`
	Obstacles [][]int       `yaml:"obstacles"`
	Buildings []buildingDoc `yaml:"buildings"`
	Forage    []forageDoc   `yaml:"forageables"`
}

type xy struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

type buildingDoc struct {
	ID     string    `yaml:"id"`
	Type   string    `yaml:"type"`
	Bounds rectDoc   `yaml:"bounds"`
	Doors  []doorDoc `yaml:"doors"`
}

type rectDoc struct {
	MinX int `yaml:"min_x"`
	MinY int `yaml:"min_y"`
	MaxX int `yaml:"max_x"`
	MaxY int `yaml:"max_y"`
}

type doorDoc struct {
	TX     int     `yaml:"tx"`
	TY     int     `yaml:"ty"`
	Facing float64 `yaml:"facing"`
}

type forageDoc struct {
	ID      int64   `yaml:"id"`
	Kind    string  `yaml:"kind"`
	X       float64 `yaml:"x"`
	Y       float64 `yaml:"y"`
	MaxUses int     `yaml:"max_uses"`
	Regrow  float64 `yaml:"regrow"`
}

// placement is a building footprint in tile space. The door sits on the
// south wall, centered.
type placement struct {
	id                     string
	btype                  string
	minX, minY, maxX, maxY int
}

func main() {
	out := flag.String("out", "data/map/city.yaml", "output path")
	width := flag.Int("width", 64, "map width in tiles")
	height := flag.Int("height", 64, "map height in tiles")
	seed := flag.Int64("seed", 20260101, "noise seed")
	flag.Parse()

	if err := run(*out, *width, *height, *seed); err != nil {
		fmt.Fprintf(os.Stderr, "mapgen: %v\n", err)
		os.Exit(1)
	}
}

func run(out string, width, height int, seed int64) error {
	if width < 60 || height < 60 {
		return fmt.Errorf("map must be at least 60x60, got %dx%d", width, height)
	}

	doc := &mapDoc{
		Width:    width,
		Height:   height,
		TileSize: tileSize,
	}
	doc.Ground = paintGround(width, height, seed)
	doc.Obstacles = emptyGrid(width, height)

	placements := []placement{
		{"station", "station", width/2 - 6, height - 8, width/2 + 5, height - 3},
		{"shop", "shop", 6, 8, 12, 13},
		{"bank", "bank", 16, 8, 22, 13},
		{"hall", "hall", 26, 8, 32, 13},
		{"toilet", "toilet", 36, 8, 40, 12},
		{"police", "police", 46, 8, 54, 14},
		{"mortuary", "mortuary", 6, 24, 12, 29},
		{"info", "info", width - 14, 24, width - 10, 28},
	}
	for _, p := range placements {
		doc.Buildings = append(doc.Buildings, buildWalls(doc, p))
	}

	// Pave a dirt road from the station door up through the civic row.
	roadX := width / 2
	for ty := 15; ty < height-8; ty++ {
		doc.Ground[ty][roadX] = groundDirt
		doc.Ground[ty][roadX+1] = groundDirt
	}

	spawnTX := width / 2
	spawnTY := height - 6
	doc.Spawn = xy{
		X: (float64(spawnTX) + 0.5) * tileSize,
		Y: (float64(spawnTY) + 0.5) * tileSize,
	}

	doc.Forage = placeForage(doc, seed)

	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return err
	}

	// Round-trip the file through the real loader so a broken document never
	// ships.
	m, seeds, err := tilemap.Load(out)
	if err != nil {
		return fmt.Errorf("generated map failed validation: %w", err)
	}
	fmt.Printf("wrote %s: %dx%d tiles, %d buildings, %d forageables\n",
		out, m.Width, m.Height, len(m.Buildings), len(seeds))
	return nil
}

// paintGround shades the ground with two octaves of simplex noise: stone in
// the low basins, dirt on the slopes, grass elsewhere.
func paintGround(width, height int, seed int64) [][]int {
	noise := opensimplex.NewNormalized(seed)
	g := emptyGrid(width, height)
	for ty := 0; ty < height; ty++ {
		for tx := 0; tx < width; tx++ {
			v := noise.Eval2(float64(tx)*0.08, float64(ty)*0.08)
			v += 0.35 * noise.Eval2(float64(tx)*0.23, float64(ty)*0.23)
			v /= 1.35
			switch {
			case v < 0.30:
				g[ty][tx] = groundStone
			case v < 0.42:
				g[ty][tx] = groundDirt
			default:
				g[ty][tx] = groundGrass
			}
		}
	}
	return g
}

// buildWalls draws the building perimeter into the obstacle grid, leaving a
// one-tile gap for the door on the south wall, and stones the interior floor.
func buildWalls(doc *mapDoc, p placement) buildingDoc {
	doorTX := (p.minX + p.maxX) / 2
	doorTY := p.maxY
	for ty := p.minY; ty <= p.maxY; ty++ {
		for tx := p.minX; tx <= p.maxX; tx++ {
			onWall := ty == p.minY || ty == p.maxY || tx == p.minX || tx == p.maxX
			if onWall && !(tx == doorTX && ty == doorTY) {
				doc.Obstacles[ty][tx] = 1
			}
			doc.Ground[ty][tx] = groundStone
		}
	}
	return buildingDoc{
		ID:     p.id,
		Type:   p.btype,
		Bounds: rectDoc{MinX: p.minX, MinY: p.minY, MaxX: p.maxX, MaxY: p.maxY},
		Doors:  []doorDoc{{TX: doorTX, TY: doorTY, Facing: 90}},
	}
}

// placeForage scatters berry bushes and springs on open grass, preferring
// noise maxima so the nodes cluster away from the paved center.
func placeForage(doc *mapDoc, seed int64) []forageDoc {
	noise := opensimplex.NewNormalized(seed + 7)
	var out []forageDoc
	id := int64(1)
	for ty := 4; ty < doc.Height-10 && len(out) < 10; ty += 5 {
		for tx := 4; tx < doc.Width-4 && len(out) < 10; tx += 7 {
			if doc.Obstacles[ty][tx] != 0 || doc.Ground[ty][tx] != groundGrass {
				continue
			}
			v := noise.Eval2(float64(tx)*0.15, float64(ty)*0.15)
			if v < 0.62 {
				continue
			}
			node := forageDoc{
				ID:      id,
				X:       (float64(tx) + 0.5) * tileSize,
				Y:       (float64(ty) + 0.5) * tileSize,
				Kind:    "berry_bush",
				MaxUses: 3,
				Regrow:  1800,
			}
			if id%3 == 0 {
				node.Kind = "fresh_spring"
				node.MaxUses = 4
				node.Regrow = 900
			}
			out = append(out, node)
			id++
		}
	}
	return out
}

func emptyGrid(width, height int) [][]int {
	g := make([][]int, height)
	for ty := range g {
		g[ty] = make([]int, width)
	}
	return g
}
