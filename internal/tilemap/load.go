package tilemap

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File mirrors the on-disk map document produced by cmd/mapgen (or the
// external map producer). Interiors are derived from bounds: every passable
// tile inside a building's bbox is interior.
type File struct {
	Width     int          `yaml:"width"`
	Height    int          `yaml:"height"`
	TileSize  int          `yaml:"tile_size"`
	Spawn     fileXY       `yaml:"spawn"`
	Ground    [][]int      `yaml:"ground"`
	Obstacles [][]int      `yaml:"obstacles"`
	Buildings []fileBuilding `yaml:"buildings"`
	Forage    []ForageSeed `yaml:"forageables"`
}

type fileXY struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

type fileBuilding struct {
	ID     string                `yaml:"id"`
	Type   string                `yaml:"type"`
	Bounds fileRect              `yaml:"bounds"`
	Doors  []fileDoor            `yaml:"doors"`
	Zones  map[string][]fileTile `yaml:"zones"`
}

type fileRect struct {
	MinX int `yaml:"min_x"`
	MinY int `yaml:"min_y"`
	MaxX int `yaml:"max_x"`
	MaxY int `yaml:"max_y"`
}

type fileDoor struct {
	TX     int     `yaml:"tx"`
	TY     int     `yaml:"ty"`
	Facing float64 `yaml:"facing"`
}

type fileTile struct {
	TX int `yaml:"tx"`
	TY int `yaml:"ty"`
}

// ForageSeed is the initial placement of one forageable node. The live node
// (uses remaining, regrowth timer) belongs to world state.
type ForageSeed struct {
	ID      int64   `yaml:"id"`
	Kind    string  `yaml:"kind"` // berry_bush | fresh_spring
	X       float64 `yaml:"x"`
	Y       float64 `yaml:"y"`
	MaxUses int     `yaml:"max_uses"`
	Regrow  float64 `yaml:"regrow"` // game seconds per use regrown
}

var validBuildingTypes = map[string]BuildingType{
	"station":  BuildingStation,
	"shop":     BuildingShop,
	"bank":     BuildingBank,
	"hall":     BuildingHall,
	"toilet":   BuildingToilet,
	"mortuary": BuildingMortuary,
	"police":   BuildingPolice,
	"info":     BuildingInfo,
}

// Load reads and validates a map file. Returns the immutable map and the
// forageable node seeds.
func Load(path string) (*Map, []ForageSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read map %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("parse map %s: %w", path, err)
	}
	m, err := FromFile(&f)
	if err != nil {
		return nil, nil, fmt.Errorf("map %s: %w", path, err)
	}
	return m, f.Forage, nil
}

// FromFile builds a Map from a parsed document. Exposed for tests and mapgen.
func FromFile(f *File) (*Map, error) {
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("bad dimensions %dx%d", f.Width, f.Height)
	}
	if f.TileSize <= 0 {
		return nil, fmt.Errorf("bad tile size %d", f.TileSize)
	}
	if len(f.Ground) != f.Height || len(f.Obstacles) != f.Height {
		return nil, fmt.Errorf("grid rows do not match height %d", f.Height)
	}
	for ty := 0; ty < f.Height; ty++ {
		if len(f.Ground[ty]) != f.Width || len(f.Obstacles[ty]) != f.Width {
			return nil, fmt.Errorf("grid row %d does not match width %d", ty, f.Width)
		}
	}

	m := &Map{
		Width:     f.Width,
		Height:    f.Height,
		TileSize:  f.TileSize,
		Ground:    f.Ground,
		Obstacles: f.Obstacles,
		SpawnX:    f.Spawn.X,
		SpawnY:    f.Spawn.Y,
	}

	seen := map[string]struct{}{}
	for _, fb := range f.Buildings {
		btype, ok := validBuildingTypes[fb.Type]
		if !ok {
			return nil, fmt.Errorf("building %s: unknown type %q", fb.ID, fb.Type)
		}
		if _, dup := seen[fb.ID]; dup {
			return nil, fmt.Errorf("duplicate building id %s", fb.ID)
		}
		seen[fb.ID] = struct{}{}

		b := &Building{
			ID:     fb.ID,
			Type:   btype,
			Bounds: Rect{MinX: fb.Bounds.MinX, MinY: fb.Bounds.MinY, MaxX: fb.Bounds.MaxX, MaxY: fb.Bounds.MaxY},
			Zones:  make(map[string][]TileXY, len(fb.Zones)),
		}
		for _, fd := range fb.Doors {
			b.Doors = append(b.Doors, Door{TX: fd.TX, TY: fd.TY, Facing: fd.Facing})
		}
		if len(b.Doors) == 0 {
			return nil, fmt.Errorf("building %s: no doors", fb.ID)
		}
		for verb, tiles := range fb.Zones {
			for _, t := range tiles {
				b.Zones[verb] = append(b.Zones[verb], TileXY{t.TX, t.TY})
			}
		}
		// Interior: every passable tile inside the bbox.
		for ty := b.Bounds.MinY; ty <= b.Bounds.MaxY; ty++ {
			for tx := b.Bounds.MinX; tx <= b.Bounds.MaxX; tx++ {
				if tx >= 0 && ty >= 0 && tx < f.Width && ty < f.Height && f.Obstacles[ty][tx] == 0 {
					b.Interior = append(b.Interior, TileXY{tx, ty})
				}
			}
		}
		if len(b.Interior) == 0 {
			return nil, fmt.Errorf("building %s: fully blocked interior", fb.ID)
		}
		m.Buildings = append(m.Buildings, b)
	}

	m.index()
	return m, nil
}
