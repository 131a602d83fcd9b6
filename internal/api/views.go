package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/thecity/server/internal/persist"
)

const (
	feedLimit        = 50
	leaderboardLimit = 20
)

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"width":     s.tiles.Width,
		"height":    s.tiles.Height,
		"tile_size": s.tiles.TileSize,
		"spawn":     map[string]float64{"x": s.tiles.SpawnX, "y": s.tiles.SpawnY},
		"ground":    s.tiles.Ground,
		"obstacles": s.tiles.Obstacles,
	})
}

type buildingView struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Bounds map[string]int `json:"bounds"`
	Doors  []doorView     `json:"doors"`
}

type doorView struct {
	TX     int     `json:"tx"`
	TY     int     `json:"ty"`
	Facing float64 `json:"facing"`
}

func (s *Server) handleBuildings(w http.ResponseWriter, r *http.Request) {
	out := make([]buildingView, 0, len(s.tiles.Buildings))
	for _, b := range s.tiles.Buildings {
		v := buildingView{
			ID:   b.ID,
			Type: string(b.Type),
			Bounds: map[string]int{
				"min_x": b.Bounds.MinX, "min_y": b.Bounds.MinY,
				"max_x": b.Bounds.MaxX, "max_y": b.Bounds.MaxY,
			},
			Doors: make([]doorView, 0, len(b.Doors)),
		}
		for _, d := range b.Doors {
			v.Doors = append(v.Doors, doorView{TX: d.TX, TY: d.TY, Facing: d.Facing})
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"buildings": out})
}

type residentView struct {
	ID         int64   `json:"id"`
	Passport   string  `json:"passport"`
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Status     string  `json:"status"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	BuildingID string  `json:"building_id,omitempty"`
	Wallet     int64   `json:"wallet"`
	JobID      int64   `json:"job_id,omitempty"`
	Wanted     bool    `json:"wanted"`
	ArrivedAt  float64 `json:"arrived_at"`
	DiedAt     float64 `json:"died_at,omitempty"`
	DeathCause string  `json:"death_cause,omitempty"`
}

func viewOf(row *persist.ResidentRow) residentView {
	return residentView{
		ID:         row.ID,
		Passport:   row.Passport,
		Name:       row.Name,
		Type:       row.Type,
		Status:     row.Status,
		X:          row.X,
		Y:          row.Y,
		BuildingID: row.BuildingID,
		Wallet:     row.Wallet,
		JobID:      row.JobID,
		Wanted:     row.Wanted,
		ArrivedAt:  row.ArrivedAt,
		DiedAt:     row.DiedAt,
		DeathCause: row.DeathCause,
	}
}

// handleResident looks a resident up by numeric id or by passport. The view
// is the last checkpointed row, not the live tick state.
func (s *Server) handleResident(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	var (
		row *persist.ResidentRow
		err error
	)
	if id, convErr := strconv.ParseInt(key, 10, 64); convErr == nil {
		row, err = s.residents.FindByID(r.Context(), id)
	} else {
		row, err = s.residents.FindByPassport(r.Context(), key)
	}
	if errors.Is(err, persist.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no such resident")
		return
	}
	if err != nil {
		s.log.Error("resident lookup failed", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(row))
}

type feedItem struct {
	Kind       string          `json:"kind"`
	ResidentID int64           `json:"resident_id,omitempty"`
	WorldTime  float64         `json:"world_time"`
	Day        int             `json:"day"`
	Clock      string          `json:"clock"`
	Text       string          `json:"text,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// feedName extracts a display name from an event payload. Events name their
// subject inconsistently; a body event carries "name", everything else a
// passport or a target passport.
func feedName(payload json.RawMessage) string {
	var p struct {
		Name     string `json:"name"`
		Passport string `json:"passport"`
		Target   string `json:"target"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return ""
	}
	switch {
	case p.Name != "":
		return p.Name
	case p.Passport != "":
		return p.Passport
	default:
		return p.Target
	}
}

// narrate serializes access to the narrator's Lua VM.
func (s *Server) narrate(kind, name string) string {
	if s.narrator == nil {
		return ""
	}
	s.narrateMu.Lock()
	defer s.narrateMu.Unlock()
	return s.narrator.EventText(kind, name)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	rows, err := s.events.Recent(r.Context(), feedLimit)
	if err != nil {
		s.log.Error("feed query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "feed unavailable")
		return
	}
	items := make([]feedItem, 0, len(rows))
	for _, e := range rows {
		items = append(items, feedItem{
			Kind:       e.Kind,
			ResidentID: e.ResidentID,
			WorldTime:  e.WorldTime,
			Day:        int(e.WorldTime / 86400),
			Clock:      gameClock(e.WorldTime),
			Text:       s.narrate(e.Kind, feedName(e.Payload)),
			Payload:    e.Payload,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": items})
}

type leaderboardEntry struct {
	Rank     int    `json:"rank"`
	Passport string `json:"passport"`
	Name     string `json:"name"`
	Wallet   int64  `json:"wallet"`
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	rows, err := s.residents.Leaderboard(r.Context(), leaderboardLimit)
	if err != nil {
		s.log.Error("leaderboard query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "leaderboard unavailable")
		return
	}
	out := make([]leaderboardEntry, 0, len(rows))
	for i, row := range rows {
		out = append(out, leaderboardEntry{
			Rank:     i + 1,
			Passport: row.Passport,
			Name:     row.Name,
			Wallet:   row.Wallet,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": out})
}
