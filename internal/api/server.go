// Package api serves the public HTTP facade: registration, world status, and
// read-only views over persisted state. Live world state is never touched
// from request goroutines; reads go through the repositories and the engine's
// published snapshot, and registration hands new residents to the tick worker
// over a channel.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/thecity/server/internal/config"
	"github.com/thecity/server/internal/engine"
	"github.com/thecity/server/internal/persist"
	"github.com/thecity/server/internal/tilemap"
	"github.com/thecity/server/internal/token"
	"github.com/thecity/server/internal/world"
)

// ResidentStore is the slice of the resident repository the facade uses.
type ResidentStore interface {
	Create(ctx context.Context, passport, name, residentType string) (int64, error)
	FindByID(ctx context.Context, id int64) (*persist.ResidentRow, error)
	FindByPassport(ctx context.Context, passport string) (*persist.ResidentRow, error)
	Leaderboard(ctx context.Context, limit int) ([]persist.ResidentRow, error)
	LinkGitHub(ctx context.Context, residentID int64, githubUser string) error
	AddReferral(ctx context.Context, referrerID, referredID int64) error
}

// EventStore reads the persisted event log for the public feed.
type EventStore interface {
	Recent(ctx context.Context, limit int) ([]persist.EventRow, error)
}

// Narrator phrases feed events for public display. Satisfied by the Lua
// scripting engine. The VM is single-goroutine, so the facade gets its own
// instance at boot rather than sharing the tick worker's; requests are
// serialized onto it through narrate.
type Narrator interface {
	EventText(kind, name string) string
}

// World is the engine surface the facade is allowed to touch. All three
// methods are safe from any goroutine.
type World interface {
	Status() engine.Snapshot
	Announce(text string) bool
	EnqueueArrival(r *world.Resident) bool
}

type Server struct {
	cfg       *config.Config
	world     World
	tiles     *tilemap.Map
	residents ResidentStore
	events    EventStore
	auth      *token.Authority
	narrator  Narrator
	narrateMu sync.Mutex
	log       *zap.Logger

	http *http.Server
}

func New(cfg *config.Config, w World, m *tilemap.Map, residents ResidentStore, events EventStore, auth *token.Authority, narrator Narrator, log *zap.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		world:     w,
		tiles:     m,
		residents: residents,
		events:    events,
		auth:      auth,
		narrator:  narrator,
		log:       log.Named("api"),
	}
	s.http = &http.Server{
		Addr:         cfg.Server.BindHTTP,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// Router builds the route table. Exposed for tests.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /passport", s.handleRegister)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /map", s.handleMap)
	mux.HandleFunc("GET /buildings", s.handleBuildings)
	mux.HandleFunc("GET /resident/{key}", s.handleResident)
	mux.HandleFunc("GET /feed", s.handleFeed)
	mux.HandleFunc("GET /leaderboard", s.handleLeaderboard)
	mux.HandleFunc("POST /announce", s.handleAnnounce)
	return mux
}

func (s *Server) ListenAndServe() error {
	s.log.Info("facade listening", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.world.Status()
	started := time.Unix(s.cfg.Server.StartTime, 0)
	writeJSON(w, http.StatusOK, map[string]any{
		"server":         s.cfg.Server.Name,
		"started":        started.UTC().Format(time.RFC3339),
		"uptime":         humanize.Time(started),
		"world_time":     snap.WorldTime,
		"day":            snap.Day,
		"clock":          gameClock(snap.WorldTime),
		"tick":           snap.Tick,
		"residents":      map[string]int{"alive": snap.Alive, "total": snap.Total},
		"train_queue":    snap.TrainQueue,
		"next_train_in":  snap.NextTrainIn,
		"write_backlog":  snap.Backlog,
		"accepting":      true,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.world.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"write_backlog": snap.Backlog,
	})
}

func (s *Server) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Server.AdminKey == "" {
		writeError(w, http.StatusNotFound, "announcements disabled")
		return
	}
	bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if bearer == "" || bearer != s.cfg.Server.AdminKey {
		writeError(w, http.StatusForbidden, "bad admin key")
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text required")
		return
	}
	if !s.world.Announce(req.Text) {
		writeError(w, http.StatusServiceUnavailable, "announcement queue full")
		return
	}
	s.log.Info("announcement queued", zap.String("text", req.Text))
	writeJSON(w, http.StatusAccepted, map[string]bool{"queued": true})
}

// gameClock renders a world time as a HH:MM in-game wall clock.
func gameClock(worldTime float64) string {
	secs := int64(worldTime) % 86400
	if secs < 0 {
		secs += 86400
	}
	return time.Unix(secs, 0).UTC().Format("15:04")
}
