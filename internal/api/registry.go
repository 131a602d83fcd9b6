package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/thecity/server/internal/token"
	"github.com/thecity/server/internal/world"
)

type registerRequest struct {
	Name       string           `json:"name"`
	Origin     string           `json:"origin"`
	Type       string           `json:"type"` // AGENT (default) or HUMAN
	Appearance world.Appearance `json:"appearance"`
	GitHubUser string           `json:"github_user"`
	ReferredBy string           `json:"referred_by"` // passport of the referrer
}

type registerResponse struct {
	ResidentID  int64   `json:"resident_id"`
	Passport    string  `json:"passport"`
	Token       string  `json:"token"`
	TrainIn     float64 `json:"train_in_seconds"`
	TrainQueue  int     `json:"train_queue"`
	GatewayAddr string  `json:"gateway"`
}

// handleRegister issues a passport and credential and queues the newcomer for
// the next train. The resident row is created immediately so the passport is
// reserved even if the server restarts before they arrive.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed registration")
		return
	}
	name := strings.TrimSpace(req.Name)
	origin := strings.TrimSpace(req.Origin)
	switch {
	case name == "":
		writeError(w, http.StatusBadRequest, "name required")
		return
	case len(name) > s.cfg.Registry.MaxNameLength:
		writeError(w, http.StatusBadRequest, "name too long")
		return
	case origin == "":
		writeError(w, http.StatusBadRequest, "origin required")
		return
	}

	residentType := world.TypeAgent
	switch strings.ToUpper(strings.TrimSpace(req.Type)) {
	case "", string(world.TypeAgent):
	case string(world.TypeHuman):
		if !s.cfg.Registry.AllowHumans {
			writeError(w, http.StatusForbidden, "human registration is closed")
			return
		}
		residentType = world.TypeHuman
	default:
		writeError(w, http.StatusBadRequest, "unknown resident type")
		return
	}

	passport, err := token.NewPassport(s.cfg.Registry.PassportPrefix)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "passport mint failed")
		return
	}

	ctx := r.Context()
	id, err := s.residents.Create(ctx, passport, name, string(residentType))
	if err != nil {
		s.log.Error("registration insert failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	if u := strings.TrimSpace(req.GitHubUser); u != "" {
		if err := s.residents.LinkGitHub(ctx, id, u); err != nil {
			s.log.Warn("github link failed", zap.Int64("resident", id), zap.Error(err))
		}
	}
	if ref := strings.TrimSpace(req.ReferredBy); ref != "" {
		if row, err := s.residents.FindByPassport(ctx, ref); err == nil {
			if err := s.residents.AddReferral(ctx, row.ID, id); err != nil {
				s.log.Warn("referral insert failed", zap.Int64("resident", id), zap.Error(err))
			}
		}
	}

	credential, err := s.auth.Issue(id, passport, string(residentType))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "credential mint failed")
		return
	}

	newcomer := &world.Resident{
		ID:            id,
		Passport:      passport,
		FullName:      name,
		PreferredName: preferredName(name),
		Origin:        origin,
		Type:          residentType,
		Appearance:    req.Appearance,
		Status:        world.StatusQueued,
		Needs: world.Needs{
			Hunger: 100, Thirst: 100, Energy: 100, Health: 100, Social: 100,
		},
		Inv: world.NewInventory(),
	}
	if !s.world.EnqueueArrival(newcomer) {
		// The row exists; they will board after the next boot instead.
		s.log.Warn("arrival queue full", zap.String("passport", passport))
	}

	snap := s.world.Status()
	s.log.Info("resident registered",
		zap.Int64("id", id),
		zap.String("passport", passport),
		zap.String("name", name),
		zap.String("origin", origin))
	writeJSON(w, http.StatusCreated, registerResponse{
		ResidentID:  id,
		Passport:    passport,
		Token:       credential,
		TrainIn:     snap.NextTrainIn,
		TrainQueue:  snap.TrainQueue + 1,
		GatewayAddr: s.cfg.Network.BindAddress,
	})
}

// preferredName is the short form residents are addressed by in the world:
// the first whitespace-separated token of the registered name.
func preferredName(full string) string {
	if fields := strings.Fields(full); len(fields) > 0 {
		return fields[0]
	}
	return full
}
