// Package handler implements the action dispatcher: every inbound command is
// validated against world invariants and applied under the single-writer
// discipline of the game loop. Each command emits exactly one action_result.
package handler

import (
	"github.com/thecity/server/internal/config"
	"github.com/thecity/server/internal/net"
	"github.com/thecity/server/internal/protocol"
	"github.com/thecity/server/internal/scripting"
	"github.com/thecity/server/internal/world"
	"go.uber.org/zap"
)

// Persister is the asynchronous write surface handlers flush mutations
// through. Implemented by the engine over the persistence write queue; every
// call captures a snapshot on the loop goroutine and returns immediately.
type Persister interface {
	SaveResident(r *world.Resident)
	SaveInventory(r *world.Resident)
	SavePetition(p *world.Petition)
	SaveVote(petitionID, residentID int64, choice world.VoteChoice)
	SaveStock(stock map[string]int)
	AppendEvent(residentID int64, kind string, payload any)
	SaveFeedback(residentID int64, rating int, text string)
}

// Deps holds shared dependencies injected into all command handlers.
type Deps struct {
	Config  *config.Config
	Log     *zap.Logger
	World   *world.State
	Scripts *scripting.Engine
	Persist Persister
}

// Fixed energy debits for deliberate actions. Movement cost is charged by
// the position phase per tile travelled.
const (
	energyCostSpeak  = 0.5
	energyCostEat    = 0.3
	energyCostDrink  = 0.2
	energyCostToilet = 0.3
	energyCostVote   = 0.5
	energyCostForage = 1.0
)

// RegisterAll registers all command handlers into the registry.
func RegisterAll(reg *protocol.Registry, deps *Deps) {
	resident := []protocol.SessionState{protocol.StateResident}

	type entry struct {
		tag string
		fn  func(*net.Session, *protocol.Request, *Deps)
	}
	commands := []entry{
		{protocol.CMove, HandleMove},
		{protocol.CMoveTo, HandleMoveTo},
		{protocol.CStop, HandleStop},
		{protocol.CFace, HandleFace},
		{protocol.CSpeak, HandleSpeak},
		{protocol.CEat, HandleEat},
		{protocol.CDrink, HandleDrink},
		{protocol.CConsume, HandleConsume},
		{protocol.CSleep, HandleSleep},
		{protocol.CWake, HandleWake},
		{protocol.CUseToilet, HandleUseToilet},
		{protocol.CEnterBuilding, HandleEnterBuilding},
		{protocol.CExitBuilding, HandleExitBuilding},
		{protocol.CBuy, HandleBuy},
		{protocol.CCollectUBI, HandleCollectUBI},
		{protocol.CInspect, HandleInspect},
		{protocol.CTrade, HandleTrade},
		{protocol.CGive, HandleGive},
		{protocol.CApplyJob, HandleApplyJob},
		{protocol.CQuitJob, HandleQuitJob},
		{protocol.CWritePetition, HandleWritePetition},
		{protocol.CVotePetition, HandleVotePetition},
		{protocol.CCollectBody, HandleCollectBody},
		{protocol.CProcessBody, HandleProcessBody},
		{protocol.CDepart, HandleDepart},
		{protocol.CListJobs, HandleListJobs},
		{protocol.CListPetitions, HandleListPetitions},
		{protocol.CArrest, HandleArrest},
		{protocol.CBookSuspect, HandleBookSuspect},
		{protocol.CForage, HandleForage},
		{protocol.CSubmitFeedback, HandleSubmitFeedback},
	}
	for _, c := range commands {
		fn := c.fn
		reg.Register(c.tag, resident, func(sess any, req *protocol.Request) {
			fn(sess.(*net.Session), req, deps)
		})
	}

	// Heartbeat is the one command spectators may send.
	reg.Register(protocol.CHeartbeat,
		[]protocol.SessionState{protocol.StateResident, protocol.StateSpectator},
		func(sess any, req *protocol.Request) {
			HandleHeartbeat(sess.(*net.Session), req, deps)
		},
	)
}
