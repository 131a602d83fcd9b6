package handler

import (
	"sort"
	"strings"

	"github.com/thecity/server/internal/net"
	"github.com/thecity/server/internal/protocol"
	"github.com/thecity/server/internal/world"
)

const maxPetitionLength = 2000

// jobView is the wire shape for job listings.
type jobView struct {
	ID           int64   `json:"id"`
	Title        string  `json:"title"`
	BuildingID   string  `json:"building_id,omitempty"`
	Wage         int64   `json:"wage"`
	ShiftHours   float64 `json:"shift_hours"`
	MaxPositions int     `json:"max_positions"`
	Openings     int     `json:"openings"`
	Description  string  `json:"description"`
}

// HandleListJobs returns the job board with live opening counts.
func HandleListJobs(sess *net.Session, req *protocol.Request, d *Deps) {
	r := actor(sess, req, d, actorGate{allowAsleep: true, allowImprisoned: true})
	if r == nil {
		return
	}
	views := make([]jobView, 0, len(d.World.Jobs))
	for _, id := range sortedJobIDs(d.World) {
		j := d.World.Jobs[id]
		openings := j.MaxPositions - d.World.EmployedCount(j.ID)
		if openings < 0 {
			openings = 0
		}
		views = append(views, jobView{
			ID: j.ID, Title: j.Title, BuildingID: j.BuildingID,
			Wage: j.Wage, ShiftHours: j.ShiftHours,
			MaxPositions: j.MaxPositions, Openings: openings,
			Description: j.Description,
		})
	}
	ok(sess, req.RequestID, map[string]any{"jobs": views})
}

func sortedJobIDs(s *world.State) []int64 {
	ids := make([]int64, 0, len(s.Jobs))
	for id := range s.Jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// HandleApplyJob takes an open position.
func HandleApplyJob(sess *net.Session, req *protocol.Request, d *Deps) {
	var msg protocol.ApplyJobMsg
	if !decode(sess, req, &msg) {
		return
	}
	r := actor(sess, req, d, actorGate{})
	if r == nil {
		return
	}
	if r.Job != nil {
		fail(sess, req.RequestID, protocol.ReasonValidationFailed)
		return
	}
	j := d.World.Jobs[msg.JobID]
	if j == nil {
		fail(sess, req.RequestID, protocol.ReasonNotFound)
		return
	}
	if d.World.EmployedCount(j.ID) >= j.MaxPositions {
		fail(sess, req.RequestID, protocol.ReasonNoOpenings)
		return
	}

	r.Job = &world.Employment{JobID: j.ID}
	r.Dirty = true
	d.Persist.SaveResident(r)
	event(d, r, "apply_job", map[string]any{"job_id": j.ID, "title": j.Title})
	ok(sess, req.RequestID, map[string]any{"job_id": j.ID})
}

// HandleQuitJob resigns. Accrued shift time is forfeited.
func HandleQuitJob(sess *net.Session, req *protocol.Request, d *Deps) {
	r := actor(sess, req, d, actorGate{})
	if r == nil {
		return
	}
	if r.Job == nil {
		fail(sess, req.RequestID, protocol.ReasonNotEmployed)
		return
	}
	jobID := r.Job.JobID
	r.Job = nil
	r.Dirty = true
	d.Persist.SaveResident(r)
	event(d, r, "quit_job", map[string]any{"job_id": jobID})
	ok(sess, req.RequestID, nil)
}

// HandleWritePetition opens a civic petition.
func HandleWritePetition(sess *net.Session, req *protocol.Request, d *Deps) {
	var msg protocol.WritePetitionMsg
	if !decode(sess, req, &msg) {
		return
	}
	r := actor(sess, req, d, actorGate{})
	if r == nil {
		return
	}

	category := strings.TrimSpace(msg.Category)
	description := strings.TrimSpace(msg.Description)
	if category == "" || description == "" || len(description) > maxPetitionLength {
		fail(sess, req.RequestID, protocol.ReasonValidationFailed)
		return
	}
	if r.Needs.Energy < d.Config.Economy.PetitionEnergy {
		fail(sess, req.RequestID, protocol.ReasonInsufficientEnergy)
		return
	}
	if r.Wallet < d.Config.Economy.PetitionFee {
		fail(sess, req.RequestID, protocol.ReasonInsufficientWallet)
		return
	}

	r.Needs.Energy -= d.Config.Economy.PetitionEnergy
	r.Needs.Clamp()
	r.Wallet -= d.Config.Economy.PetitionFee
	r.Dirty = true

	p := &world.Petition{
		ID:          d.World.NextPetitionID(),
		Author:      r.ID,
		Category:    category,
		Description: description,
		Status:      world.PetitionOpen,
		OpenedAt:    d.World.Clock.Now(),
	}
	d.World.Petitions[p.ID] = p

	d.Persist.SaveResident(r)
	d.Persist.SavePetition(p)
	event(d, r, "write_petition", map[string]any{
		"petition_id": p.ID,
		"category":    category,
	})
	ok(sess, req.RequestID, map[string]any{"petition_id": p.ID})
}

// HandleVotePetition casts a ballot on an open petition.
func HandleVotePetition(sess *net.Session, req *protocol.Request, d *Deps) {
	var msg protocol.VotePetitionMsg
	if !decode(sess, req, &msg) {
		return
	}
	r := actor(sess, req, d, actorGate{})
	if r == nil {
		return
	}

	var choice world.VoteChoice
	switch msg.Choice {
	case "for":
		choice = world.VoteFor
	case "against":
		choice = world.VoteAgainst
	default:
		fail(sess, req.RequestID, protocol.ReasonValidationFailed)
		return
	}
	p := d.World.Petitions[msg.PetitionID]
	if p == nil {
		fail(sess, req.RequestID, protocol.ReasonNotFound)
		return
	}
	if p.Status != world.PetitionOpen {
		fail(sess, req.RequestID, protocol.ReasonValidationFailed)
		return
	}
	if d.World.HasVoted(p.ID, r.ID) {
		fail(sess, req.RequestID, protocol.ReasonAlreadyVoted)
		return
	}
	if !debitEnergy(sess, req, r, energyCostVote) {
		return
	}

	d.World.RecordVote(p, r.ID, choice)
	d.Persist.SaveResident(r)
	d.Persist.SavePetition(p)
	d.Persist.SaveVote(p.ID, r.ID, choice)
	event(d, r, "vote_petition", map[string]any{
		"petition_id": p.ID,
		"choice":      string(choice),
	})
	ok(sess, req.RequestID, map[string]any{
		"votes_for":     p.VotesFor,
		"votes_against": p.VotesAgainst,
	})
}

// petitionView is the wire shape for petition listings.
type petitionView struct {
	ID           int64   `json:"id"`
	Author       string  `json:"author"`
	Category     string  `json:"category"`
	Description  string  `json:"description"`
	Status       string  `json:"status"`
	VotesFor     int     `json:"votes_for"`
	VotesAgainst int     `json:"votes_against"`
	OpenedAt     float64 `json:"opened_at"`
}

// HandleListPetitions returns all petitions in ascending id order.
func HandleListPetitions(sess *net.Session, req *protocol.Request, d *Deps) {
	r := actor(sess, req, d, actorGate{allowAsleep: true, allowImprisoned: true})
	if r == nil {
		return
	}
	ids := make([]int64, 0, len(d.World.Petitions))
	for id := range d.World.Petitions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	views := make([]petitionView, 0, len(ids))
	for _, id := range ids {
		p := d.World.Petitions[id]
		author := ""
		if a := d.World.Resident(p.Author); a != nil {
			author = a.Passport
		}
		views = append(views, petitionView{
			ID: p.ID, Author: author, Category: p.Category,
			Description: p.Description, Status: string(p.Status),
			VotesFor: p.VotesFor, VotesAgainst: p.VotesAgainst,
			OpenedAt: p.OpenedAt,
		})
	}
	ok(sess, req.RequestID, map[string]any{"petitions": views})
}
