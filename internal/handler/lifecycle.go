package handler

import (
	"github.com/google/uuid"

	"github.com/thecity/server/internal/net"
	"github.com/thecity/server/internal/protocol"
	"github.com/thecity/server/internal/world"
)

// publicRecord is what inspect reveals about another resident. Needs and
// wallet stay private.
type publicRecord struct {
	Passport   string   `json:"passport"`
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Status     string   `json:"status"`
	Wanted     bool     `json:"wanted"`
	Violations []string `json:"violations,omitempty"`
	JobTitle   string   `json:"job_title,omitempty"`
	ArrivedAt  float64  `json:"arrived_at"`
}

// HandleInspect returns another resident's public record.
func HandleInspect(sess *net.Session, req *protocol.Request, d *Deps) {
	var msg protocol.InspectMsg
	if !decode(sess, req, &msg) {
		return
	}
	r := actor(sess, req, d, actorGate{allowAsleep: true, allowImprisoned: true})
	if r == nil {
		return
	}
	target := d.World.ByPassport(msg.Target)
	if target == nil {
		fail(sess, req.RequestID, protocol.ReasonUnknownResident)
		return
	}

	record := publicRecord{
		Passport:   target.Passport,
		Name:       target.PreferredName,
		Type:       string(target.Type),
		Status:     string(target.Status),
		Wanted:     target.Wanted,
		Violations: target.Violations,
		ArrivedAt:  target.ArrivedAt,
	}
	if target.Job != nil {
		if j := d.World.Jobs[target.Job.JobID]; j != nil {
			record.JobTitle = j.Title
		}
	}

	sess.Send(net.KindCritical, &protocol.InspectResultMsg{
		Type:      protocol.SInspectResult,
		RequestID: req.RequestID,
		Record:    mustJSON(record),
	})
	ok(sess, req.RequestID, nil)
}

// HandleDepart boards the train out of the city. Terminal: the resident
// entity leaves the active sets, the identity row persists, and the reply
// carries a feedback token for the exit survey.
func HandleDepart(sess *net.Session, req *protocol.Request, d *Deps) {
	r := actor(sess, req, d, actorGate{})
	if r == nil {
		return
	}

	r.FeedbackToken = uuid.NewString()
	d.World.Retire(r, world.StatusDeparted)
	r.Dirty = true

	d.Persist.SaveResident(r)
	event(d, r, "depart", map[string]any{"passport": r.Passport})
	ok(sess, req.RequestID, map[string]any{"feedback_token": r.FeedbackToken})
}

// HandleSubmitFeedback stores an exit-survey rating. Accepted from living
// residents and, with the issued token, from ones who just departed.
func HandleSubmitFeedback(sess *net.Session, req *protocol.Request, d *Deps) {
	var msg protocol.SubmitFeedbackMsg
	if !decode(sess, req, &msg) {
		return
	}
	r := d.World.Resident(sess.ResidentID)
	if r == nil {
		fail(sess, req.RequestID, protocol.ReasonUnknownResident)
		return
	}
	if r.Status == world.StatusDeparted && msg.Token != r.FeedbackToken {
		fail(sess, req.RequestID, protocol.ReasonValidationFailed)
		return
	}
	if r.Status == world.StatusDeceased {
		fail(sess, req.RequestID, protocol.ReasonAlreadyDead)
		return
	}
	if msg.Rating < 1 || msg.Rating > 5 || len(msg.Text) > maxPetitionLength {
		fail(sess, req.RequestID, protocol.ReasonValidationFailed)
		return
	}

	d.Persist.SaveFeedback(r.ID, msg.Rating, msg.Text)
	ok(sess, req.RequestID, nil)
}

// HandleHeartbeat keeps idle sessions alive. Spectators may send it too.
func HandleHeartbeat(sess *net.Session, req *protocol.Request, d *Deps) {
	ok(sess, req.RequestID, nil)
}
