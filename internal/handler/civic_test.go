package handler

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thecity/server/internal/protocol"
	"github.com/thecity/server/internal/world"
)

func TestListJobsReportsOpenings(t *testing.T) {
	env := newEnv(t)
	officer, _ := env.addResident(t, 1, 400, 250)
	officer.Job = &world.Employment{JobID: 1}
	_, sess := env.addResident(t, 2, 400, 280)

	HandleListJobs(sess, cmd(t, protocol.CListJobs, "r1", nil), env.deps)
	res := requireOK(t, sess)

	var data struct {
		Jobs []jobView `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &data))
	require.Len(t, data.Jobs, 2)
	// Ascending id order: police officer first.
	assert.Equal(t, int64(1), data.Jobs[0].ID)
	assert.Zero(t, data.Jobs[0].Openings) // single position taken
	assert.Equal(t, 2, data.Jobs[1].Openings)
}

func TestApplyAndQuitJob(t *testing.T) {
	env := newEnv(t)
	r, sess := env.addResident(t, 1, 400, 250)

	HandleApplyJob(sess, cmd(t, protocol.CApplyJob, "r1", map[string]any{"job_id": 2}), env.deps)
	requireOK(t, sess)
	require.NotNil(t, r.Job)
	assert.Equal(t, int64(2), r.Job.JobID)
	assert.True(t, env.fake.hasEvent("apply_job"))

	// One job at a time.
	HandleApplyJob(sess, cmd(t, protocol.CApplyJob, "r2", map[string]any{"job_id": 1}), env.deps)
	requireErr(t, sess, protocol.ReasonValidationFailed)

	HandleQuitJob(sess, cmd(t, protocol.CQuitJob, "r3", nil), env.deps)
	requireOK(t, sess)
	assert.Nil(t, r.Job)
	assert.True(t, env.fake.hasEvent("quit_job"))

	HandleQuitJob(sess, cmd(t, protocol.CQuitJob, "r4", nil), env.deps)
	requireErr(t, sess, protocol.ReasonNotEmployed)
}

func TestApplyJobNoOpenings(t *testing.T) {
	env := newEnv(t)
	holder, _ := env.addResident(t, 1, 400, 250)
	holder.Job = &world.Employment{JobID: 1} // police has one position
	_, sess := env.addResident(t, 2, 400, 280)

	HandleApplyJob(sess, cmd(t, protocol.CApplyJob, "r1", map[string]any{"job_id": 1}), env.deps)
	requireErr(t, sess, protocol.ReasonNoOpenings)

	HandleApplyJob(sess, cmd(t, protocol.CApplyJob, "r2", map[string]any{"job_id": 77}), env.deps)
	requireErr(t, sess, protocol.ReasonNotFound)
}

func TestWritePetitionAssignsSequentialIDs(t *testing.T) {
	env := newEnv(t)
	r, sess := env.addResident(t, 1, 400, 250)

	HandleWritePetition(sess, cmd(t, protocol.CWritePetition, "r1", map[string]any{
		"category": "infrastructure", "description": "More benches near the station.",
	}), env.deps)
	res := requireOK(t, sess)
	assert.Contains(t, string(res.Data), `"petition_id":1`)

	HandleWritePetition(sess, cmd(t, protocol.CWritePetition, "r2", map[string]any{
		"category": "economy", "description": "Lower bread prices.",
	}), env.deps)
	requireOK(t, sess)

	require.Len(t, env.world.Petitions, 2)
	p := env.world.Petitions[1]
	require.NotNil(t, p)
	assert.Equal(t, r.ID, p.Author)
	assert.Equal(t, world.PetitionOpen, p.Status)
	assert.InDelta(t, 100-2*env.cfg.Economy.PetitionEnergy, r.Needs.Energy, 1e-9)
	assert.Equal(t, []int64{1, 2}, env.fake.petitions)
}

func TestWritePetitionValidation(t *testing.T) {
	env := newEnv(t)
	r, sess := env.addResident(t, 1, 400, 250)

	HandleWritePetition(sess, cmd(t, protocol.CWritePetition, "r1", map[string]any{
		"category": "", "description": "no category",
	}), env.deps)
	requireErr(t, sess, protocol.ReasonValidationFailed)

	HandleWritePetition(sess, cmd(t, protocol.CWritePetition, "r2", map[string]any{
		"category": "other", "description": strings.Repeat("x", maxPetitionLength+1),
	}), env.deps)
	requireErr(t, sess, protocol.ReasonValidationFailed)

	r.Needs.Energy = env.cfg.Economy.PetitionEnergy - 1
	HandleWritePetition(sess, cmd(t, protocol.CWritePetition, "r3", map[string]any{
		"category": "other", "description": "too tired to write",
	}), env.deps)
	requireErr(t, sess, protocol.ReasonInsufficientEnergy)

	r.Needs.Energy = 100
	env.cfg.Economy.PetitionFee = 500
	HandleWritePetition(sess, cmd(t, protocol.CWritePetition, "r4", map[string]any{
		"category": "other", "description": "cannot afford the fee",
	}), env.deps)
	requireErr(t, sess, protocol.ReasonInsufficientWallet)

	assert.Empty(t, env.world.Petitions)
}

func openPetition(env *testEnv, author int64) *world.Petition {
	p := &world.Petition{
		ID:          env.world.NextPetitionID(),
		Author:      author,
		Category:    "infrastructure",
		Description: "Pave the market square.",
		Status:      world.PetitionOpen,
		OpenedAt:    testWorldTime,
	}
	env.world.Petitions[p.ID] = p
	return p
}

func TestVotePetition(t *testing.T) {
	env := newEnv(t)
	author, _ := env.addResident(t, 1, 400, 250)
	r, sess := env.addResident(t, 2, 400, 280)
	p := openPetition(env, author.ID)

	HandleVotePetition(sess, cmd(t, protocol.CVotePetition, "r1", map[string]any{
		"petition_id": p.ID, "choice": "for",
	}), env.deps)
	res := requireOK(t, sess)
	assert.Contains(t, string(res.Data), `"votes_for":1`)

	assert.Equal(t, 1, p.VotesFor)
	assert.Zero(t, p.VotesAgainst)
	assert.InDelta(t, 100-energyCostVote, r.Needs.Energy, 1e-9)
	require.Len(t, env.fake.votes, 1)
	assert.Equal(t, savedVote{p.ID, r.ID, world.VoteFor}, env.fake.votes[0])

	// One ballot per resident per petition.
	HandleVotePetition(sess, cmd(t, protocol.CVotePetition, "r2", map[string]any{
		"petition_id": p.ID, "choice": "against",
	}), env.deps)
	requireErr(t, sess, protocol.ReasonAlreadyVoted)
	assert.Equal(t, 1, p.VotesFor)
	assert.Zero(t, p.VotesAgainst)
}

func TestVotePetitionValidation(t *testing.T) {
	env := newEnv(t)
	author, _ := env.addResident(t, 1, 400, 250)
	_, sess := env.addResident(t, 2, 400, 280)
	p := openPetition(env, author.ID)

	HandleVotePetition(sess, cmd(t, protocol.CVotePetition, "r1", map[string]any{
		"petition_id": p.ID, "choice": "maybe",
	}), env.deps)
	requireErr(t, sess, protocol.ReasonValidationFailed)

	HandleVotePetition(sess, cmd(t, protocol.CVotePetition, "r2", map[string]any{
		"petition_id": int64(99), "choice": "for",
	}), env.deps)
	requireErr(t, sess, protocol.ReasonNotFound)

	p.Status = world.PetitionClosed
	HandleVotePetition(sess, cmd(t, protocol.CVotePetition, "r3", map[string]any{
		"petition_id": p.ID, "choice": "for",
	}), env.deps)
	requireErr(t, sess, protocol.ReasonValidationFailed)
}

func TestListPetitions(t *testing.T) {
	env := newEnv(t)
	author, _ := env.addResident(t, 1, 400, 250)
	_, sess := env.addResident(t, 2, 400, 280)
	openPetition(env, author.ID)
	p2 := openPetition(env, author.ID)
	p2.Status = world.PetitionClosed

	HandleListPetitions(sess, cmd(t, protocol.CListPetitions, "r1", nil), env.deps)
	res := requireOK(t, sess)

	var data struct {
		Petitions []petitionView `json:"petitions"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &data))
	require.Len(t, data.Petitions, 2)
	assert.Equal(t, int64(1), data.Petitions[0].ID)
	assert.Equal(t, author.Passport, data.Petitions[0].Author)
	assert.Equal(t, "closed", data.Petitions[1].Status)
}
