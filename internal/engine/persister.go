package engine

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/thecity/server/internal/persist"
	"github.com/thecity/server/internal/world"
)

// Repos bundles the repositories the engine persists through. Nil fields are
// tolerated so tests can run the loop without a database.
type Repos struct {
	Residents *persist.ResidentRepo
	Civic     *persist.CivicRepo
	Events    *persist.EventRepo
}

// loopPersister bridges handler mutations onto the async write queue. Every
// method runs on the tick goroutine: it snapshots the row immediately, so the
// queued closure carries values, never live world pointers.
type loopPersister struct {
	writer *persist.Writer
	repos  Repos
	clock  func() float64
	onFull func(desc string)
	log    *zap.Logger
}

func (p *loopPersister) enqueue(desc string, do func(ctx context.Context) error) {
	if p.writer == nil {
		return
	}
	if !p.writer.Enqueue(persist.Op{Desc: desc, Do: do}) && p.onFull != nil {
		p.onFull(desc)
	}
}

func residentRow(r *world.Resident) *persist.ResidentRow {
	row := &persist.ResidentRow{
		ID:              r.ID,
		Passport:        r.Passport,
		Name:            r.PreferredName,
		Type:            string(r.Type),
		Status:          string(r.Status),
		X:               r.X,
		Y:               r.Y,
		Facing:          r.Facing,
		BuildingID:      r.BuildingID,
		Hunger:          r.Needs.Hunger,
		Thirst:          r.Needs.Thirst,
		Energy:          r.Needs.Energy,
		Bladder:         r.Needs.Bladder,
		Health:          r.Needs.Health,
		Social:          r.Needs.Social,
		Wallet:          r.Wallet,
		Violations:      append([]string(nil), r.Violations...),
		Wanted:          r.Wanted,
		ImprisonedUntil: r.ImprisonedUntil,
		LastUBI:         r.LastUBICollection,
		FeedbackToken:   r.FeedbackToken,
		ArrivedAt:       r.ArrivedAt,
		DiedAt:          r.DiedAt,
		DeathCause:      r.DeathCause,
	}
	if r.Job != nil {
		row.JobID = r.Job.JobID
		row.ShiftElapsed = r.Job.ShiftElapsed
	}
	return row
}

func (p *loopPersister) SaveResident(r *world.Resident) {
	if p.repos.Residents == nil {
		return
	}
	row := residentRow(r)
	p.enqueue("resident "+r.Passport, func(ctx context.Context) error {
		return p.repos.Residents.Save(ctx, row)
	})
}

func (p *loopPersister) SaveInventory(r *world.Resident) {
	if p.repos.Residents == nil {
		return
	}
	items := make([]persist.ItemRow, 0, len(r.Inv.Items))
	for _, it := range r.Inv.Items {
		items = append(items, persist.ItemRow{
			ID:            it.ID,
			ResidentID:    r.ID,
			ItemType:      it.Type,
			Quantity:      it.Quantity,
			RemainingUses: it.RemainingUses,
		})
	}
	id := r.ID
	p.enqueue("inventory "+r.Passport, func(ctx context.Context) error {
		return p.repos.Residents.SaveItems(ctx, id, items)
	})
}

func (p *loopPersister) SavePetition(pet *world.Petition) {
	if p.repos.Civic == nil {
		return
	}
	row := &persist.PetitionRow{
		ID:           pet.ID,
		AuthorID:     pet.Author,
		Category:     pet.Category,
		Description:  pet.Description,
		Status:       string(pet.Status),
		VotesFor:     pet.VotesFor,
		VotesAgainst: pet.VotesAgainst,
		OpenedAt:     pet.OpenedAt,
	}
	p.enqueue("petition", func(ctx context.Context) error {
		return p.repos.Civic.UpsertPetition(ctx, row)
	})
}

func (p *loopPersister) SaveVote(petitionID, residentID int64, choice world.VoteChoice) {
	if p.repos.Civic == nil {
		return
	}
	row := &persist.VoteRow{PetitionID: petitionID, ResidentID: residentID, Choice: string(choice)}
	p.enqueue("vote", func(ctx context.Context) error {
		return p.repos.Civic.InsertVote(ctx, row)
	})
}

func (p *loopPersister) SaveStock(stock map[string]int) {
	if p.repos.Civic == nil {
		return
	}
	snap := make(map[string]int, len(stock))
	for k, v := range stock {
		snap[k] = v
	}
	p.enqueue("stock", func(ctx context.Context) error {
		return p.repos.Civic.SaveStock(ctx, snap)
	})
}

func (p *loopPersister) AppendEvent(residentID int64, kind string, payload any) {
	if p.repos.Events == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Error("event payload marshal failed", zap.String("kind", kind), zap.Error(err))
		data = json.RawMessage(`{}`)
	}
	row := &persist.EventRow{
		ResidentID: residentID,
		Kind:       kind,
		WorldTime:  p.clock(),
		Payload:    data,
	}
	p.enqueue("event "+kind, func(ctx context.Context) error {
		return p.repos.Events.Append(ctx, row)
	})
}

func (p *loopPersister) SaveFeedback(residentID int64, rating int, text string) {
	if p.repos.Residents == nil {
		return
	}
	p.enqueue("feedback", func(ctx context.Context) error {
		return p.repos.Residents.InsertFeedback(ctx, residentID, rating, text)
	})
}
