package persist

import (
	"context"
	"fmt"
)

type JobRow struct {
	ID           int64
	Title        string
	BuildingID   string
	Wage         int64
	ShiftHours   float64
	MaxPositions int
	Description  string
}

type LawRow struct {
	ID            int64
	Name          string
	Description   string
	SentenceHours float64
}

type PetitionRow struct {
	ID           int64
	AuthorID     int64
	Category     string
	Description  string
	Status       string
	VotesFor     int
	VotesAgainst int
	OpenedAt     float64
}

type VoteRow struct {
	PetitionID int64
	ResidentID int64
	Choice     string
}

type StockRow struct {
	ItemType string
	Quantity int
}

// CivicRepo covers the slow-changing civic tables: jobs, laws, petitions,
// votes, and shop stock.
type CivicRepo struct {
	db *DB
}

func NewCivicRepo(db *DB) *CivicRepo {
	return &CivicRepo{db: db}
}

func (r *CivicRepo) LoadJobs(ctx context.Context) ([]JobRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, title, building_id, wage, shift_hours, max_positions, description
		 FROM jobs ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobRow
	for rows.Next() {
		var j JobRow
		if err := rows.Scan(&j.ID, &j.Title, &j.BuildingID, &j.Wage, &j.ShiftHours, &j.MaxPositions, &j.Description); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *CivicRepo) LoadLaws(ctx context.Context) ([]LawRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, name, description, sentence_hours FROM laws ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LawRow
	for rows.Next() {
		var l LawRow
		if err := rows.Scan(&l.ID, &l.Name, &l.Description, &l.SentenceHours); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *CivicRepo) LoadPetitions(ctx context.Context) ([]PetitionRow, []VoteRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, author_id, category, description, status, votes_for, votes_against, opened_at
		 FROM petitions ORDER BY id`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var petitions []PetitionRow
	for rows.Next() {
		var p PetitionRow
		if err := rows.Scan(&p.ID, &p.AuthorID, &p.Category, &p.Description, &p.Status, &p.VotesFor, &p.VotesAgainst, &p.OpenedAt); err != nil {
			return nil, nil, err
		}
		petitions = append(petitions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	vrows, err := r.db.Pool.Query(ctx,
		`SELECT petition_id, resident_id, choice FROM petition_votes`)
	if err != nil {
		return nil, nil, err
	}
	defer vrows.Close()

	var votes []VoteRow
	for vrows.Next() {
		var v VoteRow
		if err := vrows.Scan(&v.PetitionID, &v.ResidentID, &v.Choice); err != nil {
			return nil, nil, err
		}
		votes = append(votes, v)
	}
	return petitions, votes, vrows.Err()
}

// UpsertPetition writes a petition row. Ids are assigned by the game loop
// (writes are asynchronous), so the insert carries an explicit id and the op
// stays idempotent under at-least-once replay.
func (r *CivicRepo) UpsertPetition(ctx context.Context, p *PetitionRow) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO petitions (id, author_id, category, description, status, votes_for, votes_against, opened_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		     status = EXCLUDED.status,
		     votes_for = EXCLUDED.votes_for,
		     votes_against = EXCLUDED.votes_against`,
		p.ID, p.AuthorID, p.Category, p.Description, p.Status, p.VotesFor, p.VotesAgainst, p.OpenedAt)
	if err != nil {
		return fmt.Errorf("upsert petition: %w", err)
	}
	return nil
}

// InsertVote records a ballot. The primary key enforces one vote per
// resident per petition even if the in-memory check ever disagrees.
func (r *CivicRepo) InsertVote(ctx context.Context, v *VoteRow) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO petition_votes (petition_id, resident_id, choice)
		 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		v.PetitionID, v.ResidentID, v.Choice)
	return err
}

func (r *CivicRepo) LoadStock(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT item_type, quantity FROM shop_stock`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var s StockRow
		if err := rows.Scan(&s.ItemType, &s.Quantity); err != nil {
			return nil, err
		}
		out[s.ItemType] = s.Quantity
	}
	return out, rows.Err()
}

func (r *CivicRepo) SaveStock(ctx context.Context, stock map[string]int) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("stock begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for itemType, qty := range stock {
		if _, err := tx.Exec(ctx,
			`INSERT INTO shop_stock (item_type, quantity) VALUES ($1, $2)
			 ON CONFLICT (item_type) DO UPDATE SET quantity = EXCLUDED.quantity`,
			itemType, qty); err != nil {
			return fmt.Errorf("stock upsert: %w", err)
		}
	}
	return tx.Commit(ctx)
}
