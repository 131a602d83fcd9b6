package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var ErrNotFound = errors.New("persist: not found")

type ResidentRow struct {
	ID              int64
	Passport        string
	Name            string
	Type            string
	Status          string
	X               float64
	Y               float64
	Facing          float64
	BuildingID      string
	Hunger          float64
	Thirst          float64
	Energy          float64
	Bladder         float64
	Health          float64
	Social          float64
	Wallet          int64
	JobID           int64
	ShiftElapsed    float64
	Violations      []string
	Wanted          bool
	ImprisonedUntil float64
	LastUBI         float64
	FeedbackToken   string
	ArrivedAt       float64
	DiedAt          float64
	DeathCause      string
}

type ItemRow struct {
	ID            string
	ResidentID    int64
	ItemType      string
	Quantity      int
	RemainingUses int
}

type ResidentRepo struct {
	db *DB
}

func NewResidentRepo(db *DB) *ResidentRepo {
	return &ResidentRepo{db: db}
}

const residentColumns = `id, passport, name, type, status, x, y, facing, building_id,
       hunger, thirst, energy, bladder, health, social,
       wallet, job_id, shift_elapsed, violations, wanted, imprisoned_until,
       last_ubi, feedback_token, arrived_at, died_at, death_cause`

func scanResident(row pgx.Row) (*ResidentRow, error) {
	var r ResidentRow
	err := row.Scan(
		&r.ID, &r.Passport, &r.Name, &r.Type, &r.Status, &r.X, &r.Y, &r.Facing, &r.BuildingID,
		&r.Hunger, &r.Thirst, &r.Energy, &r.Bladder, &r.Health, &r.Social,
		&r.Wallet, &r.JobID, &r.ShiftElapsed, &r.Violations, &r.Wanted, &r.ImprisonedUntil,
		&r.LastUBI, &r.FeedbackToken, &r.ArrivedAt, &r.DiedAt, &r.DeathCause,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

// LoadActive returns every resident that should be rehydrated into the world
// at boot: queued, alive, and recently deceased (bodies not yet processed).
func (r *ResidentRepo) LoadActive(ctx context.Context) ([]ResidentRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+residentColumns+`
		 FROM residents
		 WHERE status IN ('QUEUED', 'ALIVE', 'DECEASED')
		 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ResidentRow
	for rows.Next() {
		rr, err := scanResident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rr)
	}
	return out, rows.Err()
}

func (r *ResidentRepo) FindByPassport(ctx context.Context, passport string) (*ResidentRow, error) {
	return scanResident(r.db.Pool.QueryRow(ctx,
		`SELECT `+residentColumns+` FROM residents WHERE passport = $1`, passport))
}

func (r *ResidentRepo) FindByID(ctx context.Context, id int64) (*ResidentRow, error) {
	return scanResident(r.db.Pool.QueryRow(ctx,
		`SELECT `+residentColumns+` FROM residents WHERE id = $1`, id))
}

// Leaderboard returns the wealthiest living residents, richest first.
func (r *ResidentRepo) Leaderboard(ctx context.Context, limit int) ([]ResidentRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+residentColumns+`
		 FROM residents
		 WHERE status = 'ALIVE'
		 ORDER BY wallet DESC, id ASC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ResidentRow
	for rows.Next() {
		rr, err := scanResident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rr)
	}
	return out, rows.Err()
}

// Create inserts a fresh registration and returns the assigned id.
func (r *ResidentRepo) Create(ctx context.Context, passport, name, residentType string) (int64, error) {
	var id int64
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO residents (passport, name, type) VALUES ($1, $2, $3) RETURNING id`,
		passport, name, residentType,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create resident: %w", err)
	}
	return id, nil
}

// Save writes a full resident snapshot.
func (r *ResidentRepo) Save(ctx context.Context, row *ResidentRow) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE residents SET
		    name = $2, status = $3, x = $4, y = $5, facing = $6, building_id = $7,
		    hunger = $8, thirst = $9, energy = $10, bladder = $11, health = $12, social = $13,
		    wallet = $14, job_id = $15, shift_elapsed = $16,
		    violations = $17, wanted = $18, imprisoned_until = $19,
		    last_ubi = $20, feedback_token = $21, arrived_at = $22, died_at = $23,
		    death_cause = $24, updated_at = now()
		 WHERE id = $1`,
		row.ID,
		row.Name, row.Status, row.X, row.Y, row.Facing, row.BuildingID,
		row.Hunger, row.Thirst, row.Energy, row.Bladder, row.Health, row.Social,
		row.Wallet, row.JobID, row.ShiftElapsed,
		row.Violations, row.Wanted, row.ImprisonedUntil,
		row.LastUBI, row.FeedbackToken, row.ArrivedAt, row.DiedAt,
		row.DeathCause,
	)
	return err
}

// LoadItems returns all inventory rows grouped by resident.
func (r *ResidentRepo) LoadItems(ctx context.Context) (map[int64][]ItemRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, resident_id, item_type, quantity, remaining_uses FROM resident_items`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]ItemRow)
	for rows.Next() {
		var it ItemRow
		if err := rows.Scan(&it.ID, &it.ResidentID, &it.ItemType, &it.Quantity, &it.RemainingUses); err != nil {
			return nil, err
		}
		out[it.ResidentID] = append(out[it.ResidentID], it)
	}
	return out, rows.Err()
}

// SaveItems replaces a resident's inventory rows in one transaction.
func (r *ResidentRepo) SaveItems(ctx context.Context, residentID int64, items []ItemRow) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("items begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM resident_items WHERE resident_id = $1`, residentID); err != nil {
		return fmt.Errorf("items clear: %w", err)
	}
	for _, it := range items {
		if _, err := tx.Exec(ctx,
			`INSERT INTO resident_items (id, resident_id, item_type, quantity, remaining_uses)
			 VALUES ($1, $2, $3, $4, $5)`,
			it.ID, residentID, it.ItemType, it.Quantity, it.RemainingUses); err != nil {
			return fmt.Errorf("items insert: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// LinkGitHub records the GitHub account bound to a resident.
func (r *ResidentRepo) LinkGitHub(ctx context.Context, residentID int64, githubUser string) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO github_links (resident_id, github_user) VALUES ($1, $2)
		 ON CONFLICT (resident_id) DO UPDATE SET github_user = EXCLUDED.github_user`,
		residentID, githubUser)
	return err
}

// AddReferral records that one resident referred another. Duplicate pairs
// are ignored.
func (r *ResidentRepo) AddReferral(ctx context.Context, referrerID, referredID int64) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO referrals (referrer_id, referred_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		referrerID, referredID)
	return err
}

// InsertFeedback stores an exit-survey submission.
func (r *ResidentRepo) InsertFeedback(ctx context.Context, residentID int64, rating int, text string) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO feedback (resident_id, rating, text) VALUES ($1, $2, $3)`,
		residentID, rating, text)
	return err
}
