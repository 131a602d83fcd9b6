package world

// PetitionStatus is open or closed; closed petitions keep their tallies.
type PetitionStatus string

const (
	PetitionOpen   PetitionStatus = "open"
	PetitionClosed PetitionStatus = "closed"
)

// Petition is a civic proposal. The repository row is authoritative; this is
// the in-memory mirror the tick worker reads and mutates.
type Petition struct {
	ID           int64
	Author       int64
	Category     string
	Description  string
	Status       PetitionStatus
	VotesFor     int
	VotesAgainst int
	OpenedAt     float64 // world time
}

// Job is a posted position. BuildingID is empty for outdoor jobs
// (groundskeeper), which accrue shift time anywhere outside.
type Job struct {
	ID           int64
	Title        string
	BuildingID   string
	Wage         int64
	ShiftHours   float64
	MaxPositions int
	Description  string
}

// Law names a violation kind and its sentence.
type Law struct {
	ID            int64
	Name          string // violation kind, e.g. "loitering"
	Description   string
	SentenceHours float64
}

// VoteChoice is a petition ballot.
type VoteChoice string

const (
	VoteFor     VoteChoice = "for"
	VoteAgainst VoteChoice = "against"
)
