package world

import "github.com/thecity/server/internal/tilemap"

// ResidentType distinguishes bot-driven and human-driven residents.
type ResidentType string

const (
	TypeAgent ResidentType = "AGENT"
	TypeHuman ResidentType = "HUMAN"
)

// Status is the lifecycle state of a resident.
type Status string

const (
	StatusQueued   Status = "QUEUED" // registered, waiting for the train
	StatusAlive    Status = "ALIVE"
	StatusDeceased Status = "DECEASED"
	StatusDeparted Status = "DEPARTED"
)

// SpeedIntent is the desired movement speed.
type SpeedIntent int

const (
	SpeedStop SpeedIntent = iota
	SpeedWalk
	SpeedRun
)

// Appearance holds the client-rendered look indices.
type Appearance struct {
	Skin  int `json:"skin"`
	Hair  int `json:"hair"`
	Build int `json:"build"`
	Eye   int `json:"eye"`
}

// Needs are the six physiological scalars, each clamped to [0, 100].
// Bladder runs the other way: 0 is empty, 100 is desperate.
type Needs struct {
	Hunger  float64 `json:"hunger"`
	Thirst  float64 `json:"thirst"`
	Energy  float64 `json:"energy"`
	Bladder float64 `json:"bladder"`
	Health  float64 `json:"health"`
	Social  float64 `json:"social"`
}

// Clamp forces every need back into [0, 100].
func (n *Needs) Clamp() {
	n.Hunger = clamp01(n.Hunger)
	n.Thirst = clamp01(n.Thirst)
	n.Energy = clamp01(n.Energy)
	n.Bladder = clamp01(n.Bladder)
	n.Health = clamp01(n.Health)
	n.Social = clamp01(n.Social)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Employment tracks the resident's job binding. ShiftElapsed accrues in
// game-seconds only while the resident is at the workplace and awake; it
// pauses (never resets) when they leave.
type Employment struct {
	JobID        int64
	OnShift      bool
	ShiftElapsed float64
}

// SpeechVolume tags how far a speech act carries.
type SpeechVolume string

const (
	VolumeWhisper SpeechVolume = "whisper"
	VolumeNormal  SpeechVolume = "normal"
	VolumeShout   SpeechVolume = "shout"
)

// SpeechAct is one utterance, buffered for the perception window in which it
// was spoken. To is zero for undirected speech.
type SpeechAct struct {
	Speaker     int64
	SpeakerName string
	Text        string
	Volume      SpeechVolume
	To          int64
	X, Y        float64
	WorldTime   float64
}

// Notification is a one-shot message consumed by the next perception tick.
type Notification struct {
	Kind      string  `json:"kind"`
	Text      string  `json:"text"`
	WorldTime float64 `json:"world_time"`
}

// Resident is a living participant. Owned exclusively by State; sessions and
// subsystems hold the id and re-resolve on each use. Mutated only by the tick
// worker.
type Resident struct {
	ID            int64
	Passport      string
	FullName      string
	PreferredName string
	Origin        string
	Type          ResidentType
	Appearance    Appearance
	Status        Status

	// Spatial. Position in pixels, facing in degrees.
	X, Y       float64
	Facing     float64
	VelX, VelY float64
	Speed      SpeedIntent
	BuildingID string // empty = outside
	Sleeping   bool

	Needs  Needs
	Wallet int64
	Inv    *Inventory

	Job *Employment // nil = unemployed

	// Law state.
	Violations      []string
	Wanted          bool
	ImprisonedUntil float64 // world time, 0 = not imprisoned
	CarryingSuspect int64   // resident id being carried by this police officer
	CarryingBody    int64   // body id being carried

	// Movement intent, consumed by the position phase.
	MoveDirX, MoveDirY float64
	Waypoints          []tilemap.Waypoint

	// Transient per-tick buffers.
	Notifications []Notification
	FeedbackToken string

	// UBI bookkeeping. Negative sentinel lets a fresh resident collect at once.
	LastUBICollection float64

	// Conversation: a directed exchange keeps the pair "in conversation"
	// until ConvExpires (world time).
	ConvPartner int64
	ConvExpires float64

	// Loitering detector anchor.
	AnchorX, AnchorY float64
	AnchorTime       float64

	// Event detector state: per-source world time of the last pain message,
	// and which needs are currently below the critical threshold.
	LastPain    map[string]float64
	CriticalNow map[string]bool

	ArrivedAt  float64 // world time the resident stepped off the train
	DiedAt     float64 // world time of death, 0 while alive
	DeathCause string  // starvation | dehydration, empty while alive

	// Session binding. Zero when no socket is attached; the resident entity
	// persists independently of sessions.
	SessionID uint64

	// Dirty marks persisted state changed since the last checkpoint.
	Dirty bool
}

// IsDead reports the health invariant: health 0 and DECEASED are one state.
func (r *Resident) IsDead() bool { return r.Status == StatusDeceased }

// Active reports whether the resident participates in ticks.
func (r *Resident) Active() bool { return r.Status == StatusAlive }

// Imprisoned reports whether the resident sits in a cell at the given time.
func (r *Resident) Imprisoned(now float64) bool {
	return r.ImprisonedUntil > now
}

// InConversation reports whether a directed exchange is still live.
func (r *Resident) InConversation(now float64) bool {
	return r.ConvPartner != 0 && now < r.ConvExpires
}

// Notify queues a one-shot notification for the next perception flush.
func (r *Resident) Notify(kind, text string, now float64) {
	r.Notifications = append(r.Notifications, Notification{Kind: kind, Text: text, WorldTime: now})
}

// HasViolation reports whether the violation kind is already recorded.
func (r *Resident) HasViolation(kind string) bool {
	for _, v := range r.Violations {
		if v == kind {
			return true
		}
	}
	return false
}

// AddViolation records a violation kind once and flags the resident wanted.
func (r *Resident) AddViolation(kind string) {
	if !r.HasViolation(kind) {
		r.Violations = append(r.Violations, kind)
	}
	r.Wanted = true
}

// ClearViolations releases the resident from wanted state.
func (r *Resident) ClearViolations() {
	r.Violations = r.Violations[:0]
	r.Wanted = false
}

// Body is the post-mortem object form of a deceased resident. It keeps the
// resident's id so the bounty trail stays joinable.
type Body struct {
	ID        int64 // same id as the deceased resident
	Name      string
	X, Y      float64
	CarriedBy int64 // resident currently hauling it, 0 = on the ground
	DiedAt    float64
}

// ForageableNode is a world-owned resource point. Depleted nodes stay in the
// world as scenery and regrow one use per Regrow game-seconds.
type ForageableNode struct {
	ID            int64
	Kind          string // berry_bush | fresh_spring
	X, Y          float64
	UsesRemaining int
	MaxUses       int
	Regrow        float64 // game seconds per regrown use
	LastUse       float64 // world time of last consumption
}
