// Package protocol defines the tagged JSON frames exchanged with clients and
// the dispatch registry that routes inbound commands. The wire surface is a
// closed union: every frame carries a "type" discriminant, and unknown tags
// are a validation error, never a panic.
package protocol

import "encoding/json"

// Inbound tags accepted from clients.
const (
	CMove           = "move"
	CMoveTo         = "move_to"
	CStop           = "stop"
	CFace           = "face"
	CSpeak          = "speak"
	CEat            = "eat"
	CDrink          = "drink"
	CConsume        = "consume"
	CSleep          = "sleep"
	CWake           = "wake"
	CUseToilet      = "use_toilet"
	CEnterBuilding  = "enter_building"
	CExitBuilding   = "exit_building"
	CBuy            = "buy"
	CCollectUBI     = "collect_ubi"
	CInspect        = "inspect"
	CTrade          = "trade"
	CGive           = "give"
	CApplyJob       = "apply_job"
	CQuitJob        = "quit_job"
	CWritePetition  = "write_petition"
	CVotePetition   = "vote_petition"
	CCollectBody    = "collect_body"
	CProcessBody    = "process_body"
	CDepart         = "depart"
	CListJobs       = "list_jobs"
	CListPetitions  = "list_petitions"
	CArrest         = "arrest"
	CBookSuspect    = "book_suspect"
	CForage         = "forage"
	CSubmitFeedback = "submit_feedback"
	CHeartbeat      = "heartbeat"
)

// Outbound tags sent by the server.
const (
	SWelcome            = "welcome"
	SPerception         = "perception"
	SActionResult       = "action_result"
	SEvent              = "event"
	SPain               = "pain"
	SDeath              = "death"
	SSpawn              = "spawn"
	STrainArriving      = "train_arriving"
	SInspectResult      = "inspect_result"
	SSystemAnnouncement = "system_announcement"
	SError              = "error"
)

// Envelope is the minimal decode of any inbound frame.
type Envelope struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
}

// --- Inbound payloads (decoded per-handler) ---

type MoveMsg struct {
	DX    float64 `json:"dx"`
	DY    float64 `json:"dy"`
	Speed string  `json:"speed"` // "walk" | "run"
}

type MoveToMsg struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Speed string  `json:"speed"`
}

type FaceMsg struct {
	Degrees float64 `json:"degrees"`
}

type SpeakMsg struct {
	Text   string `json:"text"`
	Volume string `json:"volume"` // "whisper" | "normal" | "shout"
	To     string `json:"to,omitempty"` // addressee passport, empty = undirected
}

type ConsumeMsg struct {
	ItemID string `json:"item_id,omitempty"` // empty = first suitable stack
}

type EnterBuildingMsg struct {
	BuildingID string `json:"building_id"`
}

type BuyMsg struct {
	ItemType string `json:"item_type"`
	Quantity int    `json:"quantity"`
}

type InspectMsg struct {
	Target string `json:"target"` // passport
}

type TradeMsg struct {
	To       string `json:"to"` // passport
	ItemType string `json:"item_type"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"` // total currency the counterparty pays
}

type GiveMsg struct {
	To       string `json:"to"`
	ItemType string `json:"item_type,omitempty"`
	Quantity int    `json:"quantity,omitempty"`
	Amount   int64  `json:"amount,omitempty"` // currency
}

type ApplyJobMsg struct {
	JobID int64 `json:"job_id"`
}

type WritePetitionMsg struct {
	Category    string `json:"category"`
	Description string `json:"description"`
}

type VotePetitionMsg struct {
	PetitionID int64  `json:"petition_id"`
	Choice     string `json:"choice"` // "for" | "against"
}

type CollectBodyMsg struct {
	BodyID int64 `json:"body_id"`
}

type ArrestMsg struct {
	Target string `json:"target"` // passport
}

type ForageMsg struct {
	NodeID int64 `json:"node_id"`
}

type SubmitFeedbackMsg struct {
	Token  string `json:"token"`
	Rating int    `json:"rating"`
	Text   string `json:"text"`
}

// --- Outbound frames ---

// ActionResult is the exactly-once reply to any inbound command.
type ActionResult struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Status    string          `json:"status"` // "ok" | "error"
	Reason    string          `json:"reason,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func ResultOK(requestID string, data json.RawMessage) *ActionResult {
	return &ActionResult{Type: SActionResult, RequestID: requestID, Status: "ok", Data: data}
}

func ResultErr(requestID, reason string) *ActionResult {
	return &ActionResult{Type: SActionResult, RequestID: requestID, Status: "error", Reason: reason}
}

// WelcomeMsg is sent once after a session binds to a resident.
type WelcomeMsg struct {
	Type       string  `json:"type"`
	ResidentID int64   `json:"resident_id"`
	Passport   string  `json:"passport"`
	Name       string  `json:"name"`
	Spectator  bool    `json:"spectator"`
	WorldTime  float64 `json:"world_time"`
	TimeScale  float64 `json:"time_scale"`
	MapWidth   int     `json:"map_width"`
	MapHeight  int     `json:"map_height"`
	TileSize   int     `json:"tile_size"`
}

// SelfBlock is the full internal state of the perceiving resident.
type SelfBlock struct {
	ResidentID    int64           `json:"resident_id"`
	Passport      string          `json:"passport"`
	Name          string          `json:"name"`
	X             float64         `json:"x"`
	Y             float64         `json:"y"`
	Facing        float64         `json:"facing"`
	BuildingID    string          `json:"building_id,omitempty"`
	Sleeping      bool            `json:"sleeping"`
	Needs         json.RawMessage `json:"needs"`
	Wallet        int64           `json:"wallet"`
	Inventory     json.RawMessage `json:"inventory"`
	Job           json.RawMessage `json:"job,omitempty"`
	Violations    []string        `json:"violations,omitempty"`
	Wanted        bool            `json:"wanted,omitempty"`
	ImprisonedFor float64         `json:"imprisoned_for,omitempty"` // game seconds remaining
	FeedbackToken string          `json:"feedback_token,omitempty"`
}

// VisibleEntity is one resident, body, building, or forageable in view.
type VisibleEntity struct {
	Kind     string  `json:"kind"` // resident | body | building | forageable
	ID       string  `json:"id"`
	Name     string  `json:"name,omitempty"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Facing   float64 `json:"facing,omitempty"`
	IsDead   bool    `json:"is_dead,omitempty"`
	Sleeping bool    `json:"sleeping,omitempty"`
	Subtype  string  `json:"subtype,omitempty"` // building type / forageable kind
	Uses     int     `json:"uses,omitempty"`    // forageable uses remaining
}

// AudibleSpeech is one utterance heard during the last perception window.
type AudibleSpeech struct {
	Speaker  string  `json:"speaker"` // passport
	Name     string  `json:"name"`
	Text     string  `json:"text"`
	Volume   string  `json:"volume"`
	Directed bool    `json:"directed,omitempty"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// ForageDelta reports a node whose uses changed since the last perception.
type ForageDelta struct {
	NodeID int64 `json:"node_id"`
	Uses   int   `json:"uses"`
}

// PerceptionMsg is the per-tick bounded view of the world for one resident.
type PerceptionMsg struct {
	Type          string          `json:"type"`
	Tick          uint64          `json:"tick"`
	WorldTime     float64         `json:"world_time"`
	Self          SelfBlock       `json:"self"`
	Visible       []VisibleEntity `json:"visible"`
	Audible       []AudibleSpeech `json:"audible,omitempty"`
	Interactions  []string        `json:"interactions,omitempty"`
	Notifications json.RawMessage `json:"notifications,omitempty"`
	MapDelta      []ForageDelta   `json:"map_delta,omitempty"`
}

// EventMsg is a narrative event derived from state deltas.
type EventMsg struct {
	Type      string          `json:"type"`
	Kind      string          `json:"kind"`
	WorldTime float64         `json:"world_time"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// PainMsg is a narrative pain message on the pain channel.
type PainMsg struct {
	Type      string  `json:"type"`
	Source    string  `json:"source"`    // hunger | thirst | social | health
	Intensity string  `json:"intensity"` // mild | severe | agony
	Text      string  `json:"text"`
	WorldTime float64 `json:"world_time"`
}

// DeathMsg announces the terminal transition.
type DeathMsg struct {
	Type      string  `json:"type"`
	Cause     string  `json:"cause"`
	Text      string  `json:"text,omitempty"`
	WorldTime float64 `json:"world_time"`
}

// SpawnMsg is sent when the resident steps off the train.
type SpawnMsg struct {
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// TrainArrivingMsg is broadcast shortly before a train arrival event.
type TrainArrivingMsg struct {
	Type       string  `json:"type"`
	InSeconds  float64 `json:"in_seconds"` // game seconds
	Passengers int     `json:"passengers"`
}

// InspectResultMsg carries another resident's public record.
type InspectResultMsg struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Record    json.RawMessage `json:"record"`
}

// AnnouncementMsg is an operator broadcast.
type AnnouncementMsg struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ErrorMsg reports a session-level failure.
type ErrorMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
	Text   string `json:"text,omitempty"`
}
