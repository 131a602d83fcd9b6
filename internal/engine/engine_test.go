package engine

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/thecity/server/internal/clock"
	"github.com/thecity/server/internal/config"
	"github.com/thecity/server/internal/net"
	"github.com/thecity/server/internal/protocol"
	"github.com/thecity/server/internal/scripting"
	"github.com/thecity/server/internal/tilemap"
	"github.com/thecity/server/internal/world"
)

// --- recording persister ---

type savedEvent struct {
	ResidentID int64
	Kind       string
}

type fakePersist struct {
	residents  []int64
	petitions  []int64
	stockSaves int
	events     []savedEvent
}

func (f *fakePersist) SaveResident(r *world.Resident)  { f.residents = append(f.residents, r.ID) }
func (f *fakePersist) SaveInventory(r *world.Resident) {}
func (f *fakePersist) SavePetition(p *world.Petition)  { f.petitions = append(f.petitions, p.ID) }
func (f *fakePersist) SaveVote(petitionID, residentID int64, choice world.VoteChoice) {}
func (f *fakePersist) SaveStock(stock map[string]int) { f.stockSaves++ }
func (f *fakePersist) AppendEvent(residentID int64, kind string, payload any) {
	f.events = append(f.events, savedEvent{residentID, kind})
}
func (f *fakePersist) SaveFeedback(residentID int64, rating int, text string) {}

func (f *fakePersist) countEvents(kind string) int {
	n := 0
	for _, e := range f.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// --- session source ---

type fakeSource struct {
	newCh  chan *net.Session
	deadCh chan uint64
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		newCh:  make(chan *net.Session, 16),
		deadCh: make(chan uint64, 16),
	}
}

func (s *fakeSource) NewSessions() <-chan *net.Session { return s.newCh }
func (s *fakeSource) DeadSessions() <-chan uint64      { return s.deadCh }

// --- test map ---

const testBuildingsYAML = `buildings:
  - id: shop
    type: shop
    bounds: {min_x: 1, min_y: 1, max_x: 3, max_y: 3}
    doors:
      - {tx: 2, ty: 3, facing: 90}
  - id: bank
    type: bank
    bounds: {min_x: 5, min_y: 1, max_x: 7, max_y: 3}
    doors:
      - {tx: 6, ty: 3, facing: 90}
  - id: police
    type: police
    bounds: {min_x: 12, min_y: 1, max_x: 14, max_y: 3}
    doors:
      - {tx: 13, ty: 3, facing: 90}
forageables:
  - {id: 1, kind: berry_bush, x: 650, y: 330, max_uses: 3, regrow: 1800}
`

func testMapYAML() string {
	var b strings.Builder
	b.WriteString("width: 40\nheight: 40\ntile_size: 32\nspawn: {x: 400, y: 250}\n")
	row := "  - [" + strings.TrimSuffix(strings.Repeat("0,", 40), ",") + "]\n"
	b.WriteString("ground:\n")
	for i := 0; i < 40; i++ {
		b.WriteString(row)
	}
	b.WriteString("obstacles:\n")
	for i := 0; i < 40; i++ {
		b.WriteString(row)
	}
	b.WriteString(testBuildingsYAML)
	return b.String()
}

// --- environment ---

const testWorldTime = 10000.0

type testEnv struct {
	cfg    *config.Config
	world  *world.State
	fake   *fakePersist
	source *fakeSource
	eng    *Engine
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()

	path := filepath.Join(t.TempDir(), "map.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testMapYAML()), 0o644))
	m, seeds, err := tilemap.Load(path)
	require.NoError(t, err)

	cfg := config.Defaults()
	st := world.NewState(m, clock.NewAt(cfg.Sim.TimeScale, testWorldTime))
	for _, s := range seeds {
		st.AddForageNode(&world.ForageableNode{
			ID: s.ID, Kind: s.Kind, X: s.X, Y: s.Y,
			UsesRemaining: s.MaxUses, MaxUses: s.MaxUses, Regrow: s.Regrow,
		})
	}
	st.Stock["bread"] = 20
	st.Stock["water_bottle"] = 10
	st.Jobs[1] = &world.Job{ID: 1, Title: "Shop Assistant", BuildingID: "shop", Wage: 12, ShiftHours: 2, MaxPositions: 2}
	st.Laws[1] = &world.Law{ID: 1, Name: "Loitering", SentenceHours: 2}

	scripts, err := scripting.NewEngine(filepath.Join(t.TempDir(), "none"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(scripts.Close)

	source := newFakeSource()
	eng := New(cfg, st, scripts, source, nil, Repos{}, zap.NewNop())
	fake := &fakePersist{}
	eng.deps.Persist = fake
	eng.lastTrain = testWorldTime
	eng.lastRestock = testWorldTime

	return &testEnv{cfg: cfg, world: st, fake: fake, source: source, eng: eng}
}

// addResident creates a healthy, connected resident bound into the engine.
func (e *testEnv) addResident(t *testing.T, id int64, x, y float64) (*world.Resident, *net.Session) {
	t.Helper()
	r := e.addOffline(t, id, x, y)
	sess := newTestSession(t, id)
	sess.ResidentID = id
	sess.Passport = r.Passport
	sess.SetState(protocol.StateResident)
	e.eng.sessions[sess.ID] = sess
	e.eng.byResident[id] = sess
	r.SessionID = sess.ID
	return r, sess
}

// addOffline creates a resident without a session.
func (e *testEnv) addOffline(t *testing.T, id int64, x, y float64) *world.Resident {
	t.Helper()
	r := &world.Resident{
		ID:            id,
		Passport:      fmt.Sprintf("CITY-TEST%04d", id),
		FullName:      fmt.Sprintf("Resident %d", id),
		PreferredName: fmt.Sprintf("res%d", id),
		Origin:        "testville",
		Type:          world.TypeAgent,
		Status:        world.StatusAlive,
		X:             x,
		Y:             y,
		Wallet:        100,
		Needs:         world.Needs{Hunger: 100, Thirst: 100, Energy: 100, Health: 100, Social: 100},
		Inv:           world.NewInventory(),
		ArrivedAt:     testWorldTime,
		AnchorX:       x,
		AnchorY:       y,
		AnchorTime:    testWorldTime,
	}
	e.world.AddResident(r)
	return r
}

// advance moves the world clock forward by gameDt game seconds and runs the
// simulation phase once over that span.
func (e *testEnv) advance(gameDt float64) {
	e.world.Clock.Advance(gameDt / e.world.Clock.TimeScale())
	e.eng.simulationPhase(gameDt)
}

func newTestSession(t *testing.T, id int64) *net.Session {
	t.Helper()
	up := websocket.Upgrader{}
	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- c
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return net.NewSession(<-connCh, uint64(id), 16, 64, 0, nil, zap.NewNop())
}

// drainFrames empties the session's buffered output.
func drainFrames(t *testing.T, sess *net.Session) [][]byte {
	t.Helper()
	sess.FlushOutput()
	var out [][]byte
	for {
		select {
		case data := <-sess.OutQueue:
			out = append(out, data)
		default:
			return out
		}
	}
}

// framesOfType filters drained frames by their type tag.
func framesOfType(t *testing.T, frames [][]byte, tag string) []json.RawMessage {
	t.Helper()
	var out []json.RawMessage
	for _, data := range frames {
		var env struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(data, &env))
		if env.Type == tag {
			out = append(out, json.RawMessage(data))
		}
	}
	return out
}

func perceptionsOf(t *testing.T, frames [][]byte) []protocol.PerceptionMsg {
	t.Helper()
	var out []protocol.PerceptionMsg
	for _, raw := range framesOfType(t, frames, protocol.SPerception) {
		var msg protocol.PerceptionMsg
		require.NoError(t, json.Unmarshal(raw, &msg))
		out = append(out, msg)
	}
	return out
}

// --- engine-level tests ---

func TestAdoptBindsResidentAndSendsWelcome(t *testing.T) {
	env := newEnv(t)
	r := env.addOffline(t, 1, 400, 250)

	sess := newTestSession(t, 1)
	sess.ResidentID = r.ID
	sess.Passport = r.Passport
	sess.SetState(protocol.StateQueued)
	env.source.newCh <- sess

	env.eng.adoptSessions()

	require.Same(t, sess, env.eng.byResident[r.ID])
	assert.Equal(t, sess.ID, r.SessionID)
	assert.Equal(t, protocol.StateResident, sess.State())

	frames := drainFrames(t, sess)
	welcomes := framesOfType(t, frames, protocol.SWelcome)
	require.Len(t, welcomes, 1)
	var w protocol.WelcomeMsg
	require.NoError(t, json.Unmarshal(welcomes[0], &w))
	assert.Equal(t, r.Passport, w.Passport)
	assert.False(t, w.Spectator)
	assert.Equal(t, env.world.Map.Width, w.MapWidth)
}

func TestAdoptRejectsUnknownResident(t *testing.T) {
	env := newEnv(t)

	sess := newTestSession(t, 99)
	sess.ResidentID = 99
	env.source.newCh <- sess

	env.eng.adoptSessions()

	assert.True(t, sess.IsClosed())
	assert.NotContains(t, env.eng.sessions, sess.ID)
}

func TestReconnectDisplacesOldSession(t *testing.T) {
	env := newEnv(t)
	r, old := env.addResident(t, 1, 400, 250)

	replacement := newTestSession(t, 50)
	replacement.ResidentID = r.ID
	replacement.Passport = r.Passport
	env.source.newCh <- replacement

	env.eng.adoptSessions()

	assert.True(t, old.IsClosed())
	require.Same(t, replacement, env.eng.byResident[r.ID])
	assert.Equal(t, replacement.ID, r.SessionID)
}

func TestReapUnbindsResident(t *testing.T) {
	env := newEnv(t)
	r, sess := env.addResident(t, 1, 400, 250)

	sess.Close()
	env.source.deadCh <- sess.ID
	env.eng.reapSessions()

	assert.NotContains(t, env.eng.sessions, sess.ID)
	assert.NotContains(t, env.eng.byResident, r.ID)
	assert.Zero(t, r.SessionID)
	assert.Equal(t, world.StatusAlive, r.Status, "resident survives its session")
}

func TestReconnectGraceHaltsAbandonedResident(t *testing.T) {
	env := newEnv(t)
	r, sess := env.addResident(t, 1, 400, 250)
	r.MoveDirX, r.MoveDirY = 1, 0
	r.Speed = world.SpeedRun
	r.Waypoints = []tilemap.Waypoint{{X: 600, Y: 250}}

	sess.Close()
	env.source.deadCh <- sess.ID
	env.eng.reapSessions()

	// Inside the grace window the movement intent stands.
	env.eng.expireUnattended()
	assert.Equal(t, 1.0, r.MoveDirX)

	env.eng.unattended[r.ID] = time.Now().Add(-env.cfg.Network.ReconnectGrace - time.Second)
	env.eng.expireUnattended()

	assert.Zero(t, r.MoveDirX)
	assert.Nil(t, r.Waypoints)
	assert.Equal(t, world.SpeedStop, r.Speed)
	assert.NotContains(t, env.eng.unattended, r.ID)
}

func TestReconnectInsideGraceKeepsMoving(t *testing.T) {
	env := newEnv(t)
	r, sess := env.addResident(t, 1, 400, 250)
	r.MoveDirX = 1
	r.Speed = world.SpeedWalk

	sess.Close()
	env.source.deadCh <- sess.ID
	env.eng.reapSessions()
	require.Contains(t, env.eng.unattended, r.ID)

	replacement := newTestSession(t, 50)
	replacement.ResidentID = r.ID
	replacement.Passport = r.Passport
	env.source.newCh <- replacement
	env.eng.adoptSessions()

	assert.NotContains(t, env.eng.unattended, r.ID)
	env.eng.expireUnattended()
	assert.Equal(t, 1.0, r.MoveDirX, "reconnect preserves movement intent")
}

func TestSpectatorCommandsAreRefusedAsSpectator(t *testing.T) {
	env := newEnv(t)
	sess := newTestSession(t, 9)
	sess.Spectator = true
	sess.SetState(protocol.StateSpectator)
	env.eng.sessions[sess.ID] = sess

	sess.InQueue <- []byte(`{"type":"move","request_id":"m1","dx":1,"dy":0}`)
	env.eng.drainCommands()

	frames := framesOfType(t, drainFrames(t, sess), protocol.SActionResult)
	require.Len(t, frames, 1)
	var res protocol.ActionResult
	require.NoError(t, json.Unmarshal(frames[0], &res))
	assert.Equal(t, "error", res.Status)
	assert.Equal(t, protocol.ReasonSpectator, res.Reason)
	assert.Equal(t, "m1", res.RequestID)
}

func TestDrainCommandsHonorsBudget(t *testing.T) {
	env := newEnv(t)
	_, sess := env.addResident(t, 1, 400, 250)

	total := env.cfg.Network.MaxCommandsPerTick + 3
	for i := 0; i < total; i++ {
		frame, _ := json.Marshal(map[string]any{"type": "heartbeat", "request_id": fmt.Sprintf("h%d", i)})
		sess.InQueue <- frame
	}

	env.eng.drainCommands()
	results := framesOfType(t, drainFrames(t, sess), protocol.SActionResult)
	assert.Len(t, results, env.cfg.Network.MaxCommandsPerTick)

	env.eng.drainCommands()
	results = framesOfType(t, drainFrames(t, sess), protocol.SActionResult)
	assert.Len(t, results, 3, "overflow carried to next tick")
}

func TestDrainCommandsRepliesToMalformedFrames(t *testing.T) {
	env := newEnv(t)
	_, sess := env.addResident(t, 1, 400, 250)

	sess.InQueue <- []byte(`{"type":"no_such_command","request_id":"x1"}`)
	sess.InQueue <- []byte(`not json at all`)

	env.eng.drainCommands()
	frames := framesOfType(t, drainFrames(t, sess), protocol.SActionResult)
	require.Len(t, frames, 2)
	var res protocol.ActionResult
	require.NoError(t, json.Unmarshal(frames[0], &res))
	assert.Equal(t, "error", res.Status)
	assert.Equal(t, protocol.ReasonValidationFailed, res.Reason)
	assert.Equal(t, "x1", res.RequestID)
}

func TestIterateRunsPhasesOffAccumulators(t *testing.T) {
	env := newEnv(t)
	r, _ := env.addResident(t, 1, 400, 250)
	r.MoveDirX, r.MoveDirY = 1, 0
	r.Speed = world.SpeedWalk

	posStep := 1.0 / float64(env.cfg.Sim.PositionRate)
	simStep := 1.0 / float64(env.cfg.Sim.SimTickRate)
	percStep := 1.0 / float64(env.cfg.Sim.PerceptionRate)

	startX := r.X
	// One perception step worth of real time: 250 ms covers several position
	// and simulation sub-steps in a single iteration.
	env.eng.iterate(percStep, posStep, simStep, percStep)

	assert.Greater(t, r.X, startX, "position phase ran")
	assert.Less(t, r.Needs.Hunger, 100.0, "simulation phase ran")
	assert.Equal(t, uint64(1), env.eng.tick, "perception ran exactly once")

	// A tiny slice advances nothing but accumulates.
	x := r.X
	env.eng.iterate(posStep/10, posStep, simStep, percStep)
	assert.Equal(t, x, r.X)
	assert.Equal(t, uint64(1), env.eng.tick)
}

func TestHaltedEngineFreezesTicksAndRecovers(t *testing.T) {
	env := newEnv(t)
	r, _ := env.addResident(t, 1, 400, 250)
	r.MoveDirX = 1
	r.Speed = world.SpeedRun

	env.eng.halted = true
	posStep := 1.0 / float64(env.cfg.Sim.PositionRate)
	startX := r.X
	env.eng.iterate(posStep, posStep, 0.1, 0.25)

	// No writer means the backlog reads zero, so the first halted iteration
	// resumes but runs no phases.
	assert.Equal(t, startX, r.X, "no phase ran while halted")
	assert.False(t, env.eng.halted, "backlog clear resumes ticking")

	env.eng.iterate(posStep, posStep, 0.1, 0.25)
	assert.Greater(t, r.X, startX)
}

func TestCheckpointSavesOnlyDirtyResidents(t *testing.T) {
	env := newEnv(t)
	clean, _ := env.addResident(t, 1, 400, 250)
	dirty, _ := env.addResident(t, 2, 500, 250)
	clean.Dirty = false
	dirty.Dirty = true

	env.eng.checkpoint()

	assert.Equal(t, []int64{dirty.ID}, env.fake.residents)
	assert.False(t, dirty.Dirty)
	assert.Equal(t, 1, env.fake.stockSaves)
}

func TestStatusSnapshot(t *testing.T) {
	env := newEnv(t)
	env.addResident(t, 1, 400, 250)
	env.world.EnqueueTrain(7)

	env.eng.publishSnapshot()
	snap := env.eng.Status()
	assert.Equal(t, 1, snap.Alive)
	assert.Equal(t, 1, snap.TrainQueue)
	assert.InDelta(t, env.world.Clock.Now(), snap.WorldTime, 0.001)
}

func TestAnnounceBroadcastsToAllSessions(t *testing.T) {
	env := newEnv(t)
	_, s1 := env.addResident(t, 1, 400, 250)
	_, s2 := env.addResident(t, 2, 500, 250)

	require.True(t, env.eng.Announce("curfew at dusk"))
	text := <-env.eng.announceCh
	env.eng.broadcast(&protocol.AnnouncementMsg{Type: protocol.SSystemAnnouncement, Text: text})

	for _, sess := range []*net.Session{s1, s2} {
		anns := framesOfType(t, drainFrames(t, sess), protocol.SSystemAnnouncement)
		require.Len(t, anns, 1)
		var msg protocol.AnnouncementMsg
		require.NoError(t, json.Unmarshal(anns[0], &msg))
		assert.Equal(t, "curfew at dusk", msg.Text)
	}
}
