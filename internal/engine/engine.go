// Package engine is the tick scheduler: one worker that owns world state and
// runs the position, simulation, and perception phases on fixed-rate
// accumulators. Sessions, the write queue, and the HTTP facade all talk to it
// over channels; nothing else mutates the world.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/thecity/server/internal/config"
	"github.com/thecity/server/internal/handler"
	"github.com/thecity/server/internal/net"
	"github.com/thecity/server/internal/persist"
	"github.com/thecity/server/internal/protocol"
	"github.com/thecity/server/internal/scripting"
	"github.com/thecity/server/internal/world"
)

// ErrSchedulerStalled reports a tick that exceeded five times its step budget
// for more than three consecutive iterations. Fatal to the process.
var ErrSchedulerStalled = errors.New("engine: scheduler stalled")

// maxFrameDelta caps the real-time delta fed to the accumulators, so a long
// GC pause or suspend produces a slow-down instead of a catch-up spiral.
const maxFrameDelta = 0.5

// Snapshot is the read-only view published for the HTTP facade, captured at
// an inter-phase boundary.
type Snapshot struct {
	WorldTime   float64
	Day         int
	Tick        uint64
	Alive       int
	Total       int
	TrainQueue  int
	NextTrainIn float64 // game seconds until the next arrival
	Backlog     int64
}

// SessionSource is the subset of the gateway the engine consumes. The
// gateway hands over connected sessions; the engine owns them from there.
type SessionSource interface {
	NewSessions() <-chan *net.Session
	DeadSessions() <-chan uint64
}

// Engine drives the world. Run owns every field below; other goroutines may
// only call Announce and Status.
type Engine struct {
	cfg     *config.Config
	log     *zap.Logger
	world   *world.State
	scripts *scripting.Engine
	source  SessionSource
	writer  *persist.Writer
	repos   Repos

	reg  *protocol.Registry
	deps *handler.Deps

	sessions   map[uint64]*net.Session
	byResident map[int64]*net.Session

	tick    uint64 // perception tick counter
	posAcc  float64
	simAcc  float64
	percAcc float64

	// Per-resident view of forageable uses last reported, for map deltas.
	forageSeen map[int64]map[int64]int
	// Sleeping-bag wear accumulators, game seconds of bag-assisted sleep.
	bagWear map[int64]float64
	// Wall-clock disconnect times of residents whose socket died; movement
	// intent is cleared once the reconnect grace runs out.
	unattended map[int64]time.Time

	halted    bool
	slowIters int

	lastTrain      float64
	trainAnnounced bool
	lastRestock    float64
	baseStock      map[string]int

	announceCh chan string
	arrivalCh  chan *world.Resident
	snapshot   atomic.Pointer[Snapshot]
}

func New(cfg *config.Config, w *world.State, scripts *scripting.Engine, source SessionSource, writer *persist.Writer, repos Repos, log *zap.Logger) *Engine {
	e := &Engine{
		cfg:        cfg,
		log:        log,
		world:      w,
		scripts:    scripts,
		source:     source,
		writer:     writer,
		repos:      repos,
		sessions:   make(map[uint64]*net.Session),
		byResident: make(map[int64]*net.Session),
		forageSeen: make(map[int64]map[int64]int),
		bagWear:    make(map[int64]float64),
		announceCh: make(chan string, 8),
		arrivalCh:  make(chan *world.Resident, 64),
		baseStock:  make(map[string]int),
		unattended: make(map[int64]time.Time),
	}
	for k, v := range w.Stock {
		e.baseStock[k] = v
	}

	persister := &loopPersister{
		writer: writer,
		repos:  repos,
		clock:  w.Clock.Now,
		onFull: e.onWriteQueueFull,
		log:    log,
	}
	e.deps = &handler.Deps{
		Config:  cfg,
		Log:     log,
		World:   w,
		Scripts: scripts,
		Persist: persister,
	}
	e.reg = protocol.NewRegistry(log)
	handler.RegisterAll(e.reg, e.deps)

	e.snapshot.Store(&Snapshot{WorldTime: w.Clock.Now()})
	return e
}

// Deps exposes the handler dependency bundle, used at boot for rehydration.
func (e *Engine) Deps() *handler.Deps { return e.deps }

// Announce queues an operator broadcast. Safe from any goroutine; dropped
// when the queue is full rather than blocking the caller.
func (e *Engine) Announce(text string) bool {
	select {
	case e.announceCh <- text:
		return true
	default:
		return false
	}
}

// Status returns the latest published snapshot.
func (e *Engine) Status() Snapshot {
	return *e.snapshot.Load()
}

// EnqueueArrival hands a freshly registered resident to the tick worker,
// which installs them into the world and boards them on the next train. Safe
// from any goroutine.
func (e *Engine) EnqueueArrival(r *world.Resident) bool {
	select {
	case e.arrivalCh <- r:
		return true
	default:
		return false
	}
}

// Run blocks driving the world until the context is cancelled or the
// scheduler stalls. On cancellation it flushes a final snapshot, drains the
// write queue, and closes every session with a normal close code.
func (e *Engine) Run(ctx context.Context) error {
	posStep := 1.0 / float64(e.cfg.Sim.PositionRate)
	simStep := 1.0 / float64(e.cfg.Sim.SimTickRate)
	percStep := 1.0 / float64(e.cfg.Sim.PerceptionRate)

	e.lastTrain = e.world.Clock.Now()
	e.lastRestock = e.world.Clock.Now()

	ticker := time.NewTicker(time.Duration(float64(time.Second) * posStep))
	defer ticker.Stop()
	checkpoint := time.NewTicker(e.cfg.Database.CheckpointEvery)
	defer checkpoint.Stop()

	e.log.Info("engine running",
		zap.Int("position_hz", e.cfg.Sim.PositionRate),
		zap.Int("sim_hz", e.cfg.Sim.SimTickRate),
		zap.Int("perception_hz", e.cfg.Sim.PerceptionRate),
		zap.Float64("world_time", e.world.Clock.Now()),
	)

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		case text := <-e.announceCh:
			e.broadcast(&protocol.AnnouncementMsg{Type: protocol.SSystemAnnouncement, Text: text})
		case <-checkpoint.C:
			e.checkpoint()
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			if dt > maxFrameDelta {
				dt = maxFrameDelta
			}
			start := time.Now()
			e.iterate(dt, posStep, simStep, percStep)
			if time.Since(start).Seconds() > 5*posStep {
				e.slowIters++
				if e.slowIters > 3 {
					e.log.Error("scheduler stalled",
						zap.Float64("budget_s", posStep),
						zap.Int("consecutive", e.slowIters))
					return ErrSchedulerStalled
				}
			} else {
				e.slowIters = 0
			}
		}
	}
}

// iterate is one wall-clock pass: adopt/reap sessions, drain commands, run
// each phase greedily off its accumulator, perception at most once, then
// flush every session's outbox.
func (e *Engine) iterate(dt, posStep, simStep, percStep float64) {
	e.drainArrivals()
	e.adoptSessions()
	e.reapSessions()
	e.expireUnattended()

	if e.halted {
		// Tick progression and the world clock stay frozen until the write
		// backlog clears; inbound frames wait in their session queues.
		if e.writer == nil || e.writer.Backlog() <= int64(e.cfg.Database.WriteQueueSize/4) {
			e.halted = false
			e.log.Warn("persistence backlog cleared, resuming ticks")
			e.broadcast(&protocol.AnnouncementMsg{
				Type: protocol.SSystemAnnouncement,
				Text: "The city resumes. Time flows again.",
			})
		}
	} else {
		e.world.Clock.Advance(dt)
		e.drainCommands()

		e.posAcc += dt
		e.simAcc += dt
		e.percAcc += dt

		for e.posAcc >= posStep {
			e.posAcc -= posStep
			e.positionPhase(posStep)
		}
		for e.simAcc >= simStep {
			e.simAcc -= simStep
			e.simulationPhase(simStep * e.world.Clock.TimeScale())
		}
		if e.percAcc >= percStep {
			e.percAcc -= percStep
			// At most one perception per iteration; burn any backlog so a
			// hitch does not produce a burst of stale frames.
			for e.percAcc >= percStep {
				e.percAcc -= percStep
			}
			e.perceptionPhase()
		}
	}

	for _, sess := range e.sessions {
		sess.FlushOutput()
	}
	e.publishSnapshot()
}

// onWriteQueueFull flips the engine into the halted state. Called from
// loopPersister on the tick goroutine.
func (e *Engine) onWriteQueueFull(desc string) {
	if e.halted {
		return
	}
	e.halted = true
	e.log.Error("persistence backlog full, halting tick progression", zap.String("op", desc))
	e.broadcast(&protocol.AnnouncementMsg{
		Type: protocol.SSystemAnnouncement,
		Text: "The city holds its breath. Time is paused while records catch up.",
	})
}

// drainArrivals installs registered residents into the world and queues them
// for the next train.
func (e *Engine) drainArrivals() {
	for {
		select {
		case r := <-e.arrivalCh:
			if e.world.Resident(r.ID) != nil {
				continue
			}
			e.world.AddResident(r)
			e.world.EnqueueTrain(r.ID)
			e.log.Info("resident boarding",
				zap.String("passport", r.Passport),
				zap.Int("queue", e.world.TrainQueueLen()))
		default:
			return
		}
	}
}

// adoptSessions drains newly connected sessions from the gateway and binds
// them to residents. A reconnect displaces the previous socket.
func (e *Engine) adoptSessions() {
	if e.source == nil {
		return
	}
	for {
		select {
		case sess := <-e.source.NewSessions():
			e.adopt(sess)
		default:
			return
		}
	}
}

func (e *Engine) adopt(sess *net.Session) {
	e.sessions[sess.ID] = sess

	if sess.Spectator {
		followed := e.world.Resident(sess.FollowID)
		if followed == nil {
			sess.Send(net.KindCritical, &protocol.ErrorMsg{
				Type: protocol.SError, Reason: protocol.ReasonUnknownResident,
			})
			sess.FlushOutput()
			sess.Close()
			delete(e.sessions, sess.ID)
			return
		}
		e.sendWelcome(sess, followed, true)
		return
	}

	r := e.world.Resident(sess.ResidentID)
	if r == nil {
		sess.Send(net.KindCritical, &protocol.ErrorMsg{
			Type: protocol.SError, Reason: protocol.ReasonUnknownResident,
		})
		sess.FlushOutput()
		sess.Close()
		delete(e.sessions, sess.ID)
		return
	}
	if r.Status == world.StatusDeceased || r.Status == world.StatusDeparted {
		sess.Send(net.KindCritical, &protocol.ErrorMsg{
			Type: protocol.SError, Reason: protocol.ReasonAlreadyDead,
		})
		sess.FlushOutput()
		sess.Close()
		delete(e.sessions, sess.ID)
		return
	}

	if old, ok := e.byResident[r.ID]; ok && old.ID != sess.ID {
		e.log.Info("reconnect displaces session",
			zap.String("passport", r.Passport),
			zap.Uint64("old", old.ID), zap.Uint64("new", sess.ID))
		old.Close()
		delete(e.sessions, old.ID)
	}
	e.byResident[r.ID] = sess
	r.SessionID = sess.ID
	delete(e.unattended, r.ID)

	if r.Status == world.StatusAlive {
		sess.SetState(protocol.StateResident)
	}
	e.sendWelcome(sess, r, false)
	e.log.Info("session bound",
		zap.String("passport", r.Passport),
		zap.String("status", string(r.Status)),
	)
}

func (e *Engine) sendWelcome(sess *net.Session, r *world.Resident, spectator bool) {
	m := e.world.Map
	sess.Send(net.KindCritical, &protocol.WelcomeMsg{
		Type:       protocol.SWelcome,
		ResidentID: r.ID,
		Passport:   r.Passport,
		Name:       r.PreferredName,
		Spectator:  spectator,
		WorldTime:  e.world.Clock.Now(),
		TimeScale:  e.world.Clock.TimeScale(),
		MapWidth:   m.Width,
		MapHeight:  m.Height,
		TileSize:   m.TileSize,
	})
}

// reapSessions removes dead sessions and unbinds their residents. The
// resident entity persists; a reconnect within the grace window re-attaches.
func (e *Engine) reapSessions() {
	if e.source == nil {
		return
	}
	for {
		select {
		case id := <-e.source.DeadSessions():
			sess, ok := e.sessions[id]
			if !ok {
				continue
			}
			delete(e.sessions, id)
			if !sess.Spectator {
				if r := e.world.Resident(sess.ResidentID); r != nil && r.SessionID == id {
					r.SessionID = 0
					delete(e.byResident, r.ID)
					e.unattended[r.ID] = time.Now()
				}
			}
		default:
			return
		}
	}
}

// expireUnattended halts residents whose socket has been gone longer than
// the reconnect grace, so a dropped agent does not keep walking on a stale
// movement intent. A reconnect inside the window resumes untouched.
func (e *Engine) expireUnattended() {
	grace := e.cfg.Network.ReconnectGrace
	for id, at := range e.unattended {
		if time.Since(at) < grace {
			continue
		}
		delete(e.unattended, id)
		r := e.world.Resident(id)
		if r == nil || r.Status != world.StatusAlive {
			continue
		}
		r.MoveDirX, r.MoveDirY = 0, 0
		r.Waypoints = nil
		r.Speed = world.SpeedStop
		e.log.Info("reconnect grace expired, resident halted",
			zap.String("passport", r.Passport))
	}
}

// drainCommands applies inbound frames under the per-resident budget,
// iterating residents in id order so socket arrival speed cannot bias
// resolution. Within one resident, frames apply in arrival order.
func (e *Engine) drainCommands() {
	budget := e.cfg.Network.MaxCommandsPerTick
	for _, r := range e.world.Ordered() {
		sess := e.byResident[r.ID]
		if sess == nil || sess.IsClosed() {
			continue
		}
		e.drainSession(sess, budget)
	}

	// Spectators only carry heartbeats, but their frames still need replies.
	ids := make([]uint64, 0, 4)
	for id, sess := range e.sessions {
		if sess.Spectator {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		e.drainSession(e.sessions[id], budget)
	}
}

func (e *Engine) drainSession(sess *net.Session, budget int) {
	for n := 0; n < budget; n++ {
		select {
		case data := <-sess.InQueue:
			if err := e.reg.Dispatch(sess, sess.State(), data); err != nil {
				var env protocol.Envelope
				_ = json.Unmarshal(data, &env)
				reason := protocol.ReasonValidationFailed
				var stateErr *protocol.ErrStateNotAllowed
				if errors.As(err, &stateErr) && sess.Spectator {
					reason = protocol.ReasonSpectator
				}
				sess.Send(net.KindCritical, protocol.ResultErr(env.RequestID, reason))
			}
		default:
			return
		}
	}
}

// broadcast queues a critical frame on every live session.
func (e *Engine) broadcast(v any) {
	for _, sess := range e.sessions {
		if !sess.IsClosed() {
			sess.Send(net.KindCritical, v)
		}
	}
}

// checkpoint enqueues a snapshot of every dirty resident plus shop stock.
// Runs at an inter-phase boundary on the tick goroutine, so the capture is
// atomic with respect to world mutation.
func (e *Engine) checkpoint() {
	n := 0
	for _, r := range e.world.Ordered() {
		if !r.Dirty {
			continue
		}
		r.Dirty = false
		e.deps.Persist.SaveResident(r)
		e.deps.Persist.SaveInventory(r)
		n++
	}
	e.deps.Persist.SaveStock(e.world.Stock)
	if n > 0 {
		e.log.Debug("checkpoint", zap.Int("residents", n))
	}
}

func (e *Engine) publishSnapshot() {
	alive, total := e.world.ResidentCount()
	var backlog int64
	if e.writer != nil {
		backlog = e.writer.Backlog()
	}
	nextTrain := e.lastTrain + e.cfg.Sim.TrainInterval - e.world.Clock.Now()
	if nextTrain < 0 {
		nextTrain = 0
	}
	e.snapshot.Store(&Snapshot{
		WorldTime:   e.world.Clock.Now(),
		Day:         e.world.Clock.Day(),
		Tick:        e.tick,
		Alive:       alive,
		Total:       total,
		TrainQueue:  e.world.TrainQueueLen(),
		NextTrainIn: nextTrain,
		Backlog:     backlog,
	})
}

// shutdown flushes a final world snapshot, drains the write queue, and
// closes every session cleanly.
func (e *Engine) shutdown() {
	e.log.Info("engine shutting down, saving world")
	for _, r := range e.world.Ordered() {
		e.deps.Persist.SaveResident(r)
		e.deps.Persist.SaveInventory(r)
	}
	e.deps.Persist.SaveStock(e.world.Stock)
	if e.writer != nil {
		e.writer.Stop()
	}
	for _, sess := range e.sessions {
		sess.CloseWithCode(1000, "server shutting down")
	}
	e.publishSnapshot()
}
