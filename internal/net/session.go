package net

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/thecity/server/internal/protocol"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	maxFrameSize = 64 * 1024
)

// FrameKind classifies outbound frames for backpressure. Perception frames
// are superseded by the next tick and may be dropped; critical frames
// (action results, events, death) must not be.
type FrameKind int

const (
	KindCritical FrameKind = iota
	KindPerception
)

type outFrame struct {
	kind FrameKind
	data []byte
}

// Session represents a single client connection. Network I/O runs in
// dedicated goroutines; game state is accessed only from the game loop.
type Session struct {
	ID   uint64
	conn *websocket.Conn

	state atomic.Int32 // protocol.SessionState stored as int32

	// Bound identity, set once during auth before the session reaches the
	// game loop, read-only afterwards.
	ResidentID int64
	Passport   string
	Spectator  bool
	FollowID   int64 // spectators: resident whose perception stream is mirrored

	InQueue  chan []byte // game loop reads frames from here
	OutQueue chan []byte // writer goroutine reads from here

	IP string

	outBuf []outFrame // buffered frames, flushed by the game loop each tick

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	onDead    func(uint64)

	// Per-second frame rate limiter (readLoop goroutine only, no lock needed)
	msgPerSec  int
	msgCount   int
	msgResetAt int64

	log *zap.Logger
}

func NewSession(conn *websocket.Conn, id uint64, inSize, outSize, msgPerSec int, onDead func(uint64), log *zap.Logger) *Session {
	s := &Session{
		ID:        id,
		conn:      conn,
		InQueue:   make(chan []byte, inSize),
		OutQueue:  make(chan []byte, outSize),
		IP:        conn.RemoteAddr().String(),
		closeCh:   make(chan struct{}),
		onDead:    onDead,
		msgPerSec: msgPerSec,
		log:       log.With(zap.Uint64("session", id)),
	}
	s.state.Store(int32(protocol.StateAwaitingAuth))
	return s
}

func (s *Session) State() protocol.SessionState {
	return protocol.SessionState(s.state.Load())
}

func (s *Session) SetState(st protocol.SessionState) {
	s.state.Store(int32(st))
}

// Start launches the reader and writer goroutines.
func (s *Session) Start() {
	s.conn.SetReadLimit(maxFrameSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go s.readLoop()
	go s.writeLoop()
}

// Send marshals and buffers an outbound frame. The frame is not written to
// the socket until FlushOutput runs at the end of the tick.
// Called only from the game loop goroutine — no lock needed on outBuf.
func (s *Session) Send(kind FrameKind, v any) {
	if s.closed.Load() {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error("frame marshal failed", zap.Error(err))
		return
	}
	s.outBuf = append(s.outBuf, outFrame{kind: kind, data: data})
}

// FlushOutput drains the output buffer to OutQueue for the writeLoop
// goroutine. Called by the game loop once per tick. Non-blocking: when the
// queue is full, stale perception frames are dropped first; if a critical
// frame still cannot be queued the session is disconnected.
func (s *Session) FlushOutput() {
	for _, f := range s.outBuf {
		select {
		case s.OutQueue <- f.data:
			continue
		default:
		}
		if f.kind == KindPerception {
			s.log.Debug("perception frame dropped, slow consumer")
			continue
		}
		s.log.Warn("output queue full, disconnecting slow session")
		s.Close()
		break
	}
	s.outBuf = s.outBuf[:0]
}

// CloseWithCode sends a websocket close frame with the given status code
// before tearing the connection down.
func (s *Session) CloseWithCode(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	s.conn.WriteMessage(websocket.CloseMessage, msg)
	s.Close()
}

// Close shuts the session down and reports it dead exactly once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.SetState(protocol.StateClosing)
		close(s.closeCh)
		s.conn.Close()
		if s.onDead != nil {
			s.onDead(s.ID)
		}
	})
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// readLoop reads frames from the websocket and pushes them onto InQueue for
// the game loop to consume.
func (s *Session) readLoop() {
	defer s.Close()

	for {
		select {
		case <-s.closeCh:
			return
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("read error", zap.Error(err))
			}
			return
		}

		if s.msgPerSec > 0 {
			now := time.Now().Unix()
			if now != s.msgResetAt {
				s.msgCount = 0
				s.msgResetAt = now
			}
			s.msgCount++
			if s.msgCount > s.msgPerSec {
				s.log.Warn("frame rate exceeded, disconnecting", zap.Int("fps", s.msgCount))
				return
			}
		}

		// Block until InQueue has space or the session closes. The readLoop
		// goroutine is per-session, so blocking only stalls this client and
		// commands are never silently dropped.
		select {
		case s.InQueue <- data:
		case <-s.closeCh:
			return
		}
	}
}

// writeLoop reads frames from OutQueue and writes them to the websocket,
// interleaving keepalive pings.
func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case data := <-s.OutQueue:
			if !s.writeOneFrame(data) {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

func (s *Session) writeOneFrame(data []byte) bool {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if !s.closed.Load() {
			s.log.Debug("write error", zap.Error(err))
		}
		return false
	}
	return true
}
