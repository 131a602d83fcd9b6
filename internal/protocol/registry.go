package protocol

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// SessionState represents the session's current protocol phase.
type SessionState int

const (
	StateAwaitingAuth SessionState = iota
	StateQueued                    // authenticated, resident waiting on the train
	StateResident                  // resident is in the world
	StateSpectator                 // read-only observer
	StateClosing
)

func (s SessionState) String() string {
	switch s {
	case StateAwaitingAuth:
		return "AwaitingAuth"
	case StateQueued:
		return "Queued"
	case StateResident:
		return "Resident"
	case StateSpectator:
		return "Spectator"
	case StateClosing:
		return "Closing"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Request is a decoded inbound frame handed to a handler. Raw holds the full
// frame so each handler unmarshals its own payload struct.
type Request struct {
	Type      string
	RequestID string
	Raw       json.RawMessage
}

// HandlerFunc is the callback signature for command handlers.
// The session pointer is passed as an opaque interface to avoid import cycles.
type HandlerFunc func(sess any, req *Request)

type handlerEntry struct {
	fn            HandlerFunc
	allowedStates map[SessionState]bool
}

// Registry maps command tags to handlers with state-based access control.
type Registry struct {
	handlers map[string]*handlerEntry
	log      *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]*handlerEntry),
		log:      log,
	}
}

// Register maps a command tag to a handler, restricted to the given states.
func (reg *Registry) Register(tag string, states []SessionState, fn HandlerFunc) {
	allowed := make(map[SessionState]bool, len(states))
	for _, s := range states {
		allowed[s] = true
	}
	reg.handlers[tag] = &handlerEntry{
		fn:            fn,
		allowedStates: allowed,
	}
}

// ErrStateNotAllowed reports a tag arriving in a session state it is not
// registered for. The session layer converts it into an error action result
// rather than dropping the connection.
type ErrStateNotAllowed struct {
	Tag   string
	State SessionState
}

func (e *ErrStateNotAllowed) Error() string {
	return fmt.Sprintf("command %q not allowed in state %s", e.Tag, e.State)
}

// ErrUnknownTag reports an unrecognized command tag.
type ErrUnknownTag struct {
	Tag string
}

func (e *ErrUnknownTag) Error() string {
	return fmt.Sprintf("unknown command %q", e.Tag)
}

// Dispatch decodes the envelope, validates the session state, and calls the
// handler. Malformed JSON and unknown tags are returned as errors so the
// session can reply with a ValidationFailed result.
func (reg *Registry) Dispatch(sess any, state SessionState, data []byte) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("malformed frame: %w", err)
	}
	if env.Type == "" {
		return fmt.Errorf("frame missing type")
	}
	reg.log.Debug("frame received",
		zap.String("tag", env.Type),
		zap.Int("size", len(data)),
		zap.String("state", state.String()),
	)

	entry, ok := reg.handlers[env.Type]
	if !ok {
		return &ErrUnknownTag{Tag: env.Type}
	}
	if !entry.allowedStates[state] {
		reg.log.Warn("command not allowed in state",
			zap.String("tag", env.Type),
			zap.String("state", state.String()),
		)
		return &ErrStateNotAllowed{Tag: env.Type, State: state}
	}

	req := &Request{Type: env.Type, RequestID: env.RequestID, Raw: data}
	return reg.safeCall(entry.fn, sess, req)
}

// safeCall executes a handler with panic recovery to prevent a single bad
// frame from crashing the entire game loop.
func (reg *Registry) safeCall(fn HandlerFunc, sess any, req *Request) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			reg.log.Error("handler panic recovered",
				zap.String("tag", req.Type),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("handler panic for %q: %v", req.Type, rec)
		}
	}()
	fn(sess, req)
	return nil
}
