// Package net is the session layer: a websocket gateway that authenticates
// connections and hands Sessions to the game loop over channels. All world
// state stays on the loop side; this package only moves frames.
package net

import (
	"context"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/thecity/server/internal/config"
	"github.com/thecity/server/internal/protocol"
	"github.com/thecity/server/internal/token"
)

// Close code sent when a credential fails verification.
const CloseBadCredential = 4003

// Authenticator verifies a session credential and returns its claims.
type Authenticator interface {
	Verify(credential string) (*token.Claims, error)
}

// Gateway upgrades websocket connections into Sessions.
// New/dead sessions are communicated to the game loop via channels.
type Gateway struct {
	cfg      config.NetworkConfig
	auth     Authenticator
	upgrader websocket.Upgrader
	srv      *http.Server

	nextID   atomic.Uint64
	newConns chan *Session
	deadCh   chan uint64

	log *zap.Logger
}

func NewGateway(cfg config.NetworkConfig, auth Authenticator, log *zap.Logger) *Gateway {
	g := &Gateway{
		cfg:  cfg,
		auth: auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients are headless agents, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		newConns: make(chan *Session, 64),
		deadCh:   make(chan uint64, 64),
		log:      log,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/connect", g.handleConnect)
	g.srv = &http.Server{
		Addr:         cfg.BindAddress,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket lifetimes are managed per-session
	}
	return g
}

// ListenAndServe blocks serving the gateway until Shutdown.
func (g *Gateway) ListenAndServe() error {
	g.log.Info("gateway listening", zap.String("addr", g.cfg.BindAddress))
	err := g.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting new connections. Existing sessions are closed by
// the game loop during its own shutdown sequence.
func (g *Gateway) Shutdown(ctx context.Context) error {
	return g.srv.Shutdown(ctx)
}

// NewSessions returns the channel of newly connected sessions.
func (g *Gateway) NewSessions() <-chan *Session {
	return g.newConns
}

// DeadSessions returns the channel of dead session IDs.
func (g *Gateway) DeadSessions() <-chan uint64 {
	return g.deadCh
}

func (g *Gateway) notifyDead(sessionID uint64) {
	select {
	case g.deadCh <- sessionID:
	default:
	}
}

// handleConnect authenticates the query credential, upgrades the connection,
// and queues the session for adoption by the game loop. Spectators connect
// with ?spectate=1 and carry no credential.
func (g *Gateway) handleConnect(w http.ResponseWriter, r *http.Request) {
	spectateArg := r.URL.Query().Get("spectate")
	spectate := spectateArg != ""
	credential := r.URL.Query().Get("token")

	var followID int64
	var claims *token.Claims
	if spectate {
		id, err := strconv.ParseInt(spectateArg, 10, 64)
		if err != nil {
			http.Error(w, "bad spectate id", http.StatusBadRequest)
			return
		}
		followID = id
	} else {
		var err error
		claims, err = g.auth.Verify(credential)
		if err != nil {
			// Upgrade anyway so the client receives a proper close code
			// instead of an opaque HTTP failure.
			conn, upErr := g.upgrader.Upgrade(w, r, nil)
			if upErr != nil {
				return
			}
			g.log.Warn("credential rejected", zap.String("ip", r.RemoteAddr), zap.Error(err))
			msg := websocket.FormatCloseMessage(CloseBadCredential, protocol.ReasonBadCredential)
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, msg)
			conn.Close()
			return
		}
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	id := g.nextID.Add(1)
	sess := NewSession(conn, id, g.cfg.InQueueSize, g.cfg.OutQueueSize, g.cfg.MaxCommandsPerTick*10, g.notifyDead, g.log)
	if spectate {
		sess.Spectator = true
		sess.FollowID = followID
		sess.SetState(protocol.StateSpectator)
	} else {
		sess.ResidentID = claims.ResidentID
		sess.Passport = claims.Passport
		sess.SetState(protocol.StateQueued)
	}
	sess.Start()

	g.log.Info("session connected",
		zap.Uint64("session", id),
		zap.String("ip", sess.IP),
		zap.Bool("spectator", spectate),
	)

	select {
	case g.newConns <- sess:
	default:
		g.log.Warn("connection queue full, rejecting session")
		sess.Close()
	}
}
