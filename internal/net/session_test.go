package net

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/thecity/server/internal/config"
	"github.com/thecity/server/internal/protocol"
	"github.com/thecity/server/internal/token"
)

// pairedSession upgrades one websocket connection and returns both ends.
func pairedSession(t *testing.T, outSize int) (*Session, *websocket.Conn) {
	t.Helper()
	connCh := make(chan *websocket.Conn, 1)
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		require.NoError(t, err)
		connCh <- c
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	serverConn := <-connCh
	sess := NewSession(serverConn, 1, 16, outSize, 0, nil, zap.NewNop())
	return sess, client
}

func TestSessionDeliversFramesToGameLoop(t *testing.T) {
	sess, client := pairedSession(t, 16)
	sess.Start()
	defer sess.Close()

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop"}`)))

	select {
	case frame := <-sess.InQueue:
		assert.JSONEq(t, `{"type":"stop"}`, string(frame))
	case <-time.After(2 * time.Second):
		t.Fatal("frame never reached InQueue")
	}
}

func TestSessionFlushWritesFrames(t *testing.T) {
	sess, client := pairedSession(t, 16)
	sess.Start()
	defer sess.Close()

	sess.Send(KindCritical, protocol.ResultOK("r1", nil))
	sess.FlushOutput()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"action_result"`)
}

func TestFlushDropsStalePerception(t *testing.T) {
	sess, _ := pairedSession(t, 1)
	// Writer pump not started, so OutQueue never drains.
	defer sess.Close()

	sess.Send(KindPerception, protocol.PerceptionMsg{Type: protocol.SPerception, Tick: 1})
	sess.Send(KindPerception, protocol.PerceptionMsg{Type: protocol.SPerception, Tick: 2})
	sess.Send(KindPerception, protocol.PerceptionMsg{Type: protocol.SPerception, Tick: 3})
	sess.FlushOutput()

	assert.False(t, sess.IsClosed(), "dropping perception must not kill the session")
	assert.Len(t, sess.OutQueue, 1)
}

func TestFlushClosesOnCriticalOverflow(t *testing.T) {
	sess, _ := pairedSession(t, 1)
	defer sess.Close()

	sess.Send(KindCritical, protocol.ResultOK("a", nil))
	sess.Send(KindCritical, protocol.ResultOK("b", nil))
	sess.FlushOutput()

	assert.True(t, sess.IsClosed(), "undeliverable critical frame must disconnect")
}

func TestGatewayRejectsBadCredential(t *testing.T) {
	auth, err := token.NewAuthority("", time.Hour)
	require.NoError(t, err)
	g := NewGateway(config.Defaults().Network, auth, zap.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(g.handleConnect))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=forged"
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = client.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, CloseBadCredential, closeErr.Code)
}

func TestGatewayBindsClaimsToSession(t *testing.T) {
	auth, err := token.NewAuthority("", time.Hour)
	require.NoError(t, err)
	g := NewGateway(config.Defaults().Network, auth, zap.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(g.handleConnect))
	defer srv.Close()

	cred, err := auth.Issue(99, "CITY-TESTTEST", "AGENT")
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + cred
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	select {
	case sess := <-g.NewSessions():
		assert.Equal(t, int64(99), sess.ResidentID)
		assert.Equal(t, "CITY-TESTTEST", sess.Passport)
		assert.Equal(t, protocol.StateQueued, sess.State())
		assert.False(t, sess.Spectator)
		sess.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("session never surfaced")
	}
}

func TestGatewayAdmitsSpectators(t *testing.T) {
	auth, err := token.NewAuthority("", time.Hour)
	require.NoError(t, err)
	g := NewGateway(config.Defaults().Network, auth, zap.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(g.handleConnect))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?spectate=42"
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	select {
	case sess := <-g.NewSessions():
		assert.True(t, sess.Spectator)
		assert.Equal(t, int64(42), sess.FollowID)
		assert.Equal(t, protocol.StateSpectator, sess.State())
		sess.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("session never surfaced")
	}
}
