package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jkaninda/warden/internal/action"
	"github.com/jkaninda/warden/internal/capability"
	"github.com/jkaninda/warden/internal/classifier"
	"github.com/jkaninda/warden/internal/config"
	"github.com/jkaninda/warden/internal/credential"
	"github.com/jkaninda/warden/internal/dispatcher"
	"github.com/jkaninda/warden/internal/gateway/auth"
	"github.com/jkaninda/warden/internal/protocol"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	vault := credential.NewVault(&credential.MemoryStore{}, logger, credential.WithCost(bcrypt.MinCost))
	require.NoError(t, vault.Set(context.Background(), "1234"))

	reg := capability.NewRegistry()
	reg.Register(capability.HandlerFunc{K: action.KindDeleteFile, Fn: func(context.Context, action.Params) action.Result {
		return action.Ok("deleted")
	}})
	d := dispatcher.New(classifier.MustNew(), reg, vault, dispatcher.WithLogger(logger))

	s := NewServer(d, auth.New(map[string]string{"ws-token": "phone"}, "", ""), &config.WebSocketGatewayConfig{Enabled: true}, logger)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, ts *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + token
	return websocket.Dial(ctx, url, &websocket.DialOptions{Subprotocols: []string{protocol.Subprotocol}})
}

func roundTrip(t *testing.T, conn *websocket.Conn, msgType protocol.MessageType, payload any) *protocol.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	env, err := protocol.NewEnvelope(msgType, payload)
	require.NoError(t, err)
	data, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))

	reply := read(t, conn)
	assert.Equal(t, env.ID, reply.ReplyTo)
	return reply
}

func read(t *testing.T, conn *websocket.Conn) *protocol.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return &env
}

func TestServer_RejectsBadToken(t *testing.T) {
	ts := newTestServer(t)
	_, resp, err := dial(t, ts, "nope")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_ConfirmFlow(t *testing.T) {
	ts := newTestServer(t)
	conn, _, err := dial(t, ts, "ws-token")
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ready := read(t, conn)
	require.Equal(t, protocol.MsgReady, ready.Type)
	var rp protocol.ReadyPayload
	require.NoError(t, ready.Decode(&rp))
	assert.Equal(t, "ws:phone", rp.Client)
	assert.Equal(t, dispatcher.StateIdle, rp.State)

	reply := roundTrip(t, conn, protocol.MsgActionSubmit, action.Request{
		Kind:       action.KindDeleteFile,
		Parameters: action.Params{"path": "/tmp/a"},
	})
	require.Equal(t, protocol.MsgOutcome, reply.Type)
	var out dispatcher.Outcome
	require.NoError(t, reply.Decode(&out))
	assert.Equal(t, dispatcher.PinRequired, out.Kind)

	reply = roundTrip(t, conn, protocol.MsgStateGet, nil)
	require.Equal(t, protocol.MsgState, reply.Type)
	var st protocol.StatePayload
	require.NoError(t, reply.Decode(&st))
	assert.Equal(t, dispatcher.StateAwaitingPIN, st.State)
	require.NotNil(t, st.Pending)

	reply = roundTrip(t, conn, protocol.MsgPINConfirm, protocol.ConfirmPayload{PIN: "1234"})
	out = dispatcher.Outcome{}
	require.NoError(t, reply.Decode(&out))
	assert.Equal(t, dispatcher.Executed, out.Kind)
	assert.Equal(t, "deleted", out.Message)

	reply = roundTrip(t, conn, protocol.MsgActionCancel, nil)
	out = dispatcher.Outcome{}
	require.NoError(t, reply.Decode(&out))
	assert.Equal(t, dispatcher.ReasonCancelled, out.Reason)
}

func TestServer_ProtocolErrors(t *testing.T) {
	ts := newTestServer(t)
	conn, _, err := dial(t, ts, "ws-token")
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	_ = read(t, conn) // ready

	reply := roundTrip(t, conn, "task.assign", nil)
	require.Equal(t, protocol.MsgError, reply.Type)
	var ep protocol.ErrorPayload
	require.NoError(t, reply.Decode(&ep))
	assert.Equal(t, protocol.CodeUnsupported, ep.Code)

	reply = roundTrip(t, conn, protocol.MsgPINConfirm, protocol.ConfirmPayload{})
	require.Equal(t, protocol.MsgError, reply.Type)
	require.NoError(t, reply.Decode(&ep))
	assert.Equal(t, protocol.CodeBadMessage, ep.Code)

	reply = roundTrip(t, conn, protocol.MsgActionSubmit, map[string]any{"parameters": map[string]any{}})
	require.Equal(t, protocol.MsgError, reply.Type)
}
