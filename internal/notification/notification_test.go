package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaninda/warden/internal/action"
	"github.com/jkaninda/warden/internal/audit"
	"github.com/jkaninda/warden/internal/config"
	"github.com/jkaninda/warden/internal/secrets"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeSender struct {
	mu   sync.Mutex
	msgs []*Message
	err  error
}

func (f *fakeSender) Type() string { return "fake" }
func (f *fakeSender) Name() string { return "fake" }
func (f *fakeSender) Send(_ context.Context, m *Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, m)
	return f.err
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func lockoutEvent() audit.Event {
	e := audit.New(audit.KindLockout, action.Request{Kind: action.KindDeleteFile})
	e.Client = "http:phone"
	return e
}

func TestFromEvent(t *testing.T) {
	m := FromEvent(lockoutEvent())
	assert.Equal(t, "Warden: lockout", m.Subject)
	assert.Contains(t, m.Body, "delete_file")
	assert.Contains(t, m.Body, "http:phone")
	assert.Equal(t, "lockout", m.Metadata["kind"])
}

func TestNotifier_FiltersAndDelivers(t *testing.T) {
	ok := &fakeSender{}
	failing := &fakeSender{err: errors.New("down")}
	n := NewNotifier([]Sender{failing, ok}, []audit.Kind{audit.KindLockout}, testLogger())
	n.Start(context.Background())

	ctx := context.Background()
	require.NoError(t, n.Record(ctx, audit.New(audit.KindActionExecuted, action.Request{})))
	require.NoError(t, n.Record(ctx, lockoutEvent()))
	n.Close()

	assert.Equal(t, 1, ok.count(), "failure on one channel must not stop the others")
	assert.Equal(t, 1, failing.count())

	// Recording after Close is a no-op.
	assert.NoError(t, n.Record(ctx, lockoutEvent()))
	n.Close()
}

func TestNotifier_QueueFull(t *testing.T) {
	n := NewNotifier(nil, []audit.Kind{audit.KindPINFailed}, testLogger())
	ev := audit.New(audit.KindPINFailed, action.Request{})
	for i := 0; i < queueSize; i++ {
		require.NoError(t, n.Record(context.Background(), ev))
	}
	assert.ErrorIs(t, n.Record(context.Background(), ev), ErrQueueFull)
}

func TestWebhookSender(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	s := NewWebhookSender("ops", ts.URL, true, testLogger())
	require.NoError(t, s.Send(context.Background(), FromEvent(lockoutEvent())))
	assert.Equal(t, "ops", got["channel"])
	assert.Equal(t, "Warden: lockout", got["subject"])
	event, ok := got["event"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "lockout", event["kind"])

	strict := NewWebhookSender("ops", ts.URL, false, testLogger())
	err := strict.Send(context.Background(), FromEvent(lockoutEvent()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")
}

func TestValidateWebhookURL(t *testing.T) {
	assert.Error(t, validateWebhookURL("ftp://example.com", true))
	assert.Error(t, validateWebhookURL("http://localhost/hook", false))
	assert.NoError(t, validateWebhookURL("http://localhost/hook", true))
}

func TestSlackSender(t *testing.T) {
	tests := []struct {
		name    string
		respond string
		wantErr string
	}{
		{"ok", `{"ok":true}`, ""},
		{"api error", `{"ok":false,"error":"channel_not_found"}`, "channel_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "Bearer xoxb-1", r.Header.Get("Authorization"))
				var body map[string]string
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "C1", body["channel"])
				assert.True(t, strings.HasPrefix(body["text"], "*Warden: lockout*"))
				_, _ = io.WriteString(w, tt.respond)
			}))
			defer ts.Close()

			s := NewSlackSender("slack", "xoxb-1", "C1", testLogger())
			s.apiURL = ts.URL
			err := s.Send(context.Background(), FromEvent(lockoutEvent()))
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestTelegramSender(t *testing.T) {
	var path string
	var body map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	s := NewTelegramSender("tg", "123:abc", "42", testLogger())
	s.apiBase = ts.URL + "/bot"
	require.NoError(t, s.Send(context.Background(), FromEvent(lockoutEvent())))
	assert.Equal(t, "/bot123:abc/sendMessage", path)
	assert.Equal(t, "42", body["chat_id"])
	assert.Contains(t, body["text"], `delete\_file`)
}

func TestNew(t *testing.T) {
	n, err := New(context.Background(), nil, secrets.Default(), testLogger())
	require.NoError(t, err)
	assert.Nil(t, n)

	t.Setenv("WARDEN_TEST_TG_TOKEN", "123:abc")
	cfg := &config.AlertsConfig{
		Events: []string{"lockout"},
		Channels: []config.AlertChannelConfig{
			{Name: "hook", Type: config.AlertChannelWebhook, URL: "https://example.com/hook"},
			{Name: "tg", Type: config.AlertChannelTelegram, TokenRef: "env://WARDEN_TEST_TG_TOKEN", ChatID: "42"},
		},
	}
	n, err = New(context.Background(), cfg, secrets.Default(), testLogger())
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Len(t, n.senders, 2)
	_, selected := n.kinds[audit.KindLockout]
	assert.True(t, selected)

	cfg.Channels[1].TokenRef = "env://WARDEN_TEST_MISSING_TOKEN"
	_, err = New(context.Background(), cfg, secrets.Default(), testLogger())
	assert.Error(t, err)
}
