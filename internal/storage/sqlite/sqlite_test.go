package sqlite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jkaninda/warden/internal/action"
	"github.com/jkaninda/warden/internal/audit"
	"github.com/jkaninda/warden/internal/credential"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "warden.db")}, logger)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Basics(t *testing.T) {
	s := openTestStore(t)
	assert.Equal(t, "sqlite", s.Driver())
	assert.NoError(t, s.Ping(context.Background()))
	assert.Same(t, s.Audit(), s.Audit(), "sub-store should be created once")
}

func TestAudit_AppendQuery(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t).Audit()

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	ok := true
	events := []audit.Event{
		{Kind: audit.KindDangerousDetected, ActionKind: action.KindDeleteFile, OriginText: "delete report", Rule: `\bdelete\b`, Category: "destructive"},
		{Kind: audit.KindPINFailed, ActionKind: action.KindDeleteFile},
		{Kind: audit.KindPINVerified, ActionKind: action.KindDeleteFile, Verified: true},
		{Kind: audit.KindActionExecuted, ActionKind: action.KindDeleteFile, Verified: true, Success: &ok},
		{Kind: audit.KindLockout, ActionKind: action.KindShutdown},
	}
	for i := range events {
		e := audit.New(events[i].Kind, action.Request{})
		e.ActionKind = events[i].ActionKind
		e.OriginText = events[i].OriginText
		e.Verified = events[i].Verified
		e.Rule = events[i].Rule
		e.Category = events[i].Category
		e.Success = events[i].Success
		e.Timestamp = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, st.Append(ctx, e))
	}

	all, err := st.Query(ctx, audit.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, audit.KindLockout, all[0].Kind, "newest first")
	assert.Equal(t, `\bdelete\b`, all[4].Rule)
	assert.Equal(t, "delete report", all[4].OriginText)

	byKind, err := st.Query(ctx, audit.Filter{Kinds: []audit.Kind{audit.KindPINFailed, audit.KindPINVerified}})
	require.NoError(t, err)
	assert.Len(t, byKind, 2)

	byAction, err := st.Query(ctx, audit.Filter{ActionKind: action.KindShutdown})
	require.NoError(t, err)
	assert.Len(t, byAction, 1)

	window, err := st.Query(ctx, audit.Filter{Since: base.Add(time.Minute), Until: base.Add(3 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, window, 2)

	limited, err := st.Query(ctx, audit.Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	executed, err := st.Query(ctx, audit.Filter{Kinds: []audit.Kind{audit.KindActionExecuted}})
	require.NoError(t, err)
	require.Len(t, executed, 1)
	require.NotNil(t, executed[0].Success)
	assert.True(t, *executed[0].Success)
}

func TestCredentials(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	v := credential.NewVault(s.Credentials(), logger, credential.WithCost(bcrypt.MinCost))

	_, err := s.Credentials().Load(ctx)
	assert.True(t, errors.Is(err, credential.ErrNotConfigured))

	require.NoError(t, v.Set(ctx, "1234"))
	require.NoError(t, v.Set(ctx, "5678"), "second Set must upsert")

	got, err := v.Verify(ctx, "5678")
	require.NoError(t, err)
	assert.True(t, got)
	got, err = v.Verify(ctx, "1234")
	require.NoError(t, err)
	assert.False(t, got)

	require.NoError(t, v.Clear(ctx))
	configured, err := v.Configured(ctx)
	require.NoError(t, err)
	assert.False(t, configured)
}
