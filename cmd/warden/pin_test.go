package main

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jkaninda/warden/internal/audit"
	"github.com/jkaninda/warden/internal/credential"
)

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Record(_ context.Context, e audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func TestReadNewPIN(t *testing.T) {
	pin, err := readNewPIN(strings.NewReader("4821\n"))
	require.NoError(t, err)
	assert.Equal(t, "4821", pin)

	pin, err = readNewPIN(strings.NewReader(" 4821 \n4821\n"))
	require.NoError(t, err)
	assert.Equal(t, "4821", pin)

	_, err = readNewPIN(strings.NewReader("4821\n1111\n"))
	assert.ErrorIs(t, err, errPINMismatch)

	_, err = readNewPIN(strings.NewReader(""))
	assert.Error(t, err)
}

func TestChangeAndClearPIN(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	vault := credential.NewVault(&credential.MemoryStore{}, logger,
		credential.WithCost(bcrypt.MinCost), credential.WithMinLength(4))
	sink := &recordingSink{}

	assert.ErrorIs(t, changePIN(ctx, vault, sink, "12"), credential.ErrPINTooShort)
	assert.Empty(t, sink.events)

	require.NoError(t, changePIN(ctx, vault, sink, "4821"))
	ok, err := vault.Verify(ctx, "4821")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, clearPIN(ctx, vault, sink))
	configured, err := vault.Configured(ctx)
	require.NoError(t, err)
	assert.False(t, configured)

	require.Len(t, sink.events, 2)
	for i, detail := range []string{"set", "cleared"} {
		assert.Equal(t, audit.KindPINChanged, sink.events[i].Kind)
		assert.Equal(t, detail, sink.events[i].Detail)
		assert.Equal(t, "cli", sink.events[i].Client)
	}
}
