package credential

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/jkaninda/warden/internal/secrets"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newVault(s Store) *Vault {
	return NewVault(s, testLogger(), WithCost(bcrypt.MinCost))
}

func TestVault_SetVerify(t *testing.T) {
	ctx := context.Background()
	v := newVault(&MemoryStore{})

	if ok, _ := v.Configured(ctx); ok {
		t.Fatal("fresh vault reports configured")
	}
	if _, err := v.Verify(ctx, "1234"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Verify err = %v, want ErrNotConfigured", err)
	}

	if err := v.Set(ctx, "  1234\n"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	tests := []struct {
		pin  string
		want bool
	}{
		{"1234", true},
		{" 1234 ", true},
		{"0000", false},
		{"12 34", false},
		{"", false},
	}
	for _, tt := range tests {
		got, err := v.Verify(ctx, tt.pin)
		if err != nil {
			t.Fatalf("Verify(%q): %v", tt.pin, err)
		}
		if got != tt.want {
			t.Errorf("Verify(%q) = %v, want %v", tt.pin, got, tt.want)
		}
	}
}

func TestVault_MinLength(t *testing.T) {
	v := newVault(&MemoryStore{})
	if err := v.Set(context.Background(), " 12 "); !errors.Is(err, ErrPINTooShort) {
		t.Errorf("err = %v, want ErrPINTooShort", err)
	}
	v6 := NewVault(&MemoryStore{}, testLogger(), WithCost(bcrypt.MinCost), WithMinLength(6))
	if err := v6.Set(context.Background(), "12345"); !errors.Is(err, ErrPINTooShort) {
		t.Errorf("err = %v, want ErrPINTooShort", err)
	}
}

func TestVault_Clear(t *testing.T) {
	ctx := context.Background()
	v := newVault(&MemoryStore{})
	_ = v.Set(ctx, "1234")
	if err := v.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if ok, _ := v.Configured(ctx); ok {
		t.Error("still configured after Clear")
	}
}

func TestVault_Bootstrap(t *testing.T) {
	ctx := context.Background()
	t.Setenv("WARDEN_TEST_PIN", "9876")
	v := newVault(&MemoryStore{})

	stored, err := v.Bootstrap(ctx, secrets.Default(), "env://WARDEN_TEST_PIN")
	if err != nil || !stored {
		t.Fatalf("Bootstrap = %v, %v", stored, err)
	}
	if ok, _ := v.Verify(ctx, "9876"); !ok {
		t.Error("bootstrapped PIN does not verify")
	}

	// Existing PIN is never replaced.
	t.Setenv("WARDEN_TEST_PIN", "1111")
	stored, err = v.Bootstrap(ctx, secrets.Default(), "env://WARDEN_TEST_PIN")
	if err != nil || stored {
		t.Errorf("second Bootstrap = %v, %v", stored, err)
	}

	if stored, _ := newVault(&MemoryStore{}).Bootstrap(ctx, secrets.Default(), ""); stored {
		t.Error("empty ref should be a no-op")
	}
	if _, err := newVault(&MemoryStore{}).Bootstrap(ctx, secrets.Default(), "env://WARDEN_TEST_UNSET_PIN"); err == nil {
		t.Error("unresolvable ref should fail")
	}
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "credential.json")
	s := NewFileStore(path)

	if _, err := s.Load(ctx); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Load err = %v", err)
	}

	v := newVault(s)
	if err := v.Set(ctx, "4321"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v", info.Mode().Perm())
	}
	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "4321") {
		t.Error("PIN stored in clear text")
	}

	// A second store over the same file sees the record.
	if ok, _ := newVault(NewFileStore(path)).Verify(ctx, "4321"); !ok {
		t.Error("record not persisted")
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Errorf("second Clear: %v", err)
	}
}
