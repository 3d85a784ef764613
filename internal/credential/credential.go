// Package credential stores and verifies the confirmation PIN. Only a bcrypt
// hash is ever persisted; the PIN itself is never logged or stored.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/jkaninda/warden/internal/secrets"
)

var (
	ErrNotConfigured = errors.New("no PIN configured")
	ErrPINTooShort   = errors.New("PIN too short")
)

// DefaultMinLength is the shortest PIN Set accepts.
const DefaultMinLength = 4

// Record is the persisted credential.
type Record struct {
	Hash      string    `json:"hash"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists the single credential record.
type Store interface {
	// Load returns ErrNotConfigured when no record exists.
	Load(ctx context.Context) (Record, error)
	Save(ctx context.Context, r Record) error
	// Clear removes the record. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// Vault hashes, stores and verifies the PIN.
type Vault struct {
	store  Store
	minLen int
	cost   int
	logger *slog.Logger
}

// Option configures a Vault.
type Option func(*Vault)

// WithMinLength sets the minimum PIN length. n <= 0 keeps the default.
func WithMinLength(n int) Option {
	return func(v *Vault) {
		if n > 0 {
			v.minLen = n
		}
	}
}

// WithCost sets the bcrypt cost. Tests use bcrypt.MinCost.
func WithCost(cost int) Option {
	return func(v *Vault) { v.cost = cost }
}

// NewVault creates a vault over store.
func NewVault(store Store, logger *slog.Logger, opts ...Option) *Vault {
	v := &Vault{
		store:  store,
		minLen: DefaultMinLength,
		cost:   bcrypt.DefaultCost,
		logger: logger,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Normalize trims surrounding whitespace. Nothing else is altered.
func Normalize(pin string) string {
	return strings.TrimSpace(pin)
}

// Configured reports whether a PIN has been set.
func (v *Vault) Configured(ctx context.Context) (bool, error) {
	_, err := v.store.Load(ctx)
	if errors.Is(err, ErrNotConfigured) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading credential: %w", err)
	}
	return true, nil
}

// Set replaces the stored PIN.
func (v *Vault) Set(ctx context.Context, pin string) error {
	pin = Normalize(pin)
	if len([]rune(pin)) < v.minLen {
		return fmt.Errorf("%w: must be at least %d characters", ErrPINTooShort, v.minLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), v.cost)
	if err != nil {
		return fmt.Errorf("hashing PIN: %w", err)
	}
	if err := v.store.Save(ctx, Record{Hash: string(hash), UpdatedAt: time.Now().UTC()}); err != nil {
		return fmt.Errorf("saving credential: %w", err)
	}
	v.logger.Info("PIN updated")
	return nil
}

// Verify compares pin with the stored hash. A mismatch is (false, nil);
// errors are reserved for storage failures and ErrNotConfigured.
func (v *Vault) Verify(ctx context.Context, pin string) (bool, error) {
	rec, err := v.store.Load(ctx)
	if err != nil {
		return false, err
	}
	err = bcrypt.CompareHashAndPassword([]byte(rec.Hash), []byte(Normalize(pin)))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("comparing PIN: %w", err)
	}
	return true, nil
}

// Clear removes the stored PIN.
func (v *Vault) Clear(ctx context.Context) error {
	if err := v.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing credential: %w", err)
	}
	v.logger.Info("PIN cleared")
	return nil
}

// Bootstrap sets the PIN from ref when none is configured yet. It reports
// whether a PIN was stored. An empty ref is a no-op.
func (v *Vault) Bootstrap(ctx context.Context, provider secrets.Provider, ref string) (bool, error) {
	if ref == "" {
		return false, nil
	}
	ok, err := v.Configured(ctx)
	if err != nil || ok {
		return false, err
	}
	s, err := provider.Resolve(ctx, ref)
	if err != nil {
		return false, fmt.Errorf("resolving PIN reference: %w", err)
	}
	if err := v.Set(ctx, s.Value); err != nil {
		return false, err
	}
	v.logger.Info("PIN bootstrapped from secret reference",
		slog.String("scheme", secrets.Scheme(ref)),
	)
	return true, nil
}
