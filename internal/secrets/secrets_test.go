package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestScheme(t *testing.T) {
	tests := map[string]string{
		"env://WARDEN_PIN":      "env",
		"file:///run/secrets/x": "file",
		"1234":                  "",
	}
	for ref, want := range tests {
		if got := Scheme(ref); got != want {
			t.Errorf("Scheme(%q) = %q, want %q", ref, got, want)
		}
		if IsRef(ref) != (want != "") {
			t.Errorf("IsRef(%q) wrong", ref)
		}
	}
}

func TestEnvProvider(t *testing.T) {
	t.Setenv("WARDEN_TEST_SECRET", "s3cret")
	p := NewEnvProvider()

	s, err := p.Resolve(context.Background(), "env://WARDEN_TEST_SECRET")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.Value != "s3cret" || s.Metadata["variable"] != "WARDEN_TEST_SECRET" {
		t.Errorf("secret = %+v", s)
	}

	for _, ref := range []string{"env://", "env://WARDEN_TEST_UNSET_VAR", "file:///x"} {
		if _, err := p.Resolve(context.Background(), ref); !errors.Is(err, ErrSecretNotFound) {
			t.Errorf("Resolve(%q) err = %v, want ErrSecretNotFound", ref, err)
		}
	}
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pin")
	if err := os.WriteFile(path, []byte("4321\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	p := NewFileProvider()

	s, err := p.Resolve(context.Background(), "file://"+path)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.Value != "4321" {
		t.Errorf("value = %q", s.Value)
	}

	empty := filepath.Join(dir, "empty")
	if err := os.WriteFile(empty, []byte("\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	for _, ref := range []string{"file://" + empty, "file://" + filepath.Join(dir, "missing")} {
		if _, err := p.Resolve(context.Background(), ref); !errors.Is(err, ErrSecretNotFound) {
			t.Errorf("Resolve(%q) err = %v", ref, err)
		}
	}
}

func TestCompositeProvider_RoutesByScheme(t *testing.T) {
	t.Setenv("WARDEN_TEST_SECRET", "from-env")
	p := Default()

	s, err := p.Resolve(context.Background(), "env://WARDEN_TEST_SECRET")
	if err != nil || s.Value != "from-env" {
		t.Fatalf("Resolve = %+v, %v", s, err)
	}
	if _, err := p.Resolve(context.Background(), "vault://secret/data/x#pin"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("unknown scheme err = %v", err)
	}
}
