package file

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jkaninda/warden/internal/action"
	"github.com/jkaninda/warden/internal/capability"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func handler(t *testing.T, cfg Config, kind action.Kind) capability.Handler {
	t.Helper()
	for _, h := range Handlers(cfg, testLogger()) {
		if h.Kind() == kind {
			return h
		}
	}
	t.Fatalf("no handler for %s", kind)
	return nil
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"/tmp/report.txt", false},
		{"/tmp/../etc/passwd", true},
		{"~/secrets", true},
		{"/tmp/$HOME", true},
		{"/tmp/a|b", true},
		{"/tmp/a&b", true},
		{"/tmp/a;rm", true},
		{"   ", true},
	}
	for _, tt := range tests {
		_, err := sanitize(tt.path)
		if (err != nil) != tt.wantErr {
			t.Errorf("sanitize(%q) err = %v, wantErr %v", tt.path, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrUnsafePath) {
			t.Errorf("sanitize(%q) err not ErrUnsafePath: %v", tt.path, err)
		}
	}
}

func TestGuard_Allowlist(t *testing.T) {
	allowed := t.TempDir()
	outside := t.TempDir()
	g := guard{allowed: []string{allowed}}

	if _, err := g.resolve(filepath.Join(allowed, "a.txt")); err != nil {
		t.Errorf("path inside allowlist rejected: %v", err)
	}
	if _, err := g.resolve(filepath.Join(outside, "a.txt")); err == nil {
		t.Error("path outside allowlist accepted")
	}
	if _, err := g.resolve(allowed + "evil/a.txt"); err == nil {
		t.Error("sibling prefix accepted")
	}
}

func TestGuard_SymlinkEscape(t *testing.T) {
	allowed := t.TempDir()
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(secret, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(allowed, "link.txt")
	if err := os.Symlink(secret, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if _, err := (guard{allowed: []string{allowed}}).resolve(link); err == nil {
		t.Error("symlink escaping the allowlist was accepted")
	}
}

func TestWriteReadDelete(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{AllowedPaths: []string{dir}}
	path := filepath.Join(dir, "notes", "a.txt")
	ctx := context.Background()

	res := handler(t, cfg, action.KindWriteFile).Invoke(ctx, action.Params{"path": path, "content": "hello"})
	if !res.Success {
		t.Fatalf("write: %s", res.Message)
	}

	res = handler(t, cfg, action.KindReadFile).Invoke(ctx, action.Params{"target": path})
	if !res.Success {
		t.Fatalf("read: %s", res.Message)
	}
	if res.Data["content"] != "hello" {
		t.Errorf("content = %v", res.Data["content"])
	}

	res = handler(t, cfg, action.KindDeleteFile).Invoke(ctx, action.Params{"path": path})
	if !res.Success {
		t.Fatalf("delete: %s", res.Message)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file still exists after delete")
	}

	res = handler(t, cfg, action.KindDeleteFile).Invoke(ctx, action.Params{"path": path})
	if res.Success || !strings.HasPrefix(res.Message, "File not found") {
		t.Errorf("second delete = %+v", res)
	}
}

func TestRead_SizeLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.txt")
	if err := os.WriteFile(path, []byte(strings.Repeat("x", 100)), 0o600); err != nil {
		t.Fatal(err)
	}
	res := handler(t, Config{MaxFileSizeBytes: 10}, action.KindReadFile).
		Invoke(context.Background(), action.Params{"path": path})
	if res.Success {
		t.Error("expected size limit failure")
	}
}

func TestRead_MissingParam(t *testing.T) {
	res := handler(t, Config{}, action.KindReadFile).Invoke(context.Background(), action.Params{})
	if res.Success || res.Message != "missing required parameter: path" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestDeleteFolder(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "tree")
	if err := os.MkdirAll(filepath.Join(target, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(target, "sub", "f"), nil, 0o600); err != nil {
		t.Fatal(err)
	}
	h := handler(t, Config{}, action.KindDeleteFolder)

	res := h.Invoke(context.Background(), action.Params{"path": target})
	if !res.Success {
		t.Fatalf("delete_folder: %s", res.Message)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("folder still exists")
	}

	res = h.Invoke(context.Background(), action.Params{"path": "/"})
	if res.Success {
		t.Error("deleting root must fail")
	}
}

func TestSearch(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"Report-2024.pdf", "report.txt", "other.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}
	h := handler(t, Config{}, action.KindSearchFiles)

	res := h.Invoke(context.Background(), action.Params{"query": "REPORT", "path": dir})
	if !res.Success {
		t.Fatalf("search: %s", res.Message)
	}
	if res.Data["count"] != 2 {
		t.Errorf("count = %v, want 2", res.Data["count"])
	}
}

func TestSearch_MaxResults(t *testing.T) {
	dir := t.TempDir()
	for i := range 30 {
		name := filepath.Join(dir, "match-"+string(rune('a'+i%26))+string(rune('a'+i/26))+".log")
		if err := os.WriteFile(name, nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}
	res := handler(t, Config{}, action.KindSearchFiles).
		Invoke(context.Background(), action.Params{"query": "match", "path": dir})
	if !res.Success {
		t.Fatalf("search: %s", res.Message)
	}
	if res.Data["count"] != defaultSearchResults {
		t.Errorf("count = %v, want %d", res.Data["count"], defaultSearchResults)
	}
}

func TestHandlers_PublishValidSchemas(t *testing.T) {
	reg := capability.NewRegistry()
	for _, h := range Handlers(Config{}, testLogger()) {
		reg.Register(h)
	}
	if err := reg.Validate(action.KindWriteFile, action.Params{"path": "/tmp/x", "content": 3}); err == nil {
		t.Error("non-string content should fail schema validation")
	}
}
