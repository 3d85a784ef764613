// Package file implements the file-system capability handlers: read_file,
// write_file, delete_file, delete_folder and search_files.
//
// Every path goes through the same guard before any I/O: the raw string is
// rejected if it contains traversal or shell metacharacters, then resolved to
// its absolute, symlink-free form and checked against the configured
// allowlist (when one is configured).
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jkaninda/warden/internal/action"
	"github.com/jkaninda/warden/internal/capability"
)

// Config configures file handler restrictions.
type Config struct {
	AllowedPaths     []string // Path prefixes that are allowed. Empty = no prefix restriction.
	MaxFileSizeBytes int64    // Maximum file size for read/write. 0 = 10 MB default.
	SearchMaxResults int      // 0 = 20.
	SearchRoot       string   // Default root for search_files. Empty = home directory.
}

const (
	defaultMaxFileSize   = 10 << 20 // 10 MB
	defaultSearchResults = 20
)

// ErrUnsafePath is returned for paths containing forbidden sequences.
var ErrUnsafePath = errors.New("invalid path")

// forbidden are substrings rejected in any user-supplied path.
var forbidden = []string{"..", "~", "$", "|", "&", ";"}

// sanitize rejects paths carrying traversal or shell metacharacters.
func sanitize(raw string) (string, error) {
	p := strings.TrimSpace(raw)
	if p == "" {
		return "", fmt.Errorf("%w: path must not be empty", ErrUnsafePath)
	}
	for _, f := range forbidden {
		if strings.Contains(p, f) {
			return "", fmt.Errorf("%w: %q contains %q", ErrUnsafePath, raw, f)
		}
	}
	return p, nil
}

// guard resolves and checks paths against the allowlist.
type guard struct {
	allowed []string
}

// resolve sanitizes raw, resolves it to its absolute, symlink-free form and
// verifies it falls within one of the allowed prefixes.
func (g guard) resolve(raw string) (string, error) {
	p, err := sanitize(raw)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Not there yet (write case): resolve the parent instead.
		parent, parentErr := filepath.EvalSymlinks(filepath.Dir(abs))
		if parentErr != nil {
			return "", fmt.Errorf("path does not exist and parent is invalid: %w", err)
		}
		resolved = filepath.Join(parent, filepath.Base(abs))
	}

	if len(g.allowed) == 0 {
		return resolved, nil
	}
	for _, prefix := range g.allowed {
		absPrefix, err := filepath.Abs(prefix)
		if err != nil {
			continue
		}
		if r, err := filepath.EvalSymlinks(absPrefix); err == nil {
			absPrefix = r
		}
		// "/tmp" must match "/tmp/foo" but not "/tmpevil".
		if resolved == absPrefix || strings.HasPrefix(resolved, absPrefix+string(filepath.Separator)) {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("path %q resolves to %q which is outside allowed directories", raw, resolved)
}

func maxSize(cfg Config) int64 {
	if cfg.MaxFileSizeBytes > 0 {
		return cfg.MaxFileSizeBytes
	}
	return defaultMaxFileSize
}

// Handlers returns every file handler configured with cfg.
func Handlers(cfg Config, logger *slog.Logger) []capability.Handler {
	g := guard{allowed: cfg.AllowedPaths}
	return []capability.Handler{
		&ReadHandler{cfg: cfg, guard: g, logger: logger},
		&WriteHandler{cfg: cfg, guard: g, logger: logger},
		&DeleteHandler{guard: g, logger: logger},
		&DeleteFolderHandler{guard: g, logger: logger},
		&SearchHandler{cfg: cfg, guard: g, logger: logger},
	}
}

func pathSchema(extra map[string]any, required ...string) map[string]any {
	props := map[string]any{
		"path":   map[string]any{"type": "string", "description": "Path to the file or folder"},
		"target": map[string]any{"type": "string", "description": "Alias for path"},
	}
	for k, v := range extra {
		props[k] = v
	}
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// ---- read_file ----

// ReadHandler reads a file's contents.
type ReadHandler struct {
	cfg    Config
	guard  guard
	logger *slog.Logger
}

func (h *ReadHandler) Kind() action.Kind           { return action.KindReadFile }
func (h *ReadHandler) Description() string         { return "Read a text file" }
func (h *ReadHandler) InputSchema() map[string]any { return pathSchema(nil) }

func (h *ReadHandler) Invoke(_ context.Context, params action.Params) action.Result {
	raw, err := params.Require("path", "target")
	if err != nil {
		return action.Fail("%v", err)
	}
	path, err := h.guard.resolve(raw)
	if err != nil {
		return action.Fail("Invalid file path: %v", err)
	}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return action.Fail("File not found: %s", path)
	}
	if err != nil {
		return action.Fail("Error reading file: %v", err)
	}
	if info.IsDir() {
		return action.Fail("%s is a directory", path)
	}
	if info.Size() > maxSize(h.cfg) {
		return action.Fail("file size %d exceeds limit of %d bytes", info.Size(), maxSize(h.cfg))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return action.Fail("Error reading file: %v", err)
	}
	h.logger.Debug("file read", slog.String("path", path), slog.Int("bytes", len(data)))
	return action.Ok("Read %d bytes from %s", len(data), path).
		WithData("path", path).
		WithData("content", capability.TruncateOutput(string(data), capability.MaxOutputBytes))
}

// ---- write_file ----

// WriteHandler writes content to a file, replacing it.
type WriteHandler struct {
	cfg    Config
	guard  guard
	logger *slog.Logger
}

func (h *WriteHandler) Kind() action.Kind   { return action.KindWriteFile }
func (h *WriteHandler) Description() string { return "Write text content to a file" }
func (h *WriteHandler) InputSchema() map[string]any {
	return pathSchema(map[string]any{
		"content": map[string]any{"type": "string", "description": "Content to write"},
	})
}

func (h *WriteHandler) Invoke(_ context.Context, params action.Params) action.Result {
	raw, err := params.Require("path", "target")
	if err != nil {
		return action.Fail("%v", err)
	}
	path, err := h.guard.resolve(raw)
	if err != nil {
		return action.Fail("Invalid file path: %v", err)
	}
	content := params.String("content")
	if int64(len(content)) > maxSize(h.cfg) {
		return action.Fail("content size %d exceeds limit of %d bytes", len(content), maxSize(h.cfg))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return action.Fail("Error writing file: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return action.Fail("Error writing file: %v", err)
	}
	h.logger.Info("file written", slog.String("path", path), slog.Int("bytes", len(content)))
	return action.Ok("Written to %s", path).WithData("path", path)
}

// ---- delete_file ----

// DeleteHandler removes a single file.
type DeleteHandler struct {
	guard  guard
	logger *slog.Logger
}

func (h *DeleteHandler) Kind() action.Kind           { return action.KindDeleteFile }
func (h *DeleteHandler) Description() string         { return "Delete a file" }
func (h *DeleteHandler) InputSchema() map[string]any { return pathSchema(nil) }

func (h *DeleteHandler) Invoke(_ context.Context, params action.Params) action.Result {
	raw, err := params.Require("path", "target")
	if err != nil {
		return action.Fail("%v", err)
	}
	path, err := h.guard.resolve(raw)
	if err != nil {
		return action.Fail("Invalid file path: %v", err)
	}
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return action.Fail("File not found: %s", path)
	}
	if err != nil {
		return action.Fail("Error deleting file: %v", err)
	}
	if info.IsDir() {
		return action.Fail("%s is a directory, use delete_folder", path)
	}
	if err := os.Remove(path); err != nil {
		return action.Fail("Error deleting file: %v", err)
	}
	h.logger.Info("file deleted", slog.String("path", path))
	return action.Ok("Deleted %s", path).WithData("path", path)
}

// ---- delete_folder ----

// DeleteFolderHandler removes a directory tree.
type DeleteFolderHandler struct {
	guard  guard
	logger *slog.Logger
}

func (h *DeleteFolderHandler) Kind() action.Kind           { return action.KindDeleteFolder }
func (h *DeleteFolderHandler) Description() string         { return "Delete a folder and its contents" }
func (h *DeleteFolderHandler) InputSchema() map[string]any { return pathSchema(nil) }

func (h *DeleteFolderHandler) Invoke(_ context.Context, params action.Params) action.Result {
	raw, err := params.Require("path", "target")
	if err != nil {
		return action.Fail("%v", err)
	}
	path, err := h.guard.resolve(raw)
	if err != nil {
		return action.Fail("Invalid folder path: %v", err)
	}
	if path == string(filepath.Separator) || path == filepath.VolumeName(path)+string(filepath.Separator) {
		return action.Fail("refusing to delete filesystem root")
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return action.Fail("Folder not found: %s", path)
	}
	if err != nil {
		return action.Fail("Error deleting folder: %v", err)
	}
	if !info.IsDir() {
		return action.Fail("%s is not a directory", path)
	}
	if err := os.RemoveAll(path); err != nil {
		return action.Fail("Error deleting folder: %v", err)
	}
	h.logger.Info("folder deleted", slog.String("path", path))
	return action.Ok("Deleted folder %s", path).WithData("path", path)
}

// ---- search_files ----

// SearchHandler finds files whose name contains a term, case-insensitively.
type SearchHandler struct {
	cfg    Config
	guard  guard
	logger *slog.Logger
}

func (h *SearchHandler) Kind() action.Kind   { return action.KindSearchFiles }
func (h *SearchHandler) Description() string { return "Search for files by name" }
func (h *SearchHandler) InputSchema() map[string]any {
	return pathSchema(map[string]any{
		"query": map[string]any{"type": "string", "description": "Substring to look for in file names"},
		"name":  map[string]any{"type": "string", "description": "Alias for query"},
	})
}

func (h *SearchHandler) Invoke(ctx context.Context, params action.Params) action.Result {
	term, err := params.Require("query", "name", "target")
	if err != nil {
		return action.Fail("%v", err)
	}
	root := params.StringOr(h.cfg.SearchRoot, "path")
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return action.Fail("Error searching: %v", err)
		}
		root = home
	}
	root, err = h.guard.resolve(root)
	if err != nil {
		return action.Fail("Invalid search path: %v", err)
	}

	limit := h.cfg.SearchMaxResults
	if limit <= 0 {
		limit = defaultSearchResults
	}
	needle := strings.ToLower(term)
	results := make([]string, 0, limit)

	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		if strings.Contains(strings.ToLower(d.Name()), needle) {
			results = append(results, p)
			if len(results) >= limit {
				return fs.SkipAll
			}
		}
		return nil
	})
	if walkErr != nil {
		return action.Fail("Error searching: %v", walkErr)
	}

	h.logger.Debug("file search",
		slog.String("root", root),
		slog.Int("results", len(results)),
	)
	return action.Ok("Found %d results", len(results)).
		WithData("results", results).
		WithData("count", len(results))
}
