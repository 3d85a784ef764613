// Package web implements web_search and open_url. Both build a URL and hand
// it to an Opener; neither fetches anything itself.
package web

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jkaninda/warden/internal/action"
	"github.com/jkaninda/warden/internal/capability"
)

// Opener launches a URL in the user's browser.
type Opener interface {
	Open(ctx context.Context, url string) action.Result
}

// DefaultEngine is used when the requested engine is unknown.
const DefaultEngine = "google"

// Engines maps engine names to query URL prefixes.
var Engines = map[string]string{
	"google":     "https://www.google.com/search?q=",
	"youtube":    "https://www.youtube.com/results?search_query=",
	"bing":       "https://www.bing.com/search?q=",
	"duckduckgo": "https://duckduckgo.com/?q=",
}

// SearchURL builds the query URL for engine, falling back to DefaultEngine.
func SearchURL(engine, query string) (string, string) {
	engine = strings.ToLower(strings.TrimSpace(engine))
	prefix, ok := Engines[engine]
	if !ok {
		engine = DefaultEngine
		prefix = Engines[DefaultEngine]
	}
	return engine, prefix + url.QueryEscape(query)
}

// NormalizeURL prefixes https:// when the scheme is missing.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return "https://" + raw
}

// Handlers returns the web_search and open_url handlers.
func Handlers(opener Opener, logger *slog.Logger) []capability.Handler {
	return []capability.Handler{
		&searchHandler{opener: opener, logger: logger},
		&openHandler{opener: opener, logger: logger},
	}
}

type searchHandler struct {
	opener Opener
	logger *slog.Logger
}

func (h *searchHandler) Kind() action.Kind   { return action.KindWebSearch }
func (h *searchHandler) Description() string { return "Search the web in the default browser" }
func (h *searchHandler) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query":  map[string]any{"type": "string"},
			"engine": map[string]any{"type": "string", "description": "google, youtube, bing or duckduckgo"},
			"target": map[string]any{"type": "string"},
		},
	}
}

func (h *searchHandler) Invoke(ctx context.Context, params action.Params) action.Result {
	query, err := params.Require("query", "target")
	if err != nil {
		return action.Fail("%v", err)
	}
	engine, u := SearchURL(params.String("engine"), query)
	res := h.opener.Open(ctx, u)
	if !res.Success {
		return res
	}
	h.logger.Info("web search", slog.String("engine", engine))
	return action.Ok("Searching %s for '%s'", engine, query).WithData("url", u)
}

type openHandler struct {
	opener Opener
	logger *slog.Logger
}

func (h *openHandler) Kind() action.Kind   { return action.KindOpenURL }
func (h *openHandler) Description() string { return "Open a URL in the default browser" }
func (h *openHandler) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url":    map[string]any{"type": "string"},
			"target": map[string]any{"type": "string"},
		},
	}
}

func (h *openHandler) Invoke(ctx context.Context, params action.Params) action.Result {
	raw, err := params.Require("url", "target")
	if err != nil {
		return action.Fail("%v", err)
	}
	u := NormalizeURL(raw)
	if _, err := url.ParseRequestURI(u); err != nil {
		return action.Fail("Invalid URL: %s", raw)
	}
	res := h.opener.Open(ctx, u)
	if !res.Success {
		return res
	}
	return action.Ok("Opening %s", u).WithData("url", u)
}
