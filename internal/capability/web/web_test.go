package web

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/jkaninda/warden/internal/action"
)

type recordingOpener struct {
	urls []string
	fail bool
}

func (r *recordingOpener) Open(_ context.Context, u string) action.Result {
	r.urls = append(r.urls, u)
	if r.fail {
		return action.Fail("no browser")
	}
	return action.Ok("opened")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSearchURL(t *testing.T) {
	tests := []struct {
		engine, query string
		wantEngine    string
		wantURL       string
	}{
		{"google", "go generics", "google", "https://www.google.com/search?q=go+generics"},
		{"YouTube", "lofi", "youtube", "https://www.youtube.com/results?search_query=lofi"},
		{"duckduckgo", "a&b", "duckduckgo", "https://duckduckgo.com/?q=a%26b"},
		{"altavista", "x", "google", "https://www.google.com/search?q=x"},
		{"", "x", "google", "https://www.google.com/search?q=x"},
	}
	for _, tt := range tests {
		engine, u := SearchURL(tt.engine, tt.query)
		if engine != tt.wantEngine || u != tt.wantURL {
			t.Errorf("SearchURL(%q, %q) = %q, %q", tt.engine, tt.query, engine, u)
		}
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := map[string]string{
		"github.com":         "https://github.com",
		"http://example.com": "http://example.com",
		" https://x.org/a ":  "https://x.org/a",
	}
	for in, want := range tests {
		if got := NormalizeURL(in); got != want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHandlers(t *testing.T) {
	op := &recordingOpener{}
	hs := Handlers(op, testLogger())
	search, open := hs[0], hs[1]

	res := search.Invoke(context.Background(), action.Params{"query": "weather", "engine": "bing"})
	if !res.Success || res.Message != "Searching bing for 'weather'" {
		t.Errorf("search = %+v", res)
	}
	res = open.Invoke(context.Background(), action.Params{"target": "github.com"})
	if !res.Success || res.Message != "Opening https://github.com" {
		t.Errorf("open = %+v", res)
	}
	if len(op.urls) != 2 || op.urls[1] != "https://github.com" {
		t.Errorf("opened = %v", op.urls)
	}

	if res := open.Invoke(context.Background(), action.Params{}); res.Success {
		t.Error("missing url should fail")
	}
}

func TestOpenerFailurePropagates(t *testing.T) {
	op := &recordingOpener{fail: true}
	res := Handlers(op, testLogger())[1].Invoke(context.Background(), action.Params{"url": "x.org"})
	if res.Success || res.Message != "no browser" {
		t.Errorf("unexpected result %+v", res)
	}
}
