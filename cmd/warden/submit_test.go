package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaninda/warden/internal/action"
	"github.com/jkaninda/warden/internal/dispatcher"
	"github.com/jkaninda/warden/internal/gateway/httpapi"
)

func TestExitCodeFor(t *testing.T) {
	ok := action.Ok("done")
	failed := action.Fail("boom")
	tests := []struct {
		name   string
		status int
		out    dispatcher.Outcome
		want   int
	}{
		{"executed", http.StatusOK, dispatcher.Outcome{Kind: dispatcher.Executed, Result: &ok}, ExitSuccess},
		{"executed but failed", http.StatusOK, dispatcher.Outcome{Kind: dispatcher.Executed, Result: &failed}, ExitFailure},
		{"pin required", http.StatusAccepted, dispatcher.Outcome{Kind: dispatcher.PinRequired}, ExitDenied},
		{"wrong pin", http.StatusUnprocessableEntity, dispatcher.Outcome{}, ExitDenied},
		{"locked out", http.StatusLocked, dispatcher.Outcome{}, ExitDenied},
		{"unauthorized", http.StatusUnauthorized, dispatcher.Outcome{}, ExitDenied},
		{"rate limited", http.StatusTooManyRequests, dispatcher.Outcome{}, ExitDenied},
		{"no credential", http.StatusServiceUnavailable, dispatcher.Outcome{}, ExitUnavailable},
		{"bad request", http.StatusBadRequest, dispatcher.Outcome{}, ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeFor(tt.status, tt.out))
		})
	}
}

// fakeGateway holds one action until /v1/confirm arrives with pin 1234.
func fakeGateway(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/actions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		var req httpapi.ActionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Kind == "read_file" {
			res := action.Ok("read %v", req.Parameters["path"])
			writeJSON(w, http.StatusOK, dispatcher.Outcome{Kind: dispatcher.Executed, Result: &res, Message: res.Message})
			return
		}
		writeJSON(w, http.StatusAccepted, dispatcher.Outcome{Kind: dispatcher.PinRequired, Message: "PIN required", Remaining: 3})
	})
	mux.HandleFunc("/v1/confirm", func(w http.ResponseWriter, r *http.Request) {
		var req httpapi.ConfirmRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.PIN != "1234" {
			writeJSON(w, http.StatusUnprocessableEntity, dispatcher.Outcome{
				Kind: dispatcher.Rejected, Reason: dispatcher.ReasonVerificationFailed, Message: "Incorrect PIN",
			})
			return
		}
		res := action.Ok("deleted")
		writeJSON(w, http.StatusOK, dispatcher.Outcome{Kind: dispatcher.Executed, Result: &res, Message: "deleted"})
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func resetSubmitFlags(t *testing.T, url string) {
	t.Helper()
	t.Setenv("WARDEN_URL", url)
	t.Setenv("WARDEN_API_KEY", "key-1")
	submitPIN, submitOrigin, submitJSON = "", "", false
	submitTimeout = 5
	t.Cleanup(func() { submitPIN = "" })
}

func TestRunSubmit(t *testing.T) {
	ts := fakeGateway(t)

	t.Run("safe action", func(t *testing.T) {
		resetSubmitFlags(t, ts.URL)
		var out, errOut bytes.Buffer
		code := runSubmit([]string{"read_file", "path=/tmp/a"}, &out, &errOut)
		assert.Equal(t, ExitSuccess, code)
		assert.Contains(t, out.String(), "read /tmp/a")
	})

	t.Run("held without pin", func(t *testing.T) {
		resetSubmitFlags(t, ts.URL)
		var out, errOut bytes.Buffer
		code := runSubmit([]string{"delete_file", "path=/tmp/a"}, &out, &errOut)
		assert.Equal(t, ExitDenied, code)
		assert.Contains(t, errOut.String(), "PIN required")
	})

	t.Run("confirmed with pin", func(t *testing.T) {
		resetSubmitFlags(t, ts.URL)
		submitPIN = "1234"
		var out, errOut bytes.Buffer
		code := runSubmit([]string{"delete_file", "path=/tmp/a"}, &out, &errOut)
		assert.Equal(t, ExitSuccess, code)
		assert.Contains(t, out.String(), "deleted")
	})

	t.Run("wrong pin", func(t *testing.T) {
		resetSubmitFlags(t, ts.URL)
		submitPIN = "0000"
		var out, errOut bytes.Buffer
		code := runSubmit([]string{"delete_file", "path=/tmp/a"}, &out, &errOut)
		assert.Equal(t, ExitDenied, code)
		assert.Contains(t, errOut.String(), "verification_failed")
	})

	t.Run("parse error", func(t *testing.T) {
		resetSubmitFlags(t, ts.URL)
		var out, errOut bytes.Buffer
		assert.Equal(t, ExitFailure, runSubmit([]string{"read_file", "oops"}, &out, &errOut))
	})

	t.Run("unreachable", func(t *testing.T) {
		resetSubmitFlags(t, "http://127.0.0.1:1")
		var out, errOut bytes.Buffer
		assert.Equal(t, ExitUnavailable, runSubmit([]string{"read_file", "path=/tmp/a"}, &out, &errOut))
	})
}
