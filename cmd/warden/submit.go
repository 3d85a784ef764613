package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/warden/internal/action"
	"github.com/jkaninda/warden/internal/dispatcher"
	"github.com/jkaninda/warden/internal/gateway/cli"
	"github.com/jkaninda/warden/internal/gateway/httpapi"
)

// Exit codes for the submit command.
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitDenied      = 2
	ExitUnavailable = 3
)

var (
	submitURL     string
	submitAPIKey  string
	submitPIN     string
	submitOrigin  string
	submitTimeout int
	submitJSON    bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <kind> [key=value ...]",
	Short: "Send one action request to a running warden HTTP gateway",
	Long: `Send a single action request to the warden HTTP API.
Dangerous actions are held for confirmation; pass --pin to confirm in the
same invocation.

Examples:
  warden submit read_file path=~/notes.txt
  warden submit delete_file path=/tmp/old.txt --pin 1234
  warden submit '{"kind":"open_url","parameters":{"url":"example.com"}}'

Exit codes:
  0  executed successfully
  1  execution failure or bad request
  2  PIN required, rejected or rate limited
  3  gateway unavailable`,
	Args: cobra.MinimumNArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		os.Exit(runSubmit(args, os.Stdout, os.Stderr))
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitURL, "url", "http://localhost:8080", "gateway HTTP API URL (or WARDEN_URL env)")
	submitCmd.Flags().StringVar(&submitAPIKey, "api-key", "", "API key or JWT for gateway authentication (or WARDEN_API_KEY env)")
	submitCmd.Flags().StringVar(&submitPIN, "pin", "", "confirm a held action with this PIN")
	submitCmd.Flags().StringVar(&submitOrigin, "origin", "", "original utterance, checked by phrase rules")
	submitCmd.Flags().IntVar(&submitTimeout, "timeout", 60, "timeout in seconds")
	submitCmd.Flags().BoolVar(&submitJSON, "json", false, "print the raw outcome as JSON")
}

// submitClient talks to the /v1 API.
type submitClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// errUnavailable marks transport failures.
var errUnavailable = errors.New("gateway unavailable")

func runSubmit(args []string, stdout, stderr io.Writer) int {
	req, err := cli.ParseLine(strings.Join(args, " "))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitFailure
	}
	if submitOrigin != "" {
		req.OriginText = submitOrigin
	}

	c := &submitClient{
		baseURL: strings.TrimRight(goutils.Env("WARDEN_URL", submitURL), "/"),
		apiKey:  goutils.Env("WARDEN_API_KEY", submitAPIKey),
		http:    &http.Client{},
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(submitTimeout)*time.Second)
	defer cancel()

	status, out, err := c.submit(ctx, req)
	if err == nil && out.Kind == dispatcher.PinRequired && submitPIN != "" {
		status, out, err = c.confirm(ctx, submitPIN)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if errors.Is(err, errUnavailable) {
			return ExitUnavailable
		}
		return ExitFailure
	}

	printOutcome(stdout, stderr, out)
	return exitCodeFor(status, out)
}

func (c *submitClient) submit(ctx context.Context, req action.Request) (int, dispatcher.Outcome, error) {
	return c.post(ctx, "/v1/actions", httpapi.ActionRequest{
		Kind:              string(req.Kind),
		Parameters:        req.Parameters,
		OriginText:        req.OriginText,
		NeedsConfirmation: req.NeedsConfirmation,
	})
}

func (c *submitClient) confirm(ctx context.Context, pin string) (int, dispatcher.Outcome, error) {
	return c.post(ctx, "/v1/confirm", httpapi.ConfirmRequest{PIN: pin})
}

func (c *submitClient) post(ctx context.Context, path string, body any) (int, dispatcher.Outcome, error) {
	var out dispatcher.Outcome
	data, err := json.Marshal(body)
	if err != nil {
		return 0, out, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, out, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, out, fmt.Errorf("%w: cannot reach %s: %v", errUnavailable, c.baseURL, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(respBody, &out); err != nil || out.Kind == "" {
		var e httpapi.ErrorBody
		_ = json.Unmarshal(respBody, &e)
		if e.Error == "" {
			e.Error = strings.TrimSpace(string(respBody))
		}
		out = dispatcher.Outcome{Kind: dispatcher.Rejected, Message: e.Error}
	}
	return resp.StatusCode, out, nil
}

// exitCodeFor maps the final HTTP status and outcome to a process exit code.
func exitCodeFor(status int, out dispatcher.Outcome) int {
	switch status {
	case http.StatusOK:
		if out.Succeeded() {
			return ExitSuccess
		}
		return ExitFailure
	case http.StatusAccepted, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusConflict, http.StatusUnprocessableEntity, http.StatusLocked,
		http.StatusTooManyRequests:
		return ExitDenied
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return ExitUnavailable
	default:
		return ExitFailure
	}
}

func printOutcome(stdout, stderr io.Writer, out dispatcher.Outcome) {
	if submitJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return
	}
	switch out.Kind {
	case dispatcher.Executed:
		fmt.Fprintln(stdout, out.Message)
		if out.Result != nil {
			if s, ok := out.Result.Data["output"].(string); ok && s != "" {
				fmt.Fprintln(stdout, s)
			}
		}
	case dispatcher.PinRequired:
		fmt.Fprintf(stderr, "PIN required: %s\n", out.Message)
		if out.Pending != nil {
			fmt.Fprintf(stderr, "  pending_id: %s\n  kind: %s\n  attempts_remaining: %d\n",
				out.Pending.ID, out.Pending.Kind, out.Remaining)
		}
		fmt.Fprintln(stderr, "Confirm with --pin or POST /v1/confirm.")
	default:
		if out.Reason != "" {
			fmt.Fprintf(stderr, "Rejected (%s): %s\n", out.Reason, out.Message)
		} else {
			fmt.Fprintf(stderr, "Rejected: %s\n", out.Message)
		}
	}
}
