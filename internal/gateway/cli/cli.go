// Package cli implements the interactive terminal gateway. Each line is an
// action request, either JSON or "kind key=value ..." shorthand. Dangerous
// requests prompt for the PIN in place.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"

	"github.com/jkaninda/warden/internal/action"
	"github.com/jkaninda/warden/internal/dispatcher"
)

// Client is the audit client name used for REPL sessions.
const Client = "cli"

const prompt = "warden> "

// ErrEmptyRequest is returned by ParseLine for blank input.
var ErrEmptyRequest = errors.New("empty request")

// Gateway is the interactive command-line interface.
type Gateway struct {
	disp        *dispatcher.Dispatcher
	in          io.Reader
	out         io.Writer
	interactive bool
	logger      *slog.Logger
	done        chan struct{} // closed by Stop
	sessionID   string
	st          styles
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithIO replaces stdin/stdout. Non-file readers disable hidden PIN input.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(g *Gateway) {
		g.in = in
		g.out = out
		g.interactive = isTerminal(in)
	}
}

// WithNoColor disables styled output.
func WithNoColor() Option {
	return func(g *Gateway) { g.st = plainStyles() }
}

// NewGateway creates a CLI gateway over d.
func NewGateway(d *dispatcher.Dispatcher, logger *slog.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		disp:        d,
		in:          os.Stdin,
		out:         os.Stdout,
		interactive: isTerminal(os.Stdin),
		logger:      logger,
		done:        make(chan struct{}),
		sessionID:   uuid.NewString(),
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	g.st = newStyles(lipgloss.NewRenderer(g.out))
	for _, o := range opts {
		o(g)
	}
	return g
}

// Start runs the REPL until ctx is cancelled, Stop is called, input ends,
// or the user types "exit".
func (g *Gateway) Start(ctx context.Context) error {
	ctx = dispatcher.WithClient(ctx, Client)
	scanner := bufio.NewScanner(g.in)

	g.println(g.st.header.Render("warden") + g.st.dim.Render(" - type an action, \"help\" or \"exit\""))

	for {
		select {
		case <-ctx.Done():
			g.println("\nShutting down.")
			return nil
		case <-g.done:
			g.println("\nShutting down.")
			return nil
		default:
		}

		_, _ = fmt.Fprint(g.out, prompt)
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch strings.ToLower(line) {
		case "exit", "quit":
			g.println("Goodbye.")
			return nil
		case "help":
			g.help()
			continue
		case "state":
			g.showState()
			continue
		case "cancel":
			g.render(g.disp.CancelPending(ctx))
			continue
		}

		req, err := ParseLine(line)
		if err != nil {
			g.println(g.st.fail.Render("Error: " + err.Error()))
			continue
		}
		g.logger.DebugContext(ctx, "cli request",
			slog.String("session_id", g.sessionID),
			slog.String("kind", string(req.Kind)),
		)

		out := g.disp.Submit(ctx, req)
		g.render(out)
		if out.Kind == dispatcher.PinRequired {
			if !g.confirmLoop(ctx, scanner) {
				break
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	return nil
}

// Stop signals the REPL to shut down.
func (g *Gateway) Stop(_ context.Context) error {
	select {
	case <-g.done:
	default:
		close(g.done)
	}
	return nil
}

// confirmLoop prompts until the pending action is resolved. A blank entry
// cancels. Returns false when input is exhausted.
func (g *Gateway) confirmLoop(ctx context.Context, scanner *bufio.Scanner) bool {
	for g.disp.State() == dispatcher.StateAwaitingPIN {
		pin, ok := g.readPIN(scanner)
		if !ok {
			return false
		}
		if strings.TrimSpace(pin) == "" || strings.EqualFold(strings.TrimSpace(pin), "cancel") {
			g.render(g.disp.CancelPending(ctx))
			return true
		}
		g.render(g.disp.Confirm(ctx, pin))
	}
	return true
}

func (g *Gateway) readPIN(scanner *bufio.Scanner) (string, bool) {
	if g.interactive {
		var pin string
		err := huh.NewInput().
			Title("PIN").
			Description("Enter the PIN to confirm, or leave empty to cancel").
			EchoMode(huh.EchoModePassword).
			Value(&pin).
			Run()
		if err != nil {
			g.logger.Debug("pin prompt aborted", slog.String("error", err.Error()))
			return "", true
		}
		return pin, true
	}
	_, _ = fmt.Fprint(g.out, "PIN: ")
	if !scanner.Scan() {
		return "", false
	}
	return scanner.Text(), true
}

func (g *Gateway) render(o dispatcher.Outcome) {
	switch o.Kind {
	case dispatcher.Executed:
		if o.Succeeded() {
			g.println(g.st.ok.Render("✓ ") + o.Message)
		} else {
			g.println(g.st.fail.Render("✗ ") + o.Message)
		}
		if o.Result != nil {
			if out, ok := o.Result.Data["output"].(string); ok && out != "" {
				g.println(g.st.dim.Render(strings.TrimRight(out, "\n")))
			}
		}
	case dispatcher.PinRequired:
		msg := "PIN required"
		if o.Pending != nil {
			msg = fmt.Sprintf("PIN required for %s", o.Pending.Kind)
		}
		if o.Verdict != nil && o.Verdict.Rule != "" {
			msg += g.st.dim.Render(fmt.Sprintf(" (%s)", o.Verdict.Rule))
		}
		g.println(g.st.warn.Render("! ") + msg)
	default:
		g.println(g.st.fail.Render("✗ ") + o.Message)
	}
}

func (g *Gateway) showState() {
	state := g.disp.State()
	if p, ok := g.disp.Pending(); ok {
		g.println(fmt.Sprintf("%s  %s %s (%d attempts remaining)",
			g.st.warn.Render(string(state)), p.Kind, g.st.dim.Render(p.ID), p.Remaining))
		return
	}
	g.println(g.st.ok.Render(string(state)))
}

func (g *Gateway) help() {
	g.println(strings.Join([]string{
		"  <kind> key=value ...   submit an action, e.g. read_file path=notes.txt",
		"  {\"kind\": ...}          submit a JSON request",
		"  state                  show the pending action",
		"  cancel                 cancel the pending action",
		"  exit                   leave the shell",
	}, "\n"))
}

func (g *Gateway) println(s string) { _, _ = fmt.Fprintln(g.out, s) }

// ParseLine turns a REPL line into a request. Lines starting with "{" are
// decoded as JSON; anything else is "kind key=value ..." where values may be
// double-quoted. Integer and boolean values are typed.
func ParseLine(line string) (action.Request, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return action.Request{}, ErrEmptyRequest
	}
	if strings.HasPrefix(line, "{") {
		var req action.Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			return action.Request{}, fmt.Errorf("invalid JSON request: %w", err)
		}
		if req.Kind == "" {
			return action.Request{}, errors.New("kind is required")
		}
		return req, nil
	}

	fields, err := splitFields(line)
	if err != nil {
		return action.Request{}, err
	}
	req := action.Request{Kind: action.Kind(fields[0]), OriginText: line}
	for _, f := range fields[1:] {
		key, val, ok := strings.Cut(f, "=")
		if !ok || key == "" {
			return action.Request{}, fmt.Errorf("expected key=value, got %q", f)
		}
		if req.Parameters == nil {
			req.Parameters = action.Params{}
		}
		req.Parameters[key] = typed(val)
	}
	return req, nil
}

func typed(v string) any {
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(v); err == nil && (v == "true" || v == "false") {
		return b
	}
	return v
}

// splitFields splits on whitespace, keeping double-quoted runs together.
func splitFields(s string) ([]string, error) {
	var (
		fields []string
		cur    strings.Builder
		quoted bool
		inWord bool
	)
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			inWord = true
		case !quoted && (r == ' ' || r == '\t'):
			if inWord {
				fields = append(fields, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if quoted {
		return nil, errors.New("unterminated quote")
	}
	if inWord {
		fields = append(fields, cur.String())
	}
	if len(fields) == 0 {
		return nil, ErrEmptyRequest
	}
	return fields, nil
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
