// Package system implements the OS-level capability handlers. Each kind maps
// to an argv template rendered from the request parameters and run through
// the sandbox. Kinds without a template still resolve, but report that they
// are not supported on this host.
package system

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/jkaninda/warden/internal/action"
	"github.com/jkaninda/warden/internal/capability"
	"github.com/jkaninda/warden/internal/sandbox"
)

// Template describes how one kind is carried out on this host.
type Template struct {
	Argv    []string `json:"argv" yaml:"argv"`
	Message string   `json:"message,omitempty" yaml:"message,omitempty"`
	// Detach starts the program and returns immediately (launchers).
	Detach bool `json:"detach,omitempty" yaml:"detach,omitempty"`
}

// Key of the template used by the URL opener.
const OpenerKey = "open_url"

// ControlPrefix prefixes system_control sub-templates ("system_control.mute").
const ControlPrefix = "system_control."

// Kinds served by this package.
var Kinds = []action.Kind{
	action.KindOpenApp, action.KindOpenFile, action.KindOpenFolder, action.KindLaunchGame,
	action.KindTypeText, action.KindPressKey, action.KindMoveMouse, action.KindClick,
	action.KindSystemControl, action.KindKillProcess, action.KindInstallSoftware,
	action.KindUninstallSoftware, action.KindShutdown, action.KindRestart,
	action.KindFormatDrive, action.KindModifyRegistry,
}

// Controls are the system_control targets.
var Controls = []string{"volume_up", "volume_down", "mute", "brightness", "wifi_toggle"}

// LinuxDefaults returns templates for a typical Linux desktop
// (xdg-open, xdotool, pactl, brightnessctl, nmcli, systemd shutdown).
func LinuxDefaults() map[string]Template {
	return map[string]Template{
		string(action.KindOpenApp):    {Argv: []string{`{{arg "app"}}`}, Message: `Opened {{arg "app"}}`, Detach: true},
		string(action.KindOpenFile):   {Argv: []string{"xdg-open", `{{arg "path"}}`}, Message: `Opened {{arg "path"}}`, Detach: true},
		string(action.KindOpenFolder): {Argv: []string{"xdg-open", `{{arg "path"}}`}, Message: `Opened {{arg "path"}}`, Detach: true},
		OpenerKey:                     {Argv: []string{"xdg-open", `{{arg "url"}}`}, Message: `Opening {{arg "url"}}`, Detach: true},

		string(action.KindTypeText):  {Argv: []string{"xdotool", "type", "--", `{{arg "text"}}`}, Message: "Typed text"},
		string(action.KindPressKey):  {Argv: []string{"xdotool", "key", `{{arg "key"}}`}, Message: `Pressed {{arg "key"}}`},
		string(action.KindMoveMouse): {Argv: []string{"xdotool", "mousemove", `{{int "x" 0}}`, `{{int "y" 0}}`}, Message: `Moved mouse to ({{int "x" 0}}, {{int "y" 0}})`},
		string(action.KindClick):     {Argv: []string{"xdotool", "click", `{{button}}`}, Message: `Clicked {{opt "button" "left"}}`},

		ControlPrefix + "volume_up":   {Argv: []string{"pactl", "set-sink-volume", "@DEFAULT_SINK@", "+5%"}, Message: "Volume increased"},
		ControlPrefix + "volume_down": {Argv: []string{"pactl", "set-sink-volume", "@DEFAULT_SINK@", "-5%"}, Message: "Volume decreased"},
		ControlPrefix + "mute":        {Argv: []string{"pactl", "set-sink-mute", "@DEFAULT_SINK@", "toggle"}, Message: "Volume muted/unmuted"},
		ControlPrefix + "brightness":  {Argv: []string{"brightnessctl", "set", `{{int "level" 50}}%`}, Message: `Brightness set to {{int "level" 50}}%`},
		ControlPrefix + "wifi_toggle": {
			Argv:    []string{"sh", "-c", "if nmcli radio wifi | grep -q enabled; then nmcli radio wifi off; else nmcli radio wifi on; fi"},
			Message: "WiFi toggled",
		},

		string(action.KindKillProcess): {Argv: []string{"pkill", "-x", `{{arg "process"}}`}, Message: `Killed {{arg "process"}}`},
		string(action.KindShutdown):    {Argv: []string{"shutdown", "-h", `+{{minutes (int "delay_seconds" 60)}}`}, Message: `Shutting down in {{int "delay_seconds" 60}} seconds`},
		string(action.KindRestart):     {Argv: []string{"shutdown", "-r", `+{{minutes (int "delay_seconds" 60)}}`}, Message: `Restarting in {{int "delay_seconds" 60}} seconds`},
	}
}

// compiled is a parsed Template.
type compiled struct {
	argv    []*template.Template
	message *template.Template
	detach  bool
}

// Set holds the compiled templates and builds handlers from them.
type Set struct {
	sandbox   sandbox.Sandbox
	templates map[string]compiled
	logger    *slog.Logger
}

// New compiles templates. Entries in overrides replace the defaults key by
// key; an override with an empty argv removes the default.
func New(sbx sandbox.Sandbox, defaults, overrides map[string]Template, logger *slog.Logger) (*Set, error) {
	merged := make(map[string]Template, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		if len(v.Argv) == 0 {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}

	s := &Set{sandbox: sbx, templates: make(map[string]compiled, len(merged)), logger: logger}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c, err := compile(k, merged[k])
		if err != nil {
			return nil, err
		}
		s.templates[k] = c
	}
	return s, nil
}

func compile(key string, t Template) (compiled, error) {
	c := compiled{detach: t.Detach}
	for i, a := range t.Argv {
		tpl, err := template.New(fmt.Sprintf("%s[%d]", key, i)).Funcs(placeholderFuncs).Parse(a)
		if err != nil {
			return compiled{}, fmt.Errorf("template %s: %w", key, err)
		}
		c.argv = append(c.argv, tpl)
	}
	if t.Message != "" {
		tpl, err := template.New(key + ".message").Funcs(placeholderFuncs).Parse(t.Message)
		if err != nil {
			return compiled{}, fmt.Errorf("template %s message: %w", key, err)
		}
		c.message = tpl
	}
	return c, nil
}

// placeholderFuncs lets templates parse; real functions are bound per render.
var placeholderFuncs = template.FuncMap{
	"arg":     func(string) (string, error) { return "", nil },
	"opt":     func(string, string) string { return "" },
	"int":     func(string, int) int { return 0 },
	"button":  func() string { return "" },
	"minutes": func(int) int { return 0 },
}

// errMissing carries the first missing parameter out of a render.
type errMissing struct{ key string }

func (e *errMissing) Error() string { return "missing required parameter: " + e.key }

func renderFuncs(params action.Params, missing **errMissing) template.FuncMap {
	return template.FuncMap{
		"arg": func(key string) (string, error) {
			v := params.Target(key)
			if v == "" {
				if *missing == nil {
					*missing = &errMissing{key: key}
				}
				return "", *missing
			}
			return v, nil
		},
		"opt": func(key, def string) string { return params.StringOr(def, key) },
		"int": func(key string, def int) int { return params.Int(key, def) },
		"button": func() string {
			switch strings.ToLower(params.StringOr("left", "button")) {
			case "middle":
				return "2"
			case "right":
				return "3"
			default:
				return "1"
			}
		},
		"minutes": func(seconds int) int {
			if seconds <= 0 {
				return 0
			}
			return (seconds + 59) / 60
		},
	}
}

func execute(tpl *template.Template, params action.Params) (string, error) {
	var missing *errMissing
	var buf bytes.Buffer
	t, err := tpl.Clone()
	if err != nil {
		return "", err
	}
	if err := t.Funcs(renderFuncs(params, &missing)).Execute(&buf, params); err != nil {
		if missing != nil {
			return "", missing
		}
		return "", err
	}
	return buf.String(), nil
}

// Has reports whether a template is configured for key.
func (s *Set) Has(key string) bool {
	_, ok := s.templates[key]
	return ok
}

// Run renders and executes the template stored under key.
func (s *Set) Run(ctx context.Context, key string, params action.Params) action.Result {
	c, ok := s.templates[key]
	if !ok {
		return action.Fail("%s is not supported on this host", key)
	}

	argv := make([]string, 0, len(c.argv))
	for _, tpl := range c.argv {
		a, err := execute(tpl, params)
		if err != nil {
			var m *errMissing
			if errors.As(err, &m) {
				return action.Fail("%v", m)
			}
			return action.Fail("Error preparing %s: %v", key, err)
		}
		argv = append(argv, a)
	}

	res, err := s.sandbox.Execute(ctx, sandbox.ExecutionRequest{Command: argv, Detach: c.detach})
	if err != nil {
		s.logger.Warn("system action failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return action.Fail("Error running %s: %v", key, err)
	}
	if res.ExitCode != 0 {
		return action.Fail("%s failed: %s", key, strings.TrimSpace(res.Output())).
			WithData("return_code", res.ExitCode)
	}

	msg := key + " completed"
	if c.message != nil {
		if m, err := execute(c.message, params); err == nil {
			msg = m
		}
	}
	s.logger.Info("system action executed", slog.String("key", key))
	return action.Ok("%s", msg)
}

// Handlers returns one handler per kind in Kinds.
func (s *Set) Handlers() []capability.Handler {
	out := make([]capability.Handler, 0, len(Kinds))
	for _, k := range Kinds {
		if k == action.KindSystemControl {
			out = append(out, &controlHandler{set: s})
			continue
		}
		out = append(out, &templateHandler{set: s, kind: k})
	}
	return out
}

// Open launches url with the host's opener. Used by the web handlers.
func (s *Set) Open(ctx context.Context, url string) action.Result {
	return s.Run(ctx, OpenerKey, action.Params{"url": url})
}

type templateHandler struct {
	set  *Set
	kind action.Kind
}

func (h *templateHandler) Kind() action.Kind { return h.kind }

func (h *templateHandler) Invoke(ctx context.Context, params action.Params) action.Result {
	return h.set.Run(ctx, string(h.kind), params)
}

type controlHandler struct {
	set *Set
}

func (h *controlHandler) Kind() action.Kind   { return action.KindSystemControl }
func (h *controlHandler) Description() string { return "Adjust volume, brightness or wifi" }
func (h *controlHandler) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"target": map[string]any{"type": "string", "description": "volume_up, volume_down, mute, brightness or wifi_toggle"},
			"level":  map[string]any{"type": []string{"integer", "string"}, "description": "Brightness level 0-100"},
		},
		"required": []string{"target"},
	}
}

func (h *controlHandler) Invoke(ctx context.Context, params action.Params) action.Result {
	target := normalizeControl(params.String("target"))
	known := false
	for _, c := range Controls {
		if c == target {
			known = true
			break
		}
	}
	if !known {
		return action.Fail("Unknown system control: %s", params.String("target"))
	}
	if target == "brightness" {
		level, err := strconv.Atoi(params.StringOr("50", "level"))
		if err != nil || level < 0 || level > 100 {
			return action.Fail("Invalid brightness level")
		}
	}
	return h.set.Run(ctx, ControlPrefix+target, params)
}

func normalizeControl(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	switch {
	case t == "volume_mute":
		return "mute"
	case strings.HasPrefix(t, "brightness"):
		return "brightness"
	}
	return t
}
