// Package action defines the structured action request produced by the
// interpreter and the result returned by capability handlers.
package action

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies what a request asks the host to do.
type Kind string

// Kinds known to the default capability registry.
const (
	KindNone              Kind = "none"
	KindOpenApp           Kind = "open_app"
	KindOpenFile          Kind = "open_file"
	KindOpenFolder        Kind = "open_folder"
	KindLaunchGame        Kind = "launch_game"
	KindWebSearch         Kind = "web_search"
	KindOpenURL           Kind = "open_url"
	KindRunCmd            Kind = "run_cmd"
	KindRunCommand        Kind = "run_command"
	KindRunScript         Kind = "run_script"
	KindTypeText          Kind = "type_text"
	KindPressKey          Kind = "press_key"
	KindMoveMouse         Kind = "move_mouse"
	KindClick             Kind = "click"
	KindSystemControl     Kind = "system_control"
	KindReadFile          Kind = "read_file"
	KindWriteFile         Kind = "write_file"
	KindSearchFiles       Kind = "search_files"
	KindDeleteFile        Kind = "delete_file"
	KindDeleteFolder      Kind = "delete_folder"
	KindFormatDrive       Kind = "format_drive"
	KindKillProcess       Kind = "kill_process"
	KindModifyRegistry    Kind = "modify_registry"
	KindInstallSoftware   Kind = "install_software"
	KindUninstallSoftware Kind = "uninstall_software"
	KindShutdown          Kind = "shutdown"
	KindRestart           Kind = "restart"
)

// Params holds the per-kind parameters of a request.
type Params map[string]any

// Request is a structured action request. Treat it as immutable once built.
type Request struct {
	Kind       Kind   `json:"kind"`
	Parameters Params `json:"parameters,omitempty"`
	// OriginText is the phrase the request was derived from. It is used for
	// classification and audit only, never executed.
	OriginText string `json:"origin_text,omitempty"`
	// NeedsConfirmation is the interpreter's own opinion. Informational.
	NeedsConfirmation bool `json:"needs_confirmation,omitempty"`
}

// Clone returns a copy with its own parameter map.
func (r Request) Clone() Request {
	out := r
	if r.Parameters != nil {
		out.Parameters = make(Params, len(r.Parameters))
		for k, v := range r.Parameters {
			out.Parameters[k] = v
		}
	}
	return out
}

// Result is the uniform handler outcome.
type Result struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Ok builds a successful result.
func Ok(format string, args ...any) Result {
	return Result{Success: true, Message: fmt.Sprintf(format, args...)}
}

// Fail builds a failed result.
func Fail(format string, args ...any) Result {
	return Result{Success: false, Message: fmt.Sprintf(format, args...)}
}

// WithData attaches a data entry and returns the result.
func (r Result) WithData(key string, value any) Result {
	if r.Data == nil {
		r.Data = make(map[string]any)
	}
	r.Data[key] = value
	return r
}

// String returns the parameter as a string. Numbers and booleans are
// formatted; missing keys return "".
func (p Params) String(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// StringOr returns the first non-empty value among keys, then def.
func (p Params) StringOr(def string, keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(p.String(k)); s != "" {
			return s
		}
	}
	return def
}

// Require returns the first non-empty value among keys or an error naming
// the first key.
func (p Params) Require(keys ...string) (string, error) {
	if s := p.StringOr("", keys...); s != "" {
		return s, nil
	}
	return "", fmt.Errorf("missing required parameter: %s", keys[0])
}

// Int returns the parameter as an int, or def when absent or malformed.
func (p Params) Int(key string, def int) int {
	switch t := p[key].(type) {
	case float64:
		return int(t)
	case int:
		return t
	case int64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return def
}

// Target returns the value under key, falling back to the generic "target"
// parameter interpreters often emit instead of the specific name.
func (p Params) Target(key string) string {
	return p.StringOr("", key, "target")
}
