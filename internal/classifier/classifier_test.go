package classifier

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/jkaninda/warden/internal/action"
)

func TestClassify_AlwaysDangerousKinds(t *testing.T) {
	c := MustNew()
	for _, k := range AlwaysDangerous {
		v := c.Classify(action.Request{Kind: k, OriginText: "please"})
		if !v.Dangerous {
			t.Errorf("kind %s: expected dangerous", k)
		}
		if v.Source != SourceKind || v.Category != CategoryKind {
			t.Errorf("kind %s: got source=%q category=%q", k, v.Source, v.Category)
		}
	}
}

func TestClassify_Phrases(t *testing.T) {
	c := MustNew()
	tests := []struct {
		text      string
		dangerous bool
		rule      string
		category  Category
	}{
		{"delete that file", true, `\bdelete\b`, CategoryDestructive},
		{"Please REMOVE the logs", true, `\bremove\b`, CategoryDestructive},
		{"format the usb stick", true, `\bformat\b`, CategoryDestructive},
		{"shutdown the pc", true, `\bshutdown\b`, CategoryPower},
		{"reboot now", true, `\breboot\b`, CategoryPower},
		{"kill the chrome process", true, `\bkill\b.*\bprocess\b`, CategoryProcess},
		{"terminate that process", true, `\bterminate\b.*\bprocess\b`, CategoryProcess},
		{"edit the system hosts file", true, `\bedit\b.*\bsystem\b`, CategoryPrivileged},
		{"modify the registry key", true, `\bmodify\b.*\bregistry\b`, CategoryPrivileged},
		{"uninstall spotify", true, `\buninstall\b`, CategoryPackage},
		{"install vlc", true, `\binstall\b`, CategoryPackage},
		{"run rm -rf build", true, `\brm\b\s+-rf`, CategoryShell},
		{"del /q temp", true, `\bdel\b\s+/[fqs]`, CategoryShell},
		{"open notepad", false, "", ""},
		{"search youtube for cats", false, "", ""},
		{"kill time", false, "", ""},
		{"deleted scenes trailer", false, "", ""},
		{"", false, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			v := c.Classify(action.Request{Kind: action.KindRunCommand, OriginText: tt.text})
			if v.Dangerous != tt.dangerous {
				t.Fatalf("Classify(%q) dangerous=%v, want %v", tt.text, v.Dangerous, tt.dangerous)
			}
			if v.Rule != tt.rule {
				t.Errorf("rule = %q, want %q", v.Rule, tt.rule)
			}
			if v.Category != tt.category {
				t.Errorf("category = %q, want %q", v.Category, tt.category)
			}
		})
	}
}

func TestClassify_FirstMatchWins(t *testing.T) {
	c := MustNew()
	// "uninstall" precedes "install" in the table; "delete" precedes both.
	v := c.Classify(action.Request{Kind: action.KindNone, OriginText: "delete and uninstall"})
	if v.Rule != `\bdelete\b` {
		t.Errorf("rule = %q, want delete", v.Rule)
	}
}

func TestNew_ExtraRules(t *testing.T) {
	c, err := New(WithRules(Rule{Pattern: `\bchmod\b\s+777`}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	v := c.Classify(action.Request{Kind: action.KindRunCmd, OriginText: "chmod 777 /srv"})
	if !v.Dangerous || v.Category != CategoryCustom {
		t.Errorf("got %+v, want custom dangerous", v)
	}
}

func TestNew_DangerousKinds(t *testing.T) {
	kind := action.Kind("mcp__infra__drop_table")
	c, err := New(WithDangerousKinds(kind))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if v := c.Classify(action.Request{Kind: kind, OriginText: "tidy up"}); !v.Dangerous || v.Source != SourceKind {
		t.Errorf("got %+v, want kind verdict", v)
	}
	if MustNew().IsAlwaysDangerous(kind) {
		t.Error("extra kinds leaked into another classifier")
	}
}

func TestNew_BadPattern(t *testing.T) {
	if _, err := New(WithRules(Rule{Pattern: `(`})); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestCEL_Rules(t *testing.T) {
	c, err := New(WithCEL(CELRule{
		Name:       "sudo",
		Expression: `kind == "run_command" && string(params.command).contains("sudo")`,
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	v := c.Classify(action.Request{
		Kind:       action.KindRunCommand,
		Parameters: action.Params{"command": "sudo ls"},
		OriginText: "list root",
	})
	if !v.Dangerous || v.Source != SourceCEL || v.Rule != "sudo" {
		t.Errorf("got %+v, want cel sudo match", v)
	}

	v = c.Classify(action.Request{
		Kind:       action.KindRunCommand,
		Parameters: action.Params{"command": "ls"},
		OriginText: "list",
	})
	if v.Dangerous {
		t.Errorf("got %+v, want safe", v)
	}
}

func TestCEL_EvalErrorFailsClosed(t *testing.T) {
	c, err := New(WithCEL(CELRule{Name: "needs-command", Expression: `params.command == "x"`}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	v := c.Classify(action.Request{Kind: action.KindOpenApp, OriginText: "open app"})
	if !v.Dangerous || v.Err == "" {
		t.Errorf("got %+v, want fail-closed verdict", v)
	}
}

func TestCEL_CompileError(t *testing.T) {
	if _, err := New(WithCEL(CELRule{Name: "bad", Expression: `kind ==`})); err == nil {
		t.Fatal("expected compile error")
	}
	if _, err := New(WithCEL(CELRule{Name: "not-bool", Expression: `kind`})); err == nil {
		t.Fatal("expected non-bool error")
	}
}

func TestClassify_Deterministic(t *testing.T) {
	c := MustNew()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	kinds := make([]any, 0, len(AlwaysDangerous)+3)
	for _, k := range AlwaysDangerous {
		kinds = append(kinds, string(k))
	}
	kinds = append(kinds, "open_app", "run_command", "none")

	properties.Property("same input yields same verdict", prop.ForAll(
		func(kind, text string) bool {
			req := action.Request{Kind: action.Kind(kind), OriginText: text}
			first := c.Classify(req)
			// Interleave an unrelated classification to catch hidden state.
			_ = c.Classify(action.Request{Kind: action.KindDeleteFile, OriginText: "delete"})
			return first == c.Classify(req)
		},
		gen.OneConstOf(kinds...),
		gen.AnyString(),
	))

	properties.Property("always-dangerous kinds ignore phrasing", prop.ForAll(
		func(text string) bool {
			return c.Classify(action.Request{Kind: action.KindShutdown, OriginText: text}).Dangerous
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
