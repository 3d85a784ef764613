// Package classifier decides whether an action request needs PIN
// confirmation. Classification is a pure function of the request kind and its
// origin text: kinds in the always-dangerous set match first, then the origin
// text is scanned against an ordered rule table and the first match wins.
package classifier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jkaninda/warden/internal/action"
)

// Category groups rules for audit and metrics.
type Category string

const (
	CategoryDestructive Category = "destructive"
	CategoryPower       Category = "power"
	CategoryProcess     Category = "process"
	CategoryPrivileged  Category = "privileged"
	CategoryPackage     Category = "package"
	CategoryShell       Category = "shell"
	CategoryKind        Category = "kind"
	CategoryCustom      Category = "custom"
)

// Rule is one entry of the phrase rule table.
type Rule struct {
	Pattern  string
	Category Category
	re       *regexp.Regexp
}

// Source tells which part of the classifier produced a verdict.
type Source string

const (
	SourceNone    Source = ""
	SourceKind    Source = "kind"
	SourcePattern Source = "pattern"
	SourceCEL     Source = "cel"
)

// Verdict is the classification outcome. Dangerous=false means no rule matched.
type Verdict struct {
	Dangerous bool     `json:"dangerous"`
	Source    Source   `json:"source,omitempty"`
	Rule      string   `json:"rule,omitempty"`
	Category  Category `json:"category,omitempty"`
	// Err is set when a custom rule failed to evaluate. The verdict is then
	// dangerous.
	Err string `json:"error,omitempty"`
}

func (v Verdict) String() string {
	if !v.Dangerous {
		return "safe"
	}
	return fmt.Sprintf("dangerous (%s %s: %s)", v.Source, v.Category, v.Rule)
}

// AlwaysDangerous lists the kinds that require confirmation regardless of
// phrasing.
var AlwaysDangerous = []action.Kind{
	action.KindDeleteFile,
	action.KindDeleteFolder,
	action.KindFormatDrive,
	action.KindKillProcess,
	action.KindModifyRegistry,
	action.KindInstallSoftware,
	action.KindUninstallSoftware,
	action.KindRunScript,
	action.KindShutdown,
	action.KindRestart,
}

// DefaultRules is the built-in phrase rule table, in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{Pattern: `\bdelete\b`, Category: CategoryDestructive},
		{Pattern: `\bremove\b`, Category: CategoryDestructive},
		{Pattern: `\berase\b`, Category: CategoryDestructive},
		{Pattern: `\bwipe\b`, Category: CategoryDestructive},
		{Pattern: `\bdestroy\b`, Category: CategoryDestructive},
		{Pattern: `\bformat\b`, Category: CategoryDestructive},
		{Pattern: `\bshutdown\b`, Category: CategoryPower},
		{Pattern: `\brestart\b`, Category: CategoryPower},
		{Pattern: `\breboot\b`, Category: CategoryPower},
		{Pattern: `\bkill\b.*\bprocess\b`, Category: CategoryProcess},
		{Pattern: `\bterminate\b.*\bprocess\b`, Category: CategoryProcess},
		{Pattern: `\bedit\b.*\bsystem\b`, Category: CategoryPrivileged},
		{Pattern: `\bmodify\b.*\bregistry\b`, Category: CategoryPrivileged},
		{Pattern: `\buninstall\b`, Category: CategoryPackage},
		{Pattern: `\binstall\b`, Category: CategoryPackage},
		{Pattern: `\brm\b\s+-rf`, Category: CategoryShell},
		{Pattern: `\bdel\b\s+/[fqs]`, Category: CategoryShell},
		{Pattern: `\bformat\b\s+[a-z]:`, Category: CategoryShell},
	}
}

// Classifier holds the compiled rule table. Safe for concurrent use; nothing
// is mutated after New returns.
type Classifier struct {
	kinds map[action.Kind]struct{}
	rules []Rule
	cel   *celRules
}

// Option configures a Classifier.
type Option func(*options)

type options struct {
	extra []Rule
	cel   []CELRule
	kinds []action.Kind
}

// WithRules appends rules after the built-in table.
func WithRules(rules ...Rule) Option {
	return func(o *options) { o.extra = append(o.extra, rules...) }
}

// WithCEL adds CEL expressions evaluated after all regex rules.
func WithCEL(rules ...CELRule) Option {
	return func(o *options) { o.cel = append(o.cel, rules...) }
}

// WithDangerousKinds extends the always-dangerous set, e.g. with the kinds
// of tools bridged from an external server marked dangerous.
func WithDangerousKinds(kinds ...action.Kind) Option {
	return func(o *options) { o.kinds = append(o.kinds, kinds...) }
}

// New compiles the built-in table plus any extra rules.
func New(opts ...Option) (*Classifier, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	c := &Classifier{kinds: make(map[action.Kind]struct{}, len(AlwaysDangerous))}
	for _, k := range AlwaysDangerous {
		c.kinds[k] = struct{}{}
	}
	for _, k := range o.kinds {
		c.kinds[k] = struct{}{}
	}

	all := append(DefaultRules(), o.extra...)
	c.rules = make([]Rule, 0, len(all))
	for _, r := range all {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling rule %q: %w", r.Pattern, err)
		}
		if r.Category == "" {
			r.Category = CategoryCustom
		}
		r.re = re
		c.rules = append(c.rules, r)
	}

	if len(o.cel) > 0 {
		cr, err := compileCEL(o.cel)
		if err != nil {
			return nil, err
		}
		c.cel = cr
	}
	return c, nil
}

// MustNew is New for the built-in table only.
func MustNew() *Classifier {
	c, err := New()
	if err != nil {
		panic(err)
	}
	return c
}

// Classify returns the verdict for req.
func (c *Classifier) Classify(req action.Request) Verdict {
	if c.IsAlwaysDangerous(req.Kind) {
		return Verdict{Dangerous: true, Source: SourceKind, Rule: string(req.Kind), Category: CategoryKind}
	}

	text := strings.ToLower(req.OriginText)
	for _, r := range c.rules {
		if r.re.MatchString(text) {
			return Verdict{Dangerous: true, Source: SourcePattern, Rule: r.Pattern, Category: r.Category}
		}
	}

	if c.cel != nil {
		return c.cel.eval(req, text)
	}
	return Verdict{}
}

// IsAlwaysDangerous reports kind membership in the always-dangerous set.
func (c *Classifier) IsAlwaysDangerous(k action.Kind) bool {
	_, ok := c.kinds[k]
	return ok
}

// Rules returns a copy of the compiled rule table in evaluation order.
func (c *Classifier) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}
