package classifier

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/jkaninda/warden/internal/action"
)

// CELRule is a boolean CEL expression over the variables kind (string),
// text (lowercased origin text) and params (map). A true result marks the
// request dangerous.
type CELRule struct {
	Name       string
	Expression string
}

type compiledCEL struct {
	name string
	expr string
	prg  cel.Program
}

type celRules struct {
	rules []compiledCEL
}

func compileCEL(rules []CELRule) (*celRules, error) {
	env, err := cel.NewEnv(
		cel.Variable("kind", cel.StringType),
		cel.Variable("text", cel.StringType),
		cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating CEL environment: %w", err)
	}

	out := &celRules{rules: make([]compiledCEL, 0, len(rules))}
	for _, r := range rules {
		ast, issues := env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compiling CEL rule %q: %w", r.Name, issues.Err())
		}
		if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
			return nil, fmt.Errorf("CEL rule %q must return bool, got %s", r.Name, t)
		}
		prg, err := env.Program(ast,
			cel.InterruptCheckFrequency(100),
			cel.CostLimit(10000),
		)
		if err != nil {
			return nil, fmt.Errorf("building CEL program %q: %w", r.Name, err)
		}
		name := r.Name
		if name == "" {
			name = r.Expression
		}
		out.rules = append(out.rules, compiledCEL{name: name, expr: r.Expression, prg: prg})
	}
	return out, nil
}

func (c *celRules) eval(req action.Request, text string) Verdict {
	params := map[string]any{}
	for k, v := range req.Parameters {
		params[k] = v
	}
	input := map[string]any{
		"kind":   string(req.Kind),
		"text":   text,
		"params": params,
	}

	for _, r := range c.rules {
		out, _, err := r.prg.Eval(input)
		if err != nil {
			// Fail closed.
			return Verdict{Dangerous: true, Source: SourceCEL, Rule: r.name, Category: CategoryCustom, Err: err.Error()}
		}
		if matched, ok := out.Value().(bool); ok && matched {
			return Verdict{Dangerous: true, Source: SourceCEL, Rule: r.name, Category: CategoryCustom}
		}
	}
	return Verdict{}
}
