package events

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// CategoryAll matches every category
const CategoryAll = "all"

var severityLevels = map[string]int{
	"info":    1,
	"warning": 2,
	"error":   3,
}

// Filter selects the events a subscriber receives. Expression is an optional
// boolean expression evaluated against type, category, severity and data.
type Filter struct {
	Categories  []string `json:"categories"`
	EventTypes  []string `json:"event_types"`
	MinSeverity string   `json:"min_severity,omitempty"`
	Expression  string   `json:"expression,omitempty"`
}

// DefaultFilter accepts everything at info severity and above
func DefaultFilter() Filter {
	return Filter{
		Categories:  []string{CategoryAll},
		EventTypes:  []string{},
		MinSeverity: "info",
	}
}

// Matcher is a compiled Filter
type Matcher struct {
	filter  Filter
	program *vm.Program
}

// Compile checks the filter and compiles its expression
func (f Filter) Compile() (*Matcher, error) {
	for _, c := range f.Categories {
		switch c {
		case CategoryAll, "wallet", "mining", "node", "p2pool", "app":
		default:
			return nil, fmt.Errorf("unknown category %q", c)
		}
	}
	for _, t := range f.EventTypes {
		if !Type(t).Valid() {
			return nil, fmt.Errorf("unknown event type %q", t)
		}
	}
	if f.MinSeverity != "" {
		if _, ok := severityLevels[f.MinSeverity]; !ok {
			return nil, fmt.Errorf("unknown severity %q", f.MinSeverity)
		}
	}

	m := &Matcher{filter: f}
	if f.Expression != "" {
		program, err := expr.Compile(f.Expression, expr.Env(exprEnv(Event{})), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile filter expression: %w", err)
		}
		m.program = program
	}
	return m, nil
}

// Filter returns the filter the matcher was compiled from
func (m *Matcher) Filter() Filter {
	return m.filter
}

// Match reports whether the event passes the filter. An expression that
// fails at runtime does not match.
func (m *Matcher) Match(e Event) bool {
	if !m.matchCategory(e) {
		return false
	}
	if len(m.filter.EventTypes) > 0 && !contains(m.filter.EventTypes, string(e.Type)) {
		return false
	}
	if sev := e.Severity(); sev != "" && m.filter.MinSeverity != "" {
		if severityLevels[sev] < severityLevels[m.filter.MinSeverity] {
			return false
		}
	}
	if m.program != nil {
		out, err := expr.Run(m.program, exprEnv(e))
		if err != nil {
			return false
		}
		ok, _ := out.(bool)
		return ok
	}
	return true
}

func (m *Matcher) matchCategory(e Event) bool {
	if len(m.filter.Categories) == 0 {
		return true
	}
	for _, c := range m.filter.Categories {
		if c == CategoryAll || c == e.Type.Category() {
			return true
		}
	}
	return false
}

func exprEnv(e Event) map[string]interface{} {
	data := e.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	return map[string]interface{}{
		"type":     string(e.Type),
		"category": e.Type.Category(),
		"severity": e.Severity(),
		"data":     data,
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
