// Package rules implements the deterministic per-document-type semantic
// checks that run alongside LLM validation. Rules never call out anywhere;
// validating the same data twice yields the same issues.
package rules

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anders-planck/parseur/internal/core"
)

// NumericTolerance absorbs rounding differences in monetary arithmetic.
const NumericTolerance = 0.02

// Predicate checks one rule against the extracted data. ok=false produces
// the rule's issue; a non-nil error means the rule itself could not run and
// is reported as a warning instead of failing validation.
type Predicate func(data core.JSONMap) (ok bool, err error)

// Rule is one deterministic check bound to a field.
type Rule struct {
	Field    string
	Severity core.Severity
	Message  string
	Check    Predicate
}

// TypeConfig describes the contract of one document type.
type TypeConfig struct {
	Required []string
	Optional []string
	Rules    []Rule
}

// Engine validates extracted data against the per-type contracts.
type Engine struct {
	configs map[core.DocumentType]TypeConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine builds the engine with the built-in type contracts.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		logger: logger.With("component", "rule_engine"),
		now:    time.Now,
	}
	e.configs = buildConfigs(e)
	return e
}

// Config returns the contract for a document type. OTHER has an empty one.
func (e *Engine) Config(t core.DocumentType) TypeConfig {
	return e.configs[t]
}

// Validate runs the contract for the given type against data and returns a
// deduplicated, severity-sorted issue list. An empty list means valid.
func (e *Engine) Validate(t core.DocumentType, data core.JSONMap) []core.ValidationIssue {
	cfg, ok := e.configs[t]
	if !ok {
		return nil
	}

	var issues []core.ValidationIssue
	for _, field := range cfg.Required {
		if !data.Has(field) {
			issues = append(issues, core.ValidationIssue{
				Field:    field,
				Issue:    fmt.Sprintf("required field %q is missing", field),
				Severity: core.SeverityError,
			})
		}
	}

	for _, rule := range cfg.Rules {
		passed, err := rule.Check(data)
		if err != nil {
			e.logger.Debug("rule check failed to run",
				"document_type", string(t),
				"field", rule.Field,
				"error", err,
			)
			issues = append(issues, core.ValidationIssue{
				Field:    rule.Field,
				Issue:    fmt.Sprintf("unable to validate %s: %v", rule.Field, err),
				Severity: core.SeverityWarning,
			})
			continue
		}
		if !passed {
			issues = append(issues, core.ValidationIssue{
				Field:    rule.Field,
				Issue:    rule.Message,
				Severity: rule.Severity,
			})
		}
	}

	return core.DedupIssues(issues)
}

// Summary renders the contract of a type as plain text for inclusion in an
// LLM validation prompt.
func (e *Engine) Summary(t core.DocumentType) string {
	cfg, ok := e.configs[t]
	if !ok || (len(cfg.Required) == 0 && len(cfg.Rules) == 0) {
		return "No specific rules apply to this document type."
	}
	var b strings.Builder
	if len(cfg.Required) > 0 {
		fmt.Fprintf(&b, "Required fields: %s.\n", strings.Join(cfg.Required, ", "))
	}
	if len(cfg.Optional) > 0 {
		fmt.Fprintf(&b, "Optional fields: %s.\n", strings.Join(cfg.Optional, ", "))
	}
	for _, r := range cfg.Rules {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", r.Severity, r.Field, r.Message)
	}
	return b.String()
}

func approxEqual(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= NumericTolerance
}
