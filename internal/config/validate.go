package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// recognizedParsers is the set of valid test-output parser names.
var recognizedParsers = map[string]bool{
	"pytest": true,
	"gotest": true,
}

// recognizedBackends is the set of valid LLM backend names.
var recognizedBackends = map[string]bool{
	"ollama": true,
	"openai": true,
}

// Validate checks a Config for structural and semantic errors. It returns a
// slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	w := cfg.Workflow
	if w.PlannerModel == "" {
		errs = append(errs, ValidationError{Field: "workflow.planner_model", Message: "is required"})
	}
	if !recognizedParsers[w.TestParser] {
		errs = append(errs, ValidationError{
			Field:   "workflow.test_parser",
			Message: fmt.Sprintf("unrecognized parser %q (want pytest or gotest)", w.TestParser),
		})
	}
	if w.MaxValidationAttempts < 1 {
		errs = append(errs, ValidationError{Field: "workflow.max_validation_attempts", Message: "must be at least 1"})
	}
	if _, err := time.ParseDuration(w.RetryDelay); err != nil {
		errs = append(errs, ValidationError{
			Field:   "workflow.retry_delay",
			Message: fmt.Sprintf("invalid duration %q", w.RetryDelay),
		})
	}

	g := cfg.Guardrails
	if len(g.AllowedPaths) == 0 {
		errs = append(errs, ValidationError{Field: "guardrails.allowed_paths", Message: "at least one path is required"})
	}
	for i, p := range g.AllowedPaths {
		if strings.HasPrefix(p, "/") || strings.Contains(p, "..") {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("guardrails.allowed_paths[%d]", i),
				Message: fmt.Sprintf("path %q must be repository-relative", p),
			})
		}
	}
	if g.MaxOperations < 1 {
		errs = append(errs, ValidationError{Field: "guardrails.max_operations", Message: "must be at least 1"})
	}
	if g.MaxTotalLines < 1 {
		errs = append(errs, ValidationError{Field: "guardrails.max_total_lines", Message: "must be at least 1"})
	}

	l := cfg.LLM
	if !recognizedBackends[l.Backend] {
		errs = append(errs, ValidationError{
			Field:   "llm.backend",
			Message: fmt.Sprintf("unrecognized backend %q (want ollama or openai)", l.Backend),
		})
	}
	if l.Backend == "ollama" && l.BaseURL == "" {
		errs = append(errs, ValidationError{Field: "llm.base_url", Message: "is required for the ollama backend"})
	}
	if _, err := time.ParseDuration(l.Timeout); err != nil {
		errs = append(errs, ValidationError{
			Field:   "llm.timeout",
			Message: fmt.Sprintf("invalid duration %q", l.Timeout),
		})
	}

	return errs
}
