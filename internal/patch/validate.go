package patch

import (
	"fmt"
	"strings"
)

// Default guardrail limits.
const (
	DefaultMaxOperations = 5
	DefaultMaxTotalLines = 200
	DefaultMaxTextChars  = 2000
)

// Guardrails bounds what an operation set is allowed to touch and how much it
// may change. A zero limit means "use the default"; an empty allowlist rejects
// every path.
type Guardrails struct {
	AllowedPaths  []string
	MaxOperations int
	MaxTotalLines int
	MaxTextChars  int
}

// DefaultGuardrails returns the stock limits: test directories only, at most
// 5 operations and an estimated 200 changed lines.
func DefaultGuardrails() Guardrails {
	return Guardrails{
		AllowedPaths:  []string{"tests/", "test/"},
		MaxOperations: DefaultMaxOperations,
		MaxTotalLines: DefaultMaxTotalLines,
		MaxTextChars:  DefaultMaxTextChars,
	}
}

func (g Guardrails) maxOperations() int {
	if g.MaxOperations > 0 {
		return g.MaxOperations
	}
	return DefaultMaxOperations
}

func (g Guardrails) maxTotalLines() int {
	if g.MaxTotalLines > 0 {
		return g.MaxTotalLines
	}
	return DefaultMaxTotalLines
}

func (g Guardrails) maxTextChars() int {
	if g.MaxTextChars > 0 {
		return g.MaxTextChars
	}
	return DefaultMaxTextChars
}

// pathAllowed reports whether file matches the allowlist. A pattern ending in
// "/" matches as a prefix; anything else must match exactly.
func (g Guardrails) pathAllowed(file string) bool {
	for _, p := range g.AllowedPaths {
		if strings.HasSuffix(p, "/") {
			if strings.HasPrefix(file, p) {
				return true
			}
		} else if file == p {
			return true
		}
	}
	return false
}

// Validate checks an operation set against the guardrails and returns a
// *ValidationError carrying every violation found, so the model sees all
// problems at once instead of one per attempt.
func (g Guardrails) Validate(set *OperationSet) error {
	var reasons []string

	if set == nil || len(set.Ops) == 0 {
		return newValidationError("operation set is empty")
	}

	if n := len(set.Ops); n > g.maxOperations() {
		reasons = append(reasons, fmt.Sprintf("too many operations: %d exceeds limit of %d", n, g.maxOperations()))
	}

	totalLines := 0
	for i, op := range set.Ops {
		if op.File == "" {
			reasons = append(reasons, fmt.Sprintf("operation %d: file is empty", i+1))
		} else {
			if strings.Contains(op.File, "..") || strings.HasPrefix(op.File, "/") {
				reasons = append(reasons, fmt.Sprintf("operation %d: path %q escapes the repository", i+1, op.File))
			} else if !g.pathAllowed(op.File) {
				reasons = append(reasons, fmt.Sprintf("operation %d: path %q is outside the allowed paths %v", i+1, op.File, g.AllowedPaths))
			}
		}
		if op.Find == "" {
			reasons = append(reasons, fmt.Sprintf("operation %d: find text is empty", i+1))
		}
		if n := len(op.Find); n > g.maxTextChars() {
			reasons = append(reasons, fmt.Sprintf("operation %d: find text is %d chars, limit is %d", i+1, n, g.maxTextChars()))
		}
		if n := len(op.Replace); n > g.maxTextChars() {
			reasons = append(reasons, fmt.Sprintf("operation %d: replace text is %d chars, limit is %d", i+1, n, g.maxTextChars()))
		}
		totalLines += op.EstimatedLines()
	}

	if totalLines > g.maxTotalLines() {
		reasons = append(reasons, fmt.Sprintf("estimated changed lines %d exceeds limit of %d", totalLines, g.maxTotalLines()))
	}

	if len(reasons) > 0 {
		return &ValidationError{Reasons: reasons}
	}
	return nil
}
