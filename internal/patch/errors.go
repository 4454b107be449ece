package patch

import (
	"errors"
	"strings"
)

// ErrNoEffectiveChange is returned when every operation applied cleanly but no
// file content actually changed, so there is no diff to emit.
var ErrNoEffectiveChange = errors.New("operations produced no effective change")

// ValidationError reports one or more guardrail or exact-match violations.
// The reasons are human-readable and are fed back to the model verbatim so it
// can correct the next attempt.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Reasons, "; ")
}

// newValidationError builds a ValidationError from a single reason.
func newValidationError(reason string) *ValidationError {
	return &ValidationError{Reasons: []string{reason}}
}
