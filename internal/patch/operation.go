package patch

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Abort reasons the model may return instead of operations.
const (
	AbortOutOfScope        = "out_of_scope"
	AbortExactMatchMissing = "exact_match_not_found"
	AbortCannotComply      = "cannot_comply"
)

// Operation is a single position-independent find/replace edit scoped to one
// file. Find must be an exact substring of the file's current content.
type Operation struct {
	File    string `json:"file"`
	Find    string `json:"find"`
	Replace string `json:"replace"`
}

// EstimatedLines is the changed-line estimate for this operation:
// max(lines(find), lines(replace)). Used for guardrail budgeting.
func (o Operation) EstimatedLines() int {
	findLines := strings.Count(o.Find, "\n") + 1
	replaceLines := strings.Count(o.Replace, "\n") + 1
	if findLines > replaceLines {
		return findLines
	}
	return replaceLines
}

// OperationSet is an ordered sequence of operations. Order matters: later
// operations on the same file apply to the then-current content, not the
// original.
type OperationSet struct {
	Ops []Operation `json:"ops"`
}

// Files returns the distinct target files in first-seen order.
func (s *OperationSet) Files() []string {
	seen := make(map[string]bool)
	var files []string
	for _, op := range s.Ops {
		if !seen[op.File] {
			files = append(files, op.File)
			seen[op.File] = true
		}
	}
	return files
}

// Outcome is the parsed form of a model response: either a set of operations
// or an explicit abort sentinel. A response that is neither parses to an error.
type Outcome struct {
	Set   *OperationSet
	Abort string // non-empty when the model returned {"abort": "..."}
}

// Aborted reports whether the model declined to produce operations.
func (o *Outcome) Aborted() bool {
	return o.Abort != ""
}

// envelope mirrors the operation JSON protocol.
type envelope struct {
	Ops   []Operation `json:"ops"`
	Abort string      `json:"abort"`
}

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ParseOperations decodes the operation JSON protocol from raw model output.
// The payload may be bare JSON or wrapped in a fenced code block. Structural
// guardrails (counts, paths, sizes) are checked separately by Guardrails.Validate;
// this function only distinguishes operations, abort sentinels, and garbage.
func ParseOperations(raw string) (*Outcome, error) {
	payload := strings.TrimSpace(raw)

	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		m := fencedJSONRe.FindStringSubmatch(payload)
		if m == nil {
			return nil, fmt.Errorf("no JSON operations found in model output")
		}
		if err := json.Unmarshal([]byte(m[1]), &env); err != nil {
			return nil, fmt.Errorf("parsing fenced JSON operations: %w", err)
		}
	}

	if env.Abort != "" {
		return &Outcome{Abort: env.Abort}, nil
	}
	if env.Ops == nil {
		return nil, fmt.Errorf("model output has neither %q nor %q key", "ops", "abort")
	}
	return &Outcome{Set: &OperationSet{Ops: env.Ops}}, nil
}
