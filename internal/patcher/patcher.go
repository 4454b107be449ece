// Package patcher implements the patching agent: an iterative loop that asks
// the model for find/replace operations, validates them against the
// guardrails, and feeds violations back until a clean patch emerges or the
// attempt budget runs out. The loop fails closed: exhaustion yields no diff.
package patcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lucasnoah/patchfactory/internal/analysis"
	"github.com/lucasnoah/patchfactory/internal/llm"
	"github.com/lucasnoah/patchfactory/internal/patch"
	"github.com/lucasnoah/patchfactory/internal/planner"
	"github.com/lucasnoah/patchfactory/internal/prompt"
)

// DefaultMaxAttempts is the validation-retry budget per run.
const DefaultMaxAttempts = 3

// Terminal states of a patching run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusAborted   Status = "aborted"
	StatusExhausted Status = "exhausted"
	StatusSkipped   Status = "skipped"
)

// Attempt is the immutable record of one draft/validate cycle.
type Attempt struct {
	Number     int               `json:"number"`
	Timestamp  time.Time         `json:"timestamp"`
	RawOutput  string            `json:"raw_output"`
	Operations []patch.Operation `json:"operations,omitempty"`
	Abort      string            `json:"abort,omitempty"`
	Issues     []string          `json:"issues,omitempty"`
	Valid      bool              `json:"valid"`
}

// Result is the outcome of a patching run. Patch is nil unless Status is
// StatusSucceeded.
type Result struct {
	Status       Status          `json:"status"`
	Attempts     []Attempt       `json:"attempts"`
	Patch        *patch.Patch    `json:"patch,omitempty"`
	AbortReason  string          `json:"abort_reason,omitempty"`
	Learning     LearningSummary `json:"learning"`
	Interactions int             `json:"interactions"`
}

// LearningSummary aggregates what went wrong across attempts. Observability
// only; it never changes control flow.
type LearningSummary struct {
	TotalAttempts int            `json:"total_attempts"`
	IssuePatterns map[string]int `json:"issue_patterns,omitempty"`
	Trajectory    []bool         `json:"trajectory"`
	FinalSuccess  bool           `json:"final_success"`
}

// Applier turns a validated operation set into a patch. *patch.Engine
// satisfies this.
type Applier interface {
	Apply(set *patch.OperationSet) (*patch.Patch, error)
}

// Agent is the patching agent.
type Agent struct {
	gen         llm.Generator
	model       string
	applier     Applier
	guards      patch.Guardrails
	maxAttempts int
}

// New returns a patcher agent with the default attempt budget.
func New(gen llm.Generator, model string, applier Applier, guards patch.Guardrails) *Agent {
	return &Agent{
		gen:         gen,
		model:       model,
		applier:     applier,
		guards:      guards,
		maxAttempts: DefaultMaxAttempts,
	}
}

// SetMaxAttempts overrides the attempt budget. Used by tests and config.
func (a *Agent) SetMaxAttempts(n int) {
	if n > 0 {
		a.maxAttempts = n
	}
}

// GeneratePatch runs the validation-retry loop for one failure. Generation
// errors escape unchanged so the caller's recovery layer can classify them;
// validation problems never escape, they become feedback for the next attempt.
func (a *Agent) GeneratePatch(ctx context.Context, plan planner.Plan, pack analysis.ContextPack) (*Result, error) {
	maxOps, maxLines := a.guards.MaxOperations, a.guards.MaxTotalLines
	if maxOps <= 0 {
		maxOps = patch.DefaultMaxOperations
	}
	if maxLines <= 0 {
		maxLines = patch.DefaultMaxTotalLines
	}
	systemPrompt, err := prompt.PatcherSystem(prompt.Vars{
		"max_operations":  fmt.Sprintf("%d", maxOps),
		"allowed_paths":   strings.Join(a.guards.AllowedPaths, ", "),
		"max_total_lines": fmt.Sprintf("%d", maxLines),
	})
	if err != nil {
		return nil, fmt.Errorf("render patcher system prompt: %w", err)
	}

	result := &Result{Status: StatusExhausted}

	for attemptNum := 1; attemptNum <= a.maxAttempts; attemptNum++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		userPrompt, err := a.renderUserPrompt(plan, pack, result.Attempts)
		if err != nil {
			return nil, fmt.Errorf("render patcher prompt: %w", err)
		}

		raw, err := a.gen.Generate(ctx, a.model, []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: userPrompt},
		})
		if err != nil {
			return nil, fmt.Errorf("patcher generation: %w", err)
		}
		result.Interactions++

		attempt := Attempt{Number: attemptNum, Timestamp: time.Now(), RawOutput: raw}

		outcome, perr := patch.ParseOperations(raw)
		if perr != nil {
			attempt.Issues = []string{fmt.Sprintf("output not parseable: %v", perr)}
			result.Attempts = append(result.Attempts, attempt)
			slog.Warn("patcher output unparseable", "attempt", attemptNum, "error", perr)
			continue
		}

		if outcome.Aborted() {
			attempt.Abort = outcome.Abort
			result.Attempts = append(result.Attempts, attempt)
			result.Status = StatusAborted
			result.AbortReason = outcome.Abort
			slog.Info("patcher aborted", "reason", outcome.Abort, "attempt", attemptNum)
			break
		}

		attempt.Operations = outcome.Set.Ops

		p, aerr := a.applier.Apply(outcome.Set)
		if aerr != nil {
			issues, feedbackable := applyIssues(aerr)
			if !feedbackable {
				return nil, aerr
			}
			attempt.Issues = issues
			result.Attempts = append(result.Attempts, attempt)
			slog.Warn("patch rejected", "attempt", attemptNum, "issues", len(issues))
			continue
		}

		attempt.Valid = true
		result.Attempts = append(result.Attempts, attempt)
		result.Status = StatusSucceeded
		result.Patch = p
		slog.Info("patch accepted", "attempt", attemptNum, "files", p.FilesChanged)
		break
	}

	if result.Status == StatusExhausted && noOperationsEverParsed(result.Attempts) {
		result.Status = StatusSkipped
	}
	result.Learning = summarize(result.Attempts, result.Status == StatusSucceeded)
	return result, nil
}

func (a *Agent) renderUserPrompt(plan planner.Plan, pack analysis.ContextPack, prior []Attempt) (string, error) {
	f := pack.Failure
	vars := prompt.Vars{
		"plan":            plan.Summary,
		"failure":         fmt.Sprintf("%s::%s [%s] %s", f.TestFile, f.TestFunction, f.FailureType, f.ErrorMessage),
		"excerpt":         pack.Excerpt,
		"find_candidates": strings.Join(pack.FindCandidates, "\n"),
	}
	if fb := buildFeedback(prior); fb != "" {
		vars["feedback"] = fb
	}
	return prompt.PatcherUser(vars)
}

// buildFeedback turns the most recent failed attempt's issues into prompt
// text, with a targeted suggestion where one applies.
func buildFeedback(prior []Attempt) string {
	if len(prior) == 0 {
		return ""
	}
	last := prior[len(prior)-1]
	if len(last.Issues) == 0 {
		return ""
	}

	var b strings.Builder
	for _, issue := range last.Issues {
		fmt.Fprintf(&b, "- %s\n", issue)
	}
	for _, issue := range last.Issues {
		if strings.Contains(issue, "find text not found") {
			b.WriteString("Copy the find text exactly from the test source shown above, including indentation.\n")
			break
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// applyIssues maps an Apply error to feedback lines. Only validation faults
// and no-op patches are feedbackable; anything else (I/O, diff construction)
// escalates to the caller.
func applyIssues(err error) ([]string, bool) {
	var verr *patch.ValidationError
	if errors.As(err, &verr) {
		return verr.Reasons, true
	}
	if errors.Is(err, patch.ErrNoEffectiveChange) {
		return []string{"operations produced no effective change: find and replace text are identical"}, true
	}
	return nil, false
}

func noOperationsEverParsed(attempts []Attempt) bool {
	for _, at := range attempts {
		if len(at.Operations) > 0 {
			return false
		}
	}
	return true
}

// summarize builds the learning summary: issue counts keyed by the text
// before the first colon, plus the pass/fail trajectory.
func summarize(attempts []Attempt, success bool) LearningSummary {
	s := LearningSummary{TotalAttempts: len(attempts), FinalSuccess: success}
	for _, at := range attempts {
		s.Trajectory = append(s.Trajectory, at.Valid)
		for _, issue := range at.Issues {
			pattern := issue
			if i := strings.Index(issue, ":"); i > 0 {
				pattern = issue[:i]
			}
			if s.IssuePatterns == nil {
				s.IssuePatterns = make(map[string]int)
			}
			s.IssuePatterns[pattern]++
		}
	}
	return s
}
