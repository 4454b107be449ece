// Package workflow wires the planner and patcher agents into a single
// test-repair pipeline and assembles the run result.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lucasnoah/patchfactory/internal/analysis"
	"github.com/lucasnoah/patchfactory/internal/patch"
	"github.com/lucasnoah/patchfactory/internal/patcher"
	"github.com/lucasnoah/patchfactory/internal/planner"
	"github.com/lucasnoah/patchfactory/internal/recovery"
)

// Pipeline phases, recorded on the result to show where a run ended.
const (
	PhaseAnalysis = "analysis"
	PhasePlanning = "planning"
	PhasePatching = "patching"
	PhaseComplete = "complete"
)

// Default retry budgets per phase.
const (
	DefaultPlanningRetries = 2
	DefaultPatchingRetries = 3
)

// Planner produces a fix plan from context packs.
type Planner interface {
	Plan(ctx context.Context, packs []analysis.ContextPack) (*planner.Result, error)
}

// Patcher runs the validation-retry loop for one failure.
type Patcher interface {
	GeneratePatch(ctx context.Context, plan planner.Plan, pack analysis.ContextPack) (*patcher.Result, error)
}

// ContextBuilder turns failures into context packs.
type ContextBuilder interface {
	Build(failures []analysis.Failure) []analysis.ContextPack
}

// EventLog records runs and error events in external storage. Implementations
// are best-effort; the coordinator logs and ignores their failures.
type EventLog interface {
	RecordRun(ctx context.Context, result *WorkflowResult) error
	RecordErrors(ctx context.Context, runID string, errs []recovery.ErrorInfo) error
}

// DiffApplier applies a unified diff to a repository. The pipeline itself
// never writes to the working tree; external integrations implement this to
// consume the emitted diff. No in-tree implementation exists.
type DiffApplier interface {
	Apply(repoRoot string, unifiedDiff string) (bool, error)
}

// TestRunner re-runs the test suite to confirm a fix. Like DiffApplier, this
// is a seam for external integrations only.
type TestRunner interface {
	Run(ctx context.Context) (passed bool, output string, err error)
}

// WorkflowResult is the immutable, JSON-serializable outcome of one pipeline
// run.
type WorkflowResult struct {
	RunID               string                   `json:"run_id"`
	Success             bool                     `json:"success"`
	Phase               string                   `json:"phase"`
	Failures            []analysis.Failure       `json:"failures,omitempty"`
	Plan                *planner.Plan            `json:"plan,omitempty"`
	AbortReason         string                   `json:"abort_reason,omitempty"`
	Operations          []patch.Operation        `json:"operations,omitempty"`
	UnifiedDiff         string                   `json:"unified_diff,omitempty"`
	FilesChanged        int                      `json:"files_changed,omitempty"`
	LinesAdded          int                      `json:"lines_added,omitempty"`
	LinesRemoved        int                      `json:"lines_removed,omitempty"`
	Attempts            []patcher.Attempt        `json:"attempts,omitempty"`
	Learning            *patcher.LearningSummary `json:"learning,omitempty"`
	Error               string                   `json:"error,omitempty"`
	Recovery            recovery.Summary         `json:"recovery"`
	StartedAt           time.Time                `json:"started_at"`
	Duration            time.Duration            `json:"duration"`
	PlannerInteractions int                      `json:"planner_interactions"`
	PatcherInteractions int                      `json:"patcher_interactions"`
}

// Deps holds everything the coordinator needs. All collaborators are injected;
// there is no package-level state.
type Deps struct {
	Planner         Planner
	Patcher         Patcher
	Parser          analysis.Parser
	Builder         ContextBuilder
	Recovery        *recovery.System
	Store           *Store   // optional
	Events          EventLog // optional
	PlanningRetries int
	PatchingRetries int
}

// Coordinator drives one pipeline run: analysis, planning, patching, result
// assembly.
type Coordinator struct {
	deps Deps
}

// NewCoordinator validates the required dependencies and returns a
// coordinator.
func NewCoordinator(deps Deps) (*Coordinator, error) {
	if deps.Planner == nil || deps.Patcher == nil || deps.Parser == nil || deps.Builder == nil || deps.Recovery == nil {
		return nil, fmt.Errorf("planner, patcher, parser, builder and recovery are all required")
	}
	if deps.PlanningRetries <= 0 {
		deps.PlanningRetries = DefaultPlanningRetries
	}
	if deps.PatchingRetries <= 0 {
		deps.PatchingRetries = DefaultPatchingRetries
	}
	return &Coordinator{deps: deps}, nil
}

// ProcessTestFailures runs the full pipeline on captured test output. Failures
// of any phase come back as a structured result naming the phase; the only
// error-free contract is that the returned result is never nil.
func (c *Coordinator) ProcessTestFailures(ctx context.Context, testOutput string) *WorkflowResult {
	start := time.Now()
	result := &WorkflowResult{
		RunID:     NewRunID(start),
		StartedAt: start,
		Phase:     PhaseAnalysis,
	}
	defer func() {
		result.Duration = time.Since(start)
		result.Recovery = c.deps.Recovery.Summary()
		c.persist(ctx, result)
	}()

	failures := c.deps.Parser.Parse(testOutput)
	if len(failures) == 0 {
		result.Error = "no test failures detected in the provided output"
		return result
	}
	result.Failures = failures
	slog.Info("failures classified", "run", result.RunID, "count", len(failures))

	packs := c.deps.Builder.Build(failures)

	result.Phase = PhasePlanning
	planResult, err := recovery.Do(ctx, c.deps.Recovery, map[string]any{"phase": PhasePlanning, "run": result.RunID},
		c.deps.PlanningRetries, func(ctx context.Context) (*planner.Result, error) {
			return c.deps.Planner.Plan(ctx, packs)
		})
	if err != nil {
		result.Error = fmt.Sprintf("planning failed: %v", err)
		return result
	}
	result.Plan = &planResult.Plan
	result.PlannerInteractions = planResult.Interactions
	if planResult.Aborted {
		result.AbortReason = planResult.Plan.Abort
		result.Error = fmt.Sprintf("planner aborted: %s", planResult.Plan.Abort)
		return result
	}

	result.Phase = PhasePatching
	target := selectTarget(packs, planResult.Plan.TargetFiles)
	patchResult, err := recovery.Do(ctx, c.deps.Recovery, map[string]any{"phase": PhasePatching, "run": result.RunID},
		c.deps.PatchingRetries, func(ctx context.Context) (*patcher.Result, error) {
			return c.deps.Patcher.GeneratePatch(ctx, planResult.Plan, target)
		})
	if err != nil {
		result.Error = fmt.Sprintf("patching failed: %v", err)
		return result
	}
	result.Attempts = patchResult.Attempts
	result.Learning = &patchResult.Learning
	result.PatcherInteractions = patchResult.Interactions

	switch patchResult.Status {
	case patcher.StatusSucceeded:
		last := patchResult.Attempts[len(patchResult.Attempts)-1]
		result.Operations = last.Operations
		result.UnifiedDiff = patchResult.Patch.UnifiedDiff
		result.FilesChanged = patchResult.Patch.FilesChanged
		result.LinesAdded = patchResult.Patch.LinesAdded
		result.LinesRemoved = patchResult.Patch.LinesRemoved
		result.Success = true
		result.Phase = PhaseComplete
	case patcher.StatusAborted:
		result.AbortReason = patchResult.AbortReason
		result.Error = fmt.Sprintf("patcher aborted: %s", patchResult.AbortReason)
	case patcher.StatusSkipped:
		result.Error = "patcher produced no usable operations"
	default:
		result.Error = fmt.Sprintf("patcher exhausted %d validation attempts", len(patchResult.Attempts))
	}
	return result
}

// GetErrorRecoveryStatus exposes the recovery system's summary.
func (c *Coordinator) GetErrorRecoveryStatus() recovery.Summary {
	return c.deps.Recovery.Summary()
}

// ClearErrorHistory discards the recovery system's history.
func (c *Coordinator) ClearErrorHistory() {
	c.deps.Recovery.ClearHistory()
}

// selectTarget picks the context pack to patch: the first pack whose file the
// plan targets, falling back to the first pack.
func selectTarget(packs []analysis.ContextPack, targetFiles []string) analysis.ContextPack {
	for _, p := range packs {
		for _, tf := range targetFiles {
			if p.Failure.TestFile == tf {
				return p
			}
		}
	}
	return packs[0]
}

// persist saves run artifacts and event rows. Both are best-effort.
func (c *Coordinator) persist(ctx context.Context, result *WorkflowResult) {
	if c.deps.Store != nil {
		if err := c.deps.Store.SaveResult(result); err != nil {
			slog.Warn("could not save run artifacts", "run", result.RunID, "error", err)
		}
		if err := c.deps.Store.MergeErrorSummary(result.Recovery); err != nil {
			slog.Warn("could not merge error summary", "run", result.RunID, "error", err)
		}
	}
	if c.deps.Events != nil {
		if err := c.deps.Events.RecordRun(ctx, result); err != nil {
			slog.Warn("could not record run event", "run", result.RunID, "error", err)
		}
		if len(result.Recovery.RecentErrors) > 0 {
			if err := c.deps.Events.RecordErrors(ctx, result.RunID, result.Recovery.RecentErrors); err != nil {
				slog.Warn("could not record error events", "run", result.RunID, "error", err)
			}
		}
	}
}
