package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lucasnoah/patchfactory/internal/analysis"
	"github.com/lucasnoah/patchfactory/internal/patch"
	"github.com/lucasnoah/patchfactory/internal/patcher"
	"github.com/lucasnoah/patchfactory/internal/planner"
	"github.com/lucasnoah/patchfactory/internal/recovery"
)

// Pin the external-integration seams so signature changes are caught here.
type stubDiffApplier struct{}

func (stubDiffApplier) Apply(string, string) (bool, error) { return false, nil }

type stubTestRunner struct{}

func (stubTestRunner) Run(context.Context) (bool, string, error) { return true, "", nil }

var (
	_ DiffApplier = stubDiffApplier{}
	_ TestRunner  = stubTestRunner{}
)

type fakePlanner struct {
	result *planner.Result
	err    error
	calls  int
}

func (p *fakePlanner) Plan(context.Context, []analysis.ContextPack) (*planner.Result, error) {
	p.calls++
	return p.result, p.err
}

type fakePatcher struct {
	result *patcher.Result
	err    error
	target analysis.ContextPack
}

func (p *fakePatcher) GeneratePatch(_ context.Context, _ planner.Plan, pack analysis.ContextPack) (*patcher.Result, error) {
	p.target = pack
	return p.result, p.err
}

type fakeBuilder struct{}

func (fakeBuilder) Build(failures []analysis.Failure) []analysis.ContextPack {
	packs := make([]analysis.ContextPack, 0, len(failures))
	for _, f := range failures {
		packs = append(packs, analysis.ContextPack{Failure: f, Excerpt: "def test():\n    pass\n"})
	}
	return packs
}

const failingOutput = "FAILED tests/test_math.py::test_add - assert 2 == 3\n" +
	"FAILED tests/test_str.py::test_upper - assert 'A' == 'a'\n"

func goodPlanResult() *planner.Result {
	return &planner.Result{
		Plan: planner.Plan{
			Summary:     "fix expected values",
			TargetFiles: []string{"tests/test_str.py"},
		},
		Interactions: 1,
	}
}

func goodPatchResult() *patcher.Result {
	return &patcher.Result{
		Status: patcher.StatusSucceeded,
		Attempts: []patcher.Attempt{{
			Number:     1,
			Timestamp:  time.Now(),
			Operations: []patch.Operation{{File: "tests/test_str.py", Find: "'a'", Replace: "'A'"}},
			Valid:      true,
		}},
		Patch: &patch.Patch{
			UnifiedDiff:  "--- a/tests/test_str.py\n+++ b/tests/test_str.py\n@@ -1 +1 @@\n-'a'\n+'A'\n",
			FilesChanged: 1,
			LinesAdded:   1,
			LinesRemoved: 1,
		},
		Learning:     patcher.LearningSummary{TotalAttempts: 1, Trajectory: []bool{true}, FinalSuccess: true},
		Interactions: 1,
	}
}

func newTestCoordinator(t *testing.T, pl Planner, pa Patcher) *Coordinator {
	t.Helper()
	rec := NewTestRecovery()
	c, err := NewCoordinator(Deps{
		Planner:  pl,
		Patcher:  pa,
		Parser:   analysis.PytestParser{},
		Builder:  fakeBuilder{},
		Recovery: rec,
		Store:    NewStore(t.TempDir()),
	})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	return c
}

// NewTestRecovery returns a recovery system that never sleeps.
func NewTestRecovery() *recovery.System {
	s := recovery.NewSystem(3, time.Millisecond)
	s.SetSleeper(noSleep{})
	return s
}

type noSleep struct{}

func (noSleep) Sleep(time.Duration) {}

func TestProcessTestFailuresHappyPath(t *testing.T) {
	pa := &fakePatcher{result: goodPatchResult()}
	c := newTestCoordinator(t, &fakePlanner{result: goodPlanResult()}, pa)

	result := c.ProcessTestFailures(context.Background(), failingOutput)
	if !result.Success {
		t.Fatalf("run failed: %s", result.Error)
	}
	if result.Phase != PhaseComplete {
		t.Errorf("Phase = %s, want complete", result.Phase)
	}
	if result.UnifiedDiff == "" || result.FilesChanged != 1 {
		t.Errorf("diff not carried into result: %+v", result)
	}
	if len(result.Failures) != 2 {
		t.Errorf("Failures = %d, want 2", len(result.Failures))
	}
	if result.PlannerInteractions != 1 || result.PatcherInteractions != 1 {
		t.Errorf("interactions = %d/%d, want 1/1", result.PlannerInteractions, result.PatcherInteractions)
	}
	// The plan targeted test_str.py, so that pack must be patched.
	if pa.target.Failure.TestFile != "tests/test_str.py" {
		t.Errorf("patched %s, want the plan's target file", pa.target.Failure.TestFile)
	}
}

func TestProcessTestFailuresNoFailures(t *testing.T) {
	c := newTestCoordinator(t, &fakePlanner{}, &fakePatcher{})
	result := c.ProcessTestFailures(context.Background(), "===== 12 passed =====\n")
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Phase != PhaseAnalysis {
		t.Errorf("Phase = %s, want analysis", result.Phase)
	}
	if !strings.Contains(result.Error, "no test failures") {
		t.Errorf("Error = %q", result.Error)
	}
}

func TestProcessTestFailuresPlanningFails(t *testing.T) {
	pl := &fakePlanner{err: errors.New("connection refused")}
	c := newTestCoordinator(t, pl, &fakePatcher{})

	result := c.ProcessTestFailures(context.Background(), failingOutput)
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Phase != PhasePlanning {
		t.Errorf("Phase = %s, want planning", result.Phase)
	}
	// Recovery retries the transient network fault before giving up.
	if pl.calls != DefaultPlanningRetries+1 {
		t.Errorf("planner called %d times, want %d", pl.calls, DefaultPlanningRetries+1)
	}
	if result.Recovery.TotalErrors == 0 {
		t.Error("recovery summary missing from result")
	}
}

func TestProcessTestFailuresPlannerAborts(t *testing.T) {
	pl := &fakePlanner{result: &planner.Result{
		Plan:    planner.Plan{Abort: "out_of_scope"},
		Aborted: true,
	}}
	c := newTestCoordinator(t, pl, &fakePatcher{})

	result := c.ProcessTestFailures(context.Background(), failingOutput)
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.AbortReason != "out_of_scope" {
		t.Errorf("AbortReason = %q", result.AbortReason)
	}
	if result.UnifiedDiff != "" {
		t.Error("aborted run must not carry a diff")
	}
}

func TestProcessTestFailuresPatcherExhausted(t *testing.T) {
	pa := &fakePatcher{result: &patcher.Result{
		Status:   patcher.StatusExhausted,
		Attempts: []patcher.Attempt{{Number: 1}, {Number: 2}, {Number: 3}},
	}}
	c := newTestCoordinator(t, &fakePlanner{result: goodPlanResult()}, pa)

	result := c.ProcessTestFailures(context.Background(), failingOutput)
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Phase != PhasePatching {
		t.Errorf("Phase = %s, want patching", result.Phase)
	}
	if result.UnifiedDiff != "" {
		t.Error("exhausted run must fail closed with no diff")
	}
	if !strings.Contains(result.Error, "3 validation attempts") {
		t.Errorf("Error = %q", result.Error)
	}
}

func TestProcessTestFailuresPersistsResult(t *testing.T) {
	dir := t.TempDir()
	rec := NewTestRecovery()
	store := NewStore(dir)
	c, err := NewCoordinator(Deps{
		Planner:  &fakePlanner{result: goodPlanResult()},
		Patcher:  &fakePatcher{result: goodPatchResult()},
		Parser:   analysis.PytestParser{},
		Builder:  fakeBuilder{},
		Recovery: rec,
		Store:    store,
	})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}

	result := c.ProcessTestFailures(context.Background(), failingOutput)

	loaded, err := store.LoadResult(result.RunID)
	if err != nil {
		t.Fatalf("LoadResult: %v", err)
	}
	if loaded.RunID != result.RunID || !loaded.Success {
		t.Errorf("stored result mismatch: %+v", loaded)
	}

	runs, err := store.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0] != result.RunID {
		t.Errorf("ListRuns = %v", runs)
	}
}

func TestClearErrorHistory(t *testing.T) {
	pl := &fakePlanner{err: errors.New("connection refused")}
	c := newTestCoordinator(t, pl, &fakePatcher{})
	c.ProcessTestFailures(context.Background(), failingOutput)

	if c.GetErrorRecoveryStatus().TotalErrors == 0 {
		t.Fatal("expected recorded errors")
	}
	c.ClearErrorHistory()
	if c.GetErrorRecoveryStatus().TotalErrors != 0 {
		t.Error("history not cleared")
	}
}
