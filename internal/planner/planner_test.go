package planner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lucasnoah/patchfactory/internal/analysis"
	"github.com/lucasnoah/patchfactory/internal/llm"
)

// scriptedGenerator returns canned responses in order.
type scriptedGenerator struct {
	responses []string
	err       error
	prompts   []string
}

func (g *scriptedGenerator) Generate(_ context.Context, _ string, messages []llm.Message) (string, error) {
	g.prompts = append(g.prompts, messages[len(messages)-1].Content)
	if g.err != nil {
		return "", g.err
	}
	if len(g.responses) == 0 {
		return "", errors.New("no scripted response left")
	}
	resp := g.responses[0]
	g.responses = g.responses[1:]
	return resp, nil
}

func somePacks() []analysis.ContextPack {
	return []analysis.ContextPack{{
		Failure: analysis.Failure{
			TestFile:     "tests/test_math.py",
			TestFunction: "test_add",
			FailureType:  analysis.FailAssertMismatch,
			ErrorMessage: "assert 2 == 3",
		},
		Excerpt: "def test_add():\n    assert add(1, 1) == 3\n",
	}}
}

func TestPlanStructuredResponse(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`{"plan": "fix the expected value", "target_files": ["tests/test_math.py"], "fix_strategy": "change 3 to 2", "reasoning": "add(1,1) is 2"}`,
	}}
	result, err := New(gen, "llama3").Plan(context.Background(), somePacks())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if result.Aborted {
		t.Fatal("unexpected abort")
	}
	if result.Plan.Summary != "fix the expected value" {
		t.Errorf("Summary = %q", result.Plan.Summary)
	}
	if len(result.Plan.TargetFiles) != 1 || result.Plan.TargetFiles[0] != "tests/test_math.py" {
		t.Errorf("TargetFiles = %v", result.Plan.TargetFiles)
	}
	if result.Interactions != 1 {
		t.Errorf("Interactions = %d, want 1", result.Interactions)
	}
	if !strings.Contains(gen.prompts[0], "tests/test_math.py::test_add") {
		t.Errorf("prompt missing failure summary:\n%s", gen.prompts[0])
	}
}

func TestPlanFencedResponse(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		"Sure, here's the plan:\n```json\n{\"plan\": \"fix it\", \"target_files\": [\"tests/test_math.py\"]}\n```",
	}}
	result, err := New(gen, "llama3").Plan(context.Background(), somePacks())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if result.Plan.Summary != "fix it" {
		t.Errorf("Summary = %q", result.Plan.Summary)
	}
}

func TestPlanAbort(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{`{"abort": "out_of_scope"}`}}
	result, err := New(gen, "llama3").Plan(context.Background(), somePacks())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !result.Aborted {
		t.Fatal("expected abort")
	}
	if result.Plan.Abort != "out_of_scope" {
		t.Errorf("Abort = %q", result.Plan.Abort)
	}
}

func TestPlanRawFallback(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"I think you should change the assertion to expect 2."}}
	result, err := New(gen, "llama3").Plan(context.Background(), somePacks())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if result.Aborted {
		t.Fatal("unexpected abort")
	}
	if !strings.Contains(result.Plan.Summary, "change the assertion") {
		t.Errorf("raw fallback not used: %+v", result.Plan)
	}
}

func TestPlanGeneratorError(t *testing.T) {
	gen := &scriptedGenerator{err: errors.New("connection refused")}
	if _, err := New(gen, "llama3").Plan(context.Background(), somePacks()); err == nil {
		t.Fatal("expected error")
	}
}

func TestPlanNoFailures(t *testing.T) {
	if _, err := New(&scriptedGenerator{}, "llama3").Plan(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty pack list")
	}
}
