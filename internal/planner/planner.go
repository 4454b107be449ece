// Package planner implements the planning agent: it reads classified test
// failures and produces a fix plan for the patcher.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/lucasnoah/patchfactory/internal/analysis"
	"github.com/lucasnoah/patchfactory/internal/llm"
	"github.com/lucasnoah/patchfactory/internal/prompt"
)

// Plan is the planner's structured output.
type Plan struct {
	Summary     string   `json:"plan"`
	TargetFiles []string `json:"target_files"`
	FixStrategy string   `json:"fix_strategy"`
	Reasoning   string   `json:"reasoning"`
	Abort       string   `json:"abort,omitempty"`
}

// Result carries the plan plus the raw model output for run artifacts.
type Result struct {
	Plan         Plan   `json:"plan"`
	Raw          string `json:"raw"`
	Aborted      bool   `json:"aborted"`
	Interactions int    `json:"interactions"`
}

// Agent is a stateless planning agent. Interaction counts are scoped to each
// Result rather than accumulated on the agent.
type Agent struct {
	gen   llm.Generator
	model string
}

// New returns a planner agent using the given generator and model name.
func New(gen llm.Generator, model string) *Agent {
	return &Agent{gen: gen, model: model}
}

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// Plan asks the model for a fix plan covering the given context packs. A
// response that is not valid plan JSON degrades to a raw-text plan instead of
// failing the run.
func (a *Agent) Plan(ctx context.Context, packs []analysis.ContextPack) (*Result, error) {
	if len(packs) == 0 {
		return nil, fmt.Errorf("no failures to plan for")
	}

	userPrompt, err := prompt.PlannerUser(prompt.Vars{
		"failures": summarizeFailures(packs),
		"excerpt":  packs[0].Excerpt,
	})
	if err != nil {
		return nil, fmt.Errorf("render planner prompt: %w", err)
	}

	raw, err := a.gen.Generate(ctx, a.model, []llm.Message{
		{Role: llm.RoleSystem, Content: prompt.PlannerSystem()},
		{Role: llm.RoleUser, Content: userPrompt},
	})
	if err != nil {
		return nil, fmt.Errorf("planner generation: %w", err)
	}

	result := &Result{Raw: raw, Interactions: 1}
	result.Plan = parsePlan(raw)
	result.Aborted = result.Plan.Abort != ""

	if result.Aborted {
		slog.Info("planner aborted", "reason", result.Plan.Abort)
	} else {
		slog.Info("plan produced", "target_files", result.Plan.TargetFiles)
	}
	return result, nil
}

// parsePlan decodes plan JSON, tolerating fenced blocks. Unparseable output
// becomes a raw-text plan so a chatty model still yields something usable.
func parsePlan(raw string) Plan {
	payload := strings.TrimSpace(raw)

	var p Plan
	if err := json.Unmarshal([]byte(payload), &p); err == nil && (p.Summary != "" || p.Abort != "") {
		return p
	}
	if m := fencedJSONRe.FindStringSubmatch(payload); m != nil {
		if err := json.Unmarshal([]byte(m[1]), &p); err == nil && (p.Summary != "" || p.Abort != "") {
			return p
		}
	}

	slog.Warn("planner output was not plan JSON, using raw text")
	return Plan{Summary: payload, FixStrategy: "see plan text"}
}

func summarizeFailures(packs []analysis.ContextPack) string {
	var b strings.Builder
	for _, p := range packs {
		f := p.Failure
		fmt.Fprintf(&b, "%s::%s [%s] %s\n", f.TestFile, f.TestFunction, f.FailureType, f.ErrorMessage)
	}
	return b.String()
}
