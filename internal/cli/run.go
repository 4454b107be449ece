package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/patchfactory/internal/analysis"
	"github.com/lucasnoah/patchfactory/internal/config"
	"github.com/lucasnoah/patchfactory/internal/db"
	"github.com/lucasnoah/patchfactory/internal/llm"
	"github.com/lucasnoah/patchfactory/internal/patch"
	"github.com/lucasnoah/patchfactory/internal/patcher"
	"github.com/lucasnoah/patchfactory/internal/planner"
	"github.com/lucasnoah/patchfactory/internal/prompt"
	"github.com/lucasnoah/patchfactory/internal/recovery"
	"github.com/lucasnoah/patchfactory/internal/workflow"
)

var (
	runTestOutput string
	runRepoRoot   string
	runDiffOut    string
	runTimeout    time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the repair pipeline on captured test output",
	Long: `Reads failing test output (from --test-output or stdin), plans a fix,
generates a guardrailed patch, and prints the run result as JSON followed by
the unified diff. The diff is never applied to the repository.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if errs := config.Validate(cfg); len(errs) > 0 {
			return fmt.Errorf("invalid config: %s (run 'factory config validate')", errs[0])
		}

		testOutput, err := readTestOutput(cmd.InOrStdin())
		if err != nil {
			return err
		}

		coord, cleanup, err := buildCoordinator(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := cmd.Context()
		if runTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, runTimeout)
			defer cancel()
		}

		result := coord.ProcessTestFailures(ctx, testOutput)

		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		cmd.Println(string(data))

		if result.UnifiedDiff != "" {
			cmd.Println(result.UnifiedDiff)
			if runDiffOut != "" {
				if err := os.WriteFile(runDiffOut, []byte(result.UnifiedDiff), 0o644); err != nil {
					return fmt.Errorf("write diff to %s: %w", runDiffOut, err)
				}
				cmd.Printf("diff written to %s\n", runDiffOut)
			}
		}

		if !result.Success {
			return fmt.Errorf("run %s failed in %s phase: %s", result.RunID, result.Phase, result.Error)
		}
		return nil
	},
}

func readTestOutput(stdin io.Reader) (string, error) {
	if runTestOutput != "" && runTestOutput != "-" {
		data, err := os.ReadFile(runTestOutput)
		if err != nil {
			return "", fmt.Errorf("read test output: %w", err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read test output from stdin: %w", err)
	}
	return string(data), nil
}

// buildCoordinator assembles the full dependency graph from config. The
// returned cleanup closes the event log connection if one was opened.
func buildCoordinator(cfg *config.Config) (*workflow.Coordinator, func(), error) {
	cleanup := func() {}

	// Seed ~/.patchfactory/templates/ so operators can edit the prompts.
	// The agents fall back to the embedded templates if this fails.
	if err := prompt.InstallBuiltinTemplates(); err != nil {
		slog.Warn("could not install prompt templates", "error", err)
	}

	gen, err := buildGenerator(cfg)
	if err != nil {
		return nil, cleanup, err
	}

	var parser analysis.Parser
	switch cfg.Workflow.TestParser {
	case "gotest":
		parser = analysis.GoTestParser{}
	default:
		parser = analysis.PytestParser{}
	}

	guards := patch.Guardrails{
		AllowedPaths:  cfg.Guardrails.AllowedPaths,
		MaxOperations: cfg.Guardrails.MaxOperations,
		MaxTotalLines: cfg.Guardrails.MaxTotalLines,
		MaxTextChars:  cfg.Guardrails.MaxTextChars,
	}
	engine := patch.NewEngine(runRepoRoot, guards)

	patchAgent := patcher.New(gen, cfg.Workflow.PatcherModel, engine, guards)
	patchAgent.SetMaxAttempts(cfg.Workflow.MaxValidationAttempts)

	retryDelay, err := time.ParseDuration(cfg.Workflow.RetryDelay)
	if err != nil {
		return nil, cleanup, fmt.Errorf("invalid retry_delay: %w", err)
	}

	deps := workflow.Deps{
		Planner:         planner.New(gen, cfg.Workflow.PlannerModel),
		Patcher:         patchAgent,
		Parser:          parser,
		Builder:         analysis.NewContextBuilder(runRepoRoot, cfg.Guardrails.AllowedPaths),
		Recovery:        recovery.NewSystem(cfg.Workflow.PatchingRetries, retryDelay),
		PlanningRetries: cfg.Workflow.PlanningRetries,
		PatchingRetries: cfg.Workflow.PatchingRetries,
	}

	if !cfg.Store.Disabled {
		store, err := openStore(cfg)
		if err != nil {
			return nil, cleanup, err
		}
		deps.Store = store
	}

	if cfg.Database.DSN != "" {
		events, err := db.Open(cfg.Database.DSN)
		if err != nil {
			return nil, cleanup, fmt.Errorf("open event log: %w", err)
		}
		if err := events.Migrate(); err != nil {
			events.Close()
			return nil, cleanup, fmt.Errorf("migrate event log: %w", err)
		}
		deps.Events = events
		cleanup = func() { events.Close() }
	}

	coord, err := workflow.NewCoordinator(deps)
	if err != nil {
		return nil, cleanup, err
	}
	return coord, cleanup, nil
}

func buildGenerator(cfg *config.Config) (llm.Generator, error) {
	timeout, err := time.ParseDuration(cfg.LLM.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid llm timeout: %w", err)
	}

	switch cfg.LLM.Backend {
	case "openai":
		key := os.Getenv(cfg.LLM.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("environment variable %s is not set", cfg.LLM.APIKeyEnv)
		}
		return llm.NewOpenAIClient(key, cfg.LLM.BaseURL), nil
	default:
		return llm.NewOllamaClient(cfg.LLM.BaseURL, timeout), nil
	}
}

func openStore(cfg *config.Config) (*workflow.Store, error) {
	if cfg.Store.BaseDir != "" {
		if err := os.MkdirAll(cfg.Store.BaseDir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", cfg.Store.BaseDir, err)
		}
		return workflow.NewStore(cfg.Store.BaseDir), nil
	}
	return workflow.DefaultStore()
}

func init() {
	runCmd.Flags().StringVarP(&runTestOutput, "test-output", "t", "", "file with captured test output (default: stdin)")
	runCmd.Flags().StringVar(&runRepoRoot, "repo-root", ".", "repository root the test files are relative to")
	runCmd.Flags().StringVarP(&runDiffOut, "output", "o", "", "also write the unified diff to this file")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 10*time.Minute, "overall pipeline timeout")
}
