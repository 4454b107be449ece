package cli

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "factory",
	Short: "Automated test repair via a planner/patcher agent pair",
	Long: `patchfactory reads failing test output, plans a minimal fix with one LLM
agent, and has a second agent emit guardrailed find/replace operations that
are converted to a unified diff. The diff is printed, never applied.

Run artifacts are stored under ~/.patchfactory/runs/ (JSON plus patch.diff);
an optional Postgres event log records runs and error events.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Best-effort: a missing .env is fine.
		_ = godotenv.Load()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(errorsCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(configCmd)
}
