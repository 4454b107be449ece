package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "Show the cross-run error recovery summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}

		sum, err := store.LoadErrorSummary()
		if err != nil {
			return fmt.Errorf("load error summary: %w", err)
		}
		if sum.TotalErrors == 0 {
			cmd.Println("No errors recorded.")
			return nil
		}

		data, err := json.MarshalIndent(sum, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal summary: %w", err)
		}
		cmd.Println(string(data))
		return nil
	},
}

var errorsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard the recorded error history",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		if err := store.ClearErrorSummary(); err != nil {
			return fmt.Errorf("clear error summary: %w", err)
		}
		cmd.Println("Error history cleared.")
		return nil
	},
}

func init() {
	errorsCmd.AddCommand(errorsClearCmd)
}
