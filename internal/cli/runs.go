package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored pipeline runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}

		runs, err := store.ListRuns()
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			cmd.Println("No runs stored.")
			return nil
		}

		for _, id := range runs {
			result, err := store.LoadResult(id)
			if err != nil {
				cmd.Printf("%s  (unreadable: %v)\n", id, err)
				continue
			}
			status := "FAIL"
			if result.Success {
				status = "OK"
			}
			detail := fmt.Sprintf("%d files, +%d/-%d", result.FilesChanged, result.LinesAdded, result.LinesRemoved)
			if !result.Success {
				detail = result.Error
			}
			cmd.Printf("%s  %-4s %-9s %s\n", id, status, result.Phase, detail)
		}
		return nil
	},
}
