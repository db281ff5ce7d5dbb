package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"artistbatch/internal/backlog"
	"artistbatch/internal/config"
	"artistbatch/internal/logging"
)

var backlogList bool

var backlogCmd = &cobra.Command{
	Use:   "backlog",
	Short: "Show the pending backlog without processing anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		store, err := backlog.Open(cmd.Context(), backlog.Paths{
			Source:   cfg.Workspace.SourceDBPath(),
			Progress: cfg.Workspace.ProgressDBPath(),
			Metadata: cfg.Workspace.MetadataDBPath(),
		}, logging.NopLogger())
		if err != nil {
			return err
		}
		defer store.Close()

		pending, err := store.Pending(cmd.Context())
		if err != nil {
			return err
		}
		completed, err := store.CompletedCount(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("pending: %d  completed: %d\n", len(pending), completed)
		if backlogList {
			for _, id := range pending {
				m := store.TaskMetrics(cmd.Context(), id)
				if m.Units > 0 {
					fmt.Printf("  %s (%d units)\n", m.DisplayName, m.Units)
					continue
				}
				fmt.Printf("  %s\n", m.DisplayName)
			}
		}
		return nil
	},
}

func init() {
	backlogCmd.Flags().BoolVarP(&backlogList, "list", "l", false, "list each pending item")
	rootCmd.AddCommand(backlogCmd)
}
