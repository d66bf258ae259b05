package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/forkpool/internal/history"
	"github.com/zjrosen/forkpool/internal/infrastructure/sqlite"
	"github.com/zjrosen/forkpool/internal/presentation"
)

var (
	historyLimit  int
	historyJSON   bool
	historyDelete bool
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List recorded runs, or show one",
	Long: `List recorded runs newest first. With a run id, show that run and its
workers; add --delete to remove it instead.

Examples:
  forkpool history
  forkpool history --limit 5 --json
  forkpool history 1a2b3c4d
  forkpool history 1a2b3c4d --delete`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "maximum runs to list (0 for all)")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print as JSON")
	historyCmd.Flags().BoolVar(&historyDelete, "delete", false, "delete the given run")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	if historyDelete && len(args) == 0 {
		return errors.New("--delete needs a run id")
	}

	db, err := sqlite.NewDB(cfg.HistoryPath())
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	defer func() { _ = db.Close() }()
	repo := db.RunRepository()
	f := presentation.NewFormatter(cmd.OutOrStdout())

	if len(args) == 0 {
		runs, err := repo.List(historyLimit)
		if err != nil {
			return err
		}
		dtos := presentation.FromRuns(runs)
		if historyJSON {
			return f.FormatJSON(dtos)
		}
		return f.FormatRuns(dtos)
	}

	runID := args[0]
	if historyDelete {
		if err := repo.Delete(runID); err != nil {
			return err
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", runID)
		return err
	}

	run, err := repo.FindByRunID(runID)
	var notFound *history.RunNotFoundError
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w (see 'forkpool history')", err)
	}
	if err != nil {
		return err
	}
	if historyJSON {
		return f.FormatJSON(presentation.FromRun(run))
	}
	return f.FormatRun(presentation.FromRun(run))
}
