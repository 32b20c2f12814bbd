package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"tagforge/internal/history"
	"tagforge/internal/report"
)

var (
	historyLimit  int
	historyAll    bool
	historyKeep   int
	historyFormat string
	historyWidth  int
)

// historyCmd lists recorded drift runs
var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show recorded drift runs",
	Long: `Lists recent drift runs for the workspace, newest first. With a run id,
prints that run's full report. --keep N deletes all but the newest N runs
of the workspace before listing.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "Maximum runs to list (default history.limit)")
	historyCmd.Flags().BoolVar(&historyAll, "all", false, "List runs of every workspace")
	historyCmd.Flags().IntVar(&historyKeep, "keep", -1, "Prune to the newest N runs of this workspace")
	historyCmd.Flags().StringVarP(&historyFormat, "format", "f", report.FormatMarkdown, "Output format: markdown, json or terminal")
	historyCmd.Flags().IntVar(&historyWidth, "width", 0, "Word-wrap width for terminal output (default 80)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if err := validateFormat(historyFormat); err != nil {
		return err
	}
	ctx := context.Background()
	s, err := activeSession()
	if err != nil {
		return err
	}

	store, err := history.Open(s.cfg.HistoryPath(s.workspace), appLogger())
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		run, err := store.Get(ctx, args[0])
		if errors.Is(err, history.ErrNotFound) {
			return fmt.Errorf("no drift run %q", args[0])
		}
		if err != nil {
			return err
		}
		return emit(out, historyFormat, report.Markdown(run.Report), run, historyWidth)
	}

	if historyKeep >= 0 {
		removed, err := store.Prune(ctx, s.workspace, historyKeep)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "pruned %d run(s)\n", removed)
	}

	limit := historyLimit
	if limit <= 0 {
		limit = s.cfg.History.Limit
	}
	ws := s.workspace
	if historyAll {
		ws = ""
	}
	runs, err := store.List(ctx, ws, limit)
	if err != nil {
		return err
	}
	return emit(out, historyFormat, report.HistoryMarkdown(runs), runs, historyWidth)
}
