package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tagforge/internal/detect"
	"tagforge/internal/drift"
	"tagforge/internal/fragment"
	"tagforge/internal/history"
	"tagforge/internal/project"
	"tagforge/internal/report"
)

var (
	refreshAdd         []string
	refreshRemove      []string
	refreshTier        string
	refreshDescription string
	refreshApply       bool
	refreshNoHistory   bool
	refreshFormat      string
	refreshWidth       int
)

// refreshCmd checks the configuration for drift
var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Compare the project configuration with a fresh detection pass",
	Long: `Re-scans the workspace and reports tags that look newly applicable, tags
that are no longer detected, a requested tier change and how many composed
fragments each change would add or remove.

Nothing is written unless --apply is given. Runs are recorded in the
history database unless --no-history is set.`,
	Args: cobra.NoArgs,
	RunE: runRefresh,
}

func init() {
	refreshCmd.Flags().StringSliceVar(&refreshAdd, "add", nil, "Tags to add")
	refreshCmd.Flags().StringSliceVar(&refreshRemove, "remove", nil, "Tags to remove")
	refreshCmd.Flags().StringVar(&refreshTier, "tier", "", "Requested content tier")
	refreshCmd.Flags().StringVarP(&refreshDescription, "description", "d", "", "Free-text project description used for keyword detection")
	refreshCmd.Flags().BoolVar(&refreshApply, "apply", false, "Write the proposed configuration")
	refreshCmd.Flags().BoolVar(&refreshNoHistory, "no-history", false, "Do not record this run")
	refreshCmd.Flags().StringVarP(&refreshFormat, "format", "f", report.FormatMarkdown, "Output format: markdown, json or terminal")
	refreshCmd.Flags().IntVar(&refreshWidth, "width", 0, "Word-wrap width for terminal output (default 80)")
}

func runRefresh(cmd *cobra.Command, args []string) error {
	if err := validateFormat(refreshFormat); err != nil {
		return err
	}
	ctx := context.Background()
	s, err := activeSession()
	if err != nil {
		return err
	}

	explicit, err := explicitInput(refreshAdd, refreshRemove, refreshTier)
	if err != nil {
		return err
	}
	in := drift.Input{ExplicitAdd: explicit.ExplicitAdd, ExplicitRemove: explicit.ExplicitRemove, Tier: explicit.Tier}

	doc, cfg, err := project.LoadConfiguration(s.workspace, s.policy.DefaultTier)
	switch {
	case errors.Is(err, project.ErrNotConfigured):
		doc = nil
	case err != nil:
		return err
	default:
		in.Existing = &cfg
	}

	in.Detections, err = detect.Default(appLogger()).Scan(ctx, os.DirFS(s.workspace), refreshDescription)
	if err != nil {
		return fmt.Errorf("failed to scan workspace: %w", err)
	}

	var store *fragment.Store
	if in.Existing != nil {
		if store, err = s.loadStore(ctx, cmd, doc); err != nil {
			return err
		}
	}
	rep, err := drift.NewEngine(s.policy, appLogger()).Diff(in, store)
	if err != nil {
		return err
	}

	applied := false
	if refreshApply && rep.Status == drift.StatusOK && rep.Proposed != nil {
		doc.Apply(*rep.Proposed)
		if err := project.Save(s.workspace, doc); err != nil {
			return err
		}
		applied = true
	}

	if s.cfg.History.Enabled && !refreshNoHistory {
		if err := recordRun(ctx, s, rep, applied); err != nil {
			appLogger().Warn("failed to record drift run", zap.Error(err))
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
		}
	}

	out := cmd.OutOrStdout()
	if refreshFormat == report.FormatTerminal {
		fmt.Fprintln(out, report.DefaultStyles().Summary(rep))
	}
	if err := emit(out, refreshFormat, report.Markdown(rep), rep, refreshWidth); err != nil {
		return err
	}
	if applied {
		fmt.Fprintf(out, "\napplied: %s updated\n", project.Path(s.workspace))
	}
	return nil
}

func recordRun(ctx context.Context, s *session, rep *drift.Report, applied bool) error {
	store, err := history.Open(s.cfg.HistoryPath(s.workspace), appLogger())
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := store.Record(ctx, s.workspace, rep, applied)
	if err != nil {
		return err
	}
	appLogger().Debug("drift run recorded", zap.String("run_id", id))
	return nil
}
