package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tagforge/internal/config"
	"tagforge/internal/detect"
	"tagforge/internal/project"
	"tagforge/internal/report"
	"tagforge/internal/resolve"
	"tagforge/internal/tags"
)

var (
	initAdd         []string
	initRemove      []string
	initTier        string
	initDescription string
	initForce       bool
	initSaveConfig  bool
)

// initCmd creates the project configuration
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Detect the project's tags and write its configuration",
	Long: `Scans the workspace for marker files, combines the detections with any
explicit --add/--remove tags and writes .tagforge/project.yaml.

Detections at or above the auto-add threshold are added; weaker ones are
printed as suggestions.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringSliceVar(&initAdd, "add", nil, "Tags to add regardless of detection")
	initCmd.Flags().StringSliceVar(&initRemove, "remove", nil, "Tags to leave out even when detected")
	initCmd.Flags().StringVar(&initTier, "tier", "", "Content tier: core, recommended or optional (default from policy)")
	initCmd.Flags().StringVarP(&initDescription, "description", "d", "", "Free-text project description used for keyword detection")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing configuration")
	initCmd.Flags().BoolVar(&initSaveConfig, "save-config", false, "Also write the effective tool configuration")
}

func runInit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := activeSession()
	if err != nil {
		return err
	}
	if project.Exists(s.workspace) && !initForce {
		return fmt.Errorf("project already configured at %s (use `tagforge refresh`, or `init --force`)", project.Path(s.workspace))
	}

	in, err := explicitInput(initAdd, initRemove, initTier)
	if err != nil {
		return err
	}
	detections, err := detect.Default(appLogger()).Scan(ctx, os.DirFS(s.workspace), initDescription)
	if err != nil {
		return fmt.Errorf("failed to scan workspace: %w", err)
	}
	in.Detections = detections

	outcome, err := resolve.New(s.policy, appLogger()).Resolve(in)
	if err != nil {
		return err
	}

	doc := &project.Document{}
	if initForce {
		if existing, err := project.Load(s.workspace); err == nil {
			doc = existing
		}
	}
	doc.Apply(outcome.Configuration)
	if err := project.Save(s.workspace, doc); err != nil {
		return err
	}
	if initSaveConfig {
		path := configPath
		if path == "" {
			path = config.DefaultPath(s.workspace)
		}
		if err := s.cfg.Save(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	}
	appLogger().Info("project initialized",
		zap.String("path", project.Path(s.workspace)),
		zap.Strings("tags", tags.Strings(outcome.Configuration.Tags)))

	out := cmd.OutOrStdout()
	styles := report.DefaultStyles()
	fmt.Fprintf(out, "%s %s\n", styles.Title.Render("initialized"), project.Path(s.workspace))
	fmt.Fprintf(out, "  tags: %v\n  tier: %s\n", tags.Strings(outcome.Configuration.Tags), outcome.Configuration.Tier)
	for _, sg := range outcome.Suggestions {
		fmt.Fprintf(out, "  %s\n", styles.Suggestion(sg))
	}
	for _, msg := range outcome.Rejected {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", msg)
	}
	return nil
}

// explicitInput parses the --add/--remove/--tier flags shared by init and
// refresh.
func explicitInput(add, remove []string, tier string) (resolve.Input, error) {
	var in resolve.Input
	var err error
	if in.ExplicitAdd, err = tags.ParseTags(add); err != nil {
		return in, err
	}
	if in.ExplicitRemove, err = tags.ParseTags(remove); err != nil {
		return in, err
	}
	if tier != "" {
		t, err := tags.ParseTier(tier)
		if err != nil {
			return in, err
		}
		in.Tier = &t
	}
	return in, nil
}
