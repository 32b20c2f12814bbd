package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"tagforge/internal/compose"
	"tagforge/internal/project"
	"tagforge/internal/report"
	"tagforge/internal/tags"
)

var (
	composeTags    []string
	composeTier    string
	composeInclude []string
	composeExclude []string
	composeFormat  string
	composeOutput  string
	composeWidth   int
)

// composeCmd renders the project's guidance
var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Compose guidance for the project's tags",
	Long: `Composes instructions, structure, requirements, checklists and hooks for
the persisted project configuration. --tags composes an ad-hoc tag list
instead; --tier, --include and --exclude override the persisted values.`,
	Args: cobra.NoArgs,
	RunE: runCompose,
}

func init() {
	composeCmd.Flags().StringSliceVar(&composeTags, "tags", nil, "Compose these tags instead of the project configuration")
	composeCmd.Flags().StringVar(&composeTier, "tier", "", "Content tier: core, recommended or optional")
	composeCmd.Flags().StringSliceVar(&composeInclude, "include", nil, "Only admit fragments with these ids")
	composeCmd.Flags().StringSliceVar(&composeExclude, "exclude", nil, "Never admit fragments with these ids")
	composeCmd.Flags().StringVarP(&composeFormat, "format", "f", report.FormatMarkdown, "Output format: markdown, json or terminal")
	composeCmd.Flags().StringVarP(&composeOutput, "output", "o", "", "Write to this file instead of stdout")
	composeCmd.Flags().IntVar(&composeWidth, "width", 0, "Word-wrap width for terminal output (default 80)")
}

func runCompose(cmd *cobra.Command, args []string) error {
	if err := validateFormat(composeFormat); err != nil {
		return err
	}
	s, err := activeSession()
	if err != nil {
		return err
	}

	req, doc, err := composeRequest(s)
	if err != nil {
		return err
	}

	store, err := s.loadStore(context.Background(), cmd, doc)
	if err != nil {
		return err
	}
	res, err := compose.New(appLogger()).Compose(req, store)
	if err != nil {
		return err
	}
	for _, t := range res.MissingTags {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: no fragments for tag %s\n", t)
	}

	if composeOutput == "" {
		return emit(cmd.OutOrStdout(), composeFormat, report.ComposeMarkdown(res), res, composeWidth)
	}
	var buf bytes.Buffer
	if err := emit(&buf, composeFormat, report.ComposeMarkdown(res), res, composeWidth); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(composeOutput), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(composeOutput, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", composeOutput)
	return nil
}

// composeRequest builds the request from flags, falling back to the
// persisted configuration when --tags is absent.
func composeRequest(s *session) (compose.Request, *project.Document, error) {
	var req compose.Request
	var doc *project.Document

	if len(composeTags) > 0 {
		parsed, err := tags.ParseTags(composeTags)
		if err != nil {
			return req, nil, err
		}
		req.Tags = parsed
		req.Tier = s.policy.DefaultTier
	} else {
		d, cfg, err := project.LoadConfiguration(s.workspace, s.policy.DefaultTier)
		if errors.Is(err, project.ErrNotConfigured) {
			return req, nil, fmt.Errorf("project not configured: run `tagforge init` or pass --tags")
		}
		if err != nil {
			return req, nil, err
		}
		req, doc = cfg.Request(), d
	}

	if composeTier != "" {
		tier, err := tags.ParseTier(composeTier)
		if err != nil {
			return req, nil, err
		}
		req.Tier = tier
	}
	if len(composeInclude) > 0 {
		req.Include = composeInclude
	}
	if len(composeExclude) > 0 {
		req.Exclude = composeExclude
	}
	return req, doc, nil
}
