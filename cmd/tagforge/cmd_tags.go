package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tagforge/internal/fragment"
	"tagforge/internal/project"
	"tagforge/internal/tags"
)

// tagsCmd lists the tag and tier enumerations
var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "List tags, tiers and the fragments each tag carries",
	Long: `Lists every tag in enumeration order with the number of fragments of
each kind the configured sources provide. Tags the project currently uses
are marked with *.`,
	Args: cobra.NoArgs,
	RunE: runTags,
}

func runTags(cmd *cobra.Command, args []string) error {
	s, err := activeSession()
	if err != nil {
		return err
	}

	var doc *project.Document
	var active []tags.Tag
	if d, cfg, err := project.LoadConfiguration(s.workspace, s.policy.DefaultTier); err == nil {
		doc, active = d, cfg.Tags
	}

	out := cmd.OutOrStdout()
	store, err := s.loadStore(context.Background(), cmd, doc)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	header := []string{"TAG"}
	for _, k := range fragment.Kinds() {
		header = append(header, strings.ToUpper(string(k)))
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, t := range tags.All() {
		name := string(t)
		if tags.Contains(active, t) {
			name += " *"
		}
		row := []string{name}
		for _, k := range fragment.Kinds() {
			if store == nil || !store.Has(t) {
				row = append(row, "-")
				continue
			}
			row = append(row, fmt.Sprintf("%d", store.Count(t, k)))
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	tiers := make([]string, 0, len(tags.Tiers()))
	for _, t := range tags.Tiers() {
		tiers = append(tiers, t.String())
	}
	fmt.Fprintf(out, "\nTiers: %s (default %s)\n", strings.Join(tiers, " < "), s.policy.DefaultTier)
	return nil
}
