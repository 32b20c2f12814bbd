package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tagforge/internal/catalog"
	"tagforge/internal/config"
	"tagforge/internal/fragment"
	"tagforge/internal/logging"
	"tagforge/internal/project"
	"tagforge/internal/report"
	"tagforge/internal/resolve"
)

var (
	// Global flags
	verbose          bool
	workspace        string
	configPath       string
	baseSource       string
	extensionSources []string

	// Logger
	logger *zap.Logger

	// Session opened by the root pre-run
	current *session
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "tagforge",
	Short: "tagforge - tag-scoped project guidance composer",
	Long: `tagforge composes project guidance (instructions, directory structure,
requirements, checklists and quality-gate hooks) from tagged fragment
sources, and keeps a project's tag configuration in step with what the
project actually looks like.

Start with "tagforge init" in a project, then "tagforge compose" to render
the guidance and "tagforge refresh" to check for drift.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		opts := s.cfg.LoggingOptions(s.workspace)
		if verbose {
			opts.Level = "debug"
		}
		logger, err = logging.New(opts)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		current = s
		logging.For(logger, logging.CategoryBoot).Debug("starting",
			zap.String("command", cmd.Name()),
			zap.String("workspace", s.workspace))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: nearest .tagforge or go.mod)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Tool configuration file (default: <workspace>/.tagforge/tagforge.yaml)")
	rootCmd.PersistentFlags().StringVar(&baseSource, "source", "", "Base fragment source directory (overrides sources.base)")
	rootCmd.PersistentFlags().StringArrayVar(&extensionSources, "extension", nil, "Extension fragment source directory, repeatable, in precedence order")

	rootCmd.AddCommand(tagsCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(composeCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// session is the per-invocation environment: workspace, tool
// configuration and the resolution policy derived from it.
type session struct {
	workspace string
	cfg       *config.Config
	policy    resolve.Policy
}

func openSession() (*session, error) {
	ws, err := resolveWorkspace()
	if err != nil {
		return nil, err
	}
	if err := config.LoadDotEnv(ws); err != nil {
		return nil, err
	}

	path := configPath
	if path == "" {
		path = config.DefaultPath(ws)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if baseSource != "" {
		cfg.Sources.Base = baseSource
	}
	if len(extensionSources) > 0 {
		cfg.Sources.Extensions = extensionSources
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	policy, err := cfg.ResolvePolicy()
	if err != nil {
		return nil, err
	}
	return &session{workspace: ws, cfg: cfg, policy: policy}, nil
}

// activeSession returns the session opened by the root pre-run, opening one
// when a command runs without it.
func activeSession() (*session, error) {
	if current != nil {
		return current, nil
	}
	return openSession()
}

func resolveWorkspace() (string, error) {
	if workspace != "" {
		return filepath.Abs(workspace)
	}
	return config.FindWorkspaceRoot()
}

func appLogger() *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// sources returns the base and extension specs for this session. Extension
// sources named by the project document follow the configured ones.
func (s *session) sources(doc *project.Document) (catalog.Spec, []catalog.Spec) {
	base := catalog.Spec{Name: "base", Dir: s.cfg.BaseSource(s.workspace)}
	var exts []catalog.Spec
	for _, dir := range s.cfg.ExtensionSources(s.workspace) {
		exts = append(exts, catalog.Spec{Dir: dir})
	}
	if doc != nil {
		for _, dir := range doc.ExtensionSources {
			exts = append(exts, catalog.Spec{Dir: config.ResolvePath(s.workspace, dir)})
		}
	}
	return base, exts
}

func (s *session) newCatalog() *catalog.Catalog {
	builder := fragment.NewBuilder(appLogger())
	builder.SetConcurrency(s.cfg.Sources.Concurrency)
	return catalog.New(builder, appLogger())
}

// loadStore builds the fragment store once for a one-shot command and
// prints any load failures as warnings.
func (s *session) loadStore(ctx context.Context, cmd *cobra.Command, doc *project.Document) (*fragment.Store, error) {
	cat := s.newCatalog()
	defer cat.Close()

	base, exts := s.sources(doc)
	store, loadReport, err := cat.Get(ctx, base, exts)
	if err != nil {
		return nil, fmt.Errorf("failed to load fragments: %w", err)
	}
	if loadReport != nil {
		for _, f := range loadReport.Failures {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %s %s: %s\n", f.Source, f.Tag, f.Kind, f.Error)
		}
		for _, w := range loadReport.Warnings {
			appLogger().Debug("fragment warning", zap.String("source", w.Source), zap.String("file", w.File), zap.String("message", w.Message))
		}
	}
	return store, nil
}

func validateFormat(format string) error {
	for _, f := range report.Formats() {
		if f == format {
			return nil
		}
	}
	return fmt.Errorf("unsupported format %q (valid: %v)", format, report.Formats())
}

// emit writes md or v to w according to format.
func emit(w io.Writer, format string, md string, v interface{}, width int) error {
	switch format {
	case report.FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case report.FormatTerminal:
		out, err := report.Terminal(md, width)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err
	default:
		_, err := io.WriteString(w, md)
		return err
	}
}
