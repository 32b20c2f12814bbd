package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tagforge/internal/server"
)

var (
	serveAddr  string
	serveWatch bool
)

// serveCmd starts the HTTP host
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve composition and drift analysis over HTTP",
	Long: `Starts an HTTP server exposing:

  GET  /health   liveness and catalog statistics
  GET  /tags     tags present in the configured sources
  POST /compose  compose fragments for a tag list
  POST /drift    diff a configuration against detections

With --watch, cached fragment stores are invalidated when source files
change.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default server.addr)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Watch fragment sources for changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := activeSession()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, s)
}

func serve(ctx context.Context, s *session) error {
	cat := s.newCatalog()
	defer cat.Close()

	if serveWatch || s.cfg.Sources.Watch {
		if err := cat.Watch(ctx); err != nil {
			return err
		}
	}

	addr := serveAddr
	if addr == "" {
		addr = s.cfg.Server.Addr
	}
	base, exts := s.sources(nil)
	srv, err := server.New(server.Options{
		Addr:            addr,
		Workspace:       s.workspace,
		Base:            base,
		Extensions:      exts,
		Policy:          s.policy,
		ReadTimeout:     s.cfg.GetReadTimeout(),
		WriteTimeout:    s.cfg.GetWriteTimeout(),
		ShutdownTimeout: s.cfg.GetShutdownTimeout(),
	}, cat, appLogger())
	if err != nil {
		return err
	}

	appLogger().Info("serving", zap.String("addr", addr), zap.String("base", base.Dir), zap.Int("extensions", len(exts)))
	return srv.ListenAndServe(ctx)
}
