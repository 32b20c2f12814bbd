// Package server exposes composition and drift analysis over HTTP. Each
// request fetches the fragment store from the catalog and runs the pure
// core against it; the server itself holds no per-request state.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"tagforge/internal/catalog"
	"tagforge/internal/compose"
	"tagforge/internal/config"
	"tagforge/internal/detect"
	"tagforge/internal/drift"
	"tagforge/internal/fragment"
	"tagforge/internal/logging"
	"tagforge/internal/project"
	"tagforge/internal/report"
	"tagforge/internal/resolve"
	"tagforge/internal/tags"
)

const maxBodySize = 1 << 20

// Options configures a Server.
type Options struct {
	Addr            string
	Workspace       string // resolves relative extension_sources in request documents
	Base            catalog.Spec
	Extensions      []catalog.Spec
	Policy          resolve.Policy
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server is the HTTP host.
type Server struct {
	opts     Options
	catalog  *catalog.Catalog
	composer *compose.Composer
	engine   *drift.Engine
	scanner  *detect.Scanner
	logger   *zap.Logger
	router   *mux.Router
}

// New creates a server that reads stores from cat.
func New(opts Options, cat *catalog.Catalog, logger *zap.Logger) (*Server, error) {
	if cat == nil {
		return nil, errors.New("server: nil catalog")
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	s := &Server{
		opts:     opts,
		catalog:  cat,
		composer: compose.New(logger),
		engine:   drift.NewEngine(opts.Policy, logger),
		scanner:  detect.Default(logger),
		logger:   logging.For(logger, logging.CategoryServer),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/tags", s.handleTags).Methods("GET")
	r.HandleFunc("/compose", s.handleCompose).Methods("POST")
	r.HandleFunc("/drift", s.handleDrift).Methods("POST")
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe listens on Options.Addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		srv.Close()
		return fmt.Errorf("server: shutdown: %w", err)
	}
	<-errCh
	s.logger.Info("stopped")
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

// store returns the server's fragment store. Extension sources named by doc
// follow the configured ones.
func (s *Server) store(ctx context.Context, doc *project.Document) (*fragment.Store, *fragment.LoadReport, error) {
	exts := s.opts.Extensions
	if doc != nil && len(doc.ExtensionSources) > 0 {
		exts = slices.Clone(exts)
		for _, dir := range doc.ExtensionSources {
			exts = append(exts, catalog.Spec{Dir: config.ResolvePath(s.opts.Workspace, dir)})
		}
	}
	return s.catalog.Get(ctx, s.opts.Base, exts)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"catalog": s.catalog.Stats(),
		"stores":  s.catalog.Len(),
	})
}

type tagInfo struct {
	Name    tags.Tag              `json:"name"`
	Present bool                  `json:"present"`
	Counts  map[fragment.Kind]int `json:"counts,omitempty"`
}

type tagsResponse struct {
	Tags    []tagInfo            `json:"tags"`
	Tiers   []tags.Tier          `json:"tiers"`
	Sources []string             `json:"sources"`
	Report  *fragment.LoadReport `json:"load_report,omitempty"`
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	store, loadReport, err := s.store(r.Context(), nil)
	if err != nil {
		s.internalError(w, "load fragment store", err)
		return
	}
	resp := tagsResponse{Tiers: tags.Tiers(), Sources: store.Sources(), Report: loadReport}
	for _, t := range tags.All() {
		info := tagInfo{Name: t, Present: store.Has(t)}
		if info.Present {
			info.Counts = make(map[fragment.Kind]int, len(fragment.Kinds()))
			for _, k := range fragment.Kinds() {
				info.Counts[k] = store.Count(t, k)
			}
		}
		resp.Tags = append(resp.Tags, info)
	}
	writeJSON(w, http.StatusOK, resp)
}

type composeRequest struct {
	Tags    []string `json:"tags"`
	Tier    string   `json:"tier,omitempty"`
	Include []string `json:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
	Format  string   `json:"format,omitempty"`
}

type composeResponse struct {
	Result *compose.Result      `json:"result"`
	Report *fragment.LoadReport `json:"load_report,omitempty"`
}

func (s *Server) handleCompose(w http.ResponseWriter, r *http.Request) {
	var body composeRequest
	if !decode(w, r, &body) {
		return
	}
	req, err := s.composeRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Format != "" && body.Format != report.FormatJSON && body.Format != report.FormatMarkdown {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported format %q", body.Format))
		return
	}

	store, loadReport, err := s.store(r.Context(), nil)
	if err != nil {
		s.internalError(w, "load fragment store", err)
		return
	}
	res, err := s.composer.Compose(req, store)
	if err != nil {
		s.writeCoreError(w, "compose", err)
		return
	}

	if body.Format == report.FormatMarkdown {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(report.ComposeMarkdown(res)))
		return
	}
	writeJSON(w, http.StatusOK, composeResponse{Result: res, Report: loadReport})
}

func (s *Server) composeRequest(body composeRequest) (compose.Request, error) {
	parsed, err := tags.ParseTags(body.Tags)
	if err != nil {
		return compose.Request{}, err
	}
	tier, err := s.tier(body.Tier)
	if err != nil {
		return compose.Request{}, err
	}
	return compose.Request{Tags: parsed, Tier: tier, Include: body.Include, Exclude: body.Exclude}, nil
}

func (s *Server) tier(value string) (tags.Tier, error) {
	if value == "" {
		return s.opts.Policy.DefaultTier, nil
	}
	return tags.ParseTier(value)
}

type driftRequest struct {
	Existing    *project.Document `json:"existing"`
	Detections  []tags.Detection  `json:"detections,omitempty"`
	Description string            `json:"description,omitempty"`
	Tier        string            `json:"tier,omitempty"`
	Add         []string          `json:"add,omitempty"`
	Remove      []string          `json:"remove,omitempty"`
}

func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	var body driftRequest
	if !decode(w, r, &body) {
		return
	}
	in, err := s.driftInput(r.Context(), body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var store *fragment.Store
	if in.Existing != nil {
		store, _, err = s.store(r.Context(), body.Existing)
		if err != nil {
			s.internalError(w, "load fragment store", err)
			return
		}
	}
	rep, err := s.engine.Diff(in, store)
	if err != nil {
		s.writeCoreError(w, "drift", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) driftInput(ctx context.Context, body driftRequest) (drift.Input, error) {
	var in drift.Input
	var err error
	if body.Existing != nil {
		cfg, err := body.Existing.Configuration(s.opts.Policy.DefaultTier)
		if err != nil {
			return in, err
		}
		in.Existing = &cfg
	}
	if in.ExplicitAdd, err = tags.ParseTags(body.Add); err != nil {
		return in, err
	}
	if in.ExplicitRemove, err = tags.ParseTags(body.Remove); err != nil {
		return in, err
	}
	if body.Tier != "" {
		tier, err := tags.ParseTier(body.Tier)
		if err != nil {
			return in, err
		}
		in.Tier = &tier
	}
	in.Detections = body.Detections
	if body.Description != "" {
		described, err := s.scanner.Scan(ctx, nil, body.Description)
		if err != nil {
			return in, err
		}
		in.Detections = append(in.Detections, described...)
	}
	return in, nil
}

func (s *Server) writeCoreError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, tags.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.internalError(w, op, err)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
