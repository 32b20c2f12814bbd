// Package history records drift runs in a local SQLite database so that
// `tagforge history` can show how a workspace's configuration evolved.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"tagforge/internal/drift"
	"tagforge/internal/logging"
	"tagforge/internal/tags"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("history: run not found")

// Run is one recorded drift analysis.
type Run struct {
	ID           string        `json:"id"`
	CreatedAt    time.Time     `json:"created_at"`
	Workspace    string        `json:"workspace"`
	Status       drift.Status  `json:"status"`
	CurrentTags  []tags.Tag    `json:"current_tags,omitempty"`
	ProposedTags []tags.Tag    `json:"proposed_tags,omitempty"`
	Suggestions  int           `json:"suggestions"`
	Dropped      int           `json:"dropped"`
	TierFrom     string        `json:"tier_from,omitempty"`
	TierTo       string        `json:"tier_to,omitempty"`
	Applied      bool          `json:"applied"`
	Report       *drift.Report `json:"report,omitempty"`
}

// Store is the history database.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	path   string
	logger *zap.Logger

	now   func() time.Time
	newID func() string
}

// Open opens (creating if needed) the database at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		path:   path,
		logger: logging.For(logger, logging.CategoryHistory),
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS drift_runs (
		run_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		workspace TEXT NOT NULL,
		status TEXT NOT NULL,
		current_tags TEXT,
		proposed_tags TEXT,
		suggestions INTEGER NOT NULL DEFAULT 0,
		dropped INTEGER NOT NULL DEFAULT 0,
		tier_from TEXT,
		tier_to TEXT,
		applied INTEGER NOT NULL DEFAULT 0,
		report_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_drift_runs_workspace ON drift_runs(workspace, created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create drift_runs table: %w", err)
	}
	return nil
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// Record stores report for workspace and returns the new run id.
func (s *Store) Record(ctx context.Context, workspace string, report *drift.Report, applied bool) (string, error) {
	if report == nil {
		return "", errors.New("history: nil report")
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	var tierFrom, tierTo string
	if report.TierChange != nil {
		tierFrom = report.TierChange.From.String()
		tierTo = report.TierChange.To.String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO drift_runs (run_id, created_at, workspace, status, current_tags, proposed_tags,
			suggestions, dropped, tier_from, tier_to, applied, report_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		s.now().UTC().UnixNano(),
		workspace,
		string(report.Status),
		joinTags(report.CurrentTags),
		joinTags(report.ProposedTags),
		len(report.NewTagSuggestions),
		len(report.DroppedTagCandidates),
		tierFrom,
		tierTo,
		applied,
		string(payload),
	)
	if err != nil {
		return "", fmt.Errorf("failed to record drift run: %w", err)
	}
	s.logger.Debug("drift run recorded", zap.String("run_id", id), zap.String("status", string(report.Status)))
	return id, nil
}

// List returns up to limit runs, newest first. An empty workspace lists all
// workspaces; limit <= 0 means no limit. Reports are not decoded; use Get.
func (s *Store) List(ctx context.Context, workspace string, limit int) ([]Run, error) {
	query := `SELECT run_id, created_at, workspace, status, current_tags, proposed_tags,
		suggestions, dropped, tier_from, tier_to, applied FROM drift_runs`
	var args []interface{}
	if workspace != "" {
		query += " WHERE workspace = ?"
		args = append(args, workspace)
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list drift runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read drift runs: %w", err)
	}
	return runs, nil
}

// Get returns one run with its full report.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `SELECT run_id, created_at, workspace, status, current_tags, proposed_tags,
		suggestions, dropped, tier_from, tier_to, applied, report_json FROM drift_runs WHERE run_id = ?`, id)

	var payload string
	run, err := scanRun(func(dest ...interface{}) error {
		return row.Scan(append(dest, &payload)...)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var report drift.Report
	if err := json.Unmarshal([]byte(payload), &report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", id, err)
	}
	run.Report = &report
	return &run, nil
}

func scanRun(scan func(dest ...interface{}) error) (Run, error) {
	var (
		run                  Run
		createdAt            int64
		status               string
		current, proposed    sql.NullString
		tierFrom, tierTo     sql.NullString
		suggestions, dropped int
		applied              bool
	)
	if err := scan(&run.ID, &createdAt, &run.Workspace, &status, &current, &proposed,
		&suggestions, &dropped, &tierFrom, &tierTo, &applied); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("failed to scan drift run: %w", err)
	}
	run.CreatedAt = time.Unix(0, createdAt).UTC()
	run.Status = drift.Status(status)
	run.CurrentTags = splitTags(current.String)
	run.ProposedTags = splitTags(proposed.String)
	run.Suggestions = suggestions
	run.Dropped = dropped
	run.TierFrom = tierFrom.String
	run.TierTo = tierTo.String
	run.Applied = applied
	return run, nil
}

func joinTags(ts []tags.Tag) string {
	return strings.Join(tags.Strings(ts), ",")
}

func splitTags(s string) []tags.Tag {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]tags.Tag, len(parts))
	for i, p := range parts {
		out[i] = tags.Tag(p)
	}
	return out
}

// Prune deletes all but the newest keep runs of workspace and returns how
// many were removed.
func (s *Store) Prune(ctx context.Context, workspace string, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM drift_runs WHERE workspace = ? AND run_id NOT IN (
			SELECT run_id FROM drift_runs WHERE workspace = ?
			ORDER BY created_at DESC, rowid DESC LIMIT ?
		)`, workspace, workspace, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune drift runs: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
