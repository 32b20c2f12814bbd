// Package detect produces tag detections from a project tree and an
// optional free-text description. Each matching rule adds its weight to its
// tag; a tag's confidence is the capped sum.
package detect

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"math"
	"path"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"tagforge/internal/logging"
	"tagforge/internal/tags"
)

const (
	// DefaultMaxDepth bounds how deep Scan walks below the root.
	DefaultMaxDepth = 4
	// DefaultMaxFiles bounds how many entries Scan records.
	DefaultMaxFiles = 10000
	// maxContentSize caps how much of a marker file is read.
	maxContentSize = 1 << 20
)

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	".git":         true,
	".tagforge":    true,
	"dist":         true,
	"build":        true,
	"target":       true,
	"__pycache__":  true,
	".venv":        true,
}

// Scanner evaluates rules against a project.
type Scanner struct {
	rules    []compiledRule
	maxDepth int
	maxFiles int
	logger   *zap.Logger
}

type compiledRule struct {
	Rule
	keywords []*regexp.Regexp
}

// New creates a scanner with rules. Rules with an unknown tag, a weight
// outside (0, 1] or no condition are rejected.
func New(rules []Rule, logger *zap.Logger) (*Scanner, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		if !r.Tag.Valid() || r.Tag == tags.Universal {
			return nil, fmt.Errorf("detect: rule %d: invalid tag %q", i, r.Tag)
		}
		if math.IsNaN(r.Weight) || r.Weight <= 0 || r.Weight > 1 {
			return nil, fmt.Errorf("detect: rule %d (%s): weight %v outside (0, 1]", i, r.Tag, r.Weight)
		}
		if len(r.Files) == 0 && len(r.Dirs) == 0 && r.File == "" && len(r.Keywords) == 0 {
			return nil, fmt.Errorf("detect: rule %d (%s): no condition", i, r.Tag)
		}
		for _, g := range append(append([]string{}, r.Files...), r.Dirs...) {
			if _, err := path.Match(g, ""); err != nil {
				return nil, fmt.Errorf("detect: rule %d (%s): bad pattern %q: %w", i, r.Tag, g, err)
			}
		}
		c := compiledRule{Rule: r}
		for _, kw := range r.Keywords {
			c.keywords = append(c.keywords, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(strings.ToLower(kw))+`\b`))
		}
		compiled = append(compiled, c)
	}
	return &Scanner{
		rules:    compiled,
		maxDepth: DefaultMaxDepth,
		maxFiles: DefaultMaxFiles,
		logger:   logging.For(logger, logging.CategoryDetect),
	}, nil
}

// Default returns a scanner with DefaultRules.
func Default(logger *zap.Logger) *Scanner {
	s, err := New(DefaultRules(), logger)
	if err != nil {
		panic(err)
	}
	return s
}

// Scan is shorthand for Default(nil).Scan.
func Scan(ctx context.Context, fsys fs.FS, description string) ([]tags.Detection, error) {
	return Default(nil).Scan(ctx, fsys, description)
}

// tree is what one walk observed.
type tree struct {
	files []string
	dirs  []string
}

// Scan walks fsys (nil means no tree, description only) and matches every
// rule. Detections come back in tag enumeration order, one per tag, with
// confidence capped at 1.
func (s *Scanner) Scan(ctx context.Context, fsys fs.FS, description string) ([]tags.Detection, error) {
	timer := logging.StartTimer(s.logger, "Scan")
	defer timer.Stop()

	var t tree
	if fsys != nil {
		var err error
		t, err = s.walk(ctx, fsys)
		if err != nil {
			return nil, err
		}
	}

	type acc struct {
		weight   float64
		evidence []string
	}
	byTag := make(map[tags.Tag]*acc)
	for _, r := range s.rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ev, ok := s.match(fsys, t, r, description)
		if !ok {
			continue
		}
		a := byTag[r.Tag]
		if a == nil {
			a = &acc{}
			byTag[r.Tag] = a
		}
		a.weight += r.Weight
		a.evidence = append(a.evidence, ev)
	}

	out := make([]tags.Detection, 0, len(byTag))
	for _, tag := range tags.All() {
		a, ok := byTag[tag]
		if !ok {
			continue
		}
		confidence := math.Min(1, math.Round(a.weight*100)/100)
		out = append(out, tags.Detection{Tag: tag, Confidence: confidence, Evidence: a.evidence})
		s.logger.Debug("tag detected",
			zap.String("tag", string(tag)),
			zap.Float64("confidence", confidence),
			zap.Strings("evidence", a.evidence))
	}
	return out, nil
}

func (s *Scanner) walk(ctx context.Context, fsys fs.FS) (tree, error) {
	var t tree
	count := 0
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == "." {
				return err
			}
			s.logger.Debug("skipping unreadable path", zap.String("path", p), zap.Error(err))
			return nil
		}
		if p == "." {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		depth := strings.Count(p, "/") + 1
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return fs.SkipDir
			}
			t.dirs = append(t.dirs, p)
			if depth >= s.maxDepth {
				return fs.SkipDir
			}
		} else {
			t.files = append(t.files, p)
		}
		count++
		if count >= s.maxFiles {
			s.logger.Info("scan entry limit reached", zap.Int("limit", s.maxFiles))
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return tree{}, fmt.Errorf("detect: walk: %w", err)
	}
	return t, nil
}

// match reports whether r holds and, if so, a short evidence line.
func (s *Scanner) match(fsys fs.FS, t tree, r compiledRule, description string) (string, bool) {
	switch {
	case r.File != "":
		if fsys == nil {
			return "", false
		}
		content, ok := readCapped(fsys, r.File)
		if !ok {
			return "", false
		}
		for _, needle := range r.Contains {
			if strings.Contains(content, needle) {
				return fmt.Sprintf("%s mentions %s", r.File, strings.Trim(needle, `"`)), true
			}
		}
		if len(r.Contains) == 0 {
			return fmt.Sprintf("file %s", r.File), true
		}
	case len(r.Files) > 0:
		if p, ok := firstMatch(t.files, r.Files); ok {
			return fmt.Sprintf("file %s", p), true
		}
	case len(r.Dirs) > 0:
		if p, ok := firstMatch(t.dirs, r.Dirs); ok {
			return fmt.Sprintf("directory %s/", p), true
		}
	case len(r.Keywords) > 0:
		for i, re := range r.keywords {
			if re.MatchString(description) {
				return fmt.Sprintf("description mentions %q", r.Keywords[i]), true
			}
		}
	}
	return "", false
}

func firstMatch(paths, patterns []string) (string, bool) {
	for _, p := range paths {
		for _, pattern := range patterns {
			subject := path.Base(p)
			if strings.Contains(pattern, "/") {
				subject = p
			}
			if ok, _ := path.Match(pattern, subject); ok {
				return p, true
			}
		}
	}
	return "", false
}

func readCapped(fsys fs.FS, name string) (string, bool) {
	f, err := fsys.Open(name)
	if err != nil {
		return "", false
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxContentSize))
	if err != nil {
		return "", false
	}
	return string(data), true
}
