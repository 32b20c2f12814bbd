package fragment

import (
	"context"
	"fmt"
	"io/fs"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tagforge/internal/logging"
	"tagforge/internal/tags"
)

// Failure records a fragment file that could not be read or parsed. The
// tag's contribution for that kind is dropped; nothing else is affected.
type Failure struct {
	Source string   `json:"source"`
	Tag    tags.Tag `json:"tag,omitempty"`
	Kind   Kind     `json:"kind,omitempty"`
	File   string   `json:"file,omitempty"`
	Error  string   `json:"error"`
}

// Warning records a data-quality issue that did not drop a whole kind: an
// unknown tag directory, an invalid single fragment, a duplicate id within a
// file.
type Warning struct {
	Source  string `json:"source"`
	Tag     string `json:"tag,omitempty"`
	Kind    Kind   `json:"kind,omitempty"`
	File    string `json:"file,omitempty"`
	Message string `json:"message"`
}

// Shadow records an extension fragment dropped because an earlier source
// already defined the same identity.
type Shadow struct {
	Source string   `json:"source"`
	Tag    tags.Tag `json:"tag"`
	Kind   Kind     `json:"kind"`
	ID     string   `json:"id"`
}

// LoadReport collects everything Build noticed while loading sources.
type LoadReport struct {
	Failures []Failure `json:"failures,omitempty"`
	Warnings []Warning `json:"warnings,omitempty"`
	Shadowed []Shadow  `json:"shadowed,omitempty"`
}

// OK reports whether the build saw no failures.
func (r *LoadReport) OK() bool {
	return r == nil || len(r.Failures) == 0
}

// DefaultConcurrency bounds parallel tag-directory loads within one source.
const DefaultConcurrency = 8

// Builder loads and merges fragment sources.
type Builder struct {
	logger      *zap.Logger
	concurrency int
}

// NewBuilder creates a builder that logs to logger (nil disables logging).
func NewBuilder(logger *zap.Logger) *Builder {
	return &Builder{
		logger:      logging.For(logger, logging.CategoryStore),
		concurrency: DefaultConcurrency,
	}
}

// SetConcurrency sets how many tag directories load in parallel. Values
// below one mean serial loading.
func (b *Builder) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	b.concurrency = n
}

// Build is shorthand for NewBuilder(logger).Build.
func Build(ctx context.Context, logger *zap.Logger, base Source, extensions ...Source) (*Store, *LoadReport, error) {
	return NewBuilder(logger).Build(ctx, base, extensions)
}

// Build loads base, then merges each extension in order. Base fragments are
// never overwritten: an extension fragment whose identity already exists is
// dropped. The returned error is reserved for an unusable base source or a
// cancelled context; per-file problems land in the LoadReport.
func (b *Builder) Build(ctx context.Context, base Source, extensions []Source) (*Store, *LoadReport, error) {
	if base.FS == nil {
		return nil, nil, fmt.Errorf("fragment: base source %q has no filesystem", base.Name)
	}
	timer := logging.StartTimer(b.logger, "Build")
	defer timer.Stop()

	report := &LoadReport{}

	baseSets, err := b.loadSource(ctx, base, report)
	if err != nil {
		return nil, report, fmt.Errorf("fragment: load base source %q: %w", base.Name, err)
	}

	store := &Store{
		sets:    make(map[tags.Tag]*Set, len(baseSets)),
		sources: []string{base.Name},
	}
	for _, set := range baseSets {
		store.sets[set.Tag] = set
	}

	for _, ext := range extensions {
		if ext.FS == nil {
			report.Failures = append(report.Failures, Failure{Source: ext.Name, Error: "source has no filesystem"})
			continue
		}
		extSets, err := b.loadSource(ctx, ext, report)
		if err != nil {
			if ctx.Err() != nil {
				return nil, report, ctx.Err()
			}
			b.logger.Warn("extension source unavailable", zap.String("source", ext.Name), zap.Error(err))
			report.Failures = append(report.Failures, Failure{Source: ext.Name, Error: err.Error()})
			continue
		}
		store.sources = append(store.sources, ext.Name)
		for _, set := range extSets {
			existing, ok := store.sets[set.Tag]
			if !ok {
				store.sets[set.Tag] = set
				continue
			}
			mergeInto(existing, set, ext.Name, func(s Shadow) {
				report.Shadowed = append(report.Shadowed, s)
			})
		}
	}

	for _, f := range report.Failures {
		b.logger.Warn("fragment file failed to load",
			zap.String("source", f.Source),
			zap.String("tag", string(f.Tag)),
			zap.String("kind", string(f.Kind)),
			zap.String("file", f.File),
			zap.String("error", f.Error))
	}
	b.logger.Debug("fragment store built",
		zap.Int("tags", len(store.sets)),
		zap.Int("sources", len(store.sources)),
		zap.Int("failures", len(report.Failures)),
		zap.Int("warnings", len(report.Warnings)),
		zap.Int("shadowed", len(report.Shadowed)))

	return store, report, nil
}

// loadSource reads every tag directory of src. Directories are loaded in
// parallel, but results are assembled in tag enumeration order so the
// outcome never depends on scheduling.
func (b *Builder) loadSource(ctx context.Context, src Source, report *LoadReport) ([]*Set, error) {
	entries, err := fs.ReadDir(src.FS, ".")
	if err != nil {
		return nil, err
	}

	type job struct {
		dir string
		tag tags.Tag
	}
	var jobs []job
	seen := make(map[tags.Tag]string)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == "" || name[0] == '.' {
			continue
		}
		tag, ok := tags.LookupTag(name)
		if !ok {
			b.logger.Warn("unknown tag directory skipped", zap.String("source", src.Name), zap.String("dir", name))
			report.Warnings = append(report.Warnings, Warning{
				Source:  src.Name,
				Tag:     name,
				Message: "unknown tag directory skipped",
			})
			continue
		}
		if prev, dup := seen[tag]; dup {
			report.Warnings = append(report.Warnings, Warning{
				Source:  src.Name,
				Tag:     name,
				Message: fmt.Sprintf("directory %q names the same tag as %q and was skipped", name, prev),
			})
			continue
		}
		seen[tag] = name
		jobs = append(jobs, job{dir: name, tag: tag})
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].tag.Index() < jobs[j].tag.Index() })

	results := make([]tagLoad, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, j := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = loadTag(src, j.dir, j.tag)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sets := make([]*Set, 0, len(results))
	for _, r := range results {
		report.Failures = append(report.Failures, r.failures...)
		report.Warnings = append(report.Warnings, r.warnings...)
		if r.set.empty() {
			continue
		}
		sets = append(sets, r.set)
	}
	return sets, nil
}
