// Package drift compares a project's persisted configuration with what a
// fresh detection pass suggests, and measures how much composed content the
// proposed change would add or remove. It never writes anything.
package drift

import (
	"errors"

	"go.uber.org/zap"

	"tagforge/internal/compose"
	"tagforge/internal/fragment"
	"tagforge/internal/logging"
	"tagforge/internal/project"
	"tagforge/internal/resolve"
	"tagforge/internal/tags"
)

// ErrNilStore is returned when a configured project is diffed without a
// fragment store.
var ErrNilStore = errors.New("drift: nil fragment store")

// Status distinguishes a real report from the not-yet-configured case.
type Status string

const (
	StatusOK       Status = "ok"
	StatusNoConfig Status = "no-config"
)

// Input is one drift request. Existing is nil when the project has no
// persisted configuration.
type Input struct {
	Existing       *project.Configuration
	Detections     []tags.Detection
	Tier           *tags.Tier
	ExplicitAdd    []tags.Tag
	ExplicitRemove []tags.Tag
}

// TierChange is reported when the requested tier differs from the persisted
// one.
type TierChange struct {
	From tags.Tier `json:"from"`
	To   tags.Tier `json:"to"`
}

// CountDelta is the change in composed fragments of one kind.
type CountDelta struct {
	Before int `json:"before"`
	After  int `json:"after"`
	Delta  int `json:"delta"`
}

// Report is the outcome of a drift analysis. Only Status and Message are set
// when Status is StatusNoConfig.
type Report struct {
	Status               Status                       `json:"status"`
	Message              string                       `json:"message,omitempty"`
	CurrentTags          []tags.Tag                   `json:"current_tags,omitempty"`
	ProposedTags         []tags.Tag                   `json:"proposed_tags,omitempty"`
	NewTagSuggestions    []resolve.Suggestion         `json:"new_tag_suggestions,omitempty"`
	DroppedTagCandidates []tags.Tag                   `json:"dropped_tag_candidates,omitempty"`
	TierChange           *TierChange                  `json:"tier_change,omitempty"`
	FragmentCountDelta   map[fragment.Kind]CountDelta `json:"fragment_count_delta,omitempty"`
	Proposed             *project.Configuration       `json:"proposed,omitempty"`
	Rejected             []string                     `json:"rejected,omitempty"`
}

// HasDrift reports whether applying the proposal would change anything
// worth a human look.
func (r *Report) HasDrift() bool {
	if r == nil || r.Status != StatusOK {
		return false
	}
	if len(r.NewTagSuggestions) > 0 || len(r.DroppedTagCandidates) > 0 || r.TierChange != nil {
		return true
	}
	for _, d := range r.FragmentCountDelta {
		if d.Delta != 0 {
			return true
		}
	}
	return false
}

// AutoAddTags lists the suggestions marked auto-add.
func (r *Report) AutoAddTags() []tags.Tag {
	if r == nil {
		return nil
	}
	var out []tags.Tag
	for _, s := range r.NewTagSuggestions {
		if s.Action == resolve.ActionAutoAdd {
			out = append(out, s.Tag)
		}
	}
	return out
}

const noConfigMessage = "no project configuration found; run `tagforge init` first"

// Engine runs drift analyses.
type Engine struct {
	resolver *resolve.Resolver
	composer *compose.Composer
	logger   *zap.Logger
}

// NewEngine creates an engine with policy. A nil logger disables logging.
func NewEngine(policy resolve.Policy, logger *zap.Logger) *Engine {
	return &Engine{
		resolver: resolve.New(policy, logger),
		composer: compose.New(logger),
		logger:   logging.For(logger, logging.CategoryDrift),
	}
}

// Diff is shorthand for NewEngine(resolve.DefaultPolicy(), logger).Diff.
func Diff(in Input, store *fragment.Store, logger *zap.Logger) (*Report, error) {
	return NewEngine(resolve.DefaultPolicy(), logger).Diff(in, store)
}

// Diff analyses in against store. Caller input is validated first; then a
// missing configuration yields a StatusNoConfig report with a nil error.
func (e *Engine) Diff(in Input, store *fragment.Store) (*Report, error) {
	if err := validate(in); err != nil {
		return nil, err
	}
	if in.Existing == nil {
		e.logger.Info("drift requested without configuration")
		return &Report{Status: StatusNoConfig, Message: noConfigMessage}, nil
	}
	if store == nil {
		return nil, ErrNilStore
	}
	timer := logging.StartTimer(e.logger, "Diff")
	defer timer.Stop()

	current := in.Existing.Clone()
	outcome, err := e.resolver.Resolve(resolve.Input{
		Existing:       &current,
		Detections:     in.Detections,
		ExplicitAdd:    in.ExplicitAdd,
		ExplicitRemove: in.ExplicitRemove,
		Tier:           in.Tier,
	})
	if err != nil {
		return nil, err
	}
	proposed := outcome.Configuration

	report := &Report{
		Status:       StatusOK,
		CurrentTags:  current.Tags,
		ProposedTags: proposed.Tags,
		Proposed:     &proposed,
		Rejected:     outcome.Rejected,
	}

	policy := e.resolver.Policy()
	merged := resolve.Merge(validDetections(in.Detections))
	detected := make(map[tags.Tag]bool, len(merged))
	for _, d := range merged {
		detected[d.Tag] = true
		if tags.Contains(current.Tags, d.Tag) {
			continue
		}
		action := policy.Classify(d.Confidence)
		if action == "" {
			continue
		}
		report.NewTagSuggestions = append(report.NewTagSuggestions, resolve.Suggestion{
			Tag:        d.Tag,
			Confidence: d.Confidence,
			Evidence:   d.Evidence,
			Action:     action,
		})
	}

	for _, t := range current.Tags {
		if t == tags.Universal || detected[t] {
			continue
		}
		report.DroppedTagCandidates = append(report.DroppedTagCandidates, t)
	}

	if in.Tier != nil && *in.Tier != current.Tier {
		report.TierChange = &TierChange{From: current.Tier, To: *in.Tier}
	}

	before, err := e.composer.Compose(current.Request(), store)
	if err != nil {
		return nil, err
	}
	after, err := e.composer.Compose(proposed.Request(), store)
	if err != nil {
		return nil, err
	}
	report.FragmentCountDelta = make(map[fragment.Kind]CountDelta, len(fragment.Kinds()))
	for _, kind := range fragment.Kinds() {
		b, a := before.Count(kind), after.Count(kind)
		report.FragmentCountDelta[kind] = CountDelta{Before: b, After: a, Delta: a - b}
	}

	e.logger.Debug("drift analysed",
		zap.Int("suggestions", len(report.NewTagSuggestions)),
		zap.Int("dropped_candidates", len(report.DroppedTagCandidates)),
		zap.Bool("tier_change", report.TierChange != nil))
	return report, nil
}

func validate(in Input) error {
	if err := tags.ValidateAll(in.ExplicitAdd); err != nil {
		return err
	}
	if err := tags.ValidateAll(in.ExplicitRemove); err != nil {
		return err
	}
	if in.Tier != nil && !in.Tier.Valid() {
		return &tags.ValidationError{Field: "tier", Value: in.Tier.String(), Allowed: []string{"core", "recommended", "optional"}}
	}
	return nil
}

func validDetections(in []tags.Detection) []tags.Detection {
	valid, _ := tags.SplitDetections(in)
	return valid
}
