// Package resolve merges a persisted configuration, detection signals and
// explicit user overrides into the configuration a project should have.
//
// Resolution is pure: it performs no I/O and the same input always yields
// the same outcome.
package resolve

import (
	"fmt"
	"math"
	"slices"

	"go.uber.org/zap"

	"tagforge/internal/logging"
	"tagforge/internal/project"
	"tagforge/internal/tags"
)

// Policy holds the tunable thresholds of resolution.
type Policy struct {
	// AutoAdd is the confidence at or above which a detection adds its tag.
	AutoAdd float64 `yaml:"auto_add" json:"auto_add"`
	// Suggest is the confidence at or above which a detection that does not
	// reach AutoAdd is surfaced as a suggestion.
	Suggest float64 `yaml:"suggest" json:"suggest"`
	// DefaultTier applies when neither the caller nor an existing
	// configuration names a tier.
	DefaultTier tags.Tier `yaml:"default_tier" json:"default_tier"`
}

// DefaultPolicy returns the standard thresholds: auto-add at 0.6, suggest
// from 0.5, recommended tier.
func DefaultPolicy() Policy {
	return Policy{AutoAdd: 0.6, Suggest: 0.5, DefaultTier: tags.Recommended}
}

// Validate requires 0 <= Suggest <= AutoAdd <= 1 and a valid tier.
func (p Policy) Validate() error {
	if math.IsNaN(p.AutoAdd) || math.IsNaN(p.Suggest) ||
		p.Suggest < 0 || p.AutoAdd > 1 || p.Suggest > p.AutoAdd {
		return &tags.ValidationError{
			Field:   "policy thresholds",
			Value:   fmt.Sprintf("suggest=%v auto_add=%v", p.Suggest, p.AutoAdd),
			Allowed: []string{"0 <= suggest <= auto_add <= 1"},
		}
	}
	if !p.DefaultTier.Valid() {
		return &tags.ValidationError{Field: "policy default tier", Value: p.DefaultTier.String()}
	}
	return nil
}

// Action says what should happen with a suggested tag.
type Action string

const (
	// ActionAutoAdd marks a signal strong enough to be applied without asking.
	ActionAutoAdd Action = "auto-add"
	// ActionManual marks a signal that needs a human decision.
	ActionManual Action = "manual"
)

// Classify maps a confidence to an action, or "" below the suggestion
// threshold.
func (p Policy) Classify(confidence float64) Action {
	switch {
	case confidence >= p.AutoAdd:
		return ActionAutoAdd
	case confidence >= p.Suggest:
		return ActionManual
	}
	return ""
}

// Suggestion is a tag a detection pointed at.
type Suggestion struct {
	Tag        tags.Tag `json:"tag"`
	Confidence float64  `json:"confidence"`
	Evidence   []string `json:"evidence,omitempty"`
	Action     Action   `json:"action"`
}

// Input gathers everything resolution considers. Existing is nil for a
// project that has never been configured.
type Input struct {
	Existing       *project.Configuration
	Detections     []tags.Detection
	ExplicitAdd    []tags.Tag
	ExplicitRemove []tags.Tag
	Tier           *tags.Tier
}

// Outcome is the resolved configuration plus what resolution noticed on the
// way.
type Outcome struct {
	Configuration project.Configuration `json:"configuration"`
	// Added lists tags added by detections, in the order they were added.
	Added []tags.Tag `json:"added,omitempty"`
	// Removed lists tags dropped by ExplicitRemove.
	Removed []tags.Tag `json:"removed,omitempty"`
	// Suggestions are detections between the two thresholds whose tag is not
	// in the resolved configuration.
	Suggestions []Suggestion `json:"suggestions,omitempty"`
	// Rejected describes detections dropped for an unknown tag or an
	// out-of-range confidence.
	Rejected []string `json:"rejected,omitempty"`
}

// Resolver applies a policy.
type Resolver struct {
	policy Policy
	logger *zap.Logger
}

// New creates a resolver. The policy is validated on every Resolve call.
func New(policy Policy, logger *zap.Logger) *Resolver {
	return &Resolver{policy: policy, logger: logging.For(logger, logging.CategoryResolve)}
}

// Policy returns the resolver's policy.
func (r *Resolver) Policy() Policy { return r.policy }

// Resolve is shorthand for New(policy, nil).Resolve(in).
func Resolve(in Input, policy Policy) (Outcome, error) {
	return New(policy, nil).Resolve(in)
}

// Resolve computes the configuration for in.
//
// The tag set starts from the existing configuration (or universal alone),
// gains every detection at or above AutoAdd and every ExplicitAdd tag, then
// loses every ExplicitRemove tag except universal. The tier is the explicit
// one, else the existing one, else the policy default.
func (r *Resolver) Resolve(in Input) (Outcome, error) {
	if err := r.policy.Validate(); err != nil {
		return Outcome{}, err
	}
	if err := validateInput(in); err != nil {
		return Outcome{}, err
	}

	valid, rejected := tags.SplitDetections(in.Detections)
	out := Outcome{}
	for _, err := range rejected {
		r.logger.Warn("detection rejected", zap.Error(err))
		out.Rejected = append(out.Rejected, err.Error())
	}

	var cfg project.Configuration
	if in.Existing != nil {
		cfg = in.Existing.Clone()
	} else {
		cfg = project.NewConfiguration(r.policy.DefaultTier)
	}
	cfg.Tags = tags.Normalize(cfg.Tags)

	present := make(map[tags.Tag]bool, len(cfg.Tags))
	for _, t := range cfg.Tags {
		present[t] = true
	}
	add := func(t tags.Tag) bool {
		if present[t] {
			return false
		}
		present[t] = true
		cfg.Tags = append(cfg.Tags, t)
		return true
	}

	merged := Merge(valid)
	for _, d := range merged {
		if d.Confidence >= r.policy.AutoAdd && add(d.Tag) {
			out.Added = append(out.Added, d.Tag)
			r.logger.Debug("tag auto-added", zap.String("tag", string(d.Tag)), zap.Float64("confidence", d.Confidence))
		}
	}
	for _, t := range in.ExplicitAdd {
		add(t)
	}

	removed := make(map[tags.Tag]bool, len(in.ExplicitRemove))
	for _, t := range in.ExplicitRemove {
		if t == tags.Universal {
			r.logger.Info("universal cannot be removed; ignoring")
			continue
		}
		removed[t] = true
	}
	if len(removed) > 0 {
		kept := cfg.Tags[:0]
		for _, t := range cfg.Tags {
			if removed[t] {
				out.Removed = append(out.Removed, t)
				present[t] = false
				continue
			}
			kept = append(kept, t)
		}
		cfg.Tags = kept
		out.Added = slices.DeleteFunc(out.Added, func(t tags.Tag) bool { return removed[t] })
	}

	for _, d := range merged {
		if present[d.Tag] || removed[d.Tag] {
			continue
		}
		if r.policy.Classify(d.Confidence) == ActionManual {
			out.Suggestions = append(out.Suggestions, Suggestion{
				Tag:        d.Tag,
				Confidence: d.Confidence,
				Evidence:   slices.Clone(d.Evidence),
				Action:     ActionManual,
			})
		}
	}

	switch {
	case in.Tier != nil:
		cfg.Tier = *in.Tier
	case in.Existing != nil:
		cfg.Tier = in.Existing.Tier
	default:
		cfg.Tier = r.policy.DefaultTier
	}

	if err := cfg.Validate(); err != nil {
		// Inputs were validated above, so this is a bug.
		panic(fmt.Sprintf("resolve: produced invalid configuration: %v", err))
	}
	out.Configuration = cfg
	return out, nil
}

func validateInput(in Input) error {
	if err := tags.ValidateAll(in.ExplicitAdd); err != nil {
		return err
	}
	if err := tags.ValidateAll(in.ExplicitRemove); err != nil {
		return err
	}
	if in.Tier != nil && !in.Tier.Valid() {
		return &tags.ValidationError{Field: "tier", Value: in.Tier.String(), Allowed: []string{"core", "recommended", "optional"}}
	}
	if in.Existing != nil {
		if err := in.Existing.Validate(); err != nil {
			return fmt.Errorf("existing configuration: %w", err)
		}
	}
	return nil
}

// Merge collapses detections of the same tag into one, keeping the position
// of the first, the highest confidence and the union of evidence.
func Merge(detections []tags.Detection) []tags.Detection {
	out := make([]tags.Detection, 0, len(detections))
	index := make(map[tags.Tag]int, len(detections))
	for _, d := range detections {
		i, ok := index[d.Tag]
		if !ok {
			index[d.Tag] = len(out)
			out = append(out, tags.Detection{Tag: d.Tag, Confidence: d.Confidence, Evidence: slices.Clone(d.Evidence)})
			continue
		}
		if d.Confidence > out[i].Confidence {
			out[i].Confidence = d.Confidence
		}
		for _, e := range d.Evidence {
			if !slices.Contains(out[i].Evidence, e) {
				out[i].Evidence = append(out[i].Evidence, e)
			}
		}
	}
	return out
}
