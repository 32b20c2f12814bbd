// Package compose turns a requested tag list, a tier policy and
// include/exclude overrides into ordered, deduplicated fragment sequences.
//
// Composition is a pure function of its inputs: it reads the fragment store
// without modifying it and allocates fresh output on every call, so any
// number of compositions may run concurrently against one store.
package compose

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"tagforge/internal/fragment"
	"tagforge/internal/logging"
	"tagforge/internal/tags"
)

// ErrNilStore is returned when Compose is called without a store.
var ErrNilStore = errors.New("compose: nil fragment store")

// Request describes one composition.
type Request struct {
	Tags    []tags.Tag `json:"tags"`
	Tier    tags.Tier  `json:"tier"`
	Include []string   `json:"include,omitempty"`
	Exclude []string   `json:"exclude,omitempty"`
}

// Validate rejects tags or tiers outside their enumerations.
func (r Request) Validate() error {
	if err := tags.ValidateAll(r.Tags); err != nil {
		return err
	}
	if !r.Tier.Valid() {
		return &tags.ValidationError{Field: "tier", Value: r.Tier.String(), Allowed: []string{"core", "recommended", "optional"}}
	}
	for _, id := range r.Include {
		if strings.TrimSpace(id) == "" {
			return &tags.ValidationError{Field: "include id", Value: id}
		}
	}
	for _, id := range r.Exclude {
		if strings.TrimSpace(id) == "" {
			return &tags.ValidationError{Field: "exclude id", Value: id}
		}
	}
	return nil
}

// Block is a composed block annotated with the tag that contributed it.
type Block struct {
	From tags.Tag `json:"from"`
	fragment.Block
}

// Entry is a composed structure entry annotated with its contributing tag.
type Entry struct {
	From tags.Tag `json:"from"`
	fragment.Entry
}

// Hook is a composed hook annotated with its contributing tag.
type Hook struct {
	From tags.Tag `json:"from"`
	fragment.Hook
}

// Stats counts how fragments of one kind fared during admission.
type Stats struct {
	Considered   int `json:"considered"`
	Admitted     int `json:"admitted"`
	Duplicates   int `json:"duplicates"`
	TierFiltered int `json:"tier_filtered"`
	Excluded     int `json:"excluded"`
	NotIncluded  int `json:"not_included"`
}

// Result holds the composed sequences, one per fragment kind, in
// tag-then-store order.
type Result struct {
	Tags         []tags.Tag              `json:"tags"`
	Tier         tags.Tier               `json:"tier"`
	Instructions []Block                 `json:"instructions"`
	Structure    []Entry                 `json:"structure"`
	Requirements []Block                 `json:"requirements"`
	Checklists   []Block                 `json:"checklists"`
	Hooks        []Hook                  `json:"hooks"`
	MissingTags  []tags.Tag              `json:"missing_tags,omitempty"`
	Stats        map[fragment.Kind]Stats `json:"stats"`
}

// Count returns the number of composed fragments of kind.
func (r *Result) Count(kind fragment.Kind) int {
	if r == nil {
		return 0
	}
	switch kind {
	case fragment.KindInstructions:
		return len(r.Instructions)
	case fragment.KindStructure:
		return len(r.Structure)
	case fragment.KindRequirements:
		return len(r.Requirements)
	case fragment.KindChecklists:
		return len(r.Checklists)
	case fragment.KindHooks:
		return len(r.Hooks)
	}
	return 0
}

// Counts returns Count for every kind.
func (r *Result) Counts() map[fragment.Kind]int {
	out := make(map[fragment.Kind]int, len(fragment.Kinds()))
	for _, k := range fragment.Kinds() {
		out[k] = r.Count(k)
	}
	return out
}

// IDs lists the composed identities of kind in output order.
func (r *Result) IDs(kind fragment.Kind) []string {
	if r == nil {
		return nil
	}
	var out []string
	switch kind {
	case fragment.KindInstructions:
		out = blockIDs(r.Instructions)
	case fragment.KindRequirements:
		out = blockIDs(r.Requirements)
	case fragment.KindChecklists:
		out = blockIDs(r.Checklists)
	case fragment.KindStructure:
		out = make([]string, len(r.Structure))
		for i, e := range r.Structure {
			out[i] = e.Path
		}
	case fragment.KindHooks:
		out = make([]string, len(r.Hooks))
		for i, h := range r.Hooks {
			out[i] = h.Name
		}
	}
	return out
}

func blockIDs(blocks []Block) []string {
	out := make([]string, len(blocks))
	for i, b := range blocks {
		out[i] = b.ID
	}
	return out
}

// Composer composes fragment sequences from a store.
type Composer struct {
	logger *zap.Logger
}

// New creates a composer that logs to logger (nil disables logging).
func New(logger *zap.Logger) *Composer {
	return &Composer{logger: logging.For(logger, logging.CategoryCompose)}
}

// Compose is shorthand for New(logger).Compose.
func Compose(req Request, store *fragment.Store, logger *zap.Logger) (*Result, error) {
	return New(logger).Compose(req, store)
}

// Compose filters and deduplicates the store's fragments for req.
//
// Tags are normalized so universal comes first. For each kind, fragments are
// visited tag by tag in store order and admitted when their identity has not
// been admitted yet, their tier passes the policy (tiered kinds only), and
// they pass the include/exclude gate. Exclude always wins over include.
func (c *Composer) Compose(req Request, store *fragment.Store) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, ErrNilStore
	}
	timer := logging.StartTimer(c.logger, "Compose")
	defer timer.Stop()

	normalized := tags.Normalize(req.Tags)
	gate := newGate(req.Include, req.Exclude)

	result := &Result{
		Tags:         normalized,
		Tier:         req.Tier,
		Instructions: []Block{},
		Structure:    []Entry{},
		Requirements: []Block{},
		Checklists:   []Block{},
		Hooks:        []Hook{},
		Stats:        make(map[fragment.Kind]Stats, len(fragment.Kinds())),
	}

	present := make([]tags.Tag, 0, len(normalized))
	for _, t := range normalized {
		if !store.Has(t) {
			c.logger.Info("requested tag has no fragments", zap.String("tag", string(t)))
			result.MissingTags = append(result.MissingTags, t)
			continue
		}
		present = append(present, t)
	}

	for _, kind := range fragment.Kinds() {
		stats := Stats{}
		admitted := make(map[string]struct{})
		for _, t := range present {
			store.Visit(t, kind, func(f fragment.Fragment) {
				stats.Considered++
				if _, dup := admitted[f.ID]; dup {
					stats.Duplicates++
					return
				}
				if kind.Tiered() && !req.Tier.Admits(f.Tier) {
					stats.TierFiltered++
					return
				}
				switch gate.check(f.ID) {
				case gateExcluded:
					stats.Excluded++
					return
				case gateNotIncluded:
					stats.NotIncluded++
					return
				}
				admitted[f.ID] = struct{}{}
				stats.Admitted++
				result.add(kind, t, f)
			})
		}
		result.Stats[kind] = stats
	}

	c.logger.Debug("composition complete",
		zap.Strings("tags", tags.Strings(normalized)),
		zap.String("tier", req.Tier.String()),
		zap.Int("instructions", len(result.Instructions)),
		zap.Int("structure", len(result.Structure)),
		zap.Int("requirements", len(result.Requirements)),
		zap.Int("checklists", len(result.Checklists)),
		zap.Int("hooks", len(result.Hooks)))

	return result, nil
}

// add appends a copy of f to the sequence for kind.
func (r *Result) add(kind fragment.Kind, from tags.Tag, f fragment.Fragment) {
	switch kind {
	case fragment.KindInstructions:
		r.Instructions = append(r.Instructions, copyBlock(from, f.Block))
	case fragment.KindRequirements:
		r.Requirements = append(r.Requirements, copyBlock(from, f.Block))
	case fragment.KindChecklists:
		r.Checklists = append(r.Checklists, copyBlock(from, f.Block))
	case fragment.KindStructure:
		r.Structure = append(r.Structure, Entry{From: from, Entry: *f.Entry})
	case fragment.KindHooks:
		r.Hooks = append(r.Hooks, Hook{From: from, Hook: *f.Hook})
	default:
		panic(fmt.Sprintf("compose: unhandled fragment kind %q", kind))
	}
}

func copyBlock(from tags.Tag, b *fragment.Block) Block {
	out := Block{From: from, Block: *b}
	if b.Items != nil {
		out.Items = append([]string(nil), b.Items...)
	}
	return out
}
