// Package fragment loads tag-scoped content fragments from a base source and
// any number of extension sources, and merges them into an immutable Store.
//
// A source is a directory tree with one subdirectory per tag. Each tag
// directory holds at most one YAML file per fragment kind:
//
//	<source>/<tag>/instructions.yaml
//	<source>/<tag>/structure.yaml
//	<source>/<tag>/structure_template.yaml
//	<source>/<tag>/requirements.yaml
//	<source>/<tag>/checklists.yaml
//	<source>/<tag>/hooks.yaml
//
// A missing file means the tag contributes nothing of that kind. A malformed
// file drops that tag's contribution for that kind and is recorded in the
// LoadReport; the build continues.
package fragment

import (
	"slices"

	"tagforge/internal/tags"
)

// Kind identifies one family of fragments.
type Kind string

const (
	// KindInstructions holds instructional documentation blocks.
	KindInstructions Kind = "instructions"

	// KindStructure holds directory-structure entries, identified by path.
	KindStructure Kind = "structure"

	// KindRequirements holds requirement sections.
	KindRequirements Kind = "requirements"

	// KindChecklists holds review checklist blocks.
	KindChecklists Kind = "checklists"

	// KindHooks holds executable quality-gate scripts, identified by name.
	// Hooks are never tier-filtered and never executed by tagforge.
	KindHooks Kind = "hooks"
)

// Kinds returns every fragment kind in output order.
func Kinds() []Kind {
	return []Kind{KindInstructions, KindStructure, KindRequirements, KindChecklists, KindHooks}
}

// Tiered reports whether the composer applies the tier policy to k.
func (k Kind) Tiered() bool {
	switch k {
	case KindInstructions, KindRequirements, KindChecklists:
		return true
	}
	return false
}

// Valid reports whether k is a defined kind.
func (k Kind) Valid() bool {
	return slices.Contains(Kinds(), k)
}

// Block is an identity-bearing text fragment. Instructions, requirements and
// checklists all share this shape; Items carries checklist lines or
// requirement bullets.
type Block struct {
	ID    string    `yaml:"id" json:"id"`
	Tier  tags.Tier `yaml:"tier,omitempty" json:"tier"`
	Title string    `yaml:"title,omitempty" json:"title,omitempty"`
	Body  string    `yaml:"body,omitempty" json:"body,omitempty"`
	Items []string  `yaml:"items,omitempty" json:"items,omitempty"`
}

func (b Block) clone() Block {
	b.Items = slices.Clone(b.Items)
	return b
}

// Entry is a directory-structure line. Its path is its identity.
type Entry struct {
	Path        string    `yaml:"path" json:"path"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Tier        tags.Tier `yaml:"tier,omitempty" json:"tier"`
}

// Hook is a quality-gate script. Its name is its identity. Scripts are data:
// they are carried into output artifacts but never run.
type Hook struct {
	Name        string `yaml:"name" json:"name"`
	Event       string `yaml:"event,omitempty" json:"event,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Script      string `yaml:"script" json:"script"`
}

// StructureTemplate replaces a tag's whole structure contribution. When a
// tag carries a template, the composer emits the template's entries instead
// of the tag's merged entry list.
type StructureTemplate struct {
	Name    string  `yaml:"name,omitempty" json:"name,omitempty"`
	Source  string  `yaml:"-" json:"source"`
	Entries []Entry `yaml:"entries" json:"entries"`
}

func (t *StructureTemplate) clone() *StructureTemplate {
	if t == nil {
		return nil
	}
	c := *t
	c.Entries = slices.Clone(t.Entries)
	return &c
}

// Set is every fragment of every kind that belongs to one tag.
type Set struct {
	Tag          tags.Tag           `json:"tag"`
	Instructions []Block            `json:"instructions,omitempty"`
	Structure    []Entry            `json:"structure,omitempty"`
	Template     *StructureTemplate `json:"template,omitempty"`
	Requirements []Block            `json:"requirements,omitempty"`
	Checklists   []Block            `json:"checklists,omitempty"`
	Hooks        []Hook             `json:"hooks,omitempty"`
}

// Clone returns a deep copy of s.
func (s *Set) Clone() *Set {
	if s == nil {
		return nil
	}
	return &Set{
		Tag:          s.Tag,
		Instructions: cloneBlocks(s.Instructions),
		Structure:    slices.Clone(s.Structure),
		Template:     s.Template.clone(),
		Requirements: cloneBlocks(s.Requirements),
		Checklists:   cloneBlocks(s.Checklists),
		Hooks:        slices.Clone(s.Hooks),
	}
}

// Blocks returns the block list for a tiered kind, or nil for other kinds.
func (s *Set) Blocks(kind Kind) []Block {
	switch kind {
	case KindInstructions:
		return s.Instructions
	case KindRequirements:
		return s.Requirements
	case KindChecklists:
		return s.Checklists
	}
	return nil
}

// Len returns the number of fragments of kind in s. For structure the count
// reflects the template when one is present.
func (s *Set) Len(kind Kind) int {
	switch kind {
	case KindStructure:
		return len(s.StructureEntries())
	case KindHooks:
		return len(s.Hooks)
	}
	return len(s.Blocks(kind))
}

// IDs lists fragment identities of kind in store order.
func (s *Set) IDs(kind Kind) []string {
	switch kind {
	case KindStructure:
		entries := s.StructureEntries()
		out := make([]string, len(entries))
		for i, e := range entries {
			out[i] = e.Path
		}
		return out
	case KindHooks:
		out := make([]string, len(s.Hooks))
		for i, h := range s.Hooks {
			out[i] = h.Name
		}
		return out
	}
	blocks := s.Blocks(kind)
	out := make([]string, len(blocks))
	for i, b := range blocks {
		out[i] = b.ID
	}
	return out
}

// StructureEntries returns the entries the tag contributes to the structure
// kind: the template's entries when a template is present, otherwise the
// merged entry list.
func (s *Set) StructureEntries() []Entry {
	if s.Template != nil {
		return s.Template.Entries
	}
	return s.Structure
}

func (s *Set) empty() bool {
	return len(s.Instructions) == 0 && len(s.Structure) == 0 && s.Template == nil &&
		len(s.Requirements) == 0 && len(s.Checklists) == 0 && len(s.Hooks) == 0
}

func cloneBlocks(in []Block) []Block {
	if in == nil {
		return nil
	}
	out := make([]Block, len(in))
	for i, b := range in {
		out[i] = b.clone()
	}
	return out
}

func blockKey(b Block) string { return b.ID }
func entryKey(e Entry) string { return e.Path }
func hookKey(h Hook) string   { return h.Name }
