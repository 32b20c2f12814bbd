package fragment

import (
	"tagforge/internal/tags"
)

// Store is the merged, tag-keyed universe of fragments. It is immutable once
// built: every accessor returns copies, so concurrent readers need no
// locking.
type Store struct {
	sets    map[tags.Tag]*Set
	sources []string
}

// NewStore builds a store directly from sets, cloning them. It is used by
// tests and by hosts that assemble fragments in memory. Later sets for the
// same tag are merged into earlier ones with the same first-writer-wins rule
// Build applies to extension sources.
func NewStore(sets ...*Set) *Store {
	s := &Store{sets: make(map[tags.Tag]*Set, len(sets))}
	for _, set := range sets {
		if set == nil {
			continue
		}
		if existing, ok := s.sets[set.Tag]; ok {
			mergeInto(existing, set.Clone(), "memory", nil)
			continue
		}
		s.sets[set.Tag] = set.Clone()
	}
	return s
}

// Tags lists the tags present in the store in enumeration order.
func (s *Store) Tags() []tags.Tag {
	if s == nil {
		return nil
	}
	out := make([]tags.Tag, 0, len(s.sets))
	for t := range s.sets {
		out = append(out, t)
	}
	tags.Sort(out)
	return out
}

// Has reports whether the store carries fragments for t.
func (s *Store) Has(t tags.Tag) bool {
	if s == nil {
		return false
	}
	_, ok := s.sets[t]
	return ok
}

// Set returns a copy of t's fragment set.
func (s *Store) Set(t tags.Tag) (*Set, bool) {
	if s == nil {
		return nil, false
	}
	set, ok := s.sets[t]
	if !ok {
		return nil, false
	}
	return set.Clone(), true
}

// Sources lists the source names merged into the store, base first.
func (s *Store) Sources() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.sources))
	copy(out, s.sources)
	return out
}

// Count returns the number of fragments of kind carried by t.
func (s *Store) Count(t tags.Tag, kind Kind) int {
	if s == nil {
		return 0
	}
	set, ok := s.sets[t]
	if !ok {
		return 0
	}
	return set.Len(kind)
}

// view exposes a set without copying for package-internal readers.
func (s *Store) view(t tags.Tag) (*Set, bool) {
	set, ok := s.sets[t]
	return set, ok
}

// Visit calls fn with each of t's fragments of kind in store order, without
// copying the set. fn must not retain or modify slice fields of the values
// it receives. It returns false if t is not in the store.
func (s *Store) Visit(t tags.Tag, kind Kind, fn func(Fragment)) bool {
	if s == nil {
		return false
	}
	set, ok := s.view(t)
	if !ok {
		return false
	}
	switch kind {
	case KindStructure:
		for _, e := range set.StructureEntries() {
			fn(Fragment{ID: e.Path, Tier: e.Tier, Entry: &e})
		}
	case KindHooks:
		for _, h := range set.Hooks {
			fn(Fragment{ID: h.Name, Tier: tags.Core, Hook: &h})
		}
	default:
		for _, b := range set.Blocks(kind) {
			fn(Fragment{ID: b.ID, Tier: b.Tier, Block: &b})
		}
	}
	return true
}

// Fragment is a kind-agnostic view of one fragment. Exactly one of Block,
// Entry or Hook is set.
type Fragment struct {
	ID    string
	Tier  tags.Tier
	Block *Block
	Entry *Entry
	Hook  *Hook
}
