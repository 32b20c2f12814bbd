// Package tags defines the closed vocabularies shared by every tagforge
// component: domain tags, content tiers and the detection signals that
// suggest a tag applies to a project.
package tags

import (
	"slices"
	"strings"
)

// Tag is a domain classifier. Tags are opaque symbols; relationships between
// tags exist only through the fragments they carry.
type Tag string

const (
	// Universal applies to every project and is implicitly part of every
	// composition. It can never be removed from a configuration.
	Universal Tag = "universal"

	Frontend       Tag = "frontend"
	Backend        Tag = "backend"
	API            Tag = "api"
	CLI            Tag = "cli"
	Library        Tag = "library"
	Mobile         Tag = "mobile"
	Data           Tag = "data"
	ML             Tag = "ml"
	DevOps         Tag = "devops"
	Infrastructure Tag = "infrastructure"
	Security       Tag = "security"
	Game           Tag = "game"
	Embedded       Tag = "embedded"
)

// allTags is the enumeration order. It is also the canonical sort order used
// wherever a deterministic tag listing is needed.
var allTags = []Tag{
	Universal,
	Frontend,
	Backend,
	API,
	CLI,
	Library,
	Mobile,
	Data,
	ML,
	DevOps,
	Infrastructure,
	Security,
	Game,
	Embedded,
}

var tagIndex = func() map[Tag]int {
	if len(allTags) == 0 {
		panic("tags: empty tag enumeration")
	}
	idx := make(map[Tag]int, len(allTags))
	for i, t := range allTags {
		idx[t] = i
	}
	return idx
}()

// All returns every defined tag in enumeration order.
func All() []Tag {
	out := make([]Tag, len(allTags))
	copy(out, allTags)
	return out
}

// Valid reports whether t is a member of the enumeration.
func (t Tag) Valid() bool {
	_, ok := tagIndex[t]
	return ok
}

// Index returns the enumeration position of t, or -1 for unknown tags.
func (t Tag) Index() int {
	if i, ok := tagIndex[t]; ok {
		return i
	}
	return -1
}

func (t Tag) String() string { return string(t) }

// normalize trims, lowercases and strips a leading slash so "/API" and "api"
// name the same tag.
func normalize(value string) string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "/")
	return strings.ToLower(value)
}

// ParseTag converts user input into a Tag, rejecting anything outside the
// enumeration.
func ParseTag(value string) (Tag, error) {
	t := Tag(normalize(value))
	if !t.Valid() {
		return "", &ValidationError{Field: "tag", Value: value, Allowed: Strings(allTags)}
	}
	return t, nil
}

// LookupTag is the lenient variant used on data read from sources, where an
// unknown tag is a warning rather than a caller mistake.
func LookupTag(value string) (Tag, bool) {
	t := Tag(normalize(value))
	return t, t.Valid()
}

// ParseTags parses every value, stopping at the first invalid one.
func ParseTags(values []string) ([]Tag, error) {
	out := make([]Tag, 0, len(values))
	for _, v := range values {
		t, err := ParseTag(v)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// ValidateAll checks that every tag is a member of the enumeration.
func ValidateAll(ts []Tag) error {
	for _, t := range ts {
		if !t.Valid() {
			return &ValidationError{Field: "tag", Value: string(t), Allowed: Strings(allTags)}
		}
	}
	return nil
}

// Strings converts tags to their string form.
func Strings(ts []Tag) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}

// Contains reports whether t appears in ts.
func Contains(ts []Tag, t Tag) bool {
	for _, candidate := range ts {
		if candidate == t {
			return true
		}
	}
	return false
}

// Normalize returns ts with Universal first and duplicates removed, keeping
// the first occurrence of every other tag in its original position.
func Normalize(ts []Tag) []Tag {
	out := make([]Tag, 0, len(ts)+1)
	seen := make(map[Tag]struct{}, len(ts)+1)
	out = append(out, Universal)
	seen[Universal] = struct{}{}
	for _, t := range ts {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Sort orders ts by enumeration position in place. Unknown tags sort last,
// alphabetically.
func Sort(ts []Tag) {
	slices.SortStableFunc(ts, func(a, b Tag) int {
		ia, ib := a.Index(), b.Index()
		switch {
		case ia >= 0 && ib >= 0:
			return ia - ib
		case ia >= 0:
			return -1
		case ib >= 0:
			return 1
		default:
			return strings.Compare(string(a), string(b))
		}
	})
}
