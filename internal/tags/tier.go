package tags

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tier selects content depth. Tiers are strictly ordered
// Core < Recommended < Optional; a selection admits its own tier and every
// tier below it.
type Tier int

const (
	// Core is also the effective tier of fragments that declare none.
	Core Tier = iota
	Recommended
	Optional
)

var tierNames = [...]string{
	Core:        "core",
	Recommended: "recommended",
	Optional:    "optional",
}

// Tiers returns every tier in ascending order.
func Tiers() []Tier {
	return []Tier{Core, Recommended, Optional}
}

// Valid reports whether t is one of the three defined tiers.
func (t Tier) Valid() bool {
	return t >= Core && t <= Optional
}

func (t Tier) String() string {
	if !t.Valid() {
		return fmt.Sprintf("tier(%d)", int(t))
	}
	return tierNames[t]
}

// Admits reports whether a fragment of tier fragment passes a policy of t.
func (t Tier) Admits(fragment Tier) bool {
	return fragment <= t
}

// ParseTier converts user input into a Tier. The empty string is rejected;
// callers that want a default must apply it before parsing.
func ParseTier(value string) (Tier, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	for i, name := range tierNames {
		if name == v {
			return Tier(i), nil
		}
	}
	return 0, &ValidationError{Field: "tier", Value: value, Allowed: tierNames[:]}
}

// MarshalText renders the tier name, which also covers JSON encoding.
func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, &ValidationError{Field: "tier", Value: t.String(), Allowed: tierNames[:]}
	}
	return []byte(tierNames[t]), nil
}

// UnmarshalText parses a tier name.
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalYAML emits the tier as its name rather than its ordinal.
func (t Tier) MarshalYAML() (interface{}, error) {
	if !t.Valid() {
		return nil, &ValidationError{Field: "tier", Value: t.String(), Allowed: tierNames[:]}
	}
	return tierNames[t], nil
}

// UnmarshalYAML accepts a tier name. A null or empty scalar decodes to Core.
func (t *Tier) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: tier must be a scalar", node.Line)
	}
	if node.Tag == "!!null" || strings.TrimSpace(node.Value) == "" {
		*t = Core
		return nil
	}
	parsed, err := ParseTier(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*t = parsed
	return nil
}
