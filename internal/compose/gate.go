package compose

import "strings"

type gateResult int

const (
	gatePass gateResult = iota
	gateExcluded
	gateNotIncluded
)

// gate applies include/exclude overrides. Exclude is checked first and
// drops unconditionally; a non-empty include list then admits only its ids.
type gate struct {
	include map[string]struct{}
	exclude map[string]struct{}
}

func newGate(include, exclude []string) gate {
	return gate{include: idSet(include), exclude: idSet(exclude)}
}

func idSet(ids []string) map[string]struct{} {
	if len(ids) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[strings.TrimSpace(id)] = struct{}{}
	}
	return out
}

func (g gate) check(id string) gateResult {
	if _, ok := g.exclude[id]; ok {
		return gateExcluded
	}
	if len(g.include) == 0 {
		return gatePass
	}
	if _, ok := g.include[id]; ok {
		return gatePass
	}
	return gateNotIncluded
}
