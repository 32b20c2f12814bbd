package resolve

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tagforge/internal/project"
	"tagforge/internal/tags"
)

func tierPtr(t tags.Tier) *tags.Tier { return &t }

func existing(tier tags.Tier, ts ...tags.Tag) *project.Configuration {
	return &project.Configuration{Tags: ts, Tier: tier}
}

// Example: api at 0.65 is added, mobile at 0.55 is only suggested.
func TestResolve_ThresholdExample(t *testing.T) {
	out, err := Resolve(Input{
		Detections: []tags.Detection{
			{Tag: tags.API, Confidence: 0.65},
			{Tag: tags.Mobile, Confidence: 0.55},
		},
	}, DefaultPolicy())
	require.NoError(t, err)

	assert.Equal(t, []tags.Tag{tags.Universal, tags.API}, out.Configuration.Tags)
	assert.Equal(t, []tags.Tag{tags.API}, out.Added)
	require.Len(t, out.Suggestions, 1)
	assert.Equal(t, tags.Mobile, out.Suggestions[0].Tag)
	assert.Equal(t, ActionManual, out.Suggestions[0].Action)
}

// Example: removing universal and api leaves universal.
func TestResolve_RemoveExample(t *testing.T) {
	out, err := Resolve(Input{
		Existing:       existing(tags.Recommended, tags.Universal, tags.API),
		ExplicitRemove: []tags.Tag{tags.Universal, tags.API},
	}, DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, []tags.Tag{tags.Universal}, out.Configuration.Tags)
	assert.Equal(t, []tags.Tag{tags.API}, out.Removed)
}

func TestResolve_UniversalIrremovable(t *testing.T) {
	inputs := []Input{
		{ExplicitRemove: []tags.Tag{tags.Universal}},
		{Existing: existing(tags.Core, tags.Universal, tags.CLI), ExplicitRemove: tags.All()},
		{ExplicitAdd: []tags.Tag{tags.Universal}, ExplicitRemove: []tags.Tag{tags.Universal}},
		{Detections: []tags.Detection{{Tag: tags.Universal, Confidence: 0}}, ExplicitRemove: []tags.Tag{tags.Universal}},
	}
	for i, in := range inputs {
		out, err := Resolve(in, DefaultPolicy())
		require.NoError(t, err, "input %d", i)
		assert.Contains(t, out.Configuration.Tags, tags.Universal, "input %d", i)
		assert.Equal(t, tags.Universal, out.Configuration.Tags[0], "input %d", i)
	}
}

func TestResolve_TierPrecedence(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want tags.Tier
	}{
		{"policy default", Input{}, tags.Recommended},
		{"existing", Input{Existing: existing(tags.Optional, tags.Universal)}, tags.Optional},
		{"explicit over existing", Input{Existing: existing(tags.Optional, tags.Universal), Tier: tierPtr(tags.Core)}, tags.Core},
		{"explicit without existing", Input{Tier: tierPtr(tags.Optional)}, tags.Optional},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Resolve(tt.in, DefaultPolicy())
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Configuration.Tier)
		})
	}
}

func TestResolve_TagOrder(t *testing.T) {
	out, err := Resolve(Input{
		Existing: existing(tags.Core, tags.Universal, tags.Data, tags.ML),
		Detections: []tags.Detection{
			{Tag: tags.Security, Confidence: 0.9},
			{Tag: tags.Data, Confidence: 0.9},
			{Tag: tags.Backend, Confidence: 0.6},
		},
		ExplicitAdd: []tags.Tag{tags.CLI, tags.Security},
	}, DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t,
		[]tags.Tag{tags.Universal, tags.Data, tags.ML, tags.Security, tags.Backend, tags.CLI},
		out.Configuration.Tags)
	assert.Equal(t, []tags.Tag{tags.Security, tags.Backend}, out.Added)
}

func TestResolve_ExplicitRemoveBeatsDetection(t *testing.T) {
	out, err := Resolve(Input{
		Detections:     []tags.Detection{{Tag: tags.Game, Confidence: 0.95}, {Tag: tags.Mobile, Confidence: 0.52}},
		ExplicitRemove: []tags.Tag{tags.Game, tags.Mobile},
	}, DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, []tags.Tag{tags.Universal}, out.Configuration.Tags)
	assert.Empty(t, out.Added)
	assert.Empty(t, out.Suggestions, "removed tags are not suggested again")
}

func TestResolve_SuggestionsSkipPresentTags(t *testing.T) {
	out, err := Resolve(Input{
		Existing:   existing(tags.Core, tags.Universal, tags.Mobile),
		Detections: []tags.Detection{{Tag: tags.Mobile, Confidence: 0.55}, {Tag: tags.Frontend, Confidence: 0.3}},
	}, DefaultPolicy())
	require.NoError(t, err)
	assert.Empty(t, out.Suggestions)
}

func TestResolve_CustomPolicy(t *testing.T) {
	policy := Policy{AutoAdd: 0.9, Suggest: 0.2, DefaultTier: tags.Core}
	out, err := Resolve(Input{
		Detections: []tags.Detection{{Tag: tags.API, Confidence: 0.65}, {Tag: tags.CLI, Confidence: 0.95}},
	}, policy)
	require.NoError(t, err)
	assert.Equal(t, []tags.Tag{tags.Universal, tags.CLI}, out.Configuration.Tags)
	assert.Equal(t, tags.Core, out.Configuration.Tier)
	require.Len(t, out.Suggestions, 1)
	assert.Equal(t, tags.API, out.Suggestions[0].Tag)
}

func TestResolve_RejectedDetections(t *testing.T) {
	out, err := Resolve(Input{
		Detections: []tags.Detection{{Tag: "quantum", Confidence: 0.9}, {Tag: tags.API, Confidence: 1.5}},
	}, DefaultPolicy())
	require.NoError(t, err)
	assert.Len(t, out.Rejected, 2)
	assert.Equal(t, []tags.Tag{tags.Universal}, out.Configuration.Tags)
}

func TestResolve_InvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		in     Input
		policy Policy
	}{
		{"unknown explicit add", Input{ExplicitAdd: []tags.Tag{"nope"}}, DefaultPolicy()},
		{"unknown explicit remove", Input{ExplicitRemove: []tags.Tag{"nope"}}, DefaultPolicy()},
		{"bad tier", Input{Tier: tierPtr(tags.Tier(4))}, DefaultPolicy()},
		{"existing without universal", Input{Existing: existing(tags.Core, tags.API)}, DefaultPolicy()},
		{"inverted thresholds", Input{}, Policy{AutoAdd: 0.4, Suggest: 0.5, DefaultTier: tags.Core}},
		{"threshold above one", Input{}, Policy{AutoAdd: 1.2, Suggest: 0.5, DefaultTier: tags.Core}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.in, tt.policy)
			assert.ErrorIs(t, err, tags.ErrInvalidInput)
		})
	}
}

func TestResolve_PureAndDeterministic(t *testing.T) {
	prior := existing(tags.Optional, tags.Universal, tags.Backend)
	prior.Variables = map[string]string{"service": "billing"}
	in := Input{
		Existing:       prior,
		Detections:     []tags.Detection{{Tag: tags.API, Confidence: 0.8, Evidence: []string{"openapi.yaml"}}},
		ExplicitRemove: []tags.Tag{tags.Backend},
	}

	first, err := Resolve(in, DefaultPolicy())
	require.NoError(t, err)
	second, err := Resolve(in, DefaultPolicy())
	require.NoError(t, err)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("resolution not deterministic (-first +second):\n%s", diff)
	}

	assert.Equal(t, []tags.Tag{tags.Universal, tags.Backend}, prior.Tags, "existing configuration must not be mutated")
	assert.Equal(t, "billing", first.Configuration.Variables["service"])
}

func TestMerge(t *testing.T) {
	merged := Merge([]tags.Detection{
		{Tag: tags.API, Confidence: 0.3, Evidence: []string{"routes/"}},
		{Tag: tags.CLI, Confidence: 0.5},
		{Tag: tags.API, Confidence: 0.4, Evidence: []string{"openapi.yaml", "routes/"}},
	})
	assert.Equal(t, []tags.Detection{
		{Tag: tags.API, Confidence: 0.4, Evidence: []string{"routes/", "openapi.yaml"}},
		{Tag: tags.CLI, Confidence: 0.5},
	}, merged)
}

func TestPolicy_Classify(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, ActionAutoAdd, p.Classify(0.6))
	assert.Equal(t, ActionManual, p.Classify(0.5))
	assert.Equal(t, ActionManual, p.Classify(0.59))
	assert.Equal(t, Action(""), p.Classify(0.49))
}
