package drift

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"tagforge/internal/fragment"
	"tagforge/internal/project"
	"tagforge/internal/resolve"
	"tagforge/internal/tags"
)

func store() *fragment.Store {
	return fragment.NewStore(
		&fragment.Set{
			Tag: tags.Universal,
			Instructions: []fragment.Block{
				{ID: "core"},
				{ID: "style", Tier: tags.Recommended},
				{ID: "deep-dive", Tier: tags.Optional},
			},
			Hooks: []fragment.Hook{{Name: "lint", Script: "make lint"}},
		},
		&fragment.Set{
			Tag:          tags.API,
			Instructions: []fragment.Block{{ID: "api-contracts"}, {ID: "api-versioning", Tier: tags.Recommended}},
			Requirements: []fragment.Block{{ID: "api-auth"}},
			Structure:    []fragment.Entry{{Path: "api/"}},
		},
		&fragment.Set{
			Tag:          tags.Backend,
			Instructions: []fragment.Block{{ID: "services"}},
		},
		&fragment.Set{
			Tag:          tags.Mobile,
			Instructions: []fragment.Block{{ID: "mobile-release"}},
		},
	)
}

func tierPtr(t tags.Tier) *tags.Tier { return &t }

func TestDiff_NoConfig(t *testing.T) {
	report, err := Diff(Input{Detections: []tags.Detection{{Tag: tags.API, Confidence: 0.9}}}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusNoConfig, report.Status)
	assert.NotEmpty(t, report.Message)
	assert.Empty(t, report.NewTagSuggestions)
	assert.False(t, report.HasDrift())
}

func TestDiff_InvalidInputBeforeNoConfig(t *testing.T) {
	_, err := Diff(Input{Tier: tierPtr(tags.Tier(8))}, store(), nil)
	assert.ErrorIs(t, err, tags.ErrInvalidInput)

	_, err = Diff(Input{ExplicitAdd: []tags.Tag{"nope"}}, store(), nil)
	assert.ErrorIs(t, err, tags.ErrInvalidInput)
}

func TestDiff_NilStore(t *testing.T) {
	cfg := project.NewConfiguration(tags.Core)
	_, err := Diff(Input{Existing: &cfg}, nil, nil)
	assert.ErrorIs(t, err, ErrNilStore)
}

func TestDiff_SuggestionsAndDroppedCandidates(t *testing.T) {
	existing := &project.Configuration{
		Tags: []tags.Tag{tags.Universal, tags.Backend, tags.Data},
		Tier: tags.Core,
	}
	report, err := Diff(Input{
		Existing: existing,
		Detections: []tags.Detection{
			{Tag: tags.API, Confidence: 0.72, Evidence: []string{"openapi.yaml"}},
			{Tag: tags.Mobile, Confidence: 0.55},
			{Tag: tags.Game, Confidence: 0.2},
			{Tag: tags.Backend, Confidence: 0.1},
		},
	}, store(), zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, StatusOK, report.Status)
	assert.Equal(t, []tags.Tag{tags.Universal, tags.Backend, tags.Data}, report.CurrentTags)
	assert.Equal(t, []resolve.Suggestion{
		{Tag: tags.API, Confidence: 0.72, Evidence: []string{"openapi.yaml"}, Action: resolve.ActionAutoAdd},
		{Tag: tags.Mobile, Confidence: 0.55, Action: resolve.ActionManual},
	}, report.NewTagSuggestions)
	assert.Equal(t, []tags.Tag{tags.API}, report.AutoAddTags())

	// Backend has a weak detection, so only data counts as no longer observed.
	assert.Equal(t, []tags.Tag{tags.Data}, report.DroppedTagCandidates)
	assert.Equal(t, []tags.Tag{tags.Universal, tags.Backend, tags.Data, tags.API}, report.ProposedTags,
		"dropped candidates are never removed automatically")
	assert.Nil(t, report.TierChange)
	assert.True(t, report.HasDrift())
}

func TestDiff_FragmentCountDelta(t *testing.T) {
	existing := &project.Configuration{Tags: []tags.Tag{tags.Universal}, Tier: tags.Core}
	report, err := Diff(Input{
		Existing:   existing,
		Detections: []tags.Detection{{Tag: tags.API, Confidence: 0.9}},
		Tier:       tierPtr(tags.Recommended),
	}, store(), nil)
	require.NoError(t, err)

	// before: core. after: core, style, api-contracts, api-versioning.
	assert.Equal(t, CountDelta{Before: 1, After: 4, Delta: 3}, report.FragmentCountDelta[fragment.KindInstructions])
	assert.Equal(t, CountDelta{Before: 0, After: 1, Delta: 1}, report.FragmentCountDelta[fragment.KindRequirements])
	assert.Equal(t, CountDelta{Before: 0, After: 1, Delta: 1}, report.FragmentCountDelta[fragment.KindStructure])
	assert.Equal(t, CountDelta{Before: 1, After: 1, Delta: 0}, report.FragmentCountDelta[fragment.KindHooks])
	assert.Len(t, report.FragmentCountDelta, len(fragment.Kinds()))
	assert.Equal(t, &TierChange{From: tags.Core, To: tags.Recommended}, report.TierChange)
}

func TestDiff_TierChangeOnlyWhenDifferent(t *testing.T) {
	existing := &project.Configuration{Tags: []tags.Tag{tags.Universal}, Tier: tags.Optional}
	report, err := Diff(Input{Existing: existing, Tier: tierPtr(tags.Optional)}, store(), nil)
	require.NoError(t, err)
	assert.Nil(t, report.TierChange)
	assert.False(t, report.HasDrift())
}

func TestDiff_ExplicitRemoveShowsNegativeDelta(t *testing.T) {
	existing := &project.Configuration{Tags: []tags.Tag{tags.Universal, tags.Mobile}, Tier: tags.Core}
	report, err := Diff(Input{
		Existing:       existing,
		Detections:     []tags.Detection{{Tag: tags.Mobile, Confidence: 0.9}},
		ExplicitRemove: []tags.Tag{tags.Mobile, tags.Universal},
	}, store(), nil)
	require.NoError(t, err)
	assert.Equal(t, []tags.Tag{tags.Universal}, report.ProposedTags)
	assert.Equal(t, -1, report.FragmentCountDelta[fragment.KindInstructions].Delta)
}

func TestDiff_ReadOnly(t *testing.T) {
	existing := &project.Configuration{
		Tags:    []tags.Tag{tags.Universal, tags.Backend},
		Tier:    tags.Core,
		Exclude: []string{"services"},
	}
	snapshot := existing.Clone()
	s := store()
	before, _ := s.Set(tags.Universal)

	in := Input{Existing: existing, Detections: []tags.Detection{{Tag: tags.API, Confidence: 0.9}}}
	first, err := Diff(in, s, nil)
	require.NoError(t, err)
	second, err := Diff(in, s, nil)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("drift not deterministic (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(snapshot, *existing); diff != "" {
		t.Errorf("existing configuration mutated (-want +got):\n%s", diff)
	}
	after, _ := s.Set(tags.Universal)
	assert.Equal(t, before, after)
}

func TestEngine_CustomPolicy(t *testing.T) {
	engine := NewEngine(resolve.Policy{AutoAdd: 0.95, Suggest: 0.1, DefaultTier: tags.Core}, nil)
	existing := &project.Configuration{Tags: []tags.Tag{tags.Universal}, Tier: tags.Core}
	report, err := engine.Diff(Input{
		Existing:   existing,
		Detections: []tags.Detection{{Tag: tags.API, Confidence: 0.9}},
	}, store())
	require.NoError(t, err)
	require.Len(t, report.NewTagSuggestions, 1)
	assert.Equal(t, resolve.ActionManual, report.NewTagSuggestions[0].Action)
	assert.Equal(t, []tags.Tag{tags.Universal}, report.ProposedTags)
}
