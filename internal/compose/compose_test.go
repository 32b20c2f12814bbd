package compose

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tagforge/internal/fragment"
	"tagforge/internal/tags"
)

func blocks(specs ...fragment.Block) []fragment.Block { return specs }

func fixtureStore() *fragment.Store {
	return fragment.NewStore(
		&fragment.Set{
			Tag: tags.Universal,
			Instructions: blocks(
				fragment.Block{ID: "core-block", Body: "core"},
				fragment.Block{ID: "style", Tier: tags.Recommended},
				fragment.Block{ID: "extras", Tier: tags.Optional},
			),
			Structure: []fragment.Entry{{Path: "docs/"}, {Path: "scripts/", Tier: tags.Optional}},
			Checklists: blocks(
				fragment.Block{ID: "review-basics", Items: []string{"tests pass"}},
			),
			Hooks: []fragment.Hook{{Name: "lint", Script: "make lint"}},
		},
		&fragment.Set{
			Tag: tags.API,
			Instructions: blocks(
				fragment.Block{ID: "api-block"},
				fragment.Block{ID: "style", Tier: tags.Core, Body: "api flavoured style"},
				fragment.Block{ID: "api-extras", Tier: tags.Optional},
			),
			Structure:    []fragment.Entry{{Path: "api/"}, {Path: "docs/", Description: "api docs"}},
			Requirements: blocks(fragment.Block{ID: "api-auth", Tier: tags.Recommended}),
			Hooks:        []fragment.Hook{{Name: "lint", Script: "other"}, {Name: "openapi-check", Script: "spectral lint"}},
		},
		&fragment.Set{
			Tag:          tags.CLI,
			Instructions: blocks(fragment.Block{ID: "cli-flags"}),
		},
	)
}

// Example: tags=[api], universal carries core-block, api carries api-block.
func TestCompose_UniversalPrependedExample(t *testing.T) {
	store := fragment.NewStore(
		&fragment.Set{Tag: tags.Universal, Instructions: blocks(fragment.Block{ID: "core-block"})},
		&fragment.Set{Tag: tags.API, Instructions: blocks(fragment.Block{ID: "api-block"})},
	)
	res, err := Compose(Request{Tags: []tags.Tag{tags.API}, Tier: tags.Recommended}, store, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"core-block", "api-block"}, res.IDs(fragment.KindInstructions))
	assert.Equal(t, []tags.Tag{tags.Universal, tags.API}, res.Tags)
}

// Example: one core, one recommended, one optional block.
func TestCompose_TierExample(t *testing.T) {
	store := fragment.NewStore(&fragment.Set{
		Tag: tags.Universal,
		Instructions: blocks(
			fragment.Block{ID: "c", Tier: tags.Core},
			fragment.Block{ID: "r", Tier: tags.Recommended},
			fragment.Block{ID: "o", Tier: tags.Optional},
		),
	})

	res, err := Compose(Request{Tier: tags.Core}, store, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, res.IDs(fragment.KindInstructions))

	res, err = Compose(Request{Tier: tags.Recommended}, store, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "r"}, res.IDs(fragment.KindInstructions))

	res, err = Compose(Request{Tier: tags.Optional}, store, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "r", "o"}, res.IDs(fragment.KindInstructions))
}

func TestCompose_TagNormalization(t *testing.T) {
	tests := []struct {
		name string
		in   []tags.Tag
		want []tags.Tag
	}{
		{"empty", nil, []tags.Tag{tags.Universal}},
		{"universal omitted", []tags.Tag{tags.CLI, tags.API}, []tags.Tag{tags.Universal, tags.CLI, tags.API}},
		{"universal in the middle", []tags.Tag{tags.CLI, tags.Universal, tags.API}, []tags.Tag{tags.Universal, tags.CLI, tags.API}},
		{"duplicates keep first", []tags.Tag{tags.API, tags.CLI, tags.API}, []tags.Tag{tags.Universal, tags.API, tags.CLI}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Compose(Request{Tags: tt.in, Tier: tags.Optional}, fixtureStore(), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Tags)
		})
	}
}

func TestCompose_OrderAndCrossTagDedup(t *testing.T) {
	res, err := Compose(Request{Tags: []tags.Tag{tags.API, tags.CLI}, Tier: tags.Optional}, fixtureStore(), nil)
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"core-block", "style", "extras", "api-block", "api-extras", "cli-flags"},
		res.IDs(fragment.KindInstructions))
	assert.Equal(t, tags.Universal, res.Instructions[1].From, "first-seen copy of a shared id wins")

	assert.Equal(t, []string{"docs/", "scripts/", "api/"}, res.IDs(fragment.KindStructure))
	assert.Equal(t, []string{"lint", "openapi-check"}, res.IDs(fragment.KindHooks))
	assert.Equal(t, "make lint", res.Hooks[0].Script)
	assert.Equal(t, 1, res.Stats[fragment.KindInstructions].Duplicates)
}

func TestCompose_LowerTierDuplicateAdmittedWhenFirstWasFiltered(t *testing.T) {
	res, err := Compose(Request{Tags: []tags.Tag{tags.API}, Tier: tags.Core}, fixtureStore(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"core-block", "api-block", "style"}, res.IDs(fragment.KindInstructions))
	assert.Equal(t, tags.API, res.Instructions[2].From)
	assert.Equal(t, "api flavoured style", res.Instructions[2].Body)
}

func TestCompose_StructureAndHooksSkipTierCheck(t *testing.T) {
	res, err := Compose(Request{Tags: []tags.Tag{tags.API}, Tier: tags.Core}, fixtureStore(), nil)
	require.NoError(t, err)
	assert.Contains(t, res.IDs(fragment.KindStructure), "scripts/", "optional-tier entry is not tier filtered")
	assert.Empty(t, res.IDs(fragment.KindRequirements), "recommended requirement is tier filtered")
	assert.Len(t, res.Hooks, 2)
}

func TestCompose_IncludeExclude(t *testing.T) {
	tests := []struct {
		name    string
		include []string
		exclude []string
		kind    fragment.Kind
		want    []string
	}{
		{"no overrides", nil, nil, fragment.KindInstructions,
			[]string{"core-block", "style", "extras", "api-block", "api-extras"}},
		{"exclude drops", nil, []string{"style", "api-extras"}, fragment.KindInstructions,
			[]string{"core-block", "extras", "api-block"}},
		{"include restricts", []string{"api-block", "extras"}, nil, fragment.KindInstructions,
			[]string{"extras", "api-block"}},
		{"exclude dominates include", []string{"api-block", "extras"}, []string{"api-block"}, fragment.KindInstructions,
			[]string{"extras"}},
		{"include gates hooks too", []string{"core-block"}, nil, fragment.KindHooks, []string{}},
		{"exclude gates structure", nil, []string{"docs/"}, fragment.KindStructure, []string{"scripts/", "api/"}},
		{"exclude gates hooks", nil, []string{"lint"}, fragment.KindHooks, []string{"openapi-check"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Compose(Request{
				Tags:    []tags.Tag{tags.API},
				Tier:    tags.Optional,
				Include: tt.include,
				Exclude: tt.exclude,
			}, fixtureStore(), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.IDs(tt.kind))
		})
	}
}

func TestCompose_TemplateReplacesStructure(t *testing.T) {
	store := fragment.NewStore(&fragment.Set{
		Tag:       tags.Universal,
		Structure: []fragment.Entry{{Path: "docs/"}},
		Template:  &fragment.StructureTemplate{Name: "mono", Entries: []fragment.Entry{{Path: "apps/"}, {Path: "packages/"}}},
	})
	res, err := Compose(Request{Tier: tags.Core}, store, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"apps/", "packages/"}, res.IDs(fragment.KindStructure))
}

func TestCompose_MissingTagContributesNothing(t *testing.T) {
	res, err := Compose(Request{Tags: []tags.Tag{tags.Game, tags.CLI}, Tier: tags.Core}, fixtureStore(), nil)
	require.NoError(t, err)
	assert.Equal(t, []tags.Tag{tags.Game}, res.MissingTags)
	assert.Equal(t, []string{"core-block", "cli-flags"}, res.IDs(fragment.KindInstructions))
}

func TestCompose_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"unknown tag", Request{Tags: []tags.Tag{"quantum"}}},
		{"tier out of range", Request{Tier: tags.Tier(7)}},
		{"negative tier", Request{Tier: tags.Tier(-1)}},
		{"blank include", Request{Include: []string{" "}}},
		{"blank exclude", Request{Exclude: []string{""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compose(tt.req, fixtureStore(), nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tags.ErrInvalidInput))
		})
	}
}

func TestCompose_NilStore(t *testing.T) {
	_, err := Compose(Request{}, nil, nil)
	assert.ErrorIs(t, err, ErrNilStore)
}

func TestCompose_Deterministic(t *testing.T) {
	req := Request{Tags: []tags.Tag{tags.CLI, tags.API}, Tier: tags.Recommended, Exclude: []string{"lint"}}
	store := fixtureStore()
	first, err := Compose(req, store, nil)
	require.NoError(t, err)
	second, err := Compose(req, store, nil)
	require.NoError(t, err)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("composition not deterministic (-first +second):\n%s", diff)
	}
}

func TestCompose_NoDuplicatesPerKind(t *testing.T) {
	for _, tier := range tags.Tiers() {
		res, err := Compose(Request{Tags: tags.All(), Tier: tier}, fixtureStore(), nil)
		require.NoError(t, err)
		for _, kind := range fragment.Kinds() {
			seen := map[string]bool{}
			for _, id := range res.IDs(kind) {
				assert.False(t, seen[id], "duplicate %s in %s at tier %s", id, kind, tier)
				seen[id] = true
			}
		}
	}
}

func TestCompose_UniversalFirst(t *testing.T) {
	res, err := Compose(Request{Tags: []tags.Tag{tags.CLI, tags.API}, Tier: tags.Optional}, fixtureStore(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, res.Instructions)
	for i, b := range res.Instructions {
		if b.From != tags.Universal {
			for _, later := range res.Instructions[i:] {
				assert.NotEqual(t, tags.Universal, later.From, "universal fragments must lead the sequence")
			}
			break
		}
	}
}

func TestCompose_TierMonotonicity(t *testing.T) {
	store := fixtureStore()
	var previous *Result
	for _, tier := range tags.Tiers() {
		res, err := Compose(Request{Tags: []tags.Tag{tags.API, tags.CLI}, Tier: tier}, store, nil)
		require.NoError(t, err)
		if previous != nil {
			for _, kind := range fragment.Kinds() {
				assert.Subset(t, res.IDs(kind), previous.IDs(kind), "kind %s, tier %s", kind, tier)
			}
		}
		previous = res
	}
}

func TestCompose_DoesNotMutateStoreOrShareSlices(t *testing.T) {
	store := fixtureStore()
	res, err := Compose(Request{Tier: tags.Optional}, store, nil)
	require.NoError(t, err)
	require.NotEmpty(t, res.Checklists)
	res.Checklists[0].Items[0] = "changed"

	universal, _ := store.Set(tags.Universal)
	assert.Equal(t, "tests pass", universal.Checklists[0].Items[0])
}

func TestResult_Counts(t *testing.T) {
	res, err := Compose(Request{Tags: []tags.Tag{tags.API}, Tier: tags.Optional}, fixtureStore(), nil)
	require.NoError(t, err)
	counts := res.Counts()
	assert.Equal(t, 5, counts[fragment.KindInstructions])
	assert.Equal(t, 3, counts[fragment.KindStructure])
	assert.Equal(t, 1, counts[fragment.KindRequirements])
	assert.Equal(t, 1, counts[fragment.KindChecklists])
	assert.Equal(t, 2, counts[fragment.KindHooks])

	var nilResult *Result
	assert.Zero(t, nilResult.Count(fragment.KindHooks))
}
