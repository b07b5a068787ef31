package preflight

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfoodfacts/off-product-environmental-impact/internal/config"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/recipe"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/reftables"
)

func pct(v float64) *float64 { return &v }
func rank(v int) *int        { return &v }

func leaf(id string) *recipe.Node { return &recipe.Node{ID: id} }

func characterizedTables(ids ...string) *reftables.Tables {
	t := reftables.NewTables()
	for _, id := range ids {
		t.Taxonomy[id] = struct{}{}
		t.Ingredients[id] = reftables.IngredientRecord{
			ID:         id,
			Nutriments: map[string]reftables.NutrimentRef{"proteins": {Min: 0, Max: 10, Value: 1}},
		}
	}
	return t
}

// S4 (spec.md §8): every ingredient unknown to the taxonomy and undeclared
// -> nothing survives preflight's unknown-ingredient removal.
func TestRunNoKnownIngredientsReturnsError(t *testing.T) {
	product := recipe.NewProduct("prod-unknown")
	product.Ingredients = []*recipe.Node{leaf("en:mystery-powder"), leaf("en:unidentified-extract")}

	tables := reftables.NewTables()
	_, err := Run(product, tables, config.Defaults())

	var wantErr *NoKnownIngredientsError
	require.ErrorAs(t, err, &wantErr)
	assert.Equal(t, "prod-unknown", wantErr.ProductID)
}

// S5 (spec.md §8): every ingredient known to the taxonomy but none carry any
// nutrition or impact reference data -> no characterized ingredients remain.
func TestRunNoCharacterizedIngredientsReturnsError(t *testing.T) {
	product := recipe.NewProduct("prod-uncharacterized")
	product.Ingredients = []*recipe.Node{leaf("en:novel-additive"), leaf("en:other-additive")}

	tables := reftables.NewTables()
	tables.Taxonomy["en:novel-additive"] = struct{}{}
	tables.Taxonomy["en:other-additive"] = struct{}{}

	_, err := Run(product, tables, config.Defaults())

	var wantErr *NoCharacterizedIngredientsError
	require.ErrorAs(t, err, &wantErr)
	assert.Equal(t, "prod-uncharacterized", wantErr.ProductID)
}

// P8: running preflight twice on the same input produces the same outcome.
func TestRunIsIdempotentOnFreshInputEachTime(t *testing.T) {
	build := func() (*recipe.Product, *reftables.Tables) {
		product := recipe.NewProduct("prod-cake")
		product.Ingredients = []*recipe.Node{
			{ID: "en:flour", Percent: pct(40)},
			{ID: "en:sugar", Percent: pct(30)},
			{ID: "en:egg", Percent: pct(20)},
			{ID: "en:butter", Percent: pct(10)},
		}
		return product, characterizedTables("en:flour", "en:sugar", "en:egg", "en:butter")
	}

	p1, t1 := build()
	out1, err1 := Run(p1, t1, config.Defaults())
	require.NoError(t, err1)

	p2, t2 := build()
	out2, err2 := Run(p2, t2, config.Defaults())
	require.NoError(t, err2)

	assert.Equal(t, len(out1.Product.Ingredients), len(out2.Product.Ingredients))
	assert.Equal(t, out1.Warnings, out2.Warnings)
	assert.Equal(t, out1.IgnoredUnknownIngredients, out2.IgnoredUnknownIngredients)
	assert.Equal(t, out1.UncharacterizedIngredients, out2.UncharacterizedIngredients)
	assert.Equal(t, out1.DisableUseDefinedPercent, out2.DisableUseDefinedPercent)
	for i := range out1.Product.Ingredients {
		assert.Equal(t, out1.Product.Ingredients[i].ID, out2.Product.Ingredients[i].ID)
		assert.Equal(t, *out1.Product.Ingredients[i].Rank, *out2.Product.Ingredients[i].Rank)
	}
}

// spec.md §4.1 step 3: a legacy flat-with-rank product keeps only the
// ranked entries and drops the duplicated, non-ranked subingredient entries.
func TestFlattenFlatWithRankDropsNonRankedEntries(t *testing.T) {
	product := recipe.NewProduct("prod-flat")
	product.Ingredients = []*recipe.Node{
		{ID: "en:filling", Rank: rank(1)},
		{ID: "en:sugar"}, // duplicated subingredient, no rank
		{ID: "en:flour"}, // duplicated subingredient, no rank
		{ID: "en:crust", Rank: rank(2)},
	}
	tables := characterizedTables("en:filling", "en:crust")

	out, err := Run(product, tables, config.Defaults())
	require.NoError(t, err)

	ids := make([]string, len(out.Product.Ingredients))
	for i, n := range out.Product.Ingredients {
		ids[i] = n.ID
	}
	assert.ElementsMatch(t, []string{"en:filling", "en:crust"}, ids)

	found := false
	for _, w := range out.Warnings {
		if w.Code == "flat_with_rank_flattened" {
			found = true
		}
	}
	assert.True(t, found, "expected a flat_with_rank_flattened warning")
}

// A fully-ranked top-level list (every entry carries a rank) has no
// non-ranked entries to drop, so flattening must leave it untouched and
// emit no warning.
func TestFlattenFlatWithRankLeavesFullyRankedListAlone(t *testing.T) {
	product := recipe.NewProduct("prod-ranked")
	product.Ingredients = []*recipe.Node{
		{ID: "en:flour", Rank: rank(1)},
		{ID: "en:sugar", Rank: rank(2)},
	}
	tables := characterizedTables("en:flour", "en:sugar")

	out, err := Run(product, tables, config.Defaults())
	require.NoError(t, err)
	assert.Len(t, out.Product.Ingredients, 2)
	for _, w := range out.Warnings {
		assert.NotEqual(t, "flat_with_rank_flattened", w.Code)
	}
}

// spec.md §4.1 step 4: an unknown ingredient with a declared percentage is
// retained; an unknown ingredient with none is dropped and recorded.
func TestRemoveUnknownIngredientsKeepsDeclaredPercentage(t *testing.T) {
	product := recipe.NewProduct("prod-mixed")
	product.Ingredients = []*recipe.Node{
		{ID: "en:flour", Percent: pct(60)},
		{ID: "en:mystery-flavoring", Percent: pct(5)}, // unknown but declared
		leaf("en:mystery-trace"),                      // unknown, undeclared
	}
	tables := characterizedTables("en:flour")

	out, err := Run(product, tables, config.Defaults())
	require.NoError(t, err)

	ids := make([]string, len(out.Product.Ingredients))
	for i, n := range out.Product.Ingredients {
		ids[i] = n.ID
	}
	assert.Contains(t, ids, "en:mystery-flavoring")
	assert.NotContains(t, ids, "en:mystery-trace")
	assert.Equal(t, []string{"en:mystery-trace"}, out.IgnoredUnknownIngredients)
	assert.Equal(t, 1, len(out.IgnoredUnknownIngredients))
	assert.InDelta(t, 1.0/3.0, out.IgnoredUnknownRatio(), 1e-9)
}

// spec.md §4.1 step 5: a compound node's entire child list is dropped in one
// shot only when NONE of its children carry any information (no percentage,
// not in the taxonomy, and no surviving subingredients of their own).
func TestPruneUncharacterizedLeavesDropsWholeChildListOnlyWhenNoneCarryInfo(t *testing.T) {
	product := recipe.NewProduct("prod-compound")
	product.Ingredients = []*recipe.Node{
		{
			ID: "en:seasoning-mix",
			Sub: []*recipe.Node{
				leaf("en:unnamed-spice-a"),
				leaf("en:unnamed-spice-b"),
			},
		},
		{ID: "en:salt", Percent: pct(100)},
	}
	tables := characterizedTables("en:salt")

	// Disable unknown-ingredient removal (step 4) so these undeclared,
	// untaxonomized children reach step 5 intact: this isolates the
	// whole-child-list drop from step 4's separate leaf-by-leaf removal.
	params := config.Defaults()
	params.IgnoreUnknownIngredients = false

	out, err := Run(product, tables, params)
	require.NoError(t, err)

	var seasoning *recipe.Node
	for _, n := range out.Product.Ingredients {
		if n.ID == "en:seasoning-mix" {
			seasoning = n
		}
	}
	require.NotNil(t, seasoning, "seasoning-mix should survive as a bare leaf, not be removed entirely")
	assert.Nil(t, seasoning.Sub)

	found := false
	for _, w := range out.Warnings {
		if w.Code == "uncharacterized_subingredients_dropped" {
			found = true
		}
	}
	assert.True(t, found)
}

// When at least one child carries information (here, a declared percentage),
// the whole-child-list drop must NOT fire and that informative child must
// survive.
func TestPruneUncharacterizedLeavesKeepsChildrenWhenOneCarriesInfo(t *testing.T) {
	product := recipe.NewProduct("prod-compound-informative")
	product.Ingredients = []*recipe.Node{
		{
			ID: "en:seasoning-mix",
			Sub: []*recipe.Node{
				{ID: "en:unnamed-spice-a", Percent: pct(2)}, // carries a declared percentage
				leaf("en:unnamed-spice-b"),                  // unknown, undeclared: dropped earlier, at step 4
			},
		},
		{ID: "en:salt", Percent: pct(98)},
	}
	tables := characterizedTables("en:salt")

	out, err := Run(product, tables, config.Defaults())
	require.NoError(t, err)

	var seasoning *recipe.Node
	for _, n := range out.Product.Ingredients {
		if n.ID == "en:seasoning-mix" {
			seasoning = n
		}
	}
	require.NotNil(t, seasoning)
	// en:unnamed-spice-b was already removed as an unknown, undeclared
	// ingredient in step 4; en:unnamed-spice-a survives because it carries a
	// declared percentage, so the whole-child-list drop in step 5 must not
	// fire for its one remaining, informative child.
	require.Len(t, seasoning.Sub, 1)
	assert.Equal(t, "en:unnamed-spice-a", seasoning.Sub[0].ID)
}

// spec.md §8 scenario S6: top-level declared percentages that increase
// somewhere along the list disable declared-percentage pinning and emit a warning, without failing
// the whole preflight run.
func TestCheckDeclaredOrderDisablesUseDefinedPercentOnViolation(t *testing.T) {
	product := recipe.NewProduct("prod-out-of-order")
	product.Ingredients = []*recipe.Node{
		{ID: "en:flour", Percent: pct(20)},
		{ID: "en:butter", Percent: pct(25)}, // increases relative to the previous entry
	}
	tables := characterizedTables("en:flour", "en:butter")

	out, err := Run(product, tables, config.Defaults())
	require.NoError(t, err)
	assert.True(t, out.DisableUseDefinedPercent)

	found := false
	for _, w := range out.Warnings {
		if w.Code == "declared_percent_order_disabled" {
			found = true
		}
	}
	assert.True(t, found)
}

// A non-increasing declared order must NOT be flagged.
func TestCheckDeclaredOrderAllowsNonIncreasingPercentages(t *testing.T) {
	product := recipe.NewProduct("prod-in-order")
	product.Ingredients = []*recipe.Node{
		{ID: "en:flour", Percent: pct(50)},
		{ID: "en:butter", Percent: pct(30)},
		{ID: "en:sugar", Percent: pct(20)},
	}
	tables := characterizedTables("en:flour", "en:butter", "en:sugar")

	out, err := Run(product, tables, config.Defaults())
	require.NoError(t, err)
	assert.False(t, out.DisableUseDefinedPercent)
}

func TestIgnoredUnknownRatioZeroWhenNoLeaves(t *testing.T) {
	out := &Outcome{}
	assert.Equal(t, 0.0, out.IgnoredUnknownRatio())
}
