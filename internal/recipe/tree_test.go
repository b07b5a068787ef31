package recipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndividualizeAppendsStarsOnDuplicates(t *testing.T) {
	p := NewProduct("test-product")
	p.Ingredients = []*Node{
		{ID: "en:water"},
		{ID: "en:sugar"},
		{ID: "en:water"},
		{ID: "en:flour", Sub: []*Node{
			{ID: "en:water"},
		}},
	}

	Individualize(p)

	ids := make([]string, 0)
	Walk(p.Ingredients, func(n *Node, _ []*Node, _ int) {
		ids = append(ids, n.ID)
	})

	assert.Equal(t, []string{"en:water", "en:sugar", "en:water*", "en:flour", "en:water**"}, ids)
}

func TestOriginalIDStripsStars(t *testing.T) {
	assert.Equal(t, "en:water", OriginalID("en:water"))
	assert.Equal(t, "en:water", OriginalID("en:water*"))
	assert.Equal(t, "en:water", OriginalID("en:water**"))
}

func TestLeavesAndFlat(t *testing.T) {
	p := NewProduct("test-product")
	p.Ingredients = []*Node{
		{ID: "en:flour", Sub: []*Node{
			{ID: "en:wheat-flour"},
			{ID: "en:rye-flour"},
		}},
		{ID: "en:water"},
	}

	leaves := Leaves(p.Ingredients)
	require.Len(t, leaves, 3)
	assert.Equal(t, "en:wheat-flour", leaves[0].ID)
	assert.Equal(t, "en:rye-flour", leaves[1].ID)
	assert.Equal(t, "en:water", leaves[2].ID)

	flat := Flat(p.Ingredients)
	assert.Len(t, flat, 4)
}

func TestNaturalBounds(t *testing.T) {
	lower, upper := NaturalBounds(1, 4)
	assert.InDelta(t, 25.0, lower, 1e-9)
	assert.InDelta(t, 100.0, upper, 1e-9)

	lower, upper = NaturalBounds(2, 4)
	assert.InDelta(t, 0.0, lower, 1e-9)
	assert.InDelta(t, 50.0, upper, 1e-9)

	lower, upper = NaturalBounds(4, 4)
	assert.InDelta(t, 0.0, lower, 1e-9)
	assert.InDelta(t, 25.0, upper, 1e-9)
}

func TestCloneIsDeep(t *testing.T) {
	pct := 42.0
	p := NewProduct("test-product")
	p.Ingredients = []*Node{{ID: "en:salt", Percent: &pct}}
	p.Nutriments["salt_100g"] = 1.2

	c := p.Clone()
	*c.Ingredients[0].Percent = 99
	c.Nutriments["salt_100g"] = 9

	assert.InDelta(t, 42.0, *p.Ingredients[0].Percent, 1e-9)
	assert.InDelta(t, 1.2, p.Nutriments["salt_100g"], 1e-9)
}
