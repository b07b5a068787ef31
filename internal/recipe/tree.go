// Package recipe holds the ingredient-tree data model (spec.md §3) and the
// graph utilities every other core component builds on: leaf enumeration,
// node individualization, flattening, and recipe-level nutritional
// aggregation.
package recipe

import "strings"

// PercentType is the semantics assigned to a compound node's children
// percentages by preflight (spec.md §4.1 step 6).
type PercentType string

const (
	PercentProduct   PercentType = "product"
	PercentParent    PercentType = "parent"
	PercentUndefined PercentType = "undefined"
)

// Node is one ingredient in the (possibly nested) ingredient tree.
type Node struct {
	ID          string
	Percent     *float64 // declared percentage, 0..100
	Sub         []*Node  // ordered sub-ingredients, nil for a leaf
	Rank        *int     // position in the top-level sequence, 1-based
	PercentType PercentType
}

// IsLeaf reports whether this node has no sub-ingredients.
func (n *Node) IsLeaf() bool {
	return len(n.Sub) == 0
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := &Node{ID: n.ID, PercentType: n.PercentType}
	if n.Percent != nil {
		p := *n.Percent
		c.Percent = &p
	}
	if n.Rank != nil {
		r := *n.Rank
		c.Rank = &r
	}
	for _, s := range n.Sub {
		c.Sub = append(c.Sub, s.Clone())
	}
	return c
}

// Product is one packaged food product (spec.md §3).
type Product struct {
	ID              string
	Ingredients     []*Node
	Nutriments      map[string]float64 // keys like "proteins_100g"
	CategoriesTags  []string           // most general first
	DataQualityTags map[string]struct{}
}

// NewProduct builds a Product with initialized maps, for callers
// constructing one programmatically (e.g. tests, the HTTP decoder).
func NewProduct(id string) *Product {
	return &Product{
		ID:              id,
		Nutriments:      make(map[string]float64),
		DataQualityTags: make(map[string]struct{}),
	}
}

// HasDataQualityTag reports whether tag is present on the product.
func (p *Product) HasDataQualityTag(tag string) bool {
	_, ok := p.DataQualityTags[tag]
	return ok
}

// Clone returns a deep copy of p. preflight.Run clones the caller's
// product on entry so all preflight mutations (spec.md §3
// "Lifecycles") happen on the clone.
func (p *Product) Clone() *Product {
	c := &Product{
		ID:             p.ID,
		CategoriesTags: append([]string(nil), p.CategoriesTags...),
	}
	c.Nutriments = make(map[string]float64, len(p.Nutriments))
	for k, v := range p.Nutriments {
		c.Nutriments[k] = v
	}
	c.DataQualityTags = make(map[string]struct{}, len(p.DataQualityTags))
	for k := range p.DataQualityTags {
		c.DataQualityTags[k] = struct{}{}
	}
	for _, n := range p.Ingredients {
		c.Ingredients = append(c.Ingredients, n.Clone())
	}
	return c
}

// Leaves returns every leaf node of the ingredient tree, in tree-walk order.
func Leaves(nodes []*Node) []*Node {
	var out []*Node
	for _, n := range nodes {
		if n.IsLeaf() {
			out = append(out, n)
		} else {
			out = append(out, Leaves(n.Sub)...)
		}
	}
	return out
}

// Flat returns every node of the tree (compound and leaf), in tree-walk
// order, mirroring the original's flat_ingredients_list.
func Flat(nodes []*Node) []*Node {
	var out []*Node
	for _, n := range nodes {
		out = append(out, n)
		out = append(out, Flat(n.Sub)...)
	}
	return out
}

// Walk calls fn for every node in the tree, depth-first (each node before
// its sub-ingredients), passing the node, the sibling slice it belongs to
// and its index in that slice.
func Walk(nodes []*Node, fn func(n *Node, siblings []*Node, index int)) {
	for i, n := range nodes {
		fn(n, nodes, i)
		Walk(n.Sub, fn)
	}
}

// Individualize appends '*' suffixes to duplicate ingredient ids so every
// node in the tree has a unique id (spec.md §9 "Graph individualization").
// It mutates p.Ingredients in place.
func Individualize(p *Product) {
	seen := make(map[string]struct{})
	individualize(p.Ingredients, seen)
}

func individualize(nodes []*Node, seen map[string]struct{}) {
	for _, n := range nodes {
		for {
			if _, ok := seen[n.ID]; !ok {
				break
			}
			n.ID += "*"
		}
		seen[n.ID] = struct{}{}
		individualize(n.Sub, seen)
	}
}

// OriginalID strips the '*' suffix added by Individualize, recovering the
// ingredient id masses should be summed back onto.
func OriginalID(individualizedID string) string {
	return strings.Trim(individualizedID, "*")
}

// Range is a closed percentage interval, used when a parent's own declared
// percentage is itself uncertain (e.g. bounded only by natural bounds).
type Range struct {
	Min float64
	Max float64
}

// NaturalBounds returns the theoretical [lower, upper] percentage bounds of
// an ingredient at 1-based rank among nbIngredients listed in decreasing
// proportion order (spec.md GLOSSARY "Natural bounds").
func NaturalBounds(rank, nbIngredients int) (lower, upper float64) {
	if rank == 1 {
		return 100.0 / float64(nbIngredients), 100.0
	}
	return 0.0, 100.0 / float64(rank)
}
