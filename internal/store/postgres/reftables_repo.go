// Package postgres loads the reference tables (internal/reftables) from a
// Postgres-backed reference dataset, using the same sqlx query/scan shape
// the teacher uses for its own reference-data repositories.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sony/gobreaker"

	"github.com/openfoodfacts/off-product-environmental-impact/internal/reftables"
)

// ReftablesRepo loads the static reference data a run of the estimator
// needs: the ingredient taxonomy, per-ingredient nutrition/impact records,
// the empirical percentage distribution, and the category policy tables.
type ReftablesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// NewReftablesRepo opens a connection pool against dsn and wraps every read
// in a circuit breaker so a struggling reference database fails fast
// (the load returns an error) instead of cascading failures into every
// in-flight estimate.
func NewReftablesRepo(dsn string, timeout time.Duration) (*ReftablesRepo, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to reference database: %w", err)
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "reftables-postgres",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &ReftablesRepo{db: db, timeout: timeout, breaker: cb}, nil
}

func (r *ReftablesRepo) Close() error {
	return r.db.Close()
}

type ingredientRow struct {
	ID         string `db:"id"`
	Nutriments []byte `db:"nutriments"` // JSON-encoded map[string]reftables.NutrimentRef
	Impacts    []byte `db:"impacts"`    // JSON-encoded map[string]reftables.ImpactRef
}

type percentRow struct {
	ID             string `db:"id"`
	Percent        float64 `db:"percent"`
	CategoriesTags []byte `db:"categories_tags"` // JSON-encoded []string
}

type categoryPolicyRow struct {
	Category        string  `db:"category"`
	MaxEvaporation  *float64 `db:"max_evaporation"`
	IsFermented     bool    `db:"is_fermented"`
}

// Load builds a complete Tables snapshot from the reference database.
func (r *ReftablesRepo) Load(ctx context.Context) (*reftables.Tables, error) {
	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.load(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*reftables.Tables), nil
}

func (r *ReftablesRepo) load(ctx context.Context) (*reftables.Tables, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tables := reftables.NewTables()

	var ingredientRows []ingredientRow
	if err := r.db.SelectContext(ctx, &ingredientRows,
		`SELECT id, nutriments, impacts FROM reference_ingredients`); err != nil {
		return nil, fmt.Errorf("failed to load reference ingredients: %w", err)
	}
	for _, row := range ingredientRows {
		rec := reftables.IngredientRecord{
			ID:         row.ID,
			Nutriments: make(map[string]reftables.NutrimentRef),
			Impacts:    make(map[string]reftables.ImpactRef),
		}
		if len(row.Nutriments) > 0 {
			if err := json.Unmarshal(row.Nutriments, &rec.Nutriments); err != nil {
				return nil, fmt.Errorf("failed to unmarshal nutriments for %s: %w", row.ID, err)
			}
		}
		if len(row.Impacts) > 0 {
			if err := json.Unmarshal(row.Impacts, &rec.Impacts); err != nil {
				return nil, fmt.Errorf("failed to unmarshal impacts for %s: %w", row.ID, err)
			}
		}
		tables.Ingredients[row.ID] = rec
		tables.Taxonomy[row.ID] = struct{}{}
	}

	var taxonomyIDs []string
	if err := r.db.SelectContext(ctx, &taxonomyIDs, `SELECT id FROM ingredient_taxonomy`); err != nil {
		return nil, fmt.Errorf("failed to load ingredient taxonomy: %w", err)
	}
	for _, id := range taxonomyIDs {
		tables.Taxonomy[id] = struct{}{}
	}

	var fermentationAgents []string
	if err := r.db.SelectContext(ctx, &fermentationAgents,
		`SELECT id FROM ingredient_taxonomy WHERE is_fermentation_agent`); err != nil {
		return nil, fmt.Errorf("failed to load fermentation agents: %w", err)
	}
	for _, id := range fermentationAgents {
		tables.FermentationAgents[id] = struct{}{}
	}

	var policies []categoryPolicyRow
	if err := r.db.SelectContext(ctx, &policies, `SELECT category, max_evaporation, is_fermented FROM category_policy`); err != nil {
		return nil, fmt.Errorf("failed to load category policy: %w", err)
	}
	for _, p := range policies {
		if p.IsFermented {
			tables.FermentedCategories[p.Category] = struct{}{}
		}
		if p.MaxEvaporation != nil {
			tables.HighWaterLossCategories[p.Category] = *p.MaxEvaporation
		}
	}

	var percentRows []percentRow
	if err := r.db.SelectContext(ctx, &percentRows,
		`SELECT id, percent, categories_tags FROM ingredient_percentage_observations`); err != nil {
		return nil, fmt.Errorf("failed to load percentage observations: %w", err)
	}
	for _, row := range percentRows {
		var tags []string
		if len(row.CategoriesTags) > 0 {
			if err := json.Unmarshal(row.CategoriesTags, &tags); err != nil {
				return nil, fmt.Errorf("failed to unmarshal categories for percentage sample %s: %w", row.ID, err)
			}
		}
		tables.PercentDist[row.ID] = append(tables.PercentDist[row.ID], reftables.PercentageSample{
			ID:             row.ID,
			Percent:        row.Percent,
			CategoriesTags: tags,
		})
	}

	tables.DataSources = []string{
		"reference_ingredients",
		"ingredient_taxonomy",
		"category_policy",
		"ingredient_percentage_observations",
	}

	return tables, nil
}
