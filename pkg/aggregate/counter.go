package aggregate

import (
	"context"

	"github.com/Sternrassler/crm-report/pkg/client"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// CountFunc returns the number of records in one category.
type CountFunc func(ctx context.Context, categoryID int) (int, error)

// CategoryCounts is the outcome of counting a catalog.
type CategoryCounts struct {
	// ByName maps display name to count for categories that succeeded.
	ByName map[string]int

	// Failed maps display name to the error of categories that did not.
	Failed map[string]error

	// Duplicates lists categories skipped because an earlier catalog
	// entry already used their display name.
	Duplicates []client.Category
}

// Get returns the count for name, or 0 when the name is absent or failed.
func (c CategoryCounts) Get(name string) int {
	return c.ByName[name]
}

// Err returns the failure recorded for name, if any.
func (c CategoryCounts) Err(name string) error {
	return c.Failed[name]
}

// CategoryCounter issues one count query per catalog category.
type CategoryCounter struct {
	concurrency int
	logger      zerolog.Logger
}

// NewCategoryCounter creates a counter running at most concurrency
// queries at once. Values below 1 mean sequential.
func NewCategoryCounter(concurrency int) *CategoryCounter {
	if concurrency < 1 {
		concurrency = 1
	}
	return &CategoryCounter{
		concurrency: concurrency,
		logger:      log.With().Str("component", "category-counter").Logger(),
	}
}

// Count queries every category of catalog exactly once. A failed category
// is recorded in Failed and never affects the others. When two categories
// share a display name the first in catalog order wins.
func (c *CategoryCounter) Count(ctx context.Context, catalog []client.Category, count CountFunc) CategoryCounts {
	type outcome struct {
		n   int
		err error
	}

	outcomes := make([]outcome, len(catalog))

	var g errgroup.Group
	g.SetLimit(c.concurrency)

	for i, category := range catalog {
		i, category := i, category
		g.Go(func() error {
			n, err := count(ctx, category.ID)
			outcomes[i] = outcome{n: n, err: err}
			return nil
		})
	}
	_ = g.Wait()

	result := CategoryCounts{
		ByName: make(map[string]int, len(catalog)),
		Failed: make(map[string]error),
	}
	seen := make(map[string]bool, len(catalog))

	for i, category := range catalog {
		if seen[category.Name] {
			c.logger.Warn().
				Int("category_id", category.ID).
				Str("name", category.Name).
				Msg("Duplicate category name, keeping the first")
			result.Duplicates = append(result.Duplicates, category)
			continue
		}
		seen[category.Name] = true

		if err := outcomes[i].err; err != nil {
			c.logger.Warn().
				Err(err).
				Int("category_id", category.ID).
				Str("name", category.Name).
				Msg("Category count failed")
			result.Failed[category.Name] = err
			continue
		}

		result.ByName[category.Name] = outcomes[i].n
	}

	return result
}
