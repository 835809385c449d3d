package aggregate

import (
	"context"
	"math"

	"github.com/Sternrassler/crm-report/pkg/client"
	"github.com/Sternrassler/crm-report/pkg/pagination"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultPageSize is the page size requested from crm.item.list.
const DefaultPageSize = 1000

// FieldAccumulator sums one numeric field across a paginated item collection.
type FieldAccumulator struct {
	walker   *pagination.Walker
	pageSize int
	logger   zerolog.Logger
}

// NewFieldAccumulator creates an accumulator walking with walker and
// requesting pageSize items per page.
func NewFieldAccumulator(walker *pagination.Walker, pageSize int) *FieldAccumulator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &FieldAccumulator{
		walker:   walker,
		pageSize: pageSize,
		logger:   log.With().Str("component", "field-accumulator").Logger(),
	}
}

// Sum walks every item of entityTypeID and adds up Coerce(item[field]).
// Items without the field contribute 0. The walk ends only on the
// cursor, whatever page size the server actually honors.
func (a *FieldAccumulator) Sum(ctx context.Context, entityTypeID int, field string, fetch pagination.PageFunc) (int64, error) {
	q := client.Query{
		Method:       "crm.item.list",
		EntityTypeID: entityTypeID,
		Select:       []string{field},
		Limit:        a.pageSize,
		ResultKey:    "items",
	}

	var sum int64
	var missing int

	stats, err := a.walker.Each(ctx, q, fetch, func(r client.Record) error {
		v, ok := r[field]
		if !ok {
			missing++
			return nil
		}
		n := Coerce(v)
		if (n > 0 && sum > math.MaxInt64-n) || (n < 0 && sum < math.MinInt64-n) {
			return &client.ValidationError{Method: q.Method, Field: field, Value: "sum overflows int64"}
		}
		sum += n
		return nil
	})
	if err != nil {
		return 0, err
	}

	a.logger.Info().
		Int("entity_type_id", entityTypeID).
		Str("field", field).
		Int("items", stats.Records).
		Int("missing", missing).
		Int64("sum", sum).
		Msg("Field sum complete")

	return sum, nil
}
