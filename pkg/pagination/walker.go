package pagination

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/crm-report/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for pagination.
var (
	pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_pages_fetched_total",
		Help: "Total pages fetched by list method",
	}, []string{"method"})

	paginationStalledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_pagination_stalled_total",
		Help: "Walks ended because the next cursor did not advance",
	}, []string{"method"})
)

// PageFunc fetches one page for a query. *client.Client's List satisfies it.
type PageFunc func(ctx context.Context, q client.Query) (client.Page, error)

// Config holds walker configuration.
type Config struct {
	// PageSize is applied as Query.Limit when the query sets none.
	// Zero leaves the server default.
	PageSize int

	// ProgressEvery logs progress every N pages.
	ProgressEvery int
}

// DefaultConfig returns the default walker configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:      0,
		ProgressEvery: 50,
	}
}

// Stats summarizes a finished walk.
type Stats struct {
	Pages   int
	Records int
	// Stalled is true when the walk ended on a non-advancing cursor.
	Stalled bool
}

// WalkError is returned when a walk aborts.
type WalkError struct {
	Method string
	// Start is the offset of the page that failed.
	Start int
	// Pages and Records count what was fetched before the failure.
	Pages   int
	Records int
	Err     error
}

func (e *WalkError) Error() string {
	return fmt.Sprintf("walk %s aborted at start=%d after %d pages: %v", e.Method, e.Start, e.Pages, e.Err)
}

func (e *WalkError) Unwrap() error {
	return e.Err
}

// Walker walks cursor-paginated queries to exhaustion.
type Walker struct {
	config Config
	logger zerolog.Logger
}

// NewWalker creates a new walker.
func NewWalker(config Config) *Walker {
	if config.PageSize < 0 {
		config.PageSize = 0
	}
	if config.ProgressEvery <= 0 {
		config.ProgressEvery = 50
	}

	return &Walker{
		config: config,
		logger: log.With().Str("component", "page-walker").Logger(),
	}
}

// Walk returns every record matched by q in server order. On failure the
// records gathered so far are discarded.
func (w *Walker) Walk(ctx context.Context, q client.Query, fetch PageFunc) ([]client.Record, error) {
	var records []client.Record

	_, err := w.Each(ctx, q, fetch, func(r client.Record) error {
		records = append(records, r)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// Each streams every record matched by q to fn, one page at a time.
// An error from fetch or fn aborts the walk with a *WalkError.
func (w *Walker) Each(ctx context.Context, q client.Query, fetch PageFunc, fn func(client.Record) error) (Stats, error) {
	began := time.Now()

	if q.Limit == 0 && w.config.PageSize > 0 {
		q.Limit = w.config.PageSize
	}

	var stats Stats
	start := q.Start

	fail := func(err error) (Stats, error) {
		w.logger.Warn().
			Err(err).
			Str("method", q.Method).
			Int("start", start).
			Int("pages", stats.Pages).
			Msg("Walk aborted")
		return stats, &WalkError{
			Method:  q.Method,
			Start:   start,
			Pages:   stats.Pages,
			Records: stats.Records,
			Err:     err,
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		page, err := fetch(ctx, q.WithStart(start))
		if err != nil {
			return fail(err)
		}

		stats.Pages++
		pagesFetchedTotal.WithLabelValues(q.Method).Inc()

		for _, record := range page.Records {
			if err := fn(record); err != nil {
				return fail(err)
			}
			stats.Records++
		}

		if stats.Pages%w.config.ProgressEvery == 0 {
			evt := w.logger.Info().
				Str("method", q.Method).
				Int("pages", stats.Pages).
				Int("records", stats.Records)
			if page.Total != nil {
				evt = evt.Int("total", *page.Total)
			}
			evt.Msg("Walk progress")
		}

		if !page.HasNext() {
			break
		}

		if page.Next <= start {
			w.logger.Warn().
				Str("method", q.Method).
				Int("start", start).
				Int("next", page.Next).
				Msg("Cursor did not advance, ending walk")
			paginationStalledTotal.WithLabelValues(q.Method).Inc()
			stats.Stalled = true
			break
		}

		start = page.Next
	}

	w.logger.Debug().
		Str("method", q.Method).
		Int("pages", stats.Pages).
		Int("records", stats.Records).
		Bool("stalled", stats.Stalled).
		Dur("duration", time.Since(began)).
		Msg("Walk complete")

	return stats, nil
}
