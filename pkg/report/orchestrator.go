package report

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/crm-report/pkg/aggregate"
	"github.com/Sternrassler/crm-report/pkg/client"
	"github.com/Sternrassler/crm-report/pkg/pagination"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Prometheus metrics for report builds.
var (
	buildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crm_report_build_duration_seconds",
		Help:    "Report build duration in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	aggregateFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_report_aggregate_failures_total",
		Help: "Aggregates that could not be computed, by output key",
	}, []string{"aggregate"})
)

// Source is the remote CRM. *client.Client implements it.
type Source interface {
	List(ctx context.Context, q client.Query) (client.Page, error)
	Categories(ctx context.Context, entityTypeID int) ([]client.Category, error)
	CountDeals(ctx context.Context, categoryID int) (int, error)
}

// Label binds an output key to a deal category display name.
type Label struct {
	Key      string
	Category string
}

// Config holds orchestrator configuration.
type Config struct {
	// Labels are emitted in order; each maps to one category name.
	Labels []Label

	DealEntityTypeID int
	ItemEntityTypeID int

	// ScoreField is the item field summed into points_sum.
	ScoreField string

	// PageSize is requested from crm.item.list.
	PageSize int

	// Concurrency bounds parallel category count queries.
	Concurrency int

	// Timeout bounds the whole build. Zero means no extra deadline.
	Timeout time.Duration
}

// DefaultConfig returns the configuration of the production portal.
func DefaultConfig() Config {
	return Config{
		Labels: []Label{
			{Key: "count_0_hopper", Category: "Общая"},
			{Key: "count_1_hopper", Category: "Первая"},
			{Key: "count_2_hopper", Category: "Вторая"},
		},
		DealEntityTypeID: 2,
		ItemEntityTypeID: 1038,
		ScoreField:       "ufCrm6_1721814262",
		PageSize:         aggregate.DefaultPageSize,
		Concurrency:      4,
		Timeout:          5 * time.Minute,
	}
}

// Orchestrator builds reports.
type Orchestrator struct {
	source      Source
	config      Config
	walker      *pagination.Walker
	counter     *aggregate.CategoryCounter
	accumulator *aggregate.FieldAccumulator
	logger      zerolog.Logger
}

// NewOrchestrator creates an orchestrator reading from source.
func NewOrchestrator(source Source, config Config) (*Orchestrator, error) {
	if source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if config.ScoreField == "" {
		return nil, fmt.Errorf("score field is required")
	}

	seen := make(map[string]bool, len(config.Labels))
	for _, label := range config.Labels {
		if label.Key == "" {
			return nil, fmt.Errorf("label for category %q has no key", label.Category)
		}
		if label.Key == KeyContactsWithComments || label.Key == KeyPointsSum || label.Key == "errors" {
			return nil, fmt.Errorf("label key %q is reserved", label.Key)
		}
		if seen[label.Key] {
			return nil, fmt.Errorf("duplicate label key %q", label.Key)
		}
		seen[label.Key] = true
	}

	walker := pagination.NewWalker(pagination.DefaultConfig())

	return &Orchestrator{
		source:      source,
		config:      config,
		walker:      walker,
		counter:     aggregate.NewCategoryCounter(config.Concurrency),
		accumulator: aggregate.NewFieldAccumulator(walker, config.PageSize),
		logger:      log.With().Str("component", "report").Logger(),
	}, nil
}

// Build computes every aggregate. It never fails as a whole: aggregates
// that cannot be computed carry their error in the Report.
func (o *Orchestrator) Build(ctx context.Context) *Report {
	began := time.Now()

	if o.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.Timeout)
		defer cancel()
	}

	var (
		contacts Result[int]
		deals    map[string]Result[int]
		points   Result[int64]
	)

	// Tasks never return an error so one failure does not cancel the others.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		contacts = o.countContacts(gctx)
		return nil
	})
	g.Go(func() error {
		deals = o.countDeals(gctx)
		return nil
	})
	g.Go(func() error {
		points = o.sumPoints(gctx)
		return nil
	})
	_ = g.Wait()

	r := &Report{
		ContactsWithComments: contacts,
		Deals:                deals,
		Labels:               make([]string, 0, len(o.config.Labels)),
		PointsSum:            points,
		GeneratedAt:          time.Now(),
		Duration:             time.Since(began),
	}
	for _, label := range o.config.Labels {
		r.Labels = append(r.Labels, label.Key)
	}

	errs := r.Errors()
	for key, e := range errs {
		aggregateFailuresTotal.WithLabelValues(key).Inc()
		o.logger.Error().
			Str("aggregate", key).
			Str("kind", string(e.Kind)).
			Str("error", e.Message).
			Msg("Aggregate failed")
	}

	buildDuration.Observe(r.Duration.Seconds())
	o.logger.Info().
		Int("failed", len(errs)).
		Dur("duration", r.Duration).
		Msg("Report built")

	return r
}

// ContactQuery selects contacts whose comments field is non-empty.
func ContactQuery() client.Query {
	return client.Query{
		Method: "crm.contact.list",
		Filter: map[string]any{"!=COMMENTS": ""},
		Select: []string{"ID"},
	}
}

func (o *Orchestrator) countContacts(ctx context.Context) Result[int] {
	// Only the record count matters; Stats carries it.
	stats, err := o.walker.Each(ctx, ContactQuery(), o.source.List, func(client.Record) error {
		return nil
	})
	if err != nil {
		return Fail[int](err)
	}
	return OK(stats.Records)
}

func (o *Orchestrator) countDeals(ctx context.Context) map[string]Result[int] {
	out := make(map[string]Result[int], len(o.config.Labels))

	catalog, err := o.source.Categories(ctx, o.config.DealEntityTypeID)
	if err != nil {
		err = fmt.Errorf("fetch category catalog: %w", err)
		for _, label := range o.config.Labels {
			out[label.Key] = Fail[int](err)
		}
		return out
	}

	counts := o.counter.Count(ctx, catalog, o.source.CountDeals)

	for _, label := range o.config.Labels {
		if err := counts.Err(label.Category); err != nil {
			out[label.Key] = Fail[int](fmt.Errorf("count category %q: %w", label.Category, err))
			continue
		}
		if _, ok := counts.ByName[label.Category]; !ok {
			o.logger.Debug().
				Str("label", label.Key).
				Str("category", label.Category).
				Msg("Category not in catalog, reporting 0")
		}
		out[label.Key] = OK(counts.Get(label.Category))
	}

	return out
}

func (o *Orchestrator) sumPoints(ctx context.Context) Result[int64] {
	sum, err := o.accumulator.Sum(ctx, o.config.ItemEntityTypeID, o.config.ScoreField, o.source.List)
	if err != nil {
		return Fail[int64](err)
	}
	return OK(sum)
}
