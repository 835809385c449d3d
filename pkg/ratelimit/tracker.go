package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for operating-time tracking.
var (
	operatingSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crm_bitrix_operating_seconds",
		Help: "Operating time consumed in the current Bitrix24 window by method",
	}, []string{"method"})

	operatingBlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_bitrix_operating_blocks_total",
		Help: "Total number of requests refused due to critical operating time",
	}, []string{"method"})
)

// Tracker keeps per-method operating state in Redis and gates requests.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewTracker creates a new operating-time tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
	}
}

func redisKey(method string) string {
	return RedisKeyPrefix + method
}

// GetState retrieves the state for method. A method without recorded
// state is reported healthy with an empty budget.
func (t *Tracker) GetState(ctx context.Context, method string) (*OperatingState, error) {
	fields, err := t.redis.HGetAll(ctx, redisKey(method)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get operating state: %w", err)
	}

	if len(fields) == 0 {
		t.logger.Debug().Str("method", method).Msg("No operating state in Redis, assuming healthy")
		return &OperatingState{
			Method:     method,
			LastUpdate: time.Now(),
			IsHealthy:  true,
		}, nil
	}

	operating, err := strconv.ParseFloat(fields[fieldOperating], 64)
	if err != nil {
		return nil, fmt.Errorf("parse operating: %w", err)
	}

	resetAt, err := strconv.ParseInt(fields[fieldResetAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse reset_at: %w", err)
	}

	var lastUpdate time.Time
	if raw := fields[fieldLastUpdate]; raw != "" {
		if lastUpdate, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return nil, fmt.Errorf("parse last_update: %w", err)
		}
	}

	state := &OperatingState{
		Method:     method,
		Operating:  operating,
		ResetAt:    time.Unix(resetAt, 0),
		LastUpdate: lastUpdate,
	}
	state.UpdateHealth()

	return state, nil
}

// Update records the timing block of a response for method.
func (t *Tracker) Update(ctx context.Context, method string, timing Timing) error {
	if timing.OperatingResetAt <= 0 {
		// Portals without operating limits omit the block.
		return nil
	}

	now := time.Now()
	state := &OperatingState{
		Method:     method,
		Operating:  timing.Operating,
		ResetAt:    time.Unix(timing.OperatingResetAt, 0),
		LastUpdate: now,
	}
	state.UpdateHealth()

	key := redisKey(method)
	pipe := t.redis.TxPipeline()
	pipe.HSet(ctx, key,
		fieldOperating, strconv.FormatFloat(state.Operating, 'f', -1, 64),
		fieldResetAt, strconv.FormatInt(timing.OperatingResetAt, 10),
		fieldLastUpdate, now.Format(time.RFC3339Nano),
	)
	pipe.ExpireAt(ctx, key, state.ResetAt)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store operating state in redis: %w", err)
	}

	operatingSeconds.WithLabelValues(method).Set(state.Operating)

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Error().
			Str("method", method).
			Float64("operating", state.Operating).
			Time("reset_at", state.ResetAt).
			Msg("Operating time CRITICAL - requests will be blocked")
	case state.NeedsWarning():
		t.logger.Warn().
			Str("method", method).
			Float64("operating", state.Operating).
			Time("reset_at", state.ResetAt).
			Msg("Operating time WARNING")
	default:
		t.logger.Debug().
			Str("method", method).
			Float64("operating", state.Operating).
			Msg("Operating state updated")
	}

	return nil
}

// ShouldAllowRequest reports whether a request for method may be sent.
// It never waits; a refused request is left to the caller.
func (t *Tracker) ShouldAllowRequest(ctx context.Context, method string) (bool, error) {
	state, err := t.GetState(ctx, method)
	if err != nil {
		return false, fmt.Errorf("get operating state: %w", err)
	}

	if state.NeedsCriticalBlock() {
		t.logger.Error().
			Str("method", method).
			Float64("operating", state.Operating).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Operating time critical - blocking request")

		operatingBlocksTotal.WithLabelValues(method).Inc()
		return false, nil
	}

	return true, nil
}
