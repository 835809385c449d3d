package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type handler struct {
	reports ReportBuilder
	redis   Pinger
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (h *handler) ready(w http.ResponseWriter, r *http.Request) {
	if h.redis == nil {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "READY")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.redis.Ping(ctx); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("redis not ready")
		http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "READY")
}

// report builds a fresh report. Partial reports are still 200; failed
// aggregates are listed under "errors".
func (h *handler) report(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	rep := h.reports.Build(r.Context())

	body, err := json.Marshal(rep)
	if err != nil {
		logger.Error().Err(err).Msg("failed to encode report")
		http.Error(w, "failed to encode report", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if len(rep.Errors()) > 0 {
		w.Header().Set("X-Report-Partial", "true")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		logger.Error().Err(err).Msg("failed to write report")
	}
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// RedisPinger adapts a Redis client for the readiness check.
func RedisPinger(client *redis.Client) Pinger {
	return redisPinger{client: client}
}
