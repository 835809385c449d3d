// Package metrics exposes the Prometheus metrics of crm-report.
//
// Metrics are declared with promauto next to the code that updates them
// (client, ratelimit, pagination, report) and land in the default registry.
// This package serves that registry and documents what is in it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all crm_* metrics are added to.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads back the metrics in Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves Gatherer in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - crm_bitrix_requests_total{method, status} (Counter): requests by REST method and HTTP status
//   - crm_bitrix_request_duration_seconds{method} (Histogram): request duration including retries
//   - crm_bitrix_errors_total{class} (Counter): errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - crm_bitrix_retries_total{error_class} (Counter): retry attempts
//   - crm_bitrix_retry_backoff_seconds{error_class} (Histogram): backoff durations
//   - crm_bitrix_retry_exhausted_total{error_class} (Counter): calls that ran out of attempts
//
// Operating Time Metrics (pkg/ratelimit):
//   - crm_bitrix_operating_seconds{method} (Gauge): operating seconds used in the current window
//   - crm_bitrix_operating_blocks_total{method} (Counter): requests refused at the critical threshold
//
// Pagination Metrics (pkg/pagination):
//   - crm_pages_fetched_total{method} (Counter): pages fetched
//   - crm_pagination_stalled_total{method} (Counter): walks ended on a non-advancing cursor
//
// Report Metrics (pkg/report):
//   - crm_report_build_duration_seconds (Histogram): full report build time
//   - crm_report_aggregate_failures_total{aggregate} (Counter): failed aggregates by output key
//
// Example Prometheus Queries:
//
//   # Request Error Rate
//   sum by (class) (rate(crm_bitrix_errors_total[5m]))
//
//   # P95 Request Latency per method
//   histogram_quantile(0.95, sum by (le, method) (rate(crm_bitrix_request_duration_seconds_bucket[5m])))
//
//   # Methods close to the operating time budget
//   crm_bitrix_operating_seconds > 360
//
//   # Reports with missing aggregates
//   increase(crm_report_aggregate_failures_total[1h]) > 0
