// Package metrics exposes Prometheus collectors for the HTTP surface and the
// search site.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	searchPaceDelaySeconds     *prometheus.HistogramVec
	siteProbesTotal            *prometheus.CounterVec
	submissionsTotal           *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arb_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arb_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		searchPaceDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arb_search_pace_delay_seconds",
				Help:    "Time spent waiting for the search pacer before a lookup.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		siteProbesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arb_site_probes_total",
				Help: "Reachability probes of the appeals site, labeled by result.",
			},
			[]string{"site", "result"},
		)

		submissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arb_submissions_total",
				Help: "Batch submissions, labeled by result.",
			},
			[]string{"result"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObservePaceDelay records how long a lookup waited on the pacer.
func ObservePaceDelay(site string, duration time.Duration) {
	Init()
	searchPaceDelaySeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}

// ObserveProbe counts a site probe. err nil counts as "up".
func ObserveProbe(site string, err error) {
	Init()
	result := "up"
	if err != nil {
		result = "down"
	}
	siteProbesTotal.WithLabelValues(SanitizeSite(site), result).Inc()
}

// ObserveSubmission counts a batch submission by result: accepted, busy,
// invalid or error.
func ObserveSubmission(result string) {
	Init()
	submissionsTotal.WithLabelValues(result).Inc()
}
