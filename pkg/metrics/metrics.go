package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"spbridge/pkg/logger"
)

var (
	CallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spbridge_calls_total",
			Help: "Total number of bridged calls by outcome",
		},
		[]string{"outcome"},
	)

	CallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spbridge_call_duration_seconds",
			Help:    "Duration of bridged calls, including copy-back",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	CopyBackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spbridge_copyback_total",
			Help: "Copy-back writes by value kind (skipped writes are counted as 'skipped')",
		},
		[]string{"kind"},
	)

	PushErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spbridge_push_errors_total",
			Help: "Rejected parameter pushes by error code",
		},
		[]string{"code"},
	)
)

// Outcome labels
const (
	OutcomeCompleted = "completed"
	OutcomeAborted   = "aborted"
)

// RouterConfig tunes the metrics endpoint. The zero value serves without rate
// limiting or CORS headers.
type RouterConfig struct {
	RateLimitRequests int           // per client IP and window; 0 disables
	RateLimitWindow   time.Duration // defaults to one minute
	AllowedOrigins    []string      // CORS origins for browser dashboards
}

// Router exposes /metrics and a liveness probe.
func Router(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger("/healthz"))

	if cfg.RateLimitRequests > 0 {
		window := cfg.RateLimitWindow
		if window == 0 {
			window = time.Minute
		}
		r.Use(httprate.LimitByIP(cfg.RateLimitRequests, window))
	}

	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Accept"},
		}))
	}

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return r
}
