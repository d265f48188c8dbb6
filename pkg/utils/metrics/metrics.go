package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/queryscribe/pkg/model"
	"github.com/m-mizutani/queryscribe/pkg/utils/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryscribe_sessions_total",
			Help: "Total number of correction sessions by terminal status.",
		},
		[]string{"status"},
	)
	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryscribe_attempts_total",
			Help: "Total number of correction attempts by outcome.",
		},
		[]string{"outcome"},
	)
	attemptsPerSession = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "queryscribe_attempts_per_session",
			Help:    "Number of attempts consumed by a session.",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 10},
		},
	)
	retrievalLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "queryscribe_retrieval_latency_ms",
			Help:    "Schema context retrieval latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
	)
	retrievalEmptyTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queryscribe_retrieval_empty_total",
			Help: "Total number of retrievals that returned no table above threshold.",
		},
	)
	indexedTables = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "queryscribe_indexed_tables",
			Help: "Number of tables in the installed schema snapshot.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		sessionsTotal,
		attemptsTotal,
		attemptsPerSession,
		retrievalLatencyMs,
		retrievalEmptyTotal,
		indexedTables,
	)
}

// ObserveSession records the terminal status and attempt usage of a session
func ObserveSession(session *model.Session) {
	if session == nil {
		return
	}
	sessionsTotal.WithLabelValues(string(session.Status)).Inc()
	attemptsPerSession.Observe(float64(len(session.History)))
}

// ObserveAttempt records outcome of one attempt. Successful attempts are labeled "success",
// failed ones are labeled by error kind.
func ObserveAttempt(attempt *model.Attempt) {
	if attempt == nil {
		return
	}
	outcome := "success"
	if attempt.Error != nil {
		outcome = string(attempt.Error.Kind)
	}
	attemptsTotal.WithLabelValues(outcome).Inc()
}

func ObserveRetrieval(elapsed time.Duration, hits int) {
	retrievalLatencyMs.Observe(float64(elapsed.Milliseconds()))
	if hits == 0 {
		retrievalEmptyTotal.Inc()
	}
}

func SetIndexedTables(n int) {
	indexedTables.Set(float64(n))
}

// Serve exposes the default registry on addr until ctx is canceled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logging.From(ctx).Warn("failed to shutdown metrics server", "error", err)
		}
	}()

	logging.From(ctx).Info("serving metrics", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return goerr.Wrap(err, "failed to serve metrics", goerr.V("addr", addr))
	}
	return nil
}
