package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "link_grader"

// Metrics holds the run counters on a private registry so tests can build
// as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	Posts          prometheus.Counter
	Links          prometheus.Counter
	ScrapeFailures *prometheus.CounterVec
	JudgeFailures  *prometheus.CounterVec
	JudgeLatency   prometheus.Histogram
	OverallScore   prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Posts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_processed_total",
			Help:      "Blog posts whose outbound links were processed.",
		}),
		Links: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_judged_total",
			Help:      "Outbound links handed to the judge.",
		}),
		ScrapeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scrape_failures_total",
			Help:      "Outbound links whose page could not be scraped.",
		}, []string{"stage"}),
		JudgeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "judge_failures_total",
			Help:      "Judge calls that failed, by reason.",
		}, []string{"reason"}),
		JudgeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "judge_duration_seconds",
			Help:      "Duration of judge calls.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
		OverallScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "overall_score",
			Help:      "Overall score of judged links.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
	}

	m.registry.MustRegister(
		m.Posts,
		m.Links,
		m.ScrapeFailures,
		m.JudgeFailures,
		m.JudgeLatency,
		m.OverallScore,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server stopped", "error", err)
		}
	}()
}
