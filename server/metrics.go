package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/uber-go/tally/v4"
	"github.com/uber-go/tally/v4/prometheus"
	"go.uber.org/zap"
)

type Metrics interface {
	Stop(logger *zap.Logger)

	CustomCounter(name string, tags map[string]string, delta int64)
	CustomGauge(name string, tags map[string]string, value float64)
	CustomTimer(name string, tags map[string]string, value time.Duration)
}

var _ Metrics = &LocalMetrics{}

type LocalMetrics struct {
	logger *zap.Logger

	prometheusHTTPServer *http.Server
	scope                tally.Scope
	scopeCloser          io.Closer
}

// NewLocalMetrics starts a tally root scope. When a Prometheus port is configured
// the scope reports through a Prometheus registry served over HTTP.
func NewLocalMetrics(logger, startupLogger *zap.Logger, config *Config) *LocalMetrics {
	m := &LocalMetrics{
		logger: logger.With(zap.String("system", "metrics")),
	}

	tags := map[string]string{"bot_name": config.Name}
	if config.Metrics.Namespace != "" {
		tags["namespace"] = config.Metrics.Namespace
	}

	reportingFreq := time.Duration(config.Metrics.ReportingFreqSec) * time.Second

	if config.Metrics.PrometheusPort <= 0 {
		m.scope, m.scopeCloser = tally.NewRootScope(tally.ScopeOptions{
			Prefix:   config.Metrics.Prefix,
			Tags:     tags,
			Reporter: tally.NullStatsReporter,
		}, reportingFreq)
		return m
	}

	// Runtime and process collectors sit alongside the bot's own metrics.
	registry := prom.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	reporter := prometheus.NewReporter(prometheus.Options{
		Registerer: registry,
		Gatherer:   registry,
		OnRegisterError: func(e error) {
			startupLogger.Error("Error registering Prometheus metric", zap.Error(e))
		},
	})
	m.scope, m.scopeCloser = tally.NewRootScope(tally.ScopeOptions{
		Prefix:          config.Metrics.Prefix,
		Tags:            tags,
		CachedReporter:  reporter,
		Separator:       prometheus.DefaultSeparator,
		SanitizeOptions: &prometheus.DefaultSanitizerOpts,
	}, reportingFreq)

	router := mux.NewRouter()
	router.Handle("/", reporter.HTTPHandler()).Methods(http.MethodGet)
	CORSHeaders := handlers.AllowedHeaders([]string{"Content-Type", "User-Agent"})
	CORSOrigins := handlers.AllowedOrigins([]string{"*"})
	CORSMethods := handlers.AllowedMethods([]string{http.MethodGet, http.MethodHead})
	handlerWithCORS := handlers.CORS(CORSHeaders, CORSOrigins, CORSMethods)(router)

	m.prometheusHTTPServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Metrics.PrometheusPort),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		Handler:      handlerWithCORS,
	}

	startupLogger.Info("Starting Prometheus server for metrics requests", zap.Int("port", config.Metrics.PrometheusPort))
	go func() {
		if err := m.prometheusHTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			startupLogger.Fatal("Prometheus listener failed", zap.Error(err))
		}
	}()

	return m
}

// newScopeMetrics wraps an existing scope, for tests.
func newScopeMetrics(logger *zap.Logger, scope tally.Scope) *LocalMetrics {
	return &LocalMetrics{
		logger: logger,
		scope:  scope,
	}
}

func (m *LocalMetrics) Stop(logger *zap.Logger) {
	if m.prometheusHTTPServer != nil {
		// Stop Prometheus server if one is running.
		if err := m.prometheusHTTPServer.Shutdown(context.Background()); err != nil {
			logger.Error("Error shutting down Prometheus", zap.Error(err))
		}
	}
	if m.scopeCloser != nil {
		if err := m.scopeCloser.Close(); err != nil {
			logger.Error("Error stopping metrics scope", zap.Error(err))
		}
	}
}

// CustomCounter adds the given delta to a counter with the specified name and tags.
func (m *LocalMetrics) CustomCounter(name string, tags map[string]string, delta int64) {
	scope := m.scope
	if len(tags) != 0 {
		scope = scope.Tagged(tags)
	}
	scope.Counter(name).Inc(delta)
}

// CustomGauge sets the given value to a gauge with the specified name and tags.
func (m *LocalMetrics) CustomGauge(name string, tags map[string]string, value float64) {
	scope := m.scope
	if len(tags) != 0 {
		scope = scope.Tagged(tags)
	}
	scope.Gauge(name).Update(value)
}

// CustomTimer records the given value to a timer with the specified name and tags.
func (m *LocalMetrics) CustomTimer(name string, tags map[string]string, value time.Duration) {
	scope := m.scope
	if len(tags) != 0 {
		scope = scope.Tagged(tags)
	}
	scope.Timer(name).Record(value)
}
