// Package telemetry exposes run progress as Prometheus metrics.
package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/torosent/breakpoint/internal/invoker"
	"github.com/torosent/breakpoint/internal/runner"
)

const namespace = "breakpoint"

// Exporter records runner events into its own registry. It implements
// runner.Observer.
type Exporter struct {
	registry *prometheus.Registry

	outcomes        *prometheus.CounterVec
	statusCodes     *prometheus.CounterVec
	latency         prometheus.Histogram
	stageIndex      prometheus.Gauge
	targetRate      prometheus.Gauge
	concurrency     prometheus.Gauge
	peakInFlight    prometheus.Gauge
	classifications *prometheus.CounterVec
	orphans         prometheus.Counter
}

func NewExporter() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outcomes_total",
				Help:      "Completed calls by outcome status.",
			},
			[]string{"status"},
		),
		statusCodes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "responses_total",
				Help:      "Completed HTTP responses by status code.",
			},
			[]string{"code"},
		),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Latency of completed calls in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
		stageIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_index",
			Help:      "Index of the stage currently running.",
		}),
		targetRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_target_rate",
			Help:      "Target request rate of the current stage.",
		}),
		concurrency: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_concurrency_limit",
			Help:      "Concurrency limit of the current stage.",
		}),
		peakInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_peak_in_flight",
			Help:      "Peak in-flight calls of the last completed stage.",
		}),
		classifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_classifications_total",
				Help:      "Completed stages by classification.",
			},
			[]string{"classification"},
		),
		orphans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphaned_outcomes_total",
			Help:      "Outcomes that completed after their stage was sealed.",
		}),
	}
	e.registry.MustRegister(
		e.outcomes,
		e.statusCodes,
		e.latency,
		e.stageIndex,
		e.targetRate,
		e.concurrency,
		e.peakInFlight,
		e.classifications,
		e.orphans,
	)
	return e
}

// Registry returns the registry holding the exporter's collectors.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the exporter's registry in the Prometheus text format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

func (e *Exporter) StageStarted(stage runner.LoadStage) {
	e.stageIndex.Set(float64(stage.Index))
	e.targetRate.Set(stage.TargetRate)
	e.concurrency.Set(float64(stage.ConcurrencyLimit))
}

func (e *Exporter) OutcomeRecorded(_ runner.LoadStage, out invoker.Outcome) {
	e.outcomes.WithLabelValues(string(out.Status)).Inc()
	if out.StatusCode > 0 {
		e.statusCodes.WithLabelValues(strconv.Itoa(out.StatusCode)).Inc()
	}
	e.latency.Observe(out.Latency.Seconds())
}

func (e *Exporter) StageCompleted(rec runner.StageRecord) {
	class := string(rec.Assessment.Classification)
	if rec.Interrupted {
		class = "interrupted"
	}
	e.classifications.WithLabelValues(class).Inc()
	e.peakInFlight.Set(float64(rec.PeakInFlight))
	e.orphans.Add(float64(rec.Orphaned))
}

// Server serves /metrics for the lifetime of a run.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger *zap.Logger
	errc   chan error
}

// Serve starts an HTTP server on addr exposing the exporter at /metrics.
func Serve(addr string, e *Exporter, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	s := &Server{
		srv:    &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:     ln,
		logger: logger,
		errc:   make(chan error, 1),
	}
	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.errc <- err
	}()
	logger.Info("metrics endpoint listening", zap.String("addr", s.Addr()))
	return s, nil
}

// Addr is the address the server is bound to.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops the server, waiting for active scrapes up to ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return err
	}
	return <-s.errc
}
