package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fieldbus-tools/vibro-sentinel/internal/logger"
)

// Metrics holds the instrumentation shared by both daemons. Label values
// keep the metric set small and stable: channels and outputs come from the
// configuration, not from runtime data.
type Metrics struct {
	registry *prometheus.Registry

	Ticks           *prometheus.CounterVec
	TickDuration    *prometheus.HistogramVec
	RegisterReads   *prometheus.CounterVec
	RegisterWrites  *prometheus.CounterVec
	TransportErrors *prometheus.CounterVec
	CommFault       *prometheus.GaugeVec
	FaultLevel      *prometheus.GaugeVec
	PublishErrors   prometheus.Counter
	StaleReads      prometheus.Counter
}

// New builds the metric set on its own registry so tests can instantiate it
// freely.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vibro_ticks_total",
			Help: "Scheduler ticks, by daemon and result.",
		}, []string{"daemon", "result"}),
		TickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vibro_tick_duration_seconds",
			Help:    "Wall time spent inside one scheduler tick.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"daemon"}),
		RegisterReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vibro_register_reads_total",
			Help: "Holding register reads, by channel and result.",
		}, []string{"channel", "result"}),
		RegisterWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vibro_register_writes_total",
			Help: "Alarm register writes, by output and result.",
		}, []string{"output", "result"}),
		TransportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vibro_transport_errors_total",
			Help: "Bus transport failures, by kind.",
		}, []string{"kind"}),
		CommFault: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vibro_comm_fault",
			Help: "Whether a channel is currently in communication fault.",
		}, []string{"channel"}),
		FaultLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vibro_fault_level",
			Help: "Current fault level per channel (0=normal .. 4=comm fault).",
		}, []string{"channel"}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vibro_state_publish_errors_total",
			Help: "Failed fault-state publications.",
		}),
		StaleReads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vibro_state_stale_reads_total",
			Help: "Fault-state reads that returned a stale record.",
		}),
	}

	m.registry.MustRegister(
		m.Ticks,
		m.TickDuration,
		m.RegisterReads,
		m.RegisterWrites,
		m.TransportErrors,
		m.CommFault,
		m.FaultLevel,
		m.PublishErrors,
		m.StaleReads,
	)

	return m
}

// Serve exposes the registry on address until ctx is canceled. An empty
// address disables the endpoint. The server's lifecycle errors are logged,
// not returned: metrics must never take a daemon down.
func (m *Metrics) Serve(ctx context.Context, address string) {
	if address == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorKV(ctx, "metrics server exited", "error", err)
		}
	}()
}
