// Package observability — metrics.go
//
// Prometheus metrics for the alarm processing core.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: the configured address; the default is loopback-only.
//
// Metric naming convention: alarmcore_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control:
//   - The only label is transition, a fixed set of 3 values.
//   - Alarm key (source, alarm_type) is NOT used as a label (unbounded cardinality).
//   - Per-key state is exposed via the operator control plane, not Prometheus.

package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alarmcore/alarmcore/internal/model"
)

// Metrics holds all Prometheus metric descriptors for the alarm core.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Alarm state ──────────────────────────────────────────────────────────

	// AlarmStatesTotal is the lifetime count of distinct alarm keys ever raised.
	AlarmStatesTotal prometheus.Gauge

	// AlarmStatesActive is the current number of active (raised, unresolved) alarms.
	AlarmStatesActive prometheus.Gauge

	// AlarmEventsTotal counts lifecycle transitions published on the event bus.
	// Labels: transition (RAISED, UPDATED, CLEARED)
	AlarmEventsTotal *prometheus.CounterVec

	// ─── Queues ───────────────────────────────────────────────────────────────

	// ReadingsDroppedTotal tracks the cumulative count of readings dropped
	// on readings-queue overflow (counted by the transport decoder).
	ReadingsDroppedTotal prometheus.Gauge

	// NotificationsDroppedTotal tracks the store's cumulative
	// notifications-dropped count.
	NotificationsDroppedTotal prometheus.Gauge

	// ReadingsQueueDepth is the current depth of the decoder-to-worker reading queue.
	ReadingsQueueDepth prometheus.Gauge

	// ─── Criteria ─────────────────────────────────────────────────────────────

	// CriteriaErrorsTotal tracks the store's cumulative criterion evaluation
	// failure count.
	CriteriaErrorsTotal prometheus.Gauge

	// ─── Transport ────────────────────────────────────────────────────────────

	// TransportSocketErrorsTotal tracks the decoder's cumulative connect/read
	// failure count.
	TransportSocketErrorsTotal prometheus.Gauge

	// TransportParseErrorsTotal tracks the decoder's cumulative malformed-frame count.
	TransportParseErrorsTotal prometheus.Gauge

	// ─── Agent ────────────────────────────────────────────────────────────────

	// AgentUptimeSeconds is the number of seconds since agent start.
	AgentUptimeSeconds prometheus.Gauge

	// startTime records when the agent started (for uptime calculation).
	startTime time.Time
}

// NewMetrics creates and registers all alarm-core Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		AlarmStatesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "alarmcore",
			Subsystem: "alarm",
			Name:      "states_total",
			Help:      "Lifetime count of distinct alarm keys ever raised.",
		}),

		AlarmStatesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "alarmcore",
			Subsystem: "alarm",
			Name:      "states_active",
			Help:      "Current number of active (raised, unresolved) alarms.",
		}),

		AlarmEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alarmcore",
			Subsystem: "alarm",
			Name:      "events_total",
			Help:      "Total alarm lifecycle transitions, by transition kind.",
		}, []string{"transition"}),

		ReadingsDroppedTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "alarmcore",
			Subsystem: "readings",
			Name:      "dropped_total",
			Help:      "Total readings dropped due to queue overflow.",
		}),

		NotificationsDroppedTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "alarmcore",
			Subsystem: "notifications",
			Name:      "dropped_total",
			Help:      "Total notification payloads dropped, queued or in delivery.",
		}),

		ReadingsQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "alarmcore",
			Subsystem: "readings",
			Name:      "queue_depth",
			Help:      "Current depth of the decoder-to-worker reading queue.",
		}),

		CriteriaErrorsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "alarmcore",
			Subsystem: "criteria",
			Name:      "errors_total",
			Help:      "Total criterion evaluation failures.",
		}),

		TransportSocketErrorsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "alarmcore",
			Subsystem: "transport",
			Name:      "socket_errors_total",
			Help:      "Total connect or read failures on the transport decoder's TCP client.",
		}),

		TransportParseErrorsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "alarmcore",
			Subsystem: "transport",
			Name:      "parse_errors_total",
			Help:      "Total malformed NDJSON frames discarded by the transport decoder.",
		}),

		AgentUptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "alarmcore",
			Subsystem: "agent",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the agent started.",
		}),
	}

	reg.MustRegister(
		m.AlarmStatesTotal,
		m.AlarmStatesActive,
		m.AlarmEventsTotal,
		m.ReadingsDroppedTotal,
		m.NotificationsDroppedTotal,
		m.ReadingsQueueDepth,
		m.CriteriaErrorsTotal,
		m.TransportSocketErrorsTotal,
		m.TransportParseErrorsTotal,
		m.AgentUptimeSeconds,
		// Standard Go runtime metrics.
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// RecordAlarmEvent increments the per-transition event counter by one, at
// the moment an event is published on the bus.
func (m *Metrics) RecordAlarmEvent(t model.Transition) {
	m.AlarmEventsTotal.WithLabelValues(t.String()).Inc()
}

// ObserveStoreCounters syncs the gauges sourced from store state (alarm
// totals and the drop/error counters) to a counters snapshot. Called
// periodically from the same poll loop as the uptime gauge.
func (m *Metrics) ObserveStoreCounters(c model.Counters) {
	m.AlarmStatesTotal.Set(float64(c.AlarmStatesTotal))
	m.AlarmStatesActive.Set(float64(c.AlarmStatesActive))
	m.ReadingsDroppedTotal.Set(float64(c.ReadingsDroppedTotal))
	m.NotificationsDroppedTotal.Set(float64(c.NotificationsDroppedTotal))
	m.CriteriaErrorsTotal.Set(float64(c.CriteriaErrorsTotal))
}

// ObserveTransportCounters syncs the transport error gauges to a decoder
// counters snapshot.
func (m *Metrics) ObserveTransportCounters(socketErrors, parseErrors uint64) {
	m.TransportSocketErrorsTotal.Set(float64(socketErrors))
	m.TransportParseErrorsTotal.Set(float64(parseErrors))
}

// SetReadingsQueueDepth updates the readings queue depth gauge.
func (m *Metrics) SetReadingsQueueDepth(depth int) {
	m.ReadingsQueueDepth.Set(float64(depth))
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given address.
// Blocks until ctx is cancelled or the server fails.
// The server binds to addr (e.g., "127.0.0.1:9091") and serves GET /metrics.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

// updateUptime periodically updates the AgentUptimeSeconds gauge.
func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.AgentUptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
