// Package main — cmd/alarmcore/main.go
//
// alarmcore agent entrypoint.
//
// Startup sequence:
//  1. Load and validate config from /etc/alarmcore/config.yaml.
//  2. Initialise structured logger (zap, JSON or console format per config).
//  3. Start Prometheus metrics server (127.0.0.1:9091).
//  4. Start the transport decoder (TCP client, reconnects with backoff).
//  5. Build the criteria registry from configuration.
//  6. Start the alarm worker (decoder -> store/criteria/engine -> bus).
//  7. Start the notification adapter and worker (bus -> webhook).
//  8. Start the operator control plane (if enabled).
//  9. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel root context (propagates to all goroutines).
//  2. Stop the notification adapter's bus subscription.
//  3. Wait for the alarm worker, notification worker, and operator
//     server to signal completion on a shared WaitGroup, bounded by
//     drainTimeout.
//  4. Flush logger.
//  5. Exit 0.
//
// On config validation failure: exit 1 immediately.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/alarmcore/alarmcore/internal/config"
	"github.com/alarmcore/alarmcore/internal/criteria"
	"github.com/alarmcore/alarmcore/internal/engine"
	"github.com/alarmcore/alarmcore/internal/eventbus"
	"github.com/alarmcore/alarmcore/internal/model"
	"github.com/alarmcore/alarmcore/internal/notify"
	"github.com/alarmcore/alarmcore/internal/observability"
	"github.com/alarmcore/alarmcore/internal/operator"
	"github.com/alarmcore/alarmcore/internal/store"
	"github.com/alarmcore/alarmcore/internal/transport"
	"github.com/alarmcore/alarmcore/internal/worker"
)

const drainTimeout = 2 * time.Second

func main() {
	configPath := flag.String("config", "/etc/alarmcore/config.yaml", "Path to config.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("alarmcore %s (commit=%s built=%s)\n",
			config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	// ── Step 1: Load config ───────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	// ── Step 2: Initialise logger ─────────────────────────────────────────────
	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("alarmcore starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("node_id", cfg.NodeID),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// ── Step 3: Prometheus metrics ────────────────────────────────────────────
	metrics := observability.NewMetrics()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	// ── Core state ─────────────────────────────────────────────────────────────
	st := store.New()
	for _, sc := range cfg.Sensors.SpectralConfigs {
		if sc.ReferencePeakIndex != nil {
			st.SetReferenceSpectrum(sc.Name, *sc.ReferencePeakIndex)
		}
	}

	// ── Step 4: Transport decoder ──────────────────────────────────────────────
	spectralLengths := make(map[string]int, len(cfg.Sensors.SpectralConfigs))
	for _, sc := range cfg.Sensors.SpectralConfigs {
		spectralLengths[sc.Name] = sc.Length
	}
	tc := cfg.Transport.TCPClient
	decoder := transport.NewDecoder(transport.Config{
		Host:            tc.Host,
		Port:            tc.Port,
		ConnectTimeout:  config.TimeoutDuration(tc.TimeoutS),
		ReadTimeout:     config.TimeoutDuration(tc.TimeoutS),
		MaxLineBytes:    tc.MaxLineBytes,
		BackoffInitial:  time.Duration(tc.ReconnectBackoff.InitMs) * time.Millisecond,
		BackoffCap:      time.Duration(tc.ReconnectBackoff.CapMs) * time.Millisecond,
		SpectralLengths: spectralLengths,
	}, cfg.Queues.ReadingsCapacity, log.Named("transport"))
	go decoder.Run(ctx)
	log.Info("transport decoder started", zap.String("host", tc.Host), zap.Int("port", tc.Port))

	// ── Step 5: Criteria registry ──────────────────────────────────────────────
	registry := buildRegistry(cfg, log)

	// ── Alarm engine, bus, worker ──────────────────────────────────────────────
	perRuleEps := map[string]float64{}
	eng := engine.New(st, cfg.Alarms.ValueEps, perRuleEps)
	bus := eventbus.New(cfg.Queues.NotificationsCapacity, log.Named("eventbus"))

	w := worker.New(decoder.Readings(), st, registry, eng, bus, log.Named("worker"), cfg.Queues.ReadingsCapacity)
	w.SetEventHook(func(ev model.AlarmEvent) { metrics.RecordAlarmEvent(ev.Transition) })
	if cfg.Alarms.StaleTimeoutS != nil {
		w.SetStaleTimeout(config.TimeoutDuration(*cfg.Alarms.StaleTimeoutS))
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()
	log.Info("alarm worker started")

	// ── Step 7: Notification adapter and worker ────────────────────────────────
	adapter := notify.NewAdapter(bus, st, cfg.Queues.NotificationsCapacity, log.Named("notify"))
	go adapter.Run()

	wh := cfg.Notifications.Webhook
	notifyWorker := notify.NewWorker(notify.Config{
		URL:            wh.URL,
		BearerToken:    wh.BearerToken,
		VerifyTLS:      wh.VerifyTLS,
		ConnectTimeout: config.TimeoutDuration(wh.ConnectTimeoutS),
		TotalTimeout:   config.TimeoutDuration(wh.TotalTimeoutS),
		MaxAttempts:    wh.Retries,
		BackoffInitial: time.Second,
		BackoffCap:     30 * time.Second,
	}, adapter.Queue(), st, log.Named("notify.worker"))
	wg.Add(1)
	go func() {
		defer wg.Done()
		notifyWorker.Run(ctx)
	}()
	log.Info("notification pipeline started", zap.String("webhook_url", wh.URL))

	// ── Step 8: Operator control plane ─────────────────────────────────────────
	if cfg.Operator.Enabled {
		opSrv := operator.NewServer(cfg.Operator.SocketPath, st, log.Named("operator"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := opSrv.ListenAndServe(ctx); err != nil {
				log.Error("operator server error", zap.Error(err))
			}
		}()
		log.Info("operator control plane started", zap.String("socket", cfg.Operator.SocketPath))
	} else {
		log.Info("operator control plane disabled")
	}

	// ── Metrics poll loop ──────────────────────────────────────────────────────
	wg.Add(1)
	go func() {
		defer wg.Done()
		pollMetrics(ctx, metrics, st, decoder)
	}()

	// ── Step 9: Wait for shutdown signal ───────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()
	adapter.Stop()

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		log.Info("all workers drained cleanly")
	case <-time.After(drainTimeout):
		log.Warn("drain timeout exceeded, shutting down anyway", zap.Duration("timeout", drainTimeout))
	}

	log.Info("alarmcore shutdown complete")
}

// buildRegistry constructs the criteria registry from configuration,
// registering one instance per configured sensor/pair/channel
// (SPEC_FULL.md §4.3).
func buildRegistry(cfg *config.Config, log *zap.Logger) *criteria.Registry {
	reg := criteria.NewRegistry()

	if cfg.Alarms.EnableScalarLimits {
		for _, sc := range cfg.Sensors.ScalarConfigs {
			reg.Register(&criteria.ScalarLimit{
				Sensor:    sc.Name,
				Units:     sc.Units,
				LowLimit:  sc.LowLimit,
				HighLimit: sc.HighLimit,
				Severity:  model.SeverityWarning,
			})
		}
	}

	if td := cfg.Alarms.TempDiff; td != nil && td.Enabled {
		reg.Register(&criteria.TempDiff{
			PairName: td.Pair[0] + "_" + td.Pair[1],
			SensorA:  td.Pair[0],
			SensorB:  td.Pair[1],
			Delta:    td.Delta,
			Severity: parseSeverity(td.Severity),
		})
	}

	if fp := cfg.Alarms.FTIRPeakShift; fp != nil && fp.Enabled {
		reg.Register(&criteria.FTIRPeakShift{
			Channel:       fp.Channel,
			ToleranceBins: fp.ToleranceBins,
			Severity:      parseSeverity(fp.Severity),
		})
	}

	log.Info("criteria registry built", zap.Int("count", len(reg.All())))
	return reg
}

func parseSeverity(s string) model.Severity {
	switch s {
	case "CRITICAL":
		return model.SeverityCritical
	case "WARNING":
		return model.SeverityWarning
	default:
		return model.SeverityInfo
	}
}

// pollMetrics periodically syncs the store and decoder counters onto the
// Prometheus gauges until ctx is cancelled.
func pollMetrics(ctx context.Context, metrics *observability.Metrics, st *store.Store, decoder *transport.Decoder) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			snap := decoder.Snapshot()
			counters := st.Counters()
			// Readings are dropped by the decoder's own queue, which counts them.
			counters.ReadingsDroppedTotal = snap.ReadingsDropped
			metrics.ObserveStoreCounters(counters)
			metrics.ObserveTransportCounters(snap.SocketErrors, snap.ParseErrors)
			metrics.SetReadingsQueueDepth(len(decoder.Readings()))
		case <-ctx.Done():
			return
		}
	}
}

// buildLogger constructs a zap.Logger with the given level and format.
func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
