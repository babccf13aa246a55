// Package notify — worker.go
//
// The Notification Worker dequeues payloads produced by the Adapter
// and delivers them to the configured webhook over HTTP: a 2xx
// response is success, a 4xx response is dropped without retry, and a
// 5xx response or transport error is retried with the shared backoff
// package up to Config.MaxAttempts before being dropped
// (SPEC_FULL.md §4.7). A payload that needs to wait out a backoff
// delay is requeued to the tail with its attempt counter incremented,
// via a timer that lands it back on the retry channel — the delivery
// goroutine itself never sleeps, so it keeps dequeuing new and
// already-queued payloads while others are backing off
// (spec.md "retries must not block new dequeues").

package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/alarmcore/alarmcore/internal/backoff"
	"github.com/alarmcore/alarmcore/internal/store"
)

// retryQueueCapacity bounds how many payloads may be waiting on their
// backoff timer at once. Generous relative to typical webhook retry
// volume; a payload that can't be requeued when its timer fires is
// dropped rather than blocking the timer goroutine.
const retryQueueCapacity = 256

// Config configures outbound webhook delivery
// (SPEC_FULL.md §6, notifications.webhook).
type Config struct {
	URL            string
	BearerToken    string
	VerifyTLS      bool
	ConnectTimeout time.Duration
	TotalTimeout   time.Duration
	MaxAttempts    int

	BackoffInitial time.Duration
	BackoffCap     time.Duration
}

// Worker is the Notification Worker.
type Worker struct {
	cfg    Config
	queue  <-chan Payload
	retry  chan Payload
	store  *store.Store
	log    *zap.Logger
	client *http.Client
}

// NewWorker creates a Worker reading payloads from queue.
func NewWorker(cfg Config, queue <-chan Payload, st *store.Store, log *zap.Logger) *Worker {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	transport := &http.Transport{
		DialContext:     dialer.DialContext,
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS},
	}
	return &Worker{
		cfg:   cfg,
		queue: queue,
		retry: make(chan Payload, retryQueueCapacity),
		store: st,
		log:   log,
		client: &http.Client{
			Transport: transport,
		},
	}
}

// Run delivers payloads until ctx is cancelled and the queue drains.
// The retry channel is serviced alongside the main queue so a payload
// waiting out its backoff timer never holds up new dequeues.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case p, ok := <-w.retry:
			if !ok {
				continue
			}
			w.handle(ctx, p)
		case p, ok := <-w.queue:
			if !ok {
				return
			}
			w.handle(ctx, p)
		}
	}
}

// drain delivers whatever is immediately queued, without blocking,
// giving in-flight payloads one last best-effort attempt on shutdown.
// Failed-but-retryable payloads are dropped rather than rescheduled,
// since no further ticks of Run remain to service their retry timer.
func (w *Worker) drain() {
	for {
		var p Payload
		var ok bool
		select {
		case p, ok = <-w.retry:
		default:
			select {
			case p, ok = <-w.queue:
			default:
				return
			}
		}
		if !ok {
			continue
		}
		p.attempt++
		if ok, _, err := w.attempt(context.Background(), p); !ok {
			w.log.Warn("notify: dropping payload at shutdown",
				zap.String("url", w.cfg.URL), zap.Error(err))
			w.store.RecordNotificationDropped()
		}
	}
}

// handle performs one delivery attempt. On failure it either drops the
// payload (non-retryable, or retries exhausted) or requeues it to the
// tail — via a timer that lands it on w.retry once its backoff delay
// elapses — with its attempt counter already incremented.
func (w *Worker) handle(ctx context.Context, p Payload) {
	p.attempt++

	ok, retryable, err := w.attempt(ctx, p)
	if ok {
		return
	}
	if !retryable {
		w.log.Warn("notify: webhook rejected payload, dropping",
			zap.String("url", w.cfg.URL), zap.Error(err))
		w.store.RecordNotificationDropped()
		return
	}
	if p.attempt >= w.cfg.MaxAttempts {
		w.log.Warn("notify: webhook delivery exhausted retries, dropping",
			zap.String("url", w.cfg.URL), zap.Int("attempts", p.attempt), zap.Error(err))
		w.store.RecordNotificationDropped()
		return
	}

	delay := backoff.Jitter(w.backoffFor(p.attempt))
	w.log.Warn("notify: webhook delivery failed, requeuing",
		zap.Int("attempt", p.attempt), zap.Error(err), zap.Duration("backoff", delay))
	w.scheduleRetry(p, delay)
}

// scheduleRetry lands p back on w.retry after delay, without blocking
// the calling goroutine. If the retry channel is full the payload is
// dropped rather than blocking the timer callback.
func (w *Worker) scheduleRetry(p Payload, delay time.Duration) {
	time.AfterFunc(delay, func() {
		select {
		case w.retry <- p:
		default:
			w.log.Warn("notify: retry queue full, dropping payload",
				zap.String("url", w.cfg.URL), zap.Int("attempt", p.attempt))
			w.store.RecordNotificationDropped()
		}
	})
}

// backoffFor computes the nth retry delay from the configured initial
// value without needing a separate running-state field on Payload.
func (w *Worker) backoffFor(attempt int) time.Duration {
	d := w.cfg.BackoffInitial
	for i := 1; i < attempt; i++ {
		d = backoff.Next(d, w.cfg.BackoffCap)
	}
	return d
}

// attempt performs one HTTP POST. ok=true means success (2xx).
// retryable=true means the caller should retry (transport error or
// 5xx); retryable=false means drop without retry (4xx).
func (w *Worker) attempt(ctx context.Context, p Payload) (ok bool, retryable bool, err error) {
	body, err := json.Marshal(p)
	if err != nil {
		return false, false, fmt.Errorf("marshal payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, w.cfg.TotalTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return false, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+w.cfg.BearerToken)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return false, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, false, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return false, false, fmt.Errorf("webhook returned %d", resp.StatusCode)
	default:
		return false, true, fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
}
