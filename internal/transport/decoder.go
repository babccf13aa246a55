// Package transport — decoder.go
//
// The Transport Decoder: maintains one outbound TCP connection to the
// reading source, frames the byte stream into newline-delimited JSON
// records, and pushes decoded Readings onto a bounded queue. On
// connect failure, read stall, or clean EOF it backs off exponentially
// and retries indefinitely until shutdown. The read loop uses a rolling
// deadline to poll context cancellation and feeds a bounded channel
// with a non-blocking drop-oldest send.

package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/alarmcore/alarmcore/internal/backoff"
	"github.com/alarmcore/alarmcore/internal/model"
)

// Config configures the Transport Decoder's TCP client and framing
// behavior (SPEC_FULL.md §6, transport.tcp_client).
type Config struct {
	Host             string
	Port             int
	ConnectTimeout   time.Duration
	ReadTimeout      time.Duration
	MaxLineBytes     int
	BackoffInitial   time.Duration
	BackoffCap       time.Duration

	// SpectralLengths maps a spectral channel's sensor name to its
	// configured fixed length, for the "spectrum length mismatch"
	// rejection rule (SPEC_FULL.md §8).
	SpectralLengths map[string]int
}

const pollInterval = 250 * time.Millisecond

// Decoder is the Transport Decoder.
type Decoder struct {
	cfg      Config
	out      chan model.Reading
	log      *zap.Logger

	parseErrors     atomic.Uint64
	schemaViolations atomic.Uint64
	unknownTypes    atomic.Uint64
	oversizedLines  atomic.Uint64
	socketErrors    atomic.Uint64
	readingsDropped atomic.Uint64
}

// NewDecoder creates a Decoder whose output queue has capacity
// queueCap. Call Readings() for the output channel and Run(ctx) to
// start the connect/read/reconnect loop.
func NewDecoder(cfg Config, queueCap int, log *zap.Logger) *Decoder {
	return &Decoder{
		cfg: cfg,
		out: make(chan model.Reading, queueCap),
		log: log,
	}
}

// Readings returns the decoder's output channel.
func (d *Decoder) Readings() <-chan model.Reading { return d.out }

// Run connects, reads, and reconnects until ctx is cancelled.
func (d *Decoder) Run(ctx context.Context) {
	delay := d.cfg.BackoffInitial

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", d.cfg.Host, d.cfg.Port), d.cfg.ConnectTimeout)
		if err != nil {
			d.socketErrors.Add(1)
			d.log.Warn("transport: connect failed, backing off",
				zap.String("addr", fmt.Sprintf("%s:%d", d.cfg.Host, d.cfg.Port)),
				zap.Error(err), zap.Duration("backoff", delay))
			if !backoff.SleepOrDone(ctx, delay) {
				return
			}
			delay = backoff.Next(delay, d.cfg.BackoffCap)
			continue
		}

		d.log.Info("transport: connected", zap.String("addr", conn.RemoteAddr().String()))
		delay = d.cfg.BackoffInitial // reset on a successful connection

		if err := d.readStream(ctx, conn); err != nil {
			d.log.Warn("transport: stream ended, reconnecting", zap.Error(err))
		}
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		if !backoff.SleepOrDone(ctx, delay) {
			return
		}
		delay = backoff.Next(delay, d.cfg.BackoffCap)
	}
}

// readStream reads frames from conn until EOF, a socket error, a
// sustained read stall, or ctx cancellation. Partial lines in the read
// buffer are discarded on return (the buffer itself is not reused
// across connections).
func (d *Decoder) readStream(ctx context.Context, conn net.Conn) error {
	reader := bufio.NewReaderSize(conn, 64*1024)
	lastData := time.Now()

	var frame []byte
	oversized := false

	for {
		if ctx.Err() != nil {
			return nil
		}

		_ = conn.SetReadDeadline(time.Now().Add(pollInterval))
		chunk, isPrefix, err := reader.ReadLine()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if time.Since(lastData) > d.cfg.ReadTimeout {
					return fmt.Errorf("read stalled for %s", d.cfg.ReadTimeout)
				}
				continue
			}
			return err // includes io.EOF (clean close)
		}

		lastData = time.Now()

		if !oversized {
			if len(frame)+len(chunk) > d.cfg.MaxLineBytes {
				oversized = true
				frame = nil
			} else {
				frame = append(frame, chunk...)
			}
		}

		if isPrefix {
			continue // line continues past the reader's internal buffer
		}

		if oversized {
			d.oversizedLines.Add(1)
			d.log.Warn("transport: oversized line discarded", zap.Int("max_line_bytes", d.cfg.MaxLineBytes))
			oversized = false
			frame = nil
			continue
		}

		line := frame
		frame = nil
		if len(line) == 0 {
			continue
		}
		d.handleLine(line)
	}
}

func (d *Decoder) handleLine(line []byte) {
	var rec wireRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		d.parseErrors.Add(1)
		d.log.Warn("transport: malformed JSON frame", zap.Error(err))
		return
	}

	ts, synthetic := parseTimestamp(rec.Timestamp)

	switch rec.Type {
	case "sensor_reading":
		if rec.Value == nil {
			d.schemaViolations.Add(1)
			d.log.Warn("transport: sensor_reading missing value", zap.String("sensor", rec.Sensor))
			return
		}
		d.push(model.Reading{
			Sensor: rec.Sensor, Spectral: false, Value: *rec.Value,
			Timestamp: ts, Synthetic: synthetic,
		})

	case "ftir_spectrum":
		if want, ok := d.cfg.SpectralLengths[rec.Sensor]; ok && len(rec.Values) != want {
			d.schemaViolations.Add(1)
			d.log.Warn("transport: spectrum length mismatch",
				zap.String("sensor", rec.Sensor), zap.Int("got", len(rec.Values)), zap.Int("want", want))
			return
		}
		d.push(model.Reading{
			Sensor: rec.Sensor, Spectral: true, Values: rec.Values,
			Timestamp: ts, Synthetic: synthetic,
		})

	default:
		d.unknownTypes.Add(1)
	}
}

// push enqueues a reading, dropping the oldest queued reading if the
// queue is full (SPEC_FULL.md §4.1 backpressure policy).
func (d *Decoder) push(r model.Reading) {
	select {
	case d.out <- r:
		return
	default:
	}

	select {
	case <-d.out:
		d.readingsDropped.Add(1)
	default:
	}

	select {
	case d.out <- r:
	default:
		d.readingsDropped.Add(1)
	}
}

// wireRecord is the NDJSON wire shape shared by both record types
// (SPEC_FULL.md §6).
type wireRecord struct {
	Type      string    `json:"type"`
	Sensor    string    `json:"sensor"`
	Value     *float64  `json:"value"`
	Values    []float64 `json:"values"`
	Timestamp string    `json:"timestamp"`
}

func parseTimestamp(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Now().UTC(), true
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Now().UTC(), true
	}
	return t, false
}

// Counters exposes the decoder's lifetime error/drop counts for
// observability wiring.
type Counters struct {
	ParseErrors      uint64
	SchemaViolations uint64
	UnknownTypes     uint64
	OversizedLines   uint64
	SocketErrors     uint64
	ReadingsDropped  uint64
}

// Snapshot returns the current decoder counters.
func (d *Decoder) Snapshot() Counters {
	return Counters{
		ParseErrors:      d.parseErrors.Load(),
		SchemaViolations: d.schemaViolations.Load(),
		UnknownTypes:     d.unknownTypes.Load(),
		OversizedLines:   d.oversizedLines.Load(),
		SocketErrors:     d.socketErrors.Load(),
		ReadingsDropped:  d.readingsDropped.Load(),
	}
}
