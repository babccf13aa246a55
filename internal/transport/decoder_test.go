package transport_test

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/alarmcore/alarmcore/internal/transport"
)

func startFakeSource(t *testing.T, lines []string) (addr string, closeFn func()) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := lis.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for _, l := range lines {
			_, _ = conn.Write([]byte(l + "\n"))
		}
		time.Sleep(200 * time.Millisecond)
	}()
	return lis.Addr().String(), func() { lis.Close() }
}

func decoderConfig(addr string) transport.Config {
	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)
	return transport.Config{
		Host:           host,
		Port:           port,
		ConnectTimeout: time.Second,
		ReadTimeout:    2 * time.Second,
		MaxLineBytes:   1024,
		BackoffInitial: 50 * time.Millisecond,
		BackoffCap:     time.Second,
	}
}

func TestDecoder_DecodesScalarReading(t *testing.T) {
	addr, closeFn := startFakeSource(t, []string{
		`{"type":"sensor_reading","sensor":"reactor-1","value":42.5,"timestamp":"2026-01-01T00:00:00Z"}`,
	})
	defer closeFn()

	d := transport.NewDecoder(decoderConfig(addr), 8, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	select {
	case r := <-d.Readings():
		if r.Sensor != "reactor-1" || r.Value != 42.5 || r.Spectral {
			t.Fatalf("got reading %+v, want scalar reactor-1=42.5", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for reading")
	}
}

func TestDecoder_MalformedLineIsCountedAndSkipped(t *testing.T) {
	addr, closeFn := startFakeSource(t, []string{
		`not json`,
		`{"type":"sensor_reading","sensor":"reactor-1","value":1.0,"timestamp":"2026-01-01T00:00:00Z"}`,
	})
	defer closeFn()

	d := transport.NewDecoder(decoderConfig(addr), 8, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	select {
	case r := <-d.Readings():
		if r.Sensor != "reactor-1" {
			t.Fatalf("got %+v, want the well-formed reading after the malformed one", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for reading")
	}

	if d.Snapshot().ParseErrors == 0 {
		t.Fatalf("ParseErrors = 0, want at least 1 after a malformed line")
	}
}

func TestDecoder_SpectrumLengthMismatchSkipped(t *testing.T) {
	addr, closeFn := startFakeSource(t, []string{
		`{"type":"ftir_spectrum","sensor":"ftir-1","values":[1,2,3],"timestamp":"2026-01-01T00:00:00Z"}`,
	})
	defer closeFn()

	cfg := decoderConfig(addr)
	cfg.SpectralLengths = map[string]int{"ftir-1": 5}
	d := transport.NewDecoder(cfg, 8, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	select {
	case r := <-d.Readings():
		t.Fatalf("unexpected reading delivered despite length mismatch: %+v", r)
	case <-time.After(300 * time.Millisecond):
	}

	if d.Snapshot().SchemaViolations == 0 {
		t.Fatalf("SchemaViolations = 0, want at least 1")
	}
}
