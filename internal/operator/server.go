// Package operator — server.go
//
// Unix domain socket server for alarm operator overrides.
//
// Protocol: newline-delimited JSON over a Unix domain socket.
// Socket path: /run/alarmcore/operator.sock (configurable).
// Permissions: 0600, owned by the running user. An operational
// convenience surface only — it never calls into the alarm engine's
// transition logic and its absence changes no testable property of the
// alarm pipeline.
//
// Commands (JSON request → JSON response):
//
//	{"cmd":"ack","source":"reactor-1","alarm_type":"HIGH_LIMIT"}
//	  → Marks the alarm key acknowledged. Does not change active/severity.
//	  → Response: {"ok":true,"source":"reactor-1","alarm_type":"HIGH_LIMIT","acked":true}
//
//	{"cmd":"unack","source":"reactor-1","alarm_type":"HIGH_LIMIT"}
//	  → Clears the acknowledgement flag.
//	  → Response: {"ok":true,"source":"reactor-1","alarm_type":"HIGH_LIMIT"}
//	    ("acked" is omitted from the JSON when false)
//
//	{"cmd":"status","source":"reactor-1","alarm_type":"HIGH_LIMIT"}
//	  → Returns the current AlarmState for that key.
//	  → Response: {"ok":true,"state":{...}}
//
//	{"cmd":"list"}
//	  → Returns every tracked AlarmState.
//	  → Response: {"ok":true,"states":[{...},...]}
//
// Security:
//   - Socket is created with 0600 permissions.
//   - Each connection is handled in a separate goroutine.
//   - Max concurrent connections: 4.
//   - Max request size: 4096 bytes.
//   - Connection timeout: 10s read/write.

package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/alarmcore/alarmcore/internal/model"
)

const (
	maxConcurrentConns = 4
	maxRequestBytes    = 4096
	connTimeout        = 10 * time.Second
)

// StateRegistry is the interface the operator server uses to read and
// annotate alarm state. Implemented by the agent's Store.
type StateRegistry interface {
	// AlarmState returns the current state for a key, or ok=false if the
	// key has never been raised.
	AlarmState(key model.AlarmKey) (model.AlarmState, bool)

	// SetAck sets or clears the acknowledgement flag for a key. Returns
	// ok=false if the key is not tracked.
	SetAck(key model.AlarmKey, acked bool, ts time.Time) (model.AlarmState, bool)

	// Snapshot returns every tracked alarm state.
	Snapshot() model.Snapshot
}

// wireState is the JSON projection of model.AlarmState served to operators.
type wireState struct {
	Source    string   `json:"source"`
	AlarmType string   `json:"alarm_type"`
	Severity  string   `json:"severity"`
	Active    bool     `json:"active"`
	FirstSeen string   `json:"first_seen"`
	LastSeen  string   `json:"last_seen"`
	Message   string   `json:"message"`
	Value     *float64 `json:"value,omitempty"`
	Acked     bool     `json:"acked"`
	AckedAt   string   `json:"acked_at,omitempty"`
}

func toWireState(st model.AlarmState) wireState {
	w := wireState{
		Source:    st.Key.Source,
		AlarmType: st.Key.AlarmType,
		Severity:  st.Severity.String(),
		Active:    st.Active,
		FirstSeen: st.FirstSeen.UTC().Format(time.RFC3339Nano),
		LastSeen:  st.LastSeen.UTC().Format(time.RFC3339Nano),
		Message:   st.Message,
		Acked:     st.Acked,
	}
	if st.HasValue {
		v := st.Value
		w.Value = &v
	}
	if st.AckedAt != nil {
		w.AckedAt = st.AckedAt.UTC().Format(time.RFC3339Nano)
	}
	return w
}

// Request is the JSON structure for operator commands.
type Request struct {
	Cmd       string `json:"cmd"` // ack | unack | status | list
	Source    string `json:"source,omitempty"`
	AlarmType string `json:"alarm_type,omitempty"`
}

// Response is the JSON structure for operator command responses.
type Response struct {
	OK        bool        `json:"ok"`
	Error     string      `json:"error,omitempty"`
	Source    string      `json:"source,omitempty"`
	AlarmType string      `json:"alarm_type,omitempty"`
	Acked     bool        `json:"acked,omitempty"`
	State     *wireState  `json:"state,omitempty"`
	States    []wireState `json:"states,omitempty"`
}

// Server is the operator Unix domain socket server.
type Server struct {
	socketPath string
	registry   StateRegistry
	log        *zap.Logger
	sem        chan struct{}
}

// NewServer creates an operator Server.
func NewServer(socketPath string, registry StateRegistry, log *zap.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		registry:   registry,
		log:        log,
		sem:        make(chan struct{}, maxConcurrentConns),
	}
}

// ListenAndServe starts the operator socket server. Removes any stale
// socket file before binding. Blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("operator: remove stale socket %q: %w", s.socketPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o700); err != nil {
		return fmt.Errorf("operator: mkdir %q: %w", filepath.Dir(s.socketPath), err)
	}

	lis, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("operator: listen %q: %w", s.socketPath, err)
	}
	defer lis.Close()

	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		return fmt.Errorf("operator: chmod %q: %w", s.socketPath, err)
	}

	s.log.Info("operator socket listening", zap.String("path", s.socketPath))

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Error("operator: accept error", zap.Error(err))
				continue
			}
		}

		select {
		case s.sem <- struct{}{}:
		default:
			s.log.Warn("operator: max connections reached, rejecting")
			_ = conn.Close()
			continue
		}

		go func(c net.Conn) {
			defer func() { <-s.sem }()
			defer c.Close()
			s.handleConn(c)
		}(conn)
	}
}

// handleConn handles a single operator connection: reads one JSON
// request, executes the command, writes one JSON response.
func (s *Server) handleConn(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	buf := make([]byte, maxRequestBytes)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		s.log.Warn("operator: read error", zap.Error(err))
		return
	}

	var req Request
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		s.writeResponse(conn, Response{OK: false, Error: "invalid JSON: " + err.Error()})
		return
	}

	resp := s.dispatch(req)
	s.writeResponse(conn, resp)
}

// dispatch routes a request to the appropriate handler.
func (s *Server) dispatch(req Request) Response {
	switch req.Cmd {
	case "ack":
		return s.cmdAck(req, true)
	case "unack":
		return s.cmdAck(req, false)
	case "status":
		return s.cmdStatus(req)
	case "list":
		return s.cmdList()
	default:
		return Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Cmd)}
	}
}

func (s *Server) cmdAck(req Request, acked bool) Response {
	if req.Source == "" || req.AlarmType == "" {
		return Response{OK: false, Error: "source and alarm_type required"}
	}
	key := model.AlarmKey{Source: req.Source, AlarmType: req.AlarmType}
	st, ok := s.registry.SetAck(key, acked, time.Now())
	if !ok {
		return Response{OK: false, Error: fmt.Sprintf("alarm key %s/%s not tracked", req.Source, req.AlarmType)}
	}
	s.log.Info("operator: alarm ack updated",
		zap.String("source", req.Source), zap.String("alarm_type", req.AlarmType), zap.Bool("acked", acked))
	return Response{OK: true, Source: req.Source, AlarmType: req.AlarmType, Acked: st.Acked}
}

func (s *Server) cmdStatus(req Request) Response {
	if req.Source == "" || req.AlarmType == "" {
		return Response{OK: false, Error: "source and alarm_type required"}
	}
	key := model.AlarmKey{Source: req.Source, AlarmType: req.AlarmType}
	st, ok := s.registry.AlarmState(key)
	if !ok {
		return Response{OK: false, Error: fmt.Sprintf("alarm key %s/%s not tracked", req.Source, req.AlarmType)}
	}
	w := toWireState(st)
	return Response{OK: true, State: &w}
}

func (s *Server) cmdList() Response {
	snap := s.registry.Snapshot()
	states := make([]wireState, 0, len(snap.Alarms))
	for _, st := range snap.Alarms {
		states = append(states, toWireState(st))
	}
	return Response{OK: true, States: states}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	_, _ = conn.Write(data)
}
