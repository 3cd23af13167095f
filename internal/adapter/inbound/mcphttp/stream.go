package mcphttp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/i2y/merchanttools/internal/domain"
)

// DefaultHeartbeatInterval is the keep-alive period of an event stream.
const DefaultHeartbeatInterval = 30 * time.Second

// Stream event names.
const (
	EventServerInfo = "server-info"
	EventToolsList  = "tools-list"
	EventHeartbeat  = "heartbeat"
)

// StreamState is the lifecycle of one event-stream connection.
type StreamState int32

const (
	StateConnecting StreamState = iota
	StateStreaming
	StateClosed
)

func (s StreamState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// TickerFactory creates the heartbeat ticker of a connection. The returned
// stop function must release it.
type TickerFactory func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// StreamObserver is notified of connection state changes.
type StreamObserver func(connID string, state StreamState)

type serverInfoEvent struct {
	ConnectionID    string         `json:"connectionId"`
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
	Merchant        merchantInfo   `json:"merchant"`
}

type heartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// Streamer serves the per-merchant event stream.
type Streamer struct {
	dispatcher *Dispatcher
	interval   time.Duration
	newTicker  TickerFactory
	observer   StreamObserver
	active     atomic.Int64
	logger     *slog.Logger
}

// StreamOption configures a Streamer.
type StreamOption func(*Streamer)

// WithHeartbeatInterval overrides DefaultHeartbeatInterval.
func WithHeartbeatInterval(d time.Duration) StreamOption {
	return func(s *Streamer) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithTickerFactory replaces the heartbeat ticker.
func WithTickerFactory(f TickerFactory) StreamOption {
	return func(s *Streamer) { s.newTicker = f }
}

// WithStreamObserver registers a state change callback.
func WithStreamObserver(o StreamObserver) StreamOption {
	return func(s *Streamer) { s.observer = o }
}

// NewStreamer creates a new Streamer.
func NewStreamer(dispatcher *Dispatcher, logger *slog.Logger, opts ...StreamOption) *Streamer {
	s := &Streamer{
		dispatcher: dispatcher,
		interval:   DefaultHeartbeatInterval,
		newTicker:  realTicker,
		logger:     logger.With("component", "event_stream"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Active reports the number of open streams.
func (s *Streamer) Active() int64 {
	return s.active.Load()
}

// Serve streams server-info, tools-list and then heartbeats until the client
// disconnects.
func (s *Streamer) Serve(w http.ResponseWriter, r *http.Request, merchantID string) {
	connID := uuid.NewString()
	log := s.logger.With(slog.String("merchant_id", merchantID), slog.String("connection_id", connID))
	s.transition(connID, StateConnecting)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		s.transition(connID, StateClosed)
		return
	}

	ctx := r.Context()
	hello, err := s.dispatcher.initialize(ctx, merchantID)
	if err != nil {
		log.Warn("Rejecting stream", slog.Any("error", err))
		http.Error(w, err.Error(), http.StatusNotFound)
		s.transition(connID, StateClosed)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		s.transition(connID, StateClosed)
		return
	}
	flusher.Flush()

	s.active.Add(1)
	defer s.active.Add(-1)
	s.transition(connID, StateStreaming)
	defer s.transition(connID, StateClosed)
	log.Info("Event stream opened")

	info := serverInfoEvent{
		ConnectionID:    connID,
		ProtocolVersion: hello.ProtocolVersion,
		Capabilities:    hello.Capabilities,
		ServerInfo:      hello.ServerInfo,
		Merchant:        hello.Merchant,
	}
	if err := writeEvent(w, flusher, EventServerInfo, info); err != nil {
		log.Debug("Client gone before server-info", slog.Any("error", err))
		return
	}

	tools, err := s.dispatcher.listTools(ctx, merchantID)
	if err != nil {
		log.Warn("Failed to list tools for stream", slog.Any("error", err))
		tools = ToolsListResult{Tools: []domain.Tool{}}
	}
	if err := writeEvent(w, flusher, EventToolsList, tools); err != nil {
		log.Debug("Client gone before tools-list", slog.Any("error", err))
		return
	}

	if err := s.heartbeat(ctx, w, flusher); err != nil {
		log.Debug("Heartbeat write failed", slog.Any("error", err))
	}
	log.Info("Event stream closed")
}

// heartbeat blocks until ctx is done or a write fails. The ticker is always
// stopped before it returns.
func (s *Streamer) heartbeat(ctx context.Context, w http.ResponseWriter, flusher http.Flusher) error {
	ticks, stop := s.newTicker(s.interval)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case t, ok := <-ticks:
			if !ok {
				return nil
			}
			if err := writeEvent(w, flusher, EventHeartbeat, heartbeatEvent{Timestamp: t.UTC()}); err != nil {
				return err
			}
		}
	}
}

func (s *Streamer) transition(connID string, state StreamState) {
	if s.observer != nil {
		s.observer(connID, state)
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", name, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
