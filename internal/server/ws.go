package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"synthex/internal/domain"
	"synthex/internal/engine"
)

const (
	writeTimeout = 10 * time.Second
	orderTimeout = 5 * time.Second
)

// inbound is a client frame on the socket.
type inbound struct {
	Type string      `json:"type"` // "order", "liquidate"
	Side domain.Side `json:"side,omitempty"`
	Size int64       `json:"size,omitempty"`
}

// outbound wraps engine events and per-connection acks/errors into one
// frame shape.
type outbound struct {
	Type  string           `json:"type"` // engine types plus "fill", "error"
	Event *engine.Event    `json:"event,omitempty"`
	Ack   *engine.OrderAck `json:"ack,omitempty"`
	Error *errorPayload    `json:"error,omitempty"`
}

// WSServer bridges WebSocket connections to the continuous engine: one
// snapshot on connect, then streamed ticks and tape events, with order
// submission on the same socket.
type WSServer struct {
	engine   *engine.Engine
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewWSServer creates the WebSocket endpoint for the given engine.
func NewWSServer(eng *engine.Engine, log *slog.Logger) *WSServer {
	return &WSServer{
		engine: eng,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		identity = uuid.NewString()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", slog.Any("error", err))
		return
	}
	connID := uuid.NewString()
	s.log.Info("subscriber connected", slog.String("conn", connID), slog.String("identity", identity))

	subID, events := s.engine.Hub().Subscribe()
	defer s.engine.Hub().Unsubscribe(subID)
	defer conn.Close()

	// Full snapshot first; deltas are best-effort after that.
	snap, err := s.engine.Snapshot(r.Context())
	if err != nil {
		return
	}
	if err := s.writeFrame(conn, outbound{Type: snap.Type, Event: &snap}); err != nil {
		return
	}

	// Per-connection acks and errors share the socket with hub events,
	// serialized through one channel so there is a single writer.
	local := make(chan outbound, 16)

	go s.readLoop(conn, identity, local)

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// Dropped as a laggard.
				return
			}
			if err := s.writeFrame(conn, outbound{Type: ev.Type, Event: &ev}); err != nil {
				return
			}
		case out, ok := <-local:
			if !ok {
				return
			}
			if err := s.writeFrame(conn, out); err != nil {
				return
			}
		}
	}
}

func (s *WSServer) readLoop(conn *websocket.Conn, identity string, local chan<- outbound) {
	defer close(local)
	for {
		var req inbound
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), orderTimeout)
		var (
			ack engine.OrderAck
			err error
		)
		switch req.Type {
		case "order":
			ack, err = s.engine.SubmitOrder(ctx, identity, req.Side, req.Size)
		case "liquidate":
			ack, err = s.engine.SubmitLiquidate(ctx, identity)
		default:
			err = domain.NewInvalidOrder("unknown frame type " + req.Type)
		}
		cancel()

		if err != nil {
			local <- outbound{Type: "error", Error: wsError(err)}
			continue
		}
		local <- outbound{Type: "fill", Ack: &ack}
	}
}

func (s *WSServer) writeFrame(conn *websocket.Conn, out outbound) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func wsError(err error) *errorPayload {
	switch {
	case errors.Is(err, domain.ErrInvalidOrder):
		return &errorPayload{Error: "invalid_order", Message: err.Error()}
	case errors.Is(err, domain.ErrInsufficientFunds):
		return &errorPayload{Error: "insufficient_funds", Message: err.Error()}
	case errors.Is(err, domain.ErrStorageUnavailable):
		return &errorPayload{Error: "storage_unavailable", Message: "try again later"}
	default:
		return &errorPayload{Error: "internal", Message: "internal error"}
	}
}
