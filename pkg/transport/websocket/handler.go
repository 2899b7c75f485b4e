// Package websocket streams a run's events to its owner over a WebSocket.
//
// A client connects to the handler with a session token (Authorization
// header or ?token=) and a ?run_id=. The run must belong to a live
// execution context owned by the token's user; any other run is refused
// before the upgrade. Each event is written as one JSON text frame in the
// models.Event envelope. The stream ends with a normal close frame when
// the run's subscriptions are closed, which happens on context cleanup.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/StricklySoft/stricklysoft-isolation/pkg/auth"
	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/events"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/models"
)

const (
	QueryRunID = "run_id"

	DefaultPingInterval = 15 * time.Second
	DefaultPongWait     = 45 * time.Second
	DefaultWriteWait    = 10 * time.Second

	maxReadBytes = 4 << 10
)

// ContextLookup resolves a run to its execution context.
// *isolation.Registry satisfies it.
type ContextLookup interface {
	ContextByRun(runID string) (*models.ExecutionContext, error)
}

// Handler is an http.Handler serving run event streams.
type Handler struct {
	contexts ContextLookup
	router   *events.Router
	logger   *slog.Logger
	upgrader websocket.Upgrader
	buffer   int

	pingInterval time.Duration
	pongWait     time.Duration
	writeWait    time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithBuffer sets the per-connection event buffer.
func WithBuffer(n int) Option {
	return func(h *Handler) { h.buffer = n }
}

// WithKeepalive sets the ping interval and the read deadline extended by
// each pong. pongWait must exceed ping.
func WithKeepalive(ping, pongWait time.Duration) Option {
	return func(h *Handler) {
		h.pingInterval = ping
		h.pongWait = pongWait
	}
}

// WithCheckOrigin overrides the upgrader's origin check.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(h *Handler) { h.upgrader.CheckOrigin = fn }
}

// NewHandler returns the event stream endpoint wrapped in session
// authentication.
func NewHandler(validator auth.TokenValidator, contexts ContextLookup, router *events.Router, opts ...Option) http.Handler {
	h := &Handler{
		contexts:     contexts,
		router:       router,
		logger:       slog.Default(),
		buffer:       events.DefaultBuffer,
		pingInterval: DefaultPingInterval,
		pongWait:     DefaultPongWait,
		writeWait:    DefaultWriteWait,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 8192,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return auth.HTTPMiddleware(validator, h.logger)(h)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "missing session", http.StatusUnauthorized)
		return
	}
	runID := r.URL.Query().Get(QueryRunID)
	if err := h.authorizeRun(identity, runID); err != nil {
		h.logger.DebugContext(r.Context(), "websocket: run refused",
			"user_id", identity.UserID, "run_id", runID, "error", err)
		writeError(w, err)
		return
	}

	sub, err := h.router.Subscribe(runID, h.buffer)
	if err != nil {
		writeError(w, err)
		return
	}
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		return
	}
	defer conn.Close()

	h.logger.InfoContext(r.Context(), "websocket: stream opened", "user_id", identity.UserID, "run_id", runID)
	reason := h.stream(r.Context(), conn, sub)
	h.logger.InfoContext(r.Context(), "websocket: stream closed", "run_id", runID, "reason", reason)
}

// authorizeRun requires a live context for runID owned by identity and a
// role that may read agent output.
func (h *Handler) authorizeRun(identity auth.Identity, runID string) error {
	if runID == "" {
		return sserr.Required(QueryRunID)
	}
	if err := auth.Authorize(identity.Role, auth.OperationAgentRead); err != nil {
		return err
	}
	ec, err := h.contexts.ContextByRun(runID)
	if err != nil {
		return err
	}
	if ec.UserID != identity.UserID {
		return sserr.Newf(sserr.CodeAuthorizationDenied, "websocket: run %q belongs to another user", runID)
	}
	return nil
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if e, ok := sserr.AsError(err); ok {
		status = e.HTTPStatus()
	}
	http.Error(w, err.Error(), status)
}

// stream pumps events until the subscription closes, the peer goes away
// or ctx ends, and returns why it stopped.
func (h *Handler) stream(ctx context.Context, conn *websocket.Conn, sub *events.Subscription) string {
	peerGone := make(chan struct{})
	go h.readLoop(conn, peerGone)

	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				h.closeNormal(conn, "run closed")
				return "run closed"
			}
			body, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("websocket: failed to encode event", "run_id", ev.RunID, "error", err)
				continue
			}
			if err := h.write(conn, websocket.TextMessage, body); err != nil {
				return "write failed"
			}
		case <-ping.C:
			if err := h.write(conn, websocket.PingMessage, nil); err != nil {
				return "ping failed"
			}
		case <-peerGone:
			return "peer closed"
		case <-ctx.Done():
			h.closeNormal(conn, "server shutting down")
			return "server shutdown"
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, messageType int, body []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(h.writeWait))
	return conn.WriteMessage(messageType, body)
}

func (h *Handler) closeNormal(conn *websocket.Conn, text string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.writeWait))
}

// readLoop discards client frames and keeps the read deadline alive on
// pongs. It closes done when the peer disconnects.
func (h *Handler) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxReadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
