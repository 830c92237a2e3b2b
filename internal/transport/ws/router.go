package ws

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"speech-translate-server/internal/domain/livestream"
	"speech-translate-server/internal/platform/logging"
	"speech-translate-server/internal/platform/observability"
)

// SessionBuilder creates the live session served over an upgraded connection.
type SessionBuilder func(id string, emitter livestream.Emitter) *livestream.Session

// Router is responsible for upgrading HTTP connections to websocket sessions.
type Router struct {
	hub    *Hub
	logger *logging.Logger

	upgrader         *websocket.Upgrader
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	authenticate     func(*http.Request) error
	baseCtx          context.Context
	builder          atomic.Value // SessionBuilder
}

// RouterOptions configures the websocket router.
type RouterOptions struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	CheckOrigin      func(r *http.Request) bool
	// Authenticate rejects the upgrade when it returns an error.
	Authenticate func(r *http.Request) error
	// BaseContext parents every session; cancelling it ends them all.
	BaseContext context.Context
}

// NewRouter constructs a websocket router.
func NewRouter(hub *Hub, logger *logging.Logger, opts RouterOptions) *Router {
	upgrader := &websocket.Upgrader{
		CheckOrigin: opts.CheckOrigin,
	}
	if upgrader.CheckOrigin == nil {
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}

	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	upgrader.HandshakeTimeout = timeout

	base := opts.BaseContext
	if base == nil {
		base = context.Background()
	}

	return &Router{
		hub:              hub,
		logger:           logger,
		upgrader:         upgrader,
		handshakeTimeout: timeout,
		writeTimeout:     opts.WriteTimeout,
		authenticate:     opts.Authenticate,
		baseCtx:          base,
	}
}

// SetSessionBuilder registers the builder invoked after a successful upgrade.
func (r *Router) SetSessionBuilder(builder SessionBuilder) {
	r.builder.Store(builder)
}

// Handle upgrades the HTTP connection and launches a new websocket session.
func (r *Router) Handle(w http.ResponseWriter, req *http.Request) {
	value := r.builder.Load()
	if value == nil {
		http.Error(w, "websocket handler not ready", http.StatusServiceUnavailable)
		return
	}
	builder := value.(SessionBuilder)

	if r.authenticate != nil {
		if err := r.authenticate(req); err != nil {
			r.logger.WarnTag("WebSocket", "rejected %s: %v", req.RemoteAddr, err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	handshakeCtx, cancel := context.WithTimeoutCause(req.Context(), r.handshakeTimeout, ErrHandshakeTimeout)
	defer cancel()
	req = req.WithContext(handshakeCtx)

	spanCtx, spanEnd := observability.StartSpan(handshakeCtx, "transport.websocket", "handle")
	var spanErr error
	defer func() {
		spanEnd(spanErr)
	}()

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		spanErr = err
		observability.RecordMetric(
			spanCtx,
			"websocket.upgrade.error",
			1,
			map[string]string{
				"component": "transport.websocket",
			},
		)
		r.logger.ErrorTag("WebSocket", "handshake failed: %v", err)
		return
	}

	sessionID := uuid.NewString()
	clientID := resolveClientID(req)
	r.logger.InfoTag("WebSocket", "connected session=%s client=%s remote=%s", sessionID, clientID, req.RemoteAddr)

	wsConn := NewConnection(sessionID, conn, r.writeTimeout)
	live := builder(sessionID, wsConn)
	if live == nil {
		r.logger.ErrorTag("WebSocket", "no session for %s", sessionID)
		_ = wsConn.CloseWithReason(websocket.CloseInternalServerErr, "session unavailable")
		return
	}

	session := NewSession(r.baseCtx, live, wsConn, r.logger)
	r.hub.Register(session)

	observability.RecordMetric(
		spanCtx,
		"websocket.connection.opened",
		1,
		map[string]string{
			"component": "transport.websocket",
			"client_id": clientID,
		},
	)

	go session.Run(func(runErr error) {
		r.hub.Unregister(session.ID())
		if runErr != nil {
			r.logger.WarnTag("WebSocket", "session %s ended: %v", session.ID(), runErr)
		} else {
			r.logger.InfoTag("WebSocket", "session %s closed", session.ID())
		}
		observability.RecordMetric(
			session.Context(),
			"websocket.connection.closed",
			1,
			map[string]string{
				"component": "transport.websocket",
				"client_id": clientID,
			},
		)
	})
}

func resolveClientID(req *http.Request) string {
	clientID := req.Header.Get("Client-Id")
	if clientID == "" {
		clientID = req.URL.Query().Get("client-id")
	}
	if clientID == "" {
		clientID = "anonymous"
	}
	return clientID
}
