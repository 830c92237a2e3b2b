package ws

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"speech-translate-server/internal/domain/livestream"
	"speech-translate-server/internal/platform/logging"
)

const (
	defaultCloseTimeout = 5 * time.Second
	inboxDepth          = 8
)

// Session binds one websocket connection to one live translation session.
type Session struct {
	id     string
	live   *livestream.Session
	conn   *Connection
	logger *logging.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}

	closed atomic.Bool
}

// NewSession constructs a managed websocket session.
func NewSession(parent context.Context, live *livestream.Session, conn *Connection, logger *logging.Logger) *Session {
	sessionCtx, cancel := context.WithCancelCause(parent)
	return &Session{
		id:     live.ID(),
		live:   live,
		conn:   conn,
		logger: logger,
		ctx:    sessionCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Context returns the session context.
func (s *Session) Context() context.Context {
	return s.ctx
}

// ID exposes the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Run pumps client frames into the live session until it finishes and
// invokes onDone once exiting. A read error cancels the session.
func (s *Session) Run(onDone func(error)) {
	inbox := make(chan []byte, inboxDepth)
	go s.readLoop(inbox)

	runErr := s.live.Serve(s.ctx, inbox)
	if errors.Is(runErr, context.Canceled) {
		runErr = ErrSessionShutdown
		// a cancelled parent leaves context.Canceled as the cause
		if cause := context.Cause(s.ctx); cause != nil && !errors.Is(cause, context.Canceled) {
			runErr = cause
		}
	}
	if errors.Is(runErr, ErrClientGone) {
		runErr = nil
	}

	s.finish(runErr)
	close(s.done)
	if onDone != nil {
		onDone(runErr)
	}
}

func (s *Session) readLoop(inbox chan<- []byte) {
	defer close(inbox)
	for {
		messageType, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.cancel(ErrClientGone)
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		select {
		case inbox <- payload:
		case <-s.ctx.Done():
			return
		default:
			// the session only looks for start and stop; a flood is dropped
			s.logger.DebugTag("WebSocket", "session %s: inbox full, dropping frame", s.id)
		}
	}
}

func (s *Session) finish(runErr error) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.cancel(ErrSessionShutdown)

	code, reason := websocket.CloseNormalClosure, "stream finished"
	switch {
	case runErr == nil:
	case errors.Is(runErr, ErrSessionShutdown):
		code, reason = websocket.CloseGoingAway, "server shutting down"
	case errors.Is(runErr, livestream.ErrTransport):
		_ = s.conn.Close()
		return
	default:
		code, reason = websocket.CloseInternalServerErr, "session failed"
	}
	if err := s.conn.CloseWithReason(code, reason); err != nil {
		s.logger.WarnTag("WebSocket", "session %s connection close failed: %v", s.id, err)
	}
}

// Close cancels the session with reason and waits for it to release its
// resources, bounded by the close timeout.
func (s *Session) Close(reason error) {
	if reason == nil {
		reason = ErrSessionShutdown
	}
	s.cancel(reason)

	timer := time.NewTimer(defaultCloseTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
	case <-timer.C:
		s.logger.WarnTag("WebSocket", "session %s close timed out: %v", s.id, reason)
		_ = s.conn.Close()
	}
}
