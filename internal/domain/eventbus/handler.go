package eventbus

import (
	"sync"

	"speech-translate-server/internal/platform/logging"
)

// RegisterLogging logs session and batch lifecycle events.
func RegisterLogging(bus *Bus, logger *logging.Logger) error {
	if err := bus.Subscribe(EventSessionStarted, func(data SessionEventData) {
		logger.InfoTag("Session", "started id=%s lang=%s url=%s", data.SessionID, data.TargetLang, data.URL)
	}); err != nil {
		return err
	}
	if err := bus.Subscribe(EventSessionWindow, func(data SessionEventData) {
		logger.DebugTag("Session", "window id=%s index=%d outcome=%s detected=%s took=%s",
			data.SessionID, data.Window, data.Outcome, data.Detected, data.Duration)
	}); err != nil {
		return err
	}
	if err := bus.Subscribe(EventSessionClosed, func(data SessionEventData) {
		if data.Error != "" {
			logger.WarnTag("Session", "closed id=%s windows=%d after %s: %s", data.SessionID, data.Windows, data.Duration, data.Error)
			return
		}
		logger.InfoTag("Session", "closed id=%s windows=%d after %s", data.SessionID, data.Windows, data.Duration)
	}); err != nil {
		return err
	}
	return bus.Subscribe(EventBatchCompleted, func(data BatchEventData) {
		if data.Error != "" {
			logger.WarnTag("Batch", "%s request failed after %s: %s", data.Kind, data.Duration, data.Error)
			return
		}
		logger.InfoTag("Batch", "%s request id=%s %s->%s done in %s", data.Kind, data.ID, data.Detected, data.TargetLang, data.Duration)
	})
}

// SessionStats keeps running counters fed by session events.
type SessionStats struct {
	mu       sync.RWMutex
	active   map[string]struct{}
	total    int64
	windows  map[string]int64
	lastOpen string
}

// SessionSnapshot is a point-in-time copy of SessionStats.
type SessionSnapshot struct {
	Active   int              `json:"active"`
	Total    int64            `json:"total"`
	Windows  map[string]int64 `json:"windows"`
	LastOpen string           `json:"last_session,omitempty"`
}

// NewSessionStats subscribes a fresh tracker to bus.
func NewSessionStats(bus *Bus) (*SessionStats, error) {
	s := &SessionStats{
		active:  make(map[string]struct{}),
		windows: make(map[string]int64),
	}
	if err := bus.Subscribe(EventSessionStarted, s.onStarted); err != nil {
		return nil, err
	}
	if err := bus.Subscribe(EventSessionWindow, s.onWindow); err != nil {
		return nil, err
	}
	if err := bus.Subscribe(EventSessionClosed, s.onClosed); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SessionStats) onStarted(data SessionEventData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[data.SessionID] = struct{}{}
	s.total++
	s.lastOpen = data.SessionID
}

func (s *SessionStats) onWindow(data SessionEventData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[data.Outcome]++
}

func (s *SessionStats) onClosed(data SessionEventData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, data.SessionID)
}

// Snapshot copies the current counters.
func (s *SessionStats) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	windows := make(map[string]int64, len(s.windows))
	for k, v := range s.windows {
		windows[k] = v
	}
	return SessionSnapshot{
		Active:   len(s.active),
		Total:    s.total,
		Windows:  windows,
		LastOpen: s.lastOpen,
	}
}
