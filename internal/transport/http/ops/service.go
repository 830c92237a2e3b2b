// Package ops serves health, metrics and session history endpoints.
package ops

import (
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/process"

	"speech-translate-server/internal/domain/eventbus"
	"speech-translate-server/internal/domain/result/store"
	"speech-translate-server/internal/platform/logging"
	"speech-translate-server/internal/platform/observability"
	httptransport "speech-translate-server/internal/transport/http"
)

const defaultRecentLimit = 50

// Options configures the service. Every field but Logger is optional.
type Options struct {
	Metrics  *observability.Metrics
	Stats    *eventbus.SessionStats
	Journal  *eventbus.Journal
	Results  store.Store
	Sessions func() int
	Logger   *logging.Logger
}

// Service serves operational endpoints.
type Service struct {
	opts    Options
	started time.Time
	proc    *process.Process
}

// Health is the body of /healthz.
type Health struct {
	Status     string                    `json:"status"`
	Uptime     string                    `json:"uptime"`
	Goroutines int                       `json:"goroutines"`
	Process    *ProcessStats             `json:"process,omitempty"`
	Live       *eventbus.SessionSnapshot `json:"live,omitempty"`
	Connected  *int                      `json:"connected,omitempty"`
	Store      map[string]any            `json:"store,omitempty"`
	Journal    map[string]int64          `json:"journal,omitempty"`
}

// ProcessStats are resource figures of the server process.
type ProcessStats struct {
	PID        int32   `json:"pid"`
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	Threads    int32   `json:"threads"`
	Children   int     `json:"children"`
}

// NewService creates the service.
func NewService(opts Options) *Service {
	s := &Service{opts: opts, started: time.Now()}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		s.proc = p
	} else {
		opts.Logger.WarnTag("HTTP", "process stats unavailable: %v", err)
	}
	return s
}

// Register mounts /healthz and /metrics on root and session history on api.
func (s *Service) Register(root, api *gin.RouterGroup) {
	root.GET("/healthz", s.handleHealth)
	if s.opts.Metrics != nil {
		root.GET("/metrics", gin.WrapH(s.opts.Metrics.Handler()))
	}
	if s.opts.Journal != nil {
		api.GET("/sessions", s.handleRecent)
		api.GET("/sessions/:id/events", s.handleSessionEvents)
	}
}

func (s *Service) handleHealth(c *gin.Context) {
	h := Health{
		Status:     "ok",
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		Process:    s.processStats(),
	}
	if s.opts.Stats != nil {
		snap := s.opts.Stats.Snapshot()
		h.Live = &snap
	}
	if s.opts.Sessions != nil {
		n := s.opts.Sessions()
		h.Connected = &n
	}
	ctx := c.Request.Context()
	if s.opts.Results != nil {
		if stats, err := s.opts.Results.Stats(ctx); err == nil {
			h.Store = stats
		} else {
			s.opts.Logger.WarnTag("HTTP", "result store stats: %v", err)
		}
	}
	if s.opts.Journal != nil {
		if counts, err := s.opts.Journal.Counts(ctx); err == nil {
			h.Journal = counts
		} else {
			s.opts.Logger.WarnTag("HTTP", "journal counts: %v", err)
		}
	}
	c.JSON(http.StatusOK, h)
}

func (s *Service) processStats() *ProcessStats {
	if s.proc == nil {
		return nil
	}
	stats := &ProcessStats{PID: s.proc.Pid}
	if mem, err := s.proc.MemoryInfo(); err == nil {
		stats.RSSBytes = mem.RSS
	}
	if cpu, err := s.proc.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	if n, err := s.proc.NumThreads(); err == nil {
		stats.Threads = n
	}
	// decoder processes show up here while live sessions run
	if children, err := s.proc.Children(); err == nil {
		stats.Children = len(children)
	}
	return stats
}

func (s *Service) handleRecent(c *gin.Context) {
	limit := defaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httptransport.RespondError(c, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = n
	}
	events, err := s.opts.Journal.Recent(c.Request.Context(), eventbus.EventSessionClosed, limit)
	if err != nil {
		s.opts.Logger.ErrorTag("HTTP", "recent sessions: %v", err)
		httptransport.RespondError(c, http.StatusInternalServerError, "failed to load sessions", nil)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, events, "")
}

func (s *Service) handleSessionEvents(c *gin.Context) {
	events, err := s.opts.Journal.FindBySessionID(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.opts.Logger.ErrorTag("HTTP", "session events %s: %v", c.Param("id"), err)
		httptransport.RespondError(c, http.StatusInternalServerError, "failed to load session events", nil)
		return
	}
	if len(events) == 0 {
		httptransport.RespondError(c, http.StatusNotFound, "session not found", nil)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, events, "")
}
