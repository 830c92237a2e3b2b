package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RetentionDays is how long rotated log files are kept.
const RetentionDays = 7

// Config captures logging configuration options.
type Config struct {
	Level    string
	Dir      string
	Filename string
	// Console overrides the console writer; nil means stdout.
	Console io.Writer
}

var (
	colorReset = "\x1b[0m"
	colorTime  = "\x1b[90m"
	colorDebug = "\x1b[36m"
	colorInfo  = "\x1b[32m"
	colorWarn  = "\x1b[33m"
	colorError = "\x1b[31m"
)

var tagColors = map[string]string{
	"[Bootstrap]":     "\x1b[96m",
	"[HTTP]":          "\x1b[95m",
	"[WebSocket]":     "\x1b[92m",
	"[Session]":       "\x1b[94m",
	"[Source]":        "\x1b[93m",
	"[ASR]":           "\x1b[35m",
	"[Translate]":     "\x1b[34m",
	"[TTS]":           "\x1b[95m",
	"[Batch]":         "\x1b[97m",
	"[Store]":         "\x1b[36m",
	"[Auth]":          "\x1b[94m",
	"[OBSERVABILITY]": "\x1b[90m",
}

// consoleHandler renders colored single-line records for terminals.
type consoleHandler struct {
	writer io.Writer
	level  slog.Level
	mu     sync.Mutex
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	timeStr := r.Time.Format("2006-01-02 15:04:05.000")

	var levelColor, levelStr string
	switch {
	case r.Level >= slog.LevelError:
		levelColor, levelStr = colorError, "ERROR"
	case r.Level >= slog.LevelWarn:
		levelColor, levelStr = colorWarn, "WARN"
	case r.Level >= slog.LevelInfo:
		levelColor, levelStr = colorInfo, "INFO"
	default:
		levelColor, levelStr = colorDebug, "DEBUG"
	}

	msg := r.Message
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%s]%s %s[%s]%s ", colorTime, timeStr, colorReset, levelColor, levelStr, colorReset)

	tagged := false
	if end := strings.Index(msg, "]"); strings.HasPrefix(msg, "[") && end > 0 {
		if color, ok := tagColors[msg[:end+1]]; ok {
			fmt.Fprintf(&b, "%s%s%s", color, msg, colorReset)
			tagged = true
		}
	}
	if !tagged {
		b.WriteString(msg)
	}

	if r.NumAttrs() > 0 {
		b.WriteString(" {")
		r.Attrs(func(a slog.Attr) bool {
			fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
			return true
		})
		b.WriteString(" }")
	}
	b.WriteString("\n")

	_, err := io.WriteString(h.writer, b.String())
	return err
}

func (h *consoleHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *consoleHandler) WithGroup(string) slog.Handler { return h }

// Logger writes JSON records to a daily rotated file and colored text to the console.
type Logger struct {
	config      Config
	level       slog.Level
	jsonLogger  *slog.Logger
	textLogger  *slog.Logger
	logFile     *os.File
	currentDate string
	mu          sync.RWMutex
	ticker      *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a Logger, ensuring the log directory exists.
func New(cfg Config) (*Logger, error) {
	if cfg.Dir == "" {
		cfg.Dir = "logs"
	}
	if cfg.Filename == "" {
		cfg.Filename = "server.log"
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	file, err := os.OpenFile(filepath.Join(cfg.Dir, cfg.Filename), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	level := parseLevel(cfg.Level)
	console := cfg.Console
	if console == nil {
		console = os.Stdout
	}

	l := &Logger{
		config:      cfg,
		level:       level,
		jsonLogger:  slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})),
		textLogger:  slog.New(&consoleHandler{writer: console, level: level}),
		logFile:     file,
		currentDate: time.Now().Format("2006-01-02"),
		stopCh:      make(chan struct{}),
	}
	l.startRotationChecker()
	return l, nil
}

// NewDiscard returns a logger that writes nowhere. Useful in tests.
func NewDiscard() *Logger {
	handler := slog.NewTextHandler(io.Discard, nil)
	return &Logger{
		level:      slog.LevelInfo,
		jsonLogger: slog.New(handler),
		textLogger: slog.New(handler),
		stopCh:     make(chan struct{}),
	}
}

func (l *Logger) startRotationChecker() {
	l.ticker = time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-l.ticker.C:
				l.checkAndRotate()
			case <-l.stopCh:
				return
			}
		}
	}()
}

func (l *Logger) checkAndRotate() {
	today := time.Now().Format("2006-01-02")
	l.mu.RLock()
	current := l.currentDate
	l.mu.RUnlock()
	if today != current {
		l.rotate(today)
		l.cleanOldLogs(time.Now())
	}
}

func (l *Logger) rotate(newDate string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile != nil {
		_ = l.logFile.Close()
	}

	currentPath := filepath.Join(l.config.Dir, l.config.Filename)
	ext := filepath.Ext(l.config.Filename)
	base := strings.TrimSuffix(l.config.Filename, ext)
	archived := filepath.Join(l.config.Dir, fmt.Sprintf("%s-%s%s", base, l.currentDate, ext))

	if _, err := os.Stat(currentPath); err == nil {
		if err := os.Rename(currentPath, archived); err != nil {
			l.textLogger.Error("rename log file failed", slog.String("error", err.Error()))
		}
	}

	file, err := os.OpenFile(currentPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		l.textLogger.Error("create log file failed", slog.String("error", err.Error()))
		return
	}

	l.logFile = file
	l.currentDate = newDate
	l.jsonLogger = slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: l.level}))
	l.textLogger.Info("log file rotated", slog.String("new_date", newDate))
}

// cleanOldLogs removes archived files (base-YYYY-MM-DD.ext) older than RetentionDays.
func (l *Logger) cleanOldLogs(now time.Time) {
	entries, err := os.ReadDir(l.config.Dir)
	if err != nil {
		l.textLogger.Error("read log dir failed", slog.String("error", err.Error()))
		return
	}

	cutoff := now.AddDate(0, 0, -RetentionDays)
	ext := filepath.Ext(l.config.Filename)
	base := strings.TrimSuffix(l.config.Filename, ext)

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, base+"-") || !strings.HasSuffix(name, ext) {
			continue
		}
		dateStr := strings.TrimSuffix(strings.TrimPrefix(name, base+"-"), ext)
		fileDate, err := time.Parse("2006-01-02", dateStr)
		if err != nil || !fileDate.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(l.config.Dir, name)); err != nil {
			l.textLogger.Error("remove old log failed", slog.String("file", name), slog.String("error", err.Error()))
		}
	}
}

// Close stops rotation and closes the log file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	var err error
	l.closeOnce.Do(func() {
		if l.ticker != nil {
			l.ticker.Stop()
		}
		close(l.stopCh)
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.logFile != nil {
			err = l.logFile.Close()
			l.logFile = nil
		}
	})
	return err
}

func (l *Logger) log(level slog.Level, msg string, fields ...any) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var attrs []slog.Attr
	if len(fields) > 0 && fields[0] != nil {
		if m, ok := fields[0].(map[string]any); ok {
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				attrs = append(attrs, slog.Any(k, m[k]))
			}
		} else {
			attrs = append(attrs, slog.Any("fields", fields[0]))
		}
	}

	ctx := context.Background()
	l.jsonLogger.LogAttrs(ctx, level, msg, attrs...)
	l.textLogger.LogAttrs(ctx, level, msg, attrs...)
}

func containsFormatPlaceholders(s string) bool {
	return strings.Contains(s, "%")
}

func (l *Logger) emit(level slog.Level, msg string, args ...any) {
	if l == nil || level < l.level {
		return
	}
	if len(args) > 0 && containsFormatPlaceholders(msg) {
		l.log(level, fmt.Sprintf(msg, args...))
		return
	}
	l.log(level, msg, args...)
}

// Debug logs at debug level. Messages containing verbs are formatted printf style.
func (l *Logger) Debug(msg string, args ...any) { l.emit(slog.LevelDebug, msg, args...) }

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) { l.emit(slog.LevelInfo, msg, args...) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) { l.emit(slog.LevelWarn, msg, args...) }

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) { l.emit(slog.LevelError, msg, args...) }

// FormatLog prefixes message with a single category tag, e.g.
// FormatLog("Session", "started") -> "[Session] started". Messages that already
// start with "[" are returned as is.
func FormatLog(tag, message string) string {
	tag = strings.TrimSpace(tag)
	message = strings.TrimSpace(message)
	if tag == "" || strings.HasPrefix(message, "[") {
		return message
	}
	return fmt.Sprintf("[%s] %s", tag, message)
}

// DebugTag logs a tagged debug message.
func (l *Logger) DebugTag(tag, msg string, args ...any) {
	l.emit(slog.LevelDebug, FormatLog(tag, msg), args...)
}

// InfoTag logs a tagged info message.
func (l *Logger) InfoTag(tag, msg string, args ...any) {
	l.emit(slog.LevelInfo, FormatLog(tag, msg), args...)
}

// WarnTag logs a tagged warning.
func (l *Logger) WarnTag(tag, msg string, args ...any) {
	l.emit(slog.LevelWarn, FormatLog(tag, msg), args...)
}

// ErrorTag logs a tagged error.
func (l *Logger) ErrorTag(tag, msg string, args ...any) {
	l.emit(slog.LevelError, FormatLog(tag, msg), args...)
}

// Slog exposes the structured console logger for slog-based integrations.
func (l *Logger) Slog() *slog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.textLogger
}
