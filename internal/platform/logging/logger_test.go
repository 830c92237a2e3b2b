package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatLog(t *testing.T) {
	assert.Equal(t, "[Session] started", FormatLog("Session", "started"))
	assert.Equal(t, "[HTTP] GET /", FormatLog("Session", "[HTTP] GET /"))
	assert.Equal(t, "plain", FormatLog("", " plain "))
}

func TestLoggerWritesFileAndConsole(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer

	logger, err := New(Config{Level: "info", Dir: dir, Filename: "test.log", Console: &console})
	require.NoError(t, err)

	logger.InfoTag("Session", "window %d processed", 3)
	logger.Debug("hidden %s", "debug")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(filepath.Join(dir, "test.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "[Session] window 3 processed")
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, console.String(), "window 3 processed")
}

func TestCleanOldLogs(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(Config{Level: "info", Dir: dir, Filename: "server.log", Console: &bytes.Buffer{}})
	require.NoError(t, err)
	defer logger.Close()

	now := time.Now()
	old := filepath.Join(dir, "server-"+now.AddDate(0, 0, -RetentionDays-2).Format("2006-01-02")+".log")
	recent := filepath.Join(dir, "server-"+now.AddDate(0, 0, -1).Format("2006-01-02")+".log")
	require.NoError(t, os.WriteFile(old, []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(recent, []byte("recent"), 0o644))

	logger.cleanOldLogs(now)

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(recent)
	assert.NoError(t, err)
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.InfoTag("Session", "ignored")
	assert.NoError(t, logger.Close())
}
