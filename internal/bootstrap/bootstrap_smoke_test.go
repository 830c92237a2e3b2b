package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"speech-translate-server/internal/domain/auth"
	"speech-translate-server/internal/domain/eventbus"
	"speech-translate-server/internal/domain/result"
	"speech-translate-server/internal/domain/result/store"
	platformconfig "speech-translate-server/internal/platform/config"
	platformlogging "speech-translate-server/internal/platform/logging"
	platformstorage "speech-translate-server/internal/platform/storage"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func writeConfig(t *testing.T, port int, extra string) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`
log:
  log_level: info
  log_dir: %q
  log_file: server.log
web:
  enabled: true
  ip: 127.0.0.1
  port: %d
  outputs_dir: %q
transport:
  websocket:
    enabled: true
    ip: 127.0.0.1
    port: %d
store:
  type: memory
  sqlite:
    dsn: "file:test-%d?mode=memory&cache=shared"
%s`, filepath.Join(dir, "logs"), port, filepath.Join(dir, "outputs"), port, time.Now().UnixNano(), extra)
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestInitGraphOrder(t *testing.T) {
	steps := InitGraph()
	want := []string{
		"config:load",
		"logging:init-provider",
		"observability:setup-hooks",
		"storage:init-database",
		"store:init-results",
		"eventbus:init",
		"providers:init",
		"live:init-pump",
		"batch:init-service",
		"auth:init-tokens",
	}
	if len(steps) != len(want) {
		t.Fatalf("unexpected step count: got %d want %d", len(steps), len(want))
	}
	for i, step := range steps {
		if step.ID != want[i] {
			t.Fatalf("step %d mismatch: got %s want %s", i, step.ID, want[i])
		}
	}
}

func TestExecuteInitStepsChecksDependencies(t *testing.T) {
	steps := []initStep{{
		ID:        "b",
		DependsOn: []string{"a"},
		Execute:   func(context.Context, *appState) error { return nil },
	}}
	err := executeInitSteps(context.Background(), steps, &appState{})
	if err == nil || !strings.Contains(err.Error(), "dependency a not satisfied") {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestExecuteInitGraph(t *testing.T) {
	path := writeConfig(t, freePort(t), "auth:\n  enabled: true\n  secret: s3cret\n")
	state := &appState{configPath: path}
	defer func() {
		state.close()
		state.logger.Close()
	}()
	if err := executeInitSteps(context.Background(), InitGraph(), state); err != nil {
		t.Fatalf("executeInitSteps failed: %v", err)
	}
	if state.config == nil || state.configOrigin != path {
		t.Fatalf("config not loaded from %s", path)
	}
	if state.logger == nil {
		t.Fatal("logger is nil after init")
	}
	if state.observabilityShutdown == nil || state.metrics == nil {
		t.Fatal("observability not set up")
	}
	if state.results == nil || state.journal == nil || state.stats == nil {
		t.Fatal("storage not initialised")
	}
	if state.pump == nil || state.batch == nil {
		t.Fatal("pipelines not initialised")
	}
	if state.pump.WindowSize() != 96000 {
		t.Fatalf("unexpected window size %d", state.pump.WindowSize())
	}
	if state.tokens == nil {
		t.Fatal("auth tokens not initialised")
	}
}

func TestExecuteInitGraphRejectsBadConfig(t *testing.T) {
	path := writeConfig(t, freePort(t), "asr:\n  provider: nope\n")
	state := &appState{configPath: path}
	defer state.logger.Close()
	if err := executeInitSteps(context.Background(), InitGraph(), state); err == nil {
		t.Fatal("expected unsupported provider to fail")
	}
}

func TestLogBootstrapGraphOutput(t *testing.T) {
	tmp := t.TempDir()
	logger, err := platformlogging.New(platformlogging.Config{
		Level:    "info",
		Dir:      tmp,
		Filename: "graph.log",
		Console:  &strings.Builder{},
	})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logBootstrapGraph(InitGraph(), logger)
	logger.Close()

	data, err := os.ReadFile(filepath.Join(tmp, "graph.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "initialisation graph") {
		t.Fatalf("graph header missing in log output: %s", content)
	}
	for _, step := range InitGraph() {
		if !strings.Contains(content, step.ID) {
			t.Fatalf("expected graph output to contain %q, got: %s", step.ID, content)
		}
	}
}

func TestSweepRemovesExpiredData(t *testing.T) {
	ctx := context.Background()
	db, err := platformstorage.Open(fmt.Sprintf("file:test-%d?mode=memory&cache=shared", time.Now().UnixNano()))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer platformstorage.Close(db)

	logger := platformlogging.NewDiscard()
	results := store.NewMemory(store.Config{TTL: time.Hour})
	defer results.Close(ctx)
	past := time.Now().Add(-time.Minute)
	if err := results.Save(ctx, result.Record{ID: "old", CreatedAt: past.Add(-time.Hour), ExpiresAt: &past}); err != nil {
		t.Fatalf("save: %v", err)
	}
	journal := eventbus.NewJournal(db, logger)
	if err := journal.Store(ctx, eventbus.EventSessionClosed, eventbus.SessionEventData{SessionID: "s1"}); err != nil {
		t.Fatalf("store event: %v", err)
	}

	state := &appState{results: results, journal: journal, logger: logger}
	state.config = platformconfig.DefaultConfig()
	state.config.Store.Expiry = time.Nanosecond
	time.Sleep(5 * time.Millisecond)
	sweep(ctx, state)

	if _, err := results.Get(ctx, "old"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected expired record to be purged, got %v", err)
	}
	events, err := journal.FindBySessionID(ctx, "s1")
	if err != nil {
		t.Fatalf("find events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected journal to be pruned, got %d events", len(events))
	}
}

func TestIssueToken(t *testing.T) {
	path := writeConfig(t, freePort(t), "auth:\n  secret: s3cret\n")
	signed, err := IssueToken(path, "dashboard")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	claims, err := auth.NewAuthToken("s3cret").VerifyToken(signed)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if claims.Client != "dashboard" {
		t.Fatalf("unexpected client %q", claims.Client)
	}

	if _, err := IssueToken(writeConfig(t, freePort(t), ""), "dashboard"); err == nil {
		t.Fatal("expected missing secret to fail")
	}
}

func TestRunServesUntilCancelled(t *testing.T) {
	port := freePort(t)
	path := writeConfig(t, port, "")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, Options{ConfigPath: path}) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("unexpected health status %d", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not come up: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
