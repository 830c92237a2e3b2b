// Package bootstrap wires configuration, providers and transports into a running server.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"speech-translate-server/internal/domain/asr"
	"speech-translate-server/internal/domain/auth"
	"speech-translate-server/internal/domain/batch"
	"speech-translate-server/internal/domain/eventbus"
	"speech-translate-server/internal/domain/livestream"
	"speech-translate-server/internal/domain/result/store"
	"speech-translate-server/internal/domain/source"
	"speech-translate-server/internal/domain/translate"
	"speech-translate-server/internal/domain/tts"
	platformconfig "speech-translate-server/internal/platform/config"
	platformerrors "speech-translate-server/internal/platform/errors"
	platformlogging "speech-translate-server/internal/platform/logging"
	platformobservability "speech-translate-server/internal/platform/observability"
	platformstorage "speech-translate-server/internal/platform/storage"
)

const (
	busWorkers      = 4
	busQueueSize    = 256
	shutdownTimeout = 15 * time.Second
)

// Options are the command line inputs of Run.
type Options struct {
	ConfigPath string
}

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	configPath            string
	configOrigin          string
	config                *platformconfig.Config
	logger                *platformlogging.Logger
	observabilityShutdown platformobservability.ShutdownFunc
	metrics               *platformobservability.Metrics
	db                    *gorm.DB
	results               store.Store
	bus                   *eventbus.Bus
	journal               *eventbus.Journal
	stats                 *eventbus.SessionStats
	recognizer            asr.Recognizer
	translator            *translate.Translator
	synthesizer           tts.Synthesizer
	pump                  *livestream.Pump
	batch                 *batch.Service
	tokens                *auth.AuthToken
}

// close releases everything the init steps acquired, in reverse order.
func (s *appState) close() {
	if s.bus != nil {
		s.bus.Stop()
	}
	if s.results != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.results.Close(ctx); err != nil {
			s.logger.WarnTag("Store", "result store did not close cleanly: %v", err)
		}
		cancel()
	}
	if s.db != nil {
		if err := platformstorage.Close(s.db); err != nil {
			s.logger.WarnTag("Store", "database did not close cleanly: %v", err)
		}
	}
	if s.observabilityShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.observabilityShutdown(ctx); err != nil {
			s.logger.WarnTag("Bootstrap", "observability did not shut down cleanly: %v", err)
		}
		cancel()
	}
}

// Run starts the whole service lifecycle: it loads configuration, initialises
// dependencies, serves until SIGINT/SIGTERM or ctx ends, then shuts down.
func Run(ctx context.Context, opts Options) error {
	state := &appState{configPath: opts.ConfigPath}

	steps := InitGraph()
	err := executeInitSteps(ctx, steps, state)
	defer func() {
		state.close()
		state.logger.Close()
	}()
	if err != nil {
		state.logger.ErrorTag("Bootstrap", "initialisation failed: %v", err)
		return err
	}

	logBootstrapGraph(steps, state.logger)

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(signalCtx)
	if err := startServices(state, group, groupCtx); err != nil {
		stop()
		_ = group.Wait()
		return err
	}

	return waitForShutdown(groupCtx, state.logger, group)
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	if logger == nil {
		return
	}
	logger.InfoTag("Bootstrap", "initialisation graph")
	for _, step := range steps {
		if len(step.DependsOn) == 0 {
			logger.InfoTag("Bootstrap", "  %s (%s)", step.ID, step.Title)
			continue
		}
		logger.InfoTag("Bootstrap", "  %s (%s) <- %s", step.ID, step.Title, strings.Join(step.DependsOn, ", "))
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

// InitGraph lists the initialisation steps in execution order.
func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Execute:   initLoggingStep,
		},
		{
			ID:        "observability:setup-hooks",
			Title:     "Setup observability hooks",
			DependsOn: []string{"logging:init-provider"},
			Execute:   setupObservabilityStep,
		},
		{
			ID:        "storage:init-database",
			Title:     "Initialise database",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   initDatabaseStep,
		},
		{
			ID:        "store:init-results",
			Title:     "Initialise result store",
			DependsOn: []string{"storage:init-database"},
			Kind:      platformerrors.KindStorage,
			Execute:   initResultStoreStep,
		},
		{
			ID:        "eventbus:init",
			Title:     "Initialise event bus",
			DependsOn: []string{"storage:init-database"},
			Execute:   initEventBusStep,
		},
		{
			ID:        "providers:init",
			Title:     "Initialise recognition, translation and synthesis",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindConfig,
			Execute:   initProvidersStep,
		},
		{
			ID:        "live:init-pump",
			Title:     "Initialise live pump",
			DependsOn: []string{"providers:init", "eventbus:init", "observability:setup-hooks"},
			Execute:   initPumpStep,
		},
		{
			ID:        "batch:init-service",
			Title:     "Initialise batch service",
			DependsOn: []string{"providers:init", "store:init-results", "eventbus:init"},
			Execute:   initBatchStep,
		},
		{
			ID:        "auth:init-tokens",
			Title:     "Initialise token authentication",
			DependsOn: []string{"config:load"},
			Execute:   initAuthStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	res, err := platformconfig.NewLoader(state.configPath).Load()
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "config:load", "failed to load config", err)
	}
	state.config = res.Config
	state.configOrigin = res.Path
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state.config == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "logging:init-provider", "config not loaded")
	}

	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "failed to initialize logging provider", err)
	}
	state.logger = logger
	logger.InfoTag("Bootstrap", "logging ready [%s] config from %s", state.config.Log.Level, state.configOrigin)
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	cfg := platformobservability.Config{
		Enabled: strings.EqualFold(state.config.Log.Level, "debug"),
	}
	shutdown, err := platformobservability.Setup(ctx, cfg, state.logger.Slog())
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "observability:setup-hooks", "failed to setup observability hooks", err)
	}
	state.observabilityShutdown = shutdown
	state.metrics = platformobservability.NewMetrics()
	return nil
}

func initDatabaseStep(_ context.Context, state *appState) error {
	db, err := platformstorage.Open(state.config.Store.SQLite.DSN)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "storage:init-database", "failed to open database", err)
	}
	state.db = db
	return nil
}

func initResultStoreStep(_ context.Context, state *appState) error {
	cfg := state.config.Store
	storeCfg := store.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Type)),
		TTL:    cfg.Expiry,
	}
	switch storeCfg.Driver {
	case store.DriverMemory:
		storeCfg.Memory = &store.MemoryConfig{GCInterval: cfg.Cleanup}
	case store.DriverRedis:
		storeCfg.Redis = &store.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}
	}

	results, err := store.New(storeCfg, store.Dependencies{SQLiteDB: state.db})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "store:init-results", "failed to create result store", err)
	}
	state.results = results
	state.logger.InfoTag("Store", "result store ready (%s)", storeCfg.Driver)
	return nil
}

func initEventBusStep(_ context.Context, state *appState) error {
	bus := eventbus.New(busWorkers, busQueueSize, state.logger)
	bus.Start()
	state.bus = bus

	if err := eventbus.RegisterLogging(bus, state.logger); err != nil {
		return err
	}
	journal := eventbus.NewJournal(state.db, state.logger)
	if err := journal.Attach(bus); err != nil {
		return err
	}
	stats, err := eventbus.NewSessionStats(bus)
	if err != nil {
		return err
	}
	state.journal = journal
	state.stats = stats
	return nil
}

func initProvidersStep(_ context.Context, state *appState) error {
	cfg := state.config
	recognizer, err := asr.New(cfg.ASR, state.logger)
	if err != nil {
		return err
	}
	translator, err := translate.New(cfg.Translate, state.logger)
	if err != nil {
		return err
	}
	synthesizer, err := tts.New(cfg.TTS, state.logger)
	if err != nil {
		return err
	}
	state.recognizer = recognizer
	state.translator = translator
	state.synthesizer = synthesizer
	state.logger.InfoTag("Bootstrap", "providers: asr=%s translate=%s tts=%s", cfg.ASR.Provider, cfg.Translate.Provider, cfg.TTS.Provider)
	return nil
}

func initPumpStep(_ context.Context, state *appState) error {
	cfg := state.config
	adapter := source.NewAdapter(source.Config{
		Command:      cfg.Source.Command,
		Args:         cfg.Source.Args,
		PollInterval: cfg.Live.PollInterval,
		KillTimeout:  cfg.Live.KillTimeout,
		ReadSize:     cfg.Live.ReadChunkBytes,
	}, state.logger)

	pump, err := livestream.NewPump(livestream.ConfigFrom(cfg), livestream.Deps{
		Opener:      livestream.AdapterOpener(adapter),
		Recognizer:  state.recognizer,
		Translator:  state.translator,
		Synthesizer: state.synthesizer,
		Bus:         state.bus,
		Metrics:     state.metrics,
		Logger:      state.logger,
	})
	if err != nil {
		return err
	}
	state.pump = pump
	return nil
}

func initBatchStep(_ context.Context, state *appState) error {
	svc, err := batch.New(batch.ConfigFrom(state.config), batch.Deps{
		Recognizer:  state.recognizer,
		Translator:  state.translator,
		Synthesizer: state.synthesizer,
		Store:       state.results,
		Bus:         state.bus,
		Metrics:     state.metrics,
		Logger:      state.logger,
	})
	if err != nil {
		return err
	}
	state.batch = svc
	return nil
}

func initAuthStep(_ context.Context, state *appState) error {
	if !state.config.Auth.Enabled {
		return nil
	}
	state.tokens = auth.NewAuthToken(state.config.Auth.Secret).WithTTL(state.config.Auth.TokenTTL)
	return nil
}

// IssueToken loads the configuration at configPath and signs a token for client.
func IssueToken(configPath, client string) (string, error) {
	state := &appState{configPath: configPath}
	if err := loadConfigStep(context.Background(), state); err != nil {
		return "", err
	}
	if state.config.Auth.Secret == "" {
		return "", platformerrors.New(platformerrors.KindConfig, "auth:issue-token", "auth.secret is not configured")
	}
	return auth.NewAuthToken(state.config.Auth.Secret).WithTTL(state.config.Auth.TokenTTL).GenerateToken(client)
}

func waitForShutdown(ctx context.Context, logger *platformlogging.Logger, g *errgroup.Group) error {
	<-ctx.Done()
	logger.InfoTag("Bootstrap", "shutting down: %v", context.Cause(ctx))

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("Bootstrap", "shutdown finished with error: %v", err)
			return err
		}
		logger.InfoTag("Bootstrap", "all services stopped")
		return nil
	case <-time.After(shutdownTimeout):
		logger.ErrorTag("Bootstrap", "shutdown timed out")
		return errors.New("shutdown timed out")
	}
}
