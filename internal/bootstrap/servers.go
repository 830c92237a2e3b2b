package bootstrap

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	platformerrors "speech-translate-server/internal/platform/errors"
	httptransport "speech-translate-server/internal/transport/http"
	"speech-translate-server/internal/transport/http/ops"
	"speech-translate-server/internal/transport/http/translation"
	"speech-translate-server/internal/transport/ws"
)

const httpShutdownTimeout = 10 * time.Second

func startServices(state *appState, g *errgroup.Group, groupCtx context.Context) error {
	cfg := state.config
	if !cfg.Web.Enabled && !cfg.Transport.WebSocket.Enabled {
		return platformerrors.New(platformerrors.KindConfig, "bootstrap:start-services", "both web and websocket listeners are disabled")
	}

	var live *ws.Server
	if cfg.Transport.WebSocket.Enabled {
		live = newLiveServer(state, groupCtx)
		if !cfg.SharesWebListener() {
			g.Go(func() error {
				if err := live.Start(groupCtx); err != nil {
					state.logger.ErrorTag("WebSocket", "websocket server failed: %v", err)
					return platformerrors.Wrap(platformerrors.KindTransport, "transport:start-websocket", "websocket server failed", err)
				}
				return nil
			})
		}
	}

	if cfg.Web.Enabled {
		if err := startHTTPServer(state, live, g, groupCtx); err != nil {
			return err
		}
	}

	g.Go(func() error {
		runHousekeeping(groupCtx, state)
		return nil
	})
	return nil
}

func newLiveServer(state *appState, groupCtx context.Context) *ws.Server {
	cfg := state.config.Transport.WebSocket
	opts := ws.RouterOptions{
		HandshakeTimeout: cfg.HandshakeTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		BaseContext:      groupCtx,
	}
	if state.tokens != nil {
		opts.Authenticate = httptransport.Authenticator(state.tokens)
	}

	hub := ws.NewHub(state.logger)
	router := ws.NewRouter(hub, state.logger, opts)
	server := ws.NewServer(ws.ServerConfig{
		Addr: net.JoinHostPort(cfg.IP, strconv.Itoa(cfg.Port)),
		Path: cfg.Path,
	}, router, hub, state.logger)
	server.SetSessionBuilder(state.pump.NewSession)
	return server
}

func startHTTPServer(state *appState, live *ws.Server, g *errgroup.Group, groupCtx context.Context) error {
	cfg := state.config
	logger := state.logger

	var authMiddleware gin.HandlerFunc
	if state.tokens != nil {
		authMiddleware = httptransport.AuthMiddleware(state.tokens, logger)
	}

	httpRouter, err := httptransport.Build(httptransport.Options{
		Config:         cfg,
		Logger:         logger,
		Metrics:        state.metrics,
		AuthMiddleware: authMiddleware,
	})
	if err != nil {
		return err
	}
	router := httpRouter.Engine

	router.NoRoute(func(c *gin.Context) {
		httptransport.RespondError(c, http.StatusNotFound, "not found", nil)
	})

	translationService, err := translation.NewService(translation.Options{
		Batch:            state.batch,
		Store:            state.results,
		AllowedLanguages: cfg.Live.AllowedLanguages,
		MaxUploadBytes:   cfg.Web.MaxUploadMB << 20,
		Logger:           logger,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindTransport, "translation:new-service", "failed to create translation service", err)
	}
	translationService.Register(httpRouter.Secured, httpRouter.API)

	opsOptions := ops.Options{
		Metrics: state.metrics,
		Stats:   state.stats,
		Journal: state.journal,
		Results: state.results,
		Logger:  logger,
	}
	if live != nil {
		opsOptions.Sessions = live.Count
	}
	ops.NewService(opsOptions).Register(&router.RouterGroup, httpRouter.API)

	if live != nil && cfg.SharesWebListener() {
		router.GET(cfg.Transport.WebSocket.Path, gin.WrapH(live.Handler()))
		logger.InfoTag("WebSocket", "live channel mounted at %s", cfg.Transport.WebSocket.Path)
	}

	httpServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Web.IP, strconv.Itoa(cfg.Web.Port)),
		Handler: router,
	}

	g.Go(func() error {
		logger.InfoTag("HTTP", "listening on http://%s", httpServer.Addr)

		go func() {
			<-groupCtx.Done()
			// upgraded connections are invisible to Shutdown
			if live != nil && cfg.SharesWebListener() {
				_ = live.Stop()
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "shutdown failed: %v", err)
			} else {
				logger.InfoTag("HTTP", "stopped")
			}
		}()

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "server failed: %v", err)
			return platformerrors.Wrap(platformerrors.KindTransport, "transport:start-http", "http server failed", err)
		}
		return nil
	})
	return nil
}

// runHousekeeping purges expired results and old journal events until ctx ends.
func runHousekeeping(ctx context.Context, state *appState) {
	interval := state.config.Store.Cleanup
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(ctx, state)
		}
	}
}

func sweep(ctx context.Context, state *appState) {
	if state.results != nil {
		if err := state.results.CleanupExpired(ctx); err != nil && ctx.Err() == nil {
			state.logger.WarnTag("Store", "cleanup expired results: %v", err)
		}
	}
	if state.journal != nil && state.config.Store.Expiry > 0 {
		removed, err := state.journal.DeleteBefore(ctx, time.Now().Add(-state.config.Store.Expiry))
		if err != nil && ctx.Err() == nil {
			state.logger.WarnTag("Store", "prune session events: %v", err)
		} else if removed > 0 {
			state.logger.DebugTag("Store", "pruned %d session events", removed)
		}
	}
}
