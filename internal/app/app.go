package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/pulsegate/internal/auth"
	"github.com/vovakirdan/pulsegate/internal/config"
	"github.com/vovakirdan/pulsegate/internal/core"
	"github.com/vovakirdan/pulsegate/internal/service/friends"
	"github.com/vovakirdan/pulsegate/internal/store"
	"github.com/vovakirdan/pulsegate/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/pulsegate/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt_secret must be configured")
	}

	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	verifier := auth.NewVerifier(&auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	})

	friendSvc := friends.New(st, *logger)

	hub := core.NewHub(core.Options{
		HeartbeatInterval:  cfg.HeartbeatInterval,
		AwayThreshold:      cfg.AwayThreshold,
		OfflineGrace:       cfg.OfflineGrace,
		RetryBase:          cfg.RetryBase,
		RetryBackoffFactor: cfg.RetryBackoffFactor,
		RetryMaxInterval:   cfg.RetryMaxInterval,
		RetryMaxAttempts:   cfg.RetryMaxAttempts,
		SendQueueCapacity:  cfg.SendQueueCapacity,
		MaxPayloadBytes:    cfg.MaxPayloadBytes,
	}, friendSvc, historyWriter{st: st}, *logger)

	server := transporthttp.NewServer(hub, verifier, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)
	hubDone := make(chan struct{})

	go func() {
		defer close(hubDone)
		a.hub.Run(ctx)
	}()

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup(hubDone)
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup(hubDone)
			return err
		}

		a.cleanup(hubDone)
		return <-serverErr
	}
}

// cleanup waits for the hub's shutdown flush and closes resources.
func (a *App) cleanup(hubDone <-chan struct{}) {
	select {
	case <-hubDone:
	case <-time.After(a.shutdownTimeout):
		a.log.Warn().Msg("hub did not stop in time")
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}

// historyWriter adapts the store to the core's write-through collaborator.
type historyWriter struct {
	st store.Store
}

func (h historyWriter) SaveMessage(ctx context.Context, entry core.HistoryEntry) error {
	return h.st.SaveMessage(ctx, &store.Message{
		Channel:   entry.Channel,
		FromUser:  entry.FromUser,
		ToUser:    entry.ToUser,
		Payload:   entry.Payload,
		CreatedAt: entry.SentAt,
	})
}
