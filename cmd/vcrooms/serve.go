package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ent0n29/vcrooms/internal/config"
	"github.com/ent0n29/vcrooms/internal/discord"
	"github.com/ent0n29/vcrooms/internal/httpapi"
	"github.com/ent0n29/vcrooms/internal/observability"
	"github.com/ent0n29/vcrooms/internal/privatevc"
	"github.com/ent0n29/vcrooms/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to Discord and manage private voice channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func setupLogger(cfg config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(cfg.Level())
	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return log.Logger
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	logger := setupLogger(cfg)
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	st, err := store.NewStore(ctx, cfg.DatabaseURL, cfg.DatabaseAutoMigrate)
	if err != nil {
		return fmt.Errorf("store init failed: %w", err)
	}
	defer st.Close()
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set, channel state is kept in memory only")
	}

	settings := cfg.Settings()
	gw, err := discord.New(cfg.DiscordToken, settings, st, metrics, logger)
	if err != nil {
		return err
	}
	mgr := privatevc.NewManager(settings, st, gw, gw, metrics, logger)
	gw.Attach(mgr)

	if err := gw.Open(); err != nil {
		return err
	}
	logger.Info().Str("guild_id", settings.GuildID).Str("lobby_id", settings.LobbyChannelID).Msg("discord gateway connected")

	runDone := make(chan error, 1)
	go func() {
		runDone <- mgr.Run(ctx)
	}()

	api := httpapi.New(cfg, st, mgr, metrics, logger)
	api.AddReadyCheck("store", st.Ping)
	api.AddReadyCheck("discord", func(context.Context) error {
		if !gw.Ready() {
			return errors.New("guild not cached")
		}
		return nil
	})
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.BindAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var failure error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		failure = fmt.Errorf("http server: %w", err)
		logger.Error().Err(err).Msg("http server failed")
	case err := <-runDone:
		runDone <- err
		failure = errors.New("lifecycle loop exited unexpectedly")
		logger.Error().Err(err).Msg("lifecycle loop exited")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Stop intake first so no event races the loop shutdown.
	if err := gw.Close(); err != nil {
		logger.Warn().Err(err).Msg("discord gateway close failed")
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil && !errors.Is(err, privatevc.ErrStopped) {
		logger.Warn().Err(err).Msg("lifecycle shutdown failed")
	}
	select {
	case <-runDone:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("lifecycle loop did not stop in time")
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful http shutdown failed")
		_ = httpServer.Close()
	}

	logger.Info().Msg("shutdown complete")
	return failure
}
