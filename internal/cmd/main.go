package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/taprally/internal/config"
	"github.com/mcdev12/taprally/internal/events"
	"github.com/mcdev12/taprally/internal/game"
	"github.com/mcdev12/taprally/internal/gateway"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	var relay *events.Relay
	if cfg.Server.NATSURL != "" {
		relayCfg := events.DefaultRelayConfig()
		relayCfg.URL = cfg.Server.NATSURL
		relay, err = events.NewRelay(relayCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect event relay")
		}
		defer relay.Close()
	}

	clock := clockwork.NewRealClock()
	connectionManager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig(), relay)
	registry := game.NewRegistry(cfg.Game, clock, connectionManager)
	handler := gateway.NewWebSocketHandler(connectionManager, registry, clock)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go connectionManager.Start(ctx)

	server := setupServer(cfg, handler)

	log.Info().
		Str("port", cfg.Server.Port).
		Bool("relay", relay != nil).
		Int64("duration_ms", cfg.Game.DurationMS).
		Msg("starting tap rally coordinator")

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	registry.CloseAll()
}
