package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"keyrush/internal/config"
	"keyrush/internal/logging"
	"keyrush/internal/texts"
	"keyrush/internal/ws"
)

func main() {
	cfg, err := config.LoadApp()
	if err != nil {
		panic(err)
	}
	logging.Init(cfg.Log)

	provider, closeProvider := textsProvider(cfg.Texts)
	defer closeProvider()

	srv := ws.NewServer(serverConfig(cfg.Server), provider, clockwork.NewRealClock())
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	srv.Run(ctx)

	r := newRouter(srv)
	logRoutes(r)

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.Server.HTTPAddr).Msg("http listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	srv.Teardown()
}

func serverConfig(cfg config.ServerConfig) ws.Config {
	return ws.Config{
		MaxPlayersPerRoom: cfg.MaxPlayersPerRoom,
		CountdownFrom:     cfg.CountdownFrom,
		PingPeriod:        time.Duration(cfg.PingPeriodSec) * time.Second,
		HeartbeatTimeout:  time.Duration(cfg.HeartbeatTimeoutSec) * time.Second,
		ReapPeriod:        time.Duration(cfg.ReapPeriodSec) * time.Second,
		RoomGrace:         time.Duration(cfg.RoomGraceSec) * time.Second,
		SendBuffer:        cfg.WSSendBuffer,
		MaxMessageBytes:   cfg.WSMaxMessageBytes,
	}
}

// textsProvider prefers the database corpus and falls back to the built-in
// one when no DSN is configured or the database is unreachable.
func textsProvider(cfg config.TextsConfig) (texts.Provider, func()) {
	if cfg.PostgresDSN == "" {
		return texts.NewBuiltin(), func() {}
	}
	pg, err := texts.NewPostgres(context.Background(), cfg.PostgresDSN)
	if err != nil {
		log.Error().Err(err).Msg("texts store init failed, using builtin corpus")
		return texts.NewBuiltin(), func() {}
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pg.Ping(pingCtx); err != nil {
		log.Error().Err(err).Msg("texts store unreachable, using builtin corpus")
		pg.Close()
		return texts.NewBuiltin(), func() {}
	}
	return pg, pg.Close
}
