package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/realtimeconnect/hub/internal/adapters/chatws"
	"github.com/realtimeconnect/hub/internal/adapters/httpapi"
	"github.com/realtimeconnect/hub/internal/adapters/rtc"
	"github.com/realtimeconnect/hub/internal/app"
	"github.com/realtimeconnect/hub/internal/app/chat"
	"github.com/realtimeconnect/hub/internal/app/session"
	"github.com/realtimeconnect/hub/internal/auth"
	"github.com/realtimeconnect/hub/internal/config"
	"github.com/realtimeconnect/hub/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	users, err := auth.Open(ctx, cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open user store")
	}
	defer users.Close()

	registry := app.NewRegistry()
	rooms := app.NewPartition(domain.RoomID(cfg.PrivilegedRoom), cfg.RoomPrefix)
	router := chat.NewRouter(registry, rooms)

	engine := rtc.NewEngine(rtc.DefaultWebRTCConfig())
	sessions := session.NewManager(engine, rooms)
	engine.Bind(sessions.Notify)
	go sessions.Run(ctx)

	chatCtl := chatws.NewController(registry, rooms, router, cfg)

	r := httpapi.SetupRouter(ctx, httpapi.Deps{
		Cfg:      cfg,
		Users:    users,
		Sessions: sessions,
		Chat:     chatCtl,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("RealtimeConnect hub started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
