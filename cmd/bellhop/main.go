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

	"github.com/torvand/bellhop/internal/adapters/commands"
	"github.com/torvand/bellhop/internal/adapters/gateway"
	router "github.com/torvand/bellhop/internal/adapters/http"
	"github.com/torvand/bellhop/internal/app"
	"github.com/torvand/bellhop/internal/config"
	"github.com/torvand/bellhop/internal/core"
	"github.com/torvand/bellhop/internal/store"
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

	subs := store.New(cfg.StorePath)

	gw := gateway.New(gateway.Config{
		URL:     cfg.Gateway.URL,
		Token:   cfg.Gateway.Token,
		Timeout: cfg.Gateway.Timeout,
	})

	membership := app.NewMembership(subs, gw, cfg.MinMatch)
	broadcast := app.NewBroadcaster(subs, gw, cfg.Prefix, cfg.MinMatch)
	cmds := commands.NewRouter(cfg.Prefix, cfg.ElevatedRole, cfg.MinMatch, subs, gw, membership, broadcast)

	// Every event is handled independently and concurrently; a failed
	// command never takes another one down.
	gw.OnReady = func(ev gateway.ReadyEvent) {
		go cmds.EnsureServers(ctx, ev.Servers)
	}
	gw.OnMessage = func(msg core.Message) { go cmds.HandleMessage(ctx, msg) }
	gw.OnReactionAdd = func(ev core.ReactionEvent) { go cmds.HandleReactionAdd(ctx, ev) }
	gw.OnReactionRemove = func(ev core.ReactionEvent) { go cmds.HandleReactionRemove(ctx, ev) }
	gw.OnError = func(err error) { log.Error().Err(err).Str("module", "gateway").Msg("gateway error") }

	if err := gw.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("gateway connect failed")
	}
	defer gw.Close()

	r := router.SetupRouter(ctx, cfg, subs)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Bellhop started")
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
