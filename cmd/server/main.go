package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nilesh507/streamit/internal/actor"
	"github.com/nilesh507/streamit/internal/config"
	"github.com/nilesh507/streamit/internal/core"
	"github.com/nilesh507/streamit/internal/httpapi"
	"github.com/nilesh507/streamit/internal/metrics"
	sig "github.com/nilesh507/streamit/internal/signal"
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

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	registry := core.NewRegistry()
	limiter := sig.NewJoinRateLimiter(cfg.JoinRateLimit, cfg.JoinRateInterval)
	router := sig.NewRouter(registry, m, limiter, cfg.RoomCapacity)
	signalCtl := sig.NewWSController(router, cfg)

	directory := actor.NewDirectory(cfg.RoomCapacity, m)
	defer directory.Stop()
	admissionCtl := actor.NewAdmissionController(directory, cfg, m)

	r := httpapi.SetupRouter(ctx, cfg, httpapi.Deps{
		Registry:  registry,
		Signal:    signalCtl,
		Admission: admissionCtl,
		Gatherer:  promReg,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("signaling server started")
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
