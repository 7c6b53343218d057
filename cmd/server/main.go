package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/dartcounter/dartcounter/internal/config"
	"github.com/dartcounter/dartcounter/internal/events"
	"github.com/dartcounter/dartcounter/internal/gateway"
	"github.com/dartcounter/dartcounter/internal/session"
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
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	var publisher session.SnapshotPublisher
	if cfg.NATSURL != "" {
		natsPub, err := events.NewPublisher(events.PublisherConfig{
			URL:           cfg.NATSURL,
			SubjectPrefix: cfg.NATSSubjectPrefix,
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect NATS publisher")
		}
		defer natsPub.Close()
		publisher = natsPub
	}

	store := session.NewStore(clockwork.NewRealClock(), cfg.SessionTTL, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go store.RunReaper(ctx, cfg.ReapInterval)

	server := setupServer(cfg, store)

	log.Info().
		Str("port", cfg.Port).
		Str("nats_url", cfg.NATSURL).
		Dur("session_ttl", cfg.SessionTTL).
		Msg("starting darts server")

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	cancel()

	log.Info().Msg("darts server shutdown complete")
}

func setupServer(cfg config.Config, store *session.Store) *http.Server {
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})

	gw := gateway.New(store, gateway.DefaultConnectionConfig())
	handler := c.Handler(gw.Routes())

	return &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      h2c.NewHandler(handler, &http2.Server{}),
		ReadTimeout:  0, // WebSocket connections stay open
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
}
