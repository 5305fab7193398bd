// SQS Binder
//
// Binds the configured SQS queues to application sinks, unwrapping SNS
// notification envelopes on the way, and exposes the health of every bound
// queue together with metrics and recorded warnings.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.sqsbinder.tech/internal/binder"
	"go.sqsbinder.tech/internal/binder/health"
	"go.sqsbinder.tech/internal/binder/warning"
	"go.sqsbinder.tech/internal/common/lifecycle"
	"go.sqsbinder.tech/internal/config"
	"go.sqsbinder.tech/internal/queue/sqs"
	"go.sqsbinder.tech/internal/sink"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// warningRetention bounds how long recorded warnings are kept
const warningRetention = 24 * time.Hour

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if os.Getenv("SQSBINDER_DEV") == "true" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	log.Info().
		Str("version", version).
		Str("build_time", buildTime).
		Msg("Starting SQS binder")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.DevMode {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lc := lifecycle.NewManager(time.Minute)

	clientCfg := sqs.DefaultClientConfig()
	clientCfg.Region = cfg.AWS.Region
	clientCfg.Endpoint = cfg.AWS.Endpoint
	clientCfg.AccessKeyID = cfg.AWS.AccessKeyID
	clientCfg.SecretAccessKey = cfg.AWS.SecretAccessKey
	clientCfg.CircuitBreakerEnabled = cfg.AWS.CircuitBreaker

	sqsClient, err := sqs.NewClient(ctx, clientCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create SQS client")
	}

	warnings := warning.NewInMemoryService()
	b := binder.New(sqsClient, binder.WithWarnings(warnings))

	natsConn, err := bindAll(cfg, b)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to bind destinations")
	}
	if natsConn != nil {
		lc.OnConnection("nats", func() error {
			return natsConn.Drain()
		})
	}

	probe := health.NewProbe(sqsClient, health.WithProbeTimeout(cfg.ProbeTimeout()))
	aggregator := health.NewAggregator(b, probe)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", aggregator.Handler())
	r.Get("/health/live", health.LiveHandler())
	r.Handle("/metrics", promhttp.Handler())
	warning.NewHandler(warnings).RegisterRoutes(r)
	binder.NewHandler(b).RegisterRoutes(r)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.HTTP.Port).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
			lc.Trigger()
		}
	}()
	lc.OnHTTP("http-server", cfg.ShutdownTimeout(), server.Shutdown)

	b.Start()
	lc.OnListeners("binder", b.Stop)

	go pruneWarnings(ctx, warnings)

	log.Info().
		Int("bindings", len(cfg.Bindings)).
		Int("pools", len(b.Pools())).
		Msg("SQS binder started")

	if err := lc.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Shutdown finished with errors")
		os.Exit(1)
	}
	log.Info().Msg("SQS binder stopped")
}

// bindAll creates every configured binding. The NATS connection is opened
// lazily, only when a binding forwards to NATS.
func bindAll(cfg *config.Config, b *binder.Binder) (*nats.Conn, error) {
	var conn *nats.Conn

	for _, name := range cfg.BindingNames() {
		bc := cfg.Bindings[name]

		if bc.IsProducer() {
			if _, err := b.BindProducer(name, bc.Destination); err != nil {
				return conn, err
			}
			continue
		}

		var s binder.Sink
		switch bc.Sink {
		case config.SinkNATS:
			if conn == nil {
				c, err := sink.Connect(sink.NATSConfig{URL: cfg.NATS.URL, Name: "sqs-binder"})
				if err != nil {
					return nil, err
				}
				conn = c
			}
			s = sink.NewNATSSink(conn, bc.SubjectOr(name))
		case config.SinkHTTP:
			hc := sink.DefaultHTTPConfig(bc.URL)
			hc.AuthToken = bc.AuthToken
			s = sink.NewHTTPSink(name, hc)
		default:
			s = sink.NewLogSink(name)
		}

		if _, err := b.BindConsumer(name, bc.Destination, cfg.ConsumerOptions(name), s); err != nil {
			return conn, err
		}
	}
	return conn, nil
}

func pruneWarnings(ctx context.Context, warnings *warning.InMemoryService) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := warnings.ClearOldWarnings(warningRetention); n > 0 {
				log.Debug().Int("removed", n).Msg("Pruned old warnings")
			}
		}
	}
}
