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
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-realtime-tables/internal/channel"
	"github.com/ariefcatur/go-realtime-tables/internal/config"
	"github.com/ariefcatur/go-realtime-tables/internal/httpx"
	kafkax "github.com/ariefcatur/go-realtime-tables/internal/kafka"
	"github.com/ariefcatur/go-realtime-tables/internal/logging"
	"github.com/ariefcatur/go-realtime-tables/internal/metrics"
	"github.com/ariefcatur/go-realtime-tables/internal/postgres"
	"github.com/ariefcatur/go-realtime-tables/internal/redisx"
	"github.com/ariefcatur/go-realtime-tables/internal/relay"
	"github.com/ariefcatur/go-realtime-tables/internal/tables"
	"github.com/ariefcatur/go-realtime-tables/migrations"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	name := cfg.ServiceName + "-relay"
	log := logging.New(cfg.LogLevel, cfg.LogPretty).With().Str("service", name).Logger()
	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, 8)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db, migrations.FS); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	kafkaMode := cfg.ChannelTransport == "kafka"
	var prod *kafkax.Producer
	if kafkaMode {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, 1024, logging.Component(log, "kafka"))
		prod.Start(ctx)
	}
	tr, err := channel.Select(cfg.ChannelTransport, rdb, cfg.KafkaBrokers, prod)
	if err != nil {
		log.Fatal().Err(err).Msg("channel transport")
	}
	client := channel.New(tr, channel.Options{
		Backoff: channel.Backoff{Initial: cfg.ReconnectInitial, Max: cfg.ReconnectMax, Attempts: cfg.ReconnectAttempts},
	}, log)
	if err := client.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("channel connect")
	}

	svc := &relay.Service{
		Store:       &relay.Repo{DB: db},
		Redis:       rdb,
		Out:         client,
		HoldTTL:     time.Duration(cfg.HoldSeconds) * time.Second,
		ServiceName: name,
		Log:         logging.Component(log, "relay"),
	}

	g, gctx := errgroup.WithContext(ctx)

	dests := []string{tables.DestStatusUpdate, tables.DestStatusView}
	if kafkaMode {
		// group consumers keep requests across relay restarts
		for _, d := range dests {
			cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.RelayGroup, tables.BrokerName(d), cfg.RelayWorkers, logging.Component(log, "consumer"))
			g.Go(func() error {
				log.Info().Str("topic", tables.BrokerName(d)).Int("workers", cfg.RelayWorkers).Msg("relay consumer started")
				return cons.Start(gctx, svc.HandleKafka)
			})
		}
	} else {
		for _, d := range dests {
			_, err := client.SubscribeRaw(d, func(body []byte) {
				if err := svc.Handle(gctx, d, body); err != nil {
					log.Error().Err(err).Str("destination", d).Msg("relay request failed")
				}
			})
			if err != nil {
				log.Fatal().Err(err).Str("destination", d).Msg("subscribe")
			}
		}
	}

	g.Go(func() error { return svc.RunSweeper(gctx, cfg.SweepInterval) })

	router := httpx.NewRouter(log, func() (string, bool) {
		s := client.State()
		return s.String(), s == channel.StateConnected
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down relay")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(sctx)
		client.Disconnect()
		if prod != nil {
			prod.Close()
			prod.WaitClosed()
		}
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("exit")
		os.Exit(1)
	}
}
