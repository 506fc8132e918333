package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-realtime-tables/internal/barapi"
	"github.com/ariefcatur/go-realtime-tables/internal/booking"
	"github.com/ariefcatur/go-realtime-tables/internal/channel"
	"github.com/ariefcatur/go-realtime-tables/internal/config"
	"github.com/ariefcatur/go-realtime-tables/internal/countdown"
	"github.com/ariefcatur/go-realtime-tables/internal/hold"
	"github.com/ariefcatur/go-realtime-tables/internal/httpx"
	kafkax "github.com/ariefcatur/go-realtime-tables/internal/kafka"
	"github.com/ariefcatur/go-realtime-tables/internal/logging"
	"github.com/ariefcatur/go-realtime-tables/internal/metrics"
	"github.com/ariefcatur/go-realtime-tables/internal/redisx"
	"github.com/ariefcatur/go-realtime-tables/internal/tables"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogPretty).With().Str("service", cfg.ServiceName).Logger()
	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var slot tables.Slot // zero: the board picks the next bookable hour
	if cfg.BookingDate != "" && cfg.BookingTime != "" {
		s, err := tables.ParseSlot(cfg.BookingDate, cfg.BookingTime)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid booking slot")
		}
		slot = s
	}
	if cfg.UserEmail == "" {
		log.Warn().Msg("USER_EMAIL not set, calls must send " + httpx.HeaderIdentity)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer, only for the kafka transport
	var prod *kafkax.Producer
	if cfg.ChannelTransport == "kafka" {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, 1024, logging.Component(log, "kafka"))
		prod.Start(ctx)
	}
	tr, err := channel.Select(cfg.ChannelTransport, rdb, cfg.KafkaBrokers, prod)
	if err != nil {
		log.Fatal().Err(err).Msg("channel transport")
	}

	var (
		board    *hold.Board
		watching atomic.Bool
	)
	client := channel.New(tr, channel.Options{
		Backoff: channel.Backoff{
			Initial:  cfg.ReconnectInitial,
			Max:      cfg.ReconnectMax,
			Attempts: cfg.ReconnectAttempts,
		},
		// subscriptions are restored before this runs; ask for a fresh view
		OnConnected: func() {
			if watching.Load() {
				board.RequestView(ctx)
			}
		},
		OnStateChange: func(s channel.State) {
			log.Info().Str("state", s.String()).Msg("channel state")
		},
	}, log)

	cd := countdown.New(cfg.HoldSeconds, time.Second)
	board = hold.NewBoard(client, cd, slot, log)

	api := barapi.New(cfg.APIBaseURL, cfg.APIToken)
	api.UseRedisCache(rdb, cfg.CatalogCacheTTL)
	if ts, err := api.Tables(ctx, board.Slot()); err != nil {
		log.Error().Err(err).Msg("initial table load failed, waiting for pushes")
	} else {
		board.Load(ts)
		log.Info().Int("tables", len(ts)).Str("slot", board.Slot().String()).Msg("tables loaded")
	}

	// connect once at start; afterwards only on request from the API
	var watchMu sync.Mutex
	connect := func(ctx context.Context) error {
		if err := client.Connect(ctx); err != nil {
			return err
		}
		watchMu.Lock()
		defer watchMu.Unlock()
		if watching.Load() {
			return nil
		}
		if _, err := board.Watch(ctx); err != nil {
			return err
		}
		watching.Store(true)
		return nil
	}
	if err := connect(ctx); err != nil {
		log.Error().Err(err).Msg("channel unavailable at start")
	}

	router := httpx.NewRouter(log, func() (string, bool) {
		s := client.State()
		return s.String(), s == channel.StateConnected
	})
	h := &httpx.AgentHandler{
		Board:     board,
		Booking:   booking.NewCoordinator(board, api, api, cfg.BarName, log),
		Identity:  cfg.UserEmail,
		Log:       logging.Component(log, "http"),
		Reconnect: connect,

		ToggleRate:  cfg.ToggleRate,
		ToggleBurst: cfg.ToggleBurst,
	}
	h.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: httpx.WithCORS(router, cfg.CORSOrigins), ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(sctx)
		cd.CancelAll()
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
