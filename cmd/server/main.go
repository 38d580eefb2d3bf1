package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"cabinbook/internal/api"
	"cabinbook/internal/booking"
	"cabinbook/internal/config"
	"cabinbook/internal/db"
	"cabinbook/internal/domain"
	"cabinbook/internal/events"
	"cabinbook/internal/lock"
	"cabinbook/internal/memstore"
	"cabinbook/internal/metrics"
	"cabinbook/internal/model"
	"cabinbook/internal/notify"
	"cabinbook/internal/reminders"
	"cabinbook/internal/report"
)

// store is what both the SQLite and the in-memory backends provide.
type store interface {
	domain.ReservationStore
	domain.Catalog
	domain.Directory
	SyncCatalog(ctx context.Context, cabins []model.Cabin, requesters []model.Requester) error
}

func main() {
	cfg, err := config.Load(os.Getenv("CABINBOOK_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)

	rules, err := cfg.Rules()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid booking rules")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		st       store
		ping     func(context.Context) error
		database *db.DB
	)
	switch cfg.Database.Driver {
	case "memory":
		mem := memstore.New()
		st, ping = mem, mem.Ping
		logger.Warn().Msg("using in-memory store, reservations are lost on exit")
	default:
		database, err = db.Open(cfg.Database.Path, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("open db error")
		}
		defer database.Close()
		st, ping = database, database.PingContext
	}

	var (
		rdb    *redis.Client
		cache  *db.CachedCatalog
		locker domain.Locker = lock.NewKeyed()
	)
	catalog := catalogView{Catalog: st, Directory: st}
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb, cfg.LockTTL(), logger)
		if ttl := cfg.CacheTTL(); ttl > 0 {
			cache = db.NewCachedCatalog(st, rdb, ttl, logger)
			catalog = catalogView{Catalog: cache, Directory: cache}
		}
	}

	if err := config.WatchCatalog(ctx, cfg.Catalog.Path, cfg.CatalogReloadInterval(), logger, func(cc *config.CatalogConfig) error {
		cabins, requesters := cc.Models()
		if err := st.SyncCatalog(ctx, cabins, requesters); err != nil {
			return err
		}
		if cache != nil {
			if err := cache.Invalidate(ctx); err != nil {
				logger.Warn().Err(err).Msg("catalog cache invalidation failed")
			}
		}
		logger.Info().Int("cabins", len(cabins)).Int("requesters", len(requesters)).Msg("catalog synced")
		return nil
	}); err != nil {
		logger.Fatal().Err(err).Msg("load catalog error")
	}

	bus := events.NewEventBus(func(ev events.Event, err error) {
		logger.Error().Err(err).Str("event", ev.Type).Msg("event handler failed")
	})
	bus.SubscribeAll(notify.LogSink(logger))

	if token := cfg.Notifications.Telegram.BotToken; token != "" {
		bot, err := notify.NewTelegramBot(token)
		if err != nil {
			logger.Fatal().Err(err).Msg("create telegram bot error")
		}
		tcfg := notify.DefaultTelegramConfig()
		if cfg.Notifications.Telegram.Rate > 0 {
			tcfg.Rate = cfg.Notifications.Telegram.Rate
		}
		if cfg.Notifications.Telegram.Burst > 0 {
			tcfg.Burst = cfg.Notifications.Telegram.Burst
		}
		tg := notify.NewTelegramSink(bot, catalog.Directory, catalog.Catalog, tcfg, logger)
		queue := notify.NewAsyncSink("telegram", tg.Handle, 0, logger)
		defer queue.Close()
		queue.Attach(bus, notify.TelegramEventTypes...)
		logger.Info().Str("bot", bot.Self.UserName).Msg("telegram notifications enabled")
	}

	if url := cfg.Notifications.AMQP.URL; url != "" {
		sink, err := notify.DialAMQP(url, cfg.Notifications.AMQP.Queue, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect amqp error")
		}
		defer sink.Close()
		queue := notify.NewAsyncSink("amqp", sink.Handle, 0, logger)
		defer queue.Close()
		queue.Attach(bus)
		logger.Info().Str("queue", cfg.Notifications.AMQP.Queue).Msg("amqp event export enabled")
	}

	svc := booking.NewService(booking.Deps{
		Store:     st,
		Catalog:   catalog.Catalog,
		Directory: catalog.Directory,
		Notifier:  notify.NewBusNotifier(bus, logger),
		Locker:    locker,
		Events:    bus,
		Logger:    logger,
	}, booking.Config{
		Rules:             rules,
		MaxAdvanceDays:    cfg.Booking.MaxAdvanceDays,
		AlternativesLimit: cfg.Booking.AlternativesLimit,
		LockTimeout:       cfg.LockTimeout(),
	})

	if cfg.Reminders.Enabled {
		var ledger reminders.Ledger
		if rdb != nil {
			ledger = reminders.NewRedisLedger(rdb)
		}
		go reminders.NewService(st, bus, ledger, reminders.Config{
			CheckInterval: cfg.ReminderInterval(),
			Lead:          cfg.ReminderLead(),
		}, logger).Start(ctx)
	}

	if database != nil && cfg.Backup.Enabled {
		go db.NewBackupService(database, cfg.Backup, logger).Start(ctx)
	}

	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, ping, rdb, logger)

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
	}

	server := api.NewServer(svc, report.New(st), api.Config{
		Port:      cfg.API.Port,
		APIKeys:   cfg.API.APIKeys,
		RateLimit: cfg.API.RateLimit.RPS,
		Burst:     cfg.API.RateLimit.Burst,
	}, logger)

	logger.Info().Str("driver", cfg.Database.Driver).Msg("cabinbook started")
	if err := server.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("api server error")
	}
	logger.Info().Msg("cabinbook stopped")
}

// catalogView lets the cache stand in for the store's catalogue.
type catalogView struct {
	domain.Catalog
	domain.Directory
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level))
	if err != nil || cfg.Log.Level == "" {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Log.Format == "json" {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func startHealthServer(ctx context.Context, port int, ping func(context.Context) error, rdb *redis.Client, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := ping(ctxPing); err != nil {
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	serve(ctx, port, mux, "health", logger)
}

func startMetricsServer(ctx context.Context, port int, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	serve(ctx, port, mux, "metrics", logger)
}

func serve(ctx context.Context, port int, h http.Handler, name string, logger zerolog.Logger) {
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Str("server", name).Msg("server error")
	}
}
