package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-scheduling/internal/api"
	"github.com/hackgods/hospital-scheduling/internal/appointment"
	"github.com/hackgods/hospital-scheduling/internal/clock"
	"github.com/hackgods/hospital-scheduling/internal/config"
	"github.com/hackgods/hospital-scheduling/internal/db"
	"github.com/hackgods/hospital-scheduling/internal/logging"
	"github.com/hackgods/hospital-scheduling/internal/notify"
	redisclient "github.com/hackgods/hospital-scheduling/internal/redis"
	"github.com/hackgods/hospital-scheduling/internal/reminder"
	"github.com/hackgods/hospital-scheduling/internal/telemetry"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logging.New("prod", "info")
		l.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "api-server").Logger()
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	rootCtx = logger.WithContext(rootCtx)

	if err := run(rootCtx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("api-server stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("api-server shut down")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	provider, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
		ServiceName:  cfg.ServiceName,
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.OTLPEndpoint,
		Interval:     cfg.MetricsInterval,
	})
	if err != nil {
		return err
	}
	defer shutdownProvider(provider, logger)

	metrics, err := telemetry.NewMetrics(nil)
	if err != nil {
		return err
	}

	pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: cfg.PostgresMaxConn})
	cancelPg()
	if err != nil {
		return err
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	if err := db.Migrate(ctx, pgPool); err != nil {
		return err
	}

	rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

	dispatcher, closeDispatcher, err := newDispatcher(cfg, logger)
	if err != nil {
		return err
	}
	defer closeDispatcher()

	loc := cfg.Location()
	clk := clock.Real{}

	repo := appointment.NewPgRepository(pgPool)
	locker := redisclient.NewRedisPractitionerLocker(rdb, cfg.LockTTL, cfg.LockWait)
	coordinator := appointment.NewCoordinator(repo, locker,
		appointment.NewRanker(cfg.RankingStrategy, repo, loc), clk,
		appointment.CoordinatorOptions{
			Location:               loc,
			DefaultDurationMinutes: cfg.DefaultDurationMinutes,
			Metrics:                metrics,
		})

	reminders := reminder.NewScheduler(reminder.NewPgRepository(pgPool), reminderPolicy(cfg), clk)
	runner := notify.NewRunner(dispatcher, cfg.DispatchTimeout)

	svc := appointment.NewService(repo, coordinator, reminders, runner, clk, appointment.ServiceOptions{
		Location:            loc,
		NotificationChannel: notify.Channel(cfg.ReminderChannels[0]),
		Metrics:             metrics,
	})

	router := api.NewRouter(api.RouterConfig{
		Service:   svc,
		Reminders: reminders,
		Health:    api.NewHealthHandler(pgPool, rdb, cfg.Env, version),
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// Let in-flight notifications finish before the broker connection closes.
	runner.Wait()
	return nil
}

func reminderPolicy(cfg config.Config) reminder.Policy {
	channels := make([]notify.Channel, 0, len(cfg.ReminderChannels))
	for _, ch := range cfg.ReminderChannels {
		channels = append(channels, notify.Channel(ch))
	}
	return reminder.Policy{
		Offsets:    cfg.ReminderOffsets,
		Channels:   channels,
		MaxRetries: cfg.ReminderMaxRetries,
		BaseDelay:  cfg.ReminderBaseDelay,
		Multiplier: cfg.ReminderMultiplier,
	}
}

func newDispatcher(cfg config.Config, logger zerolog.Logger) (notify.Dispatcher, func(), error) {
	if cfg.AMQPURL == "" {
		logger.Warn().Msg("AMQP_URL not set, notifications are only logged")
		return notify.LogDispatcher{}, func() {}, nil
	}

	d, err := notify.NewAMQPDispatcher(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Str("exchange", cfg.AMQPExchange).Msg("connected to AMQP broker")

	return d, func() {
		if err := d.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing AMQP connection")
		}
	}, nil
}

func shutdownProvider(p *telemetry.Provider, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("metrics provider shutdown error")
	}
}
