package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-scheduling/internal/clock"
	"github.com/hackgods/hospital-scheduling/internal/config"
	"github.com/hackgods/hospital-scheduling/internal/db"
	"github.com/hackgods/hospital-scheduling/internal/logging"
	"github.com/hackgods/hospital-scheduling/internal/notify"
	"github.com/hackgods/hospital-scheduling/internal/reminder"
	"github.com/hackgods/hospital-scheduling/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logging.New("prod", "info")
		l.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "reminder-worker").Logger()
	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Int("concurrency", cfg.DispatchConcurrency).
		Msg("reminder-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	rootCtx = logger.WithContext(rootCtx)

	if err := run(rootCtx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("reminder-worker stopped with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	provider, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
		ServiceName:  cfg.ServiceName + "-worker",
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.OTLPEndpoint,
		Interval:     cfg.MetricsInterval,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

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

	var dispatcher notify.Dispatcher = notify.LogDispatcher{}
	if cfg.AMQPURL != "" {
		d, err := notify.NewAMQPDispatcher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return err
		}
		defer func() {
			if err := d.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing AMQP connection")
			}
		}()
		dispatcher = d
		logger.Info().Str("exchange", cfg.AMQPExchange).Msg("connected to AMQP broker")
	} else {
		logger.Warn().Msg("AMQP_URL not set, reminders are only logged")
	}

	channels := make([]notify.Channel, 0, len(cfg.ReminderChannels))
	for _, ch := range cfg.ReminderChannels {
		channels = append(channels, notify.Channel(ch))
	}
	policy := reminder.Policy{
		Offsets:    cfg.ReminderOffsets,
		Channels:   channels,
		MaxRetries: cfg.ReminderMaxRetries,
		BaseDelay:  cfg.ReminderBaseDelay,
		Multiplier: cfg.ReminderMultiplier,
	}

	worker := reminder.NewWorker(reminder.NewPgRepository(pgPool), policy, dispatcher, clock.Real{}, reminder.WorkerOptions{
		Interval:        cfg.WorkerInterval,
		DispatchTimeout: cfg.DispatchTimeout,
		BatchSize:       cfg.ReminderBatchSize,
		Concurrency:     cfg.DispatchConcurrency,
		RatePerSec:      cfg.DispatchRatePerSec,
		Location:        cfg.Location(),
		Metrics:         metrics,
	})

	return worker.Run(ctx)
}
