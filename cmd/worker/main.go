// Command worker runs the execution queue without the HTTP API. Run any
// number of workers against the same database; SKIP LOCKED claiming
// keeps them from stepping on each other.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"taskvault/internal/analytics"
	"taskvault/internal/config"
	"taskvault/internal/executor"
	"taskvault/internal/filestore"
	"taskvault/internal/leaderelection"
	"taskvault/internal/metrics"
	"taskvault/internal/notify"
	"taskvault/internal/queue"
	"taskvault/internal/store/postgres"

	_ "github.com/lib/pq"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

// Advisory lock key shared by every process competing to run the
// stale-claim sweep. Spells "task" in ASCII.
const reconcileLockKey int64 = 0x7461736b

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Str("service", "worker").Logger()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Error().Err(err).Msg("open database failed")
		return exitRuntimeError
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		log.Error().Err(err).Msg("database unreachable")
		return exitRuntimeError
	}

	store := postgres.New(db)

	files, err := filestore.NewLocal(cfg.StorageDir)
	if err != nil {
		log.Error().Err(err).Str("dir", cfg.StorageDir).Msg("storage dir unavailable")
		return exitRuntimeError
	}

	var metricsSink *metrics.PrometheusSink
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)

		mux := http.NewServeMux()
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	var notifier notify.Notifier
	var transports []notify.Notifier
	if cfg.SMTPConfigured() {
		transports = append(transports, notify.NewEmailSender(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}))
	}
	if cfg.DiscordWebhookURL != "" {
		transports = append(transports, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	if len(transports) == 0 {
		log.Warn().Msg("no notification transport configured; reminders will complete without delivering anything")
		notifier = notify.NewNoop(log)
	} else {
		retrier := notify.NewRetrier(notify.NewFanout(transports...), cfg.NotifyTimeout, log)
		if metricsSink != nil {
			retrier = retrier.WithMetrics(metricsSink)
		}
		notifier = notify.NewBreaker(retrier, log)
	}

	exec := executor.New(store, files, notifier, cfg.Retention).WithLogger(log)
	if metricsSink != nil {
		exec = exec.WithMetrics(metricsSink)
	}
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		exec = exec.WithAnalytics(analytics.NewRedisSink(redisClient, log))
	}

	q := queue.New(queue.Config{
		PollInterval:      cfg.PollInterval,
		Workers:           cfg.QueueWorkers,
		BatchSize:         cfg.ClaimBatchSize,
		StaleClaimAfter:   cfg.StaleClaimAfter,
		ReconcileInterval: cfg.ReconcileInterval,
	}, store, exec, log)
	if metricsSink != nil {
		q = q.WithMetrics(metricsSink)
	}

	var isLeader atomic.Bool
	q = q.WithReconcileGate(isLeader.Load)

	elector := leaderelection.New(
		db,
		reconcileLockKey,
		cfg.LeaderRetryInterval,
		cfg.LeaderHeartbeatInterval,
		func() { isLeader.Store(true) },
		func() { isLeader.Store(false) },
		log,
	)
	if metricsSink != nil {
		elector = elector.WithMetrics(metricsSink)
	}

	queueCtx, cancelQueue := context.WithCancel(context.Background())
	var queueWg sync.WaitGroup

	queueWg.Add(1)
	go func() {
		defer queueWg.Done()
		q.Run(queueCtx)
	}()

	queueWg.Add(1)
	go func() {
		defer queueWg.Done()
		elector.Run(queueCtx)
	}()

	log.Info().Int("workers", cfg.QueueWorkers).Msg("worker started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Info().Str("signal", received.String()).Msg("shutting down")

	cancelQueue()
	queueWg.Wait()
	log.Info().Msg("queue stopped")

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	log.Info().Msg("stopped")
	return exitSuccess
}
