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
	"taskvault/internal/api"
	"taskvault/internal/auth"
	"taskvault/internal/config"
	"taskvault/internal/executor"
	"taskvault/internal/filestore"
	"taskvault/internal/leaderelection"
	"taskvault/internal/metrics"
	"taskvault/internal/notify"
	"taskvault/internal/queue"
	"taskvault/internal/scheduling"
	"taskvault/internal/store/postgres"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
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
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`taskvault - deferred task scheduling service

Usage:
  taskvault <command>

Commands:
  serve      Start the API server and execution queue
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  JWT_SECRET                Token signing secret (required)
  STORAGE_DIR               Upload storage directory (default: "./uploads")
  REDIS_ADDR                Redis address for usage analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080", or PORT)

  CLEANUP_RETENTION         File age before cleanup deletes it (default: "24h")
  QUEUE_POLL_INTERVAL       How often due entries are claimed (default: "500ms")
  QUEUE_WORKERS             Concurrent executions (default: "4")
  QUEUE_CLAIM_BATCH_SIZE    Max entries claimed per poll (default: "20")
  QUEUE_STALE_CLAIM_AFTER   Age before a claim is considered orphaned (default: "5m")
  QUEUE_RECONCILE_INTERVAL  How often stale claims are swept (default: "1m")
  LEADER_RETRY_INTERVAL     How often followers retry the sweep lock (default: "15s")
  LEADER_HEARTBEAT_INTERVAL Leader connection liveness check interval (default: "10s")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  CORS_ALLOWED_ORIGINS      Comma-separated origins for browser clients

  SMTP_HOST / SMTP_PORT / SMTP_USERNAME / SMTP_PASSWORD / SMTP_FROM
                            Email notification transport (optional)
  DISCORD_WEBHOOK_URL       Discord notification transport (optional)
  NOTIFY_TIMEOUT            Per-attempt notification timeout (default: "10s")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_ADDR              Metrics server address (default: ":9090")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")

  LOG_LEVEL                 debug, info, warn, or error (default: "info")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	log := newLogger(cfg.LogLevel)
	logConfigWarnings(cfg, log)

	db, err := openDatabase(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("database unavailable")
		return exitRuntimeError
	}
	defer db.Close()

	store := postgres.New(db)

	files, err := filestore.NewLocal(cfg.StorageDir)
	if err != nil {
		log.Error().Err(err).Str("dir", cfg.StorageDir).Msg("storage dir unavailable")
		return exitRuntimeError
	}

	// Metrics sink and server (optional)
	var metricsSink *metrics.PrometheusSink
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)

		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metricsMux,
		}
		go func() {
			log.Info().Str("addr", cfg.MetricsAddr).Str("path", cfg.MetricsPath).Msg("metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	notifier := buildNotifier(cfg, log, metricsSink)

	exec := executor.New(store, files, notifier, cfg.Retention).WithLogger(log)
	if metricsSink != nil {
		exec = exec.WithMetrics(metricsSink)
	}

	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		exec = exec.WithAnalytics(analytics.NewRedisSink(redisClient, log))
		log.Info().Str("redis", cfg.RedisAddr).Msg("analytics enabled")
	} else {
		log.Info().Msg("REDIS_ADDR not set; analytics disabled")
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

	svc := scheduling.New(store, q, files, notifier, log)

	apiHandler := api.NewHandler(svc, store, files, auth.NewJWT(cfg.JWTSecret), log).
		WithHealthChecker(db).
		WithCORS(cfg.CORSAllowedOrigins)
	if metricsSink != nil {
		apiHandler = apiHandler.WithMetrics(metricsSink)
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiHandler.Router(),
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server error")
		}
	}()

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

	log.Info().
		Str("version", version).
		Str("http", cfg.HTTPAddr).
		Dur("poll_interval", cfg.PollInterval).
		Msg("taskvault started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Info().Str("signal", received.String()).Msg("shutting down")

	// Phase 1: stop accepting new work over HTTP.
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	log.Info().Msg("http server stopped")

	// Phase 2: stop the queue; Run waits for in-flight executions.
	cancelQueue()
	queueWg.Wait()
	log.Info().Msg("queue stopped")

	// Phase 3: stop the metrics server if running.
	if metricsServer != nil {
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Error().Err(err).Msg("metrics server shutdown error")
		}
		log.Info().Msg("metrics server stopped")
	}

	log.Info().Msg("stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("taskvault version %s (commit: %s)\n", version, commit)
	return exitSuccess
}

// newLogger builds the root zerolog logger from the configured level.
func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

// openDatabase connects, configures the pool, and applies the schema.
func openDatabase(cfg config.Config, log zerolog.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Info().
		Int("max_open", cfg.DBMaxOpenConns).
		Int("max_idle", cfg.DBMaxIdleConns).
		Msg("db pool configured")

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	migrateCtx, cancel := context.WithTimeout(context.Background(), cfg.DBOpTimeout*4)
	defer cancel()
	if err := postgres.Migrate(migrateCtx, db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// buildNotifier assembles the notification chain from configured
// transports. With no transport, a logging no-op stands in so the rest
// of the system never branches.
func buildNotifier(cfg config.Config, log zerolog.Logger, sink *metrics.PrometheusSink) notify.Notifier {
	var transports []notify.Notifier

	if cfg.SMTPConfigured() {
		transports = append(transports, notify.NewEmailSender(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}))
		log.Info().Str("host", cfg.SMTPHost).Msg("email notifications enabled")
	}
	if cfg.DiscordWebhookURL != "" {
		transports = append(transports, notify.NewDiscordSender(cfg.DiscordWebhookURL))
		log.Info().Msg("discord notifications enabled")
	}

	if len(transports) == 0 {
		return notify.NewNoop(log)
	}

	retrier := notify.NewRetrier(notify.NewFanout(transports...), cfg.NotifyTimeout, log)
	if sink != nil {
		retrier = retrier.WithMetrics(sink)
	}
	return notify.NewBreaker(retrier, log)
}
