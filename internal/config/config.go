package config

import (
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the taskvault application.
// Values are loaded from environment variables; see printUsage() in
// cmd/taskvault for the full list.
type Config struct {
	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	JWTSecret string `json:"-"`

	StorageDir string `json:"storage_dir"`

	// Retention is the file-cleanup age threshold: files last modified
	// before now-Retention are deleted by a file_cleanup job.
	Retention    time.Duration `json:"-"`
	RetentionStr string        `json:"retention"`

	PollInterval    time.Duration `json:"-"`
	PollIntervalStr string        `json:"poll_interval"`
	QueueWorkers    int           `json:"queue_workers"`
	ClaimBatchSize  int           `json:"claim_batch_size"`

	// StaleClaimAfter is the age after which a claimed queue entry is
	// assumed orphaned (worker crashed before ack) and requeued.
	StaleClaimAfter      time.Duration `json:"-"`
	StaleClaimAfterStr   string        `json:"stale_claim_after"`
	ReconcileInterval    time.Duration `json:"-"`
	ReconcileIntervalStr string        `json:"reconcile_interval"`

	// Leader election settings for the reconcile sweep. With several
	// worker processes against one database, only the elected leader
	// runs the stale-claim sweep.
	LeaderRetryInterval        time.Duration `json:"-"`
	LeaderRetryIntervalStr     string        `json:"leader_retry_interval"`
	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsAddr    string `json:"metrics_addr"`
	MetricsPath    string `json:"metrics_path"`

	// Notification transports. Either may be left unset, in which case
	// that transport is disabled.
	SMTPHost     string `json:"smtp_host,omitempty"`
	SMTPPort     string `json:"smtp_port,omitempty"`
	SMTPUsername string `json:"smtp_username,omitempty"`
	SMTPPassword string `json:"-"`
	SMTPFrom     string `json:"smtp_from,omitempty"`

	DiscordWebhookURL string `json:"-"`

	NotifyTimeout    time.Duration `json:"-"`
	NotifyTimeoutStr string        `json:"notify_timeout"`

	LogLevel string `json:"log_level"`

	CORSAllowedOrigins []string `json:"cors_allowed_origins,omitempty"`
}

// Load reads configuration from the environment with defaults. A .env file
// in the working directory is honored if present.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		DatabaseURL:                os.Getenv("DATABASE_URL"),
		RedisAddr:                  os.Getenv("REDIS_ADDR"),
		HTTPAddr:                   os.Getenv("HTTP_ADDR"),
		JWTSecret:                  os.Getenv("JWT_SECRET"),
		StorageDir:                 os.Getenv("STORAGE_DIR"),
		RetentionStr:               os.Getenv("CLEANUP_RETENTION"),
		PollIntervalStr:            os.Getenv("QUEUE_POLL_INTERVAL"),
		StaleClaimAfterStr:         os.Getenv("QUEUE_STALE_CLAIM_AFTER"),
		ReconcileIntervalStr:       os.Getenv("QUEUE_RECONCILE_INTERVAL"),
		LeaderRetryIntervalStr:     os.Getenv("LEADER_RETRY_INTERVAL"),
		LeaderHeartbeatIntervalStr: os.Getenv("LEADER_HEARTBEAT_INTERVAL"),
		DBOpTimeoutStr:             os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:       os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:       os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		HTTPShutdownTimeoutStr:     os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		MetricsEnabled:             os.Getenv("METRICS_ENABLED") == "true",
		MetricsAddr:                os.Getenv("METRICS_ADDR"),
		MetricsPath:                os.Getenv("METRICS_PATH"),
		SMTPHost:                   os.Getenv("SMTP_HOST"),
		SMTPPort:                   os.Getenv("SMTP_PORT"),
		SMTPUsername:               os.Getenv("SMTP_USERNAME"),
		SMTPPassword:               os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:                   os.Getenv("SMTP_FROM"),
		DiscordWebhookURL:          os.Getenv("DISCORD_WEBHOOK_URL"),
		NotifyTimeoutStr:           os.Getenv("NOTIFY_TIMEOUT"),
		LogLevel:                   os.Getenv("LOG_LEVEL"),
	}

	if workersStr := os.Getenv("QUEUE_WORKERS"); workersStr != "" {
		if n, err := parseInt(workersStr); err == nil && n > 0 {
			cfg.QueueWorkers = n
		} else {
			log.Printf("config: invalid QUEUE_WORKERS %q (must be a positive integer), using default 4", workersStr)
		}
	}
	if cfg.QueueWorkers == 0 {
		cfg.QueueWorkers = 4
	}

	if batchStr := os.Getenv("QUEUE_CLAIM_BATCH_SIZE"); batchStr != "" {
		if n, err := parseInt(batchStr); err == nil && n > 0 {
			cfg.ClaimBatchSize = n
		} else {
			log.Printf("config: invalid QUEUE_CLAIM_BATCH_SIZE %q (must be a positive integer), using default 20", batchStr)
		}
	}
	if cfg.ClaimBatchSize == 0 {
		cfg.ClaimBatchSize = 20
	}

	if maxOpenStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxOpenStr != "" {
		if n, err := parseInt(maxOpenStr); err == nil && n > 0 {
			cfg.DBMaxOpenConns = n
		}
	}
	if cfg.DBMaxOpenConns == 0 {
		cfg.DBMaxOpenConns = 25
	}

	if maxIdleStr := os.Getenv("DB_MAX_IDLE_CONNS"); maxIdleStr != "" {
		if n, err := parseInt(maxIdleStr); err == nil && n > 0 {
			cfg.DBMaxIdleConns = n
		}
	}
	if cfg.DBMaxIdleConns == 0 {
		cfg.DBMaxIdleConns = 5
	}

	for _, origin := range splitComma(os.Getenv("CORS_ALLOWED_ORIGINS")) {
		cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, origin)
	}

	// Support platform PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.StorageDir == "" {
		cfg.StorageDir = "./uploads"
	}
	if cfg.RetentionStr == "" {
		cfg.RetentionStr = "24h"
	}
	if cfg.PollIntervalStr == "" {
		cfg.PollIntervalStr = "500ms"
	}
	if cfg.StaleClaimAfterStr == "" {
		cfg.StaleClaimAfterStr = "5m"
	}
	if cfg.ReconcileIntervalStr == "" {
		cfg.ReconcileIntervalStr = "1m"
	}
	if cfg.LeaderRetryIntervalStr == "" {
		cfg.LeaderRetryIntervalStr = "15s"
	}
	if cfg.LeaderHeartbeatIntervalStr == "" {
		cfg.LeaderHeartbeatIntervalStr = "10s"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = ":9090"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.NotifyTimeoutStr == "" {
		cfg.NotifyTimeoutStr = "10s"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.RetentionStr); err == nil {
		cfg.Retention = d
	}
	if d, err := time.ParseDuration(cfg.PollIntervalStr); err == nil {
		cfg.PollInterval = d
	}
	if d, err := time.ParseDuration(cfg.StaleClaimAfterStr); err == nil {
		cfg.StaleClaimAfter = d
	}
	if d, err := time.ParseDuration(cfg.ReconcileIntervalStr); err == nil {
		cfg.ReconcileInterval = d
	}
	if d, err := time.ParseDuration(cfg.LeaderRetryIntervalStr); err == nil {
		cfg.LeaderRetryInterval = d
	}
	if d, err := time.ParseDuration(cfg.LeaderHeartbeatIntervalStr); err == nil {
		cfg.LeaderHeartbeatInterval = d
	}
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxIdleTimeStr); err == nil {
		cfg.DBConnMaxIdleTime = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.NotifyTimeoutStr); err == nil {
		cfg.NotifyTimeout = d
	}

	return cfg
}

// SMTPConfigured reports whether all SMTP settings needed to send mail are set.
func (c Config) SMTPConfigured() bool {
	return c.SMTPHost != "" && c.SMTPPort != "" && c.SMTPFrom != ""
}

// parseInt parses a string of ASCII digits as a non-negative integer.
func parseInt(s string) (int, error) {
	if s == "" {
		return 0, os.ErrInvalid
	}
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			part := trimSpace(s[start:i])
			if part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}

func trimSpace(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		DatabaseURL         string   `json:"database_url"`
		RedisAddr           string   `json:"redis_addr,omitempty"`
		HTTPAddr            string   `json:"http_addr"`
		JWTSecret           string   `json:"jwt_secret"`
		StorageDir          string   `json:"storage_dir"`
		Retention           string   `json:"retention"`
		PollInterval        string   `json:"poll_interval"`
		QueueWorkers        int      `json:"queue_workers"`
		ClaimBatchSize      int      `json:"claim_batch_size"`
		StaleClaimAfter     string   `json:"stale_claim_after"`
		ReconcileInterval   string   `json:"reconcile_interval"`
		LeaderRetry         string   `json:"leader_retry_interval"`
		LeaderHeartbeat     string   `json:"leader_heartbeat_interval"`
		DBOpTimeout         string   `json:"db_op_timeout"`
		DBMaxOpenConns      int      `json:"db_max_open_conns"`
		DBMaxIdleConns      int      `json:"db_max_idle_conns"`
		DBConnMaxLifetime   string   `json:"db_conn_max_lifetime"`
		DBConnMaxIdleTime   string   `json:"db_conn_max_idle_time"`
		HTTPShutdownTimeout string   `json:"http_shutdown_timeout"`
		MetricsEnabled      bool     `json:"metrics_enabled"`
		MetricsAddr         string   `json:"metrics_addr"`
		MetricsPath         string   `json:"metrics_path"`
		SMTPHost            string   `json:"smtp_host,omitempty"`
		SMTPPort            string   `json:"smtp_port,omitempty"`
		SMTPUsername        string   `json:"smtp_username,omitempty"`
		SMTPPassword        string   `json:"smtp_password,omitempty"`
		SMTPFrom            string   `json:"smtp_from,omitempty"`
		DiscordWebhookURL   string   `json:"discord_webhook_url,omitempty"`
		NotifyTimeout       string   `json:"notify_timeout"`
		LogLevel            string   `json:"log_level"`
		CORSAllowedOrigins  []string `json:"cors_allowed_origins,omitempty"`
	}{
		DatabaseURL:         maskSecret(c.DatabaseURL),
		RedisAddr:           c.RedisAddr,
		HTTPAddr:            c.HTTPAddr,
		JWTSecret:           maskSecret(c.JWTSecret),
		StorageDir:          c.StorageDir,
		Retention:           c.RetentionStr,
		PollInterval:        c.PollIntervalStr,
		QueueWorkers:        c.QueueWorkers,
		ClaimBatchSize:      c.ClaimBatchSize,
		StaleClaimAfter:     c.StaleClaimAfterStr,
		ReconcileInterval:   c.ReconcileIntervalStr,
		LeaderRetry:         c.LeaderRetryIntervalStr,
		LeaderHeartbeat:     c.LeaderHeartbeatIntervalStr,
		DBOpTimeout:         c.DBOpTimeoutStr,
		DBMaxOpenConns:      c.DBMaxOpenConns,
		DBMaxIdleConns:      c.DBMaxIdleConns,
		DBConnMaxLifetime:   c.DBConnMaxLifetimeStr,
		DBConnMaxIdleTime:   c.DBConnMaxIdleTimeStr,
		HTTPShutdownTimeout: c.HTTPShutdownTimeoutStr,
		MetricsEnabled:      c.MetricsEnabled,
		MetricsAddr:         c.MetricsAddr,
		MetricsPath:         c.MetricsPath,
		SMTPHost:            c.SMTPHost,
		SMTPPort:            c.SMTPPort,
		SMTPUsername:        c.SMTPUsername,
		SMTPPassword:        maskSecret(c.SMTPPassword),
		SMTPFrom:            c.SMTPFrom,
		DiscordWebhookURL:   maskSecret(c.DiscordWebhookURL),
		NotifyTimeout:       c.NotifyTimeoutStr,
		LogLevel:            c.LogLevel,
		CORSAllowedOrigins:  c.CORSAllowedOrigins,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://", "https://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
