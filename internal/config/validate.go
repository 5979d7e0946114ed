package config

import (
	"fmt"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	if cfg.JWTSecret == "" {
		errs = append(errs, ValidationError{
			Field:   "JWT_SECRET",
			Message: "required",
		})
	}

	if cfg.StorageDir == "" {
		errs = append(errs, ValidationError{
			Field:   "STORAGE_DIR",
			Message: "must not be empty",
		})
	}

	durations := []struct {
		field string
		raw   string
	}{
		{"CLEANUP_RETENTION", cfg.RetentionStr},
		{"QUEUE_POLL_INTERVAL", cfg.PollIntervalStr},
		{"QUEUE_STALE_CLAIM_AFTER", cfg.StaleClaimAfterStr},
		{"QUEUE_RECONCILE_INTERVAL", cfg.ReconcileIntervalStr},
		{"LEADER_RETRY_INTERVAL", cfg.LeaderRetryIntervalStr},
		{"LEADER_HEARTBEAT_INTERVAL", cfg.LeaderHeartbeatIntervalStr},
		{"DB_OP_TIMEOUT", cfg.DBOpTimeoutStr},
		{"NOTIFY_TIMEOUT", cfg.NotifyTimeoutStr},
	}
	for _, dur := range durations {
		if dur.raw == "" {
			continue
		}
		d, err := time.ParseDuration(dur.raw)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   dur.field,
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   dur.field,
				Message: "must be positive",
			})
		}
	}

	// A stale-claim threshold at or below the poll interval would requeue
	// entries that are still executing.
	if cfg.StaleClaimAfter > 0 && cfg.PollInterval > 0 && cfg.StaleClaimAfter <= cfg.PollInterval {
		errs = append(errs, ValidationError{
			Field:   "QUEUE_STALE_CLAIM_AFTER",
			Message: "must exceed QUEUE_POLL_INTERVAL",
		})
	}

	switch cfg.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "LOG_LEVEL",
			Message: fmt.Sprintf("must be one of trace, debug, info, warn, error; got %q", cfg.LogLevel),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
