package main

import (
	"github.com/rs/zerolog"

	"taskvault/internal/config"
)

// logConfigWarnings flags configurations that boot fine but degrade the
// service in ways operators tend to discover too late.
func logConfigWarnings(cfg config.Config, log zerolog.Logger) {
	if !cfg.SMTPConfigured() && cfg.DiscordWebhookURL == "" {
		log.Warn().Msg("no notification transport configured; reminders will complete without delivering anything")
	}

	if cfg.StaleClaimAfter < 2*cfg.PollInterval {
		log.Warn().
			Dur("stale_claim_after", cfg.StaleClaimAfter).
			Dur("poll_interval", cfg.PollInterval).
			Msg("QUEUE_STALE_CLAIM_AFTER is close to the poll interval; healthy executions may be requeued mid-flight")
	}

	if !cfg.MetricsEnabled {
		log.Info().Msg("METRICS_ENABLED not set; metrics disabled")
	}

	if len(cfg.CORSAllowedOrigins) == 0 {
		log.Info().Msg("CORS_ALLOWED_ORIGINS not set; browser clients from other origins will be rejected")
	}
}
