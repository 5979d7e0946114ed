package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"taskvault/internal/config"
)

// captureWarnings runs logConfigWarnings against a buffer-backed logger
// and returns what it wrote.
func captureWarnings(cfg config.Config) string {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	logConfigWarnings(cfg, log)
	return buf.String()
}

func TestLogConfigWarnings_NoTransport(t *testing.T) {
	cfg := config.Config{
		PollInterval:    time.Second,
		StaleClaimAfter: 5 * time.Minute,
	}
	output := captureWarnings(cfg)

	if !strings.Contains(output, "no notification transport configured") {
		t.Error("expected no-transport warning, got:", output)
	}
}

func TestLogConfigWarnings_TransportConfigured(t *testing.T) {
	cfg := config.Config{
		PollInterval:      time.Second,
		StaleClaimAfter:   5 * time.Minute,
		DiscordWebhookURL: "https://discord.com/api/webhooks/x",
	}
	output := captureWarnings(cfg)

	if strings.Contains(output, "no notification transport configured") {
		t.Error("unexpected no-transport warning with discord set:", output)
	}
}

func TestLogConfigWarnings_TightStaleClaim(t *testing.T) {
	cfg := config.Config{
		PollInterval:      time.Minute,
		StaleClaimAfter:   90 * time.Second,
		DiscordWebhookURL: "https://discord.com/api/webhooks/x",
	}
	output := captureWarnings(cfg)

	if !strings.Contains(output, "QUEUE_STALE_CLAIM_AFTER") {
		t.Error("expected tight stale-claim warning, got:", output)
	}
}
