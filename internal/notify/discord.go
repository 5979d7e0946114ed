package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// DiscordSender implements Notifier against a Discord webhook.
// Discord returns 204 No Content on success.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{},
	}
}

type discordPayload struct {
	Content string `json:"content"`
}

func (s *DiscordSender) Send(ctx context.Context, msg Message) error {
	title := msg.Title
	if title == "" {
		title = msg.JobID.String()
	}
	content := fmt.Sprintf("**Task** %s\n**Status** %s\n**Info** %s", title, msg.Kind, msg.Detail)

	body, err := json.Marshal(discordPayload{Content: content})
	if err != nil {
		return fmt.Errorf("discord: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord: unexpected status %d", resp.StatusCode)
	}
	return nil
}

var _ Notifier = (*DiscordSender)(nil)
