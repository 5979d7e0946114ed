package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestDiscordSender_Success(t *testing.T) {
	var gotBody []byte
	var gotContentType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sender := NewDiscordSender(server.URL)
	err := sender.Send(context.Background(), Message{
		Kind:   KindCompleted,
		JobID:  uuid.New(),
		Title:  "nightly cleanup",
		Detail: "Deleted 3 files",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotContentType != "application/json" {
		t.Errorf("expected application/json, got %q", gotContentType)
	}

	var payload discordPayload
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if !strings.Contains(payload.Content, "nightly cleanup") {
		t.Errorf("content should include the title, got %q", payload.Content)
	}
	if !strings.Contains(payload.Content, "Deleted 3 files") {
		t.Errorf("content should include the detail, got %q", payload.Content)
	}
}

func TestDiscordSender_NonNoContentStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	sender := NewDiscordSender(server.URL)
	err := sender.Send(context.Background(), Message{JobID: uuid.New()})
	if err == nil {
		t.Fatal("expected error on non-204 response")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error should carry the status code, got %q", err)
	}
}

func TestDiscordSender_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sender := NewDiscordSender(server.URL)
	if err := sender.Send(ctx, Message{JobID: uuid.New()}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestComposeEmail_SubjectPerKind(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindScheduled, "scheduled"},
		{KindReminder, "Reminder"},
		{KindCompleted, "completed"},
		{KindFailed, "failed"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			subject, body := composeEmail(Message{
				Kind:   tt.kind,
				JobID:  uuid.New(),
				Title:  "report",
				Detail: "some detail",
			})
			if !strings.Contains(subject, tt.want) {
				t.Errorf("subject %q should contain %q", subject, tt.want)
			}
			if !strings.Contains(body, "some detail") {
				t.Errorf("body should contain the detail, got %q", body)
			}
		})
	}
}
