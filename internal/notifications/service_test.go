package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"pulmo/internal/config"
	"pulmo/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyRequestCompleted(context.Background(), "P1", "report.txt"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		notify         func(notifications.Service) error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name: "request completed",
			notify: func(svc notifications.Service) error {
				return svc.NotifyRequestCompleted(context.Background(), "TEST-001", "pft.txt")
			},
			expectTitle:   "Pulmo - Report Ready",
			expectMessage: "Report ready for TEST-001: pft.txt",
			expectTags:    "pulmo,report,completed",
		},
		{
			name: "request completed without patient",
			notify: func(svc notifications.Service) error {
				return svc.NotifyRequestCompleted(context.Background(), "", "pft.txt")
			},
			expectTitle:   "Pulmo - Report Ready",
			expectMessage: "Report ready: pft.txt",
			expectTags:    "pulmo,report,completed",
		},
		{
			name: "request failed",
			notify: func(svc notifications.Service) error {
				return svc.NotifyRequestFailed(context.Background(), "pft.txt", "Stage extracting failed")
			},
			expectTitle:    "Pulmo - Processing Failed",
			expectMessage:  "Failed: pft.txt\nStage extracting failed",
			expectTags:     "pulmo,error,alert",
			expectPriority: "high",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Fatalf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
				captured.body = string(body)
				_ = r.Body.Close()
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			svc := notifications.NewService(&cfg)
			if err := tc.notify(svc); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceHonorsEventToggles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected call for disabled event: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Completed = false
	cfg.Notifications.Errors = false

	svc := notifications.NewService(&cfg)
	if err := svc.NotifyRequestCompleted(context.Background(), "P1", "pft.txt"); err != nil {
		t.Fatalf("expected disabled completed event to be silent, got %v", err)
	}
	if err := svc.NotifyRequestFailed(context.Background(), "pft.txt", "boom"); err != nil {
		t.Fatalf("expected disabled error event to be silent, got %v", err)
	}
}
