package observability

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSlackNotifier_NoAlerts(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL)
	if err := n.Notify(context.Background(), nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if called {
		t.Fatal("expected no HTTP request for empty alerts")
	}
}

func TestSlackNotifier_SendsAlerts(t *testing.T) {
	var body []byte
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	alerts := []Alert{
		{ID: "blocked-account-alice", Severity: SeverityHigh, Message: "account alice has been blocked for more than 8 hours", TriggeredAt: time.Date(2024, time.June, 10, 12, 0, 0, 0, time.UTC)},
		{ID: "reblocked-erin", Severity: SeverityMedium, Message: "account erin was re-blocked 3 times after self-unblocking"},
	}
	if err := NewSlackNotifier(srv.URL).Notify(context.Background(), alerts); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if contentType != "application/json" {
		t.Errorf("Content-Type = %q", contentType)
	}
	var msg slackMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	// header, section, divider, section
	if len(msg.Blocks) != 4 {
		t.Fatalf("got %d blocks, want 4", len(msg.Blocks))
	}
	if !strings.Contains(msg.Blocks[0].Text.Text, "2 overdue alert") {
		t.Errorf("header = %q", msg.Blocks[0].Text.Text)
	}
	if !strings.Contains(msg.Blocks[1].Text.Text, "*[HIGH]*") || !strings.Contains(msg.Blocks[1].Text.Text, "2024-06-10 12:00 UTC") {
		t.Errorf("section = %q", msg.Blocks[1].Text.Text)
	}
}

func TestSlackNotifier_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewSlackNotifier(srv.URL).Notify(context.Background(), []Alert{{ID: "x"}})
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("err = %v, want status 500", err)
	}
}

func TestSlackNotifier_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewSlackNotifier(srv.URL).Notify(ctx, []Alert{{ID: "x"}}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
