package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tipline/internal/config"
	"tipline/internal/notifications"
)

func TestNewAlerterReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	alerter := notifications.NewAlerter(&cfg)
	if err := alerter.NotifyError(context.Background(), errors.New("boom"), "cleaning"); err != nil {
		t.Fatalf("expected noop alerter to return nil, got %v", err)
	}
}

func TestNtfyAlerterFormatsPayloads(t *testing.T) {
	type request struct {
		title, tags, priority, body string
	}
	requests := make(chan request, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests <- request{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	alerter := notifications.NewAlerter(&cfg)
	ctx := context.Background()

	if err := alerter.NotifyError(ctx, errors.New("disk full"), "cleaning"); err != nil {
		t.Fatalf("NotifyError: %v", err)
	}
	got := <-requests
	if got.title != "Tipline - Error" || got.body != "Error in cleaning: disk full" || got.priority != "high" {
		t.Fatalf("unexpected error payload: %+v", got)
	}

	if err := alerter.NotifyKeyInvalid(ctx, "alice"); err != nil {
		t.Fatalf("NotifyKeyInvalid: %v", err)
	}
	got = <-requests
	if got.title != "Tipline - Receiver Key Invalid" || got.tags != "tipline,key,invalid" {
		t.Fatalf("unexpected key payload: %+v", got)
	}

	if err := alerter.NotifySweepCompleted(ctx, 3, 0, time.Second); err != nil {
		t.Fatalf("NotifySweepCompleted: %v", err)
	}
	if err := alerter.NotifySweepCompleted(ctx, 3, 1, 1500*time.Millisecond); err != nil {
		t.Fatalf("NotifySweepCompleted: %v", err)
	}
	got = <-requests
	if got.body != "Expiry sweep: 3 deleted, 1 failed in 2s" {
		t.Fatalf("unexpected sweep payload: %+v", got)
	}
	select {
	case extra := <-requests:
		t.Fatalf("clean sweep must not alert, got %+v", extra)
	default:
	}
}

func TestNtfyAlerterRespectsToggles(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Errors = false
	cfg.Notifications.KeyWarnings = false
	alerter := notifications.NewAlerter(&cfg)

	_ = alerter.NotifyError(context.Background(), errors.New("x"), "y")
	_ = alerter.NotifyKeyInvalid(context.Background(), "alice")
	if called {
		t.Fatal("disabled alerts must not be published")
	}
}

func TestNtfyAlerterReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	if err := notifications.NewAlerter(&cfg).TestNotification(context.Background()); err == nil {
		t.Fatal("expected error for 403 response")
	}
}
