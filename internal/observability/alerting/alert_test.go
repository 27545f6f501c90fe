package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "ChainPact/internal/errors"
)

func TestWebhookNotifierPostsAlert(t *testing.T) {
	var received Alert
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type: %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode alert: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, time.Second)
	alert := Alert{
		Kind:       "access.revoked",
		IntentID:   "0x01",
		Severity:   xerrors.SeverityWarning,
		Message:    "participant revoked",
		OccurredAt: time.Now().UTC(),
	}
	if err := notifier.Notify(context.Background(), alert); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if received.Kind != alert.Kind || received.IntentID != alert.IntentID {
		t.Fatalf("unexpected delivered alert: %+v", received)
	}
}

func TestWebhookNotifierRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, time.Second)
	if err := notifier.Notify(context.Background(), Alert{Kind: "intent.expired"}); err == nil {
		t.Fatal("expected error for 5xx response")
	}
}

type failingNotifier struct {
	channel Channel
	err     error
}

func (n *failingNotifier) Channel() Channel { return n.channel }

func (n *failingNotifier) Notify(context.Context, Alert) error { return n.err }

func TestFanoutAggregatesFailures(t *testing.T) {
	cause := errors.New("delivery refused")
	fanout := NewFanout(
		&failingNotifier{channel: Channel("first")},
		&failingNotifier{channel: Channel("second"), err: cause},
		nil,
	)

	err := fanout.Notify(context.Background(), Alert{Kind: "tier.validated"})
	if !errors.Is(err, cause) {
		t.Fatalf("aggregated error must preserve cause, got %v", err)
	}
}
