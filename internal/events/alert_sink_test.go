package events

import (
	"context"
	"testing"

	"ChainPact/internal/observability/alerting"
)

type recordingAlertDispatcher struct {
	alerts []alerting.Alert
}

func (d *recordingAlertDispatcher) Notify(_ context.Context, alert alerting.Alert) error {
	d.alerts = append(d.alerts, alert)
	return nil
}

func TestAlertSinkForwardsWatchedKinds(t *testing.T) {
	dispatcher := &recordingAlertDispatcher{}
	sink := NewAlertSink(dispatcher)

	revoked := New(KindAccessRevoked, "0x01", "0xabc").WithMetadata("participant", "0xdef")
	if err := sink.Emit(context.Background(), revoked); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(dispatcher.alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(dispatcher.alerts))
	}
	alert := dispatcher.alerts[0]
	if alert.Kind != string(KindAccessRevoked) || alert.IntentID != "0x01" {
		t.Fatalf("unexpected alert: %+v", alert)
	}
	if alert.Metadata["participant"] != "0xdef" {
		t.Fatalf("metadata must be carried over: %+v", alert.Metadata)
	}
}

func TestAlertSinkIgnoresUnwatchedAndPositiveOutcomes(t *testing.T) {
	dispatcher := &recordingAlertDispatcher{}
	sink := NewAlertSink(dispatcher)

	proposed := New(KindIntentProposed, "0x01", "0xabc")
	if err := sink.Emit(context.Background(), proposed); err != nil {
		t.Fatalf("emit: %v", err)
	}

	// 校验通过不告警，否定结论告警。
	passed := New(KindTierValidated, "0x01", "").WithOutcome("ok")
	if err := sink.Emit(context.Background(), passed); err != nil {
		t.Fatalf("emit: %v", err)
	}
	failed := New(KindTierValidated, "0x01", "").WithOutcome("timelock_not_satisfied")
	if err := sink.Emit(context.Background(), failed); err != nil {
		t.Fatalf("emit: %v", err)
	}

	if len(dispatcher.alerts) != 1 {
		t.Fatalf("expected only the failed validation to alert, got %d", len(dispatcher.alerts))
	}
	if dispatcher.alerts[0].Outcome != "timelock_not_satisfied" {
		t.Fatalf("unexpected alert outcome: %s", dispatcher.alerts[0].Outcome)
	}
}

func TestAlertSinkCustomKindSet(t *testing.T) {
	dispatcher := &recordingAlertDispatcher{}
	sink := NewAlertSink(dispatcher, KindIntentCancelled)

	if err := sink.Emit(context.Background(), New(KindAccessRevoked, "0x01", "")); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := sink.Emit(context.Background(), New(KindIntentCancelled, "0x02", "")); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(dispatcher.alerts) != 1 || dispatcher.alerts[0].IntentID != "0x02" {
		t.Fatalf("custom kind set must replace the default, got %+v", dispatcher.alerts)
	}
}
