package events

import (
	"context"
	"errors"
	"testing"
)

type recordingSink struct {
	name   string
	events []Event
	err    error
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Emit(_ context.Context, event Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func TestNewAssignsIdentityAndTimestamp(t *testing.T) {
	event := New(KindIntentProposed, "0x01", "0x10")
	if event.ID == "" {
		t.Fatal("event must carry an identifier")
	}
	if event.OccurredAt.IsZero() {
		t.Fatal("event must carry a timestamp")
	}

	other := New(KindIntentProposed, "0x01", "0x10")
	if event.ID == other.ID {
		t.Fatal("identifiers must be unique")
	}
}

func TestBuildersDoNotMutateOriginal(t *testing.T) {
	base := New(KindTierValidated, "0x01", "")
	withMeta := base.WithMetadata("tier", "standard").WithOutcome("ok")

	if base.Outcome != "" || base.Metadata != nil {
		t.Fatalf("builders must not mutate the original: %+v", base)
	}
	if withMeta.Metadata["tier"] != "standard" || withMeta.Outcome != "ok" {
		t.Fatalf("builder result incomplete: %+v", withMeta)
	}
}

func TestFanoutDeliversToAllSinks(t *testing.T) {
	first := &recordingSink{name: "first"}
	second := &recordingSink{name: "second"}
	dispatcher := NewFanout(first, nil, second)

	if err := dispatcher.Dispatch(context.Background(), New(KindIntentExecuted, "0x01", "0x10")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(first.events) != 1 || len(second.events) != 1 {
		t.Fatalf("event not delivered everywhere: %d/%d", len(first.events), len(second.events))
	}
}

func TestFanoutAggregatesFailures(t *testing.T) {
	boom := errors.New("boom")
	failing := &recordingSink{name: "failing", err: boom}
	healthy := &recordingSink{name: "healthy"}
	dispatcher := NewFanout(failing, healthy)

	err := dispatcher.Dispatch(context.Background(), New(KindAccessRevoked, "0x01", "0x10"))
	if !errors.Is(err, boom) {
		t.Fatalf("expected aggregated failure, got %v", err)
	}
	// 单渠道失败不阻断其它渠道。
	if len(healthy.events) != 1 {
		t.Fatalf("healthy sink skipped: %d", len(healthy.events))
	}
}
