package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind 标识协调核心对外可观测的事件类型。
type Kind string

const (
	KindContextCreated  Kind = "context.created"
	KindTierValidated   Kind = "tier.validated"
	KindTierUpgraded    Kind = "tier.upgraded"
	KindAccessRevoked   Kind = "access.revoked"
	KindKeyRegistered   Kind = "key.registered"
	KindIntentProposed  Kind = "intent.proposed"
	KindIntentAccepted  Kind = "intent.accepted"
	KindIntentExecuted  Kind = "intent.executed"
	KindIntentCancelled Kind = "intent.cancelled"
	KindIntentExpired   Kind = "intent.expired"
)

// Event 描述一次需要对外广播的协调事件。
type Event struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	IntentID   string            `json:"intent_id"`
	Actor      string            `json:"actor,omitempty"`
	Outcome    string            `json:"outcome,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// New 构造事件并分配标识。
func New(kind Kind, intentID, actor string) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		IntentID:   intentID,
		Actor:      actor,
		OccurredAt: time.Now().UTC(),
	}
}

// WithOutcome 设置事件结果描述。
func (e Event) WithOutcome(outcome string) Event {
	e.Outcome = outcome
	return e
}

// WithMetadata 附加键值信息。
func (e Event) WithMetadata(key, value string) Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// Sink 负责把事件投递到某个外部渠道。
type Sink interface {
	Name() string
	Emit(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个投递渠道。
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个渠道的逻辑。
type FanoutDispatcher struct {
	sinks map[string]Sink
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(sinks ...Sink) *FanoutDispatcher {
	set := make(map[string]Sink, len(sinks))
	for _, s := range sinks {
		if s == nil {
			continue
		}
		set[s.Name()] = s
	}
	return &FanoutDispatcher{sinks: set}
}

// Dispatch 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Dispatch(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, sink := range d.sinks {
		if err := sink.Emit(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", sink.Name(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ensure interface compliance at compile time
var _ Dispatcher = (*FanoutDispatcher)(nil)
