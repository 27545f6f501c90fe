package events

import (
	"context"

	xerrors "ChainPact/internal/errors"
	"ChainPact/internal/observability/alerting"
)

// defaultAlertKinds 列出默认触发告警的事件类型。吊销与过期是
// 安全相关的终态变化，校验事件仅在结论为否定时告警。
var defaultAlertKinds = map[Kind]struct{}{
	KindAccessRevoked: {},
	KindIntentExpired: {},
	KindTierValidated: {},
}

// AlertSink 把安全相关事件转发给告警分发器。
type AlertSink struct {
	dispatcher alerting.Dispatcher
	kinds      map[Kind]struct{}
}

// NewAlertSink 创建 AlertSink。kinds 为空时使用默认关注集合。
func NewAlertSink(dispatcher alerting.Dispatcher, kinds ...Kind) *AlertSink {
	watched := defaultAlertKinds
	if len(kinds) > 0 {
		watched = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			watched[k] = struct{}{}
		}
	}
	return &AlertSink{dispatcher: dispatcher, kinds: watched}
}

// Name 返回渠道名。
func (s *AlertSink) Name() string { return "alert" }

// Emit 将命中关注集合的事件转为告警。校验通过的事件不告警。
func (s *AlertSink) Emit(ctx context.Context, event Event) error {
	if s.dispatcher == nil {
		return nil
	}
	if _, ok := s.kinds[event.Kind]; !ok {
		return nil
	}
	if event.Kind == KindTierValidated && event.Outcome == "ok" {
		return nil
	}
	return s.dispatcher.Notify(ctx, alerting.Alert{
		Kind:       string(event.Kind),
		IntentID:   event.IntentID,
		Actor:      event.Actor,
		Outcome:    event.Outcome,
		Severity:   xerrors.SeverityWarning,
		Message:    "coordination event requires attention",
		Metadata:   event.Metadata,
		OccurredAt: event.OccurredAt,
	})
}

// ensure interface compliance at compile time
var _ Sink = (*AlertSink)(nil)
