package events

import (
	"context"
	"log/slog"

	"ChainPact/pkg/logger"
)

// LogSink 把事件写入审计日志。这是默认始终开启的渠道。
type LogSink struct{}

// NewLogSink 创建 LogSink。
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Name 返回渠道名。
func (s *LogSink) Name() string { return "log" }

// Emit 将事件写入审计日志。
func (s *LogSink) Emit(_ context.Context, event Event) error {
	attrs := []any{
		slog.String("event_id", event.ID),
		slog.String("kind", string(event.Kind)),
		slog.String("intent_id", event.IntentID),
		slog.Time("occurred_at", event.OccurredAt),
	}
	if event.Actor != "" {
		attrs = append(attrs, slog.String("actor", event.Actor))
	}
	if event.Outcome != "" {
		attrs = append(attrs, slog.String("outcome", event.Outcome))
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String(k, v))
	}
	logger.Audit().Info("coordination event", attrs...)
	return nil
}

// ensure interface compliance at compile time
var _ Sink = (*LogSink)(nil)
