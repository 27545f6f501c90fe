package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	xerrors "ChainPact/internal/errors"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelWebhook Channel = "webhook"
)

// Alert 描述一次需要告警的协调异常。
type Alert struct {
	Kind       string            `json:"kind"`
	IntentID   string            `json:"intent_id,omitempty"`
	Actor      string            `json:"actor,omitempty"`
	Outcome    string            `json:"outcome,omitempty"`
	Severity   xerrors.Severity  `json:"severity"`
	Message    string            `json:"message"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Notifier 负责将告警发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, alert Alert) error
}

// Dispatcher 将告警广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, alert Alert) error
}

// FanoutDispatcher 实现将告警投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将告警广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, alert Alert) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, alert); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// WebhookNotifier 将告警以 JSON 形式投递到外部回调地址。
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier 创建 WebhookNotifier。timeout 为零时使用 10 秒。
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Channel 返回 webhook 渠道。
func (n *WebhookNotifier) Channel() Channel { return ChannelWebhook }

// Notify 发送告警。非 2xx 响应视为投递失败。
func (n *WebhookNotifier) Notify(ctx context.Context, alert Alert) error {
	if n == nil || n.url == "" {
		return nil
	}
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("编码告警失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造告警请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("投递告警失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("告警回调返回异常状态: %d", resp.StatusCode)
	}
	return nil
}

// ensure interface compliance at compile time
var (
	_ Dispatcher = (*FanoutDispatcher)(nil)
	_ Notifier   = (*WebhookNotifier)(nil)
)
