package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	xerrors "SafeGuard-Agent/internal/errors"
	"SafeGuard-Agent/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog     Channel = "log"
	ChannelChat    Channel = "chat"
	ChannelWebhook Channel = "webhook"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	TransferID string
	Stage      string
	Metadata   map[string]string
	OccurredAt time.Time
}

// FromError 根据错误构造告警事件，错误不需要告警时返回 false。
// stage 为空时使用错误自身标记的阶段。
func FromError(err error, transferID, stage string) (Event, bool) {
	if err == nil || !xerrors.ShouldAlert(err) {
		return Event{}, false
	}
	event := Event{
		Code:       xerrors.CodeOf(err),
		Message:    err.Error(),
		Severity:   xerrors.SeverityOf(err),
		TransferID: transferID,
		Stage:      stage,
		OccurredAt: time.Now().UTC(),
	}
	if e, ok := xerrors.From(err); ok {
		event.Metadata = e.Metadata()
		if event.Stage == "" {
			event.Stage = e.Stage()
		}
	}
	return event, true
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
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

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogNotifier 将告警写入审计日志。
type LogNotifier struct{}

// Channel 返回日志渠道。
func (LogNotifier) Channel() Channel { return ChannelLog }

// Notify 写入一条审计记录。
func (LogNotifier) Notify(_ context.Context, event Event) error {
	attrs := []any{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("transfer_id", event.TransferID),
		slog.String("stage", event.Stage),
	}
	for _, k := range sortedKeys(event.Metadata) {
		attrs = append(attrs, slog.String("meta."+k, event.Metadata[k]))
	}
	logger.Audit().Warn(event.Message, attrs...)
	return nil
}

// ChatSender 向聊天会话发送纯文本消息。
type ChatSender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// ChatNotifier 将告警推送给运维会话。
type ChatNotifier struct {
	Sender ChatSender
	ChatID int64
}

// Channel 返回聊天渠道。
func (n *ChatNotifier) Channel() Channel { return ChannelChat }

// Notify 发送聊天消息。
func (n *ChatNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil || n.ChatID == 0 {
		logger.L().Warn("ChatNotifier 未正确配置，跳过发送", slog.String("transfer_id", event.TransferID))
		return nil
	}
	return n.Sender.SendText(ctx, n.ChatID, format(event))
}

// WebhookNotifier 以 Slack 兼容格式 POST 告警。
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

// Channel 返回 Webhook 渠道。
func (n *WebhookNotifier) Channel() Channel { return ChannelWebhook }

// Notify 发送 Webhook 请求。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || strings.TrimSpace(n.URL) == "" {
		logger.L().Warn("WebhookNotifier 未正确配置，跳过发送", slog.String("transfer_id", event.TransferID))
		return nil
	}
	payload, err := json.Marshal(map[string]string{"text": format(event)})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook 返回状态码 %d", resp.StatusCode)
	}
	return nil
}

func format(event Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", event.Severity, event.Code)
	if event.TransferID != "" {
		fmt.Fprintf(&b, "转账: %s\n", event.TransferID)
	}
	if event.Stage != "" {
		fmt.Fprintf(&b, "阶段: %s\n", event.Stage)
	}
	b.WriteString(event.Message)
	for _, k := range sortedKeys(event.Metadata) {
		fmt.Fprintf(&b, "\n- %s: %s", k, event.Metadata[k])
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
