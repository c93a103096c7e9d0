package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"ConsensusMCP-Chain/internal/config"
	xerrors "ConsensusMCP-Chain/internal/errors"
	"ConsensusMCP-Chain/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog     Channel = "log"
	ChannelWebhook Channel = "webhook"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code       xerrors.Code      `json:"code"`
	Message    string            `json:"message"`
	Severity   xerrors.Severity  `json:"severity"`
	Pair       string            `json:"pair,omitempty"`
	RoundID    string            `json:"round_id,omitempty"`
	Attempts   int               `json:"attempts,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// EventFromError 将带错误码的错误转换为告警事件。
func EventFromError(err error, pair, roundID string) Event {
	event := Event{
		Code:       xerrors.CodeOf(err),
		Message:    err.Error(),
		Severity:   xerrors.SeverityOf(err),
		Pair:       pair,
		RoundID:    roundID,
		OccurredAt: time.Now().UTC(),
	}
	if coded, ok := xerrors.From(err); ok {
		event.Metadata = coded.Metadata()
	}
	return event
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

// FromConfig 按配置组装分发器，未启用时返回 nil。
func FromConfig(cfg config.AlertingConfig) Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	notifiers := []Notifier{&LogNotifier{}}
	if strings.TrimSpace(cfg.WebhookURL) != "" {
		notifiers = append(notifiers, NewWebhookNotifier(cfg.WebhookURL, cfg.Timeout()))
	}
	return NewFanout(notifiers...)
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	channels := make([]string, 0, len(d.notifiers))
	for ch := range d.notifiers {
		channels = append(channels, string(ch))
	}
	sort.Strings(channels)

	var errs []error
	for _, ch := range channels {
		notifier := d.notifiers[Channel(ch)]
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", ch, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogNotifier 将告警写入结构化日志。
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel 返回日志渠道。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 记录告警。
func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	log := logger.Named("alerting")
	if n != nil && n.Logger != nil {
		log = n.Logger
	}
	attrs := []any{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("pair", event.Pair),
		slog.String("round_id", event.RoundID),
		slog.Time("occurred_at", event.OccurredAt),
	}
	if event.Attempts > 0 {
		attrs = append(attrs, slog.Int("attempts", event.Attempts))
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String("meta_"+k, v))
	}
	log.Error(event.Message, attrs...)
	return nil
}

// WebhookNotifier 以 JSON 形式推送告警到 HTTP 端点。
type WebhookNotifier struct {
	url    string
	client *resty.Client
}

// NewWebhookNotifier 创建 webhook 通知器。
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &WebhookNotifier{url: strings.TrimSpace(url), client: client}
}

// Channel 返回 webhook 渠道。
func (n *WebhookNotifier) Channel() Channel { return ChannelWebhook }

// Notify 推送事件。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.url == "" {
		logger.L().Warn("WebhookNotifier 未正确配置，跳过发送", slog.String("code", string(event.Code)))
		return nil
	}
	resp, err := n.client.R().SetContext(ctx).SetBody(event).Post(n.url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("webhook responded %d", resp.StatusCode())
	}
	return nil
}
