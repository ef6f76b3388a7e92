package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	xerrors "defiseek/internal/errors"
	"defiseek/pkg/logger"
)

// Channel identifies a notification transport.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelDingTalk Channel = "dingtalk"
	ChannelSlack    Channel = "slack"
)

// Event carries the context of an alert worth paging about.
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	Channel    Channel
	ChatID     string
	AgentID    string
	Metadata   map[string]string
	OccurredAt time.Time
}

// Notifier delivers an alert event through one channel.
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher fans events out to the configured notifiers.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event) error
}

// FanoutDispatcher sends each event to every registered notifier.
type FanoutDispatcher struct {
	notifiers []Notifier
}

// NewFanout builds a dispatcher over the given notifiers. Nil entries are skipped.
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	filtered := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			filtered = append(filtered, n)
		}
	}
	return &FanoutDispatcher{notifiers: filtered}
}

// Dispatch forwards the event to all notifiers and joins their failures.
func (d *FanoutDispatcher) Dispatch(ctx context.Context, event Event) error {
	if d == nil || len(d.notifiers) == 0 {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	var errs []error
	for _, notifier := range d.notifiers {
		scoped := event
		scoped.Channel = notifier.Channel()
		if err := notifier.Notify(ctx, scoped); err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", notifier.Channel(), err))
		}
	}
	return errors.Join(errs...)
}

// EventFromError derives an alert event from a coordinator or agent failure.
// It returns false when the error does not warrant an alert.
func EventFromError(err error, chatID string) (Event, bool) {
	if !xerrors.ShouldAlert(err) {
		return Event{}, false
	}
	event := Event{
		Code:       xerrors.CodeOf(err),
		Message:    err.Error(),
		Severity:   xerrors.SeverityOf(err),
		ChatID:     chatID,
		OccurredAt: time.Now(),
	}
	var appErr *xerrors.Error
	if errors.As(err, &appErr) {
		meta := appErr.Metadata()
		if len(meta) > 0 {
			event.Metadata = meta
			event.AgentID = meta["agent"]
		}
	}
	return event, true
}

// DispatchError is a convenience wrapper that dispatches alerts for errors
// flagged as alert-worthy and logs dispatch failures instead of returning them.
func DispatchError(ctx context.Context, dispatcher Dispatcher, err error, chatID string) {
	if dispatcher == nil {
		return
	}
	event, ok := EventFromError(err, chatID)
	if !ok {
		return
	}
	if dispatchErr := dispatcher.Dispatch(ctx, event); dispatchErr != nil {
		logger.L().Warn("告警分发失败",
			"code", string(event.Code),
			"error", dispatchErr.Error(),
		)
	}
}

// EmailSender abstracts the SMTP delivery used by EmailNotifier.
type EmailSender interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// EmailNotifier sends alert mails to a fixed recipient list.
type EmailNotifier struct {
	sender     EmailSender
	recipients []string
}

func NewEmailNotifier(sender EmailSender, recipients []string) *EmailNotifier {
	return &EmailNotifier{sender: sender, recipients: recipients}
}

func (n *EmailNotifier) Channel() Channel { return ChannelEmail }

func (n *EmailNotifier) Notify(ctx context.Context, event Event) error {
	if n.sender == nil || len(n.recipients) == 0 {
		logger.L().Warn("邮件告警未配置，跳过发送", "code", string(event.Code))
		return nil
	}
	subject := fmt.Sprintf("[DeFiSeek 告警] %s", event.Code)
	return n.sender.Send(ctx, n.recipients, subject, renderBody(event))
}

// WebhookSender posts a text payload to a chat webhook.
type WebhookSender interface {
	Post(ctx context.Context, text string) error
}

// DingTalkNotifier posts alerts to a DingTalk group robot.
type DingTalkNotifier struct {
	sender WebhookSender
}

func NewDingTalkNotifier(sender WebhookSender) *DingTalkNotifier {
	return &DingTalkNotifier{sender: sender}
}

func (n *DingTalkNotifier) Channel() Channel { return ChannelDingTalk }

func (n *DingTalkNotifier) Notify(ctx context.Context, event Event) error {
	if n.sender == nil {
		logger.L().Warn("钉钉告警未配置，跳过发送", "code", string(event.Code))
		return nil
	}
	return n.sender.Post(ctx, renderBody(event))
}

// SlackNotifier posts alerts to a Slack incoming webhook.
type SlackNotifier struct {
	sender WebhookSender
}

func NewSlackNotifier(sender WebhookSender) *SlackNotifier {
	return &SlackNotifier{sender: sender}
}

func (n *SlackNotifier) Channel() Channel { return ChannelSlack }

func (n *SlackNotifier) Notify(ctx context.Context, event Event) error {
	if n.sender == nil {
		logger.L().Warn("Slack 告警未配置，跳过发送", "code", string(event.Code))
		return nil
	}
	return n.sender.Post(ctx, renderBody(event))
}

func renderBody(event Event) string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("错误码: %s\n", event.Code))
	builder.WriteString(fmt.Sprintf("级别: %s\n", event.Severity))
	builder.WriteString(fmt.Sprintf("消息: %s\n", event.Message))
	if event.ChatID != "" {
		builder.WriteString(fmt.Sprintf("会话: %s\n", event.ChatID))
	}
	if event.AgentID != "" {
		builder.WriteString(fmt.Sprintf("智能体: %s\n", event.AgentID))
	}
	for key, value := range event.Metadata {
		if key == "agent" {
			continue
		}
		builder.WriteString(fmt.Sprintf("%s: %s\n", key, value))
	}
	builder.WriteString(fmt.Sprintf("时间: %s\n", event.OccurredAt.Format(time.RFC3339)))
	return builder.String()
}
