package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const webhookTimeout = 5 * time.Second

// HTTPWebhook posts alert text to an incoming-webhook URL.
// Slack 与钉钉的 payload 结构不同，由 style 区分。
type HTTPWebhook struct {
	url    string
	style  Channel
	client *http.Client
}

// NewSlackWebhook 构造 Slack incoming webhook 发送器。
func NewSlackWebhook(url string) *HTTPWebhook {
	return newWebhook(url, ChannelSlack)
}

// NewDingTalkWebhook 构造钉钉群机器人发送器。
func NewDingTalkWebhook(url string) *HTTPWebhook {
	return newWebhook(url, ChannelDingTalk)
}

func newWebhook(url string, style Channel) *HTTPWebhook {
	if url == "" {
		return nil
	}
	return &HTTPWebhook{
		url:    url,
		style:  style,
		client: &http.Client{Timeout: webhookTimeout},
	}
}

// Post implements WebhookSender.
func (h *HTTPWebhook) Post(ctx context.Context, text string) error {
	var payload any
	switch h.style {
	case ChannelDingTalk:
		payload = map[string]any{
			"msgtype": "text",
			"text":    map[string]string{"content": text},
		}
	default:
		payload = map[string]string{"text": text}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化 webhook 载荷失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造 webhook 请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送 webhook 失败: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook 返回状态码 %d", resp.StatusCode)
	}
	return nil
}
