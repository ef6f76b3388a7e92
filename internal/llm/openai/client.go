package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"defiseek/internal/llm"
)

const (
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
)

// Config 描述了调用 OpenAI 兼容 Chat Completions API 所需的信息。
// DeepSeek、Groq 等提供方通过 BaseURL 切换。
type Config struct {
	APIKey    string
	APIKeyEnv string
	BaseURL   string
	Model     string
	Timeout   time.Duration
}

// Client 通过 OpenAI 兼容协议调用大模型。
type Client struct {
	inner *goopenai.Client
	model string
}

// NewClient 根据配置创建客户端。缺少 API Key 时立即失败并指明环境变量名。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.APIKeyEnv != "" {
		apiKey = strings.TrimSpace(os.Getenv(cfg.APIKeyEnv))
	}
	if apiKey == "" {
		if cfg.APIKeyEnv != "" {
			return nil, fmt.Errorf("未提供大模型 API Key：请设置环境变量 %s", cfg.APIKeyEnv)
		}
		return nil, errors.New("未提供大模型 API Key")
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	clientCfg := goopenai.DefaultConfig(apiKey)
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	return &Client{
		inner: goopenai.NewClientWithConfig(clientCfg),
		model: model,
	}, nil
}

// WithModel 返回一个共享底层连接但使用指定模型的客户端。
func (c *Client) WithModel(apiModel string) *Client {
	apiModel = strings.TrimSpace(apiModel)
	if c == nil || apiModel == "" {
		return c
	}
	return &Client{inner: c.inner, model: apiModel}
}

// ForModel 实现 llm.Selector。
func (c *Client) ForModel(apiModel string) llm.Client {
	return c.WithModel(apiModel)
}

// Complete 发起一次非流式调用。
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	resp, err := c.inner.CreateChatCompletion(ctx, c.buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("请求大模型失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("大模型响应中没有有效的 choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, errors.New("大模型响应内容为空")
	}
	return &llm.Response{Content: content}, nil
}

// Stream 发起一次流式调用。
func (c *Client) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	inner, err := c.inner.CreateChatCompletionStream(ctx, c.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("建立大模型流式连接失败: %w", err)
	}
	return &stream{inner: inner}, nil
}

func (c *Client) buildRequest(req llm.Request, streaming bool) goopenai.ChatCompletionRequest {
	messages := make([]goopenai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	out := goopenai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      streaming,
	}
	if req.JSONOnly {
		out.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return out
}

// stream 将 go-openai 的流式响应适配为 llm.Stream。
type stream struct {
	inner *goopenai.ChatCompletionStream
}

// Recv 返回下一段增量文本，流结束时返回 io.EOF。
func (s *stream) Recv() (llm.Chunk, error) {
	resp, err := s.inner.Recv()
	if err != nil {
		return llm.Chunk{}, err
	}
	if len(resp.Choices) == 0 {
		return llm.Chunk{}, nil
	}
	return llm.Chunk{Delta: resp.Choices[0].Delta.Content}, nil
}

// Close 关闭底层连接。
func (s *stream) Close() error {
	return s.inner.Close()
}

var _ llm.Client = (*Client)(nil)
