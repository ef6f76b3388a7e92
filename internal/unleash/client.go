package unleash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	xerrors "defiseek/internal/errors"
)

const (
	defaultBaseURL = "https://api.unleashnfts.com/api/v2"
	defaultTimeout = 30 * time.Second
)

// Config 描述访问 UnleashNFTs 数据 API 所需的信息。
type Config struct {
	APIKey    string
	APIKeyEnv string
	BaseURL   string
	Timeout   time.Duration
}

// Client 封装对 UnleashNFTs REST API 的访问。
// 所有端点都返回统一的 {data: [...], pagination?: {...}} 信封。
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Pagination 是上游响应中的分页信息。
type Pagination struct {
	Offset     int  `json:"offset"`
	Limit      int  `json:"limit"`
	TotalItems int  `json:"total_items"`
	HasNext    bool `json:"has_next"`
}

// Envelope 是上游响应的统一信封结构。
type Envelope struct {
	Data       []json.RawMessage `json:"data"`
	Pagination *Pagination       `json:"pagination,omitempty"`
}

// NewClient 根据配置创建客户端。缺少 API Key 时立即失败并指明环境变量名。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.APIKeyEnv != "" {
		apiKey = strings.TrimSpace(os.Getenv(cfg.APIKeyEnv))
	}
	if apiKey == "" {
		if cfg.APIKeyEnv != "" {
			return nil, fmt.Errorf("未提供数据 API Key：请设置环境变量 %s", cfg.APIKeyEnv)
		}
		return nil, errors.New("未提供数据 API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Get 对指定路径发起一次 GET 请求并返回信封中的 data 数组。
// 非 2xx 响应与空 data 均视为失败，调用方不做重试。
func (c *Client) Get(ctx context.Context, path string, query url.Values) ([]json.RawMessage, error) {
	envelope, err := c.get(ctx, path, query)
	if err != nil {
		return nil, err
	}
	if len(envelope.Data) == 0 {
		return nil, xerrors.New(xerrors.CodeAgentDataUnavailable,
			fmt.Sprintf("上游 %s 返回了空的 data", path))
	}
	return envelope.Data, nil
}

// GetOne 期望 data 数组恰好有一个元素并将其解码到 out。
func (c *Client) GetOne(ctx context.Context, path string, query url.Values, out any) error {
	data, err := c.Get(ctx, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data[0], out); err != nil {
		return xerrors.Wrap(xerrors.CodeAgentDataUnavailable, err,
			fmt.Sprintf("解析上游 %s 的 data 失败", path))
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (*Envelope, error) {
	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeAgentTransport, err, "构建上游请求失败")
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeAgentTransport, err, "请求上游数据 API 失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, xerrors.New(xerrors.CodeAgentTransport,
			fmt.Sprintf("上游返回错误状态 %d", resp.StatusCode),
			xerrors.WithMetadata("status", fmt.Sprintf("%d", resp.StatusCode)),
			xerrors.WithMetadata("body", strings.TrimSpace(string(body))),
		)
	}

	var envelope Envelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeAgentDataUnavailable, err, "解析上游响应失败")
	}
	return &envelope, nil
}
