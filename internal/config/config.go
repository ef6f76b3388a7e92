// Package config 负责加载 DeFiSeek 启动所需的 JSON 配置并填充默认值。
// 凡是机密信息（API Key、JWT 密钥、DSN）一律通过环境变量名间接引用，
// 配置文件本身不落任何密文。
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述 DeFiSeek 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Logger    LoggerConfig    `json:"logger"`
	Auth      AuthConfig      `json:"auth"`
	Storage   StorageConfig   `json:"storage"`
	Queue     QueueConfig     `json:"queue"`
	LLM       LLMConfig       `json:"llm"`
	Unleash   UnleashConfig   `json:"unleash"`
	Web3      Web3Config      `json:"web3"`
	Knowledge KnowledgeConfig `json:"knowledge"`
	Alerting  AlertingConfig  `json:"alerting"`
}

// AlertingConfig 配置告警通道。webhook 地址通过环境变量注入。
type AlertingConfig struct {
	SlackWebhookEnv    string `json:"slack_webhook_env"`
	DingTalkWebhookEnv string `json:"dingtalk_webhook_env"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
}

// LoggerConfig 控制结构化日志与审计日志输出。
type LoggerConfig struct {
	Level   string      `json:"level"`
	Format  string      `json:"format"`
	Outputs []string    `json:"outputs"`
	Audit   AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志文件。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// AuthConfig 控制身份认证模式与初始账号。
type AuthConfig struct {
	Mode  string       `json:"mode"`
	JWT   JWTConfig    `json:"jwt"`
	Seeds []SeedConfig `json:"seeds"`
}

// JWTConfig 描述 HS256 签名参数。密钥通过环境变量注入。
type JWTConfig struct {
	SecretEnv  string   `json:"secret_env"`
	Issuer     string   `json:"issuer"`
	Audience   []string `json:"audience"`
	AccessTTL  int64    `json:"access_ttl_seconds"`
	RefreshTTL int64    `json:"refresh_ttl_seconds"`
}

// SeedConfig 描述启动时写入的初始账号。
type SeedConfig struct {
	Username    string   `json:"username"`
	PasswordEnv string   `json:"password_env"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Disabled    bool     `json:"disabled"`
}

// StorageConfig 选择会话、用户与用量数据的持久化后端。
type StorageConfig struct {
	Driver  string      `json:"driver"`
	DataDir string      `json:"data_dir"`
	MySQL   MySQLConfig `json:"mysql"`
}

// MySQLConfig 描述 MySQL 连接参数。DSN 通过环境变量注入。
type MySQLConfig struct {
	DSNEnv          string `json:"dsn_env"`
	MaxOpenConns    int    `json:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime_seconds"`
}

// QueueConfig 选择用量事件队列的实现。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Workers  int            `json:"workers"`
	Buffer   int            `json:"buffer"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列连接参数。
type RedisConfig struct {
	Address     string `json:"address"`
	PasswordEnv string `json:"password_env"`
	DB          int    `json:"db"`
	Queue       string `json:"queue"`
}

// RabbitMQConfig 描述 RabbitMQ 队列连接参数。
type RabbitMQConfig struct {
	URLEnv   string `json:"url_env"`
	Queue    string `json:"queue"`
	Prefetch int    `json:"prefetch"`
}

// LLMConfig 配置大模型调用方式。
type LLMConfig struct {
	APIKeyEnv string `json:"api_key_env"`
	BaseURL   string `json:"base_url"`
	Model     string `json:"model"`
	Timeout   int    `json:"timeout_seconds"`
}

// UnleashConfig 配置上游数据 API 的访问。
type UnleashConfig struct {
	APIKeyEnv string `json:"api_key_env"`
	BaseURL   string `json:"base_url"`
	Timeout   int    `json:"timeout_seconds"`
	// MockWalletRisk 显式启用钱包风险的确定性本地评分，替代上游调用。
	MockWalletRisk bool `json:"mock_wallet_risk"`
}

// Web3Config 配置区块链节点访问。
type Web3Config struct {
	Enabled      bool   `json:"enabled"`
	ChainsPath   string `json:"chains_path"`
	DefaultChain string `json:"default_chain"`
	RPCURL       string `json:"rpc_url"`
}

// KnowledgeConfig 指向静态知识库文件。
type KnowledgeConfig struct {
	Path string `json:"path"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "json"
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}
	if c.Auth.JWT.SecretEnv == "" {
		c.Auth.JWT.SecretEnv = "DEFISEEK_JWT_SECRET"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Storage.DataDir) {
		c.Storage.DataDir = filepath.Join(baseDir, c.Storage.DataDir)
	}
	if c.Storage.MySQL.DSNEnv == "" {
		c.Storage.MySQL.DSNEnv = "DEFISEEK_MYSQL_DSN"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 2
	}
	if c.Queue.Buffer <= 0 {
		c.Queue.Buffer = 256
	}
	if c.Queue.Redis.Address == "" {
		c.Queue.Redis.Address = "127.0.0.1:6379"
	}
	if c.Queue.RabbitMQ.URLEnv == "" {
		c.Queue.RabbitMQ.URLEnv = "DEFISEEK_RABBITMQ_URL"
	}

	if c.LLM.APIKeyEnv == "" {
		c.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.Unleash.APIKeyEnv == "" {
		c.Unleash.APIKeyEnv = "UNLEASH_API_KEY"
	}

	if c.Web3.DefaultChain == "" {
		c.Web3.DefaultChain = "ethereum"
	}
	if c.Web3.ChainsPath != "" && !filepath.IsAbs(c.Web3.ChainsPath) {
		c.Web3.ChainsPath = filepath.Join(baseDir, c.Web3.ChainsPath)
	}
	if c.Knowledge.Path != "" && !filepath.IsAbs(c.Knowledge.Path) {
		c.Knowledge.Path = filepath.Join(baseDir, c.Knowledge.Path)
	}
	if c.Logger.Audit.Path != "" && !filepath.IsAbs(c.Logger.Audit.Path) {
		c.Logger.Audit.Path = filepath.Join(baseDir, c.Logger.Audit.Path)
	}
}
