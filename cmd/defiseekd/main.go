package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"defiseek/internal/agent"
	"defiseek/internal/agent/agents"
	"defiseek/internal/api"
	"defiseek/internal/auth"
	"defiseek/internal/chat"
	"defiseek/internal/config"
	"defiseek/internal/coordinator"
	"defiseek/internal/knowledge"
	"defiseek/internal/llm/openai"
	"defiseek/internal/observability/alerting"
	"defiseek/internal/observability/metrics"
	"defiseek/internal/router"
	"defiseek/internal/storage/mysql"
	"defiseek/internal/unleash"
	"defiseek/internal/usage"
	"defiseek/internal/web3/provider"
	"defiseek/pkg/logger"
)

// main 是 DeFiSeek 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("defiseekd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	// 本地开发时从 .env 注入环境变量，文件不存在则忽略。
	_ = godotenv.Load()

	configPath := os.Getenv("DEFISEEK_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "defiseek.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:   cfg.Logger.Level,
		Format:  cfg.Logger.Format,
		Outputs: cfg.Logger.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logger.Audit.Enabled,
			Path:       cfg.Logger.Audit.Path,
			MaxSizeMB:  cfg.Logger.Audit.MaxSizeMB,
			MaxBackups: cfg.Logger.Audit.MaxBackups,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	// 大模型客户端：路由分类与回答合成共用。
	llmClient, err := openai.NewClient(openai.Config{
		APIKeyEnv: cfg.LLM.APIKeyEnv,
		BaseURL:   cfg.LLM.BaseURL,
		Model:     cfg.LLM.Model,
		Timeout:   time.Duration(cfg.LLM.Timeout) * time.Second,
	})
	if err != nil {
		return err
	}

	// 上游数据客户端与链清单缓存。
	unleashClient, err := unleash.NewClient(unleash.Config{
		APIKeyEnv: cfg.Unleash.APIKeyEnv,
		BaseURL:   cfg.Unleash.BaseURL,
		Timeout:   time.Duration(cfg.Unleash.Timeout) * time.Second,
	})
	if err != nil {
		return err
	}
	chainCache := unleash.NewChainCache(unleashClient, unleash.DefaultChainTTL)

	// 区块链节点（可选）。
	var web3Registry *provider.Registry
	if cfg.Web3.Enabled {
		web3Registry, err = provider.NewRegistry(ctx, provider.Options{
			ConfigPath:   cfg.Web3.ChainsPath,
			DefaultChain: cfg.Web3.DefaultChain,
			RPCURL:       cfg.Web3.RPCURL,
		})
		if err != nil {
			return err
		}
		defer web3Registry.Close()
	}

	// 存储后端。
	chatStore, authStore, usageStore, closeStores, err := buildStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStores()

	// 身份认证。
	authSvc, err := buildAuthService(ctx, cfg, authStore)
	if err != nil {
		return err
	}

	// 智能体注册表。
	registry := agent.NewRegistry()
	if err := agents.RegisterDefaults(registry, agents.Deps{
		Unleash:        unleashClient,
		Chains:         chainCache,
		Web3:           web3Registry,
		MockWalletRisk: cfg.Unleash.MockWalletRisk,
	}); err != nil {
		return err
	}

	// 静态知识库（可选）。
	var knowledgeProvider knowledge.Provider
	if cfg.Knowledge.Path != "" {
		provider, err := knowledge.LoadStaticProvider(cfg.Knowledge.Path, 0)
		if err != nil {
			return err
		}
		knowledgeProvider = provider
	}

	// 用量事件管道。
	usageQueue, err := buildUsageQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := usageQueue.Close(); err != nil {
			logger.L().Warn("关闭用量队列失败", "error", err)
		}
	}()

	recorder := usage.NewRecorder(usageStore, usageQueue)
	processor := usage.NewProcessor(usageStore, usageQueue, cfg.Queue.Workers)
	processor.Start(ctx)
	defer processor.Stop()

	// 告警通道。
	dispatcher := buildDispatcher(cfg)

	// 独立指标端口（可选；主端口始终暴露 /metrics）。
	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Warn("指标服务退出", "error", err)
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, api.Deps{
		Auth:        authSvc,
		Chats:       chat.NewService(chatStore),
		Router:      router.New(llmClient, registry.IDs()),
		Coordinator: coordinator.New(registry, llmClient, knowledgeProvider),
		Models:      llmClient,
		Recorder:    recorder,
		Alerts:      dispatcher,
	})

	logger.L().Info("defiseekd 启动", "address", cfg.Server.Address, "agents", registry.IDs())
	return server.Start(ctx)
}

func buildStores(ctx context.Context, cfg *config.Config) (chat.Store, auth.Store, usage.Store, func(), error) {
	switch cfg.Storage.Driver {
	case "", "memory":
		authStore, err := auth.NewMemoryStore(nil)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		chatStore, err := chat.NewFileBackedMemoryStore(cfg.Storage.DataDir)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return chatStore, authStore, usage.NewMemoryStore(), func() {}, nil
	case "mysql":
		dsn := strings.TrimSpace(os.Getenv(cfg.Storage.MySQL.DSNEnv))
		if dsn == "" {
			return nil, nil, nil, nil, fmt.Errorf("未提供 MySQL DSN：请设置环境变量 %s", cfg.Storage.MySQL.DSNEnv)
		}
		mysqlCfg := mysql.Config{
			DSN:             dsn,
			MaxOpenConns:    cfg.Storage.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MySQL.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.MySQL.ConnMaxLifetime) * time.Second,
		}
		chatStore, err := mysql.NewSQLChatStore(ctx, mysqlCfg)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		authStore, err := mysql.NewSQLAuthStore(ctx, mysqlCfg)
		if err != nil {
			chatStore.Close()
			return nil, nil, nil, nil, err
		}
		usageStore, err := mysql.NewSQLUsageStore(ctx, mysqlCfg)
		if err != nil {
			chatStore.Close()
			authStore.Close()
			return nil, nil, nil, nil, err
		}
		closeAll := func() {
			chatStore.Close()
			authStore.Close()
			usageStore.Close()
		}
		return chatStore, authStore, usageStore, closeAll, nil
	default:
		return nil, nil, nil, nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
}

func buildAuthService(ctx context.Context, cfg *config.Config, store auth.Store) (*auth.Service, error) {
	mode := auth.Mode(cfg.Auth.Mode)

	var seeds []auth.Seed
	for _, seed := range cfg.Auth.Seeds {
		password := ""
		if seed.PasswordEnv != "" {
			password = os.Getenv(seed.PasswordEnv)
		}
		seeds = append(seeds, auth.Seed{
			Username:    seed.Username,
			Password:    password,
			Roles:       seed.Roles,
			Permissions: seed.Permissions,
			Disabled:    seed.Disabled,
		})
	}

	return auth.NewService(ctx, auth.Config{
		Mode: mode,
		JWT: auth.JWTOptions{
			Secret:     os.Getenv(cfg.Auth.JWT.SecretEnv),
			Issuer:     cfg.Auth.JWT.Issuer,
			Audience:   cfg.Auth.JWT.Audience,
			AccessTTL:  cfg.Auth.JWT.AccessTTL,
			RefreshTTL: cfg.Auth.JWT.RefreshTTL,
		},
		Seeds: seeds,
	}, store)
}

func buildUsageQueue(cfg *config.Config) (usage.Queue, error) {
	switch cfg.Queue.Driver {
	case "", "memory":
		return usage.NewMemoryQueue(cfg.Queue.Buffer), nil
	case "redis":
		password := ""
		if cfg.Queue.Redis.PasswordEnv != "" {
			password = os.Getenv(cfg.Queue.Redis.PasswordEnv)
		}
		return usage.NewRedisQueue(usage.RedisQueueConfig{
			Address:  cfg.Queue.Redis.Address,
			Password: password,
			DB:       cfg.Queue.Redis.DB,
			Queue:    cfg.Queue.Redis.Queue,
		})
	case "rabbitmq":
		url := strings.TrimSpace(os.Getenv(cfg.Queue.RabbitMQ.URLEnv))
		if url == "" {
			return nil, fmt.Errorf("未提供 RabbitMQ 地址：请设置环境变量 %s", cfg.Queue.RabbitMQ.URLEnv)
		}
		return usage.NewRabbitMQQueue(usage.RabbitMQConfig{
			URL:      url,
			Queue:    cfg.Queue.RabbitMQ.Queue,
			Prefetch: cfg.Queue.RabbitMQ.Prefetch,
			Durable:  true,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
}

func buildDispatcher(cfg *config.Config) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if cfg.Alerting.SlackWebhookEnv != "" {
		if url := os.Getenv(cfg.Alerting.SlackWebhookEnv); url != "" {
			if sender := alerting.NewSlackWebhook(url); sender != nil {
				notifiers = append(notifiers, alerting.NewSlackNotifier(sender))
			}
		}
	}
	if cfg.Alerting.DingTalkWebhookEnv != "" {
		if url := os.Getenv(cfg.Alerting.DingTalkWebhookEnv); url != "" {
			if sender := alerting.NewDingTalkWebhook(url); sender != nil {
				notifiers = append(notifiers, alerting.NewDingTalkNotifier(sender))
			}
		}
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}
