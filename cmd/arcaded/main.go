package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"ArcadeAgent/internal/agent"
	"ArcadeAgent/internal/api"
	"ArcadeAgent/internal/bot"
	"ArcadeAgent/internal/config"
	"ArcadeAgent/internal/game"
	"ArcadeAgent/internal/inbox"
	"ArcadeAgent/internal/llm"
	"ArcadeAgent/internal/llm/openai"
	"ArcadeAgent/internal/observability/alerting"
	"ArcadeAgent/internal/observability/metrics"
	redisstore "ArcadeAgent/internal/storage/redis"
	"ArcadeAgent/internal/storage/wallet"
	"ArcadeAgent/internal/turn"
	"ArcadeAgent/internal/web3"
	"ArcadeAgent/internal/web3/provider"
	"ArcadeAgent/pkg/logger"
)

// main 是 ArcadeAgent 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.L().Error("arcaded 运行失败", slog.Any("error", err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Named("arcaded")

	// 聊天渠道同时用于回复与告警。
	botAPI, err := bot.NewTelegramAPI(cfg.Telegram.Token)
	if err != nil {
		return err
	}
	sender := bot.NewTelegramSender(botAPI)
	alerts, err := createAlerts(cfg.Alerting, sender)
	if err != nil {
		return err
	}

	var redisClient *goredis.Client
	if cfg.Turn.Locker == "redis" || cfg.Inbox.Driver == "redis" {
		redisClient, err = redisstore.Connect(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	// 钱包存储。
	var (
		wallets  wallet.Store
		sqlStore *wallet.SQLStore
	)
	switch cfg.Wallet.Driver {
	case "memory":
		wallets = wallet.NewMemoryStore()
	default:
		sqlStore, err = wallet.NewSQLStore(ctx, cfg.Wallet)
		if err != nil {
			return err
		}
		wallets = sqlStore
	}
	defer wallets.Close()

	// 回合锁。
	var locker turn.Locker
	switch cfg.Turn.Locker {
	case "redis":
		locker = redisstore.NewLocker(redisClient, cfg.Redis.KeyPrefix)
	case "sql":
		locker = sqlStore
	default:
		locker = turn.NewMemoryLocker()
	}
	guard := turn.NewGuard(locker,
		turn.WithDeadline(time.Duration(cfg.Turn.DeadlineSeconds)*time.Second),
		turn.WithLeaseGrace(time.Duration(cfg.Turn.LeaseGraceSeconds)*time.Second),
		turn.WithLogger(logger.Named("turn").With(slog.String("locker", cfg.Turn.Locker))),
	)

	// 链上客户端与交易中继。
	registry, err := provider.NewRegistry(cfg.Web3)
	if err != nil {
		return err
	}
	defer registry.Close()
	network, err := registry.DefaultClient()
	if err != nil {
		return err
	}
	relay := web3.NewRelay(network,
		web3.WithConfirmTimeout(time.Duration(cfg.Web3.ConfirmTimeoutSeconds)*time.Second),
		web3.WithRelayLogger(logger.Named("web3.relay").With(slog.String("chain", registry.DefaultChain()))),
	)

	gameService, err := createGameService(cfg.Game, relay, wallets, alerts)
	if err != nil {
		return err
	}

	llmClient, err := createLLMClient(cfg.LLM)
	if err != nil {
		return err
	}
	ag := agent.New(llmClient, gameService,
		agent.WithMemoryDepth(cfg.LLM.MemoryDepth),
		agent.WithLLMTimeout(time.Duration(cfg.LLM.TimeoutSeconds)*time.Second),
		agent.WithTemperature(cfg.LLM.Temperature),
		agent.WithMaxSteps(cfg.LLM.MaxSteps),
	)

	queue, err := createInbox(cfg.Inbox, redisClient)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Warn("关闭收件箱失败", slog.Any("error", err))
		}
	}()

	handler := bot.NewHandler(wallets, guard, ag, sender)
	processor := inbox.NewProcessor(handler, queue,
		inbox.WithWorkerCount(cfg.Inbox.Workers),
		inbox.WithAlertDispatcher(alerts),
		inbox.WithProcessorLogger(logger.Named("inbox").With(slog.String("driver", cfg.Inbox.Driver))),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("消息处理器异常退出", slog.Any("error", err))
		}
	}()

	serverOpts := []api.Option{}
	if cfg.Telegram.Mode == "webhook" {
		serverOpts = append(serverOpts, api.WithWebhook(bot.NewWebhookHandler(queue, cfg.Telegram.WebhookSecret)))
	} else {
		go func() {
			if err := bot.Poll(processorCtx, botAPI, queue); err != nil {
				log.Error("Telegram 长轮询异常退出", slog.Any("error", err))
			}
		}()
	}
	if redisClient != nil {
		serverOpts = append(serverOpts, api.WithHealthCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}
	if sqlStore != nil {
		serverOpts = append(serverOpts, api.WithHealthCheck("wallets", sqlStore.Ping))
	}

	if addr := cfg.Server.MetricsAddress; addr != "" {
		go func() {
			if err := metrics.StartServer(processorCtx, addr); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	log.Info("arcaded 已启动",
		slog.String("profile", gameService.Profile().Name),
		slog.String("telegram_mode", cfg.Telegram.Mode),
		slog.String("turn_locker", cfg.Turn.Locker),
		slog.Duration("turn_deadline", guard.Deadline()),
		slog.String("inbox_driver", cfg.Inbox.Driver),
		slog.Any("chains", registry.Chains()),
	)

	server := api.NewServer(cfg.Server.Address, serverOpts...)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createGameService(cfg config.GameConfig, relay *web3.Relay, wallets wallet.Store, alerts alerting.Dispatcher) (*game.Service, error) {
	profile, err := game.ProfileByName(cfg.Profile)
	if err != nil {
		return nil, err
	}
	rules, err := game.NewRules(cfg.AllowedWagers, cfg.FixedWager)
	if err != nil {
		return nil, err
	}
	remote, err := game.NewHTTPClient(cfg.BaseURL, game.WithRequestTimeout(time.Duration(cfg.RequestTimeoutSeconds)*time.Second))
	if err != nil {
		return nil, err
	}

	opts := []game.ServiceOption{
		game.WithRules(rules),
		game.WithRoundTracker(wallets),
		game.WithAlerts(alerts),
	}
	if profile.BackendClaim {
		signer, err := web3.NewKeypairSigner(cfg.SenderSecret)
		if err != nil {
			return nil, fmt.Errorf("解析后端领奖密钥失败: %w", err)
		}
		opts = append(opts, game.WithClaimSigner(signer))
	}
	return game.NewService(remote, relay, profile, opts...)
}

func createLLMClient(cfg config.LLMConfig) (llm.Client, error) {
	switch cfg.Provider {
	case "none":
		return nil, nil
	case "openai":
		client, err := openai.NewClient(openai.Config{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.Provider)
	}
}

func createInbox(cfg config.InboxConfig, redisClient goredis.UniversalClient) (inbox.Queue, error) {
	switch cfg.Driver {
	case "memory":
		return inbox.NewMemoryQueue(cfg.BufferSize), nil
	case "redis":
		return inbox.NewRedisQueue(redisClient, inbox.RedisQueueConfig{Queue: cfg.RedisQueue})
	case "rabbitmq":
		return inbox.NewRabbitMQQueue(inbox.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Queue:    cfg.RabbitMQ.Queue,
			Prefetch: cfg.RabbitMQ.Prefetch,
			Durable:  cfg.RabbitMQ.Durable,
		})
	default:
		return nil, fmt.Errorf("未知的收件箱驱动: %s", cfg.Driver)
	}
}

func createAlerts(cfg config.AlertingConfig, sender alerting.TelegramSender) (alerting.Dispatcher, error) {
	notifiers := make([]alerting.Notifier, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		switch alerting.Channel(ch) {
		case alerting.ChannelLog:
			notifiers = append(notifiers, &alerting.LogNotifier{})
		case alerting.ChannelWebhook:
			notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.WebhookURL, Client: &http.Client{Timeout: 5 * time.Second}})
		case alerting.ChannelTelegram:
			notifiers = append(notifiers, &alerting.TelegramNotifier{Sender: sender, ChatID: cfg.TelegramChatID})
		default:
			return nil, fmt.Errorf("未知的告警渠道: %s", ch)
		}
	}
	return alerting.NewFanout(notifiers...), nil
}
