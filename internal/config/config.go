package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ArcadeAgent/internal/storage/redis"
	"ArcadeAgent/internal/storage/wallet"
	"ArcadeAgent/pkg/logger"
)

// DefaultPath 是未设置 ARCADE_CONFIG 时读取的配置文件。
const DefaultPath = "configs/arcade.yaml"

// Config 描述了 ArcadeAgent 在启动阶段需要加载的全部配置。
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	LLM      LLMConfig      `json:"llm" yaml:"llm"`
	Web3     Web3Config     `json:"web3" yaml:"web3"`
	Game     GameConfig     `json:"game" yaml:"game"`
	Turn     TurnConfig     `json:"turn" yaml:"turn"`
	Wallet   wallet.Config  `json:"wallet" yaml:"wallet"`
	Redis    redis.Config   `json:"redis" yaml:"redis"`
	Inbox    InboxConfig    `json:"inbox" yaml:"inbox"`
	Alerting AlertingConfig `json:"alerting" yaml:"alerting"`
	Logging  logger.Config  `json:"logging" yaml:"logging"`
}

// ServerConfig 控制 HTTP 服务的监听地址。MetricsAddress 非空时指标另开端口暴露。
type ServerConfig struct {
	Address        string `json:"address" yaml:"address" env:"HTTP_ADDR"`
	MetricsAddress string `json:"metrics_address" yaml:"metrics_address" env:"METRICS_ADDR"`
}

// TelegramConfig 描述聊天渠道。Mode 为 polling 或 webhook。
type TelegramConfig struct {
	Token         string `json:"token" yaml:"token" env:"TELEGRAM_BOT_TOKEN"`
	Mode          string `json:"mode" yaml:"mode" env:"TELEGRAM_MODE"`
	WebhookSecret string `json:"webhook_secret" yaml:"webhook_secret" env:"TELEGRAM_WEBHOOK_SECRET"`
}

// LLMConfig 用于配置大模型推理的调用方式。Provider 为 openai 或 none。
type LLMConfig struct {
	Provider       string  `json:"provider" yaml:"provider" env:"LLM_PROVIDER"`
	APIKey         string  `json:"api_key" yaml:"api_key" env:"OPENAI_API_KEY"`
	BaseURL        string  `json:"base_url" yaml:"base_url" env:"OPENAI_BASE_URL"`
	Model          string  `json:"model" yaml:"model" env:"OPENAI_MODEL"`
	Temperature    float64 `json:"temperature" yaml:"temperature"`
	TimeoutSeconds int     `json:"timeout_seconds" yaml:"timeout_seconds"`
	MemoryDepth    int     `json:"memory_depth" yaml:"memory_depth"`
	MaxSteps       int     `json:"max_steps" yaml:"max_steps"`
}

// Web3Config 描述 Solana 节点与交易确认参数。
type Web3Config struct {
	RPCURL                string `json:"rpc_url" yaml:"rpc_url" env:"RPC_URL"`
	ChainConfig           string `json:"chain_config" yaml:"chain_config" env:"CHAIN_CONFIG"`
	DefaultChain          string `json:"default_chain" yaml:"default_chain"`
	Commitment            string `json:"commitment" yaml:"commitment"`
	PollIntervalMillis    int    `json:"poll_interval_ms" yaml:"poll_interval_ms"`
	ConfirmTimeoutSeconds int    `json:"confirm_timeout_seconds" yaml:"confirm_timeout_seconds"`
}

// GameConfig 描述远端游戏服务与下注规则。
type GameConfig struct {
	BaseURL               string   `json:"base_url" yaml:"base_url" env:"GAME_BASE_URL"`
	Profile               string   `json:"profile" yaml:"profile" env:"GAME_PROFILE"`
	AllowedWagers         []string `json:"allowed_wagers" yaml:"allowed_wagers"`
	FixedWager            string   `json:"fixed_wager" yaml:"fixed_wager" env:"GAME_FIXED_WAGER"`
	SenderSecret          string   `json:"sender_secret" yaml:"sender_secret" env:"SOLANA_SENDER_SECRET"`
	RequestTimeoutSeconds int      `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
}

// TurnConfig 描述回合守卫。Locker 为 memory、redis 或 sql。
type TurnConfig struct {
	Locker            string `json:"locker" yaml:"locker" env:"TURN_LOCKER"`
	DeadlineSeconds   int    `json:"deadline_seconds" yaml:"deadline_seconds"`
	LeaseGraceSeconds int    `json:"lease_grace_seconds" yaml:"lease_grace_seconds"`
}

// InboxConfig 描述收件箱队列。Driver 为 memory、redis 或 rabbitmq。
type InboxConfig struct {
	Driver     string         `json:"driver" yaml:"driver" env:"INBOX_DRIVER"`
	Workers    int            `json:"workers" yaml:"workers"`
	BufferSize int            `json:"buffer_size" yaml:"buffer_size"`
	RedisQueue string         `json:"redis_queue" yaml:"redis_queue"`
	RabbitMQ   RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 连接。
type RabbitMQConfig struct {
	URL      string `json:"url" yaml:"url" env:"RABBITMQ_URL"`
	Queue    string `json:"queue" yaml:"queue"`
	Prefetch int    `json:"prefetch" yaml:"prefetch"`
	Durable  bool   `json:"durable" yaml:"durable"`
}

// AlertingConfig 描述告警渠道。
type AlertingConfig struct {
	Channels       []string `json:"channels" yaml:"channels"`
	WebhookURL     string   `json:"webhook_url" yaml:"webhook_url" env:"ALERT_WEBHOOK_URL"`
	TelegramChatID int64    `json:"telegram_chat_id" yaml:"telegram_chat_id" env:"ALERT_TELEGRAM_CHAT_ID"`
}

// Load 读取配置文件、.env 与环境变量。path 为空时依次尝试 ARCADE_CONFIG 与 DefaultPath，
// 文件不存在时完全依赖环境变量。
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("读取 .env 失败: %w", err)
	}

	explicit := path != ""
	if path == "" {
		path = os.Getenv("ARCADE_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = DefaultPath
	}

	var cfg Config
	baseDir := "."
	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, content, &cfg); err != nil {
			return nil, err
		}
		baseDir = filepath.Dir(path)
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("解析环境变量失败: %w", err)
	}

	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(path string, content []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, cfg); err != nil {
			return fmt.Errorf("解析配置失败: %w", err)
		}
	default:
		if err := json.Unmarshal(content, cfg); err != nil {
			return fmt.Errorf("解析配置失败: %w", err)
		}
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Telegram.Mode == "" {
		c.Telegram.Mode = "polling"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.7
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 15
	}

	if c.Web3.Commitment == "" {
		c.Web3.Commitment = "confirmed"
	}
	if c.Web3.ConfirmTimeoutSeconds <= 0 {
		c.Web3.ConfirmTimeoutSeconds = 60
	}
	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}

	if c.Game.BaseURL == "" {
		c.Game.BaseURL = "https://rps.sendarcade.fun"
	}
	if c.Game.Profile == "" {
		c.Game.Profile = "bot"
	}
	if c.Game.RequestTimeoutSeconds <= 0 {
		c.Game.RequestTimeoutSeconds = 15
	}

	if c.Wallet.Driver == "" {
		c.Wallet.Driver = "memory"
	}

	// 回合锁默认放在进程外：有 Redis 用 Redis，钱包落库则用钱包表。
	if c.Turn.Locker == "" {
		switch {
		case strings.TrimSpace(c.Redis.Address) != "":
			c.Turn.Locker = "redis"
		case c.Wallet.Driver != "memory":
			c.Turn.Locker = "sql"
		default:
			c.Turn.Locker = "memory"
		}
	}
	if c.Turn.DeadlineSeconds <= 0 {
		c.Turn.DeadlineSeconds = 20
	}
	if c.Turn.LeaseGraceSeconds <= 0 {
		c.Turn.LeaseGraceSeconds = 10
	}

	if c.Inbox.Driver == "" {
		c.Inbox.Driver = "memory"
	}
	if c.Inbox.Workers <= 0 {
		c.Inbox.Workers = 4
	}
	if c.Inbox.BufferSize <= 0 {
		c.Inbox.BufferSize = 128
	}

	if len(c.Alerting.Channels) == 0 {
		c.Alerting.Channels = []string{"log"}
	}
}

// Validate 检查启动所必需的配置，缺失任意一项都拒绝启动。
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("缺少 Telegram 令牌 (TELEGRAM_BOT_TOKEN)"))
	}
	if !oneOf(c.Telegram.Mode, "polling", "webhook") {
		errs = append(errs, fmt.Errorf("不支持的 Telegram 模式: %s", c.Telegram.Mode))
	}

	switch c.LLM.Provider {
	case "openai":
		if strings.TrimSpace(c.LLM.APIKey) == "" {
			errs = append(errs, errors.New("缺少 OpenAI API Key (OPENAI_API_KEY)"))
		}
	case "none":
	default:
		errs = append(errs, fmt.Errorf("不支持的大模型提供方: %s", c.LLM.Provider))
	}

	if strings.TrimSpace(c.Web3.RPCURL) == "" && strings.TrimSpace(c.Web3.ChainConfig) == "" {
		errs = append(errs, errors.New("缺少 Solana RPC 地址 (RPC_URL) 或链配置文件"))
	}
	if strings.TrimSpace(c.Game.BaseURL) == "" {
		errs = append(errs, errors.New("缺少游戏服务地址 (GAME_BASE_URL)"))
	}
	switch c.Game.Profile {
	case "bot":
	case "backend":
		if strings.TrimSpace(c.Game.SenderSecret) == "" {
			errs = append(errs, errors.New("backend 配置档需要 SOLANA_SENDER_SECRET"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的游戏配置档: %s", c.Game.Profile))
	}

	if !oneOf(c.Turn.Locker, "memory", "redis", "sql") {
		errs = append(errs, fmt.Errorf("不支持的回合锁实现: %s", c.Turn.Locker))
	}
	if c.Turn.Locker == "sql" && c.Wallet.Driver == "memory" {
		errs = append(errs, errors.New("sql 回合锁需要 SQL 钱包存储"))
	}
	if c.Wallet.Driver != "memory" && strings.TrimSpace(c.Wallet.DSN) == "" {
		errs = append(errs, errors.New("缺少钱包存储 DSN (WALLET_DSN)"))
	}

	if !oneOf(c.Inbox.Driver, "memory", "redis", "rabbitmq") {
		errs = append(errs, fmt.Errorf("不支持的收件箱驱动: %s", c.Inbox.Driver))
	}
	if c.Inbox.Driver == "rabbitmq" && strings.TrimSpace(c.Inbox.RabbitMQ.URL) == "" {
		errs = append(errs, errors.New("缺少 RabbitMQ 地址 (RABBITMQ_URL)"))
	}
	if (c.Turn.Locker == "redis" || c.Inbox.Driver == "redis") && strings.TrimSpace(c.Redis.Address) == "" {
		errs = append(errs, errors.New("缺少 Redis 地址 (REDIS_ADDR)"))
	}

	for _, ch := range c.Alerting.Channels {
		switch ch {
		case "log":
		case "webhook":
			if c.Alerting.WebhookURL == "" {
				errs = append(errs, errors.New("webhook 告警需要 ALERT_WEBHOOK_URL"))
			}
		case "telegram":
			if c.Alerting.TelegramChatID == 0 {
				errs = append(errs, errors.New("telegram 告警需要 ALERT_TELEGRAM_CHAT_ID"))
			}
		default:
			errs = append(errs, fmt.Errorf("未知的告警渠道: %s", ch))
		}
	}

	return errors.Join(errs...)
}

func oneOf(value string, options ...string) bool {
	for _, opt := range options {
		if value == opt {
			return true
		}
	}
	return false
}
