package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadYAMLWithEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "arcade.yaml", `
telegram:
  token: file-token
  mode: webhook
llm:
  api_key: sk-file
web3:
  rpc_url: https://api.devnet.solana.com
  chain_config: chains.yaml
game:
  profile: bot
  allowed_wagers: ["0.1", "0.01"]
turn:
  deadline_seconds: 30
inbox:
  driver: redis
redis:
  address: localhost:6379
logging:
  level: debug
`)
	t.Setenv("TELEGRAM_BOT_TOKEN", "env-token")
	t.Setenv("REDIS_ADDR", "redis:6380")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("env should override the file, got %q", cfg.Telegram.Token)
	}
	if cfg.Redis.Address != "redis:6380" {
		t.Fatalf("unexpected redis address %q", cfg.Redis.Address)
	}
	if cfg.Telegram.Mode != "webhook" || cfg.Turn.DeadlineSeconds != 30 || cfg.Logging.Level != "debug" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if len(cfg.Game.AllowedWagers) != 2 {
		t.Fatalf("unexpected wagers %v", cfg.Game.AllowedWagers)
	}
	if cfg.Web3.ChainConfig != filepath.Join(dir, "chains.yaml") {
		t.Fatalf("chain config should be resolved relative to the file, got %q", cfg.Web3.ChainConfig)
	}
	if cfg.Game.BaseURL != "https://rps.sendarcade.fun" || cfg.LLM.Model != "gpt-4o-mini" || cfg.Turn.LeaseGraceSeconds != 10 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "arcade.json", `{
  "telegram": {"token": "t"},
  "llm": {"provider": "none"},
  "web3": {"rpc_url": "http://localhost:8899"},
  "server": {"address": ":9090"}
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":9090" || cfg.LLM.Provider != "none" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Turn.Locker != "memory" || cfg.Inbox.Driver != "memory" || cfg.Alerting.Channels[0] != "log" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Web3.ConfirmTimeoutSeconds != 60 {
		t.Fatalf("confirmation timeout should default to 60s, got %d", cfg.Web3.ConfirmTimeoutSeconds)
	}
}

func TestTurnLockerDefaultsOutOfProcess(t *testing.T) {
	cases := map[string]struct {
		mutate func(*Config)
		want   string
	}{
		"memory wallet":           {func(c *Config) {}, "memory"},
		"sqlite wallet":           {func(c *Config) { c.Wallet.Driver = "sqlite"; c.Wallet.DSN = "file:w.db" }, "sql"},
		"mysql wallet":            {func(c *Config) { c.Wallet.Driver = "mysql"; c.Wallet.DSN = "u:p@/arcade" }, "sql"},
		"redis configured":        {func(c *Config) { c.Redis.Address = "localhost:6379" }, "redis"},
		"redis and sql wallet":    {func(c *Config) { c.Wallet.Driver = "postgres"; c.Redis.Address = "localhost:6379" }, "redis"},
		"explicit memory is kept": {func(c *Config) { c.Wallet.Driver = "sqlite"; c.Turn.Locker = "memory" }, "memory"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := &Config{}
			tc.mutate(cfg)
			cfg.applyDefaults(".")
			if cfg.Turn.Locker != tc.want {
				t.Fatalf("expected locker %q, got %q", tc.want, cfg.Turn.Locker)
			}
		})
	}
}

func TestShippedConfigUsesSharedLocker(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "t")
	t.Setenv("OPENAI_API_KEY", "sk")
	t.Setenv("RPC_URL", "http://localhost:8899")

	cfg, err := Load(filepath.Join("..", "..", DefaultPath))
	if err != nil {
		t.Fatalf("load shipped config: %v", err)
	}
	if cfg.Turn.Locker == "memory" {
		t.Fatalf("shipped config must not guard turns in process memory")
	}
	if cfg.Turn.Locker == "sql" && cfg.Wallet.Driver == "memory" {
		t.Fatalf("sql locker requires a SQL wallet store, got %+v", cfg.Wallet)
	}
	if cfg.Web3.ConfirmTimeoutSeconds != 60 {
		t.Fatalf("unexpected confirmation timeout %d", cfg.Web3.ConfirmTimeoutSeconds)
	}
}

func TestLoadFromEnvironmentOnly(t *testing.T) {
	t.Setenv("ARCADE_CONFIG", "")
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("TELEGRAM_BOT_TOKEN", "t")
	t.Setenv("OPENAI_API_KEY", "sk")
	t.Setenv("RPC_URL", "http://localhost:8899")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Web3.RPCURL != "http://localhost:8899" {
		t.Fatalf("unexpected rpc url %q", cfg.Web3.RPCURL)
	}
}

func TestLoadExplicitMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit file")
	}
}

func TestValidateRefusesToStart(t *testing.T) {
	cases := map[string]struct {
		mutate func(*Config)
		want   string
	}{
		"missing token":      {func(c *Config) { c.Telegram.Token = "" }, "TELEGRAM_BOT_TOKEN"},
		"missing openai key": {func(c *Config) { c.LLM.APIKey = "" }, "OPENAI_API_KEY"},
		"missing rpc":        {func(c *Config) { c.Web3.RPCURL = "" }, "RPC_URL"},
		"missing base url":   {func(c *Config) { c.Game.BaseURL = "" }, "GAME_BASE_URL"},
		"backend no secret":  {func(c *Config) { c.Game.Profile = "backend" }, "SOLANA_SENDER_SECRET"},
		"sql locker memory":  {func(c *Config) { c.Turn.Locker = "sql" }, "SQL"},
		"rabbitmq no url":    {func(c *Config) { c.Inbox.Driver = "rabbitmq" }, "RABBITMQ_URL"},
		"redis no address":   {func(c *Config) { c.Turn.Locker = "redis" }, "REDIS_ADDR"},
		"bad alert channel":  {func(c *Config) { c.Alerting.Channels = []string{"pager"} }, "pager"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func validConfig() *Config {
	cfg := &Config{}
	cfg.Telegram.Token = "t"
	cfg.LLM.APIKey = "sk"
	cfg.Web3.RPCURL = "http://localhost:8899"
	cfg.applyDefaults(".")
	return cfg
}
