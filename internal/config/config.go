package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Telegram struct {
	BotToken           string `yaml:"bot_token"` // env TG_BOT_TOKEN wins
	Channel            string `yaml:"channel"`   // e.g. "@mychannel"
	AdminChatID        int64  `yaml:"admin_chat_id"`
	PollTimeoutSeconds int    `yaml:"poll_timeout_seconds"`
}

type Kite struct {
	BaseURL            string  `yaml:"base_url"`
	APIKey             string  `yaml:"api_key"`      // env KITE_API_KEY wins
	AccessToken        string  `yaml:"access_token"` // env KITE_ACCESS_TOKEN wins
	TimeoutSeconds     int     `yaml:"timeout_seconds"`
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
}

type Trade struct {
	CashPerTrade float64 `yaml:"cash_per_trade"`
	TolerancePct float64 `yaml:"tolerance_pct"`
	GatePolicy   string  `yaml:"gate_policy"` // ceiling | band
	ConvertToMTF bool    `yaml:"convert_to_mtf"`
}

type Executor struct {
	PollIntervalMs     int     `yaml:"poll_interval_ms"`
	PollTimeoutSeconds int     `yaml:"poll_timeout_seconds"`
	BackoffFactor      float64 `yaml:"backoff_factor"`
	MaxIntervalMs      int     `yaml:"max_interval_ms"`
}

type Resolver struct {
	Mode           string  `yaml:"mode"` // queue | autoskip
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
	SymbolMapPath  string  `yaml:"symbol_map_path"`
}

type Root struct {
	LogLevel    string   `yaml:"log_level"`
	MetricsAddr string   `yaml:"metrics_addr"`
	Exchange    string   `yaml:"exchange"`
	Telegram    Telegram `yaml:"telegram"`
	Kite        Kite     `yaml:"kite"`
	Trade       Trade    `yaml:"trade"`
	Executor    Executor `yaml:"executor"`
	Resolver    Resolver `yaml:"resolver"`
	JournalPath string   `yaml:"journal_path"`
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":8090"
	}
	if c.Exchange == "" {
		c.Exchange = "NSE"
	}
	if c.Telegram.PollTimeoutSeconds == 0 {
		c.Telegram.PollTimeoutSeconds = 30
	}
	if c.Kite.BaseURL == "" {
		c.Kite.BaseURL = "https://api.kite.trade"
	}
	if c.Kite.TimeoutSeconds == 0 {
		c.Kite.TimeoutSeconds = 10
	}
	if c.Kite.RateLimitPerSecond == 0 {
		c.Kite.RateLimitPerSecond = 3
	}
	if c.Trade.CashPerTrade == 0 {
		c.Trade.CashPerTrade = 30000
	}
	if c.Trade.TolerancePct == 0 {
		c.Trade.TolerancePct = 1
	}
	if c.Trade.GatePolicy == "" {
		c.Trade.GatePolicy = "ceiling"
	}
	if c.Executor.PollIntervalMs == 0 {
		c.Executor.PollIntervalMs = 2000
	}
	if c.Executor.PollTimeoutSeconds == 0 {
		c.Executor.PollTimeoutSeconds = 300
	}
	if c.Executor.BackoffFactor == 0 {
		c.Executor.BackoffFactor = 1.5
	}
	if c.Executor.MaxIntervalMs == 0 {
		c.Executor.MaxIntervalMs = 5 * c.Executor.PollIntervalMs
	}
	if c.Resolver.Mode == "" {
		c.Resolver.Mode = "queue"
	}
	if c.Resolver.FuzzyThreshold == 0 {
		c.Resolver.FuzzyThreshold = 0.75
	}
	if c.Resolver.SymbolMapPath == "" {
		c.Resolver.SymbolMapPath = "data/symbol_map.json"
	}
	if c.JournalPath == "" {
		c.JournalPath = "data/journal.jsonl"
	}

	// Secrets come from the environment when present so tokens stay out of
	// the checked-in config file.
	if v := os.Getenv("TG_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("KITE_API_KEY"); v != "" {
		c.Kite.APIKey = v
	}
	if v := os.Getenv("KITE_ACCESS_TOKEN"); v != "" {
		c.Kite.AccessToken = v
	}

	if err := c.validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c Root) validate() error {
	switch c.Trade.GatePolicy {
	case "ceiling", "band":
	default:
		return fmt.Errorf("config: unknown gate_policy %q", c.Trade.GatePolicy)
	}
	switch c.Resolver.Mode {
	case "queue", "autoskip":
	default:
		return fmt.Errorf("config: unknown resolver mode %q", c.Resolver.Mode)
	}
	if c.Trade.TolerancePct < 0 {
		return fmt.Errorf("config: tolerance_pct must be >= 0")
	}
	return nil
}
