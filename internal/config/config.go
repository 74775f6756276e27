package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/koval-yurko/emails-flow/pkg/config"
)

type IMAPConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	User               string `yaml:"user"`
	Password           string `yaml:"password"`
	TLS                bool   `yaml:"tls"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

type LLMConfig struct {
	Provider      string        `yaml:"provider"` // xai, ollama
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Model         string        `yaml:"model"`
	MaxTokens     int           `yaml:"max_tokens"`
	Timeout       time.Duration `yaml:"timeout"`
	RatePerMinute int           `yaml:"rate_per_minute"`
}

// ListerConfig holds the defaults used when a list trigger omits folder or filter.
type ListerConfig struct {
	Folder     string `yaml:"folder"`
	FromFilter string `yaml:"from_filter"`
}

type ScannerConfig struct {
	Count int `yaml:"count"`
}

type Config struct {
	Log     config.LogConfig     `yaml:"log"`
	DB      config.DBConfig      `yaml:"db"`
	MQ      config.MQConfig      `yaml:"mq"`
	Redis   config.RedisConfig   `yaml:"redis"`
	Server  config.ServerConfig  `yaml:"server"`
	Metrics config.MetricsConfig `yaml:"metrics"`
	OTel    config.OTelConfig    `yaml:"otel"`
	IMAP    IMAPConfig           `yaml:"imap"`
	LLM     LLMConfig            `yaml:"llm"`
	Lister  ListerConfig         `yaml:"lister"`
	Scanner ScannerConfig        `yaml:"scanner"`
}

// Load reads config/<CONFIG_ENV>.yaml over config/base.yaml and applies env overrides.
func Load() (*Config, error) {
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")

	cfgMap, err := config.LoadConfig(env, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var cfg Config
	if err := config.Decode(cfgMap, &cfg); err != nil {
		return nil, err
	}

	// 环境变量覆盖（优先级最高）
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideOTelFromEnv(&cfg.OTel)
	overrideIMAPFromEnv(&cfg.IMAP)
	overrideLLMFromEnv(&cfg.LLM)

	applyDefaults(&cfg)
	return &cfg, nil
}

func overrideIMAPFromEnv(cfg *IMAPConfig) {
	if host := os.Getenv("IMAP_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("IMAP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if user := os.Getenv("IMAP_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("IMAP_PASSWORD"); password != "" {
		cfg.Password = password
	}
}

func overrideLLMFromEnv(cfg *LLMConfig) {
	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		cfg.Provider = provider
	}
	if key := os.Getenv("XAI_API_KEY"); key != "" {
		cfg.APIKey = key
	}
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		cfg.APIKey = key
	}
	if model := os.Getenv("LLM_MODEL"); model != "" {
		cfg.Model = model
	}
}

func applyDefaults(cfg *Config) {
	if cfg.MQ.Exchange == "" {
		cfg.MQ.Exchange = "emails-flow"
	}
	if cfg.MQ.DLXExchange == "" {
		cfg.MQ.DLXExchange = cfg.MQ.Exchange + ".dlx"
	}
	if cfg.IMAP.Port == 0 {
		cfg.IMAP.Port = 993
	}
	if cfg.Lister.Folder == "" {
		cfg.Lister.Folder = "TLDR"
	}
	if cfg.Scanner.Count <= 0 {
		cfg.Scanner.Count = 1
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "xai"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 5000
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
}
