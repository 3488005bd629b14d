// Package config binds the relay's environment into a typed Config.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"persona-relay/internal/core"
	"persona-relay/internal/integrations/paramstore"
	pkgredis "persona-relay/pkg/redis"
)

const (
	telegramTokenParam   = "/telegram-bot-token"
	completionTokenParam = "/open-ai-token"
)

type CompletionConfig struct {
	BaseURL string        `envconfig:"COMPLETION_BASE_URL" default:"https://openrouter.ai/api/v1"`
	Model   string        `envconfig:"COMPLETION_MODEL" default:"qwen/qwen-1.5-1.8b-chat"`
	Timeout time.Duration `envconfig:"COMPLETION_TIMEOUT" default:"30s"`
	Title   string        `envconfig:"COMPLETION_TITLE" default:"TG NeuroBot"`
}

type WorkerConfig struct {
	MaxConcurrent int           `envconfig:"MAX_CONCURRENT_UPDATES" default:"16"`
	Backlog       int           `envconfig:"CONVERSATION_BACKLOG" default:"32"`
	ShutdownGrace time.Duration `envconfig:"SHUTDOWN_GRACE" default:"15s"`
}

// Config is sourced from the environment (optionally a .env file) and,
// for secrets left empty, from SSM Parameter Store.
type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	Port        int    `envconfig:"PORT" default:"5000"`

	TelegramBotToken       string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramAPIURL         string `envconfig:"TELEGRAM_API_URL" default:"https://api.telegram.org"`
	TelegramBotUsername    string `envconfig:"TELEGRAM_BOT_USERNAME"`
	WebhookURL             string `envconfig:"WEBHOOK_URL"`
	RegisterWebhookOnStart bool   `envconfig:"REGISTER_WEBHOOK_ON_START" default:"true"`

	OpenRouterAPIKey string `envconfig:"OPENROUTER_API_KEY"`
	Completion       CompletionConfig

	ParamPrefix      string `envconfig:"PARAM_PREFIX"`
	TurnJournalTable string `envconfig:"TURN_JOURNAL_TABLE"`

	Redis    pkgredis.Config
	DedupTTL time.Duration `envconfig:"DEDUP_TTL" default:"10m"`

	Worker WorkerConfig
}

// LoadDotenv exports the variables of envFile into the process environment
// without overriding ones already set. Callers usually treat an error as a
// warning since the file is optional.
func LoadDotenv(envFile string) error {
	if envFile == "" {
		return nil
	}
	return godotenv.Load(envFile)
}

// Load binds the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: process environment: %w", err)
	}
	cfg.ParamPrefix = strings.TrimRight(strings.TrimSpace(cfg.ParamPrefix), "/")
	return cfg, nil
}

func (c *Config) Env() core.Environment {
	return core.ParseEnvironment(c.Environment)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// NeedsAWS reports whether any AWS-backed feature is configured.
func (c *Config) NeedsAWS() bool {
	return c.ParamPrefix != "" || c.TurnJournalTable != ""
}

// ResolveSecrets fills credentials missing from the environment from
// Parameter Store under ParamPrefix. Values already set are kept.
func (c *Config) ResolveSecrets(ctx context.Context, getter paramstore.Getter) error {
	if c.ParamPrefix == "" {
		return nil
	}
	if strings.TrimSpace(c.TelegramBotToken) == "" {
		token, err := paramstore.Token(ctx, getter, c.ParamPrefix+telegramTokenParam)
		if err != nil {
			return fmt.Errorf("config: resolve telegram token: %w", err)
		}
		c.TelegramBotToken = token
	}
	if strings.TrimSpace(c.OpenRouterAPIKey) == "" {
		token, err := paramstore.Token(ctx, getter, c.ParamPrefix+completionTokenParam)
		if err != nil {
			return fmt.Errorf("config: resolve completion api key: %w", err)
		}
		c.OpenRouterAPIKey = token
	}
	return nil
}

// Validate reports every missing or malformed setting at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.TelegramBotToken) == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required"))
	}
	if strings.TrimSpace(c.OpenRouterAPIKey) == "" {
		errs = append(errs, errors.New("OPENROUTER_API_KEY is required"))
	}
	if err := validateURL("WEBHOOK_URL", c.WebhookURL); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("TELEGRAM_API_URL", c.TelegramAPIURL); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("COMPLETION_BASE_URL", c.Completion.BaseURL); err != nil {
		errs = append(errs, err)
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d is out of range", c.Port))
	}
	if c.Completion.Timeout <= 0 {
		errs = append(errs, errors.New("COMPLETION_TIMEOUT must be positive"))
	}
	if c.Worker.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("MAX_CONCURRENT_UPDATES must be positive"))
	}
	if c.Worker.Backlog <= 0 {
		errs = append(errs, errors.New("CONVERSATION_BACKLOG must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func validateURL(name, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s %q is not an absolute http(s) url", name, raw)
	}
	return nil
}
