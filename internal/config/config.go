package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/amishk599/careerscan/internal/model"
)

// Config is the root configuration for careerscan.
type Config struct {
	AI           AIConfig
	Fetch        FetchConfig
	Store        StoreConfig
	Progress     ProgressConfig
	Notification NotificationConfig
	Schedule     ScheduleConfig
	Server       ServerConfig
	Prompts      []PromptConfig
	Sites        []SiteConfig
}

// AIConfig controls the extraction model.
type AIConfig struct {
	BaseURL    string        // defaults to https://api.openai.com/v1
	Model      string        // OpenAI model identifier, e.g. "gpt-4o-mini"
	APIKey     string        // expanded from env var by Load
	Timeout    time.Duration // per-request timeout
	MaxRetries int
}

// FetchConfig controls the headless browser.
type FetchConfig struct {
	Delay             time.Duration // settle delay after the selector appears; zero means unset
	NavigationTimeout time.Duration
	SelectorTimeout   time.Duration
	HostMinDelay      time.Duration // minimum gap between fetches to the same host
	Headless          bool
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

// ProgressConfig selects where live run snapshots are kept.
type ProgressConfig struct {
	Backend   string `yaml:"backend"` // "memory" or "redis"
	RedisAddr string `yaml:"redis_addr"`
	Password  string `yaml:"redis_password"`
}

// NotificationConfig controls which notifier is used and its settings.
type NotificationConfig struct {
	Type       string `yaml:"type"`        // "log" or "slack"
	WebhookURL string `yaml:"webhook_url"` // required if type is "slack"
}

type ScheduleConfig struct {
	Cron string `yaml:"cron"` // robfig/cron spec, e.g. "@every 6h"
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// PromptConfig declares a set of matching criteria.
type PromptConfig struct {
	ID       string
	Name     string
	Criteria string
	Active   bool
}

// SiteConfig declares a career page to scan.
type SiteConfig struct {
	ID       string
	Name     string
	URL      string
	Selector string
	PromptID string
	Active   bool
}

// Settings is the subset of configuration a run needs before it may start.
type Settings struct {
	Model      string
	APIKey     string
	FetchDelay time.Duration
}

// Validate returns a *model.ConfigurationError naming the first missing setting.
func (s Settings) Validate() error {
	switch {
	case strings.TrimSpace(s.Model) == "":
		return &model.ConfigurationError{Setting: "model"}
	case s.FetchDelay <= 0:
		return &model.ConfigurationError{Setting: "fetch_delay"}
	case strings.TrimSpace(s.APIKey) == "":
		return &model.ConfigurationError{Setting: "api_key"}
	}
	return nil
}

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultStorePath     = "careerscan.db"
	defaultServerAddr    = ":8080"
	defaultCron          = "@every 6h"
)

// rawConfig is used for YAML unmarshaling (snake_case fields and duration as string).
type rawConfig struct {
	AI           rawAIConfig        `yaml:"ai"`
	Fetch        rawFetchConfig     `yaml:"fetch"`
	Store        StoreConfig        `yaml:"store"`
	Progress     ProgressConfig     `yaml:"progress"`
	Notification NotificationConfig `yaml:"notification"`
	Schedule     ScheduleConfig     `yaml:"schedule"`
	Server       ServerConfig       `yaml:"server"`
	Prompts      []rawPromptConfig  `yaml:"prompts"`
	Sites        []rawSiteConfig    `yaml:"sites"`
}

type rawAIConfig struct {
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	Timeout    string `yaml:"timeout"`
	MaxRetries *int   `yaml:"max_retries"`
}

type rawFetchConfig struct {
	Delay             string `yaml:"delay"`
	NavigationTimeout string `yaml:"navigation_timeout"`
	SelectorTimeout   string `yaml:"selector_timeout"`
	HostMinDelay      string `yaml:"host_min_delay"`
	Headless          *bool  `yaml:"headless"`
}

type rawPromptConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Criteria string `yaml:"criteria"`
	Active   *bool  `yaml:"active"`
}

type rawSiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Selector string `yaml:"selector"`
	Prompt   string `yaml:"prompt"`
	Active   *bool  `yaml:"active"`
}

// Load reads and parses the YAML config file at path, validates it, and returns Config.
// A .env file next to the config is loaded first; variables already set in the
// environment win.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	aiTimeout, err := parseDuration("ai.timeout", raw.AI.Timeout, 60*time.Second)
	if err != nil {
		return nil, err
	}
	delay, err := parseDuration("fetch.delay", raw.Fetch.Delay, 0)
	if err != nil {
		return nil, err
	}
	navTimeout, err := parseDuration("fetch.navigation_timeout", raw.Fetch.NavigationTimeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	selTimeout, err := parseDuration("fetch.selector_timeout", raw.Fetch.SelectorTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	hostDelay, err := parseDuration("fetch.host_min_delay", raw.Fetch.HostMinDelay, 5*time.Second)
	if err != nil {
		return nil, err
	}

	maxRetries := 3
	if raw.AI.MaxRetries != nil {
		maxRetries = *raw.AI.MaxRetries
	}

	cfg := &Config{
		AI: AIConfig{
			BaseURL:    orDefault(raw.AI.BaseURL, defaultOpenAIBaseURL),
			Model:      raw.AI.Model,
			APIKey:     raw.AI.APIKey,
			Timeout:    aiTimeout,
			MaxRetries: maxRetries,
		},
		Fetch: FetchConfig{
			Delay:             delay,
			NavigationTimeout: navTimeout,
			SelectorTimeout:   selTimeout,
			HostMinDelay:      hostDelay,
			Headless:          raw.Fetch.Headless == nil || *raw.Fetch.Headless,
		},
		Store:        StoreConfig{Path: orDefault(raw.Store.Path, defaultStorePath)},
		Progress:     raw.Progress,
		Notification: raw.Notification,
		Schedule:     ScheduleConfig{Cron: orDefault(raw.Schedule.Cron, defaultCron)},
		Server:       ServerConfig{Addr: orDefault(raw.Server.Addr, defaultServerAddr)},
	}
	if cfg.Progress.Backend == "" {
		cfg.Progress.Backend = "memory"
	}
	if cfg.Notification.Type == "" {
		cfg.Notification.Type = "log"
	}

	for _, p := range raw.Prompts {
		cfg.Prompts = append(cfg.Prompts, PromptConfig{
			ID:       p.ID,
			Name:     orDefault(p.Name, p.ID),
			Criteria: strings.TrimSpace(p.Criteria),
			Active:   p.Active == nil || *p.Active,
		})
	}
	for _, s := range raw.Sites {
		cfg.Sites = append(cfg.Sites, SiteConfig{
			ID:       s.ID,
			Name:     orDefault(s.Name, s.ID),
			URL:      s.URL,
			Selector: s.Selector,
			PromptID: s.Prompt,
			Active:   s.Active == nil || *s.Active,
		})
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func parseDuration(name, value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", name, value, err)
	}
	return d, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Settings returns the values a run validates before starting.
func (c *Config) Settings() Settings {
	return Settings{
		Model:      c.AI.Model,
		APIKey:     c.AI.APIKey,
		FetchDelay: c.Fetch.Delay,
	}
}

// Catalog converts the declared prompts and sites into storage records.
func (c *Config) Catalog() ([]model.Prompt, []model.Site) {
	prompts := make([]model.Prompt, 0, len(c.Prompts))
	for _, p := range c.Prompts {
		prompts = append(prompts, model.Prompt{ID: p.ID, Name: p.Name, Criteria: p.Criteria, Active: p.Active})
	}
	sites := make([]model.Site, 0, len(c.Sites))
	for _, s := range c.Sites {
		sites = append(sites, model.Site{
			ID:       s.ID,
			Name:     s.Name,
			URL:      s.URL,
			Selector: s.Selector,
			PromptID: s.PromptID,
			Active:   s.Active,
		})
	}
	return prompts, sites
}

func validate(cfg *Config) error {
	if cfg.Fetch.Delay < 0 {
		return fmt.Errorf("fetch.delay must not be negative, got %v", cfg.Fetch.Delay)
	}
	if cfg.Fetch.NavigationTimeout <= 0 || cfg.Fetch.SelectorTimeout <= 0 {
		return fmt.Errorf("fetch timeouts must be positive")
	}
	if cfg.AI.MaxRetries < 0 {
		return fmt.Errorf("ai.max_retries must not be negative, got %d", cfg.AI.MaxRetries)
	}

	promptIDs := make(map[string]bool, len(cfg.Prompts))
	for i, p := range cfg.Prompts {
		if p.ID == "" {
			return fmt.Errorf("prompts[%d].id is required", i)
		}
		if promptIDs[p.ID] {
			return fmt.Errorf("duplicate prompt id %q", p.ID)
		}
		if p.Criteria == "" {
			return fmt.Errorf("prompt %q: criteria is required", p.ID)
		}
		promptIDs[p.ID] = true
	}

	siteIDs := make(map[string]bool, len(cfg.Sites))
	for i, s := range cfg.Sites {
		if s.ID == "" {
			return fmt.Errorf("sites[%d].id is required", i)
		}
		if siteIDs[s.ID] {
			return fmt.Errorf("duplicate site id %q", s.ID)
		}
		siteIDs[s.ID] = true
		if s.URL == "" || s.Selector == "" {
			return fmt.Errorf("site %q: url and selector are required", s.ID)
		}
		if !promptIDs[s.PromptID] {
			return fmt.Errorf("site %q references unknown prompt %q", s.ID, s.PromptID)
		}
	}

	switch cfg.Progress.Backend {
	case "memory":
	case "redis":
		if cfg.Progress.RedisAddr == "" {
			return fmt.Errorf("progress.redis_addr is required when backend is \"redis\"")
		}
	default:
		return fmt.Errorf("progress.backend must be \"memory\" or \"redis\", got %q", cfg.Progress.Backend)
	}

	switch cfg.Notification.Type {
	case "log":
	case "slack":
		if cfg.Notification.WebhookURL == "" {
			return fmt.Errorf("notification.webhook_url is required when type is \"slack\"")
		}
		if !strings.HasPrefix(cfg.Notification.WebhookURL, "https://hooks.slack.com/") {
			return fmt.Errorf("notification.webhook_url must start with https://hooks.slack.com/")
		}
	default:
		return fmt.Errorf("notification.type must be \"log\" or \"slack\", got %q", cfg.Notification.Type)
	}

	return nil
}
