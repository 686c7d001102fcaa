// Package config loads the mailglot daemon configuration from YAML.
// Runtime user settings (credentials, target language) live in the
// settings table instead; this file covers deployment concerns.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	DBPath    string          `yaml:"db_path"`
	DBTrace   bool            `yaml:"db_trace"` // log and time every SQL statement
	Admin     AdminConfig     `yaml:"admin"`
	Browser   BrowserConfig   `yaml:"browser"`
	Page      PageConfig      `yaml:"page"`
	Watcher   WatcherConfig   `yaml:"watcher"`
	Selectors SelectorsConfig `yaml:"selectors"`
	Registry  RegistryConfig  `yaml:"registry"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Remote    RemoteConfig    `yaml:"remote"`
	Events    EventsConfig    `yaml:"events"`
}

// AdminConfig controls the admin HTTP API.
type AdminConfig struct {
	Listen string `yaml:"listen"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	UserDataDir      string        `yaml:"user_data_dir"`
	Stealth          string        `yaml:"stealth"` // headless | headful
	XvfbDisplay      string        `yaml:"xvfb_display"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
}

// PageConfig is the webmail page to attach to.
type PageConfig struct {
	URL string `yaml:"url"`
}

// WatcherConfig tunes rescan scheduling.
type WatcherConfig struct {
	QuietPeriod  time.Duration `yaml:"quiet_period"`
	StartupDelay time.Duration `yaml:"startup_delay"`
}

// SelectorsConfig overrides the role selectors. Empty lists keep the
// built-in ones.
type SelectorsConfig struct {
	MessageBody    []string `yaml:"message_body"`
	ComposeEditor  []string `yaml:"compose_editor"`
	AttachmentCard []string `yaml:"attachment_card"`
	Anchors        []string `yaml:"anchors"`
}

// RegistryConfig sizes the processed-node registry.
type RegistryConfig struct {
	Capacity int `yaml:"capacity"`
}

// WorkflowConfig holds workflow limits and timings.
type WorkflowConfig struct {
	MinTextChars       int           `yaml:"min_text_chars"`
	SummaryMaxChars    int           `yaml:"summary_max_chars"`
	ChunkChars         int           `yaml:"chunk_chars"`
	MaxAttachmentBytes int64         `yaml:"max_attachment_bytes"`
	MessageErrorTTL    time.Duration `yaml:"message_error_ttl"`
	AttachmentErrorTTL time.Duration `yaml:"attachment_error_ttl"`
	TriggerRevert      time.Duration `yaml:"trigger_revert"`
}

// RemoteConfig controls the service clients.
type RemoteConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	Retries          int           `yaml:"retries"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	TranslateBaseURL string        `yaml:"translate_base_url"`
	OpenAIBaseURL    string        `yaml:"openai_base_url"`
	AnthropicBaseURL string        `yaml:"anthropic_base_url"`
}

// EventsConfig controls the workflow event log.
type EventsConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

// Load reads a YAML file. An empty path returns Default().
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, cfg.Validate()
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	switch c.Browser.Stealth {
	case "headless", "headful":
	default:
		return fmt.Errorf("config: browser.stealth must be headless or headful, got %q", c.Browser.Stealth)
	}
	if c.Remote.Retries < 0 {
		return fmt.Errorf("config: remote.retries must be >= 0")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "mailglot.db"
	}
	if c.Admin.Listen == "" {
		c.Admin.Listen = "127.0.0.1:8719"
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 12 * time.Hour
	}
	if c.Page.URL == "" {
		c.Page.URL = "https://mail.google.com/mail/u/0/"
	}
	if c.Watcher.QuietPeriod <= 0 {
		c.Watcher.QuietPeriod = 500 * time.Millisecond
	}
	if c.Watcher.StartupDelay <= 0 {
		c.Watcher.StartupDelay = 2 * time.Second
	}
	if c.Registry.Capacity <= 0 {
		c.Registry.Capacity = 1000
	}
	w := &c.Workflow
	if w.MinTextChars <= 0 {
		w.MinTextChars = 5
	}
	if w.SummaryMaxChars <= 0 {
		w.SummaryMaxChars = 3000
	}
	if w.ChunkChars <= 0 {
		w.ChunkChars = 2000
	}
	if w.MaxAttachmentBytes <= 0 {
		w.MaxAttachmentBytes = 25 << 20
	}
	if w.MessageErrorTTL <= 0 {
		w.MessageErrorTTL = 10 * time.Second
	}
	if w.AttachmentErrorTTL <= 0 {
		w.AttachmentErrorTTL = 8 * time.Second
	}
	if w.TriggerRevert <= 0 {
		w.TriggerRevert = 3 * time.Second
	}
	if c.Remote.Timeout <= 0 {
		c.Remote.Timeout = 30 * time.Second
	}
	if c.Remote.BreakerThreshold == 0 {
		c.Remote.BreakerThreshold = 5
	}
	if c.Events.RetentionDays == 0 {
		c.Events.RetentionDays = 30
	}
}
