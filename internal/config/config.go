package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const FileName = "bugtrail.yml"

// Notification channels.
const (
	ChannelLog     = "log"
	ChannelSMTP    = "smtp"
	ChannelWebhook = "webhook"
	ChannelNone    = "none"
)

// Config models bugtrail.yml.
type Config struct {
	Breach struct {
		Threshold time.Duration `yaml:"threshold"`
	} `yaml:"breach"`
	Notify NotifyConfig `yaml:"notify"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		// JWTSecret is usually left empty here and supplied through BUGTRAIL_JWT_SECRET.
		JWTSecret        string `yaml:"jwt_secret"`
		AllowActorHeader bool   `yaml:"allow_actor_header"`
	} `yaml:"auth"`
}

type NotifyConfig struct {
	Channel   string        `yaml:"channel"`
	QueueSize int           `yaml:"queue_size"`
	SMTP      SMTPConfig    `yaml:"smtp"`
	Webhook   WebhookConfig `yaml:"webhook"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Events         []string `yaml:"events"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Breach.Threshold <= 0 {
		return fmt.Errorf("config.breach.threshold must be positive")
	}
	if c.Notify.QueueSize < 0 {
		return fmt.Errorf("config.notify.queue_size must not be negative")
	}
	switch strings.ToLower(c.Notify.Channel) {
	case ChannelLog, ChannelNone:
	case ChannelSMTP:
		if c.Notify.SMTP.Host == "" {
			return fmt.Errorf("config.notify.smtp.host is required for channel smtp")
		}
		if c.Notify.SMTP.Port <= 0 {
			return fmt.Errorf("config.notify.smtp.port must be positive")
		}
		if c.Notify.SMTP.From == "" {
			return fmt.Errorf("config.notify.smtp.from is required for channel smtp")
		}
	case ChannelWebhook:
		if strings.TrimSpace(c.Notify.Webhook.URL) == "" {
			return fmt.Errorf("config.notify.webhook.url is required for channel webhook")
		}
		if c.Notify.Webhook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.notify.webhook.timeout_seconds must not be negative")
		}
	default:
		return fmt.Errorf("config.notify.channel must be one of log, smtp, webhook, none")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with bt config init", Path(workspace))
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to Default when the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const defaultTemplate = `breach:
  # how long a bug may stay in one unresolved status
  threshold: 210s

notify:
  channel: log
  queue_size: 64
  smtp:
    host: localhost
    port: 25
    from: bugtrail@localhost
  webhook:
    timeout_seconds: 5

server:
  addr: 127.0.0.1:8080
  base_path: ""

auth:
  allow_actor_header: false
`
