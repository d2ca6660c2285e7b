package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/usncompetitions/notifier/internal/email"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Email     EmailConfig     `yaml:"email"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Auth      AuthConfig      `yaml:"auth"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// TelegramConfig configures the chat channel
type TelegramConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Token       string        `yaml:"token"`
	APIURL      string        `yaml:"api_url"`
	Timeout     time.Duration `yaml:"timeout"`
	MinInterval time.Duration `yaml:"min_interval"`
	ParseMode   string        `yaml:"parse_mode"`
}

// EmailConfig configures the email channel
type EmailConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	UseTLS       *bool         `yaml:"use_tls"`
	FromEmail    string        `yaml:"from_email"`
	FromName     string        `yaml:"from_name"`
	SupportEmail string        `yaml:"support_email"`
	HeloName     string        `yaml:"helo_name"`
	Timeout      time.Duration `yaml:"timeout"`
	DKIM         DKIMConfig    `yaml:"dkim"`
}

// TLSEnabled reports whether STARTTLS is used; on unless disabled
func (c EmailConfig) TLSEnabled() bool {
	return c.UseTLS == nil || *c.UseTLS
}

// IsConfigured reports whether the SMTP credentials are complete
func (c EmailConfig) IsConfigured() bool {
	return c.Host != "" && c.Username != "" && c.Password != "" && c.SupportEmail != ""
}

// Sender returns the envelope sender address
func (c EmailConfig) Sender() string {
	if c.FromEmail != "" {
		return c.FromEmail
	}
	if c.SupportEmail != "" {
		return c.SupportEmail
	}
	return "noreply@example.com"
}

type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Domain   string `yaml:"domain"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"`
}

type BroadcastConfig struct {
	PreviewSampleSize int           `yaml:"preview_sample_size"`
	Scheduler         bool          `yaml:"scheduler"`
	PollInterval      time.Duration `yaml:"poll_interval"`
}

type AuthConfig struct {
	// APIKey is a static bootstrap key accepted besides stored keys
	APIKey string `yaml:"api_key"`
}

// MetricsConfig configures Prometheus metrics. An empty ListenAddr mounts
// the endpoint on the API server.
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Path          string        `yaml:"path"`
	ListenAddr    string        `yaml:"listen_addr"`
	AllowedIPs    []string      `yaml:"allowed_ips"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the YAML file at path (optional when empty), loads a .env file
// from the working directory if present, applies environment overrides,
// defaults and validation.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	setString("NOTIFIER_DB_PATH", &cfg.Database.Path)
	setString("NOTIFIER_LISTEN_ADDR", &cfg.Server.ListenAddr)
	setString("NOTIFIER_API_KEY", &cfg.Auth.APIKey)

	if v := os.Getenv("NOTIFIER_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
		cfg.Telegram.Enabled = true
	}

	setString("NOTIFIER_SMTP_HOST", &cfg.Email.Host)
	setString("NOTIFIER_SMTP_USERNAME", &cfg.Email.Username)
	setString("NOTIFIER_SMTP_PASSWORD", &cfg.Email.Password)
	setString("NOTIFIER_SMTP_FROM_EMAIL", &cfg.Email.FromEmail)
	setString("NOTIFIER_SMTP_FROM_NAME", &cfg.Email.FromName)
	setString("NOTIFIER_SUPPORT_EMAIL", &cfg.Email.SupportEmail)

	if v := os.Getenv("NOTIFIER_SMTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid NOTIFIER_SMTP_PORT %q: %w", v, err)
		}
		cfg.Email.Port = port
	}
	if v := os.Getenv("NOTIFIER_SMTP_USE_TLS"); v != "" {
		useTLS, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid NOTIFIER_SMTP_USE_TLS %q: %w", v, err)
		}
		cfg.Email.UseTLS = &useTLS
	}
	if cfg.Email.Host != "" && os.Getenv("NOTIFIER_SMTP_HOST") != "" {
		cfg.Email.Enabled = true
	}

	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8090"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/notifier/notifier.db"
	}
	if cfg.Telegram.Timeout == 0 {
		cfg.Telegram.Timeout = 10 * time.Second
	}
	if cfg.Telegram.MinInterval == 0 {
		cfg.Telegram.MinInterval = 50 * time.Millisecond
	}
	if cfg.Telegram.ParseMode == "" {
		cfg.Telegram.ParseMode = "HTML"
	}
	if cfg.Email.Port == 0 {
		cfg.Email.Port = 587
	}
	if cfg.Email.FromName == "" {
		cfg.Email.FromName = "USN Competitions"
	}
	if cfg.Email.Timeout == 0 {
		cfg.Email.Timeout = 10 * time.Second
	}
	if cfg.Email.HeloName == "" {
		cfg.Email.HeloName = "localhost"
	}
	if cfg.Email.DKIM.Domain == "" {
		cfg.Email.DKIM.Domain = email.ExtractDomain(cfg.Email.Sender())
	}
	if cfg.Email.DKIM.Selector == "" {
		cfg.Email.DKIM.Selector = "notifier"
	}
	if cfg.Broadcast.PreviewSampleSize == 0 {
		cfg.Broadcast.PreviewSampleSize = 5
	}
	if cfg.Broadcast.PollInterval == 0 {
		cfg.Broadcast.PollInterval = 30 * time.Second
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Metrics.FlushInterval == 0 {
		cfg.Metrics.FlushInterval = 15 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	if cfg.Email.Port < 1 || cfg.Email.Port > 65535 {
		return fmt.Errorf("email.port must be between 1 and 65535")
	}
	if cfg.Telegram.MinInterval < 0 {
		return fmt.Errorf("telegram.min_interval must not be negative")
	}
	if cfg.Broadcast.PreviewSampleSize < 0 {
		return fmt.Errorf("broadcast.preview_sample_size must not be negative")
	}
	if cfg.Email.DKIM.Enabled {
		if cfg.Email.DKIM.KeyFile == "" {
			return fmt.Errorf("email.dkim.key_file is required when DKIM is enabled")
		}
		if cfg.Email.DKIM.Domain == "" {
			return fmt.Errorf("email.dkim.domain is required when DKIM is enabled")
		}
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text")
	}
	return nil
}
