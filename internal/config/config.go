// Package config loads and validates relay configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. RELAY_DB_DSN.
const EnvPrefix = "RELAY"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	DB           DBConfig           `mapstructure:"db"`
	Broker       BrokerConfig       `mapstructure:"broker"`
	Browser      BrowserConfig      `mapstructure:"browser"`
	Session      SessionConfig      `mapstructure:"session"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	Crawler      CrawlerConfig      `mapstructure:"crawler"`
	Distribution DistributionConfig `mapstructure:"distribution"`
	Diagnostics  DiagnosticsConfig  `mapstructure:"diagnostics"`
	Features     FeaturesConfig     `mapstructure:"features"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig controls the read API.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	APIKey         string        `mapstructure:"api_key"`
}

// DBConfig controls access to Postgres. An empty DSN selects the in-memory store.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// BrokerConfig selects the event bridge transport.
type BrokerConfig struct {
	Provider        string        `mapstructure:"provider"`
	ProjectID       string        `mapstructure:"project_id"`
	Topic           string        `mapstructure:"topic"`
	Subscription    string        `mapstructure:"subscription"`
	ConnectAttempts int           `mapstructure:"connect_attempts"`
	ConnectDelay    time.Duration `mapstructure:"connect_delay"`
	// EmulatorHost points the Pub/Sub client at a local emulator.
	EmulatorHost string `mapstructure:"emulator_host"`
}

// BrowserConfig drives the headless browser.
type BrowserConfig struct {
	UserAgent         string        `mapstructure:"user_agent"`
	Proxy             string        `mapstructure:"proxy"`
	Headless          bool          `mapstructure:"headless"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
}

// SessionConfig controls the site login handshake.
type SessionConfig struct {
	CookieFile    string        `mapstructure:"cookie_file"`
	AuthTimeout   time.Duration `mapstructure:"auth_timeout"`
	ConfirmSettle time.Duration `mapstructure:"confirm_settle"`
	ConfirmBot    string        `mapstructure:"confirm_bot"`
	ConfirmMarker string        `mapstructure:"confirm_marker"`
}

// TelegramConfig holds MTProto credentials for the user and bot accounts.
type TelegramConfig struct {
	AppID       int    `mapstructure:"app_id"`
	AppHash     string `mapstructure:"app_hash"`
	UserSession string `mapstructure:"user_session"`
	Phone       string `mapstructure:"phone"`
	Password    string `mapstructure:"password"`
	BotToken    string `mapstructure:"bot_token"`
	BotSession  string `mapstructure:"bot_session"`
	// RateLimit caps outgoing calls per RPC method per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// UserEnabled reports whether the login-confirming user account is configured.
func (t TelegramConfig) UserEnabled() bool {
	return t.AppID != 0 && t.AppHash != "" && t.UserSession != ""
}

// BotEnabled reports whether the distribution bot is configured.
func (t TelegramConfig) BotEnabled() bool {
	return t.AppID != 0 && t.AppHash != "" && t.BotToken != ""
}

// CrawlerConfig governs the crawl loop and fetch retries.
type CrawlerConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	InterCycleDelay time.Duration `mapstructure:"inter_cycle_delay"`
	IdleDelay       time.Duration `mapstructure:"idle_delay"`
}

// DistributionConfig governs collection and posting.
type DistributionConfig struct {
	ReadAPIURL   string        `mapstructure:"read_api_url"`
	DonorLimit   int           `mapstructure:"donor_limit"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	CaptionLimit int           `mapstructure:"caption_limit"`
	SendAttempts int           `mapstructure:"send_attempts"`
	CoolDown     time.Duration `mapstructure:"cool_down"`
	Schedule     string        `mapstructure:"schedule"`
	Timezone     string        `mapstructure:"timezone"`
}

// Location resolves the schedule timezone.
func (d DistributionConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", d.Timezone, err)
	}
	return loc, nil
}

// DiagnosticsConfig selects where failing pages are dumped.
type DiagnosticsConfig struct {
	Provider string `mapstructure:"provider"`
	Dir      string `mapstructure:"dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// FeaturesConfig switches subsystems on and off.
type FeaturesConfig struct {
	CrawlLoop     bool `mapstructure:"crawl_loop"`
	ReadAPI       bool `mapstructure:"read_api"`
	EventConsumer bool `mapstructure:"event_consumer"`
	Scheduler     bool `mapstructure:"scheduler"`
	// Interactive answers /start in private chats with the bot.
	Interactive bool `mapstructure:"interactive"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from .env, an optional file, and the environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("relay")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.relay")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Every key gets a default so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.api_key", "")

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime", "30m")

	v.SetDefault("broker.provider", "pubsub")
	v.SetDefault("broker.project_id", "")
	v.SetDefault("broker.topic", "events_queue")
	v.SetDefault("broker.subscription", "events_queue-consumer")
	v.SetDefault("broker.connect_attempts", 20)
	v.SetDefault("broker.connect_delay", "3s")
	v.SetDefault("broker.emulator_host", "")

	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 "+
		"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	v.SetDefault("browser.proxy", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", "40s")
	v.SetDefault("browser.settle_delay", "30s")
	v.SetDefault("browser.read_timeout", "30s")

	v.SetDefault("session.cookie_file", "cookies.json")
	v.SetDefault("session.auth_timeout", "15s")
	v.SetDefault("session.confirm_settle", "5s")
	v.SetDefault("session.confirm_bot", "tg_analytics_bot")
	v.SetDefault("session.confirm_marker", "Вы входите на сайт")

	v.SetDefault("telegram.app_id", 0)
	v.SetDefault("telegram.app_hash", "")
	v.SetDefault("telegram.user_session", "telegram-user.json")
	v.SetDefault("telegram.phone", "")
	v.SetDefault("telegram.password", "")
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.bot_session", "telegram-bot.json")
	v.SetDefault("telegram.rate_limit", 5.0)
	v.SetDefault("telegram.rate_burst", 5)

	v.SetDefault("crawler.base_url", "https://tgstat.ru")
	v.SetDefault("crawler.max_attempts", 2)
	v.SetDefault("crawler.retry_backoff", "60s")
	v.SetDefault("crawler.inter_cycle_delay", "45s")
	v.SetDefault("crawler.idle_delay", "60s")

	v.SetDefault("distribution.read_api_url", "http://localhost:8080")
	v.SetDefault("distribution.donor_limit", 20)
	v.SetDefault("distribution.read_timeout", "10s")
	v.SetDefault("distribution.caption_limit", 1024)
	v.SetDefault("distribution.send_attempts", 3)
	v.SetDefault("distribution.cool_down", "40s")
	v.SetDefault("distribution.schedule", "0 8,12,16,20 * * *")
	v.SetDefault("distribution.timezone", "Europe/Moscow")

	v.SetDefault("diagnostics.provider", "local")
	v.SetDefault("diagnostics.dir", "data")
	v.SetDefault("diagnostics.bucket", "")
	v.SetDefault("diagnostics.prefix", "")

	v.SetDefault("features.crawl_loop", true)
	v.SetDefault("features.read_api", true)
	v.SetDefault("features.event_consumer", true)
	v.SetDefault("features.scheduler", true)
	v.SetDefault("features.interactive", false)

	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.MaxAttempts <= 0 {
		return fmt.Errorf("crawler.max_attempts must be > 0")
	}
	if c.Distribution.CaptionLimit <= 0 {
		return fmt.Errorf("distribution.caption_limit must be > 0")
	}
	if c.Distribution.SendAttempts <= 0 {
		return fmt.Errorf("distribution.send_attempts must be > 0")
	}
	if _, err := c.Distribution.Location(); err != nil {
		return fmt.Errorf("distribution.timezone: %w", err)
	}
	switch c.Broker.Provider {
	case "memory":
	case "pubsub":
		if c.Broker.ProjectID == "" {
			return fmt.Errorf("broker.project_id must be set for the pubsub provider")
		}
	default:
		return fmt.Errorf("broker.provider must be pubsub or memory, got %q", c.Broker.Provider)
	}
	switch c.Diagnostics.Provider {
	case "none", "memory":
	case "local":
		if c.Diagnostics.Dir == "" {
			return fmt.Errorf("diagnostics.dir must be set for the local provider")
		}
	case "gcs":
		if c.Diagnostics.Bucket == "" {
			return fmt.Errorf("diagnostics.bucket must be set for the gcs provider")
		}
	default:
		return fmt.Errorf("diagnostics.provider must be local, gcs, memory or none, got %q", c.Diagnostics.Provider)
	}
	if c.Telegram.BotToken != "" && (c.Telegram.AppID == 0 || c.Telegram.AppHash == "") {
		return fmt.Errorf("telegram.app_id and telegram.app_hash are required with a bot token")
	}
	return nil
}
