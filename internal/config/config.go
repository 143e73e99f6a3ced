package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"gold-alert-engine/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Rates    RatesConfig    `mapstructure:"rates"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// EngineConfig governs the evaluation loop.
type EngineConfig struct {
	HistoryWindow          int           `mapstructure:"history_window"`
	TrendWindow            int           `mapstructure:"trend_window"`
	FireOnFirstObservation bool          `mapstructure:"fire_on_first_observation"`
	RearmPolicy            string        `mapstructure:"rearm_policy"`
	EmitRetries            int           `mapstructure:"emit_retries"`
	EmitBackoff            time.Duration `mapstructure:"emit_backoff"`
	LaneBuffer             int           `mapstructure:"lane_buffer"`
	OpTimeout              time.Duration `mapstructure:"op_timeout"`
}

// IngestConfig selects and tunes the tick source.
type IngestConfig struct {
	Source    string          `mapstructure:"source"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Websocket WebsocketConfig `mapstructure:"websocket"`
	Chainlink ChainlinkConfig `mapstructure:"chainlink"`
}

// KafkaConfig covers the Kafka tick source.
type KafkaConfig struct {
	Brokers []string      `mapstructure:"brokers"`
	Topic   string        `mapstructure:"topic"`
	GroupID string        `mapstructure:"group_id"`
	MaxWait time.Duration `mapstructure:"max_wait"`
}

// WebsocketConfig covers the websocket tick source.
type WebsocketConfig struct {
	URL           string        `mapstructure:"url"`
	RedialBackoff time.Duration `mapstructure:"redial_backoff"`
	ReadDeadline  time.Duration `mapstructure:"read_deadline"`
}

// ChainlinkConfig covers the on-chain price feed poller.
type ChainlinkConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	FeedAddress    string        `mapstructure:"feed_address"`
	Asset          string        `mapstructure:"asset"`
	Currency       string        `mapstructure:"currency"`
	Decimals       int32         `mapstructure:"decimals"`
	Interval       time.Duration `mapstructure:"interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// RatesConfig selects and tunes the conversion-rate provider.
type RatesConfig struct {
	Provider     string        `mapstructure:"provider"`
	Freshness    time.Duration `mapstructure:"freshness"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Static       []StaticRate  `mapstructure:"static"`
	Redis        RedisConfig   `mapstructure:"redis"`
	YER          YERConfig     `mapstructure:"yer"`
}

// StaticRate is a fixed configured quote.
type StaticRate struct {
	From string  `mapstructure:"from"`
	To   string  `mapstructure:"to"`
	Rate float64 `mapstructure:"rate"`
}

// RedisConfig covers the Redis rate provider.
type RedisConfig struct {
	Addr     string   `mapstructure:"addr"`
	Password string   `mapstructure:"password"`
	DB       int      `mapstructure:"db"`
	Pairs    []string `mapstructure:"pairs"`
}

// YERConfig controls synthesis of the USD->YER quote when no provider
// supplies one.
type YERConfig struct {
	Synthesize     bool    `mapstructure:"synthesize"`
	ReferenceRate  float64 `mapstructure:"reference_rate"`
	RegionalFactor float64 `mapstructure:"regional_factor"`
}

// AlertingConfig defines trigger routing.
type AlertingConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	NATS     NATSConfig     `mapstructure:"nats"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// NATSConfig covers the NATS trigger publisher.
type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// MetricsConfig covers the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GOLDWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "goldwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("engine.history_window", 64)
	v.SetDefault("engine.trend_window", 5)
	v.SetDefault("engine.fire_on_first_observation", true)
	v.SetDefault("engine.rearm_policy", "auto")
	v.SetDefault("engine.emit_retries", 3)
	v.SetDefault("engine.emit_backoff", "500ms")
	v.SetDefault("engine.lane_buffer", 16)
	v.SetDefault("engine.op_timeout", "10s")

	v.SetDefault("ingest.source", "kafka")
	v.SetDefault("ingest.kafka.topic", "price-ticks")
	v.SetDefault("ingest.kafka.group_id", "goldwatcher")
	v.SetDefault("ingest.kafka.max_wait", "1s")
	v.SetDefault("ingest.websocket.redial_backoff", "5s")
	v.SetDefault("ingest.chainlink.asset", "XAU")
	v.SetDefault("ingest.chainlink.currency", "USD")
	v.SetDefault("ingest.chainlink.decimals", 8)
	v.SetDefault("ingest.chainlink.interval", "1m")
	v.SetDefault("ingest.chainlink.request_timeout", "10s")

	v.SetDefault("rates.provider", "static")
	v.SetDefault("rates.freshness", "15m")
	v.SetDefault("rates.poll_interval", "1m")
	v.SetDefault("rates.yer.synthesize", true)
	v.SetDefault("rates.yer.reference_rate", 530.0)
	v.SetDefault("rates.yer.regional_factor", 1.0)

	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.nats.enabled", false)
	v.SetDefault("alerting.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("alerting.nats.subject", "goldwatcher.triggers")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9464")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.advisory_lock_key", int64(0x676f6c64))
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Engine.HistoryWindow <= 0 {
		return fmt.Errorf("engine.history_window must be greater than zero")
	}
	if c.Engine.TrendWindow < 2 {
		return fmt.Errorf("engine.trend_window must be at least 2")
	}
	if c.Engine.TrendWindow >= c.Engine.HistoryWindow {
		return fmt.Errorf("engine.trend_window must be smaller than engine.history_window")
	}
	if c.Engine.RearmPolicy != "auto" && c.Engine.RearmPolicy != "manual" {
		return fmt.Errorf("engine.rearm_policy must be auto or manual")
	}
	if c.Engine.EmitRetries < 0 {
		return fmt.Errorf("engine.emit_retries cannot be negative")
	}

	switch c.Ingest.Source {
	case "kafka", "websocket", "chainlink":
	default:
		return fmt.Errorf("ingest.source must be kafka, websocket, or chainlink")
	}

	switch c.Rates.Provider {
	case "static", "redis":
	default:
		return fmt.Errorf("rates.provider must be static or redis")
	}
	if c.Rates.Freshness <= 0 {
		return fmt.Errorf("rates.freshness must be greater than zero")
	}

	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Alerting.NATS.Enabled && c.Alerting.NATS.Subject == "" {
		return fmt.Errorf("alerting.nats.subject is required when nats is enabled")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
