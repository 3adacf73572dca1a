package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"sol-outflow-alerts/internal/ledger"
	"sol-outflow-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Solana   SolanaConfig   `mapstructure:"solana"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Health   HealthConfig   `mapstructure:"health"`
	Database DatabaseConfig `mapstructure:"database"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// SolanaConfig covers the websocket RPC endpoint.
type SolanaConfig struct {
	WSURL            string        `mapstructure:"ws_url"`
	Commitment       string        `mapstructure:"commitment"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	AckTimeout       time.Duration `mapstructure:"ack_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
}

// MonitorConfig lists watched accounts, the alert threshold and reconnect pacing.
type MonitorConfig struct {
	Addresses      []string      `mapstructure:"addresses"`
	ThresholdSOL   string        `mapstructure:"threshold_sol"`
	BackoffFloor   time.Duration `mapstructure:"backoff_floor"`
	BackoffCeiling time.Duration `mapstructure:"backoff_ceiling"`
	StableAfter    time.Duration `mapstructure:"stable_after"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Channels     []string       `mapstructure:"channels"`
	ExplorerBase string         `mapstructure:"explorer_base"`
	QueueSize    int            `mapstructure:"queue_size"`
	Workers      int            `mapstructure:"workers"`
	SendTimeout  time.Duration  `mapstructure:"send_timeout"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
	Redis        RedisConfig    `mapstructure:"redis"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// RedisConfig describes the optional pub/sub alert channel.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// HealthConfig configures the liveness/metrics listener.
type HealthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity used for the single-monitor lock.
type DatabaseConfig struct {
	DSN               string        `mapstructure:"dsn"`
	MaxOpenConns      int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime   time.Duration `mapstructure:"conn_max_lifetime"`
	LockKey           int64         `mapstructure:"lock_key"`
	LockRetryInterval time.Duration `mapstructure:"lock_retry_interval"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SOLWATCH")
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
	v.SetDefault("app.name", "solwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("solana.ws_url", "wss://api.mainnet-beta.solana.com/")
	v.SetDefault("solana.commitment", "confirmed")
	v.SetDefault("solana.handshake_timeout", "10s")
	v.SetDefault("solana.ack_timeout", "10s")
	v.SetDefault("solana.ping_interval", "30s")
	v.SetDefault("solana.pong_wait", "90s")

	v.SetDefault("monitor.addresses", []string{})
	v.SetDefault("monitor.threshold_sol", "20")
	v.SetDefault("monitor.backoff_floor", "1s")
	v.SetDefault("monitor.backoff_ceiling", "60s")
	v.SetDefault("monitor.stable_after", "5m")

	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.explorer_base", "https://solscan.io")
	v.SetDefault("alerting.queue_size", 64)
	v.SetDefault("alerting.workers", 1)
	v.SetDefault("alerting.send_timeout", "10s")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.redis.enabled", false)
	v.SetDefault("alerting.redis.addr", "localhost:6379")
	v.SetDefault("alerting.redis.password", "")
	v.SetDefault("alerting.redis.channel", "solwatch:alerts")

	v.SetDefault("health.enabled", true)
	v.SetDefault("health.addr", defaultHealthAddr())

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.lock_key", int64(0x736f6c77))
	v.SetDefault("database.lock_retry_interval", "15s")
}

// defaultHealthAddr honours the platform-provided PORT variable.
func defaultHealthAddr() string {
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	return ":8000"
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

// Validate performs sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Solana.WSURL == "" {
		return fmt.Errorf("solana.ws_url must be configured")
	}
	if !strings.HasPrefix(c.Solana.WSURL, "ws://") && !strings.HasPrefix(c.Solana.WSURL, "wss://") {
		return fmt.Errorf("solana.ws_url must use ws:// or wss://")
	}
	if err := validateAddresses(c.Monitor.Addresses); err != nil {
		return err
	}

	threshold, err := c.ThresholdLamports()
	if err != nil {
		return err
	}
	if threshold <= 0 {
		return fmt.Errorf("monitor.threshold_sol must be greater than zero")
	}
	if c.Monitor.BackoffFloor <= 0 {
		return fmt.Errorf("monitor.backoff_floor must be greater than zero")
	}
	if c.Monitor.BackoffCeiling < c.Monitor.BackoffFloor {
		return fmt.Errorf("monitor.backoff_ceiling must not be below monitor.backoff_floor")
	}

	if c.Alerting.QueueSize <= 0 {
		return fmt.Errorf("alerting.queue_size must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Alerting.Redis.Enabled && c.Alerting.Redis.Channel == "" {
		return fmt.Errorf("alerting.redis.channel must be configured")
	}
	for _, ch := range c.Alerting.Channels {
		switch ch {
		case "telegram", "redis":
		default:
			return fmt.Errorf("alerting.channels: unknown channel %q", ch)
		}
	}
	return nil
}

func validateAddresses(addresses []string) error {
	if len(addresses) == 0 {
		return fmt.Errorf("monitor.addresses must list at least one account")
	}
	seen := make(map[string]struct{}, len(addresses))
	for _, addr := range addresses {
		if _, err := solana.PublicKeyFromBase58(addr); err != nil {
			return fmt.Errorf("monitor.addresses: invalid account %q: %w", addr, err)
		}
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("monitor.addresses: duplicate account %q", addr)
		}
		seen[addr] = struct{}{}
	}
	return nil
}

// ThresholdLamports converts monitor.threshold_sol into lamports.
func (c *Config) ThresholdLamports() (int64, error) {
	raw := strings.TrimSpace(c.Monitor.ThresholdSOL)
	if raw == "" {
		return ledger.DefaultThresholdLamports, nil
	}
	sol, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("monitor.threshold_sol: %w", err)
	}
	lamports, err := ledger.FromSOL(sol)
	if err != nil {
		return 0, fmt.Errorf("monitor.threshold_sol: %w", err)
	}
	return lamports, nil
}

// ChannelEnabled reports whether ch is both listed and switched on.
func (c *Config) ChannelEnabled(ch string) bool {
	listed := false
	for _, name := range c.Alerting.Channels {
		if name == ch {
			listed = true
			break
		}
	}
	if !listed {
		return false
	}
	switch ch {
	case "telegram":
		return c.Alerting.Telegram.Enabled
	case "redis":
		return c.Alerting.Redis.Enabled
	default:
		return false
	}
}
