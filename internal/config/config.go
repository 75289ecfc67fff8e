package config

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/mr-tron/base58"
	"github.com/spf13/viper"

	"memepulse/internal/logging"
)

// DefaultTokens are monitored when the configuration names none.
var DefaultTokens = map[string]string{
	"WIF":  "EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm",
	"BONK": "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263",
}

// Config materialises application configuration.
type Config struct {
	App      AppConfig         `mapstructure:"app"`
	Logging  logging.Config    `mapstructure:"logging"`
	Database DatabaseConfig    `mapstructure:"database"`
	Monitor  MonitorConfig     `mapstructure:"monitor"`
	Birdeye  BirdeyeConfig     `mapstructure:"birdeye"`
	Tokens   map[string]string `mapstructure:"tokens"`
	HTTP     HTTPConfig        `mapstructure:"http"`
	Redis    RedisConfig       `mapstructure:"redis"`
	Alerting AlertingConfig    `mapstructure:"alerting"`
	Metrics  MetricsConfig     `mapstructure:"metrics"`
	Export   ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN selects the in-memory store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// MonitorConfig governs polling cadence.
type MonitorConfig struct {
	PriceInterval     time.Duration `mapstructure:"price_interval"`
	HistoryInterval   time.Duration `mapstructure:"history_interval"`
	HistoryResolution string        `mapstructure:"history_resolution"`
	BackfillWindow    time.Duration `mapstructure:"backfill_window"`
	InitializeOnStart bool          `mapstructure:"initialize_on_start"`
	StopTimeout       time.Duration `mapstructure:"stop_timeout"`
	AdvisoryLockKey   int64         `mapstructure:"advisory_lock_key"`
}

// BirdeyeConfig captures price provider connectivity.
type BirdeyeConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Chain          string        `mapstructure:"chain"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateBurst      int           `mapstructure:"rate_burst"`
}

// HTTPConfig configures the API server. Port, when set, overrides the port of Addr.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ListenAddr returns the address the server binds.
func (h HTTPConfig) ListenAddr() string {
	if h.Port > 0 {
		return fmt.Sprintf(":%d", h.Port)
	}
	return h.Addr
}

// RedisConfig enables cross-instance event fan-out when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// AlertingConfig defines alert sinks besides websocket subscribers.
type AlertingConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MetricsConfig toggles the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("MEMEPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

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
	cfg.Tokens = normalizeTokens(cfg.Tokens)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// bindLegacyEnv accepts the unprefixed variable names older deployments export.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("birdeye.api_key", "MEMEPULSE_BIRDEYE_API_KEY", "BIRDEYE_API_KEY")
	_ = v.BindEnv("http.port", "MEMEPULSE_HTTP_PORT", "PORT")
	_ = v.BindEnv("database.dsn", "MEMEPULSE_DATABASE_DSN", "DATABASE_URL")
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
	v.SetDefault("app.name", "memepulse")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("monitor.price_interval", "60s")
	v.SetDefault("monitor.history_interval", "60s")
	v.SetDefault("monitor.history_resolution", "1m")
	v.SetDefault("monitor.backfill_window", "24h")
	v.SetDefault("monitor.initialize_on_start", true)
	v.SetDefault("monitor.stop_timeout", "30s")
	v.SetDefault("monitor.advisory_lock_key", int64(0x6d656d65))

	v.SetDefault("birdeye.base_url", "https://public-api.birdeye.so")
	v.SetDefault("birdeye.chain", "solana")
	v.SetDefault("birdeye.request_timeout", "10s")
	v.SetDefault("birdeye.user_agent", "memepulse/1.0")
	v.SetDefault("birdeye.rate_limit_rps", 1.0)
	v.SetDefault("birdeye.rate_burst", 4)

	v.SetDefault("http.addr", ":3000")
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.shutdown_timeout", "10s")

	v.SetDefault("redis.channel", "memepulse:events")

	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
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

// normalizeTokens upper-cases symbols (viper lower-cases map keys) and falls back to DefaultTokens.
func normalizeTokens(in map[string]string) map[string]string {
	src := in
	if len(src) == 0 {
		src = DefaultTokens
	}
	out := make(map[string]string, len(src))
	for symbol, address := range src {
		out[strings.ToUpper(strings.TrimSpace(symbol))] = strings.TrimSpace(address)
	}
	return out
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Monitor.PriceInterval <= 0 {
		return fmt.Errorf("monitor.price_interval must be greater than zero")
	}
	if c.Monitor.HistoryInterval <= 0 {
		return fmt.Errorf("monitor.history_interval must be greater than zero")
	}
	if c.Monitor.BackfillWindow <= 0 {
		return fmt.Errorf("monitor.backfill_window must be greater than zero")
	}
	if c.Monitor.HistoryResolution == "" {
		return fmt.Errorf("monitor.history_resolution is required")
	}
	if c.Birdeye.BaseURL == "" {
		return fmt.Errorf("birdeye.base_url is required")
	}
	if c.Birdeye.RateLimitRPS < 0 {
		return fmt.Errorf("birdeye.rate_limit_rps cannot be negative")
	}
	if c.HTTP.ListenAddr() == "" {
		return fmt.Errorf("http.addr is required")
	}
	if len(c.Tokens) == 0 {
		return fmt.Errorf("tokens must name at least one symbol")
	}
	for _, symbol := range c.Symbols() {
		if err := ValidateAddress(c.Tokens[symbol]); err != nil {
			return fmt.Errorf("tokens.%s: %w", symbol, err)
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ValidateAddress checks that address is a base58 encoded 32-byte public key.
func ValidateAddress(address string) error {
	if address == "" {
		return errors.New("address is empty")
	}
	raw, err := base58.Decode(address)
	if err != nil {
		return fmt.Errorf("address %q is not base58: %w", address, err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("address %q decodes to %d bytes, want 32", address, len(raw))
	}
	return nil
}

// Symbols lists the configured symbols in sorted order.
func (c *Config) Symbols() []string {
	out := make([]string, 0, len(c.Tokens))
	for symbol := range c.Tokens {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
