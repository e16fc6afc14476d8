package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"stage2-screener/internal/logging"
	"stage2-screener/internal/scanerr"
)

// EnvPrefix namespaces environment overrides, e.g. SCREENER_SCREENING_RS_GATE.
const EnvPrefix = "SCREENER"

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Market     MarketConfig     `mapstructure:"market"`
	Universe   UniverseConfig   `mapstructure:"universe"`
	DataSource DataSourceConfig `mapstructure:"datasource"`
	Screening  ScreeningConfig  `mapstructure:"screening"`
	Resolver   ResolverConfig   `mapstructure:"resolver"`
	Throttle   ThrottleConfig   `mapstructure:"throttle"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Database   DatabaseConfig   `mapstructure:"database"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// MarketConfig lists the exchanges and their trading window.
type MarketConfig struct {
	Markets  []string `mapstructure:"markets"`
	Open     string   `mapstructure:"open"`
	Close    string   `mapstructure:"close"`
	Timezone string   `mapstructure:"timezone"`
	// HoursOnly gates scheduled cycles to the trading window.
	HoursOnly bool `mapstructure:"hours_only"`
}

// UniverseConfig selects which tickers are scanned.
type UniverseConfig struct {
	// Source is snapshot, ranking or file.
	Source string `mapstructure:"source"`
	Limit  int    `mapstructure:"limit"`
	File   string `mapstructure:"file"`
}

// DataSourceConfig covers the quote providers.
type DataSourceConfig struct {
	KRXBaseURL    string        `mapstructure:"krx_base_url"`
	NaverBaseURL  string        `mapstructure:"naver_base_url"`
	NaverChartURL string        `mapstructure:"naver_chart_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	UserAgent     string        `mapstructure:"user_agent"`
}

// ScreeningConfig holds ranking, template and pattern thresholds.
type ScreeningConfig struct {
	// Profile is full, strict or quick. It seeds the thresholds below that are not set explicitly.
	Profile        string        `mapstructure:"profile"`
	RSMethod       string        `mapstructure:"rs_method"`
	MinPrice       float64       `mapstructure:"min_price"`
	MinTradedValue float64       `mapstructure:"min_traded_value"`
	MinQualifying  int           `mapstructure:"min_qualifying"`
	HistoryDays    int           `mapstructure:"history_days"`
	RSGate         int           `mapstructure:"rs_gate"`
	Trend          TrendConfig   `mapstructure:"trend"`
	Pattern        PatternConfig `mapstructure:"pattern"`
}

// TrendConfig tunes the uptrend template.
type TrendConfig struct {
	Template       string  `mapstructure:"template"`
	RisingLookback int     `mapstructure:"rising_lookback"`
	LowMultiple    float64 `mapstructure:"low_multiple"`
	HighMultiple   float64 `mapstructure:"high_multiple"`
}

// PatternConfig tunes contraction and breakout detection.
type PatternConfig struct {
	TightWindow      int     `mapstructure:"tight_window"`
	TightThreshold   float64 `mapstructure:"tight_threshold"`
	PivotWindow      int     `mapstructure:"pivot_window"`
	NearPivotRatio   float64 `mapstructure:"near_pivot_ratio"`
	VolumeMultiplier float64 `mapstructure:"volume_multiplier"`
	VolumeWindow     int     `mapstructure:"volume_window"`
}

// ResolverConfig bounds the trading-day search.
type ResolverConfig struct {
	MaxAttempts      int `mapstructure:"max_attempts"`
	ExtendedAttempts int `mapstructure:"extended_attempts"`
}

// ThrottleConfig paces requests to the provider.
type ThrottleConfig struct {
	MinDelay time.Duration `mapstructure:"min_delay"`
	MaxDelay time.Duration `mapstructure:"max_delay"`
	RPS      float64       `mapstructure:"rps"`
	Burst    int           `mapstructure:"burst"`
	Workers  int           `mapstructure:"workers"`
}

// BreakerConfig configures the provider circuit breaker.
type BreakerConfig struct {
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
	Interval            time.Duration `mapstructure:"interval"`
	Timeout             time.Duration `mapstructure:"timeout"`
}

// SchedulerConfig governs cycle cadence.
type SchedulerConfig struct {
	// Mode is interval (random gap) or cron.
	Mode            string        `mapstructure:"mode"`
	MinGap          time.Duration `mapstructure:"min_gap"`
	MaxGap          time.Duration `mapstructure:"max_gap"`
	Cron            string        `mapstructure:"cron"`
	OffHoursPoll    time.Duration `mapstructure:"off_hours_poll"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled   bool           `mapstructure:"enabled"`
	Retries   int            `mapstructure:"retries"`
	Backoff   time.Duration  `mapstructure:"backoff"`
	StopRatio float64        `mapstructure:"stop_ratio"`
	Telegram  TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// LedgerConfig selects where alerted tickers are remembered.
type LedgerConfig struct {
	// Backend is memory, redis or postgres.
	Backend string      `mapstructure:"backend"`
	Scope   string      `mapstructure:"scope"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig for the redis ledger backend.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Key      string        `mapstructure:"key"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig encapsulates result persistence.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	JSONPath        string        `mapstructure:"json_path"`
}

// HTTPConfig for the read-only status server.
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxRows int `mapstructure:"max_rows"`
}

// profilePresets seed profile-dependent thresholds. Explicit values always win.
var profilePresets = map[string]map[string]any{
	"full": {
		"screening.trend.template":          "full",
		"screening.trend.low_multiple":      1.30,
		"screening.pattern.tight_window":    20,
		"screening.pattern.tight_threshold": 0.15,
		"screening.rs_gate":                 70,
	},
	"strict": {
		"screening.trend.template":          "full",
		"screening.trend.low_multiple":      1.30,
		"screening.pattern.tight_window":    10,
		"screening.pattern.tight_threshold": 0.12,
		"screening.rs_gate":                 90,
	},
	"quick": {
		"screening.trend.template":          "quick",
		"screening.trend.low_multiple":      1.25,
		"screening.pattern.tight_window":    20,
		"screening.pattern.tight_threshold": 0.15,
		"screening.rs_gate":                 0,
	},
}

// Profiles lists the known screening profiles.
func Profiles() []string { return []string{"full", "strict", "quick"} }

// Load builds configuration from file, environment, and defaults. profile overrides
// screening.profile when non-empty.
func Load(path, profile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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

	if profile != "" {
		v.Set("screening.profile", profile)
	}
	name := strings.ToLower(v.GetString("screening.profile"))
	preset, ok := profilePresets[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown screening.profile %q (want one of %s)", scanerr.ErrConfiguration, name, strings.Join(Profiles(), ", "))
	}
	for key, value := range preset {
		v.SetDefault(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("%w: unmarshal config: %v", scanerr.ErrConfiguration, err)
	}
	cfg.Screening.Profile = name

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
		return fmt.Errorf("%w: read config: %v", scanerr.ErrConfiguration, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "screener")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "auto")

	v.SetDefault("market.markets", []string{"KOSPI", "KOSDAQ"})
	v.SetDefault("market.open", "09:00")
	v.SetDefault("market.close", "16:30")
	v.SetDefault("market.timezone", "Asia/Seoul")
	v.SetDefault("market.hours_only", true)

	v.SetDefault("universe.source", "snapshot")
	v.SetDefault("universe.limit", 30)

	v.SetDefault("datasource.krx_base_url", "https://data.krx.co.kr")
	v.SetDefault("datasource.naver_base_url", "https://finance.naver.com")
	v.SetDefault("datasource.naver_chart_url", "https://fchart.stock.naver.com")
	v.SetDefault("datasource.timeout", "15s")
	v.SetDefault("datasource.user_agent", "Mozilla/5.0 (compatible; stage2-screener/1.0)")

	v.SetDefault("screening.profile", "full")
	v.SetDefault("screening.rs_method", "weighted")
	v.SetDefault("screening.min_price", 1000.0)
	v.SetDefault("screening.min_traded_value", 1e9)
	v.SetDefault("screening.min_qualifying", 30)
	v.SetDefault("screening.history_days", 400)
	v.SetDefault("screening.trend.rising_lookback", 22)
	v.SetDefault("screening.trend.high_multiple", 0.75)
	v.SetDefault("screening.pattern.pivot_window", 20)
	v.SetDefault("screening.pattern.near_pivot_ratio", 0.97)
	v.SetDefault("screening.pattern.volume_multiplier", 1.5)
	v.SetDefault("screening.pattern.volume_window", 50)

	v.SetDefault("resolver.max_attempts", 5)
	v.SetDefault("resolver.extended_attempts", 14)

	v.SetDefault("throttle.min_delay", "100ms")
	v.SetDefault("throttle.max_delay", "2s")
	v.SetDefault("throttle.rps", 2.0)
	v.SetDefault("throttle.burst", 1)
	v.SetDefault("throttle.workers", 1)

	v.SetDefault("breaker.consecutive_failures", 5)
	v.SetDefault("breaker.interval", "0s")
	v.SetDefault("breaker.timeout", "30s")

	v.SetDefault("scheduler.mode", "interval")
	v.SetDefault("scheduler.min_gap", "3m")
	v.SetDefault("scheduler.max_gap", "8m")
	v.SetDefault("scheduler.off_hours_poll", "60s")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x53325343))

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.retries", 2)
	v.SetDefault("alerting.backoff", "2s")
	v.SetDefault("alerting.stop_ratio", 0.95)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("ledger.backend", "memory")
	v.SetDefault("ledger.scope", "default")
	v.SetDefault("ledger.redis.addr", "localhost:6379")
	v.SetDefault("ledger.redis.key", "screener:alert_ledger")
	v.SetDefault("ledger.redis.timeout", "2s")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.sqlite_path", "data/screener.db")
	v.SetDefault("database.json_path", "data/stocks.json")

	v.SetDefault("http.enabled", false)
	v.SetDefault("http.addr", "127.0.0.1:8080")

	v.SetDefault("export.max_rows", 10000)
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
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	s := c.Screening
	check(oneOf(s.RSMethod, "weighted", "trailing"), "screening.rs_method must be weighted or trailing")
	check(oneOf(s.Trend.Template, "full", "quick"), "screening.trend.template must be full or quick")
	check(s.MinPrice >= 0, "screening.min_price cannot be negative")
	check(s.MinTradedValue >= 0, "screening.min_traded_value cannot be negative")
	check(s.MinQualifying > 0, "screening.min_qualifying must be greater than zero")
	check(s.HistoryDays >= 300, "screening.history_days must cover at least 300 calendar days")
	check(s.RSGate >= 0 && s.RSGate <= 99, "screening.rs_gate must be within 0..99")
	check(s.Trend.RisingLookback > 0, "screening.trend.rising_lookback must be greater than zero")
	check(s.Trend.LowMultiple > 0 && s.Trend.HighMultiple > 0, "screening.trend multiples must be positive")
	check(s.Pattern.TightWindow > 0 && s.Pattern.PivotWindow > 0 && s.Pattern.VolumeWindow > 0, "screening.pattern windows must be greater than zero")
	check(s.Pattern.TightThreshold > 0 && s.Pattern.TightThreshold < 1, "screening.pattern.tight_threshold must be within (0, 1)")
	check(s.Pattern.NearPivotRatio > 0 && s.Pattern.NearPivotRatio <= 1, "screening.pattern.near_pivot_ratio must be within (0, 1]")
	check(s.Pattern.VolumeMultiplier > 0, "screening.pattern.volume_multiplier must be greater than zero")

	check(len(c.Market.Markets) > 0, "market.markets must list at least one market")
	_, errOpen := time.Parse("15:04", c.Market.Open)
	_, errClose := time.Parse("15:04", c.Market.Close)
	check(errOpen == nil && errClose == nil, "market.open and market.close must be HH:MM")
	_, errTZ := time.LoadLocation(c.Market.Timezone)
	check(errTZ == nil, "market.timezone %q is not a known location", c.Market.Timezone)

	check(oneOf(c.Universe.Source, "snapshot", "ranking", "file"), "universe.source must be snapshot, ranking or file")
	check(c.Universe.Source != "file" || c.Universe.File != "", "universe.file is required when universe.source is file")
	check(c.Universe.Limit >= 0, "universe.limit cannot be negative")

	check(c.Resolver.MaxAttempts > 0, "resolver.max_attempts must be greater than zero")
	check(c.Resolver.ExtendedAttempts >= c.Resolver.MaxAttempts, "resolver.extended_attempts must be at least resolver.max_attempts")

	check(c.Throttle.MinDelay >= 0 && c.Throttle.MaxDelay >= c.Throttle.MinDelay, "throttle delays must satisfy 0 <= min_delay <= max_delay")
	check(c.Throttle.RPS >= 0, "throttle.rps cannot be negative")
	check(c.Throttle.Workers > 0, "throttle.workers must be greater than zero")
	check(c.Throttle.Workers <= 1 || c.Throttle.RPS > 0, "throttle.rps must be set when throttle.workers > 1")

	check(oneOf(c.Scheduler.Mode, "interval", "cron"), "scheduler.mode must be interval or cron")
	check(c.Scheduler.Mode != "cron" || c.Scheduler.Cron != "", "scheduler.cron is required when scheduler.mode is cron")
	check(c.Scheduler.Mode != "interval" || (c.Scheduler.MinGap > 0 && c.Scheduler.MaxGap >= c.Scheduler.MinGap),
		"scheduler gaps must satisfy 0 < min_gap <= max_gap")

	check(c.Alerting.Retries >= 0, "alerting.retries cannot be negative")
	check(c.Alerting.StopRatio > 0 && c.Alerting.StopRatio < 1, "alerting.stop_ratio must be within (0, 1)")
	if c.Alerting.Telegram.Enabled {
		check(c.Alerting.Telegram.BotToken != "", "alerting.telegram.bot_token is required")
		check(c.Alerting.Telegram.ChatID != "", "alerting.telegram.chat_id is required")
	}

	check(oneOf(c.Ledger.Backend, "memory", "redis", "postgres"), "ledger.backend must be memory, redis or postgres")
	check(c.Ledger.Backend != "redis" || c.Ledger.Redis.Addr != "", "ledger.redis.addr is required for the redis backend")
	check(c.Ledger.Backend != "postgres" || c.Database.DSN != "", "database.dsn is required for the postgres ledger backend")

	check(c.Export.MaxRows > 0, "export.max_rows must be greater than zero")

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", scanerr.ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// ResolveMaxRows returns either the CLI override or config default.
func (c *Config) ResolveMaxRows(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxRows
}
