package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/faithtrack-bot-go/internal/models"
	"github.com/faithtrack-bot-go/internal/policy"
	"github.com/spf13/viper"
)

type Config struct {
	Bot           BotConfig           `mapstructure:"bot"`
	Server        ServerConfig        `mapstructure:"server"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Supabase      SupabaseConfig      `mapstructure:"supabase"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Moderation    ModerationConfig    `mapstructure:"moderation"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	FailurePolicy map[string]string   `mapstructure:"failure_policy"`
	Search        SearchConfig        `mapstructure:"search"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Monitoring    MonitoringConfig    `mapstructure:"monitoring"`
	I18n          I18nConfig          `mapstructure:"i18n"`
}

type BotConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Token           string        `mapstructure:"token"`
	Webhook         WebhookConfig `mapstructure:"webhook"`
	UpdateTimeout   int           `mapstructure:"update_timeout"`
	CommunityChatID int64         `mapstructure:"community_chat_id"`
}

type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	// AdminToken guards administrative API routes; empty disables them
	AdminToken        string        `mapstructure:"admin_token"`
}

type StorageConfig struct {
	Type   string       `mapstructure:"type"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Memory MemoryConfig `mapstructure:"memory"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MemoryConfig struct {
	DefaultExpiration time.Duration `mapstructure:"default_expiration"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
}

type SupabaseConfig struct {
	URL               string        `mapstructure:"url"`
	ServiceKey        string        `mapstructure:"service_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// Enabled reports whether Supabase credentials are present
func (s SupabaseConfig) Enabled() bool {
	return s.URL != "" && s.ServiceKey != ""
}

type RateLimitConfig struct {
	Enabled       bool                              `mapstructure:"enabled"`
	Store         string                            `mapstructure:"store"`
	SweepInterval time.Duration                     `mapstructure:"sweep_interval"`
	Actions       map[string]models.RateLimitConfig `mapstructure:"actions"`
}

type ModerationConfig struct {
	Enabled         bool                    `mapstructure:"enabled"`
	ReviewThreshold float64                 `mapstructure:"review_threshold"`
	MaxLength       map[string]int          `mapstructure:"max_length"`
	LogStore        string                  `mapstructure:"log_store"`
	Rules           []models.ModerationRule `mapstructure:"rules"`
}

type NotificationsConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Tolerance       time.Duration `mapstructure:"tolerance"`
	DefaultTimezone string        `mapstructure:"default_timezone"`
}

type SearchConfig struct {
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	CacheSize int           `mapstructure:"cache_size"`
	Limit     int           `mapstructure:"limit"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
	Directory       string   `mapstructure:"directory"`
}

// DefaultRateLimits are the static budgets per action type
func DefaultRateLimits() map[models.ActionType]models.RateLimitConfig {
	return map[models.ActionType]models.RateLimitConfig{
		models.ActionPostCreation: {MaxRequests: 10, Window: time.Hour},
		models.ActionInteraction:  {MaxRequests: 60, Window: time.Minute},
		models.ActionPrayer:       {MaxRequests: 20, Window: time.Hour},
		models.ActionLogin:        {MaxRequests: 5, Window: 5 * time.Minute},
		models.ActionAPICalls:     {MaxRequests: 100, Window: time.Minute},
	}
}

// ActionLimits merges configured overrides onto the default budgets
func (r RateLimitConfig) ActionLimits() map[models.ActionType]models.RateLimitConfig {
	limits := DefaultRateLimits()
	for name, limit := range r.Actions {
		limits[models.ActionType(strings.ToLower(name))] = limit
	}
	return limits
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.update_timeout", 60)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.max_body_bytes", 64<<10)
	v.SetDefault("server.requests_per_second", 10.0)
	v.SetDefault("server.burst", 20)
	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.memory.default_expiration", 24*time.Hour)
	v.SetDefault("storage.memory.cleanup_interval", 10*time.Minute)
	v.SetDefault("supabase.timeout", 30*time.Second)
	v.SetDefault("supabase.requests_per_second", 20.0)
	v.SetDefault("supabase.burst", 10)
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.store", "none")
	v.SetDefault("rate_limit.sweep_interval", 5*time.Minute)
	v.SetDefault("moderation.enabled", true)
	v.SetDefault("moderation.review_threshold", 0.7)
	v.SetDefault("moderation.log_store", "memory")
	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.tolerance", 5*time.Minute)
	v.SetDefault("notifications.default_timezone", "UTC")
	v.SetDefault("search.cache_ttl", 5*time.Minute)
	v.SetDefault("search.cache_size", 1000)
	v.SetDefault("search.limit", 20)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("monitoring.metrics.enabled", true)
	v.SetDefault("monitoring.metrics.path", "/metrics")
	v.SetDefault("i18n.default_language", "en")
	v.SetDefault("i18n.languages", []string{"en"})
	v.SetDefault("i18n.directory", "configs/i18n")
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// Enable environment variable substitution
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.BindEnv("bot.token", "BOT_TOKEN")
	v.BindEnv("server.admin_token", "ADMIN_TOKEN")
	v.BindEnv("supabase.url", "SUPABASE_URL")
	v.BindEnv("supabase.service_key", "SUPABASE_SERVICE_KEY")
	v.BindEnv("storage.redis.password", "REDIS_PASSWORD")
	v.BindEnv("storage.redis.db", "REDIS_DB")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Handle Redis address special case
	if redisHost := v.GetString("REDIS_HOST"); redisHost != "" {
		redisPort := v.GetString("REDIS_PORT")
		if redisPort == "" {
			redisPort = "6379"
		}
		config.Storage.Redis.Addr = fmt.Sprintf("%s:%s", redisHost, redisPort)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Bot.Enabled && cfg.Bot.Token == "" {
		return fmt.Errorf("bot token is required when the bot is enabled")
	}

	switch cfg.Storage.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	switch cfg.RateLimit.Store {
	case "", "none", "redis":
	case "supabase":
		if !cfg.Supabase.Enabled() {
			return fmt.Errorf("rate_limit.store=supabase requires supabase url and service key")
		}
	default:
		return fmt.Errorf("unsupported rate limit store: %s", cfg.RateLimit.Store)
	}
	if cfg.RateLimit.Store == "redis" && cfg.Storage.Redis.Addr == "" {
		return fmt.Errorf("rate_limit.store=redis requires storage.redis.addr")
	}

	for name, limit := range cfg.RateLimit.Actions {
		if !models.ActionType(strings.ToLower(name)).Valid() {
			return fmt.Errorf("unknown rate limit action: %s", name)
		}
		if limit.MaxRequests <= 0 || limit.Window <= 0 {
			return fmt.Errorf("rate limit for %s must have positive max_requests and window", name)
		}
	}

	if cfg.Moderation.ReviewThreshold <= 0 || cfg.Moderation.ReviewThreshold > 1 {
		return fmt.Errorf("moderation.review_threshold must be in (0, 1]")
	}
	switch cfg.Moderation.LogStore {
	case "", "none", "memory":
	case "supabase":
		if !cfg.Supabase.Enabled() {
			return fmt.Errorf("moderation.log_store=supabase requires supabase url and service key")
		}
	default:
		return fmt.Errorf("unsupported moderation log store: %s", cfg.Moderation.LogStore)
	}

	for op, decision := range cfg.FailurePolicy {
		if _, err := policy.ParseOperation(op); err != nil {
			return fmt.Errorf("failure_policy: %w", err)
		}
		switch strings.ToLower(decision) {
		case "allow", "deny":
		default:
			return fmt.Errorf("failure_policy.%s must be allow or deny", op)
		}
	}

	if _, err := time.LoadLocation(cfg.Notifications.DefaultTimezone); err != nil {
		return fmt.Errorf("invalid notifications.default_timezone: %w", err)
	}

	return nil
}
