package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Addr string `mapstructure:"addr"`

	DBDriver  string `mapstructure:"db_driver"`
	DBDSN     string `mapstructure:"db_dsn"`
	DBDialect string `mapstructure:"db_dialect"`
	DBMigrate bool   `mapstructure:"db_migrate"`

	Redis      RedisConfig      `mapstructure:"redis"`
	Memory     MemoryConfig     `mapstructure:"memory"`
	Generation GenerationConfig `mapstructure:"generation"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Retention  RetentionConfig  `mapstructure:"retention"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MemoryConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type GenerationConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type AuthConfig struct {
	Read      BearerAuth    `mapstructure:"read"`
	JWT       JWTAuth       `mapstructure:"jwt"`
	Audit     AuditAuth     `mapstructure:"audit"`
	RateLimit RateLimitAuth `mapstructure:"rate_limit"`
}

type BearerAuth struct {
	Token string `mapstructure:"token"`
}

type JWTAuth struct {
	Enabled     bool   `mapstructure:"enabled"`
	Issuer      string `mapstructure:"issuer"`
	Audience    string `mapstructure:"audience"`
	HS256Secret string `mapstructure:"hs256_secret"`
}

type AuditAuth struct {
	LogFile string `mapstructure:"log_file"`
}

type RateLimitAuth struct {
	Enabled         bool `mapstructure:"enabled"`
	ReadPerMinute   int  `mapstructure:"read_per_min"`
	IngestPerMinute int  `mapstructure:"ingest_per_min"`
}

type RetentionConfig struct {
	DefaultDays   int           `mapstructure:"default_days"`
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
}

func LoadFromEnv() Config {
	v := viper.New()
	v.SetEnvPrefix("GITMEM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("addr", ":8080")
	v.SetDefault("db_migrate", true)
	v.SetDefault("redis.db", 0)
	v.SetDefault("memory.timeout", 15*time.Second)
	v.SetDefault("generation.timeout", 30*time.Second)
	v.SetDefault("auth.jwt.enabled", false)
	v.SetDefault("auth.rate_limit.enabled", false)
	v.SetDefault("auth.rate_limit.read_per_min", 600)
	v.SetDefault("auth.rate_limit.ingest_per_min", 240)
	v.SetDefault("retention.default_days", 30)
	v.SetDefault("retention.purge_interval", time.Hour)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/gitmem/")

	_ = v.ReadInConfig() // ignore if not found

	// Viper needs explicit binds for nested keys coming from the environment.
	_ = v.BindEnv("redis.addr", "GITMEM_REDIS_ADDR")
	_ = v.BindEnv("redis.password", "GITMEM_REDIS_PASSWORD")
	_ = v.BindEnv("memory.base_url", "GITMEM_MEMORY_BASE_URL")
	_ = v.BindEnv("memory.api_key", "GITMEM_MEMORY_API_KEY")
	_ = v.BindEnv("generation.base_url", "GITMEM_GENERATION_BASE_URL")
	_ = v.BindEnv("generation.api_key", "GITMEM_GENERATION_API_KEY")
	_ = v.BindEnv("generation.model", "GITMEM_GENERATION_MODEL")
	_ = v.BindEnv("auth.read.token", "GITMEM_READ_TOKEN")
	_ = v.BindEnv("auth.jwt.hs256_secret", "GITMEM_AUTH_JWT_HS256_SECRET")
	_ = v.BindEnv("auth.jwt.issuer", "GITMEM_AUTH_JWT_ISSUER")
	_ = v.BindEnv("auth.jwt.audience", "GITMEM_AUTH_JWT_AUDIENCE")
	_ = v.BindEnv("auth.audit.log_file", "GITMEM_AUTH_AUDIT_LOG_FILE")
	_ = v.BindEnv("retention.default_days", "GITMEM_RETENTION_DEFAULT_DAYS")
	_ = v.BindEnv("retention.purge_interval", "GITMEM_RETENTION_PURGE_INTERVAL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		fmt.Printf("Warning: failed to unmarshal config: %v\n", err)
	}

	// Env-only keys without defaults do not survive Unmarshal; map them
	// explicitly.
	if val := v.GetString("db_driver"); val != "" {
		cfg.DBDriver = val
	}
	if val := v.GetString("db_dsn"); val != "" {
		cfg.DBDSN = val
	}
	if val := v.GetString("db_dialect"); val != "" {
		cfg.DBDialect = val
	}
	if val := v.GetString("redis.addr"); val != "" {
		cfg.Redis.Addr = val
	}
	if val := v.GetString("redis.password"); val != "" {
		cfg.Redis.Password = val
	}
	if val := v.GetString("memory.base_url"); val != "" {
		cfg.Memory.BaseURL = val
	}
	if val := v.GetString("memory.api_key"); val != "" {
		cfg.Memory.APIKey = val
	}
	if val := v.GetString("generation.base_url"); val != "" {
		cfg.Generation.BaseURL = val
	}
	if val := v.GetString("generation.api_key"); val != "" {
		cfg.Generation.APIKey = val
	}
	if val := v.GetString("generation.model"); val != "" {
		cfg.Generation.Model = val
	}
	if val := v.GetString("auth.read.token"); val != "" {
		cfg.Auth.Read.Token = val
	}
	if val := v.GetString("auth.jwt.hs256_secret"); val != "" {
		cfg.Auth.JWT.HS256Secret = val
	}
	if val := v.GetString("auth.jwt.issuer"); val != "" {
		cfg.Auth.JWT.Issuer = val
	}
	if val := v.GetString("auth.jwt.audience"); val != "" {
		cfg.Auth.JWT.Audience = val
	}
	if val := v.GetString("auth.audit.log_file"); val != "" {
		cfg.Auth.Audit.LogFile = val
	}
	if v.GetBool("auth.jwt.enabled") {
		cfg.Auth.JWT.Enabled = true
	}
	return cfg
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("addr must not be empty")
	}
	if c.DBDriver != "" && c.DBDSN == "" {
		return errors.New("db_dsn is required when db_driver is set")
	}
	if c.DBDriver != "" {
		switch strings.ToLower(strings.TrimSpace(c.DBDialect)) {
		case "postgres", "sqlite":
		default:
			return fmt.Errorf("unsupported db_dialect: %q", c.DBDialect)
		}
	}
	if c.Auth.JWT.Enabled && strings.TrimSpace(c.Auth.JWT.HS256Secret) == "" {
		return errors.New("auth.jwt.hs256_secret is required when jwt auth is enabled")
	}
	if c.Retention.DefaultDays <= 0 {
		return errors.New("retention.default_days must be positive")
	}
	return nil
}

// Summary reports the effective wiring without leaking secrets.
type Summary struct {
	RepositoryMode string
	DedupMode      string
	Enrichment     bool
	JWTEnabled     bool
	RateLimit      bool
	RetentionDays  int
}

func (c Config) Summary() Summary {
	repoMode := "memory"
	if c.DBDriver != "" && c.DBDSN != "" {
		repoMode = c.DBDialect
	}
	dedupMode := "memory"
	if strings.TrimSpace(c.Redis.Addr) != "" {
		dedupMode = "redis"
	}
	return Summary{
		RepositoryMode: repoMode,
		DedupMode:      dedupMode,
		Enrichment:     strings.TrimSpace(c.Memory.BaseURL) != "" && strings.TrimSpace(c.Generation.BaseURL) != "",
		JWTEnabled:     c.Auth.JWT.Enabled,
		RateLimit:      c.Auth.RateLimit.Enabled,
		RetentionDays:  c.Retention.DefaultDays,
	}
}
