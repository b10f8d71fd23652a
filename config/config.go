package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Security SecurityConfig `mapstructure:"security"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Debug           bool          `mapstructure:"debug"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Mode        string        `mapstructure:"mode"` // sqlite | postgres | mysql
	SQLitePath  string        `mapstructure:"sqlite_path"`
	PostgresDSN string        `mapstructure:"postgres_dsn"`
	MySQLDSN    string        `mapstructure:"mysql_dsn"`
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLife     time.Duration `mapstructure:"max_life"`
}

type CacheConfig struct {
	RedisAddr      string `mapstructure:"redis_addr"`
	RedisPassword  string `mapstructure:"redis_password"`
	RedisDB        int    `mapstructure:"redis_db"`
	LocalPubSubBuf int    `mapstructure:"local_pubsub_buf"`
}

type SecurityConfig struct {
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	// AllowedOrigins lists CORS origins. Empty means any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type AuditConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Whitelist restricts /metrics to these client IPs. Empty allows all.
	Whitelist []string `mapstructure:"whitelist"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/characters.db")
	v.SetDefault("database.max_open", 20)
	v.SetDefault("database.max_idle", 5)
	v.SetDefault("database.max_life", "1h")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("security.rate_limit_rps", 50)
	v.SetDefault("security.rate_limit_burst", 100)
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.batch_size", 100)
	v.SetDefault("audit.flush_interval", "2s")
	v.SetDefault("metrics.enabled", true)
}

// Load reads config from the given YAML file path. An empty path skips the file
// and uses defaults plus NISEKO_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("niseko")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
