package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TOVPLAY_API_BASE_URL.
const EnvPrefix = "TOVPLAY"

type Config struct {
	Log           LogConfig           `mapstructure:"log"`
	API           APIConfig           `mapstructure:"api"`
	Realtime      RealtimeConfig      `mapstructure:"realtime"`
	Session       SessionConfig       `mapstructure:"session"`
	Community     CommunityConfig     `mapstructure:"community"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Security      SecurityConfig      `mapstructure:"security"`
}

type LogConfig struct {
	Debug bool `mapstructure:"debug"`
}

// APIConfig configures the outbound gateway client.
type APIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

type RealtimeConfig struct {
	URL               string        `mapstructure:"url"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
}

// SessionConfig selects where the client persists its session.
// RedisAddr wins over SQLitePath; with neither set the session lives in memory.
type SessionConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	SQLitePath    string `mapstructure:"sqlite_path"`
}

type CommunityConfig struct {
	InviteLink  string        `mapstructure:"invite_link"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Interval    time.Duration `mapstructure:"interval"`
}

type NotificationsConfig struct {
	SyncInterval time.Duration `mapstructure:"sync_interval"`
}

// ServerConfig and the sections below configure cmd/devserver only.
type ServerConfig struct {
	Port  int  `mapstructure:"port"`
	Debug bool `mapstructure:"debug"`
	// Seed creates that many fake accounts on an empty database.
	Seed int `mapstructure:"seed"`
	// PresenceInterval throttles last_seen writes per account.
	PresenceInterval time.Duration `mapstructure:"presence_interval"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // memory | sqlite | mysql
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	// AllowedOrigins lists the WebSocket origins that are permitted.
	// An empty slice allows all origins.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// MetricsAllowedIPs restricts /metrics to these IPs or CIDRs.
	MetricsAllowedIPs []string `mapstructure:"metrics_allowed_ips"`
	BcryptCost        int      `mapstructure:"bcrypt_cost"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.debug", false)

	v.SetDefault("api.base_url", "http://localhost:5000")
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("api.rate_limit_rps", 20)
	v.SetDefault("api.rate_limit_burst", 40)

	v.SetDefault("realtime.url", "ws://localhost:5000")
	v.SetDefault("realtime.reconnect_attempts", 5)
	v.SetDefault("realtime.reconnect_delay", "1s")

	v.SetDefault("session.redis_addr", "")
	v.SetDefault("session.redis_password", "")
	v.SetDefault("session.redis_db", 0)
	v.SetDefault("session.sqlite_path", "")

	v.SetDefault("community.invite_link", "")
	v.SetDefault("community.max_attempts", 3)
	v.SetDefault("community.interval", "2s")

	v.SetDefault("notifications.sync_interval", "1m")

	v.SetDefault("server.port", 5000)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.seed", 0)
	v.SetDefault("server.presence_interval", "1m")

	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/tovplay.db")
	v.SetDefault("database.mysql_dsn", "")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")

	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)

	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("security.jwt_ttl_h", "72h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("security.allowed_origins", []string{})
	v.SetDefault("security.metrics_allowed_ips", []string{"127.0.0.1", "::1"})
	v.SetDefault("security.bcrypt_cost", 12)
}

// Load reads config from the given YAML file path. An empty path skips the
// file and uses defaults plus environment overrides. A .env file in the
// working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
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
