package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Client   ClientConfig   `mapstructure:"client"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Typing   TypingConfig   `mapstructure:"typing"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
}

// ClientConfig 命令行客户端
type ClientConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	ActorUserID       string        `mapstructure:"actor_user_id"`
	ActorClientID     string        `mapstructure:"actor_client_id"`
	ActorName         string        `mapstructure:"actor_name"`
	ConversationID    string        `mapstructure:"conversation_id"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	PageLimit         int           `mapstructure:"page_limit"`
	UploadParallel    int           `mapstructure:"upload_parallel"`
	MentionStrictness string        `mapstructure:"mention_strictness"`
	TextOnlyFallback  bool          `mapstructure:"text_only_fallback"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	Location          string        `mapstructure:"location"`
}

// ServerConfig API 服务
type ServerConfig struct {
	Addr          string          `mapstructure:"addr"`
	Mode          string          `mapstructure:"mode"`
	PublicBaseURL string          `mapstructure:"public_base_url"`
	UploadDir     string          `mapstructure:"upload_dir"`
	UploadSecret  string          `mapstructure:"upload_secret"`
	UploadTTL     time.Duration   `mapstructure:"upload_ttl"`
	MaxUploadSize int64           `mapstructure:"max_upload_size"`
	CORS          CORSConfig      `mapstructure:"cors"`
	RateLimit     RateLimitConfig `mapstructure:"rate_limit"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN 连接串
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// Addr host:port
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// TypingConfig 输入状态
type TypingConfig struct {
	TTL      time.Duration `mapstructure:"ttl"`
	Debounce time.Duration `mapstructure:"debounce"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// setDefaults 默认值，同时让 AutomaticEnv 能覆盖所有键
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "chatsync")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("client.base_url", "http://localhost:8080")
	v.SetDefault("client.actor_user_id", "")
	v.SetDefault("client.actor_client_id", "")
	v.SetDefault("client.actor_name", "")
	v.SetDefault("client.conversation_id", "")
	v.SetDefault("client.poll_interval", 3*time.Second)
	v.SetDefault("client.page_limit", 50)
	v.SetDefault("client.upload_parallel", 3)
	v.SetDefault("client.mention_strictness", "loose")
	v.SetDefault("client.text_only_fallback", true)
	v.SetDefault("client.request_timeout", 15*time.Second)
	v.SetDefault("client.location", "Local")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.public_base_url", "http://localhost:8080")
	v.SetDefault("server.upload_dir", "./data/uploads")
	v.SetDefault("server.upload_secret", "")
	v.SetDefault("server.upload_ttl", 15*time.Minute)
	v.SetDefault("server.max_upload_size", int64(100<<20))
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit.enabled", true)
	v.SetDefault("server.rate_limit.requests_per_minute", 600)
	v.SetDefault("server.rate_limit.burst", 60)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "chatsync")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)

	v.SetDefault("typing.ttl", 5*time.Second)
	v.SetDefault("typing.debounce", 2*time.Second)

	v.SetDefault("metrics.addr", "")
}

// Load 从指定路径加载配置，path 为空时只使用默认值和环境变量
// 环境变量以 CHATSYNC_ 为前缀，例如 CHATSYNC_CLIENT_BASE_URL。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CHATSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadLocation 解析时区，"Local" 或空串使用本地时区
func (c ClientConfig) LoadLocation() (*time.Location, error) {
	if c.Location == "" || strings.EqualFold(c.Location, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(c.Location)
}
