package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Log       LogConfig
	Storage   StorageConfig
	Room      RoomConfig
	Lock      LockConfig
	Playback  PlaybackConfig
	Retry     RetryConfig
	Hub       HubConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	Mode           string // debug, release, test
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string // CORS and WebSocket origins; empty allows any
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectAttempts int
	ConnectBackoff  time.Duration
	AutoMigrate     bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

type JWTConfig struct {
	Secret         string
	AccessTokenTTL time.Duration
	Issuer         string
}

type LogConfig struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string
}

type StorageConfig struct {
	Driver string // postgres, memory
}

type RoomConfig struct {
	DefaultCapacity int
	MaxCapacity     int
}

type LockConfig struct {
	Driver         string // local, redis
	AcquireTimeout time.Duration
	TTL            time.Duration // redis lock lease
	KeyPrefix      string
}

type PlaybackConfig struct {
	HostPolicy string // owner, memory, redis
	CacheTTL   time.Duration
}

type RetryConfig struct {
	Backoff time.Duration
}

type RateLimitConfig struct {
	Enabled          bool
	Requests         int // per window, per user
	PlaybackRequests int // playback writes per window, per user and room
	Window           time.Duration
}

type HubConfig struct {
	InstanceID  string
	RedisFanout bool
	Channel     string
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// 環境變數前綴
	v.SetEnvPrefix("WATCHPARTY")
	v.AutomaticEnv()

	setDefaults(v)

	// 設定檔為可選
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVariables(v)

	cfg := &Config{
		Server: ServerConfig{
			Host:           v.GetString("server.host"),
			Port:           v.GetInt("server.port"),
			Mode:           v.GetString("server.mode"),
			ReadTimeout:    v.GetDuration("server.read_timeout"),
			WriteTimeout:   v.GetDuration("server.write_timeout"),
			AllowedOrigins: v.GetStringSlice("server.allowed_origins"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetDuration("database.conn_max_idle_time"),
			ConnectAttempts: v.GetInt("database.connect_attempts"),
			ConnectBackoff:  v.GetDuration("database.connect_backoff"),
			AutoMigrate:     v.GetBool("database.auto_migrate"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			PoolSize: v.GetInt("redis.pool_size"),
		},
		JWT: JWTConfig{
			Secret:         v.GetString("jwt.secret"),
			AccessTokenTTL: v.GetDuration("jwt.access_token_ttl"),
			Issuer:         v.GetString("jwt.issuer"),
		},
		Log: LogConfig{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			OutputPath: v.GetString("log.output_path"),
		},
		Storage: StorageConfig{
			Driver: v.GetString("storage.driver"),
		},
		Room: RoomConfig{
			DefaultCapacity: v.GetInt("room.default_capacity"),
			MaxCapacity:     v.GetInt("room.max_capacity"),
		},
		Lock: LockConfig{
			Driver:         v.GetString("lock.driver"),
			AcquireTimeout: v.GetDuration("lock.acquire_timeout"),
			TTL:            v.GetDuration("lock.ttl"),
			KeyPrefix:      v.GetString("lock.key_prefix"),
		},
		Playback: PlaybackConfig{
			HostPolicy: v.GetString("playback.host_policy"),
			CacheTTL:   v.GetDuration("playback.cache_ttl"),
		},
		Retry: RetryConfig{
			Backoff: v.GetDuration("retry.backoff"),
		},
		Hub: HubConfig{
			InstanceID:  v.GetString("hub.instance_id"),
			RedisFanout: v.GetBool("hub.redis_fanout"),
			Channel:     v.GetString("hub.channel"),
		},
		RateLimit: RateLimitConfig{
			Enabled:          v.GetBool("ratelimit.enabled"),
			Requests:         v.GetInt("ratelimit.requests"),
			PlaybackRequests: v.GetInt("ratelimit.playback_requests"),
			Window:           v.GetDuration("ratelimit.window"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{})

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "watchparty")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.conn_max_idle_time", "1m")
	v.SetDefault("database.connect_attempts", 5)
	v.SetDefault("database.connect_backoff", "1s")
	v.SetDefault("database.auto_migrate", true)

	// Redis defaults
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	// JWT defaults
	v.SetDefault("jwt.secret", "your-secret-key-change-in-production")
	v.SetDefault("jwt.access_token_ttl", "15m")
	v.SetDefault("jwt.issuer", "watchparty")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("storage.driver", "postgres")

	v.SetDefault("room.default_capacity", 10)
	v.SetDefault("room.max_capacity", 500)

	v.SetDefault("lock.driver", "local")
	v.SetDefault("lock.acquire_timeout", "5s")
	v.SetDefault("lock.ttl", "10s")
	v.SetDefault("lock.key_prefix", "watchparty:lock:room:")

	v.SetDefault("playback.host_policy", "owner")
	v.SetDefault("playback.cache_ttl", "1m")

	v.SetDefault("retry.backoff", "50ms")

	v.SetDefault("hub.instance_id", "")
	v.SetDefault("hub.redis_fanout", true)
	v.SetDefault("hub.channel", "watchparty:room:")

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.requests", 100)
	v.SetDefault("ratelimit.playback_requests", 120)
	v.SetDefault("ratelimit.window", "1m")
}

func bindEnvVariables(v *viper.Viper) {
	// Server
	_ = v.BindEnv("server.host", "SERVER_HOST")
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.mode", "SERVER_MODE")

	// Database
	_ = v.BindEnv("database.host", "DB_HOST")
	_ = v.BindEnv("database.port", "DB_PORT")
	_ = v.BindEnv("database.user", "DB_USER")
	_ = v.BindEnv("database.password", "DB_PASSWORD")
	_ = v.BindEnv("database.dbname", "DB_NAME")
	_ = v.BindEnv("database.sslmode", "DB_SSLMODE")

	// Redis
	_ = v.BindEnv("redis.enabled", "REDIS_ENABLED")
	_ = v.BindEnv("redis.host", "REDIS_HOST")
	_ = v.BindEnv("redis.port", "REDIS_PORT")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")

	// JWT
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")

	// Log
	_ = v.BindEnv("log.level", "LOG_LEVEL")

	_ = v.BindEnv("storage.driver", "STORAGE_DRIVER")
	_ = v.BindEnv("lock.driver", "LOCK_DRIVER")
	_ = v.BindEnv("playback.host_policy", "HOST_POLICY")
	_ = v.BindEnv("hub.instance_id", "INSTANCE_ID")
}

// Validate checks option values that would otherwise fail late at wiring time
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Lock.Driver {
	case "local":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("lock driver %q requires redis.enabled", c.Lock.Driver)
		}
	default:
		return fmt.Errorf("unknown lock driver %q", c.Lock.Driver)
	}

	switch c.Playback.HostPolicy {
	case "owner", "memory":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("host policy %q requires redis.enabled", c.Playback.HostPolicy)
		}
	default:
		return fmt.Errorf("unknown host policy %q", c.Playback.HostPolicy)
	}

	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.PlaybackRequests <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate limits must be positive when enabled")
	}

	if c.Room.DefaultCapacity <= 0 || c.Room.MaxCapacity <= 0 {
		return fmt.Errorf("room capacities must be positive")
	}
	if c.Room.DefaultCapacity > c.Room.MaxCapacity {
		return fmt.Errorf("room.default_capacity %d exceeds room.max_capacity %d", c.Room.DefaultCapacity, c.Room.MaxCapacity)
	}

	return nil
}

// GetDSN returns PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// GetAddr returns Redis address
func (c *RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAddr returns server address
func (c *ServerConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
