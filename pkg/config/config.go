package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Store drivers understood by StoreConfig.Driver.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Store      StoreConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Quota      QuotaConfig
	Presence   PresenceConfig
	Audit      AuditConfig
	Realtime   RealtimeConfig
	Tasks      TasksConfig
	SuperAdmin SuperAdminConfig
	Summary    SummaryConfig
}

// StoreConfig selects the document store backend.
type StoreConfig struct {
	Driver string
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// JWTConfig holds the material used to validate identity tokens.
type JWTConfig struct {
	Secret     string
	Issuer     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// QuotaConfig drives the soft usage quota.
type QuotaConfig struct {
	ReadsMax        int64
	WritesMax       int64
	WarnRatio       float64
	PublishInterval time.Duration
	ResetTimezone   string
	ResetOffset     time.Duration
}

// PresenceConfig tunes the presence heartbeat.
type PresenceConfig struct {
	HeartbeatInterval time.Duration
	OnlineWindow      time.Duration
}

// AuditConfig bounds the local and remote audit views.
type AuditConfig struct {
	LocalCapacity int
	FeedLimit     int
}

// RealtimeConfig configures change feed limits and reconnection.
type RealtimeConfig struct {
	CandidatesLimit   int
	PresenceLimit     int
	ProfilesLimit     int
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration
	ReconnectMaxTotal time.Duration
	StreamBuffer      int
}

// TasksConfig sizes the detached best-effort task runner.
type TasksConfig struct {
	Workers    int
	BufferSize int
	Timeout    time.Duration
}

// SuperAdminConfig bootstraps the first super-admin profile.
type SuperAdminConfig struct {
	Email    string
	Username string
}

// SummaryConfig configures summary rendering.
type SummaryConfig struct {
	DefaultMention string
	Timezone       string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Store = StoreConfig{Driver: strings.ToLower(strings.TrimSpace(v.GetString("STORE_DRIVER")))}

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:      v.GetString("REDIS_HOST"),
		Port:      v.GetInt("REDIS_PORT"),
		Password:  v.GetString("REDIS_PASSWORD"),
		DB:        v.GetInt("REDIS_DB"),
		KeyPrefix: v.GetString("REDIS_KEY_PREFIX"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Issuer:     v.GetString("JWT_ISSUER"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Quota = QuotaConfig{
		ReadsMax:        v.GetInt64("QUOTA_READS_MAX"),
		WritesMax:       v.GetInt64("QUOTA_WRITES_MAX"),
		WarnRatio:       v.GetFloat64("QUOTA_WARN_RATIO"),
		PublishInterval: parseDuration(v.GetString("QUOTA_PUBLISH_INTERVAL"), 800*time.Millisecond),
		ResetTimezone:   v.GetString("QUOTA_RESET_TIMEZONE"),
		ResetOffset:     parseDuration(v.GetString("QUOTA_RESET_OFFSET"), 2*time.Second),
	}

	cfg.Presence = PresenceConfig{
		HeartbeatInterval: parseDuration(v.GetString("PRESENCE_HEARTBEAT_INTERVAL"), 10*time.Second),
		OnlineWindow:      parseDuration(v.GetString("PRESENCE_ONLINE_WINDOW"), 15*time.Second),
	}

	cfg.Audit = AuditConfig{
		LocalCapacity: v.GetInt("AUDIT_LOCAL_CAPACITY"),
		FeedLimit:     v.GetInt("AUDIT_FEED_LIMIT"),
	}

	cfg.Realtime = RealtimeConfig{
		CandidatesLimit:   v.GetInt("REALTIME_CANDIDATES_LIMIT"),
		PresenceLimit:     v.GetInt("REALTIME_PRESENCE_LIMIT"),
		ProfilesLimit:     v.GetInt("REALTIME_PROFILES_LIMIT"),
		ReconnectInitial:  parseDuration(v.GetString("REALTIME_RECONNECT_INITIAL"), 500*time.Millisecond),
		ReconnectMax:      parseDuration(v.GetString("REALTIME_RECONNECT_MAX"), 30*time.Second),
		ReconnectMaxTotal: parseDuration(v.GetString("REALTIME_RECONNECT_MAX_TOTAL"), 5*time.Minute),
		StreamBuffer:      v.GetInt("REALTIME_STREAM_BUFFER"),
	}

	cfg.Tasks = TasksConfig{
		Workers:    v.GetInt("TASKS_WORKERS"),
		BufferSize: v.GetInt("TASKS_BUFFER_SIZE"),
		Timeout:    parseDuration(v.GetString("TASKS_TIMEOUT"), 10*time.Second),
	}

	cfg.SuperAdmin = SuperAdminConfig{
		Email:    strings.ToLower(strings.TrimSpace(v.GetString("SUPER_ADMIN_EMAIL"))),
		Username: v.GetString("SUPER_ADMIN_USERNAME"),
	}

	cfg.Summary = SummaryConfig{
		DefaultMention: v.GetString("SUMMARY_DEFAULT_MENTION"),
		Timezone:       v.GetString("SUMMARY_TIMEZONE"),
	}

	return cfg, nil
}

// Location resolves a configured IANA zone, falling back to the process local zone.
func Location(name string) *time.Location {
	if strings.TrimSpace(name) == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local
	}
	return loc
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("STORE_DRIVER", StoreMemory)

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "candidate_sync")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_KEY_PREFIX", "")

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("QUOTA_READS_MAX", 50000)
	v.SetDefault("QUOTA_WRITES_MAX", 50000)
	v.SetDefault("QUOTA_WARN_RATIO", 0)
	v.SetDefault("QUOTA_PUBLISH_INTERVAL", "800ms")
	v.SetDefault("QUOTA_RESET_TIMEZONE", "")
	v.SetDefault("QUOTA_RESET_OFFSET", "2s")

	v.SetDefault("PRESENCE_HEARTBEAT_INTERVAL", "10s")
	v.SetDefault("PRESENCE_ONLINE_WINDOW", "15s")

	v.SetDefault("AUDIT_LOCAL_CAPACITY", 2000)
	v.SetDefault("AUDIT_FEED_LIMIT", 200)

	v.SetDefault("REALTIME_CANDIDATES_LIMIT", 2000)
	v.SetDefault("REALTIME_PRESENCE_LIMIT", 200)
	v.SetDefault("REALTIME_PROFILES_LIMIT", 500)
	v.SetDefault("REALTIME_RECONNECT_INITIAL", "500ms")
	v.SetDefault("REALTIME_RECONNECT_MAX", "30s")
	v.SetDefault("REALTIME_RECONNECT_MAX_TOTAL", "5m")
	v.SetDefault("REALTIME_STREAM_BUFFER", 32)

	v.SetDefault("TASKS_WORKERS", 4)
	v.SetDefault("TASKS_BUFFER_SIZE", 256)
	v.SetDefault("TASKS_TIMEOUT", "10s")

	v.SetDefault("SUPER_ADMIN_EMAIL", "")
	v.SetDefault("SUPER_ADMIN_USERNAME", "")

	v.SetDefault("SUMMARY_DEFAULT_MENTION", "<@&827121686499295252>")
	v.SetDefault("SUMMARY_TIMEZONE", "")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
