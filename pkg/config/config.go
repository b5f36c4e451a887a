package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Realtime   RealtimeConfig
	Sweeps     SweepConfig
	Correction CorrectionConfig
	Email      EmailConfig
	Uploads    UploadsConfig
	Exports    ExportsConfig
	Billing    BillingConfig
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
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// RealtimeConfig tunes the websocket gateway and the class change feed.
type RealtimeConfig struct {
	Enabled       bool
	SendBuffer    int
	ChannelPrefix string
}

// SweepConfig governs the due-item sweep runner (late marking, reminders).
type SweepConfig struct {
	Enabled   bool
	Interval  time.Duration
	BatchSize int
}

// CorrectionConfig points at the external AI correction webhook.
type CorrectionConfig struct {
	WebhookURL        string
	Timeout           time.Duration
	WorkerConcurrency int
	WorkerRetries     int
}

// EmailConfig configures outbound mail for reminder delivery.
type EmailConfig struct {
	Enabled     bool
	SendGridKey string
	FromName    string
	FromAddress string
}

// UploadsConfig controls essay upload validation.
type UploadsConfig struct {
	StorageDir       string
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
}

// ExportsConfig controls result export storage and signed download links.
type ExportsConfig struct {
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	RetentionTTL    time.Duration
}

// BillingConfig gates subscription enforcement for teacher actions.
type BillingConfig struct {
	Enforce       bool
	WebhookSecret string
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
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

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
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Realtime = RealtimeConfig{
		Enabled:       v.GetBool("ENABLE_REALTIME"),
		SendBuffer:    v.GetInt("REALTIME_SEND_BUFFER"),
		ChannelPrefix: v.GetString("REALTIME_CHANNEL_PREFIX"),
	}

	cfg.Sweeps = SweepConfig{
		Enabled:   v.GetBool("ENABLE_SWEEPS"),
		Interval:  parseDuration(v.GetString("SWEEP_INTERVAL"), time.Minute),
		BatchSize: v.GetInt("SWEEP_BATCH_SIZE"),
	}

	cfg.Correction = CorrectionConfig{
		WebhookURL:        v.GetString("CORRECTION_WEBHOOK_URL"),
		Timeout:           parseDuration(v.GetString("CORRECTION_TIMEOUT"), 90*time.Second),
		WorkerConcurrency: v.GetInt("CORRECTION_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("CORRECTION_WORKER_RETRIES"),
	}

	cfg.Email = EmailConfig{
		Enabled:     v.GetBool("ENABLE_EMAIL"),
		SendGridKey: v.GetString("SENDGRID_API_KEY"),
		FromName:    v.GetString("EMAIL_FROM_NAME"),
		FromAddress: v.GetString("EMAIL_FROM_ADDRESS"),
	}

	maxUploadSize := v.GetInt64("UPLOADS_MAX_FILE_SIZE")
	if maxUploadSize <= 0 {
		maxUploadSize = 5 * 1024 * 1024
	}
	cfg.Uploads = UploadsConfig{
		StorageDir:       v.GetString("UPLOADS_STORAGE_DIR"),
		MaxFileSizeBytes: maxUploadSize,
		AllowedMIMEs:     splitAndTrim(v.GetString("UPLOADS_ALLOWED_MIME_TYPES")),
	}

	cfg.Exports = ExportsConfig{
		StorageDir:      v.GetString("EXPORTS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("EXPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("EXPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		RetentionTTL:    parseDuration(v.GetString("EXPORTS_RETENTION_TTL"), 7*24*time.Hour),
	}

	cfg.Billing = BillingConfig{
		Enforce:       v.GetBool("BILLING_ENFORCE"),
		WebhookSecret: v.GetString("BILLING_WEBHOOK_SECRET"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "lexigrade")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENABLE_REALTIME", true)
	v.SetDefault("REALTIME_SEND_BUFFER", 128)
	v.SetDefault("REALTIME_CHANNEL_PREFIX", "class")

	v.SetDefault("ENABLE_SWEEPS", true)
	v.SetDefault("SWEEP_INTERVAL", "1m")
	v.SetDefault("SWEEP_BATCH_SIZE", 100)

	v.SetDefault("CORRECTION_WEBHOOK_URL", "")
	v.SetDefault("CORRECTION_TIMEOUT", "90s")
	v.SetDefault("CORRECTION_WORKER_CONCURRENCY", 2)
	v.SetDefault("CORRECTION_WORKER_RETRIES", 3)

	v.SetDefault("ENABLE_EMAIL", false)
	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("EMAIL_FROM_NAME", "LexiGrade")
	v.SetDefault("EMAIL_FROM_ADDRESS", "noreply@lexigrade.app")

	v.SetDefault("UPLOADS_STORAGE_DIR", "./uploads")
	v.SetDefault("UPLOADS_MAX_FILE_SIZE", 5*1024*1024)
	v.SetDefault("UPLOADS_ALLOWED_MIME_TYPES", "text/plain,text/markdown")

	v.SetDefault("EXPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORTS_SIGNED_URL_SECRET", "dev_exports_secret")
	v.SetDefault("EXPORTS_SIGNED_URL_TTL", "24h")

	v.SetDefault("BILLING_ENFORCE", false)
	v.SetDefault("BILLING_WEBHOOK_SECRET", "")
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
