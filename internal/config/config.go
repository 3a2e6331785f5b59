package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config: вся конфигурация сервиса жизненного цикла.
type Config struct {
	DB       *DBConfig
	Redis    RedisConfig
	HTTP     HTTPConfig
	Engine   EngineConfig
	Payment  PaymentConfig
	Notify   NotifyConfig
	Cron     CronConfig
	LogLevel string
	LogJSON  bool
}

type RedisConfig struct {
	Addr     string // пусто — run state хранится в БД
	Password string
	DB       int
	Prefix   string
}

type HTTPConfig struct {
	Addr           string
	GRPCAddr       string
	CronSecret     string // Bearer-секрет для /api/cron/*
	AdminJWTSecret string
	// Токены пользователей приложения (sub = id профиля).
	UserJWTSecret string
	WebhookSecret string
	// Доверять X-Forwarded-For/X-Real-IP (сервис стоит за прокси).
	TrustProxyHeaders bool
	// Публичный триггер: не чаще одного запуска за интервал.
	AutoUpdateMinInterval time.Duration
	PublicRPS             float64
	PublicBurst           int
}

type EngineConfig struct {
	BusinessTimeZone string
	AutoConfirmLead  time.Duration
	DefaultDuration  time.Duration
	ArchiveAfter     time.Duration
	TrialDays        int
	RenewalPeriod    time.Duration
	Workers          int
}

type PaymentConfig struct {
	BaseURL    string
	APIKey     string
	SecretKey  string
	AppBaseURL string // для заглушки редиректа в mock-режиме
	Timeout    time.Duration
	MaxRetries int
	Currency   string
}

type NotifyConfig struct {
	Timeout       time.Duration
	SMTPHost      string
	SMTPPort      int
	SMTPUser      string
	SMTPPassword  string
	SMTPFrom      string
	TelegramToken string
}

type CronConfig struct {
	Enabled        bool
	AutoUpdateSpec string
	TrialsSpec     string
	AuditSpec      string
}

// Load читает .env (если есть) и переменные окружения.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbCfg, err := LoadDBConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DB: dbCfg,
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Prefix:   getEnv("REDIS_PREFIX", "lifecycle"),
		},
		HTTP: HTTPConfig{
			Addr:                  getEnv("HTTP_ADDR", ":8080"),
			GRPCAddr:              getEnv("GRPC_ADDR", ":50051"),
			CronSecret:            os.Getenv("CRON_SECRET"),
			AdminJWTSecret:        os.Getenv("ADMIN_JWT_SECRET"),
			UserJWTSecret:         os.Getenv("USER_JWT_SECRET"),
			TrustProxyHeaders:     getEnvBool("TRUST_PROXY_HEADERS", false),
			WebhookSecret:         os.Getenv("REVENIU_WEBHOOK_SECRET"),
			AutoUpdateMinInterval: getEnvDuration("AUTO_UPDATE_MIN_INTERVAL", 5*time.Minute),
			PublicRPS:             getEnvFloat("PUBLIC_TRIGGER_RPS", 0.2),
			PublicBurst:           getEnvInt("PUBLIC_TRIGGER_BURST", 3),
		},
		Engine: EngineConfig{
			BusinessTimeZone: getEnv("BUSINESS_TIMEZONE", "America/Santiago"),
			AutoConfirmLead:  getEnvDuration("AUTO_CONFIRM_LEAD", 0),
			DefaultDuration:  getEnvDuration("DEFAULT_SERVICE_DURATION", 60*time.Minute),
			ArchiveAfter:     getEnvDuration("ARCHIVE_AFTER", 7*24*time.Hour),
			TrialDays:        getEnvInt("TRIAL_DAYS", 14),
			RenewalPeriod:    getEnvDuration("RENEWAL_PERIOD", 30*24*time.Hour),
			Workers:          getEnvInt("ENGINE_WORKERS", 4),
		},
		Payment: PaymentConfig{
			BaseURL:    getEnv("REVENIU_BASE_URL", "https://integration.reveniu.com"),
			APIKey:     os.Getenv("REVENIU_API_KEY"),
			SecretKey:  os.Getenv("REVENIU_SECRET_KEY"),
			AppBaseURL: getEnv("APP_BASE_URL", "http://localhost:3000"),
			Timeout:    getEnvDuration("REVENIU_TIMEOUT", 15*time.Second),
			MaxRetries: getEnvInt("REVENIU_MAX_RETRIES", 2),
			Currency:   getEnv("REVENIU_CURRENCY", "CLP"),
		},
		Notify: NotifyConfig{
			Timeout:       getEnvDuration("NOTIFY_TIMEOUT", 10*time.Second),
			SMTPHost:      os.Getenv("SMTP_HOST"),
			SMTPPort:      getEnvInt("SMTP_PORT", 587),
			SMTPUser:      os.Getenv("SMTP_USER"),
			SMTPPassword:  os.Getenv("SMTP_PASSWORD"),
			SMTPFrom:      getEnv("SMTP_FROM", "no-reply@localhost"),
			TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		},
		Cron: CronConfig{
			Enabled:        getEnvBool("CRON_ENABLED", true),
			AutoUpdateSpec: getEnv("CRON_AUTO_UPDATE", "*/15 * * * *"),
			TrialsSpec:     getEnv("CRON_CHECK_TRIALS", "0 3 * * *"),
			AuditSpec:      getEnv("CRON_AUDIT_PROFILES", "30 * * * *"),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogJSON:  getEnvBool("LOG_JSON", true),
	}

	if cfg.Engine.TrialDays <= 0 {
		return nil, fmt.Errorf("invalid engine config: TRIAL_DAYS must be positive")
	}
	if cfg.Engine.Workers <= 0 {
		cfg.Engine.Workers = 1
	}
	if _, err := time.LoadLocation(cfg.Engine.BusinessTimeZone); err != nil {
		return nil, fmt.Errorf("invalid engine config: timezone %q: %w", cfg.Engine.BusinessTimeZone, err)
	}

	return cfg, nil
}

// TrialLength: длина пробного периода.
func (e EngineConfig) TrialLength() time.Duration {
	return time.Duration(e.TrialDays) * 24 * time.Hour
}

// Location: часовой пояс бизнеса; невалидное значение отсекается в Load.
func (e EngineConfig) Location() *time.Location {
	loc, err := time.LoadLocation(e.BusinessTimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Mock: нет ключей провайдера, работаем в mock-режиме.
func (p PaymentConfig) Mock() bool {
	return strings.TrimSpace(p.APIKey) == "" || strings.TrimSpace(p.SecretKey) == ""
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

// getEnvDuration принимает "15m", "168h" и т.п.
func getEnvDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}
