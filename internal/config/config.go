package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config - структура для хранения конфигурации сервера
type Config struct {
	DatabaseURL string `env:"DATABASE_URL" env-required:"true"`
	HTTPPort    string `env:"HTTP_PORT" env-default:"8080"`
	LogLevel    string `env:"LOG_LEVEL" env-default:"info"`

	// Redis Config
	RedisAddr string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPass string `env:"REDIS_PASSWORD"`
	RedisDB   int    `env:"REDIS_DB" env-default:"0"`

	// Webhook Config
	WebhookURL        string        `env:"WEBHOOK_URL"`
	WebhookSecret     string        `env:"WEBHOOK_SECRET"`
	WebhookTimeout    time.Duration `env:"WEBHOOK_TIMEOUT" env-default:"5s"`
	WebhookMaxRetries int           `env:"WEBHOOK_MAX_RETRIES" env-default:"3"`
	WebhookBaseDelay  time.Duration `env:"WEBHOOK_BASE_DELAY" env-default:"1s"`

	// Auth Config
	JWTSecret string `env:"JWT_SECRET" env-required:"true"`

	// Dispatch Config
	OfferWindow        time.Duration `env:"OFFER_WINDOW" env-default:"30s"`
	OfferSweepInterval time.Duration `env:"OFFER_SWEEP_INTERVAL" env-default:"1s"`

	// MQTT Config, пустой брокер - шина событий внутри процесса
	MQTTBroker   string `env:"MQTT_BROKER"`
	MQTTClientID string `env:"MQTT_CLIENT_ID" env-default:"incident-dispatch"`

	// WebSocket Config
	WSSendBuffer   int           `env:"WS_SEND_BUFFER" env-default:"64"`
	WSPingInterval time.Duration `env:"WS_PING_INTERVAL" env-default:"25s"`
	WSWriteTimeout time.Duration `env:"WS_WRITE_TIMEOUT" env-default:"10s"`
}

// ClientConfig - конфигурация клиента (консоль ответственного)
type ClientConfig struct {
	APIBaseURL string `env:"API_BASE_URL" env-required:"true"`
	WSURL      string `env:"WS_URL" env-required:"true"`
	LogLevel   string `env:"LOG_LEVEL" env-default:"info"`

	AuthToken string `env:"AUTH_TOKEN"`
	UserID    string `env:"USER_ID"`
	UserRole  string `env:"USER_ROLE" env-default:"responder"`

	RequestTimeout       time.Duration `env:"REQUEST_TIMEOUT" env-default:"10s"`
	ReconnectDelay       time.Duration `env:"RECONNECT_DELAY" env-default:"2s"`
	ReconnectMaxAttempts int           `env:"RECONNECT_MAX_ATTEMPTS" env-default:"10"`
	NotifyPollInterval   time.Duration `env:"NOTIFY_POLL_INTERVAL" env-default:"30s"`
	OfferWindow          time.Duration `env:"OFFER_WINDOW" env-default:"30s"`
}

// LoadConfig загружает конфигурацию сервера из переменных окружения и .env файла
func LoadConfig() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("ошибка чтения конфигурации: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if cfg.OfferWindow <= 0 {
		return nil, fmt.Errorf("OFFER_WINDOW must be positive")
	}
	return cfg, nil
}

// LoadClientConfig загружает конфигурацию клиента
func LoadClientConfig() (*ClientConfig, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	cfg := &ClientConfig{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("ошибка чтения конфигурации клиента: %w", err)
	}
	if cfg.APIBaseURL == "" || cfg.WSURL == "" {
		return nil, fmt.Errorf("API_BASE_URL and WS_URL environment variables are required")
	}
	return cfg, nil
}

// loadDotEnv загружает .env файл, если он есть
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка загрузки файла .env: %w", err)
	}
	return nil
}
