package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppHost  string
	HTTPPort string
	AppEnv   string
	LogLevel string

	// AlertServiceURL — если задан, queue-service дёргает внешний шлюз
	// оповещений, когда тикет выходит на позицию 1 (POST /alerts/turn).
	AlertServiceURL string

	KafkaBrokers    string
	KafkaTopicQueue string

	// Диспетчер уведомлений: число шардов-потребителей и ёмкость
	// каждого шарда. Переполнение шарда роняет событие, не запрос.
	DispatchWorkers  int
	DispatchCapacity int

	// WSSendTimeout — лимит одной отправки подписчику; дольше — отключение.
	WSSendTimeout time.Duration

	// TicketTTL — возраст waiting-тикета, после которого expire-tickets
	// переводит его в expired.
	TicketTTL time.Duration

	DB struct {
		Host     string
		Port     string
		User     string
		Password string
		Database string
		SSLMode  string
	}
}

func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	cfg := &Config{
		AppHost:          getEnv("APP_HOST", "0.0.0.0"),
		HTTPPort:         firstEnv("APP_PORT", "HTTP_PORT", "8098"),
		AppEnv:           getEnv("APP_ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		AlertServiceURL:  getEnv("ALERT_SERVICE_URL", ""),
		KafkaBrokers:     getEnv("KAFKA_BROKERS", ""),
		KafkaTopicQueue:  getEnv("KAFKA_TOPIC_QUEUE", "queue.events"),
		DispatchWorkers:  getEnvInt("DISPATCH_WORKERS", 4),
		DispatchCapacity: getEnvInt("DISPATCH_CAPACITY", 256),
		WSSendTimeout:    getEnvDuration("WS_SEND_TIMEOUT", 2*time.Second),
		TicketTTL:        getEnvDuration("TICKET_TTL", 4*time.Hour),
	}
	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnv("DB_PORT", "5432")
	cfg.DB.User = getEnv("DB_USER", "postgres")
	cfg.DB.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.DB.Database = getEnv("DB_DATABASE", "queue_service")
	cfg.DB.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DB.Host == "" || c.DB.Database == "" {
		return errors.New("config: DB_HOST and DB_DATABASE are required")
	}
	if c.AppEnv == "production" && c.DB.Password == "" {
		return errors.New("config: in production DB_PASSWORD is required")
	}
	if c.DispatchWorkers <= 0 || c.DispatchCapacity <= 0 {
		return errors.New("config: DISPATCH_WORKERS and DISPATCH_CAPACITY must be positive")
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) DatabaseURL() string {
	pass := url.QueryEscape(c.DB.Password)
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DB.User, pass, c.DB.Host, c.DB.Port, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) Addr() string {
	return c.AppHost + ":" + c.HTTPPort
}

func firstEnv(keysAndDef ...string) string {
	if len(keysAndDef) == 0 {
		return ""
	}
	def := keysAndDef[len(keysAndDef)-1]
	for _, k := range keysAndDef[:len(keysAndDef)-1] {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}
