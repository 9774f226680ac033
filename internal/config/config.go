package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	AppHost   string `validate:"required"`
	HTTPPort  string `validate:"required,numeric"`
	AppEnv    string `validate:"oneof=development staging production test"`
	LogLevel  string `validate:"oneof=trace debug info warn warning error fatal panic"`
	LogFormat string `validate:"oneof=text json"`
	// LogFile: если задан, логи дополнительно пишутся в файл с ротацией.
	LogFile string

	// BackendURL: базовый адрес бэкенда чата: REST и Socket.IO (/socket.io/).
	BackendURL     string        `validate:"required,url"`
	BackendTimeout time.Duration `validate:"gt=0"`

	AutoCloseAfter    time.Duration `validate:"gt=0"`
	AutoCloseInterval time.Duration `validate:"gt=0"`
	AckTimeout        time.Duration `validate:"gt=0"`

	// Kafka: если KAFKA_BROKERS пустой, события тикетов не публикуются.
	KafkaBrokers    string
	KafkaTopicIssue string

	// ArchiveEnabled включает зеркалирование тикеты в Postgres.
	ArchiveEnabled bool

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
		AppHost:         getEnv("APP_HOST", "0.0.0.0"),
		HTTPPort:        firstEnv("APP_PORT", "HTTP_PORT", "8098"),
		AppEnv:          getEnv("APP_ENV", "development"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "text"),
		LogFile:         getEnv("LOG_FILE", ""),
		BackendURL:      firstEnv("BACKEND_URL", "NEXT_PUBLIC_API_URL", "https://api.rltorg.ru"),
		KafkaBrokers:    getEnv("KAFKA_BROKERS", ""),
		KafkaTopicIssue: getEnv("KAFKA_TOPIC_ISSUE", "operator.issue.events"),
	}

	var err error
	if cfg.BackendTimeout, err = getEnvDuration("BACKEND_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.AutoCloseAfter, err = getEnvDuration("AUTO_CLOSE_AFTER", time.Hour); err != nil {
		return nil, err
	}
	if cfg.AutoCloseInterval, err = getEnvDuration("AUTO_CLOSE_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.AckTimeout, err = getEnvDuration("ACK_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ArchiveEnabled, err = getEnvBool("ARCHIVE_ENABLED", false); err != nil {
		return nil, err
	}

	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnv("DB_PORT", "5432")
	cfg.DB.User = getEnv("DB_USER", "postgres")
	cfg.DB.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.DB.Database = getEnv("DB_DATABASE", "operator_console")
	cfg.DB.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.ArchiveEnabled && (c.DB.Host == "" || c.DB.Database == "") {
		return errors.New("config: with ARCHIVE_ENABLED DB_HOST and DB_DATABASE are required")
	}
	if c.ArchiveEnabled && c.AppEnv == "production" && c.DB.Password == "" {
		return errors.New("config: in production DB_PASSWORD is required")
	}
	if c.KafkaBrokers != "" && c.KafkaTopicIssue == "" {
		return errors.New("config: KAFKA_TOPIC_ISSUE is required when KAFKA_BROKERS is set")
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

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}
