package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	WhatsApp  WhatsAppConfig
	Scheduler SchedulerConfig
	Notify    NotifyConfig
	Events    EventsConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	// TTL bounds how long a pairing code stays readable; codes go stale
	// on the order of a minute.
	TTL time.Duration
}

type WhatsAppConfig struct {
	SessionDir     string
	MediaDir       string
	DeviceName     string
	ConnectTimeout time.Duration
	CountryCode    string
}

type SchedulerConfig struct {
	SendDelay time.Duration
}

type NotifyConfig struct {
	Enabled    bool
	WebhookURL string
}

type EventsConfig struct {
	Enabled  bool
	AMQPURL  string
	Exchange string
}

func LoadAll() (*Config, error) {
	var errs []error

	postgresURL, err := requireEnv("POSTGRES_URL")
	if err != nil {
		errs = append(errs, err)
	}

	connectTimeout, err := getEnvInt("CONNECT_TIMEOUT_SECONDS", 60)
	if err != nil {
		errs = append(errs, err)
	}
	sendDelay, err := getEnvInt("SEND_DELAY_SECONDS", 2)
	if err != nil {
		errs = append(errs, err)
	}

	redis, err := loadRedisConfig()
	if err != nil {
		errs = append(errs, err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: postgresURL,
		},
		WhatsApp: WhatsAppConfig{
			SessionDir:     getEnv("WA_SESSION_DIR", "./sessions"),
			MediaDir:       getEnv("MEDIA_DIR", "./uploads"),
			DeviceName:     getEnv("WA_DEVICE_NAME", "WhatsApp-Bot"),
			ConnectTimeout: time.Duration(connectTimeout) * time.Second,
			CountryCode:    getEnv("COUNTRY_CODE", "972"),
		},
		Scheduler: SchedulerConfig{
			SendDelay: time.Duration(sendDelay) * time.Second,
		},
		Notify: loadNotifyConfig(),
		Events: loadEventsConfig(),
		Redis:  redis,
	}

	errs = append(errs, validate(cfg)...)

	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	db, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return RedisConfig{}, err
	}
	ttl, err := getEnvInt("REDIS_TTL_SECONDS", 90)
	if err != nil {
		return RedisConfig{}, err
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}, nil
}

func loadNotifyConfig() NotifyConfig {
	url := os.Getenv("NOTIFY_WEBHOOK_URL")
	if url == "" {
		return NotifyConfig{Enabled: false}
	}
	return NotifyConfig{Enabled: true, WebhookURL: url}
}

func loadEventsConfig() EventsConfig {
	url := os.Getenv("AMQP_URL")
	if url == "" {
		return EventsConfig{Enabled: false}
	}
	return EventsConfig{
		Enabled:  true,
		AMQPURL:  url,
		Exchange: getEnv("AMQP_EXCHANGE", "whatsapp-bot.events"),
	}
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.WhatsApp.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("CONNECT_TIMEOUT_SECONDS must be > 0"))
	}
	if cfg.Scheduler.SendDelay < 0 {
		errs = append(errs, errors.New("SEND_DELAY_SECONDS must be >= 0"))
	}
	if cfg.WhatsApp.CountryCode == "" {
		errs = append(errs, errors.New("COUNTRY_CODE must not be empty"))
	}
	return errs
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
