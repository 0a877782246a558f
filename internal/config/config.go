package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "METADATA"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabaseDriver  = "sqlite"
	defaultDatabaseDSN     = "metadata.db"
	defaultLogLevel        = "info"
	defaultTokenTTLMinutes = 60
	defaultCacheTTLSeconds = 30
	defaultKafkaTopic      = "user.account.created.v1"
	defaultKafkaGroup      = "metadata-profile-sync"
)

// DriverSQLite and DriverPostgres are the accepted database.driver values.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the metadata service.
type AppConfig struct {
	HTTPAddress    string
	DatabaseDriver string
	DatabaseDSN    string
	LogLevel       string
	SigningSecret  string
	TokenTTL       time.Duration
	RedisAddr      string
	CacheTTL       time.Duration
	KafkaBrokers   []string
	KafkaTopic     string
	KafkaGroup     string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("redis.addr", "")
	configViper.SetDefault("cache.ttl_seconds", defaultCacheTTLSeconds)
	configViper.SetDefault("kafka.brokers", []string{})
	configViper.SetDefault("kafka.topic", defaultKafkaTopic)
	configViper.SetDefault("kafka.group", defaultKafkaGroup)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabaseDriver: configViper.GetString("database.driver"),
		DatabaseDSN:    configViper.GetString("database.dsn"),
		LogLevel:       configViper.GetString("log.level"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		TokenTTL:       time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		RedisAddr:      configViper.GetString("redis.addr"),
		CacheTTL:       time.Duration(configViper.GetInt("cache.ttl_seconds")) * time.Second,
		KafkaBrokers:   configViper.GetStringSlice("kafka.brokers"),
		KafkaTopic:     configViper.GetString("kafka.topic"),
		KafkaGroup:     configViper.GetString("kafka.group"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// SyncEnabled reports whether the profile-sync consumer should be started.
func (c AppConfig) SyncEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	switch c.DatabaseDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("database.driver must be %q or %q", DriverSQLite, DriverPostgres)
	}
	if c.SyncEnabled() {
		if strings.TrimSpace(c.KafkaTopic) == "" {
			return fmt.Errorf("kafka.topic is required when kafka.brokers is set")
		}
		if strings.TrimSpace(c.KafkaGroup) == "" {
			return fmt.Errorf("kafka.group is required when kafka.brokers is set")
		}
	}
	return nil
}
