package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	AES      AESConfig      `mapstructure:"aes"`
	HMAC     HMACConfig     `mapstructure:"hmac"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Invoice  InvoiceConfig  `mapstructure:"invoice"`
	Reset    ResetConfig    `mapstructure:"reset"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver         string `mapstructure:"driver"` // postgres, memory
	MigrateOnStart bool   `mapstructure:"migrate_on_start"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig configures the audit event producer. Disabled means audit
// entries are persisted and logged but not published.
type KafkaConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Brokers    []string `mapstructure:"brokers"`
	AuditTopic string   `mapstructure:"audit_topic"`
	ClientID   string   `mapstructure:"client_id"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type AESConfig struct {
	Key string `mapstructure:"key"` // 32-byte hex-encoded key for AES-256
}

// HMACConfig holds the shared credentials of the payment-confirmation caller.
type HMACConfig struct {
	AccessKey string `mapstructure:"access_key"`
	Secret    string `mapstructure:"secret"`
}

type LedgerConfig struct {
	// PlatformUserID owns the wallet that receives subscription revenue.
	PlatformUserID  string        `mapstructure:"platform_user_id"`
	HistoryPageSize int           `mapstructure:"history_page_size"`
	IdempotencyTTL  time.Duration `mapstructure:"idempotency_ttl"`
}

type InvoiceConfig struct {
	SellerTaxID        string `mapstructure:"seller_tax_id"`
	DefaultPrefix      string `mapstructure:"default_prefix"`
	DefaultNumberStart string `mapstructure:"default_number_start"` // empty = random start
	Timezone           string `mapstructure:"timezone"`
}

// Location resolves the tax time zone used to pick an invoice's year_month.
func (i InvoiceConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(i.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading invoice timezone %q: %w", i.Timezone, err)
	}
	return loc, nil
}

type ResetConfig struct {
	ConfirmationToken string        `mapstructure:"confirmation_token"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
}

// NotifyConfig points withdrawal status notifications at an external receiver.
type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"` // empty = notifications disabled
	Secret     string        `mapstructure:"secret"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: MLG_ (Marketplace Ledger).
// Nested keys use underscore: MLG_DATABASE_HOST, MLG_INVOICE_SELLER_TAX_ID, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("storage.migrate_on_start", true)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "marketplace_ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "2s")
	v.SetDefault("redis.write_timeout", "2s")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.audit_topic", "ledger.audit")
	v.SetDefault("kafka.client_id", "marketplace-ledger")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "marketplace-ledger")
	v.SetDefault("aes.key", "")
	v.SetDefault("hmac.access_key", "")
	v.SetDefault("hmac.secret", "")
	v.SetDefault("ledger.platform_user_id", "")
	v.SetDefault("ledger.history_page_size", 100)
	v.SetDefault("ledger.idempotency_ttl", "24h")
	v.SetDefault("invoice.seller_tax_id", "")
	v.SetDefault("invoice.default_prefix", "AA")
	v.SetDefault("invoice.default_number_start", "")
	v.SetDefault("invoice.timezone", "Asia/Taipei")
	v.SetDefault("reset.confirmation_token", "RESET ALL WALLETS")
	v.SetDefault("reset.lock_ttl", "5m")
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.secret", "")
	v.SetDefault("notify.timeout", "10s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// MLG_DATABASE_HOST -> database.host
	v.SetEnvPrefix("MLG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The file is optional, env vars can suffice.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Validate checks settings the process cannot start without.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be postgres or memory, got %q", c.Storage.Driver))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	if c.AES.Key == "" {
		errs = append(errs, errors.New("aes.key is required"))
	}
	if c.Reset.ConfirmationToken == "" {
		errs = append(errs, errors.New("reset.confirmation_token must not be empty"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
	}
	if _, err := c.Invoice.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
