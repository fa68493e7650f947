package config

import (
	"bytes"
	_ "embed"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	Log        LogConfig       `mapstructure:"log"`
	HTTP       HTTPConfig      `mapstructure:"http"`
	MySQL      DatabaseConfig  `mapstructure:"mysql"`
	ClickHouse DatabaseConfig  `mapstructure:"clickhouse"`
	Redis      RedisConfig     `mapstructure:"redis"`
	Kafka      KafkaConfig     `mapstructure:"kafka"`
	Auth       AuthConfig      `mapstructure:"auth"`
	Relay      RelayConfig     `mapstructure:"relay"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
	Billing    BillingConfig   `mapstructure:"billing"`
	Worker     WorkerConfig    `mapstructure:"worker"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	GroupID        string   `mapstructure:"group_id"`
	ActivityTopic  string   `mapstructure:"activity_topic"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

// AuthConfig points at the session provider's token verification endpoint.
type AuthConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	PublicKey string        `mapstructure:"public_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type BreakerConfig struct {
	FailThreshold int           `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenFor       time.Duration `mapstructure:"open_for"       yaml:"open_for"`
}

type RelayConfig struct {
	URL                 string        `mapstructure:"url"`
	Secret              string        `mapstructure:"secret"`
	SecretHeader        string        `mapstructure:"secret_header"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxBodyBytes        int64         `mapstructure:"max_body_bytes"`
	MaxResponseBytes    int64         `mapstructure:"max_response_bytes"`
	RequireSubscription bool          `mapstructure:"require_subscription"`
	Breaker             BreakerConfig `mapstructure:"breaker"`
}

type RateLimitConfig struct {
	Backend       string        `mapstructure:"backend"` // memory | redis
	Window        time.Duration `mapstructure:"window"`
	MaxRequests   int           `mapstructure:"max_requests"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type BillingConfig struct {
	WebhookSecret      string        `mapstructure:"webhook_secret"`
	StripeAPIKey       string        `mapstructure:"stripe_api_key"`
	SignatureTolerance time.Duration `mapstructure:"signature_tolerance"`
	AckPolicy          string        `mapstructure:"ack_policy"` // always | on_success
}

type WorkerConfig struct {
	BatchSize int           `mapstructure:"batch_size"`
	BatchWait time.Duration `mapstructure:"batch_wait"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (IMGGW_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (IMGGW_RELAY_SECRET -> relay.secret)
	v.SetEnvPrefix("IMGGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MissingRelaySettings lists the relay settings that must be present before any
// upload is proxied.
func (c Config) MissingRelaySettings() []string {
	var missing []string
	if strings.TrimSpace(c.Auth.BaseURL) == "" {
		missing = append(missing, "auth.base_url")
	}
	if strings.TrimSpace(c.Relay.Secret) == "" {
		missing = append(missing, "relay.secret")
	}
	if strings.TrimSpace(c.Relay.URL) == "" {
		missing = append(missing, "relay.url")
	}
	return missing
}

// MissingBillingSettings lists the billing webhook settings that must be present.
func (c Config) MissingBillingSettings() []string {
	var missing []string
	if strings.TrimSpace(c.Billing.WebhookSecret) == "" {
		missing = append(missing, "billing.webhook_secret")
	}
	if strings.TrimSpace(c.MySQL.DSN) == "" {
		missing = append(missing, "mysql.dsn")
	}
	return missing
}
