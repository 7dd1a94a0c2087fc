// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :3000).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address the gRPC health server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty selects in-memory stores (development only).
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL is a redis:// URL or host:port. Empty selects in-memory OTP store, counters and lock.
	RedisURL string `mapstructure:"REDIS_URL"`
	// Env is the application environment ("development", "production").
	Env string `mapstructure:"APP_ENV"`

	// PaymentAddress receives on-chain payments and sends on-chain refunds.
	PaymentAddress string `mapstructure:"PAYMENT_ADDRESS"`
	// ChainRPCURLs maps chain ids to JSON-RPC endpoints: "1=https://...,10=https://...".
	ChainRPCURLs string `mapstructure:"CHAIN_RPC_URLS"`
	// PaymentsPrivateKey is the hex secp256k1 key used to sign refunds.
	PaymentsPrivateKey string `mapstructure:"PAYMENTS_PRIVATE_KEY"`
	CMCAPIKey          string `mapstructure:"CMC_API_KEY"`
	CMCBaseURL         string `mapstructure:"CMC_BASE_URL"`

	PayPalClientID string `mapstructure:"PAYPAL_CLIENT_ID"`
	PayPalSecret   string `mapstructure:"PAYPAL_SECRET"`
	// PayPalBaseURL overrides the sandbox/live base chosen from APP_ENV.
	PayPalBaseURL string `mapstructure:"PAYPAL_BASE_URL"`

	IPQSAPIKey  string `mapstructure:"IPQUALITYSCORE_APIKEY"`
	IPQSBaseURL string `mapstructure:"IPQS_BASE_URL"`
	// MaxFraudScore is the highest IPQS fraud_score still considered safe.
	MaxFraudScore int `mapstructure:"MAX_FRAUD_SCORE"`
	// RegistrationRecency is how long a registration blocks the number (e.g. "7920h").
	RegistrationRecency string `mapstructure:"REGISTRATION_RECENCY"`
	// NullifierGraceDays is the window in which a nullifier can re-fetch its credential without an OTP.
	NullifierGraceDays int `mapstructure:"NULLIFIER_GRACE_DAYS"`
	// DisableSybilResistance skips registration writes and signs with the testing key.
	DisableSybilResistance bool   `mapstructure:"DISABLE_SYBIL_RESISTANCE_FOR_TESTING"`
	ProductionPrivKey      string `mapstructure:"PRODUCTION_PRIVKEY"`
	TestingPrivKey         string `mapstructure:"TESTING_PRIVKEY"`
	CredentialIssuer       string `mapstructure:"CREDENTIAL_ISSUER"`

	MessenteUsername string `mapstructure:"MESSENTE_API_USERNAME"`
	MessentePassword string `mapstructure:"MESSENTE_API_PASSWORD"`
	MessenteBaseURL  string `mapstructure:"MESSENTE_BASE_URL"`
	SMSSender        string `mapstructure:"SMS_SENDER"`

	OTPTTL                   string `mapstructure:"OTP_TTL"`
	OTPCountryLimitPerMinute int    `mapstructure:"OTP_COUNTRY_LIMIT_PER_MINUTE"`
	OTPCountryLimitPerHour   int    `mapstructure:"OTP_COUNTRY_LIMIT_PER_HOUR"`
	// OTPReturnToClient when true enables dev OTP mode: no SMS, codes readable at GET /dev/otp/{phone}.
	// Must not be true when Env is production.
	OTPReturnToClient bool `mapstructure:"OTP_RETURN_TO_CLIENT"`
	// VerifyTimeout bounds the whole credential issuance pipeline (e.g. "10s").
	VerifyTimeout string `mapstructure:"VERIFY_TIMEOUT"`

	// AdminAPIKey gates /admin/* and the admin payment override via the x-api-key header.
	AdminAPIKey           string `mapstructure:"ADMIN_API_KEY_LOW_PRIVILEGE"`
	EligibilityPolicyPath string `mapstructure:"ELIGIBILITY_POLICY_PATH"`
	// IPRateLimitPerMinute is the per-client request budget for the HTTP API; 0 disables it.
	IPRateLimitPerMinute int `mapstructure:"IP_RATE_LIMIT_PER_MINUTE"`

	// OTelEndpoint is the OTLP gRPC collector address; empty disables export.
	OTelEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// Telemetry (optional). When Kafka brokers are set, the server emits session events to Kafka.
	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	TelemetryKafkaTopic   string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`

	// Worker-only: Loki URL for the telemetry worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the telemetry worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":3000")
	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("PAYMENT_ADDRESS", "0xdca2e9ae8423d7b0f94d7f9fc09e698a45f3c851")
	v.SetDefault("CHAIN_RPC_URLS", "")
	v.SetDefault("PAYMENTS_PRIVATE_KEY", "")
	v.SetDefault("CMC_API_KEY", "")
	v.SetDefault("CMC_BASE_URL", "https://pro-api.coinmarketcap.com")
	v.SetDefault("PAYPAL_CLIENT_ID", "")
	v.SetDefault("PAYPAL_SECRET", "")
	v.SetDefault("PAYPAL_BASE_URL", "")
	v.SetDefault("IPQUALITYSCORE_APIKEY", "")
	v.SetDefault("IPQS_BASE_URL", "https://ipqualityscore.com")
	v.SetDefault("MAX_FRAUD_SCORE", 75)
	v.SetDefault("REGISTRATION_RECENCY", "7920h") // ~11 months
	v.SetDefault("NULLIFIER_GRACE_DAYS", 5)
	v.SetDefault("DISABLE_SYBIL_RESISTANCE_FOR_TESTING", false)
	v.SetDefault("PRODUCTION_PRIVKEY", "")
	v.SetDefault("TESTING_PRIVKEY", "")
	v.SetDefault("CREDENTIAL_ISSUER", "phone-verification-server")
	v.SetDefault("MESSENTE_API_USERNAME", "")
	v.SetDefault("MESSENTE_API_PASSWORD", "")
	v.SetDefault("MESSENTE_BASE_URL", "https://api.messente.com")
	v.SetDefault("SMS_SENDER", "Holonym")
	v.SetDefault("OTP_TTL", "5m")
	v.SetDefault("OTP_COUNTRY_LIMIT_PER_MINUTE", 10)
	v.SetDefault("OTP_COUNTRY_LIMIT_PER_HOUR", 300)
	v.SetDefault("OTP_RETURN_TO_CLIENT", false)
	v.SetDefault("VERIFY_TIMEOUT", "10s")
	v.SetDefault("ADMIN_API_KEY_LOW_PRIVILEGE", "")
	v.SetDefault("ELIGIBILITY_POLICY_PATH", "")
	v.SetDefault("IP_RATE_LIMIT_PER_MINUTE", 120)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", true)
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "phone-verification-events")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "phone-verification-telemetry-worker")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}
	if cfg.OTPReturnToClient && cfg.Env == "production" {
		return nil, errors.New("config: OTP_RETURN_TO_CLIENT must not be true when APP_ENV=production")
	}
	if cfg.DisableSybilResistance && cfg.Env == "production" {
		return nil, errors.New("config: DISABLE_SYBIL_RESISTANCE_FOR_TESTING must not be true when APP_ENV=production")
	}
	if cfg.MaxFraudScore < 0 || cfg.MaxFraudScore > 100 {
		return nil, errors.New("config: MAX_FRAUD_SCORE must be between 0 and 100")
	}
	if cfg.NullifierGraceDays < 0 {
		return nil, errors.New("config: NULLIFIER_GRACE_DAYS must not be negative")
	}
	if cfg.OTPCountryLimitPerMinute <= 0 || cfg.OTPCountryLimitPerHour <= 0 {
		return nil, errors.New("config: OTP_COUNTRY_LIMIT_PER_MINUTE and OTP_COUNTRY_LIMIT_PER_HOUR must be positive")
	}
	if _, err := cfg.ChainRPCURLMap(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c != nil && c.Env == "production"
}

// IsDevelopment reports whether APP_ENV is development. Enables the Optimism Goerli test chain.
func (c *Config) IsDevelopment() bool {
	return c != nil && c.Env == "development"
}

// OTPTTLDuration parses OTPTTL. Returns 5m if unset or invalid.
func (c *Config) OTPTTLDuration() time.Duration {
	return parseDuration(c.OTPTTL, 5*time.Minute)
}

// VerifyTimeoutDuration parses VerifyTimeout. Returns 10s if unset or invalid.
func (c *Config) VerifyTimeoutDuration() time.Duration {
	return parseDuration(c.VerifyTimeout, 10*time.Second)
}

// RegistrationRecencyDuration parses RegistrationRecency. Returns 7920h if unset or invalid.
func (c *Config) RegistrationRecencyDuration() time.Duration {
	return parseDuration(c.RegistrationRecency, 7920*time.Hour)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ChainRPCURLMap parses ChainRPCURLs ("1=https://a,10=https://b") into chain id -> URL.
func (c *Config) ChainRPCURLMap() (map[int64]string, error) {
	out := make(map[int64]string)
	if c == nil {
		return out, nil
	}
	for _, part := range splitList(c.ChainRPCURLs) {
		idStr, url, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(url) == "" {
			return nil, fmt.Errorf("config: CHAIN_RPC_URLS entry %q must be chainId=url", part)
		}
		id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: CHAIN_RPC_URLS chain id %q must be an integer", idStr)
		}
		out[id] = strings.TrimSpace(url)
	}
	return out, nil
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if telemetry is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.TelemetryKafkaBrokers)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
