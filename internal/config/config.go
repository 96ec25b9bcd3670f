// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// placeholderSecret is the sample value shipped in .env.example; refusing it keeps sample configs out of production.
const placeholderSecret = "your-secret-key-for-jwt"

// minSecretLen is the minimum HS256 secret length in bytes.
const minSecretLen = 32

// Profile modes for device-flow logins whose provider returns no profile email.
const (
	ProfileModeDerive  = "derive"
	ProfileModeRequire = "require"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8000).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the gRPC health endpoint (e.g. :9090).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN; empty selects the in-memory store (not allowed in production).
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// JWTSecret is the HS256 signing secret. Mutually exclusive with JWTPrivateKey/JWTPublicKey.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim (e.g. "langchef-auth").
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim (e.g. "langchef-api").
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the session token lifetime (e.g. "24h").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`

	// AWSRegion is the region for STS identity lookups.
	AWSRegion string `mapstructure:"AWS_REGION"`
	// AWSAccessKeyID, AWSSecretAccessKey, AWSSessionToken are the ambient credentials used by direct login.
	AWSAccessKeyID     string `mapstructure:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `mapstructure:"AWS_SECRET_ACCESS_KEY"`
	AWSSessionToken    string `mapstructure:"AWS_SESSION_TOKEN"`

	// SSOStartURL is the IAM Identity Center start URL passed to StartDeviceAuthorization.
	SSOStartURL string `mapstructure:"AWS_SSO_START_URL"`
	// SSORegion is the region of the IAM Identity Center instance.
	SSORegion string `mapstructure:"AWS_SSO_REGION"`
	// SSOAccountID and SSORoleName select the role whose credentials are delegated to the user.
	SSOAccountID string `mapstructure:"AWS_SSO_ACCOUNT_ID"`
	SSORoleName  string `mapstructure:"AWS_SSO_ROLE_NAME"`
	// SSOClientName is the OIDC client name used on RegisterClient.
	SSOClientName string `mapstructure:"SSO_CLIENT_NAME"`
	// ProviderTimeout bounds every call to the identity provider and STS (e.g. "15s").
	ProviderTimeout string `mapstructure:"PROVIDER_TIMEOUT"`

	// ProfileEmailDomain is appended to derived usernames when the provider returns no email.
	ProfileEmailDomain string `mapstructure:"PROFILE_EMAIL_DOMAIN"`
	// ProfileMode is "derive" (synthesize email from username) or "require" (fail without provider email).
	ProfileMode string `mapstructure:"PROFILE_MODE"`

	// Telemetry (optional). Empty endpoint yields no-op providers.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	ServiceName  string `mapstructure:"OTEL_SERVICE_NAME"`

	// KafkaBrokers is a comma-separated list of brokers for the auth event stream; empty disables it.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// AuthEventsTopic is the Kafka topic for auth events.
	AuthEventsTopic string `mapstructure:"AUTH_EVENTS_TOPIC"`
	// KafkaGroupID is the consumer group of the event forwarder (cmd/worker).
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is the Loki base URL the event forwarder pushes to (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	// LogLevel is debug, info, warn or error. LogFormat is json or text.
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// AuthRateLimitRPS and AuthRateLimitBurst limit /api/auth requests per client IP.
	AuthRateLimitRPS   float64 `mapstructure:"AUTH_RATE_LIMIT_RPS"`
	AuthRateLimitBurst int     `mapstructure:"AUTH_RATE_LIMIT_BURST"`

	// AccessPolicyFile is an optional Rego file replacing the built-in langchef.access policy.
	AccessPolicyFile string `mapstructure:"ACCESS_POLICY_FILE"`
	// CORSAllowedOrigins is a comma-separated list of browser origins allowed to call the API.
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	// DeviceLedgerRetention is how long terminal device-code outcomes are kept (e.g. "24h").
	DeviceLedgerRetention string `mapstructure:"DEVICE_LEDGER_RETENTION"`
}

// SSOSettings is the identity provider configuration handed to the provider client at construction.
type SSOSettings struct {
	StartURL   string
	Region     string
	AccountID  string
	RoleName   string
	ClientName string
	Timeout    time.Duration
}

// AmbientCredentials are the process-wide AWS credentials used by the direct login path.
type AmbientCredentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
}

// Configured reports whether both the access key id and secret are present.
func (a AmbientCredentials) Configured() bool {
	return a.AccessKeyID != "" && a.SecretAccessKey != ""
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.DatabaseURL == "" && cfg.Env == "production" {
		return nil, errors.New("config: DATABASE_URL must be set when APP_ENV=production")
	}
	if err := cfg.validateSigning(); err != nil {
		return nil, err
	}
	switch cfg.ProfileMode {
	case ProfileModeDerive, ProfileModeRequire:
	default:
		return nil, errors.New("config: PROFILE_MODE must be derive or require")
	}
	if cfg.AuthRateLimitRPS <= 0 {
		cfg.AuthRateLimitRPS = 5
	}
	if cfg.AuthRateLimitBurst <= 0 {
		cfg.AuthRateLimitBurst = 20
	}

	return cfg, nil
}

// LoadWorker loads the config of the event forwarder. Only KAFKA_BROKERS and LOKI_URL are required;
// signing settings are not validated.
func LoadWorker() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if len(cfg.KafkaBrokersList()) == 0 {
		return nil, errors.New("config: KAFKA_BROKERS must be set")
	}
	if cfg.LokiURL == "" {
		return nil, errors.New("config: LOKI_URL must be set")
	}
	return cfg, nil
}

// LoadMigrate loads the config of the migration tool; only DATABASE_URL is required.
func LoadMigrate() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("config: DATABASE_URL must be set")
	}
	return cfg, nil
}

func read() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8000")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "langchef-auth")
	v.SetDefault("JWT_AUDIENCE", "langchef-api")
	v.SetDefault("JWT_ACCESS_TTL", "24h")
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("AWS_ACCESS_KEY_ID", "")
	v.SetDefault("AWS_SECRET_ACCESS_KEY", "")
	v.SetDefault("AWS_SESSION_TOKEN", "")
	v.SetDefault("AWS_SSO_START_URL", "")
	v.SetDefault("AWS_SSO_REGION", "us-east-1")
	v.SetDefault("AWS_SSO_ACCOUNT_ID", "")
	v.SetDefault("AWS_SSO_ROLE_NAME", "")
	v.SetDefault("SSO_CLIENT_NAME", "LLM Workflow Platform")
	v.SetDefault("PROVIDER_TIMEOUT", "15s")
	v.SetDefault("PROFILE_EMAIL_DOMAIN", "example.com")
	v.SetDefault("PROFILE_MODE", ProfileModeDerive)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "langchef-api")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUTH_EVENTS_TOPIC", "langchef-auth-events")
	v.SetDefault("KAFKA_GROUP_ID", "langchef-auth-events-forwarder")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("AUTH_RATE_LIMIT_RPS", 5.0)
	v.SetDefault("AUTH_RATE_LIMIT_BURST", 20)
	v.SetDefault("ACCESS_POLICY_FILE", "")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
	v.SetDefault("DEVICE_LEDGER_RETENTION", "24h")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validateSigning() error {
	hasSecret := c.JWTSecret != ""
	hasKeys := c.JWTPrivateKey != "" || c.JWTPublicKey != ""
	switch {
	case hasSecret && hasKeys:
		return errors.New("config: set either JWT_SECRET or JWT_PRIVATE_KEY/JWT_PUBLIC_KEY, not both")
	case !hasSecret && !hasKeys:
		return errors.New("config: JWT_SECRET or JWT_PRIVATE_KEY/JWT_PUBLIC_KEY must be set")
	case hasSecret:
		if c.JWTSecret == placeholderSecret {
			return errors.New("config: JWT_SECRET must be set to a secure random value")
		}
		if len(c.JWTSecret) < minSecretLen {
			return errors.New("config: JWT_SECRET must be at least 32 bytes")
		}
	default:
		if c.JWTPrivateKey == "" || c.JWTPublicKey == "" {
			return errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must both be set")
		}
	}
	return nil
}

// UsesSharedSecret reports whether session tokens are signed with HS256.
func (c *Config) UsesSharedSecret() bool {
	return c.JWTSecret != ""
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 24h if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTAccessTTL)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// ProviderCallTimeout parses ProviderTimeout. Returns 15s if unset or invalid.
func (c *Config) ProviderCallTimeout() time.Duration {
	d, err := time.ParseDuration(c.ProviderTimeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// LedgerRetention parses DeviceLedgerRetention. Returns 24h if unset or invalid.
func (c *Config) LedgerRetention() time.Duration {
	d, err := time.ParseDuration(c.DeviceLedgerRetention)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// SSO returns the identity provider settings.
func (c *Config) SSO() SSOSettings {
	return SSOSettings{
		StartURL:   c.SSOStartURL,
		Region:     c.SSORegion,
		AccountID:  c.SSOAccountID,
		RoleName:   c.SSORoleName,
		ClientName: c.SSOClientName,
		Timeout:    c.ProviderCallTimeout(),
	}
}

// Ambient returns the process-wide AWS credentials for direct login.
func (c *Config) Ambient() AmbientCredentials {
	return AmbientCredentials{
		AccessKeyID:     c.AWSAccessKeyID,
		SecretAccessKey: c.AWSSecretAccessKey,
		SessionToken:    c.AWSSessionToken,
		Region:          c.AWSRegion,
	}
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the auth event stream is enabled (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

// CORSOrigins returns the allowed browser origins.
func (c *Config) CORSOrigins() []string {
	if c == nil {
		return nil
	}
	return splitList(c.CORSAllowedOrigins)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
