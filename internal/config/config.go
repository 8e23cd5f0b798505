package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Cache   TokenCacheConfig
	Observe ObserveConfig
	Server  ServerConfig
	UAA     UAAConfig
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	// APIToken is the shared secret callers present as a bearer token to use
	// the lookup routes.
	APIToken string `env:"SERVER_API_TOKEN, required"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`
}

// UAAConfig holds the connection and credential settings for the identity
// provider.
type UAAConfig struct {
	// Target is the base URL of the provider, e.g. https://uaa.example.com
	Target string `env:"UAA_TARGET, required"`

	// TokenURL overrides the grant endpoint. Defaults to Target + /oauth/token.
	TokenURL string `env:"UAA_TOKEN_URL"`

	ClientID     string `env:"UAA_CLIENT_ID, required"`
	ClientSecret string `env:"UAA_CLIENT_SECRET, required"`

	// CAFile is a PEM bundle used to verify the provider's certificate, in
	// addition to the system roots.
	CAFile string `env:"UAA_CA_FILE"`

	HTTPTimeoutSeconds int `env:"UAA_HTTP_TIMEOUT_SECS, default=10"`
}

// TokenCacheConfig specifies the in-memory token cache settings.
type TokenCacheConfig struct {
	// DefaultTTLSeconds applies when the provider omits a token lifetime.
	DefaultTTLSeconds int `env:"TOKEN_CACHE_DEFAULT_TTL_SECS, default=300"`

	// MaxTTLSeconds caps the lifetime of any cached token.
	MaxTTLSeconds int `env:"TOKEN_CACHE_MAX_TTL_SECS, default=43200"`

	MaxSize int `env:"TOKEN_CACHE_MAX_SIZE, default=1000"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=directory-bridge"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.UAA.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid UAA configuration: %w", err)
	}

	err = cfg.Cache.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid token cache configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the provider target is usable.
func (c *UAAConfig) Validate() error {
	if err := validateHTTPURL("UAA_TARGET", c.Target); err != nil {
		return err
	}

	if c.TokenURL != "" {
		if err := validateHTTPURL("UAA_TOKEN_URL", c.TokenURL); err != nil {
			return err
		}
	}

	if c.HTTPTimeoutSeconds <= 0 {
		return errors.New("UAA_HTTP_TIMEOUT_SECS must be positive")
	}

	return nil
}

// ResolvedTokenURL returns the grant endpoint, derived from the target when
// not set explicitly.
func (c UAAConfig) ResolvedTokenURL() string {
	if c.TokenURL != "" {
		return c.TokenURL
	}
	return strings.TrimSuffix(c.Target, "/") + "/oauth/token"
}

// Validate checks that the TTL bounds are consistent.
func (c *TokenCacheConfig) Validate() error {
	if c.DefaultTTLSeconds <= 0 {
		return errors.New("TOKEN_CACHE_DEFAULT_TTL_SECS must be positive")
	}

	if c.MaxTTLSeconds < c.DefaultTTLSeconds {
		return errors.New("TOKEN_CACHE_MAX_TTL_SECS must not be less than TOKEN_CACHE_DEFAULT_TTL_SECS")
	}

	if c.MaxSize <= 0 {
		return errors.New("TOKEN_CACHE_MAX_SIZE must be positive")
	}

	return nil
}

func validateHTTPURL(name, value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}

	if !u.IsAbs() || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL: %q", name, value)
	}

	return nil
}
