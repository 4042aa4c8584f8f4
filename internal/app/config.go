package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`

	// CartHold is how long a cart reservation lives before the reaper
	// releases it. StaleOrderTTL is the same idea for pending orders.
	CartHold      time.Duration `default:"5m"  usage:"Cart reservation hold duration" flag:"cart-hold"`
	StaleOrderTTL time.Duration `default:"30m" usage:"Age after which a pending order is cancelled" flag:"stale-order-ttl"`
	SweepInterval time.Duration `default:"1m"  usage:"Interval between stale-order sweeps" flag:"sweep-interval"`

	Gateway   GatewayConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// GatewayConfig holds the payment provider settings.
type GatewayConfig struct {
	Redirect RedirectGatewayConfig
	PushQR   PushQRGatewayConfig
}

// RedirectGatewayConfig configures the hosted-page provider.
type RedirectGatewayConfig struct {
	PayURL       string `usage:"Provider payment page URL" flag:"redirect-pay-url"`
	ReturnURL    string `usage:"Callback return URL registered with the provider" flag:"redirect-return-url"`
	MerchantCode string `usage:"Merchant code at the provider" flag:"redirect-merchant"`
}

// PushQRGatewayConfig configures the push-QR provider.
type PushQRGatewayConfig struct {
	GenerateURL string `usage:"Provider QR generation endpoint" flag:"pushqr-generate-url"`
	AccountNo   string `usage:"Receiving bank account number" flag:"pushqr-account-no"`
	AccountName string `usage:"Receiving bank account name" flag:"pushqr-account-name"`
	BankID      int    `usage:"Provider acquirer bank identifier" flag:"pushqr-bank-id"`
	ClientID    string `usage:"Provider API client ID" flag:"pushqr-client-id"`
	APIKey      string `usage:"Provider API key" flag:"pushqr-api-key"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/bookshop/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT to the application's SHOP_-
// prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
