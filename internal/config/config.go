package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	OTLPEnabled  bool
	OTLPEndpoint string
	OTLPProtocol string
	LogLevel     string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBMetricsEnabled  bool

	RedisAddr     string
	RedisPassword string

	HTTPAddr string

	// Payment engine settings.
	PaymentProvider     string
	DefaultCurrency     string
	IdempotencyTTL      time.Duration
	AmountEpsilonMinor  int64
	MockChargeFailRate  float64
	MockRefundFailRate  float64
	StripeAPIKey        string
	StripeWebhookSecret string
	PayPalClientID      string
	PayPalClientSecret  string
	PayPalWebhookID     string
	PayPalBaseURL       string

	OrderServiceURL     string
	OrderServiceTimeout time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "payrail"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		OTLPEnabled:  getenvBool("OTLP_ENABLED", false),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		OTLPProtocol: strings.ToLower(getenv("OTLP_PROTOCOL", "grpc")),
		LogLevel:     getenv("LOG_LEVEL", "info"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "payrail"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),
		DBMetricsEnabled:  getenvBool("DATABASE_METRICS_ENABLED", false),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		PaymentProvider:     strings.ToLower(getenv("PAYMENT_PROVIDER", "mock")),
		DefaultCurrency:     strings.ToUpper(getenv("DEFAULT_CURRENCY", "USD")),
		IdempotencyTTL:      time.Duration(getenvInt("IDEMPOTENCY_TTL_HOURS", 24)) * time.Hour,
		AmountEpsilonMinor:  getenvInt64("AMOUNT_EPSILON_MINOR", 1),
		MockChargeFailRate:  getenvFloat("MOCK_CHARGE_FAIL_RATE", 0.1),
		MockRefundFailRate:  getenvFloat("MOCK_REFUND_FAIL_RATE", 0.05),
		StripeAPIKey:        strings.TrimSpace(getenv("STRIPE_API_KEY", "")),
		StripeWebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
		PayPalClientID:      strings.TrimSpace(getenv("PAYPAL_CLIENT_ID", "")),
		PayPalClientSecret:  strings.TrimSpace(getenv("PAYPAL_CLIENT_SECRET", "")),
		PayPalWebhookID:     strings.TrimSpace(getenv("PAYPAL_WEBHOOK_ID", "")),
		PayPalBaseURL:       strings.TrimRight(getenv("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com"), "/"),

		OrderServiceURL:     strings.TrimRight(getenv("ORDER_SERVICE_URL", "http://localhost:8081"), "/"),
		OrderServiceTimeout: time.Duration(getenvInt("ORDER_SERVICE_TIMEOUT_SECONDS", 10)) * time.Second,
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// Validate rejects configurations that must not reach production. A real
// provider configured without its webhook verification secret would force
// the reconciler to skip verification, so it is a startup error there.
func (c Config) Validate() error {
	if !c.IsProduction() {
		return nil
	}
	switch c.PaymentProvider {
	case "stripe":
		if c.StripeWebhookSecret == "" {
			return errors.New("STRIPE_WEBHOOK_SECRET is required in production")
		}
	case "paypal":
		if c.PayPalWebhookID == "" || c.PayPalClientSecret == "" {
			return errors.New("PAYPAL_WEBHOOK_ID and PAYPAL_CLIENT_SECRET are required in production")
		}
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
