package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	HTTPAddr string

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

	// Processor (PSP) integration.
	PSPBaseURL      string
	PSPSecret       string
	CallbackBaseURL string

	// Merchant-facing webhook signing.
	WebhookSecret string

	// Hosted payment page base URL used to build payment links.
	PaymentPageBaseURL string

	RateLimit RateLimitConfig

	Bootstrap BootstrapConfig
}

// RateLimitConfig controls the redis-backed limiter for the payment page
// boundary and the retry-sweep lock.
type RateLimitConfig struct {
	Enabled          bool
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	PaymentPageRate  float64
	PaymentPageBurst int
}

// BootstrapConfig controls local/self-hosted seeding.
type BootstrapConfig struct {
	EnsureDefaultMerchant bool
}

// Module provides configuration to the fx graph.
var Module = fx.Module("config", fx.Provide(Load))

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "payway"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "payway"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		PSPBaseURL:      getenv("PSP_URL", "http://localhost:3002"),
		PSPSecret:       strings.TrimSpace(getenv("PSP_SECRET", "")),
		CallbackBaseURL: getenv("CALLBACK_BASE_URL", "http://localhost:8080"),

		WebhookSecret: strings.TrimSpace(getenv("WEBHOOK_SECRET", "")),

		PaymentPageBaseURL: getenv("PAYMENT_PAGE_URL", "http://localhost:8081"),

		RateLimit: RateLimitConfig{
			Enabled:          getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:        strings.TrimSpace(getenv("REDIS_ADDR", "")),
			RedisPassword:    getenv("REDIS_PASSWORD", ""),
			RedisDB:          getenvInt("REDIS_DB", 0),
			PaymentPageRate:  getenvFloat("RATE_LIMIT_PAYMENT_PAGE_RATE", 1),
			PaymentPageBurst: getenvInt("RATE_LIMIT_PAYMENT_PAGE_BURST", 5),
		},

		Bootstrap: BootstrapConfig{
			EnsureDefaultMerchant: getenvBool("BOOTSTRAP_DEFAULT_MERCHANT", true),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
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
