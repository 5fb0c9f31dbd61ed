package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// JWT configuration
	JWT JWTConfig

	// CORS configuration
	CORS CORSConfig

	// Booking policy
	Booking BookingConfig

	// Payment gateway configuration
	Payment PaymentConfig

	// Messaging (RabbitMQ / Kafka)
	Messaging MessagingConfig

	// Tracing
	Telemetry TelemetryConfig

	// Background jobs
	Cron CronConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	Driver             string // "postgres" (lib/pq) or "pgx"
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret            string
	Issuer            string // accepted token issuer; empty accepts any
	AccessTokenExpiry time.Duration
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// BookingConfig holds the booking policy
type BookingConfig struct {
	StandardWindowDays int    // advance window for standard and anonymous actors
	SpecialWindowDays  int    // advance window for actors with the special role
	TimeZone           string // IANA zone "today" is evaluated in
	DefaultCurrency    string
	MinorUnits         map[string]int // currency -> number of minor-unit digits
	CalendarDays       int            // default calendar feed span
}

// Location resolves the booking time zone, falling back to UTC
func (b BookingConfig) Location() *time.Location {
	loc, err := time.LoadLocation(b.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// PaymentConfig holds hosted checkout gateway configuration
type PaymentConfig struct {
	BaseURL         string        // gateway API base URL; empty selects placeholder mode
	MerchantKey     string        // merchant key sent with every request
	MerchantSecret  string        // shared secret (SECRET - never expose to client)
	ReturnURL       string        // where the customer lands after paying
	WebhookURL      string        // our webhook endpoint registered with the gateway
	RequestTimeout  time.Duration // per call to the gateway
	ReconcileAfter  time.Duration // pending intents older than this are polled
	PendingTimeout  time.Duration // pending intents older than this are cancelled
	BreakerFailures int           // consecutive failures that open the circuit
	BreakerCoolDown time.Duration // how long the circuit stays open
}

// IsConfigured reports whether a real gateway is configured
func (p PaymentConfig) IsConfigured() bool {
	return p.BaseURL != "" && p.MerchantKey != ""
}

// MessagingConfig holds broker configuration. Empty URLs disable a broker.
type MessagingConfig struct {
	AMQPURL            string
	AMQPExchange       string
	PaymentEventsQueue string
	KafkaBrokers       []string
	KafkaTopic         string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	OTLPEndpoint string // empty disables tracing
	ServiceName  string
}

// CronConfig holds schedules in robfig/cron seconds format
type CronConfig struct {
	Enabled           bool
	ReconcileSchedule string
	ExpirySchedule    string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			Driver:             getEnv("DATABASE_DRIVER", "postgres"),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			Issuer:            getEnv("JWT_ISSUER", ""),
			AccessTokenExpiry: time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)) * time.Second,
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
		Booking: BookingConfig{
			StandardWindowDays: getEnvAsInt("BOOKING_WINDOW_DAYS", 30),
			SpecialWindowDays:  getEnvAsInt("BOOKING_SPECIAL_WINDOW_DAYS", 90),
			TimeZone:           getEnv("BOOKING_TIMEZONE", "UTC"),
			DefaultCurrency:    getEnv("DEFAULT_CURRENCY", "JPY"),
			MinorUnits:         getEnvAsIntMap("CURRENCY_MINOR_UNITS", map[string]int{"JPY": 0, "USD": 2, "EUR": 2, "LKR": 2}),
			CalendarDays:       getEnvAsInt("CALENDAR_DEFAULT_DAYS", 30),
		},
		Payment: PaymentConfig{
			BaseURL:         getEnv("PAYMENT_GATEWAY_URL", ""),
			MerchantKey:     getEnv("PAYMENT_MERCHANT_KEY", ""),
			MerchantSecret:  getEnv("PAYMENT_MERCHANT_SECRET", ""),
			ReturnURL:       getEnv("PAYMENT_RETURN_URL", ""),
			WebhookURL:      getEnv("PAYMENT_WEBHOOK_URL", ""),
			RequestTimeout:  time.Duration(getEnvAsInt("PAYMENT_REQUEST_TIMEOUT", 30)) * time.Second,
			ReconcileAfter:  time.Duration(getEnvAsInt("PAYMENT_RECONCILE_AFTER", 600)) * time.Second,
			PendingTimeout:  time.Duration(getEnvAsInt("PAYMENT_TIMEOUT", 3600)) * time.Second,
			BreakerFailures: getEnvAsInt("PAYMENT_BREAKER_FAILURES", 5),
			BreakerCoolDown: time.Duration(getEnvAsInt("PAYMENT_BREAKER_COOLDOWN", 30)) * time.Second,
		},
		Messaging: MessagingConfig{
			AMQPURL:            getEnv("AMQP_URL", ""),
			AMQPExchange:       getEnv("AMQP_EXCHANGE", "booking"),
			PaymentEventsQueue: getEnv("AMQP_PAYMENT_EVENTS_QUEUE", "payment.events"),
			KafkaBrokers:       getEnvAsSlice("KAFKA_BROKERS", nil),
			KafkaTopic:         getEnv("KAFKA_BOOKING_TOPIC", "booking-events"),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "booking-engine"),
		},
		Cron: CronConfig{
			Enabled:           getEnvAsBool("CRON_ENABLED", true),
			ReconcileSchedule: getEnv("CRON_RECONCILE_SCHEDULE", "0 */5 * * * *"),
			ExpirySchedule:    getEnv("CRON_EXPIRY_SCHEDULE", "30 * * * * *"),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Database.Driver != "postgres" && c.Database.Driver != "pgx" {
		return fmt.Errorf("invalid DATABASE_DRIVER: %s (must be 'postgres' or 'pgx')", c.Database.Driver)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Booking.StandardWindowDays < 0 || c.Booking.SpecialWindowDays < c.Booking.StandardWindowDays {
		return fmt.Errorf("BOOKING_SPECIAL_WINDOW_DAYS must be >= BOOKING_WINDOW_DAYS >= 0")
	}

	if _, err := time.LoadLocation(c.Booking.TimeZone); err != nil {
		return fmt.Errorf("invalid BOOKING_TIMEZONE: %w", err)
	}

	if _, ok := c.Booking.MinorUnits[c.Booking.DefaultCurrency]; !ok {
		return fmt.Errorf("CURRENCY_MINOR_UNITS has no entry for DEFAULT_CURRENCY %s", c.Booking.DefaultCurrency)
	}

	// A real gateway needs its secret in production
	if c.Server.Environment == "production" && c.Payment.IsConfigured() && c.Payment.MerchantSecret == "" {
		return fmt.Errorf("PAYMENT_MERCHANT_SECRET is required when the payment gateway is configured")
	}

	if c.Payment.PendingTimeout <= c.Payment.ReconcileAfter {
		return fmt.Errorf("PAYMENT_TIMEOUT must be greater than PAYMENT_RECONCILE_AFTER")
	}

	return nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

// getEnvAsIntMap parses "JPY:0,USD:2"
func getEnvAsIntMap(key string, defaultValue map[string]int) map[string]int {
	pairs := getEnvAsSlice(key, nil)
	if len(pairs) == 0 {
		return defaultValue
	}
	result := make(map[string]int, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, ":")
		if !ok {
			log.Printf("Invalid entry %q in %s, using default", pair, key)
			return defaultValue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 0 {
			log.Printf("Invalid entry %q in %s, using default", pair, key)
			return defaultValue
		}
		result[strings.ToUpper(strings.TrimSpace(k))] = n
	}
	return result
}
