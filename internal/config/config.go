package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Slot booking timings
	LockTTL        time.Duration
	DraftTTL       time.Duration
	OTPTTL         time.Duration
	OTPLength      int
	OTPMaxAttempts int
	OTPRateLimit   int
	OTPRateWindow  time.Duration
	OTPSecret      string
	SweepInterval  time.Duration

	AdminJWTSecret     string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	// Code delivery
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioFromNumber  string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Audit sinks
	AuditSQSQueueURL  string
	AuditKafkaBrokers []string
	AuditKafkaTopic   string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		LockTTL:        getEnvAsDuration("LOCK_TTL", 600*time.Second),
		DraftTTL:       getEnvAsDuration("DRAFT_TTL", 30*time.Minute),
		OTPTTL:         getEnvAsDuration("OTP_TTL", 300*time.Second),
		OTPLength:      getEnvAsInt("OTP_LENGTH", 6),
		OTPMaxAttempts: getEnvAsInt("OTP_MAX_ATTEMPTS", 5),
		OTPRateLimit:   getEnvAsInt("OTP_RATE_LIMIT", 3),
		OTPRateWindow:  getEnvAsDuration("OTP_RATE_WINDOW", 900*time.Second),
		OTPSecret:      getEnv("OTP_SECRET", ""),
		SweepInterval:  getEnvAsDuration("SWEEP_INTERVAL", time.Minute),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),

		TwilioAccountSID:  getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:   getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:  getEnv("TWILIO_FROM_NUMBER", ""),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "MedSpa Bookings"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		AuditSQSQueueURL:  getEnv("AUDIT_SQS_QUEUE_URL", ""),
		AuditKafkaBrokers: getEnvAsList("AUDIT_KAFKA_BROKERS"),
		AuditKafkaTopic:   getEnv("AUDIT_KAFKA_TOPIC", "booking-audit"),
	}
}

// IsProduction reports whether ENV names a production deployment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production") || strings.EqualFold(c.Env, "prod")
}

// Validate rejects settings the booking core cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.RedisAddr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.IsProduction() && len(c.OTPSecret) < 32 {
		errs = append(errs, errors.New("OTP_SECRET must be at least 32 characters in production"))
	}
	if c.LockTTL <= 0 || c.OTPTTL <= 0 || c.DraftTTL <= 0 {
		errs = append(errs, errors.New("LOCK_TTL, OTP_TTL and DRAFT_TTL must be positive"))
	}
	if c.DraftTTL < c.LockTTL {
		errs = append(errs, errors.New("DRAFT_TTL must not be shorter than LOCK_TTL"))
	}
	if c.OTPLength < 4 || c.OTPLength > 10 {
		errs = append(errs, errors.New("OTP_LENGTH must be between 4 and 10"))
	}
	if len(c.AuditKafkaBrokers) > 0 && c.AuditKafkaTopic == "" {
		errs = append(errs, errors.New("AUDIT_KAFKA_TOPIC is required with AUDIT_KAFKA_BROKERS"))
	}
	return errors.Join(errs...)
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("90s") or bare seconds ("600").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
