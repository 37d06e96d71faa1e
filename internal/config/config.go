package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config holds all runtime configuration loaded from environment variables.
// It is built once at startup and passed explicitly to every component that needs it.
type Config struct {
	AppPort  string `env:"APP_PORT" envDefault:"3000" validate:"required"`
	AppEnv   string `env:"APP_ENV" envDefault:"development" validate:"required,oneof=development staging production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	AWSRegion      string `env:"AWS_REGION" envDefault:"us-east-1" validate:"required"`
	AWSEndpointURL string `env:"AWS_ENDPOINT_URL"` // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretKey   string `env:"AWS_SECRET_ACCESS_KEY"`
	DynamoTables   DynamoTables

	JWTPrivateKeyPath string `env:"JWT_PRIVATE_KEY_PATH" envDefault:"./private_key.pem"`
	JWTPublicKeyPath  string `env:"JWT_PUBLIC_KEY_PATH" envDefault:"./public_key.pem"`

	SNSRegion      string `env:"SNS_REGION" envDefault:"us-east-1"`
	SNSSenderID    string `env:"SNS_SENDER_ID"`
	SMSCountryCode string `env:"SMS_COUNTRY_CODE" envDefault:"+91" validate:"startswith=+"`
	// SMSDryRun logs OTP messages instead of publishing them to SNS.
	SMSDryRun bool `env:"SMS_DRY_RUN" envDefault:"false"`

	OTPExpiry         time.Duration `env:"OTP_EXPIRY" envDefault:"3m" validate:"gt=0"`
	BcryptCost        int           `env:"BCRYPT_COST" envDefault:"10" validate:"min=4,max=31"`
	DependencyTimeout time.Duration `env:"DEPENDENCY_TIMEOUT" envDefault:"5s" validate:"gt=0"`
	// PendingReregistration lets a fresh registration overwrite an unverified
	// record that holds the same phone number.
	PendingReregistration bool `env:"PENDING_REREGISTRATION" envDefault:"false"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","` // CORS allowed origins
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Users string `env:"DYNAMO_TABLE_USERS" envDefault:"users" validate:"required"`
}

// Load reads all configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// IsDevelopment reports whether the process runs with APP_ENV=development.
func (c *Config) IsDevelopment() bool { return c.AppEnv == "development" }

// SlogLevel maps LogLevel to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
