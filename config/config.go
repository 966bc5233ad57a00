// Package config loads service settings from the environment. A .env file in
// the working directory is read first when present.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type App struct {
	// HTTP
	HTTPPort    int    `envconfig:"HTTP_PORT" default:"8080"`
	CORSOrigins string `envconfig:"CORS_ORIGINS" default:"*"`
	// Storage
	DBDriver string `envconfig:"DB_DRIVER" default:"sqlite3"`
	DBDSN    string `envconfig:"DB_DSN" default:"booking.db"`
	// Auth
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`
	// Payments
	OmisePublicKey  string        `envconfig:"OMISE_PUBLIC_KEY"`
	OmiseSecretKey  string        `envconfig:"OMISE_SECRET_KEY"`
	OmiseSourceType string        `envconfig:"OMISE_SOURCE_TYPE" default:"internet_banking_bbl"`
	GatewayTimeout  time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"15s"`
	Currency        string        `envconfig:"PAYMENT_CURRENCY" default:"THB"`
	SuccessURL      string        `envconfig:"CHECKOUT_SUCCESS_URL" default:"http://localhost:3000/payment/success"`
	CancelURL       string        `envconfig:"CHECKOUT_CANCEL_URL" default:"http://localhost:3000/payment/cancel"`
	// Reconciliation
	ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"1m"`
	ReconcileLocation string        `envconfig:"RECONCILE_LOCATION" default:"UTC"`
	// Events
	AMQPURL      string `envconfig:"AMQP_URL"`
	AMQPExchange string `envconfig:"AMQP_EXCHANGE" default:"booking.events"`
	// Observability
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"LOG_FORMAT" default:"json"`
	OTELEnabled  bool   `envconfig:"OTEL_ENABLED" default:"false"`
	OTELEndpoint string `envconfig:"OTEL_ENDPOINT" default:"localhost:4317"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"tour-booking"`

	location *time.Location
}

// Load reads .env (if any) and then the process environment.
func Load() (App, error) {
	_ = godotenv.Load()

	var c App
	if err := envconfig.Process("", &c); err != nil {
		return c, err
	}
	if err := c.validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c *App) validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}
	switch c.DBDriver {
	case "sqlite3", "pgx":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite3 or pgx, got %q", c.DBDriver)
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must be positive, got %s", c.ReconcileInterval)
	}
	if c.GatewayTimeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be positive, got %s", c.GatewayTimeout)
	}
	loc, err := time.LoadLocation(c.ReconcileLocation)
	if err != nil {
		return fmt.Errorf("RECONCILE_LOCATION: %w", err)
	}
	c.location = loc
	c.Currency = strings.ToUpper(c.Currency)
	// Thai internet banking sources settle in baht only.
	if strings.HasPrefix(c.OmiseSourceType, "internet_banking") && c.Currency != "THB" {
		return fmt.Errorf("PAYMENT_CURRENCY %s is not accepted by OMISE_SOURCE_TYPE %s", c.Currency, c.OmiseSourceType)
	}
	return nil
}

// Location is the zone whose calendar day bounds a reconciliation run.
func (c App) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// Origins splits CORS_ORIGINS on commas.
func (c App) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// PaymentsConfigured reports whether both Omise keys are set.
func (c App) PaymentsConfigured() bool {
	return c.OmisePublicKey != "" && c.OmiseSecretKey != ""
}
