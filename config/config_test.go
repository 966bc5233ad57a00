package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, c.HTTPPort)
	assert.Equal(t, "sqlite3", c.DBDriver)
	assert.Equal(t, 15*time.Second, c.GatewayTimeout)
	assert.Equal(t, time.Minute, c.ReconcileInterval)
	assert.Equal(t, time.UTC, c.Location())
	assert.Equal(t, "THB", c.Currency)
	assert.Equal(t, []string{"*"}, c.Origins())
	assert.False(t, c.PaymentsConfigured())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DB_DRIVER", "pgx")
	t.Setenv("PAYMENT_CURRENCY", "thb")
	t.Setenv("RECONCILE_LOCATION", "Asia/Bangkok")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("OMISE_PUBLIC_KEY", "pkey_test")
	t.Setenv("OMISE_SECRET_KEY", "skey_test")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "pgx", c.DBDriver)
	assert.Equal(t, "THB", c.Currency)
	assert.Equal(t, "Asia/Bangkok", c.Location().String())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.Origins())
	assert.True(t, c.PaymentsConfigured())
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("missing secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "")
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "x")
		t.Setenv("DB_DRIVER", "mysql")
		_, err := Load()
		assert.ErrorContains(t, err, "DB_DRIVER")
	})
	t.Run("currency the source cannot settle", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "x")
		t.Setenv("PAYMENT_CURRENCY", "usd")
		_, err := Load()
		assert.ErrorContains(t, err, "OMISE_SOURCE_TYPE")
	})
	t.Run("bad location", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "x")
		t.Setenv("RECONCILE_LOCATION", "Mars/Olympus")
		_, err := Load()
		assert.ErrorContains(t, err, "RECONCILE_LOCATION")
	})
}
