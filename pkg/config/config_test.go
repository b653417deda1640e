package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/exception"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SYMBOLS", "")
	t.Setenv("SERVICE_TIMEOUT_MS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "GOOGL", "MSFT"}, cfg.Symbols)
	assert.Equal(t, 250*time.Millisecond, cfg.ServiceTimeout)
	assert.Equal(t, "8080", cfg.Port)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SYMBOLS", " BTC , ,ETH ")
	t.Setenv("SERVICE_TIMEOUT_MS", "1000")
	t.Setenv("SERVICE_RATE_LIMIT", "12.5")
	t.Setenv("LOG_JSON", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC", "ETH"}, cfg.Symbols)
	assert.Equal(t, time.Second, cfg.ServiceTimeout)
	assert.Equal(t, 12.5, cfg.ServiceRateLimit)
	assert.True(t, cfg.LogJSON)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Symbols:          []string{"AAPL"},
			ServiceTimeout:   time.Second,
			FeedInterval:     time.Second,
			PaperDepthLevels: 1,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "no symbols", mutate: func(c *Config) { c.Symbols = nil }, want: exception.ErrEmptySymbolSet},
		{name: "zero timeout", mutate: func(c *Config) { c.ServiceTimeout = 0 }, want: exception.ErrInvalidConfig},
		{name: "negative rate", mutate: func(c *Config) { c.ServiceRateLimit = -1 }, want: exception.ErrInvalidConfig},
		{name: "no depth", mutate: func(c *Config) { c.PaperDepthLevels = 0 }, want: exception.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}
