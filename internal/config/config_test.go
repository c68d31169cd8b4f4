package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
}

func TestValidateMissingVenue(t *testing.T) {
	cfg := Default()
	cfg.App.CurrentVenue = "bitget"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "current_venue")
}

func TestValidateMissingCredentials(t *testing.T) {
	cfg := Default()
	v := cfg.Venues["binance"]
	v.APIKey = ""
	cfg.Venues["binance"] = v

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestValidateBadLogLevel(t *testing.T) {
	cfg := Default()
	cfg.System.LogLevel = "VERBOSE"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}

func TestStringMasksCredentials(t *testing.T) {
	cfg := Default()
	rendered := cfg.String()
	assert.NotContains(t, rendered, "test_api_secret")
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("GRIDBOT_TEST_KEY", "expanded-value")
	out := expandEnvVars("key: ${GRIDBOT_TEST_KEY}")
	assert.Equal(t, "key: expanded-value", out)
}
