package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	dir := t.TempDir()
	path := writeTempJSON(t, dir, "flag.json", map[string]any{
		"endpoint_addr_http":             "www.example:9000",
		"database_dsn":                   "postgres://x",
		"secret_key":                     "my_secret_key",
		"access_token_validity_ms":       60000,
		"upstream_url":                   "http://upstream/users",
		"upstream_timeout":               "2s",
		"retry_max_attempts":             5,
		"retry_backoff":                  "100ms",
		"retry_backoff_kind":             "exponential",
		"breaker_failure_rate_threshold": 75,
		"breaker_window_size":            20,
		"breaker_cooldown":               "1m",
		"snapshot_bucket":                "snapshots",
	})

	t.Run("loads from json", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", path}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg)

		assert.Equal(t, "www.example:9000", cfg.EndpointAddrHTTP)
		assert.Equal(t, "postgres://x", cfg.DatabaseDSN)
		assert.Equal(t, "my_secret_key", cfg.SecretKey)
		assert.Equal(t, time.Minute, cfg.AccessTokenValidityDuration)
		assert.Equal(t, "http://upstream/users", cfg.UpstreamURL)
		assert.Equal(t, 2*time.Second, cfg.UpstreamTimeout)
		assert.Equal(t, 5, cfg.RetryMaxAttempts)
		assert.Equal(t, 100*time.Millisecond, cfg.RetryBackoff)
		assert.Equal(t, "exponential", cfg.RetryBackoffKind)
		assert.Equal(t, float64(75), cfg.BreakerFailureRateThreshold)
		assert.Equal(t, 20, cfg.BreakerWindowSize)
		assert.Equal(t, time.Minute, cfg.BreakerCooldown)
		assert.Equal(t, "snapshots", cfg.SnapshotBucket)

		// keys missing from the file keep their defaults
		assert.Equal(t, ":50051", cfg.EndpointAddrGRPC)
		assert.Equal(t, 5, cfg.BreakerMinimumCalls)
	})

	t.Run("no config flag → no changes", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{EndpointAddrHTTP: "defaults:1234", SecretKey: "key"}
		parseJson(cfg)

		assert.Equal(t, "defaults:1234", cfg.EndpointAddrHTTP)
		assert.Equal(t, "key", cfg.SecretKey)
	})

	t.Run("invalid JSON → panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		os.Args = []string{"testbin", "-config", bad}
		require.Panics(t, func() { parseJson(&Config{}) })
	})

	t.Run("missing file → panics", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", filepath.Join(dir, "nope.json")}
		require.Panics(t, func() { parseJson(&Config{}) })
	})
}
