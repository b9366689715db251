package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/userdir/internal/flagx"
	"github.com/dmitrijs2005/userdir/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Interval fields use
// timex.Duration so both "1s" and integer nanoseconds are accepted; the token
// validity is given in milliseconds. Absent keys leave the current value alone.
type JsonConfig struct {
	EndpointAddrHTTP *string `json:"endpoint_addr_http"`
	EndpointAddrGRPC *string `json:"endpoint_addr_grpc"`
	DatabaseDSN      *string `json:"database_dsn"`
	LogLevel         *string `json:"log_level"`

	SecretKey             *string `json:"secret_key"`
	AccessTokenValidityMs *int64  `json:"access_token_validity_ms"`

	CredentialStore *string `json:"credential_store"`
	AdminUsername   *string `json:"admin_username"`
	AdminPassword   *string `json:"admin_password"`
	BcryptCost      *int    `json:"bcrypt_cost"`

	UpstreamURL     *string         `json:"upstream_url"`
	UpstreamTimeout *timex.Duration `json:"upstream_timeout"`

	RetryMaxAttempts *int            `json:"retry_max_attempts"`
	RetryBackoff     *timex.Duration `json:"retry_backoff"`
	RetryBackoffMax  *timex.Duration `json:"retry_backoff_max"`
	RetryBackoffKind *string         `json:"retry_backoff_kind"`

	BreakerFailureRateThreshold *float64        `json:"breaker_failure_rate_threshold"`
	BreakerWindowSize           *int            `json:"breaker_window_size"`
	BreakerMinimumCalls         *int            `json:"breaker_minimum_calls"`
	BreakerCooldown             *timex.Duration `json:"breaker_cooldown"`
	BreakerHalfOpenCalls        *int            `json:"breaker_half_open_calls"`

	SnapshotBucket *string `json:"snapshot_bucket"`
	S3Region       *string `json:"s3_region"`
	S3AccessKey    *string `json:"s3_access_key"`
	S3SecretKey    *string `json:"s3_secret_key"`
	S3BaseEndpoint *string `json:"s3_base_endpoint"`

	OtelEndpoint *string `json:"otel_endpoint"`
}

// parseJson loads the file named by -c/-config into config. Nothing happens
// when no file is given. An unreadable file or invalid JSON panics: the
// server must not start on a half-read configuration.
func parseJson(config *Config) {
	jsonConfigFile := flagx.ConfigFile()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.SecretKey, c.SecretKey)
	if c.AccessTokenValidityMs != nil {
		config.AccessTokenValidityDuration = millis(*c.AccessTokenValidityMs)
	}
	setString(&config.CredentialStore, c.CredentialStore)
	setString(&config.AdminUsername, c.AdminUsername)
	setString(&config.AdminPassword, c.AdminPassword)
	setInt(&config.BcryptCost, c.BcryptCost)
	setString(&config.UpstreamURL, c.UpstreamURL)
	setDuration(&config.UpstreamTimeout, c.UpstreamTimeout)
	setInt(&config.RetryMaxAttempts, c.RetryMaxAttempts)
	setDuration(&config.RetryBackoff, c.RetryBackoff)
	setDuration(&config.RetryBackoffMax, c.RetryBackoffMax)
	setString(&config.RetryBackoffKind, c.RetryBackoffKind)
	if c.BreakerFailureRateThreshold != nil {
		config.BreakerFailureRateThreshold = *c.BreakerFailureRateThreshold
	}
	setInt(&config.BreakerWindowSize, c.BreakerWindowSize)
	setInt(&config.BreakerMinimumCalls, c.BreakerMinimumCalls)
	setDuration(&config.BreakerCooldown, c.BreakerCooldown)
	setInt(&config.BreakerHalfOpenCalls, c.BreakerHalfOpenCalls)
	setString(&config.SnapshotBucket, c.SnapshotBucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3AccessKey, c.S3AccessKey)
	setString(&config.S3SecretKey, c.S3SecretKey)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.OtelEndpoint, c.OtelEndpoint)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
