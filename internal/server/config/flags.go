package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/userdir/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-g string   gRPC health bind address ("" disables it)
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key (>= 32 bytes)
//	-t int      access token validity, milliseconds
//	-u string   upstream users endpoint
//	-l string   log level
//
// Only these flags are looked at; everything else in os.Args belongs to
// other config layers.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-g", "-d", "-s", "-t", "-u", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run HTTP server")
	fs.StringVar(&config.EndpointAddrGRPC, "g", config.EndpointAddrGRPC, "address and port to run gRPC health server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "JWT secret key")
	tokenValidity := fs.Int64("t", config.AccessTokenValidityDuration.Milliseconds(), "access token validity (in milliseconds)")
	fs.StringVar(&config.UpstreamURL, "u", config.UpstreamURL, "upstream users endpoint")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = millis(*tokenValidity)
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
