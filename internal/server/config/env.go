package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/dmitrijs2005/userdir/internal/flagx"
)

// parseEnv overlays USERDIR_* (and JWT_SECRET) environment variables. Values
// from a dotenv file (-env-file, or ./.env when present) are loaded first and
// never override variables already set in the process environment.
func parseEnv(config *Config) {
	if path := flagx.EnvFile(); path != "" {
		if err := godotenv.Load(path); err != nil {
			panic(fmt.Errorf("load env file %s: %w", path, err))
		}
	} else {
		_ = godotenv.Load()
	}

	if err := env.Parse(config); err != nil {
		panic(fmt.Errorf("parse env: %w", err))
	}
}
