// Package config loads service configuration from the environment.
//
// All storytree services read their settings from STORYTREE_* environment
// variables, with command-line flags layered on top by each entrypoint.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
