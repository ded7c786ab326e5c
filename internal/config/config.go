// Package config provides configuration parsing and validation for the dispatch service.
package config

import (
	"fmt"
	"os"
	"strings"
)

// Config holds all configuration parameters for the dispatch service.
type Config struct {
	HTTPPort      string
	NATSURL       string
	PostgresDSN   string
	RedisAddr     string // optional; empty disables metrics reporting
	ContractsPath string
	AmbulanceIDs  string // comma-separated pool
	HospitalIDs   string // comma-separated pool
}

// Validate checks that all required configuration fields are set and have valid values.
// Returns an error if validation fails, nil otherwise.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("http-port cannot be empty")
	}
	if c.NATSURL == "" {
		return fmt.Errorf("nats-url cannot be empty")
	}
	if c.PostgresDSN == "" {
		return fmt.Errorf("postgres-dsn cannot be empty")
	}
	if c.ContractsPath == "" {
		return fmt.Errorf("contracts-path cannot be empty")
	}
	if len(ParsePool(c.AmbulanceIDs)) == 0 {
		return fmt.Errorf("ambulance-ids cannot be empty")
	}
	if len(ParsePool(c.HospitalIDs)) == 0 {
		return fmt.Errorf("hospital-ids cannot be empty")
	}
	return nil
}

// ParsePool parses a comma-separated id list, trimming whitespace and
// dropping empty entries.
func ParsePool(ids string) []string {
	if ids == "" {
		return nil
	}
	parts := strings.Split(ids, ",")
	pool := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			pool = append(pool, p)
		}
	}
	return pool
}

// GetEnvOrDefault returns the environment variable value or a default if not set.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// MaskDSN masks sensitive information in a DSN for logging.
func MaskDSN(dsn string) string {
	if len(dsn) > 50 {
		return dsn[:20] + "***" + dsn[len(dsn)-20:]
	}
	return "***"
}
