// Package config loads store connection settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the connection parameters for the status store.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	UseSSL   bool
	Timeout  time.Duration
}

// Default returns the built-in connection defaults. SSL is fixed off.
func Default() Config {
	return Config{
		Host:     "localhost",
		Port:     80,
		Username: "dynauto",
		Password: "changeme",
		UseSSL:   false,
		Timeout:  30 * time.Second,
	}
}

// FromEnv builds a Config from DYNAUTO_* environment variables, falling
// back to the defaults for anything unset.
func FromEnv() Config {
	cfg := Default()

	if v := os.Getenv("DYNAUTO_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("DYNAUTO_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("DYNAUTO_USER"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("DYNAUTO_PASS"); v != "" {
		cfg.Password = v
	}

	return cfg
}

// Addr returns the HTTP address of the store.
func (c Config) Addr() string {
	scheme := "http"
	if c.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}
