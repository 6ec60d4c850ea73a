// Package server provides HTTP server configuration and lifecycle management.
package server

import (
	"fmt"
	"time"
)

// Config holds the server configuration.
type Config struct {
	Port int
	Host string

	// TLS configuration (optional)
	TLSCert string
	TLSKey  string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:            8787,
		Host:            "127.0.0.1",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Address returns the listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TLS reports whether both halves of a TLS key pair are configured.
func (c *Config) TLS() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}
