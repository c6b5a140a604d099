// Package config provides configuration management for the dbqueue standalone server.
// It loads settings from environment variables (and an optional .env file) with
// sensible defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/coregx/dbqueue"
)

// Config holds all configuration for the dbqueue server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Queue    QueueConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string
	Port int
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver string // mysql, postgres, pgx, sqlite3
	DSN    string
}

// QueueConfig holds the transport connection string and option overrides.
// Empty overrides are left to the connection string and its defaults.
type QueueConfig struct {
	TransportDSN     string
	TableName        string
	QueueName        string
	RedeliverTimeout string
	AutoSetup        string
}

// Load loads configuration from environment variables.
// Follows 12-factor app principles - configuration via environment.
// A .env file in the working directory is loaded first when present; variables
// already set in the environment win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(getEnv("DB_DRIVER", "mysql")),
			DSN:    getEnv("DB_DSN", ""),
		},
		Queue: QueueConfig{
			TransportDSN:     getEnv("MESSENGER_TRANSPORT_DSN", "doctrine://default"),
			TableName:        os.Getenv("QUEUE_TABLE_NAME"),
			QueueName:        os.Getenv("QUEUE_NAME"),
			RedeliverTimeout: os.Getenv("QUEUE_REDELIVER_TIMEOUT"),
			AutoSetup:        os.Getenv("QUEUE_AUTO_SETUP"),
		},
	}

	// Validate required fields
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("DB_DSN environment variable is required")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("invalid SERVER_PORT: %d", cfg.Server.Port)
	}

	return cfg, nil
}

// Transport resolves the queue configuration. QUEUE_* overrides take
// precedence over the query string of MESSENGER_TRANSPORT_DSN.
func (c *Config) Transport() (dbqueue.Configuration, error) {
	options := map[string]interface{}{}
	if c.Queue.TableName != "" {
		options[dbqueue.OptionTableName] = c.Queue.TableName
	}
	if c.Queue.QueueName != "" {
		options[dbqueue.OptionQueueName] = c.Queue.QueueName
	}
	if c.Queue.RedeliverTimeout != "" {
		options[dbqueue.OptionRedeliverTimeout] = c.Queue.RedeliverTimeout
	}
	if c.Queue.AutoSetup != "" {
		options[dbqueue.OptionAutoSetup] = c.Queue.AutoSetup
	}

	return dbqueue.ParseDSN(c.Queue.TransportDSN, options)
}

// getEnv retrieves environment variable or returns default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves environment variable as integer or returns default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
