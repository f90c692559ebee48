// Package config reads server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds everything the server needs at startup.
type Config struct {
	Port           int
	DocstorePath   string // SQLite file backing the document store
	IdentityDBPath string // SQLite file backing login accounts
	AppBaseURL     string // used to build invitation links

	SessionSecret string // signs session JWTs; required
	InviteSecret  string // signs invitation tokens; required

	GoogleClientID     string
	GoogleClientSecret string
	GoogleCallbackURL  string

	AWSRegion    string
	SESFromEmail string // empty disables invitation email
	SESFromName  string
}

// Load reads configuration from the environment, after loading a local .env
// file if one exists (missing .env is not an error — production sets real
// environment variables).
func Load() (*Config, error) {
	_ = godotenv.Load()

	port := 8080
	if portStr := os.Getenv("PORT"); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("config: invalid PORT %q", portStr)
		}
		port = p
	}

	cfg := &Config{
		Port:           port,
		DocstorePath:   getEnv("DOCSTORE_PATH", "data/memora.db"),
		IdentityDBPath: getEnv("IDENTITY_DB_PATH", "data/identity.db"),
		AppBaseURL:     getEnv("APP_BASE_URL", fmt.Sprintf("http://localhost:%d", port)),

		SessionSecret: os.Getenv("SESSION_SECRET"),
		InviteSecret:  os.Getenv("INVITE_SECRET"),

		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleCallbackURL:  os.Getenv("GOOGLE_CALLBACK_URL"),

		AWSRegion:    getEnv("AWS_REGION", "eu-west-1"),
		SESFromEmail: os.Getenv("SES_FROM_EMAIL"),
		SESFromName:  getEnv("SES_FROM_NAME", "Memora"),
	}

	if cfg.SessionSecret == "" {
		return nil, fmt.Errorf("config: SESSION_SECRET is required")
	}
	if cfg.InviteSecret == "" {
		return nil, fmt.Errorf("config: INVITE_SECRET is required")
	}
	if cfg.GoogleCallbackURL == "" {
		cfg.GoogleCallbackURL = cfg.AppBaseURL + "/auth/google/callback"
	}
	return cfg, nil
}

// getEnv reads an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
