/*
Copyright 2025 Kunpeto.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads the process configuration from environment variables
// and enforces the production startup invariants. The process must never
// serve traffic with a default signing or encryption key in production.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kunpeto/driver-management-system-sub001/internal/domain"
	"github.com/kunpeto/driver-management-system-sub001/pkg/vault"
)

// DefaultAPISecret is the development signing key; production rejects it.
const DefaultAPISecret = "dev-api-secret-change-me"

// Environment gates strict startup checks.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Config is the fully resolved process configuration.
type Config struct {
	Environment Environment `validate:"required,oneof=development production"`
	ListenAddr  string      `validate:"required"`
	APIBaseURL  string

	DatabaseURL string `validate:"required"`

	EncryptionKey string `validate:"required"`
	APISecretKey  string `validate:"required,min=16"`

	CORSAllowedOrigins []string

	// Per-department Google wiring.
	ServiceAccountJSON map[domain.Department]string // base64-encoded
	SpreadsheetID      map[domain.Department]string

	OAuthClientID     string
	OAuthClientSecret string
	OAuthRedirectURI  string

	// DailySyncSpec is the cron expression for the daily schedule sync.
	DailySyncSpec string

	// UpstreamTimeout bounds outbound identity-provider and Sheets calls.
	UpstreamTimeout time.Duration
	// SyncWorkers is the size of the background worker pool.
	SyncWorkers int
}

// Load reads the environment and validates it. Production posture failures
// return an error; main exits non-zero on them.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:        Environment(envOr("API_ENVIRONMENT", string(EnvDevelopment))),
		ListenAddr:         envOr("LISTEN_ADDR", ":8080"),
		APIBaseURL:         os.Getenv("API_BASE_URL"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		EncryptionKey:      os.Getenv("ENCRYPTION_KEY"),
		APISecretKey:       envOr("API_SECRET_KEY", DefaultAPISecret),
		OAuthClientID:      os.Getenv("GOOGLE_OAUTH_CLIENT_ID"),
		OAuthClientSecret:  os.Getenv("GOOGLE_OAUTH_CLIENT_SECRET"),
		OAuthRedirectURI:   os.Getenv("GOOGLE_OAUTH_REDIRECT_URI"),
		DailySyncSpec:      envOr("DAILY_SYNC_CRON", "0 6 * * *"),
		UpstreamTimeout:    30 * time.Second,
		SyncWorkers:        4,
		ServiceAccountJSON: map[domain.Department]string{},
		SpreadsheetID:      map[domain.Department]string{},
	}
	if cfg.EncryptionKey == "" {
		cfg.EncryptionKey = vault.DefaultDevKey
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
			}
		}
	}
	if v := os.Getenv("SYNC_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("config: SYNC_WORKERS %q is not a positive integer", v)
		}
		cfg.SyncWorkers = n
	}
	if cfg.DatabaseURL == "" {
		// TiDB-style split variables as the fallback form.
		cfg.DatabaseURL = assembleDatabaseURL()
	}
	for _, dept := range domain.Departments() {
		if v := os.Getenv("GOOGLE_SERVICE_ACCOUNT_" + dept.EnvSuffix()); v != "" {
			cfg.ServiceAccountJSON[dept] = v
		}
		if v := os.Getenv("GOOGLE_SHEETS_ID_" + dept.EnvSuffix()); v != "" {
			cfg.SpreadsheetID[dept] = v
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.Environment == EnvProduction {
		if err := cfg.checkProduction(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// checkProduction enforces the strict posture: no bundled defaults, all
// departments wired.
func (c *Config) checkProduction() error {
	if c.APISecretKey == DefaultAPISecret {
		return fmt.Errorf("config: API_SECRET_KEY is the bundled default; refusing to start")
	}
	if c.EncryptionKey == vault.DefaultDevKey {
		return fmt.Errorf("config: ENCRYPTION_KEY is the bundled default; refusing to start")
	}
	for _, dept := range domain.Departments() {
		if c.ServiceAccountJSON[dept] == "" {
			return fmt.Errorf("config: GOOGLE_SERVICE_ACCOUNT_%s is not set", dept.EnvSuffix())
		}
		if c.SpreadsheetID[dept] == "" {
			return fmt.Errorf("config: GOOGLE_SHEETS_ID_%s is not set", dept.EnvSuffix())
		}
	}
	return nil
}

func assembleDatabaseURL() string {
	host := envOr("TIDB_HOST", "127.0.0.1")
	port := envOr("TIDB_PORT", "4000")
	user := os.Getenv("TIDB_USER")
	pass := os.Getenv("TIDB_PASSWORD")
	name := envOr("TIDB_DATABASE", "driver_mgmt")
	if user == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
