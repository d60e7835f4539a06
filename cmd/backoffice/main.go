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

// The backoffice binary runs the driver-management cloud service: the HTTP
// API, the schedule sync workers, and the cron jobs, against one PostgreSQL
// database and the per-department Google integrations.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kunpeto/driver-management-system-sub001/internal/assessment"
	"github.com/kunpeto/driver-management-system-sub001/internal/auth"
	"github.com/kunpeto/driver-management-system-sub001/internal/config"
	"github.com/kunpeto/driver-management-system-sub001/internal/document"
	"github.com/kunpeto/driver-management-system-sub001/internal/httpapi"
	"github.com/kunpeto/driver-management-system-sub001/internal/profile"
	"github.com/kunpeto/driver-management-system-sub001/internal/scheduler"
	"github.com/kunpeto/driver-management-system-sub001/internal/store"
	schedsync "github.com/kunpeto/driver-management-system-sub001/internal/sync"
	"github.com/kunpeto/driver-management-system-sub001/pkg/credentials"
	"github.com/kunpeto/driver-management-system-sub001/pkg/drive"
	"github.com/kunpeto/driver-management-system-sub001/pkg/log"
	"github.com/kunpeto/driver-management-system-sub001/pkg/sheets"
	"github.com/kunpeto/driver-management-system-sub001/pkg/vault"
)

// version is stamped by the build; "dev" otherwise.
var version = "dev"

const shutdownGrace = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "backoffice:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := log.New(log.Options{
		Development: cfg.Environment == config.EnvDevelopment,
		ServiceName: "backoffice",
	})
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("environment", string(cfg.Environment)),
		zap.String("listen", cfg.ListenAddr))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Crypto vault. Production refuses the bundled development key.
	var v *vault.Vault
	if cfg.Environment == config.EnvProduction {
		v, err = vault.NewProduction(cfg.EncryptionKey)
	} else {
		v, err = vault.New(cfg.EncryptionKey)
	}
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	// Google wiring: service accounts read the spreadsheets, the OAuth
	// grant writes to Drive on behalf of each department.
	accounts, err := credentials.LoadServiceAccounts(ctx, cfg.ServiceAccountJSON)
	if err != nil {
		return err
	}
	sheetsClient, err := sheets.New(ctx, accounts, logger)
	if err != nil {
		return err
	}
	oauthMgr := credentials.NewOAuthManager(st, v, credentials.NewGoogleExchanger(credentials.OAuthConfig{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		RedirectURI:  cfg.OAuthRedirectURI,
		Timeout:      cfg.UpstreamTimeout,
	}), logger)

	orchestrator := schedsync.New(st, sheetsClient, cfg.SpreadsheetID,
		schedsync.Options{Workers: cfg.SyncWorkers}, logger)
	defer orchestrator.Shutdown()

	engine := assessment.NewEngine(st, logger)
	bonus := assessment.NewBonusEngine(st, logger)
	rewards := assessment.NewRewardEngine(st, logger)

	renderer, err := document.NewRenderer()
	if err != nil {
		return err
	}
	profiles := profile.NewService(st, engine, renderer, logger)
	uploads := drive.NewDispatcher(profiles, logger)

	authSvc, err := auth.NewService(st, cfg.APISecretKey, logger)
	if err != nil {
		return err
	}

	server := httpapi.NewServer(httpapi.Deps{
		Auth:        authSvc,
		Profiles:    profiles,
		Scoring:     engine,
		Bonus:       bonus,
		Rewards:     rewards,
		Sync:        orchestrator,
		Google:      oauthMgr,
		Uploads:     uploads,
		Dir:         st,
		CORSOrigins: cfg.CORSAllowedOrigins,
		Version:     version,
	}, logger)

	cronJobs := scheduler.New(orchestrator, rewards, engine, logger)
	if err := cronJobs.Register(cfg.DailySyncSpec); err != nil {
		return err
	}
	cronJobs.Start()
	defer cronJobs.Stop()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
