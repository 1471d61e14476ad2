// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opentrusty/provisioner/internal/audit"
	"github.com/opentrusty/provisioner/internal/auth"
	"github.com/opentrusty/provisioner/internal/config"
	"github.com/opentrusty/provisioner/internal/eventstream"
	"github.com/opentrusty/provisioner/internal/identity"
	"github.com/opentrusty/provisioner/internal/identity/keycloak"
	"github.com/opentrusty/provisioner/internal/observability/logger"
	"github.com/opentrusty/provisioner/internal/observability/metrics"
	"github.com/opentrusty/provisioner/internal/observability/tracing"
	"github.com/opentrusty/provisioner/internal/outbox"
	"github.com/opentrusty/provisioner/internal/store/cache"
	"github.com/opentrusty/provisioner/internal/store/postgres"
	"github.com/opentrusty/provisioner/internal/tenant"
	transportHTTP "github.com/opentrusty/provisioner/internal/transport/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(ctx, cfg, os.Args[2:]); err != nil {
			slog.Error("migration failed", logger.Error(err))
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, cfg); err != nil {
		slog.Error("server exited with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting tenant provisioning service")

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
		tracer = tracing.Noop()
	}
	defer tracer.Shutdown(context.WithoutCancel(ctx))

	// Initialize meter
	meter, err := metrics.New(ctx, metrics.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceVersion: cfg.Observability.ServiceVersion,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
		meter = metrics.Noop()
	}
	defer meter.Shutdown(context.WithoutCancel(ctx))
	outboxMetrics, err := metrics.NewOutboxMetrics(meter)
	if err != nil {
		return err
	}

	// Initialize database
	db, err := postgres.New(ctx, postgres.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	slog.Info("connected to database")

	auditLogger := audit.NewSlogLogger()

	// Subscribers are registered once, before any dispatch can run.
	registry := outbox.NewRegistry()

	gateway := keycloak.NewClient(keycloak.Config{
		BaseURL:      cfg.Keycloak.BaseURL,
		Realm:        cfg.Keycloak.Realm,
		ClientID:     cfg.Keycloak.ClientID,
		ClientSecret: cfg.Keycloak.ClientSecret,
	}, nil)
	listener := identity.NewListener(gateway, auditLogger, identity.ListenerConfig{
		DefaultGroup: cfg.Keycloak.DefaultGroup,
		CallTimeout:  cfg.Keycloak.CallTimeout,
	})
	registry.Subscribe(tenant.EventTypeTenantCreated, listener.Subscriber())

	if cfg.NATS.URL != "" {
		stream, err := eventstream.Connect(ctx, eventstream.Config{
			URL:     cfg.NATS.URL,
			Stream:  cfg.NATS.Stream,
			Subject: cfg.NATS.Subject,
		})
		if err != nil {
			return err
		}
		defer stream.Close()
		registry.Subscribe(tenant.EventTypeTenantCreated, stream)
	}

	events := outbox.New(
		postgres.NewPublicationRepository(db),
		db,
		registry,
		outbox.Config{
			BatchSize:       cfg.Outbox.BatchSize,
			MaxAttempts:     cfg.Outbox.MaxAttempts,
			BackoffBase:     cfg.Outbox.BackoffBase,
			BackoffMax:      cfg.Outbox.BackoffMax,
			Lease:           cfg.Outbox.LeaseDuration,
			DispatchTimeout: cfg.Outbox.DispatchTimeout,
		},
		outboxMetrics,
		auditLogger,
	)

	var tenantRepo tenant.Repository = postgres.NewTenantRepository(db)
	if cfg.Cache.Enabled {
		cached, err := cache.NewTenantRepository(tenantRepo, cfg.Cache.MaxCost, cfg.Cache.TTL)
		if err != nil {
			return err
		}
		defer cached.Close()
		tenantRepo = cached
	}

	tenantService := tenant.NewService(tenantRepo, events, events, auditLogger)

	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		Issuer:       cfg.Auth.Issuer,
		Audience:     cfg.Auth.Audience,
		PublicKeyPEM: cfg.Auth.PublicKeyPEM,
		HMACSecret:   cfg.Auth.HMACSecret,
		TenantClaim:  cfg.Auth.TenantClaim,
		RoleClients:  cfg.Auth.RoleClients,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize token verifier: %w", err)
	}

	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	defer rateLimiter.Stop()

	handler := transportHTTP.NewHandler(tenantService, verifier, auditLogger, transportHTTP.Options{
		AdminRole: cfg.Auth.AdminRole,
		Health:    db,
	})
	router := transportHTTP.NewRouter(handler, rateLimiter)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"), slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return outbox.NewSweeper(events, cfg.Outbox.SweepInterval).Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", logger.Error(err))
		}
		// In-flight post-commit dispatches finish before the pool closes.
		events.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped")
	return nil
}

func runMigrate(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) > 0 && args[0] == "status" {
		return postgres.MigrationStatus(ctx, cfg.Database.DSN())
	}
	if err := postgres.Migrate(ctx, cfg.Database.DSN()); err != nil {
		return err
	}
	slog.Info("migration successful")
	return nil
}
