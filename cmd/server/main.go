// Copyright 2026 The VaultGate Authors
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
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vaultgate/vaultgate/internal/config"
	"github.com/vaultgate/vaultgate/internal/eventbus"
	"github.com/vaultgate/vaultgate/internal/oauth2"
	"github.com/vaultgate/vaultgate/internal/observability/logger"
	"github.com/vaultgate/vaultgate/internal/observability/metrics"
	"github.com/vaultgate/vaultgate/internal/observability/tracing"
	"github.com/vaultgate/vaultgate/internal/storage"
	transportHTTP "github.com/vaultgate/vaultgate/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting vaultgate authorization server")

	ctx := context.Background()

	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	}
	defer tracer.Shutdown(ctx)

	if _, err := metrics.New(ctx, metrics.Config{Enabled: cfg.Observability.OTELEnabled}, cfg.Observability.ServiceName); err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
	}

	db, err := storage.Dial(ctx, cfg.Storage.URL)
	if err != nil {
		slog.Error("failed to connect to storage", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Init(ctx); err != nil {
		slog.Error("failed to initialize storage schema", logger.Error(err))
		os.Exit(1)
	}
	slog.Info("connected to storage backend")

	bus, busCloser, err := eventbus.NewFromConfig(cfg.Events)
	if err != nil {
		slog.Error("failed to initialize event fabric", logger.Error(err))
		os.Exit(1)
	}
	if busCloser != nil {
		defer busCloser.Close()
	}

	hasher := oauth2.NewSecretHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)
	clients := oauth2.NewClientRegistry(db, hasher, bus)
	codes := oauth2.NewCodeStore(db, bus)
	tokens := oauth2.NewTokenStore(db, []byte(cfg.JWT.Secret), bus)
	engine := oauth2.NewEngine(clients, codes, tokens, oauth2.NewStubConsent())
	engine.RequireClientSecretOnAuthCode = cfg.Security.RequireClientSecretOnAuthCode

	dedup := eventbus.NewDedupCache(cfg.Events.DedupCapacity, cfg.Events.DedupTTL)
	auditLogger := logger.NewAuditLogger(slog.Default())

	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	handler := transportHTTP.NewHandler(engine, bus, dedup, auditLogger)
	router := transportHTTP.NewRouter(handler, rateLimiter)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"))
		slog.Info(fmt.Sprintf("listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
}
