// Copyright (c) 2026 John Earle
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

// Newsletter Hub — Ingest Service
//
// Entry point for the inbound email ingest service. It:
//  1. Loads configuration from config.yaml and environment variables
//  2. Connects to PostgreSQL and Redis
//  3. Wires the ingest pipeline (recipient, source, admission, persistence)
//  4. Serves the relay webhook endpoint plus health and metrics routes
//  5. Handles graceful shutdown on SIGTERM/SIGINT
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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/zapidan/newsletter-hub-sub008/internal/admission"
	"github.com/zapidan/newsletter-hub-sub008/internal/config"
	"github.com/zapidan/newsletter-hub-sub008/internal/dedup"
	"github.com/zapidan/newsletter-hub-sub008/internal/metrics"
	"github.com/zapidan/newsletter-hub-sub008/internal/pipeline"
	"github.com/zapidan/newsletter-hub-sub008/internal/queue"
	"github.com/zapidan/newsletter-hub-sub008/internal/signature"
	"github.com/zapidan/newsletter-hub-sub008/internal/store"
	"github.com/zapidan/newsletter-hub-sub008/internal/webhook"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting newsletter ingest service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"port", cfg.Port,
		"webhook_auth", cfg.RequireWebhookAuth,
		"request_timeout", cfg.RequestTimeout,
		"max_sources_per_user", cfg.MaxSourcesPerUser,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	publisher := queue.NewPublisher(rdb, cfg.IngestQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Stores and capabilities ---
	st, err := store.New(ctx, pgPool, cfg.MaxSourcesPerUser)
	if err != nil {
		slog.Error("failed to initialise store", "error", err)
		os.Exit(1)
	}

	checker := admission.NewChecker(pgPool)
	filter := dedup.NewFilter(rdb, cfg.DedupTTL)

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// --- Pipeline and HTTP surface ---
	pipe := pipeline.New(st, st, st, st, checker, filter, publisher, collector, cfg.FallbackUserID)
	verifier := signature.NewVerifier(cfg.SigningSecret, cfg.RequireWebhookAuth)
	handler := webhook.NewHandler(pipe, verifier, collector, cfg.RequestTimeout)

	health := func(ctx context.Context) error {
		if err := st.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		if err := publisher.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		return nil
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: webhook.Router(handler, health, reg),
	}

	go func() {
		slog.Info("webhook server listening", "port", cfg.Port)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("webhook server error", "error", err)
			cancel()
		}
	}()

	// --- Graceful shutdown ---
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		slog.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server shutdown incomplete", "error", err)
	}

	slog.Info("ingest service stopped")
}
