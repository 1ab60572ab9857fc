// Copyright 2025 Tom Barlow
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
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rig-run/rig/internal/config"
	"github.com/rig-run/rig/internal/gateway"
	"github.com/rig-run/rig/internal/log"
	"github.com/rig-run/rig/pkg/audit"
	"github.com/rig-run/rig/pkg/builtin/echo"
	"github.com/rig-run/rig/pkg/policy"
	"github.com/rig-run/rig/pkg/registry"
	"github.com/rig-run/rig/pkg/runtime"
	"github.com/rig-run/rig/pkg/secrets"
)

// Version information (injected via ldflags at build time).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("riggatewayd %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	reg := registry.New()
	if err := reg.Register(echo.Definition()); err != nil {
		logger.Error("failed to register built-in tools", slog.Any("error", err))
		os.Exit(1)
	}
	reg.SetPackSetVersion(cfg.PackSetVersion)

	auditSink, err := audit.OpenSQLiteSink(cfg.AuditDBPath)
	if err != nil {
		logger.Error("failed to open audit sink", slog.Any("error", err))
		os.Exit(1)
	}
	defer auditSink.Close()

	pol := policy.Default()
	pol.TimeoutSeconds = cfg.DefaultPolicyTimeoutSeconds
	pol.Retries = cfg.DefaultPolicyRetries

	rt := runtime.New(reg, pol, secrets.NewEnvResolver(), auditSink, runtime.WithApprovalTTL(cfg.ApprovalTTL))
	snap := reg.Snapshot()
	rt.SetSnapshotMeta(snap.InterfaceHash, snap.PackSetVersion)

	if err := echo.Register(rt); err != nil {
		logger.Error("failed to wire built-in tools", slog.Any("error", err))
		os.Exit(1)
	}

	server := gateway.NewServer(gateway.Config{
		Registry:  reg,
		Runtime:   rt,
		Logger:    logger,
		JWTSecret: cfg.JWTSecret,
	})

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("riggatewayd listening", slog.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", slog.String("signal", sig.String()))
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil {
			logger.Error("daemon error", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
