// Copyright 2025 The Lighthouse Authors
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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lighthouse-agents/lighthouse/pkg/bridge"
	"github.com/lighthouse-agents/lighthouse/pkg/config"
	"github.com/lighthouse-agents/lighthouse/pkg/observability"
	"github.com/lighthouse-agents/lighthouse/pkg/transport"
)

// ServeCmd starts the coordination server.
type ServeCmd struct {
	Port  int  `help:"Override the configured listen port."`
	Watch bool `help:"Watch the config file and log reloadable changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Port = c.Port
	}
	if err := initLogging(cli, cfg); err != nil {
		return err
	}

	metrics, err := observability.InitMetrics(ctx, observability.MetricsConfig{Enabled: cfg.MetricsEnabled})
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}

	b, err := bridge.New(cfg, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			slog.Error("Bridge shutdown error", "error", err)
		}
	}()

	// Most options need a restart; the watch logs what changed so an
	// operator can decide when to bounce the node.
	if c.Watch {
		go func() {
			err := config.Watch(ctx, cli.Config, func(next *config.Config) {
				slog.Info("Config file changed; restart to apply",
					"storage_backend", next.StorageBackend,
					"listen", next.ListenAddr())
			})
			if err != nil && ctx.Err() == nil {
				slog.Error("Config watch error", "error", err)
			}
		}()
	}

	srv := transport.NewServer(cfg, b)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	fmt.Printf("lighthouse ready\n")
	fmt.Printf("   API:     http://%s/v1\n", cfg.ListenAddr())
	fmt.Printf("   Health:  http://%s/healthz\n", cfg.ListenAddr())
	fmt.Printf("   Metrics: http://%s/metrics\n", cfg.ListenAddr())
	fmt.Printf("   Storage: %s (%s)\n", cfg.StorageBackend, cfg.DataDir)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
