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

// Command lighthouse runs the multi-agent coordination node.
//
// Usage:
//
//	lighthouse serve --config lighthouse.yaml
//	lighthouse validate --config lighthouse.yaml
//	lighthouse schema > config.schema.json
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/lighthouse-agents/lighthouse/pkg/config"
	"github.com/lighthouse-agents/lighthouse/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the coordination server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Generate JSON Schema for the configuration."`

	Config    string `short:"c" help:"Path to config file." type:"path" default:"lighthouse.yaml"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:""`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, or json)." default:""`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("lighthouse version %s\n", version)
	return nil
}

// ValidateCmd loads the config and reports whether it is usable.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	fmt.Printf("✓ %s is valid (storage: %s, listen: %s)\n",
		cli.Config, cfg.StorageBackend, cfg.ListenAddr())
	return nil
}

// initLogging installs the process logger. CLI flags override the config
// file.
func initLogging(cli *CLI, cfg *config.Config) error {
	levelStr := cfg.LogLevel
	if cli.LogLevel != "" {
		levelStr = cli.LogLevel
	}
	format := cfg.LogFormat
	if cli.LogFormat != "" {
		format = cli.LogFormat
	}

	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		return err
	}

	output := os.Stderr
	if cli.LogFile != "" {
		f, err := os.OpenFile(cli.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		output = f
	}

	logger.Init(level, output, format)
	return nil
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("lighthouse"),
		kong.Description("Event-sourced coordination platform for multi-agent fleets."),
		kong.UsageOnError(),
	)

	if err := ctx.Run(cli); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
