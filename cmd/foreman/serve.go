// Copyright 2026 Workforce Labs
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
	"runtime/debug"
	"syscall"

	"github.com/workforcelabs/foreman/pkg/config"
	"github.com/workforcelabs/foreman/pkg/runtime"
)

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := runtime.Version
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("foreman version %s\n", version)
	return nil
}

// ServeCmd starts the MCP/A2A server.
type ServeCmd struct {
	Port int `help:"Port to listen on (overrides config)." default:"0"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	app, err := runtime.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to assemble runtime: %w", err)
	}

	slog.Info("foreman ready",
		"addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"agents", len(app.Pool.Agents()),
		"models", app.Registry.Count())
	fmt.Printf("foreman listening on %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  MCP:     POST /initialize\n")
	fmt.Printf("  A2A:     POST /handshake\n")
	fmt.Printf("  Metrics: GET  /metrics\n")
	fmt.Println("Press Ctrl+C to stop")

	return app.Run(ctx)
}

// ValidateCmd validates a configuration file.
type ValidateCmd struct {
	Path string `arg:"" name:"path" help:"Configuration file path." placeholder:"PATH"`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	if _, err := config.Load(c.Path); err != nil {
		fmt.Fprintf(os.Stderr, "%s: invalid: %v\n", c.Path, err)
		return fmt.Errorf("config validation failed")
	}
	fmt.Printf("%s: valid\n", c.Path)
	return nil
}
