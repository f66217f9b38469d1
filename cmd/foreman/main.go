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

// Command foreman runs the workforce orchestrator.
//
// Usage:
//
//	foreman serve --config config.yaml
//	foreman validate --config config.yaml
//	foreman schema > config.schema.json
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/workforcelabs/foreman/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the MCP/A2A server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Generate the config JSON schema."`

	Config   string `short:"c" help:"Path to config file." type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile  string `help:"Log file path (empty = stderr)."`
	LogFmt   string `name:"log-format" help:"Log format (simple, verbose)." default:"simple"`
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("foreman"),
		kong.Description("AI workforce orchestrator: model routing, multi-agent workflows, quantum execution."),
		kong.UsageOnError(),
	)

	output := os.Stderr
	var closeLog func()
	if cli.LogFile != "" {
		f, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			os.Exit(1)
		}
		output = f
		closeLog = cleanup
	}
	logger.Init(logger.ParseLevel(cli.LogLevel), output, cli.LogFmt)
	if closeLog != nil {
		defer closeLog()
	}

	if err := ctx.Run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
