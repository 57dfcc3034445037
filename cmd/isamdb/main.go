// Package main implements the CLI interface for isamdb.
//
// EDUCATIONAL NOTES:
// ------------------
// This is the entry point for the ISAM shell. It provides:
// 1. Configuration from a YAML file, overridden by command-line flags
// 2. A structured logger for engine events (reorganization, thresholds)
// 3. An optional gops agent for inspecting the running process
// 4. The interactive shell over the store directory

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/google/gops/agent"

	"github.com/cabewaldrop/isamdb/internal/config"
	"github.com/cabewaldrop/isamdb/internal/isam"
	"github.com/cabewaldrop/isamdb/internal/shell"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	dir := flag.String("dir", "", "Store directory (overrides config)")
	pageSize := flag.Int("page-size", 0, "Records per page for a new store (overrides config)")
	auto := flag.Bool("auto", false, "Enable automatic reorganization")
	fresh := flag.Bool("fresh", false, "Delete existing store files on start")
	logLevel := flag.String("log-level", "", "Log level: trace, debug, info, warn, error")
	gops := flag.Bool("gops", false, "Start the gops diagnostics agent")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("isamdb version %s\n", version)
		return
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Flags win over the config file.
	if *dir != "" {
		cfg.Dir = *dir
	}
	if *pageSize != 0 {
		cfg.PageSize = *pageSize
	}
	if *auto {
		cfg.AutoReorganize = true
	}
	if *fresh {
		cfg.Fresh = true
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger(os.Stderr)

	if *gops {
		if err := agent.Listen(agent.Options{ShutdownCleanup: true}); err != nil {
			logger.Warn().Err(err).Msg("gops agent not started")
		}
	}

	engine, err := isam.Open(cfg.Dir, append(cfg.EngineOptions(), isam.WithLogger(logger))...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}

	runErr := shell.New(engine, os.Stdin, os.Stdout, cfg.Seed).Run()
	closeErr := engine.Close()
	if runErr != nil || closeErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", firstError(runErr, closeErr))
		os.Exit(1)
	}
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
