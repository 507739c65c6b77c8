// ABOUTME: Shared CLI setup: configuration, logging and server resolution
// ABOUTME: Flags override environment, which overrides the config file
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Resonate-Protocol/chunkplay/internal/config"
	"github.com/Resonate-Protocol/chunkplay/internal/discovery"
	"github.com/Resonate-Protocol/chunkplay/internal/logging"
	"github.com/Resonate-Protocol/chunkplay/internal/version"
	"github.com/Resonate-Protocol/chunkplay/pkg/transport"
)

// loadConfig reads .env, the config file and the environment, then applies global flags
func loadConfig(cmd *cobra.Command, flags *globalFlags) (*config.Config, error) {
	if err := config.LoadDotEnv(flags.envFile); err != nil {
		return nil, err
	}

	cfg, _, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}

	pf := cmd.Flags()
	if pf.Changed("server") {
		cfg.Server.URL = flags.server
	}
	if pf.Changed("log-level") {
		cfg.Log.Level = flags.logLevel
	}
	if pf.Changed("log-file") {
		cfg.Log.File = flags.logFile
	}
	return cfg, cfg.Validate()
}

// existingConfigPath returns the config file in use, or "" when there is none to watch
func existingConfigPath(flags *globalFlags) string {
	path := flags.configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return ""
		}
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// newLogger builds the process logger; console is nil when the TUI owns the terminal
func newLogger(cfg *config.Config, console io.Writer) (*zap.Logger, func() error, error) {
	return logging.New(logging.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
		Console:    console,
	})
}

// resolveServer returns the configured server URL or discovers one over mDNS
func resolveServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (string, error) {
	if cfg.Server.URL != "" {
		return cfg.Server.URL, nil
	}

	logger.Info("discovering chunk server", zap.Duration("timeout", cfg.DiscoveryTimeout()))
	mgr := discovery.NewManager(discovery.Config{
		Timeout: cfg.DiscoveryTimeout(),
		Logger:  logger,
	})
	server, err := mgr.Find(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to discover server (use --server): %w", err)
	}
	return server.URL(), nil
}

// newSource creates the HTTP transport for a server
func newSource(serverURL string) (*transport.HTTP, error) {
	src, err := transport.NewHTTP(serverURL, &http.Client{})
	if err != nil {
		return nil, err
	}
	src.SetUserAgent(version.UserAgent())
	return src, nil
}
