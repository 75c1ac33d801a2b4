package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/config"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/errors"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/llm"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/llmcache"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/logging"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/metrics"
)

// CommandContext holds common resources used by CLI commands.
// It centralizes the configuration, logging, metrics and provider factory.
type CommandContext struct {
	// Config is the merged configuration
	Config *config.Config

	// Logger is the configured logger for the command
	Logger *logging.Logger

	// Metrics is nil unless metrics.enabled is set
	Metrics *metrics.Metrics

	// Factory builds providers with the configured decorators
	Factory *llm.Factory
}

// InitLogger creates a configured logger for CLI commands.
// File output follows cfg; console output shows warnings, or everything from
// debug up when debug is set.
//
// The caller is responsible for calling logger.Sync() when done.
func InitLogger(cfg config.LoggingConfig, debug bool) (*logging.Logger, error) {
	logCfg := &logging.Config{
		LogDir:         cfg.LogDir,
		FileLevel:      logging.LevelFromString(cfg.FileLevel),
		ConsoleLevel:   logging.LevelFromString(cfg.ConsoleLevel),
		EnableCaller:   debug,
		ConsoleEnabled: true,
		FileEnabled:    cfg.LogDir != "",
	}
	if debug {
		logCfg.ConsoleLevel = logging.LevelFromString("debug")
	}

	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return nil, errors.WrapError(err, "failed to initialize logger", errors.ExitIOError)
	}
	return logger, nil
}

// newCommandContext loads the configuration and wires logging, metrics, the
// response cache and the provider factory. When metrics are enabled the
// endpoint is served until ctx ends.
func newCommandContext(ctx context.Context) (*CommandContext, error) {
	cfg, err := config.LoadConfig(configPath, cliOverrides())
	if err != nil {
		return nil, err
	}

	logger, err := InitLogger(cfg.Logging, cfg.Debug)
	if err != nil {
		return nil, err
	}

	opts := []llm.FactoryOption{llm.WithLogger(logger)}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		opts = append(opts, llm.WithMetrics(m))
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.ListenAddr, logger); err != nil {
				logger.Warn("Metrics endpoint stopped", logging.Error(err))
			}
		}()
	}

	if cfg.Cache.Enabled {
		opts = append(opts, llm.WithCache(llmcache.NewLRUCache(cfg.Cache.GetMaxSize()), cfg.Cache.GetTTL()))
	}

	return &CommandContext{
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
		Factory: llm.NewFactory(opts...),
	}, nil
}

// HandleCommandError writes err to w: the actionable message for errors that
// carry one, the plain error otherwise. It returns err unchanged so callers
// can chain it.
func HandleCommandError(w io.Writer, err error) error {
	if err == nil {
		return nil
	}

	var um errors.UserMessager
	if stderrors.As(err, &um) {
		fmt.Fprintln(w, color.RedString(um.GetUserMessage()))
		return err
	}

	fmt.Fprintln(w, color.RedString("Error: %v", err))
	return err
}
