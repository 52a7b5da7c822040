package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/yegors/transcribe-gateway/internal/api"
	"github.com/yegors/transcribe-gateway/internal/app"
	"github.com/yegors/transcribe-gateway/internal/config"
	"github.com/yegors/transcribe-gateway/pkg/logger"
)

// serviceFactory builds the pipeline for one command invocation and returns a cleanup func
type serviceFactory func(ctx context.Context, cfg *config.Config, log *logger.Logger) (api.Service, func() error, error)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string
	newService   serviceFactory
}

func newCommandContext(configFlag, logLevelFlag *string, factory serviceFactory) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
		newService:   factory,
	}
}

func buildService(ctx context.Context, cfg *config.Config, log *logger.Logger) (api.Service, func() error, error) {
	// The CLI has no listeners for live events
	cfg.WebSocket.Enabled = false

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return application.Pipeline, application.Close, nil
}

func (c *commandContext) loadConfig() (*config.Config, error) {
	_ = godotenv.Load()

	var path string
	if c.configFlag != nil {
		path = strings.TrimSpace(*c.configFlag)
	}
	cfg, err := config.LoadWithFallback(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger keeps diagnostics on stderr so stdout stays valid JSON
func (c *commandContext) newLogger() (*logger.Logger, error) {
	level := "warn"
	if c.logLevelFlag != nil && *c.logLevelFlag != "" {
		level = *c.logLevelFlag
	}
	return logger.New(logger.Config{Level: level, Format: "console"})
}

func (c *commandContext) withService(ctx context.Context, fn func(api.Service) error) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	log, err := c.newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	svc, cleanup, err := c.newService(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := cleanup(); err != nil {
			fmt.Fprintf(os.Stderr, "close clients: %v\n", err)
		}
	}()

	return fn(svc)
}
