package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"aer/internal/assets"
	"aer/internal/config"
	"aer/internal/download"
	"aer/internal/history"
	"aer/internal/logging"
	"aer/internal/worker"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configSeen bool
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.logLevelFlag != nil {
			if level := strings.TrimSpace(*c.logLevelFlag); level != "" {
				cfg.Logging.Level = strings.ToLower(level)
				if err := cfg.Validate(); err != nil {
					c.configErr = err
					return
				}
			}
		}
		c.config = cfg
		c.configPath = resolved
		c.configSeen = exists
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			c.loggerErr = fmt.Errorf("init logger: %w", err)
			return
		}
		c.logger = logger
	})
	return c.logger, c.loggerErr
}

func (c *commandContext) assetStore() (*assets.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	var catalog *assets.Catalog
	if path := strings.TrimSpace(cfg.Catalog.Path); path != "" {
		catalog, err = assets.LoadCatalog(path)
	} else {
		catalog, err = assets.BuiltinCatalog()
	}
	if err != nil {
		return nil, err
	}
	dir, err := assets.ResolveInstallDirectory(cfg.Paths.AssetDir)
	if err != nil {
		return nil, err
	}
	return assets.NewStore(dir, catalog), nil
}

func (c *commandContext) fetcher() (*download.Fetcher, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}
	return download.NewFetcher(
		download.WithUserAgent(cfg.Downloads.UserAgent),
		download.WithMaxRedirects(cfg.Downloads.MaxRedirects),
		download.WithHeaderTimeout(cfg.HeaderTimeout()),
		download.WithFetcherLogger(logger),
	), nil
}

func (c *commandContext) openHistory() (*history.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return history.Open(cfg.HistoryPath())
}

// withSupervisor runs fn against a fresh worker supervisor and stops the
// worker afterwards.
func (c *commandContext) withSupervisor(cmd *cobra.Command, fn func(*worker.Supervisor) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return err
	}
	sup := worker.NewFromConfig(cfg, logger)
	defer func() {
		if err := sup.Stop(context.WithoutCancel(cmd.Context())); err != nil {
			logger.Warn("worker stop failed", logging.Error(err))
		}
	}()
	return fn(sup)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
