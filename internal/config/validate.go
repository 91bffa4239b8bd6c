package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateDownloads(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWorker() error {
	if strings.TrimSpace(c.Worker.Binary) == "" {
		return errors.New("worker.binary must be set")
	}
	for _, entry := range c.Worker.Env {
		if !strings.Contains(entry, "=") || strings.HasPrefix(entry, "=") {
			return fmt.Errorf("worker.env entry %q must have the form KEY=VALUE", entry)
		}
	}
	return nil
}

func (c *Config) validateDownloads() error {
	if c.Downloads.MaxRedirects < 0 {
		return errors.New("downloads.max_redirects must be zero or greater")
	}
	if c.Downloads.Parallel > 16 {
		return fmt.Errorf("downloads.parallel must be at most 16, got %d", c.Downloads.Parallel)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	return nil
}
