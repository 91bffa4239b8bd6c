package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	envWorkerBinary = "AER_WORKER_BINARY"
	envLogLevel     = "AER_LOG_LEVEL"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeWorker(); err != nil {
		return err
	}
	c.normalizeDownloads()
	if err := c.normalizeCatalog(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	c.Paths.AssetDir = strings.TrimSpace(c.Paths.AssetDir)
	if c.Paths.AssetDir, err = expandPath(c.Paths.AssetDir); err != nil {
		return fmt.Errorf("paths.asset_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeWorker() error {
	if value, ok := os.LookupEnv(envWorkerBinary); ok && strings.TrimSpace(value) != "" {
		c.Worker.Binary = value
	}
	c.Worker.Binary = strings.TrimSpace(c.Worker.Binary)
	if c.Worker.Binary == "" {
		c.Worker.Binary = defaultWorkerBinary
	}
	// Bare names are resolved against PATH at spawn time.
	if strings.ContainsAny(c.Worker.Binary, `/\`) || strings.HasPrefix(c.Worker.Binary, "~") {
		expanded, err := expandPath(c.Worker.Binary)
		if err != nil {
			return fmt.Errorf("worker.binary: %w", err)
		}
		c.Worker.Binary = expanded
	}
	env := c.Worker.Env[:0]
	for _, entry := range c.Worker.Env {
		if trimmed := strings.TrimSpace(entry); trimmed != "" {
			env = append(env, trimmed)
		}
	}
	c.Worker.Env = env
	if c.Worker.CallTimeoutSeconds < 0 {
		c.Worker.CallTimeoutSeconds = 0
	}
	if c.Worker.StopTimeoutSeconds <= 0 {
		c.Worker.StopTimeoutSeconds = defaultStopTimeoutSeconds
	}
	return nil
}

func (c *Config) normalizeDownloads() {
	c.Downloads.UserAgent = strings.TrimSpace(c.Downloads.UserAgent)
	if c.Downloads.UserAgent == "" {
		c.Downloads.UserAgent = defaultUserAgent
	}
	if c.Downloads.Parallel <= 0 {
		c.Downloads.Parallel = defaultParallelDownloads
	}
	if c.Downloads.HeaderTimeoutSeconds < 0 {
		c.Downloads.HeaderTimeoutSeconds = 0
	}
}

func (c *Config) normalizeCatalog() error {
	var err error
	c.Catalog.Path = strings.TrimSpace(c.Catalog.Path)
	if c.Catalog.Path, err = expandPath(c.Catalog.Path); err != nil {
		return fmt.Errorf("catalog.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	if value, ok := os.LookupEnv(envLogLevel); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = value
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
