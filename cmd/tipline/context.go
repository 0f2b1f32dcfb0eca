package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"tipline/internal/config"
	"tipline/internal/logging"
	"tipline/internal/runtime"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	runtime *runtime.Runtime
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// ensureRuntime opens the runtime once per invocation. CLI logs go to stderr
// so command output on stdout stays machine readable.
func (c *commandContext) ensureRuntime() (*runtime.Runtime, error) {
	if c.runtime != nil {
		return c.runtime, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{
		Level:   cfg.Logging.Level,
		Format:  "console",
		Outputs: []string{"stderr"},
	})
	if err != nil {
		return nil, err
	}
	rt, err := runtime.Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	c.runtime = rt
	return rt, nil
}

func (c *commandContext) close() error {
	if c.runtime == nil {
		return nil
	}
	err := c.runtime.Close()
	c.runtime = nil
	return err
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

