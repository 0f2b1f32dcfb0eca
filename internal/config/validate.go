package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateNode(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validateSMTP(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateNode() error {
	if strings.TrimSpace(c.Node.ReceiptSalt) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/tipline/config.toml"
		}
		return fmt.Errorf("node.receipt_salt is required. Set TIPLINE_RECEIPT_SALT env var or edit %s (create with 'tipline config init')", defaultPath)
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if err := ensurePositiveMap(map[string]int{
		"scheduler.delivery_interval":     c.Scheduler.DeliveryInterval,
		"scheduler.notification_interval": c.Scheduler.NotificationInterval,
		"scheduler.cleaning_interval":     c.Scheduler.CleaningInterval,
		"scheduler.statistics_interval":   c.Scheduler.StatisticsInterval,
		"scheduler.keycheck_interval":     c.Scheduler.KeyCheckInterval,
		"notifications.request_timeout":   c.Notifications.RequestTimeout,
	}); err != nil {
		return err
	}
	if c.Scheduler.DeliveryDelay < 0 || c.Scheduler.NotificationDelay < 0 {
		return errors.New("scheduler.delivery_delay and scheduler.notification_delay must be >= 0")
	}
	return nil
}

func (c *Config) validateSMTP() error {
	if c.SMTP.Host == "" {
		return nil
	}
	if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
		return errors.New("smtp.port must be between 1 and 65535")
	}
	if !strings.Contains(c.SMTP.From, "@") {
		return fmt.Errorf("smtp.from %q is not an address", c.SMTP.From)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
