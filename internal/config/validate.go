package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateIntake(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateQuality(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateIntake() error {
	if c.Intake.MaxFileBytes <= 0 {
		return errors.New("intake.max_file_bytes must be positive")
	}
	if len(c.Intake.FileTypes) == 0 {
		return errors.New("intake.file_types must list at least one extension")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	switch c.Pipeline.Overflow {
	case "queue", "reject":
	default:
		return fmt.Errorf("pipeline.overflow must be %q or %q, got %q", "queue", "reject", c.Pipeline.Overflow)
	}
	if c.Pipeline.RequestTimeout <= 0 {
		return errors.New("pipeline.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateQuality() error {
	if c.Quality.MinInterpretationConfidence < 0 || c.Quality.MinInterpretationConfidence > 1 {
		return errors.New("quality.min_interpretation_confidence must be between 0 and 1")
	}
	if c.Quality.MinReportScore < 0 || c.Quality.MinReportScore > 10 {
		return errors.New("quality.min_report_score must be between 0 and 10")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be %q or %q, got %q", "console", "json", c.Logging.Format)
	}
	return nil
}
