package config

import (
	"fmt"
	"time"

	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
	"git.home.luguber.info/inful/exchangeset/internal/jobs"
)

func configError(message string, cause error) *errors.ClassifiedError {
	return errors.ConfigError(message).WithCause(cause).Build()
}

// ValidateConfig validates the complete configuration.
func ValidateConfig(cfg *Config) error {
	validator := &configurationValidator{config: cfg}
	return validator.validate()
}

type configurationValidator struct {
	config *Config
}

func (cv *configurationValidator) validate() error {
	checks := []func() error{
		cv.validateDataStandards,
		cv.validateRetry,
		cv.validateDrivers,
		cv.validateSchedule,
		cv.validateDurations,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (cv *configurationValidator) validateDataStandards() error {
	for _, raw := range append(append([]string(nil), cv.config.DataStandards...), cv.config.Schedule.DataStandards...) {
		if _, err := jobs.ParseDataStandard(raw); err != nil {
			return errors.ConfigError("unknown data standard").
				WithCause(err).
				WithContext("value", raw).
				Build()
		}
	}
	return nil
}

func (cv *configurationValidator) validateRetry() error {
	r := cv.config.Retry
	if r.Jitter > 1 {
		return errors.ConfigError("retry.jitter must be between 0 and 1").
			WithContext("value", r.Jitter).
			Build()
	}
	if r.InitialDelayDuration() > 0 && r.MaxDelayDuration() > 0 && r.InitialDelayDuration() > r.MaxDelayDuration() {
		return errors.ConfigError("retry.initial_delay exceeds retry.max_delay").
			WithContext("initial_delay", r.InitialDelay).
			WithContext("max_delay", r.MaxDelay).
			Build()
	}
	return nil
}

func (cv *configurationValidator) validateDrivers() error {
	if storageNormalizer.Normalize(string(cv.config.Storage.Driver)) == "" {
		return errors.ConfigError("unsupported storage driver").
			WithContext("driver", cv.config.Storage.Driver).
			WithContext("valid", storageNormalizer.Keys()).
			Build()
	}
	if queueNormalizer.Normalize(string(cv.config.Queue.Driver)) == "" {
		return errors.ConfigError("unsupported queue driver").
			WithContext("driver", cv.config.Queue.Driver).
			WithContext("valid", queueNormalizer.Keys()).
			Build()
	}
	return nil
}

func (cv *configurationValidator) validateSchedule() error {
	s := cv.config.Schedule
	if !s.Enabled || s.Cron != "" {
		return nil
	}
	if s.Interval != "" {
		if d, err := time.ParseDuration(s.Interval); err != nil || d <= 0 {
			return errors.ConfigError("schedule.interval must be a positive duration").
				WithContext("value", s.Interval).
				Build()
		}
	}
	return nil
}

func (cv *configurationValidator) validateDurations() error {
	fields := map[string]string{
		"retry.initial_delay":   cv.config.Retry.InitialDelay,
		"retry.max_delay":       cv.config.Retry.MaxDelay,
		"queue.poll_interval":   cv.config.Queue.PollInterval,
		"queue.fetch_wait":      cv.config.Queue.FetchWait,
		"queue.ack_wait":        cv.config.Queue.AckWait,
		"upstream.timeout":      cv.config.Upstream.Timeout,
		"upstream.batch_expiry": cv.config.Upstream.BatchExpiry,
		"consistency.delay":     cv.config.Consistency.Delay,
	}
	for field, raw := range fields {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return errors.ConfigError(fmt.Sprintf("%s is not a valid duration", field)).
				WithCause(err).
				WithContext("value", raw).
				Build()
		}
	}
	return nil
}
