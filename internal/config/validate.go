package config

import (
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/vibeorch/engine/internal/orcherr"
)

// validate enforces the sanity bounds from spec.md §4.1, aggregating every
// violation instead of failing on the first one so a misconfigured
// deployment gets a complete report in one error.
func validate(s Snapshot) error {
	var merr *multierror.Error

	if s.Timeouts.TaskExecution < 10*time.Second || s.Timeouts.TaskExecution > time.Hour {
		merr = multierror.Append(merr, orcherr.ConfigError("timeouts.taskExecution", "10s..1h", s.Timeouts.TaskExecution))
	}
	if s.Retry.MaxRetries < 0 || s.Retry.MaxRetries > 10 {
		merr = multierror.Append(merr, orcherr.ConfigError("retry.maxRetries", "0..10", s.Retry.MaxRetries))
	}
	if s.Retry.Multiplier < 1.0 || s.Retry.Multiplier > 5.0 {
		merr = multierror.Append(merr, orcherr.ConfigError("retry.multiplier", "1.0..5.0", s.Retry.Multiplier))
	}
	if s.Retry.InitialDelay < 100*time.Millisecond || s.Retry.InitialDelay > 10*time.Second {
		merr = multierror.Append(merr, orcherr.ConfigError("retry.initialDelay", "100ms..10s", s.Retry.InitialDelay))
	}
	if s.Retry.MaxDelay <= 0 || s.Retry.MaxDelay > 5*time.Minute {
		merr = multierror.Append(merr, orcherr.ConfigError("retry.maxDelay", "<=5m", s.Retry.MaxDelay))
	}
	if s.Limits.MinConfidence < 0 || s.Limits.MinConfidence > 1 {
		merr = multierror.Append(merr, orcherr.ConfigError("limits.minConfidence", "0..1", s.Limits.MinConfidence))
	}
	if s.Limits.MaxDecompositionDepth < 1 {
		merr = multierror.Append(merr, orcherr.ConfigError("limits.maxDecompositionDepth", ">=1", s.Limits.MaxDecompositionDepth))
	}
	if s.Limits.MaxTasksPerSession < 1 {
		merr = multierror.Append(merr, orcherr.ConfigError("limits.maxTasksPerSession", ">=1", s.Limits.MaxTasksPerSession))
	}
	if s.Limits.JobRetention < 24*time.Hour {
		merr = multierror.Append(merr, orcherr.ConfigError("limits.jobRetention", ">=24h", s.Limits.JobRetention))
	}

	if merr != nil {
		return merr.ErrorOrNil()
	}
	return nil
}
