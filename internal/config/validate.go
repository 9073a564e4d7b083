package config

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/coral-mesh/vmlens/internal/advisor"
	"github.com/coral-mesh/vmlens/internal/privacy"
)

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.VMService.URI != "" {
		if _, err := url.Parse(c.VMService.URI); err != nil {
			errs = append(errs, fmt.Errorf("vm_service.uri: %w", err))
		}
	}
	if c.VMService.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("vm_service.call_timeout must be positive"))
	}
	if c.Source.CacheEntries < 0 {
		errs = append(errs, fmt.Errorf("source.cache_entries must not be negative"))
	}
	if c.CPU.Window <= 0 {
		errs = append(errs, fmt.Errorf("cpu.window must be positive"))
	}
	if c.CPU.TopN < 0 {
		errs = append(errs, fmt.Errorf("cpu.top_n must not be negative"))
	}
	if c.Timeline.Window <= 0 {
		errs = append(errs, fmt.Errorf("timeline.window must be positive"))
	}
	if c.Memory.TopUserClasses < 0 || c.Memory.TopFrameworkClasses < 0 {
		errs = append(errs, fmt.Errorf("memory class limits must not be negative"))
	}
	if _, err := privacy.ParseLevel(c.Privacy.Level); err != nil {
		errs = append(errs, fmt.Errorf("privacy.level: %w", err))
	}
	if _, err := advisor.ParseKind(c.Advisor.Provider); err != nil {
		errs = append(errs, fmt.Errorf("advisor.provider: %w", err))
	}
	if c.History.Interval <= 0 {
		errs = append(errs, fmt.Errorf("history.interval must be positive"))
	}
	if c.History.Retention > 0 && c.History.Retention < c.History.Interval {
		errs = append(errs, fmt.Errorf("history.retention (%s) is shorter than history.interval (%s)", c.History.Retention, c.History.Interval))
	}
	if c.EnhanceParallelism < 0 {
		errs = append(errs, fmt.Errorf("enhance_parallelism must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
