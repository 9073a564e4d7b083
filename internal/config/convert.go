package config

import (
	"github.com/coral-mesh/vmlens/internal/advisor"
	"github.com/coral-mesh/vmlens/internal/collector"
	"github.com/coral-mesh/vmlens/internal/history"
	"github.com/coral-mesh/vmlens/internal/logging"
	"github.com/coral-mesh/vmlens/internal/privacy"
	"github.com/coral-mesh/vmlens/internal/retry"
	"github.com/coral-mesh/vmlens/internal/snapshot"
	"github.com/coral-mesh/vmlens/internal/source"
	"github.com/coral-mesh/vmlens/internal/vmservice"
)

// The methods below hand each component its slice of the configuration.

func (c *Config) VMServiceOptions() vmservice.Options {
	return vmservice.Options{
		CallTimeout: c.VMService.CallTimeout,
		Dial:        c.DialRetry(),
	}
}

// DialRetry is the backoff used for VM Service and DTD connections.
func (c *Config) DialRetry() retry.Config {
	return retry.Config{
		MaxRetries:     c.VMService.DialRetries,
		InitialBackoff: c.VMService.InitialBackoff,
		MaxBackoff:     c.VMService.MaxBackoff,
		Jitter:         0.2,
	}
}

func (c *Config) SourceOptions() source.Options {
	return source.Options{
		CallTimeout:    c.Source.CallTimeout,
		CacheEntries:   c.Source.CacheEntries,
		SnippetRadius:  c.Source.SnippetRadius,
		MaxListDepth:   c.Source.MaxListDepth,
		MaxListEntries: c.Source.MaxListEntries,
	}
}

func (c *Config) CollectorConfig() collector.Config {
	return collector.Config{
		CPU: collector.CPUConfig{
			Window:             c.CPU.Window,
			SamplePeriodMicros: c.CPU.SamplePeriodMicros,
			TopN:               c.CPU.TopN,
		},
		Memory: collector.MemoryConfig{
			TopUserClasses:      c.Memory.TopUserClasses,
			TopFrameworkClasses: c.Memory.TopFrameworkClasses,
			ForceGC:             c.Memory.ForceGC,
			Retention: collector.RetentionConfig{
				InstanceSample: c.Memory.InstanceSample,
				MaxDepth:       c.Memory.MaxRetentionDepth,
				ResolvedSteps:  c.Memory.ResolvedSteps,
			},
		},
		Timeline: collector.TimelineConfig{
			Window:              c.Timeline.Window,
			SlowThresholdMicros: c.Timeline.SlowThresholdMicros,
			MaxSlowEvents:       c.Timeline.MaxSlowEvents,
			MaxArgs:             c.Timeline.MaxArgs,
			MaxArgLength:        c.Timeline.MaxArgLength,
		},
		EnhanceParallelism: c.EnhanceParallelism,
	}
}

func (c *Config) Classifier() *snapshot.Classifier {
	return snapshot.NewClassifier(c.Classification.FrameworkPackages, c.Classification.UserPackages)
}

// PrivacyLevel returns the validated privacy level.
func (c *Config) PrivacyLevel() privacy.Level {
	level, err := privacy.ParseLevel(c.Privacy.Level)
	if err != nil {
		return privacy.LevelMaximum
	}
	return level
}

func (c *Config) WatchConfig() history.WatchConfig {
	return history.WatchConfig{
		Interval:        c.History.Interval,
		Retention:       c.History.Retention,
		CleanupInterval: c.History.CleanupInterval,
		Level:           c.PrivacyLevel(),
	}
}

func (c *Config) AdvisorConfig() advisor.Config {
	return advisor.Config{
		Kind:      advisor.Kind(c.Advisor.Provider),
		Model:     c.Advisor.Model,
		APIKey:    c.Advisor.APIKey,
		BaseURL:   c.Advisor.BaseURL,
		MaxTokens: c.Advisor.MaxTokens,
	}
}

func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Logging.Level
	cfg.Pretty = c.Logging.Pretty
	return cfg
}
