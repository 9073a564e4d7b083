package config

import (
	"path/filepath"
	"time"

	"github.com/coral-mesh/vmlens/internal/privacy"
)

// Default file locations.
const (
	DefaultDir  = ".vmlens"
	ConfigFile  = "config.yaml"
	HistoryFile = "history.duckdb"
)

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		VMService: VMServiceConfig{
			CallTimeout:    5 * time.Second,
			DialRetries:    5,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
		},
		Source: SourceConfig{
			CallTimeout:    3 * time.Second,
			CacheEntries:   64,
			SnippetRadius:  3,
			MaxListDepth:   2,
			MaxListEntries: 200,
		},
		CPU: CPUConfig{
			Window:             10 * time.Second,
			SamplePeriodMicros: 250,
			TopN:               20,
		},
		Memory: MemoryConfig{
			TopUserClasses:      30,
			TopFrameworkClasses: 20,
			InstanceSample:      10,
			MaxRetentionDepth:   100,
			ResolvedSteps:       3,
		},
		Timeline: TimelineConfig{
			Window:              5 * time.Second,
			SlowThresholdMicros: 2000,
			MaxSlowEvents:       50,
			MaxArgs:             8,
			MaxArgLength:        120,
		},
		Privacy: PrivacyConfig{
			Level: string(privacy.LevelMaximum),
		},
		History: HistoryConfig{
			Interval:        30 * time.Second,
			Retention:       7 * 24 * time.Hour,
			CleanupInterval: time.Hour,
		},
		Advisor: AdvisorConfig{
			Provider:  "openai",
			MaxTokens: 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
		EnhanceParallelism: 4,
	}
}

// DefaultHistoryPath returns the history database path under baseDir.
func DefaultHistoryPath(baseDir string) string {
	return filepath.Join(baseDir, DefaultDir, HistoryFile)
}
