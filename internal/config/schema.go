// Package config loads vmlens settings from a YAML file and environment
// variables.
package config

import "time"

// Config is the full vmlens configuration.
type Config struct {
	VMService      VMServiceConfig      `yaml:"vm_service"`
	DTD            DTDConfig            `yaml:"dtd"`
	Source         SourceConfig         `yaml:"source"`
	CPU            CPUConfig            `yaml:"cpu"`
	Memory         MemoryConfig         `yaml:"memory"`
	Timeline       TimelineConfig       `yaml:"timeline"`
	Classification ClassificationConfig `yaml:"classification"`
	Privacy        PrivacyConfig        `yaml:"privacy"`
	History        HistoryConfig        `yaml:"history"`
	Advisor        AdvisorConfig        `yaml:"advisor"`
	Logging        LoggingConfig        `yaml:"logging"`

	// EnhanceParallelism bounds concurrent source lookups.
	EnhanceParallelism int `yaml:"enhance_parallelism" env:"VMLENS_ENHANCE_PARALLELISM"`
}

// VMServiceConfig locates the Dart VM Service.
type VMServiceConfig struct {
	URI            string        `yaml:"uri" env:"VMLENS_VM_SERVICE_URI"`
	CallTimeout    time.Duration `yaml:"call_timeout" env:"VMLENS_VM_SERVICE_CALL_TIMEOUT"`
	DialRetries    int           `yaml:"dial_retries" env:"VMLENS_VM_SERVICE_DIAL_RETRIES"`
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"VMLENS_VM_SERVICE_INITIAL_BACKOFF"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// DTDConfig locates the Dart Tooling Daemon. An empty URI disables it.
type DTDConfig struct {
	URI string `yaml:"uri" env:"VMLENS_DTD_URI"`
}

// SourceConfig tunes source resolution.
type SourceConfig struct {
	CallTimeout    time.Duration `yaml:"call_timeout" env:"VMLENS_SOURCE_CALL_TIMEOUT"`
	CacheEntries   int           `yaml:"cache_entries" env:"VMLENS_SOURCE_CACHE_ENTRIES"`
	SnippetRadius  int           `yaml:"snippet_radius"`
	MaxListDepth   int           `yaml:"max_list_depth"`
	MaxListEntries int           `yaml:"max_list_entries"`
}

type CPUConfig struct {
	Window             time.Duration `yaml:"window" env:"VMLENS_CPU_WINDOW"`
	SamplePeriodMicros int           `yaml:"sample_period_us"`
	TopN               int           `yaml:"top_n"`
}

type MemoryConfig struct {
	TopUserClasses      int  `yaml:"top_user_classes"`
	TopFrameworkClasses int  `yaml:"top_framework_classes"`
	ForceGC             bool `yaml:"force_gc" env:"VMLENS_MEMORY_FORCE_GC"`
	InstanceSample      int  `yaml:"instance_sample"`
	MaxRetentionDepth   int  `yaml:"max_retention_depth"`
	ResolvedSteps       int  `yaml:"resolved_steps"`
}

type TimelineConfig struct {
	Window              time.Duration `yaml:"window" env:"VMLENS_TIMELINE_WINDOW"`
	SlowThresholdMicros int64         `yaml:"slow_threshold_us"`
	MaxSlowEvents       int           `yaml:"max_slow_events"`
	MaxArgs             int           `yaml:"max_args"`
	MaxArgLength        int           `yaml:"max_arg_length"`
}

// ClassificationConfig extends the built-in framework package list.
type ClassificationConfig struct {
	FrameworkPackages []string `yaml:"framework_packages,omitempty" env:"VMLENS_FRAMEWORK_PACKAGES"`
	UserPackages      []string `yaml:"user_packages,omitempty" env:"VMLENS_USER_PACKAGES"`
}

type PrivacyConfig struct {
	// Level is maximum, partial or minimal.
	Level string `yaml:"level" env:"VMLENS_PRIVACY_LEVEL"`
}

type HistoryConfig struct {
	// Path of the DuckDB file (default: ~/.vmlens/history.duckdb). ":memory:"
	// keeps history in memory.
	Path            string        `yaml:"path" env:"VMLENS_HISTORY_PATH"`
	Interval        time.Duration `yaml:"interval" env:"VMLENS_HISTORY_INTERVAL"`
	Retention       time.Duration `yaml:"retention" env:"VMLENS_HISTORY_RETENTION"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

type AdvisorConfig struct {
	Provider string `yaml:"provider" env:"VMLENS_ADVISOR_PROVIDER"`
	Model    string `yaml:"model" env:"VMLENS_ADVISOR_MODEL"`
	// APIKey is a literal key or env://VAR.
	APIKey    string `yaml:"api_key" env:"VMLENS_ADVISOR_API_KEY"`
	BaseURL   string `yaml:"base_url" env:"VMLENS_ADVISOR_BASE_URL"`
	MaxTokens int64  `yaml:"max_tokens"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"VMLENS_LOG_LEVEL"`
	Pretty bool   `yaml:"pretty" env:"VMLENS_LOG_PRETTY"`
}
