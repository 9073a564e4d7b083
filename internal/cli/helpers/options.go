package helpers

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/coral-mesh/vmlens/internal/config"
	"github.com/coral-mesh/vmlens/internal/logging"
	"github.com/coral-mesh/vmlens/internal/privacy"
)

// GlobalOptions holds the persistent flags shared by every command.
type GlobalOptions struct {
	ConfigPath   string
	VMServiceURI string
	DTDURI       string
	Privacy      string
	LogLevel     string
	JSON         bool
}

// AddFlags registers the persistent flags on flags.
func (o *GlobalOptions) AddFlags(flags *pflag.FlagSet) {
	flags.StringVar(&o.ConfigPath, "config", "", "Config file (default: ~/.vmlens/config.yaml)")
	flags.StringVar(&o.VMServiceURI, "vm-service-uri", "", "Dart VM Service URI (http://, ws:// or the raw DevTools link)")
	flags.StringVar(&o.DTDURI, "dtd-uri", "", "Dart Tooling Daemon URI for reading sources outside the VM")
	flags.StringVar(&o.Privacy, "privacy", "", "Privacy level: maximum, partial or minimal")
	flags.StringVar(&o.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.BoolVar(&o.JSON, "json", false, "Print JSON instead of text")
}

// LoadConfig loads the configuration file and applies flag overrides on
// top of it.
func (o *GlobalOptions) LoadConfig() (*config.Config, error) {
	cfg, err := config.NewLoader().Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := o.Apply(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Apply overrides cfg with the flags that were set.
func (o *GlobalOptions) Apply(cfg *config.Config) error {
	if o.VMServiceURI != "" {
		cfg.VMService.URI = o.VMServiceURI
	}
	if o.DTDURI != "" {
		cfg.DTD.URI = o.DTDURI
	}
	if o.Privacy != "" {
		level, err := privacy.ParseLevel(o.Privacy)
		if err != nil {
			return fmt.Errorf("invalid --privacy: %w", err)
		}
		cfg.Privacy.Level = string(level)
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	return nil
}

// Format returns the output format selected by --json.
func (o *GlobalOptions) Format() OutputFormat {
	if o.JSON {
		return FormatJSON
	}
	return FormatText
}

// LoggingConfig returns the logger configuration for cfg. JSON output
// disables the console writer so stderr stays machine readable too.
func (o *GlobalOptions) LoggingConfig(cfg *config.Config) logging.Config {
	lc := cfg.LoggingConfig()
	if o.JSON {
		lc.Pretty = false
	}
	return lc
}
