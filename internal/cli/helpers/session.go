package helpers

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/vmlens/internal/collector"
	"github.com/coral-mesh/vmlens/internal/config"
	"github.com/coral-mesh/vmlens/internal/dtd"
	"github.com/coral-mesh/vmlens/internal/history"
	"github.com/coral-mesh/vmlens/internal/logging"
	"github.com/coral-mesh/vmlens/internal/privacy"
	"github.com/coral-mesh/vmlens/internal/source"
	"github.com/coral-mesh/vmlens/internal/vmservice"
)

// Session is a connected collector plus everything a command needs to
// present its output.
type Session struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Facade   *collector.Facade
	Redactor *privacy.Redactor
	Level    privacy.Level

	vm    *vmservice.Conn
	tools *dtd.Client
}

// NewLogger loads the configuration and builds the root logger without
// connecting anywhere.
func NewLogger(opts *GlobalOptions) (*config.Config, zerolog.Logger, error) {
	cfg, err := opts.LoadConfig()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logging.New(opts.LoggingConfig(cfg)), nil
}

// NewSession wraps an already built facade. Close is then a no-op.
func NewSession(cfg *config.Config, facade *collector.Facade, logger zerolog.Logger) *Session {
	return &Session{
		Config:   cfg,
		Logger:   logger,
		Facade:   facade,
		Redactor: privacy.NewRedactor(),
		Level:    cfg.PrivacyLevel(),
	}
}

// OpenSession connects to the VM Service, and to the tooling daemon when
// one is configured, then initializes the collector. overrides run on the
// loaded configuration before anything connects.
func OpenSession(ctx context.Context, opts *GlobalOptions, overrides ...func(*config.Config)) (*Session, error) {
	cfg, logger, err := NewLogger(opts)
	if err != nil {
		return nil, err
	}
	for _, override := range overrides {
		override(cfg)
	}
	if cfg.VMService.URI == "" {
		return nil, fmt.Errorf("no VM Service URI: pass --vm-service-uri or set VMLENS_VM_SERVICE_URI")
	}

	vm, err := vmservice.Connect(ctx, cfg.VMService.URI, cfg.VMServiceOptions(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to VM Service: %w", err)
	}

	s := &Session{
		Config:   cfg,
		Logger:   logger,
		Redactor: privacy.NewRedactor(),
		Level:    cfg.PrivacyLevel(),
		vm:       vm,
	}

	// The resolver takes an interface; a nil *dtd.Client must not reach it.
	var files source.FileAccess
	if cfg.DTD.URI != "" {
		tools, err := dtd.Connect(ctx, cfg.DTD.URI, cfg.DialRetry(), logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Tooling daemon unavailable, reading sources from the VM only")
		} else {
			s.tools = tools
			files = tools
		}
	}

	resolver := source.NewResolver(vm, files, cfg.SourceOptions(), logger)
	s.Facade = collector.NewFacade(vm, resolver, cfg.Classifier(), cfg.CollectorConfig(), logger)
	if err := s.Facade.Initialize(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to initialize collector: %w", err)
	}
	return s, nil
}

// OpenHistory opens the history store named by the configuration. The
// caller closes the returned store.
func (s *Session) OpenHistory() (*history.Store, error) {
	return OpenHistory(s.Config, s.Logger)
}

// OpenHistory opens the history store at cfg.History.Path.
func OpenHistory(cfg *config.Config, logger zerolog.Logger) (*history.Store, error) {
	db, err := history.Open(cfg.History.Path)
	if err != nil {
		return nil, err
	}
	store, err := history.NewStore(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}
	return store, nil
}

// Close closes both connections.
func (s *Session) Close() error {
	if s.tools != nil {
		if err := s.tools.Close(); err != nil {
			s.Logger.Debug().Err(err).Msg("Failed to close tooling daemon connection")
		}
	}
	if s.vm != nil {
		return s.vm.Close()
	}
	return nil
}
