package history

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/vmlens/internal/privacy"
	"github.com/coral-mesh/vmlens/internal/safe"
	"github.com/coral-mesh/vmlens/internal/snapshot"
)

// SnapshotSource produces snapshots. *collector.Facade satisfies it.
type SnapshotSource interface {
	CollectSnapshot(ctx context.Context) (*snapshot.Snapshot, error)
}

// WatchConfig holds configuration for periodic collection.
type WatchConfig struct {
	Interval        time.Duration // Collection interval (default: 30s)
	Retention       time.Duration // Summary retention (default: 7 days)
	CleanupInterval time.Duration // Default: 1 hour
	Level           privacy.Level // Default: maximum
}

// Watcher collects a snapshot every interval and stores its redacted summary.
type Watcher struct {
	source   SnapshotSource
	redactor *privacy.Redactor
	store    *Store
	config   WatchConfig
	logger   zerolog.Logger

	// OnRecord, when set, is called after each stored record.
	OnRecord func(Record)
}

// NewWatcher creates a watcher.
func NewWatcher(source SnapshotSource, redactor *privacy.Redactor, store *Store, config WatchConfig, logger zerolog.Logger) *Watcher {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.Retention <= 0 {
		config.Retention = 7 * 24 * time.Hour
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Hour
	}
	if config.Level == "" {
		config.Level = privacy.LevelMaximum
	}
	return &Watcher{
		source:   source,
		redactor: redactor,
		store:    store,
		config:   config,
		logger:   logger.With().Str("component", "history_watcher").Logger(),
	}
}

// Run collects immediately and then on every tick until ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info().
		Dur("interval", w.config.Interval).
		Str("privacy_level", string(w.config.Level)).
		Msg("Starting snapshot watcher")

	go w.store.RunCleanupLoop(ctx, w.config.Retention, w.config.CleanupInterval)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		if err := safe.Run(w.logger, "collect_and_store", func() error {
			return w.CollectAndStore(ctx)
		}); err != nil && ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("Failed to collect snapshot")
		}

		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Stopping snapshot watcher")
			return nil
		case <-ticker.C:
		}
	}
}

// CollectAndStore runs one collection cycle.
func (w *Watcher) CollectAndStore(ctx context.Context) error {
	snap, err := w.source.CollectSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to collect snapshot: %w", err)
	}

	record := NewRecord(snap.ID, snap.IsolateID, w.redactor.Summary(snap, w.config.Level))
	if err := w.store.Save(ctx, record); err != nil {
		return err
	}

	w.logger.Debug().
		Str("snapshot_id", record.SnapshotID.String()).
		Int("samples", record.SampleCount).
		Float64("heap_used_mb", record.HeapUsedMB).
		Int("jank_frames", record.JankFrames).
		Msg("Stored snapshot summary")

	if w.OnRecord != nil {
		w.OnRecord(record)
	}
	return nil
}
