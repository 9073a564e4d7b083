package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/vmlens/internal/privacy"
)

const tableName = "snapshot_history"

// Record is one stored snapshot summary.
type Record struct {
	ID          uuid.UUID       `json:"id"`
	SnapshotID  uuid.UUID       `json:"snapshot_id"`
	Timestamp   time.Time       `json:"timestamp"`
	IsolateID   string          `json:"isolate_id"`
	Level       privacy.Level   `json:"privacy_level"`
	SampleCount int             `json:"sample_count"`
	TopFunction string          `json:"top_function,omitempty"`
	HeapUsedMB  float64         `json:"heap_used_mb"`
	TotalFrames int             `json:"total_frames"`
	JankFrames  int             `json:"jank_frames"`
	P95Millis   float64         `json:"p95_frame_ms"`
	Synthetic   bool            `json:"synthetic"`
	Summary     privacy.Summary `json:"summary"`
}

// NewRecord derives the indexed columns from a summary.
func NewRecord(snapshotID uuid.UUID, isolateID string, summary privacy.Summary) Record {
	r := Record{
		ID:         uuid.New(),
		SnapshotID: snapshotID,
		Timestamp:  summary.Timestamp.UTC(),
		IsolateID:  isolateID,
		Level:      summary.Level,
		Summary:    summary,
	}
	if cpu := summary.CPU; cpu != nil {
		r.SampleCount = cpu.SampleCount
		switch {
		case len(cpu.AppFunctions) > 0:
			r.TopFunction = cpu.AppFunctions[0].Name
		case len(cpu.FrameworkFunctions) > 0:
			r.TopFunction = cpu.FrameworkFunctions[0].Name
		}
	}
	if mem := summary.Memory; mem != nil {
		r.HeapUsedMB = mem.HeapUsedMB
	}
	if tl := summary.Timeline; tl != nil {
		r.TotalFrames = tl.TotalFrames
		r.JankFrames = tl.JankFrames
		r.P95Millis = tl.P95FrameMillis
		r.Synthetic = tl.Synthetic
	}
	return r
}

// Filter selects records for Recent.
type Filter struct {
	IsolateID string    // Empty matches every isolate
	Since     time.Time // Zero matches everything
	Until     time.Time // Zero means now
	Limit     int       // Default: 20
}

// Store persists summaries.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	mu     sync.RWMutex
}

// NewStore creates the schema if needed.
func NewStore(db *sql.DB, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "history_store").Logger(),
	}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS ` + tableName + ` (
			id            TEXT      PRIMARY KEY,
			snapshot_id   TEXT      NOT NULL,
			timestamp     TIMESTAMP NOT NULL,
			isolate_id    TEXT      NOT NULL,
			privacy_level TEXT      NOT NULL,
			sample_count  INTEGER   NOT NULL,
			top_function  TEXT      NOT NULL,
			heap_used_mb  DOUBLE    NOT NULL,
			total_frames  INTEGER   NOT NULL,
			jank_frames   INTEGER   NOT NULL,
			p95_frame_ms  DOUBLE    NOT NULL,
			synthetic     BOOLEAN   NOT NULL DEFAULT false,
			summary       TEXT      NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_snapshot_history_timestamp
			ON ` + tableName + ` (timestamp);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	s.logger.Debug().Msg("History schema initialized")
	return nil
}

// Save stores one record.
func (s *Store) Save(ctx context.Context, r Record) error {
	summary, err := json.Marshal(r.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO `+tableName+` (
			id, snapshot_id, timestamp, isolate_id, privacy_level, sample_count, top_function,
			heap_used_mb, total_frames, jank_frames, p95_frame_ms, synthetic, summary
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID.String(),
		r.SnapshotID.String(),
		r.Timestamp.UTC(),
		r.IsolateID,
		string(r.Level),
		r.SampleCount,
		r.TopFunction,
		r.HeapUsedMB,
		r.TotalFrames,
		r.JankFrames,
		r.P95Millis,
		r.Synthetic,
		string(summary),
	)
	if err != nil {
		return fmt.Errorf("failed to store snapshot summary: %w", err)
	}
	return nil
}

// Recent returns matching records, newest first.
func (s *Store) Recent(ctx context.Context, f Filter) ([]Record, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	q := newSelect(tableName,
		"id", "snapshot_id", "timestamp", "isolate_id", "privacy_level", "sample_count", "top_function",
		"heap_used_mb", "total_frames", "jank_frames", "p95_frame_ms", "synthetic", "summary",
	).Eq("isolate_id", f.IsolateID)
	if !f.Since.IsZero() {
		q.Where("timestamp >= ?", f.Since.UTC())
	}
	if !f.Until.IsZero() {
		q.Where("timestamp <= ?", f.Until.UTC())
	}
	query, args, err := q.OrderBy("-timestamp").Limit(f.Limit).Build()
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		var (
			r                 Record
			id, snapshotID    string
			level, summaryRaw string
		)
		if err := rows.Scan(
			&id, &snapshotID, &r.Timestamp, &r.IsolateID, &level, &r.SampleCount, &r.TopFunction,
			&r.HeapUsedMB, &r.TotalFrames, &r.JankFrames, &r.P95Millis, &r.Synthetic, &summaryRaw,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.Level = privacy.Level(level)
		if r.ID, err = uuid.Parse(id); err != nil {
			s.logger.Warn().Err(err).Str("id", id).Msg("Skipping history row with invalid id")
			continue
		}
		r.SnapshotID, _ = uuid.Parse(snapshotID)
		if err := json.Unmarshal([]byte(summaryRaw), &r.Summary); err != nil {
			s.logger.Warn().Err(err).Str("id", id).Msg("Failed to decode stored summary")
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return records, nil
}

// Cleanup removes records older than retention.
func (s *Store) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-retention)
	result, err := s.db.ExecContext(ctx, `DELETE FROM `+tableName+` WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup history: %w", err)
	}

	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		s.logger.Debug().
			Int64("rows_deleted", deleted).
			Time("cutoff", cutoff).
			Msg("Cleaned up old snapshot summaries")
	}
	return deleted, nil
}

// RunCleanupLoop deletes expired records every interval until ctx ends.
func (s *Store) RunCleanupLoop(ctx context.Context, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Cleanup(ctx, retention); err != nil {
				s.logger.Error().Err(err).Msg("Failed to cleanup snapshot history")
			}
		}
	}
}
