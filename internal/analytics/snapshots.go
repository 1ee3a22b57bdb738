package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quarrysearch/quarry/pkg/postgres"
	"github.com/quarrysearch/quarry/pkg/resilience"
)

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS analytics_snapshots (
	id          BIGSERIAL PRIMARY KEY,
	data        JSONB NOT NULL,
	captured_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// SnapshotStore periodically persists aggregated usage statistics to
// PostgreSQL so they survive restarts.
type SnapshotStore struct {
	db     *postgres.Client
	logger *slog.Logger
}

// NewSnapshotStore creates the store and ensures its table exists.
func NewSnapshotStore(ctx context.Context, db *postgres.Client) (*SnapshotStore, error) {
	if _, err := db.DB.ExecContext(ctx, snapshotSchema); err != nil {
		return nil, fmt.Errorf("creating analytics_snapshots table: %w", err)
	}
	return &SnapshotStore{
		db:     db,
		logger: slog.Default().With("component", "analytics-snapshots"),
	}, nil
}

// Save persists one stats snapshot.
func (s *SnapshotStore) Save(ctx context.Context, stats AggregatedStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling stats snapshot: %w", err)
	}
	_, err = s.db.DB.ExecContext(ctx,
		`INSERT INTO analytics_snapshots (data, captured_at) VALUES ($1, $2)`,
		data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting stats snapshot: %w", err)
	}
	return nil
}

// StartSnapshotLoop saves the aggregator's stats every interval until ctx
// is cancelled.
func (s *SnapshotStore) StartSnapshotLoop(ctx context.Context, agg *Aggregator, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// A hung database write must not wedge the loop.
				err := resilience.WithTimeout(ctx, 10*time.Second, "analytics.snapshot",
					func(ctx context.Context) error {
						return s.Save(ctx, agg.Stats())
					})
				if err != nil {
					s.logger.Error("stats snapshot failed", "error", err)
				}
			}
		}
	}()
}
