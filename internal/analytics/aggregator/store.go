// Package aggregator snapshots resolve analytics to PostgreSQL so totals
// survive restarts and can be charted over time.
package aggregator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/postgres"
)

// ErrNoSnapshots is returned by LatestSnapshot before anything was saved.
var ErrNoSnapshots = errors.New("no analytics snapshots stored")

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// StatsSource is satisfied by *analytics.Aggregator.
type StatsSource interface {
	Stats() analytics.AggregatedStats
}

// Store reads and writes rows of link_analytics_snapshots. Each row keeps
// the headline totals in columns and the full stats as JSONB.
type Store struct {
	db        *sql.DB
	retention time.Duration
	logger    *slog.Logger
}

type StoreOption func(*Store)

// WithRetention deletes snapshots older than d after every periodic save.
func WithRetention(d time.Duration) StoreOption {
	return func(s *Store) { s.retention = d }
}

func NewStore(client *postgres.Client, opts ...StoreOption) *Store {
	s := &Store{
		db:     client.DB,
		logger: slog.Default().With("component", "analytics-store"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SaveSnapshot inserts one row for stats.
func (s *Store) SaveSnapshot(ctx context.Context, stats analytics.AggregatedStats) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encoding analytics snapshot: %w", err)
	}
	capturedAt := stats.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO link_analytics_snapshots (total_resolves, total_links, data, captured_at)
		 VALUES ($1, $2, $3, $4)`,
		stats.TotalResolves, stats.TotalLinks, payload, capturedAt,
	); err != nil {
		return fmt.Errorf("inserting analytics snapshot: %w", err)
	}
	s.logger.Debug("analytics snapshot saved",
		"total_resolves", stats.TotalResolves,
		"total_links", stats.TotalLinks,
	)
	return nil
}

// LatestSnapshot returns the newest row, or ErrNoSnapshots.
func (s *Store) LatestSnapshot(ctx context.Context) (analytics.AggregatedStats, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM link_analytics_snapshots ORDER BY captured_at DESC, id DESC LIMIT 1`,
	).Scan(&payload)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return analytics.AggregatedStats{}, ErrNoSnapshots
	case err != nil:
		return analytics.AggregatedStats{}, fmt.Errorf("reading latest analytics snapshot: %w", err)
	}
	var stats analytics.AggregatedStats
	if err := json.Unmarshal(payload, &stats); err != nil {
		return analytics.AggregatedStats{}, fmt.Errorf("decoding analytics snapshot: %w", err)
	}
	return stats, nil
}

// ListSnapshots returns up to limit rows, newest first. A limit outside
// 1..500 means the default of 50. Rows that fail to decode are skipped.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]analytics.AggregatedStats, error) {
	if limit < 1 || limit > maxListLimit {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM link_analytics_snapshots ORDER BY captured_at DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing analytics snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]analytics.AggregatedStats, 0, limit)
	for rows.Next() {
		var (
			id      int64
			payload []byte
			stats   analytics.AggregatedStats
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scanning analytics snapshot: %w", err)
		}
		if err := json.Unmarshal(payload, &stats); err != nil {
			s.logger.Warn("skipping undecodable analytics snapshot", "id", id, "error", err)
			continue
		}
		out = append(out, stats)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing analytics snapshots: %w", err)
	}
	return out, nil
}

// Prune deletes snapshots captured before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM link_analytics_snapshots WHERE captured_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning analytics snapshots: %w", err)
	}
	return res.RowsAffected()
}

// Run saves a snapshot of src every interval and once more when ctx ends.
// It blocks until then.
func (s *Store) Run(ctx context.Context, src StatsSource, interval time.Duration) {
	s.logger.Info("analytics snapshots enabled", "interval", interval, "retention", s.retention)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.saveAndPrune(ctx, src)
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.SaveSnapshot(finalCtx, src.Stats()); err != nil {
				s.logger.Error("final analytics snapshot failed", "error", err)
			}
			cancel()
			return
		}
	}
}

func (s *Store) saveAndPrune(ctx context.Context, src StatsSource) {
	if err := s.SaveSnapshot(ctx, src.Stats()); err != nil {
		s.logger.Error("analytics snapshot failed", "error", err)
		return
	}
	if s.retention <= 0 {
		return
	}
	n, err := s.Prune(ctx, time.Now().Add(-s.retention))
	if err != nil {
		s.logger.Warn("analytics snapshot pruning failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Debug("pruned analytics snapshots", "rows", n)
	}
}
