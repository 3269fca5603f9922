package aggregator

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/postgres"
)

func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	port, _ := strconv.Atoi(envOrDefault("TEST_POSTGRES_PORT", "5432"))
	db, err := postgres.New(config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            port,
		Database:        envOrDefault("TEST_POSTGRES_DB", "meetinglinker_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "meetinglinker"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func TestStoreSnapshots(t *testing.T) {
	client := skipIfNoPostgres(t)
	ctx := context.Background()
	if err := client.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := client.DB.ExecContext(ctx, `TRUNCATE link_analytics_snapshots`); err != nil {
		t.Fatal(err)
	}

	store := NewStore(client)
	if _, err := store.LatestSnapshot(ctx); !errors.Is(err, ErrNoSnapshots) {
		t.Fatalf("LatestSnapshot on empty table err = %v", err)
	}

	agg := analytics.NewAggregator()
	agg.RecordResolve(analytics.ResolveEvent{Type: analytics.EventResolve, Links: 2})
	first := agg.Stats()
	if err := store.SaveSnapshot(ctx, first); err != nil {
		t.Fatal(err)
	}
	agg.RecordResolve(analytics.ResolveEvent{Type: analytics.EventResolve, Links: 1})
	second := agg.Stats()
	second.CapturedAt = first.CapturedAt.Add(time.Second)
	if err := store.SaveSnapshot(ctx, second); err != nil {
		t.Fatal(err)
	}

	latest, err := store.LatestSnapshot(ctx)
	if err != nil || latest.TotalLinks != 3 {
		t.Fatalf("LatestSnapshot = %+v, %v", latest, err)
	}
	list, err := store.ListSnapshots(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].TotalResolves != 2 || list[1].TotalResolves != 1 {
		t.Errorf("ListSnapshots = %+v", list)
	}

	n, err := store.Prune(ctx, second.CapturedAt)
	if err != nil || n != 1 {
		t.Fatalf("Prune = %d, %v", n, err)
	}
	if list, _ := store.ListSnapshots(ctx, 0); len(list) != 1 {
		t.Errorf("after prune %d snapshots remain", len(list))
	}
}

type fixedStats struct{ stats analytics.AggregatedStats }

func (f fixedStats) Stats() analytics.AggregatedStats { return f.stats }

func TestRunWritesFinalSnapshot(t *testing.T) {
	client := skipIfNoPostgres(t)
	ctx := context.Background()
	if err := client.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := client.DB.ExecContext(ctx, `TRUNCATE link_analytics_snapshots`); err != nil {
		t.Fatal(err)
	}

	store := NewStore(client)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		store.Run(runCtx, fixedStats{analytics.AggregatedStats{TotalResolves: 7}}, time.Hour)
		close(done)
	}()
	cancel()
	<-done

	latest, err := store.LatestSnapshot(ctx)
	if err != nil || latest.TotalResolves != 7 {
		t.Errorf("LatestSnapshot = %+v, %v", latest, err)
	}
}
