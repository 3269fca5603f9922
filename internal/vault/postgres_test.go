package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/postgres"
	"github.com/lib/pq"
)

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
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
		MaxOpenConns:    5,
		MaxIdleConns:    2,
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

type capturePublisher struct{ got []events.ChangeEvent }

func (c *capturePublisher) Publish(_ context.Context, ev events.ChangeEvent) error {
	c.got = append(c.got, ev)
	return nil
}

func TestPostgresSourceRoundTrip(t *testing.T) {
	client := skipIfNoPostgres(t)
	ctx := context.Background()
	if err := client.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := client.DB.ExecContext(ctx, `TRUNCATE vault_documents`); err != nil {
		t.Fatal(err)
	}

	pub := &capturePublisher{}
	src := NewPostgresSource(client.DB, WithPublisher(pub))

	change, err := src.Upsert(ctx, corpus.Document{ID: "People/Sarah Chen.md", Title: "Sarah Chen", Aliases: []string{"SC", " "}})
	if err != nil || change != events.Created {
		t.Fatalf("Upsert = %v, %v", change, err)
	}
	change, err = src.Upsert(ctx, corpus.Document{ID: "People/Sarah Chen.md", Aliases: []string{"Sarah"}})
	if err != nil || change != events.Modified {
		t.Fatalf("second Upsert = %v, %v", change, err)
	}
	if err := src.Rename(ctx, "People/Sarah Chen.md", "People/S. Chen.md"); err != nil {
		t.Fatal(err)
	}

	docs, err := src.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].ID != "People/S. Chen.md" || docs[0].Aliases[0] != "Sarah" {
		t.Errorf("docs = %+v", docs)
	}

	if err := src.Delete(ctx, "People/S. Chen.md"); err != nil {
		t.Fatal(err)
	}
	if err := src.Delete(ctx, "People/S. Chen.md"); !errors.Is(err, apperrors.ErrDocumentNotFound) {
		t.Errorf("second delete err = %v", err)
	}

	wantTypes := []events.ChangeType{events.Created, events.Modified, events.Renamed, events.Deleted}
	if len(pub.got) != len(wantTypes) {
		t.Fatalf("published %d events, want %d", len(pub.got), len(wantTypes))
	}
	for i, want := range wantTypes {
		if pub.got[i].Type != want {
			t.Errorf("event %d = %s, want %s", i, pub.got[i].Type, want)
		}
	}
}

func TestUpsertRequiresPath(t *testing.T) {
	src := NewPostgresSource(nil)
	if _, err := src.Upsert(context.Background(), corpus.Document{Title: "x"}); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("err = %v", err)
	}
}

func TestPostgresSourceSyncPrunes(t *testing.T) {
	client := skipIfNoPostgres(t)
	ctx := context.Background()
	if err := client.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := client.DB.ExecContext(ctx, `TRUNCATE vault_documents`); err != nil {
		t.Fatal(err)
	}

	pub := &capturePublisher{}
	src := NewPostgresSource(client.DB, WithPublisher(pub))
	if _, err := src.Upsert(ctx, corpus.Document{ID: "Old/Gone.md"}); err != nil {
		t.Fatal(err)
	}
	if _, err := src.Upsert(ctx, corpus.Document{ID: "People/Alex Kim.md"}); err != nil {
		t.Fatal(err)
	}
	pub.got = nil

	res, err := src.Sync(ctx, []corpus.Document{
		{ID: "People/Alex Kim.md", Aliases: []string{"AK"}},
		{ID: "People/Alex Park.md"},
	}, true)
	if err != nil {
		t.Fatal(err)
	}
	if res != (SyncResult{Created: 1, Modified: 1, Pruned: 1}) {
		t.Errorf("Sync = %+v", res)
	}
	if len(pub.got) != 3 || pub.got[2].Type != events.Deleted || pub.got[2].Path != "Old/Gone.md" {
		t.Errorf("events = %+v", pub.got)
	}

	docs, err := src.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 || docs[0].ID != "People/Alex Kim.md" || docs[1].Title != "Alex Park" {
		t.Errorf("docs = %+v", docs)
	}
}

func TestSyncRollsBackOnInvalidDocument(t *testing.T) {
	client := skipIfNoPostgres(t)
	ctx := context.Background()
	if err := client.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := client.DB.ExecContext(ctx, `TRUNCATE vault_documents`); err != nil {
		t.Fatal(err)
	}

	src := NewPostgresSource(client.DB)
	_, err := src.Sync(ctx, []corpus.Document{{ID: "a.md"}, {ID: " "}}, false)
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
	docs, err := src.Load(ctx)
	if err != nil || len(docs) != 0 {
		t.Errorf("after rollback docs = %+v, %v", docs, err)
	}
}

func TestMoveRollsBackWhenWriteFails(t *testing.T) {
	client := skipIfNoPostgres(t)
	ctx := context.Background()
	if err := client.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := client.DB.ExecContext(ctx, `TRUNCATE vault_documents`); err != nil {
		t.Fatal(err)
	}

	pub := &capturePublisher{}
	src := NewPostgresSource(client.DB, WithPublisher(pub))
	if _, err := src.Upsert(ctx, corpus.Document{ID: "People/Dana Lee.md", Aliases: []string{"DL"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := src.Upsert(ctx, corpus.Document{ID: "People/Alex Kim.md"}); err != nil {
		t.Fatal(err)
	}
	pub.got = nil

	// PostgreSQL rejects NUL in text, so the rename succeeds and the write fails.
	if _, err := src.Move(ctx, "People/Dana Lee.md", corpus.Document{ID: "People/Dana Lee-Ng.md", Title: "bad\x00title"}); err == nil {
		t.Fatal("expected the write to fail")
	}
	_, err := src.Move(ctx, "People/Dana Lee.md", corpus.Document{ID: "People/Alex Kim.md"})
	if !errors.Is(err, apperrors.ErrConflict) || apperrors.HTTPStatusCode(err) != 409 {
		t.Errorf("move onto existing path err = %v", err)
	}
	if len(pub.got) != 0 {
		t.Errorf("failed moves published %+v", pub.got)
	}

	docs, err := src.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 || docs[1].ID != "People/Dana Lee.md" || len(docs[1].Aliases) != 1 {
		t.Fatalf("docs after failed moves = %+v", docs)
	}

	change, err := src.Move(ctx, "People/Dana Lee.md", corpus.Document{ID: "People/Dana Lee-Ng.md", Aliases: []string{"DLN"}})
	if err != nil || change != events.Modified {
		t.Fatalf("Move = %v, %v", change, err)
	}
	if len(pub.got) != 2 || pub.got[0].Type != events.Renamed || pub.got[0].OldPath != "People/Dana Lee.md" || pub.got[1].Type != events.Modified {
		t.Errorf("events = %+v", pub.got)
	}
}

func TestMoveRequiresPath(t *testing.T) {
	src := NewPostgresSource(nil)
	if _, err := src.Move(context.Background(), "a.md", corpus.Document{ID: "  "}); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("err = %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(fmt.Errorf("exec: %w", &pq.Error{Code: "23505"})) {
		t.Error("wrapped 23505 not recognised")
	}
	if isUniqueViolation(&pq.Error{Code: "22021"}) || isUniqueViolation(nil) {
		t.Error("other errors treated as unique violations")
	}
}

func TestSyncRefusesToPruneEverything(t *testing.T) {
	// A nil db proves the guard runs before any transaction is opened.
	src := NewPostgresSource(nil)
	_, err := src.Sync(context.Background(), nil, true)
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("err = %v", err)
	}
}
