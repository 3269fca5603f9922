package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/events"
	apperrors "github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/resilience"
	"github.com/lib/pq"
)

// ChangePublisher announces document changes; *events.Publisher satisfies it.
type ChangePublisher interface {
	Publish(ctx context.Context, ev events.ChangeEvent) error
}

// PostgresOption configures a PostgresSource.
type PostgresOption func(*PostgresSource)

// WithPublisher makes writes announce themselves on the change topic.
func WithPublisher(p ChangePublisher) PostgresOption {
	return func(s *PostgresSource) { s.publisher = p }
}

// WithRetry overrides the retry policy for loads.
func WithRetry(cfg resilience.RetryConfig) PostgresOption {
	return func(s *PostgresSource) { s.retry = cfg }
}

// WithBreaker overrides the circuit breaker guarding loads.
func WithBreaker(cb *resilience.CircuitBreaker) PostgresOption {
	return func(s *PostgresSource) { s.breaker = cb }
}

// PostgresSource keeps the vault in the vault_documents table.
type PostgresSource struct {
	db        *sql.DB
	publisher ChangePublisher
	breaker   *resilience.CircuitBreaker
	retry     resilience.RetryConfig
	logger    *slog.Logger
}

// NewPostgresSource returns a source reading and writing through db.
func NewPostgresSource(db *sql.DB, opts ...PostgresOption) *PostgresSource {
	s := &PostgresSource{
		db: db,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		},
		logger: slog.Default().With("component", "vault-postgres"),
	}
	for _, o := range opts {
		o(s)
	}
	if s.breaker == nil {
		s.breaker = resilience.NewCircuitBreaker("vault-postgres", resilience.CircuitBreakerConfig{})
	}
	return s
}

// Breaker exposes the circuit breaker so its state can be reported.
func (s *PostgresSource) Breaker() *resilience.CircuitBreaker { return s.breaker }

// Load reads every document. Transient failures are retried; a tripped
// breaker fails fast with ErrSourceUnavailable.
func (s *PostgresSource) Load(ctx context.Context) ([]corpus.Document, error) {
	var docs []corpus.Document
	err := resilience.Retry(ctx, "load-vault-documents", s.retry, func() error {
		return s.breaker.Execute(func() error {
			var err error
			docs, err = s.queryAll(ctx)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrSourceUnavailable, err)
	}
	return docs, nil
}

func (s *PostgresSource) queryAll(ctx context.Context) ([]corpus.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, title, aliases FROM vault_documents ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("querying vault documents: %w", err)
	}
	defer rows.Close()

	var docs []corpus.Document
	for rows.Next() {
		var (
			doc     corpus.Document
			aliases []sql.NullString
		)
		if err := rows.Scan(&doc.ID, &doc.Title, pq.Array(&aliases)); err != nil {
			return nil, fmt.Errorf("scanning vault document: %w", err)
		}
		for _, a := range aliases {
			if a.Valid {
				doc.Aliases = append(doc.Aliases, NormalizeAliases(a.String)...)
			}
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vault documents: %w", err)
	}
	return docs, nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Upsert inserts or replaces a document and publishes created or modified.
func (s *PostgresSource) Upsert(ctx context.Context, doc corpus.Document) (events.ChangeType, error) {
	change, err := upsert(ctx, s.db, doc)
	if err != nil {
		return "", err
	}
	s.announce(ctx, events.ChangeEvent{Type: change, Path: doc.ID})
	return change, nil
}

func upsert(ctx context.Context, q querier, doc corpus.Document) (events.ChangeType, error) {
	if strings.TrimSpace(doc.ID) == "" {
		return "", apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "document path is required")
	}
	if strings.TrimSpace(doc.Title) == "" {
		doc.Title = corpus.DisplayName(doc.ID, corpus.DefaultExtension)
	}
	aliases := NormalizeAliases(doc.Aliases)
	if aliases == nil {
		aliases = []string{}
	}

	var inserted bool
	err := q.QueryRowContext(ctx,
		`INSERT INTO vault_documents (path, title, aliases, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (path) DO UPDATE
			SET title = EXCLUDED.title, aliases = EXCLUDED.aliases, updated_at = now()
		RETURNING (xmax = 0)`,
		doc.ID, doc.Title, pq.Array(aliases)).Scan(&inserted)
	if err != nil {
		return "", fmt.Errorf("upserting document %s: %w", doc.ID, err)
	}
	if inserted {
		return events.Created, nil
	}
	return events.Modified, nil
}

// uniqueViolation is the PostgreSQL SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// Rename moves a document to a new path.
func (s *PostgresSource) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := rename(ctx, s.db, oldPath, newPath); err != nil {
		return err
	}
	s.announce(ctx, events.ChangeEvent{Type: events.Renamed, Path: newPath, OldPath: oldPath})
	return nil
}

// Move renames oldPath to doc.ID and writes doc's title and aliases in one
// transaction, so a failed write leaves the document where it was. Both
// change events go out after the commit.
func (s *PostgresSource) Move(ctx context.Context, oldPath string, doc corpus.Document) (events.ChangeType, error) {
	if strings.TrimSpace(doc.ID) == "" {
		return "", apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "document path is required")
	}
	var change events.ChangeType
	err := postgres.InTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := rename(ctx, tx, oldPath, doc.ID); err != nil {
			return err
		}
		var err error
		change, err = upsert(ctx, tx, doc)
		return err
	})
	if err != nil {
		return "", err
	}
	s.announce(ctx, events.ChangeEvent{Type: events.Renamed, Path: doc.ID, OldPath: oldPath})
	s.announce(ctx, events.ChangeEvent{Type: change, Path: doc.ID})
	return change, nil
}

func rename(ctx context.Context, q querier, oldPath, newPath string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE vault_documents SET path = $2, updated_at = now() WHERE path = $1`, oldPath, newPath)
	if isUniqueViolation(err) {
		return apperrors.Newf(apperrors.ErrConflict, http.StatusConflict, "a document already exists at %q", newPath)
	}
	if err != nil {
		return fmt.Errorf("renaming document %s: %w", oldPath, err)
	}
	return requireRow(res, oldPath)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// Delete removes a document.
func (s *PostgresSource) Delete(ctx context.Context, path string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM vault_documents WHERE path = $1`, path)
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", path, err)
	}
	if err := requireRow(res, path); err != nil {
		return err
	}
	s.announce(ctx, events.ChangeEvent{Type: events.Deleted, Path: path})
	return nil
}

// SyncResult counts what Sync changed.
type SyncResult struct {
	Created  int
	Modified int
	Pruned   int
}

// Sync upserts docs, and with prune deletes stored documents missing from
// docs, in a single transaction. Change events go out after the commit.
// Pruning against an empty docs is refused since it would empty the table.
func (s *PostgresSource) Sync(ctx context.Context, docs []corpus.Document, prune bool) (SyncResult, error) {
	if prune && len(docs) == 0 {
		return SyncResult{}, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"refusing to prune against an empty document set")
	}
	var (
		res     SyncResult
		pending []events.ChangeEvent
	)
	err := postgres.InTx(ctx, s.db, func(tx *sql.Tx) error {
		keep := make([]string, 0, len(docs))
		for _, doc := range docs {
			change, err := upsert(ctx, tx, doc)
			if err != nil {
				return err
			}
			if change == events.Created {
				res.Created++
			} else {
				res.Modified++
			}
			keep = append(keep, doc.ID)
			pending = append(pending, events.ChangeEvent{Type: change, Path: doc.ID})
		}
		if !prune {
			return nil
		}
		rows, err := tx.QueryContext(ctx,
			`DELETE FROM vault_documents WHERE NOT (path = ANY($1)) RETURNING path`, pq.Array(keep))
		if err != nil {
			return fmt.Errorf("pruning documents: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var path string
			if err := rows.Scan(&path); err != nil {
				return fmt.Errorf("scanning pruned document: %w", err)
			}
			res.Pruned++
			pending = append(pending, events.ChangeEvent{Type: events.Deleted, Path: path})
		}
		return rows.Err()
	})
	if err != nil {
		return SyncResult{}, err
	}
	for _, ev := range pending {
		s.announce(ctx, ev)
	}
	s.logger.Info("vault synced", "created", res.Created, "modified", res.Modified, "pruned", res.Pruned)
	return res, nil
}

func requireRow(res sql.Result, path string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return apperrors.Newf(apperrors.ErrDocumentNotFound, http.StatusNotFound, "no document at %q", path)
	}
	return nil
}

// announce publishes ev. The write already committed, so a publish failure
// is logged and the change is picked up by the next full rebuild instead.
func (s *PostgresSource) announce(ctx context.Context, ev events.ChangeEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("failed to publish change event",
			"type", ev.Type,
			"path", ev.Path,
			"error", err,
		)
	}
}
