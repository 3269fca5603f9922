// Package events carries vault change notifications between the document
// store and the corpus index. Writers publish a ChangeEvent per document
// change; the service consumes them and schedules a debounced index rebuild.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/metrics"
)

// ChangeType names what happened to a document.
type ChangeType string

const (
	Created  ChangeType = "created"
	Modified ChangeType = "modified"
	Renamed  ChangeType = "renamed"
	Deleted  ChangeType = "deleted"
)

// ChangeEvent is the payload on the vault-changes topic.
type ChangeEvent struct {
	Type    ChangeType `json:"type"`
	Path    string     `json:"path"`
	OldPath string     `json:"old_path,omitempty"`
	At      time.Time  `json:"at"`
}

// Validate checks the event is actionable.
func (e ChangeEvent) Validate() error {
	switch e.Type {
	case Created, Modified, Deleted:
	case Renamed:
		if e.OldPath == "" {
			return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "renamed event for %q has no old_path", e.Path)
		}
	default:
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unknown change type %q", e.Type)
	}
	if strings.TrimSpace(e.Path) == "" {
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "change event has no path")
	}
	return nil
}

// UpdateScheduler is the part of the corpus index the consumer drives.
type UpdateScheduler interface {
	ScheduleIncrementalUpdate()
}

// HandleChange returns a consumer handler that schedules an index update for
// every valid change to a document with the given extension. Undecodable or
// invalid messages are committed and dropped. m may be nil.
func HandleChange(index UpdateScheduler, ext string, m *metrics.Metrics) kafka.MessageHandler {
	logger := slog.Default().With("component", "change-consumer")
	return func(ctx context.Context, key, value []byte) error {
		ev, err := kafka.DecodeJSON[ChangeEvent](value)
		if err != nil {
			logger.Warn("dropping undecodable change event", "key", string(key), "error", err)
			return err
		}
		if err := ev.Validate(); err != nil {
			logger.Warn("dropping invalid change event", "key", string(key), "error", err)
			return fmt.Errorf("%w: %v", kafka.ErrSkipMessage, err)
		}
		if m != nil {
			m.ChangeEventsTotal.WithLabelValues(string(ev.Type)).Inc()
		}
		if !matchesExtension(ev.Path, ext) && !matchesExtension(ev.OldPath, ext) {
			logger.Debug("ignoring change to non-document file", "path", ev.Path)
			return nil
		}
		logger.Debug("vault changed, scheduling index update",
			"type", ev.Type,
			"path", ev.Path,
		)
		index.ScheduleIncrementalUpdate()
		return nil
	}
}

func matchesExtension(path, ext string) bool {
	if path == "" {
		return false
	}
	if ext == "" {
		return true
	}
	return len(path) >= len(ext) && strings.EqualFold(path[len(path)-len(ext):], ext)
}

// Publisher sends change events keyed by document path.
type Publisher struct {
	producer kafka.Publisher
	logger   *slog.Logger
}

// NewPublisher wraps a producer for the vault-changes topic.
func NewPublisher(producer kafka.Publisher) *Publisher {
	return &Publisher{
		producer: producer,
		logger:   slog.Default().With("component", "change-publisher"),
	}
}

// Publish validates and sends ev. A zero At is stamped with the current time.
func (p *Publisher) Publish(ctx context.Context, ev ChangeEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	if err := p.producer.Publish(ctx, kafka.Event{Key: ev.Path, Value: ev}); err != nil {
		return fmt.Errorf("publishing %s event for %s: %w", ev.Type, ev.Path, err)
	}
	p.logger.Debug("change published", "type", ev.Type, "path", ev.Path)
	return nil
}
