// Package analytics records what the resolver does: which mentions were
// linked, which stayed ambiguous, and how the index evolved. Events flow from
// a non-blocking Collector over Kafka (or straight into a local Aggregator)
// and are summarised for the /api/v1/analytics endpoint.
package analytics

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/linker"
)

type EventType string

const (
	EventResolve    EventType = "resolve"
	EventIndexBuild EventType = "index_build"
)

// ResolveEvent describes one resolve call. Text itself is never recorded.
type ResolveEvent struct {
	Type           EventType `json:"type"`
	Links          int       `json:"links"`
	Suggestions    int       `json:"suggestions"`
	Targets        []string  `json:"targets,omitempty"`
	SuggestedTerms []string  `json:"suggested_terms,omitempty"`
	TextBytes      int       `json:"text_bytes"`
	IndexVersion   uint64    `json:"index_version"`
	LatencyMs      int64     `json:"latency_ms"`
	CacheHit       bool      `json:"cache_hit"`
	RequestID      string    `json:"request_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewResolveEvent summarises res.
func NewResolveEvent(res *linker.Result, textBytes int, version uint64, latency time.Duration, cacheHit bool, requestID string) ResolveEvent {
	ev := ResolveEvent{
		Type:         EventResolve,
		Links:        len(res.Links),
		Suggestions:  len(res.Suggestions),
		TextBytes:    textBytes,
		IndexVersion: version,
		LatencyMs:    latency.Milliseconds(),
		CacheHit:     cacheHit,
		RequestID:    requestID,
		Timestamp:    time.Now().UTC(),
	}
	for _, l := range res.Links {
		ev.Targets = append(ev.Targets, l.Target)
	}
	for _, s := range res.Suggestions {
		ev.SuggestedTerms = append(ev.SuggestedTerms, s.Term)
	}
	return ev
}

// IndexEvent describes one published index build.
type IndexEvent struct {
	Type           EventType `json:"type"`
	Version        uint64    `json:"version"`
	Documents      int       `json:"documents"`
	Excluded       int       `json:"excluded"`
	ExactTerms     int       `json:"exact_terms"`
	AmbiguousTerms int       `json:"ambiguous_terms"`
	DurationMs     int64     `json:"duration_ms"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewIndexEvent converts build statistics into an event.
func NewIndexEvent(stats corpus.BuildStats) IndexEvent {
	return IndexEvent{
		Type:           EventIndexBuild,
		Version:        stats.Version,
		Documents:      stats.Documents,
		Excluded:       stats.Excluded,
		ExactTerms:     stats.ExactTerms,
		AmbiguousTerms: stats.AmbiguousTerms,
		DurationMs:     stats.Duration.Milliseconds(),
		Timestamp:      stats.BuiltAt,
	}
}

// envelope reads just the discriminator of an encoded event.
type envelope struct {
	Type EventType `json:"type"`
}
