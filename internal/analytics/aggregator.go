package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/kafka"
)

// maxLatencySamples bounds the window used for latency percentiles.
const maxLatencySamples = 10000

type AggregatedStats struct {
	TotalResolves     int64       `json:"total_resolves"`
	TotalLinks        int64       `json:"total_links"`
	TotalSuggestions  int64       `json:"total_suggestions"`
	UnchangedResolves int64       `json:"unchanged_resolves"`
	CacheHits         int64       `json:"cache_hits"`
	CacheMisses       int64       `json:"cache_misses"`
	BytesResolved     int64       `json:"bytes_resolved"`
	AvgLatencyMs      float64     `json:"avg_latency_ms"`
	P50LatencyMs      int64       `json:"p50_latency_ms"`
	P95LatencyMs      int64       `json:"p95_latency_ms"`
	P99LatencyMs      int64       `json:"p99_latency_ms"`
	TopLinkedTargets  []TermCount `json:"top_linked_targets"`
	TopSuggestedTerms []TermCount `json:"top_suggested_terms"`
	ResolvesPerMinute float64     `json:"resolves_per_minute"`
	IndexBuilds       int64       `json:"index_builds"`
	LastIndex         *IndexEvent `json:"last_index,omitempty"`
	CapturedAt        time.Time   `json:"captured_at"`
}

type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Aggregator folds resolve and index events into running totals. It is safe
// for concurrent use.
type Aggregator struct {
	mu             sync.RWMutex
	totals         AggregatedStats
	latencies      []int64
	latencyNext    int
	targetCounts   map[string]int64
	suggestedCount map[string]int64
	startTime      time.Time
	logger         *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:      make([]int64, 0, 1024),
		targetCounts:   make(map[string]int64),
		suggestedCount: make(map[string]int64),
		startTime:      time.Now(),
		logger:         slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleEvent decodes events from the link-events topic into agg.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		if err := agg.recordEncoded(value); err != nil {
			agg.logger.Warn("dropping analytics event", "key", string(key), "error", err)
			return fmt.Errorf("%w: %v", kafka.ErrSkipMessage, err)
		}
		return nil
	}
}

func (a *Aggregator) recordEncoded(value []byte) error {
	env, err := kafka.DecodeJSON[envelope](value)
	if err != nil {
		return err
	}
	switch env.Type {
	case EventResolve:
		ev, err := kafka.DecodeJSON[ResolveEvent](value)
		if err != nil {
			return err
		}
		a.RecordResolve(ev)
	case EventIndexBuild:
		ev, err := kafka.DecodeJSON[IndexEvent](value)
		if err != nil {
			return err
		}
		a.RecordIndex(ev)
	default:
		return fmt.Errorf("unknown analytics event type %q", env.Type)
	}
	return nil
}

// RecordResolve adds one resolve call to the totals.
func (a *Aggregator) RecordResolve(ev ResolveEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totals.TotalResolves++
	a.totals.TotalLinks += int64(ev.Links)
	a.totals.TotalSuggestions += int64(ev.Suggestions)
	a.totals.BytesResolved += int64(ev.TextBytes)
	if ev.Links == 0 && ev.Suggestions == 0 {
		a.totals.UnchangedResolves++
	}
	if ev.CacheHit {
		a.totals.CacheHits++
	} else {
		a.totals.CacheMisses++
	}

	if len(a.latencies) < maxLatencySamples {
		a.latencies = append(a.latencies, ev.LatencyMs)
	} else {
		a.latencies[a.latencyNext] = ev.LatencyMs
		a.latencyNext = (a.latencyNext + 1) % maxLatencySamples
	}
	for _, t := range ev.Targets {
		a.targetCounts[t]++
	}
	for _, s := range ev.SuggestedTerms {
		a.suggestedCount[corpus.NormalizeTerm(s)]++
	}
}

// RecordIndex notes a published index build.
func (a *Aggregator) RecordIndex(ev IndexEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totals.IndexBuilds++
	if a.totals.LastIndex == nil || ev.Version >= a.totals.LastIndex.Version {
		last := ev
		a.totals.LastIndex = &last
	}
}

// Stats returns a snapshot of the totals with latency percentiles and the
// ten most frequent targets and ambiguous mentions.
func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := a.totals
	if stats.LastIndex != nil {
		last := *stats.LastIndex
		stats.LastIndex = &last
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopLinkedTargets = topN(a.targetCounts, 10)
	stats.TopSuggestedTerms = topN(a.suggestedCount, 10)
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.ResolvesPerMinute = float64(stats.TotalResolves) / elapsed
	}
	stats.CapturedAt = time.Now().UTC()
	return stats
}

// Sink returns a publisher that feeds events straight into the aggregator,
// used when Kafka is disabled.
func (a *Aggregator) Sink() kafka.Publisher {
	return localSink{a}
}

type localSink struct{ agg *Aggregator }

func (s localSink) Publish(ctx context.Context, ev kafka.Event) error {
	return s.PublishBatch(ctx, []kafka.Event{ev})
}

func (s localSink) PublishBatch(_ context.Context, evs []kafka.Event) error {
	for _, ev := range evs {
		switch v := ev.Value.(type) {
		case ResolveEvent:
			s.agg.RecordResolve(v)
		case IndexEvent:
			s.agg.RecordIndex(v)
		default:
			data, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("encoding analytics event: %w", err)
			}
			if err := s.agg.recordEncoded(data); err != nil {
				return err
			}
		}
	}
	return nil
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN returns the n largest counts, ties broken by term.
func topN(counts map[string]int64, n int) []TermCount {
	result := make([]TermCount, 0, len(counts))
	for term, count := range counts {
		result = append(result, TermCount{Term: term, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Term < result[j].Term
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
