package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/linker"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/kafka"
)

type recordingPublisher struct {
	mu      sync.Mutex
	batches [][]kafka.Event
	err     error
}

func (p *recordingPublisher) Publish(ctx context.Context, ev kafka.Event) error {
	return p.PublishBatch(ctx, []kafka.Event{ev})
}

func (p *recordingPublisher) PublishBatch(_ context.Context, evs []kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	cp := make([]kafka.Event, len(evs))
	copy(cp, evs)
	p.batches = append(p.batches, cp)
	return nil
}

func (p *recordingPublisher) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.batches {
		n += len(b)
	}
	return n
}

func TestNewResolveEvent(t *testing.T) {
	res := &linker.Result{
		Text: "[[Sarah Chen]] met Alex",
		Links: []linker.Link{
			{Target: "People/Sarah Chen.md", Name: "Sarah Chen", Original: "Sarah Chen"},
		},
		Suggestions: []linker.Suggestion{
			{Term: "Alex", Candidates: []string{"Alex Kim", "Alex Park"}},
		},
	}
	ev := NewResolveEvent(res, 23, 4, 15*time.Millisecond, true, "req-1")
	if ev.Type != EventResolve || ev.Links != 1 || ev.Suggestions != 1 {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Targets[0] != "People/Sarah Chen.md" || ev.SuggestedTerms[0] != "Alex" {
		t.Errorf("targets/terms = %v %v", ev.Targets, ev.SuggestedTerms)
	}
	if ev.LatencyMs != 15 || !ev.CacheHit || ev.IndexVersion != 4 {
		t.Errorf("event = %+v", ev)
	}
}

func TestAggregatorStats(t *testing.T) {
	agg := NewAggregator()
	for i := 1; i <= 100; i++ {
		agg.RecordResolve(ResolveEvent{
			Type:      EventResolve,
			Links:     1,
			Targets:   []string{"A.md"},
			TextBytes: 10,
			LatencyMs: int64(i),
			CacheHit:  i%2 == 0,
		})
	}
	agg.RecordResolve(ResolveEvent{Type: EventResolve, Suggestions: 2, SuggestedTerms: []string{"Alex", "ALEX "}})
	agg.RecordIndex(NewIndexEvent(corpus.BuildStats{Version: 3, Documents: 12}))
	agg.RecordIndex(NewIndexEvent(corpus.BuildStats{Version: 2, Documents: 11}))

	stats := agg.Stats()
	if stats.TotalResolves != 101 || stats.TotalLinks != 100 || stats.UnchangedResolves != 0 {
		t.Errorf("totals = %+v", stats)
	}
	if stats.TotalSuggestions != 2 {
		t.Errorf("TotalSuggestions = %d", stats.TotalSuggestions)
	}
	if stats.CacheHits != 50 || stats.CacheMisses != 51 {
		t.Errorf("cache = %d/%d", stats.CacheHits, stats.CacheMisses)
	}
	if stats.P50LatencyMs != 50 || stats.P99LatencyMs != 99 {
		t.Errorf("p50=%d p99=%d", stats.P50LatencyMs, stats.P99LatencyMs)
	}
	if len(stats.TopLinkedTargets) != 1 || stats.TopLinkedTargets[0].Count != 100 {
		t.Errorf("TopLinkedTargets = %+v", stats.TopLinkedTargets)
	}
	if len(stats.TopSuggestedTerms) != 1 || stats.TopSuggestedTerms[0] != (TermCount{Term: "alex", Count: 2}) {
		t.Errorf("TopSuggestedTerms = %+v", stats.TopSuggestedTerms)
	}
	if stats.IndexBuilds != 2 || stats.LastIndex == nil || stats.LastIndex.Version != 3 {
		t.Errorf("index = %d %+v", stats.IndexBuilds, stats.LastIndex)
	}
}

func TestAggregatorCountsUnchanged(t *testing.T) {
	agg := NewAggregator()
	agg.RecordResolve(ResolveEvent{Type: EventResolve})
	if got := agg.Stats().UnchangedResolves; got != 1 {
		t.Errorf("UnchangedResolves = %d", got)
	}
}

func TestHandleEvent(t *testing.T) {
	agg := NewAggregator()
	handle := HandleEvent(agg)
	ctx := context.Background()

	data, _ := json.Marshal(ResolveEvent{Type: EventResolve, Links: 2})
	if err := handle(ctx, []byte("resolve"), data); err != nil {
		t.Fatal(err)
	}
	data, _ = json.Marshal(IndexEvent{Type: EventIndexBuild, Version: 7})
	if err := handle(ctx, []byte("index_build"), data); err != nil {
		t.Fatal(err)
	}
	for _, bad := range []string{`{"type":"mystery"}`, `not json`} {
		if err := handle(ctx, nil, []byte(bad)); !errors.Is(err, kafka.ErrSkipMessage) {
			t.Errorf("handle(%q) err = %v, want ErrSkipMessage", bad, err)
		}
	}

	stats := agg.Stats()
	if stats.TotalLinks != 2 || stats.LastIndex.Version != 7 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSinkRecordsDirectly(t *testing.T) {
	agg := NewAggregator()
	err := agg.Sink().PublishBatch(context.Background(), []kafka.Event{
		{Key: "resolve", Value: ResolveEvent{Type: EventResolve, Links: 1}},
		{Key: "index_build", Value: IndexEvent{Type: EventIndexBuild, Version: 1}},
		{Key: "raw", Value: map[string]any{"type": "resolve", "suggestions": 3}},
	})
	if err != nil {
		t.Fatal(err)
	}
	stats := agg.Stats()
	if stats.TotalResolves != 2 || stats.TotalSuggestions != 3 || stats.IndexBuilds != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestCollectorFlushesOnBatchSize(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewCollector(pub, 100, 5, time.Hour)
	go c.Start(context.Background())

	for i := 0; i < 5; i++ {
		c.Track(ResolveEvent{Type: EventResolve})
	}
	deadline := time.Now().Add(2 * time.Second)
	for pub.total() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if pub.total() != 5 {
		t.Fatalf("published %d events, want 5", pub.total())
	}
	pub.mu.Lock()
	key := pub.batches[0][0].Key
	pub.mu.Unlock()
	if key != string(EventResolve) {
		t.Errorf("key = %q", key)
	}
	c.Close()
}

func TestCollectorCloseFlushesRemainder(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewCollector(pub, 100, 50, time.Hour)
	go c.Start(context.Background())

	c.Track(IndexEvent{Type: EventIndexBuild})
	c.Track(ResolveEvent{Type: EventResolve})
	c.Close()

	if pub.total() != 2 {
		t.Errorf("published %d events after Close, want 2", pub.total())
	}
}

func TestCollectorContextCancelDrains(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewCollector(pub, 100, 50, time.Hour)
	for i := 0; i < 3; i++ {
		c.Track(ResolveEvent{Type: EventResolve})
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Start(ctx)
	if pub.total() != 3 {
		t.Errorf("published %d events, want 3", pub.total())
	}
}

func TestCollectorDropsWhenFull(t *testing.T) {
	c := NewCollector(&recordingPublisher{}, 2, 10, time.Hour)
	for i := 0; i < 5; i++ {
		c.Track(ResolveEvent{Type: EventResolve})
	}
	if c.Dropped() != 3 {
		t.Errorf("Dropped = %d, want 3", c.Dropped())
	}
}

func TestCollectorSurvivesPublishError(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	c := NewCollector(pub, 10, 1, time.Hour)
	go c.Start(context.Background())
	c.Track(ResolveEvent{Type: EventResolve})
	c.Close()
	if pub.total() != 0 {
		t.Errorf("published %d events through a failing publisher", pub.total())
	}
}

type fakeHistory struct {
	snaps []AggregatedStats
	limit int
	err   error
}

func (f *fakeHistory) ListSnapshots(_ context.Context, limit int) ([]AggregatedStats, error) {
	f.limit = limit
	return f.snaps, f.err
}

func TestHandlerStats(t *testing.T) {
	agg := NewAggregator()
	agg.RecordResolve(ResolveEvent{Type: EventResolve, Links: 4})
	h := NewHandler(agg, nil)

	rec := httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got AggregatedStats
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.TotalLinks != 4 {
		t.Errorf("TotalLinks = %d", got.TotalLinks)
	}
}

func TestHandlerHistory(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(NewAggregator(), nil).History(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/history", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("no history: status = %d", rec.Code)
	}

	hist := &fakeHistory{snaps: []AggregatedStats{{TotalResolves: 9}}}
	rec = httptest.NewRecorder()
	NewHandler(NewAggregator(), hist).History(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/history?limit=5", nil))
	if rec.Code != http.StatusOK || hist.limit != 5 {
		t.Fatalf("status = %d limit = %d", rec.Code, hist.limit)
	}

	hist.err = errors.New("db gone")
	rec = httptest.NewRecorder()
	NewHandler(NewAggregator(), hist).History(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/history", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("db error: status = %d", rec.Code)
	}
}
