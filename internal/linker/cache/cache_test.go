package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/linker"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/redis"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func newMemStore() *memStore { return &memStore{data: map[string]string{}} }

func (m *memStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.data[key]
	if !ok {
		return "", pkgredis.Nil
	}
	return v, nil
}

func (m *memStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = string(value.([]byte))
	return nil
}

func (m *memStore) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func (m *memStore) KeyCount(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n, nil
}

func sampleResult() *linker.Result {
	return &linker.Result{
		Text:        "[[Sarah Chen]] joined",
		Suggestions: []linker.Suggestion{{Term: "Alex", Candidates: []string{"Alex Kim", "Alex Wu"}}},
		Links:       []linker.Link{{Start: 0, End: 10, Term: "sarah chen", Target: "People/Sarah Chen.md", Name: "Sarah Chen", Original: "Sarah Chen"}},
	}
}

func TestGetOrComputeCachesResult(t *testing.T) {
	ctx := context.Background()
	c := New(newMemStore(), time.Minute)
	calls := 0
	compute := func() (*linker.Result, error) {
		calls++
		return sampleResult(), nil
	}

	res, hit, err := c.GetOrCompute(ctx, "corpus-a", 3, "Sarah Chen joined", compute)
	if err != nil || hit {
		t.Fatalf("first call: hit=%v err=%v", hit, err)
	}
	res2, hit, err := c.GetOrCompute(ctx, "corpus-a", 3, "Sarah Chen joined", compute)
	if err != nil || !hit {
		t.Fatalf("second call: hit=%v err=%v", hit, err)
	}
	if calls != 1 {
		t.Errorf("compute called %d times, want 1", calls)
	}
	if res2.Text != res.Text || len(res2.Suggestions) != 1 || res2.Links[0].Target != "People/Sarah Chen.md" {
		t.Errorf("cached result = %+v", res2)
	}

	stats := c.Stats(ctx)
	if stats.Hits != 1 || stats.Misses != 1 || stats.Entries != 1 {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestKeyDependsOnCorpusAndThreshold(t *testing.T) {
	base := BuildKey("corpus-a", 3, "text")
	for _, other := range []string{BuildKey("corpus-b", 3, "text"), BuildKey("corpus-a", 4, "text"), BuildKey("corpus-a", 3, "text!")} {
		if other == base {
			t.Errorf("key collision: %s", other)
		}
	}
	if !strings.HasPrefix(base, keyPrefix) {
		t.Errorf("key %q lacks prefix", base)
	}
}

func TestBackendErrorFallsBackToCompute(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection refused")
	c := New(store, time.Minute)

	res, hit, err := c.GetOrCompute(context.Background(), "corpus-a", 3, "x", func() (*linker.Result, error) {
		return sampleResult(), nil
	})
	if err != nil || hit || res == nil {
		t.Fatalf("res=%v hit=%v err=%v", res, hit, err)
	}
}

func TestComputeErrorIsReturned(t *testing.T) {
	c := New(newMemStore(), time.Minute)
	boom := errors.New("boom")
	_, _, err := c.GetOrCompute(context.Background(), "corpus-a", 3, "x", func() (*linker.Result, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := New(store, time.Minute)
	c.Set(ctx, "corpus-a", 3, "a", sampleResult())
	c.Set(ctx, "corpus-a", 3, "b", sampleResult())
	store.data["other:key"] = "keep"

	n, err := c.Invalidate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("deleted %d keys, want 2", n)
	}
	if _, ok := store.data["other:key"]; !ok {
		t.Error("invalidate removed a key outside the cache prefix")
	}
	if _, ok := c.Get(ctx, "corpus-a", 3, "a"); ok {
		t.Error("entry survived invalidation")
	}
}

// Each process numbers its builds from 1, so two services sharing Redis see
// equal versions for different vaults. Their entries must not mix.
func TestSeparateIndexesDoNotShareEntries(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	text := "Sarah Chen joined."

	resolveWith := func(snap *corpus.Snapshot) (*linker.Result, bool) {
		t.Helper()
		c := New(store, time.Minute)
		res, hit, err := c.GetOrCompute(ctx, snap.Fingerprint(), 3, text, func() (*linker.Result, error) {
			r := linker.Resolve(text, snap, 3)
			return &r, nil
		})
		if err != nil {
			t.Fatal(err)
		}
		return res, hit
	}

	before := corpus.New().BuildIndex([]corpus.Document{{ID: "People/Sarah Chen.md", Title: "Sarah Chen"}})
	after := corpus.New().BuildIndex([]corpus.Document{{ID: "People/Alex Kim.md", Title: "Alex Kim"}})
	if before.Version() != after.Version() {
		t.Fatalf("versions %d and %d; both fresh indexes should start at the same version", before.Version(), after.Version())
	}

	first, _ := resolveWith(before)
	if first.Text != "[[Sarah Chen]] joined." {
		t.Fatalf("first resolve = %q", first.Text)
	}
	second, hit := resolveWith(after)
	if hit {
		t.Error("result computed for another corpus was served from cache")
	}
	if second.Text != text {
		t.Errorf("second resolve = %q, want %q", second.Text, text)
	}

	again := corpus.New().BuildIndex([]corpus.Document{{ID: "People/Sarah Chen.md", Title: "Sarah Chen"}})
	if _, hit := resolveWith(again); !hit {
		t.Error("identical corpus in a new index should reuse the cached result")
	}
}
