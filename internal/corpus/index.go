// Package corpus maintains the term index over a vault of titled documents.
// Every title, declared alias and (optionally) significant title word is
// case-folded into a term. Terms naming exactly one document are exact
// matches; terms naming several are ambiguous and only ever offered as
// suggestions.
//
// Builds never mutate a published structure: each build produces a new
// immutable Snapshot which the Index swaps in atomically, so readers always
// observe a complete index.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

const defaultDebounce = 500 * time.Millisecond

// ErrNoSource is returned by Rebuild when no Source was configured and no
// documents were ever supplied to BuildIndex.
var ErrNoSource = errors.New("corpus: no document source configured")

// Source produces a complete document snapshot.
type Source interface {
	Load(ctx context.Context) ([]Document, error)
}

// BuildHook observes every published build.
type BuildHook func(stats BuildStats)

// Option configures an Index.
type Option func(*Index)

// WithSource sets the Source used by Rebuild and scheduled updates.
func WithSource(src Source) Option {
	return func(i *Index) {
		i.source = src
	}
}

// WithScheduler overrides the clock used for debouncing.
func WithScheduler(s Scheduler) Option {
	return func(i *Index) {
		i.scheduler = s
	}
}

// WithDebounce sets the quiet period for ScheduleIncrementalUpdate.
func WithDebounce(d time.Duration) Option {
	return func(i *Index) {
		if d > 0 {
			i.debounce = d
		}
	}
}

// WithLoadTimeout bounds how long a scheduled rebuild may spend loading.
func WithLoadTimeout(d time.Duration) Option {
	return func(i *Index) {
		i.loadTimeout = d
	}
}

// WithExtension sets the identifier suffix stripped from display names.
func WithExtension(ext string) Option {
	return func(i *Index) {
		i.opts.Extension = ext
	}
}

// WithMetadataReader sets the accessor consulted for explicit aliases.
func WithMetadataReader(r MetadataReader) Option {
	return func(i *Index) {
		i.opts.Metadata = r
	}
}

// WithBuildHook registers a hook run after each published build.
func WithBuildHook(h BuildHook) Option {
	return func(i *Index) {
		i.hooks = append(i.hooks, h)
	}
}

// Index owns the current Snapshot and the policy for rebuilding it.
type Index struct {
	mu       sync.Mutex
	opts     Options
	lastDocs []Document
	haveDocs bool

	// buildMu orders publication so versions are stored monotonically.
	buildMu sync.Mutex
	current atomic.Pointer[Snapshot]
	version atomic.Uint64

	source      Source
	scheduler   Scheduler
	debounce    time.Duration
	loadTimeout time.Duration
	debouncer   *Debouncer
	group       singleflight.Group
	hooks       []BuildHook
	logger      *slog.Logger
}

// New creates an Index holding an empty snapshot.
func New(opts ...Option) *Index {
	i := &Index{
		opts: Options{
			GenerateImplicitAliases: true,
			Extension:               DefaultExtension,
		},
		debounce:    defaultDebounce,
		loadTimeout: 30 * time.Second,
		logger:      slog.Default().With("component", "corpus-index"),
	}
	for _, o := range opts {
		o(i)
	}
	i.current.Store(emptySnapshot(i.opts.Extension))
	i.debouncer = NewDebouncer(i.scheduler, i.debounce, i.runScheduledUpdate)
	return i
}

// Configure replaces the exclusion list and implicit-alias switch. The change
// takes effect on the next build.
func (i *Index) Configure(excludedPrefixes []string, generateImplicitAliases bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.opts.ExcludedPrefixes = slices.Clone(excludedPrefixes)
	i.opts.GenerateImplicitAliases = generateImplicitAliases
}

// BuildIndex synchronously rebuilds from docs and publishes the result.
func (i *Index) BuildIndex(docs []Document) *Snapshot {
	i.mu.Lock()
	opts := i.opts
	opts.ExcludedPrefixes = slices.Clone(i.opts.ExcludedPrefixes)
	i.lastDocs = docs
	i.haveDocs = true
	i.mu.Unlock()

	i.buildMu.Lock()
	snap := Build(docs, opts, i.logger)
	snap.stats.Version = i.version.Add(1)
	i.current.Store(snap)
	i.buildMu.Unlock()

	i.logger.Info("corpus index built",
		"version", snap.stats.Version,
		"documents", snap.stats.Documents,
		"excluded", snap.stats.Excluded,
		"exact_terms", snap.stats.ExactTerms,
		"ambiguous_terms", snap.stats.AmbiguousTerms,
		"duration_ms", snap.stats.Duration.Milliseconds(),
	)
	for _, h := range i.hooks {
		h(snap.stats)
	}
	return snap
}

// Rebuild loads a fresh snapshot from the Source and builds it. Concurrent
// callers share one load. Without a Source the last documents passed to
// BuildIndex are rebuilt under the current configuration. On a load failure
// the published snapshot is left untouched.
func (i *Index) Rebuild(ctx context.Context) (*Snapshot, error) {
	v, err, _ := i.group.Do("rebuild", func() (any, error) {
		docs, err := i.loadDocuments(ctx)
		if err != nil {
			return nil, err
		}
		return i.BuildIndex(docs), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (i *Index) loadDocuments(ctx context.Context) ([]Document, error) {
	if i.source != nil {
		docs, err := i.source.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading documents: %w", err)
		}
		return docs, nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.haveDocs {
		return nil, ErrNoSource
	}
	return i.lastDocs, nil
}

// ScheduleIncrementalUpdate requests a rebuild once change notifications go
// quiet. Calls within the debounce window collapse into one rebuild.
func (i *Index) ScheduleIncrementalUpdate() {
	i.debouncer.Trigger()
}

// UpdatePending reports whether a debounced rebuild is waiting to run.
func (i *Index) UpdatePending() bool {
	return i.debouncer.Pending()
}

func (i *Index) runScheduledUpdate() {
	ctx := context.Background()
	if i.loadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.loadTimeout)
		defer cancel()
	}
	if _, err := i.Rebuild(ctx); err != nil {
		i.logger.Error("scheduled index update failed, keeping previous snapshot",
			"version", i.Snapshot().Version(),
			"error", err,
		)
	}
}

// Close cancels any pending scheduled update.
func (i *Index) Close() {
	i.debouncer.Stop()
}

// Snapshot returns the currently published snapshot. It is never nil.
func (i *Index) Snapshot() *Snapshot {
	return i.current.Load()
}

// LookupExact returns the document an exact term maps to.
func (i *Index) LookupExact(term string) (string, bool) {
	return i.Snapshot().LookupExact(term)
}

// LookupAmbiguous returns the candidates of an ambiguous term.
func (i *Index) LookupAmbiguous(term string) []string {
	return i.Snapshot().LookupAmbiguous(term)
}

// HasMatches reports whether term maps to any document.
func (i *Index) HasMatches(term string) bool {
	return i.Snapshot().HasMatches(term)
}

// SortedTerms returns every known term, longest first.
func (i *Index) SortedTerms() []string {
	return i.Snapshot().SortedTerms()
}

// DisplayName derives a document's display name from its identifier.
func (i *Index) DisplayName(id string) string {
	return i.Snapshot().DisplayName(id)
}
