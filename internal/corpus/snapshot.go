package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"slices"
	"sort"
	"time"
)

// Document is a titled, linkable entry of the corpus. ID is a stable
// path-like identifier. Aliases must already be normalised to a plain list;
// see vault.NormalizeAliases.
type Document struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Aliases []string `json:"aliases,omitempty"`
}

// MetadataReader supplies explicit aliases for a document at build time.
// An error means the document is indexed by its title only.
type MetadataReader interface {
	Aliases(doc Document) ([]string, error)
}

// Options controls how documents become terms. It is copied into every build.
type Options struct {
	ExcludedPrefixes        []string
	GenerateImplicitAliases bool
	Extension               string
	Metadata                MetadataReader
}

// BuildStats summarises one build.
type BuildStats struct {
	Version        uint64        `json:"version"`
	Documents      int           `json:"documents"`
	Excluded       int           `json:"excluded"`
	MetadataErrors int           `json:"metadata_errors"`
	ExactTerms     int           `json:"exact_terms"`
	AmbiguousTerms int           `json:"ambiguous_terms"`
	ImplicitTerms  int           `json:"implicit_terms"`
	Fingerprint    string        `json:"fingerprint"`
	Duration       time.Duration `json:"duration"`
	BuiltAt        time.Time     `json:"built_at"`
}

// Snapshot is an immutable view of the index produced by one build. All
// methods are safe for concurrent use.
type Snapshot struct {
	exact     map[string]string
	ambiguous map[string][]string
	sorted    []string
	ext       string
	stats     BuildStats
}

// termEntry accumulates the identifiers registered under one term.
type termEntry struct {
	ids      []string
	seen     map[string]struct{}
	explicit bool
}

func (e *termEntry) add(id string, explicit bool) {
	if explicit {
		e.explicit = true
	}
	if _, dup := e.seen[id]; dup {
		return
	}
	e.seen[id] = struct{}{}
	e.ids = append(e.ids, id)
}

func emptySnapshot(ext string) *Snapshot {
	return &Snapshot{
		exact:     map[string]string{},
		ambiguous: map[string][]string{},
		sorted:    []string{},
		ext:       ext,
	}
}

// Build derives a fresh Snapshot from docs. It never fails: documents with
// empty titles contribute only their aliases and unreadable metadata is
// logged and skipped.
func Build(docs []Document, opts Options, logger *slog.Logger) *Snapshot {
	start := time.Now()
	if logger == nil {
		logger = slog.Default()
	}
	ext := opts.Extension
	if ext == "" {
		ext = DefaultExtension
	}

	entries := make(map[string]*termEntry)
	register := func(raw, id string, explicit bool) {
		term := NormalizeTerm(raw)
		if term == "" {
			return
		}
		e, ok := entries[term]
		if !ok {
			e = &termEntry{seen: make(map[string]struct{}, 1)}
			entries[term] = e
		}
		e.add(id, explicit)
	}

	stats := BuildStats{}
	for _, doc := range docs {
		if IsExcluded(doc.ID, opts.ExcludedPrefixes) {
			stats.Excluded++
			continue
		}
		stats.Documents++

		register(doc.Title, doc.ID, true)

		aliases := doc.Aliases
		if opts.Metadata != nil {
			read, err := opts.Metadata.Aliases(doc)
			if err != nil {
				stats.MetadataErrors++
				logger.Warn("document metadata unreadable, indexing title only",
					"doc_id", doc.ID,
					"error", err,
				)
				aliases = nil
			} else {
				aliases = read
			}
		}
		for _, alias := range aliases {
			register(alias, doc.ID, true)
		}

		if opts.GenerateImplicitAliases {
			for _, word := range SignificantWords(doc.Title) {
				register(word, doc.ID, false)
			}
		}
	}

	snap := &Snapshot{
		exact:     make(map[string]string, len(entries)),
		ambiguous: make(map[string][]string),
		sorted:    make([]string, 0, len(entries)),
		ext:       ext,
	}
	for term, e := range entries {
		switch len(e.ids) {
		case 0:
			continue
		case 1:
			snap.exact[term] = e.ids[0]
		default:
			snap.ambiguous[term] = e.ids
		}
		if !e.explicit {
			stats.ImplicitTerms++
		}
		snap.sorted = append(snap.sorted, term)
	}
	sortTerms(snap.sorted)

	stats.Fingerprint = snap.fingerprint()
	stats.ExactTerms = len(snap.exact)
	stats.AmbiguousTerms = len(snap.ambiguous)
	stats.BuiltAt = time.Now().UTC()
	stats.Duration = time.Since(start)
	snap.stats = stats
	return snap
}

// fingerprint hashes everything a resolve reads from the snapshot: the term
// list in order, each term's targets in order and the extension that display
// names are derived from. Builds over the same corpus and configuration
// share a fingerprint in any process.
func (s *Snapshot) fingerprint() string {
	h := sha256.New()
	field := func(v string, sep byte) {
		h.Write([]byte(v))
		h.Write([]byte{sep})
	}
	field(s.ext, 0)
	for _, term := range s.sorted {
		field(term, 0)
		if id, ok := s.exact[term]; ok {
			field(id, 0)
			continue
		}
		for _, id := range s.ambiguous[term] {
			field(id, 1)
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// sortTerms orders terms longest first. Equal lengths fall back to byte order
// so repeated builds yield the same list.
func sortTerms(terms []string) {
	sort.Slice(terms, func(i, j int) bool {
		li, lj := TermLength(terms[i]), TermLength(terms[j])
		if li != lj {
			return li > lj
		}
		return terms[i] < terms[j]
	})
}

// LookupExact returns the single document a term maps to.
func (s *Snapshot) LookupExact(term string) (string, bool) {
	id, ok := s.exact[NormalizeTerm(term)]
	return id, ok
}

// LookupAmbiguous returns the candidates of an ambiguous term, or nil.
func (s *Snapshot) LookupAmbiguous(term string) []string {
	ids, ok := s.ambiguous[NormalizeTerm(term)]
	if !ok {
		return nil
	}
	return slices.Clone(ids)
}

// HasMatches reports whether term maps to at least one document.
func (s *Snapshot) HasMatches(term string) bool {
	term = NormalizeTerm(term)
	if _, ok := s.exact[term]; ok {
		return true
	}
	_, ok := s.ambiguous[term]
	return ok
}

// SortedTerms returns every known term, longest first.
func (s *Snapshot) SortedTerms() []string {
	return slices.Clone(s.sorted)
}

// DisplayName returns the display name for a document identifier.
func (s *Snapshot) DisplayName(id string) string {
	return DisplayName(id, s.ext)
}

// Stats returns the statistics recorded when the snapshot was built.
func (s *Snapshot) Stats() BuildStats {
	return s.stats
}

// Version identifies the build that produced the snapshot; 0 means never built.
func (s *Snapshot) Version() uint64 {
	return s.stats.Version
}

// Fingerprint is a content hash of the snapshot's terms and targets. Unlike
// Version it is stable across processes, so it can key shared caches.
func (s *Snapshot) Fingerprint() string {
	return s.stats.Fingerprint
}

// Built reports whether the snapshot came from a build.
func (s *Snapshot) Built() bool {
	return s.stats.Version > 0
}
