// Package linker rewrites free text so that mentions of known documents become
// [[wiki-links]]. Terms are tried longest first; only the first occurrence of
// a term is linked, and terms naming several documents are returned as
// suggestions instead of links.
package linker

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/corpus"
)

// MinTermRunes is the shortest term the resolver will ever link.
const MinTermRunes = 3

// DefaultMaxCandidates is the ambiguity threshold used when none is configured.
const DefaultMaxCandidates = 3

// ErrInvalidMaxCandidates is returned for a non-positive ambiguity threshold.
var ErrInvalidMaxCandidates = errors.New("linker: max candidates must be positive")

// TermIndex is the read-only view of the corpus the resolver needs. Both
// *corpus.Snapshot and *corpus.Index satisfy it; pass a Snapshot so one call
// sees a single build.
type TermIndex interface {
	SortedTerms() []string
	LookupExact(term string) (string, bool)
	LookupAmbiguous(term string) []string
	DisplayName(id string) string
}

// Link is a reference inserted into the text. Start and End are byte offsets
// into the input text.
type Link struct {
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Term     string `json:"term"`
	Target   string `json:"target"`
	Name     string `json:"name"`
	Original string `json:"original"`
}

// Suggestion is an ambiguous mention with the display names it could refer to.
type Suggestion struct {
	Term       string   `json:"term"`
	Candidates []string `json:"candidates"`
}

// Result is the outcome of one resolve call.
type Result struct {
	Text        string       `json:"text"`
	Suggestions []Suggestion `json:"suggestions"`
	Links       []Link       `json:"links,omitempty"`
}

// Resolver holds the ambiguity threshold and a cache of compiled matchers.
// It is safe for concurrent use.
type Resolver struct {
	maxCandidates atomic.Int64
	matchers      sync.Map
}

// New returns a Resolver with the given ambiguity threshold.
func New(maxCandidates int) (*Resolver, error) {
	r := &Resolver{}
	if err := r.SetMaxCandidates(maxCandidates); err != nil {
		return nil, err
	}
	return r, nil
}

// SetMaxCandidates changes the threshold for subsequent calls. An ambiguous
// term with at most n candidates yields a suggestion; more yields nothing.
func (r *Resolver) SetMaxCandidates(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxCandidates, n)
	}
	r.maxCandidates.Store(int64(n))
	return nil
}

// MaxCandidates returns the current ambiguity threshold.
func (r *Resolver) MaxCandidates() int {
	return int(r.maxCandidates.Load())
}

// Resolve links text against idx using the configured threshold.
func (r *Resolver) Resolve(text string, idx TermIndex) Result {
	return r.ResolveWithThreshold(text, idx, r.MaxCandidates())
}

// ResolveWithThreshold links text using maxCandidates for this call only.
func (r *Resolver) ResolveWithThreshold(text string, idx TermIndex, maxCandidates int) Result {
	return resolve(text, idx, maxCandidates, r.matcher)
}

func (r *Resolver) matcher(term string) *Matcher {
	if m, ok := r.matchers.Load(term); ok {
		return m.(*Matcher)
	}
	m, _ := r.matchers.LoadOrStore(term, BuildMatcher(term))
	return m.(*Matcher)
}

// Resolve is the stateless form of Resolver.Resolve.
func Resolve(text string, idx TermIndex, maxCandidates int) Result {
	return resolve(text, idx, maxCandidates, BuildMatcher)
}

func resolve(text string, idx TermIndex, maxCandidates int, matcherFor func(string) *Matcher) Result {
	if text == "" {
		return Result{Text: "", Suggestions: []Suggestion{}}
	}

	protected := protectedSpans(text)
	var (
		accepted    []Link
		linked      = make(map[string]struct{})
		suggested   = make(map[string]struct{})
		suggestions = []Suggestion{}
	)

	for _, term := range idx.SortedTerms() {
		if corpus.TermLength(term) < MinTermRunes {
			continue
		}
		if claimedByLongerTerm(term, accepted) {
			continue
		}
		key := corpus.NormalizeTerm(term)
		if _, done := linked[key]; done {
			continue
		}

		m := matcherFor(term)
		start, end, ok := m.Find(text, 0)
		// Occurrences inside existing links are not prose; the first
		// occurrence outside them is the only one evaluated.
		for ok && protected.covers(start, end) {
			start, end, ok = m.Next(text, start)
		}
		if !ok || overlapsAny(start, end, accepted) {
			continue
		}
		original := text[start:end]

		if id, exact := idx.LookupExact(term); exact {
			accepted = append(accepted, Link{
				Start:    start,
				End:      end,
				Term:     key,
				Target:   id,
				Name:     idx.DisplayName(id),
				Original: original,
			})
			linked[key] = struct{}{}
			continue
		}

		ids := idx.LookupAmbiguous(term)
		if len(ids) < 2 || len(ids) > maxCandidates {
			continue
		}
		folded := strings.ToLower(original)
		if _, dup := suggested[folded]; dup {
			continue
		}
		suggested[folded] = struct{}{}
		candidates := make([]string, 0, len(ids))
		for _, id := range ids {
			candidates = append(candidates, idx.DisplayName(id))
		}
		suggestions = append(suggestions, Suggestion{Term: original, Candidates: candidates})
	}

	return Result{
		Text:        splice(text, accepted),
		Suggestions: suggestions,
		Links:       accepted,
	}
}

// claimedByLongerTerm reports whether term is a strict substring of a term
// that already produced a link.
func claimedByLongerTerm(term string, accepted []Link) bool {
	key := corpus.NormalizeTerm(term)
	for _, l := range accepted {
		if l.Term != key && strings.Contains(l.Term, key) {
			return true
		}
	}
	return false
}

func overlapsAny(start, end int, accepted []Link) bool {
	for _, l := range accepted {
		if start < l.End && l.Start < end {
			return true
		}
	}
	return false
}

// splice replaces every accepted span with its reference token. The result
// is the same as replacing from the end of the text backwards.
func splice(text string, links []Link) string {
	if len(links) == 0 {
		return text
	}
	ordered := make([]Link, len(links))
	copy(ordered, links)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start < ordered[j].Start })

	var b strings.Builder
	b.Grow(len(text) + len(ordered)*8)
	pos := 0
	for _, l := range ordered {
		b.WriteString(text[pos:l.Start])
		b.WriteString(FormatReference(l.Name, l.Original))
		pos = l.End
	}
	b.WriteString(text[pos:])
	return b.String()
}

// FormatReference renders a wiki reference. The short form is used only when
// the original text is identical to the display name.
func FormatReference(name, original string) string {
	if original == name {
		return "[[" + name + "]]"
	}
	return "[[" + name + "|" + original + "]]"
}
