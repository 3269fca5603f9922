package linker

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/corpus"
)

func buildSnapshot(t *testing.T, implicit bool, docs ...corpus.Document) *corpus.Snapshot {
	t.Helper()
	idx := corpus.New()
	idx.Configure(nil, implicit)
	return idx.BuildIndex(docs)
}

func doc(id string, aliases ...string) corpus.Document {
	return corpus.Document{ID: id, Title: corpus.DisplayName(id, ".md"), Aliases: aliases}
}

func TestResolveLongestMatchWins(t *testing.T) {
	snap := buildSnapshot(t, true, doc("Projects/Phoenix.md"), doc("Projects/Project Phoenix.md"))
	res := Resolve("Working on Project Phoenix today.", snap, DefaultMaxCandidates)

	if want := "Working on [[Project Phoenix]] today."; res.Text != want {
		t.Errorf("Text = %q, want %q", res.Text, want)
	}
	if strings.Contains(res.Text, "[[Phoenix]]") {
		t.Error("short alias claimed text owned by the longer title")
	}
}

func TestResolveLinksFirstOccurrenceOnly(t *testing.T) {
	snap := buildSnapshot(t, true, doc("People/Sarah Chen.md"))
	res := Resolve("Sarah Chen met with Sarah Chen about the project.", snap, DefaultMaxCandidates)

	want := "[[Sarah Chen]] met with Sarah Chen about the project."
	if res.Text != want {
		t.Errorf("Text = %q, want %q", res.Text, want)
	}
	if n := strings.Count(res.Text, "[[Sarah Chen]]"); n != 1 {
		t.Errorf("found %d references, want 1", n)
	}
	if len(res.Links) != 1 || res.Links[0].Target != "People/Sarah Chen.md" {
		t.Errorf("Links = %+v", res.Links)
	}
}

func TestResolvePreservesCase(t *testing.T) {
	snap := buildSnapshot(t, true, doc("People/Sarah Chen.md"), doc("Projects/Project Phoenix.md"))

	tests := []struct {
		name, text, want string
	}{
		{
			name: "different casing uses display form",
			text: "SARAH CHEN is working on project phoenix.",
			want: "[[Sarah Chen|SARAH CHEN]] is working on [[Project Phoenix|project phoenix]].",
		},
		{
			name: "exact casing uses short form",
			text: "Sarah Chen is working on Project Phoenix.",
			want: "[[Sarah Chen]] is working on [[Project Phoenix]].",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.text, snap, DefaultMaxCandidates).Text; got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveAliasUsesDisplayForm(t *testing.T) {
	snap := buildSnapshot(t, false, doc("People/Sarah Chen.md", "Dr. Chen"))
	got := Resolve("Ask Dr. Chen first.", snap, DefaultMaxCandidates).Text
	if want := "Ask [[Sarah Chen|Dr. Chen]] first."; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolveSkipsExistingLinks(t *testing.T) {
	snap := buildSnapshot(t, true, doc("People/Sarah Chen.md"))

	tests := []struct {
		name, text, want string
	}{
		{
			name: "wiki link",
			text: "See [[Sarah Chen Notes]] for details about Sarah Chen.",
			want: "See [[Sarah Chen Notes]] for details about [[Sarah Chen]].",
		},
		{
			name: "aliased wiki link",
			text: "See [[Other|Sarah Chen]] and Sarah Chen.",
			want: "See [[Other|Sarah Chen]] and [[Sarah Chen]].",
		},
		{
			name: "markdown link label and url",
			text: "Read [Sarah Chen](https://example.com/Sarah Chen) then ask Sarah Chen.",
			want: "Read [Sarah Chen](https://example.com/Sarah Chen) then ask [[Sarah Chen]].",
		},
		{
			name: "unclosed wiki link protects the rest",
			text: "Broken [[Sarah Chen and more Sarah Chen",
			want: "Broken [[Sarah Chen and more Sarah Chen",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.text, snap, DefaultMaxCandidates).Text; got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

// A term whose first unprotected occurrence is rejected for overlapping a
// longer link is not retried further along the text.
func TestResolveEvaluatesOnlyFirstOccurrence(t *testing.T) {
	snap := buildSnapshot(t, false, doc("People/Sarah Chen.md"), doc("People/Chen Wei.md"))
	got := Resolve("Sarah Chen Wei joined. Later Chen Wei spoke.", snap, DefaultMaxCandidates).Text
	if want := "[[Sarah Chen]] Wei joined. Later Chen Wei spoke."; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolveAmbiguityThreshold(t *testing.T) {
	names := []string{"Alex Kim", "Alex Wu", "Alex Ray", "Alex Poe"}
	makeDocs := func(n int) []corpus.Document {
		docs := make([]corpus.Document, 0, n)
		for _, name := range names[:n] {
			docs = append(docs, doc("People/"+name+".md"))
		}
		return docs
	}

	tests := []struct {
		name           string
		docs           int
		wantCandidates []string
	}{
		{"two candidates", 2, []string{"Alex Kim", "Alex Wu"}},
		{"exactly at threshold", 3, []string{"Alex Kim", "Alex Wu", "Alex Ray"}},
		{"over threshold", 4, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := buildSnapshot(t, true, makeDocs(tt.docs)...)
			text := "alex joined the call."
			res := Resolve(text, snap, 3)

			if res.Text != text {
				t.Errorf("ambiguous term must not be linked: %q", res.Text)
			}
			if tt.wantCandidates == nil {
				if len(res.Suggestions) != 0 {
					t.Errorf("Suggestions = %+v, want none", res.Suggestions)
				}
				return
			}
			if len(res.Suggestions) != 1 {
				t.Fatalf("Suggestions = %+v, want one", res.Suggestions)
			}
			s := res.Suggestions[0]
			if s.Term != "alex" {
				t.Errorf("suggestion term = %q, want original substring %q", s.Term, "alex")
			}
			if !reflect.DeepEqual(s.Candidates, tt.wantCandidates) {
				t.Errorf("Candidates = %v, want %v", s.Candidates, tt.wantCandidates)
			}
		})
	}
}

func TestResolveWordBoundaries(t *testing.T) {
	snap := buildSnapshot(t, true, doc("Tech/API.md"))
	got := Resolve("The API documentation is at API.md and myAPI.", snap, DefaultMaxCandidates).Text
	if want := "The [[API]] documentation is at API.md and myAPI."; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if strings.Count(got, "[[API]]") != 1 {
		t.Errorf("want exactly one reference in %q", got)
	}
}

func TestResolveSpecialCharacterTerms(t *testing.T) {
	snap := buildSnapshot(t, true,
		doc("Tech/C++.md"),
		doc("Practices/Test-Driven-Development.md"),
		doc("People/José.md"),
		doc("Odd/a.b*c(d.md"),
	)
	tests := []struct {
		text, want string
	}{
		{"I like C++ and C++11.", "I like [[C++]] and C++11."},
		{"We use test-driven-development daily.", "We use [[Test-Driven-Development|test-driven-development]] daily."},
		{"Met José today.", "Met [[José]] today."},
		{"Met Josémaria today.", "Met Josémaria today."},
		{"weird a.b*c(d token", "weird [[a.b*c(d]] token"},
		{"weird aXb*c(d token", "weird aXb*c(d token"},
	}
	for _, tt := range tests {
		if got := Resolve(tt.text, snap, DefaultMaxCandidates).Text; got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestResolveSkipsShortTerms(t *testing.T) {
	snap := buildSnapshot(t, true, doc("Topics/AB.md"), doc("People/Sarah Chen.md", "SC"))
	text := "AB and SC met."
	res := Resolve(text, snap, DefaultMaxCandidates)
	if res.Text != text {
		t.Errorf("short terms were linked: %q", res.Text)
	}
	if !snap.HasMatches("sc") {
		t.Error("short explicit alias should still be indexed")
	}
}

func TestResolveEmptyText(t *testing.T) {
	snap := buildSnapshot(t, true, doc("People/Sarah Chen.md"))
	res := Resolve("", snap, DefaultMaxCandidates)
	if res.Text != "" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Suggestions == nil || len(res.Suggestions) != 0 {
		t.Errorf("Suggestions = %#v, want empty non-nil", res.Suggestions)
	}
}

func TestResolveAgainstUnbuiltIndex(t *testing.T) {
	text := "Sarah Chen met Alex."
	res := Resolve(text, corpus.New(), DefaultMaxCandidates)
	if res.Text != text || len(res.Suggestions) != 0 {
		t.Errorf("unbuilt index changed output: %+v", res)
	}
}

func TestResolveIsDeterministicAndPure(t *testing.T) {
	snap := buildSnapshot(t, true,
		doc("People/Sarah Chen.md", "Sarah"),
		doc("People/Sarah Miller.md"),
		doc("Projects/Project Phoenix.md"),
		doc("Projects/Phoenix.md"),
	)
	before := snap.SortedTerms()
	text := "Sarah said Project Phoenix slipped; sarah chen and Phoenix agree."

	r, err := New(3)
	if err != nil {
		t.Fatal(err)
	}
	first := r.Resolve(text, snap)
	for i := 0; i < 10; i++ {
		if again := r.Resolve(text, snap); !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs:\n%+v\n%+v", i, first, again)
		}
	}
	if !reflect.DeepEqual(before, snap.SortedTerms()) {
		t.Error("resolve mutated the index")
	}
	if first.Text != "Sarah said [[Project Phoenix]] slipped; [[Sarah Chen|sarah chen]] and Phoenix agree." {
		t.Errorf("Text = %q", first.Text)
	}
}

func TestSetMaxCandidates(t *testing.T) {
	if _, err := New(0); !errors.Is(err, ErrInvalidMaxCandidates) {
		t.Errorf("New(0) err = %v", err)
	}
	r, err := New(3)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.SetMaxCandidates(-1); !errors.Is(err, ErrInvalidMaxCandidates) {
		t.Errorf("SetMaxCandidates(-1) err = %v", err)
	}
	if r.MaxCandidates() != 3 {
		t.Errorf("rejected value changed threshold to %d", r.MaxCandidates())
	}

	snap := buildSnapshot(t, true, doc("People/Alex Kim.md"), doc("People/Alex Wu.md"), doc("People/Alex Ray.md"))
	if len(r.Resolve("alex spoke", snap).Suggestions) != 1 {
		t.Error("expected suggestion at threshold 3")
	}
	if err := r.SetMaxCandidates(2); err != nil {
		t.Fatal(err)
	}
	if len(r.Resolve("alex spoke", snap).Suggestions) != 0 {
		t.Error("lowered threshold should suppress the suggestion")
	}
}

func TestRenderSuggestions(t *testing.T) {
	if RenderSuggestions(nil) != "" {
		t.Error("no suggestions should render nothing")
	}
	got := AppendSuggestions("Body text.\n", []Suggestion{
		{Term: "Alex", Candidates: []string{"Alex Kim", "Alex Wu"}},
	})
	want := "Body text.\n\n## Unresolved mentions\n\n- \"Alex\" could refer to: [[Alex Kim]], [[Alex Wu]]\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func BenchmarkResolve(b *testing.B) {
	idx := corpus.New()
	var docs []corpus.Document
	for _, first := range []string{"Sarah", "Alex", "Priya", "Tom", "Mina", "Jonas"} {
		for _, last := range []string{"Chen", "Kim", "Garcia", "Okafor", "Novak"} {
			docs = append(docs, doc("People/"+first+" "+last+".md"))
		}
	}
	snap := idx.BuildIndex(docs)
	text := strings.Repeat("Sarah Chen and Priya Garcia reviewed the Okafor plan with Jonas. ", 40)
	r, _ := New(DefaultMaxCandidates)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Resolve(text, snap)
	}
}
