package linker

import (
	"regexp"
	"unicode"
	"unicode/utf8"
)

// MatchMode selects how a Matcher decides where a term starts and ends.
type MatchMode int

const (
	// ModeStandard uses regexp word boundaries (\b). Chosen when the term is
	// made only of ASCII letters, digits, underscores and spaces.
	ModeStandard MatchMode = iota
	// ModeCustomBoundary requires that the term is not touching a letter,
	// digit or underscore on either side. Used for terms such as "C++",
	// "Test-Driven-Development" or "José" where \b misplaces the edges.
	ModeCustomBoundary
)

func (m MatchMode) String() string {
	if m == ModeCustomBoundary {
		return "custom-boundary"
	}
	return "standard"
}

const customEdge = `[^\p{L}\p{N}_]`

// Matcher finds whole-term occurrences of one term, case-insensitively.
type Matcher struct {
	term string
	mode MatchMode
	re   *regexp.Regexp
	// group is the submatch holding the term itself.
	group int
}

// BuildMatcher compiles the boundary pattern for term. The term is always
// escaped, so any input yields a valid pattern.
func BuildMatcher(term string) *Matcher {
	quoted := regexp.QuoteMeta(term)
	if isPlainWordTerm(term) {
		return &Matcher{
			term:  term,
			mode:  ModeStandard,
			re:    regexp.MustCompile(`(?i)\b(` + quoted + `)\b`),
			group: 1,
		}
	}
	return &Matcher{
		term:  term,
		mode:  ModeCustomBoundary,
		re:    regexp.MustCompile(`(?i)(?:^|` + customEdge + `)(` + quoted + `)(?:$|` + customEdge + `)`),
		group: 1,
	}
}

// isPlainWordTerm reports whether term has no characters that break \b
// semantics: only ASCII word characters and spaces, starting and ending with a
// word character.
func isPlainWordTerm(term string) bool {
	if term == "" {
		return false
	}
	for i := 0; i < len(term); i++ {
		c := term[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		case c == ' ':
			if i == 0 || i == len(term)-1 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Term returns the term the matcher was built for.
func (m *Matcher) Term() string { return m.term }

// Mode reports which boundary rule the matcher applies.
func (m *Matcher) Mode() MatchMode { return m.mode }

// String returns the compiled pattern.
func (m *Matcher) String() string { return m.re.String() }

// Find returns the byte span of the first occurrence at or after offset from.
func (m *Matcher) Find(text string, from int) (start, end int, ok bool) {
	if from < 0 {
		from = 0
	}
	for from <= len(text) {
		loc := m.re.FindStringSubmatchIndex(text[from:])
		if loc == nil {
			return 0, 0, false
		}
		s, e := from+loc[2*m.group], from+loc[2*m.group+1]
		// The slice start looks like ^ to the pattern; the real left
		// neighbour has to be checked against the full text.
		if s == from && !m.leftBoundary(text, s) {
			from = nextRuneStart(text, s)
			continue
		}
		return s, e, true
	}
	return 0, 0, false
}

func (m *Matcher) leftBoundary(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	if m.mode == ModeStandard {
		return !isASCIIWord(r)
	}
	return !isWordRune(r)
}

func isASCIIWord(r rune) bool {
	return r < utf8.RuneSelf && (r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r))
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}

// Next returns the first occurrence that starts after the occurrence at
// start. Restarting one byte in keeps adjacent occurrences reachable even
// though the custom-boundary pattern consumes the delimiter around a match.
func (m *Matcher) Next(text string, start int) (int, int, bool) {
	return m.Find(text, nextRuneStart(text, start))
}

// FindAll returns every non-overlapping occurrence in order.
func (m *Matcher) FindAll(text string) [][2]int {
	var out [][2]int
	s, e, ok := m.Find(text, 0)
	for ok {
		out = append(out, [2]int{s, e})
		s, e, ok = m.Find(text, e)
	}
	return out
}

// Match reports whether term occurs anywhere in text.
func (m *Matcher) Match(text string) bool {
	_, _, ok := m.Find(text, 0)
	return ok
}

func nextRuneStart(text string, i int) int {
	i++
	for i < len(text) && text[i]&0xC0 == 0x80 {
		i++
	}
	return i
}
