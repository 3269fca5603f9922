package corpus

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// minImplicitWordRunes is the exclusive lower bound for a title word to
	// become an implicit alias.
	minImplicitWordRunes = 3

	// DefaultExtension is stripped from identifiers when deriving display names.
	DefaultExtension = ".md"
)

// NormalizeTerm case-folds s into a lookup key. Surrounding whitespace is
// dropped; an all-space input yields "".
func NormalizeTerm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// TermLength reports the length of a term in characters (runes), the unit all
// length thresholds are expressed in.
func TermLength(term string) int {
	return utf8.RuneCountInString(term)
}

// SignificantWords splits a multi-word title on whitespace and returns the
// words longer than three characters. Single-word titles yield nothing since
// the title itself is already a term.
func SignificantWords(title string) []string {
	if !strings.ContainsFunc(title, unicode.IsSpace) {
		return nil
	}
	words := strings.Fields(title)
	out := make([]string, 0, len(words))
	for _, w := range words {
		if TermLength(w) > minImplicitWordRunes {
			out = append(out, w)
		}
	}
	return out
}

// DisplayName derives the human-facing name of a document from its
// identifier: the extension suffix is stripped (case-insensitively) and the
// final path segment is returned. "People/Sarah Chen.md" becomes "Sarah Chen".
func DisplayName(id, ext string) string {
	name := id
	if ext != "" && len(name) > len(ext) && strings.EqualFold(name[len(name)-len(ext):], ext) {
		name = name[:len(name)-len(ext)]
	}
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// IsExcluded reports whether id lives under one of the excluded folders.
// Matching is on folder boundaries: "Archive" excludes "Archive/x.md" but not
// "ArchiveX/x.md".
func IsExcluded(id string, prefixes []string) bool {
	for _, p := range prefixes {
		p = strings.Trim(strings.TrimSpace(p), "/")
		if p == "" {
			continue
		}
		if id == p || strings.HasPrefix(id, p+"/") {
			return true
		}
	}
	return false
}
