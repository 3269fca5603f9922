package linker

import (
	"regexp"
	"sort"
	"strings"
)

// markdownLink matches an inline Markdown link, label and URL together.
var markdownLink = regexp.MustCompile(`\[[^\]]*\]\([^)]*\)`)

type span struct{ start, end int }

// spanSet is a sorted list of byte ranges that must not be rewritten.
type spanSet []span

// covers reports whether [start, end) touches any protected range.
func (s spanSet) covers(start, end int) bool {
	for _, p := range s {
		if p.start >= end {
			return false
		}
		if start < p.end {
			return true
		}
	}
	return false
}

// protectedSpans collects the ranges of existing wiki references and Markdown
// links. A "[[" without a matching "]]" protects the rest of the text, which
// is the same as counting unmatched openers before a position.
func protectedSpans(text string) spanSet {
	var spans spanSet

	depth, open := 0, 0
	for i := 0; i+1 < len(text); {
		switch {
		case text[i] == '[' && text[i+1] == '[':
			if depth == 0 {
				open = i
			}
			depth++
			i += 2
		case text[i] == ']' && text[i+1] == ']' && depth > 0:
			depth--
			i += 2
			if depth == 0 {
				spans = append(spans, span{open, i})
			}
		default:
			i++
		}
	}
	if depth > 0 {
		spans = append(spans, span{open, len(text)})
	}

	if strings.Contains(text, "](") {
		for _, loc := range markdownLink.FindAllStringIndex(text, -1) {
			spans = append(spans, span{loc[0], loc[1]})
		}
	}
	return spans.normalize()
}

// normalize sorts and merges overlapping ranges.
func (s spanSet) normalize() spanSet {
	if len(s) < 2 {
		return s
	}
	sort.Slice(s, func(i, j int) bool { return s[i].start < s[j].start })
	out := s[:1]
	for _, p := range s[1:] {
		last := &out[len(out)-1]
		if p.start <= last.end {
			if p.end > last.end {
				last.end = p.end
			}
			continue
		}
		out = append(out, p)
	}
	return out
}
