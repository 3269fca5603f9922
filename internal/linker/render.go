package linker

import (
	"strings"
)

// UnresolvedHeading titles the section produced by RenderSuggestions.
const UnresolvedHeading = "## Unresolved mentions"

// RenderSuggestions formats suggestions as a Markdown section listing each
// ambiguous mention with its candidate references. No suggestions renders "".
func RenderSuggestions(suggestions []Suggestion) string {
	if len(suggestions) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(UnresolvedHeading)
	b.WriteString("\n\n")
	for _, s := range suggestions {
		b.WriteString("- \"")
		b.WriteString(s.Term)
		b.WriteString("\" could refer to: ")
		for i, c := range s.Candidates {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("[[")
			b.WriteString(c)
			b.WriteString("]]")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// AppendSuggestions returns text followed by the rendered suggestion section,
// separated by a blank line.
func AppendSuggestions(text string, suggestions []Suggestion) string {
	section := RenderSuggestions(suggestions)
	if section == "" {
		return text
	}
	return strings.TrimRight(text, "\n") + "\n\n" + section
}
