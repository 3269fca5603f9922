// Package vault loads corpus documents from where the notes live: a Markdown
// vault on disk or the vault_documents table in PostgreSQL. It is the single
// place where loosely typed alias metadata is normalised to []string.
package vault

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	fenceOpen = []byte("---")
	bomPrefix = []byte("\xef\xbb\xbf")
	aliasKeys = []string{"aliases", "alias"}
)

// Frontmatter is the YAML block at the top of a note.
type Frontmatter map[string]any

// SplitFrontmatter separates a leading "---" fenced YAML block from the body.
// ok is false when the note has no frontmatter. A block opened but never
// closed is treated as body text.
func SplitFrontmatter(data []byte) (block, body []byte, ok bool) {
	data = bytes.TrimPrefix(data, bomPrefix)
	first, rest, found := cutLine(data)
	if !found || !bytes.Equal(bytes.TrimRight(first, " \t"), fenceOpen) {
		return nil, data, false
	}
	start := len(data) - len(rest)
	pos := start
	for pos < len(data) {
		line, next, _ := cutLine(data[pos:])
		trimmed := bytes.TrimRight(line, " \t")
		if bytes.Equal(trimmed, fenceOpen) || bytes.Equal(trimmed, []byte("...")) {
			return data[start:pos], next, true
		}
		pos = len(data) - len(next)
	}
	return nil, data, false
}

// cutLine returns the first line without its terminator and the remainder.
func cutLine(data []byte) (line, rest []byte, found bool) {
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return data, nil, len(data) > 0
	}
	return bytes.TrimSuffix(data[:i], []byte("\r")), data[i+1:], true
}

// ParseFrontmatter decodes the frontmatter of a note. A note without one
// yields an empty map.
func ParseFrontmatter(data []byte) (Frontmatter, error) {
	block, _, ok := SplitFrontmatter(data)
	if !ok {
		return Frontmatter{}, nil
	}
	fm := Frontmatter{}
	if err := yaml.Unmarshal(block, &fm); err != nil {
		return nil, fmt.Errorf("parsing frontmatter: %w", err)
	}
	if fm == nil {
		fm = Frontmatter{}
	}
	return fm, nil
}

// Aliases returns the declared aliases, accepting "aliases" or "alias" keys
// in any letter case, each as a scalar or a list.
func (fm Frontmatter) Aliases() []string {
	var out []string
	for _, want := range aliasKeys {
		for k, v := range fm {
			if strings.EqualFold(k, want) {
				out = append(out, NormalizeAliases(v)...)
			}
		}
	}
	return out
}

// NormalizeAliases converts an alias field of unknown shape to a list of
// trimmed, non-empty strings. nil yields nil; a scalar yields one entry;
// non-string scalars are formatted with fmt.
func NormalizeAliases(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
		return nil
	case []string:
		out := make([]string, 0, len(t))
		for _, s := range t {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, NormalizeAliases(item)...)
		}
		return out
	case map[string]any:
		return nil
	default:
		return NormalizeAliases(fmt.Sprint(t))
	}
}
