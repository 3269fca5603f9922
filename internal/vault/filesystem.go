package vault

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/corpus"
	apperrors "github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/errors"
)

// FilesystemSource lists the notes of a vault directory. Document IDs are
// slash-separated paths relative to the root. It also implements
// corpus.MetadataReader, reading aliases from each note's frontmatter when
// the index is built.
type FilesystemSource struct {
	root   string
	ext    string
	logger *slog.Logger
}

// NewFilesystemSource returns a source for the notes under root whose names
// end in ext (".md" when empty).
func NewFilesystemSource(root, ext string) *FilesystemSource {
	if ext == "" {
		ext = corpus.DefaultExtension
	}
	return &FilesystemSource{
		root:   root,
		ext:    ext,
		logger: slog.Default().With("component", "vault-fs", "root", root),
	}
}

// Root returns the vault directory.
func (s *FilesystemSource) Root() string { return s.root }

// Load walks the vault and returns one document per note, titled by its
// file name. Hidden directories such as .obsidian and .git are skipped.
func (s *FilesystemSource) Load(ctx context.Context) ([]corpus.Document, error) {
	info, err := os.Stat(s.root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrSourceUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", apperrors.ErrSourceUnavailable, s.root)
	}

	var docs []corpus.Document
	err = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn("skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		name := d.Name()
		if d.IsDir() {
			if path != s.root && strings.HasPrefix(name, ".") {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !hasExtension(name, s.ext) {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return nil
		}
		id := filepath.ToSlash(rel)
		docs = append(docs, corpus.Document{
			ID:    id,
			Title: name[:len(name)-len(s.ext)],
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking vault %s: %w", s.root, err)
	}
	s.logger.Debug("vault scanned", "documents", len(docs))
	return docs, nil
}

// Aliases reads the frontmatter aliases of doc from disk.
func (s *FilesystemSource) Aliases(doc corpus.Document) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(doc.ID)))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", doc.ID, err)
	}
	fm, err := ParseFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", doc.ID, err)
	}
	return fm.Aliases(), nil
}

// LoadWithAliases returns the documents with aliases already attached, for
// callers that hand documents to another store. Notes whose frontmatter
// cannot be read keep an empty alias list.
func (s *FilesystemSource) LoadWithAliases(ctx context.Context) ([]corpus.Document, error) {
	docs, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		aliases, err := s.Aliases(docs[i])
		if err != nil {
			s.logger.Warn("note metadata unreadable", "doc_id", docs[i].ID, "error", err)
			continue
		}
		docs[i].Aliases = aliases
	}
	return docs, nil
}

func hasExtension(name, ext string) bool {
	return len(name) > len(ext) && strings.EqualFold(name[len(name)-len(ext):], ext)
}
