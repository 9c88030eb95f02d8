package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/logger"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/pkg/types"
)

// NoteExtension is the file extension of indexable notes
const NoteExtension = ".md"

// Vault is a Source over a directory of markdown notes. Document paths are
// slash separated and relative to the vault root.
type Vault struct {
	root string
	name string
}

// NewVault opens the vault rooted at root. An empty name defaults to the
// root's base name.
func NewVault(root, name string) (*Vault, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve vault root: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open vault: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, abs)
	}

	if name == "" {
		name = filepath.Base(abs)
	}
	return &Vault{root: abs, name: name}, nil
}

// Name returns the vault name
func (v *Vault) Name() string {
	return v.name
}

// Root returns the absolute vault directory
func (v *Vault) Root() string {
	return v.root
}

// ListDocuments walks the vault and reads every note outside hidden
// directories, sorted by path
func (v *Vault) ListDocuments(ctx context.Context) ([]types.Document, error) {
	var docs []types.Document

	err := filepath.WalkDir(v.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if d.IsDir() {
			if p != v.root && isHidden(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !isNote(d.Name()) || isHidden(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(v.root, p)
		if err != nil {
			return err
		}
		doc, err := v.load(filepath.ToSlash(rel), p)
		if err != nil {
			return err
		}
		docs = append(docs, *doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list vault %s: %w", v.name, err)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, nil
}

// ReadDocument reads a single note by its vault relative path. Hidden
// paths and non-note files are refused with ErrInvalidPath, matching what
// ListDocuments would return.
func (v *Vault) ReadDocument(ctx context.Context, docPath string) (*types.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	abs, rel, err := v.resolve(docPath)
	if err != nil {
		return nil, err
	}
	if !isNote(rel) || hasHiddenSegment(rel) {
		return nil, fmt.Errorf("%w: %q is not a note", ErrInvalidPath, docPath)
	}
	return v.load(rel, abs)
}

// Watch reports removed and renamed notes until ctx is done. Directories
// created while watching are added so nested deletions are seen too.
func (v *Vault) Watch(ctx context.Context, onDeleted func(path string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := v.addDirs(watcher, v.root); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if event.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					if addErr := v.addDirs(watcher, event.Name); addErr != nil {
						logger.Warn("Could not watch %s: %v", event.Name, addErr)
					}
				}
			}

			if rel, deleted := v.handleEvent(event); deleted {
				onDeleted(rel)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Vault watcher error: %v", err)
		}
	}
}

// handleEvent maps a filesystem event to the relative path of a deleted
// note. Events for directories, hidden paths and non-notes are ignored.
func (v *Vault) handleEvent(event fsnotify.Event) (string, bool) {
	if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
		return "", false
	}
	if !isNote(event.Name) {
		return "", false
	}

	rel, err := filepath.Rel(v.root, event.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if hasHiddenSegment(rel) {
		return "", false
	}
	return rel, true
}

// addDirs watches dir and every non-hidden directory below it
func (v *Vault) addDirs(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != v.root && isHidden(d.Name()) {
			return filepath.SkipDir
		}
		if err := watcher.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		return nil
	})
}

// resolve maps a vault relative path to an absolute file path, refusing
// paths that leave the vault
func (v *Vault) resolve(docPath string) (string, string, error) {
	rel := path.Clean(strings.TrimPrefix(filepath.ToSlash(docPath), "/"))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, docPath)
	}
	return filepath.Join(v.root, filepath.FromSlash(rel)), rel, nil
}

func (v *Vault) load(rel, abs string) (*types.Document, error) {
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", types.ErrDocumentNotFound, rel)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", rel, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrInvalidPath, rel)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rel, err)
	}

	meta, body := splitFrontmatter(string(data))
	base := path.Base(rel)

	return &types.Document{
		Path:       rel,
		Title:      strings.TrimSuffix(base, path.Ext(base)),
		Content:    body,
		ModifiedAt: info.ModTime(),
		Metadata:   meta,
	}, nil
}

func isNote(name string) bool {
	return strings.EqualFold(filepath.Ext(name), NoteExtension)
}

// isHidden reports whether a single path element is hidden. "." and ".."
// are not.
func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

func hasHiddenSegment(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if isHidden(seg) {
			return true
		}
	}
	return false
}
