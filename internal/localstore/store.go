// Package localstore implements the engine's local store contract on top of
// a plain directory tree.
package localstore

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	gosync "sync"

	"github.com/vaultsync/vaultsync/internal/sync"
)

// Store scans and mutates files under a single vault root. Entries are keyed
// by slash-separated vault-relative paths. Scans reuse content hashes from
// the previous scan when a file's size and mtime both match, so repeated
// syncs over an unchanged vault never re-read file contents.
type Store struct {
	root     string
	ignore   *IgnoreList
	mu       gosync.Mutex
	lastScan map[string]*sync.LocalEntry
}

var _ sync.LocalStore = (*Store)(nil)

func New(root string, ignore *IgnoreList) *Store {
	if ignore == nil {
		ignore = NewIgnoreList()
	}
	return &Store{
		root:     root,
		ignore:   ignore,
		lastScan: make(map[string]*sync.LocalEntry),
	}
}

func (s *Store) Root() string { return s.root }

// Scan walks the vault and returns one entry per present, non-ignored file.
func (s *Store) Scan(ctx context.Context) (map[string]*sync.LocalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	newState := make(map[string]*sync.LocalEntry)

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("walk: %w", walkErr)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		relPath, err := filepath.Rel(s.root, path)
		if err != nil {
			return fmt.Errorf("walk rel path: %w", err)
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if relPath != "." && s.ignore.Match(relPath+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if s.ignore.Match(relPath) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			slog.Warn("stat failed, skipping", "path", relPath, "error", err)
			return nil
		}

		var hash string
		if prev, ok := s.lastScan[relPath]; ok && prev.Size == info.Size() && prev.ModTime.Equal(info.ModTime()) {
			hash = prev.ContentHash
		} else {
			hash, err = hashFile(path)
			if err != nil {
				slog.Warn("hash failed, skipping", "path", relPath, "error", err)
				return nil
			}
		}

		newState[relPath] = &sync.LocalEntry{
			Path:        relPath,
			ContentHash: hash,
			ModTime:     info.ModTime(),
			Size:        info.Size(),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("local scan: %w", err)
	}

	s.lastScan = newState
	return newState, nil
}

func (s *Store) Read(relPath string) ([]byte, error) {
	return os.ReadFile(s.abs(relPath))
}

func (s *Store) Write(relPath string, data []byte) error {
	abs := s.abs(relPath)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create parent dirs: %w", err)
	}
	return os.WriteFile(abs, data, 0o644)
}

func (s *Store) Delete(relPath string) error {
	if err := os.Remove(s.abs(relPath)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) Rename(from, to string) error {
	absTo := s.abs(to)
	if err := os.MkdirAll(filepath.Dir(absTo), 0o755); err != nil {
		return fmt.Errorf("create parent dirs: %w", err)
	}
	return os.Rename(s.abs(from), absTo)
}

func (s *Store) Exists(relPath string) bool {
	info, err := os.Stat(s.abs(relPath))
	return err == nil && !info.IsDir()
}

func (s *Store) abs(relPath string) string {
	return filepath.Join(s.root, filepath.FromSlash(relPath))
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
