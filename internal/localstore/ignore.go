package localstore

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// IgnoreFileName is read from the vault root in addition to configured globs.
const IgnoreFileName = ".vaultsyncignore"

var defaultIgnorePatterns = []string{
	".git/",
	".vaultsync/",
	".obsidian/workspace*",
	".trash/",
	".DS_Store",
	"*.tmp",
}

// IgnoreList matches vault-relative paths against a set of globs. A pattern
// with a trailing slash matches everything under that directory prefix;
// everything else is a doublestar glob.
type IgnoreList struct {
	patterns []string
}

func NewIgnoreList(patterns ...string) *IgnoreList {
	return &IgnoreList{patterns: append(append([]string{}, defaultIgnorePatterns...), patterns...)}
}

// LoadFile merges patterns from the vault's ignore file, if present.
func (l *IgnoreList) LoadFile(vaultDir string) error {
	f, err := os.Open(filepath.Join(vaultDir, IgnoreFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		l.patterns = append(l.patterns, line)
	}
	return scanner.Err()
}

// Match reports whether a slash-separated relative path should be excluded
// from indexing.
func (l *IgnoreList) Match(relPath string) bool {
	for _, pattern := range l.patterns {
		if dir, ok := strings.CutSuffix(pattern, "/"); ok {
			if relPath == dir || strings.HasPrefix(relPath, dir+"/") {
				return true
			}
			continue
		}
		ok, err := doublestar.Match(pattern, relPath)
		if err != nil {
			slog.Warn("bad ignore pattern", "pattern", pattern, "error", err)
			continue
		}
		if ok {
			return true
		}
		// A bare glob also matches by basename, so "*.tmp" works at any depth.
		if ok, _ := doublestar.Match(pattern, filepath.Base(relPath)); ok {
			return true
		}
	}
	return false
}
