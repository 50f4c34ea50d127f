package sync

import (
	"time"
)

// LocalEntry describes one locally present file, keyed by its vault-relative
// path. ContentHash is the sha256 digest of the file bytes; it may be reused
// from a prior snapshot when size and mtime both match.
type LocalEntry struct {
	Path        string    `db:"path"`
	ContentHash string    `db:"content_hash"`
	ModTime     time.Time `db:"mod_time"`
	Size        int64     `db:"size"`
}

// RemoteEntry describes one blob reachable from the tracked branch tip.
// ObjectID is the content-addressed blob id, stable under byte equality and
// independent of path. LastChange is the committer time of the commit that
// last touched the path; zero when the listing does not carry per-path
// history.
type RemoteEntry struct {
	Path       string    `db:"path"`
	ObjectID   string    `db:"object_id"`
	Size       int64     `db:"size"`
	LastChange time.Time `db:"last_change"`
}

// BaselineEntry is the last known-synchronized state for a path, carrying
// whichever local/remote fields were known when the baseline was saved.
// A zero ContentHash and ModTime means the path was remote-only at that time,
// and vice versa.
type BaselineEntry struct {
	Path        string    `db:"path"`
	ContentHash string    `db:"content_hash"`
	ModTime     time.Time `db:"mod_time"`
	ObjectID    string    `db:"object_id"`
	LastChange  time.Time `db:"last_change"`
}

// HasLocal reports whether local-side fields were known at baseline time.
func (b *BaselineEntry) HasLocal() bool {
	return b.ContentHash != "" || !b.ModTime.IsZero()
}

// HasRemote reports whether remote-side fields were known at baseline time.
func (b *BaselineEntry) HasRemote() bool {
	return b.ObjectID != "" || !b.LastChange.IsZero()
}

// Baseline correlates the last known-synchronized local and remote state per
// path. CommitID anchors the remote side for incremental re-fetch. It is read
// once at sync start and replaced wholesale at sync end.
type Baseline struct {
	CommitID string
	Entries  map[string]*BaselineEntry
}

func NewBaseline() *Baseline {
	return &Baseline{Entries: make(map[string]*BaselineEntry)}
}

// RemoteSnapshot is the remote tree listing at a given commit tip.
type RemoteSnapshot struct {
	CommitID string
	Entries  map[string]*RemoteEntry
}

// BuildBaseline derives a fresh baseline from post-execution snapshots of both
// sides. Every path present in either snapshot gets an entry carrying that
// snapshot's fields; paths absent from both are dropped.
func BuildBaseline(local map[string]*LocalEntry, remote *RemoteSnapshot) *Baseline {
	b := NewBaseline()
	if remote != nil {
		b.CommitID = remote.CommitID
		for path, re := range remote.Entries {
			b.Entries[path] = &BaselineEntry{
				Path:       path,
				ObjectID:   re.ObjectID,
				LastChange: re.LastChange,
			}
		}
	}
	for path, le := range local {
		entry, ok := b.Entries[path]
		if !ok {
			entry = &BaselineEntry{Path: path}
			b.Entries[path] = entry
		}
		entry.ContentHash = le.ContentHash
		entry.ModTime = le.ModTime
	}
	return b
}

// localChanged reports whether the local entry differs from the baseline.
// Signals are OR-combined so that one stale signal never masks a real change.
func localChanged(local *LocalEntry, base *BaselineEntry) bool {
	if base.ContentHash != "" && base.ContentHash != local.ContentHash {
		return true
	}
	if !base.ModTime.IsZero() && !base.ModTime.Equal(local.ModTime) {
		return true
	}
	return false
}

// remoteChanged reports whether the remote entry differs from the baseline.
func remoteChanged(remote *RemoteEntry, base *BaselineEntry) bool {
	if base.ObjectID != "" && base.ObjectID != remote.ObjectID {
		return true
	}
	if !base.LastChange.IsZero() && !base.LastChange.Equal(remote.LastChange) {
		return true
	}
	return false
}
