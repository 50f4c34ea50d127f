package sync

import (
	"context"
	"errors"
)

var (
	// ErrRemoteNotFound is returned by remote stores when a path does not
	// exist at the branch tip.
	ErrRemoteNotFound = errors.New("remote: path not found")

	// ErrRemoteConflict is returned by remote stores when an
	// optimistic-concurrency check failed. It is terminal, never retried.
	ErrRemoteConflict = errors.New("remote: concurrent update detected")
)

// LocalStore is the host file tree the engine reconciles. Paths are
// vault-relative, slash-separated. Write creates parent directories as
// needed.
type LocalStore interface {
	Scan(ctx context.Context) (map[string]*LocalEntry, error)
	Read(path string) ([]byte, error)
	Write(path string, data []byte) error
	Delete(path string) error
	Rename(from, to string) error
	Exists(path string) bool
}

// RepoInfo is the result of the pre-flight repository probe.
type RepoInfo struct {
	DefaultBranch string
	CanRead       bool
	CanPush       bool
}

// RemoteStore is the content-addressed object store behind the tracked
// branch. Implementations own transient-failure retry with backoff; the
// engine only ever sees a final success or a terminal error.
type RemoteStore interface {
	// Info probes repository accessibility and permissions.
	Info(ctx context.Context) (*RepoInfo, error)

	// Snapshot lists the tree at the branch tip. When anchor is non-nil the
	// implementation may compute the listing incrementally from the anchor's
	// commit; a nil anchor forces a full listing.
	Snapshot(ctx context.Context, anchor *RemoteSnapshot) (*RemoteSnapshot, error)

	// Fetch returns a file's bytes and object id at the branch tip.
	Fetch(ctx context.Context, path string) ([]byte, string, error)

	// Commit applies all writes and deletes as one tree+commit+ref
	// transaction and returns the new commit id. This is the only way the
	// engine mutates the remote during a sync run.
	Commit(ctx context.Context, message string, writes map[string][]byte, deletes []string) (string, error)

	// PutFile creates or updates a single file, guarded by the expected
	// prior object id (empty means the file must not exist yet). A failed
	// guard surfaces as ErrRemoteConflict.
	PutFile(ctx context.Context, path string, data []byte, expectedID string) (string, error)

	// DeleteFile removes a single file, guarded by the expected object id.
	DeleteFile(ctx context.Context, path string, expectedID string) error
}

// StateStore persists the baseline, the conflict records and a bounded
// structured log between runs.
type StateStore interface {
	LoadBaseline() (*Baseline, error)
	SaveBaseline(b *Baseline) error

	// SyncConflicts upserts the given records and drops persisted records
	// whose path is not reproduced in the new set.
	SyncConflicts(records []ConflictRecord) error
	ListConflicts() ([]ConflictRecord, error)
	DeleteConflict(path string) error

	AppendLog(level, message string) error
}
