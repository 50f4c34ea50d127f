package gitstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultsync/vaultsync/internal/sync"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewInMemory("main")
	require.NoError(t, err)
	s.clock = func() time.Time { return time.Date(2026, 8, 29, 10, 15, 0, 0, time.UTC) }
	return s
}

func TestStore_EmptyRepository(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	info, err := s.Info(ctx)
	require.NoError(t, err)
	assert.True(t, info.CanPush)

	snap, err := s.Snapshot(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, snap.CommitID)
	assert.Empty(t, snap.Entries)

	_, _, err = s.Fetch(ctx, "a.md")
	assert.ErrorIs(t, err, sync.ErrRemoteNotFound)
}

func TestStore_CommitSnapshotFetchRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	commitID, err := s.Commit(ctx, "initial", map[string][]byte{
		"a.md":           []byte("alpha"),
		"dir/b.md":       []byte("beta"),
		"dir/deep/c.md":  []byte("gamma"),
		"dir/deep/c2.md": []byte("gamma2"),
	}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, commitID)

	snap, err := s.Snapshot(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, commitID, snap.CommitID)
	require.Len(t, snap.Entries, 4)
	assert.Equal(t, int64(5), snap.Entries["a.md"].Size)
	assert.NotEmpty(t, snap.Entries["dir/deep/c.md"].ObjectID)

	data, objectID, err := s.Fetch(ctx, "dir/b.md")
	require.NoError(t, err)
	assert.Equal(t, []byte("beta"), data)
	assert.Equal(t, snap.Entries["dir/b.md"].ObjectID, objectID)
}

func TestStore_ObjectIDStableUnderByteEquality(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Commit(ctx, "initial", map[string][]byte{
		"a.md": []byte("same"),
		"b.md": []byte("same"),
		"c.md": []byte("other"),
	}, nil)
	require.NoError(t, err)

	snap, err := s.Snapshot(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, snap.Entries["a.md"].ObjectID, snap.Entries["b.md"].ObjectID)
	assert.NotEqual(t, snap.Entries["a.md"].ObjectID, snap.Entries["c.md"].ObjectID)
}

func TestStore_CommitAppliesWritesAndDeletes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Commit(ctx, "initial", map[string][]byte{
		"keep.md":   []byte("keep"),
		"change.md": []byte("v1"),
		"drop.md":   []byte("drop"),
	}, nil)
	require.NoError(t, err)

	second, err := s.Commit(ctx, "update", map[string][]byte{
		"change.md": []byte("v2"),
		"new.md":    []byte("new"),
	}, []string{"drop.md"})
	require.NoError(t, err)

	snap, err := s.Snapshot(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, second, snap.CommitID)
	assert.Len(t, snap.Entries, 3)
	assert.NotContains(t, snap.Entries, "drop.md")

	data, _, err := s.Fetch(ctx, "change.md")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)

	data, _, err = s.Fetch(ctx, "keep.md")
	require.NoError(t, err)
	assert.Equal(t, []byte("keep"), data)
}

func TestStore_SnapshotShortCircuitsOnAnchor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	commitID, err := s.Commit(ctx, "initial", map[string][]byte{"a.md": []byte("alpha")}, nil)
	require.NoError(t, err)

	full, err := s.Snapshot(ctx, nil)
	require.NoError(t, err)

	// A matching anchor is returned as a copy, not walked.
	snap, err := s.Snapshot(ctx, full)
	require.NoError(t, err)
	assert.Equal(t, commitID, snap.CommitID)
	require.Contains(t, snap.Entries, "a.md")
	assert.NotSame(t, full.Entries["a.md"], snap.Entries["a.md"])

	// A stale anchor falls back to the full walk.
	second, err := s.Commit(ctx, "update", map[string][]byte{"b.md": []byte("beta")}, nil)
	require.NoError(t, err)
	snap, err = s.Snapshot(ctx, full)
	require.NoError(t, err)
	assert.Equal(t, second, snap.CommitID)
	assert.Len(t, snap.Entries, 2)
}

func TestStore_PutFileGuards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Empty expectation means create-only.
	id1, err := s.PutFile(ctx, "a.md", []byte("v1"), "")
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	_, err = s.PutFile(ctx, "a.md", []byte("clobber"), "")
	assert.ErrorIs(t, err, sync.ErrRemoteConflict)

	id2, err := s.PutFile(ctx, "a.md", []byte("v2"), id1)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	_, err = s.PutFile(ctx, "a.md", []byte("v3"), id1)
	assert.ErrorIs(t, err, sync.ErrRemoteConflict)
}

func TestStore_DeleteFileGuards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.PutFile(ctx, "a.md", []byte("v1"), "")
	require.NoError(t, err)

	err = s.DeleteFile(ctx, "a.md", "wrong")
	assert.ErrorIs(t, err, sync.ErrRemoteConflict)

	require.NoError(t, s.DeleteFile(ctx, "a.md", id))

	err = s.DeleteFile(ctx, "a.md", id)
	assert.ErrorIs(t, err, sync.ErrRemoteNotFound)

	snap, err := s.Snapshot(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, snap.Entries)
}
