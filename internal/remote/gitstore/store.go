// Package gitstore implements the engine's remote store contract directly on
// a bare go-git repository (in-memory or on disk). It serves file-URL remotes
// and the engine's tests.
package gitstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	gosync "sync"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/vaultsync/vaultsync/internal/sync"
)

// Store adapts one branch of a bare repository to the remote store contract.
// Every Commit call is one tree+commit+ref transaction; the ref advance is a
// compare-and-swap, so a concurrent writer surfaces as ErrRemoteConflict.
type Store struct {
	repo   *git.Repository
	branch string
	clock  func() time.Time
	mu     gosync.Mutex
}

var _ sync.RemoteStore = (*Store)(nil)

// NewInMemory creates an empty bare repository held in memory.
func NewInMemory(branch string) (*Store, error) {
	repo, err := git.Init(memory.NewStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("init in-memory repo: %w", err)
	}
	return &Store{repo: repo, branch: branch, clock: time.Now}, nil
}

// Open opens an existing bare repository directory on disk.
func Open(dir, branch string) (*Store, error) {
	st := filesystem.NewStorage(osfs.New(dir), cache.NewObjectLRUDefault())
	repo, err := git.Open(st, nil)
	if err != nil {
		return nil, fmt.Errorf("open repo %s: %w", dir, err)
	}
	return &Store{repo: repo, branch: branch, clock: time.Now}, nil
}

func (s *Store) refName() plumbing.ReferenceName {
	return plumbing.NewBranchReferenceName(s.branch)
}

// head returns the branch tip commit, or nil when the branch has no commits
// yet.
func (s *Store) head() (*object.Commit, error) {
	ref, err := s.repo.Reference(s.refName(), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", s.refName(), err)
	}
	commit, err := s.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit %s: %w", ref.Hash(), err)
	}
	return commit, nil
}

func (s *Store) Info(_ context.Context) (*sync.RepoInfo, error) {
	return &sync.RepoInfo{DefaultBranch: s.branch, CanRead: true, CanPush: true}, nil
}

// Snapshot lists the tree at the branch tip. An anchor whose commit still is
// the tip short-circuits to a copy of the anchor; otherwise the tree is
// walked in full. Entries carry no per-path commit times.
func (s *Store) Snapshot(_ context.Context, anchor *sync.RemoteSnapshot) (*sync.RemoteSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	commit, err := s.head()
	if err != nil {
		return nil, err
	}
	if commit == nil {
		return &sync.RemoteSnapshot{Entries: make(map[string]*sync.RemoteEntry)}, nil
	}

	if anchor != nil && anchor.CommitID == commit.Hash.String() {
		snap := &sync.RemoteSnapshot{
			CommitID: anchor.CommitID,
			Entries:  make(map[string]*sync.RemoteEntry, len(anchor.Entries)),
		}
		for p, entry := range anchor.Entries {
			copied := *entry
			snap.Entries[p] = &copied
		}
		return snap, nil
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("load tree: %w", err)
	}

	snap := &sync.RemoteSnapshot{
		CommitID: commit.Hash.String(),
		Entries:  make(map[string]*sync.RemoteEntry),
	}
	err = tree.Files().ForEach(func(f *object.File) error {
		snap.Entries[f.Name] = &sync.RemoteEntry{
			Path:     f.Name,
			ObjectID: f.Hash.String(),
			Size:     f.Size,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk tree: %w", err)
	}
	return snap, nil
}

func (s *Store) Fetch(_ context.Context, p string) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	commit, err := s.head()
	if err != nil {
		return nil, "", err
	}
	if commit == nil {
		return nil, "", fmt.Errorf("fetch %s: %w", p, sync.ErrRemoteNotFound)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, "", fmt.Errorf("load tree: %w", err)
	}
	f, err := tree.File(p)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, "", fmt.Errorf("fetch %s: %w", p, sync.ErrRemoteNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", p, err)
	}

	r, err := f.Reader()
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", p, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", p, err)
	}
	return data, f.Hash.String(), nil
}

func (s *Store) Commit(_ context.Context, message string, writes map[string][]byte, deletes []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(message, writes, deletes)
}

func (s *Store) commitLocked(message string, writes map[string][]byte, deletes []string) (string, error) {
	head, err := s.head()
	if err != nil {
		return "", err
	}

	files := make(map[string]plumbing.Hash)
	if head != nil {
		tree, err := head.Tree()
		if err != nil {
			return "", fmt.Errorf("load base tree: %w", err)
		}
		err = tree.Files().ForEach(func(f *object.File) error {
			files[f.Name] = f.Hash
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("walk base tree: %w", err)
		}
	}

	for p, data := range writes {
		hash, err := writeBlob(s.repo.Storer, data)
		if err != nil {
			return "", fmt.Errorf("store blob %s: %w", p, err)
		}
		files[p] = hash
	}
	for _, p := range deletes {
		delete(files, p)
	}

	treeHash, err := buildTree(s.repo.Storer, files)
	if err != nil {
		return "", fmt.Errorf("build tree: %w", err)
	}

	sig := object.Signature{Name: "vaultsync", Email: "vaultsync@localhost", When: s.clock()}
	commit := &object.Commit{
		Author:    sig,
		Committer: sig,
		Message:   message,
		TreeHash:  treeHash,
	}
	if head != nil {
		commit.ParentHashes = []plumbing.Hash{head.Hash}
	}

	obj := s.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return "", fmt.Errorf("encode commit: %w", err)
	}
	commitHash, err := s.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return "", fmt.Errorf("store commit: %w", err)
	}

	newRef := plumbing.NewHashReference(s.refName(), commitHash)
	if head != nil {
		oldRef := plumbing.NewHashReference(s.refName(), head.Hash)
		if err := s.repo.Storer.CheckAndSetReference(newRef, oldRef); err != nil {
			return "", fmt.Errorf("advance %s: %w", s.refName(), sync.ErrRemoteConflict)
		}
	} else {
		if err := s.repo.Storer.SetReference(newRef); err != nil {
			return "", fmt.Errorf("create %s: %w", s.refName(), err)
		}
	}
	return commitHash.String(), nil
}

// PutFile writes one file guarded by the expected prior object id; an empty
// expectation requires the path to be absent.
func (s *Store) PutFile(ctx context.Context, p string, data []byte, expectedID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	currentID, err := s.currentObjectID(p)
	if err != nil {
		return "", err
	}
	if currentID != expectedID {
		return "", fmt.Errorf("put %s: %w", p, sync.ErrRemoteConflict)
	}
	if _, err := s.commitLocked(fmt.Sprintf("vaultsync: update %s", p), map[string][]byte{p: data}, nil); err != nil {
		return "", err
	}
	newID, err := s.currentObjectID(p)
	if err != nil {
		return "", err
	}
	return newID, nil
}

func (s *Store) DeleteFile(_ context.Context, p, expectedID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	currentID, err := s.currentObjectID(p)
	if err != nil {
		return err
	}
	if currentID == "" {
		return fmt.Errorf("delete %s: %w", p, sync.ErrRemoteNotFound)
	}
	if currentID != expectedID {
		return fmt.Errorf("delete %s: %w", p, sync.ErrRemoteConflict)
	}
	_, err = s.commitLocked(fmt.Sprintf("vaultsync: delete %s", p), nil, []string{p})
	return err
}

// currentObjectID returns the blob id at the branch tip, or "" when absent.
func (s *Store) currentObjectID(p string) (string, error) {
	commit, err := s.head()
	if err != nil {
		return "", err
	}
	if commit == nil {
		return "", nil
	}
	tree, err := commit.Tree()
	if err != nil {
		return "", fmt.Errorf("load tree: %w", err)
	}
	f, err := tree.File(p)
	if errors.Is(err, object.ErrFileNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", p, err)
	}
	return f.Hash.String(), nil
}

func writeBlob(st storer.EncodedObjectStorer, data []byte) (plumbing.Hash, error) {
	obj := st.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(data)))
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	return st.SetEncodedObject(obj)
}

// buildTree encodes a flat path-to-blob map as nested tree objects, bottom
// up, and returns the root tree hash.
func buildTree(st storer.EncodedObjectStorer, files map[string]plumbing.Hash) (plumbing.Hash, error) {
	root := newTreeNode()
	for p, hash := range files {
		node := root
		dir, name := path.Split(p)
		for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
			if part == "" {
				continue
			}
			child, ok := node.dirs[part]
			if !ok {
				child = newTreeNode()
				node.dirs[part] = child
			}
			node = child
		}
		node.blobs[name] = hash
	}
	return root.encode(st)
}

type treeNode struct {
	blobs map[string]plumbing.Hash
	dirs  map[string]*treeNode
}

func newTreeNode() *treeNode {
	return &treeNode{
		blobs: make(map[string]plumbing.Hash),
		dirs:  make(map[string]*treeNode),
	}
}

func (n *treeNode) encode(st storer.EncodedObjectStorer) (plumbing.Hash, error) {
	entries := make([]object.TreeEntry, 0, len(n.blobs)+len(n.dirs))
	for name, hash := range n.blobs {
		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Regular, Hash: hash})
	}
	for name, child := range n.dirs {
		hash, err := child.encode(st)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: hash})
	}

	// Canonical git tree order: directories sort as if their name had a
	// trailing slash.
	sort.Slice(entries, func(i, j int) bool {
		return treeSortKey(entries[i]) < treeSortKey(entries[j])
	})

	tree := &object.Tree{Entries: entries}
	obj := st.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return st.SetEncodedObject(obj)
}

func treeSortKey(e object.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}
