package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	ErrSyncAlreadyRunning = errors.New("sync already running")
	ErrSyncFailed         = errors.New("sync failed")
	ErrRemoteNoAccess     = errors.New("remote repository not writable")
)

// Engine drives one full reconciliation run: snapshot both sides, plan,
// resolve, execute, re-snapshot, rebuild the baseline. It is the only
// component that performs I/O; the planner and resolver stay pure.
type Engine struct {
	policy Policy
	local  LocalStore
	remote RemoteStore
	state  StateStore
	clock  func() time.Time
	muSync sync.Mutex
}

func NewEngine(policy Policy, local LocalStore, remote RemoteStore, state StateStore) *Engine {
	return &Engine{
		policy: policy,
		local:  local,
		remote: remote,
		state:  state,
		clock:  time.Now,
	}
}

// Sync performs one full reconciliation run. Individual operation failures
// are logged and aggregated; only the failure count is carried in the
// returned error. A run that planned nothing performs zero write operations
// against either store.
func (e *Engine) Sync(ctx context.Context) error {
	if !e.muSync.TryLock() {
		return ErrSyncAlreadyRunning
	}
	defer e.muSync.Unlock()

	tStart := time.Now()

	// Pre-flight: abort before any side effect if the remote is unreachable
	// or not writable.
	info, err := e.remote.Info(ctx)
	if err != nil {
		return fmt.Errorf("remote probe: %w", err)
	}
	if !info.CanPush {
		return ErrRemoteNoAccess
	}

	baseline, err := e.state.LoadBaseline()
	if err != nil {
		return fmt.Errorf("load baseline: %w", err)
	}

	localState, remoteState, err := e.snapshotBoth(ctx, baseline)
	if err != nil {
		return err
	}

	plan := BuildPlan(localState, remoteState, baseline)
	res := Resolve(plan.Conflicts, e.policy, e.clock())

	// Persist conflict records before executing anything so they survive a
	// failed execution.
	if err := e.state.SyncConflicts(res.Records); err != nil {
		return fmt.Errorf("persist conflicts: %w", err)
	}

	if len(plan.Conflicts) > 0 {
		for _, c := range plan.Conflicts {
			if c.Reason == ReasonMassRemoteDeletion {
				slog.Warn("mass remote deletion guard tripped, no destructive operations planned",
					"baselinePaths", len(baseline.Entries), "localPaths", len(localState))
				break
			}
		}
	}

	failed := e.execute(ctx, plan, res)

	// Re-snapshot both sides after execution. The remote listing is forced
	// full since local execution just changed it.
	postLocal, err := e.local.Scan(ctx)
	if err != nil {
		return fmt.Errorf("post-sync local scan: %w", err)
	}
	postRemote, err := e.remote.Snapshot(ctx, nil)
	if err != nil {
		return fmt.Errorf("post-sync remote listing: %w", err)
	}

	// The baseline is swapped wholesale, never patched; after a partial
	// failure it still reflects whatever actually succeeded.
	if err := e.state.SaveBaseline(BuildBaseline(postLocal, postRemote)); err != nil {
		return fmt.Errorf("save baseline: %w", err)
	}

	if plan.HasChanges() {
		slog.Info("sync run",
			"took", time.Since(tStart),
			"ops", len(plan.Ops),
			"resolved", len(res.Ops),
			"conflicts", len(plan.Conflicts),
			"failed", failed,
		)
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d operation(s) failed", ErrSyncFailed, failed)
	}
	return nil
}

// snapshotBoth scans the local tree and fetches the remote listing
// concurrently. The remote fetch is incremental against the baseline anchor
// when one exists, falling back to a full listing on any fetch failure.
func (e *Engine) snapshotBoth(ctx context.Context, baseline *Baseline) (map[string]*LocalEntry, *RemoteSnapshot, error) {
	var (
		localState  map[string]*LocalEntry
		remoteState *RemoteSnapshot
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		localState, err = e.local.Scan(gctx)
		if err != nil {
			return fmt.Errorf("local scan: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		anchor := baselineAnchor(baseline)
		snap, err := e.remote.Snapshot(gctx, anchor)
		if err != nil && anchor != nil {
			slog.Warn("incremental remote listing failed, retrying full", "error", err)
			snap, err = e.remote.Snapshot(gctx, nil)
		}
		if err != nil {
			return fmt.Errorf("remote listing: %w", err)
		}
		remoteState = snap
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return localState, remoteState, nil
}

// baselineAnchor derives the incremental-fetch anchor from a baseline, or
// nil when the baseline carries no commit tip.
func baselineAnchor(baseline *Baseline) *RemoteSnapshot {
	if baseline == nil || baseline.CommitID == "" {
		return nil
	}
	anchor := &RemoteSnapshot{
		CommitID: baseline.CommitID,
		Entries:  make(map[string]*RemoteEntry),
	}
	for path, entry := range baseline.Entries {
		if entry.ObjectID == "" {
			continue
		}
		anchor.Entries[path] = &RemoteEntry{
			Path:       path,
			ObjectID:   entry.ObjectID,
			LastChange: entry.LastChange,
		}
	}
	return anchor
}

// execute applies the merged operation list in a fixed order chosen to avoid
// clobbering: remote-side renames land locally first, then local deletions
// and writes from remote, and finally every outstanding remote-side change is
// collapsed into one batched commit. Each operation is attempted
// independently; failures are counted, never aborting the rest.
func (e *Engine) execute(ctx context.Context, plan *Plan, res *Resolution) int {
	var renameRemote, pullDeletes, pullWrites, renameLocal, pushDeletes, pushWrites []Operation
	for _, op := range append(append([]Operation{}, plan.Ops...), res.Ops...) {
		switch op.Type {
		case OpRenameRemote:
			renameRemote = append(renameRemote, op)
		case OpPullDelete:
			pullDeletes = append(pullDeletes, op)
		case OpPullNew, OpPullUpdate:
			pullWrites = append(pullWrites, op)
		case OpRenameLocal:
			renameLocal = append(renameLocal, op)
		case OpPushDelete:
			pushDeletes = append(pushDeletes, op)
		case OpPushNew, OpPushUpdate:
			pushWrites = append(pushWrites, op)
		}
	}

	failed := 0

	// (a) The remote already holds the new name; make local match.
	for _, op := range renameRemote {
		if !e.runOp(string(op.Type), op.String(), func() error {
			return e.local.Rename(op.From, op.To)
		}) {
			failed++
		}
	}

	// (b) Propagate remote deletions.
	for _, op := range pullDeletes {
		if !e.runOp(string(op.Type), op.Path, func() error {
			return e.local.Delete(op.Path)
		}) {
			failed++
		}
	}

	// (c) Pull new and updated files.
	for _, op := range pullWrites {
		op := op
		if !e.runOp(string(op.Type), op.Path, func() error {
			data, _, err := e.remote.Fetch(ctx, op.Path)
			if err != nil {
				return err
			}
			return e.local.Write(op.Path, data)
		}) {
			failed++
		}
	}

	// (d)+(e) Collapse local renames and pushes into one delete set and one
	// write set, then apply them as a single batched commit. A path present
	// in both sets resolves in favor of the write: a rename's destination
	// always wins over a coincident deletion of its source.
	writes := make(map[string][]byte)
	deletes := make(map[string]struct{})

	for _, op := range pushDeletes {
		deletes[op.Path] = struct{}{}
	}
	for _, op := range renameLocal {
		deletes[op.From] = struct{}{}
		data, err := e.local.Read(op.To)
		if err != nil {
			slog.Error("sync op failed", "op", op.Type, "path", op.String(), "error", err)
			e.state.AppendLog("error", fmt.Sprintf("%s %s: %v", op.Type, op.String(), err))
			failed++
			continue
		}
		writes[op.To] = data
	}
	for _, op := range pushWrites {
		data, err := e.local.Read(op.Path)
		if err != nil {
			slog.Error("sync op failed", "op", op.Type, "path", op.Path, "error", err)
			e.state.AppendLog("error", fmt.Sprintf("%s %s: %v", op.Type, op.Path, err))
			failed++
			continue
		}
		writes[op.Path] = data
	}
	for path := range writes {
		delete(deletes, path)
	}

	if len(writes) > 0 || len(deletes) > 0 {
		deletePaths := sortedKeys(deletes)
		if !e.runOp("Commit", fmt.Sprintf("%d writes, %d deletes", len(writes), len(deletePaths)), func() error {
			_, err := e.remote.Commit(ctx, commitMessage(len(writes), len(deletePaths)), writes, deletePaths)
			return err
		}) {
			failed++
		}
	}

	// (f) Materialize side-by-side copies for unresolved conflicts.
	if e.policy == PolicyKeepBoth {
		for _, c := range plan.Conflicts {
			c := c
			if c.Reason == ReasonMassRemoteDeletion {
				continue
			}
			if !e.runOp("KeepBoth", c.Path, func() error {
				return e.materializeKeepBoth(ctx, c.Path, c.Reason)
			}) {
				failed++
			}
		}
	}

	return failed
}

// runOp wraps one operation attempt: failures are logged to slog and the
// persisted log, and reported to the caller without unwinding the pipeline.
func (e *Engine) runOp(label, target string, fn func() error) bool {
	if err := fn(); err != nil {
		slog.Error("sync op failed", "op", label, "path", target, "error", err)
		e.state.AppendLog("error", fmt.Sprintf("%s %s: %v", label, target, err))
		return false
	}
	slog.Debug("sync op", "op", label, "path", target)
	return true
}

func commitMessage(writes, deletes int) string {
	return fmt.Sprintf("vaultsync: %d file(s) updated, %d deleted", writes, deletes)
}
