package sync

import (
	"sort"
)

// massDeleteThreshold is the path count above which an empty remote snapshot
// is presumed to be an accidental wipe rather than an intentional cleanup.
const massDeleteThreshold = 10

// Plan is the planner output: non-conflict operations in a deterministic
// order, plus conflict operations left for the resolver.
type Plan struct {
	Ops       []Operation
	Conflicts []Operation
}

// HasChanges reports whether the plan would do any work.
func (p *Plan) HasChanges() bool {
	return len(p.Ops) > 0 || len(p.Conflicts) > 0
}

// BuildPlan computes the three-way diff between the local snapshot, the
// remote snapshot and the prior baseline. It is pure, deterministic and total
// over its inputs; it never fails, it only produces conflicts.
func BuildPlan(local map[string]*LocalEntry, remote *RemoteSnapshot, baseline *Baseline) *Plan {
	if baseline == nil {
		baseline = NewBaseline()
	}
	remoteEntries := map[string]*RemoteEntry{}
	if remote != nil {
		remoteEntries = remote.Entries
	}

	plan := &Plan{}

	// Safety guard: a populated baseline, an empty remote and a populated
	// local tree means the remote was most likely wiped by accident. Surface
	// everything as conflicts and plan nothing destructive.
	if len(baseline.Entries) > massDeleteThreshold &&
		len(remoteEntries) == 0 &&
		len(local) > massDeleteThreshold {
		for _, path := range sortedKeys(local) {
			plan.Conflicts = append(plan.Conflicts, Operation{
				Type:   OpConflict,
				Path:   path,
				Reason: ReasonMassRemoteDeletion,
			})
		}
		return plan
	}

	handled := inferRenames(local, remoteEntries, baseline, plan)

	allPaths := make(map[string]struct{}, len(local)+len(remoteEntries)+len(baseline.Entries))
	for path := range local {
		allPaths[path] = struct{}{}
	}
	for path := range remoteEntries {
		allPaths[path] = struct{}{}
	}
	for path := range baseline.Entries {
		allPaths[path] = struct{}{}
	}

	for _, path := range sortedKeys(allPaths) {
		if _, ok := handled[path]; ok {
			continue
		}
		le, localExists := local[path]
		re, remoteExists := remoteEntries[path]
		base, baseExists := baseline.Entries[path]

		switch {
		case !baseExists:
			switch {
			case localExists && remoteExists:
				// First seen on both sides with no common ancestor.
				plan.Conflicts = append(plan.Conflicts, Operation{Type: OpConflict, Path: path, Reason: ReasonModifyModify})
			case localExists:
				plan.Ops = append(plan.Ops, Operation{Type: OpPushNew, Path: path})
			case remoteExists:
				plan.Ops = append(plan.Ops, Operation{Type: OpPullNew, Path: path})
			}

		case localExists && remoteExists:
			lc := localChanged(le, base)
			rc := remoteChanged(re, base)
			switch {
			case lc && rc:
				plan.Conflicts = append(plan.Conflicts, Operation{Type: OpConflict, Path: path, Reason: ReasonModifyModify})
			case lc:
				plan.Ops = append(plan.Ops, Operation{Type: OpPushUpdate, Path: path})
			case rc:
				plan.Ops = append(plan.Ops, Operation{Type: OpPullUpdate, Path: path})
			}

		case localExists && !remoteExists:
			switch {
			case !base.HasRemote():
				// The remote never had this path; the baseline entry only
				// proves a prior scan saw it. Still an unpushed local file.
				plan.Ops = append(plan.Ops, Operation{Type: OpPushNew, Path: path})
			case !base.HasLocal() || localChanged(le, base):
				// Remote deleted it, but local has independent edits. Never
				// silently delete the local copy.
				plan.Conflicts = append(plan.Conflicts, Operation{Type: OpConflict, Path: path, Reason: ReasonDeleteModifyRemote})
			default:
				plan.Ops = append(plan.Ops, Operation{Type: OpPullDelete, Path: path})
			}

		case !localExists && remoteExists:
			switch {
			case !base.HasLocal():
				// Local never had this path, so pulling is always safe; this
				// is a never-completed pull, not a local deletion.
				plan.Ops = append(plan.Ops, Operation{Type: OpPullNew, Path: path})
			case !base.HasRemote() || remoteChanged(re, base):
				plan.Conflicts = append(plan.Conflicts, Operation{Type: OpConflict, Path: path, Reason: ReasonDeleteModifyLocal})
			default:
				// Ambiguous between an un-synced local delete and a fresh
				// remote add never pulled: always surfaced, never planned as
				// a silent push delete.
				plan.Conflicts = append(plan.Conflicts, Operation{Type: OpConflict, Path: path, Reason: ReasonLocalMissingRemote})
			}

		default:
			// Baseline only: both sides deleted cleanly. The entry drops out
			// at the next baseline rebuild.
		}
	}

	return plan
}

// inferRenames pairs baseline paths that vanished from one side against new
// paths on the same side, keyed by content hash (local) or object id
// (remote). Matched pairs become rename operations and all four paths are
// excluded from per-path diffing. Pairing is first-match in sorted path
// order, not a global optimal matching.
func inferRenames(local map[string]*LocalEntry, remote map[string]*RemoteEntry, baseline *Baseline, plan *Plan) map[string]struct{} {
	handled := make(map[string]struct{})

	// Local renames: the baseline path is gone locally while the remote still
	// holds the baseline's blob at the old path.
	var localGone []string
	for _, path := range sortedKeys(baseline.Entries) {
		base := baseline.Entries[path]
		if base.ContentHash == "" || base.ObjectID == "" {
			continue
		}
		if _, ok := local[path]; ok {
			continue
		}
		re, ok := remote[path]
		if !ok || re.ObjectID != base.ObjectID {
			continue
		}
		localGone = append(localGone, path)
	}

	var localAdded []string
	for _, path := range sortedKeys(local) {
		if _, ok := baseline.Entries[path]; !ok {
			localAdded = append(localAdded, path)
		}
	}

	matched := make(map[string]struct{})
	for _, from := range localGone {
		base := baseline.Entries[from]
		for _, to := range localAdded {
			if _, ok := matched[to]; ok {
				continue
			}
			if local[to].ContentHash != base.ContentHash {
				continue
			}
			matched[to] = struct{}{}
			plan.Ops = append(plan.Ops, Operation{Type: OpRenameLocal, From: from, To: to})
			handled[from] = struct{}{}
			handled[to] = struct{}{}
			break
		}
	}

	// Remote renames: the baseline path is gone remotely while the local copy
	// still matches the baseline, paired against remote paths that are new on
	// both sides.
	var remoteGone []string
	for _, path := range sortedKeys(baseline.Entries) {
		if _, ok := handled[path]; ok {
			continue
		}
		base := baseline.Entries[path]
		if base.ObjectID == "" || base.ContentHash == "" {
			continue
		}
		if _, ok := remote[path]; ok {
			continue
		}
		le, ok := local[path]
		if !ok || le.ContentHash != base.ContentHash {
			continue
		}
		remoteGone = append(remoteGone, path)
	}

	var remoteAdded []string
	for _, path := range sortedKeys(remote) {
		if _, ok := handled[path]; ok {
			continue
		}
		_, inBaseline := baseline.Entries[path]
		_, inLocal := local[path]
		if !inBaseline && !inLocal {
			remoteAdded = append(remoteAdded, path)
		}
	}

	for _, from := range remoteGone {
		base := baseline.Entries[from]
		for _, to := range remoteAdded {
			if _, ok := matched[to]; ok {
				continue
			}
			if remote[to].ObjectID != base.ObjectID {
				continue
			}
			matched[to] = struct{}{}
			plan.Ops = append(plan.Ops, Operation{Type: OpRenameRemote, From: from, To: to})
			handled[from] = struct{}{}
			handled[to] = struct{}{}
			break
		}
	}

	return handled
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
