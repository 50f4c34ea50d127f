package sync

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func le(path, hash string, mtime int64) *LocalEntry {
	return &LocalEntry{Path: path, ContentHash: hash, ModTime: time.Unix(mtime, 0), Size: int64(len(hash))}
}

func re(path, id string) *RemoteEntry {
	return &RemoteEntry{Path: path, ObjectID: id, Size: int64(len(id))}
}

func be(path, hash string, mtime int64, id string) *BaselineEntry {
	entry := &BaselineEntry{Path: path, ContentHash: hash, ObjectID: id}
	if mtime != 0 {
		entry.ModTime = time.Unix(mtime, 0)
	}
	return entry
}

func baselineOf(entries ...*BaselineEntry) *Baseline {
	b := NewBaseline()
	b.CommitID = "tip"
	for _, e := range entries {
		b.Entries[e.Path] = e
	}
	return b
}

func snapshotOf(entries ...*RemoteEntry) *RemoteSnapshot {
	snap := &RemoteSnapshot{CommitID: "tip", Entries: make(map[string]*RemoteEntry)}
	for _, e := range entries {
		snap.Entries[e.Path] = e
	}
	return snap
}

func TestBuildPlan_TableDriven(t *testing.T) {
	cases := []struct {
		name     string
		local    map[string]*LocalEntry
		remote   *RemoteSnapshot
		baseline *Baseline
		wantOps  []Operation
		wantConf []Operation
	}{
		{
			name:     "no baseline local only pushes",
			local:    map[string]*LocalEntry{"a.md": le("a.md", "h1", 1)},
			remote:   snapshotOf(),
			baseline: NewBaseline(),
			wantOps:  []Operation{{Type: OpPushNew, Path: "a.md"}},
		},
		{
			name:     "no baseline remote only pulls",
			local:    map[string]*LocalEntry{},
			remote:   snapshotOf(re("a.md", "s1")),
			baseline: NewBaseline(),
			wantOps:  []Operation{{Type: OpPullNew, Path: "a.md"}},
		},
		{
			name:     "no baseline both present conflicts",
			local:    map[string]*LocalEntry{"a.md": le("a.md", "h1", 1)},
			remote:   snapshotOf(re("a.md", "s1")),
			baseline: NewBaseline(),
			wantConf: []Operation{{Type: OpConflict, Path: "a.md", Reason: ReasonModifyModify}},
		},
		{
			name:     "only local changed pushes update",
			local:    map[string]*LocalEntry{"a.md": le("a.md", "h2", 2)},
			remote:   snapshotOf(re("a.md", "s1")),
			baseline: baselineOf(be("a.md", "h1", 1, "s1")),
			wantOps:  []Operation{{Type: OpPushUpdate, Path: "a.md"}},
		},
		{
			name:     "only remote changed pulls update",
			local:    map[string]*LocalEntry{"a.md": le("a.md", "h1", 1)},
			remote:   snapshotOf(re("a.md", "s2")),
			baseline: baselineOf(be("a.md", "h1", 1, "s1")),
			wantOps:  []Operation{{Type: OpPullUpdate, Path: "a.md"}},
		},
		{
			name:     "both changed conflicts",
			local:    map[string]*LocalEntry{"a.md": le("a.md", "h2", 2)},
			remote:   snapshotOf(re("a.md", "s2")),
			baseline: baselineOf(be("a.md", "h1", 1, "s1")),
			wantConf: []Operation{{Type: OpConflict, Path: "a.md", Reason: ReasonModifyModify}},
		},
		{
			name:     "neither changed plans nothing",
			local:    map[string]*LocalEntry{"a.md": le("a.md", "h1", 1)},
			remote:   snapshotOf(re("a.md", "s1")),
			baseline: baselineOf(be("a.md", "h1", 1, "s1")),
		},
		{
			name:     "mtime touch alone still counts as changed",
			local:    map[string]*LocalEntry{"a.md": le("a.md", "h1", 9)},
			remote:   snapshotOf(re("a.md", "s1")),
			baseline: baselineOf(be("a.md", "h1", 1, "s1")),
			wantOps:  []Operation{{Type: OpPushUpdate, Path: "a.md"}},
		},
		{
			name:     "remote deleted local unchanged pulls delete",
			local:    map[string]*LocalEntry{"a.md": le("a.md", "h1", 1)},
			remote:   snapshotOf(),
			baseline: baselineOf(be("a.md", "h1", 1, "s1")),
			wantOps:  []Operation{{Type: OpPullDelete, Path: "a.md"}},
		},
		{
			name:     "remote deleted local modified conflicts",
			local:    map[string]*LocalEntry{"a.md": le("a.md", "h2", 2)},
			remote:   snapshotOf(),
			baseline: baselineOf(be("a.md", "h1", 1, "s1")),
			wantConf: []Operation{{Type: OpConflict, Path: "a.md", Reason: ReasonDeleteModifyRemote}},
		},
		{
			name:     "local deleted remote modified conflicts",
			local:    map[string]*LocalEntry{},
			remote:   snapshotOf(re("a.md", "s2")),
			baseline: baselineOf(be("a.md", "h1", 1, "s1")),
			wantConf: []Operation{{Type: OpConflict, Path: "a.md", Reason: ReasonDeleteModifyLocal}},
		},
		{
			name:     "local absent remote unchanged stays ambiguous",
			local:    map[string]*LocalEntry{},
			remote:   snapshotOf(re("a.md", "s1")),
			baseline: baselineOf(be("a.md", "h1", 1, "s1")),
			wantConf: []Operation{{Type: OpConflict, Path: "a.md", Reason: ReasonLocalMissingRemote}},
		},
		{
			name:     "remote-only baseline with local absent re-pulls",
			local:    map[string]*LocalEntry{},
			remote:   snapshotOf(re("a.md", "s1")),
			baseline: baselineOf(be("a.md", "", 0, "s1")),
			wantOps:  []Operation{{Type: OpPullNew, Path: "a.md"}},
		},
		{
			name:     "local-only baseline with remote absent re-pushes",
			local:    map[string]*LocalEntry{"a.md": le("a.md", "h1", 1)},
			remote:   snapshotOf(),
			baseline: baselineOf(be("a.md", "h1", 1, "")),
			wantOps:  []Operation{{Type: OpPushNew, Path: "a.md"}},
		},
		{
			name:     "both deleted cleans up silently",
			local:    map[string]*LocalEntry{},
			remote:   snapshotOf(),
			baseline: baselineOf(be("a.md", "h1", 1, "s1")),
		},
		{
			name:     "local rename is inferred and excluded from diffing",
			local:    map[string]*LocalEntry{"new.md": le("new.md", "h1", 2)},
			remote:   snapshotOf(re("old.md", "s1")),
			baseline: baselineOf(be("old.md", "h1", 1, "s1")),
			wantOps:  []Operation{{Type: OpRenameLocal, From: "old.md", To: "new.md"}},
		},
		{
			name:     "remote rename is inferred and excluded from diffing",
			local:    map[string]*LocalEntry{"old.md": le("old.md", "h1", 1)},
			remote:   snapshotOf(re("new.md", "s1")),
			baseline: baselineOf(be("old.md", "h1", 1, "s1")),
			wantOps:  []Operation{{Type: OpRenameRemote, From: "old.md", To: "new.md"}},
		},
		{
			name: "moved-and-edited file is not a rename",
			// Hash no longer matches the baseline, so the new path is a plain
			// push and the old path falls through to the ambiguous case.
			local:    map[string]*LocalEntry{"new.md": le("new.md", "h2", 2)},
			remote:   snapshotOf(re("old.md", "s1")),
			baseline: baselineOf(be("old.md", "h1", 1, "s1")),
			wantOps:  []Operation{{Type: OpPushNew, Path: "new.md"}},
			wantConf: []Operation{{Type: OpConflict, Path: "old.md", Reason: ReasonLocalMissingRemote}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan := BuildPlan(tc.local, tc.remote, tc.baseline)
			assert.ElementsMatch(t, tc.wantOps, plan.Ops, "ops")
			assert.ElementsMatch(t, tc.wantConf, plan.Conflicts, "conflicts")
		})
	}
}

func TestBuildPlan_LocalDisappearanceNeverPlansPushDelete(t *testing.T) {
	// A locally absent path against an unchanged remote is ambiguous between
	// an un-synced local delete and an incomplete pull: it must surface as a
	// conflict, never as a silent remote delete.
	local := map[string]*LocalEntry{}
	remote := snapshotOf(re("old.md", "s1"))
	baseline := baselineOf(be("old.md", "h1", 1, "s1"))

	plan := BuildPlan(local, remote, baseline)
	assert.Empty(t, plan.Ops)
	require.Len(t, plan.Conflicts, 1)
	assert.Equal(t, ReasonLocalMissingRemote, plan.Conflicts[0].Reason)
}

func TestBuildPlan_RenamePairingIsFirstMatch(t *testing.T) {
	// Two identical files vanish, two identical files appear: pairing is
	// first-match in sorted order, never a global optimal matching.
	local := map[string]*LocalEntry{
		"n1.md": le("n1.md", "h1", 2),
		"n2.md": le("n2.md", "h1", 2),
	}
	remote := snapshotOf(re("a1.md", "s1"), re("a2.md", "s1"))
	baseline := baselineOf(
		be("a1.md", "h1", 1, "s1"),
		be("a2.md", "h1", 1, "s1"),
	)

	plan := BuildPlan(local, remote, baseline)
	assert.ElementsMatch(t, []Operation{
		{Type: OpRenameLocal, From: "a1.md", To: "n1.md"},
		{Type: OpRenameLocal, From: "a2.md", To: "n2.md"},
	}, plan.Ops)
	assert.Empty(t, plan.Conflicts)
}

func TestBuildPlan_MassDeletionGuard(t *testing.T) {
	local := make(map[string]*LocalEntry)
	baseline := NewBaseline()
	for i := 0; i < 12; i++ {
		path := fmt.Sprintf("note-%02d.md", i)
		local[path] = le(path, fmt.Sprintf("h%d", i), 1)
		baseline.Entries[path] = be(path, fmt.Sprintf("h%d", i), 1, fmt.Sprintf("s%d", i))
	}

	plan := BuildPlan(local, snapshotOf(), baseline)

	assert.Empty(t, plan.Ops, "no destructive operation may be planned")
	require.Len(t, plan.Conflicts, 12)
	seen := make(map[string]bool)
	for _, c := range plan.Conflicts {
		assert.Equal(t, ReasonMassRemoteDeletion, c.Reason)
		seen[c.Path] = true
	}
	for path := range local {
		assert.True(t, seen[path], "every local path must be surfaced: %s", path)
	}
}

func TestBuildPlan_GuardNotTrippedBelowThreshold(t *testing.T) {
	local := map[string]*LocalEntry{"a.md": le("a.md", "h1", 1)}
	baseline := baselineOf(be("a.md", "h1", 1, "s1"))

	plan := BuildPlan(local, snapshotOf(), baseline)
	assert.Equal(t, []Operation{{Type: OpPullDelete, Path: "a.md"}}, plan.Ops)
	assert.Empty(t, plan.Conflicts)
}

func TestBuildPlan_Idempotence(t *testing.T) {
	local := map[string]*LocalEntry{
		"a.md":     le("a.md", "h1", 1),
		"dir/b.md": le("dir/b.md", "h2", 2),
	}
	remote := snapshotOf(re("a.md", "s1"), re("dir/b.md", "s2"))

	// First run plans work, the baseline is rebuilt from the post-execution
	// snapshots, and a second run over unchanged state plans nothing.
	baseline := BuildBaseline(local, remote)
	plan := BuildPlan(local, remote, baseline)
	assert.Empty(t, plan.Ops)
	assert.Empty(t, plan.Conflicts)
}

func TestBuildPlan_TotalOverNilInputs(t *testing.T) {
	plan := BuildPlan(nil, nil, nil)
	assert.Empty(t, plan.Ops)
	assert.Empty(t, plan.Conflicts)
}
