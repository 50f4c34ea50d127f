package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conflict(path string, reason ConflictReason) Operation {
	return Operation{Type: OpConflict, Path: path, Reason: reason}
}

func TestResolve_PolicyTable(t *testing.T) {
	cases := []struct {
		policy Policy
		reason ConflictReason
		want   OpType
	}{
		{PolicyPreferLocal, ReasonModifyModify, OpPushUpdate},
		{PolicyPreferLocal, ReasonDeleteModifyLocal, OpPushDelete},
		{PolicyPreferLocal, ReasonDeleteModifyRemote, OpPushNew},
		{PolicyPreferLocal, ReasonLocalMissingRemote, OpPushDelete},
		{PolicyPreferRemote, ReasonModifyModify, OpPullUpdate},
		{PolicyPreferRemote, ReasonDeleteModifyLocal, OpPullUpdate},
		{PolicyPreferRemote, ReasonDeleteModifyRemote, OpPullDelete},
		{PolicyPreferRemote, ReasonLocalMissingRemote, OpPullUpdate},
	}

	now := time.Date(2026, 8, 29, 10, 15, 0, 0, time.UTC)
	for _, tc := range cases {
		t.Run(string(tc.policy)+"/"+string(tc.reason), func(t *testing.T) {
			res := Resolve([]Operation{conflict("a.md", tc.reason)}, tc.policy, now)

			require.Len(t, res.Ops, 1)
			assert.Equal(t, tc.want, res.Ops[0].Type)
			assert.Equal(t, "a.md", res.Ops[0].Path)

			require.Len(t, res.Records, 1)
			rec := res.Records[0]
			assert.NotEmpty(t, rec.ID)
			assert.Equal(t, "a.md", rec.Path)
			assert.Equal(t, tc.reason, rec.Reason)
			assert.Equal(t, tc.policy, rec.Policy)
			assert.Equal(t, now, rec.Timestamp)
		})
	}
}

func TestResolve_ManualAndKeepBothRecordOnly(t *testing.T) {
	conflicts := []Operation{
		conflict("a.md", ReasonModifyModify),
		conflict("b.md", ReasonDeleteModifyLocal),
	}

	for _, policy := range []Policy{PolicyManual, PolicyKeepBoth} {
		res := Resolve(conflicts, policy, time.Now())
		assert.Empty(t, res.Ops, "policy %s must not emit operations", policy)
		assert.Len(t, res.Records, 2)
	}
}

func TestResolve_MassDeletionNeverResolved(t *testing.T) {
	conflicts := []Operation{conflict("a.md", ReasonMassRemoteDeletion)}

	for _, policy := range []Policy{PolicyManual, PolicyKeepBoth, PolicyPreferLocal, PolicyPreferRemote} {
		res := Resolve(conflicts, policy, time.Now())
		assert.Empty(t, res.Ops, "policy %s must not resolve the safety conflict", policy)
		require.Len(t, res.Records, 1)
		assert.Equal(t, ReasonMassRemoteDeletion, res.Records[0].Reason)
	}
}

func TestResolve_RecordsCarryConflictType(t *testing.T) {
	res := Resolve([]Operation{
		conflict("a.md", ReasonModifyModify),
		conflict("b.md", ReasonDeleteModifyRemote),
	}, PolicyManual, time.Now())

	require.Len(t, res.Records, 2)
	assert.Equal(t, ConflictModifyModify, res.Records[0].Type)
	assert.Equal(t, ConflictDeleteModify, res.Records[1].Type)
}

func TestResolve_IgnoresNonConflictOps(t *testing.T) {
	res := Resolve([]Operation{{Type: OpPushNew, Path: "a.md"}}, PolicyPreferLocal, time.Now())
	assert.Empty(t, res.Ops)
	assert.Empty(t, res.Records)
}
