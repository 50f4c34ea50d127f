package sync

import (
	"time"

	"github.com/google/uuid"
)

// Resolution is the resolver output: operations derived from conflicts under
// the configured policy, plus an audit record for every conflict regardless
// of policy.
type Resolution struct {
	Ops     []Operation
	Records []ConflictRecord
}

// Resolve maps conflict operations to resolving operations under the given
// policy. Every conflict always produces a ConflictRecord stamped with the
// policy and the given time; that is the audit trail even when the policy
// auto-resolves.
//
// Manual and keepBoth emit no resolving operations: manual leaves the
// conflict to a human, keepBoth is materialized at execution time by the
// orchestrator. The mass-deletion safety reason is never auto-resolved under
// any policy; resolving it would defeat the guard.
func Resolve(conflicts []Operation, policy Policy, now time.Time) *Resolution {
	res := &Resolution{}

	for _, c := range conflicts {
		if c.Type != OpConflict {
			continue
		}

		res.Records = append(res.Records, ConflictRecord{
			ID:        uuid.NewString(),
			Path:      c.Path,
			Type:      conflictTypeOf(c.Reason),
			Reason:    c.Reason,
			Policy:    policy,
			Timestamp: now,
		})

		if c.Reason == ReasonMassRemoteDeletion {
			continue
		}

		switch policy {
		case PolicyPreferLocal:
			switch c.Reason {
			case ReasonDeleteModifyLocal, ReasonLocalMissingRemote:
				// Local's absence wins; the remote copy is removed.
				res.Ops = append(res.Ops, Operation{Type: OpPushDelete, Path: c.Path})
			case ReasonDeleteModifyRemote:
				// Local's surviving copy wins; re-create it on the remote.
				res.Ops = append(res.Ops, Operation{Type: OpPushNew, Path: c.Path})
			case ReasonModifyModify:
				res.Ops = append(res.Ops, Operation{Type: OpPushUpdate, Path: c.Path})
			}

		case PolicyPreferRemote:
			switch c.Reason {
			case ReasonDeleteModifyLocal, ReasonLocalMissingRemote:
				// Restore or update local from the remote copy.
				res.Ops = append(res.Ops, Operation{Type: OpPullUpdate, Path: c.Path})
			case ReasonDeleteModifyRemote:
				// Apply the remote's deletion locally.
				res.Ops = append(res.Ops, Operation{Type: OpPullDelete, Path: c.Path})
			case ReasonModifyModify:
				res.Ops = append(res.Ops, Operation{Type: OpPullUpdate, Path: c.Path})
			}

		case PolicyManual, PolicyKeepBoth:
			// No resolving operation.
		}
	}

	return res
}
