package sync

import (
	"fmt"
	"time"
)

type OpType string

const (
	OpPullNew      OpType = "PullNew"
	OpPullUpdate   OpType = "PullUpdate"
	OpPullDelete   OpType = "PullDelete"
	OpPushNew      OpType = "PushNew"
	OpPushUpdate   OpType = "PushUpdate"
	OpPushDelete   OpType = "PushDelete"
	OpRenameLocal  OpType = "RenameLocal"
	OpRenameRemote OpType = "RenameRemote"
	OpConflict     OpType = "Conflict"
)

// ConflictReason classifies why a path could not be planned automatically.
type ConflictReason string

const (
	// ReasonModifyModify: both sides changed since the baseline, or the path
	// appeared on both sides with no common ancestor.
	ReasonModifyModify ConflictReason = "modify-modify"
	// ReasonDeleteModifyLocal: local deleted the path while the remote copy
	// changed since the baseline.
	ReasonDeleteModifyLocal ConflictReason = "delete-modify-local"
	// ReasonDeleteModifyRemote: remote deleted the path while the local copy
	// changed since the baseline.
	ReasonDeleteModifyRemote ConflictReason = "delete-modify-remote"
	// ReasonLocalMissingRemote: local is absent and the remote copy is
	// unchanged since the baseline. Ambiguous between an un-synced local
	// delete and a fresh remote add never pulled, so never auto-planned.
	ReasonLocalMissingRemote ConflictReason = "local-missing-remote"
	// ReasonMassRemoteDeletion: the safety guard tripped; the remote tree
	// vanished wholesale and no destructive operation was planned.
	ReasonMassRemoteDeletion ConflictReason = "mass-remote-deletion-safety"
)

// Operation is one unit of planned work. Pulls/pushes and conflicts use Path;
// renames use From/To. Conflict operations additionally carry a Reason.
type Operation struct {
	Type   OpType
	Path   string
	From   string
	To     string
	Reason ConflictReason
}

func (o Operation) String() string {
	switch o.Type {
	case OpRenameLocal, OpRenameRemote:
		return fmt.Sprintf("%s(%s -> %s)", o.Type, o.From, o.To)
	case OpConflict:
		return fmt.Sprintf("%s(%s, %s)", o.Type, o.Path, o.Reason)
	default:
		return fmt.Sprintf("%s(%s)", o.Type, o.Path)
	}
}

// ConflictType is the coarse classification persisted on conflict records.
type ConflictType string

const (
	ConflictModifyModify ConflictType = "modify-modify"
	ConflictDeleteModify ConflictType = "delete-modify"
)

// conflictTypeOf maps a reason to its persisted record type.
func conflictTypeOf(reason ConflictReason) ConflictType {
	if reason == ReasonModifyModify || reason == ReasonMassRemoteDeletion {
		return ConflictModifyModify
	}
	return ConflictDeleteModify
}

// ConflictRecord is the persisted audit entry for a detected conflict. It is
// independent of the transient conflict operation and survives across sync
// runs until a later run no longer reproduces the conflict for its path.
type ConflictRecord struct {
	ID        string         `db:"id"`
	Path      string         `db:"path"`
	Type      ConflictType   `db:"type"`
	Reason    ConflictReason `db:"reason"`
	Policy    Policy         `db:"policy"`
	Timestamp time.Time      `db:"created_at"`
}

// Policy selects how detected conflicts are resolved.
type Policy string

const (
	PolicyManual       Policy = "manual"
	PolicyKeepBoth     Policy = "keepBoth"
	PolicyPreferLocal  Policy = "preferLocal"
	PolicyPreferRemote Policy = "preferRemote"
)

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool {
	switch p {
	case PolicyManual, PolicyKeepBoth, PolicyPreferLocal, PolicyPreferRemote:
		return true
	}
	return false
}
