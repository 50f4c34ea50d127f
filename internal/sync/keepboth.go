package sync

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// conflictTag is inserted before the timestamp in sibling copy names,
// e.g. note.md -> note-conflict-20260829-1015.md
const (
	conflictTag        = "conflict"
	conflictTimeFormat = "20060102-1504"
)

// SiblingPath computes a non-colliding sibling for a conflicted path by
// inserting the conflict tag and a timestamp before the extension. If that
// exact candidate exists a numeric suffix is probed sequentially; the first
// free candidate wins.
func SiblingPath(p string, now time.Time, exists func(string) bool) string {
	ext := path.Ext(p)
	base := strings.TrimSuffix(p, ext)
	stamp := now.Format(conflictTimeFormat)

	candidate := fmt.Sprintf("%s-%s-%s%s", base, conflictTag, stamp, ext)
	for n := 1; exists(candidate); n++ {
		candidate = fmt.Sprintf("%s-%s-%s-%d%s", base, conflictTag, stamp, n, ext)
	}
	return candidate
}

// materializeKeepBoth creates the side-by-side copy for one unresolved
// conflict. The local original, when present, is always the kept member of
// the pair; the other side's bytes land at the sibling path. With no local
// copy to preserve, keep-both degrades to restoring the remote file at its
// original path.
func (e *Engine) materializeKeepBoth(ctx context.Context, p string, reason ConflictReason) error {
	switch reason {
	case ReasonModifyModify, ReasonDeleteModifyLocal:
		data, _, err := e.remote.Fetch(ctx, p)
		if err != nil {
			return fmt.Errorf("fetch remote copy: %w", err)
		}
		return e.local.Write(SiblingPath(p, e.clock(), e.local.Exists), data)

	case ReasonDeleteModifyRemote:
		data, err := e.local.Read(p)
		if err != nil {
			return fmt.Errorf("read local copy: %w", err)
		}
		return e.local.Write(SiblingPath(p, e.clock(), e.local.Exists), data)

	case ReasonLocalMissingRemote:
		data, _, err := e.remote.Fetch(ctx, p)
		if err != nil {
			return fmt.Errorf("fetch remote copy: %w", err)
		}
		return e.local.Write(p, data)
	}
	return nil
}

// ManualChoice is an explicit human disposition for a recorded conflict.
type ManualChoice string

const (
	ChoiceKeepLocal  ManualChoice = "keep-local"
	ChoiceKeepRemote ManualChoice = "keep-remote"
	ChoiceKeepBoth   ManualChoice = "keep-both"
)

// ResolveConflict applies an out-of-band human decision for one conflicted
// path and removes its persisted record. Remote writes go through the
// single-file optimistic-concurrency operations; a concurrent update
// surfaces as ErrRemoteConflict and leaves the record in place.
func (e *Engine) ResolveConflict(ctx context.Context, p string, choice ManualChoice) error {
	switch choice {
	case ChoiceKeepLocal:
		_, currentID, err := e.remote.Fetch(ctx, p)
		if err != nil && !errors.Is(err, ErrRemoteNotFound) {
			return fmt.Errorf("probe remote copy: %w", err)
		}
		if e.local.Exists(p) {
			data, err := e.local.Read(p)
			if err != nil {
				return fmt.Errorf("read local copy: %w", err)
			}
			if _, err := e.remote.PutFile(ctx, p, data, currentID); err != nil {
				return fmt.Errorf("push local copy: %w", err)
			}
		} else if currentID != "" {
			if err := e.remote.DeleteFile(ctx, p, currentID); err != nil {
				return fmt.Errorf("delete remote copy: %w", err)
			}
		}

	case ChoiceKeepRemote:
		data, _, err := e.remote.Fetch(ctx, p)
		switch {
		case errors.Is(err, ErrRemoteNotFound):
			if e.local.Exists(p) {
				if err := e.local.Delete(p); err != nil {
					return fmt.Errorf("delete local copy: %w", err)
				}
			}
		case err != nil:
			return fmt.Errorf("fetch remote copy: %w", err)
		default:
			if err := e.local.Write(p, data); err != nil {
				return fmt.Errorf("write local copy: %w", err)
			}
		}

	case ChoiceKeepBoth:
		data, _, err := e.remote.Fetch(ctx, p)
		switch {
		case errors.Is(err, ErrRemoteNotFound):
			// Nothing remote to preserve; the local copy already is the pair.
		case err != nil:
			return fmt.Errorf("fetch remote copy: %w", err)
		case e.local.Exists(p):
			if err := e.local.Write(SiblingPath(p, e.clock(), e.local.Exists), data); err != nil {
				return fmt.Errorf("write sibling copy: %w", err)
			}
		default:
			if err := e.local.Write(p, data); err != nil {
				return fmt.Errorf("restore remote copy: %w", err)
			}
		}

	default:
		return fmt.Errorf("unknown resolution choice %q", choice)
	}

	return e.state.DeleteConflict(p)
}
