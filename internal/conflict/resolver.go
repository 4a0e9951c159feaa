// Package conflict resolves destination name collisions before a
// transfer is scheduled.
//
// Resolution is a pure function over a listing snapshot supplied by the
// caller and a pre-decided user choice; it never queries the store, so a
// single resolution cannot race against concurrent listing changes. The
// prompting itself is a UI concern handled before submission.
package conflict

import (
	"fmt"
	"strings"

	"github.com/s3shuttle/shuttle/errors"
	"github.com/s3shuttle/shuttle/shuttletypes"
)

// Snapshot is an immutable set of names that already exist at the
// destination, taken once before resolution.
type Snapshot struct {
	names map[string]struct{}
}

// NewSnapshot builds a snapshot from a destination listing.
func NewSnapshot(names []string) Snapshot {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return Snapshot{names: set}
}

// Has reports whether name exists in the snapshot.
func (s Snapshot) Has(name string) bool {
	_, ok := s.names[name]
	return ok
}

// Len returns the number of names in the snapshot.
func (s Snapshot) Len() int { return len(s.names) }

// Resolve determines the effective destination and action for key given
// the snapshot and the user's pre-decided choice.
//
// A free destination short-circuits to proceed regardless of the choice.
// For a collision, replace and skip pass through, make-copy derives a
// name guaranteed absent from the snapshot, and rename substitutes the
// caller-supplied base name. A collision with no usable choice returns
// ErrConflictUnresolved.
func Resolve(
	key string,
	snap Snapshot,
	choice shuttletypes.UserChoice,
) (shuttletypes.ConflictAction, error) {
	if !snap.Has(key) {
		return shuttletypes.ConflictAction{Kind: shuttletypes.ActionProceed, Key: key}, nil
	}

	switch choice.Kind {
	case shuttletypes.ChoiceReplace:
		return shuttletypes.ConflictAction{Kind: shuttletypes.ActionReplace, Key: key}, nil

	case shuttletypes.ChoiceMakeCopy:
		return shuttletypes.ConflictAction{
			Kind: shuttletypes.ActionMakeCopy,
			Key:  copyKey(key, snap),
		}, nil

	case shuttletypes.ChoiceRename:
		newName := strings.TrimSpace(choice.RenameTo)
		if newName == "" {
			return shuttletypes.ConflictAction{}, errors.NewError("resolve", errors.ErrConflictUnresolved).
				WithKey(key).
				WithMessage("rename chosen without a new name")
		}
		newKey := replaceBase(key, newName)
		if snap.Has(newKey) {
			return shuttletypes.ConflictAction{}, errors.NewError("resolve", errors.ErrConflictUnresolved).
				WithKey(newKey).
				WithMessage("renamed destination also exists")
		}
		return shuttletypes.ConflictAction{Kind: shuttletypes.ActionRename, Key: newKey}, nil

	case shuttletypes.ChoiceSkip:
		return shuttletypes.ConflictAction{Kind: shuttletypes.ActionSkip, Key: key}, nil

	default:
		return shuttletypes.ConflictAction{}, errors.NewError("resolve", errors.ErrConflictUnresolved).
			WithKey(key)
	}
}

// copyKey derives a destination name not present in the snapshot:
// file.ext becomes file_copy.ext, then file_copy2.ext, file_copy3.ext
// and so on. Deterministic for a given snapshot.
func copyKey(key string, snap Snapshot) string {
	for n := 0; ; n++ {
		suffix := "_copy"
		if n > 0 {
			suffix = fmt.Sprintf("_copy%d", n+1)
		}
		candidate := appendBaseSuffix(key, suffix)
		if !snap.Has(candidate) {
			return candidate
		}
	}
}

// appendBaseSuffix inserts suffix before the extension of key's base
// name: "a/b/file.ext" -> "a/b/file<suffix>.ext".
func appendBaseSuffix(key, suffix string) string {
	dir, base := splitKey(key)
	if dot := strings.LastIndex(base, "."); dot > 0 {
		base = base[:dot] + suffix + base[dot:]
	} else {
		base += suffix
	}
	return dir + base
}

// replaceBase swaps key's base name for newName, keeping the folder part.
func replaceBase(key, newName string) string {
	dir, _ := splitKey(key)
	return dir + newName
}

// splitKey splits key into its folder part (including the trailing
// slash, possibly empty) and base name.
func splitKey(key string) (dir, base string) {
	if idx := strings.LastIndex(key, "/"); idx >= 0 {
		return key[:idx+1], key[idx+1:]
	}
	return "", key
}
