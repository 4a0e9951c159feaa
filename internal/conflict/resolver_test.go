package conflict

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3shuttle/shuttle/errors"
	"github.com/s3shuttle/shuttle/shuttletypes"
)

func TestResolve_FreeDestinationProceeds(t *testing.T) {
	snap := NewSnapshot([]string{"other.txt"})

	// The choice is irrelevant when the destination is free.
	for _, choice := range []shuttletypes.UserChoice{
		{},
		{Kind: shuttletypes.ChoiceReplace},
		{Kind: shuttletypes.ChoiceSkip},
		{Kind: shuttletypes.ChoiceMakeCopy},
	} {
		action, err := Resolve("report.csv", snap, choice)
		require.NoError(t, err)
		assert.Equal(t, shuttletypes.ActionProceed, action.Kind)
		assert.Equal(t, "report.csv", action.Key)
	}
}

func TestResolve_Replace(t *testing.T) {
	snap := NewSnapshot([]string{"report.csv"})

	action, err := Resolve("report.csv", snap, shuttletypes.UserChoice{Kind: shuttletypes.ChoiceReplace})
	require.NoError(t, err)
	assert.Equal(t, shuttletypes.ActionReplace, action.Kind)
	assert.Equal(t, "report.csv", action.Key)
}

func TestResolve_Skip(t *testing.T) {
	snap := NewSnapshot([]string{"report.csv"})

	action, err := Resolve("report.csv", snap, shuttletypes.UserChoice{Kind: shuttletypes.ChoiceSkip})
	require.NoError(t, err)
	assert.Equal(t, shuttletypes.ActionSkip, action.Kind)
}

func TestResolve_MakeCopyNames(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		existing []string
		want     string
	}{
		{
			"first_copy",
			"report.csv",
			[]string{"report.csv"},
			"report_copy.csv",
		},
		{
			"second_copy",
			"report.csv",
			[]string{"report.csv", "report_copy.csv"},
			"report_copy2.csv",
		},
		{
			"third_copy",
			"report.csv",
			[]string{"report.csv", "report_copy.csv", "report_copy2.csv"},
			"report_copy3.csv",
		},
		{
			"no_extension",
			"README",
			[]string{"README"},
			"README_copy",
		},
		{
			"nested_key",
			"a/b/file.txt",
			[]string{"a/b/file.txt"},
			"a/b/file_copy.txt",
		},
		{
			"hidden_file",
			".env",
			[]string{".env"},
			".env_copy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := NewSnapshot(tt.existing)
			action, err := Resolve(tt.key, snap, shuttletypes.UserChoice{Kind: shuttletypes.ChoiceMakeCopy})
			require.NoError(t, err)
			assert.Equal(t, shuttletypes.ActionMakeCopy, action.Kind)
			assert.Equal(t, tt.want, action.Key)
			assert.False(t, snap.Has(action.Key), "derived name must be absent from the snapshot")
		})
	}
}

func TestResolve_Rename(t *testing.T) {
	snap := NewSnapshot([]string{"a/report.csv", "a/taken.csv"})

	action, err := Resolve("a/report.csv", snap, shuttletypes.UserChoice{
		Kind:     shuttletypes.ChoiceRename,
		RenameTo: "fresh.csv",
	})
	require.NoError(t, err)
	assert.Equal(t, shuttletypes.ActionRename, action.Kind)
	assert.Equal(t, "a/fresh.csv", action.Key)

	// Renaming onto another existing name is unresolved.
	_, err = Resolve("a/report.csv", snap, shuttletypes.UserChoice{
		Kind:     shuttletypes.ChoiceRename,
		RenameTo: "taken.csv",
	})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrConflictUnresolved))

	// An empty rename target is unresolved too.
	_, err = Resolve("a/report.csv", snap, shuttletypes.UserChoice{
		Kind:     shuttletypes.ChoiceRename,
		RenameTo: "   ",
	})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrConflictUnresolved))
}

func TestResolve_UnsetChoiceOnCollision(t *testing.T) {
	snap := NewSnapshot([]string{"report.csv"})

	_, err := Resolve("report.csv", snap, shuttletypes.UserChoice{})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrConflictUnresolved))
}

func TestResolve_Idempotent(t *testing.T) {
	snap := NewSnapshot([]string{"report.csv", "report_copy.csv"})
	choice := shuttletypes.UserChoice{Kind: shuttletypes.ChoiceMakeCopy}

	first, err := Resolve("report.csv", snap, choice)
	require.NoError(t, err)
	second, err := Resolve("report.csv", snap, choice)
	require.NoError(t, err)

	// Same snapshot and choice always produce the same action.
	assert.Equal(t, first, second)
}

func TestSnapshot(t *testing.T) {
	snap := NewSnapshot([]string{"a", "b", "a"})
	assert.Equal(t, 2, snap.Len())
	assert.True(t, snap.Has("a"))
	assert.False(t, snap.Has("c"))
}
