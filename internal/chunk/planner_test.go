package chunk

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3shuttle/shuttle/errors"
	"github.com/s3shuttle/shuttle/shuttletypes"
)

const mib = 1024 * 1024

func TestPlan_PartitionInvariant(t *testing.T) {
	tests := []struct {
		name     string
		size     int64
		partSize int64
	}{
		{"exact_multiple", 128 * mib, 64 * mib},
		{"with_remainder", 150 * mib, 64 * mib},
		{"single_large_part", 64 * mib, 64 * mib},
		{"tiny_above_threshold", 64*mib + 1, 64 * mib},
		{"odd_sizes", 1234567891, 16 * mib},
	}

	limits := shuttletypes.DefaultLimits(64 * mib)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Plan(tt.size, tt.partSize, limits)
			require.NoError(t, err)
			require.NotEmpty(t, plan.Parts)

			// Contiguous partition of [0, size) in index order.
			var offset int64
			for i, p := range plan.Parts {
				assert.Equal(t, int32(i), p.Index)
				assert.Equal(t, offset, p.Offset)
				assert.Positive(t, p.Length)
				offset += p.Length
			}
			assert.Equal(t, tt.size, offset)

			last := plan.Parts[len(plan.Parts)-1]
			assert.True(t, last.Last)
			for _, p := range plan.Parts[:len(plan.Parts)-1] {
				assert.False(t, p.Last)
			}
		})
	}
}

func TestPlan_150MBOver64MBParts(t *testing.T) {
	limits := shuttletypes.DefaultLimits(64 * mib)

	plan, err := Plan(150*mib, 64*mib, limits)
	require.NoError(t, err)

	require.True(t, plan.Multipart)
	require.Len(t, plan.Parts, 3)
	assert.Equal(t, int64(64*mib), plan.Parts[0].Length)
	assert.Equal(t, int64(64*mib), plan.Parts[1].Length)
	assert.Equal(t, int64(22*mib), plan.Parts[2].Length)
}

func TestPlan_SinglePartThreshold(t *testing.T) {
	limits := shuttletypes.DefaultLimits(64 * mib)

	tests := []struct {
		name string
		size int64
	}{
		{"zero_byte", 0},
		{"one_byte", 1},
		{"at_threshold", 64 * mib},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Plan(tt.size, 64*mib, limits)
			require.NoError(t, err)

			assert.False(t, plan.Multipart)
			require.Len(t, plan.Parts, 1)
			assert.Equal(t, tt.size, plan.Parts[0].Length)
			assert.True(t, plan.Parts[0].Last)
		})
	}
}

func TestPlan_ClampsPartSize(t *testing.T) {
	limits := shuttletypes.DefaultLimits(64 * mib)

	// Below the minimum: clamped up to 8MiB.
	plan, err := Plan(100*mib, 1*mib, limits)
	require.NoError(t, err)
	assert.Equal(t, int64(shuttletypes.MinPartSize), plan.PartSize)

	// Zero part size falls back to the default before clamping.
	plan, err = Plan(100*mib, 0, limits)
	require.NoError(t, err)
	assert.Equal(t, int64(shuttletypes.DefaultPartSize), plan.PartSize)
}

func TestPlan_ScalesPartSizeForPartCount(t *testing.T) {
	limits := shuttletypes.Limits{
		MinPartSize:         1,
		MaxPartSize:         1000,
		MaxPartCount:        5,
		SinglePartThreshold: 10,
	}

	plan, err := Plan(100, 10, limits)
	require.NoError(t, err)

	// 100 bytes over at most 5 parts needs parts of at least 20 bytes.
	assert.Equal(t, int64(20), plan.PartSize)
	assert.Len(t, plan.Parts, 5)
}

func TestPlan_NegativeSize(t *testing.T) {
	_, err := Plan(-1, 64*mib, shuttletypes.DefaultLimits(64*mib))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrPlan))
}

func TestPlan_SizeBeyondPartBudget(t *testing.T) {
	limits := shuttletypes.Limits{
		MinPartSize:         1,
		MaxPartSize:         10,
		MaxPartCount:        3,
		SinglePartThreshold: 5,
	}

	// 100 bytes cannot fit in 3 parts of at most 10 bytes.
	_, err := Plan(100, 10, limits)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrPlan))
}

func TestPlan_Deterministic(t *testing.T) {
	limits := shuttletypes.DefaultLimits(64 * mib)

	a, err := Plan(150*mib, 64*mib, limits)
	require.NoError(t, err)
	b, err := Plan(150*mib, 64*mib, limits)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}
