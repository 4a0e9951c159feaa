//go:build integration

package shuttle

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/fs/billy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3shuttle/shuttle/internal/store"
	"github.com/s3shuttle/shuttle/internal/testutil"
	"github.com/s3shuttle/shuttle/shuttletypes"
)

const integrationBucket = "shuttle-integration"

func setupIntegrationEngine(t *testing.T) (*Engine, *testutil.LocalStackContainer, func()) {
	t.Helper()

	container, client, cleanup := testutil.SetupLocalStackTest(t)

	ctx := context.Background()
	require.NoError(t, testutil.CreateTestBucket(ctx, client, integrationBucket))

	st, err := store.New(client, integrationBucket)
	require.NoError(t, err)

	eng := NewWithStore(st,
		WithFilesystem(billy.NewInMemoryFS()),
		WithLogger(testutil.DiscardLogger()),
		WithPartSize(8*1024*1024),
		WithSinglePartThreshold(1024*1024),
		WithMaxConcurrency(4),
		WithMaxAttempts(3),
		WithRetryDelays(100*time.Millisecond, time.Second),
	)

	teardown := func() {
		_ = testutil.CleanupTestBucket(ctx, client, integrationBucket)
		cleanup()
	}
	return eng, container, teardown
}

func TestIntegration_MultipartRoundTrip(t *testing.T) {
	eng, _, teardown := setupIntegrationEngine(t)
	defer teardown()

	ctx := context.Background()

	// 20MiB over 8MiB parts exercises the real multipart protocol.
	data := testutil.Pattern(20 * 1024 * 1024)
	testutil.WriteFile(t, eng.fs, "source/big.bin", data)

	h, err := eng.SubmitBatch(ctx, []shuttletypes.TransferRequest{
		{ID: "up", Direction: shuttletypes.DirectionUpload, LocalPath: "source/big.bin", RemoteKey: "data/big.bin"},
	}, nil)
	require.NoError(t, err)

	result, err := h.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, shuttletypes.OutcomeCompleted, result.Outcomes["up"].Status)
	assert.Equal(t, int64(len(data)), result.Outcomes["up"].BytesTransferred)

	h, err = eng.SubmitBatch(ctx, []shuttletypes.TransferRequest{
		{ID: "down", Direction: shuttletypes.DirectionDownload, LocalPath: "restored/big.bin", RemoteKey: "data/big.bin"},
	}, nil)
	require.NoError(t, err)

	result, err = h.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, shuttletypes.OutcomeCompleted, result.Outcomes["down"].Status)

	restored := testutil.ReadFile(t, eng.fs, "restored/big.bin")
	require.True(t, bytes.Equal(data, restored), "restored bytes differ from source")
}

func TestIntegration_SmallFilesAndBrowse(t *testing.T) {
	eng, _, teardown := setupIntegrationEngine(t)
	defer teardown()

	ctx := context.Background()

	require.NoError(t, eng.EnsureFolderPath(ctx, "docs/reports"))

	for _, name := range []string{"a.txt", "b.txt"} {
		testutil.WriteFile(t, eng.fs, name, testutil.Pattern(1024))
	}

	h, err := eng.SubmitBatch(ctx, []shuttletypes.TransferRequest{
		{ID: "a", Direction: shuttletypes.DirectionUpload, LocalPath: "a.txt", RemoteKey: "docs/reports/a.txt"},
		{ID: "b", Direction: shuttletypes.DirectionUpload, LocalPath: "b.txt", RemoteKey: "docs/reports/b.txt"},
	}, nil)
	require.NoError(t, err)
	result, err := h.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, result.Completed())

	listing, err := eng.ListPrefix(ctx, "docs/reports")
	require.NoError(t, err)
	require.Len(t, listing.Files, 2)
	assert.Equal(t, "a.txt", listing.Files[0].Name)
	assert.Equal(t, "b.txt", listing.Files[1].Name)

	require.NoError(t, eng.Rename(ctx, "docs/reports/a.txt", "docs/reports/renamed.txt"))

	exists, err := eng.Exists(ctx, "docs/reports/a.txt")
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = eng.Exists(ctx, "docs/reports/renamed.txt")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, eng.DeleteTree(ctx, "docs"))

	keys, err := eng.ListAllKeys(ctx, "docs")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestIntegration_ConflictSkipAndReplace(t *testing.T) {
	eng, _, teardown := setupIntegrationEngine(t)
	defer teardown()

	ctx := context.Background()

	testutil.WriteFile(t, eng.fs, "v1.txt", []byte("version one"))
	testutil.WriteFile(t, eng.fs, "v2.txt", []byte("version two"))

	h, err := eng.SubmitBatch(ctx, []shuttletypes.TransferRequest{
		{ID: "first", Direction: shuttletypes.DirectionUpload, LocalPath: "v1.txt", RemoteKey: "file.txt"},
	}, nil)
	require.NoError(t, err)
	_, err = h.Wait(ctx)
	require.NoError(t, err)

	existing, err := eng.ListAllKeys(ctx, "")
	require.NoError(t, err)

	h, err = eng.SubmitBatch(ctx, []shuttletypes.TransferRequest{
		{
			ID: "replace", Direction: shuttletypes.DirectionUpload,
			LocalPath: "v2.txt", RemoteKey: "file.txt",
			Choice: shuttletypes.UserChoice{Kind: shuttletypes.ChoiceReplace},
		},
	}, existing)
	require.NoError(t, err)
	result, err := h.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, shuttletypes.OutcomeCompleted, result.Outcomes["replace"].Status)

	h, err = eng.SubmitBatch(ctx, []shuttletypes.TransferRequest{
		{ID: "get", Direction: shuttletypes.DirectionDownload, LocalPath: "check.txt", RemoteKey: "file.txt"},
	}, nil)
	require.NoError(t, err)
	_, err = h.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, []byte("version two"), testutil.ReadFile(t, eng.fs, "check.txt"))
}
