// Package shuttle provides a transfer engine for manual, user-initiated
// file transfers between a local filesystem and an S3-compatible object
// store. It wraps AWS SDK v2 with a part-level worker pool so large
// files upload and download concurrently while staying resumable at
// part granularity.
//
// Key features:
//   - Multipart upload and download with a shared concurrency bound
//   - Per-part retry with exponential backoff and jitter
//   - Conflict resolution against a destination snapshot (replace,
//     make copy, rename, skip)
//   - Batch submission with one outcome per request; a failed file
//     never fails its batch
//   - Remote folder navigation: listing with folder-marker semantics,
//     rename, recursive delete, folder creation
//
// Example usage:
//
//	eng, err := shuttle.New(
//	    shuttle.WithBucket("my-volume"),
//	    shuttle.WithEndpoint("https://s3api-eu-ro-1.runpod.io"),
//	    shuttle.WithForcePathStyle(true),
//	)
//	if err != nil {
//	    return err
//	}
//	defer eng.Close(ctx)
//
//	handle, err := eng.SubmitBatch(ctx, requests, existingNames)
//	if err != nil {
//	    return err
//	}
//	result, err := handle.Wait(ctx)
package shuttle
