// Package chunk computes part layouts for transfers.
//
// Planning is a pure function: given a size and the configured part
// size it produces the part boundaries, clamped to the store's part
// size and part count limits. Files at or below the single-part
// threshold bypass the multipart protocol entirely.
package chunk

import (
	"fmt"

	"github.com/s3shuttle/shuttle/errors"
	"github.com/s3shuttle/shuttle/shuttletypes"
)

// Plan computes the part layout for a file of the given size.
//
// The parts partition [0, size) contiguously in index order. A zero-byte
// file yields a single empty part. The effective part size is clamped
// into [limits.MinPartSize, limits.MaxPartSize] and scaled up when the
// part count would exceed limits.MaxPartCount.
func Plan(size, partSize int64, limits shuttletypes.Limits) (shuttletypes.PartPlan, error) {
	if size < 0 {
		return shuttletypes.PartPlan{}, errors.NewError("plan", errors.ErrPlan).
			WithMessage(fmt.Sprintf("negative size %d", size))
	}
	if partSize <= 0 {
		partSize = shuttletypes.DefaultPartSize
	}

	partSize = clamp(partSize, limits.MinPartSize, limits.MaxPartSize)

	// Single-object mode for small files, including zero-byte files.
	if size <= limits.SinglePartThreshold {
		return shuttletypes.PartPlan{
			Size:     size,
			PartSize: partSize,
			Parts: []shuttletypes.Part{
				{Index: 0, Offset: 0, Length: size, Last: true},
			},
		}, nil
	}

	// Scale the part size up if the file would need too many parts.
	if limits.MaxPartCount > 0 {
		minPartSize := ceilDiv(size, int64(limits.MaxPartCount))
		if partSize < minPartSize {
			partSize = clamp(minPartSize, limits.MinPartSize, limits.MaxPartSize)
		}
	}

	count := ceilDiv(size, partSize)
	if limits.MaxPartCount > 0 && count > int64(limits.MaxPartCount) {
		return shuttletypes.PartPlan{}, errors.NewError("plan", errors.ErrPlan).
			WithMessage(fmt.Sprintf("size %d exceeds %d parts of max part size", size, limits.MaxPartCount))
	}

	parts := make([]shuttletypes.Part, 0, count)
	for offset := int64(0); offset < size; offset += partSize {
		length := partSize
		if offset+length > size {
			length = size - offset
		}
		parts = append(parts, shuttletypes.Part{
			Index:  int32(len(parts)),
			Offset: offset,
			Length: length,
			Last:   offset+length == size,
		})
	}

	return shuttletypes.PartPlan{
		Size:      size,
		PartSize:  partSize,
		Multipart: true,
		Parts:     parts,
	}, nil
}

func clamp(v, lo, hi int64) int64 {
	if lo > 0 && v < lo {
		v = lo
	}
	if hi > 0 && v > hi {
		v = hi
	}
	return v
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
