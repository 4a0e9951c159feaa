package testutil

import (
	"io"
	"log/slog"
	"testing"

	"github.com/input-output-hk/catalyst-forge-libs/fs"
)

// Pattern fills a buffer of the given size with a deterministic byte
// pattern so reassembled transfers can be verified byte for byte.
func Pattern(size int64) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// WriteFile creates a file with the given content on the filesystem,
// failing the test on error.
func WriteFile(t *testing.T, fsys fs.Filesystem, path string, data []byte) {
	t.Helper()
	if err := fsys.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// ReadFile reads a file's full content, failing the test on error.
func ReadFile(t *testing.T, fsys fs.Filesystem, path string) []byte {
	t.Helper()
	f, err := fsys.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return data
}

// DiscardLogger returns a logger that drops everything, keeping test
// output clean.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
