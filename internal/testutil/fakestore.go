package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/s3shuttle/shuttle/errors"
	"github.com/s3shuttle/shuttle/internal/store"
)

// FakeStore is an in-memory store.Store for exercising the scheduler
// and engine without a network. Every operation has a function-field
// override; unset fields run the in-memory default. The fake also
// records call counts and the worker concurrency it observed.
type FakeStore struct {
	mu         sync.Mutex
	objects    map[string][]byte
	uploads    map[string]map[int32][]byte
	uploadKeys map[string]string
	nextUpload int

	inFlight    int
	maxInFlight int

	// Completions records the part lists passed to CompleteMultipart.
	Completions [][]store.CompletedPart

	// Counts of calls per operation.
	PutCalls      int
	InitiateCalls int
	PartCalls     int
	CompleteCalls int
	AbortCalls    int
	GetCalls      int
	ListCalls     int
	DeleteCalls   int
	CopyCalls     int
	HeadCalls     int

	PutObjectFunc         func(ctx context.Context, key string, body io.Reader, size int64) error
	InitiateMultipartFunc func(ctx context.Context, key string) (string, error)
	UploadPartFunc        func(ctx context.Context, key, uploadID string, index int32, body io.Reader, length int64) (string, error)
	CompleteMultipartFunc func(ctx context.Context, key, uploadID string, parts []store.CompletedPart) error
	AbortMultipartFunc    func(ctx context.Context, key, uploadID string) error
	GetObjectFunc         func(ctx context.Context, key string, rng *store.ByteRange) (io.ReadCloser, int64, error)
	HeadObjectFunc        func(ctx context.Context, key string) (store.HeadInfo, error)
	ListPageFunc          func(ctx context.Context, prefix, delimiter, continuationToken, startAfter string) (*store.ListPage, string, error)
	DeleteObjectsFunc     func(ctx context.Context, keys []string) error
	CopyObjectFunc        func(ctx context.Context, srcKey, dstKey string) error
}

var _ store.Store = (*FakeStore)(nil)

// NewFakeStore creates an empty in-memory store.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		objects:    make(map[string][]byte),
		uploads:    make(map[string]map[int32][]byte),
		uploadKeys: make(map[string]string),
	}
}

// Seed stores an object directly, bypassing the Store interface.
func (f *FakeStore) Seed(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = append([]byte(nil), data...)
}

// Object returns a stored object's bytes and whether it exists.
func (f *FakeStore) Object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	return append([]byte(nil), data...), ok
}

// OpenUploads returns the IDs of multipart uploads that were initiated
// but neither completed nor aborted.
func (f *FakeStore) OpenUploads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.uploads))
	for id := range f.uploads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MaxInFlight reports the highest number of concurrently running part
// or put operations the fake observed.
func (f *FakeStore) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

func (f *FakeStore) enter() {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()
}

func (f *FakeStore) leave() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

// PutObject implements store.Store.
func (f *FakeStore) PutObject(ctx context.Context, key string, body io.Reader, size int64) error {
	f.mu.Lock()
	f.PutCalls++
	f.mu.Unlock()

	if f.PutObjectFunc != nil {
		return f.PutObjectFunc(ctx, key, body, size)
	}

	f.enter()
	defer f.leave()

	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.objects[key] = data
	f.mu.Unlock()
	return nil
}

// InitiateMultipart implements store.Store.
func (f *FakeStore) InitiateMultipart(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	f.InitiateCalls++
	f.mu.Unlock()

	if f.InitiateMultipartFunc != nil {
		return f.InitiateMultipartFunc(ctx, key)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextUpload++
	id := fmt.Sprintf("upload-%d", f.nextUpload)
	f.uploads[id] = make(map[int32][]byte)
	f.uploadKeys[id] = key
	return id, nil
}

// UploadPart implements store.Store.
func (f *FakeStore) UploadPart(
	ctx context.Context,
	key, uploadID string,
	index int32,
	body io.Reader,
	length int64,
) (string, error) {
	f.mu.Lock()
	f.PartCalls++
	f.mu.Unlock()

	if f.UploadPartFunc != nil {
		return f.UploadPartFunc(ctx, key, uploadID, index, body, length)
	}

	f.enter()
	defer f.leave()

	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	parts, ok := f.uploads[uploadID]
	if !ok {
		return "", errors.NewError("uploadPart", errors.ErrObjectNotFound).WithKey(key)
	}
	parts[index] = data
	return fmt.Sprintf("etag-%s-%d", uploadID, index), nil
}

// CompleteMultipart implements store.Store.
func (f *FakeStore) CompleteMultipart(
	ctx context.Context,
	key, uploadID string,
	parts []store.CompletedPart,
) error {
	f.mu.Lock()
	f.CompleteCalls++
	f.Completions = append(f.Completions, append([]store.CompletedPart(nil), parts...))
	f.mu.Unlock()

	if f.CompleteMultipartFunc != nil {
		return f.CompleteMultipartFunc(ctx, key, uploadID, parts)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.uploads[uploadID]
	if !ok {
		return errors.NewError("completeMultipart", errors.ErrObjectNotFound).WithKey(key)
	}

	var assembled []byte
	for _, p := range parts {
		data, ok := stored[p.Index]
		if !ok {
			return errors.NewError("completeMultipart", errors.ErrInvalidInput).
				WithKey(key).
				WithMessage(fmt.Sprintf("missing part %d", p.Index))
		}
		assembled = append(assembled, data...)
	}

	f.objects[key] = assembled
	delete(f.uploads, uploadID)
	delete(f.uploadKeys, uploadID)
	return nil
}

// AbortMultipart implements store.Store.
func (f *FakeStore) AbortMultipart(ctx context.Context, key, uploadID string) error {
	f.mu.Lock()
	f.AbortCalls++
	f.mu.Unlock()

	if f.AbortMultipartFunc != nil {
		return f.AbortMultipartFunc(ctx, key, uploadID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.uploads, uploadID)
	delete(f.uploadKeys, uploadID)
	return nil
}

// GetObject implements store.Store.
func (f *FakeStore) GetObject(
	ctx context.Context,
	key string,
	rng *store.ByteRange,
) (io.ReadCloser, int64, error) {
	f.mu.Lock()
	f.GetCalls++
	f.mu.Unlock()

	if f.GetObjectFunc != nil {
		return f.GetObjectFunc(ctx, key, rng)
	}

	f.mu.Lock()
	data, ok := f.objects[key]
	f.mu.Unlock()
	if !ok {
		return nil, 0, errors.NewObjectError("getObject", "fake", key, errors.ErrObjectNotFound)
	}

	if rng != nil {
		start, end := rng.Start, rng.End
		if start < 0 || start >= int64(len(data)) {
			return nil, 0, errors.NewObjectError("getObject", "fake", key, errors.ErrInvalidInput)
		}
		if end >= int64(len(data)) {
			end = int64(len(data)) - 1
		}
		data = data[start : end+1]
	}

	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

// HeadObject implements store.Store.
func (f *FakeStore) HeadObject(ctx context.Context, key string) (store.HeadInfo, error) {
	f.mu.Lock()
	f.HeadCalls++
	f.mu.Unlock()

	if f.HeadObjectFunc != nil {
		return f.HeadObjectFunc(ctx, key)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return store.HeadInfo{}, nil
	}
	return store.HeadInfo{Exists: true, Size: int64(len(data))}, nil
}

// ListPage implements store.Store. The fake returns everything in one
// page, grouping common prefixes when a delimiter is given.
func (f *FakeStore) ListPage(
	ctx context.Context,
	prefix, delimiter, continuationToken, startAfter string,
) (*store.ListPage, string, error) {
	f.mu.Lock()
	f.ListCalls++
	f.mu.Unlock()

	if f.ListPageFunc != nil {
		return f.ListPageFunc(ctx, prefix, delimiter, continuationToken, startAfter)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	page := &store.ListPage{}
	prefixSet := make(map[string]struct{})

	keys := make([]string, 0, len(f.objects))
	for key := range f.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		if delimiter != "" {
			if idx := strings.Index(rest, delimiter); idx >= 0 {
				prefixSet[prefix+rest[:idx+1]] = struct{}{}
				continue
			}
		}
		page.Objects = append(page.Objects, store.ObjectInfo{
			Key:  key,
			Size: int64(len(f.objects[key])),
		})
	}

	for cp := range prefixSet {
		page.CommonPrefixes = append(page.CommonPrefixes, cp)
	}
	sort.Strings(page.CommonPrefixes)

	return page, "", nil
}

// DeleteObjects implements store.Store.
func (f *FakeStore) DeleteObjects(ctx context.Context, keys []string) error {
	f.mu.Lock()
	f.DeleteCalls++
	f.mu.Unlock()

	if f.DeleteObjectsFunc != nil {
		return f.DeleteObjectsFunc(ctx, keys)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.objects, key)
	}
	return nil
}

// CopyObject implements store.Store.
func (f *FakeStore) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	f.mu.Lock()
	f.CopyCalls++
	f.mu.Unlock()

	if f.CopyObjectFunc != nil {
		return f.CopyObjectFunc(ctx, srcKey, dstKey)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[srcKey]
	if !ok {
		return errors.NewObjectError("copyObject", "fake", srcKey, errors.ErrObjectNotFound)
	}
	f.objects[dstKey] = append([]byte(nil), data...)
	return nil
}
