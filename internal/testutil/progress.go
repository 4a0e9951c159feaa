package testutil

import "sync"

// MockProgressTracker records progress callbacks for assertions.
type MockProgressTracker struct {
	mu sync.Mutex

	UpdateCalled   bool
	CompleteCalled bool
	ErrorCalled    bool

	BytesTransferred int64
	TotalBytes       int64
	LastError        error
	Updates          []ProgressUpdate
}

// ProgressUpdate is one recorded Update call.
type ProgressUpdate struct {
	Transferred int64
	Total       int64
}

// Update records a progress update.
func (m *MockProgressTracker) Update(bytesTransferred, totalBytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateCalled = true
	m.BytesTransferred = bytesTransferred
	m.TotalBytes = totalBytes
	m.Updates = append(m.Updates, ProgressUpdate{
		Transferred: bytesTransferred,
		Total:       totalBytes,
	})
}

// Complete marks the batch as completed.
func (m *MockProgressTracker) Complete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompleteCalled = true
}

// Error records a batch failure.
func (m *MockProgressTracker) Error(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ErrorCalled = true
	m.LastError = err
}

// DidComplete reports whether Complete was called.
func (m *MockProgressTracker) DidComplete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CompleteCalled
}

// DidError reports whether Error was called.
func (m *MockProgressTracker) DidError() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ErrorCalled
}

// Snapshot returns the recorded update list.
func (m *MockProgressTracker) Snapshot() []ProgressUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ProgressUpdate(nil), m.Updates...)
}
