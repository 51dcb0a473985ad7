package upload

import (
	"context"
	"sync"
	"time"

	"github.com/kalturaops/kaltura-uploader/chunker"
)

// fakeTransport is a scriptable Transport: per-chunk error sequences are
// consumed one call at a time, then sends succeed.
type fakeTransport struct {
	mu            sync.Mutex
	acquireErr    error
	finalizeErr   error
	chunkFailures map[int][]error
	afterSend     func(req ChunkRequest)

	attempts  map[int]int
	appended  []ChunkRequest
	finalized int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		chunkFailures: map[int][]error{},
		attempts:      map[int]int{},
	}
}

func (f *fakeTransport) failChunk(index int, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunkFailures[index] = append(f.chunkFailures[index], errs...)
}

func (f *fakeTransport) AcquireToken(ctx context.Context, fileName string, fileSize int64) (Token, error) {
	if f.acquireErr != nil {
		return Token{}, f.acquireErr
	}
	return Token{ID: "token-1"}, nil
}

func (f *fakeTransport) SendChunk(ctx context.Context, req ChunkRequest) error {
	f.mu.Lock()
	f.attempts[req.Index]++
	var err error
	if pending := f.chunkFailures[req.Index]; len(pending) > 0 {
		err = pending[0]
		f.chunkFailures[req.Index] = pending[1:]
	}
	if err == nil {
		f.appended = append(f.appended, req)
	}
	hook := f.afterSend
	f.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	return err
}

func (f *fakeTransport) ConfirmFinalized(ctx context.Context, token Token, fileSize int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finalizeErr != nil {
		return f.finalizeErr
	}
	f.finalized++
	return nil
}

func (f *fakeTransport) attemptCount(index int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[index]
}

func (f *fakeTransport) appendedChunks() []ChunkRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ChunkRequest(nil), f.appended...)
}

func (f *fakeTransport) finalizedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finalized
}

// recordingObserver captures session events for assertions.
type recordingObserver struct {
	mu            sync.Mutex
	tokenIDs      []string
	sentAttempts  map[int]int
	sentOrder     []int
	retries       []int
	finalizedWith []State
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{sentAttempts: map[int]int{}}
}

func (o *recordingObserver) TokenAcquired(sessionID, tokenID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tokenIDs = append(o.tokenIDs, tokenID)
}

func (o *recordingObserver) ChunkSent(sessionID string, chunk chunker.Descriptor, attempts int, elapsed time.Duration, state State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sentAttempts[chunk.Index] = attempts
	o.sentOrder = append(o.sentOrder, chunk.Index)
}

func (o *recordingObserver) ChunkRetried(sessionID string, chunk chunker.Descriptor, retry int, delay time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries = append(o.retries, chunk.Index)
}

func (o *recordingObserver) Finalized(sessionID, tokenID string, state State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finalizedWith = append(o.finalizedWith, state)
}
