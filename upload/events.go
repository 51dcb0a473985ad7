package upload

import (
	"time"

	"github.com/kalturaops/kaltura-uploader/chunker"
)

// Observer receives progress events from a session. Implementations own all
// presentation and secret redaction; the engine itself never formats user
// output. Callbacks run on the uploading goroutine and should return
// quickly.
type Observer interface {
	// TokenAcquired fires once the remote upload stream exists.
	TokenAcquired(sessionID, tokenID string)

	// ChunkSent fires after every successful chunk append. attempts counts
	// all tries for the chunk, including the successful one.
	ChunkSent(sessionID string, chunk chunker.Descriptor, attempts int, elapsed time.Duration, state State)

	// ChunkRetried fires before each backoff sleep. retry is zero-based.
	ChunkRetried(sessionID string, chunk chunker.Descriptor, retry int, delay time.Duration, err error)

	// Finalized fires after the remote side confirmed the completed stream.
	Finalized(sessionID, tokenID string, state State)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) TokenAcquired(string, string) {}
func (NopObserver) ChunkSent(string, chunker.Descriptor, int, time.Duration, State) {
}
func (NopObserver) ChunkRetried(string, chunker.Descriptor, int, time.Duration, error) {
}
func (NopObserver) Finalized(string, string, State) {}
