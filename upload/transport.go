package upload

import (
	"context"
	"time"
)

// Token is the remote handle of one append-only upload stream. It is issued
// once per transfer and passed on every chunk call.
type Token struct {
	ID string
}

// ChunkRequest describes one chunk append.
type ChunkRequest struct {
	Token  Token
	Index  int
	Offset int64
	Data   []byte
	// Resume is false only for the first chunk of a stream.
	Resume bool
	// Final tells the remote side to close the stream after this append.
	Final bool
}

// Outcome describes one successful chunk transfer attempt. Only the final
// successful attempt's timing is reported, so retries never distort the
// throughput fed back into adaptive sizing.
type Outcome struct {
	BytesSent int64
	Elapsed   time.Duration
}

// Transport performs the authenticated network calls of an upload. Each
// attempt must be bounded by the transport's own per-request timeout.
// Returned errors must be classified for the retry policy: transports mark
// retryable failures by implementing Transient() bool on their error types
// (see IsTransient).
type Transport interface {
	// AcquireToken registers a new upload stream for the named file.
	AcquireToken(ctx context.Context, fileName string, fileSize int64) (Token, error)

	// SendChunk appends req.Data at req.Offset into the stream.
	SendChunk(ctx context.Context, req ChunkRequest) error

	// ConfirmFinalized blocks until the remote side acknowledges the stream
	// as fully uploaded, or fails.
	ConfirmFinalized(ctx context.Context, token Token, fileSize int64) error
}
