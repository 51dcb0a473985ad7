package upload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.bin")
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func newTestSession(t *testing.T, transport Transport, config Config, observer Observer) *Session {
	t.Helper()
	session, err := NewSession(transport, config, nil, observer)
	require.NoError(t, err)
	// No real sleeping in tests.
	session.retrier.sleep = func(context.Context, time.Duration) error { return nil }
	session.retrier.jitter = func(time.Duration) time.Duration { return 0 }
	return session
}

func TestSession_FixedChunks(t *testing.T) {
	path := writeTestFile(t, 5_000_000)
	transport := newFakeTransport()
	observer := newRecordingObserver()

	session := newTestSession(t, transport, DefaultConfig(), observer)

	token, err := session.Upload(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "token-1", token.ID)

	chunks := transport.appendedChunks()
	require.Len(t, chunks, 3)
	assert.EqualValues(t, 2_097_152, len(chunks[0].Data))
	assert.EqualValues(t, 2_097_152, len(chunks[1].Data))
	assert.EqualValues(t, 805_696, len(chunks[2].Data))

	assert.EqualValues(t, 0, chunks[0].Offset)
	assert.False(t, chunks[0].Resume)
	assert.EqualValues(t, 2_097_152, chunks[1].Offset)
	assert.True(t, chunks[1].Resume)
	assert.EqualValues(t, 4_194_304, chunks[2].Offset)

	assert.False(t, chunks[0].Final)
	assert.False(t, chunks[1].Final)
	assert.True(t, chunks[2].Final)

	state := session.State()
	assert.Equal(t, PhaseFinalized, state.Phase)
	assert.EqualValues(t, 5_000_000, state.BytesUploaded)
	assert.Equal(t, 3, state.ChunksCompleted)
	assert.Equal(t, 1, transport.finalizedCount())

	assert.Equal(t, []string{"token-1"}, observer.tokenIDs)
	assert.Equal(t, []int{0, 1, 2}, observer.sentOrder)
	require.Len(t, observer.finalizedWith, 1)
	assert.Equal(t, PhaseFinalized, observer.finalizedWith[0].Phase)

	stats := session.Stats()
	assert.EqualValues(t, 3, stats.FinishedCount())
	assert.EqualValues(t, 5_000_000, stats.TotalBytes())
}

func TestSession_ChunksAscendStrictly(t *testing.T) {
	path := writeTestFile(t, 10_000)
	transport := newFakeTransport()

	config := DefaultConfig()
	config.ChunkSizeKB = 1

	session := newTestSession(t, transport, config, nil)
	_, err := session.Upload(context.Background(), path)
	require.NoError(t, err)

	chunks := transport.appendedChunks()
	require.Len(t, chunks, 10)
	offset := int64(0)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		assert.Equal(t, offset, chunk.Offset)
		offset += int64(len(chunk.Data))
	}
	assert.EqualValues(t, 10_000, offset)
}

func TestSession_EmptyFile(t *testing.T) {
	path := writeTestFile(t, 0)
	transport := newFakeTransport()

	session := newTestSession(t, transport, DefaultConfig(), nil)
	_, err := session.Upload(context.Background(), path)
	require.NoError(t, err)

	chunks := transport.appendedChunks()
	require.Len(t, chunks, 1)
	assert.Empty(t, chunks[0].Data)
	assert.True(t, chunks[0].Final)
	assert.Equal(t, PhaseFinalized, session.State().Phase)
	assert.Equal(t, 1, transport.finalizedCount())
}

func TestSession_TransientFailuresRecover(t *testing.T) {
	path := writeTestFile(t, 5_000_000)
	transport := newFakeTransport()
	transport.failChunk(1,
		Transient(errors.New("connection reset")),
		Transient(errors.New("gateway timeout")),
	)
	observer := newRecordingObserver()

	config := DefaultConfig()
	config.MaxRetries = 3

	session := newTestSession(t, transport, config, observer)
	_, err := session.Upload(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 1, transport.attemptCount(0))
	assert.Equal(t, 3, transport.attemptCount(1), "two transient failures and one success")
	assert.Equal(t, 1, transport.attemptCount(2))
	assert.Equal(t, 3, observer.sentAttempts[1])
	assert.Equal(t, []int{1, 1}, observer.retries)

	state := session.State()
	assert.Equal(t, PhaseFinalized, state.Phase)
	assert.EqualValues(t, 5_000_000, state.BytesUploaded)
}

func TestSession_RetriesExhausted(t *testing.T) {
	path := writeTestFile(t, 5_000_000)
	transport := newFakeTransport()
	transport.failChunk(1,
		Transient(errors.New("timeout")),
		Transient(errors.New("timeout")),
		Transient(errors.New("timeout")),
	)

	config := DefaultConfig()
	config.MaxRetries = 2

	session := newTestSession(t, transport, config, nil)
	_, err := session.Upload(context.Background(), path)
	require.Error(t, err)

	var uploadErr *Error
	require.ErrorAs(t, err, &uploadErr)
	assert.Equal(t, KindExhaustedRetries, uploadErr.Kind)
	assert.Equal(t, 1, uploadErr.ChunkIndex)
	assert.EqualValues(t, 2_097_152, uploadErr.BytesUploaded)

	assert.Equal(t, 3, transport.attemptCount(1), "maxRetries=2 bounds the chunk to 3 attempts")
	assert.Zero(t, transport.attemptCount(2), "later chunks are never attempted")
	assert.Zero(t, transport.finalizedCount())
	assert.Equal(t, PhaseFailed, session.State().Phase)
}

func TestSession_PermanentFailureFailsFast(t *testing.T) {
	path := writeTestFile(t, 5_000_000)
	transport := newFakeTransport()
	transport.failChunk(1, Permanent(errors.New("quota exceeded")))

	session := newTestSession(t, transport, DefaultConfig(), nil)
	_, err := session.Upload(context.Background(), path)
	require.Error(t, err)

	var uploadErr *Error
	require.ErrorAs(t, err, &uploadErr)
	assert.Equal(t, KindPermanent, uploadErr.Kind)
	assert.Equal(t, 1, uploadErr.ChunkIndex)
	assert.EqualValues(t, 2_097_152, uploadErr.BytesUploaded, "only chunk 1 made it")

	assert.Equal(t, 1, transport.attemptCount(1), "permanent failures are not retried")
	assert.Zero(t, transport.attemptCount(2))
	assert.Equal(t, PhaseFailed, session.State().Phase)
}

func TestSession_SingleUse(t *testing.T) {
	path := writeTestFile(t, 1000)
	transport := newFakeTransport()

	session := newTestSession(t, transport, DefaultConfig(), nil)
	_, err := session.Upload(context.Background(), path)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = session.Upload(context.Background(), path)
		var uploadErr *Error
		require.ErrorAs(t, err, &uploadErr)
		assert.Equal(t, KindInvalidState, uploadErr.Kind)
	}
	assert.Equal(t, PhaseFinalized, session.State().Phase, "rejected calls do not disturb the terminal state")
}

func TestSession_SingleUseAfterFailure(t *testing.T) {
	transport := newFakeTransport()
	session := newTestSession(t, transport, DefaultConfig(), nil)

	_, err := session.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.bin"))
	assert.Equal(t, KindFileAccess, KindOf(err))
	assert.Equal(t, PhaseFailed, session.State().Phase)

	_, err = session.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.bin"))
	assert.Equal(t, KindInvalidState, KindOf(err))
}

func TestSession_AcquisitionError(t *testing.T) {
	path := writeTestFile(t, 1000)
	transport := newFakeTransport()
	transport.acquireErr = errors.New("service unavailable")

	session := newTestSession(t, transport, DefaultConfig(), nil)
	_, err := session.Upload(context.Background(), path)

	assert.Equal(t, KindAcquisition, KindOf(err))
	assert.Equal(t, PhaseFailed, session.State().Phase)
	assert.Zero(t, transport.attemptCount(0))
}

func TestSession_FinalizeError(t *testing.T) {
	path := writeTestFile(t, 1000)
	transport := newFakeTransport()
	transport.finalizeErr = errors.New("token stuck in pending")

	session := newTestSession(t, transport, DefaultConfig(), nil)
	_, err := session.Upload(context.Background(), path)

	assert.Equal(t, KindFinalize, KindOf(err))
	assert.Equal(t, PhaseFailed, session.State().Phase)
}

func TestSession_CancelledBetweenChunks(t *testing.T) {
	path := writeTestFile(t, 5_000_000)
	ctx, cancel := context.WithCancel(context.Background())

	transport := newFakeTransport()
	transport.afterSend = func(req ChunkRequest) {
		if req.Index == 0 {
			cancel()
		}
	}

	session := newTestSession(t, transport, DefaultConfig(), nil)
	_, err := session.Upload(ctx, path)
	require.Error(t, err)

	var uploadErr *Error
	require.ErrorAs(t, err, &uploadErr)
	assert.Equal(t, KindCancelled, uploadErr.Kind)
	assert.EqualValues(t, 2_097_152, uploadErr.BytesUploaded)

	assert.Equal(t, PhaseCancelled, session.State().Phase)
	assert.Zero(t, transport.attemptCount(1), "no further chunks after cancellation")
	assert.Zero(t, transport.finalizedCount(), "a cancelled session never finalizes the token")
}

func TestSession_CancelledDuringBackoff(t *testing.T) {
	path := writeTestFile(t, 1000)
	ctx, cancel := context.WithCancel(context.Background())

	transport := newFakeTransport()
	transport.failChunk(0, Transient(errors.New("flaky")))
	transport.afterSend = func(ChunkRequest) { cancel() }

	session := newTestSession(t, transport, DefaultConfig(), nil)
	// Real context-aware sleep so the cancellation interrupts the backoff.
	session.retrier.sleep = sleepContext
	session.retrier.baseDelay = time.Minute

	done := make(chan error, 1)
	go func() {
		_, err := session.Upload(ctx, path)
		done <- err
	}()

	select {
	case err := <-done:
		assert.Equal(t, KindCancelled, KindOf(err))
		assert.Equal(t, PhaseCancelled, session.State().Phase)
	case <-time.After(5 * time.Second):
		t.Fatal("backoff sleep was not interrupted by cancellation")
	}
}

func TestSession_AdaptiveGrowsTowardBound(t *testing.T) {
	path := writeTestFile(t, 32*1024)
	transport := newFakeTransport()

	config := DefaultConfig()
	config.Adaptive = true
	config.ChunkSizeKB = 2
	config.MinChunkSizeKB = 1
	config.MaxChunkSizeKB = 8
	config.TargetChunkTime = 5 * time.Second

	session := newTestSession(t, transport, config, nil)
	_, err := session.Upload(context.Background(), path)
	require.NoError(t, err)

	// The fake transport is effectively instantaneous, so observed
	// throughput pushes the size to the upper bound after the first chunk.
	chunks := transport.appendedChunks()
	var lengths []int
	var total int64
	for _, chunk := range chunks {
		lengths = append(lengths, len(chunk.Data))
		total += int64(len(chunk.Data))
	}
	assert.Equal(t, []int{2048, 8192, 8192, 8192, 6144}, lengths)
	assert.EqualValues(t, 32*1024, total)
	assert.True(t, chunks[len(chunks)-1].Final)
	assert.Equal(t, PhaseFinalized, session.State().Phase)
}

func TestSession_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero chunk size", func(c *Config) { c.ChunkSizeKB = 0 }},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
		{"zero base delay", func(c *Config) { c.BaseRetryDelay = 0 }},
		{"adaptive zero min", func(c *Config) { c.Adaptive = true; c.MinChunkSizeKB = 0 }},
		{"adaptive max below min", func(c *Config) { c.Adaptive = true; c.MaxChunkSizeKB = c.MinChunkSizeKB - 1 }},
		{"adaptive zero target", func(c *Config) { c.Adaptive = true; c.TargetChunkTime = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(&config)
			_, err := NewSession(newFakeTransport(), config, nil, nil)
			assert.Equal(t, KindConfiguration, KindOf(err))
		})
	}
}

func TestSession_StateSnapshotsAreIndependent(t *testing.T) {
	path := writeTestFile(t, 1000)
	transport := newFakeTransport()

	session := newTestSession(t, transport, DefaultConfig(), nil)
	before := session.State()
	assert.Equal(t, PhaseNotStarted, before.Phase)

	_, err := session.Upload(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, PhaseNotStarted, before.Phase, "earlier snapshots do not change")
	assert.Equal(t, PhaseFinalized, session.State().Phase)
}
