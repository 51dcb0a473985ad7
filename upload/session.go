package upload

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/google/uuid"

	"github.com/kalturaops/kaltura-uploader/chunker"
)

// Phase is the lifecycle state of a session.
type Phase int

const (
	PhaseNotStarted Phase = iota
	PhaseTokenAcquired
	PhaseUploading
	PhaseFinalized
	PhaseFailed
	PhaseCancelled
)

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not started"
	case PhaseTokenAcquired:
		return "token acquired"
	case PhaseUploading:
		return "uploading"
	case PhaseFinalized:
		return "finalized"
	case PhaseFailed:
		return "failed"
	case PhaseCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown phase %d", int(p))
	}
}

// State is a snapshot of upload progress, safe to read from other
// goroutines via Session.State.
type State struct {
	Phase           Phase
	TokenID         string
	FileSize        int64
	BytesUploaded   int64
	ChunksCompleted int
	// ChunkSize is the size the next chunk would use, in bytes.
	ChunkSize int64
}

// Session drives one file from first byte to token finalization. Chunks are
// sent strictly in ascending offset order, one at a time: the remote token
// models a single append-only stream. A session is single-use; a second
// Upload call is rejected whatever the outcome of the first.
//
// Sessions share nothing: independent sessions may run in parallel, each
// owning its token, file handle and size policy exclusively.
type Session struct {
	id         string
	config     Config
	transport  Transport
	logger     log.Logger
	observer   Observer
	controller *chunker.SizeController
	retrier    *retrier
	stats      *chunker.Stats

	mu      sync.Mutex
	started bool
	state   State
}

// NewSession validates config and prepares a session over the given
// transport. A nil observer is replaced with NopObserver.
func NewSession(transport Transport, config Config, logger log.Logger, observer Observer) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	controller, err := chunker.NewSizeController(config.sizePolicy())
	if err != nil {
		return nil, &Error{Kind: KindConfiguration, Err: err}
	}
	if logger == nil {
		logger = log.NewLogger()
	}
	if observer == nil {
		observer = NopObserver{}
	}

	return &Session{
		id:         uuid.NewString(),
		config:     config,
		transport:  transport,
		logger:     logger,
		observer:   observer,
		controller: controller,
		retrier:    newRetrier(config.MaxRetries, config.BaseRetryDelay),
		stats:      chunker.NewStats(),
		state:      State{Phase: PhaseNotStarted, ChunkSize: controller.NextSize()},
	}, nil
}

// ID returns the session's unique identifier, as carried in events.
func (s *Session) ID() string {
	return s.id
}

// State returns a snapshot of the current progress.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns the session's transfer statistics.
func (s *Session) Stats() *chunker.Stats {
	return s.stats
}

// Upload transfers the file at filePath chunk by chunk and returns the
// finalized upload token. It blocks until the token is finalized or the
// transfer fails; the returned error is always an *Error carrying the bytes
// uploaded before the failure and the chunk index it occurred at.
func (s *Session) Upload(ctx context.Context, filePath string) (Token, error) {
	if err := s.begin(); err != nil {
		return Token{}, err
	}

	source, err := chunker.OpenFileSource(filePath)
	if err != nil {
		return Token{}, s.fail(KindFileAccess, 0, err)
	}
	defer source.Close()

	fileSize := source.Size()
	s.update(func(st *State) { st.FileSize = fileSize })
	s.logger.Debugf("Uploading %s (%d bytes) in chunks of %d bytes", filePath, fileSize, s.controller.NextSize())

	token, err := s.transport.AcquireToken(ctx, filepath.Base(filePath), fileSize)
	if err != nil {
		if cancelled(err) {
			return Token{}, s.abort(0, err)
		}
		return Token{}, s.fail(KindAcquisition, 0, err)
	}
	s.update(func(st *State) {
		st.Phase = PhaseTokenAcquired
		st.TokenID = token.ID
	})
	s.observer.TokenAcquired(s.id, token.ID)
	s.logger.Debugf("Acquired upload token %s", token.ID)

	s.update(func(st *State) { st.Phase = PhaseUploading })

	var lastIndex int
	if s.config.Adaptive {
		lastIndex, err = s.streamAdaptive(ctx, source, token)
	} else {
		lastIndex, err = s.streamPlanned(ctx, source, token)
	}
	if err != nil {
		return Token{}, err
	}

	if err := s.transport.ConfirmFinalized(ctx, token, fileSize); err != nil {
		if cancelled(err) {
			return Token{}, s.abort(lastIndex, err)
		}
		return Token{}, s.fail(KindFinalize, lastIndex, err)
	}

	s.update(func(st *State) { st.Phase = PhaseFinalized })
	s.observer.Finalized(s.id, token.ID, s.State())
	s.logger.Infof("Upload token %s finalized: %d bytes in %d chunks", token.ID, fileSize, lastIndex+1)

	return token, nil
}

// streamPlanned sends the fixed-size partition computed up front.
func (s *Session) streamPlanned(ctx context.Context, source *chunker.FileSource, token Token) (int, error) {
	plan, err := chunker.Plan(source.Size(), s.controller.NextSize())
	if err != nil {
		return 0, s.fail(KindConfiguration, 0, err)
	}
	s.logger.Debugf("Planned %d chunks of up to %d bytes", len(plan), s.controller.NextSize())

	lastIndex := 0
	for _, descriptor := range plan {
		// Cancellation is observed between chunks; a chunk send is atomic
		// once started.
		if err := ctx.Err(); err != nil {
			return lastIndex, s.abort(descriptor.Index, err)
		}
		if err := s.sendChunk(ctx, source, token, descriptor); err != nil {
			return lastIndex, err
		}
		lastIndex = descriptor.Index
	}
	return lastIndex, nil
}

// streamAdaptive plans one descriptor at a time because the controller
// resizes chunks between requests.
func (s *Session) streamAdaptive(ctx context.Context, source *chunker.FileSource, token Token) (int, error) {
	index, offset := 0, int64(0)
	for {
		if err := ctx.Err(); err != nil {
			return index, s.abort(index, err)
		}

		descriptor, err := chunker.Next(index, offset, source.Size(), s.controller.NextSize())
		if err != nil {
			return index, s.fail(KindConfiguration, index, err)
		}

		if err := s.sendChunk(ctx, source, token, descriptor); err != nil {
			return index, err
		}

		if descriptor.Final {
			return index, nil
		}
		index++
		offset = descriptor.Offset + descriptor.Length
	}
}

// sendChunk transfers one descriptor, retrying transient failures, and
// records the result. The returned error is terminal for the session.
func (s *Session) sendChunk(ctx context.Context, source *chunker.FileSource, token Token, descriptor chunker.Descriptor) error {
	data, err := source.ReadChunk(descriptor)
	if err != nil {
		return s.fail(KindFileAccess, descriptor.Index, err)
	}

	attempts := 0
	attempt := func() (Outcome, error) {
		attempts++
		start := time.Now()
		if err := s.transport.SendChunk(ctx, ChunkRequest{
			Token:  token,
			Index:  descriptor.Index,
			Offset: descriptor.Offset,
			Data:   data,
			Resume: descriptor.Offset > 0,
			Final:  descriptor.Final,
		}); err != nil {
			return Outcome{}, err
		}
		return Outcome{BytesSent: int64(len(data)), Elapsed: time.Since(start)}, nil
	}

	onRetry := func(retry int, delay time.Duration, err error) {
		s.logger.Warnf("Chunk %d attempt %d failed, retrying in %v: %v", descriptor.Index+1, retry+1, delay, err)
		s.observer.ChunkRetried(s.id, descriptor, retry, delay, err)
	}

	outcome, err := s.retrier.do(ctx, attempt, onRetry)
	if err != nil {
		switch {
		case cancelled(err):
			return s.abort(descriptor.Index, err)
		case isExhausted(err):
			return s.fail(KindExhaustedRetries, descriptor.Index, err)
		default:
			return s.fail(KindPermanent, descriptor.Index, err)
		}
	}

	s.controller.Observe(outcome.BytesSent, outcome.Elapsed)
	s.stats.Update(outcome.BytesSent, outcome.Elapsed)
	s.update(func(st *State) {
		st.BytesUploaded += outcome.BytesSent
		st.ChunksCompleted++
		st.ChunkSize = s.controller.NextSize()
	})

	state := s.State()
	s.observer.ChunkSent(s.id, descriptor, attempts, outcome.Elapsed, state)
	s.logger.Debugf("Chunk %d sent: %d bytes in %v (%d/%d bytes, final: %v)",
		descriptor.Index+1, outcome.BytesSent, outcome.Elapsed, state.BytesUploaded, state.FileSize, descriptor.Final)

	return nil
}

func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return &Error{
			Kind: KindInvalidState,
			Err:  fmt.Errorf("session is single-use, already %s", s.state.Phase),
		}
	}
	s.started = true
	return nil
}

func (s *Session) update(apply func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	apply(&s.state)
}

func (s *Session) fail(kind ErrorKind, chunkIndex int, err error) error {
	s.mu.Lock()
	s.state.Phase = PhaseFailed
	bytesUploaded := s.state.BytesUploaded
	s.mu.Unlock()

	uploadErr := &Error{Kind: kind, ChunkIndex: chunkIndex, BytesUploaded: bytesUploaded, Err: err}
	s.logger.Errorf("%v", uploadErr)
	return uploadErr
}

func (s *Session) abort(chunkIndex int, err error) error {
	s.mu.Lock()
	s.state.Phase = PhaseCancelled
	bytesUploaded := s.state.BytesUploaded
	s.mu.Unlock()

	uploadErr := &Error{Kind: KindCancelled, ChunkIndex: chunkIndex, BytesUploaded: bytesUploaded, Err: err}
	s.logger.Warnf("%v", uploadErr)
	return uploadErr
}

func cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func isExhausted(err error) bool {
	var exhausted *retriesExhaustedError
	return errors.As(err, &exhausted)
}
