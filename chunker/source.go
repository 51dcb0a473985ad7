package chunker

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// FileSource reads chunk payloads from a regular file on disk.
// Reads are serialized because descriptors share one file handle.
type FileSource struct {
	file *os.File
	size int64
	mu   sync.Mutex
}

// OpenFileSource opens path for chunked reading. The path must point to a
// regular file of known size.
func OpenFileSource(path string) (*FileSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return &FileSource{file: file, size: info.Size()}, nil
}

// Size returns the file size in bytes.
func (s *FileSource) Size() int64 {
	return s.size
}

// ReadChunk returns exactly the bytes covered by the descriptor.
// For retries, ReadChunk may be called multiple times for the same range.
func (s *FileSource) ReadChunk(d Descriptor) ([]byte, error) {
	if d.Length == 0 {
		return []byte{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Seek(d.Offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to offset %d for chunk %d: %w", d.Offset, d.Index+1, err)
	}

	chunk := make([]byte, d.Length)
	if _, err := io.ReadFull(s.file, chunk); err != nil {
		return nil, fmt.Errorf("read chunk %d: %w", d.Index+1, err)
	}
	return chunk, nil
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
