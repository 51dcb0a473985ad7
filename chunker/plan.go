// Package chunker splits a file into ordered byte ranges for upload and
// adjusts the range size based on observed transfer throughput.
package chunker

import (
	"errors"
	"fmt"
)

// ErrInvalidChunkSize is returned when a plan is requested with a
// non-positive chunk size.
var ErrInvalidChunkSize = errors.New("chunk size must be positive")

// Descriptor is one contiguous byte range of the source file.
// Descriptors of a plan cover [0, fileSize) in order, with no gaps or
// overlaps. Exactly one descriptor is final: the one ending at fileSize.
type Descriptor struct {
	Index  int
	Offset int64
	Length int64
	Final  bool
}

// Plan partitions [0, fileSize) into chunkSize-long descriptors. The last
// descriptor may be shorter and is marked final. A zero-size file yields a
// single empty final descriptor so the finalize-on-last-chunk contract still
// fires.
func Plan(fileSize, chunkSize int64) ([]Descriptor, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidChunkSize, chunkSize)
	}
	if fileSize < 0 {
		return nil, fmt.Errorf("file size must not be negative, got %d", fileSize)
	}

	if fileSize == 0 {
		return []Descriptor{{Index: 0, Offset: 0, Length: 0, Final: true}}, nil
	}

	numChunks := (fileSize + chunkSize - 1) / chunkSize
	descriptors := make([]Descriptor, 0, numChunks)
	for offset := int64(0); offset < fileSize; offset += chunkSize {
		length := chunkSize
		if offset+length > fileSize {
			length = fileSize - offset
		}
		descriptors = append(descriptors, Descriptor{
			Index:  len(descriptors),
			Offset: offset,
			Length: length,
			Final:  offset+length == fileSize,
		})
	}
	return descriptors, nil
}

// Next returns the descriptor starting at offset, at most chunkSize long.
// It is the incremental counterpart of Plan for transfers that resize chunks
// between requests: calling it repeatedly with each returned end offset
// produces the same gap-free partition of [0, fileSize).
func Next(index int, offset, fileSize, chunkSize int64) (Descriptor, error) {
	if chunkSize <= 0 {
		return Descriptor{}, fmt.Errorf("%w, got %d", ErrInvalidChunkSize, chunkSize)
	}
	if offset < 0 || offset > fileSize {
		return Descriptor{}, fmt.Errorf("offset %d out of range [0, %d]", offset, fileSize)
	}
	if offset == fileSize && fileSize > 0 {
		return Descriptor{}, fmt.Errorf("no bytes left to plan at offset %d", offset)
	}

	length := chunkSize
	if offset+length > fileSize {
		length = fileSize - offset
	}
	return Descriptor{
		Index:  index,
		Offset: offset,
		Length: length,
		Final:  offset+length == fileSize,
	}, nil
}
