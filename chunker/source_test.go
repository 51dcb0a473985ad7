package chunker

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileSource_ReadChunk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.bin")

	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	source, err := OpenFileSource(path)
	if err != nil {
		t.Fatalf("OpenFileSource error: %v", err)
	}
	defer source.Close()

	if source.Size() != 100 {
		t.Errorf("expected size 100, got %d", source.Size())
	}

	descriptors, err := Plan(source.Size(), 30)
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}

	var read []byte
	for _, d := range descriptors {
		chunk, err := source.ReadChunk(d)
		if err != nil {
			t.Fatalf("ReadChunk(%d) error: %v", d.Index, err)
		}
		if int64(len(chunk)) != d.Length {
			t.Errorf("chunk %d: expected %d bytes, got %d", d.Index, d.Length, len(chunk))
		}
		read = append(read, chunk...)
	}

	if string(read) != string(data) {
		t.Error("reassembled data does not match the original")
	}

	// Rereading a range must work, retries depend on it.
	again, err := source.ReadChunk(descriptors[1])
	if err != nil {
		t.Fatalf("repeated ReadChunk error: %v", err)
	}
	if string(again) != string(data[30:60]) {
		t.Error("repeated read returned different data")
	}
}

func TestFileSource_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.bin")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	source, err := OpenFileSource(path)
	if err != nil {
		t.Fatalf("OpenFileSource error: %v", err)
	}
	defer source.Close()

	chunk, err := source.ReadChunk(Descriptor{Index: 0, Offset: 0, Length: 0, Final: true})
	if err != nil {
		t.Fatalf("ReadChunk error: %v", err)
	}
	if len(chunk) != 0 {
		t.Errorf("expected empty chunk, got %d bytes", len(chunk))
	}
}

func TestOpenFileSource_Missing(t *testing.T) {
	if _, err := OpenFileSource(filepath.Join(t.TempDir(), "nope.bin")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestOpenFileSource_NotRegularFile(t *testing.T) {
	if _, err := OpenFileSource(t.TempDir()); err == nil {
		t.Error("expected error for directory")
	}
}

func TestFileSource_ReadPastEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.bin")
	if err := os.WriteFile(path, []byte("abc"), 0644); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	source, err := OpenFileSource(path)
	if err != nil {
		t.Fatalf("OpenFileSource error: %v", err)
	}
	defer source.Close()

	if _, err := source.ReadChunk(Descriptor{Index: 0, Offset: 0, Length: 10}); err == nil {
		t.Error("expected error reading past end of file")
	}
}
