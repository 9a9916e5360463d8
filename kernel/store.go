package kernel

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Store errors.
var (
	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("kernel: store closed")

	// ErrBlobTooLarge is returned when appending a blob above MaxBlobSize.
	ErrBlobTooLarge = errors.New("kernel: blob too large")

	// ErrStoreReadOnly is returned by Append on a store opened read-only.
	ErrStoreReadOnly = errors.New("kernel: store is read-only")
)

// MaxBlobSize bounds a single persisted kernel blob. Larger lengths in a
// store file are treated as corruption.
const MaxBlobSize = 16 << 20

// recordHeaderSize is the key (u64) plus blob length (u32), little-endian.
const recordHeaderSize = 12

// Persister stores compiled kernel blobs across runs.
type Persister interface {
	// Replay calls fn for every stored record in insertion order and
	// returns the number of records replayed.
	Replay(fn func(key Key, blob []byte) error) (int, error)

	// Append records a freshly compiled blob.
	Append(key Key, blob []byte) error

	// Close releases the underlying storage.
	Close() error
}

// FileStore is an append-only file of (key, length, blob) records.
//
// The file is opened once; Replay must run before the first Append so a
// truncated trailing record can be cut off. Concurrent writers from other
// processes are not supported.
type FileStore struct {
	mu       sync.Mutex
	f        *os.File
	path     string
	end      int64
	readOnly bool
}

// OpenFileStore opens or creates the store file at path.
func OpenFileStore(path string) (*FileStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("kernel: create store dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("kernel: open store: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("kernel: stat store: %w", err)
	}
	return &FileStore{f: f, path: path, end: info.Size()}, nil
}

// OpenFileStoreReadOnly opens an existing store file for Replay only. A
// torn tail is skipped but left in place for the next writer to repair.
func OpenFileStoreReadOnly(path string) (*FileStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("kernel: open store: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("kernel: stat store: %w", err)
	}
	return &FileStore{f: f, path: path, end: info.Size(), readOnly: true}, nil
}

// Path returns the store file path.
func (s *FileStore) Path() string {
	return s.path
}

// Replay reads every complete record. A truncated or corrupt tail is
// dropped from the file so later appends stay aligned, unless the store is
// read-only.
func (s *FileStore) Replay(fn func(key Key, blob []byte) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return 0, ErrStoreClosed
	}

	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("kernel: seek store: %w", err)
	}
	r := bufio.NewReader(s.f)

	var (
		n      int
		good   int64
		header [recordHeaderSize]byte
	)
	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			slogger().Warn("kernel: truncated store record header", "path", s.path, "offset", good)
			break
		}
		key := Key(binary.LittleEndian.Uint64(header[0:8]))
		size := binary.LittleEndian.Uint32(header[8:12])
		if size > MaxBlobSize {
			slogger().Warn("kernel: corrupt store record length", "path", s.path, "offset", good, "size", size)
			break
		}
		blob := make([]byte, size)
		if _, err := io.ReadFull(r, blob); err != nil {
			slogger().Warn("kernel: truncated store record", "path", s.path, "offset", good, "key", key)
			break
		}
		good += recordHeaderSize + int64(size)
		n++
		if err := fn(key, blob); err != nil {
			return n, err
		}
	}

	if good != s.end && s.readOnly {
		slogger().Warn("kernel: ignoring torn store tail", "path", s.path, "bytes", s.end-good)
		return n, nil
	}
	if good != s.end {
		if err := s.f.Truncate(good); err != nil {
			return n, fmt.Errorf("kernel: truncate store: %w", err)
		}
	}
	s.end = good
	return n, nil
}

// Append writes one record and syncs it to disk.
func (s *FileStore) Append(key Key, blob []byte) error {
	if len(blob) > MaxBlobSize {
		return fmt.Errorf("%w: %d bytes", ErrBlobTooLarge, len(blob))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrStoreClosed
	}
	if s.readOnly {
		return ErrStoreReadOnly
	}

	rec := make([]byte, recordHeaderSize+len(blob))
	binary.LittleEndian.PutUint64(rec[0:8], uint64(key))
	binary.LittleEndian.PutUint32(rec[8:12], uint32(len(blob)))
	copy(rec[recordHeaderSize:], blob)

	if _, err := s.f.WriteAt(rec, s.end); err != nil {
		return fmt.Errorf("kernel: append store: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("kernel: sync store: %w", err)
	}
	s.end += int64(len(rec))
	return nil
}

// Close closes the store file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
