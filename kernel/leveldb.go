package kernel

import (
	"encoding/binary"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// LevelDBStore keeps kernel blobs in a LevelDB database keyed by the
// big-endian kernel key. It suits shader caches shared by several tools,
// where rewriting a key replaces the older blob.
type LevelDBStore struct {
	db       *leveldb.DB
	path     string
	readOnly bool
}

// OpenLevelDBStore opens or creates the database directory at path.
func OpenLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("kernel: open leveldb store: %w", err)
	}
	return &LevelDBStore{db: db, path: path}, nil
}

// OpenLevelDBStoreReadOnly opens an existing database for Replay only.
func OpenLevelDBStoreReadOnly(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{ReadOnly: true, ErrorIfMissing: true})
	if err != nil {
		return nil, fmt.Errorf("kernel: open leveldb store: %w", err)
	}
	return &LevelDBStore{db: db, path: path, readOnly: true}, nil
}

// Path returns the database directory.
func (s *LevelDBStore) Path() string {
	return s.path
}

// Replay calls fn for every stored kernel in key order.
func (s *LevelDBStore) Replay(fn func(key Key, blob []byte) error) (int, error) {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()

	n := 0
	for iter.Next() {
		k := iter.Key()
		if len(k) != 8 {
			slogger().Warn("kernel: skipping foreign leveldb key", "path", s.path, "len", len(k))
			continue
		}
		blob := append([]byte(nil), iter.Value()...)
		n++
		if err := fn(Key(binary.BigEndian.Uint64(k)), blob); err != nil {
			return n, err
		}
	}
	if err := iter.Error(); err != nil {
		return n, fmt.Errorf("kernel: iterate leveldb store: %w", err)
	}
	return n, nil
}

// Append stores blob under key.
func (s *LevelDBStore) Append(key Key, blob []byte) error {
	if len(blob) > MaxBlobSize {
		return fmt.Errorf("%w: %d bytes", ErrBlobTooLarge, len(blob))
	}
	if s.readOnly {
		return ErrStoreReadOnly
	}
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(key))
	if err := s.db.Put(k[:], blob, nil); err != nil {
		return fmt.Errorf("kernel: put leveldb store: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

// Store backends accepted by OpenStore.
const (
	StoreFile    = "file"
	StoreLevelDB = "leveldb"
)

// OpenStore opens a persister of the named backend. An empty backend
// selects StoreFile.
func OpenStore(backend, path string) (Persister, error) {
	switch backend {
	case "", StoreFile:
		return OpenFileStore(path)
	case StoreLevelDB:
		return OpenLevelDBStore(path)
	default:
		return nil, fmt.Errorf("kernel: unknown store backend %q", backend)
	}
}

// OpenStoreReadOnly opens an existing persister of the named backend
// without modifying it.
func OpenStoreReadOnly(backend, path string) (Persister, error) {
	switch backend {
	case "", StoreFile:
		return OpenFileStoreReadOnly(path)
	case StoreLevelDB:
		return OpenLevelDBStoreReadOnly(path)
	default:
		return nil, fmt.Errorf("kernel: unknown store backend %q", backend)
	}
}
