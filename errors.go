package texcache

import "errors"

// Cache errors.
var (
	// ErrNilDevice is returned by New when no device is given.
	ErrNilDevice = errors.New("texcache: device is nil")

	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("texcache: cache closed")

	// ErrNoMemory is returned when a load needs source memory but the cache
	// was created without WithMemory.
	ErrNoMemory = errors.New("texcache: no source memory configured")

	// ErrOutOfBounds is returned by Memory implementations for reads past
	// the end of emulated memory.
	ErrOutOfBounds = errors.New("texcache: read outside emulated memory")

	// ErrInvalidCopy is returned for render target copies with an empty
	// rectangle or no source texture.
	ErrInvalidCopy = errors.New("texcache: invalid render target copy")

	// ErrNoDumpDir is returned by DumpTexture without a directory.
	ErrNoDumpDir = errors.New("texcache: dump directory not set")
)
