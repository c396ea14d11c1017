package db

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

var (
	// ErrExists is returned in ModeCreate when something already lives at the path.
	ErrExists = errors.New("database already exists")
	// ErrNotExist is returned in ModeOpen when nothing lives at the path.
	ErrNotExist = errors.New("database does not exist")
)

// OpenMode decides what a provider constructor does with the target path.
type OpenMode int

const (
	// ModeCreate materializes a new database and refuses to touch an existing one.
	ModeCreate OpenMode = iota
	// ModeOpen opens an existing database and refuses to create one.
	ModeOpen
)

func (m OpenMode) String() string {
	switch m {
	case ModeCreate:
		return "create"
	case ModeOpen:
		return "open"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// checkPath enforces the mode against the path on disk. The path's existence is the
// only signal used to tell a fresh database from an existing one.
func checkPath(path string, mode OpenMode) error {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		if mode == ModeCreate {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
		return nil
	case errors.Is(err, fs.ErrNotExist):
		if mode == ModeOpen {
			return fmt.Errorf("%w: %s", ErrNotExist, path)
		}
		return nil
	default:
		return fmt.Errorf("stat %s: %w", path, err)
	}
}

// DatabaseProvider abstracts the low-level database operations
// This interface allows the header store to work with different database backends
// without knowing the specific implementation details
type DatabaseProvider interface {
	// Get retrieves a value by key
	Get(key []byte) ([]byte, error)

	// Put stores a key-value pair
	Put(key, value []byte) error

	// Delete removes a key-value pair
	Delete(key []byte) error

	// Has checks if a key exists
	Has(key []byte) (bool, error)

	// Close closes the database connection
	Close() error

	// Batch returns a new batch for atomic operations
	Batch() DatabaseBatch
}

// IterableProvider extends DatabaseProvider with iteration capabilities
type IterableProvider interface {
	DatabaseProvider

	// IteratePrefix iterates over all key-value pairs with the given prefix in key order
	// The callback function should return false to stop iteration
	IteratePrefix(prefix []byte, callback func(key, value []byte) bool) error
}

// DatabaseBatch provides atomic batch operations
type DatabaseBatch interface {
	// Put adds a key-value pair to the batch
	Put(key, value []byte)

	// Delete adds a deletion to the batch
	Delete(key []byte)

	// Write commits all operations in the batch
	Write() error

	// Reset clears the batch
	Reset()

	// Close releases batch resources
	Close()
}
