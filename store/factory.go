package store

import (
	"errors"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/wire"

	"github.com/mezonai/headerd/db"
)

// StoreType represents the type of store implementation
type StoreType string

const (
	// LevelDBStoreType uses the LevelDB implementation
	LevelDBStoreType StoreType = "leveldb"

	// BoltStoreType uses a single bbolt file
	BoltStoreType StoreType = "bolt"
)

// StoreConfig holds configuration for creating store instances
type StoreConfig struct {
	// Type specifies which store implementation to use
	Type StoreType `json:"type" yaml:"type"`

	// Path is the database location (a directory for LevelDB, a file for bolt)
	Path string `json:"path" yaml:"path"`
}

// Validate validates the store configuration
func (sc *StoreConfig) Validate() error {
	if sc.Type == "" {
		return fmt.Errorf("store type cannot be empty")
	}

	if sc.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	switch sc.Type {
	case LevelDBStoreType, BoltStoreType:
		return nil
	default:
		return fmt.Errorf("unsupported store type: %s", sc.Type)
	}
}

// StoreFactory take responsibility to create store instances
type StoreFactory struct{}

// NewStoreFactory creates a new store factory
func NewStoreFactory() *StoreFactory {
	return &StoreFactory{}
}

// Create materializes a new header store at config.Path holding only genesis.
// It fails with ErrStoreExists when anything already exists at that path.
func (sf *StoreFactory) Create(config *StoreConfig, genesis wire.BlockHeader) (HeaderStore, error) {
	if genesis.PrevBlock != zeroHash {
		return nil, fmt.Errorf("%w: previous block hash is %s", ErrInvalidGenesis, genesis.PrevBlock)
	}

	provider, err := sf.CreateProvider(config, db.ModeCreate)
	if err != nil {
		if errors.Is(err, db.ErrExists) {
			return nil, fmt.Errorf("%w: %s", ErrStoreExists, config.Path)
		}
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	hs := newGenericHeaderStore(provider, config.Path)
	if err := hs.seed(genesis); err != nil {
		_ = provider.Close()
		// a half-written store would turn the next start into a failing recovery
		if rmErr := os.RemoveAll(config.Path); rmErr != nil {
			return nil, fmt.Errorf("failed to seed genesis: %w (cleanup: %v)", err, rmErr)
		}
		return nil, fmt.Errorf("failed to seed genesis: %w", err)
	}

	return hs, nil
}

// Open opens an existing header store without modifying its content.
func (sf *StoreFactory) Open(config *StoreConfig) (HeaderStore, error) {
	provider, err := sf.CreateProvider(config, db.ModeOpen)
	if err != nil {
		if errors.Is(err, db.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, config.Path)
		}
		return nil, fmt.Errorf("failed to open provider: %w", err)
	}

	hs := newGenericHeaderStore(provider, config.Path)
	if err := hs.load(); err != nil {
		_ = provider.Close()
		return nil, err
	}

	return hs, nil
}

// CreateProvider creates a database provider based on the configuration
func (sf *StoreFactory) CreateProvider(config *StoreConfig, mode db.OpenMode) (db.IterableProvider, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	switch config.Type {
	case LevelDBStoreType:
		return db.NewLevelDBProvider(config.Path, mode)

	case BoltStoreType:
		return db.NewBoltProvider(config.Path, mode)

	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}

// Global factory instance
var globalFactory = NewStoreFactory()

// Create creates a new header store using the global factory
func Create(config *StoreConfig, genesis wire.BlockHeader) (HeaderStore, error) {
	return globalFactory.Create(config, genesis)
}

// Open opens an existing header store using the global factory
func Open(config *StoreConfig) (HeaderStore, error) {
	return globalFactory.Open(config)
}
