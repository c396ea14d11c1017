package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/mezonai/headerd/db"
)

var (
	ErrStoreExists    = errors.New("header store already exists")
	ErrStoreNotFound  = errors.New("header store not found")
	ErrCorrupt        = errors.New("header store is corrupt")
	ErrInvalidGenesis = errors.New("invalid genesis header")
	ErrNotFound       = errors.New("header not found")
	ErrClosed         = errors.New("header store is closed")
)

var zeroHash chainhash.Hash

// HeaderStore is the persistent, height-indexed record of block headers.
// Height 0 always holds the genesis header the store was created with.
type HeaderStore interface {
	Genesis() wire.BlockHeader
	Height() uint32
	Get(height uint32) (wire.BlockHeader, error)
	HeightOf(hash chainhash.Hash) (uint32, bool, error)
	// Put appends headers after the current tip in one batch and returns the new height.
	Put(headers ...wire.BlockHeader) (uint32, error)
	Iterate(fn func(height uint32, header wire.BlockHeader) bool) error
	Path() string
	Close() error
}

// GenericHeaderStore implements HeaderStore on any IterableProvider.
type GenericHeaderStore struct {
	provider db.IterableProvider
	txm      *db.DBTxManager
	path     string

	mu      sync.RWMutex
	genesis wire.BlockHeader
	height  uint32
	closed  bool
}

func newGenericHeaderStore(provider db.IterableProvider, path string) *GenericHeaderStore {
	return &GenericHeaderStore{
		provider: provider,
		txm:      db.NewDBTxManager(provider),
		path:     path,
	}
}

func headerKey(height uint32) []byte {
	key := make([]byte, len(PrefixHeader)+4)
	copy(key, PrefixHeader)
	binary.BigEndian.PutUint32(key[len(PrefixHeader):], height)
	return key
}

func hashKey(hash chainhash.Hash) []byte {
	return append([]byte(PrefixHeaderHash), hash[:]...)
}

func heightMetaKey() []byte {
	return []byte(PrefixHeaderMeta + HeaderMetaKeyHeight)
}

func encodeHeight(height uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, height)
	return buf
}

func encodeHeader(h *wire.BlockHeader) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(wire.MaxBlockHeaderPayload)
	if err := h.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeHeader(raw []byte) (wire.BlockHeader, error) {
	var h wire.BlockHeader
	if len(raw) != wire.MaxBlockHeaderPayload {
		return h, fmt.Errorf("%w: header record is %d bytes", ErrCorrupt, len(raw))
	}
	if err := h.Deserialize(bytes.NewReader(raw)); err != nil {
		return h, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return h, nil
}

// writeHeaders stages headers starting at height from into batch.
func writeHeaders(batch db.DatabaseBatch, from uint32, headers []wire.BlockHeader) error {
	for i := range headers {
		raw, err := encodeHeader(&headers[i])
		if err != nil {
			return fmt.Errorf("failed to encode header: %w", err)
		}
		height := from + uint32(i)
		batch.Put(headerKey(height), raw)
		batch.Put(hashKey(headers[i].BlockHash()), encodeHeight(height))
	}
	batch.Put(heightMetaKey(), encodeHeight(from+uint32(len(headers))-1))
	return nil
}

// seed writes genesis into an empty store.
func (s *GenericHeaderStore) seed(genesis wire.BlockHeader) error {
	err := s.txm.WithBatch(func(batch db.DatabaseBatch) error {
		return writeHeaders(batch, 0, []wire.BlockHeader{genesis})
	})
	if err != nil {
		return err
	}
	s.genesis = genesis
	s.height = 0
	return nil
}

// load reads the metadata of an existing store without writing anything.
func (s *GenericHeaderStore) load() error {
	raw, err := s.provider.Get(heightMetaKey())
	if err != nil {
		return fmt.Errorf("failed to read height: %w", err)
	}
	if len(raw) != 4 {
		return fmt.Errorf("%w: missing height metadata", ErrCorrupt)
	}
	height := binary.BigEndian.Uint32(raw)

	genesisRaw, err := s.provider.Get(headerKey(0))
	if err != nil {
		return fmt.Errorf("failed to read genesis: %w", err)
	}
	if genesisRaw == nil {
		return fmt.Errorf("%w: missing genesis header", ErrCorrupt)
	}
	genesis, err := decodeHeader(genesisRaw)
	if err != nil {
		return err
	}

	tipRaw, err := s.provider.Get(headerKey(height))
	if err != nil {
		return fmt.Errorf("failed to read tip: %w", err)
	}
	if tipRaw == nil {
		return fmt.Errorf("%w: missing header at recorded height %d", ErrCorrupt, height)
	}

	s.genesis = genesis
	s.height = height
	return nil
}

func (s *GenericHeaderStore) Genesis() wire.BlockHeader {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.genesis
}

func (s *GenericHeaderStore) Height() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height
}

func (s *GenericHeaderStore) Path() string {
	return s.path
}

// Get returns the header stored at height.
func (s *GenericHeaderStore) Get(height uint32) (wire.BlockHeader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return wire.BlockHeader{}, ErrClosed
	}
	if height > s.height {
		return wire.BlockHeader{}, fmt.Errorf("%w: height %d above tip %d", ErrNotFound, height, s.height)
	}

	raw, err := s.provider.Get(headerKey(height))
	if err != nil {
		return wire.BlockHeader{}, fmt.Errorf("failed to get header %d: %w", height, err)
	}
	if raw == nil {
		return wire.BlockHeader{}, fmt.Errorf("%w: missing header at height %d", ErrCorrupt, height)
	}
	return decodeHeader(raw)
}

// HeightOf looks up the height of a stored header by hash.
func (s *GenericHeaderStore) HeightOf(hash chainhash.Hash) (uint32, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, false, ErrClosed
	}

	raw, err := s.provider.Get(hashKey(hash))
	if err != nil {
		return 0, false, fmt.Errorf("failed to get hash index: %w", err)
	}
	if raw == nil {
		return 0, false, nil
	}
	if len(raw) != 4 {
		return 0, false, fmt.Errorf("%w: bad hash index entry for %s", ErrCorrupt, hash)
	}
	return binary.BigEndian.Uint32(raw), true, nil
}

func (s *GenericHeaderStore) Put(headers ...wire.BlockHeader) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if len(headers) == 0 {
		return s.height, nil
	}

	from := s.height + 1
	err := s.txm.WithBatch(func(batch db.DatabaseBatch) error {
		return writeHeaders(batch, from, headers)
	})
	if err != nil {
		return s.height, fmt.Errorf("failed to append headers: %w", err)
	}
	s.height = from + uint32(len(headers)) - 1
	return s.height, nil
}

// Iterate walks stored headers from genesis to tip until fn returns false.
func (s *GenericHeaderStore) Iterate(fn func(height uint32, header wire.BlockHeader) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	var (
		expected uint32
		stopped  bool
		iterErr  error
	)
	err := s.provider.IteratePrefix([]byte(PrefixHeader), func(key, value []byte) bool {
		if len(key) != len(PrefixHeader)+4 {
			return true
		}
		height := binary.BigEndian.Uint32(key[len(PrefixHeader):])
		if height > s.height {
			return false
		}
		if height != expected {
			iterErr = fmt.Errorf("%w: gap at height %d", ErrCorrupt, expected)
			return false
		}
		header, err := decodeHeader(value)
		if err != nil {
			iterErr = err
			return false
		}
		expected++
		if !fn(height, header) {
			stopped = true
			return false
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to iterate headers: %w", err)
	}
	if iterErr != nil {
		return iterErr
	}
	if !stopped && expected != s.height+1 {
		return fmt.Errorf("%w: expected %d headers, found %d", ErrCorrupt, s.height+1, expected)
	}
	return nil
}

func (s *GenericHeaderStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.provider.Close()
}
