package blockcache

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/holiman/uint256"
)

var ErrWriterTaken = errors.New("cache writer already acquired")

// SharedCache guards a Cache behind a read-write lock. Any number of readers may
// query it; mutation goes through the single Writer handed out by AcquireWriter.
type SharedCache struct {
	mu       sync.RWMutex
	cache    *Cache
	acquired atomic.Bool
}

func NewShared(c *Cache) *SharedCache {
	return &SharedCache{cache: c}
}

// AcquireWriter returns the only writer of this cache.
func (s *SharedCache) AcquireWriter() (*Writer, error) {
	if !s.acquired.CompareAndSwap(false, true) {
		return nil, ErrWriterTaken
	}
	return &Writer{shared: s}, nil
}

func (s *SharedCache) Height() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.Height()
}

func (s *SharedCache) Tip() (chainhash.Hash, wire.BlockHeader) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.Tip()
}

func (s *SharedCache) Genesis() chainhash.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.Genesis()
}

func (s *SharedCache) HeaderAt(height uint32) (wire.BlockHeader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.HeaderAt(height)
}

func (s *SharedCache) Lookup(hash chainhash.Hash) (uint32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.Lookup(hash)
}

func (s *SharedCache) ChainWork() *uint256.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.ChainWork()
}

func (s *SharedCache) Locator() []chainhash.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.Locator()
}

func (s *SharedCache) HeadersAfter(locator []chainhash.Hash, stop chainhash.Hash, limit int) []wire.BlockHeader {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.HeadersAfter(locator, stop, limit)
}

// Writer is the exclusive mutation handle of a SharedCache.
type Writer struct {
	shared *SharedCache
}

func (w *Writer) ImportHeaders(headers []wire.BlockHeader) (int, error) {
	w.shared.mu.Lock()
	defer w.shared.mu.Unlock()
	return w.shared.cache.ImportHeaders(headers)
}

// Reader exposes the shared cache to the holder of the writer.
func (w *Writer) Reader() *SharedCache {
	return w.shared
}
