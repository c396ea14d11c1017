package blockcache

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/holiman/uint256"

	"github.com/mezonai/headerd/config"
	"github.com/mezonai/headerd/store"
)

var (
	ErrGenesisMismatch    = errors.New("stored genesis does not match network")
	ErrBrokenChain        = errors.New("header does not link to its predecessor")
	ErrInvalidProofOfWork = errors.New("invalid proof of work")
	ErrOrphanHeader       = errors.New("header does not extend the tip")
	ErrUnknownHeight      = errors.New("height is above the tip")
)

// MaxHeadersPerMsg is the largest batch a peer sends or is served at once.
const MaxHeadersPerMsg = wire.MaxBlockHeadersPerMsg

// Cache is the validated in-memory view of the header chain, backed by a HeaderStore.
// It is not safe for concurrent use; wrap it in a SharedCache for that.
type Cache struct {
	store  store.HeaderStore
	params *config.Params

	headers []wire.BlockHeader
	hashes  []chainhash.Hash
	index   map[chainhash.Hash]uint32
	work    *uint256.Int
}

// Build loads every stored header and validates the chain against params.
func Build(hs store.HeaderStore, params *config.Params) (*Cache, error) {
	c := &Cache{
		store:   hs,
		params:  params,
		headers: make([]wire.BlockHeader, 0, hs.Height()+1),
		hashes:  make([]chainhash.Hash, 0, hs.Height()+1),
		index:   make(map[chainhash.Hash]uint32, hs.Height()+1),
		work:    new(uint256.Int),
	}

	var verr error
	err := hs.Iterate(func(height uint32, h wire.BlockHeader) bool {
		if height == 0 {
			hash := h.BlockHash()
			if hash != params.GenesisBlockHash() {
				verr = fmt.Errorf("%w: stored %s, %s expects %s",
					ErrGenesisMismatch, hash, params.Network, params.GenesisBlockHash())
				return false
			}
			verr = c.appendHeader(h, hash)
			return verr == nil
		}
		hash, err := c.validate(&h)
		if err != nil {
			verr = fmt.Errorf("height %d: %w", height, err)
			return false
		}
		verr = c.appendHeader(h, hash)
		return verr == nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load headers: %w", err)
	}
	if verr != nil {
		return nil, verr
	}
	if len(c.headers) == 0 {
		return nil, fmt.Errorf("%w: store holds no genesis", store.ErrCorrupt)
	}

	return c, nil
}

// validate checks that h extends the current tip with valid proof of work.
func (c *Cache) validate(h *wire.BlockHeader) (chainhash.Hash, error) {
	tip := c.hashes[len(c.hashes)-1]
	if h.PrevBlock != tip {
		return chainhash.Hash{}, fmt.Errorf("%w: prev %s, tip %s", ErrBrokenChain, h.PrevBlock, tip)
	}
	return c.checkProofOfWork(h)
}

func (c *Cache) checkProofOfWork(h *wire.BlockHeader) (chainhash.Hash, error) {
	hash := h.BlockHash()
	target := blockchain.CompactToBig(h.Bits)
	if target.Sign() <= 0 {
		return hash, fmt.Errorf("%w: target %064x is not positive", ErrInvalidProofOfWork, target)
	}
	if target.Cmp(c.params.PowLimit) > 0 {
		return hash, fmt.Errorf("%w: target %064x above limit", ErrInvalidProofOfWork, target)
	}
	if blockchain.HashToBig(&hash).Cmp(target) > 0 {
		return hash, fmt.Errorf("%w: hash %s above target", ErrInvalidProofOfWork, hash)
	}
	return hash, nil
}

func (c *Cache) appendHeader(h wire.BlockHeader, hash chainhash.Hash) error {
	work, overflow := uint256.FromBig(blockchain.CalcWork(h.Bits))
	if overflow {
		return fmt.Errorf("%w: work of %s overflows", ErrInvalidProofOfWork, hash)
	}
	c.index[hash] = uint32(len(c.headers))
	c.headers = append(c.headers, h)
	c.hashes = append(c.hashes, hash)
	c.work.Add(c.work, work)
	return nil
}

// Height is the height of the tip. Genesis is height 0.
func (c *Cache) Height() uint32 {
	return uint32(len(c.headers) - 1)
}

// Tip returns the hash and header of the best known header.
func (c *Cache) Tip() (chainhash.Hash, wire.BlockHeader) {
	n := len(c.headers) - 1
	return c.hashes[n], c.headers[n]
}

func (c *Cache) Genesis() chainhash.Hash {
	return c.hashes[0]
}

func (c *Cache) HeaderAt(height uint32) (wire.BlockHeader, error) {
	if int(height) >= len(c.headers) {
		return wire.BlockHeader{}, fmt.Errorf("%w: %d > %d", ErrUnknownHeight, height, c.Height())
	}
	return c.headers[height], nil
}

// Lookup returns the height of hash if it is on the chain.
func (c *Cache) Lookup(hash chainhash.Hash) (uint32, bool) {
	h, ok := c.index[hash]
	return h, ok
}

// ChainWork returns a copy of the accumulated work up to the tip.
func (c *Cache) ChainWork() *uint256.Int {
	return new(uint256.Int).Set(c.work)
}

// Locator lists hashes from the tip back to genesis: the last ten one by one,
// then with an exponentially growing step.
func (c *Cache) Locator() []chainhash.Hash {
	var locator []chainhash.Hash
	height := int64(c.Height())
	step := int64(1)
	for height > 0 {
		locator = append(locator, c.hashes[height])
		if len(locator) >= 10 {
			step *= 2
		}
		height -= step
	}
	return append(locator, c.hashes[0])
}

// HeadersAfter returns up to limit headers following the first locator hash known
// to the chain, ending early at stop. An unknown locator starts after genesis.
func (c *Cache) HeadersAfter(locator []chainhash.Hash, stop chainhash.Hash, limit int) []wire.BlockHeader {
	start := uint32(1)
	for _, hash := range locator {
		if h, ok := c.index[hash]; ok {
			start = h + 1
			break
		}
	}

	var out []wire.BlockHeader
	for h := start; int(h) < len(c.headers) && len(out) < limit; h++ {
		out = append(out, c.headers[h])
		if c.hashes[h] == stop {
			break
		}
	}
	return out
}

// ImportHeaders appends the headers that are new to the chain and persists them
// in one store write. It returns how many were added.
func (c *Cache) ImportHeaders(headers []wire.BlockHeader) (int, error) {
	// skip what the chain already has
	i := 0
	for ; i < len(headers); i++ {
		if _, ok := c.index[headers[i].BlockHash()]; !ok {
			break
		}
	}
	fresh := headers[i:]
	if len(fresh) == 0 {
		return 0, nil
	}

	tip := c.hashes[len(c.hashes)-1]
	if fresh[0].PrevBlock != tip {
		return 0, fmt.Errorf("%w: %s builds on %s", ErrOrphanHeader, fresh[0].BlockHash(), fresh[0].PrevBlock)
	}

	hashes := make([]chainhash.Hash, len(fresh))
	prev := tip
	for j := range fresh {
		if fresh[j].PrevBlock != prev {
			return 0, fmt.Errorf("%w: batch breaks at %s", ErrBrokenChain, fresh[j].BlockHash())
		}
		hash, err := c.checkProofOfWork(&fresh[j])
		if err != nil {
			return 0, err
		}
		hashes[j] = hash
		prev = hash
	}

	height, err := c.store.Put(fresh...)
	if err != nil {
		return 0, fmt.Errorf("failed to persist headers: %w", err)
	}

	for j := range fresh {
		if err := c.appendHeader(fresh[j], hashes[j]); err != nil {
			return j, err
		}
	}
	if height != c.Height() {
		return len(fresh), fmt.Errorf("%w: store at %d, cache at %d", store.ErrCorrupt, height, c.Height())
	}
	return len(fresh), nil
}
