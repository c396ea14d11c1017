// Package chaintest builds small valid regtest chains for tests.
package chaintest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/mezonai/headerd/config"
	"github.com/mezonai/headerd/store"
)

// Regtest returns the regression test network parameters.
func Regtest(t testing.TB) *config.Params {
	t.Helper()
	params, err := config.NetworkParams(config.Regtest)
	require.NoError(t, err)
	return params
}

// Mine solves n headers on top of parent at the parent's difficulty, ten minutes apart.
// The result is deterministic: the same parent always yields the same headers.
func Mine(parent wire.BlockHeader, n int) []wire.BlockHeader {
	return MineAt(parent, n, 10*time.Minute)
}

// MineAt is Mine with a custom block spacing. A spacing other than Mine's produces
// a competing branch off the same parent.
func MineAt(parent wire.BlockHeader, n int, spacing time.Duration) []wire.BlockHeader {
	headers := make([]wire.BlockHeader, 0, n)
	prev := parent
	for i := 0; i < n; i++ {
		h := wire.BlockHeader{
			Version:   4,
			PrevBlock: prev.BlockHash(),
			Timestamp: prev.Timestamp.Add(spacing),
			Bits:      prev.Bits,
		}
		target := blockchain.CompactToBig(h.Bits)
		for {
			hash := h.BlockHash()
			if blockchain.HashToBig(&hash).Cmp(target) <= 0 {
				break
			}
			h.Nonce++
		}
		headers = append(headers, h)
		prev = h
	}
	return headers
}

// Unsolved returns a header linked to parent whose hash misses its target.
func Unsolved(parent wire.BlockHeader) wire.BlockHeader {
	h := wire.BlockHeader{
		Version:   4,
		PrevBlock: parent.BlockHash(),
		Timestamp: parent.Timestamp.Add(10 * time.Minute),
		Bits:      parent.Bits,
	}
	target := blockchain.CompactToBig(h.Bits)
	for {
		hash := h.BlockHash()
		if blockchain.HashToBig(&hash).Cmp(target) > 0 {
			return h
		}
		h.Nonce++
	}
}

// NewStore creates a header store under a temp dir holding genesis plus n mined headers.
func NewStore(t testing.TB, params *config.Params, n int) (store.HeaderStore, []wire.BlockHeader) {
	t.Helper()
	cfg := &store.StoreConfig{
		Type: store.LevelDBStoreType,
		Path: filepath.Join(t.TempDir(), config.StoreFileName),
	}
	hs, err := store.Create(cfg, params.Genesis())
	require.NoError(t, err)
	t.Cleanup(func() { _ = hs.Close() })

	headers := Mine(params.Genesis(), n)
	if n > 0 {
		_, err = hs.Put(headers...)
		require.NoError(t, err)
	}
	return hs, headers
}
