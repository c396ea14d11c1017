package bootstrap

import (
	"errors"

	"github.com/btcsuite/btcd/wire"

	"github.com/mezonai/headerd/blockcache"
	"github.com/mezonai/headerd/config"
	"github.com/mezonai/headerd/logx"
	"github.com/mezonai/headerd/monitoring"
	"github.com/mezonai/headerd/store"
)

// StoreOpener creates and opens header stores. *store.StoreFactory implements it.
type StoreOpener interface {
	Create(cfg *store.StoreConfig, genesis wire.BlockHeader) (store.HeaderStore, error)
	Open(cfg *store.StoreConfig) (store.HeaderStore, error)
}

// OpenOrCreateStore creates a store seeded with genesis, or opens the one that
// already exists at the same path without touching its content.
func OpenOrCreateStore(opener StoreOpener, cfg *store.StoreConfig, genesis wire.BlockHeader, log *logx.Logger) (store.HeaderStore, error) {
	hs, err := opener.Create(cfg, genesis)
	if err == nil {
		monitoring.RecordStoreOpen(monitoring.StoreCreated)
		log.Info("STORE", "Initializing new header store at", cfg.Path)
		return hs, nil
	}
	if !errors.Is(err, store.ErrStoreExists) {
		return nil, newError(KindStoreCreate, err)
	}

	log.Debug("STORE", newError(KindStoreCreateConflict, err).Error())
	hs, err = opener.Open(cfg)
	if err != nil {
		return nil, newError(KindStoreOpen, err)
	}
	monitoring.RecordStoreOpen(monitoring.StoreRecovered)
	log.Info("STORE", "Found existing header store at", cfg.Path, "height", hs.Height())
	return hs, nil
}

// BuildCache indexes and validates the whole store and wraps it for shared use.
func BuildCache(hs store.HeaderStore, params *config.Params, log *logx.Logger) (*blockcache.SharedCache, error) {
	c, err := blockcache.Build(hs, params)
	if err != nil {
		return nil, newError(KindCacheBuild, err)
	}

	tip, _ := c.Tip()
	monitoring.SetChainHeight(c.Height())
	log.Info("CACHE", "Block cache ready at height", c.Height(), "tip", tip.String(), "work", c.ChainWork().Dec())
	return blockcache.NewShared(c), nil
}
