package bootstrap

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/gofrs/flock"

	"github.com/mezonai/headerd/addrbook"
	"github.com/mezonai/headerd/blockcache"
	"github.com/mezonai/headerd/config"
	"github.com/mezonai/headerd/discovery"
	"github.com/mezonai/headerd/logx"
	"github.com/mezonai/headerd/p2p"
	"github.com/mezonai/headerd/store"
)

// Collaborators are the replaceable parts of startup.
type Collaborators struct {
	Stores          StoreOpener
	LoadAddressBook func(path string) (*addrbook.AddressBook, error)
	Bootstrapper    discovery.Bootstrapper
	NewSession      SessionFactory
}

// NewCollaborators wires the production implementations for cfg.
func NewCollaborators(cfg config.Config, params *config.Params, log *logx.Logger) Collaborators {
	return Collaborators{
		Stores:          store.NewStoreFactory(),
		LoadAddressBook: addrbook.Load,
		// the seeder is only built when the address book turns out empty
		Bootstrapper: discovery.BootstrapFunc(func(ctx context.Context, p *config.Params) ([]string, error) {
			dnsCfg, err := config.LoadDNSConfig(cfg.DNSConfig)
			if err != nil {
				return nil, fmt.Errorf("failed to load dns config: %w", err)
			}
			seeder, err := discovery.NewDNSSeeder(dnsCfg, log)
			if err != nil {
				return nil, err
			}
			return seeder.Bootstrap(ctx, p)
		}),
		NewSession: func(cache *blockcache.SharedCache) (Session, error) {
			n, err := p2p.NewNetwork(p2p.Config{
				Params:      params,
				UserAgent:   cfg.P2P.UserAgent,
				DialTimeout: cfg.DialTimeout(),
			}, cache, log)
			if err != nil {
				return nil, err
			}
			return n, nil
		},
	}
}

// Daemon is a started node.
type Daemon struct {
	Store   store.HeaderStore
	Cache   *blockcache.SharedCache
	Peers   PeerSet
	Session Session

	lock      *flock.Flock
	log       *logx.Logger
	closeOnce sync.Once
	closeErr  error
}

// Start runs the startup sequence: lock the data directory, open or create the
// header store, build the shared cache, resolve peers and connect. On failure
// everything acquired so far is released and a classified *Error is returned.
func Start(cfg config.Config, params *config.Params, log *logx.Logger, c Collaborators) (*Daemon, error) {
	if log == nil {
		log = logx.Default()
	}
	if c.Stores == nil {
		c.Stores = store.NewStoreFactory()
	}

	d := &Daemon{log: log}
	ok := false
	defer func() {
		if !ok {
			_ = d.Close()
		}
	}()

	lock, err := lockDataDir(cfg)
	if err != nil {
		return nil, err
	}
	d.lock = lock

	storeCfg := &store.StoreConfig{Type: store.StoreType(cfg.Store.Type), Path: cfg.StorePath()}
	d.Store, err = OpenOrCreateStore(c.Stores, storeCfg, params.Genesis(), log)
	if err != nil {
		return nil, err
	}

	d.Cache, err = BuildCache(d.Store, params, log)
	if err != nil {
		return nil, err
	}

	d.Peers, err = ResolvePeers(context.Background(), cfg.ConnectPeers(), cfg.AddressBookPath(), params, PeerSources{
		LoadAddressBook: c.LoadAddressBook,
		Bootstrapper:    c.Bootstrapper,
	}, log)
	if err != nil {
		return nil, err
	}

	if c.NewSession == nil {
		return nil, newError(KindNetworkConnect, fmt.Errorf("no session factory"))
	}
	d.Session, err = Connect(c.NewSession, d.Cache, d.Peers, log)
	if err != nil {
		return nil, err
	}

	ok = true
	return d, nil
}

func lockDataDir(cfg config.Config) (*flock.Flock, error) {
	if err := os.MkdirAll(cfg.NetworkDir(), 0o755); err != nil {
		return nil, newError(KindDataDirLock, err)
	}
	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return nil, newError(KindDataDirLock, err)
	}
	if !locked {
		return nil, newError(KindDataDirLock, fmt.Errorf("%s is held by another process", cfg.LockPath()))
	}
	return lock, nil
}

// Close stops the session, closes the store and releases the data directory.
func (d *Daemon) Close() error {
	d.closeOnce.Do(func() {
		if d.Session != nil {
			if err := d.Session.Close(); err != nil {
				d.closeErr = err
			}
		}
		if d.Store != nil {
			if err := d.Store.Close(); err != nil && d.closeErr == nil {
				d.closeErr = err
			}
		}
		if d.lock != nil {
			if err := d.lock.Unlock(); err != nil && d.closeErr == nil {
				d.closeErr = err
			}
		}
	})
	return d.closeErr
}
