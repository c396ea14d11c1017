package bootstrap

import (
	"context"
	"errors"
	"strings"

	"github.com/mezonai/headerd/addrbook"
	"github.com/mezonai/headerd/config"
	"github.com/mezonai/headerd/discovery"
	"github.com/mezonai/headerd/logx"
	"github.com/mezonai/headerd/monitoring"
)

// PeerSource names where a peer set came from.
type PeerSource string

const (
	SourceExplicit     PeerSource = "explicit"
	SourcePersisted    PeerSource = "persisted"
	SourceBootstrapped PeerSource = "bootstrapped"
)

// PeerSet is the list of addresses to dial for this run.
type PeerSet struct {
	Source PeerSource
	Addrs  []string
}

// PeerSources are the collaborators consulted when no explicit peers are given.
type PeerSources struct {
	LoadAddressBook func(path string) (*addrbook.AddressBook, error)
	Bootstrapper    discovery.Bootstrapper
}

// ResolvePeers picks the peer set: explicit peers verbatim if any, otherwise the
// address book at bookPath, otherwise DNS bootstrap when the book is empty.
// A book that cannot be loaded stops resolution with KindAddressBookLoad.
func ResolvePeers(ctx context.Context, explicit []string, bookPath string, params *config.Params, sources PeerSources, log *logx.Logger) (PeerSet, error) {
	set, err := resolvePeers(ctx, explicit, bookPath, params, sources)
	if err != nil {
		return PeerSet{}, err
	}

	monitoring.SetPeersResolved(string(set.Source), len(set.Addrs))
	log.Info("PEERS", "Using", len(set.Addrs), string(set.Source), "peers")
	log.Debug("PEERS", "Peer set:", strings.Join(set.Addrs, ", "))
	return set, nil
}

func resolvePeers(ctx context.Context, explicit []string, bookPath string, params *config.Params, sources PeerSources) (PeerSet, error) {
	if len(explicit) > 0 {
		addrs := make([]string, len(explicit))
		copy(addrs, explicit)
		return PeerSet{Source: SourceExplicit, Addrs: addrs}, nil
	}

	load := sources.LoadAddressBook
	if load == nil {
		load = addrbook.Load
	}
	book, err := load(bookPath)
	if err != nil {
		return PeerSet{}, newError(KindAddressBookLoad, err)
	}
	if !book.IsEmpty() {
		return PeerSet{Source: SourcePersisted, Addrs: book.Addrs()}, nil
	}

	if sources.Bootstrapper == nil {
		return PeerSet{}, newError(KindDiscovery, errors.New("address book is empty and no bootstrapper is configured"))
	}
	addrs, err := sources.Bootstrapper.Bootstrap(ctx, params)
	if err != nil {
		return PeerSet{}, newError(KindDiscovery, err)
	}
	if len(addrs) == 0 {
		return PeerSet{}, newError(KindDiscovery, discovery.ErrNoPeersDiscovered)
	}
	return PeerSet{Source: SourceBootstrapped, Addrs: addrs}, nil
}
