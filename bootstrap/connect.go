package bootstrap

import (
	"github.com/mezonai/headerd/blockcache"
	"github.com/mezonai/headerd/logx"
)

// Session is a network session bound to the shared cache.
type Session interface {
	Connect(addrs []string) error
	Close() error
}

// SessionFactory builds the session that will own the cache writer.
type SessionFactory func(cache *blockcache.SharedCache) (Session, error)

// Connect creates the session and asks it to dial peers. It returns once the
// attempts are started; their outcomes are the session's concern.
func Connect(newSession SessionFactory, cache *blockcache.SharedCache, peers PeerSet, log *logx.Logger) (Session, error) {
	session, err := newSession(cache)
	if err != nil {
		return nil, newError(KindNetworkConnect, err)
	}
	if err := session.Connect(peers.Addrs); err != nil {
		_ = session.Close()
		return nil, newError(KindNetworkConnect, err)
	}
	log.Info("NETWORK", "Connecting to", len(peers.Addrs), "peers")
	return session, nil
}
