package p2p

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/mezonai/headerd/addrbook"
	"github.com/mezonai/headerd/blockcache"
	"github.com/mezonai/headerd/exception"
	"github.com/mezonai/headerd/logx"
	"github.com/mezonai/headerd/monitoring"
	"github.com/mezonai/headerd/ratelimit"
)

// NewNetwork creates a session over cache. It takes the cache writer, so at most
// one session can exist per cache.
func NewNetwork(cfg Config, cache *blockcache.SharedCache, log *logx.Logger) (*Network, error) {
	if cfg.Params == nil {
		return nil, fmt.Errorf("network params cannot be nil")
	}
	if cache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if log == nil {
		log = logx.Default()
	}
	if cfg.ServeLimit == nil {
		cfg.ServeLimit = ratelimit.PeerConfig()
	}

	writer, err := cache.AcquireWriter()
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	return &Network{
		cfg:       cfg,
		cache:     cache,
		writer:    writer,
		log:       log,
		sessionID: id.String(),
		// the version nonce lets us spot connections to ourselves
		nonce:   binary.LittleEndian.Uint64(id[:8]),
		dialer:  net.Dialer{Timeout: cfg.DialTimeout},
		limiter: ratelimit.NewRateLimiter(cfg.ServeLimit),
		ctx:     ctx,
		cancel:  cancel,
		peers:   make(map[string]*peer),
	}, nil
}

func (n *Network) SessionID() string {
	return n.sessionID
}

// Connect starts one connection per address and returns without waiting for
// them. It may be called once per session.
func (n *Network) Connect(addrs []string) error {
	if len(addrs) == 0 {
		return ErrNoPeers
	}
	for _, a := range addrs {
		if err := addrbook.ValidateAddr(a); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPeerAddress, err)
		}
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	if n.connecting {
		n.mu.Unlock()
		return ErrAlreadyConnecting
	}
	n.connecting = true
	n.mu.Unlock()

	n.log.Info("NETWORK", "Session", n.sessionID, "connecting to", len(addrs), "peers on", n.cfg.Params.Network,
		"from height", n.cache.Height())

	for _, addr := range addrs {
		addr := addr
		n.wg.Add(1)
		exception.SafeGo("peer "+addr, func() {
			defer n.wg.Done()
			n.runPeer(addr)
		})
	}
	return nil
}

// ConnectedPeers lists peers that completed the version handshake, sorted by address.
func (n *Network) ConnectedPeers() []PeerInfo {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]PeerInfo, 0, len(n.peers))
	for _, p := range n.peers {
		if info := p.info(); info.Handshaked {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

func (n *Network) PeerCount() int {
	return len(n.ConnectedPeers())
}

// Close disconnects every peer and waits for their goroutines to finish.
func (n *Network) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.cancel()
	for _, p := range n.peers {
		p.close()
	}
	n.mu.Unlock()

	n.wg.Wait()
	n.limiter.Stop()
	monitoring.SetPeerCount(0)
	n.log.Info("NETWORK", "Session", n.sessionID, "closed")
	return nil
}

func (n *Network) addPeer(p *peer) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return false
	}
	n.peers[p.addr] = p
	return true
}

func (n *Network) removePeer(p *peer) {
	n.mu.Lock()
	if n.peers[p.addr] == p {
		delete(n.peers, p.addr)
	}
	n.mu.Unlock()
	n.limiter.Reset(p.addr)
	monitoring.SetPeerCount(n.PeerCount())
}

// splitUserAgent turns "name:version" into its parts.
func splitUserAgent(ua string) (string, string) {
	name, version, _ := strings.Cut(ua, ":")
	return name, version
}
