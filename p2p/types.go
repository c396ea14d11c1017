package p2p

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/mezonai/headerd/blockcache"
	"github.com/mezonai/headerd/config"
	"github.com/mezonai/headerd/logx"
	"github.com/mezonai/headerd/ratelimit"
)

var (
	ErrAlreadyConnecting  = errors.New("network is already connecting")
	ErrNoPeers            = errors.New("no peers to connect to")
	ErrInvalidPeerAddress = errors.New("invalid peer address")
	ErrClosed             = errors.New("network is closed")
)

const (
	DefaultUserAgent   = "headerd:0.1.0"
	DefaultDialTimeout = 10 * time.Second
	handshakeTimeout   = 30 * time.Second
)

// Config describes one network session.
type Config struct {
	Params      *config.Params
	UserAgent   string
	DialTimeout time.Duration

	// ServeLimit bounds getheaders requests per peer. Nil uses ratelimit.PeerConfig.
	ServeLimit *ratelimit.RateLimiterConfig
}

// Network is a header-sync session with a set of peers. It holds the only
// writer of the shared cache.
type Network struct {
	cfg       Config
	cache     *blockcache.SharedCache
	writer    *blockcache.Writer
	log       *logx.Logger
	sessionID string
	nonce     uint64
	dialer    net.Dialer
	limiter   *ratelimit.RateLimiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	connecting bool
	closed     bool
	peers      map[string]*peer
}

// PeerInfo describes a live peer connection.
type PeerInfo struct {
	Addr        string `json:"addr"`
	UserAgent   string `json:"user_agent"`
	StartHeight int32  `json:"start_height"`
	Handshaked  bool   `json:"handshaked"`
}
