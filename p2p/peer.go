package p2p

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/mezonai/headerd/blockcache"
	"github.com/mezonai/headerd/monitoring"
)

var errSelfConnection = errors.New("connected to self")

// peer is one outbound connection. Only its own goroutine writes to conn.
type peer struct {
	addr string
	conn net.Conn
	pver uint32

	mu          sync.Mutex
	userAgent   string
	startHeight int32
	handshaked  bool
	closeOnce   sync.Once
}

func (p *peer) info() PeerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PeerInfo{
		Addr:        p.addr,
		UserAgent:   p.userAgent,
		StartHeight: p.startHeight,
		Handshaked:  p.handshaked,
	}
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		_ = p.conn.Close()
	})
}

// runPeer dials addr and syncs headers with it until the connection drops or
// the session closes.
func (n *Network) runPeer(addr string) {
	conn, err := n.dialer.DialContext(n.ctx, "tcp", addr)
	if err != nil {
		if n.ctx.Err() == nil {
			n.log.Warn("NETWORK", "Failed to connect to", addr, ":", err)
		}
		return
	}

	p := &peer{addr: addr, conn: conn, pver: wire.ProtocolVersion}
	if !n.addPeer(p) {
		_ = conn.Close()
		return
	}
	defer n.removePeer(p)
	defer p.close()

	n.log.Debug("NETWORK", "Connected to", addr)
	if err := n.syncWith(p); err != nil && n.ctx.Err() == nil {
		if errors.Is(err, io.EOF) {
			n.log.Info("NETWORK", "Peer", addr, "disconnected")
		} else {
			n.log.Warn("NETWORK", "Peer", addr, "dropped:", err)
		}
	}
}

func (n *Network) syncWith(p *peer) error {
	_ = p.conn.SetDeadline(time.Now().Add(handshakeTimeout))
	if err := n.send(p, n.versionMsg(p)); err != nil {
		return err
	}

	for {
		msg, _, err := wire.ReadMessage(p.conn, p.pver, n.cfg.Params.Net)
		if err != nil {
			// wire discards the payload of an unknown command, so the stream stays framed.
			// Any other decode error may leave us mid-payload.
			if errors.Is(err, wire.ErrUnknownMessage) {
				n.log.Debug("NETWORK", "Ignoring unknown message from", p.addr)
				continue
			}
			return err
		}

		if err := n.handle(p, msg); err != nil {
			return err
		}
	}
}

func (n *Network) handle(p *peer, msg wire.Message) error {
	switch m := msg.(type) {
	case *wire.MsgVersion:
		if m.Nonce == n.nonce {
			return errSelfConnection
		}
		p.mu.Lock()
		p.userAgent = m.UserAgent
		p.startHeight = m.LastBlock
		p.mu.Unlock()
		if uint32(m.ProtocolVersion) < p.pver {
			p.pver = uint32(m.ProtocolVersion)
		}
		return n.send(p, wire.NewMsgVerAck())

	case *wire.MsgVerAck:
		p.mu.Lock()
		p.handshaked = true
		p.mu.Unlock()
		_ = p.conn.SetDeadline(time.Time{})
		monitoring.SetPeerCount(n.PeerCount())
		n.log.Info("NETWORK", "Handshake with", p.addr, "complete, agent", p.info().UserAgent)
		return n.requestHeaders(p)

	case *wire.MsgPing:
		return n.send(p, wire.NewMsgPong(m.Nonce))

	case *wire.MsgHeaders:
		return n.importHeaders(p, m)

	case *wire.MsgGetHeaders:
		return n.serveHeaders(p, m)

	default:
		n.log.Debug("NETWORK", "Unhandled", msg.Command(), "from", p.addr)
		return nil
	}
}

func (n *Network) versionMsg(p *peer) *wire.MsgVersion {
	you := wire.NewNetAddressIPPort(net.IPv4zero, 0, 0)
	if tcp, ok := p.conn.RemoteAddr().(*net.TCPAddr); ok {
		you = wire.NewNetAddressIPPort(tcp.IP, uint16(tcp.Port), 0)
	}
	me := wire.NewNetAddressIPPort(net.IPv4zero, 0, 0)

	msg := wire.NewMsgVersion(me, you, n.nonce, int32(n.cache.Height()))
	name, version := splitUserAgent(n.cfg.UserAgent)
	if err := msg.AddUserAgent(name, version); err != nil {
		n.log.Warn("NETWORK", "Bad user agent", n.cfg.UserAgent, ":", err)
	}
	msg.DisableRelayTx = true
	return msg
}

func (n *Network) requestHeaders(p *peer) error {
	msg := wire.NewMsgGetHeaders()
	msg.ProtocolVersion = p.pver
	for _, hash := range n.cache.Locator() {
		hash := hash
		if err := msg.AddBlockLocatorHash(&hash); err != nil {
			break
		}
	}
	return n.send(p, msg)
}

func (n *Network) importHeaders(p *peer, m *wire.MsgHeaders) error {
	if len(m.Headers) == 0 {
		return nil
	}
	headers := make([]wire.BlockHeader, len(m.Headers))
	for i, h := range m.Headers {
		headers[i] = *h
	}

	added, err := n.writer.ImportHeaders(headers)
	switch {
	case errors.Is(err, blockcache.ErrOrphanHeader):
		// the peer is on another branch or ahead of a batch we have not seen
		n.log.Debug("NETWORK", "Orphan headers from", p.addr, ":", err)
		return nil
	case errors.Is(err, blockcache.ErrInvalidProofOfWork), errors.Is(err, blockcache.ErrBrokenChain):
		return fmt.Errorf("peer sent invalid headers: %w", err)
	case err != nil:
		n.log.Error("NETWORK", "Failed to import headers from", p.addr, ":", err)
		return nil
	}

	height := n.cache.Height()
	if added > 0 {
		monitoring.AddHeadersImported(added)
		monitoring.SetChainHeight(height)
		n.log.Info("NETWORK", "Imported", added, "headers from", p.addr, "height", height)
	}
	if len(m.Headers) == blockcache.MaxHeadersPerMsg {
		return n.requestHeaders(p)
	}
	return nil
}

func (n *Network) serveHeaders(p *peer, m *wire.MsgGetHeaders) error {
	if !n.limiter.Allow(p.addr) {
		n.log.Debug("NETWORK", "Rate limited getheaders from", p.addr)
		return nil
	}

	locator := make([]chainhash.Hash, len(m.BlockLocatorHashes))
	for i, h := range m.BlockLocatorHashes {
		locator[i] = *h
	}

	reply := wire.NewMsgHeaders()
	headers := n.cache.HeadersAfter(locator, m.HashStop, blockcache.MaxHeadersPerMsg)
	for i := range headers {
		if err := reply.AddBlockHeader(&headers[i]); err != nil {
			break
		}
	}
	return n.send(p, reply)
}

func (n *Network) send(p *peer, msg wire.Message) error {
	if err := wire.WriteMessage(p.conn, msg, p.pver, n.cfg.Params.Net); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Command(), err)
	}
	return nil
}
