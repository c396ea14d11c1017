package p2p

import (
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mezonai/headerd/blockcache"
	"github.com/mezonai/headerd/chaintest"
	"github.com/mezonai/headerd/config"
	"github.com/mezonai/headerd/logx"
	"github.com/mezonai/headerd/ratelimit"
)

func newSharedCache(t *testing.T, params *config.Params, n int) (*blockcache.SharedCache, []wire.BlockHeader) {
	t.Helper()
	hs, headers := chaintest.NewStore(t, params, n)
	c, err := blockcache.Build(hs, params)
	require.NoError(t, err)
	return blockcache.NewShared(c), headers
}

func newTestNetwork(t *testing.T, params *config.Params, cache *blockcache.SharedCache) *Network {
	t.Helper()
	n, err := NewNetwork(Config{Params: params, DialTimeout: time.Second}, cache, logx.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

// remotePeer is a scripted node on the other end of the connection.
type remotePeer struct {
	t      *testing.T
	params *config.Params
	ln     net.Listener
	conns  chan net.Conn
}

func listenRemote(t *testing.T, params *config.Params) *remotePeer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	r := &remotePeer{t: t, params: params, ln: ln, conns: make(chan net.Conn, 4)}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			r.conns <- c
		}
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return r
}

func (r *remotePeer) addr() string {
	return r.ln.Addr().String()
}

func (r *remotePeer) accept() net.Conn {
	select {
	case c := <-r.conns:
		r.t.Cleanup(func() { _ = c.Close() })
		_ = c.SetDeadline(time.Now().Add(10 * time.Second))
		return c
	case <-time.After(5 * time.Second):
		r.t.Fatal("no inbound connection")
		return nil
	}
}

func (r *remotePeer) read(c net.Conn) wire.Message {
	msg, _, err := wire.ReadMessage(c, wire.ProtocolVersion, r.params.Net)
	require.NoError(r.t, err)
	return msg
}

func (r *remotePeer) write(c net.Conn, msg wire.Message) {
	require.NoError(r.t, wire.WriteMessage(c, msg, wire.ProtocolVersion, r.params.Net))
}

// writeRaw frames payload under command by hand, announcing length bytes.
func (r *remotePeer) writeRaw(c net.Conn, command string, length uint32, payload []byte) {
	hdr := make([]byte, wire.MessageHeaderSize)
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(r.params.Net))
	copy(hdr[4:4+wire.CommandSize], command)
	binary.LittleEndian.PutUint32(hdr[16:20], length)
	copy(hdr[20:24], chainhash.DoubleHashB(payload)[:4])
	_, err := c.Write(append(hdr, payload...))
	require.NoError(r.t, err)
}

// handshake answers the session's version and returns its getheaders request.
func (r *remotePeer) handshake(c net.Conn, height int32) *wire.MsgGetHeaders {
	ver, ok := r.read(c).(*wire.MsgVersion)
	require.True(r.t, ok, "first message must be version")
	assert.Contains(r.t, ver.UserAgent, "headerd")

	me := wire.NewNetAddressIPPort(net.IPv4(127, 0, 0, 1), 0, 0)
	remoteVer := wire.NewMsgVersion(me, me, ver.Nonce+1, height)
	require.NoError(r.t, remoteVer.AddUserAgent("remote", "1.0"))
	r.write(c, remoteVer)
	r.write(c, wire.NewMsgVerAck())

	_, ok = r.read(c).(*wire.MsgVerAck)
	require.True(r.t, ok, "version must be answered with verack")

	gh, ok := r.read(c).(*wire.MsgGetHeaders)
	require.True(r.t, ok, "verack must be followed by getheaders")
	return gh
}

func TestNewNetworkTakesWriter(t *testing.T) {
	params := chaintest.Regtest(t)
	cache, _ := newSharedCache(t, params, 0)

	n := newTestNetwork(t, params, cache)
	assert.NotEmpty(t, n.SessionID())

	_, err := NewNetwork(Config{Params: params}, cache, logx.Discard())
	assert.True(t, errors.Is(err, blockcache.ErrWriterTaken))
}

func TestConnectValidation(t *testing.T) {
	params := chaintest.Regtest(t)
	cache, _ := newSharedCache(t, params, 0)
	n := newTestNetwork(t, params, cache)

	assert.True(t, errors.Is(n.Connect(nil), ErrNoPeers))
	assert.True(t, errors.Is(n.Connect([]string{"not-an-address"}), ErrInvalidPeerAddress))

	remote := listenRemote(t, params)
	require.NoError(t, n.Connect([]string{remote.addr()}))
	assert.True(t, errors.Is(n.Connect([]string{remote.addr()}), ErrAlreadyConnecting))
}

func TestSyncHeadersFromPeer(t *testing.T) {
	params := chaintest.Regtest(t)
	cache, _ := newSharedCache(t, params, 0)
	n := newTestNetwork(t, params, cache)
	chain := chaintest.Mine(params.Genesis(), 12)

	remote := listenRemote(t, params)
	require.NoError(t, n.Connect([]string{remote.addr()}))
	c := remote.accept()

	gh := remote.handshake(c, int32(len(chain)))
	require.Len(t, gh.BlockLocatorHashes, 1)
	assert.Equal(t, params.GenesisBlockHash(), *gh.BlockLocatorHashes[0])

	r := wire.NewMsgHeaders()
	for i := range chain {
		require.NoError(t, r.AddBlockHeader(&chain[i]))
	}
	remote.write(c, r)

	require.Eventually(t, func() bool { return cache.Height() == 12 }, 5*time.Second, 10*time.Millisecond)
	tip, _ := cache.Tip()
	assert.Equal(t, chain[11].BlockHash(), tip)

	peers := n.ConnectedPeers()
	require.Len(t, peers, 1)
	assert.Equal(t, remote.addr(), peers[0].Addr)
	assert.Contains(t, peers[0].UserAgent, "remote")
	assert.Equal(t, int32(12), peers[0].StartHeight)

	remote.write(c, wire.NewMsgPing(42))
	pong, ok := remote.read(c).(*wire.MsgPong)
	require.True(t, ok)
	assert.Equal(t, uint64(42), pong.Nonce)
}

func TestServeHeadersToPeer(t *testing.T) {
	params := chaintest.Regtest(t)
	cache, chain := newSharedCache(t, params, 6)
	n := newTestNetwork(t, params, cache)

	remote := listenRemote(t, params)
	require.NoError(t, n.Connect([]string{remote.addr()}))
	c := remote.accept()
	gh := remote.handshake(c, 0)
	assert.Equal(t, chain[5].BlockHash(), *gh.BlockLocatorHashes[0])

	req := wire.NewMsgGetHeaders()
	genesis := params.GenesisBlockHash()
	require.NoError(t, req.AddBlockLocatorHash(&genesis))
	req.HashStop = chainhash.Hash{}
	remote.write(c, req)

	reply, ok := remote.read(c).(*wire.MsgHeaders)
	require.True(t, ok)
	require.Len(t, reply.Headers, 6)
	assert.Equal(t, chain[0].BlockHash(), reply.Headers[0].BlockHash())
	assert.Equal(t, chain[5].BlockHash(), reply.Headers[5].BlockHash())
}

func TestServeHeadersRateLimited(t *testing.T) {
	params := chaintest.Regtest(t)
	cache, _ := newSharedCache(t, params, 2)
	n, err := NewNetwork(Config{
		Params:     params,
		ServeLimit: &ratelimit.RateLimiterConfig{MaxRequests: 1, WindowSize: time.Minute},
	}, cache, logx.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })

	remote := listenRemote(t, params)
	require.NoError(t, n.Connect([]string{remote.addr()}))
	c := remote.accept()
	remote.handshake(c, 0)

	req := wire.NewMsgGetHeaders()
	genesis := params.GenesisBlockHash()
	require.NoError(t, req.AddBlockLocatorHash(&genesis))
	remote.write(c, req)
	remote.write(c, req)
	remote.write(c, wire.NewMsgPing(7))

	_, ok := remote.read(c).(*wire.MsgHeaders)
	require.True(t, ok)
	// the second request is dropped, so the pong comes next
	pong, ok := remote.read(c).(*wire.MsgPong)
	require.True(t, ok)
	assert.Equal(t, uint64(7), pong.Nonce)
	assert.Len(t, n.ConnectedPeers(), 1)
}

func TestUnknownMessageIsSkipped(t *testing.T) {
	params := chaintest.Regtest(t)
	cache, _ := newSharedCache(t, params, 0)
	n := newTestNetwork(t, params, cache)

	remote := listenRemote(t, params)
	require.NoError(t, n.Connect([]string{remote.addr()}))
	c := remote.accept()
	remote.handshake(c, 0)

	payload := []byte{1, 2, 3, 4, 5}
	remote.writeRaw(c, "bogus", uint32(len(payload)), payload)
	remote.write(c, wire.NewMsgPing(9))

	pong, ok := remote.read(c).(*wire.MsgPong)
	require.True(t, ok)
	assert.Equal(t, uint64(9), pong.Nonce)
	assert.Len(t, n.ConnectedPeers(), 1)
}

func TestOversizedMessageDropsPeer(t *testing.T) {
	params := chaintest.Regtest(t)
	cache, _ := newSharedCache(t, params, 0)
	n := newTestNetwork(t, params, cache)

	remote := listenRemote(t, params)
	require.NoError(t, n.Connect([]string{remote.addr()}))
	c := remote.accept()
	remote.handshake(c, 0)
	require.Eventually(t, func() bool { return len(n.ConnectedPeers()) == 1 }, 5*time.Second, 10*time.Millisecond)

	// the announced payload is never sent, so the stream cannot be resynced
	remote.writeRaw(c, "ping", wire.MaxMessagePayload+1, nil)

	require.Eventually(t, func() bool { return len(n.ConnectedPeers()) == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestInvalidHeadersDropPeer(t *testing.T) {
	params := chaintest.Regtest(t)
	cache, _ := newSharedCache(t, params, 0)
	n := newTestNetwork(t, params, cache)

	remote := listenRemote(t, params)
	require.NoError(t, n.Connect([]string{remote.addr()}))
	c := remote.accept()
	remote.handshake(c, 1)

	bad := chaintest.Unsolved(params.Genesis())
	r := wire.NewMsgHeaders()
	require.NoError(t, r.AddBlockHeader(&bad))
	remote.write(c, r)

	require.Eventually(t, func() bool { return len(n.ConnectedPeers()) == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint32(0), cache.Height())
}

func TestCloseDisconnects(t *testing.T) {
	params := chaintest.Regtest(t)
	cache, _ := newSharedCache(t, params, 0)
	n, err := NewNetwork(Config{Params: params}, cache, logx.Discard())
	require.NoError(t, err)

	remote := listenRemote(t, params)
	require.NoError(t, n.Connect([]string{remote.addr()}))
	c := remote.accept()
	remote.handshake(c, 0)

	require.NoError(t, n.Close())
	require.NoError(t, n.Close())
	assert.Empty(t, n.ConnectedPeers())
	assert.True(t, errors.Is(n.Connect([]string{remote.addr()}), ErrClosed))

	_, _, err = wire.ReadMessage(c, wire.ProtocolVersion, params.Net)
	assert.Error(t, err)
}

func TestSplitUserAgent(t *testing.T) {
	name, version := splitUserAgent("headerd:0.1.0")
	assert.Equal(t, "headerd", name)
	assert.Equal(t, "0.1.0", version)

	name, version = splitUserAgent("plain")
	assert.Equal(t, "plain", name)
	assert.Empty(t, version)
}
