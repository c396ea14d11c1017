package discovery

import (
	"context"
	"net"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/miekg/dns"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mezonai/headerd/config"
	"github.com/mezonai/headerd/logx"
)

// startDNS serves the given name -> ips table on a loopback UDP port.
func startDNS(t *testing.T, records map[string][]string) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		q := r.Question[0]
		ips, ok := records[q.Name]
		if !ok {
			m.Rcode = dns.RcodeNameError
		}
		for _, s := range ips {
			ip := net.ParseIP(s)
			hdr := dns.RR_Header{Name: q.Name, Rrtype: q.Qtype, Class: dns.ClassINET, Ttl: 60}
			switch {
			case q.Qtype == dns.TypeA && ip.To4() != nil:
				m.Answer = append(m.Answer, &dns.A{Hdr: hdr, A: ip})
			case q.Qtype == dns.TypeAAAA && ip.To4() == nil:
				m.Answer = append(m.Answer, &dns.AAAA{Hdr: hdr, AAAA: ip})
			}
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func seedParams(hosts ...string) *config.Params {
	seeds := make([]chaincfg.DNSSeed, 0, len(hosts))
	for _, h := range hosts {
		seeds = append(seeds, chaincfg.DNSSeed{Host: h})
	}
	return &config.Params{
		Params:  &chaincfg.Params{Name: "seedtest", DefaultPort: "18444", DNSSeeds: seeds},
		Network: config.Regtest,
	}
}

func TestDNSSeederBootstrap(t *testing.T) {
	server := startDNS(t, map[string][]string{
		"seed-a.test.": {"10.0.0.1", "10.0.0.2", "fd00::1"},
		"seed-b.test.": {"10.0.0.2", "10.0.0.3"},
	})

	seeder, err := NewDNSSeeder(&config.DNSConfig{Servers: []string{server}, TimeoutMs: 2000}, logx.Discard())
	require.NoError(t, err)

	addrs, err := seeder.Bootstrap(context.Background(), seedParams("seed-a.test", "missing.test", "seed-b.test"))
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1:18444", "10.0.0.2:18444", "10.0.0.3:18444"}, addrs)
}

func TestDNSSeederIPv6(t *testing.T) {
	server := startDNS(t, map[string][]string{
		"seed-a.test.": {"10.0.0.1", "fd00::1"},
	})

	seeder, err := NewDNSSeeder(&config.DNSConfig{Servers: []string{server}, TimeoutMs: 2000, QueryIPv6: true}, logx.Discard())
	require.NoError(t, err)

	addrs, err := seeder.Bootstrap(context.Background(), seedParams("seed-a.test"))
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1:18444", "[fd00::1]:18444"}, addrs)
}

func TestDNSSeederNothingFound(t *testing.T) {
	server := startDNS(t, map[string][]string{})
	seeder, err := NewDNSSeeder(&config.DNSConfig{Servers: []string{server}, TimeoutMs: 2000}, logx.Discard())
	require.NoError(t, err)

	_, err = seeder.Bootstrap(context.Background(), seedParams("missing.test"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoPeersDiscovered))
}

func TestDNSSeederNoSeeds(t *testing.T) {
	seeder, err := NewDNSSeeder(&config.DNSConfig{Servers: []string{"127.0.0.1"}, TimeoutMs: 100}, logx.Discard())
	require.NoError(t, err)

	params, err := config.NetworkParams(config.Regtest)
	require.NoError(t, err)
	_, err = seeder.Bootstrap(context.Background(), params)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoSeeds))
}

func TestWithDefaultPort(t *testing.T) {
	assert.Equal(t, "1.1.1.1:53", withDefaultPort("1.1.1.1", "53"))
	assert.Equal(t, "1.1.1.1:5353", withDefaultPort("1.1.1.1:5353", "53"))
	assert.Equal(t, "[::1]:53", withDefaultPort("::1", "53"))
}
