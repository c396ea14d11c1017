package discovery

import (
	"context"
	"net"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"

	"github.com/mezonai/headerd/config"
	"github.com/mezonai/headerd/logx"
)

const resolvConfPath = "/etc/resolv.conf"

// DNSSeeder resolves a network's DNS seeds into peer addresses.
type DNSSeeder struct {
	servers []string
	ipv6    bool
	client  *dns.Client
	log     *logx.Logger
}

// NewDNSSeeder builds a seeder from cfg. With no servers configured it falls
// back to the system resolvers.
func NewDNSSeeder(cfg *config.DNSConfig, log *logx.Logger) (*DNSSeeder, error) {
	if cfg == nil {
		cfg = &config.DNSConfig{TimeoutMs: config.DefaultDNSTimeoutMs}
	}
	if log == nil {
		log = logx.Default()
	}

	servers := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		servers = append(servers, withDefaultPort(s, "53"))
	}
	if len(servers) == 0 {
		cc, err := dns.ClientConfigFromFile(resolvConfPath)
		if err != nil {
			return nil, errors.Wrap(err, "no dns servers configured and system resolvers unavailable")
		}
		for _, s := range cc.Servers {
			servers = append(servers, net.JoinHostPort(s, cc.Port))
		}
	}
	if len(servers) == 0 {
		return nil, errors.New("no dns servers available")
	}

	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = time.Duration(config.DefaultDNSTimeoutMs) * time.Millisecond
	}

	return &DNSSeeder{
		servers: servers,
		ipv6:    cfg.QueryIPv6,
		client:  &dns.Client{Net: "udp", Timeout: timeout},
		log:     log,
	}, nil
}

func withDefaultPort(addr, port string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, port)
}

// Bootstrap queries every seed of params and returns the addresses found,
// deduplicated and in seed order. A seed that fails is logged and skipped.
func (s *DNSSeeder) Bootstrap(ctx context.Context, params *config.Params) ([]string, error) {
	hosts := params.SeedHosts()
	if len(hosts) == 0 {
		return nil, errors.Wrapf(ErrNoSeeds, "network %s", params.Network)
	}

	qtypes := []uint16{dns.TypeA}
	if s.ipv6 {
		qtypes = append(qtypes, dns.TypeAAAA)
	}

	seen := make(map[string]struct{})
	var addrs []string
	for _, host := range hosts {
		for _, qtype := range qtypes {
			ips, err := s.lookup(ctx, host, qtype)
			if err != nil {
				if ctx.Err() != nil {
					return nil, errors.Wrap(ctx.Err(), "dns bootstrap interrupted")
				}
				s.log.Warn("DISCOVERY", "seed", host, dns.TypeToString[qtype], "failed:", err)
				continue
			}
			for _, ip := range ips {
				addr := net.JoinHostPort(ip, params.DefaultPort)
				if _, ok := seen[addr]; ok {
					continue
				}
				seen[addr] = struct{}{}
				addrs = append(addrs, addr)
			}
			s.log.Debug("DISCOVERY", "seed", host, dns.TypeToString[qtype], "returned", len(ips), "addresses")
		}
	}

	if len(addrs) == 0 {
		return nil, errors.Wrapf(ErrNoPeersDiscovered, "%d seeds queried", len(hosts))
	}
	s.log.Info("DISCOVERY", "Discovered", len(addrs), "peers from", len(hosts), "dns seeds")
	return addrs, nil
}

// lookup asks each server in turn until one answers.
func (s *DNSSeeder) lookup(ctx context.Context, host string, qtype uint16) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), qtype)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range s.servers {
		r, _, err := s.client.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = errors.Wrapf(err, "query %s", server)
			continue
		}
		if r.Rcode != dns.RcodeSuccess {
			lastErr = errors.Errorf("%s answered %s", server, dns.RcodeToString[r.Rcode])
			continue
		}

		var ips []string
		for _, rr := range r.Answer {
			switch rec := rr.(type) {
			case *dns.A:
				ips = append(ips, rec.A.String())
			case *dns.AAAA:
				ips = append(ips, rec.AAAA.String())
			}
		}
		return ips, nil
	}
	return nil, lastErr
}
