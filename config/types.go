package config

import (
	"github.com/mezonai/headerd/logx"
)

// StoreSection selects the header store backend.
type StoreSection struct {
	Type string `yaml:"type"`
}

// P2PSection holds network session settings.
type P2PSection struct {
	UserAgent     string `yaml:"user_agent"`
	DialTimeoutMs int    `yaml:"dial_timeout_ms"`
}

// Config is the node configuration. It is built once at process entry and passed by value.
type Config struct {
	Network   Network      `yaml:"network"`
	DataDir   string       `yaml:"data_dir"`
	Connect   []string     `yaml:"connect"`
	APIAddr   string       `yaml:"api_addr"`
	DNSConfig string       `yaml:"dns_config"`
	Store     StoreSection `yaml:"store"`
	Log       logx.Config  `yaml:"log"`
	P2P       P2PSection   `yaml:"p2p"`
}

// ConfigFile is the top-level structure for node.yml
type ConfigFile struct {
	Config Config `yaml:"config"`
}

// DNSConfig configures DNS-seed lookups.
type DNSConfig struct {
	Servers   []string `ini:"servers" delim:","`
	TimeoutMs int      `ini:"timeout_ms"`
	QueryIPv6 bool     `ini:"query_ipv6"`
}
