package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mezonai/headerd/logx"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

const (
	// Fixed file names under <data_dir>/<network>/
	StoreFileName       = "headers.db"
	AddressBookFileName = "peers"
	LockFileName        = "LOCK"

	DefaultDataDir       = "./data"
	DefaultStoreType     = "bolt"
	DefaultUserAgent     = "headerd"
	DefaultDialTimeoutMs = 10000
	DefaultDNSTimeoutMs  = 5000
)

// Default returns a configuration with every field populated.
func Default() Config {
	return Config{
		Network: Mainnet,
		DataDir: DefaultDataDir,
		Store:   StoreSection{Type: DefaultStoreType},
		Log: logx.Config{
			Level:      "info",
			MaxSizeMB:  100,
			MaxAgeDays: 7,
		},
		P2P: P2PSection{
			UserAgent:     DefaultUserAgent,
			DialTimeoutMs: DefaultDialTimeoutMs,
		},
	}
}

// LoadNodeConfig reads node.yml on top of the defaults. A missing file is only an
// error when required is set.
func LoadNodeConfig(path string, required bool) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("open config %s: %w", path, err)
	}
	defer file.Close()

	cfgFile := ConfigFile{Config: cfg}
	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfgFile); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfgFile.Config.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	d := Default()
	if c.Network == "" {
		c.Network = d.Network
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.Store.Type == "" {
		c.Store.Type = d.Store.Type
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = d.Log.MaxSizeMB
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = d.Log.MaxAgeDays
	}
	if c.P2P.UserAgent == "" {
		c.P2P.UserAgent = d.P2P.UserAgent
	}
	if c.P2P.DialTimeoutMs == 0 {
		c.P2P.DialTimeoutMs = d.P2P.DialTimeoutMs
	}
	return c
}

// Validate checks the merged configuration. It normalizes the network name in place.
func (c *Config) Validate() error {
	n, err := ParseNetwork(string(c.Network))
	if err != nil {
		return err
	}
	c.Network = n

	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	if _, err := logx.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Store.Type {
	case "leveldb", "bolt":
	default:
		return fmt.Errorf("unsupported store type: %s", c.Store.Type)
	}
	if c.P2P.DialTimeoutMs < 0 {
		return fmt.Errorf("p2p.dial_timeout_ms cannot be negative")
	}
	if c.APIAddr != "" {
		if _, _, err := net.SplitHostPort(c.APIAddr); err != nil {
			return fmt.Errorf("invalid api_addr %q: %w", c.APIAddr, err)
		}
	}
	return nil
}

// NetworkDir is the per-network data directory.
func (c Config) NetworkDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

func (c Config) StorePath() string {
	return filepath.Join(c.NetworkDir(), StoreFileName)
}

func (c Config) AddressBookPath() string {
	return filepath.Join(c.NetworkDir(), AddressBookFileName)
}

func (c Config) LockPath() string {
	return filepath.Join(c.NetworkDir(), LockFileName)
}

func (c Config) DialTimeout() time.Duration {
	return time.Duration(c.P2P.DialTimeoutMs) * time.Millisecond
}

// ConnectPeers returns a copy of the explicit peer list.
func (c Config) ConnectPeers() []string {
	if len(c.Connect) == 0 {
		return nil
	}
	out := make([]string, len(c.Connect))
	copy(out, c.Connect)
	return out
}

// LoadDNSConfig reads the [dns] section of an .ini file. A missing file yields defaults.
func LoadDNSConfig(path string) (*DNSConfig, error) {
	dnsCfg := &DNSConfig{TimeoutMs: DefaultDNSTimeoutMs}
	if path == "" {
		return dnsCfg, nil
	}
	cfg, err := ini.LooseLoad(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Section("dns").MapTo(dnsCfg); err != nil {
		return nil, err
	}
	if dnsCfg.TimeoutMs <= 0 {
		dnsCfg.TimeoutMs = DefaultDNSTimeoutMs
	}
	servers := dnsCfg.Servers[:0]
	for _, s := range dnsCfg.Servers {
		if s = strings.TrimSpace(s); s != "" {
			servers = append(servers, s)
		}
	}
	dnsCfg.Servers = servers
	return dnsCfg, nil
}

func (d *DNSConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutMs) * time.Millisecond
}
