package config

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Network identifies the chain a node follows.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Regtest Network = "regtest"
	Signet  Network = "signet"
)

// ParseNetwork accepts the canonical names plus the common aliases.
func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mainnet", "main", "bitcoin":
		return Mainnet, nil
	case "testnet", "testnet3", "test":
		return Testnet, nil
	case "regtest", "regression":
		return Regtest, nil
	case "signet":
		return Signet, nil
	default:
		return "", fmt.Errorf("unknown network %q", s)
	}
}

// Params are the immutable constants of one network.
type Params struct {
	*chaincfg.Params
	Network Network
}

// NetworkParams resolves the chain parameters for n.
func NetworkParams(n Network) (*Params, error) {
	var p *chaincfg.Params
	switch n {
	case Mainnet:
		p = &chaincfg.MainNetParams
	case Testnet:
		p = &chaincfg.TestNet3Params
	case Regtest:
		p = &chaincfg.RegressionNetParams
	case Signet:
		p = &chaincfg.SigNetParams
	default:
		return nil, fmt.Errorf("unknown network %q", n)
	}
	return &Params{Params: p, Network: n}, nil
}

// Genesis returns a copy of the network's genesis header.
func (p *Params) Genesis() wire.BlockHeader {
	return p.GenesisBlock.Header
}

func (p *Params) GenesisBlockHash() chainhash.Hash {
	return *p.GenesisHash
}

// SeedHosts lists the DNS seed host names.
func (p *Params) SeedHosts() []string {
	hosts := make([]string, 0, len(p.DNSSeeds))
	for _, s := range p.DNSSeeds {
		hosts = append(hosts, s.Host)
	}
	return hosts
}
