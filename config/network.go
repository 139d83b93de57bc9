package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/smartcontractkit/govbench/chain/evm"
)

// Manifest is the YAML representation of a set of networks.
type Manifest struct {
	Networks []ManifestNetwork `yaml:"networks"`
}

// ManifestNetwork is one network of a manifest.
type ManifestNetwork struct {
	ChainSelector uint64    `yaml:"chain_selector"`
	RPCs          []evm.RPC `yaml:"rpcs"`
}

// LoadNetworkFile returns the RPCs that the manifest at path lists for selector.
func LoadNetworkFile(path string, selector uint64) ([]evm.RPC, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read network manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to decode network manifest %s: %w", path, err)
	}

	var rpcs []evm.RPC
	for _, n := range m.Networks {
		if n.ChainSelector == selector {
			rpcs = append(rpcs, n.RPCs...)
		}
	}
	if len(rpcs) == 0 {
		return nil, fmt.Errorf("network manifest %s has no RPCs for selector %d", path, selector)
	}

	return rpcs, nil
}
