package evm

import (
	"errors"
	"fmt"
	"strings"
)

// URLScheme selects which of an RPC's endpoints is dialed.
type URLScheme string

const (
	URLSchemeHTTP URLScheme = "http"
	URLSchemeWS   URLScheme = "ws"
)

// RPC describes a single node endpoint of a network.
type RPC struct {
	Name               string    `mapstructure:"name" yaml:"name"`
	HTTPURL            string    `mapstructure:"http_url" yaml:"http_url"`
	WSURL              string    `mapstructure:"ws_url" yaml:"ws_url"`
	PreferredURLScheme URLScheme `mapstructure:"preferred_url_scheme" yaml:"preferred_url_scheme"`
}

// ToEndpoint returns the URL to dial. HTTP is used unless WS is preferred, and either URL is
// used when it is the only one configured.
func (r RPC) ToEndpoint() (string, error) {
	scheme := URLScheme(strings.ToLower(string(r.PreferredURLScheme)))

	switch {
	case scheme == URLSchemeWS && r.WSURL != "":
		return r.WSURL, nil
	case scheme == URLSchemeWS:
		return "", fmt.Errorf("rpc %q prefers ws but has no ws_url", r.Name)
	case r.HTTPURL != "":
		return r.HTTPURL, nil
	case r.WSURL != "":
		return r.WSURL, nil
	default:
		return "", fmt.Errorf("rpc %q has no endpoint", r.Name)
	}
}

// RPCConfig is the ordered list of endpoints for one chain. The first healthy RPC becomes the
// primary and the rest are used as backups.
type RPCConfig struct {
	ChainSelector uint64 `mapstructure:"chain_selector" yaml:"chain_selector"`
	RPCs          []RPC  `mapstructure:"rpcs" yaml:"rpcs"`
}

// Validate checks that at least one endpoint is configured and that every RPC can produce one.
func (c RPCConfig) Validate() error {
	if c.ChainSelector == 0 {
		return errors.New("chain selector is required")
	}
	if len(c.RPCs) == 0 {
		return errors.New("at least one RPC is required")
	}
	for _, r := range c.RPCs {
		if _, err := r.ToEndpoint(); err != nil {
			return err
		}
	}

	return nil
}
