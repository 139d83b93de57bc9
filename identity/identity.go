// Package identity holds the signing identities used to drive proposals and tracks the nonce of
// each one.
package identity

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Identity is a labelled signing key.
type Identity struct {
	Label   string
	Address common.Address

	key *ecdsa.PrivateKey
}

// FromKey wraps an existing private key.
func FromKey(label string, key *ecdsa.PrivateKey) *Identity {
	return &Identity{
		Label:   label,
		Address: crypto.PubkeyToAddress(key.PublicKey),
		key:     key,
	}
}

// FromHexKey parses a hex encoded private key, with or without the 0x prefix.
func FromHexKey(label, hexKey string) (*Identity, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key for %q: %w", label, err)
	}

	return FromKey(label, key), nil
}

// SignTx signs txdata for chainID with the latest signer the chain supports.
func (i *Identity) SignTx(chainID *big.Int, txdata types.TxData) (*types.Transaction, error) {
	tx, err := types.SignNewTx(i.key, types.LatestSignerForChainID(chainID), txdata)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction for %s: %w", i, err)
	}

	return tx, nil
}

// String returns "<label> (<address>)".
func (i *Identity) String() string {
	return fmt.Sprintf("%s (%s)", i.Label, i.Address.Hex())
}
