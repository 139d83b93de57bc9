package identity

import (
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Record is one entry of an identity file. Files are JSON or YAML lists of records. The key is
// read from private_key, or from privateKey when private_key is absent.
type Record struct {
	Label           string `yaml:"label"`
	Address         string `yaml:"address"`
	PrivateKey      string `yaml:"private_key"`
	PrivateKeyCamel string `yaml:"privateKey"`
}

func (r Record) key() string {
	if r.PrivateKey != "" {
		return r.PrivateKey
	}

	return r.PrivateKeyCamel
}

// LoadFile reads identities from path. Records without a label are named member-<index>. When a
// record states an address it must match the address derived from its key.
func LoadFile(path string) ([]*Identity, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}

	return Parse(b)
}

// Parse decodes identity records. JSON input is accepted since it is valid YAML.
func Parse(b []byte) ([]*Identity, error) {
	var records []Record
	if err := yaml.Unmarshal(b, &records); err != nil {
		return nil, fmt.Errorf("failed to decode identity records: %w", err)
	}

	ids := make([]*Identity, 0, len(records))
	for i, rec := range records {
		key := rec.key()
		if key == "" {
			return nil, fmt.Errorf("record %d: private_key is required", i)
		}

		label := rec.Label
		if label == "" {
			label = fmt.Sprintf("member-%d", i)
		}

		id, err := FromHexKey(label, key)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}

		if rec.Address != "" {
			if !common.IsHexAddress(rec.Address) {
				return nil, fmt.Errorf("record %d: invalid address %q", i, rec.Address)
			}
			if common.HexToAddress(rec.Address) != id.Address {
				return nil, fmt.Errorf("record %d: address %s does not match key address %s",
					i, rec.Address, id.Address.Hex())
			}
		}

		ids = append(ids, id)
	}

	if len(ids) == 0 {
		return nil, errors.New("identity file contains no records")
	}

	return ids, nil
}
