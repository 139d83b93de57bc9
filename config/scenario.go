package config

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/smartcontractkit/govbench/governor"
	"github.com/smartcontractkit/govbench/identity"
	"github.com/smartcontractkit/govbench/lifecycle"
)

// VoterRange selects Count identities starting at index From. A zero Count selects all
// remaining identities.
type VoterRange struct {
	From  int `mapstructure:"from" yaml:"from"`
	Count int `mapstructure:"count" yaml:"count"`
}

// ScenarioConfig is the file form of a lifecycle.Scenario.
type ScenarioConfig struct {
	Label        string     `mapstructure:"label" yaml:"label"`
	Variant      string     `mapstructure:"variant" yaml:"variant"`
	Governor     string     `mapstructure:"governor" yaml:"governor"`
	Treasury     string     `mapstructure:"treasury" yaml:"treasury"`
	TreasuryKind string     `mapstructure:"treasury_kind" yaml:"treasury_kind"`
	Token        string     `mapstructure:"token" yaml:"token"`
	Recipient    string     `mapstructure:"recipient" yaml:"recipient"`
	AmountWei    string     `mapstructure:"amount_wei" yaml:"amount_wei"`
	Description  string     `mapstructure:"description" yaml:"description"`
	Proposer     string     `mapstructure:"proposer" yaml:"proposer"`
	Voters       VoterRange `mapstructure:"voters" yaml:"voters"`
	Decisive     []string   `mapstructure:"decisive" yaml:"decisive"`
	Support      uint8      `mapstructure:"support" yaml:"support"`
	Delegate     bool       `mapstructure:"delegate" yaml:"delegate"`
	IDStrategies []string   `mapstructure:"id_strategies" yaml:"id_strategies"`
	// ProposalIDSlot is the storage slot of the inline DAO's proposal counter.
	ProposalIDSlot *uint64 `mapstructure:"proposal_id_slot" yaml:"proposal_id_slot"`
}

// Validate checks the scenario without resolving identities.
func (s ScenarioConfig) Validate() error {
	var errs []error

	if s.Label == "" {
		errs = append(errs, errors.New("label is required"))
	}
	if !lifecycle.VariantKind(s.Variant).Valid() {
		errs = append(errs, fmt.Errorf("unknown variant %q", s.Variant))
	}
	if !governor.TreasuryKind(s.TreasuryKind).Valid() {
		errs = append(errs, fmt.Errorf("unknown treasury kind %q", s.TreasuryKind))
	}
	for name, addr := range map[string]string{"governor": s.Governor, "treasury": s.Treasury, "recipient": s.Recipient} {
		if !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Errorf("%s: invalid address %q", name, addr))
		}
	}
	if s.Token != "" && !common.IsHexAddress(s.Token) {
		errs = append(errs, fmt.Errorf("token: invalid address %q", s.Token))
	}
	if _, err := parseWei(s.AmountWei); err != nil {
		errs = append(errs, fmt.Errorf("amount_wei: %w", err))
	}
	if s.Proposer == "" {
		errs = append(errs, errors.New("proposer is required"))
	}
	if s.Voters.From < 0 || s.Voters.Count < 0 {
		errs = append(errs, fmt.Errorf("voters: invalid range %d+%d", s.Voters.From, s.Voters.Count))
	}
	if s.Support > 2 {
		errs = append(errs, fmt.Errorf("support must be 0, 1 or 2, got %d", s.Support))
	}
	for _, st := range s.IDStrategies {
		if !governor.Strategy(st).Valid() {
			errs = append(errs, fmt.Errorf("unknown id strategy %q", st))
		}
	}

	return errors.Join(errs...)
}

// Directory resolves the identities a scenario names. *identity.Pool satisfies it.
type Directory interface {
	Get(ref string) (*identity.Identity, error)
	Range(from, count int) ([]*identity.Identity, error)
}

// Scenario resolves s into a runnable scenario.
func (s ScenarioConfig) Scenario(dir Directory) (lifecycle.Scenario, error) {
	if err := s.Validate(); err != nil {
		return lifecycle.Scenario{}, err
	}

	amount, _ := parseWei(s.AmountWei)

	proposer, err := dir.Get(s.Proposer)
	if err != nil {
		return lifecycle.Scenario{}, fmt.Errorf("proposer: %w", err)
	}
	voters, err := dir.Range(s.Voters.From, s.Voters.Count)
	if err != nil {
		return lifecycle.Scenario{}, fmt.Errorf("voters: %w", err)
	}
	decisive := make([]*identity.Identity, 0, len(s.Decisive))
	for _, ref := range s.Decisive {
		id, err := dir.Get(ref)
		if err != nil {
			return lifecycle.Scenario{}, fmt.Errorf("decisive: %w", err)
		}
		decisive = append(decisive, id)
	}

	sc := lifecycle.Scenario{
		Label:        s.Label,
		Variant:      lifecycle.VariantKind(s.Variant),
		Governor:     common.HexToAddress(s.Governor),
		Treasury:     common.HexToAddress(s.Treasury),
		TreasuryKind: governor.TreasuryKind(s.TreasuryKind),
		Recipient:    common.HexToAddress(s.Recipient),
		Amount:       amount,
		Description:  s.Description,
		Proposer:     proposer,
		Voters:       voters,
		Decisive:     decisive,
		Support:      s.Support,
		Delegate:     s.Delegate,
	}
	if s.Token != "" {
		sc.Token = common.HexToAddress(s.Token)
	}
	if sc.Description == "" {
		sc.Description = fmt.Sprintf("%s: pay %s wei to %s", s.Label, s.AmountWei, sc.Recipient.Hex())
	}
	for _, st := range s.IDStrategies {
		sc.Strategies = append(sc.Strategies, governor.Strategy(st))
	}
	if s.ProposalIDSlot != nil {
		sc.ProposalIDSlot = common.BigToHash(new(big.Int).SetUint64(*s.ProposalIDSlot))
	}

	return sc, nil
}

// ScenarioList resolves every configured scenario.
func (c *Config) ScenarioList(dir Directory) ([]lifecycle.Scenario, error) {
	out := make([]lifecycle.Scenario, 0, len(c.Scenarios))
	for _, s := range c.Scenarios {
		sc, err := s.Scenario(dir)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", s.Label, err)
		}
		out = append(out, sc)
	}

	return out, nil
}
