package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"escrowledger/crypto"
	"escrowledger/native/access"
	"escrowledger/native/escrow"
)

// Genesis seeds an empty ledger: roles, policy, reputation and wallet funds.
type Genesis struct {
	Administrators []string         `yaml:"administrators"`
	Managers       []string         `yaml:"managers"`
	Arbitrators    []string         `yaml:"arbitrators"`
	Policy         GenesisPolicy    `yaml:"policy"`
	Reputation     []ReputationSeed `yaml:"reputation"`
	Deposits       []Deposit        `yaml:"deposits"`
}

// GenesisPolicy mirrors escrow.Policy with text addresses.
type GenesisPolicy struct {
	Whitelist           []string `yaml:"whitelist"`
	FeeBps              *uint32  `yaml:"fee_bps"`
	Vault               string   `yaml:"vault"`
	StakeBps            uint32   `yaml:"stake_bps"`
	ReputationThreshold uint64   `yaml:"reputation_threshold"`
	Supreme             []string `yaml:"supreme"`
	ExternalArbitration bool     `yaml:"external_arbitration"`
}

// ReputationSeed assigns a starting score.
type ReputationSeed struct {
	Address string `yaml:"address"`
	Score   uint64 `yaml:"score"`
}

// Deposit credits a wallet before the first job is posted.
type Deposit struct {
	Address string `yaml:"address"`
	Asset   string `yaml:"asset"`
	Amount  string `yaml:"amount"`
}

// Bootstrapper is the engine surface genesis drives.
type Bootstrapper interface {
	Initialized() (bool, error)
	Initialize(admin [20]byte, policy escrow.Policy) error
	GrantRole(caller [20]byte, role access.Role, account [20]byte) error
	Deposit(caller, to [20]byte, asset string, amount *big.Int) error
}

// Seeder receives starting reputation scores.
type Seeder interface {
	Seed(subject [20]byte, score uint64) error
}

// LoadGenesis reads a YAML genesis document.
func LoadGenesis(path string) (*Genesis, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open genesis: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	g := new(Genesis)
	if err := dec.Decode(g); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	return g, nil
}

// EscrowPolicy converts the policy section.
func (g *Genesis) EscrowPolicy() (escrow.Policy, error) {
	policy := escrow.DefaultPolicy()
	policy.Whitelist = append([]string(nil), g.Policy.Whitelist...)
	if g.Policy.FeeBps != nil {
		policy.FeeBps = *g.Policy.FeeBps
	}
	if g.Policy.StakeBps != 0 {
		policy.StakeBps = g.Policy.StakeBps
	}
	policy.ReputationThreshold = g.Policy.ReputationThreshold
	policy.ExternalArbitration = g.Policy.ExternalArbitration
	if strings.TrimSpace(g.Policy.Vault) != "" {
		vault, err := crypto.ParseAddress(g.Policy.Vault)
		if err != nil {
			return policy, fmt.Errorf("policy.vault: %w", err)
		}
		policy.Vault = vault
	}
	supreme, err := parseAddresses("policy.supreme", g.Policy.Supreme)
	if err != nil {
		return policy, err
	}
	policy.Supreme = supreme
	return policy, policy.Validate()
}

// Apply seeds engine and reputation. It reports false without touching
// anything when the engine was initialised by an earlier run. Extra
// arbitrators, such as the in-process court, are granted alongside the
// listed ones.
func (g *Genesis) Apply(engine Bootstrapper, seeds Seeder, arbitrators ...[20]byte) (bool, error) {
	if engine == nil {
		return false, errors.New("genesis: engine required")
	}
	if ok, err := engine.Initialized(); err != nil {
		return false, err
	} else if ok {
		return false, nil
	}
	admins, err := parseAddresses("administrators", g.Administrators)
	if err != nil {
		return false, err
	}
	if len(admins) == 0 {
		return false, errors.New("genesis: at least one administrator required")
	}
	policy, err := g.EscrowPolicy()
	if err != nil {
		return false, err
	}
	root := admins[0]
	if err := engine.Initialize(root, policy); err != nil {
		return false, err
	}
	managers, err := parseAddresses("managers", g.Managers)
	if err != nil {
		return false, err
	}
	listed, err := parseAddresses("arbitrators", g.Arbitrators)
	if err != nil {
		return false, err
	}
	grants := []struct {
		role     access.Role
		accounts [][20]byte
	}{
		{access.RoleAdministrator, admins[1:]},
		{access.RoleManager, managers},
		{access.RoleArbitrator, append(listed, arbitrators...)},
	}
	for _, grant := range grants {
		for _, account := range grant.accounts {
			if err := engine.GrantRole(root, grant.role, account); err != nil {
				return false, fmt.Errorf("grant %s: %w", grant.role, err)
			}
		}
	}
	for i, seed := range g.Reputation {
		if seeds == nil {
			return false, errors.New("genesis: reputation seeds require a reputation ledger")
		}
		addr, err := crypto.ParseAddress(seed.Address)
		if err != nil {
			return false, fmt.Errorf("reputation[%d]: %w", i, err)
		}
		if err := seeds.Seed(addr, seed.Score); err != nil {
			return false, fmt.Errorf("reputation[%d]: %w", i, err)
		}
	}
	for i, deposit := range g.Deposits {
		addr, err := crypto.ParseAddress(deposit.Address)
		if err != nil {
			return false, fmt.Errorf("deposits[%d]: %w", i, err)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(deposit.Amount), 10)
		if !ok {
			return false, fmt.Errorf("deposits[%d]: invalid amount %q", i, deposit.Amount)
		}
		if err := engine.Deposit(root, addr, deposit.Asset, amount); err != nil {
			return false, fmt.Errorf("deposits[%d]: %w", i, err)
		}
	}
	return true, nil
}

func parseAddresses(field string, raw []string) ([][20]byte, error) {
	out := make([][20]byte, 0, len(raw))
	for i, value := range raw {
		addr, err := crypto.ParseAddress(value)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", field, i, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

// ParseCosts converts the arbitrator cost table.
func (a ArbitratorConfig) ParseCosts() (map[string]*big.Int, error) {
	costs := make(map[string]*big.Int, len(a.Cost))
	for asset, raw := range a.Cost {
		amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
		if !ok || amount.Sign() < 0 {
			return nil, fmt.Errorf("Arbitrator.Cost[%s]: invalid amount %q", asset, raw)
		}
		costs[strings.ToUpper(strings.TrimSpace(asset))] = amount
	}
	return costs, nil
}
