package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Scenario describes a simulation: the tokens and pools that exist, the
// managers to create, and the steps to replay against them.
type Scenario struct {
	Factory  common.Address `yaml:"factory"`
	Owner    common.Address `yaml:"owner"`
	Tokens   []TokenSpec    `yaml:"tokens"`
	Pools    []PoolSpec     `yaml:"pools"`
	Accounts []AccountSpec  `yaml:"accounts"`
	Managers [][2]string    `yaml:"managers"`
	Steps    []Step         `yaml:"steps"`
}

type TokenSpec struct {
	Symbol   string         `yaml:"symbol"`
	Address  common.Address `yaml:"address"`
	Decimals uint8          `yaml:"decimals"`
}

// PoolSpec creates a pool initialized at the given tick.
type PoolSpec struct {
	Token0 string `yaml:"token0"`
	Token1 string `yaml:"token1"`
	Fee    uint64 `yaml:"fee"`
	Tick   int64  `yaml:"tick"`
}

type AccountSpec struct {
	Name     string            `yaml:"name"`
	Address  common.Address    `yaml:"address"`
	Balances map[string]Amount `yaml:"balances"`
}

// Action names a scenario step.
type Action string

const (
	ActionMint      Action = "mint"
	ActionBurn      Action = "burn"
	ActionSwap      Action = "swap"
	ActionRebalance Action = "rebalance"
	ActionAdjust    Action = "adjust"
)

// OwnerAccount names the scenario owner in steps without declaring it.
const OwnerAccount = "owner"

// Step is one operation. Pair selects the manager (or, for swaps, the pool).
type Step struct {
	Action     Action    `yaml:"action"`
	Account    string    `yaml:"account"`
	Pair       [2]string `yaml:"pair"`
	Amount     Amount    `yaml:"amount"`
	ZeroForOne bool      `yaml:"zeroForOne"`
	Fee        uint64    `yaml:"fee"`
	Lower      int64     `yaml:"lower"`
	Upper      int64     `yaml:"upper"`
	// ExpectError makes a failing step part of the script.
	ExpectError bool `yaml:"expectError"`
}

// Amount is an arbitrary precision integer written as a decimal string.
type Amount struct {
	*big.Int
}

func (a *Amount) UnmarshalYAML(node *yaml.Node) error {
	n, ok := new(big.Int).SetString(node.Value, 10)
	if !ok {
		return fmt.Errorf("line %d: invalid integer %q", node.Line, node.Value)
	}
	a.Int = n
	return nil
}

func (a Amount) MarshalYAML() (any, error) {
	if a.Int == nil {
		return "0", nil
	}
	return a.String(), nil
}

// Value returns the amount, treating an unset amount as zero.
func (a Amount) Value() *big.Int {
	if a.Int == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.Int)
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks that every symbol and account a step uses is declared.
func (s *Scenario) Validate() error {
	var errs []error
	tokens := make(map[string]bool, len(s.Tokens))
	for _, t := range s.Tokens {
		if t.Symbol == "" || t.Address == (common.Address{}) {
			errs = append(errs, fmt.Errorf("token %q: symbol and address are required", t.Symbol))
		}
		if tokens[t.Symbol] {
			errs = append(errs, fmt.Errorf("token %q declared twice", t.Symbol))
		}
		tokens[t.Symbol] = true
	}
	pair := func(where string, p [2]string) {
		for _, sym := range p {
			if !tokens[sym] {
				errs = append(errs, fmt.Errorf("%s: unknown token %q", where, sym))
			}
		}
	}
	for i, p := range s.Pools {
		pair(fmt.Sprintf("pools[%d]", i), [2]string{p.Token0, p.Token1})
	}

	accounts := map[string]bool{OwnerAccount: true}
	for _, a := range s.Accounts {
		accounts[a.Name] = true
		for sym := range a.Balances {
			if !tokens[sym] {
				errs = append(errs, fmt.Errorf("account %q: unknown token %q", a.Name, sym))
			}
		}
	}
	for i, m := range s.Managers {
		pair(fmt.Sprintf("managers[%d]", i), m)
	}
	for i, st := range s.Steps {
		where := fmt.Sprintf("steps[%d]", i)
		switch st.Action {
		case ActionMint, ActionBurn, ActionSwap, ActionRebalance, ActionAdjust:
		default:
			errs = append(errs, fmt.Errorf("%s: unknown action %q", where, st.Action))
		}
		if st.Account == "" {
			errs = append(errs, fmt.Errorf("%s: account is required", where))
		} else if !accounts[st.Account] {
			errs = append(errs, fmt.Errorf("%s: unknown account %q", where, st.Account))
		}
		pair(where, st.Pair)
	}
	return errors.Join(errs...)
}
