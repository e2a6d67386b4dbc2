package config

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shhcash/Shh.Cash-Node/offer"
)

// Admission policy values applied when the policy document is absent or
// leaves a field unset.
const (
	DefaultMaxActiveOffers                 = 5
	DefaultMinWalletBalanceLamports uint64 = 10_000_000
)

// DefaultSOLCeilingLamports is the per-transaction base-asset ceiling applied
// when the policy document does not override it (0.5 SOL).
var DefaultSOLCeilingLamports = big.NewInt(500_000_000)

// Policy is the parsed admission policy. Only the base asset's ceiling is
// enforced; entries for other assets are carried but not applied.
type Policy struct {
	MaxActiveOffers          int
	PerTxCeiling             map[offer.AssetKind]*big.Int
	MinWalletBalanceLamports uint64
}

// policyFile mirrors the YAML representation of the policy document.
type policyFile struct {
	MaxActiveOffers          int               `yaml:"maxActiveOffers"`
	PerTxCeiling             map[string]string `yaml:"perTxCeiling"`
	MinWalletBalanceLamports uint64            `yaml:"minWalletBalanceLamports"`
}

// DefaultPolicy returns the admission policy used when no document exists.
func DefaultPolicy() Policy {
	return Policy{
		MaxActiveOffers: DefaultMaxActiveOffers,
		PerTxCeiling: map[offer.AssetKind]*big.Int{
			offer.AssetSOL: new(big.Int).Set(DefaultSOLCeilingLamports),
		},
		MinWalletBalanceLamports: DefaultMinWalletBalanceLamports,
	}
}

// LoadPolicy reads the YAML admission policy from disk. A missing or empty
// document yields the defaults; malformed values fail startup.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return policy, nil
	}
	file, err := os.Open(trimmed)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return policy, nil
		}
		return policy, fmt.Errorf("open policy: %w", err)
	}
	defer file.Close()

	var doc policyFile
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return policy, nil
		}
		return policy, fmt.Errorf("decode policy: %w", err)
	}
	if doc.MaxActiveOffers > 0 {
		policy.MaxActiveOffers = doc.MaxActiveOffers
	}
	if doc.MinWalletBalanceLamports > 0 {
		policy.MinWalletBalanceLamports = doc.MinWalletBalanceLamports
	}
	for asset, raw := range doc.PerTxCeiling {
		kind := offer.AssetKind(strings.ToUpper(strings.TrimSpace(asset)))
		if !kind.Valid() {
			return policy, fmt.Errorf("policy ceiling for unknown asset %q", asset)
		}
		ceiling, err := parseCeiling(raw)
		if err != nil {
			return policy, fmt.Errorf("asset %s perTxCeiling: %w", kind, err)
		}
		policy.PerTxCeiling[kind] = ceiling
	}
	return policy, nil
}

func parseCeiling(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("value required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer amount %q", raw)
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return value, nil
}
