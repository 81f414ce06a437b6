package bank

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"escrowledger/core/state"
)

// ErrInsufficientFunds is returned when a wallet cannot cover a debit.
var ErrInsufficientFunds = errors.New("bank: insufficient funds")

// NormalizeAsset canonicalises an asset identifier.
func NormalizeAsset(asset string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(asset))
	if trimmed == "" {
		return "", fmt.Errorf("bank: asset required")
	}
	return trimmed, nil
}

// Balance returns the wallet balance of addr for the asset.
func Balance(kv state.KV, addr [20]byte, asset string) (*big.Int, error) {
	if kv == nil {
		return nil, fmt.Errorf("bank: state required")
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	return state.LoadBigInt(kv, state.BankAccountKey(addr, normalized))
}

// Deposit credits a wallet from outside the ledger. Operators use it to fund
// accounts from a bridge or a development faucet.
func Deposit(kv state.KV, addr [20]byte, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("bank: deposit amount must be positive")
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	key := state.BankAccountKey(addr, normalized)
	current, err := state.LoadBigInt(kv, key)
	if err != nil {
		return err
	}
	return state.StoreBigInt(kv, key, new(big.Int).Add(current, amount))
}

// Move transfers amount of asset between two wallets. Zero amounts are a
// no-op; negative amounts are rejected.
func Move(kv state.KV, from, to [20]byte, asset string, amount *big.Int) error {
	if kv == nil {
		return fmt.Errorf("bank: state required")
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("bank: negative transfer amount")
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if from == to {
		return nil
	}
	fromKey := state.BankAccountKey(from, normalized)
	toKey := state.BankAccountKey(to, normalized)
	fromBal, err := state.LoadBigInt(kv, fromKey)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s %s", ErrInsufficientFunds, fromBal, amount, normalized)
	}
	toBal, err := state.LoadBigInt(kv, toKey)
	if err != nil {
		return err
	}
	if err := state.StoreBigInt(kv, fromKey, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return state.StoreBigInt(kv, toKey, new(big.Int).Add(toBal, amount))
}
