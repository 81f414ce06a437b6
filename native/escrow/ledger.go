package escrow

import (
	"fmt"
	"math/big"

	"escrowledger/core/state"
	"escrowledger/crypto"
	"escrowledger/native/bank"
)

// CustodyAddress is the module wallet holding every escrowed asset.
var CustodyAddress = crypto.ModuleAddress("escrow/custody")

// Solvency summarises custody accounting for one asset. Custody must always
// equal Locked plus Owed.
type Solvency struct {
	Asset   string
	Custody *big.Int
	Locked  *big.Int
	Owed    *big.Int
}

// Holds reports whether the custody invariant is satisfied.
func (s Solvency) Holds() bool {
	want := new(big.Int).Add(cloneBigInt(s.Locked), cloneBigInt(s.Owed))
	return cloneBigInt(s.Custody).Cmp(want) == 0
}

func adjust(kv state.KV, key []byte, delta *big.Int) error {
	current, err := state.LoadBigInt(kv, key)
	if err != nil {
		return err
	}
	next := new(big.Int).Add(current, delta)
	if next.Sign() < 0 {
		return fmt.Errorf("%w: %s would drop to %s", errInsolvent, string(key), next)
	}
	return state.StoreBigInt(kv, key, next)
}

// pullIn moves amount from a wallet into custody and binds it to open jobs.
func pullIn(kv state.KV, from [20]byte, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := bank.Move(kv, from, CustodyAddress, asset, amount); err != nil {
		return err
	}
	return adjust(kv, state.EscrowLockedKey(asset), amount)
}

// creditBalance releases locked value into a withdrawable balance entry.
func creditBalance(kv state.KV, addr [20]byte, asset string, amount *big.Int) error {
	return credit(kv, state.EscrowBalanceKey(addr, asset), asset, amount)
}

// creditRefund releases locked value into a pending refund entry.
func creditRefund(kv state.KV, addr [20]byte, asset string, amount *big.Int) error {
	return credit(kv, state.EscrowRefundKey(addr, asset), asset, amount)
}

func credit(kv state.KV, entry []byte, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: negative credit", ErrInvalidAmount)
	}
	if err := adjust(kv, state.EscrowLockedKey(asset), new(big.Int).Neg(amount)); err != nil {
		return err
	}
	if err := adjust(kv, entry, amount); err != nil {
		return err
	}
	return adjust(kv, state.EscrowOwedKey(asset), amount)
}

// drain zeroes an entry, lowers the owed aggregate and only then moves the
// value out of custody.
func drain(kv state.KV, entry []byte, to [20]byte, asset string) (*big.Int, error) {
	amount, err := state.LoadBigInt(kv, entry)
	if err != nil {
		return nil, err
	}
	if amount.Sign() == 0 {
		return amount, nil
	}
	if err := state.StoreBigInt(kv, entry, nil); err != nil {
		return nil, err
	}
	if err := adjust(kv, state.EscrowOwedKey(asset), new(big.Int).Neg(amount)); err != nil {
		return nil, err
	}
	if err := bank.Move(kv, CustodyAddress, to, asset, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func solvency(kv state.KV, asset string) (Solvency, error) {
	custody, err := bank.Balance(kv, CustodyAddress, asset)
	if err != nil {
		return Solvency{}, err
	}
	locked, err := state.LoadBigInt(kv, state.EscrowLockedKey(asset))
	if err != nil {
		return Solvency{}, err
	}
	owed, err := state.LoadBigInt(kv, state.EscrowOwedKey(asset))
	if err != nil {
		return Solvency{}, err
	}
	return Solvency{Asset: asset, Custody: custody, Locked: locked, Owed: owed}, nil
}
