package token

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

var ErrInsufficientTokenBalance = errors.New("insufficient token balance")

// DebtTokenLedger tracks debt-token balances and total supply. Minting
// and burning happen only through the Kasa manager, which keeps supply
// mirrored against aggregate position debt.
//
// Not thread-safe; only accessed from the single-threaded core.
type DebtTokenLedger struct {
	balances    map[uuid.UUID]uint64
	totalSupply uint64
}

func NewDebtTokenLedger() *DebtTokenLedger {
	return &DebtTokenLedger{
		balances: make(map[uuid.UUID]uint64),
	}
}

// Mint creates amount new tokens credited to the holder.
func (tl *DebtTokenLedger) Mint(to uuid.UUID, amount uint64) error {
	if tl.totalSupply+amount < tl.totalSupply {
		return fmt.Errorf("mint %d to %s: supply overflow", amount, to)
	}
	tl.balances[to] += amount
	tl.totalSupply += amount
	return nil
}

// Burn destroys amount tokens held by the holder.
func (tl *DebtTokenLedger) Burn(from uuid.UUID, amount uint64) error {
	balance := tl.balances[from]
	if amount > balance {
		return fmt.Errorf("burn %d from %s (balance %d): %w",
			amount, from, balance, ErrInsufficientTokenBalance)
	}
	tl.setBalance(from, balance-amount)
	tl.totalSupply -= amount
	return nil
}

// Transfer moves tokens between holders without changing supply.
func (tl *DebtTokenLedger) Transfer(from, to uuid.UUID, amount uint64) error {
	balance := tl.balances[from]
	if amount > balance {
		return fmt.Errorf("transfer %d from %s (balance %d): %w",
			amount, from, balance, ErrInsufficientTokenBalance)
	}
	tl.setBalance(from, balance-amount)
	tl.balances[to] += amount
	return nil
}

// BalanceOf returns a holder's recorded balance; unknown holders read zero.
func (tl *DebtTokenLedger) BalanceOf(owner uuid.UUID) uint64 {
	return tl.balances[owner]
}

// TotalSupply returns the outstanding token supply.
func (tl *DebtTokenLedger) TotalSupply() uint64 {
	return tl.totalSupply
}

// SortedHolders returns holders with nonzero balances in canonical order
// for deterministic digests and snapshots.
func (tl *DebtTokenLedger) SortedHolders() []uuid.UUID {
	holders := make([]uuid.UUID, 0, len(tl.balances))
	for holder := range tl.balances {
		holders = append(holders, holder)
	}
	sort.Slice(holders, func(i, j int) bool {
		return bytes.Compare(holders[i][:], holders[j][:]) < 0
	})
	return holders
}

// SetBalance directly installs a balance (used for snapshot restore).
func (tl *DebtTokenLedger) SetBalance(owner uuid.UUID, balance uint64) {
	prev := tl.balances[owner]
	tl.setBalance(owner, balance)
	tl.totalSupply = tl.totalSupply - prev + balance
}

func (tl *DebtTokenLedger) setBalance(owner uuid.UUID, balance uint64) {
	if balance == 0 {
		delete(tl.balances, owner)
		return
	}
	tl.balances[owner] = balance
}
