package engine

import (
	"context"
	"fmt"
	"sync"
)

// Bank is the custody boundary: integer base-unit balances per (asset,
// account). Transfer is atomic and fails with ErrInsufficientBalance when
// the source cannot cover the amount.
type Bank interface {
	Transfer(ctx context.Context, asset, from, to string, amount uint64) error
	Deposit(ctx context.Context, asset, account string, amount uint64) error
	Balance(ctx context.Context, asset, account string) (uint64, error)
}

// MemoryBank keeps balances in process memory.
type MemoryBank struct {
	mu       sync.RWMutex
	balances map[string]map[string]uint64 // asset -> account -> balance
}

func NewMemoryBank() *MemoryBank {
	return &MemoryBank{balances: make(map[string]map[string]uint64)}
}

func (b *MemoryBank) Transfer(_ context.Context, asset, from, to string, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	accounts := b.accounts(asset)
	if accounts[from] < amount {
		return fmt.Errorf("%w: %s has %d %s, need %d", ErrInsufficientBalance, from, accounts[from], asset, amount)
	}
	credited, err := addChecked(accounts[to], amount)
	if err != nil {
		return err
	}
	accounts[from] -= amount
	accounts[to] = credited
	return nil
}

func (b *MemoryBank) Deposit(_ context.Context, asset, account string, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	accounts := b.accounts(asset)
	credited, err := addChecked(accounts[account], amount)
	if err != nil {
		return err
	}
	accounts[account] = credited
	return nil
}

func (b *MemoryBank) Balance(_ context.Context, asset, account string) (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balances[asset][account], nil
}

// accounts returns the per-asset balance map (must hold lock).
func (b *MemoryBank) accounts(asset string) map[string]uint64 {
	accounts, ok := b.balances[asset]
	if !ok {
		accounts = make(map[string]uint64)
		b.balances[asset] = accounts
	}
	return accounts
}
