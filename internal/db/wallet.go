package db

import (
	"context"
	"database/sql"
	"fmt"

	"parimutuel-engine/internal/engine"
)

// WalletBank keeps custody balances in the wallets table.
type WalletBank struct {
	store *Store
}

func NewWalletBank(store *Store) *WalletBank { return &WalletBank{store: store} }

func (b *WalletBank) Transfer(ctx context.Context, asset, from, to string, amount uint64) error {
	tx, err := b.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE wallets SET balance = balance - $1, updated_at = now()
		 WHERE account=$2 AND asset=$3 AND balance >= $1`, num(amount), from, asset)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 && amount > 0 {
		return fmt.Errorf("%w: %s cannot cover %d %s", engine.ErrInsufficientBalance, from, amount, asset)
	}
	if err := credit(ctx, tx, asset, to, amount); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *WalletBank) Deposit(ctx context.Context, asset, account string, amount uint64) error {
	tx, err := b.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := credit(ctx, tx, asset, account, amount); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *WalletBank) Balance(ctx context.Context, asset, account string) (uint64, error) {
	var bal uint64
	err := b.store.DB.QueryRowContext(ctx,
		`SELECT balance FROM wallets WHERE account=$1 AND asset=$2`, account, asset,
	).Scan(&bal)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return bal, err
}

func credit(ctx context.Context, tx *sql.Tx, asset, account string, amount uint64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO wallets (account, asset, balance) VALUES ($1,$2,$3)
		 ON CONFLICT (account, asset) DO UPDATE
		 SET balance = wallets.balance + EXCLUDED.balance, updated_at = now()`,
		account, asset, num(amount))
	return err
}

var _ engine.Bank = (*WalletBank)(nil)
