package engine

import (
	"context"

	"parimutuel-engine/internal/model"
)

// SetFeeRecipient changes where WithdrawFees sends accrued platform fees.
func (l *Ledger) SetFeeRecipient(_ context.Context, recipient string) error {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()

	if recipient == "" || recipient == model.EscrowAccount {
		return ErrInvalidAccount
	}
	l.proto.FeeRecipient = recipient
	l.touchProtocol()
	l.emit(nil, "config_updated", map[string]any{"fee_recipient": recipient})
	return nil
}

// SetMinParticipants changes the participant threshold applied at
// resolution. Markets already resolved keep their outcome.
func (l *Ledger) SetMinParticipants(_ context.Context, n int) error {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()

	if n < model.DefaultMinStakers {
		return ErrInvalidThreshold
	}
	l.proto.MinParticipants = n
	l.touchProtocol()
	l.emit(nil, "config_updated", map[string]any{"min_participants": n})
	return nil
}

func (l *Ledger) SetDailyLimit(_ context.Context, n int) error {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()

	if n < 1 {
		return ErrInvalidDailyLimit
	}
	l.proto.DailyLimit = n
	l.touchProtocol()
	l.emit(nil, "config_updated", map[string]any{"daily_limit": n})
	return nil
}

// Deposit credits an account through the bank. It exists so operators can
// fund accounts on custody backends that support it.
func (l *Ledger) Deposit(ctx context.Context, asset, account string, amount uint64) error {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()

	id, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if account == "" || account == model.EscrowAccount {
		return ErrInvalidAccount
	}
	if amount == 0 {
		return ErrAmountOutOfRange
	}
	return l.bank.Deposit(ctx, id, account, amount)
}
