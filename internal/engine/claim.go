package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"parimutuel-engine/internal/model"
)

// Claim pays out a participant's entitlement on a terminal market: the raw
// stake for cancelled or refunded markets, a weighted share of the
// distributable pool for winners, nothing for losers. The claim flag is
// committed before funds leave escrow.
func (l *Ledger) Claim(ctx context.Context, id uint64, participant string) (uint64, error) {
	if err := l.enter(); err != nil {
		return 0, err
	}
	defer l.exit()
	return l.claim(ctx, id, participant)
}

// BatchClaim claims across many markets. Markets that are not eligible are
// skipped with a reason rather than failing the batch.
func (l *Ledger) BatchClaim(ctx context.Context, ids []uint64, participant string) (model.BatchClaimResult, error) {
	if err := l.enter(); err != nil {
		return model.BatchClaimResult{}, err
	}
	defer l.exit()

	out := model.BatchClaimResult{Results: make([]model.ClaimResult, 0, len(ids))}
	for _, id := range ids {
		amount, err := l.claim(ctx, id, participant)
		if err != nil {
			if errors.Is(err, ErrArithmeticInvariant) {
				log.Printf("[engine] batch claim market %d for %s: %v", id, participant, err)
			}
			out.Results = append(out.Results, model.ClaimResult{MarketID: id, Skipped: true, Reason: err.Error()})
			continue
		}
		out.Total += amount
		out.Results = append(out.Results, model.ClaimResult{MarketID: id, Amount: amount})
	}
	return out, nil
}

func (l *Ledger) claim(ctx context.Context, id uint64, participant string) (uint64, error) {
	m, ok := l.markets[id]
	if !ok {
		return 0, ErrMarketNotFound
	}
	if !m.Terminal() {
		return 0, ErrNotResolved
	}
	st, ok := l.stakes[id][participant]
	if !ok {
		return 0, ErrNoStakeFound
	}
	if m.Claims[participant] {
		return 0, ErrAlreadyClaimed
	}

	var (
		payout uint64
		limit  uint64
		kind   = model.PayoutClaim
		err    error
	)
	switch {
	case m.Cancelled || m.Refunded:
		payout, limit, kind = st.RawAmount, m.TotalPool, model.PayoutRefund
	case st.Option == m.WinningOption:
		limit = m.Distributable()
		payout, err = mulDiv(limit, st.WeightedAmount, m.WeightedOptionPool[m.WinningOption])
		if err != nil {
			return 0, l.invariant(m, participant, err)
		}
	}
	disbursed, err := addChecked(m.Disbursed, payout)
	if err != nil {
		return 0, l.invariant(m, participant, err)
	}
	if payout > 0 && disbursed > limit {
		return 0, l.invariant(m, participant, fmt.Errorf("disbursed %d + payout %d exceeds %d", m.Disbursed, payout, limit))
	}
	// The last winner to claim releases the floor-division remainder to fees.
	var dust, accrued uint64
	if m.Resolved && st.Option == m.WinningOption && disbursed < limit && l.lastWinner(m, participant) {
		dust = limit - disbursed
		if accrued, err = addChecked(l.proto.AccruedFees[m.Asset], dust); err != nil {
			return 0, l.invariant(m, participant, err)
		}
	}

	m.Claims[participant] = true
	m.Disbursed = disbursed + dust
	l.touchMarket(id)
	l.touchStake(StakeKey{MarketID: id, Participant: participant})
	l.emit(&m.ID, "claim", map[string]any{"participant": participant, "amount": payout, "kind": kind})
	if dust > 0 {
		l.proto.AccruedFees[m.Asset] = accrued
		l.touchProtocol()
		l.emit(&m.ID, "dust_swept", map[string]any{"asset": m.Asset, "amount": dust})
	}

	if payout == 0 {
		return 0, nil
	}
	if err := l.pay(ctx, kind, m.ID, m.Asset, participant, payout); err != nil {
		return 0, err
	}
	return payout, nil
}

// ClaimCreatorReward pays the creator's share of a resolved market.
// Cancelled and refunded markets carry no reward and return 0.
func (l *Ledger) ClaimCreatorReward(ctx context.Context, id uint64, caller string) (uint64, error) {
	if err := l.enter(); err != nil {
		return 0, err
	}
	defer l.exit()

	m, ok := l.markets[id]
	if !ok {
		return 0, ErrMarketNotFound
	}
	if !m.Terminal() {
		return 0, ErrNotResolved
	}
	if caller != m.Creator {
		return 0, ErrNotCreator
	}
	if m.CreatorRewardClaimed {
		return 0, ErrAlreadyClaimed
	}
	m.CreatorRewardClaimed = true
	l.touchMarket(id)
	l.emit(&m.ID, "creator_reward", map[string]any{"creator": caller, "amount": m.CreatorReward})

	if m.CreatorReward == 0 {
		return 0, nil
	}
	if err := l.pay(ctx, model.PayoutCreatorReward, m.ID, m.Asset, caller, m.CreatorReward); err != nil {
		return 0, err
	}
	return m.CreatorReward, nil
}

// WithdrawFees sweeps an asset's accrued platform fees to the fee recipient.
func (l *Ledger) WithdrawFees(ctx context.Context, asset string) (uint64, error) {
	if err := l.enter(); err != nil {
		return 0, err
	}
	defer l.exit()

	id, err := NormalizeAsset(asset)
	if err != nil {
		return 0, err
	}
	if l.proto.FeeRecipient == "" {
		return 0, ErrNoFeeRecipient
	}
	amount := l.proto.AccruedFees[id]
	if amount == 0 {
		return 0, ErrNoFees
	}
	l.proto.AccruedFees[id] = 0
	l.touchProtocol()
	l.emit(nil, "fees_withdrawn", map[string]any{"asset": id, "amount": amount, "to": l.proto.FeeRecipient})

	if err := l.pay(ctx, model.PayoutFeeSweep, 0, id, l.proto.FeeRecipient, amount); err != nil {
		return 0, err
	}
	return amount, nil
}

// RetryPayout re-attempts a queued failed payout. The entitlement was
// already committed, so only the transfer runs again. The queue entry is
// removed durably before the transfer and restored if it fails.
func (l *Ledger) RetryPayout(ctx context.Context, payoutID string) (*model.FailedPayout, error) {
	if err := l.enter(); err != nil {
		return nil, err
	}
	defer l.exit()

	p, ok := l.failed[payoutID]
	if !ok {
		return nil, ErrPayoutNotFound
	}
	delete(l.failed, p.ID)
	l.clearPayout(p.ID)
	err := l.commitPending(ctx)
	if err == nil {
		err = l.bank.Transfer(ctx, p.Asset, model.EscrowAccount, p.To, p.Amount)
	}
	if err != nil {
		p.Reason = err.Error()
		l.failed[p.ID] = p
		l.touchPayout(p.ID)
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	l.emit(marketRef(p.MarketID), "payout_retried", *p)
	out := *p
	return &out, nil
}

// pay moves funds out of escrow once the state that entitles the payout is
// durable. A failed checkpoint or transfer leaves the caller's committed
// state alone and queues the payout for operator retry.
func (l *Ledger) pay(ctx context.Context, kind model.PayoutKind, marketID uint64, asset, to string, amount uint64) error {
	err := l.commitPending(ctx)
	if err != nil {
		err = fmt.Errorf("journal: %w", err)
	} else if err = l.bank.Transfer(ctx, asset, model.EscrowAccount, to, amount); err == nil {
		return nil
	}
	p := &model.FailedPayout{
		ID:        uuid.New().String(),
		Kind:      kind,
		MarketID:  marketID,
		Asset:     asset,
		To:        to,
		Amount:    amount,
		Reason:    err.Error(),
		CreatedAt: l.now(),
	}
	l.failed[p.ID] = p
	l.touchPayout(p.ID)
	l.emit(marketRef(marketID), "payout_failed", *p)
	log.Printf("[engine] %s payout %s of %d %s to %s failed: %v", kind, p.ID, amount, asset, to, err)
	return fmt.Errorf("%w: %v (queued as %s)", ErrTransferFailed, err, p.ID)
}

// lastWinner reports whether every other winning stake has been claimed.
func (l *Ledger) lastWinner(m *model.Market, participant string) bool {
	for p, st := range l.stakes[m.ID] {
		if p != participant && st.Option == m.WinningOption && !m.Claims[p] {
			return false
		}
	}
	return true
}

func (l *Ledger) invariant(m *model.Market, participant string, cause error) error {
	log.Printf("[engine] ARITHMETIC INVARIANT market %d participant %s: %v", m.ID, participant, cause)
	return fmt.Errorf("%w: %v", ErrArithmeticInvariant, cause)
}

func marketRef(id uint64) *uint64 {
	if id == 0 {
		return nil
	}
	return &id
}
