package engine

import (
	"context"
	"log"
	"time"

	"parimutuel-engine/internal/model"
)

// resolution is the terminal state computed for a market before anything is
// committed.
type resolution struct {
	outcome       model.Outcome
	winner        int
	platformFee   uint64
	creatorReward uint64
}

// Resolve fixes a market's terminal state once its window has closed. No
// funds move here: refunds, winnings and the creator reward are all pulled
// later through the claim operations.
func (l *Ledger) Resolve(_ context.Context, id uint64, resolver string) (*model.Market, error) {
	if err := l.enter(); err != nil {
		return nil, err
	}
	defer l.exit()

	m, ok := l.markets[id]
	if !ok {
		return nil, ErrMarketNotFound
	}
	if m.Terminal() {
		return nil, ErrAlreadyResolved
	}
	now := l.now()
	if now.Before(m.EndTime) {
		return nil, ErrMarketNotYetClosed
	}

	res, err := l.classify(m, resolver, now)
	if err != nil {
		return nil, err
	}
	accrued, err := addChecked(l.proto.AccruedFees[m.Asset], res.platformFee)
	if err != nil {
		return nil, err
	}

	// Commit.
	m.Outcome = res.outcome
	m.WinningOption = res.winner
	switch res.outcome {
	case model.OutcomeSingleParticipant:
		m.Refunded = true
	case model.OutcomeSingleWinner, model.OutcomeTieBroken:
		m.Resolved = true
		m.PlatformFee = res.platformFee
		m.CreatorReward = res.creatorReward
		l.proto.AccruedFees[m.Asset] = accrued
		l.touchProtocol()
	default:
		m.Cancelled = true
	}
	resolvedAt := now
	m.ResolvedAt = &resolvedAt

	l.touchMarket(id)
	l.emit(&m.ID, "resolved", map[string]any{
		"outcome": m.Outcome, "winning_option": m.WinningOption, "total_pool": m.TotalPool,
		"platform_fee": m.PlatformFee, "creator_reward": m.CreatorReward, "resolver": resolver,
	})
	log.Printf("[engine] market %d resolved: %s (winner=%d pool=%d fee=%d reward=%d)",
		id, m.Outcome, m.WinningOption, m.TotalPool, m.PlatformFee, m.CreatorReward)
	return m.Clone(), nil
}

// classify evaluates the terminal cases in priority order: participant count
// first, then pool sizes.
func (l *Ledger) classify(m *model.Market, resolver string, now time.Time) (resolution, error) {
	res := resolution{winner: -1}
	switch n := len(m.Participants); {
	case n == 0:
		res.outcome = model.OutcomeNoParticipants
		return res, nil
	case n == 1:
		res.outcome = model.OutcomeSingleParticipant
		return res, nil
	case n < l.proto.MinParticipants:
		res.outcome = model.OutcomeBelowThreshold
		return res, nil
	}

	var highest uint64
	for o := 0; o < m.OptionCount; o++ {
		if m.OptionPool[o] > highest {
			highest = m.OptionPool[o]
		}
	}
	if highest == 0 {
		res.outcome = model.OutcomeNoPool
		return res, nil
	}
	var tied []int
	for o := 0; o < m.OptionCount; o++ {
		if m.OptionPool[o] == highest {
			tied = append(tied, o)
		}
	}

	if len(tied) == 1 {
		res.outcome = model.OutcomeSingleWinner
		res.winner = tied[0]
	} else {
		seed := l.seeds.Seed(TieBreakInput{
			MarketID:  m.ID,
			Resolver:  resolver,
			Timestamp: now,
			TotalPool: m.TotalPool,
			Tied:      tied,
		})
		res.outcome = model.OutcomeTieBroken
		res.winner = pickTied(seed, tied)
	}

	var err error
	if res.platformFee, err = bps(m.TotalPool, model.PlatformFeeBps); err != nil {
		return res, err
	}
	if res.creatorReward, err = bps(m.TotalPool, model.CreatorRewardBps); err != nil {
		return res, err
	}
	return res, nil
}
