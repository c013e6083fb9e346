package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"parimutuel-engine/internal/model"
)

// CreateMarket opens a new market pinned to an accepted asset. The daily
// admission counter is consulted last so rejected requests never consume it.
func (l *Ledger) CreateMarket(ctx context.Context, question string, options []string, asset string, durationHours int, creator string) (uint64, error) {
	if err := l.enter(); err != nil {
		return 0, err
	}
	defer l.exit()

	question = strings.TrimSpace(question)
	if question == "" {
		return 0, ErrInvalidQuestion
	}
	if creator == "" {
		return 0, ErrInvalidAccount
	}
	cfg, err := l.asset(asset)
	if err != nil || !cfg.Accepted {
		return 0, ErrAssetNotAccepted
	}
	if len(options) < model.MinOptions || len(options) > model.MaxOptions {
		return 0, ErrInvalidOptionCount
	}
	var labels [model.MaxOptions]string
	seen := make(map[string]bool, len(options))
	for i, o := range options {
		o = strings.TrimSpace(o)
		if o == "" || seen[o] {
			return 0, ErrInvalidOptions
		}
		seen[o] = true
		labels[i] = o
	}
	if durationHours < model.MinDurationHours || durationHours > model.MaxDurationHours {
		return 0, ErrInvalidDuration
	}

	now := l.now()
	ok, err := l.counter.Allow(ctx, now, l.proto.DailyLimit)
	if err != nil {
		return 0, fmt.Errorf("daily counter: %w", err)
	}
	if !ok {
		return 0, ErrDailyLimitExceeded
	}

	duration := time.Duration(durationHours) * time.Hour
	m := &model.Market{
		ID:            l.proto.NextMarketID,
		Question:      question,
		Options:       labels,
		OptionCount:   len(options),
		Asset:         cfg.ID,
		Creator:       creator,
		StartTime:     now,
		EndTime:       now.Add(duration),
		Cutoffs:       cutoffs(now, duration),
		Outcome:       model.OutcomeOpen,
		WinningOption: -1,
		Claims:        make(map[string]bool),
	}
	l.proto.NextMarketID++
	l.markets[m.ID] = m
	l.stakes[m.ID] = make(map[string]*model.Stake)

	l.touchMarket(m.ID)
	l.touchProtocol()
	l.emit(&m.ID, "market_created", map[string]any{
		"question": m.Question, "options": m.OptionLabels(), "asset": m.Asset,
		"creator": creator, "end_time": m.EndTime,
	})
	return m.ID, nil
}

// Stake records a participant's single position and moves the raw amount
// into escrow. Nothing is recorded unless the transfer succeeds.
func (l *Ledger) Stake(ctx context.Context, id uint64, option int, amount uint64, participant string) (*model.Stake, error) {
	if err := l.enter(); err != nil {
		return nil, err
	}
	defer l.exit()

	if participant == "" || participant == model.EscrowAccount {
		return nil, ErrInvalidAccount
	}
	m, ok := l.markets[id]
	if !ok {
		return nil, ErrMarketNotFound
	}
	now := l.now()
	if m.Terminal() || !now.Before(m.EndTime) {
		return nil, ErrMarketClosed
	}
	if option < 0 || option >= m.OptionCount {
		return nil, ErrInvalidOption
	}
	if _, dup := l.stakes[id][participant]; dup {
		return nil, ErrAlreadyStaked
	}
	cfg := l.assets[m.Asset]
	if !cfg.Accepted {
		return nil, ErrAssetNotAccepted
	}
	if amount < cfg.MinStake || amount > cfg.MaxStake {
		return nil, ErrAmountOutOfRange
	}

	multiplier := TimeMultiplier(now, m)
	weighted, err := bps(amount, multiplier)
	if err != nil {
		return nil, err
	}
	optionPool, err := addChecked(m.OptionPool[option], amount)
	if err != nil {
		return nil, err
	}
	weightedPool, err := addChecked(m.WeightedOptionPool[option], weighted)
	if err != nil {
		return nil, err
	}
	totalPool, err := addChecked(m.TotalPool, amount)
	if err != nil {
		return nil, err
	}
	volume, err := addChecked(cfg.TotalVolume, amount)
	if err != nil {
		return nil, err
	}

	if err := l.bank.Transfer(ctx, m.Asset, participant, model.EscrowAccount, amount); err != nil {
		return nil, fmt.Errorf("stake transfer: %w", err)
	}

	st := &model.Stake{
		MarketID:       id,
		Participant:    participant,
		Option:         option,
		RawAmount:      amount,
		WeightedAmount: weighted,
		MultiplierBps:  multiplier,
		Timestamp:      now,
	}
	l.stakes[id][participant] = st
	m.OptionPool[option] = optionPool
	m.WeightedOptionPool[option] = weightedPool
	m.TotalPool = totalPool
	m.Participants = append(m.Participants, participant)
	cfg.TotalVolume = volume

	l.touchMarket(id)
	l.touchStake(StakeKey{MarketID: id, Participant: participant})
	l.touchAsset(cfg.ID)
	l.emit(&m.ID, "stake", *st)

	out := *st
	return &out, nil
}
