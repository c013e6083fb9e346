package engine

import (
	"context"
	"sort"
	"time"

	"parimutuel-engine/internal/model"
)

// Options configures a Ledger. Zero values fall back to in-memory defaults.
type Options struct {
	Clock           Clock
	Bank            Bank
	Seeds           SeedSource
	Counter         DailyCounter
	FeeRecipient    string
	MinParticipants int
	DailyLimit      int
}

// Ledger holds every asset, market and stake and implements the settlement
// rules. It is not safe for concurrent use; Engine serializes access.
type Ledger struct {
	clock   Clock
	bank    Bank
	seeds   SeedSource
	counter DailyCounter

	assets  map[string]*model.AssetConfig
	markets map[uint64]*model.Market
	stakes  map[uint64]map[string]*model.Stake
	proto   model.ProtocolState
	failed  map[string]*model.FailedPayout

	lastNow time.Time
	entered bool
	changes Changes
	// checkpoint makes pending changes durable before funds leave escrow.
	checkpoint func(ctx context.Context) error
}

func NewLedger(opts Options) *Ledger {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Bank == nil {
		opts.Bank = NewMemoryBank()
	}
	if opts.Seeds == nil {
		opts.Seeds = NewHashSeed()
	}
	if opts.Counter == nil {
		opts.Counter = NewMemoryCounter()
	}
	if opts.MinParticipants < model.DefaultMinStakers {
		opts.MinParticipants = model.DefaultMinStakers
	}
	if opts.DailyLimit < 1 {
		opts.DailyLimit = model.DefaultDailyLimit
	}
	return &Ledger{
		clock:   opts.Clock,
		bank:    opts.Bank,
		seeds:   opts.Seeds,
		counter: opts.Counter,
		assets:  make(map[string]*model.AssetConfig),
		markets: make(map[uint64]*model.Market),
		stakes:  make(map[uint64]map[string]*model.Stake),
		failed:  make(map[string]*model.FailedPayout),
		proto: model.ProtocolState{
			NextMarketID:    1,
			FeeRecipient:    opts.FeeRecipient,
			MinParticipants: opts.MinParticipants,
			DailyLimit:      opts.DailyLimit,
			AccruedFees:     make(map[string]uint64),
		},
	}
}

// Bank exposes the custody boundary the ledger settles against.
func (l *Ledger) Bank() Bank { return l.bank }

// now reads the clock, never returning an instant earlier than one already
// observed.
func (l *Ledger) now() time.Time {
	t := l.clock.Now()
	if t.Before(l.lastNow) {
		return l.lastNow
	}
	l.lastNow = t
	return t
}

// enter is the call-depth guard for every mutating operation. A transfer
// callback that calls back into the ledger gets ErrReentrantCall.
func (l *Ledger) enter() error {
	if l.entered {
		return ErrReentrantCall
	}
	l.entered = true
	return nil
}

func (l *Ledger) exit() { l.entered = false }

// ── Reads ────────────────────────────────────────────

func (l *Ledger) GetMarket(id uint64) (*model.Market, error) {
	m, ok := l.markets[id]
	if !ok {
		return nil, ErrMarketNotFound
	}
	return m.Clone(), nil
}

func (l *Ledger) ListMarkets() []*model.Market {
	out := make([]*model.Market, 0, len(l.markets))
	for _, m := range l.markets {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *Ledger) GetStake(id uint64, participant string) (*model.Stake, error) {
	if _, ok := l.markets[id]; !ok {
		return nil, ErrMarketNotFound
	}
	st, ok := l.stakes[id][participant]
	if !ok {
		return nil, ErrNoStakeFound
	}
	cp := *st
	return &cp, nil
}

// ListStakes returns a market's stakes in participant order.
func (l *Ledger) ListStakes(id uint64) ([]model.Stake, error) {
	m, ok := l.markets[id]
	if !ok {
		return nil, ErrMarketNotFound
	}
	out := make([]model.Stake, 0, len(m.Participants))
	for _, p := range m.Participants {
		out = append(out, *l.stakes[id][p])
	}
	return out, nil
}

// GetTimeMultiplier is the multiplier a stake placed now would receive.
func (l *Ledger) GetTimeMultiplier(id uint64) (uint64, error) {
	m, ok := l.markets[id]
	if !ok {
		return 0, ErrMarketNotFound
	}
	return TimeMultiplier(l.now(), m), nil
}

func (l *Ledger) GetProtocolStats() model.ProtocolStats {
	stats := model.ProtocolStats{
		TotalMarkets:    len(l.markets),
		AccruedFees:     make(map[string]uint64, len(l.proto.AccruedFees)),
		FeeRecipient:    l.proto.FeeRecipient,
		MinParticipants: l.proto.MinParticipants,
		DailyLimit:      l.proto.DailyLimit,
	}
	for _, m := range l.markets {
		switch {
		case m.Resolved:
			stats.ResolvedMarkets++
		case m.Cancelled || m.Refunded:
			stats.CancelledMarkets++
		default:
			stats.OpenMarkets++
		}
		stats.TotalStakes += len(m.Participants)
	}
	for asset, fee := range l.proto.AccruedFees {
		stats.AccruedFees[asset] = fee
	}
	return stats
}

func (l *Ledger) ListFailedPayouts() []model.FailedPayout {
	out := make([]model.FailedPayout, 0, len(l.failed))
	for _, p := range l.failed {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
