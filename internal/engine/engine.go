package engine

import (
	"context"
	"log"

	"parimutuel-engine/internal/model"
)

// PublishFunc broadcasts a WS message. marketID is nil for protocol-wide
// events.
type PublishFunc func(marketID *uint64, msgType string, data any)

// Journal persists ledger state. Commit receives the records touched by one
// operation together with the events it emitted.
type Journal interface {
	Load(ctx context.Context) (*Snapshot, error)
	Commit(ctx context.Context, s *Snapshot, c Changes) error
}

// ── Engine ───────────────────────────────────────────

// Engine serializes every ledger operation through one goroutine. Each
// public method sends a command and waits for its reply.
type Engine struct {
	ledger  *Ledger
	journal Journal
	publish PublishFunc
	cmdCh   chan command
	stopped chan struct{}
	held    []Event
}

type command func()

func New(ledger *Ledger, journal Journal, pub PublishFunc) *Engine {
	e := &Engine{
		ledger:  ledger,
		journal: journal,
		publish: pub,
		cmdCh:   make(chan command, 64),
		stopped: make(chan struct{}),
	}
	ledger.checkpoint = e.persist
	return e
}

// Boot restores the ledger from the journal. Call before Start.
func (e *Engine) Boot(ctx context.Context) error {
	if e.journal == nil {
		return nil
	}
	snap, err := e.journal.Load(ctx)
	if err != nil {
		return err
	}
	if snap == nil {
		return nil
	}
	e.ledger.Restore(snap)
	log.Printf("[engine] booted %d assets, %d markets, %d stakes, %d failed payouts",
		len(snap.Assets), len(snap.Markets), len(snap.Stakes), len(snap.Payouts))
	return nil
}

// Start runs the command loop until ctx is done.
func (e *Engine) Start(ctx context.Context) {
	go e.run(ctx)
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-e.cmdCh:
			cmd()
		}
	}
}

// persist journals the pending change set. Its events are held until the
// command finishes. On failure the records stay pending for the next try.
func (e *Engine) persist(ctx context.Context) error {
	c := e.ledger.TakeChanges()
	if c.Empty() {
		return nil
	}
	e.held = append(e.held, c.Events...)
	if e.journal == nil {
		return nil
	}
	if err := e.journal.Commit(ctx, e.ledger.Export(c), c); err != nil {
		c.Events = nil
		e.ledger.requeue(c)
		return err
	}
	return nil
}

// flush journals and publishes whatever the last command changed.
func (e *Engine) flush(ctx context.Context) {
	if err := e.persist(ctx); err != nil {
		log.Printf("[engine] journal commit failed: %v", err)
	}
	events := e.held
	e.held = nil
	if e.publish != nil {
		for _, ev := range events {
			e.publish(ev.MarketID, ev.Type, ev.Data)
		}
	}
}

// do runs fn on the engine goroutine. A cancelled ctx only aborts the wait
// to enqueue; once accepted the command runs to completion on a detached
// context.
func do[T any](ctx context.Context, e *Engine, fn func(ctx context.Context, l *Ledger) (T, error)) (T, error) {
	type reply struct {
		v   T
		err error
	}
	var zero T
	ch := make(chan reply, 1)
	detached := context.WithoutCancel(ctx)
	cmd := func() {
		v, err := fn(detached, e.ledger)
		e.flush(detached)
		ch <- reply{v, err}
	}
	select {
	case e.cmdCh <- cmd:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-e.stopped:
		return zero, ErrEngineStopped
	}
	select {
	case r := <-ch:
		return r.v, r.err
	case <-e.stopped:
		return zero, ErrEngineStopped
	}
}

func read[T any](ctx context.Context, e *Engine, fn func(l *Ledger) T) (T, error) {
	return do(ctx, e, func(ctx context.Context, l *Ledger) (T, error) { return fn(l), nil })
}

// ── Asset Registry ───────────────────────────────────

func (e *Engine) RegisterAsset(ctx context.Context, asset string, minStake, maxStake uint64, decimals uint8, symbol string) (*model.AssetConfig, error) {
	return do(ctx, e, func(ctx context.Context, l *Ledger) (*model.AssetConfig, error) {
		return l.RegisterAsset(ctx, asset, minStake, maxStake, decimals, symbol)
	})
}

func (e *Engine) UpdateLimits(ctx context.Context, asset string, minStake, maxStake uint64) (*model.AssetConfig, error) {
	return do(ctx, e, func(ctx context.Context, l *Ledger) (*model.AssetConfig, error) {
		return l.UpdateLimits(ctx, asset, minStake, maxStake)
	})
}

// UpdateAsset applies limit and accepted changes together or not at all.
func (e *Engine) UpdateAsset(ctx context.Context, asset string, upd model.AssetUpdate) (*model.AssetConfig, error) {
	return do(ctx, e, func(ctx context.Context, l *Ledger) (*model.AssetConfig, error) {
		return l.UpdateAsset(ctx, asset, upd)
	})
}

// EnsureAsset registers an asset the ledger has never seen. created is
// false for a known asset, whose stored settings are left untouched.
func (e *Engine) EnsureAsset(ctx context.Context, asset string, minStake, maxStake uint64, decimals uint8, symbol string) (cfg *model.AssetConfig, created bool, err error) {
	type result struct {
		cfg     *model.AssetConfig
		created bool
	}
	r, err := do(ctx, e, func(ctx context.Context, l *Ledger) (result, error) {
		cfg, created, err := l.EnsureAsset(ctx, asset, minStake, maxStake, decimals, symbol)
		return result{cfg, created}, err
	})
	return r.cfg, r.created, err
}

func (e *Engine) SetAccepted(ctx context.Context, asset string, accepted bool) (*model.AssetConfig, error) {
	return do(ctx, e, func(ctx context.Context, l *Ledger) (*model.AssetConfig, error) {
		return l.SetAccepted(ctx, asset, accepted)
	})
}

func (e *Engine) GetAsset(ctx context.Context, asset string) (*model.AssetConfig, error) {
	return do(ctx, e, func(ctx context.Context, l *Ledger) (*model.AssetConfig, error) { return l.GetAsset(asset) })
}

func (e *Engine) ListAssets(ctx context.Context) ([]model.AssetConfig, error) {
	return read(ctx, e, func(l *Ledger) []model.AssetConfig { return l.ListAssets() })
}

func (e *Engine) GetAssetVolume(ctx context.Context, asset string) (uint64, error) {
	return do(ctx, e, func(ctx context.Context, l *Ledger) (uint64, error) { return l.GetAssetVolume(asset) })
}

// ── Markets ──────────────────────────────────────────

func (e *Engine) CreateMarket(ctx context.Context, creator string, req model.CreateMarketReq) (*model.Market, error) {
	return do(ctx, e, func(ctx context.Context, l *Ledger) (*model.Market, error) {
		id, err := l.CreateMarket(ctx, req.Question, req.Options, req.Asset, req.DurationHours, creator)
		if err != nil {
			return nil, err
		}
		return l.GetMarket(id)
	})
}

func (e *Engine) Stake(ctx context.Context, marketID uint64, participant string, req model.StakeReq) (*model.Stake, error) {
	return do(ctx, e, func(ctx context.Context, l *Ledger) (*model.Stake, error) {
		return l.Stake(ctx, marketID, req.Option, req.Amount, participant)
	})
}

func (e *Engine) Resolve(ctx context.Context, marketID uint64, resolver string) (*model.Market, error) {
	return do(ctx, e, func(ctx context.Context, l *Ledger) (*model.Market, error) { return l.Resolve(ctx, marketID, resolver) })
}

func (e *Engine) GetMarket(ctx context.Context, marketID uint64) (*model.Market, error) {
	return do(ctx, e, func(ctx context.Context, l *Ledger) (*model.Market, error) { return l.GetMarket(marketID) })
}

func (e *Engine) ListMarkets(ctx context.Context) ([]*model.Market, error) {
	return read(ctx, e, func(l *Ledger) []*model.Market { return l.ListMarkets() })
}

func (e *Engine) GetStake(ctx context.Context, marketID uint64, participant string) (*model.Stake, error) {
	return do(ctx, e, func(ctx context.Context, l *Ledger) (*model.Stake, error) { return l.GetStake(marketID, participant) })
}

func (e *Engine) ListStakes(ctx context.Context, marketID uint64) ([]model.Stake, error) {
	return do(ctx, e, func(ctx context.Context, l *Ledger) ([]model.Stake, error) { return l.ListStakes(marketID) })
}

func (e *Engine) GetTimeMultiplier(ctx context.Context, marketID uint64) (uint64, error) {
	return do(ctx, e, func(ctx context.Context, l *Ledger) (uint64, error) { return l.GetTimeMultiplier(marketID) })
}

// ── Claims ───────────────────────────────────────────

func (e *Engine) Claim(ctx context.Context, marketID uint64, participant string) (uint64, error) {
	return do(ctx, e, func(ctx context.Context, l *Ledger) (uint64, error) { return l.Claim(ctx, marketID, participant) })
}

func (e *Engine) BatchClaim(ctx context.Context, marketIDs []uint64, participant string) (model.BatchClaimResult, error) {
	return do(ctx, e, func(ctx context.Context, l *Ledger) (model.BatchClaimResult, error) {
		return l.BatchClaim(ctx, marketIDs, participant)
	})
}

func (e *Engine) ClaimCreatorReward(ctx context.Context, marketID uint64, creator string) (uint64, error) {
	return do(ctx, e, func(ctx context.Context, l *Ledger) (uint64, error) { return l.ClaimCreatorReward(ctx, marketID, creator) })
}

func (e *Engine) WithdrawFees(ctx context.Context, asset string) (uint64, error) {
	return do(ctx, e, func(ctx context.Context, l *Ledger) (uint64, error) { return l.WithdrawFees(ctx, asset) })
}

func (e *Engine) RetryPayout(ctx context.Context, payoutID string) (*model.FailedPayout, error) {
	return do(ctx, e, func(ctx context.Context, l *Ledger) (*model.FailedPayout, error) { return l.RetryPayout(ctx, payoutID) })
}

func (e *Engine) ListFailedPayouts(ctx context.Context) ([]model.FailedPayout, error) {
	return read(ctx, e, func(l *Ledger) []model.FailedPayout { return l.ListFailedPayouts() })
}

// ── Admin ────────────────────────────────────────────

func (e *Engine) SetFeeRecipient(ctx context.Context, recipient string) error {
	_, err := do(ctx, e, func(ctx context.Context, l *Ledger) (struct{}, error) { return struct{}{}, l.SetFeeRecipient(ctx, recipient) })
	return err
}

func (e *Engine) SetMinParticipants(ctx context.Context, n int) error {
	_, err := do(ctx, e, func(ctx context.Context, l *Ledger) (struct{}, error) { return struct{}{}, l.SetMinParticipants(ctx, n) })
	return err
}

func (e *Engine) SetDailyLimit(ctx context.Context, n int) error {
	_, err := do(ctx, e, func(ctx context.Context, l *Ledger) (struct{}, error) { return struct{}{}, l.SetDailyLimit(ctx, n) })
	return err
}

func (e *Engine) GetProtocolStats(ctx context.Context) (model.ProtocolStats, error) {
	return read(ctx, e, func(l *Ledger) model.ProtocolStats { return l.GetProtocolStats() })
}

// ── Custody ──────────────────────────────────────────

func (e *Engine) Deposit(ctx context.Context, asset, account string, amount uint64) error {
	_, err := do(ctx, e, func(ctx context.Context, l *Ledger) (struct{}, error) { return struct{}{}, l.Deposit(ctx, asset, account, amount) })
	return err
}

func (e *Engine) Balance(ctx context.Context, asset, account string) (uint64, error) {
	return do(ctx, e, func(ctx context.Context, l *Ledger) (uint64, error) {
		id, err := NormalizeAsset(asset)
		if err != nil {
			return 0, err
		}
		return l.Bank().Balance(ctx, id, account)
	})
}
