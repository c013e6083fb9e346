package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"parimutuel-engine/internal/engine"
	"parimutuel-engine/internal/model"
)

// Load reads the full ledger state. An empty database yields an empty
// snapshot.
func (s *Store) Load(ctx context.Context) (*engine.Snapshot, error) {
	snap := &engine.Snapshot{}
	var err error
	if snap.Assets, err = s.loadAssets(ctx); err != nil {
		return nil, fmt.Errorf("load assets: %w", err)
	}
	if snap.Markets, err = s.loadMarkets(ctx); err != nil {
		return nil, fmt.Errorf("load markets: %w", err)
	}
	byID := make(map[uint64]*model.Market, len(snap.Markets))
	for _, m := range snap.Markets {
		byID[m.ID] = m
	}
	if snap.Stakes, err = s.loadStakes(ctx, byID); err != nil {
		return nil, fmt.Errorf("load stakes: %w", err)
	}
	if snap.Protocol, err = s.loadProtocol(ctx); err != nil {
		return nil, fmt.Errorf("load protocol: %w", err)
	}
	if snap.Payouts, err = s.loadPayouts(ctx); err != nil {
		return nil, fmt.Errorf("load failed payouts: %w", err)
	}
	return snap, nil
}

// Commit writes one operation's touched records and events in a single
// transaction.
func (s *Store) Commit(ctx context.Context, snap *engine.Snapshot, c engine.Changes) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i := range snap.Assets {
		if err := upsertAsset(ctx, tx, &snap.Assets[i]); err != nil {
			return fmt.Errorf("asset %s: %w", snap.Assets[i].ID, err)
		}
	}
	for _, m := range snap.Markets {
		if err := upsertMarket(ctx, tx, m); err != nil {
			return fmt.Errorf("market %d: %w", m.ID, err)
		}
	}
	claimed := make(map[uint64]*model.Market, len(snap.Markets))
	for _, m := range snap.Markets {
		claimed[m.ID] = m
	}
	for i := range snap.Stakes {
		st := &snap.Stakes[i]
		flag := false
		if m, ok := claimed[st.MarketID]; ok {
			flag = m.Claims[st.Participant]
		}
		if err := upsertStake(ctx, tx, st, flag); err != nil {
			return fmt.Errorf("stake %d/%s: %w", st.MarketID, st.Participant, err)
		}
	}
	if c.Protocol {
		if err := upsertProtocol(ctx, tx, &snap.Protocol); err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
	}
	for i := range snap.Payouts {
		if err := upsertPayout(ctx, tx, &snap.Payouts[i]); err != nil {
			return fmt.Errorf("failed payout %s: %w", snap.Payouts[i].ID, err)
		}
	}
	if len(c.ClearedPayouts) > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM failed_payouts WHERE id = ANY($1)`,
			pq.Array(c.ClearedPayouts)); err != nil {
			return fmt.Errorf("clear payouts: %w", err)
		}
	}
	for _, ev := range c.Events {
		if err := AppendEvent(tx, ev.MarketID, ev.Type, ev.Data); err != nil {
			return fmt.Errorf("event %s: %w", ev.Type, err)
		}
	}
	return tx.Commit()
}

var _ engine.Journal = (*Store)(nil)

// ── Assets ───────────────────────────────────────────

func upsertAsset(ctx context.Context, tx *sql.Tx, a *model.AssetConfig) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO assets (id, accepted, min_stake, max_stake, decimals, symbol, total_volume)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (id) DO UPDATE SET accepted=$2, min_stake=$3, max_stake=$4,
		   decimals=$5, symbol=$6, total_volume=$7`,
		a.ID, a.Accepted, num(a.MinStake), num(a.MaxStake), a.Decimals, a.Symbol, num(a.TotalVolume))
	return err
}

func (s *Store) loadAssets(ctx context.Context) ([]model.AssetConfig, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, accepted, min_stake, max_stake, decimals, symbol, total_volume FROM assets ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.AssetConfig
	for rows.Next() {
		var a model.AssetConfig
		if err := rows.Scan(&a.ID, &a.Accepted, &a.MinStake, &a.MaxStake, &a.Decimals, &a.Symbol, &a.TotalVolume); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ── Markets ──────────────────────────────────────────

const marketCols = `id, question, options, asset, creator, start_time, end_time,
	cutoff_early, cutoff_mid, cutoff_late, total_pool, option_pools, weighted_pools,
	resolved, cancelled, refunded, outcome, winning_option, platform_fee, creator_reward,
	creator_reward_claimed, disbursed, resolved_at, participants`

func upsertMarket(ctx context.Context, tx *sql.Tx, m *model.Market) error {
	pools, err := json.Marshal(m.Pools())
	if err != nil {
		return err
	}
	weighted, err := json.Marshal(m.WeightedPools())
	if err != nil {
		return err
	}
	participants := m.Participants
	if participants == nil {
		participants = []string{}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO markets (`+marketCols+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
		 ON CONFLICT (id) DO UPDATE SET
		   total_pool=$11, option_pools=$12, weighted_pools=$13, resolved=$14, cancelled=$15,
		   refunded=$16, outcome=$17, winning_option=$18, platform_fee=$19, creator_reward=$20,
		   creator_reward_claimed=$21, disbursed=$22, resolved_at=$23, participants=$24`,
		int64(m.ID), m.Question, pq.Array(m.OptionLabels()), m.Asset, m.Creator, m.StartTime, m.EndTime,
		m.Cutoffs[0], m.Cutoffs[1], m.Cutoffs[2], num(m.TotalPool), pools, weighted,
		m.Resolved, m.Cancelled, m.Refunded, string(m.Outcome), m.WinningOption,
		num(m.PlatformFee), num(m.CreatorReward), m.CreatorRewardClaimed, num(m.Disbursed),
		m.ResolvedAt, pq.Array(participants))
	return err
}

func (s *Store) loadMarkets(ctx context.Context) ([]*model.Market, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+marketCols+` FROM markets ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Market
	for rows.Next() {
		m := &model.Market{Claims: make(map[string]bool)}
		var (
			id                int64
			options, parts    []string
			pools, weighted   []byte
			resolvedAt        sql.NullTime
			outcome           string
			poolVals, wtdVals []uint64
		)
		if err := rows.Scan(&id, &m.Question, pq.Array(&options), &m.Asset, &m.Creator,
			&m.StartTime, &m.EndTime, &m.Cutoffs[0], &m.Cutoffs[1], &m.Cutoffs[2],
			&m.TotalPool, &pools, &weighted, &m.Resolved, &m.Cancelled, &m.Refunded,
			&outcome, &m.WinningOption, &m.PlatformFee, &m.CreatorReward,
			&m.CreatorRewardClaimed, &m.Disbursed, &resolvedAt, pq.Array(&parts)); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(pools, &poolVals); err != nil {
			return nil, fmt.Errorf("market %d option_pools: %w", id, err)
		}
		if err := json.Unmarshal(weighted, &wtdVals); err != nil {
			return nil, fmt.Errorf("market %d weighted_pools: %w", id, err)
		}
		if len(options) > model.MaxOptions || len(poolVals) != len(options) || len(wtdVals) != len(options) {
			return nil, fmt.Errorf("market %d: %d options with %d/%d pools", id, len(options), len(poolVals), len(wtdVals))
		}
		m.ID = uint64(id)
		m.Outcome = model.Outcome(outcome)
		m.OptionCount = len(options)
		copy(m.Options[:], options)
		copy(m.OptionPool[:], poolVals)
		copy(m.WeightedOptionPool[:], wtdVals)
		m.Participants = parts
		if resolvedAt.Valid {
			t := resolvedAt.Time.UTC()
			m.ResolvedAt = &t
		}
		m.StartTime, m.EndTime = m.StartTime.UTC(), m.EndTime.UTC()
		for i := range m.Cutoffs {
			m.Cutoffs[i] = m.Cutoffs[i].UTC()
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ── Stakes ───────────────────────────────────────────

func upsertStake(ctx context.Context, tx *sql.Tx, st *model.Stake, claimed bool) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO stakes (market_id, participant, option, raw_amount, weighted_amount, multiplier_bps, staked_at, claimed)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (market_id, participant) DO UPDATE SET claimed=$8`,
		int64(st.MarketID), st.Participant, st.Option, num(st.RawAmount), num(st.WeightedAmount),
		int64(st.MultiplierBps), st.Timestamp, claimed)
	return err
}

// loadStakes also restores each market's claim flags.
func (s *Store) loadStakes(ctx context.Context, markets map[uint64]*model.Market) ([]model.Stake, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT market_id, participant, option, raw_amount, weighted_amount, multiplier_bps, staked_at, claimed
		 FROM stakes ORDER BY market_id, staked_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Stake
	for rows.Next() {
		var (
			st      model.Stake
			id      int64
			claimed bool
		)
		if err := rows.Scan(&id, &st.Participant, &st.Option, &st.RawAmount, &st.WeightedAmount,
			&st.MultiplierBps, &st.Timestamp, &claimed); err != nil {
			return nil, err
		}
		st.MarketID = uint64(id)
		st.Timestamp = st.Timestamp.UTC()
		if m, ok := markets[st.MarketID]; ok && claimed {
			m.Claims[st.Participant] = true
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ── Protocol ─────────────────────────────────────────

func upsertProtocol(ctx context.Context, tx *sql.Tx, p *model.ProtocolState) error {
	fees, err := json.Marshal(p.AccruedFees)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO protocol_state (id, next_market_id, fee_recipient, min_participants, daily_limit, accrued_fees)
		 VALUES (1,$1,$2,$3,$4,$5)
		 ON CONFLICT (id) DO UPDATE SET next_market_id=$1, fee_recipient=$2, min_participants=$3,
		   daily_limit=$4, accrued_fees=$5`,
		int64(p.NextMarketID), p.FeeRecipient, p.MinParticipants, p.DailyLimit, fees)
	return err
}

func (s *Store) loadProtocol(ctx context.Context) (model.ProtocolState, error) {
	var (
		p    model.ProtocolState
		next int64
		fees []byte
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT next_market_id, fee_recipient, min_participants, daily_limit, accrued_fees
		 FROM protocol_state WHERE id=1`,
	).Scan(&next, &p.FeeRecipient, &p.MinParticipants, &p.DailyLimit, &fees)
	if err == sql.ErrNoRows {
		return model.ProtocolState{}, nil
	}
	if err != nil {
		return p, err
	}
	p.NextMarketID = uint64(next)
	if err := json.Unmarshal(fees, &p.AccruedFees); err != nil {
		return p, fmt.Errorf("accrued_fees: %w", err)
	}
	return p, nil
}

// ── Failed Payouts ───────────────────────────────────

func upsertPayout(ctx context.Context, tx *sql.Tx, p *model.FailedPayout) error {
	var marketID *uint64
	if p.MarketID != 0 {
		marketID = &p.MarketID
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO failed_payouts (id, kind, market_id, asset, recipient, amount, reason, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (id) DO UPDATE SET reason=$7`,
		p.ID, string(p.Kind), nullID(marketID), p.Asset, p.To, num(p.Amount), p.Reason, p.CreatedAt)
	return err
}

func (s *Store) loadPayouts(ctx context.Context) ([]model.FailedPayout, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, kind, market_id, asset, recipient, amount, reason, created_at
		 FROM failed_payouts ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.FailedPayout
	for rows.Next() {
		var (
			p       model.FailedPayout
			kind    string
			mid     sql.NullInt64
			created time.Time
		)
		if err := rows.Scan(&p.ID, &kind, &mid, &p.Asset, &p.To, &p.Amount, &p.Reason, &created); err != nil {
			return nil, err
		}
		p.Kind = model.PayoutKind(kind)
		if mid.Valid {
			p.MarketID = uint64(mid.Int64)
		}
		p.CreatedAt = created.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}
