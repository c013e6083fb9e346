package model

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// ── Limits ───────────────────────────────────────────

const (
	MinOptions = 2
	MaxOptions = 5

	MinDurationHours = 24
	MaxDurationHours = 96

	BpsDenominator    = 10000
	PlatformFeeBps    = 250 // 2.5%
	CreatorRewardBps  = 50  // 0.5%
	DefaultMinStakers = 2
	DefaultDailyLimit = 100

	NativeAsset   = "native"
	EscrowAccount = "escrow"
)

// ── Enums ────────────────────────────────────────────

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Outcome is the terminal classification of a market. Every market starts
// OutcomeOpen and moves to exactly one of the others on resolution.
type Outcome string

const (
	OutcomeOpen              Outcome = "open"
	OutcomeNoParticipants    Outcome = "cancelled_no_participants"
	OutcomeSingleParticipant Outcome = "refunded_single_participant"
	OutcomeBelowThreshold    Outcome = "cancelled_below_threshold"
	OutcomeNoPool            Outcome = "cancelled_no_pool"
	OutcomeSingleWinner      Outcome = "resolved_single_winner"
	OutcomeTieBroken         Outcome = "resolved_tie_broken"
)

type PayoutKind string

const (
	PayoutClaim         PayoutKind = "claim"
	PayoutRefund        PayoutKind = "refund"
	PayoutCreatorReward PayoutKind = "creator_reward"
	PayoutFeeSweep      PayoutKind = "fee_sweep"
)

// ── Domain Objects ───────────────────────────────────

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

type Wallet struct {
	UserID  string `json:"user_id"`
	Asset   string `json:"asset"`
	Balance uint64 `json:"balance"`
}

// AssetConfig is one stakeable asset. Assets are never deleted; Accepted
// gates new markets and new stakes only.
type AssetConfig struct {
	ID          string `json:"id"`
	Accepted    bool   `json:"accepted"`
	MinStake    uint64 `json:"min_stake"`
	MaxStake    uint64 `json:"max_stake"`
	Decimals    uint8  `json:"decimals"`
	Symbol      string `json:"symbol"`
	TotalVolume uint64 `json:"total_volume"`
}

// Market is one pari-mutuel question. Options and both pool arrays are
// fixed-capacity; only the first OptionCount entries are meaningful.
type Market struct {
	ID          uint64             `json:"id"`
	Question    string             `json:"question"`
	Options     [MaxOptions]string `json:"-"`
	OptionCount int                `json:"option_count"`
	Asset       string             `json:"asset"`
	Creator     string             `json:"creator"`
	StartTime   time.Time          `json:"start_time"`
	EndTime     time.Time          `json:"end_time"`
	Cutoffs     [3]time.Time       `json:"cutoffs"`

	TotalPool          uint64             `json:"total_pool"`
	OptionPool         [MaxOptions]uint64 `json:"-"`
	WeightedOptionPool [MaxOptions]uint64 `json:"-"`

	Resolved             bool       `json:"resolved"`
	Cancelled            bool       `json:"cancelled"`
	Refunded             bool       `json:"refunded"`
	Outcome              Outcome    `json:"outcome"`
	WinningOption        int        `json:"winning_option"`
	PlatformFee          uint64     `json:"platform_fee"`
	CreatorReward        uint64     `json:"creator_reward"`
	CreatorRewardClaimed bool       `json:"creator_reward_claimed"`
	Disbursed            uint64     `json:"disbursed"`
	ResolvedAt           *time.Time `json:"resolved_at,omitempty"`

	Participants []string        `json:"participants"`
	Claims       map[string]bool `json:"-"`
}

// Terminal reports whether resolution has run, whatever the outcome.
func (m *Market) Terminal() bool { return m.Resolved || m.Cancelled || m.Refunded }

// Distributable is the pool left for winners once fees are set aside.
func (m *Market) Distributable() uint64 {
	return m.TotalPool - m.PlatformFee - m.CreatorReward
}

func (m *Market) OptionLabels() []string {
	return append([]string(nil), m.Options[:m.OptionCount]...)
}

func (m *Market) Pools() []uint64 {
	return append([]uint64(nil), m.OptionPool[:m.OptionCount]...)
}

func (m *Market) WeightedPools() []uint64 {
	return append([]uint64(nil), m.WeightedOptionPool[:m.OptionCount]...)
}

// Clone returns a deep copy safe to hand out of the engine.
func (m *Market) Clone() *Market {
	c := *m
	c.Participants = append([]string(nil), m.Participants...)
	c.Claims = make(map[string]bool, len(m.Claims))
	for k, v := range m.Claims {
		c.Claims[k] = v
	}
	if m.ResolvedAt != nil {
		t := *m.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

// Stake is a participant's single, immutable position in one market.
type Stake struct {
	MarketID       uint64    `json:"market_id"`
	Participant    string    `json:"participant"`
	Option         int       `json:"option"`
	RawAmount      uint64    `json:"raw_amount"`
	WeightedAmount uint64    `json:"weighted_amount"`
	MultiplierBps  uint64    `json:"multiplier_bps"`
	Timestamp      time.Time `json:"timestamp"`
}

type ProtocolStats struct {
	TotalMarkets     int               `json:"total_markets"`
	OpenMarkets      int               `json:"open_markets"`
	ResolvedMarkets  int               `json:"resolved_markets"`
	CancelledMarkets int               `json:"cancelled_markets"`
	TotalStakes      int               `json:"total_stakes"`
	AccruedFees      map[string]uint64 `json:"accrued_fees"`
	FeeRecipient     string            `json:"fee_recipient"`
	MinParticipants  int               `json:"min_participants"`
	DailyLimit       int               `json:"daily_limit"`
}

// ProtocolState is the admin-owned part of the ledger that is persisted
// alongside markets.
type ProtocolState struct {
	NextMarketID    uint64            `json:"next_market_id"`
	FeeRecipient    string            `json:"fee_recipient"`
	MinParticipants int               `json:"min_participants"`
	DailyLimit      int               `json:"daily_limit"`
	AccruedFees     map[string]uint64 `json:"accrued_fees"`
}

// FailedPayout is a credit that failed after the matching state change was
// committed. It stays queued until an operator retries it.
type FailedPayout struct {
	ID        string     `json:"id"`
	Kind      PayoutKind `json:"kind"`
	MarketID  uint64     `json:"market_id"`
	Asset     string     `json:"asset"`
	To        string     `json:"to"`
	Amount    uint64     `json:"amount"`
	Reason    string     `json:"reason"`
	CreatedAt time.Time  `json:"created_at"`
}

type EventLog struct {
	ID          int64     `json:"id"`
	MarketID    *uint64   `json:"market_id,omitempty"`
	Type        string    `json:"type"`
	PayloadJSON any       `json:"payload"`
	CreatedAt   time.Time `json:"created_at"`
}

// ── API Types ────────────────────────────────────────

type CreateMarketReq struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	Asset         string   `json:"asset"`
	DurationHours int      `json:"duration_hours"`
}

// AssetUpdate changes an asset's settings. Nil fields are left alone.
type AssetUpdate struct {
	MinStake *uint64 `json:"min_stake"`
	MaxStake *uint64 `json:"max_stake"`
	Accepted *bool   `json:"accepted"`
}

type StakeReq struct {
	Option int    `json:"option"`
	Amount uint64 `json:"amount"`
}

type ClaimResult struct {
	MarketID uint64 `json:"market_id"`
	Amount   uint64 `json:"amount"`
	Skipped  bool   `json:"skipped,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type BatchClaimResult struct {
	Total   uint64        `json:"total"`
	Results []ClaimResult `json:"results"`
}

// ── Amounts ──────────────────────────────────────────

// FormatUnits renders an integer base-unit amount with the asset's decimals,
// e.g. FormatUnits(291000000, 6) == "291".
func FormatUnits(amount uint64, decimals uint8) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(decimals)).String()
}

// ParseUnits converts a decimal string to base units, truncating any excess
// precision.
func ParseUnits(s string, decimals uint8) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", s)
	}
	units := d.Shift(int32(decimals)).BigInt()
	if !units.IsUint64() {
		return 0, fmt.Errorf("amount %s overflows base units", s)
	}
	return units.Uint64(), nil
}
