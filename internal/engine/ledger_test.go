package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"parimutuel-engine/internal/model"
)

const unit = 1_000_000 // 6-decimal asset

var (
	bg = context.Background()
	t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type harness struct {
	t     *testing.T
	clock *ManualClock
	l     *Ledger
}

// newHarness builds a ledger on a manual clock with the native asset
// registered (limits 1 .. 1e6 tokens) and "treasury" as fee recipient.
func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{t: t, clock: NewManualClock(t0)}
	opts.Clock = h.clock
	if opts.Seeds == nil {
		opts.Seeds = FixedSeed{}
	}
	if opts.FeeRecipient == "" {
		opts.FeeRecipient = "treasury"
	}
	h.l = NewLedger(opts)
	if _, err := h.l.RegisterAsset(bg, model.NativeAsset, 1, 1_000_000*unit, 6, "ETH"); err != nil {
		t.Fatalf("register native: %v", err)
	}
	return h
}

func (h *harness) market(creator string, options, hours int) uint64 {
	h.t.Helper()
	labels := []string{"A", "B", "C", "D", "E"}[:options]
	id, err := h.l.CreateMarket(bg, "Will it happen?", labels, model.NativeAsset, hours, creator)
	if err != nil {
		h.t.Fatalf("create market: %v", err)
	}
	return id
}

func (h *harness) fund(account string, amount uint64) {
	h.t.Helper()
	if err := h.l.Bank().Deposit(bg, model.NativeAsset, account, amount); err != nil {
		h.t.Fatalf("deposit %s: %v", account, err)
	}
}

// stake funds the participant with exactly amount and stakes it.
func (h *harness) stake(id uint64, who string, option int, amount uint64) *model.Stake {
	h.t.Helper()
	h.fund(who, amount)
	st, err := h.l.Stake(bg, id, option, amount, who)
	if err != nil {
		h.t.Fatalf("stake %s: %v", who, err)
	}
	return st
}

func (h *harness) resolve(id uint64) *model.Market {
	h.t.Helper()
	m, err := h.l.Resolve(bg, id, "keeper")
	if err != nil {
		h.t.Fatalf("resolve %d: %v", id, err)
	}
	return m
}

func (h *harness) balance(account string) uint64 {
	h.t.Helper()
	b, err := h.l.Bank().Balance(bg, model.NativeAsset, account)
	if err != nil {
		h.t.Fatalf("balance %s: %v", account, err)
	}
	return b
}

func TestTwentyFourHourScenario(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.market("carol", 2, 24)

	alice := h.stake(id, "alice", 0, 100*unit)
	if alice.MultiplierBps != TierEarly || alice.WeightedAmount != 150*unit {
		t.Fatalf("alice: expected 1.5x weight 150, got %d bps weight %d", alice.MultiplierBps, alice.WeightedAmount)
	}

	h.clock.Advance(20 * time.Hour)
	bob := h.stake(id, "bob", 1, 200*unit)
	if bob.MultiplierBps != TierDefault || bob.WeightedAmount != 200*unit {
		t.Fatalf("bob: expected 1.0x weight 200, got %d bps weight %d", bob.MultiplierBps, bob.WeightedAmount)
	}

	h.clock.Advance(4 * time.Hour)
	m := h.resolve(id)
	if m.Outcome != model.OutcomeSingleWinner || m.WinningOption != 1 {
		t.Fatalf("expected option 1 to win outright, got %s/%d", m.Outcome, m.WinningOption)
	}
	if m.PlatformFee != 7_500_000 || m.CreatorReward != 1_500_000 {
		t.Fatalf("expected fee 7.5 and reward 1.5, got %d / %d", m.PlatformFee, m.CreatorReward)
	}

	payout, err := h.l.Claim(bg, id, "bob")
	if err != nil {
		t.Fatalf("bob claim: %v", err)
	}
	if payout != 291*unit {
		t.Fatalf("expected bob payout 291, got %s", model.FormatUnits(payout, 6))
	}
	if got, err := h.l.Claim(bg, id, "alice"); err != nil || got != 0 {
		t.Fatalf("expected alice to claim 0, got %d err=%v", got, err)
	}
	if h.balance("bob") != 291*unit || h.balance("alice") != 0 {
		t.Fatalf("unexpected balances bob=%d alice=%d", h.balance("bob"), h.balance("alice"))
	}

	vol, err := h.l.GetAssetVolume(model.NativeAsset)
	if err != nil || vol != 300*unit {
		t.Fatalf("expected volume 300, got %d err=%v", vol, err)
	}
}

func TestFundConservation(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.market("carol", 3, 48)

	type entry struct {
		who    string
		option int
		amount uint64
		at     time.Duration
	}
	entries := []entry{
		{"a", 0, 100*unit + 1, 0},
		{"b", 0, 37*unit + 3, 6 * time.Hour},
		{"c", 1, 120 * unit, 10 * time.Hour},
		{"d", 2, 55*unit + 7, 20 * time.Hour},
		{"e", 0, 13*unit + 11, 40 * time.Hour},
	}
	var funded uint64
	for _, e := range entries {
		h.clock.Set(t0.Add(e.at))
		h.stake(id, e.who, e.option, e.amount)
		funded += e.amount
	}

	h.clock.Set(t0.Add(48 * time.Hour))
	m := h.resolve(id)
	if m.WinningOption != 0 {
		t.Fatalf("expected option 0 to win, got %d", m.WinningOption)
	}
	if m.PlatformFee+m.CreatorReward+m.Distributable() != m.TotalPool {
		t.Fatalf("fee split does not sum to pool")
	}

	for _, e := range entries {
		if _, err := h.l.Claim(bg, id, e.who); err != nil {
			t.Fatalf("claim %s: %v", e.who, err)
		}
	}
	if _, err := h.l.ClaimCreatorReward(bg, id, "carol"); err != nil {
		t.Fatalf("creator reward: %v", err)
	}
	if _, err := h.l.WithdrawFees(bg, model.NativeAsset); err != nil {
		t.Fatalf("withdraw fees: %v", err)
	}

	m, _ = h.l.GetMarket(id)
	if m.Disbursed != m.Distributable() {
		t.Fatalf("disbursed %d, distributable %d", m.Disbursed, m.Distributable())
	}

	var total uint64
	for _, acct := range []string{"a", "b", "c", "d", "e", "carol", "treasury", model.EscrowAccount} {
		total += h.balance(acct)
	}
	if total != funded {
		t.Fatalf("funds not conserved: funded %d, now %d", funded, total)
	}
	if left := h.balance(model.EscrowAccount); left != 0 {
		t.Fatalf("expected empty escrow, %d left", left)
	}
}

func TestDustSweptToFees(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.market("carol", 2, 24)
	winners := []string{"a", "b", "c"}
	for _, who := range winners {
		h.stake(id, who, 0, unit)
	}
	h.stake(id, "d", 1, unit)
	h.clock.Advance(24 * time.Hour)
	m := h.resolve(id)

	// 4 units less 2.5% and 0.5% leaves 3.88 for three equal winners.
	if m.PlatformFee != 100_000 || m.Distributable() != 3_880_000 {
		t.Fatalf("unexpected split fee=%d distributable=%d", m.PlatformFee, m.Distributable())
	}
	for i, who := range winners {
		paid, err := h.l.Claim(bg, id, who)
		if err != nil || paid != 1_293_333 {
			t.Fatalf("claim %s: %d %v", who, paid, err)
		}
		want := m.PlatformFee
		if i == len(winners)-1 {
			want++
		}
		if got := h.l.GetProtocolStats().AccruedFees[model.NativeAsset]; got != want {
			t.Fatalf("after %s claimed: accrued %d, want %d", who, got, want)
		}
	}
	if _, err := h.l.Claim(bg, id, "d"); err != nil {
		t.Fatalf("loser claim: %v", err)
	}
	m, _ = h.l.GetMarket(id)
	if m.Disbursed != m.Distributable() {
		t.Fatalf("disbursed %d, distributable %d", m.Disbursed, m.Distributable())
	}

	if _, err := h.l.ClaimCreatorReward(bg, id, "carol"); err != nil {
		t.Fatalf("creator reward: %v", err)
	}
	swept, err := h.l.WithdrawFees(bg, model.NativeAsset)
	if err != nil || swept != 100_001 {
		t.Fatalf("withdraw: %d %v", swept, err)
	}
	if left := h.balance(model.EscrowAccount); left != 0 {
		t.Fatalf("expected empty escrow, %d left", left)
	}
}

func TestNoDoublePayout(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.market("carol", 2, 24)
	h.stake(id, "alice", 0, 10*unit)
	h.stake(id, "bob", 0, 10*unit)
	h.stake(id, "dan", 1, 5*unit)
	h.clock.Advance(24 * time.Hour)
	h.resolve(id)

	first, err := h.l.Claim(bg, id, "alice")
	if err != nil || first == 0 {
		t.Fatalf("first claim: %d %v", first, err)
	}
	if _, err := h.l.Claim(bg, id, "alice"); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
	if _, err := h.l.Claim(bg, id, "dan"); err != nil {
		t.Fatalf("loser claim: %v", err)
	}
	if _, err := h.l.Claim(bg, id, "dan"); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected loser second claim ErrAlreadyClaimed, got %v", err)
	}
	if h.balance("alice") != first {
		t.Fatalf("expected alice balance %d, got %d", first, h.balance("alice"))
	}
	if _, err := h.l.Claim(bg, id, "nobody"); !errors.Is(err, ErrNoStakeFound) {
		t.Fatalf("expected ErrNoStakeFound, got %v", err)
	}
}

func TestDegenerateOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		minPart  int
		stakers  []string
		outcome  model.Outcome
		refunded bool
	}{
		{"no participants", 0, nil, model.OutcomeNoParticipants, false},
		{"single participant", 0, []string{"alice"}, model.OutcomeSingleParticipant, true},
		{"below threshold", 3, []string{"alice", "bob"}, model.OutcomeBelowThreshold, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{MinParticipants: tt.minPart})
			id := h.market("carol", 2, 24)
			for i, who := range tt.stakers {
				h.stake(id, who, i%2, uint64(i+1)*unit)
			}
			h.clock.Advance(24 * time.Hour)
			m := h.resolve(id)

			if m.Outcome != tt.outcome {
				t.Fatalf("expected %s, got %s", tt.outcome, m.Outcome)
			}
			if m.Resolved || m.Refunded != tt.refunded || m.Cancelled == tt.refunded {
				t.Fatalf("unexpected flags resolved=%v cancelled=%v refunded=%v", m.Resolved, m.Cancelled, m.Refunded)
			}
			if m.PlatformFee != 0 || m.CreatorReward != 0 || m.WinningOption != -1 {
				t.Fatalf("expected no fees and no winner, got fee=%d reward=%d winner=%d", m.PlatformFee, m.CreatorReward, m.WinningOption)
			}
			for i, who := range tt.stakers {
				got, err := h.l.Claim(bg, id, who)
				if err != nil {
					t.Fatalf("refund %s: %v", who, err)
				}
				if want := uint64(i+1) * unit; got != want || h.balance(who) != want {
					t.Fatalf("expected %s refund %d, got %d (balance %d)", who, want, got, h.balance(who))
				}
			}
			if h.balance(model.EscrowAccount) != 0 {
				t.Fatalf("expected empty escrow, got %d", h.balance(model.EscrowAccount))
			}
			if got, err := h.l.ClaimCreatorReward(bg, id, "carol"); err != nil || got != 0 {
				t.Fatalf("expected zero creator reward, got %d err=%v", got, err)
			}
		})
	}
}

func TestResolveTiming(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.market("carol", 2, 24)
	h.stake(id, "alice", 0, unit)
	h.stake(id, "bob", 1, 2*unit)

	h.clock.Advance(24*time.Hour - time.Nanosecond)
	if _, err := h.l.Resolve(bg, id, "keeper"); !errors.Is(err, ErrMarketNotYetClosed) {
		t.Fatalf("expected ErrMarketNotYetClosed, got %v", err)
	}
	if _, err := h.l.Claim(bg, id, "bob"); !errors.Is(err, ErrNotResolved) {
		t.Fatalf("expected ErrNotResolved, got %v", err)
	}

	h.clock.Advance(time.Nanosecond)
	if _, err := h.l.Stake(bg, id, 0, unit, "late"); !errors.Is(err, ErrMarketClosed) {
		t.Fatalf("expected stake at end time to be closed, got %v", err)
	}
	first := h.resolve(id)

	h.clock.Advance(time.Hour)
	if _, err := h.l.Resolve(bg, id, "someone-else"); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
	again, _ := h.l.GetMarket(id)
	if again.WinningOption != first.WinningOption || again.PlatformFee != first.PlatformFee ||
		!again.ResolvedAt.Equal(*first.ResolvedAt) {
		t.Fatalf("second resolve changed state")
	}
	if stats := h.l.GetProtocolStats(); stats.AccruedFees[model.NativeAsset] != first.PlatformFee {
		t.Fatalf("fee accrued twice: %d", stats.AccruedFees[model.NativeAsset])
	}
	if _, err := h.l.Resolve(bg, 99, "keeper"); !errors.Is(err, ErrMarketNotFound) {
		t.Fatalf("expected ErrMarketNotFound, got %v", err)
	}
}

func TestStakeValidation(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.market("carol", 2, 24)
	h.stake(id, "alice", 0, unit)

	tests := []struct {
		name   string
		market uint64
		who    string
		option int
		amount uint64
		want   error
	}{
		{"unknown market", 42, "bob", 0, unit, ErrMarketNotFound},
		{"empty account", id, "", 0, unit, ErrInvalidAccount},
		{"escrow account", id, model.EscrowAccount, 0, unit, ErrInvalidAccount},
		{"negative option", id, "bob", -1, unit, ErrInvalidOption},
		{"option past count", id, "bob", 2, unit, ErrInvalidOption},
		{"duplicate", id, "alice", 1, unit, ErrAlreadyStaked},
		{"below min", id, "bob", 0, 0, ErrAmountOutOfRange},
		{"above max", id, "bob", 0, 1_000_000*unit + 1, ErrAmountOutOfRange},
		{"unfunded", id, "pauper", 0, unit, ErrInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.l.Stake(bg, tt.market, tt.option, tt.amount, tt.who); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	m, _ := h.l.GetMarket(id)
	if m.TotalPool != unit || len(m.Participants) != 1 {
		t.Fatalf("rejected stakes mutated market: pool=%d participants=%v", m.TotalPool, m.Participants)
	}

	if _, err := h.l.SetAccepted(bg, model.NativeAsset, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	h.fund("bob", unit)
	if _, err := h.l.Stake(bg, id, 0, unit, "bob"); !errors.Is(err, ErrAssetNotAccepted) {
		t.Fatalf("expected ErrAssetNotAccepted, got %v", err)
	}
}

func TestCreateMarketValidation(t *testing.T) {
	h := newHarness(t, Options{})
	ok := []string{"yes", "no"}
	tests := []struct {
		name     string
		question string
		options  []string
		asset    string
		hours    int
		creator  string
		want     error
	}{
		{"blank question", "  ", ok, model.NativeAsset, 24, "carol", ErrInvalidQuestion},
		{"no creator", "q", ok, model.NativeAsset, 24, "", ErrInvalidAccount},
		{"unknown asset", "q", ok, "0x00000000000000000000000000000000000000aa", 24, "carol", ErrAssetNotAccepted},
		{"one option", "q", []string{"only"}, model.NativeAsset, 24, "carol", ErrInvalidOptionCount},
		{"six options", "q", []string{"a", "b", "c", "d", "e", "f"}, model.NativeAsset, 24, "carol", ErrInvalidOptionCount},
		{"blank label", "q", []string{"a", " "}, model.NativeAsset, 24, "carol", ErrInvalidOptions},
		{"duplicate label", "q", []string{"a", "a"}, model.NativeAsset, 24, "carol", ErrInvalidOptions},
		{"too short", "q", ok, model.NativeAsset, 23, "carol", ErrInvalidDuration},
		{"too long", "q", ok, model.NativeAsset, 97, "carol", ErrInvalidDuration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.l.CreateMarket(bg, tt.question, tt.options, tt.asset, tt.hours, tt.creator); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if n := len(h.l.ListMarkets()); n != 0 {
		t.Fatalf("expected no markets, got %d", n)
	}

	for _, hours := range []int{24, 96} {
		id, err := h.l.CreateMarket(bg, "edge", ok, model.NativeAsset, hours, "carol")
		if err != nil {
			t.Fatalf("duration %d: %v", hours, err)
		}
		m, _ := h.l.GetMarket(id)
		if !m.EndTime.Equal(t0.Add(time.Duration(hours) * time.Hour)) {
			t.Fatalf("unexpected end time %v", m.EndTime)
		}
	}
}

func TestDailyLimitResets(t *testing.T) {
	h := newHarness(t, Options{DailyLimit: 2})
	h.market("carol", 2, 24)
	h.clock.Advance(time.Hour)
	h.market("carol", 2, 24)

	if _, err := h.l.CreateMarket(bg, "q", []string{"a", "b"}, model.NativeAsset, 24, "carol"); !errors.Is(err, ErrDailyLimitExceeded) {
		t.Fatalf("expected ErrDailyLimitExceeded, got %v", err)
	}
	// A rejected request does not consume the window.
	if _, err := h.l.CreateMarket(bg, "", []string{"a", "b"}, model.NativeAsset, 24, "carol"); !errors.Is(err, ErrInvalidQuestion) {
		t.Fatalf("expected ErrInvalidQuestion, got %v", err)
	}

	h.clock.Set(t0.Add(24 * time.Hour))
	id := h.market("carol", 2, 24)
	if id != 3 {
		t.Fatalf("expected market id 3, got %d", id)
	}

	if err := h.l.SetDailyLimit(bg, 5); err != nil {
		t.Fatalf("set daily limit: %v", err)
	}
	h.market("carol", 2, 24)
}

func TestClockNeverMovesBackward(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.market("carol", 2, 24)
	h.clock.Advance(5 * time.Hour)
	h.stake(id, "alice", 0, unit)

	h.clock.Set(t0)
	st := h.stake(id, "bob", 1, unit)
	if !st.Timestamp.Equal(t0.Add(5 * time.Hour)) {
		t.Fatalf("expected clamped timestamp, got %v", st.Timestamp)
	}
	if st.MultiplierBps != TierMid {
		t.Fatalf("expected mid tier after clamp, got %d", st.MultiplierBps)
	}
}

func TestListStakesInParticipantOrder(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.market("carol", 3, 24)
	for i, who := range []string{"zed", "amy", "kim"} {
		h.stake(id, who, i, unit)
	}
	stakes, err := h.l.ListStakes(id)
	if err != nil {
		t.Fatalf("list stakes: %v", err)
	}
	if len(stakes) != 3 || stakes[0].Participant != "zed" || stakes[2].Participant != "kim" {
		t.Fatalf("unexpected order: %+v", stakes)
	}
	if _, err := h.l.GetStake(id, "nobody"); !errors.Is(err, ErrNoStakeFound) {
		t.Fatalf("expected ErrNoStakeFound, got %v", err)
	}
	if _, err := h.l.ListStakes(7); !errors.Is(err, ErrMarketNotFound) {
		t.Fatalf("expected ErrMarketNotFound, got %v", err)
	}
}
