package engine

import (
	"context"

	"parimutuel-engine/internal/model"
)

// Event is a committed state change, published to subscribers and appended
// to the event log.
type Event struct {
	MarketID *uint64
	Type     string
	Data     any
}

type StakeKey struct {
	MarketID    uint64
	Participant string
}

// Changes lists what an operation touched since the last TakeChanges call.
type Changes struct {
	Assets         []string
	Markets        []uint64
	Stakes         []StakeKey
	Protocol       bool
	Payouts        []string
	ClearedPayouts []string
	Events         []Event
}

func (c *Changes) Empty() bool {
	return len(c.Assets) == 0 && len(c.Markets) == 0 && len(c.Stakes) == 0 && !c.Protocol &&
		len(c.Payouts) == 0 && len(c.ClearedPayouts) == 0 && len(c.Events) == 0
}

// TakeChanges returns and resets the pending change set.
func (l *Ledger) TakeChanges() Changes {
	c := l.changes
	l.changes = Changes{}
	return c
}

func (l *Ledger) touchAsset(id string) { l.changes.Assets = appendUnique(l.changes.Assets, id) }
func (l *Ledger) touchMarket(id uint64) { l.changes.Markets = appendUnique(l.changes.Markets, id) }
func (l *Ledger) touchStake(k StakeKey) { l.changes.Stakes = appendUnique(l.changes.Stakes, k) }
func (l *Ledger) touchProtocol() { l.changes.Protocol = true }

// A payout id is either upserted or deleted by one commit, never both.
func (l *Ledger) touchPayout(id string) {
	l.changes.ClearedPayouts = remove(l.changes.ClearedPayouts, id)
	l.changes.Payouts = appendUnique(l.changes.Payouts, id)
}

func (l *Ledger) clearPayout(id string) {
	l.changes.Payouts = remove(l.changes.Payouts, id)
	l.changes.ClearedPayouts = appendUnique(l.changes.ClearedPayouts, id)
}

// requeue merges a change set that failed to commit back into the pending
// one. Events are not merged.
func (l *Ledger) requeue(c Changes) {
	for _, id := range c.Assets {
		l.touchAsset(id)
	}
	for _, id := range c.Markets {
		l.touchMarket(id)
	}
	for _, k := range c.Stakes {
		l.touchStake(k)
	}
	if c.Protocol {
		l.touchProtocol()
	}
	for _, id := range c.Payouts {
		if _, ok := l.failed[id]; ok {
			l.touchPayout(id)
		}
	}
	for _, id := range c.ClearedPayouts {
		if _, ok := l.failed[id]; !ok {
			l.clearPayout(id)
		}
	}
}

// commitPending runs the checkpoint, if any.
func (l *Ledger) commitPending(ctx context.Context) error {
	if l.checkpoint == nil {
		return nil
	}
	return l.checkpoint(ctx)
}

func (l *Ledger) emit(marketID *uint64, typ string, data any) {
	l.changes.Events = append(l.changes.Events, Event{MarketID: marketID, Type: typ, Data: data})
}

func remove[T comparable](s []T, v T) []T {
	for i, x := range s {
		if x == v {
			return append(s[:i:i], s[i+1:]...)
		}
	}
	return s
}

func appendUnique[T comparable](s []T, v T) []T {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

// Snapshot is the full persisted state of a ledger.
type Snapshot struct {
	Assets   []model.AssetConfig
	Markets  []*model.Market
	Stakes   []model.Stake
	Protocol model.ProtocolState
	Payouts  []model.FailedPayout
}

// Restore replaces the ledger's state with a snapshot. Claim flags travel on
// the markets.
func (l *Ledger) Restore(s *Snapshot) {
	l.assets = make(map[string]*model.AssetConfig, len(s.Assets))
	for i := range s.Assets {
		a := s.Assets[i]
		l.assets[a.ID] = &a
	}
	l.markets = make(map[uint64]*model.Market, len(s.Markets))
	l.stakes = make(map[uint64]map[string]*model.Stake, len(s.Markets))
	for _, m := range s.Markets {
		mc := m.Clone()
		l.markets[mc.ID] = mc
		l.stakes[mc.ID] = make(map[string]*model.Stake)
	}
	for i := range s.Stakes {
		st := s.Stakes[i]
		if byMarket, ok := l.stakes[st.MarketID]; ok {
			byMarket[st.Participant] = &st
		}
	}
	// Unset protocol fields keep the ledger's configured values.
	proto := s.Protocol
	if proto.NextMarketID == 0 {
		proto.NextMarketID = 1
	}
	if proto.FeeRecipient == "" {
		proto.FeeRecipient = l.proto.FeeRecipient
	}
	if proto.MinParticipants < model.DefaultMinStakers {
		proto.MinParticipants = l.proto.MinParticipants
	}
	if proto.DailyLimit < 1 {
		proto.DailyLimit = l.proto.DailyLimit
	}
	if proto.AccruedFees == nil {
		proto.AccruedFees = make(map[string]uint64)
	}
	l.proto = proto
	for id := range l.markets {
		if id >= l.proto.NextMarketID {
			l.proto.NextMarketID = id + 1
		}
	}
	l.failed = make(map[string]*model.FailedPayout, len(s.Payouts))
	for i := range s.Payouts {
		p := s.Payouts[i]
		l.failed[p.ID] = &p
	}
	l.changes = Changes{}
}

// Export builds snapshot records for the given change set.
func (l *Ledger) Export(c Changes) *Snapshot {
	s := &Snapshot{Protocol: l.protocolCopy()}
	for _, id := range c.Assets {
		if a, ok := l.assets[id]; ok {
			s.Assets = append(s.Assets, *a)
		}
	}
	for _, id := range c.Markets {
		if m, ok := l.markets[id]; ok {
			s.Markets = append(s.Markets, m.Clone())
		}
	}
	for _, k := range c.Stakes {
		if st, ok := l.stakes[k.MarketID][k.Participant]; ok {
			s.Stakes = append(s.Stakes, *st)
		}
	}
	for _, id := range c.Payouts {
		if p, ok := l.failed[id]; ok {
			s.Payouts = append(s.Payouts, *p)
		}
	}
	return s
}

func (l *Ledger) protocolCopy() model.ProtocolState {
	p := l.proto
	p.AccruedFees = make(map[string]uint64, len(l.proto.AccruedFees))
	for k, v := range l.proto.AccruedFees {
		p.AccruedFees[k] = v
	}
	return p
}
