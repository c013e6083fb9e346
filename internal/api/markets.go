package api

import (
	"context"
	"encoding/json"
	"net/http"

	"parimutuel-engine/internal/model"
)

// marketView adds the option arrays and formatted amounts to a market.
type marketView struct {
	*model.Market
	Options       []string `json:"options"`
	OptionPools   []uint64 `json:"option_pools"`
	WeightedPools []uint64 `json:"weighted_pools"`
	Symbol        string   `json:"symbol"`
	TotalPoolFmt  string   `json:"total_pool_formatted"`
}

// amountView is a base-unit amount with its decimal rendering.
type amountView struct {
	MarketID  uint64 `json:"market_id,omitempty"`
	Asset     string `json:"asset"`
	Amount    uint64 `json:"amount"`
	Formatted string `json:"formatted"`
}

// assets caches asset configs for the duration of one request.
type assets map[string]*model.AssetConfig

func (s *Server) lookup(ctx context.Context, cache assets, id string) *model.AssetConfig {
	if a, ok := cache[id]; ok {
		return a
	}
	a, err := s.engine.GetAsset(ctx, id)
	if err != nil {
		a = &model.AssetConfig{ID: id}
	}
	cache[id] = a
	return a
}

func (s *Server) view(ctx context.Context, cache assets, m *model.Market) marketView {
	a := s.lookup(ctx, cache, m.Asset)
	return marketView{
		Market:        m,
		Options:       m.OptionLabels(),
		OptionPools:   m.Pools(),
		WeightedPools: m.WeightedPools(),
		Symbol:        a.Symbol,
		TotalPoolFmt:  model.FormatUnits(m.TotalPool, a.Decimals),
	}
}

func (s *Server) amount(ctx context.Context, marketID uint64, asset string, amount uint64) amountView {
	a := s.lookup(ctx, assets{}, asset)
	return amountView{MarketID: marketID, Asset: asset, Amount: amount, Formatted: model.FormatUnits(amount, a.Decimals)}
}

// ── Markets ──────────────────────────────────────────

func (s *Server) listMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.engine.ListMarkets(r.Context())
	if err != nil {
		engineErr(w, err)
		return
	}
	cache := assets{}
	out := make([]marketView, 0, len(markets))
	for _, m := range markets {
		out = append(out, s.view(r.Context(), cache, m))
	}
	json200(w, out)
}

func (s *Server) createMarket(w http.ResponseWriter, r *http.Request) {
	var req model.CreateMarketReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	m, err := s.engine.CreateMarket(r.Context(), userID(r), req)
	if err != nil {
		engineErr(w, err)
		return
	}
	json201(w, s.view(r.Context(), assets{}, m))
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	m, err := s.engine.GetMarket(r.Context(), id)
	if err != nil {
		engineErr(w, err)
		return
	}
	json200(w, s.view(r.Context(), assets{}, m))
}

func (s *Server) getMultiplier(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	bps, err := s.engine.GetTimeMultiplier(r.Context(), id)
	if err != nil {
		engineErr(w, err)
		return
	}
	json200(w, map[string]any{"market_id": id, "multiplier_bps": bps})
}

func (s *Server) stake(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	var req model.StakeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	st, err := s.engine.Stake(r.Context(), id, userID(r), req)
	if err != nil {
		engineErr(w, err)
		return
	}
	json201(w, st)
}

func (s *Server) getStake(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	st, err := s.engine.GetStake(r.Context(), id, userID(r))
	if err != nil {
		engineErr(w, err)
		return
	}
	json200(w, st)
}

func (s *Server) listStakes(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	stakes, err := s.engine.ListStakes(r.Context(), id)
	if err != nil {
		engineErr(w, err)
		return
	}
	json200(w, stakes)
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	m, err := s.engine.Resolve(r.Context(), id, userID(r))
	if err != nil {
		engineErr(w, err)
		return
	}
	json200(w, s.view(r.Context(), assets{}, m))
}

// ── Claims ───────────────────────────────────────────

func (s *Server) claim(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	paid, err := s.engine.Claim(r.Context(), id, userID(r))
	if err != nil {
		engineErr(w, err)
		return
	}
	s.paid(w, r, id, paid)
}

func (s *Server) claimCreatorReward(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	paid, err := s.engine.ClaimCreatorReward(r.Context(), id, userID(r))
	if err != nil {
		engineErr(w, err)
		return
	}
	s.paid(w, r, id, paid)
}

func (s *Server) paid(w http.ResponseWriter, r *http.Request, id, amount uint64) {
	m, err := s.engine.GetMarket(r.Context(), id)
	if err != nil {
		engineErr(w, err)
		return
	}
	json200(w, s.amount(r.Context(), id, m.Asset, amount))
}

func (s *Server) batchClaim(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MarketIDs []uint64 `json:"market_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if len(req.MarketIDs) == 0 {
		jsonErr(w, 400, "market_ids required")
		return
	}
	res, err := s.engine.BatchClaim(r.Context(), req.MarketIDs, userID(r))
	if err != nil {
		engineErr(w, err)
		return
	}
	json200(w, res)
}
