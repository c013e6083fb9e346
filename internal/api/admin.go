package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"parimutuel-engine/internal/model"
)

func (s *Server) registerAsset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Asset    string `json:"asset"`
		MinStake uint64 `json:"min_stake"`
		MaxStake uint64 `json:"max_stake"`
		Decimals uint8  `json:"decimals"`
		Symbol   string `json:"symbol"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	a, err := s.engine.RegisterAsset(r.Context(), req.Asset, req.MinStake, req.MaxStake, req.Decimals, req.Symbol)
	if err != nil {
		engineErr(w, err)
		return
	}
	json201(w, a)
}

// updateAsset changes limits and/or the accepted flag in one engine call;
// omitted fields are left alone.
func (s *Server) updateAsset(w http.ResponseWriter, r *http.Request) {
	var req model.AssetUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if req.MinStake == nil && req.MaxStake == nil && req.Accepted == nil {
		jsonErr(w, 400, "nothing to update")
		return
	}
	a, err := s.engine.UpdateAsset(r.Context(), chi.URLParam(r, "asset"), req)
	if err != nil {
		engineErr(w, err)
		return
	}
	json200(w, a)
}

func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FeeRecipient    *string `json:"fee_recipient"`
		MinParticipants *int    `json:"min_participants"`
		DailyLimit      *int    `json:"daily_limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	ctx := r.Context()
	if req.FeeRecipient != nil {
		if err := s.engine.SetFeeRecipient(ctx, *req.FeeRecipient); err != nil {
			engineErr(w, err)
			return
		}
	}
	if req.MinParticipants != nil {
		if err := s.engine.SetMinParticipants(ctx, *req.MinParticipants); err != nil {
			engineErr(w, err)
			return
		}
	}
	if req.DailyLimit != nil {
		if err := s.engine.SetDailyLimit(ctx, *req.DailyLimit); err != nil {
			engineErr(w, err)
			return
		}
	}
	s.stats(w, r)
}

func (s *Server) adminDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account string `json:"account"`
		Asset   string `json:"asset"`
		Amount  uint64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if err := s.engine.Deposit(r.Context(), req.Asset, req.Account, req.Amount); err != nil {
		engineErr(w, err)
		return
	}
	bal, err := s.engine.Balance(r.Context(), req.Asset, req.Account)
	if err != nil {
		engineErr(w, err)
		return
	}
	json200(w, s.amount(r.Context(), 0, req.Asset, bal))
}

func (s *Server) withdrawFees(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	amount, err := s.engine.WithdrawFees(r.Context(), asset)
	if err != nil {
		engineErr(w, err)
		return
	}
	json200(w, s.amount(r.Context(), 0, asset, amount))
}

func (s *Server) listFailedPayouts(w http.ResponseWriter, r *http.Request) {
	payouts, err := s.engine.ListFailedPayouts(r.Context())
	if err != nil {
		engineErr(w, err)
		return
	}
	json200(w, payouts)
}

func (s *Server) retryPayout(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.RetryPayout(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		engineErr(w, err)
		return
	}
	json200(w, p)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if users == nil {
		users = []model.User{}
	}
	json200(w, users)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	limitStr := r.URL.Query().Get("limit")
	limit := 100
	if n, err := strconv.Atoi(limitStr); err == nil && n > 0 && n <= 500 {
		limit = n
	}
	var mp *uint64
	if raw := r.URL.Query().Get("market_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			jsonErr(w, 400, "invalid market_id")
			return
		}
		mp = &id
	}
	events, err := s.store.ListEvents(r.Context(), mp, limit)
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if events == nil {
		events = []model.EventLog{}
	}
	json200(w, events)
}
