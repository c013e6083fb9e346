package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"parimutuel-engine/internal/model"
)

type balanceView struct {
	Asset     string `json:"asset"`
	Symbol    string `json:"symbol"`
	Balance   uint64 `json:"balance"`
	Formatted string `json:"formatted"`
}

// getWallet lists the caller's balance in every registered asset.
func (s *Server) getWallet(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.ListAssets(r.Context())
	if err != nil {
		engineErr(w, err)
		return
	}
	uid := userID(r)
	out := make([]balanceView, 0, len(list))
	for _, a := range list {
		bal, err := s.engine.Balance(r.Context(), a.ID, uid)
		if err != nil {
			engineErr(w, err)
			return
		}
		out = append(out, balanceView{Asset: a.ID, Symbol: a.Symbol, Balance: bal, Formatted: model.FormatUnits(bal, a.Decimals)})
	}
	json200(w, map[string]any{"account": uid, "balances": out})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.GetProtocolStats(r.Context())
	if err != nil {
		engineErr(w, err)
		return
	}
	json200(w, st)
}

func (s *Server) listAssets(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.ListAssets(r.Context())
	if err != nil {
		engineErr(w, err)
		return
	}
	json200(w, list)
}

func (s *Server) getAsset(w http.ResponseWriter, r *http.Request) {
	a, err := s.engine.GetAsset(r.Context(), chi.URLParam(r, "asset"))
	if err != nil {
		engineErr(w, err)
		return
	}
	json200(w, map[string]any{
		"asset":            a,
		"volume_formatted": model.FormatUnits(a.TotalVolume, a.Decimals),
	})
}
