package engine

import (
	"context"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"parimutuel-engine/internal/model"
)

// NormalizeAsset returns the canonical id for an asset: "native" or the
// EIP-55 checksum form of a hex address.
func NormalizeAsset(asset string) (string, error) {
	if strings.EqualFold(asset, model.NativeAsset) {
		return model.NativeAsset, nil
	}
	if !common.IsHexAddress(asset) {
		return "", ErrInvalidAsset
	}
	return common.HexToAddress(asset).Hex(), nil
}

// RegisterAsset accepts a new stakeable asset. Re-registering an asset that
// was deactivated re-enables it with the new limits and keeps its volume;
// start-up bootstrap goes through EnsureAsset so it never does that.
func (l *Ledger) RegisterAsset(_ context.Context, asset string, minStake, maxStake uint64, decimals uint8, symbol string) (*model.AssetConfig, error) {
	if err := l.enter(); err != nil {
		return nil, err
	}
	defer l.exit()

	id, err := NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	if minStake == 0 || maxStake < minStake {
		return nil, ErrInvalidStakeLimits
	}
	cfg, ok := l.assets[id]
	if ok && cfg.Accepted {
		return nil, ErrDuplicateAsset
	}
	if !ok {
		cfg = &model.AssetConfig{ID: id}
		l.assets[id] = cfg
	}
	cfg.Accepted = true
	cfg.MinStake = minStake
	cfg.MaxStake = maxStake
	cfg.Decimals = decimals
	cfg.Symbol = symbol

	l.touchAsset(id)
	l.emit(nil, "asset_registered", *cfg)
	out := *cfg
	return &out, nil
}

// UpdateLimits changes an asset's stake bounds. Open markets see the new
// bounds on their next stake.
func (l *Ledger) UpdateLimits(ctx context.Context, asset string, minStake, maxStake uint64) (*model.AssetConfig, error) {
	return l.UpdateAsset(ctx, asset, model.AssetUpdate{MinStake: &minStake, MaxStake: &maxStake})
}

// SetAccepted toggles whether new markets and stakes may use an asset.
// Markets already pinned to it still resolve and pay out.
func (l *Ledger) SetAccepted(ctx context.Context, asset string, accepted bool) (*model.AssetConfig, error) {
	return l.UpdateAsset(ctx, asset, model.AssetUpdate{Accepted: &accepted})
}

// UpdateAsset validates every field of upd before applying any of them.
// Limits must be given as a pair.
func (l *Ledger) UpdateAsset(_ context.Context, asset string, upd model.AssetUpdate) (*model.AssetConfig, error) {
	if err := l.enter(); err != nil {
		return nil, err
	}
	defer l.exit()

	cfg, err := l.asset(asset)
	if err != nil {
		return nil, err
	}
	if (upd.MinStake == nil) != (upd.MaxStake == nil) {
		return nil, ErrInvalidStakeLimits
	}
	if upd.MinStake != nil && (*upd.MinStake == 0 || *upd.MaxStake < *upd.MinStake) {
		return nil, ErrInvalidStakeLimits
	}
	if upd.MinStake == nil && upd.Accepted == nil {
		out := *cfg
		return &out, nil
	}

	if upd.MinStake != nil {
		cfg.MinStake = *upd.MinStake
		cfg.MaxStake = *upd.MaxStake
	}
	if upd.Accepted != nil {
		cfg.Accepted = *upd.Accepted
	}
	l.touchAsset(cfg.ID)
	l.emit(nil, "asset_updated", *cfg)
	out := *cfg
	return &out, nil
}

// EnsureAsset registers asset only when the ledger has never seen it. A
// known asset, accepted or not, is returned as stored with created false.
func (l *Ledger) EnsureAsset(ctx context.Context, asset string, minStake, maxStake uint64, decimals uint8, symbol string) (cfg *model.AssetConfig, created bool, err error) {
	id, err := NormalizeAsset(asset)
	if err != nil {
		return nil, false, err
	}
	if known, ok := l.assets[id]; ok {
		out := *known
		return &out, false, nil
	}
	cfg, err = l.RegisterAsset(ctx, id, minStake, maxStake, decimals, symbol)
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

func (l *Ledger) IsAccepted(asset string) bool {
	cfg, err := l.asset(asset)
	return err == nil && cfg.Accepted
}

func (l *Ledger) Limits(asset string) (minStake, maxStake uint64, err error) {
	cfg, err := l.asset(asset)
	if err != nil {
		return 0, 0, err
	}
	return cfg.MinStake, cfg.MaxStake, nil
}

func (l *Ledger) GetAsset(asset string) (*model.AssetConfig, error) {
	cfg, err := l.asset(asset)
	if err != nil {
		return nil, err
	}
	out := *cfg
	return &out, nil
}

// ListAssets returns every registered asset, accepted or not, by id.
func (l *Ledger) ListAssets() []model.AssetConfig {
	out := make([]model.AssetConfig, 0, len(l.assets))
	for _, a := range l.assets {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *Ledger) GetAssetVolume(asset string) (uint64, error) {
	cfg, err := l.asset(asset)
	if err != nil {
		return 0, err
	}
	return cfg.TotalVolume, nil
}

func (l *Ledger) asset(asset string) (*model.AssetConfig, error) {
	id, err := NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	cfg, ok := l.assets[id]
	if !ok {
		return nil, ErrAssetNotFound
	}
	return cfg, nil
}
