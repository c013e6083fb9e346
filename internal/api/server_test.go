package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parimutuel-engine/internal/engine"
	"parimutuel-engine/internal/model"
)

const unit = 1_000_000

type memStore struct {
	mu     sync.Mutex
	users  map[string]*model.User
	events []model.EventLog
}

func newMemStore() *memStore { return &memStore{users: make(map[string]*model.User)} }

func (s *memStore) CreateUser(_ context.Context, email, hash string, role model.Role) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &model.User{ID: uuid.NewString(), Email: email, PasswordHash: hash, Role: role, CreatedAt: time.Now()}
	s.users[email] = u
	return u, nil
}

func (s *memStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[email], nil
}

func (s *memStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (s *memStore) ListUsers(context.Context) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	return out, nil
}

func (s *memStore) ListEvents(_ context.Context, marketID *uint64, limit int) ([]model.EventLog, error) {
	return s.events, nil
}

type testServer struct {
	t     *testing.T
	srv   *Server
	http  *httptest.Server
	clock *engine.ManualClock
	store *memStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clock := engine.NewManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ledger := engine.NewLedger(engine.Options{Clock: clock, Seeds: engine.FixedSeed{}, FeeRecipient: "treasury"})
	eng := engine.New(ledger, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	eng.Start(ctx)
	_, err := eng.RegisterAsset(ctx, model.NativeAsset, 1*unit, 1000*unit, 6, "ETH")
	require.NoError(t, err)

	store := newMemStore()
	srv := NewServer(store, eng, nil, "test-secret-at-least-32-characters!!")
	hs := httptest.NewServer(srv.Router())
	t.Cleanup(hs.Close)
	return &testServer{t: t, srv: srv, http: hs, clock: clock, store: store}
}

// do sends a JSON request and decodes the JSON response into out when set.
func (ts *testServer) do(method, path, token string, body, out any) int {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.http.URL+path, &buf)
	require.NoError(ts.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(ts.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type authResp struct {
	User  model.User `json:"user"`
	Token string     `json:"token"`
}

func (ts *testServer) register(email string) authResp {
	ts.t.Helper()
	var out authResp
	code := ts.do("POST", "/api/register", "", map[string]string{"email": email, "password": "secret123"}, &out)
	require.Equal(ts.t, 200, code)
	return out
}

func (ts *testServer) admin() string {
	ts.t.Helper()
	u, err := ts.store.CreateUser(context.Background(), "admin@example.com", "", model.RoleAdmin)
	require.NoError(ts.t, err)
	return ts.srv.makeToken(u.ID, u.Role)
}

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register("alice@example.com")
	assert.NotEmpty(t, alice.Token)

	var dup map[string]string
	assert.Equal(t, 409, ts.do("POST", "/api/register", "", map[string]string{"email": "alice@example.com", "password": "secret123"}, &dup))
	assert.Equal(t, 400, ts.do("POST", "/api/register", "", map[string]string{"email": "x@example.com", "password": "123"}, nil))

	var login authResp
	assert.Equal(t, 200, ts.do("POST", "/api/login", "", map[string]string{"email": "alice@example.com", "password": "secret123"}, &login))
	assert.Equal(t, alice.User.ID, login.User.ID)
	assert.Equal(t, 401, ts.do("POST", "/api/login", "", map[string]string{"email": "alice@example.com", "password": "wrong"}, nil))

	assert.Equal(t, 401, ts.do("GET", "/api/markets", "", nil, nil))
	assert.Equal(t, 401, ts.do("GET", "/api/markets", "garbage", nil, nil))
	assert.Equal(t, 403, ts.do("GET", "/api/admin/users", alice.Token, nil, nil))

	// Tokens are checked against the store: a forged role or a removed
	// user gets nowhere.
	forged := ts.srv.makeToken(alice.User.ID, model.RoleAdmin)
	assert.Equal(t, 403, ts.do("GET", "/api/admin/users", forged, nil, nil))
	ghost := ts.srv.makeToken(uuid.NewString(), model.RoleUser)
	assert.Equal(t, 401, ts.do("GET", "/api/markets", ghost, nil, nil))
}

func TestMarketLifecycle(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.admin()
	alice := ts.register("alice@example.com")
	bob := ts.register("bob@example.com")

	for _, u := range []authResp{alice, bob} {
		code := ts.do("POST", "/api/admin/deposit", admin, map[string]any{
			"account": u.User.ID, "asset": "native", "amount": 200 * unit,
		}, nil)
		require.Equal(t, 200, code)
	}

	var m marketView
	code := ts.do("POST", "/api/markets", alice.Token, model.CreateMarketReq{
		Question: "Rain tomorrow?", Options: []string{"yes", "no"}, Asset: "native", DurationHours: 24,
	}, &m)
	require.Equal(t, 201, code)
	assert.Equal(t, []string{"yes", "no"}, m.Options)
	path := fmt.Sprintf("/api/markets/%d", m.ID)

	var mult map[string]uint64
	require.Equal(t, 200, ts.do("GET", path+"/multiplier", bob.Token, nil, &mult))
	assert.Equal(t, uint64(15000), mult["multiplier_bps"])

	require.Equal(t, 201, ts.do("POST", path+"/stake", alice.Token, model.StakeReq{Option: 0, Amount: 100 * unit}, nil))
	require.Equal(t, 201, ts.do("POST", path+"/stake", bob.Token, model.StakeReq{Option: 1, Amount: 50 * unit}, nil))
	assert.Equal(t, 409, ts.do("POST", path+"/stake", bob.Token, model.StakeReq{Option: 0, Amount: 50 * unit}, nil))
	assert.Equal(t, 400, ts.do("POST", path+"/stake", bob.Token, model.StakeReq{Option: 4, Amount: 50 * unit}, nil))

	assert.Equal(t, 409, ts.do("POST", path+"/resolve", bob.Token, nil, nil))
	ts.clock.Advance(24 * time.Hour)
	require.Equal(t, 200, ts.do("POST", path+"/resolve", bob.Token, nil, &m))
	assert.Equal(t, model.OutcomeSingleWinner, m.Outcome)
	assert.Equal(t, "150", m.TotalPoolFmt)
	assert.Equal(t, []uint64{100 * unit, 50 * unit}, m.OptionPools)

	// 150 staked, 2.5% fee and 0.5% creator reward set aside.
	var paid amountView
	require.Equal(t, 200, ts.do("POST", path+"/claim", alice.Token, nil, &paid))
	assert.Equal(t, uint64(145_500_000), paid.Amount)
	assert.Equal(t, "145.5", paid.Formatted)
	assert.Equal(t, 409, ts.do("POST", path+"/claim", alice.Token, nil, nil))

	require.Equal(t, 200, ts.do("POST", path+"/creator-reward", alice.Token, nil, &paid))
	assert.Equal(t, uint64(750_000), paid.Amount)
	assert.Equal(t, 409, ts.do("POST", path+"/creator-reward", bob.Token, nil, nil))

	var batch model.BatchClaimResult
	require.Equal(t, 200, ts.do("POST", "/api/claims/batch", bob.Token, map[string]any{"market_ids": []uint64{m.ID}}, &batch))
	assert.Zero(t, batch.Total)

	require.Equal(t, 200, ts.do("POST", "/api/admin/fees/native/withdraw", admin, nil, &paid))
	assert.Equal(t, uint64(3_750_000), paid.Amount)

	var wallet struct {
		Balances []balanceView `json:"balances"`
	}
	require.Equal(t, 200, ts.do("GET", "/api/wallet", alice.Token, nil, &wallet))
	require.Len(t, wallet.Balances, 1)
	assert.Equal(t, uint64(100*unit+145_500_000+750_000), wallet.Balances[0].Balance)

	var stats model.ProtocolStats
	require.Equal(t, 200, ts.do("GET", "/api/stats", bob.Token, nil, &stats))
	assert.Equal(t, 1, stats.ResolvedMarkets)
	assert.Equal(t, 2, stats.TotalStakes)
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.admin()
	alice := ts.register("alice@example.com")

	assert.Equal(t, 404, ts.do("GET", "/api/markets/99", alice.Token, nil, nil))
	assert.Equal(t, 400, ts.do("GET", "/api/markets/abc", alice.Token, nil, nil))
	assert.Equal(t, 404, ts.do("GET", "/api/assets/0x0000000000000000000000000000000000000001", alice.Token, nil, nil))
	assert.Equal(t, 400, ts.do("POST", "/api/markets", alice.Token, model.CreateMarketReq{
		Question: "Too short?", Options: []string{"a", "b"}, Asset: "native", DurationHours: 12,
	}, nil))
	assert.Equal(t, 409, ts.do("POST", "/api/admin/fees/native/withdraw", admin, nil, nil))
	assert.Equal(t, 404, ts.do("POST", "/api/admin/payouts/nope/retry", admin, nil, nil))
}

func TestAdminConfigAndAssets(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.admin()

	var stats model.ProtocolStats
	require.Equal(t, 200, ts.do("PUT", "/api/admin/config", admin, map[string]any{"min_participants": 3, "daily_limit": 5}, &stats))
	assert.Equal(t, 3, stats.MinParticipants)
	assert.Equal(t, 5, stats.DailyLimit)
	assert.Equal(t, 400, ts.do("PUT", "/api/admin/config", admin, map[string]any{"min_participants": 1}, nil))

	usdc := "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	var a model.AssetConfig
	require.Equal(t, 201, ts.do("POST", "/api/admin/assets", admin, map[string]any{
		"asset": usdc, "min_stake": unit, "max_stake": 1000 * unit, "decimals": 6, "symbol": "USDC",
	}, &a))
	assert.Equal(t, "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", a.ID)
	assert.Equal(t, 409, ts.do("POST", "/api/admin/assets", admin, map[string]any{
		"asset": usdc, "min_stake": unit, "max_stake": 1000 * unit, "decimals": 6, "symbol": "USDC",
	}, nil))

	require.Equal(t, 200, ts.do("PUT", "/api/admin/assets/"+usdc, admin, map[string]any{"accepted": false}, &a))
	assert.False(t, a.Accepted)
	assert.Equal(t, 400, ts.do("PUT", "/api/admin/assets/"+usdc, admin, map[string]any{"min_stake": 5}, nil))

	// A rejected limit change leaves the accepted flag alone too.
	assert.Equal(t, 400, ts.do("PUT", "/api/admin/assets/native", admin, map[string]any{
		"min_stake": 10 * unit, "max_stake": 5 * unit, "accepted": false,
	}, nil))
	var native struct {
		Asset model.AssetConfig `json:"asset"`
	}
	require.Equal(t, 200, ts.do("GET", "/api/assets/native", admin, nil, &native))
	assert.True(t, native.Asset.Accepted)
	assert.Equal(t, uint64(1*unit), native.Asset.MinStake)

	var list []model.AssetConfig
	require.Equal(t, 200, ts.do("GET", "/api/assets", admin, nil, &list))
	assert.Len(t, list, 2)

	var users []model.User
	require.Equal(t, 200, ts.do("GET", "/api/admin/users", admin, nil, &users))
	assert.Len(t, users, 1)
}
