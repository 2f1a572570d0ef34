package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"clickstonks/internal/config"
	"clickstonks/internal/game"
	"clickstonks/internal/market"
)

const testAdminToken = "letmein"

func newTestServer(t *testing.T, adminToken string) *httptest.Server {
	t.Helper()
	return serveStore(t, market.NewMemoryStore(), adminToken)
}

// serveStore starts a server over store. Seeding is skipped when the store
// already holds the default market, so two servers can share one store.
func serveStore(t *testing.T, store market.Store, adminToken string) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mkt := market.NewService(store, logger, market.WithRandomSource(market.NewRandomSource(1)))
	gm := game.NewService(store, mkt, logger)
	if err := gm.SeedDefaults(context.Background(), market.DefaultMarketConfig()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	cfg := config.DefaultAPIConfig()
	cfg.AdminToken = adminToken
	ts := httptest.NewServer(New(cfg, logger, mkt, gm).Handler())
	t.Cleanup(ts.Close)
	return ts
}

type call struct {
	method  string
	path    string
	body    any
	headers map[string]string
}

func do(t *testing.T, ts *httptest.Server, c call, out any) int {
	t.Helper()
	var body io.Reader
	if c.body != nil {
		raw, err := json.Marshal(c.body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(c.method, ts.URL+c.path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", c.method, c.path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", c.method, c.path, err)
		}
	}
	return resp.StatusCode
}

func bearer(id uuid.UUID) map[string]string {
	return map[string]string{"Authorization": "Bearer " + id.String()}
}

func register(t *testing.T, ts *httptest.Server) uuid.UUID {
	t.Helper()
	var out struct {
		PlayerID uuid.UUID `json:"player_id"`
	}
	if code := do(t, ts, call{method: http.MethodPost, path: "/v1/players", body: map[string]any{"username": "trader"}}, &out); code != http.StatusCreated {
		t.Fatalf("register status=%d", code)
	}
	return out.PlayerID
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, "")
	var out map[string]bool
	if code := do(t, ts, call{method: http.MethodGet, path: "/healthz"}, &out); code != http.StatusOK || !out["ok"] {
		t.Fatalf("status=%d body=%v", code, out)
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, "")
	if code := do(t, ts, call{method: http.MethodGet, path: "/v1/me"}, nil); code != http.StatusUnauthorized {
		t.Fatalf("missing token status=%d", code)
	}
	if code := do(t, ts, call{method: http.MethodGet, path: "/v1/me", headers: map[string]string{"Authorization": "Bearer nope"}}, nil); code != http.StatusUnauthorized {
		t.Fatalf("bad token status=%d", code)
	}
	if code := do(t, ts, call{method: http.MethodGet, path: "/v1/me", headers: bearer(uuid.New())}, nil); code != http.StatusUnauthorized {
		t.Fatalf("unknown player status=%d", code)
	}
}

func TestRegisterAndDashboard(t *testing.T) {
	ts := newTestServer(t, "")
	id := register(t, ts)

	var dash game.Dashboard
	if code := do(t, ts, call{method: http.MethodGet, path: "/v1/me", headers: bearer(id)}, &dash); code != http.StatusOK {
		t.Fatalf("me status=%d", code)
	}
	if dash.Player.ID != id || dash.Player.Money != game.StartingMoney || dash.NetWorth != game.StartingMoney {
		t.Fatalf("unexpected dashboard: %+v", dash)
	}
	if dash.Player.Username == nil || *dash.Player.Username != "trader" {
		t.Fatalf("username=%v", dash.Player.Username)
	}
}

func TestRegisterRejectsBlockedName(t *testing.T) {
	ts := newTestServer(t, "")
	code := do(t, ts, call{method: http.MethodPost, path: "/v1/players", body: map[string]any{"username": "the-admin"}}, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("status=%d", code)
	}
}

func TestImmediateBuy(t *testing.T) {
	ts := newTestServer(t, "")
	id := register(t, ts)

	var res market.OrderResult
	code := do(t, ts, call{method: http.MethodPost, path: "/v1/stocks/1/buy", body: map[string]any{"amount": 5}, headers: bearer(id)}, &res)
	if code != http.StatusOK {
		t.Fatalf("buy status=%d", code)
	}
	// 5 shares at 1.000 plus a 1% fee.
	if res.Total != 5_000 || res.Fee != 50 || res.Balance != 4_950 {
		t.Fatalf("unexpected result: %+v", res)
	}

	var st market.Stock
	if code := do(t, ts, call{method: http.MethodGet, path: "/v1/stocks/1", headers: bearer(id)}, &st); code != http.StatusOK {
		t.Fatalf("stock status=%d", code)
	}
	if st.AvailableShares != st.TotalShares-5 || st.RecentBuys != 5 {
		t.Fatalf("unexpected stock: %+v", st)
	}
}

func TestTradeErrors(t *testing.T) {
	ts := newTestServer(t, "")
	id := register(t, ts)

	tests := []struct {
		name string
		call call
		want int
	}{
		{"insufficient funds", call{method: http.MethodPost, path: "/v1/stocks/1/buy", body: map[string]any{"amount": 1_000}}, http.StatusBadRequest},
		{"no shares to sell", call{method: http.MethodPost, path: "/v1/stocks/1/sell", body: map[string]any{"amount": 1}}, http.StatusBadRequest},
		{"unknown stock", call{method: http.MethodPost, path: "/v1/stocks/99/buy", body: map[string]any{"amount": 1}}, http.StatusNotFound},
		{"bad stock id", call{method: http.MethodGet, path: "/v1/stocks/abc"}, http.StatusBadRequest},
		{"unknown field", call{method: http.MethodPost, path: "/v1/stocks/1/buy", body: map[string]any{"shares": 1}}, http.StatusBadRequest},
		{"bad type", call{method: http.MethodPost, path: "/v1/transactions", body: map[string]any{"stock_id": 1, "amount": 1, "type": "short"}}, http.StatusBadRequest},
		{"bad status filter", call{method: http.MethodGet, path: "/v1/transactions?status=lost"}, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.call.headers = bearer(id)
			if code := do(t, ts, tc.call, nil); code != tc.want {
				t.Fatalf("status=%d want %d", code, tc.want)
			}
		})
	}
}

func TestQueuedOrderSettlesOnAdminTick(t *testing.T) {
	ts := newTestServer(t, testAdminToken)
	id := register(t, ts)

	headers := bearer(id)
	headers["Idempotency-Key"] = "order-1"
	order := map[string]any{"stock_id": 1, "amount": 2, "type": "buy"}

	var first, second struct {
		TransactionID market.TransactionID `json:"transaction_id"`
	}
	if code := do(t, ts, call{method: http.MethodPost, path: "/v1/transactions", body: order, headers: headers}, &first); code != http.StatusAccepted {
		t.Fatalf("queue status=%d", code)
	}
	if code := do(t, ts, call{method: http.MethodPost, path: "/v1/transactions", body: order, headers: headers}, &second); code != http.StatusAccepted {
		t.Fatalf("retry status=%d", code)
	}
	if first.TransactionID != second.TransactionID {
		t.Fatalf("retry queued a new order: %d != %d", first.TransactionID, second.TransactionID)
	}

	var list struct {
		Transactions []market.Transaction `json:"transactions"`
	}
	do(t, ts, call{method: http.MethodGet, path: "/v1/transactions?status=pending", headers: bearer(id)}, &list)
	if len(list.Transactions) != 1 {
		t.Fatalf("pending=%d want 1", len(list.Transactions))
	}

	admin := map[string]string{"X-Admin-Token": testAdminToken}
	if code := do(t, ts, call{method: http.MethodPost, path: "/v1/admin/tick", headers: admin}, nil); code != http.StatusOK {
		t.Fatalf("tick status=%d", code)
	}

	list.Transactions = nil
	do(t, ts, call{method: http.MethodGet, path: "/v1/transactions?status=confirmed", headers: bearer(id)}, &list)
	if len(list.Transactions) != 1 || list.Transactions[0].ID != first.TransactionID {
		t.Fatalf("confirmed=%+v", list.Transactions)
	}

	var dash game.Dashboard
	do(t, ts, call{method: http.MethodGet, path: "/v1/me", headers: bearer(id)}, &dash)
	if len(dash.Positions) != 1 || dash.Positions[0].Amount != 2 {
		t.Fatalf("positions=%+v", dash.Positions)
	}
}

func TestAdminGate(t *testing.T) {
	disabled := newTestServer(t, "")
	if code := do(t, disabled, call{method: http.MethodPost, path: "/v1/admin/tick"}, nil); code != http.StatusNotFound {
		t.Fatalf("disabled status=%d", code)
	}

	ts := newTestServer(t, testAdminToken)
	if code := do(t, ts, call{method: http.MethodPost, path: "/v1/admin/tick", headers: map[string]string{"X-Admin-Token": "wrong"}}, nil); code != http.StatusUnauthorized {
		t.Fatalf("wrong token status=%d", code)
	}

	var created struct {
		StockID market.StockID `json:"stock_id"`
	}
	body := map[string]any{"name": "Moon Cheese", "description": "Dairy futures.", "initial_price": 3, "total_shares": 1_000, "volatility": 4}
	code := do(t, ts, call{method: http.MethodPost, path: "/v1/admin/stocks", body: body, headers: map[string]string{"X-Admin-Token": testAdminToken}}, &created)
	if code != http.StatusCreated || created.StockID != market.StockID(len(game.DefaultStocks)+1) {
		t.Fatalf("create status=%d id=%d", code, created.StockID)
	}
}

func TestClickAndUpgrades(t *testing.T) {
	ts := newTestServer(t, "")
	id := register(t, ts)

	var click game.ClickResult
	if code := do(t, ts, call{method: http.MethodPost, path: "/v1/me/click", headers: bearer(id)}, &click); code != http.StatusOK {
		t.Fatalf("click status=%d", code)
	}
	if click.Earned != game.StartingClickPower || click.Money != game.StartingMoney+game.StartingClickPower {
		t.Fatalf("unexpected click: %+v", click)
	}
	if code := do(t, ts, call{method: http.MethodPost, path: "/v1/me/click", headers: bearer(id)}, nil); code != http.StatusTooManyRequests {
		t.Fatalf("second click status=%d", code)
	}

	var ups struct {
		Upgrades []game.Upgrade `json:"upgrades"`
	}
	do(t, ts, call{method: http.MethodGet, path: "/v1/upgrades", headers: bearer(id)}, &ups)
	if len(ups.Upgrades) != len(game.Upgrades()) {
		t.Fatalf("upgrades=%d", len(ups.Upgrades))
	}
	if code := do(t, ts, call{method: http.MethodPost, path: "/v1/upgrades/1/buy", headers: bearer(id)}, nil); code != http.StatusBadRequest {
		t.Fatalf("unaffordable upgrade status=%d", code)
	}
	if code := do(t, ts, call{method: http.MethodPost, path: "/v1/upgrades/999/buy", headers: bearer(id)}, nil); code != http.StatusNotFound {
		t.Fatalf("unknown upgrade status=%d", code)
	}
}

func TestSetNameAndDisconnect(t *testing.T) {
	ts := newTestServer(t, "")
	id := register(t, ts)

	if code := do(t, ts, call{method: http.MethodPost, path: "/v1/me/name", body: map[string]any{"username": "  bull  "}, headers: bearer(id)}, nil); code != http.StatusOK {
		t.Fatalf("set name status=%d", code)
	}
	if code := do(t, ts, call{method: http.MethodPost, path: "/v1/me/disconnect", headers: bearer(id)}, nil); code != http.StatusOK {
		t.Fatalf("disconnect status=%d", code)
	}
	var dash game.Dashboard
	do(t, ts, call{method: http.MethodGet, path: "/v1/me", headers: bearer(id)}, &dash)
	if dash.Player.Online || dash.Player.Username == nil || *dash.Player.Username != "bull" {
		t.Fatalf("unexpected player: %+v", dash.Player)
	}
}

func TestIdempotencyKeySurvivesRestart(t *testing.T) {
	store := market.NewMemoryStore()
	first := serveStore(t, store, testAdminToken)
	id := register(t, first)
	restarted := serveStore(t, store, testAdminToken)

	headers := bearer(id)
	headers["Idempotency-Key"] = "k1"
	order := map[string]any{"stock_id": 1, "amount": 1, "type": "buy"}

	var a, b struct {
		TransactionID market.TransactionID `json:"transaction_id"`
	}
	if code := do(t, first, call{method: http.MethodPost, path: "/v1/transactions", body: order, headers: headers}, &a); code != http.StatusAccepted {
		t.Fatalf("first status=%d", code)
	}
	if code := do(t, restarted, call{method: http.MethodPost, path: "/v1/transactions", body: order, headers: headers}, &b); code != http.StatusAccepted {
		t.Fatalf("restarted status=%d", code)
	}
	if a.TransactionID != b.TransactionID {
		t.Fatalf("same key queued twice: %d != %d", a.TransactionID, b.TransactionID)
	}

	var list struct {
		Transactions []market.Transaction `json:"transactions"`
	}
	do(t, restarted, call{method: http.MethodGet, path: "/v1/transactions", headers: bearer(id)}, &list)
	if len(list.Transactions) != 1 {
		t.Fatalf("transactions=%d want 1", len(list.Transactions))
	}

	other := register(t, restarted)
	headers = bearer(other)
	headers["Idempotency-Key"] = "k1"
	var c struct {
		TransactionID market.TransactionID `json:"transaction_id"`
	}
	if code := do(t, restarted, call{method: http.MethodPost, path: "/v1/transactions", body: order, headers: headers}, &c); code != http.StatusAccepted {
		t.Fatalf("other player status=%d", code)
	}
	if c.TransactionID == a.TransactionID {
		t.Fatal("keys are scoped per player")
	}
}
