package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"clickstonks/internal/game"
	"clickstonks/internal/market"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Register(ctx context.Context, username string) (market.PlayerID, error) {
	var in any
	if username != "" {
		in = map[string]any{"username": username}
	}
	var out struct {
		PlayerID market.PlayerID `json:"player_id"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/players", "", in, &out, "")
	return out.PlayerID, err
}

func (c *Client) Dashboard(ctx context.Context, token string) (game.Dashboard, error) {
	var out game.Dashboard
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/me", token, nil, &out, "")
	return out, err
}

func (c *Client) SetName(ctx context.Context, token, username string) error {
	return c.jsonRequest(ctx, http.MethodPost, "/v1/me/name", token, map[string]any{"username": username}, nil, "")
}

func (c *Client) Click(ctx context.Context, token string) (game.ClickResult, error) {
	var out game.ClickResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/me/click", token, nil, &out, "")
	return out, err
}

func (c *Client) Disconnect(ctx context.Context, token string) error {
	return c.jsonRequest(ctx, http.MethodPost, "/v1/me/disconnect", token, nil, nil, "")
}

func (c *Client) ListStocks(ctx context.Context, token string) ([]market.Stock, error) {
	var out struct {
		Stocks []market.Stock `json:"stocks"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/stocks", token, nil, &out, "")
	return out.Stocks, err
}

func (c *Client) StockDetail(ctx context.Context, token string, id market.StockID) (market.Stock, error) {
	var out market.Stock
	err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/stocks/%d", id), token, nil, &out, "")
	return out, err
}

// Trade settles an order immediately.
func (c *Client) Trade(ctx context.Context, token string, id market.StockID, typ market.TxType, amount uint64) (market.OrderResult, error) {
	var out market.OrderResult
	path := fmt.Sprintf("/v1/stocks/%d/%s", id, url.PathEscape(string(typ)))
	err := c.jsonRequest(ctx, http.MethodPost, path, token, map[string]any{"amount": amount}, &out, "")
	return out, err
}

// QueueOrder enqueues an order for the next market tick. A fresh
// idempotency key is generated when idem is empty.
func (c *Client) QueueOrder(ctx context.Context, token string, id market.StockID, typ market.TxType, amount uint64, idem string) (market.TransactionID, error) {
	if idem == "" {
		idem = uuid.NewString()
	}
	var out struct {
		TransactionID market.TransactionID `json:"transaction_id"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/transactions", token, map[string]any{
		"stock_id": id,
		"amount":   amount,
		"type":     typ,
	}, &out, idem)
	return out.TransactionID, err
}

func (c *Client) Transactions(ctx context.Context, token, status string) ([]market.Transaction, error) {
	path := "/v1/transactions"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var out struct {
		Transactions []market.Transaction `json:"transactions"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, token, nil, &out, "")
	return out.Transactions, err
}

func (c *Client) Upgrades(ctx context.Context, token string) ([]game.Upgrade, error) {
	var out struct {
		Upgrades []game.Upgrade `json:"upgrades"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/upgrades", token, nil, &out, "")
	return out.Upgrades, err
}

func (c *Client) BuyUpgrade(ctx context.Context, token string, id market.UpgradeID) (market.Player, error) {
	var out market.Player
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/upgrades/%d/buy", id), token, nil, &out, "")
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path, token string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
