// Package bank talks to the custody service holding the payment and sell
// asset balances the engine moves during settlement.
package bank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrBankUnavailable wraps transport-level failures reaching the custody
// service.
var ErrBankUnavailable = errors.New("bank: service unavailable")

// HTTPDoer abstracts the HTTP client so tests can stub transport behaviour.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client moves balances for one asset through the custody service HTTP API.
// It satisfies both the engine's payment token and sell inventory contracts.
type Client struct {
	client   HTTPDoer
	baseURL  string
	token    string
	asset    string
	treasury common.Address
}

// New constructs a custody client scoped to one asset. treasury is the
// account sell-side transfers draw from; pass the zero address for clients
// that only move caller-owned funds.
func New(client HTTPDoer, baseURL, token, asset string, treasury common.Address) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("bank: base URL required")
	}
	normalised := strings.ToUpper(strings.TrimSpace(asset))
	if normalised == "" {
		return nil, fmt.Errorf("bank: asset symbol required")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		client:   client,
		baseURL:  trimmed,
		token:    strings.TrimSpace(token),
		asset:    normalised,
		treasury: treasury,
	}, nil
}

// Asset returns the custody asset symbol this client moves.
func (c *Client) Asset() string { return c.asset }

// BalanceOf implements the engine's token contract.
func (c *Client) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	var payload struct {
		Amount string `json:"amount"`
	}
	path := fmt.Sprintf("/v1/balances/%s/%s", c.asset, account.Hex())
	if err := c.get(ctx, path, &payload); err != nil {
		return nil, err
	}
	return parseAmount("amount", payload.Amount)
}

// Transfer implements the engine's token contract, moving funds between
// custody accounts.
func (c *Client) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("bank: transfer amount must not be negative")
	}
	body := struct {
		Asset  string `json:"asset"`
		From   string `json:"from"`
		To     string `json:"to"`
		Amount string `json:"amount"`
	}{
		Asset:  c.asset,
		From:   from.Hex(),
		To:     to.Hex(),
		Amount: amount.String(),
	}
	return c.post(ctx, "/v1/transfers", body, nil)
}

// BalanceAvailable implements the engine's inventory contract, reporting the
// treasury balance of the sell asset.
func (c *Client) BalanceAvailable(ctx context.Context) (*big.Int, error) {
	return c.BalanceOf(ctx, c.treasury)
}

// TransferOut implements the engine's inventory contract, paying sell assets
// out of the treasury.
func (c *Client) TransferOut(ctx context.Context, to common.Address, amount *big.Int) error {
	return c.Transfer(ctx, c.treasury, to, amount)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("bank: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBankUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("bank: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("bank: decode response: %w", err)
	}
	return nil
}

func parseAmount(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("bank: invalid %s %q", field, value)
	}
	return amount, nil
}
