// Package ledger talks to the external debt ledger service the engine
// settles against.
package ledger

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

// ErrLedgerUnavailable wraps transport-level failures reaching the ledger.
var ErrLedgerUnavailable = errors.New("ledger: service unavailable")

// HTTPDoer abstracts the HTTP client so tests can stub transport behaviour.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client implements the engine's debt ledger contract over the ledger
// service's HTTP API.
type Client struct {
	client   HTTPDoer
	baseURL  string
	token    string
	receiver common.Address
}

// New constructs a ledger client. receiver is the on-chain address payment
// transfers are directed to.
func New(client HTTPDoer, baseURL, token string, receiver common.Address) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("ledger: base URL required")
	}
	if receiver == (common.Address{}) {
		return nil, fmt.Errorf("ledger: receiver address required")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		client:   client,
		baseURL:  trimmed,
		token:    strings.TrimSpace(token),
		receiver: receiver,
	}, nil
}

// Address implements the debt ledger contract.
func (c *Client) Address() common.Address { return c.receiver }

// TotalDebt implements the debt ledger contract.
func (c *Client) TotalDebt(ctx context.Context) (*big.Int, error) {
	var payload struct {
		TotalDebt string `json:"total_debt"`
	}
	if err := c.get(ctx, "/v1/debt", &payload); err != nil {
		return nil, err
	}
	return parseAmount("total_debt", payload.TotalDebt)
}

// PaymentBalance implements the debt ledger contract.
func (c *Client) PaymentBalance(ctx context.Context) (*big.Int, error) {
	var payload struct {
		Balance string `json:"payment_balance"`
	}
	if err := c.get(ctx, "/v1/balance", &payload); err != nil {
		return nil, err
	}
	return parseAmount("payment_balance", payload.Balance)
}

// Repay implements the debt ledger contract, crediting a settled amount.
func (c *Client) Repay(ctx context.Context, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("ledger: repay amount must not be negative")
	}
	body := struct {
		Amount string `json:"amount"`
	}{Amount: amount.String()}
	return c.post(ctx, "/v1/repayments", body, nil)
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
		return fmt.Errorf("ledger: encode request: %w", err)
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
		return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ledger: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ledger: decode response: %w", err)
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
		return nil, fmt.Errorf("ledger: invalid %s %q", field, value)
	}
	return amount, nil
}
