package bank

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	testTreasury = common.HexToAddress("0x00000000000000000000000000000000000000E1")
	testAccount  = common.HexToAddress("0x00000000000000000000000000000000000000C1")
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := New(server.Client(), server.URL, "bank-token", "zusd", testTreasury)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewValidatesInputs(t *testing.T) {
	if _, err := New(nil, "", "", "ZUSD", testTreasury); err == nil {
		t.Fatalf("expected error for empty base URL")
	}
	if _, err := New(nil, "http://bank.local", "", "  ", testTreasury); err == nil {
		t.Fatalf("expected error for empty asset")
	}
	client, err := New(nil, "http://bank.local/", "", "zusd", testTreasury)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.Asset() != "ZUSD" {
		t.Fatalf("asset not normalised: %q", client.Asset())
	}
}

func TestBalanceOf(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := "/v1/balances/ZUSD/" + testAccount.Hex()
		if r.URL.Path != want {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer bank-token" {
			t.Fatalf("unexpected authorization header %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"amount": "100000000000"})
	}))

	balance, err := client.BalanceOf(context.Background(), testAccount)
	if err != nil {
		t.Fatalf("balance of: %v", err)
	}
	if balance.Cmp(big.NewInt(100_000_000_000)) != 0 {
		t.Fatalf("unexpected balance %s", balance)
	}
}

func TestTransferPostsMovement(t *testing.T) {
	var got struct {
		Asset  string `json:"asset"`
		From   string `json:"from"`
		To     string `json:"to"`
		Amount string `json:"amount"`
	}
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/transfers" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))

	err := client.Transfer(context.Background(), testAccount, testTreasury, big.NewInt(42))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got.Asset != "ZUSD" || got.From != testAccount.Hex() || got.To != testTreasury.Hex() || got.Amount != "42" {
		t.Fatalf("unexpected transfer payload %+v", got)
	}
}

func TestTransferOutDrawsFromTreasury(t *testing.T) {
	var got struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
	}))

	if err := client.TransferOut(context.Background(), testAccount, big.NewInt(7)); err != nil {
		t.Fatalf("transfer out: %v", err)
	}
	if got.From != testTreasury.Hex() || got.To != testAccount.Hex() {
		t.Fatalf("unexpected movement %+v", got)
	}
}

func TestTransferRejectsNegative(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("server should not be reached")
	}))
	if err := client.Transfer(context.Background(), testAccount, testTreasury, big.NewInt(-1)); err == nil {
		t.Fatalf("expected error for negative amount")
	}
}

func TestStatusErrorSurfaces(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "insufficient funds", http.StatusUnprocessableEntity)
	}))
	if err := client.Transfer(context.Background(), testAccount, testTreasury, big.NewInt(5)); err == nil {
		t.Fatalf("expected error for 422 response")
	}
}
