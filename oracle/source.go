package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// PriceQuote captures a single upstream price observation.
type PriceQuote struct {
	Rate      *big.Rat
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote.
func (q PriceQuote) Clone() PriceQuote {
	clone := q
	if q.Rate != nil {
		clone.Rate = new(big.Rat).Set(q.Rate)
	}
	return clone
}

// Source resolves a price quote for a currency pair.
type Source interface {
	Name() string
	Fetch(ctx context.Context, base, quote string) (PriceQuote, error)
}

// HTTPDoer abstracts the HTTP client so tests can stub transport behaviour.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SourceSpec describes an upstream feed as declared in configuration.
type SourceSpec struct {
	Name     string
	Type     string
	Endpoint string
	APIKey   string
	Assets   map[string]string
}

// BuildSources instantiates the configured upstream adapters.
func BuildSources(specs []SourceSpec, client HTTPDoer) ([]Source, error) {
	sources := make([]Source, 0, len(specs))
	for _, spec := range specs {
		switch strings.ToLower(strings.TrimSpace(spec.Type)) {
		case "coingecko":
			sources = append(sources, NewCoinGeckoSource(spec.Name, client, spec.Endpoint, spec.Assets))
		case "manual":
			sources = append(sources, NewManualSource(spec.Name))
		default:
			return nil, fmt.Errorf("oracle: unknown source type %q", spec.Type)
		}
	}
	return sources, nil
}

const defaultCoinGeckoEndpoint = "https://api.coingecko.com/api/v3/simple/price"

// CoinGeckoSource adapts the public CoinGecko simple price API.
type CoinGeckoSource struct {
	name     string
	client   HTTPDoer
	endpoint string
	idMap    map[string]string
}

// NewCoinGeckoSource constructs a new adapter. idMap allows the caller to map
// token symbols to CoinGecko asset identifiers.
func NewCoinGeckoSource(name string, client HTTPDoer, endpoint string, idMap map[string]string) *CoinGeckoSource {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = defaultCoinGeckoEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	if strings.TrimSpace(name) == "" {
		name = "coingecko"
	}
	mapped := make(map[string]string, len(idMap))
	for k, v := range idMap {
		mapped[normaliseSymbol(k)] = strings.TrimSpace(v)
	}
	return &CoinGeckoSource{name: name, client: client, endpoint: ep, idMap: mapped}
}

// Name implements the Source interface.
func (o *CoinGeckoSource) Name() string { return o.name }

func (o *CoinGeckoSource) assetID(symbol string) string {
	if id, ok := o.idMap[normaliseSymbol(symbol)]; ok && id != "" {
		return id
	}
	return strings.ToLower(strings.TrimSpace(symbol))
}

// Fetch implements the Source interface against the simple price endpoint.
func (o *CoinGeckoSource) Fetch(ctx context.Context, base, quote string) (PriceQuote, error) {
	if o == nil {
		return PriceQuote{}, fmt.Errorf("oracle: coingecko source not configured")
	}
	quoteSym := strings.ToLower(normaliseSymbol(quote))
	id := o.assetID(base)
	if id == "" {
		return PriceQuote{}, fmt.Errorf("oracle: unmapped asset %s", base)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint, nil)
	if err != nil {
		return PriceQuote{}, err
	}
	values := url.Values{}
	values.Set("ids", id)
	values.Set("vs_currencies", quoteSym)
	values.Set("include_last_updated_at", "true")
	req.URL.RawQuery = values.Encode()
	resp, err := o.client.Do(req)
	if err != nil {
		return PriceQuote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return PriceQuote{}, fmt.Errorf("oracle: coingecko status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var payload map[string]map[string]interface{}
	if err := decoder.Decode(&payload); err != nil {
		return PriceQuote{}, fmt.Errorf("oracle: coingecko decode: %w", err)
	}
	entry, ok := payload[id]
	if !ok {
		return PriceQuote{}, fmt.Errorf("oracle: quote missing for %s", base)
	}
	priceStr := lookupPrice(entry, quoteSym)
	if priceStr == "" {
		return PriceQuote{}, fmt.Errorf("oracle: empty price")
	}
	rat, ok := new(big.Rat).SetString(priceStr)
	if !ok || rat.Sign() <= 0 {
		return PriceQuote{}, fmt.Errorf("oracle: invalid rate %q", priceStr)
	}
	ts := lookupTimestamp(entry)
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return PriceQuote{Rate: rat, Timestamp: ts, Source: o.name}, nil
}

func lookupPrice(entry map[string]interface{}, currency string) string {
	keys := []string{currency, strings.ToLower(currency), strings.ToUpper(currency)}
	for _, key := range keys {
		raw, exists := entry[key]
		if !exists {
			continue
		}
		switch v := raw.(type) {
		case json.Number:
			return strings.TrimSpace(v.String())
		case string:
			return strings.TrimSpace(v)
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		default:
			return strings.TrimSpace(fmt.Sprintf("%v", v))
		}
	}
	return ""
}

func lookupTimestamp(entry map[string]interface{}) time.Time {
	rawTs, exists := entry["last_updated_at"]
	if !exists {
		return time.Time{}
	}
	switch v := rawTs.(type) {
	case json.Number:
		if parsed, err := v.Int64(); err == nil && parsed > 0 {
			return time.Unix(parsed, 0)
		}
	case string:
		if parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && parsed > 0 {
			return time.Unix(parsed, 0)
		}
	case float64:
		if v > 0 {
			return time.Unix(int64(v), 0)
		}
	}
	return time.Time{}
}

// ManualSource provides an in-memory source implementation used for tests and
// operator overrides.
type ManualSource struct {
	name   string
	mu     sync.RWMutex
	quotes map[string]PriceQuote
}

// NewManualSource constructs an empty manual source.
func NewManualSource(name string) *ManualSource {
	if strings.TrimSpace(name) == "" {
		name = "manual"
	}
	return &ManualSource{name: name, quotes: make(map[string]PriceQuote)}
}

// Name implements the Source interface.
func (m *ManualSource) Name() string { return m.name }

// Set records the quote for a pair.
func (m *ManualSource) Set(base, quote string, rate *big.Rat, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := PriceQuote{Timestamp: ts, Source: m.name}
	if rate != nil {
		entry.Rate = new(big.Rat).Set(rate)
	}
	m.quotes[manualKey(base, quote)] = entry
}

// SetDecimal parses a decimal rate string and records it for the pair.
func (m *ManualSource) SetDecimal(base, quote, rate string, ts time.Time) error {
	trimmed := strings.TrimSpace(rate)
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return fmt.Errorf("oracle: invalid manual rate %q", rate)
	}
	m.Set(base, quote, rat, ts)
	return nil
}

// Fetch implements the Source interface.
func (m *ManualSource) Fetch(_ context.Context, base, quote string) (PriceQuote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.quotes[manualKey(base, quote)]
	if !ok {
		return PriceQuote{}, fmt.Errorf("oracle: no manual quote for %s/%s", base, quote)
	}
	return entry.Clone(), nil
}

func manualKey(base, quote string) string {
	return normaliseSymbol(base) + "_" + normaliseSymbol(quote)
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
