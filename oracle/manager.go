package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"buybackd/observability"
)

// Store persists raw samples and aggregated snapshots.
type Store interface {
	RecordSample(ctx context.Context, base, quote, source string, sample PriceQuote, recorded time.Time) error
	RecordSnapshot(ctx context.Context, base, quote, median string, feeders []string, proofID string, ts time.Time) error
}

// Pair identifies a base/quote pair.
type Pair struct {
	Base  string
	Quote string
}

// Aggregate is the in-memory result of the latest aggregation cycle.
type Aggregate struct {
	Median  *big.Rat
	Feeders []string
	ProofID string
	Time    time.Time
}

// Clone returns a deep copy of the aggregate.
func (a Aggregate) Clone() Aggregate {
	clone := a
	if a.Median != nil {
		clone.Median = new(big.Rat).Set(a.Median)
	}
	clone.Feeders = append([]string{}, a.Feeders...)
	return clone
}

// Manager orchestrates periodic aggregation across configured sources.
type Manager struct {
	logger   *log.Logger
	store    Store
	sources  []Source
	pairs    []Pair
	minFeeds int
	maxAge   time.Duration
	interval time.Duration
	once     sync.Once
	clock    func() time.Time

	mu     sync.RWMutex
	latest map[string]Aggregate
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger installs a custom logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithClock overrides the time source for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// New constructs a manager instance.
func New(store Store, sources []Source, pairs []Pair, interval, maxAge time.Duration, minFeeds int, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("oracle: store required")
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("oracle: at least one source required")
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("oracle: at least one pair required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("oracle: interval must be positive")
	}
	if maxAge <= 0 {
		maxAge = time.Minute
	}
	if minFeeds <= 0 {
		minFeeds = 1
	}
	mgr := &Manager{
		logger:   log.Default(),
		store:    store,
		sources:  append([]Source{}, sources...),
		pairs:    append([]Pair{}, pairs...),
		interval: interval,
		maxAge:   maxAge,
		minFeeds: minFeeds,
		clock:    time.Now,
		latest:   make(map[string]Aggregate),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(mgr)
		}
	}
	return mgr, nil
}

// Run blocks, periodically polling upstream feeds until the context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("oracle: manager not configured")
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.once.Do(func() {
		m.logger.Printf("buybackd: oracle manager started with %d sources", len(m.sources))
	})
	for {
		if err := m.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Printf("buybackd: oracle tick error: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs a single aggregation cycle across all configured pairs.
func (m *Manager) Tick(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("oracle: manager not configured")
	}
	for _, pair := range m.pairs {
		if err := m.processPair(ctx, pair); err != nil {
			return err
		}
	}
	return nil
}

// Latest returns the most recent in-memory aggregate for the pair.
func (m *Manager) Latest(base, quote string) (Aggregate, bool) {
	if m == nil {
		return Aggregate{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	agg, ok := m.latest[pairKey(base, quote)]
	if !ok {
		return Aggregate{}, false
	}
	return agg.Clone(), true
}

func (m *Manager) processPair(ctx context.Context, pair Pair) error {
	base := strings.TrimSpace(pair.Base)
	quote := strings.TrimSpace(pair.Quote)
	if base == "" || quote == "" {
		return fmt.Errorf("oracle: invalid pair configuration")
	}
	now := m.clock()
	metrics := observability.Oracle()
	quotes := make([]PriceQuote, 0, len(m.sources))
	feeders := make([]string, 0, len(m.sources))
	for _, src := range m.sources {
		if src == nil {
			continue
		}
		quoteOut, err := src.Fetch(ctx, base, quote)
		if err != nil {
			m.logger.Printf("buybackd: source %s failed for %s/%s: %v", src.Name(), base, quote, err)
			metrics.RecordSourceError(src.Name())
			continue
		}
		if quoteOut.Rate == nil || quoteOut.Rate.Sign() <= 0 {
			m.logger.Printf("buybackd: source %s returned invalid rate", src.Name())
			metrics.RecordSourceError(src.Name())
			continue
		}
		if quoteOut.Timestamp.After(now.Add(5 * time.Second)) {
			m.logger.Printf("buybackd: source %s produced future timestamp", src.Name())
			continue
		}
		if m.maxAge > 0 && quoteOut.Timestamp.Before(now.Add(-m.maxAge)) {
			m.logger.Printf("buybackd: source %s quote expired", src.Name())
			continue
		}
		feeders = append(feeders, src.Name())
		quotes = append(quotes, quoteOut.Clone())
		if err := m.store.RecordSample(ctx, base, quote, src.Name(), quoteOut, now); err != nil {
			m.logger.Printf("buybackd: record sample: %v", err)
		}
	}
	if len(quotes) < m.minFeeds {
		return fmt.Errorf("oracle: insufficient feeds for %s/%s", base, quote)
	}
	median := computeMedian(quotes)
	if median == nil || median.Sign() <= 0 {
		return fmt.Errorf("oracle: median computation failed for %s/%s", base, quote)
	}
	proof := proofID(base, quote, feeders, now)
	medianStr := median.FloatString(18)
	if err := m.store.RecordSnapshot(ctx, base, quote, medianStr, feeders, proof, now); err != nil {
		return fmt.Errorf("oracle: record snapshot: %w", err)
	}
	m.mu.Lock()
	m.latest[pairKey(base, quote)] = Aggregate{
		Median:  new(big.Rat).Set(median),
		Feeders: append([]string{}, feeders...),
		ProofID: proof,
		Time:    now,
	}
	m.mu.Unlock()
	medianFloat, _ := median.Float64()
	metrics.RecordMedian(pairKey(base, quote), medianFloat)
	metrics.RecordFreshness(pairKey(base, quote), 0)
	return nil
}

func computeMedian(quotes []PriceQuote) *big.Rat {
	if len(quotes) == 0 {
		return nil
	}
	sorted := make([]*big.Rat, 0, len(quotes))
	for _, q := range quotes {
		if q.Rate == nil {
			continue
		}
		sorted = append(sorted, new(big.Rat).Set(q.Rate))
	}
	if len(sorted) == 0 {
		return nil
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Cmp(sorted[j]) < 0
	})
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return new(big.Rat).Set(sorted[mid])
	}
	sum := new(big.Rat).Add(sorted[mid-1], sorted[mid])
	return sum.Quo(sum, big.NewRat(2, 1))
}

func proofID(base, quote string, feeders []string, ts time.Time) string {
	digest := sha256.New()
	digest.Write([]byte(strings.ToUpper(strings.TrimSpace(base))))
	digest.Write([]byte("/"))
	digest.Write([]byte(strings.ToUpper(strings.TrimSpace(quote))))
	digest.Write([]byte(ts.UTC().Format(time.RFC3339Nano)))
	sorted := append([]string{}, feeders...)
	sort.Strings(sorted)
	for _, f := range sorted {
		digest.Write([]byte(strings.ToLower(strings.TrimSpace(f))))
	}
	return hex.EncodeToString(digest.Sum(nil))
}

func pairKey(base, quote string) string {
	return normaliseSymbol(base) + "/" + normaliseSymbol(quote)
}
