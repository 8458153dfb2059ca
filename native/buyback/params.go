package buyback

import (
	"fmt"
	"math/big"
	"strings"
)

const (
	basisPoints = 10_000
	// maxAssetDecimals bounds the decimal exponents so scaling factors stay sane.
	maxAssetDecimals = 36
)

// priceScale is the fixed-point denominator for oracle rates.
var priceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Config captures the operator-defined engine guardrails parsed from configuration.
// Amounts are decimal strings in payment-asset base units.
type Config struct {
	DiscountBps            uint64 `toml:"DiscountBps"`
	BaselineBuffer         string `toml:"BaselineBuffer"`
	MinAdminDiscountBps    uint64 `toml:"MinAdminDiscountBps"`
	MaxAdminDiscountBps    uint64 `toml:"MaxAdminDiscountBps"`
	MinAdminBaselineBuffer string `toml:"MinAdminBaselineBuffer"`
	MaxAdminBaselineBuffer string `toml:"MaxAdminBaselineBuffer"`
	PayDecimals            uint8  `toml:"PayDecimals"`
	SellDecimals           uint8  `toml:"SellDecimals"`
	Paused                 bool   `toml:"Paused"`
}

// Normalise trims whitespace from the textual fields and returns a defensive copy.
func (c Config) Normalise() Config {
	cfg := c
	cfg.BaselineBuffer = strings.TrimSpace(c.BaselineBuffer)
	cfg.MinAdminBaselineBuffer = strings.TrimSpace(c.MinAdminBaselineBuffer)
	cfg.MaxAdminBaselineBuffer = strings.TrimSpace(c.MaxAdminBaselineBuffer)
	return cfg
}

// Parameters converts the textual configuration into runtime big integers.
func (c Config) Parameters() (Parameters, error) {
	normalized := c.Normalise()
	params := Parameters{
		DiscountBps:         normalized.DiscountBps,
		MinAdminDiscountBps: normalized.MinAdminDiscountBps,
		MaxAdminDiscountBps: normalized.MaxAdminDiscountBps,
		PayDecimals:         normalized.PayDecimals,
		SellDecimals:        normalized.SellDecimals,
		Paused:              normalized.Paused,
	}
	var err error
	if params.BaselineBuffer, err = parseAmount(normalized.BaselineBuffer); err != nil {
		return params, fmt.Errorf("buyback: invalid BaselineBuffer: %w", err)
	}
	if params.MinAdminBaselineBuffer, err = parseAmount(normalized.MinAdminBaselineBuffer); err != nil {
		return params, fmt.Errorf("buyback: invalid MinAdminBaselineBuffer: %w", err)
	}
	if params.MaxAdminBaselineBuffer, err = parseAmount(normalized.MaxAdminBaselineBuffer); err != nil {
		return params, fmt.Errorf("buyback: invalid MaxAdminBaselineBuffer: %w", err)
	}
	return params, nil
}

// Parameters represents canonical, runtime-ready engine settings.
type Parameters struct {
	DiscountBps            uint64
	BaselineBuffer         *big.Int
	MinAdminDiscountBps    uint64
	MaxAdminDiscountBps    uint64
	MinAdminBaselineBuffer *big.Int
	MaxAdminBaselineBuffer *big.Int
	PayDecimals            uint8
	SellDecimals           uint8
	Paused                 bool
}

// Validate rejects settings that can never describe a working engine. The
// admin windows must be coherent at construction time; later owner updates to
// individual bounds are not cross-checked.
func (p Parameters) Validate() error {
	if p.DiscountBps > basisPoints {
		return ErrDiscountOutOfRange
	}
	if p.MaxAdminDiscountBps > basisPoints {
		return fmt.Errorf("buyback: MaxAdminDiscountBps %d exceeds %d", p.MaxAdminDiscountBps, basisPoints)
	}
	if p.MinAdminDiscountBps > p.MaxAdminDiscountBps {
		return fmt.Errorf("buyback: MinAdminDiscountBps %d exceeds MaxAdminDiscountBps %d", p.MinAdminDiscountBps, p.MaxAdminDiscountBps)
	}
	if p.BaselineBuffer != nil && p.BaselineBuffer.Sign() < 0 {
		return fmt.Errorf("buyback: BaselineBuffer must not be negative")
	}
	minBaseline := zeroIfNil(p.MinAdminBaselineBuffer)
	maxBaseline := zeroIfNil(p.MaxAdminBaselineBuffer)
	if minBaseline.Cmp(maxBaseline) > 0 {
		return fmt.Errorf("buyback: MinAdminBaselineBuffer %s exceeds MaxAdminBaselineBuffer %s", minBaseline, maxBaseline)
	}
	if p.PayDecimals > maxAssetDecimals || p.SellDecimals > maxAssetDecimals {
		return fmt.Errorf("buyback: asset decimals must not exceed %d", maxAssetDecimals)
	}
	return nil
}

// Copy returns a deep copy so snapshots cannot mutate live parameters.
func (p Parameters) Copy() Parameters {
	clone := p
	clone.BaselineBuffer = zeroIfNil(p.BaselineBuffer)
	clone.MinAdminBaselineBuffer = zeroIfNil(p.MinAdminBaselineBuffer)
	clone.MaxAdminBaselineBuffer = zeroIfNil(p.MaxAdminBaselineBuffer)
	return clone
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	if strings.HasPrefix(trimmed, "-") {
		return nil, fmt.Errorf("amount must not be negative")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
