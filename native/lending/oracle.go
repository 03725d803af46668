package lending

import (
	"math/big"
	"strings"
	"sync"
)

// PriceQuote is an already-resolved oracle reading for one mint. The engine
// never fetches prices itself; callers resolve quotes up front and the engine
// only validates freshness and confidence at use time.
type PriceQuote struct {
	// Price is the value of one unit of the asset in the common quote
	// currency's smallest unit.
	Price *big.Int
	// Confidence is the oracle's reported interval around Price, in the
	// same units.
	Confidence *big.Int
	// PublishTime is the unix timestamp the oracle produced the reading.
	PublishTime int64
}

// Clone returns a deep copy of the quote.
func (q PriceQuote) Clone() PriceQuote {
	clone := PriceQuote{PublishTime: q.PublishTime}
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	if q.Confidence != nil {
		clone.Confidence = new(big.Int).Set(q.Confidence)
	}
	return clone
}

// PriceSet carries the quotes an operation needs, keyed by mint.
type PriceSet map[string]PriceQuote

// Quote returns the stored quote for a mint, reporting availability.
func (s PriceSet) Quote(mint string) (PriceQuote, bool) {
	quote, ok := s[normalizeMint(mint)]
	return quote, ok
}

// Set records a quote under the canonical mint symbol.
func (s PriceSet) Set(mint string, quote PriceQuote) {
	s[normalizeMint(mint)] = quote
}

// PriceOracle is the collaborator contract for resolving quotes ahead of an
// engine call. Implementations signal unavailability with an error.
type PriceOracle interface {
	Quote(mint string) (PriceQuote, error)
}

// ManualOracle is an operator-fed PriceOracle. Quotes are published out of
// band and served until overwritten; staleness enforcement stays with the
// engine's risk config.
type ManualOracle struct {
	mu     sync.RWMutex
	quotes map[string]PriceQuote
}

// NewManualOracle returns an empty oracle.
func NewManualOracle() *ManualOracle {
	return &ManualOracle{quotes: make(map[string]PriceQuote)}
}

// Publish stores or replaces the quote for a mint.
func (o *ManualOracle) Publish(mint string, quote PriceQuote) {
	if o == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.quotes[normalizeMint(mint)] = quote.Clone()
}

// Quote implements PriceOracle.
func (o *ManualOracle) Quote(mint string) (PriceQuote, error) {
	if o == nil {
		return PriceQuote{}, ErrPriceUnavailable
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	quote, ok := o.quotes[normalizeMint(mint)]
	if !ok {
		return PriceQuote{}, ErrPriceUnavailable
	}
	return quote.Clone(), nil
}

// validateQuote enforces the freshness and confidence bounds from the risk
// config. A zero or missing price is treated as unavailable.
func validateQuote(quote PriceQuote, now int64, risk RiskConfig) error {
	if quote.Price == nil || quote.Price.Sign() <= 0 {
		return ErrPriceUnavailable
	}
	if risk.MaxPriceStalenessSeconds > 0 && now-quote.PublishTime > risk.MaxPriceStalenessSeconds {
		return ErrStalePrice
	}
	if risk.MaxConfidenceBps > 0 && quote.Confidence != nil && quote.Confidence.Sign() > 0 {
		// confidence/price > maxConfidenceBps/10000, compared in integers.
		lhs := new(big.Int).Mul(quote.Confidence, bigBps)
		rhs := new(big.Int).Mul(quote.Price, new(big.Int).SetUint64(risk.MaxConfidenceBps))
		if lhs.Cmp(rhs) > 0 {
			return ErrPriceConfidenceTooWide
		}
	}
	return nil
}

// priceFor validates and returns the quote for a mint from the supplied set.
func priceFor(prices PriceSet, mint string, now int64, risk RiskConfig) (*big.Int, error) {
	quote, ok := prices.Quote(mint)
	if !ok {
		return nil, ErrPriceUnavailable
	}
	if err := validateQuote(quote, now, risk); err != nil {
		return nil, err
	}
	return quote.Price, nil
}

func normalizeMint(mint string) string {
	return strings.ToUpper(strings.TrimSpace(mint))
}
