// Package allocation turns portfolio weights and a cash budget into whole-share orders.
package allocation

import (
	"sort"
	"strings"

	"github.com/aristath/frontier/internal/domain"
	"github.com/aristath/frontier/pkg/formulas"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// weightSumTolerance is the smallest total weight that can be normalized
const weightSumTolerance = 1e-12

// PriceLookup resolves the latest unit price for an identifier
type PriceLookup interface {
	LatestPrice(key string) (float64, bool)
}

// PriceLookupFunc adapts a function to PriceLookup
type PriceLookupFunc func(key string) (float64, bool)

// LatestPrice calls f(key)
func (f PriceLookupFunc) LatestPrice(key string) (float64, bool) {
	return f(key)
}

// AssetDirectory describes assets for display and price lookup
type AssetDirectory interface {
	Describe(assetID string) (symbol, name string, ok bool)
}

// Request is an allocation request. Weights are aligned with Assets.
type Request struct {
	Assets  []string  `json:"assets"`
	Weights []float64 `json:"weights"`
	Budget  float64   `json:"budget"`
}

// Item is the allocation for one asset
type Item struct {
	AssetID   string   `json:"asset_id"`
	Symbol    string   `json:"symbol"`
	Name      string   `json:"name"`
	Weight    float64  `json:"weight"`
	Price     *float64 `json:"price"`
	Shares    int64    `json:"shares"`
	Allocated float64  `json:"allocated_value"`
	Target    float64  `json:"target_value"`
}

// Plan is a complete integer-share allocation
type Plan struct {
	Items    []Item  `json:"allocations"`
	Budget   float64 `json:"budget"`
	Invested float64 `json:"invested"`
	Leftover float64 `json:"leftover"`
}

// Shares returns the share count of an asset
func (p Plan) Shares(assetID string) int64 {
	for _, it := range p.Items {
		if it.AssetID == assetID {
			return it.Shares
		}
	}
	return 0
}

// Allocator converts weights into share counts
type Allocator struct {
	directory AssetDirectory
	log       zerolog.Logger
}

// NewAllocator creates a new allocator; directory may be nil
func NewAllocator(directory AssetDirectory, log zerolog.Logger) *Allocator {
	return &Allocator{
		directory: directory,
		log:       log.With().Str("component", "capital_allocator").Logger(),
	}
}

// position is the working state of one asset during allocation
type position struct {
	item      Item
	index     int
	price     decimal.Decimal
	priced    bool
	shares    decimal.Decimal
	remainder decimal.Decimal
}

// Allocate computes floor shares per asset and then hands out single extra
// shares by largest fractional remainder (earlier input first on ties) while
// the leftover cash covers them. Each asset receives at most one extra share.
// The plan never spends more than the budget.
func (a *Allocator) Allocate(req Request, prices PriceLookup) (Plan, error) {
	weights, err := validate(req)
	if err != nil {
		return Plan{}, err
	}

	budget := decimal.NewFromFloat(req.Budget)
	positions := make([]*position, len(req.Assets))
	spent := decimal.Zero

	for i, raw := range req.Assets {
		id := strings.TrimSpace(raw)
		symbol, name := a.describe(id)

		target := budget.Mul(decimal.NewFromFloat(weights[i]))
		pos := &position{
			item: Item{
				AssetID: id,
				Symbol:  symbol,
				Name:    name,
				Weight:  weights[i],
				Target:  target.InexactFloat64(),
			},
			index: i,
		}
		positions[i] = pos

		price, ok := resolvePrice(prices, symbol, id)
		if !ok {
			a.log.Debug().Str("asset_id", id).Msg("No usable price, asset left unallocated")
			continue
		}
		p := price
		pos.item.Price = &p
		pos.price = decimal.NewFromFloat(price)
		pos.priced = true

		exact := target.Div(pos.price)
		pos.shares = exact.Floor()
		pos.remainder = exact.Sub(pos.shares)
		spent = spent.Add(pos.shares.Mul(pos.price))
	}

	leftover := a.distributeRemainders(positions, budget.Sub(spent))

	plan := Plan{Budget: req.Budget, Items: make([]Item, len(positions))}
	invested := decimal.Zero
	for i, pos := range positions {
		if pos.priced {
			allocated := pos.shares.Mul(pos.price)
			pos.item.Shares = pos.shares.IntPart()
			pos.item.Allocated = allocated.InexactFloat64()
			invested = invested.Add(allocated)
		}
		plan.Items[i] = pos.item
	}
	plan.Invested = invested.InexactFloat64()
	plan.Leftover = leftover.InexactFloat64()

	a.log.Info().
		Int("num_assets", len(plan.Items)).
		Float64("budget", plan.Budget).
		Float64("invested", plan.Invested).
		Float64("leftover", plan.Leftover).
		Msg("Capital allocated")

	return plan, nil
}

func (a *Allocator) distributeRemainders(positions []*position, leftover decimal.Decimal) decimal.Decimal {
	candidates := make([]*position, 0, len(positions))
	for _, pos := range positions {
		if pos.priced && pos.remainder.IsPositive() {
			candidates = append(candidates, pos)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if c := candidates[i].remainder.Cmp(candidates[j].remainder); c != 0 {
			return c > 0
		}
		return candidates[i].index < candidates[j].index
	})

	for _, pos := range candidates {
		if pos.price.GreaterThan(leftover) {
			continue
		}
		pos.shares = pos.shares.Add(decimal.NewFromInt(1))
		pos.remainder = decimal.Zero
		leftover = leftover.Sub(pos.price)
	}
	return leftover
}

func (a *Allocator) describe(id string) (string, string) {
	if a.directory != nil {
		if symbol, name, ok := a.directory.Describe(id); ok {
			if symbol == "" {
				symbol = id
			}
			if name == "" {
				name = symbol
			}
			return symbol, name
		}
	}
	return id, id
}

// resolvePrice tries the symbol first, then the raw asset id
func resolvePrice(prices PriceLookup, symbol, id string) (float64, bool) {
	if prices == nil {
		return 0, false
	}
	for _, key := range []string{symbol, id} {
		if key == "" {
			continue
		}
		if p, ok := prices.LatestPrice(key); ok && p > 0 && formulas.IsFinite(p) {
			return p, true
		}
	}
	return 0, false
}

func validate(req Request) ([]float64, error) {
	if len(req.Assets) == 0 {
		return nil, domain.Validationf("asset list is empty")
	}
	if len(req.Weights) != len(req.Assets) {
		return nil, domain.Validationf("got %d weights for %d assets", len(req.Weights), len(req.Assets))
	}
	if !formulas.IsFinite(req.Budget) || req.Budget < 0 {
		return nil, domain.Validationf("budget must be a finite non-negative amount, got %v", req.Budget)
	}

	seen := make(map[string]bool, len(req.Assets))
	for i, raw := range req.Assets {
		key := strings.ToUpper(strings.TrimSpace(raw))
		if key == "" {
			return nil, domain.Validationf("asset at position %d is blank", i)
		}
		if seen[key] {
			return nil, domain.Validationf("duplicate asset %q", raw)
		}
		seen[key] = true
	}

	clipped := make([]float64, len(req.Weights))
	total := 0.0
	for i, w := range req.Weights {
		if !formulas.IsFinite(w) {
			return nil, domain.Validationf("weight for %q is not finite", req.Assets[i])
		}
		if w > 0 {
			clipped[i] = w
			total += w
		}
	}
	if total < weightSumTolerance {
		return nil, domain.Validationf("weights sum to %g after clipping negatives", total)
	}
	for i := range clipped {
		clipped[i] /= total
	}
	return clipped, nil
}
