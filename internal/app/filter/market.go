package filter

import (
	"context"

	"github.com/osa030/cuelist/internal/domain/track"
)

const marketFilterName = "market_filter"

// MarketFilter checks if the track is available in the configured market.
type MarketFilter struct {
	market string
}

// NewMarketFilter creates a new MarketFilter with the specified market.
func NewMarketFilter(market string) *MarketFilter {
	return &MarketFilter{market: market}
}

func (f *MarketFilter) Name() string {
	return marketFilterName
}

func (f *MarketFilter) Description() string {
	return "Rejects tracks that cannot be played in the configured market"
}

func (f *MarketFilter) ReturnCodes() []string {
	return []string{"market_restriction"}
}

func (f *MarketFilter) ValidateConfig(settings map[string]any) error {
	return nil
}

func (f *MarketFilter) Check(ctx context.Context, req Request, t track.Track) Result {
	if f.market == "" {
		return Accept()
	}

	if !t.IsAvailableInMarket(f.market) {
		return Reject("market_restriction")
	}
	return Accept()
}
