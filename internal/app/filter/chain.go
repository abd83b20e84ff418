package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/cuelist/internal/domain/track"
	"github.com/osa030/cuelist/internal/infra/config"
)

// Chain executes filters in sequence.
type Chain struct {
	filters []Filter
}

// NewChain creates a new filter chain.
func NewChain(filters ...Filter) *Chain {
	return &Chain{
		filters: append(make([]Filter, 0, len(filters)), filters...),
	}
}

// Add adds a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Execute runs all filters in sequence.
// Returns immediately if any filter rejects the request.
func (c *Chain) Execute(ctx context.Context, req Request, t track.Track) Result {
	for _, f := range c.filters {
		result := f.Check(ctx, req, t)
		if !result.Accepted {
			result.Filter = f.Name()
			return result
		}
	}
	return Accept()
}

// Filters returns all filters in the chain.
func (c *Chain) Filters() []Filter {
	return c.filters
}

// Build creates the chain described by cfg.
// The duplicate filter is always first; the market filter follows unless
// explicitly disabled; registered filters are added when enabled.
func Build(cfg *config.Config, entries EntrySource) (*Chain, error) {
	c := NewChain()

	dup := NewDuplicateEntryFilter(entries)
	if err := dup.ValidateConfig(cfg.FilterSettings(dup.Name())); err != nil {
		return nil, errors.Wrapf(err, "filter %s", dup.Name())
	}
	c.Add(dup)

	if f, ok := cfg.Filters[marketFilterName]; !ok || f.Enabled {
		c.Add(NewMarketFilter(cfg.Spotify.Market))
	}

	for _, name := range RegisteredNames() {
		if !cfg.IsFilterEnabled(name) {
			continue
		}
		f := registry[name]()
		if err := f.ValidateConfig(cfg.FilterSettings(name)); err != nil {
			return nil, errors.Wrapf(err, "filter %s", name)
		}
		c.Add(f)
	}

	for _, f := range c.filters {
		zlog.Debug().Msgf("filter: enabled: name=%s", f.Name())
	}
	return c, nil
}

// Catalog returns one instance of every known filter, for listing.
func Catalog() []Filter {
	all := []Filter{NewDuplicateEntryFilter(nil), NewMarketFilter("")}
	for _, name := range RegisteredNames() {
		all = append(all, registry[name]())
	}
	return all
}
