package filter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/cuelist/internal/domain/track"
	"github.com/osa030/cuelist/internal/infra/config"
)

func TestMarketFilter_Check(t *testing.T) {
	playable := true
	notPlayable := false

	tests := []struct {
		name         string
		filterMarket string
		trackMarkets []string
		isPlayable   *bool
		wantAccepted bool
	}{
		{"track available in market", "JP", []string{"JP", "US", "UK"}, nil, true},
		{"track not available in market", "JP", []string{"US", "UK"}, nil, false},
		{"no market filter", "", []string{"US"}, nil, true},
		{"empty track markets", "JP", []string{}, nil, false},
		{"relinked playable wins", "JP", nil, &playable, true},
		{"relinked not playable", "JP", []string{"JP"}, &notPlayable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter := NewMarketFilter(tt.filterMarket)
			trk := track.Track{ID: "test-track", Markets: tt.trackMarkets, IsPlayable: tt.isPlayable}

			result := filter.Check(context.Background(), Request{TrackID: "test-track"}, trk)

			assert.Equal(t, tt.wantAccepted, result.Accepted)
			if !tt.wantAccepted {
				assert.Equal(t, "market_restriction", result.Code)
			}
		})
	}
}

func TestChain_StopsAtFirstRejection(t *testing.T) {
	existing := track.Track{ID: "dup", Markets: []string{"JP"}}
	chain := NewChain(NewDuplicateEntryFilter(entriesOf(existing)), NewMarketFilter("JP"))

	result := chain.Execute(context.Background(), Request{TrackID: "dup"}, existing)
	assert.False(t, result.Accepted)
	assert.Equal(t, "duplicate_entry", result.Code)
	assert.Equal(t, "duplicate_entry_filter", result.Filter)

	result = chain.Execute(context.Background(), Request{TrackID: "new"}, track.Track{ID: "new", Markets: []string{"US"}})
	assert.False(t, result.Accepted)
	assert.Equal(t, "market_filter", result.Filter)

	result = chain.Execute(context.Background(), Request{TrackID: "ok"}, track.Track{ID: "ok", Markets: []string{"JP"}})
	assert.True(t, result.Accepted)
	assert.Empty(t, result.Filter)
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name    string
		filters map[string]config.FilterConfig
		want    []string
		wantErr bool
	}{
		{
			name: "defaults",
			want: []string{"duplicate_entry_filter", "market_filter"},
		},
		{
			name: "market disabled",
			filters: map[string]config.FilterConfig{
				"market_filter": {Enabled: false},
			},
			want: []string{"duplicate_entry_filter"},
		},
		{
			name: "duration limit enabled",
			filters: map[string]config.FilterConfig{
				"duration_limit_filter": {Enabled: true, Settings: map[string]any{"max_minutes": 8}},
			},
			want: []string{"duplicate_entry_filter", "market_filter", "duration_limit_filter"},
		},
		{
			name: "invalid duration settings",
			filters: map[string]config.FilterConfig{
				"duration_limit_filter": {Enabled: true, Settings: map[string]any{"min_minutes": 0.5}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Filters: tt.filters}
			cfg.Spotify.Market = "JP"

			chain, err := Build(cfg, entriesOf())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			names := make([]string, 0, len(chain.Filters()))
			for _, f := range chain.Filters() {
				names = append(names, f.Name())
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestBuild_DurationLimitApplies(t *testing.T) {
	cfg := &config.Config{Filters: map[string]config.FilterConfig{
		"duration_limit_filter": {Enabled: true, Settings: map[string]any{"max_minutes": 5}},
		"market_filter":         {Enabled: false},
	}}
	chain, err := Build(cfg, entriesOf())
	require.NoError(t, err)

	result := chain.Execute(context.Background(), Request{}, track.Track{ID: "long", Duration: 9 * time.Minute})
	assert.Equal(t, "duration_limit_exceeded", result.Code)
}

func TestCatalog(t *testing.T) {
	names := map[string]bool{}
	for _, f := range Catalog() {
		names[f.Name()] = true
		assert.NotEmpty(t, f.Description())
		assert.NotEmpty(t, f.ReturnCodes())
	}
	assert.True(t, names["duplicate_entry_filter"])
	assert.True(t, names["market_filter"])
	assert.True(t, names["duration_limit_filter"])
}
