// Package track provides the Track domain entity.
package track

import (
	"strconv"
	"strings"
	"time"
)

// Track represents a Spotify track entity.
// Contains only information retrieved from Spotify API.
type Track struct {
	ID          string        `json:"id"`                    // Spotify Track ID
	Name        string        `json:"name"`                  // Track name
	Artists     []string      `json:"artists"`               // Artist names
	Album       string        `json:"album"`                 // Album name
	AlbumArtURL string        `json:"album_art_url"`         // Album art URL
	Duration    time.Duration `json:"duration"`              // Track duration
	URL         string        `json:"url"`                   // Spotify URL
	Popularity  int           `json:"popularity"`            // Popularity score (0-100)
	Explicit    bool          `json:"explicit"`              // Explicit content flag
	Markets     []string      `json:"markets,omitempty"`     // Available markets
	IsPlayable  *bool         `json:"is_playable,omitempty"` // Playable in the specified market (nil if market not specified)
}

// IsAvailableInMarket checks if the track is available in the specified market.
func (t *Track) IsAvailableInMarket(market string) bool {
	// If IsPlayable is set, it takes precedence (Track Relinking support)
	if t.IsPlayable != nil {
		return *t.IsPlayable
	}

	// Fallback to checking markets list
	for _, m := range t.Markets {
		if m == market {
			return true
		}
	}
	return false
}

// ArtistLine joins the artist names for display.
func (t *Track) ArtistLine() string {
	return strings.Join(t.Artists, ", ")
}

// DurationText returns the duration as "3 m 25 s".
func (t *Track) DurationText() string {
	return HumanDuration(t.Duration)
}

// HumanDuration renders d with day, hour, minute and second units,
// omitting the zero ones. Sub-second durations render as "0 s".
func HumanDuration(d time.Duration) string {
	total := int64(d / time.Second)
	if total <= 0 {
		return "0 s"
	}

	units := []struct {
		size   int64
		suffix string
	}{
		{24 * 60 * 60, "d"},
		{60 * 60, "h"},
		{60, "m"},
		{1, "s"},
	}

	parts := make([]string, 0, len(units))
	for _, u := range units {
		n := total / u.size
		total %= u.size
		if n == 0 {
			continue
		}
		parts = append(parts, strconv.FormatInt(n, 10)+" "+u.suffix)
	}
	return strings.Join(parts, " ")
}
