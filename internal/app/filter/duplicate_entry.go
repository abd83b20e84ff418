package filter

import (
	"context"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"

	"github.com/osa030/cuelist/internal/domain/playlist"
	"github.com/osa030/cuelist/internal/domain/track"
)

const duplicateEntryCode = "duplicate_entry"

// EntrySource gives read access to the playlist being guarded.
type EntrySource interface {
	Entries() []playlist.Entry
}

// DuplicateEntryConfig represents the configuration for DuplicateEntryFilter.
type DuplicateEntryConfig struct {
	// DetectRemasters also rejects remasters and alternate versions of a
	// track already in the playlist. Cover songs by other artists pass.
	DetectRemasters bool `yaml:"detect_remasters" mapstructure:"detect_remasters"`
}

// DuplicateEntryFilter rejects tracks already in the playlist.
// Entry ids are track ids, so an exact match is always rejected.
type DuplicateEntryFilter struct {
	entries EntrySource
	config  DuplicateEntryConfig
}

// NewDuplicateEntryFilter creates a new duplicate entry filter.
func NewDuplicateEntryFilter(entries EntrySource) *DuplicateEntryFilter {
	return &DuplicateEntryFilter{entries: entries}
}

// Name returns the filter name.
func (f *DuplicateEntryFilter) Name() string {
	return "duplicate_entry_filter"
}

// Description returns the filter description.
func (f *DuplicateEntryFilter) Description() string {
	return "Rejects tracks already in the playlist (always on; detect_remasters also catches remasters and edits)"
}

// ReturnCodes returns possible return codes.
func (f *DuplicateEntryFilter) ReturnCodes() []string {
	return []string{duplicateEntryCode}
}

// ValidateConfig validates the filter configuration.
func (f *DuplicateEntryFilter) ValidateConfig(settings map[string]any) error {
	var cfg DuplicateEntryConfig
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	f.config = cfg
	return nil
}

// Check checks if the track is a duplicate.
func (f *DuplicateEntryFilter) Check(ctx context.Context, req Request, requested track.Track) Result {
	if f.entries == nil {
		return Accept()
	}

	for _, e := range f.entries.Entries() {
		if e.ID == requested.ID || e.ID == req.TrackID {
			return Reject(duplicateEntryCode)
		}
		if f.config.DetectRemasters && isRemaster(e.Track, requested) {
			return Reject(duplicateEntryCode)
		}
	}
	return Accept()
}

// isRemaster reports whether two tracks are versions of the same song
// by the same main artist.
func isRemaster(a, b track.Track) bool {
	if normalizeTrackName(a.Name) != normalizeTrackName(b.Name) {
		return false
	}
	return isSameArtist(a, b)
}

var (
	remasterPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*-?\s*\d{4}\s+remaster(ed)?`),      // "- 2011 Remaster"
		regexp.MustCompile(`\s*\(remaster(ed)?\s*\d{0,4}\)`),     // "(Remastered 2023)"
		regexp.MustCompile(`\s*\[remaster(ed)?\s*\d{0,4}\]`),     // "[Remastered]"
		regexp.MustCompile(`\s*-?\s*remaster(ed)?(\s+version)?`), // "- Remastered"
		regexp.MustCompile(`\s*\(.*?remaster.*?\)`),              // "(Any Remaster text)"
		regexp.MustCompile(`\s*\[.*?remaster.*?\]`),              // "[Any Remaster text]"
	}
	versionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*\(.*?version\)`),        // "(Single Version)"
		regexp.MustCompile(`\s*\(.*?edit\)`),           // "(Radio Edit)"
		regexp.MustCompile(`\s*-?\s*live`),             // "- Live"
		regexp.MustCompile(`\s*\(live\)`),              // "(Live)"
		regexp.MustCompile(`\s*-?\s*radio\s+edit`),     // "- Radio Edit"
		regexp.MustCompile(`\s*-?\s*single\s+version`), // "- Single Version"
	}
	spaces = regexp.MustCompile(`\s+`)
)

// normalizeTrackName strips remaster and version annotations.
func normalizeTrackName(name string) string {
	normalized := strings.ToLower(name)
	for _, p := range remasterPatterns {
		normalized = p.ReplaceAllString(normalized, "")
	}
	for _, p := range versionPatterns {
		normalized = p.ReplaceAllString(normalized, "")
	}

	normalized = strings.TrimSpace(normalized)
	normalized = spaces.ReplaceAllString(normalized, " ")
	return strings.TrimRight(normalized, " -")
}

// isSameArtist compares the main artists, case-insensitive.
func isSameArtist(a, b track.Track) bool {
	if len(a.Artists) == 0 || len(b.Artists) == 0 {
		return false
	}
	return strings.EqualFold(a.Artists[0], b.Artists[0])
}
