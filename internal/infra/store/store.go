// Package store persists playlist entries.
package store

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/cuelist/internal/domain/playlist"
	"github.com/osa030/cuelist/internal/infra/config"
)

// Store is a durable entry collection.
type Store interface {
	// Save writes all entries in one atomic operation.
	Save(ctx context.Context, entries ...playlist.Entry) error
	// FetchAll returns every entry in ascending order key order.
	FetchAll(ctx context.Context) ([]playlist.Entry, error)
	// Delete removes id. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
	Close() error
}

// Open creates the store selected by cfg.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		zlog.Info().Msg("store: using in-memory store")
		return NewMemory(), nil
	case "sqlite", "":
		var s SQLiteSettings
		if err := decodeSettings(cfg.Settings, &s); err != nil {
			return nil, errors.Wrap(err, "sqlite settings")
		}
		return OpenSQLite(ctx, s)
	case "redis":
		var s RedisSettings
		if err := decodeSettings(cfg.Settings, &s); err != nil {
			return nil, errors.Wrap(err, "redis settings")
		}
		return OpenRedis(ctx, s)
	default:
		return nil, errors.Newf("unknown store driver %q", cfg.Driver)
	}
}

// decodeSettings fills out from a free-form settings map, applying struct
// defaults and validation.
func decodeSettings(settings map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(settings); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(out); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(out); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	return nil
}

func sortEntries(entries []playlist.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].OrderKey < entries[j].OrderKey
	})
}
