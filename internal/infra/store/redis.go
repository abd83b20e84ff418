package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/cuelist/internal/domain/playlist"
)

// RedisSettings configures the Redis store.
type RedisSettings struct {
	Addr        string `mapstructure:"addr" default:"localhost:6379" validate:"required"`
	Password    string `mapstructure:"password"`
	DB          int    `mapstructure:"db" validate:"gte=0"`
	KeyPrefix   string `mapstructure:"key_prefix" default:"cuelist:"`
	DialTimeout int    `mapstructure:"dial_timeout_ms" default:"5000" validate:"gte=0"`
}

// Redis stores entries as JSON values in one hash keyed by entry id.
type Redis struct {
	client redis.UniversalClient
	key    string
	owned  bool
}

// OpenRedis connects to Redis and checks the connection.
func OpenRedis(ctx context.Context, s RedisSettings) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        s.Addr,
		Password:    s.Password,
		DB:          s.DB,
		DialTimeout: time.Duration(s.DialTimeout) * time.Millisecond,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "connect to redis at %s", s.Addr)
	}
	zlog.Info().Msgf("store: redis at %s, key=%sentries", s.Addr, s.KeyPrefix)
	r := NewRedis(client, s.KeyPrefix)
	r.owned = true
	return r, nil
}

// NewRedis wraps an existing client. The caller keeps ownership of client.
func NewRedis(client redis.UniversalClient, keyPrefix string) *Redis {
	return &Redis{client: client, key: keyPrefix + "entries"}
}

func (r *Redis) Save(ctx context.Context, entries ...playlist.Entry) error {
	values := make([]any, 0, len(entries)*2)
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return errors.Wrapf(err, "encode entry %s", e.ID)
		}
		values = append(values, e.ID, data)
	}
	if len(values) == 0 {
		return nil
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.key, values...)
		return nil
	})
	return errors.Wrap(err, "save entries")
}

func (r *Redis) FetchAll(ctx context.Context) ([]playlist.Entry, error) {
	rows, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, errors.Wrap(err, "fetch entries")
	}

	out := make([]playlist.Entry, 0, len(rows))
	for id, data := range rows {
		var e playlist.Entry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, errors.Wrapf(err, "decode entry %s", id)
		}
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	return errors.Wrapf(r.client.HDel(ctx, r.key, id).Err(), "delete %s", id)
}

func (r *Redis) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}
