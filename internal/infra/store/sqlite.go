package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/osa030/cuelist/internal/domain/playlist"
	"github.com/osa030/cuelist/internal/domain/track"
)

const (
	appName    = "cuelist"
	dbFileName = "cuelist.db"
)

// SQLiteSettings configures the SQLite store.
type SQLiteSettings struct {
	// Path of the database file; empty uses the XDG data directory.
	// ":memory:" keeps the database in memory.
	Path          string `mapstructure:"path"`
	BusyTimeoutMs int    `mapstructure:"busy_timeout_ms" default:"5000" validate:"gte=0"`
}

// SQLite stores entries in a single table.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and if needed creates) the database.
func OpenSQLite(ctx context.Context, s SQLiteSettings) (*SQLite, error) {
	path := s.Path
	if path == "" {
		p, err := xdg.DataFile(filepath.Join(appName, dbFileName))
		if err != nil {
			return nil, errors.Wrap(err, "resolve database path")
		}
		path = p
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "create database directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	// One connection: writes are serialized and ":memory:" stays one database.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", s.BusyTimeoutMs)); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "set busy timeout")
	}
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	zlog.Info().Msgf("store: sqlite database at %s", path)
	return &SQLite{db: db}, nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	// order_key is not UNIQUE: a swap rewrites both rows inside one transaction.
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			id TEXT PRIMARY KEY,
			order_key TEXT NOT NULL,
			track TEXT NOT NULL,
			added_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_order_key ON entries(order_key)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "create schema")
		}
	}
	return nil
}

// withTx executes fn within a transaction.
func (s *SQLite) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) Save(ctx context.Context, entries ...playlist.Entry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO entries (id, order_key, track, added_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				order_key = excluded.order_key,
				track = excluded.track,
				added_at = excluded.added_at
		`)
		if err != nil {
			return errors.Wrap(err, "prepare save")
		}
		defer stmt.Close()

		for _, e := range entries {
			data, err := json.Marshal(e.Track)
			if err != nil {
				return errors.Wrapf(err, "encode track %s", e.ID)
			}
			if _, err := stmt.ExecContext(ctx, e.ID, string(e.OrderKey), string(data), e.AddedAt.UnixMilli()); err != nil {
				return errors.Wrapf(err, "save %s", e.ID)
			}
		}
		return nil
	})
}

func (s *SQLite) FetchAll(ctx context.Context) ([]playlist.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, order_key, track, added_at FROM entries ORDER BY order_key`)
	if err != nil {
		return nil, errors.Wrap(err, "query entries")
	}
	defer rows.Close()

	var out []playlist.Entry
	for rows.Next() {
		var (
			e       playlist.Entry
			key     string
			data    string
			addedAt int64
		)
		if err := rows.Scan(&e.ID, &key, &data, &addedAt); err != nil {
			return nil, errors.Wrap(err, "scan entry")
		}
		var t track.Track
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return nil, errors.Wrapf(err, "decode track %s", e.ID)
		}
		e.OrderKey = playlist.OrderKey(key)
		e.Track = t
		e.AddedAt = time.UnixMilli(addedAt)
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "iterate entries")
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id)
	return errors.Wrapf(err, "delete %s", id)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
