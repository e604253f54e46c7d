// Package sqlite implements cache.Store on an embedded SQLite database
// (modernc.org/sqlite, no cgo). It suits single-node deployments that need
// mappings and the ID counter to survive restarts without a Redis server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hupe1980/globalid/cache"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const schema = `
CREATE TABLE IF NOT EXISTS mappings (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS track_history (
	seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	global_id INTEGER NOT NULL,
	entry     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS track_history_gid ON track_history (global_id, seq);
CREATE TABLE IF NOT EXISTS counters (
	name  TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
`

// Store is a SQLite-backed cache.Store.
type Store struct {
	db   *sql.DB
	opts cache.Options
}

var _ cache.Store = (*Store)(nil)

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string, optFns ...cache.Option) (*Store, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// One writer keeps the counter update and history appends serialized.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, cache.Unavailable("ping", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}

	s := &Store{db: db, opts: cache.ApplyOptions(optFns...)}
	s.opts.Logger.InfoContext(ctx, "Opened SQLite cache", slog.String("path", path))
	return s, nil
}

func (s *Store) nowNanos() int64 { return s.opts.Now().UnixNano() }

// Get implements cache.Store.
func (s *Store) Get(ctx context.Context, cameraID, trackID string) (cache.Record, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM mappings WHERE key = ? AND (expires_at = 0 OR expires_at > ?)`,
		cache.RecordKey(cameraID, trackID), s.nowNanos(),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.Record{}, false, nil
	}
	if err != nil {
		return cache.Record{}, false, cache.Unavailable("get", err)
	}

	rec, err := cache.DecodeRecord(s.opts.Codec, cameraID, trackID, data)
	if err != nil {
		return cache.Record{}, false, err
	}
	return rec, true, nil
}

// Set implements cache.Store.
func (s *Store) Set(ctx context.Context, rec cache.Record, ttl time.Duration) error {
	data, err := cache.EncodeRecord(s.opts.Codec, rec)
	if err != nil {
		return err
	}
	return s.SetRaw(ctx, cache.RecordKey(rec.CameraID, rec.TrackID), data, ttl)
}

// SetRaw stores value under key verbatim.
func (s *Store) SetRaw(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expires int64
	if ttl > 0 {
		expires = s.opts.Now().Add(ttl).UnixNano()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mappings (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expires,
	)
	return cache.Unavailable("set", err)
}

// NextGlobalID implements cache.Store.
func (s *Store) NextGlobalID(ctx context.Context) (uint64, error) {
	if s.opts.Counter != nil {
		return s.opts.Counter.Next(ctx)
	}
	var n int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO counters (name, value) VALUES (?, 1)
		 ON CONFLICT (name) DO UPDATE SET value = value + 1
		 RETURNING value`,
		cache.CounterKey,
	).Scan(&n)
	if err != nil {
		return 0, cache.Unavailable("counter", err)
	}
	return uint64(n), nil
}

// AppendTrackHistory implements cache.Store.
func (s *Store) AppendTrackHistory(ctx context.Context, globalID uint64, cameraID, trackID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO track_history (global_id, entry) VALUES (?, ?)`,
		int64(globalID), cache.HistoryEntry(cameraID, trackID),
	)
	return cache.Unavailable("history append", err)
}

// TrackHistory implements cache.Store.
func (s *Store) TrackHistory(ctx context.Context, globalID uint64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry FROM track_history WHERE global_id = ? ORDER BY seq`,
		int64(globalID),
	)
	if err != nil {
		return nil, cache.Unavailable("history", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, cache.Unavailable("history scan", err)
		}
		out = append(out, e)
	}
	return out, cache.Unavailable("history rows", rows.Err())
}

// Records implements cache.Store.
func (s *Store) Records(ctx context.Context) ([]cache.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM mappings WHERE expires_at = 0 OR expires_at > ?`,
		s.nowNanos(),
	)
	if err != nil {
		return nil, cache.Unavailable("records", err)
	}
	defer rows.Close()

	var recs []cache.Record
	for rows.Next() {
		var (
			key  string
			data []byte
		)
		if err := rows.Scan(&key, &data); err != nil {
			return nil, cache.Unavailable("records scan", err)
		}
		cam, track, ok := cache.ParseRecordKey(key)
		if !ok {
			continue
		}
		rec, err := cache.DecodeRecord(s.opts.Codec, cam, track, data)
		if err != nil {
			s.opts.Logger.WarnContext(ctx, "Skipping malformed cache value", slog.String("key", key), slog.String("error", err.Error()))
			continue
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, cache.Unavailable("records rows", err)
	}

	cache.SortRecords(recs)
	return recs, nil
}

// Purge deletes expired mappings and returns how many were removed.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM mappings WHERE expires_at <> 0 AND expires_at <= ?`,
		s.nowNanos(),
	)
	if err != nil {
		return 0, cache.Unavailable("purge", err)
	}
	return res.RowsAffected()
}

// RunPurge calls Purge every interval until ctx is done.
func (s *Store) RunPurge(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.Purge(ctx)
			if err != nil {
				s.opts.Logger.WarnContext(ctx, "Purge failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				s.opts.Logger.DebugContext(ctx, "Purged expired mappings", slog.Int64("count", n))
			}
		}
	}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
