// Package redis implements cache.Store on Redis.
//
// The key layout is shared with earlier deployments, so an existing Redis
// database keeps its mappings, histories and counter.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hupe1980/globalid/cache"
	goredis "github.com/redis/go-redis/v9"
)

const scanCount = 256

// Store is a Redis-backed cache.Store.
type Store struct {
	client goredis.UniversalClient
	owned  bool
	opts   cache.Options
}

var _ cache.Store = (*Store)(nil)

// Open connects to the Redis server at url (redis://host:port/db).
func Open(ctx context.Context, url string, optFns ...cache.Option) (*Store, error) {
	ro, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}

	client := goredis.NewClient(ro)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, cache.Unavailable("ping", err)
	}

	s := New(client, optFns...)
	s.owned = true
	s.opts.Logger.InfoContext(ctx, "Connected to Redis", slog.String("addr", ro.Addr), slog.Int("db", ro.DB))
	return s, nil
}

// New wraps an existing client. Close does not close client.
func New(client goredis.UniversalClient, optFns ...cache.Option) *Store {
	return &Store{
		client: client,
		opts:   cache.ApplyOptions(optFns...),
	}
}

// Get implements cache.Store.
func (s *Store) Get(ctx context.Context, cameraID, trackID string) (cache.Record, bool, error) {
	data, err := s.client.Get(ctx, cache.RecordKey(cameraID, trackID)).Bytes()
	if errors.Is(err, goredis.Nil) {
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
	return cache.Unavailable("set", s.client.Set(ctx, cache.RecordKey(rec.CameraID, rec.TrackID), data, ttl).Err())
}

// NextGlobalID implements cache.Store. Without an external counter it uses
// INCR on the shared counter key.
func (s *Store) NextGlobalID(ctx context.Context) (uint64, error) {
	if s.opts.Counter != nil {
		return s.opts.Counter.Next(ctx)
	}
	n, err := s.client.Incr(ctx, cache.CounterKey).Result()
	if err != nil {
		return 0, cache.Unavailable("incr", err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("redis: counter %s returned %d", cache.CounterKey, n)
	}
	return uint64(n), nil
}

// AppendTrackHistory implements cache.Store.
func (s *Store) AppendTrackHistory(ctx context.Context, globalID uint64, cameraID, trackID string) error {
	return cache.Unavailable("rpush", s.client.RPush(ctx, cache.HistoryKey(globalID), cache.HistoryEntry(cameraID, trackID)).Err())
}

// TrackHistory implements cache.Store.
func (s *Store) TrackHistory(ctx context.Context, globalID uint64) ([]string, error) {
	h, err := s.client.LRange(ctx, cache.HistoryKey(globalID), 0, -1).Result()
	if err != nil {
		return nil, cache.Unavailable("lrange", err)
	}
	return h, nil
}

// Records implements cache.Store. It walks the keyspace with SCAN, so it
// never blocks the server the way KEYS does.
func (s *Store) Records(ctx context.Context) ([]cache.Record, error) {
	var recs []cache.Record

	iter := s.client.Scan(ctx, 0, cache.RecordPattern, scanCount).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		cam, track, ok := cache.ParseRecordKey(key)
		if !ok {
			continue
		}

		data, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			continue // expired since SCAN
		}
		if err != nil {
			return nil, cache.Unavailable("get", err)
		}

		rec, err := cache.DecodeRecord(s.opts.Codec, cam, track, data)
		if err != nil {
			s.opts.Logger.WarnContext(ctx, "Skipping malformed cache value", slog.String("key", key), slog.String("error", err.Error()))
			continue
		}
		recs = append(recs, rec)
	}
	if err := iter.Err(); err != nil {
		return nil, cache.Unavailable("scan", err)
	}

	cache.SortRecords(recs)
	return recs, nil
}

// Close closes the client if Open created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
