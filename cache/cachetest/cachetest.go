// Package cachetest holds behavior checks shared by every cache.Store
// backend.
package cachetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/globalid/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStoreTests runs the backend-independent checks against stores created
// by newStore. Each subtest gets a fresh, empty store.
func RunStoreTests(t *testing.T, newStore func(t *testing.T) cache.Store) {
	t.Helper()

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, ok, err := s.Get(context.Background(), "camA", "1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("SetGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := cache.Record{GlobalID: 7, CameraID: "camA", TrackID: "12", Zone: "zone1", Timestamp: 1718000000.5}

		require.NoError(t, s.Set(ctx, rec, time.Hour))

		got, ok, err := s.Get(ctx, "camA", "12")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, rec, got)

		rec.GlobalID = 9
		require.NoError(t, s.Set(ctx, rec, time.Hour))
		got, _, err = s.Get(ctx, "camA", "12")
		require.NoError(t, err)
		assert.Equal(t, uint64(9), got.GlobalID)
	})

	t.Run("NextGlobalIDIncreasing", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		prev := uint64(0)
		for i := 0; i < 10; i++ {
			id, err := s.NextGlobalID(ctx)
			require.NoError(t, err)
			assert.Greater(t, id, prev)
			prev = id
		}
	})

	t.Run("NextGlobalIDConcurrentUnique", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		const workers, per = 8, 25
		var (
			mu   sync.Mutex
			seen = make(map[uint64]struct{}, workers*per)
			wg   sync.WaitGroup
		)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < per; i++ {
					id, err := s.NextGlobalID(ctx)
					if !assert.NoError(t, err) {
						return
					}
					mu.Lock()
					_, dup := seen[id]
					seen[id] = struct{}{}
					mu.Unlock()
					assert.False(t, dup, "duplicate id %d", id)
				}
			}()
		}
		wg.Wait()
		assert.Len(t, seen, workers*per)
	})

	t.Run("TrackHistory", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		h, err := s.TrackHistory(ctx, 3)
		require.NoError(t, err)
		assert.Empty(t, h)

		require.NoError(t, s.AppendTrackHistory(ctx, 3, "camA", "1"))
		require.NoError(t, s.AppendTrackHistory(ctx, 3, "camB", "4"))
		require.NoError(t, s.AppendTrackHistory(ctx, 3, "camA", "1"))
		require.NoError(t, s.AppendTrackHistory(ctx, 4, "camC", "2"))

		h, err = s.TrackHistory(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"camA:1", "camB:4", "camA:1"}, h)
	})

	t.Run("RecordsNewestFirst", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Set(ctx, cache.Record{GlobalID: 1, CameraID: "camA", TrackID: "1", Zone: "z", Timestamp: 10}, time.Hour))
		require.NoError(t, s.Set(ctx, cache.Record{GlobalID: 2, CameraID: "camB", TrackID: "1", Zone: "z", Timestamp: 30}, time.Hour))
		require.NoError(t, s.Set(ctx, cache.Record{GlobalID: 1, CameraID: "camC", TrackID: "5", Zone: "z", Timestamp: 20}, time.Hour))

		recs, err := s.Records(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, "camB", recs[0].CameraID)
		assert.Equal(t, "camC", recs[1].CameraID)
		assert.Equal(t, "camA", recs[2].CameraID)
	})
}
