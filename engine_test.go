package globalid

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/globalid/cache"
	"github.com/hupe1980/globalid/distance"
	"github.com/hupe1980/globalid/index"
	"github.com/hupe1980/globalid/index/flat"
	"github.com/hupe1980/globalid/resource"
	"github.com/hupe1980/globalid/testutil"
	"github.com/hupe1980/globalid/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testDim = 32

// hookIndex wraps a flat index and lets tests intercept calls.
type hookIndex struct {
	*flat.Index

	mu       sync.Mutex
	searches int
	upserts  int
	onSearch func(ctx context.Context) error
	onUpsert func(ctx context.Context) error
}

func newHookIndex() *hookIndex {
	return &hookIndex{Index: flat.New()}
}

func (h *hookIndex) Search(ctx context.Context, q []float32, k int, f index.Filter) ([]index.Result, error) {
	h.mu.Lock()
	h.searches++
	hook := h.onSearch
	h.mu.Unlock()
	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}
	return h.Index.Search(ctx, q, k, f)
}

func (h *hookIndex) Upsert(ctx context.Context, id uint64, v []float32, p index.Payload) error {
	if err := h.Index.Upsert(ctx, id, v, p); err != nil {
		return err
	}
	h.mu.Lock()
	h.upserts++
	hook := h.onUpsert
	h.mu.Unlock()
	if hook != nil {
		return hook(ctx)
	}
	return nil
}

func (h *hookIndex) counts() (searches, upserts int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.searches, h.upserts
}

// faultyStore wraps a memory store and injects failures.
type faultyStore struct {
	*cache.Memory
	getErr      error
	allocErr    error
	setErr      error
	requireLive bool // Set fails if its context is already done
}

func (s *faultyStore) Get(ctx context.Context, cam, track string) (cache.Record, bool, error) {
	if s.getErr != nil {
		return cache.Record{}, false, s.getErr
	}
	return s.Memory.Get(ctx, cam, track)
}

func (s *faultyStore) NextGlobalID(ctx context.Context) (uint64, error) {
	if s.allocErr != nil {
		return 0, s.allocErr
	}
	return s.Memory.NextGlobalID(ctx)
}

func (s *faultyStore) Set(ctx context.Context, rec cache.Record, ttl time.Duration) error {
	if s.setErr != nil {
		return s.setErr
	}
	if s.requireLive {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return s.Memory.Set(ctx, rec, ttl)
}

type mockIndex struct {
	mock.Mock
}

func (m *mockIndex) EnsureCollection(ctx context.Context, dim int, metric distance.Metric) error {
	return m.Called(ctx, dim, metric).Error(0)
}

func (m *mockIndex) Upsert(ctx context.Context, id uint64, vec []float32, payload index.Payload) error {
	return m.Called(ctx, id, vec, payload).Error(0)
}

func (m *mockIndex) Search(ctx context.Context, q []float32, k int, filter index.Filter) ([]index.Result, error) {
	args := m.Called(ctx, q, k, filter)
	res, _ := args.Get(0).([]index.Result)
	return res, args.Error(1)
}

func (m *mockIndex) Close() error { return nil }

func newTestEngine(t *testing.T, idx index.Index, store cache.Store, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithDimension(testDim)}, opts...)
	eng, err := New(context.Background(), idx, store, opts...)
	require.NoError(t, err)
	return eng
}

func TestResolve_EndToEnd(t *testing.T) {
	rng := testutil.NewRNG(42)
	idx := newHookIndex()
	store := cache.NewMemory()
	eng := newTestEngine(t, idx, store, WithRefreshOnHit(true))
	ctx := context.Background()

	embV1 := rng.UnitVector(testDim)
	embV2 := rng.SimilarVector(embV1, 0.99)
	embV1Similar := rng.SimilarVector(embV2, 0.95)

	// First sighting: empty index, new identity.
	gid, err := eng.Resolve(ctx, Observation{CameraID: "camA", TrackID: "7", Embedding: embV1, Timestamp: 100, Zone: "zone1"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gid)

	vec, payload, ok := idx.Get(1)
	require.True(t, ok)
	assert.Equal(t, embV1, vec)
	assert.Equal(t, "camA", payload[index.FieldCamera])
	assert.Equal(t, "zone1", payload[index.FieldZone])

	rec, ok, err := store.Get(ctx, "camA", "7")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), rec.GlobalID)

	// Same track within the TTL: cache hit, index refreshed.
	searchesBefore, _ := idx.counts()
	gid, err = eng.Resolve(ctx, Observation{CameraID: "camA", TrackID: "7", Embedding: embV2, Timestamp: 101, Zone: "zone1"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gid)

	searchesAfter, _ := idx.counts()
	assert.Equal(t, searchesBefore, searchesAfter, "cache hit must not search")
	vec, _, _ = idx.Get(1)
	assert.Equal(t, embV2, vec)
	assert.Equal(t, 1, idx.Len())

	// Another camera sees the same person.
	gid, err = eng.Resolve(ctx, Observation{CameraID: "camB", TrackID: "3", Embedding: embV1Similar, Timestamp: 150, Zone: "zone1"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gid)

	history, err := eng.TrackHistory(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"camA:7", "camB:3"}, history)
	assert.Equal(t, 1, idx.Len())
}

func TestResolve_CacheHitSkipsIndex(t *testing.T) {
	idx := new(mockIndex)
	idx.On("EnsureCollection", mock.Anything, testDim, distance.MetricCosine).Return(nil)

	store := cache.NewMemory()
	require.NoError(t, store.Set(context.Background(), cache.Record{GlobalID: 9, CameraID: "camA", TrackID: "1", Zone: "zone1"}, time.Hour))

	eng := newTestEngine(t, idx, store)
	gid, err := eng.Resolve(context.Background(), Observation{
		CameraID: "camA", TrackID: "1", Embedding: make([]float32, testDim), Timestamp: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(9), gid)

	idx.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	idx.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestResolve_LegacyCacheValue(t *testing.T) {
	idx := newHookIndex()
	store := cache.NewMemory()
	require.NoError(t, store.SetRaw(cache.RecordKey("camA", "1"), []byte("12"), time.Hour))

	eng := newTestEngine(t, idx, store)
	gid, err := eng.Resolve(context.Background(), Observation{
		CameraID: "camA", TrackID: "1", Embedding: testutil.NewRNG(1).UnitVector(testDim), Timestamp: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(12), gid)
}

func TestResolve_MalformedCacheValueIsMiss(t *testing.T) {
	idx := newHookIndex()
	store := cache.NewMemory()
	require.NoError(t, store.SetRaw(cache.RecordKey("camA", "1"), []byte("{not json"), time.Hour))

	metrics := &BasicMetricsCollector{}
	eng := newTestEngine(t, idx, store, WithMetricsCollector(metrics))

	gid, err := eng.Resolve(context.Background(), Observation{
		CameraID: "camA", TrackID: "1", Embedding: testutil.NewRNG(1).UnitVector(testDim), Timestamp: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gid)

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.CacheMalformed)
	assert.Equal(t, int64(1), stats.AllocateCount)

	// The bad value was replaced.
	rec, ok, err := store.Get(context.Background(), "camA", "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), rec.GlobalID)
}

func TestResolve_ThresholdBoundary(t *testing.T) {
	tests := []struct {
		score   float32
		wantGID uint64
	}{
		{0.90, 5},
		{0.899999, 1},
	}

	for _, tt := range tests {
		idx := new(mockIndex)
		idx.On("EnsureCollection", mock.Anything, testDim, distance.MetricCosine).Return(nil)
		idx.On("Search", mock.Anything, mock.Anything, 5, index.Filter{"zone": "zone1"}).
			Return([]index.Result{{ID: 5, Score: tt.score}}, nil)
		idx.On("Upsert", mock.Anything, tt.wantGID, mock.Anything, mock.Anything).Return(nil)

		eng := newTestEngine(t, idx, cache.NewMemory(), WithThreshold(0.90))
		gid, err := eng.Resolve(context.Background(), Observation{
			CameraID: "camB", TrackID: "2", Embedding: make([]float32, testDim), Timestamp: 1, Zone: "zone1",
		})
		require.NoError(t, err)
		assert.Equal(t, tt.wantGID, gid, "score %v", tt.score)
		idx.AssertExpectations(t)
	}
}

func TestResolve_IndexUnavailable(t *testing.T) {
	idx := new(mockIndex)
	idx.On("EnsureCollection", mock.Anything, testDim, distance.MetricCosine).Return(nil)
	idx.On("Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: connection refused", index.ErrUnavailable))

	counter := cache.NewMemoryCounter(0)
	store := cache.NewMemory(cache.WithCounter(counter))
	eng := newTestEngine(t, idx, store)

	gid, err := eng.Resolve(context.Background(), Observation{
		CameraID: "camA", TrackID: "1", Embedding: make([]float32, testDim), Timestamp: 1,
	})
	assert.Zero(t, gid)
	assert.ErrorIs(t, err, ErrAssignmentFailed)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.ErrorIs(t, err, index.ErrUnavailable)

	var ae *AssignmentError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, StepMatch, ae.Step)
	assert.Equal(t, "camA", ae.CameraID)

	assert.Zero(t, counter.Current(), "failed match must not allocate")
	_, ok, _ := store.Get(context.Background(), "camA", "1")
	assert.False(t, ok)
}

func TestResolve_CacheFailures(t *testing.T) {
	obs := Observation{CameraID: "camA", TrackID: "1", Embedding: testutil.NewRNG(3).UnitVector(testDim), Timestamp: 1}
	unavailable := cache.Unavailable("dial", errors.New("connection refused"))

	tests := []struct {
		name  string
		store *faultyStore
		step  Step
	}{
		{"lookup", &faultyStore{Memory: cache.NewMemory(), getErr: unavailable}, StepLookup},
		{"allocate", &faultyStore{Memory: cache.NewMemory(), allocErr: unavailable}, StepAllocate},
		{"record", &faultyStore{Memory: cache.NewMemory(), setErr: unavailable}, StepRecord},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newTestEngine(t, newHookIndex(), tt.store)

			gid, err := eng.Resolve(context.Background(), obs)
			assert.Zero(t, gid)
			assert.ErrorIs(t, err, ErrBackendUnavailable)
			assert.ErrorIs(t, err, cache.ErrUnavailable)

			var ae *AssignmentError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.step, ae.Step)
		})
	}
}

func TestResolve_BackendTimeout(t *testing.T) {
	idx := newHookIndex()
	idx.onSearch = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	eng := newTestEngine(t, idx, cache.NewMemory(), WithBackendTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := eng.Resolve(context.Background(), Observation{
		CameraID: "camA", TrackID: "1", Embedding: testutil.NewRNG(3).UnitVector(testDim), Timestamp: 1,
	})
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResolve_CancelAfterUpsertStillRecords(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	idx := newHookIndex()
	idx.onUpsert = func(context.Context) error {
		cancel()
		return nil
	}
	store := &faultyStore{Memory: cache.NewMemory(), requireLive: true}
	eng := newTestEngine(t, idx, store)

	gid, err := eng.Resolve(ctx, Observation{
		CameraID: "camA", TrackID: "1", Embedding: testutil.NewRNG(3).UnitVector(testDim), Timestamp: 1,
	})
	require.NoError(t, err)

	rec, ok, err := store.Get(context.Background(), "camA", "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, gid, rec.GlobalID)
}

func TestResolve_CanceledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	counter := cache.NewMemoryCounter(0)
	eng := newTestEngine(t, newHookIndex(), cache.NewMemory(cache.WithCounter(counter)))

	_, err := eng.Resolve(ctx, Observation{
		CameraID: "camA", TrackID: "1", Embedding: testutil.NewRNG(3).UnitVector(testDim), Timestamp: 1,
	})
	assert.ErrorIs(t, err, ErrAssignmentFailed)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, counter.Current())
}

func TestResolve_PerKeySerialization(t *testing.T) {
	rng := testutil.NewRNG(9)
	counter := cache.NewMemoryCounter(0)
	eng := newTestEngine(t, newHookIndex(), cache.NewMemory(cache.WithCounter(counter)))

	const n = 32
	ids := make([]uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		emb := rng.UnitVector(testDim) // unrelated embeddings: only the key ties them
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			gid, err := eng.Resolve(context.Background(), Observation{
				CameraID: "camA", TrackID: "7", Embedding: emb, Timestamp: float64(100 + i), Zone: "zone1",
			})
			assert.NoError(t, err)
			ids[i] = gid
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, uint64(1), counter.Current())
}

func TestResolve_ZoneSerialization(t *testing.T) {
	emb := testutil.NewRNG(11).UnitVector(testDim)
	counter := cache.NewMemoryCounter(0)
	eng := newTestEngine(t, newHookIndex(), cache.NewMemory(cache.WithCounter(counter)), WithZoneSerialization(true))

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := eng.Resolve(context.Background(), Observation{
				CameraID: "cam" + string(rune('A'+i)), TrackID: "1", Embedding: emb, Timestamp: 1, Zone: "zone1",
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, uint64(1), counter.Current(), "one entity in one zone gets one identity")
}

func TestResolve_ZoneFromTopology(t *testing.T) {
	topo, err := topology.Load(strings.NewReader(`
zones:
  - name: lobby
    cameras:
      - id: camA
        uri: rtsp://10.0.0.1/stream
`))
	require.NoError(t, err)

	idx := newHookIndex()
	store := cache.NewMemory()
	eng := newTestEngine(t, idx, store, WithTopology(topo))
	ctx := context.Background()
	rng := testutil.NewRNG(5)

	gid, err := eng.Resolve(ctx, Observation{CameraID: "camA", TrackID: "1", Embedding: rng.UnitVector(testDim), Timestamp: 3})
	require.NoError(t, err)
	_, payload, ok := idx.Get(gid)
	require.True(t, ok)
	assert.Equal(t, "lobby", payload[index.FieldZone])

	// Camera outside the topology: stored as unknown.
	gid, err = eng.Resolve(ctx, Observation{CameraID: "camX", TrackID: "1", Embedding: rng.UnitVector(testDim), Timestamp: 4})
	require.NoError(t, err)
	_, payload, ok = idx.Get(gid)
	require.True(t, ok)
	assert.Equal(t, cache.UnknownZone, payload[index.FieldZone])

	rec, _, err := store.Get(ctx, "camX", "1")
	require.NoError(t, err)
	assert.Equal(t, cache.UnknownZone, rec.Zone)
	assert.Same(t, topo, eng.Topology())
}

func TestResolve_ZoneScopesMatching(t *testing.T) {
	emb := testutil.NewRNG(6).UnitVector(testDim)
	eng := newTestEngine(t, newHookIndex(), cache.NewMemory())
	ctx := context.Background()

	a, err := eng.Resolve(ctx, Observation{CameraID: "camA", TrackID: "1", Embedding: emb, Timestamp: 1, Zone: "zone1"})
	require.NoError(t, err)
	b, err := eng.Resolve(ctx, Observation{CameraID: "camC", TrackID: "1", Embedding: emb, Timestamp: 2, Zone: "zone2"})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestResolve_CameraScope(t *testing.T) {
	emb := testutil.NewRNG(6).UnitVector(testDim)
	eng := newTestEngine(t, newHookIndex(), cache.NewMemory(), WithCameraScope(true))
	ctx := context.Background()

	a, err := eng.Resolve(ctx, Observation{CameraID: "camA", TrackID: "1", Embedding: emb, Timestamp: 1, Zone: "zone1"})
	require.NoError(t, err)
	b, err := eng.Resolve(ctx, Observation{CameraID: "camA", TrackID: "2", Embedding: emb, Timestamp: 2, Zone: "zone1"})
	require.NoError(t, err)
	c, err := eng.Resolve(ctx, Observation{CameraID: "camB", TrackID: "1", Embedding: emb, Timestamp: 3, Zone: "zone1"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestResolve_CacheExpiryForcesRematch(t *testing.T) {
	var (
		mu  sync.Mutex
		now = time.Unix(1000, 0)
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	idx := newHookIndex()
	store := cache.NewMemory(cache.WithClock(clock))
	eng := newTestEngine(t, idx, store, WithCacheTTL(time.Minute))
	ctx := context.Background()
	emb := testutil.NewRNG(8).UnitVector(testDim)
	obs := Observation{CameraID: "camA", TrackID: "1", Embedding: emb, Timestamp: 1}

	gid, err := eng.Resolve(ctx, obs)
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	searches, _ := idx.counts()
	again, err := eng.Resolve(ctx, obs)
	require.NoError(t, err)
	assert.Equal(t, gid, again)

	after, _ := idx.counts()
	assert.Equal(t, searches+1, after, "expired entry must go through the matcher")
}

func TestResolve_InvalidObservation(t *testing.T) {
	eng := newTestEngine(t, newHookIndex(), cache.NewMemory())
	emb := make([]float32, testDim)

	tests := []Observation{
		{TrackID: "1", Embedding: emb},
		{CameraID: "camA", Embedding: emb},
		{CameraID: "camA", TrackID: "1"},
		{CameraID: "camA", TrackID: "1", Embedding: make([]float32, testDim+1)},
		// Would share the key global_id:a:b:c with camera "a", track "b:c".
		{CameraID: "a:b", TrackID: "c", Embedding: testutil.NewRNG(2).UnitVector(testDim)},
	}
	for _, obs := range tests {
		_, err := eng.Resolve(context.Background(), obs)
		assert.ErrorIs(t, err, ErrInvalidObservation)
		assert.NotErrorIs(t, err, ErrAssignmentFailed)
	}

	// Colons in track IDs stay unambiguous.
	gid, err := eng.Resolve(context.Background(), Observation{CameraID: "a", TrackID: "b:c", Embedding: testutil.NewRNG(3).UnitVector(testDim)})
	require.NoError(t, err)
	assert.NotZero(t, gid)
}

func TestResolve_DefaultTimestamp(t *testing.T) {
	store := cache.NewMemory()
	eng := newTestEngine(t, newHookIndex(), store, withClock(func() time.Time { return time.Unix(1700000000, 0) }))

	_, err := eng.Resolve(context.Background(), Observation{CameraID: "camA", TrackID: "1", Embedding: testutil.NewRNG(1).UnitVector(testDim)})
	require.NoError(t, err)

	rec, _, err := store.Get(context.Background(), "camA", "1")
	require.NoError(t, err)
	assert.Equal(t, float64(1700000000), rec.Timestamp)
}

func TestNew_Configuration(t *testing.T) {
	ctx := context.Background()

	existing := flat.New()
	require.NoError(t, existing.EnsureCollection(ctx, 16, distance.MetricCosine))

	_, err := New(ctx, existing, cache.NewMemory(), WithDimension(32))
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = New(ctx, existing, cache.NewMemory(), WithDimension(16), WithMetric(distance.MetricDot))
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = New(ctx, flat.New(), cache.NewMemory(), WithThreshold(1.5))
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = New(ctx, flat.New(), cache.NewMemory(), WithCacheTTL(0))
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = New(ctx, nil, cache.NewMemory())
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestEngine_Records(t *testing.T) {
	eng := newTestEngine(t, newHookIndex(), cache.NewMemory())
	ctx := context.Background()
	rng := testutil.NewRNG(10)

	for i, cam := range []string{"camA", "camB", "camC"} {
		_, err := eng.Resolve(ctx, Observation{CameraID: cam, TrackID: "1", Embedding: rng.UnitVector(testDim), Timestamp: float64(10 * (i + 1))})
		require.NoError(t, err)
	}

	recs, err := eng.Records(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "camC", recs[0].CameraID)
	assert.Equal(t, "camA", recs[2].CameraID)
}

func TestEngine_ResourceLimits(t *testing.T) {
	idx := newHookIndex()
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	idx.onSearch = func(ctx context.Context) error {
		entered <- struct{}{}
		<-release
		return nil
	}
	eng := newTestEngine(t, idx, cache.NewMemory(), WithResourceLimits(resource.Config{MaxInFlight: 1}))
	rng := testutil.NewRNG(12)

	done := make(chan error, 1)
	go func() {
		_, err := eng.Resolve(context.Background(), Observation{CameraID: "camA", TrackID: "1", Embedding: rng.UnitVector(testDim), Timestamp: 1})
		done <- err
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := eng.Resolve(ctx, Observation{CameraID: "camB", TrackID: "1", Embedding: rng.UnitVector(testDim), Timestamp: 1})
	var ae *AssignmentError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, StepAdmit, ae.Step)

	close(release)
	require.NoError(t, <-done)
}

func TestEngine_ShedLoad(t *testing.T) {
	idx := newHookIndex()
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	idx.onSearch = func(ctx context.Context) error {
		entered <- struct{}{}
		<-release
		return nil
	}
	eng := newTestEngine(t, idx, cache.NewMemory(),
		WithResourceLimits(resource.Config{MaxInFlight: 1}),
		WithShedLoad(true),
	)
	rng := testutil.NewRNG(13)

	done := make(chan error, 1)
	go func() {
		_, err := eng.Resolve(context.Background(), Observation{CameraID: "camA", TrackID: "1", Embedding: rng.UnitVector(testDim), Timestamp: 1})
		done <- err
	}()
	<-entered

	// No deadline: a blocking admission would hang here.
	_, err := eng.Resolve(context.Background(), Observation{CameraID: "camB", TrackID: "1", Embedding: rng.UnitVector(testDim), Timestamp: 1})
	var ae *AssignmentError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, StepAdmit, ae.Step)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.ErrorIs(t, err, resource.ErrOverloaded)

	close(release)
	require.NoError(t, <-done)
}

func TestEngine_Close(t *testing.T) {
	eng := newTestEngine(t, newHookIndex(), cache.NewMemory())
	require.NoError(t, eng.Close())
	assert.ErrorIs(t, eng.Close(), ErrClosed)

	_, err := eng.Resolve(context.Background(), Observation{CameraID: "camA", TrackID: "1", Embedding: make([]float32, testDim)})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMetrics_Collected(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	eng := newTestEngine(t, newHookIndex(), cache.NewMemory(), WithMetricsCollector(metrics))
	ctx := context.Background()
	emb := testutil.NewRNG(13).UnitVector(testDim)

	for _, obs := range []Observation{
		{CameraID: "camA", TrackID: "1", Embedding: emb, Timestamp: 1},
		{CameraID: "camA", TrackID: "1", Embedding: emb, Timestamp: 2},
		{CameraID: "camB", TrackID: "1", Embedding: emb, Timestamp: 3},
	} {
		_, err := eng.Resolve(ctx, obs)
		require.NoError(t, err)
	}

	stats := metrics.GetStats()
	assert.Equal(t, int64(3), stats.ResolveCount)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(2), stats.CacheMisses)
	assert.Equal(t, int64(2), stats.MatchCount)
	assert.Equal(t, int64(1), stats.MatchHits)
	assert.Equal(t, int64(1), stats.AllocateCount)
	assert.Zero(t, stats.ResolveFailures)
}
