package globalid

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hupe1980/globalid/cache"
	"github.com/hupe1980/globalid/index"
	"github.com/hupe1980/globalid/internal/keylock"
	"github.com/hupe1980/globalid/matcher"
	"github.com/hupe1980/globalid/topology"
	"golang.org/x/sync/errgroup"
)

// Engine resolves observations into global identities. It is safe for
// concurrent use.
type Engine struct {
	opts    options
	idx     index.Index
	store   cache.Store
	matcher *matcher.Matcher
	keys    *keylock.Locker
	zones   *keylock.Locker
	closed  atomic.Bool
}

// New creates an engine over idx and store. With WithDimension set, the
// index collection is created or verified before New returns; an existing
// collection with another dimension or metric is a configuration error.
func New(ctx context.Context, idx index.Index, store cache.Store, optFns ...Option) (*Engine, error) {
	if idx == nil {
		return nil, fmt.Errorf("%w: nil index", ErrConfiguration)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: nil cache store", ErrConfiguration)
	}

	o := applyOptions(optFns)

	switch {
	case o.ttl <= 0:
		return nil, fmt.Errorf("%w: cache TTL must be positive, got %v", ErrConfiguration, o.ttl)
	case o.backendTimeout <= 0:
		return nil, fmt.Errorf("%w: backend timeout must be positive, got %v", ErrConfiguration, o.backendTimeout)
	case o.dimension < 0:
		return nil, fmt.Errorf("%w: invalid dimension %d", ErrConfiguration, o.dimension)
	}

	m, err := matcher.New(idx,
		matcher.WithThreshold(o.threshold),
		matcher.WithTopK(o.topK),
		matcher.WithLogger(o.logger.Logger),
	)
	if err != nil {
		return nil, translateError(err)
	}

	if o.dimension > 0 {
		cctx, cancel := context.WithTimeout(ctx, o.backendTimeout)
		err := idx.EnsureCollection(cctx, o.dimension, o.metric)
		cancel()
		if err != nil {
			return nil, translateError(err)
		}
	}

	o.logger.InfoContext(ctx, "engine ready",
		"dimension", o.dimension,
		"metric", o.metric.String(),
		"threshold", o.threshold,
		"ttl", o.ttl,
		"camera_scope", o.cameraScope,
		"zone_serialization", o.zoneSerialization,
	)

	return &Engine{
		opts:    o,
		idx:     idx,
		store:   store,
		matcher: m,
		keys:    keylock.New(),
		zones:   keylock.New(),
	}, nil
}

// Resolve returns the global ID of obs, allocating one if no known identity
// matches. On error no ID is returned and nothing needs to be undone; the
// caller decides whether to resubmit.
func (e *Engine) Resolve(ctx context.Context, obs Observation) (uint64, error) {
	start := time.Now()

	gid, outcome, err := e.resolve(ctx, &obs)
	if err != nil {
		outcome = OutcomeFailed
		gid = 0
	}

	e.opts.metricsCollector.RecordResolve(outcome, time.Since(start))
	e.opts.logger.LogResolve(ctx, obs, gid, outcome, err)
	return gid, err
}

func (e *Engine) resolve(ctx context.Context, obs *Observation) (uint64, Outcome, error) {
	if e.closed.Load() {
		return 0, OutcomeFailed, ErrClosed
	}
	if err := obs.validate(e.opts.dimension); err != nil {
		return 0, OutcomeFailed, err
	}
	if obs.Zone == "" {
		obs.Zone = e.zoneOf(obs.CameraID)
	}
	if obs.Timestamp == 0 {
		obs.Timestamp = float64(e.opts.now().UnixNano()) / 1e9
	}

	if err := ctx.Err(); err != nil {
		return 0, OutcomeFailed, assignmentError(*obs, StepAdmit, err)
	}
	if err := e.admit(ctx); err != nil {
		return 0, OutcomeFailed, assignmentError(*obs, StepAdmit, err)
	}
	defer e.opts.resources.Release()

	unlock, err := e.lock(ctx, *obs)
	if err != nil {
		return 0, OutcomeFailed, assignmentError(*obs, StepLock, err)
	}
	defer unlock()

	return e.resolveLocked(ctx, *obs)
}

func (e *Engine) admit(ctx context.Context) error {
	if e.opts.shedLoad {
		return e.opts.resources.TryAcquire()
	}
	return e.opts.resources.Acquire(ctx)
}

func (e *Engine) resolveLocked(ctx context.Context, obs Observation) (uint64, Outcome, error) {
	rec, hit, err := e.lookup(ctx, obs)
	if err != nil {
		return 0, OutcomeFailed, assignmentError(obs, StepLookup, err)
	}
	if hit {
		if e.opts.refreshOnHit {
			if err := e.upsert(ctx, rec.GlobalID, obs); err != nil {
				return 0, OutcomeFailed, assignmentError(obs, StepUpsert, err)
			}
		}
		return rec.GlobalID, OutcomeCacheHit, nil
	}

	gid, matched, err := e.match(ctx, obs)
	if err != nil {
		return 0, OutcomeFailed, assignmentError(obs, StepMatch, err)
	}

	outcome := OutcomeMatched
	if !matched {
		gid, err = e.allocate(ctx, obs)
		if err != nil {
			return 0, OutcomeFailed, assignmentError(obs, StepAllocate, err)
		}
		outcome = OutcomeAllocated
	}

	if err := e.upsert(ctx, gid, obs); err != nil {
		return 0, OutcomeFailed, assignmentError(obs, StepUpsert, err)
	}

	if err := e.record(ctx, gid, obs); err != nil {
		return 0, OutcomeFailed, assignmentError(obs, StepRecord, err)
	}

	return gid, outcome, nil
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opts.backendTimeout)
}

func (e *Engine) lookup(ctx context.Context, obs Observation) (cache.Record, bool, error) {
	cctx, cancel := e.callContext(ctx)
	defer cancel()

	rec, ok, err := e.store.Get(cctx, obs.CameraID, obs.TrackID)
	if errors.Is(err, cache.ErrMalformedValue) {
		e.opts.logger.LogMalformedCache(ctx, obs, err)
		e.opts.metricsCollector.RecordCacheLookup(false, true)
		return cache.Record{}, false, nil
	}
	if err != nil {
		return cache.Record{}, false, err
	}

	e.opts.metricsCollector.RecordCacheLookup(ok, false)
	return rec, ok, nil
}

func (e *Engine) match(ctx context.Context, obs Observation) (uint64, bool, error) {
	scope := matcher.Scope{Zone: obs.Zone}
	if e.opts.cameraScope {
		scope.Camera = obs.CameraID
	}

	cctx, cancel := e.callContext(ctx)
	defer cancel()

	start := time.Now()
	m, ok, err := e.matcher.Match(cctx, obs.Embedding, scope)
	e.opts.metricsCollector.RecordMatch(m.Score, ok, time.Since(start), err)
	if err != nil {
		return 0, false, err
	}
	return m.GlobalID, ok, nil
}

func (e *Engine) allocate(ctx context.Context, obs Observation) (uint64, error) {
	cctx, cancel := e.callContext(ctx)
	defer cancel()

	start := time.Now()
	gid, err := e.store.NextGlobalID(cctx)
	e.opts.metricsCollector.RecordAllocate(time.Since(start), err)
	if err != nil {
		return 0, err
	}
	if gid == 0 {
		return 0, errors.New("counter returned zero")
	}

	e.opts.logger.LogAllocate(ctx, obs, gid)
	return gid, nil
}

func (e *Engine) upsert(ctx context.Context, gid uint64, obs Observation) error {
	cctx, cancel := e.callContext(ctx)
	defer cancel()

	return e.idx.Upsert(cctx, gid, obs.Embedding, index.Payload{
		index.FieldCamera:    obs.CameraID,
		index.FieldTrack:     obs.TrackID,
		index.FieldZone:      storedZone(obs.Zone),
		index.FieldTimestamp: obs.Timestamp,
	})
}

// record writes the cache entry and the history entry. Once the index holds
// the identity these writes run to completion even if ctx is cancelled, so
// an abandoned call does not leave the cache behind the index.
func (e *Engine) record(ctx context.Context, gid uint64, obs Observation) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.backendTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(wctx)
	g.Go(func() error {
		return e.store.Set(gctx, cache.Record{
			GlobalID:  gid,
			CameraID:  obs.CameraID,
			TrackID:   obs.TrackID,
			Zone:      storedZone(obs.Zone),
			Timestamp: obs.Timestamp,
		}, e.opts.ttl)
	})
	g.Go(func() error {
		return e.store.AppendTrackHistory(gctx, gid, obs.CameraID, obs.TrackID)
	})
	return g.Wait()
}

// lock takes the zone lock (if enabled) before the track lock. The fixed
// order keeps the two lockers deadlock free.
func (e *Engine) lock(ctx context.Context, obs Observation) (func(), error) {
	var unlockZone func()
	if e.opts.zoneSerialization && obs.Zone != "" {
		u, err := e.zones.Lock(ctx, obs.Zone)
		if err != nil {
			return nil, err
		}
		unlockZone = u
	}

	unlockKey, err := e.keys.Lock(ctx, cache.RecordKey(obs.CameraID, obs.TrackID))
	if err != nil {
		if unlockZone != nil {
			unlockZone()
		}
		return nil, err
	}

	return func() {
		unlockKey()
		if unlockZone != nil {
			unlockZone()
		}
	}, nil
}

func (e *Engine) zoneOf(cameraID string) string {
	if e.opts.topology == nil {
		return ""
	}
	zone, _ := e.opts.topology.ZoneOf(cameraID)
	return zone
}

func storedZone(zone string) string {
	if zone == "" {
		return cache.UnknownZone
	}
	return zone
}

// Records lists the live (camera, track) mappings, newest first.
func (e *Engine) Records(ctx context.Context) ([]cache.Record, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	cctx, cancel := e.callContext(ctx)
	defer cancel()

	recs, err := e.store.Records(cctx)
	if err != nil {
		return nil, translateError(err)
	}
	cache.SortRecords(recs)
	return recs, nil
}

// TrackHistory returns the "camera:track" entries appended for gid, oldest
// first.
func (e *Engine) TrackHistory(ctx context.Context, gid uint64) ([]string, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	cctx, cancel := e.callContext(ctx)
	defer cancel()

	h, err := e.store.TrackHistory(cctx, gid)
	if err != nil {
		return nil, translateError(err)
	}
	return h, nil
}

// Topology returns the topology passed with WithTopology, or nil.
func (e *Engine) Topology() *topology.Topology {
	return e.opts.topology
}

// Threshold returns the match threshold.
func (e *Engine) Threshold() float64 {
	return e.matcher.Threshold()
}

// Close closes the index and the cache store. Later calls return ErrClosed.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return errors.Join(e.idx.Close(), e.store.Close())
}
