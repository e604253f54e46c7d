package matcher

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/globalid/distance"
	"github.com/hupe1980/globalid/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

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

func TestMatch_ThresholdBoundary(t *testing.T) {
	tests := []struct {
		name  string
		score float32
		match bool
	}{
		{"exactly threshold", 0.90, true},
		{"just below", 0.899999, false},
		{"above", 0.95, true},
		{"far below", 0.2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := new(mockIndex)
			idx.On("Search", mock.Anything, mock.Anything, DefaultTopK, index.Filter(nil)).
				Return([]index.Result{{ID: 1, Score: tt.score}}, nil)

			m, err := New(idx)
			require.NoError(t, err)

			got, ok, err := m.Match(context.Background(), []float32{1, 0}, Scope{})
			require.NoError(t, err)
			assert.Equal(t, tt.match, ok)
			if tt.match {
				assert.Equal(t, uint64(1), got.GlobalID)
				assert.Equal(t, tt.score, got.Score)
			}
		})
	}
}

func TestMatch_OnlyBestCandidateCounts(t *testing.T) {
	idx := new(mockIndex)
	idx.On("Search", mock.Anything, mock.Anything, 5, mock.Anything).Return([]index.Result{
		{ID: 3, Score: 0.97},
		{ID: 8, Score: 0.96},
		{ID: 9, Score: 0.96},
	}, nil)

	m, err := New(idx)
	require.NoError(t, err)

	got, ok, err := m.Match(context.Background(), []float32{1}, Scope{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(3), got.GlobalID)
}

func TestMatch_EmptyIsNoMatch(t *testing.T) {
	idx := new(mockIndex)
	idx.On("Search", mock.Anything, mock.Anything, 5, mock.Anything).Return(nil, nil)

	m, err := New(idx)
	require.NoError(t, err)

	_, ok, err := m.Match(context.Background(), []float32{1}, Scope{Zone: "zone1"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatch_IndexFailureIsNotNoMatch(t *testing.T) {
	idx := new(mockIndex)
	idx.On("Search", mock.Anything, mock.Anything, 5, mock.Anything).
		Return(nil, errors.Join(index.ErrUnavailable, errors.New("connection reset")))

	m, err := New(idx)
	require.NoError(t, err)

	_, ok, err := m.Match(context.Background(), []float32{1}, Scope{})
	assert.False(t, ok)
	assert.ErrorIs(t, err, index.ErrUnavailable)
}

func TestMatch_ScopeBecomesFilter(t *testing.T) {
	tests := []struct {
		scope  Scope
		filter index.Filter
	}{
		{Scope{}, nil},
		{Scope{Zone: "zone1"}, index.Filter{"zone": "zone1"}},
		{Scope{Camera: "camA"}, index.Filter{"cam_id": "camA"}},
		{Scope{Zone: "zone1", Camera: "camA"}, index.Filter{"zone": "zone1", "cam_id": "camA"}},
	}

	for _, tt := range tests {
		idx := new(mockIndex)
		idx.On("Search", mock.Anything, mock.Anything, 3, tt.filter).Return(nil, nil).Once()

		m, err := New(idx, WithTopK(3))
		require.NoError(t, err)

		_, _, err = m.Match(context.Background(), []float32{1}, tt.scope)
		require.NoError(t, err)
		idx.AssertExpectations(t)
	}
}

func TestNew_Validation(t *testing.T) {
	for _, th := range []float64{0, -0.5, 1.01} {
		_, err := New(new(mockIndex), WithThreshold(th))
		assert.ErrorIs(t, err, ErrInvalidThreshold, "threshold %v", th)
	}

	m, err := New(new(mockIndex), WithThreshold(1))
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.Threshold())

	_, err = New(new(mockIndex), WithTopK(0))
	assert.ErrorIs(t, err, index.ErrInvalidK)
}
