package qdrant

import (
	"context"
	"errors"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hupe1980/globalid/distance"
	"github.com/hupe1980/globalid/index"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) CollectionExists(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func (m *mockAPI) CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error {
	return m.Called(ctx, req).Error(0)
}

func (m *mockAPI) GetCollectionInfo(ctx context.Context, name string) (*qdrant.CollectionInfo, error) {
	args := m.Called(ctx, name)
	info, _ := args.Get(0).(*qdrant.CollectionInfo)
	return info, args.Error(1)
}

func (m *mockAPI) Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*qdrant.UpdateResult)
	return res, args.Error(1)
}

func (m *mockAPI) Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	args := m.Called(ctx, req)
	pts, _ := args.Get(0).([]*qdrant.ScoredPoint)
	return pts, args.Error(1)
}

func (m *mockAPI) Close() error {
	return m.Called().Error(0)
}

func collectionInfo(size uint64, d qdrant.Distance) *qdrant.CollectionInfo {
	return &qdrant.CollectionInfo{
		Config: &qdrant.CollectionConfig{
			Params: &qdrant.CollectionParams{
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{Size: size, Distance: d}),
			},
		},
	}
}

func newTestClient(t *testing.T, api *mockAPI, opts ...Option) *Client {
	t.Helper()
	c, err := New(api, "people", opts...)
	require.NoError(t, err)
	return c
}

func TestEnsureCollection_Creates(t *testing.T) {
	api := new(mockAPI)
	api.On("CollectionExists", mock.Anything, "people").Return(false, nil)
	api.On("CreateCollection", mock.Anything, mock.MatchedBy(func(req *qdrant.CreateCollection) bool {
		p := req.GetVectorsConfig().GetParams()
		return req.GetCollectionName() == "people" && p.GetSize() == 4 && p.GetDistance() == qdrant.Distance_Cosine
	})).Return(nil)

	c := newTestClient(t, api)
	require.NoError(t, c.EnsureCollection(context.Background(), 4, distance.MetricCosine))
	api.AssertExpectations(t)
}

func TestEnsureCollection_ExistingMatches(t *testing.T) {
	api := new(mockAPI)
	api.On("CollectionExists", mock.Anything, "people").Return(true, nil)
	api.On("GetCollectionInfo", mock.Anything, "people").Return(collectionInfo(4, qdrant.Distance_Dot), nil)

	c := newTestClient(t, api)
	require.NoError(t, c.EnsureCollection(context.Background(), 4, distance.MetricDot))
	api.AssertNotCalled(t, "CreateCollection", mock.Anything, mock.Anything)
}

func TestEnsureCollection_DimensionMismatch(t *testing.T) {
	api := new(mockAPI)
	api.On("CollectionExists", mock.Anything, "people").Return(true, nil)
	api.On("GetCollectionInfo", mock.Anything, "people").Return(collectionInfo(8, qdrant.Distance_Cosine), nil)

	c := newTestClient(t, api)
	err := c.EnsureCollection(context.Background(), 4, distance.MetricCosine)
	var dm *index.ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 4, dm.Expected)
	assert.Equal(t, 8, dm.Actual)

	err = c.EnsureCollection(context.Background(), 8, distance.MetricEuclidean)
	var mm *index.ErrMetricMismatch
	require.ErrorAs(t, err, &mm)
}

func TestEnsureCollection_Unavailable(t *testing.T) {
	api := new(mockAPI)
	api.On("CollectionExists", mock.Anything, "people").
		Return(false, status.Error(codes.Unavailable, "connection refused"))

	c := newTestClient(t, api)
	err := c.EnsureCollection(context.Background(), 4, distance.MetricCosine)
	assert.ErrorIs(t, err, index.ErrUnavailable)
	api.AssertNotCalled(t, "CreateCollection", mock.Anything, mock.Anything)
}

func TestUpsert(t *testing.T) {
	api := new(mockAPI)
	api.On("Upsert", mock.Anything, mock.MatchedBy(func(req *qdrant.UpsertPoints) bool {
		if req.GetCollectionName() != "people" || !req.GetWait() || len(req.GetPoints()) != 1 {
			return false
		}
		p := req.GetPoints()[0]
		return p.GetId().GetNum() == 7 &&
			p.GetPayload()[index.FieldCamera].GetStringValue() == "cam-1" &&
			p.GetPayload()[index.FieldTimestamp].GetDoubleValue() == 12.5 &&
			len(p.GetVectors().GetVector().GetData()) == 3
	})).Return(&qdrant.UpdateResult{Status: qdrant.UpdateStatus_Completed}, nil)

	c := newTestClient(t, api)
	err := c.Upsert(context.Background(), 7, []float32{1, 0, 0}, index.Payload{
		index.FieldCamera:  "cam-1",
		index.FieldTimestamp: 12.5,
	})
	require.NoError(t, err)
	api.AssertExpectations(t)
}

func TestUpsert_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unavailable", status.Error(codes.Unavailable, "down"), index.ErrUnavailable},
		{"deadline status", status.Error(codes.DeadlineExceeded, "slow"), index.ErrUnavailable},
		{"context deadline", context.DeadlineExceeded, index.ErrUnavailable},
		{"missing collection", status.Error(codes.NotFound, "Collection people doesn't exist"), index.ErrCollectionMissing},
		{"transport", errors.New("broken pipe"), index.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := new(mockAPI)
			api.On("Upsert", mock.Anything, mock.Anything).Return(nil, tt.err)

			c := newTestClient(t, api)
			err := c.Upsert(context.Background(), 1, []float32{1}, nil)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("invalid argument is not unavailable", func(t *testing.T) {
		api := new(mockAPI)
		api.On("Upsert", mock.Anything, mock.Anything).Return(nil, status.Error(codes.InvalidArgument, "wrong size"))

		c := newTestClient(t, api)
		err := c.Upsert(context.Background(), 1, []float32{1}, nil)
		require.Error(t, err)
		assert.NotErrorIs(t, err, index.ErrUnavailable)
	})
}

func TestSearch(t *testing.T) {
	api := new(mockAPI)
	api.On("Query", mock.Anything, mock.MatchedBy(func(req *qdrant.QueryPoints) bool {
		must := req.GetFilter().GetMust()
		if req.GetLimit() != 2 || len(must) != 2 {
			return false
		}
		// Conditions are emitted in key order.
		f0, f1 := must[0].GetField(), must[1].GetField()
		return f0.GetKey() == index.FieldCamera && f0.GetMatch().GetKeyword() == "cam-1" &&
			f1.GetKey() == index.FieldZone && f1.GetMatch().GetKeyword() == "lobby"
	})).Return([]*qdrant.ScoredPoint{
		{Id: qdrant.NewIDNum(3), Score: 0.9, Payload: map[string]*qdrant.Value{
			index.FieldCamera: qdrant.NewValueString("cam-1"),
			index.FieldZone:     qdrant.NewValueString("lobby"),
		}},
		{Id: qdrant.NewIDNum(5), Score: 0.7},
	}, nil)

	c := newTestClient(t, api)
	res, err := c.Search(context.Background(), []float32{1, 0}, 2, index.Filter{
		index.FieldZone:     "lobby",
		index.FieldCamera: "cam-1",
	})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, uint64(3), res[0].ID)
	assert.InDelta(t, 0.9, res[0].Score, 1e-6)
	assert.Equal(t, "lobby", res[0].Payload[index.FieldZone])
	assert.Equal(t, uint64(5), res[1].ID)
}

func TestSearch_UnfilteredOmitsFilter(t *testing.T) {
	api := new(mockAPI)
	api.On("Query", mock.Anything, mock.MatchedBy(func(req *qdrant.QueryPoints) bool {
		return req.GetFilter() == nil
	})).Return([]*qdrant.ScoredPoint{}, nil)

	c := newTestClient(t, api)
	res, err := c.Search(context.Background(), []float32{1}, 1, nil)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestSearch_UnavailableIsNotNoMatch(t *testing.T) {
	for _, code := range []codes.Code{codes.Unavailable, codes.DeadlineExceeded} {
		t.Run(code.String(), func(t *testing.T) {
			api := new(mockAPI)
			api.On("Query", mock.Anything, mock.Anything).Return(nil, status.Error(code, "gone"))

			c := newTestClient(t, api)
			res, err := c.Search(context.Background(), []float32{1}, 1, nil)
			require.ErrorIs(t, err, index.ErrUnavailable)
			assert.Nil(t, res)
		})
	}
}

func TestSearch_EuclidScoresBecomeSimilarities(t *testing.T) {
	api := new(mockAPI)
	api.On("Query", mock.Anything, mock.Anything).Return([]*qdrant.ScoredPoint{
		{Id: qdrant.NewIDNum(1), Score: 0},
		{Id: qdrant.NewIDNum(2), Score: 3},
	}, nil)

	c := newTestClient(t, api, WithMetric(distance.MetricEuclidean))
	res, err := c.Search(context.Background(), []float32{1}, 2, nil)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, uint64(1), res[0].ID)
	assert.InDelta(t, 1.0, res[0].Score, 1e-6)
	assert.InDelta(t, 0.25, res[1].Score, 1e-6)
}

func TestSearch_InvalidK(t *testing.T) {
	c := newTestClient(t, new(mockAPI))
	_, err := c.Search(context.Background(), []float32{1}, 0, nil)
	assert.ErrorIs(t, err, index.ErrInvalidK)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "people")
	assert.Error(t, err)

	_, err = New(new(mockAPI), "")
	assert.Error(t, err)

	_, err = Dial(Config{}, "people")
	assert.Error(t, err)
}

func TestClose(t *testing.T) {
	api := new(mockAPI)
	api.On("Close").Return(nil)

	c := newTestClient(t, api)
	require.NoError(t, c.Close())
	api.AssertExpectations(t)
}
