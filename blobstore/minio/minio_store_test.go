package minio

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/globalid/blobstore"
)

func TestObjectNaming(t *testing.T) {
	s := NewStore(nil, "globalid", "site-a/")

	assert.Equal(t, "site-a/index.gidx", s.objectName("index.gidx"))
	assert.Equal(t, "index.gidx", s.blobName("site-a/index.gidx"))

	bare := NewStore(nil, "globalid", "")
	assert.Equal(t, "topology.yaml", bare.objectName("topology.yaml"))
	assert.Equal(t, "topology.yaml", bare.blobName("topology.yaml"))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/yaml", contentType("site/topology.yaml"))
	assert.Equal(t, "application/yaml", contentType("topology.yml"))
	assert.Equal(t, "application/json", contentType("stats.json"))
	assert.Equal(t, "application/octet-stream", contentType("index.gidx"))
}

func TestOpen_RequiresBucket(t *testing.T) {
	_, err := Open(context.Background(), Config{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}

// TestStore_Integration needs a MinIO server; set MINIO_TEST_ENDPOINT to run it.
func TestStore_Integration(t *testing.T) {
	endpoint := os.Getenv("MINIO_TEST_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_TEST_ENDPOINT not set")
	}
	ctx := context.Background()

	store, err := Open(ctx, Config{
		Endpoint:     endpoint,
		AccessKey:    "minioadmin",
		SecretKey:    "minioadmin",
		Bucket:       "globalid-test",
		Prefix:       "site-a/",
		CreateBucket: true,
	})
	require.NoError(t, err)

	doc := []byte("zones: []")
	require.NoError(t, store.Put(ctx, "topology.yaml", doc))

	got, err := store.Get(ctx, "topology.yaml")
	require.NoError(t, err)
	assert.Equal(t, doc, got)

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, names, "topology.yaml")

	require.NoError(t, store.Delete(ctx, "topology.yaml"))
	require.NoError(t, store.Delete(ctx, "topology.yaml"))

	_, err = store.Get(ctx, "topology.yaml")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}
