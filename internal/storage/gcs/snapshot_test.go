package gcs_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/helios-gateway/internal/storage/gcs"
)

func newTestSnapshot(t *testing.T, handler http.Handler) *gcs.Snapshot {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)

	snap, err := gcs.New(client, gcs.Config{Bucket: "test-bucket", Object: "helios/templates.json"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = snap.Close() })
	return snap
}

func TestNewValidation(t *testing.T) {
	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	assert.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	_, err = gcs.New(client, gcs.Config{})
	assert.Error(t, err)

	snap, err := gcs.New(client, gcs.Config{Bucket: "b"})
	require.NoError(t, err)
	assert.Equal(t, "gs://b/templates.json", snap.URI())
	assert.Equal(t, "gcs", snap.Name())
}

func TestSaveUploadsObject(t *testing.T) {
	payload := []byte(`{"data":[{"id":"t1"}]}`)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/test-bucket/o")
		assert.Equal(t, "helios/templates.json", r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), string(payload))

		fmt.Fprintln(w, `{"name":"helios/templates.json","bucket":"test-bucket"}`)
	})

	snap := newTestSnapshot(t, handler)
	require.NoError(t, snap.Save(context.Background(), payload))
}

func TestSaveReportsServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprintln(w, `{"error":{"code":403,"message":"denied"}}`)
	})

	snap := newTestSnapshot(t, handler)
	assert.Error(t, snap.Save(context.Background(), []byte("{}")))
}

func TestLoadMissingObjectIsEmpty(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	})

	snap := newTestSnapshot(t, handler)
	data, err := snap.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, data)
}
