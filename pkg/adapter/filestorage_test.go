package adapter_test

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kioku/pkg/adapter"
)

func TestFileStorage(t *testing.T) {
	ctx := context.Background()
	storage, err := adapter.NewFileStorage(t.TempDir())
	gt.NoError(t, err)

	t.Run("missing object", func(t *testing.T) {
		_, err := storage.Get(ctx, "collections/nobody/index.json")
		gt.Error(t, err)
		gt.True(t, errors.Is(err, adapter.ErrObjectNotFound))
	})

	t.Run("put and get", func(t *testing.T) {
		w, err := storage.Put(ctx, "collections/u1/index.json")
		gt.NoError(t, err)
		_, err = w.Write([]byte(`{"version":1}`))
		gt.NoError(t, err)

		// not visible before close
		_, err = storage.Get(ctx, "collections/u1/index.json")
		gt.True(t, errors.Is(err, adapter.ErrObjectNotFound))

		gt.NoError(t, w.Close())

		r, err := storage.Get(ctx, "collections/u1/index.json")
		gt.NoError(t, err)
		defer r.Close()
		data, err := io.ReadAll(r)
		gt.NoError(t, err)
		gt.Equal(t, string(data), `{"version":1}`)
	})

	t.Run("delete", func(t *testing.T) {
		gt.NoError(t, storage.Delete(ctx, "collections/u1/index.json"))
		gt.NoError(t, storage.Delete(ctx, "collections/u1/index.json"))
		_, err := storage.Get(ctx, "collections/u1/index.json")
		gt.True(t, errors.Is(err, adapter.ErrObjectNotFound))
	})

	t.Run("rejects parent traversal", func(t *testing.T) {
		_, err := storage.Put(ctx, "../outside")
		gt.Error(t, err)
	})
}

func TestCloudStorage(t *testing.T) {
	bucket := os.Getenv("TEST_STORAGE_BUCKET")
	if bucket == "" {
		t.Skip("TEST_STORAGE_BUCKET is not set")
	}

	ctx := context.Background()
	storage, err := adapter.NewStorage(ctx, bucket, nil, adapter.WithStoragePrefix("kioku-test/"))
	gt.NoError(t, err)

	w, err := storage.Put(ctx, "probe.txt")
	gt.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	gt.NoError(t, err)
	gt.NoError(t, w.Close())

	r, err := storage.Get(ctx, "probe.txt")
	gt.NoError(t, err)
	data, err := io.ReadAll(r)
	gt.NoError(t, err)
	gt.NoError(t, r.Close())
	gt.Equal(t, string(data), "hello")

	gt.NoError(t, storage.Delete(ctx, "probe.txt"))
	_, err = storage.Get(ctx, "probe.txt")
	gt.True(t, errors.Is(err, adapter.ErrObjectNotFound))
}
