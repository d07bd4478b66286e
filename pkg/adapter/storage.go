package adapter

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/option"
)

var ErrObjectNotFound = goerr.New("object not found")

// Storage is the interface for durable blob storage of collection artifacts
type Storage interface {
	// Put returns a writer; the object becomes visible when the writer is closed
	Put(ctx context.Context, key string) (io.WriteCloser, error)
	// Get returns a reader, or an error wrapping ErrObjectNotFound
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object. Missing objects are not an error.
	Delete(ctx context.Context, key string) error
}

// storageClient implements Storage interface using Cloud Storage
type storageClient struct {
	bucketName string
	prefix     string
	client     *storage.Client
}

type StorageOption func(*storageClient)

// WithStoragePrefix prepends prefix to every object key
func WithStoragePrefix(prefix string) StorageOption {
	return func(s *storageClient) {
		s.prefix = prefix
	}
}

// NewStorage creates a new Cloud Storage client
func NewStorage(ctx context.Context, bucketName string, clientOpts []option.ClientOption, opts ...StorageOption) (Storage, error) {
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	s := &storageClient{
		bucketName: bucketName,
		client:     client,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *storageClient) object(key string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucketName).Object(s.prefix + key)
}

func (s *storageClient) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	writer := s.object(key).NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	return writer, nil
}

func (s *storageClient) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	reader, err := s.object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, goerr.Wrap(ErrObjectNotFound, "object does not exist",
			goerr.V("bucket", s.bucketName), goerr.V("key", key))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read from storage", goerr.V("key", key))
	}

	return reader, nil
}

func (s *storageClient) Delete(ctx context.Context, key string) error {
	err := s.object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return goerr.Wrap(err, "failed to delete from storage", goerr.V("key", key))
	}
	return nil
}
