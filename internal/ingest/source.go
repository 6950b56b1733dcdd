package ingest

import (
	"context"
	"io"
	"os"

	"cloud.google.com/go/storage"
)

// Source supplies raw CSV bytes from a named location.
type Source interface {
	Name() string
	Open(ctx context.Context) (io.ReadCloser, error)
}

// LocalFile reads a CSV file from the local filesystem.
type LocalFile struct {
	Path string
}

func (l LocalFile) Name() string { return l.Path }

func (l LocalFile) Open(ctx context.Context) (io.ReadCloser, error) {
	return os.Open(l.Path)
}

// Object reads a CSV object from a storage bucket.
type Object struct {
	client *storage.Client
	bucket string
	key    string
}

// NewObject creates a bucket-backed source for one object key.
func NewObject(client *storage.Client, bucket, key string) *Object {
	return &Object{client: client, bucket: bucket, key: key}
}

func (o *Object) Name() string { return "gs://" + o.bucket + "/" + o.key }

func (o *Object) Open(ctx context.Context) (io.ReadCloser, error) {
	return o.client.Bucket(o.bucket).Object(o.key).NewReader(ctx)
}
