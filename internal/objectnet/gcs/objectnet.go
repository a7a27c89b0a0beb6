// Package gcs implements the object network over a Google Cloud Storage
// bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/bigwebarchive/archiver/internal/archive"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string `mapstructure:"bucket"`
}

// Network stores objects under bucket keys of the form
// <service>/<name>/<identifier>.
type Network struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed object network.
func New(client *storage.Client, cfg Config) (*Network, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Network{client: client, bucket: cfg.Bucket}, nil
}

func objectKey(service, name, identifier string) string {
	return fmt.Sprintf("%s/%s/%s", service, name, identifier)
}

// List returns every identifier stored under {service, name}.
func (n *Network) List(ctx context.Context, service, name string) ([]string, error) {
	prefix := fmt.Sprintf("%s/%s/", service, name)
	it := n.client.Bucket(n.bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var out []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		out = append(out, strings.TrimPrefix(attrs.Name, prefix))
	}
	return out, nil
}

// Get downloads one object.
func (n *Network) Get(ctx context.Context, service, name, identifier string) ([]byte, error) {
	r, err := n.client.Bucket(n.bucket).Object(objectKey(service, name, identifier)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("object %s: %w", identifier, archive.ErrNotFound)
		}
		return nil, fmt.Errorf("open object %s: %w", identifier, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", identifier, err)
	}
	return data, nil
}

// Put uploads one object.
func (n *Network) Put(ctx context.Context, service, name, identifier string, data []byte) error {
	w := n.client.Bucket(n.bucket).Object(objectKey(service, name, identifier)).NewWriter(ctx)
	w.ContentType = "application/zip"
	if _, err := w.Write(data); err != nil {
		closeErr := w.Close()
		if closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}
