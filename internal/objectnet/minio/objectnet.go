// Package minio implements the object network over a MinIO/S3 bucket.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config captures the parameters required to connect to MinIO.
type Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Secure    bool   `mapstructure:"secure"`
	Bucket    string `mapstructure:"bucket"`
}

// Network stores objects under bucket keys of the form
// <service>/<name>/<identifier>.
type Network struct {
	client *minio.Client
	bucket string
}

// New connects to MinIO and ensures the bucket exists.
func New(ctx context.Context, cfg Config) (*Network, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("make bucket: %w", err)
		}
	}

	return &Network{client: client, bucket: cfg.Bucket}, nil
}

func objectKey(service, name, identifier string) string {
	return fmt.Sprintf("%s/%s/%s", service, name, identifier)
}

// List returns every identifier stored under {service, name}.
func (n *Network) List(ctx context.Context, service, name string) ([]string, error) {
	prefix := fmt.Sprintf("%s/%s/", service, name)
	var out []string
	for obj := range n.client.ListObjects(ctx, n.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects: %w", obj.Err)
		}
		out = append(out, strings.TrimPrefix(obj.Key, prefix))
	}
	return out, nil
}

// Get downloads one object.
func (n *Network) Get(ctx context.Context, service, name, identifier string) ([]byte, error) {
	obj, err := n.client.GetObject(ctx, n.bucket, objectKey(service, name, identifier), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", identifier, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", identifier, err)
	}
	return data, nil
}

// Put uploads one object.
func (n *Network) Put(ctx context.Context, service, name, identifier string, data []byte) error {
	_, err := n.client.PutObject(ctx, n.bucket, objectKey(service, name, identifier),
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/zip"})
	if err != nil {
		return fmt.Errorf("put object %s: %w", identifier, err)
	}
	return nil
}
