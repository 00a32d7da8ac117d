// Package mirror copies archival artifacts to an off-site object store.
//
// Objects are never overwritten: uploads carry a does-not-exist
// precondition, and an object that is already present counts as published.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Publisher copies one local artifact under the given object name.
type Publisher interface {
	Publish(ctx context.Context, name, localPath string) error
}

// GCS publishes artifacts to a Google Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
	logger *slog.Logger
}

// Config selects the bucket and an optional object name prefix.
type Config struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// NewGCS opens a storage client. opts are passed to storage.NewClient
// (endpoint and credential overrides).
func NewGCS(ctx context.Context, cfg Config, logger *slog.Logger, opts ...option.ClientOption) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("mirror: bucket is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("mirror: storage.NewClient: %w", err)
	}
	return &GCS{client: client, bucket: client.Bucket(cfg.Bucket), prefix: cfg.Prefix, logger: logger}, nil
}

// Publish uploads localPath as prefix+name.
func (g *GCS) Publish(ctx context.Context, name, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("mirror: open artifact: %w", err)
	}
	defer f.Close()

	object := path.Join(g.prefix, name)
	w := g.bucket.Object(object).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/pdf"

	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return g.result(object, err)
	}
	return g.result(object, w.Close())
}

func (g *GCS) result(object string, err error) error {
	if err == nil {
		return nil
	}
	if alreadyExists(err) {
		g.logger.Info("mirror: object already present", "object", object)
		return nil
	}
	return fmt.Errorf("mirror: upload %s: %w", object, err)
}

// Close releases the storage client.
func (g *GCS) Close() error { return g.client.Close() }

func alreadyExists(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
