package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yegors/transcribe-gateway/pkg/logger"
)

// Client uploads artifacts to a single Google Cloud Storage bucket
type Client struct {
	storage     *storage.Client
	bucket      string
	contentType string
	logger      *logger.Logger
}

// Config holds the bucket settings
type Config struct {
	Bucket          string
	ProjectID       string // informational, the bucket name is globally unique
	CredentialsPath string
	ContentType     string
}

// NewClient creates a storage client. An empty CredentialsPath uses application default credentials.
func NewClient(ctx context.Context, config Config, log *logger.Logger) (*Client, error) {
	var opts []option.ClientOption
	if config.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsPath))
	}

	sc, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	gcsLogger := log.Named("gcs")
	gcsLogger.Info("Using GCS bucket",
		logger.String("bucket", config.Bucket),
		logger.String("project", config.ProjectID))

	return &Client{
		storage:     sc,
		bucket:      config.Bucket,
		contentType: config.ContentType,
		logger:      gcsLogger,
	}, nil
}

// Close releases the underlying connection
func (c *Client) Close() error {
	return c.storage.Close()
}

// URI returns the gs:// address of an object in the configured bucket
func (c *Client) URI(name string) string {
	return ObjectURI(c.bucket, name)
}

// ObjectURI formats a gs:// address
func ObjectURI(bucket, name string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, name)
}

// Upload streams the local file into the bucket
func (c *Client) Upload(ctx context.Context, localPath, name string) (string, error) {
	start := time.Now()

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	// Cancelling the writer's context abandons the upload. Close would commit a partial object.
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := c.storage.Bucket(c.bucket).Object(name).NewWriter(wctx)
	w.ContentType = c.contentType

	written, err := io.Copy(w, f)
	if err != nil {
		cancel()
		return "", fmt.Errorf("write object %s: %w", name, err)
	}
	// The object only becomes visible once Close succeeds
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize object %s: %w", name, err)
	}

	uri := c.URI(name)
	c.logger.Info("Uploaded artifact",
		logger.String("uri", uri),
		logger.Int64("bytes", written),
		logger.Duration("duration", time.Since(start)))

	return uri, nil
}
