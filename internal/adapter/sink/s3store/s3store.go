// Package s3store implements the S3 output endpoint (spec §4.6): it
// uploads DownloadedBlob content to an S3-compatible bucket, keyed by the
// blob's SHA-256 digest, skipping keys already present in the bucket.
package s3store

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kestrelio/recursid/internal/kwargs"
	"github.com/kestrelio/recursid/internal/module"
	"github.com/kestrelio/recursid/internal/object"
	"github.com/kestrelio/recursid/internal/registry"
)

// Sink uploads DownloadedBlob content to bucket/<sha256>.
type Sink struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
	module.KindSet
}

// New constructs an s3_store sink. Configuration:
// bucket (required) - destination bucket name.
// endpoint (optional, default "s3.amazonaws.com") - S3-compatible endpoint host.
// access_key_id / secret_access_key (optional) - static credentials; absent means
// the client falls back to its chain default (environment, instance profile, etc.).
// secure (optional, default true) - use TLS.
func New(kw map[string]any) (module.Sink, error) {
	bucket, err := kwargs.RequiredString(kw, "bucket")
	if err != nil {
		return nil, fmt.Errorf("op=s3store.New: %w", err)
	}
	endpoint, err := kwargs.String(kw, "endpoint", "s3.amazonaws.com")
	if err != nil {
		return nil, fmt.Errorf("op=s3store.New: %w", err)
	}
	accessKeyID, err := kwargs.String(kw, "access_key_id", "")
	if err != nil {
		return nil, fmt.Errorf("op=s3store.New: %w", err)
	}
	secretAccessKey, err := kwargs.String(kw, "secret_access_key", "")
	if err != nil {
		return nil, fmt.Errorf("op=s3store.New: %w", err)
	}
	secure, err := kwargs.Bool(kw, "secure", true)
	if err != nil {
		return nil, fmt.Errorf("op=s3store.New: %w", err)
	}

	var creds *credentials.Credentials
	if accessKeyID != "" {
		creds = credentials.NewStaticV4(accessKeyID, secretAccessKey, "")
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.IAM{},
		})
	}

	client, err := minio.New(endpoint, &minio.Options{Creds: creds, Secure: secure})
	if err != nil {
		return nil, fmt.Errorf("op=s3store.New: constructing client: %w", err)
	}

	return &Sink{
		client:  client,
		bucket:  bucket,
		logger:  slog.Default(),
		KindSet: module.NewKindSet(object.KindDownloadedBlob),
	}, nil
}

func init() {
	if err := registry.RegisterSink("s3_store", func(kw map[string]any) (module.Sink, error) {
		return New(kw)
	}); err != nil {
		panic(err)
	}
}

// Handle uploads blob.Data to bucket/<sha256> unless an object already
// exists at that key.
func (s *Sink) Handle(ctx context.Context, in object.Object) {
	blob, ok := in.(*object.DownloadedBlob)
	if !ok {
		return
	}

	_, err := s.client.StatObject(ctx, s.bucket, blob.SHA256, minio.StatObjectOptions{})
	if err == nil {
		s.logger.Info("file already present, not uploaded to S3", "key", blob.SHA256)
		return
	}

	_, err = s.client.PutObject(ctx, s.bucket, blob.SHA256, bytes.NewReader(blob.Data), int64(len(blob.Data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		s.logger.Error("failed to upload to S3", "key", blob.SHA256, "error", err)
		return
	}
	s.logger.Info("uploaded to S3", "key", blob.SHA256)
}
