package pictures

import (
	"context"
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// R2Options configures an S3-compatible bucket (Cloudflare R2, MinIO, AWS).
type R2Options struct {
	Endpoint  string // host, e.g. <account>.r2.cloudflarestorage.com
	AccessKey string
	SecretKey string
	Bucket    string
	KeyPrefix string // folder inside the bucket, e.g. image-maths
	PublicURL string // public base serving the bucket
}

// R2 uploads picture files to an S3-compatible bucket.
type R2 struct {
	client    *minio.Client
	bucket    string
	keyPrefix string
	publicURL string
}

// NewR2 connects to the bucket endpoint. The connection is lazy; a bad
// credential surfaces on the first upload.
func NewR2(opts R2Options) (*R2, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, fmt.Errorf("storage endpoint and bucket are required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect storage: %w", err)
	}
	return &R2{
		client:    client,
		bucket:    opts.Bucket,
		keyPrefix: opts.KeyPrefix,
		publicURL: strings.TrimRight(opts.PublicURL, "/"),
	}, nil
}

// Upload puts localPath into the bucket under keyPrefix/name and returns the
// public URL.
func (r *R2) Upload(ctx context.Context, localPath, name string) (string, error) {
	key := path.Join(r.keyPrefix, name)
	contentType := mime.TypeByExtension(filepath.Ext(localPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := r.client.FPutObject(ctx, r.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return r.publicURL + "/" + key, nil
}
